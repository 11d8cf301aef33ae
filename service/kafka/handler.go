package kafka

// MessageHandler receives one record. Returning an error is logged; the
// reader keeps going.
type MessageHandler func(key, value []byte) error

// KeyFilter drops records whose key differs from key.
func KeyFilter(key string, next MessageHandler) MessageHandler {
	return func(k, v []byte) error {
		if string(k) != key {
			return nil
		}
		return next(k, v)
	}
}
