package natsx

import "PTracker/tools/ids"

const HeaderMsgID = "Nats-Msg-Id"

// withMsgID copies hdr with a Nats-Msg-Id header so JetStream and
// NatsxIdemMiddleware can drop duplicates. An empty msgID gets a fresh uuid.
func withMsgID(hdr map[string]string, msgID string) map[string]string {
	out := make(map[string]string, len(hdr)+1)
	for k, v := range hdr {
		out[k] = v
	}
	if msgID == "" {
		msgID = ids.MessageID()
	}
	out[HeaderMsgID] = msgID
	return out
}
