package natsx

import (
	"context"
	"time"
)

// NatsxSyncPublisher 同步发布器（带重试）
type NatsxSyncPublisher struct {
	P       *NatsxProducer
	Retries int
	Backoff time.Duration
}

// Publish retries with a fixed backoff. All attempts reuse one message id.
func (sp *NatsxSyncPublisher) Publish(ctx context.Context, biz, key string, payload []byte, hdr map[string]string) error {
	hdr = withMsgID(hdr, hdr[HeaderMsgID])
	var err error
	for i := 0; i <= sp.Retries; i++ {
		err = sp.P.Publish(ctx, biz, key, payload, hdr)
		if err == nil {
			return nil
		}
		if i == sp.Retries {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(sp.Backoff):
		}
	}
	return err
}
