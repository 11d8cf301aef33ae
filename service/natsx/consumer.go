package natsx

import (
	"context"
	"errors"
	"fmt"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// NatsxConsumer 消费端
type NatsxConsumer struct {
	c   *NatsxClient
	mws []NatsxMiddleware
}

func NewNatsxConsumer(c *NatsxClient, mws ...NatsxMiddleware) *NatsxConsumer {
	return &NatsxConsumer{c: c, mws: mws}
}

// Subscribe listens on "<route subject>.<key>" (key may use NATS wildcards).
// Handlers for one subscription run one at a time in arrival order. The
// returned func unsubscribes and is safe to call more than once.
func (cs *NatsxConsumer) Subscribe(biz, key string, h NatsxHandler) (func() error, error) {
	r, ok := cs.c.route(biz)
	if !ok {
		return nil, fmt.Errorf("route not found: %s", biz)
	}
	h = NatsxChain(h, cs.mws...)
	subject := r.subject(key)

	switch r.Mode {
	case Core:
		var (
			sub *nats.Subscription
			err error
		)
		cb := func(m *nats.Msg) {
			if err := h(context.Background(), toMessage(m)); err != nil {
				cs.c.log.Warn("handler failed", zap.String("subject", m.Subject), zap.Error(err))
			}
		}
		if r.Queue == "" {
			sub, err = cs.c.nc.Subscribe(subject, cb)
		} else {
			sub, err = cs.c.nc.QueueSubscribe(subject, r.Queue, cb)
		}
		if err != nil {
			return nil, err
		}
		_ = sub.SetPendingLimits(1_000_000, 64*1024*1024)
		return cs.c.track(sub), nil

	case JetStreamPush:
		if cs.c.js == nil {
			return nil, errors.New("jetstream not initialized")
		}
		opts := []nats.SubOpt{
			nats.ManualAck(),
			nats.AckWait(r.AckWait),
			nats.MaxAckPending(r.MaxAckPending),
			nats.DeliverNew(),
		}
		if r.Durable != "" {
			opts = append(opts, nats.Durable(r.Durable))
		}
		cb := func(m *nats.Msg) {
			if err := h(context.Background(), toMessage(m)); err == nil {
				_ = m.Ack()
			} else {
				_ = m.Nak()
			}
		}

		var (
			sub *nats.Subscription
			err error
		)
		if r.Queue == "" {
			sub, err = cs.c.js.Subscribe(subject, cb, opts...)
		} else {
			sub, err = cs.c.js.QueueSubscribe(subject, r.Queue, cb, opts...)
		}
		if err != nil {
			return nil, err
		}
		return cs.c.track(sub), nil

	default:
		return nil, fmt.Errorf("mode not supported in Subscribe: %v", r.Mode)
	}
}

func toMessage(m *nats.Msg) NatsxMessage {
	return NatsxMessage{
		Subject: m.Subject,
		Data:    append([]byte(nil), m.Data...),
		Header:  headerToMap(m.Header),
	}
}

func headerToMap(h nats.Header) map[string]string {
	if len(h) == 0 {
		return nil
	}
	out := make(map[string]string, len(h))
	for k, v := range h {
		if len(v) > 0 {
			out[k] = v[0]
		}
	}
	return out
}
