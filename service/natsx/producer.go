package natsx

import (
	"context"
	"fmt"
)

// NatsxProducer 生产端
type NatsxProducer struct{ c *NatsxClient }

func NewNatsxProducer(c *NatsxClient) *NatsxProducer { return &NatsxProducer{c: c} }

// Publish sends to "<route subject>.<key>".
func (p *NatsxProducer) Publish(ctx context.Context, biz, key string, data []byte, hdr map[string]string) error {
	r, ok := p.c.route(biz)
	if !ok {
		return fmt.Errorf("route not found: %s", biz)
	}
	switch r.Mode {
	case Core:
		return p.c.sendCore(r.subject(key), data, hdr)
	case JetStreamPush:
		return p.c.sendJS(ctx, r.subject(key), data, hdr)
	default:
		return fmt.Errorf("unsupported mode")
	}
}
