package natsx

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// NatsManager is the single entry point other packages use.
type NatsManager struct {
	client   *NatsxClient
	producer *NatsxProducer
	sync     *NatsxSyncPublisher
	consumer *NatsxConsumer
}

func NewNatsManager(cfg NatsxConfig, log *zap.Logger, middlewares ...NatsxMiddleware) (*NatsManager, error) {
	c, err := NewNatsxClient(cfg, log)
	if err != nil {
		return nil, err
	}
	p := NewNatsxProducer(c)
	return &NatsManager{
		client:   c,
		producer: p,
		sync:     &NatsxSyncPublisher{P: p, Retries: 2, Backoff: 100 * time.Millisecond},
		consumer: NewNatsxConsumer(c, middlewares...),
	}, nil
}

// Close 释放资源（优雅关闭订阅与连接）
func (m *NatsManager) Close() error {
	if m == nil || m.client == nil {
		return nil
	}
	return m.client.Close()
}

// IsConnected is used as a reachability probe.
func (m *NatsManager) IsConnected() bool {
	return m != nil && m.client.IsConnected()
}

func (m *NatsManager) RegisterRoute(r NatsxRoute) error {
	if m == nil || m.client == nil {
		return fmt.Errorf("manager not initialized")
	}
	return m.client.RegisterRoute(r)
}

// Publish retries a few times with one message id.
func (m *NatsManager) Publish(ctx context.Context, biz, key string, data []byte, hdr map[string]string) error {
	if m == nil || m.sync == nil {
		return fmt.Errorf("manager not initialized")
	}
	return m.sync.Publish(ctx, biz, key, data, hdr)
}

func (m *NatsManager) Subscribe(biz, key string, h NatsxHandler) (func() error, error) {
	if m == nil || m.consumer == nil {
		return nil, fmt.Errorf("manager not initialized")
	}
	return m.consumer.Subscribe(biz, key, h)
}
