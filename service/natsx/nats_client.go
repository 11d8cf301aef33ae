package natsx

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// NatsxMode 工作模式
type NatsxMode int

const (
	Core          NatsxMode = iota // no persistence
	JetStreamPush                  // JS push subscription
)

// NatsxRoute is registered per Biz. Subject is a prefix: messages go to
// "<Subject>.<key>" where key is chosen per publish/subscribe call.
type NatsxRoute struct {
	Biz           string
	Subject       string
	Mode          NatsxMode
	Queue         string // queue group, empty for broadcast
	Durable       string // JS durable name
	AckWait       time.Duration
	MaxAckPending int
}

func (r NatsxRoute) subject(key string) string {
	if key == "" {
		return r.Subject
	}
	return r.Subject + "." + key
}

// NatsxConfig 客户端配置
type NatsxConfig struct {
	Servers       []string
	Name          string
	User          string
	Password      string
	ReconnectWait time.Duration
	Timeout       time.Duration
	// PublishAsyncMax bounds in-flight JetStream publishes.
	PublishAsyncMax int
}

// NatsxClient 统一客户端
type NatsxClient struct {
	cfg NatsxConfig
	nc  *nats.Conn
	js  nats.JetStreamContext
	log *zap.Logger

	mu     sync.RWMutex
	routes map[string]NatsxRoute
	subs   map[uint64]*nats.Subscription
	nextID uint64
}

func withDefaults(cfg NatsxConfig) NatsxConfig {
	if cfg.ReconnectWait == 0 {
		cfg.ReconnectWait = 500 * time.Millisecond
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 3 * time.Second
	}
	if cfg.PublishAsyncMax == 0 {
		cfg.PublishAsyncMax = 4096
	}
	if cfg.Name == "" {
		cfg.Name = "ptracker"
	}
	return cfg
}

// NewNatsxClient connects to NATS. The connection reconnects forever; use
// IsConnected to observe its state.
func NewNatsxClient(cfg NatsxConfig, log *zap.Logger) (*NatsxClient, error) {
	if len(cfg.Servers) == 0 {
		return nil, errors.New("nats servers missing")
	}
	cfg = withDefaults(cfg)
	if log == nil {
		log = zap.NewNop()
	}
	opts := []nats.Option{
		nats.Name(cfg.Name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.ReconnectJitter(100*time.Millisecond, 500*time.Millisecond),
		nats.Timeout(cfg.Timeout),
		nats.RetryOnFailedConnect(true),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn("nats disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info("nats reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
	}
	if cfg.User != "" {
		opts = append(opts, nats.UserInfo(cfg.User, cfg.Password))
	}
	nc, err := nats.Connect(strings.Join(cfg.Servers, ","), opts...)
	if err != nil {
		return nil, err
	}
	return &NatsxClient{
		cfg:    cfg,
		nc:     nc,
		log:    log,
		routes: make(map[string]NatsxRoute),
		subs:   make(map[uint64]*nats.Subscription),
	}, nil
}

// IsConnected reports the live connection state.
func (c *NatsxClient) IsConnected() bool {
	return c != nil && c.nc != nil && c.nc.IsConnected()
}

// Close drains every subscription and then the connection.
func (c *NatsxClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, sub := range c.subs {
		_ = sub.Drain()
		delete(c.subs, id)
	}
	if c.nc != nil {
		return c.nc.Drain()
	}
	return nil
}

func (c *NatsxClient) ensureJS() error {
	if c.js != nil {
		return nil
	}
	js, err := c.nc.JetStream(nats.PublishAsyncMaxPending(c.cfg.PublishAsyncMax))
	if err != nil {
		return err
	}
	c.js = js
	return nil
}

// RegisterRoute 注册 Biz 路由
func (c *NatsxClient) RegisterRoute(r NatsxRoute) error {
	if r.Biz == "" || r.Subject == "" {
		return errors.New("invalid route")
	}
	if r.Mode == JetStreamPush {
		if err := c.ensureJS(); err != nil {
			return fmt.Errorf("init jetstream: %w", err)
		}
	}
	r = routeDefaults(r)
	c.mu.Lock()
	c.routes[r.Biz] = r
	c.mu.Unlock()
	return nil
}

func routeDefaults(r NatsxRoute) NatsxRoute {
	if r.AckWait == 0 {
		r.AckWait = 30 * time.Second
	}
	if r.MaxAckPending == 0 {
		r.MaxAckPending = 1024
	}
	return r
}

func (c *NatsxClient) route(biz string) (NatsxRoute, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	r, ok := c.routes[biz]
	return r, ok
}

func (c *NatsxClient) track(sub *nats.Subscription) func() error {
	c.mu.Lock()
	c.nextID++
	id := c.nextID
	c.subs[id] = sub
	c.mu.Unlock()

	var once sync.Once
	return func() error {
		var err error
		once.Do(func() {
			c.mu.Lock()
			delete(c.subs, id)
			c.mu.Unlock()
			err = sub.Unsubscribe()
			if errors.Is(err, nats.ErrConnectionClosed) || errors.Is(err, nats.ErrBadSubscription) {
				err = nil
			}
		})
		return err
	}
}
