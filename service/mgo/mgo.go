package mgo

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	mgo "PTracker/data/database/mgo/mongoutil"

	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"
)

// dialer opens a client; replaced in tests.
type dialer func(ctx context.Context, cfg *mgo.Config) (conn, error)

type conn interface {
	GetDB() *mongo.Database
	Ping(ctx context.Context) error
	Disconnect(ctx context.Context) error
}

// MongoManager keeps one Mongo connection alive: it connects with backoff,
// health-checks the connection and reconnects after repeated ping failures.
type MongoManager struct {
	cfg  *mgo.Config
	log  *zap.Logger
	dial dialer

	baseBackoff time.Duration
	maxBackoff  time.Duration
	healthEvery time.Duration
	failThresh  int

	mu        sync.RWMutex
	client    conn
	readyCh   chan struct{} // closed once, on first connect
	readyOnce sync.Once

	lastErr atomic.Value // error
}

func NewMongoManager(cfg *mgo.Config, log *zap.Logger) *MongoManager {
	if log == nil {
		log = zap.NewNop()
	}
	return &MongoManager{
		cfg: cfg,
		log: log,
		dial: func(ctx context.Context, cfg *mgo.Config) (conn, error) {
			return mgo.NewMongoDB(ctx, cfg)
		},
		baseBackoff: 200 * time.Millisecond,
		maxBackoff:  5 * time.Second,
		healthEvery: 10 * time.Second,
		failThresh:  3,
		readyCh:     make(chan struct{}),
	}
}

// StartAsync runs until ctx is done.
func (m *MongoManager) StartAsync(ctx context.Context) {
	go m.run(ctx)
}

func (m *MongoManager) run(ctx context.Context) {
	for {
		if !m.connect(ctx) {
			return
		}
		if !m.health(ctx) {
			return
		}
	}
}

// connect retries with exponential backoff and jitter. It returns false when ctx ends.
func (m *MongoManager) connect(ctx context.Context) bool {
	attempt := 0
	for {
		select {
		case <-ctx.Done():
			return false
		default:
		}

		cli, err := m.dial(ctx, m.cfg)
		if err == nil {
			m.mu.Lock()
			m.client = cli
			m.mu.Unlock()
			m.readyOnce.Do(func() { close(m.readyCh) })
			m.log.Info("mongo connected")
			return true
		}

		m.lastErr.Store(err)
		m.log.Warn("mongo connect failed", zap.Int("attempt", attempt), zap.Error(err))

		timer := time.NewTimer(backoff(m.baseBackoff, m.maxBackoff, attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return false
		case <-timer.C:
		}
		if attempt < 6 {
			attempt++
		}
	}
}

// health pings on a ticker. It returns true when the connection was dropped
// and should be re-established, false when ctx ended.
func (m *MongoManager) health(ctx context.Context) bool {
	fail := 0
	t := time.NewTicker(m.healthEvery)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			m.drop()
			return false
		case <-t.C:
			m.mu.RLock()
			c := m.client
			m.mu.RUnlock()
			if c == nil {
				return true
			}
			if err := c.Ping(ctx); err != nil {
				fail++
				m.lastErr.Store(err)
				if fail >= m.failThresh {
					m.log.Warn("mongo unhealthy, reconnecting", zap.Error(err))
					m.drop()
					return true
				}
			} else {
				fail = 0
			}
		}
	}
}

func (m *MongoManager) drop() {
	m.mu.Lock()
	if m.client != nil {
		_ = m.client.Disconnect(context.Background())
		m.client = nil
	}
	m.mu.Unlock()
}

// backoff is base<<attempt capped at max, minus up to 10% jitter.
func backoff(base, max time.Duration, attempt int) time.Duration {
	d := base << attempt
	if d > max || d <= 0 {
		d = max
	}
	if d/5 <= 0 {
		return d
	}
	jitter := time.Duration(rand.Int63n(int64(d / 5)))
	return d - jitter/2
}

func (m *MongoManager) Ready() <-chan struct{} {
	return m.readyCh
}

// Connected reports whether a healthy client is currently held.
func (m *MongoManager) Connected() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.client != nil
}

// Err returns the last connect or ping error.
func (m *MongoManager) Err() error {
	if v := m.lastErr.Load(); v != nil {
		return v.(error)
	}
	return nil
}

func (m *MongoManager) TryGetDB() (*mongo.Database, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.client == nil {
		return nil, false
	}
	return m.client.GetDB(), true
}

func (m *MongoManager) WaitReady(ctx context.Context) error {
	if m.Connected() {
		return nil
	}
	if m.readyCh == nil {
		return fmt.Errorf("mongo manager not started")
	}
	select {
	case <-m.readyCh:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
