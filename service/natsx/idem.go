package natsx

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// IdemStore remembers message ids for ttl.
type IdemStore interface {
	SeenOnce(ctx context.Context, key string, ttl time.Duration) (seen bool, err error)
}

// ----- 内存实现（单进程） -----
type memIdem struct {
	mu  sync.Mutex
	m   map[string]time.Time // key -> expiry
	ttl time.Duration
	now func() time.Time
}

// NewMemIdem returns a process-local store. Expired keys are swept every
// minute until ctx is done.
func NewMemIdem(ctx context.Context, defaultTTL time.Duration) IdemStore {
	mi := &memIdem{m: make(map[string]time.Time), ttl: defaultTTL, now: time.Now}
	go func() {
		t := time.NewTicker(time.Minute)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				mi.sweep()
			}
		}
	}()
	return mi
}

func (mi *memIdem) sweep() {
	now := mi.now()
	mi.mu.Lock()
	for k, exp := range mi.m {
		if !exp.After(now) {
			delete(mi.m, k)
		}
	}
	mi.mu.Unlock()
}

func (mi *memIdem) SeenOnce(_ context.Context, key string, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		ttl = mi.ttl
	}
	now := mi.now()
	mi.mu.Lock()
	defer mi.mu.Unlock()
	if exp, ok := mi.m[key]; ok && exp.After(now) {
		return true, nil
	}
	mi.m[key] = now.Add(ttl)
	return false, nil
}

// redisIdem shares dedup state between processes via SET NX.
type redisIdem struct {
	rdb    redis.UniversalClient
	prefix string
	ttl    time.Duration
}

func NewRedisIdem(rdb redis.UniversalClient, prefix string, defaultTTL time.Duration) IdemStore {
	if prefix == "" {
		prefix = "natsx:idem:"
	}
	return &redisIdem{rdb: rdb, prefix: prefix, ttl: defaultTTL}
}

func (ri *redisIdem) SeenOnce(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		ttl = ri.ttl
	}
	ok, err := ri.rdb.SetNX(ctx, ri.prefix+key, 1, ttl).Result()
	if err != nil {
		return false, err
	}
	return !ok, nil
}

func msgIDFromHeader(h map[string]string) string {
	for _, k := range []string{HeaderMsgID, "nats-msg-id", "X-Msg-Id", "x-msg-id"} {
		if v, ok := h[k]; ok && v != "" {
			return v
		}
	}
	return ""
}

// NatsxIdemMiddleware drops messages whose id was already handled.
// Usage: NewNatsxConsumer(client, NatsxIdemMiddleware(store, ttl))
func NatsxIdemMiddleware(store IdemStore, ttl time.Duration) NatsxMiddleware {
	return func(next NatsxHandler) NatsxHandler {
		return func(ctx context.Context, msg NatsxMessage) error {
			id := msgIDFromHeader(msg.Header)
			if id == "" {
				// weak id from subject + body
				id = msg.Subject + "|" + strings.TrimSpace(string(msg.Data))
			}
			seen, err := store.SeenOnce(ctx, id, ttl)
			if err == nil && seen {
				return nil
			}
			return next(ctx, msg)
		}
	}
}
