package natsx

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNatsxChainOrder(t *testing.T) {
	var order []string
	mw := func(name string) NatsxMiddleware {
		return func(next NatsxHandler) NatsxHandler {
			return func(ctx context.Context, msg NatsxMessage) error {
				order = append(order, name)
				return next(ctx, msg)
			}
		}
	}
	h := NatsxChain(func(context.Context, NatsxMessage) error {
		order = append(order, "h")
		return nil
	}, mw("a"), mw("b"))

	require.NoError(t, h(context.Background(), NatsxMessage{}))
	assert.Equal(t, []string{"a", "b", "h"}, order)
}

func TestIdemMiddlewareDropsDuplicates(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	calls := 0
	h := NatsxChain(func(context.Context, NatsxMessage) error {
		calls++
		return nil
	}, NatsxIdemMiddleware(NewMemIdem(ctx, time.Minute), 0))

	msg := NatsxMessage{Subject: "docs.users.a", Header: map[string]string{HeaderMsgID: "m1"}}
	require.NoError(t, h(ctx, msg))
	require.NoError(t, h(ctx, msg))
	msg.Header = map[string]string{HeaderMsgID: "m2"}
	require.NoError(t, h(ctx, msg))

	assert.Equal(t, 2, calls)
}

func TestIdemMiddlewareWeakID(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	calls := 0
	h := NatsxIdemMiddleware(NewMemIdem(ctx, time.Minute), 0)(func(context.Context, NatsxMessage) error {
		calls++
		return nil
	})
	_ = h(ctx, NatsxMessage{Subject: "s", Data: []byte("x")})
	_ = h(ctx, NatsxMessage{Subject: "s", Data: []byte("x")})
	_ = h(ctx, NatsxMessage{Subject: "s", Data: []byte("y")})
	assert.Equal(t, 2, calls)
}

func TestMemIdemExpiry(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	now := time.Unix(1000, 0)
	mi := NewMemIdem(ctx, time.Second).(*memIdem)
	mi.now = func() time.Time { return now }

	seen, _ := mi.SeenOnce(ctx, "k", 0)
	assert.False(t, seen)
	seen, _ = mi.SeenOnce(ctx, "k", 0)
	assert.True(t, seen)

	now = now.Add(2 * time.Second)
	mi.sweep()
	seen, _ = mi.SeenOnce(ctx, "k", 0)
	assert.False(t, seen)
}

func TestRedisIdem(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()
	ctx := context.Background()

	store := NewRedisIdem(rdb, "", time.Minute)
	seen, err := store.SeenOnce(ctx, "m1", 0)
	require.NoError(t, err)
	assert.False(t, seen)

	seen, err = store.SeenOnce(ctx, "m1", 0)
	require.NoError(t, err)
	assert.True(t, seen)

	mr.FastForward(2 * time.Minute)
	seen, err = store.SeenOnce(ctx, "m1", 0)
	require.NoError(t, err)
	assert.False(t, seen)
}

func TestWithMsgID(t *testing.T) {
	in := map[string]string{"a": "1"}
	out := withMsgID(in, "")
	assert.NotEmpty(t, out[HeaderMsgID])
	assert.Equal(t, "1", out["a"])
	_, mutated := in[HeaderMsgID]
	assert.False(t, mutated)

	assert.Equal(t, "fixed", withMsgID(nil, "fixed")[HeaderMsgID])
}

func TestRouteSubject(t *testing.T) {
	r := routeDefaults(NatsxRoute{Biz: "docs", Subject: "docs"})
	assert.Equal(t, "docs.users.u1", r.subject("users.u1"))
	assert.Equal(t, "docs", r.subject(""))
	assert.Equal(t, 30*time.Second, r.AckWait)
}

func TestHeaderToMap(t *testing.T) {
	assert.Nil(t, headerToMap(nil))
	h := nats.Header{}
	h.Add("k", "v1")
	h.Add("k", "v2")
	assert.Equal(t, map[string]string{"k": "v1"}, headerToMap(h))
}

func TestNewClientNeedsServers(t *testing.T) {
	_, err := NewNatsxClient(NatsxConfig{}, nil)
	assert.Error(t, err)
}

func TestSyncPublisherRouteMissing(t *testing.T) {
	c := &NatsxClient{routes: map[string]NatsxRoute{}}
	sp := &NatsxSyncPublisher{P: NewNatsxProducer(c), Retries: 1, Backoff: time.Millisecond}
	err := sp.Publish(context.Background(), "nope", "k", nil, nil)
	require.Error(t, err)
	assert.False(t, errors.Is(err, context.Canceled))
}
