package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"PTracker/module/location/cache"
	"PTracker/module/location/model"
	"PTracker/service/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticID string

func (s staticID) CurrentUserID() (string, bool) { return string(s), s != "" }

type flakyKV struct {
	storage.KV
	failGet bool
}

func (f *flakyKV) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if f.failGet {
		return nil, false, errors.New("io")
	}
	return f.KV.Get(ctx, key)
}

func newQueue(kv storage.KV) *Queue {
	return New(cache.New(kv, staticID("u1"), nil), nil)
}

func TestDrainReturnsEnqueueOrderExactlyOnce(t *testing.T) {
	ctx := context.Background()
	q := newQueue(storage.NewMemKV())

	for i := 0; i < 5; i++ {
		_, err := q.Enqueue(ctx, model.KindUpdateUserLocation, map[string]any{"n": i})
		require.NoError(t, err)
	}
	b, err := q.DrainAll(ctx)
	require.NoError(t, err)
	require.Len(t, b.Ops, 5)

	seen := map[string]bool{}
	for i, op := range b.Ops {
		assert.Equal(t, float64(i), op.Payload["n"])
		assert.Equal(t, uint64(i+1), op.EnqueuedAt)
		assert.False(t, seen[op.ID])
		seen[op.ID] = true
	}
	assert.Equal(t, uint64(5), b.HighWater)

	// drain does not remove
	assert.Equal(t, 5, q.Len(ctx))
	require.NoError(t, q.Clear(ctx, b))
	assert.Equal(t, 0, q.Len(ctx))
}

func TestEnqueueDuringDrainSurvivesClear(t *testing.T) {
	ctx := context.Background()
	q := newQueue(storage.NewMemKV())

	_, _ = q.Enqueue(ctx, model.KindUpdateUserLocation, map[string]any{"n": 1})
	b, err := q.DrainAll(ctx)
	require.NoError(t, err)

	late, err := q.Enqueue(ctx, model.KindUpdateUserLocation, map[string]any{"n": 2})
	require.NoError(t, err)
	require.NoError(t, q.Clear(ctx, b))

	rest, err := q.DrainAll(ctx)
	require.NoError(t, err)
	require.Len(t, rest.Ops, 1)
	assert.Equal(t, late.ID, rest.Ops[0].ID)
}

func TestConcurrentEnqueueNeverLost(t *testing.T) {
	ctx := context.Background()
	q := newQueue(storage.NewMemKV())

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := q.Enqueue(ctx, model.KindUpdateUserLocation, map[string]any{"n": i})
			assert.NoError(t, err)
		}(i)
	}
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	cleared := 0
	drain := func() {
		b, err := q.DrainAll(ctx)
		require.NoError(t, err)
		require.NoError(t, q.Clear(ctx, b))
		cleared += len(b.Ops)
	}
	for running := true; running; {
		select {
		case <-done:
			running = false
		default:
		}
		drain()
	}
	drain()

	wg.Wait()
	assert.Equal(t, 50, cleared)
	assert.Equal(t, 0, q.Len(ctx))
}

func TestPayloadStructStoredAsMap(t *testing.T) {
	ctx := context.Background()
	q := newQueue(storage.NewMemKV())
	loc := model.LocationSample{Latitude: 1, Longitude: 2, Timestamp: "2024-01-01T00:00:00Z"}

	op, err := q.Enqueue(ctx, model.KindUpdateUserLocation, model.LocationUpdate{UserID: "u1", Location: &loc, ShareLocation: true})
	require.NoError(t, err)
	assert.Equal(t, "u1", op.Payload["userId"])
	assert.Equal(t, map[string]any{"latitude": 1.0, "longitude": 2.0, "timestamp": "2024-01-01T00:00:00Z"}, op.Payload["location"])
}

func TestQueueSurvivesRestart(t *testing.T) {
	ctx := context.Background()
	kv := storage.NewMemKV()
	_, err := newQueue(kv).Enqueue(ctx, model.KindUpdateUserLocation, map[string]any{"n": 1})
	require.NoError(t, err)

	q := newQueue(kv)
	assert.Equal(t, 1, q.Len(ctx))
	op, err := q.Enqueue(ctx, model.KindUpdateUserLocation, map[string]any{"n": 2})
	require.NoError(t, err)
	assert.Equal(t, uint64(2), op.EnqueuedAt)
}

func TestReadFailureNeverTruncates(t *testing.T) {
	ctx := context.Background()
	kv := &flakyKV{KV: storage.NewMemKV()}
	q := newQueue(kv)
	for i := 0; i < 3; i++ {
		_, err := q.Enqueue(ctx, model.KindUpdateUserLocation, map[string]any{"n": i})
		require.NoError(t, err)
	}

	kv.failGet = true
	_, err := q.Enqueue(ctx, model.KindUpdateUserLocation, map[string]any{"n": 99})
	assert.Error(t, err)
	_, err = q.DrainAll(ctx)
	assert.Error(t, err)
	assert.Error(t, q.Clear(ctx, Batch{Ops: []model.PendingOperation{{}}, HighWater: 10}))

	kv.failGet = false
	assert.Equal(t, 3, q.Len(ctx))
}

func TestClearEmptyBatchIsNoop(t *testing.T) {
	q := newQueue(storage.NewMemKV())
	assert.NoError(t, q.Clear(context.Background(), Batch{}))
}

func ExampleQueue() {
	ctx := context.Background()
	q := newQueue(storage.NewMemKV())
	_, _ = q.Enqueue(ctx, model.KindUpdateUserLocation, map[string]any{"n": 1})
	b, _ := q.DrainAll(ctx)
	fmt.Println(len(b.Ops), b.HighWater)
	// Output: 1 1
}
