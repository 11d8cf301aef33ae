package docstore

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"PTracker/tools/errs"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder[T any] struct {
	mu  sync.Mutex
	got []T
}

func (r *recorder[T]) add(v T) {
	r.mu.Lock()
	r.got = append(r.got, v)
	r.mu.Unlock()
}

func (r *recorder[T]) all() []T {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]T(nil), r.got...)
}

func (r *recorder[T]) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.got)
}

func TestMemSetMergeLeavesOtherFields(t *testing.T) {
	ctx := context.Background()
	s := NewMemStore(nil)

	require.NoError(t, s.SetMerge(ctx, "users", "a", map[string]any{"name": "Ann", "shareLocation": true}))
	require.NoError(t, s.SetMerge(ctx, "users", "a", map[string]any{"shareLocation": false, "trackingCode": nil}))

	snap, err := s.Get(ctx, "users", "a")
	require.NoError(t, err)
	assert.True(t, snap.Exists)
	assert.Equal(t, "Ann", snap.Data["name"])
	assert.Equal(t, false, snap.Data["shareLocation"])
	v, present := snap.Data["trackingCode"]
	assert.True(t, present)
	assert.Nil(t, v)
	assert.Equal(t, 2, s.Writes())
}

func TestMemGetMissing(t *testing.T) {
	snap, err := NewMemStore(nil).Get(context.Background(), "users", "nobody")
	require.NoError(t, err)
	assert.False(t, snap.Exists)
	assert.Equal(t, "nobody", snap.ID)
}

func TestMemUpdateMissing(t *testing.T) {
	err := NewMemStore(nil).Update(context.Background(), "users", "x", map[string]any{"a": 1})
	assert.True(t, errors.Is(err, errs.ErrNotFound))
}

func TestMemArrayTransformsIdempotent(t *testing.T) {
	ctx := context.Background()
	s := NewMemStore(nil)

	for i := 0; i < 2; i++ {
		require.NoError(t, s.SetMerge(ctx, "users", "a", map[string]any{"friends": ArrayUnion("b", "c")}))
	}
	snap, _ := s.Get(ctx, "users", "a")
	assert.Equal(t, []any{"b", "c"}, snap.Data["friends"])

	for i := 0; i < 2; i++ {
		require.NoError(t, s.Update(ctx, "users", "a", map[string]any{"friends": ArrayRemove("b")}))
	}
	snap, _ = s.Get(ctx, "users", "a")
	assert.Equal(t, []any{"c"}, snap.Data["friends"])

	require.NoError(t, s.Update(ctx, "users", "a", map[string]any{"requests": ArrayRemove("zz")}))
	snap, _ = s.Get(ctx, "users", "a")
	assert.Equal(t, []any{}, snap.Data["requests"])
}

func TestMemNormalizesStructs(t *testing.T) {
	type loc struct {
		Lat float64 `json:"latitude"`
	}
	ctx := context.Background()
	s := NewMemStore(nil)
	require.NoError(t, s.SetMerge(ctx, "users", "a", map[string]any{"location": loc{Lat: 1.5}, "n": 3}))

	snap, _ := s.Get(ctx, "users", "a")
	assert.Equal(t, map[string]any{"latitude": 1.5}, snap.Data["location"])
	assert.Equal(t, float64(3), snap.Data["n"])
}

func TestMemQuery(t *testing.T) {
	ctx := context.Background()
	s := NewMemStore(nil)
	require.NoError(t, s.SetMerge(ctx, "users", "a", map[string]any{"trackingCode": "AB12CD", "shareLocation": true}))
	require.NoError(t, s.SetMerge(ctx, "users", "b", map[string]any{"trackingCode": "AB12CD", "shareLocation": false}))
	require.NoError(t, s.SetMerge(ctx, "users", "c", map[string]any{"trackingCode": "ZZZZZZ", "shareLocation": true}))

	res, err := s.Query(ctx, "users", Eq("trackingCode", "AB12CD"), Eq("shareLocation", true))
	require.NoError(t, err)
	require.Len(t, res, 1)
	assert.Equal(t, "a", res[0].ID)

	res, err = s.Query(ctx, "users", Eq("trackingCode", "NOPE00"))
	require.NoError(t, err)
	assert.Empty(t, res)
}

func TestMemOffline(t *testing.T) {
	ctx := context.Background()
	s := NewMemStore(nil)
	s.SetOffline(true)

	err := s.SetMerge(ctx, "users", "a", map[string]any{"x": 1})
	assert.True(t, errors.Is(err, errs.ErrRemoteUnavailable))
	_, err = s.Get(ctx, "users", "a")
	assert.True(t, errors.Is(err, errs.ErrRemoteUnavailable))
	_, err = s.WatchDoc(ctx, "users", "a", func(Snapshot) {})
	assert.Error(t, err)

	s.SetOffline(false)
	assert.NoError(t, s.SetMerge(ctx, "users", "a", map[string]any{"x": 1}))
}

func TestMemWatchDocCommitOrder(t *testing.T) {
	ctx := context.Background()
	s := NewMemStore(nil)
	rec := &recorder[Snapshot]{}

	cancel, err := s.WatchDoc(ctx, "users", "a", rec.add)
	require.NoError(t, err)
	defer cancel()

	for i := 1; i <= 20; i++ {
		require.NoError(t, s.SetMerge(ctx, "users", "a", map[string]any{"n": i}))
	}
	require.Eventually(t, func() bool { return rec.len() == 21 }, time.Second, 5*time.Millisecond)

	got := rec.all()
	assert.False(t, got[0].Exists)
	for i := 1; i <= 20; i++ {
		assert.Equal(t, float64(i), got[i].Data["n"])
	}
}

func TestMemWatchDocCancelStopsDelivery(t *testing.T) {
	ctx := context.Background()
	s := NewMemStore(nil)
	rec := &recorder[Snapshot]{}

	cancel, err := s.WatchDoc(ctx, "users", "a", rec.add)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return rec.len() == 1 }, time.Second, 5*time.Millisecond)

	cancel()
	cancel()
	require.NoError(t, s.SetMerge(ctx, "users", "a", map[string]any{"n": 1}))
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, 1, rec.len())
	assert.Equal(t, 0, s.Watchers())
}

func TestMemWatchDocDelete(t *testing.T) {
	ctx := context.Background()
	s := NewMemStore(nil)
	require.NoError(t, s.SetMerge(ctx, "users", "a", map[string]any{"n": 1}))
	rec := &recorder[Snapshot]{}

	cancel, err := s.WatchDoc(ctx, "users", "a", rec.add)
	require.NoError(t, err)
	defer cancel()
	require.NoError(t, s.Delete(ctx, "users", "a"))

	require.Eventually(t, func() bool { return rec.len() == 2 }, time.Second, 5*time.Millisecond)
	assert.True(t, rec.all()[0].Exists)
	assert.False(t, rec.all()[1].Exists)
}

func TestMemWatchQueryEmitsEmptyWhenMatchLeaves(t *testing.T) {
	ctx := context.Background()
	s := NewMemStore(nil)
	require.NoError(t, s.SetMerge(ctx, "users", "a", map[string]any{"trackingCode": "AB12CD", "shareLocation": true}))
	rec := &recorder[[]Snapshot]{}

	cancel, err := s.WatchQuery(ctx, "users", []Filter{Eq("trackingCode", "AB12CD"), Eq("shareLocation", true)}, rec.add)
	require.NoError(t, err)
	defer cancel()

	require.NoError(t, s.SetMerge(ctx, "users", "a", map[string]any{"shareLocation": false}))
	require.Eventually(t, func() bool { return rec.len() == 2 }, time.Second, 5*time.Millisecond)

	got := rec.all()
	assert.Len(t, got[0], 1)
	assert.Empty(t, got[1])
}

func TestMemWatchPanicDoesNotKillMailbox(t *testing.T) {
	ctx := context.Background()
	s := NewMemStore(nil)
	rec := &recorder[Snapshot]{}
	first := true

	cancel, err := s.WatchDoc(ctx, "users", "a", func(snap Snapshot) {
		if first {
			first = false
			panic("listener bug")
		}
		rec.add(snap)
	})
	require.NoError(t, err)
	defer cancel()

	require.NoError(t, s.SetMerge(ctx, "users", "a", map[string]any{"n": 1}))
	require.Eventually(t, func() bool { return rec.len() == 1 }, time.Second, 5*time.Millisecond)
}

func TestSnapshotsAreCopies(t *testing.T) {
	ctx := context.Background()
	s := NewMemStore(nil)
	require.NoError(t, s.SetMerge(ctx, "users", "a", map[string]any{"friends": ArrayUnion("b")}))

	snap, _ := s.Get(ctx, "users", "a")
	snap.Data["friends"].([]any)[0] = "mutated"

	again, _ := s.Get(ctx, "users", "a")
	assert.Equal(t, []any{"b"}, again.Data["friends"])
}
