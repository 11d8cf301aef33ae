package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"PTracker/module/location/cache"
	"PTracker/module/location/connectivity"
	"PTracker/module/location/gateway"
	"PTracker/module/location/model"
	"PTracker/module/location/queue"
	"PTracker/module/location/reconcile"
	"PTracker/module/location/tracking"
	"PTracker/service/docstore"
	"PTracker/service/positioning"
	"PTracker/service/storage"
	"PTracker/tools/errs"
	"PTracker/tools/ids"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticID string

func (s staticID) CurrentUserID() (string, bool) { return string(s), s != "" }

type recorder struct {
	mu       sync.Mutex
	records  []model.UserLocationRecord
	friends  []FriendsUpdate
	tracking []tracking.Update
	offline  []bool
	errs     []error
}

func (r *recorder) callbacks() Callbacks {
	return Callbacks{
		OnLocationUpdate: func(x model.UserLocationRecord) { r.mu.Lock(); r.records = append(r.records, x); r.mu.Unlock() },
		OnFriendsChanged: func(x FriendsUpdate) { r.mu.Lock(); r.friends = append(r.friends, x); r.mu.Unlock() },
		OnTrackingTargetChanged: func(x tracking.Update) {
			r.mu.Lock()
			r.tracking = append(r.tracking, x)
			r.mu.Unlock()
		},
		OnOfflineStateChanged: func(x bool) { r.mu.Lock(); r.offline = append(r.offline, x); r.mu.Unlock() },
		OnError:               func(err error) { r.mu.Lock(); r.errs = append(r.errs, err); r.mu.Unlock() },
	}
}

func (r *recorder) count(f func(*recorder) int) func() bool {
	return func() bool {
		r.mu.Lock()
		defer r.mu.Unlock()
		return f(r) > 0
	}
}

type rig struct {
	kv      *storage.MemKV
	store   *docstore.MemStore
	monitor *connectivity.Monitor
	cache   *cache.Store
	q       *queue.Queue
	g       *gateway.Gateway
	feed    *positioning.FeedSource
	rec     *recorder
	e       *Engine
}

func newRig(t *testing.T, kv *storage.MemKV, granted bool) *rig {
	t.Helper()
	if kv == nil {
		kv = storage.NewMemKV()
	}
	r := &rig{
		kv:      kv,
		store:   docstore.NewMemStore(nil),
		monitor: connectivity.NewMonitor(nil, nil),
		feed:    positioning.NewFeedSource(granted, nil),
		rec:     &recorder{},
	}
	id := staticID("me")
	r.cache = cache.New(kv, id, nil)
	r.q = queue.New(r.cache, nil)
	r.g = gateway.New(r.store, r.monitor, nil)
	loop := reconcile.New(r.q, r.monitor, nil)
	loop.RegisterDefaults(r.g)
	r.e = New(Deps{
		Identity: id,
		Cache:    r.cache,
		Queue:    r.q,
		Gateway:  r.g,
		Monitor:  r.monitor,
		Loop:     loop,
		Source:   r.feed,
	}, r.rec.callbacks(), nil)
	t.Cleanup(r.e.Close)
	return r
}

func fix(i int) model.LocationSample {
	return model.NewLocationSample(52+float64(i)*0.01, 13, time.Date(2024, 5, 1, 10, 0, i*10, 0, time.UTC))
}

func TestOfflineSharingQueuesThenDrains(t *testing.T) {
	ctx := context.Background()
	r := newRig(t, nil, true)
	r.monitor.Set(false)
	require.NoError(t, r.e.Start(ctx))

	require.NoError(t, r.e.ToggleSharing(ctx, true))
	for i := 0; i < 3; i++ {
		require.NoError(t, r.e.IngestSample(ctx, fix(i)))
	}
	assert.Equal(t, 4, r.q.Len(ctx))
	assert.Equal(t, 0, r.store.Writes())

	cached, ok := r.cache.GetCachedUserLocation(ctx)
	require.True(t, ok)
	last := fix(2)
	assert.Equal(t, &last, cached.Payload.Location)

	st := r.e.GetLastKnownState()
	assert.True(t, st.Offline)
	assert.True(t, st.Sharing)
	assert.True(t, ids.ValidTrackingCode(st.TrackingCode))
	assert.Equal(t, 4, st.Pending)

	r.monitor.Set(true)
	require.Eventually(t, func() bool { return r.q.Len(ctx) == 0 }, 2*time.Second, 10*time.Millisecond)

	p, err := r.g.ReadUserRecord(ctx, "me")
	require.NoError(t, err)
	assert.Equal(t, &last, p.Location)
	assert.True(t, p.ShareLocation)
	assert.Equal(t, st.TrackingCode, p.TrackingCode)
	require.Eventually(t, r.rec.count(func(r *recorder) int {
		if len(r.offline) == 1 && !r.offline[0] {
			return 1
		}
		return 0
	}), time.Second, 5*time.Millisecond)
}

func TestToggleSharingOnline(t *testing.T) {
	ctx := context.Background()
	r := newRig(t, nil, true)
	r.monitor.Set(true)
	require.NoError(t, r.e.Start(ctx))

	require.NoError(t, r.e.IngestSample(ctx, fix(0)))
	assert.Equal(t, 0, r.store.Writes(), "not sharing yet")

	require.NoError(t, r.e.ToggleSharing(ctx, true))
	code := r.e.GetLastKnownState().TrackingCode
	require.NotEmpty(t, code)
	p, err := r.g.ReadUserRecord(ctx, "me")
	require.NoError(t, err)
	assert.True(t, p.ShareLocation)
	assert.Equal(t, code, p.TrackingCode)
	require.NotNil(t, p.Location)

	// the code survives re-enabling
	require.NoError(t, r.e.ToggleSharing(ctx, true))
	assert.Equal(t, code, r.e.GetLastKnownState().TrackingCode)

	require.NoError(t, r.e.ToggleSharing(ctx, false))
	p, err = r.g.ReadUserRecord(ctx, "me")
	require.NoError(t, err)
	assert.False(t, p.ShareLocation)
	assert.Nil(t, p.Location)
	assert.Empty(t, p.TrackingCode)
	assert.Empty(t, r.e.GetLastKnownState().TrackingCode)
	assert.Equal(t, 0, r.q.Len(ctx))
}

func TestRemoteFailureFallsBackToQueue(t *testing.T) {
	ctx := context.Background()
	r := newRig(t, nil, true)
	r.monitor.Set(true)
	require.NoError(t, r.e.Start(ctx))
	r.store.SetOffline(true)

	require.NoError(t, r.e.ToggleSharing(ctx, true))
	assert.Equal(t, 1, r.q.Len(ctx))
}

func TestWritesQueueBehindPendingOps(t *testing.T) {
	ctx := context.Background()
	r := newRig(t, nil, true)
	r.monitor.Set(false)

	require.NoError(t, r.e.IngestSample(ctx, fix(1)))
	require.NoError(t, r.e.ToggleSharing(ctx, true))
	require.Equal(t, 1, r.q.Len(ctx))

	// online again, but the replay has not run yet
	r.monitor.Set(true)
	require.NoError(t, r.e.ToggleSharing(ctx, false))

	require.Eventually(t, func() bool { return r.q.Len(ctx) == 0 }, 2*time.Second, 10*time.Millisecond)
	p, err := r.g.ReadUserRecord(ctx, "me")
	require.NoError(t, err)
	assert.False(t, p.ShareLocation)
	assert.Empty(t, p.TrackingCode)
	assert.Nil(t, p.Location)

	// a later run replays nothing stale
	_, err = r.e.d.Loop.Run(ctx)
	require.NoError(t, err)
	p, err = r.g.ReadUserRecord(ctx, "me")
	require.NoError(t, err)
	assert.False(t, p.ShareLocation)
}

func TestWritesAfterFailedReplayKeepOrder(t *testing.T) {
	ctx := context.Background()
	r := newRig(t, nil, true)
	r.monitor.Set(true)

	require.NoError(t, r.e.IngestSample(ctx, fix(0)))
	r.store.SetOffline(true)
	require.NoError(t, r.e.ToggleSharing(ctx, true))
	require.Equal(t, 1, r.q.Len(ctx))

	r.store.SetOffline(false)
	require.NoError(t, r.e.ToggleSharing(ctx, false))

	require.Eventually(t, func() bool { return r.q.Len(ctx) == 0 }, 2*time.Second, 10*time.Millisecond)
	p, err := r.g.ReadUserRecord(ctx, "me")
	require.NoError(t, err)
	assert.False(t, p.ShareLocation)
	assert.Empty(t, p.TrackingCode)
	assert.Nil(t, p.Location)
}

func TestStartSeesConcurrentOnlineTransition(t *testing.T) {
	ctx := context.Background()
	for i := 0; i < 20; i++ {
		r := newRig(t, nil, true)
		r.monitor.Set(false)
		require.NoError(t, r.e.ToggleSharing(ctx, true))
		require.Equal(t, 1, r.q.Len(ctx))

		done := make(chan struct{})
		go func() {
			defer close(done)
			r.monitor.Set(true)
		}()
		require.NoError(t, r.e.Start(ctx))
		<-done

		require.Eventually(t, func() bool {
			return r.q.Len(ctx) == 0 && !r.e.GetLastKnownState().Offline
		}, 2*time.Second, 10*time.Millisecond, "iteration %d", i)
	}
}

func TestStartOfflineRendersCache(t *testing.T) {
	ctx := context.Background()
	kv := storage.NewMemKV()
	seed := cache.New(kv, staticID("me"), nil)
	loc := fix(1)
	require.NoError(t, seed.CacheUserRecord(ctx, model.UserLocationRecord{UserID: "me", Location: &loc, ShareLocation: true, TrackingCode: "AB12CD"}))
	require.NoError(t, seed.CacheFriends(ctx, []model.FriendSummary{{ID: "f1", Name: "Fred"}}))

	r := newRig(t, kv, true)
	r.monitor.Set(false)
	require.NoError(t, r.e.Start(ctx))

	st := r.e.GetLastKnownState()
	assert.Equal(t, &loc, st.Location)
	assert.True(t, st.Sharing)
	assert.Equal(t, "AB12CD", st.TrackingCode)
	require.Len(t, st.Friends, 1)
	assert.Equal(t, "Fred", st.Friends[0].Name)
	assert.NotEmpty(t, st.FriendsSyncedAt)
	assert.True(t, st.Offline)
}

func TestFriendsListenerAfterOnline(t *testing.T) {
	ctx := context.Background()
	r := newRig(t, nil, true)
	require.NoError(t, r.store.SetMerge(ctx, gateway.UsersCollection, "me", map[string]any{"name": "Me", "friends": []string{}}))
	require.NoError(t, r.store.SetMerge(ctx, gateway.UsersCollection, "f1", map[string]any{"name": "Fred", "shareLocation": true, "location": fix(0)}))
	require.NoError(t, r.e.Start(ctx))
	r.monitor.Set(true)

	require.NoError(t, r.store.SetMerge(ctx, gateway.UsersCollection, "me", map[string]any{"friends": docstore.ArrayUnion("f1")}))
	require.Eventually(t, func() bool {
		st := r.e.GetLastKnownState()
		return len(st.Friends) == 1
	}, 2*time.Second, 10*time.Millisecond)

	st := r.e.GetLastKnownState()
	assert.Equal(t, "Fred", st.Friends[0].Name)
	assert.True(t, st.Friends[0].Visible())
	cached, ok := r.cache.GetCachedFriends(ctx)
	require.True(t, ok)
	assert.Len(t, cached.Payload, 1)

	require.Eventually(t, r.rec.count(func(r *recorder) int {
		for _, up := range r.friends {
			if up.Elapsed["f1"] != "" {
				return 1
			}
		}
		return 0
	}), time.Second, 5*time.Millisecond)
}

func TestTrackingThroughEngine(t *testing.T) {
	ctx := context.Background()
	r := newRig(t, nil, true)
	require.NoError(t, r.store.SetMerge(ctx, gateway.UsersCollection, "f1", map[string]any{"shareLocation": true, "location": fix(5)}))
	r.monitor.Set(true)
	require.NoError(t, r.e.Start(ctx))
	require.NoError(t, r.e.IngestSample(ctx, fix(0)))

	require.NoError(t, r.e.StartTrackingFriend(ctx, "f1"))
	require.Eventually(t, func() bool {
		return r.e.GetLastKnownState().Tracking.Location != nil
	}, time.Second, 5*time.Millisecond)
	u := r.e.GetLastKnownState().Tracking
	assert.Equal(t, tracking.TrackingFriend, u.State)
	assert.InDelta(t, 5.56, u.DistanceKm, 0.1)
	assert.Equal(t, "N", u.Direction)
	require.Eventually(t, r.rec.count(func(r *recorder) int { return len(r.tracking) }), time.Second, 5*time.Millisecond)

	r.e.StopTracking()
	assert.Equal(t, tracking.Idle, r.e.GetLastKnownState().Tracking.State)
}

func TestOfflineCommandsReportErrors(t *testing.T) {
	ctx := context.Background()
	r := newRig(t, nil, true)
	r.monitor.Set(false)
	require.NoError(t, r.e.Start(ctx))

	err := r.e.StartTracking(ctx, "AB12CD")
	assert.True(t, errors.Is(err, errs.ErrOffline))
	_, err = r.e.SearchUsers(ctx, "fred")
	assert.True(t, errors.Is(err, errs.ErrRemoteUnavailable))
	err = r.e.SendFriendRequest(ctx, "f1")
	assert.True(t, errors.Is(err, errs.ErrOffline))
	require.Eventually(t, r.rec.count(func(r *recorder) int {
		if len(r.errs) >= 3 {
			return 1
		}
		return 0
	}), time.Second, 5*time.Millisecond)
}

func TestPermissionDeniedDisablesLocation(t *testing.T) {
	r := newRig(t, nil, false)
	r.monitor.Set(false)
	require.NoError(t, r.e.Start(context.Background()))
	assert.True(t, r.e.GetLastKnownState().LocationDisabled)
	require.Eventually(t, r.rec.count(func(r *recorder) int { return len(r.errs) }), time.Second, 5*time.Millisecond)
}

func TestSamplesFromSource(t *testing.T) {
	ctx := context.Background()
	r := newRig(t, nil, true)
	r.monitor.Set(false)
	require.NoError(t, r.e.Start(ctx))

	require.NoError(t, r.feed.Push(fix(3)))
	require.Eventually(t, func() bool {
		return r.e.GetLastKnownState().Location != nil
	}, time.Second, 5*time.Millisecond)
	assert.InDelta(t, 52.03, r.e.GetLastKnownState().Location.Latitude, 1e-9)
}

func TestRemoveFriendStopsTracking(t *testing.T) {
	ctx := context.Background()
	r := newRig(t, nil, true)
	require.NoError(t, r.store.SetMerge(ctx, gateway.UsersCollection, "me", map[string]any{"friends": []string{"f1"}}))
	require.NoError(t, r.store.SetMerge(ctx, gateway.UsersCollection, "f1", map[string]any{"friends": []string{"me"}, "shareLocation": true, "location": fix(1)}))
	r.monitor.Set(true)
	require.NoError(t, r.e.Start(ctx))

	require.NoError(t, r.e.StartTrackingFriend(ctx, "f1"))
	require.NoError(t, r.e.RemoveFriend(ctx, "f1"))
	assert.Equal(t, tracking.Idle, r.e.GetLastKnownState().Tracking.State)

	p, err := r.g.ReadUserRecord(ctx, "f1")
	require.NoError(t, err)
	assert.Empty(t, p.Friends)
}

func TestStartRequiresIdentity(t *testing.T) {
	r := newRig(t, nil, true)
	r.e.d.Identity = staticID("")
	err := r.e.Start(context.Background())
	assert.True(t, errors.Is(err, errs.ErrUnauthenticated))
}
