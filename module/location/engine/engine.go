package engine

import (
	"context"
	"errors"
	"sync"
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
	"PTracker/tools/errs"
	"PTracker/tools/safe"
	"PTracker/tools/timefmt"

	"go.uber.org/zap"
)

// Callbacks are invoked one at a time, in the order events happened, on a
// goroutine owned by the engine. Any of them may be nil.
type Callbacks struct {
	OnLocationUpdate        func(model.UserLocationRecord)
	OnFriendsChanged        func(FriendsUpdate)
	OnTrackingTargetChanged func(tracking.Update)
	OnOfflineStateChanged   func(offline bool)
	// OnError carries transient, dismissable failures.
	OnError func(err error)
}

type FriendsUpdate struct {
	Friends  []model.FriendSummary `json:"friends"`
	Requests []model.UserSummary   `json:"requests"`
	SyncedAt string                `json:"syncedAt"`
	// Elapsed is the age of each visible friend's location, by friend id.
	Elapsed map[string]string `json:"elapsed"`
}

// State is the snapshot a UI renders before any callback arrives.
type State struct {
	Location         *model.LocationSample `json:"location"`
	LastUpdate       string                `json:"lastUpdate,omitempty"`
	Sharing          bool                  `json:"sharing"`
	TrackingCode     string                `json:"trackingCode,omitempty"`
	Friends          []model.FriendSummary `json:"friends"`
	Requests         []model.UserSummary   `json:"requests"`
	FriendsSyncedAt  string                `json:"friendsSyncedAt,omitempty"`
	Offline          bool                  `json:"offline"`
	Tracking         tracking.Update       `json:"tracking"`
	LocationDisabled bool                  `json:"locationDisabled"`
	Pending          int                   `json:"pending"`
}

type Deps struct {
	Identity cache.Identity
	Cache    *cache.Store
	Queue    *queue.Queue
	Gateway  *gateway.Gateway
	Monitor  *connectivity.Monitor
	Loop     *reconcile.Loop
	// Source may be nil when the device has no positioning.
	Source      positioning.Source
	Positioning positioning.Options
}

// Engine is the facade UI collaborators drive.
type Engine struct {
	d       Deps
	cb      Callbacks
	log     *zap.Logger
	session *tracking.Session
	events  *safe.Mailbox
	now     func() time.Time

	mu      sync.Mutex
	st      State
	started bool
	unsubs  []func()
	// known: sharing state came from this device (cache or a toggle), so
	// the remote copy is not adopted.
	known bool

	subMu         sync.Mutex
	friendsCancel docstore.Cancel
}

func New(d Deps, cb Callbacks, log *zap.Logger) *Engine {
	safe.MustNotNil(d.Identity, "engine identity")
	safe.MustNotNil(d.Cache, "engine cache")
	safe.MustNotNil(d.Queue, "engine queue")
	safe.MustNotNil(d.Gateway, "engine gateway")
	safe.MustNotNil(d.Monitor, "engine monitor")
	safe.MustNotNil(d.Loop, "engine loop")
	if log == nil {
		log = zap.NewNop()
	}
	e := &Engine{
		d:      d,
		cb:     cb,
		log:    log,
		events: safe.NewMailbox(log, "engine.callback"),
		now:    time.Now,
		st:     State{Offline: true},
	}
	e.session = tracking.New(d.Gateway, d.Monitor, log.Named("tracking"), e.onTracking)
	return e
}

func (e *Engine) userID() (string, error) {
	uid, ok := e.d.Identity.CurrentUserID()
	if !ok {
		return "", errs.ErrUnauthenticated.WrapMsg("no signed-in user")
	}
	return uid, nil
}

// Start renders from cache, follows connectivity and starts positioning. When
// already online it reads the remote record and replays the queue right away;
// otherwise that happens on the next online transition.
func (e *Engine) Start(ctx context.Context) error {
	uid, err := e.userID()
	if err != nil {
		return err
	}
	e.mu.Lock()
	if e.started {
		e.mu.Unlock()
		return nil
	}
	e.started = true
	e.mu.Unlock()

	e.loadCached(ctx)

	// subscribe before reading, a transition in between is then seen by the listener
	e.track(e.d.Monitor.Subscribe(func(online bool) { e.onConnectivity(ctx, online) }))
	e.mu.Lock()
	online := e.d.Monitor.Current()
	e.st.Offline = !online
	e.mu.Unlock()
	if online {
		safe.Go(e.log, "engine.online", func() { e.goOnline(ctx) })
	}

	if e.d.Source != nil {
		cancel, err := e.d.Source.Watch(ctx, e.d.Positioning, func(s model.LocationSample) {
			if err := e.IngestSample(ctx, s); err != nil {
				e.log.Warn("sample rejected", zap.Error(err))
			}
		})
		switch {
		case errors.Is(err, errs.ErrPermissionDenied):
			e.mu.Lock()
			e.st.LocationDisabled = true
			e.mu.Unlock()
			e.emitError(err)
		case err != nil:
			return err
		default:
			e.track(cancel)
		}
	}
	e.log.Info("engine started", zap.String("user", uid), zap.Bool("online", online))
	return nil
}

// Close releases every subscription. Callbacks already queued may still run.
func (e *Engine) Close() {
	e.mu.Lock()
	unsubs := e.unsubs
	e.unsubs = nil
	e.mu.Unlock()
	for _, u := range unsubs {
		u()
	}
	e.subMu.Lock()
	if e.friendsCancel != nil {
		e.friendsCancel()
		e.friendsCancel = nil
	}
	e.subMu.Unlock()
	e.session.Stop()
	e.events.Close()
}

func (e *Engine) track(unsub func()) {
	e.mu.Lock()
	e.unsubs = append(e.unsubs, unsub)
	e.mu.Unlock()
}

func (e *Engine) loadCached(ctx context.Context) {
	if snap, ok := e.d.Cache.GetCachedUserLocation(ctx); ok {
		rec := snap.Payload
		e.mu.Lock()
		e.st.Location = rec.Location
		e.st.Sharing = rec.ShareLocation
		e.st.TrackingCode = rec.TrackingCode
		e.st.LastUpdate = snap.CapturedAt
		e.known = true
		e.mu.Unlock()
	}
	if snap, ok := e.d.Cache.GetCachedFriends(ctx); ok {
		e.mu.Lock()
		e.st.Friends = snap.Payload
		e.st.FriendsSyncedAt = snap.CapturedAt
		e.mu.Unlock()
	}
}

func (e *Engine) onConnectivity(ctx context.Context, online bool) {
	e.mu.Lock()
	e.st.Offline = !online
	e.mu.Unlock()
	e.emit(func() {
		if e.cb.OnOfflineStateChanged != nil {
			e.cb.OnOfflineStateChanged(!online)
		}
	})
	if online {
		safe.Go(e.log, "engine.online", func() { e.goOnline(ctx) })
	}
}

// goOnline reads the remote record, replays pending writes, then makes sure
// the friends listener is running.
func (e *Engine) goOnline(ctx context.Context) {
	uid, err := e.userID()
	if err != nil {
		return
	}
	p, err := e.d.Gateway.ReadUserRecord(ctx, uid)
	switch {
	case err == nil:
		e.adoptRemote(ctx, p)
	case errors.Is(err, errs.ErrNotFound):
		e.log.Info("no remote record yet", zap.String("user", uid))
	default:
		e.log.Warn("remote record read failed", zap.Error(err))
	}

	if n, err := e.d.Loop.Run(ctx); err != nil {
		e.log.Warn("reconcile failed, will retry on next transition", zap.Int("applied", n), zap.Error(err))
	}
	e.ensureFriendsListener(ctx, uid)
}

// adoptRemote takes sharing state from the remote record when this device has
// none of its own and no writes are still queued.
func (e *Engine) adoptRemote(ctx context.Context, p model.UserProfile) {
	if e.d.Queue.Len(ctx) > 0 {
		return
	}
	e.mu.Lock()
	if e.known {
		e.mu.Unlock()
		return
	}
	e.known = true
	e.st.Sharing = p.ShareLocation
	e.st.TrackingCode = p.TrackingCode
	if e.st.Location == nil && p.Location != nil {
		loc := *p.Location
		e.st.Location = &loc
	}
	rec := e.recordLocked(p.UserID)
	e.mu.Unlock()

	if err := e.d.Cache.CacheUserRecord(ctx, rec); err != nil {
		e.log.Warn("cache record failed", zap.Error(err))
	}
	e.emitLocation(rec)
}

func (e *Engine) ensureFriendsListener(ctx context.Context, uid string) {
	e.subMu.Lock()
	defer e.subMu.Unlock()
	if e.friendsCancel != nil {
		return
	}
	cancel, err := e.d.Gateway.SubscribeFriends(ctx, uid, e.onFriends)
	if err != nil {
		e.log.Warn("friends listener not started", zap.Error(err))
		return
	}
	e.friendsCancel = cancel
}

func (e *Engine) onFriends(view model.FriendsView) {
	at := e.now().UTC().Format(time.RFC3339Nano)
	e.mu.Lock()
	e.st.Friends = view.Friends
	e.st.Requests = view.Requests
	e.st.FriendsSyncedAt = at
	e.mu.Unlock()

	if err := e.d.Cache.CacheFriends(context.Background(), view.Friends); err != nil {
		e.log.Warn("cache friends failed", zap.Error(err))
	}
	up := FriendsUpdate{Friends: view.Friends, Requests: view.Requests, SyncedAt: at, Elapsed: e.elapsed(view.Friends)}
	e.emit(func() {
		if e.cb.OnFriendsChanged != nil {
			e.cb.OnFriendsChanged(up)
		}
	})
}

func (e *Engine) elapsed(friends []model.FriendSummary) map[string]string {
	now := e.now()
	out := make(map[string]string, len(friends))
	for _, f := range friends {
		if f.Visible() {
			out[f.ID] = timefmt.FormatElapsed(f.Location.Timestamp, now)
		}
	}
	return out
}

func (e *Engine) onTracking(u tracking.Update) {
	e.emit(func() {
		if e.cb.OnTrackingTargetChanged != nil {
			e.cb.OnTrackingTargetChanged(u)
		}
	})
}

func (e *Engine) emit(job func()) { e.events.Push(job) }

func (e *Engine) emitError(err error) {
	e.emit(func() {
		if e.cb.OnError != nil {
			e.cb.OnError(err)
		}
	})
}

func (e *Engine) emitLocation(rec model.UserLocationRecord) {
	e.emit(func() {
		if e.cb.OnLocationUpdate != nil {
			e.cb.OnLocationUpdate(rec)
		}
	})
}

// recordLocked is the record the remote store should hold for uid.
func (e *Engine) recordLocked(uid string) model.UserLocationRecord {
	rec := model.UserLocationRecord{
		UserID:        uid,
		ShareLocation: e.st.Sharing,
		TrackingCode:  e.st.TrackingCode,
	}
	if e.st.Sharing && e.st.Location != nil {
		loc := *e.st.Location
		rec.Location = &loc
	}
	return rec
}

// GetLastKnownState never blocks on the network.
func (e *Engine) GetLastKnownState() State {
	e.mu.Lock()
	st := e.st
	st.Friends = append([]model.FriendSummary(nil), e.st.Friends...)
	st.Requests = append([]model.UserSummary(nil), e.st.Requests...)
	e.mu.Unlock()

	st.Tracking = e.session.Current()
	st.Pending = e.d.Queue.Len(context.Background())
	return st
}
