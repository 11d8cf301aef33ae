package tracking

import (
	"context"
	"sync"

	"PTracker/module/location/gateway"
	"PTracker/module/location/model"
	"PTracker/service/docstore"
	"PTracker/tools/errs"
	"PTracker/tools/geo"
	"PTracker/tools/ids"
	"PTracker/tools/safe"

	"go.uber.org/zap"
)

const (
	MsgNoActiveUser   = "No active user found with this tracking code"
	MsgFriendNotShown = "Friend is not sharing their location"
)

type State int

const (
	Idle State = iota
	TrackingByCode
	TrackingFriend
)

func (s State) String() string {
	switch s {
	case TrackingByCode:
		return "trackingByCode"
	case TrackingFriend:
		return "trackingFriend"
	default:
		return "idle"
	}
}

// Update is everything the UI needs to draw the current target.
type Update struct {
	State    State  `json:"state"`
	Code     string `json:"code,omitempty"`
	FriendID string `json:"friendId,omitempty"`

	TargetID   string                `json:"targetId,omitempty"`
	TargetName string                `json:"targetName,omitempty"`
	Location   *model.LocationSample `json:"location,omitempty"`

	// Unavailable: the target exists in this state but has nothing to show.
	Unavailable bool   `json:"unavailable"`
	Message     string `json:"message,omitempty"`

	DistanceKm float64 `json:"distanceKm,omitempty"`
	Bearing    float64 `json:"bearing,omitempty"`
	Direction  string  `json:"direction,omitempty"`
	// Route is the overlay from our position to the target.
	Route []model.LocationSample `json:"route,omitempty"`
}

// Remote is the part of the gateway a session subscribes through.
type Remote interface {
	SubscribeByTrackingCode(ctx context.Context, code string, fn func(p *model.UserProfile)) (docstore.Cancel, error)
	SubscribeUserRecord(ctx context.Context, userID string, fn func(p model.UserProfile, exists bool)) (docstore.Cancel, error)
}

// Session owns at most one remote subscription. Each (re)subscription bumps
// gen; callbacks carrying an older gen are dropped.
//
// onChange runs with the session lock held and must not call back into the
// Session.
type Session struct {
	remote   Remote
	online   gateway.Online
	log      *zap.Logger
	onChange func(Update)

	mu     sync.Mutex
	gen    uint64
	cancel docstore.Cancel
	own    *model.LocationSample
	cur    Update
}

func New(remote Remote, online gateway.Online, log *zap.Logger, onChange func(Update)) *Session {
	safe.MustNotNil(remote, "tracking remote")
	if log == nil {
		log = zap.NewNop()
	}
	if onChange == nil {
		onChange = func(Update) {}
	}
	return &Session{remote: remote, online: online, log: log, onChange: onChange}
}

func (s *Session) Current() Update {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cur
}

// StartTracking follows whoever shares under code. Offline leaves the current
// state untouched.
func (s *Session) StartTracking(ctx context.Context, code string) error {
	c, ok := ids.NormalizeTrackingCode(code)
	if !ok {
		return errs.ErrArgs.WrapMsg("invalid tracking code", "code", code)
	}
	if s.online != nil && !s.online.Current() {
		return errs.ErrOffline.WrapMsg("cannot start tracking while offline")
	}

	gen := s.begin(Update{State: TrackingByCode, Code: c})
	cancel, err := s.remote.SubscribeByTrackingCode(ctx, c, func(p *model.UserProfile) {
		s.onCodeMatch(gen, p)
	})
	return s.commit(gen, cancel, err)
}

// StartTrackingFriend replaces any active track with friendID. Selecting the
// friend already tracked stops tracking.
func (s *Session) StartTrackingFriend(ctx context.Context, friendID string) error {
	if friendID == "" {
		return errs.ErrArgs.WrapMsg("empty friend id")
	}
	s.mu.Lock()
	if s.cur.State == TrackingFriend && s.cur.FriendID == friendID {
		s.resetLocked()
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()
	if s.online != nil && !s.online.Current() {
		return errs.ErrOffline.WrapMsg("cannot track friend while offline", "friend", friendID)
	}

	gen := s.begin(Update{State: TrackingFriend, FriendID: friendID})
	cancel, err := s.remote.SubscribeUserRecord(ctx, friendID, func(p model.UserProfile, exists bool) {
		s.onFriendRecord(gen, p, exists)
	})
	return s.commit(gen, cancel, err)
}

// Stop tears down the subscription and clears target, geometry and route.
func (s *Session) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resetLocked()
}

// SetOwnLocation refreshes distance and bearing against the current target.
func (s *Session) SetOwnLocation(loc model.LocationSample) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.own = &loc
	if s.cur.State == Idle || s.cur.Location == nil {
		return
	}
	s.measureLocked()
	s.emitLocked()
}

// begin releases the previous handle and enters the pending state for a new
// generation.
func (s *Session) begin(u Update) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.releaseLocked()
	s.gen++
	s.cur = u
	s.emitLocked()
	return s.gen
}

func (s *Session) commit(gen uint64, cancel docstore.Cancel, err error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.gen {
		// superseded while subscribing
		if cancel != nil {
			cancel()
		}
		return err
	}
	if err != nil {
		s.log.Warn("tracking subscribe failed", zap.String("state", s.cur.State.String()), zap.Error(err))
		s.gen++
		s.cur = Update{State: Idle}
		s.emitLocked()
		return err
	}
	s.cancel = cancel
	return nil
}

func (s *Session) releaseLocked() {
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
}

func (s *Session) resetLocked() {
	s.releaseLocked()
	s.gen++
	was := s.cur.State
	s.cur = Update{State: Idle}
	if was != Idle {
		s.emitLocked()
	}
}

func (s *Session) onCodeMatch(gen uint64, p *model.UserProfile) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.gen {
		return
	}
	u := Update{State: TrackingByCode, Code: s.cur.Code}
	if p == nil || p.Location == nil {
		u.Unavailable = true
		u.Message = MsgNoActiveUser
	} else {
		loc := *p.Location
		u.TargetID, u.TargetName, u.Location = p.UserID, p.Name, &loc
	}
	s.cur = u
	s.measureLocked()
	s.emitLocked()
}

func (s *Session) onFriendRecord(gen uint64, p model.UserProfile, exists bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.gen {
		return
	}
	if !exists {
		s.log.Info("tracked friend disappeared", zap.String("friend", s.cur.FriendID))
		s.resetLocked()
		return
	}
	u := Update{State: TrackingFriend, FriendID: s.cur.FriendID, TargetID: p.UserID, TargetName: p.Name}
	if !p.ShareLocation || p.Location == nil {
		u.Unavailable = true
		u.Message = MsgFriendNotShown
	} else {
		loc := *p.Location
		u.Location = &loc
	}
	s.cur = u
	s.measureLocked()
	s.emitLocked()
}

func (s *Session) measureLocked() {
	s.cur.DistanceKm, s.cur.Bearing, s.cur.Direction, s.cur.Route = 0, 0, "", nil
	if s.own == nil || s.cur.Location == nil {
		return
	}
	me, t := *s.own, *s.cur.Location
	s.cur.DistanceKm = geo.Distance(me.Latitude, me.Longitude, t.Latitude, t.Longitude)
	s.cur.Bearing = geo.Bearing(me.Latitude, me.Longitude, t.Latitude, t.Longitude)
	s.cur.Direction = geo.Cardinal(s.cur.Bearing)
	s.cur.Route = []model.LocationSample{me, t}
}

func (s *Session) emitLocked() {
	u := s.cur
	safe.Call(s.log, "tracking.onChange", func() { s.onChange(u) })
}
