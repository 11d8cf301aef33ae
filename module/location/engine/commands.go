package engine

import (
	"context"
	"errors"
	"time"

	"PTracker/module/location/model"
	"PTracker/module/location/tracking"
	"PTracker/tools/errs"
	"PTracker/tools/ids"
	"PTracker/tools/safe"

	"go.uber.org/zap"
)

// IngestSample records a new own fix: cache first, then the remote store when
// sharing (or the queue when that is not possible).
func (e *Engine) IngestSample(ctx context.Context, s model.LocationSample) error {
	if err := s.Validate(); err != nil {
		return errs.ErrArgs.WrapMsg(err.Error())
	}
	uid, err := e.userID()
	if err != nil {
		return err
	}
	e.session.SetOwnLocation(s)

	e.mu.Lock()
	loc := s
	e.st.Location = &loc
	e.st.LastUpdate = e.now().UTC().Format(time.RFC3339Nano)
	rec := e.recordLocked(uid)
	e.mu.Unlock()

	if err := e.d.Cache.CacheUserLocation(ctx, s); err != nil {
		e.log.Warn("cache location failed", zap.Error(err))
	}
	e.emitLocation(rec)

	if !rec.ShareLocation {
		return nil
	}
	return e.writeOrEnqueue(ctx, model.LocationUpdate(rec))
}

// ToggleSharing turns sharing on (creating a tracking code the first time) or
// off (clearing location and code remotely).
func (e *Engine) ToggleSharing(ctx context.Context, on bool) error {
	uid, err := e.userID()
	if err != nil {
		return err
	}
	e.mu.Lock()
	if on {
		if e.st.TrackingCode == "" {
			code, err := ids.TrackingCode()
			if err != nil {
				e.mu.Unlock()
				return errs.ErrInternal.WrapMsg(err.Error())
			}
			e.st.TrackingCode = code
		}
	} else {
		e.st.TrackingCode = ""
	}
	e.st.Sharing = on
	e.known = true
	rec := e.recordLocked(uid)
	e.mu.Unlock()

	if err := e.d.Cache.CacheUserRecord(ctx, rec); err != nil {
		e.log.Warn("cache record failed", zap.Error(err))
	}
	e.emitLocation(rec)
	e.log.Info("sharing toggled", zap.Bool("on", on))
	return e.writeOrEnqueue(ctx, model.LocationUpdate(rec))
}

// writeOrEnqueue writes now when online and nothing older is still queued;
// otherwise the full overwrite goes behind the queued ones, so the remote copy
// always ends at the latest local state.
func (e *Engine) writeOrEnqueue(ctx context.Context, u model.LocationUpdate) error {
	online := e.d.Monitor.Current()
	if online && e.d.Queue.Len(ctx) == 0 {
		err := e.d.Gateway.ApplyLocationUpdate(ctx, u)
		if err == nil {
			return nil
		}
		if !errors.Is(err, errs.ErrRemoteUnavailable) {
			e.emitError(err)
			return err
		}
		e.log.Warn("remote write failed, queued", zap.Error(err))
		online = false
	}
	if _, err := e.d.Queue.Enqueue(ctx, model.KindUpdateUserLocation, u); err != nil {
		e.log.Error("enqueue failed, update lost", zap.String("user", u.UserID), zap.Error(err))
		return nil
	}
	if online {
		e.replay(context.WithoutCancel(ctx))
	}
	return nil
}

// replay drains the queue in the background.
func (e *Engine) replay(ctx context.Context) {
	safe.Go(e.log, "engine.replay", func() {
		if n, err := e.d.Loop.Run(ctx); err != nil {
			e.log.Warn("replay failed, batch kept", zap.Int("applied", n), zap.Error(err))
		}
	})
}

func (e *Engine) StartTracking(ctx context.Context, code string) error {
	if err := e.session.StartTracking(ctx, code); err != nil {
		e.emitError(err)
		return err
	}
	return nil
}

func (e *Engine) StopTracking() { e.session.Stop() }

func (e *Engine) StartTrackingFriend(ctx context.Context, friendID string) error {
	if err := e.session.StartTrackingFriend(ctx, friendID); err != nil {
		e.emitError(err)
		return err
	}
	return nil
}

func (e *Engine) SearchUsers(ctx context.Context, text string) ([]model.UserSummary, error) {
	uid, err := e.userID()
	if err != nil {
		return nil, err
	}
	res, err := e.d.Gateway.SearchUsers(ctx, uid, text)
	if err != nil {
		e.emitError(err)
		return nil, err
	}
	return res, nil
}

func (e *Engine) friendOp(op func(me string) error) error {
	uid, err := e.userID()
	if err != nil {
		return err
	}
	if err := op(uid); err != nil {
		e.emitError(err)
		return err
	}
	return nil
}

func (e *Engine) SendFriendRequest(ctx context.Context, to string) error {
	return e.friendOp(func(me string) error { return e.d.Gateway.SendRequest(ctx, me, to) })
}

func (e *Engine) AcceptFriendRequest(ctx context.Context, from string) error {
	return e.friendOp(func(me string) error { return e.d.Gateway.AcceptRequest(ctx, me, from) })
}

func (e *Engine) DeclineFriendRequest(ctx context.Context, from string) error {
	return e.friendOp(func(me string) error { return e.d.Gateway.DeclineRequest(ctx, me, from) })
}

// RemoveFriend also stops tracking that friend.
func (e *Engine) RemoveFriend(ctx context.Context, friendID string) error {
	err := e.friendOp(func(me string) error { return e.d.Gateway.RemoveFriend(ctx, me, friendID) })
	if err != nil {
		return err
	}
	if cur := e.session.Current(); cur.State == tracking.TrackingFriend && cur.FriendID == friendID {
		e.session.Stop()
	}
	return nil
}
