package gateway

import (
	"context"
	"time"

	"PTracker/module/location/model"
	"PTracker/service/docstore"
	"PTracker/tools/decode"
	"PTracker/tools/errs"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const UsersCollection = "users"

// Online is the cached connectivity state; *connectivity.Monitor implements it.
type Online interface {
	Current() bool
}

// Gateway is the only component that talks to the remote document store.
type Gateway struct {
	store  docstore.Store
	online Online
	log    *zap.Logger
	retry  RetryPolicy
	// fetchLimit bounds concurrent profile reads.
	fetchLimit int
}

type Option func(*Gateway)

func WithRetryPolicy(p RetryPolicy) Option { return func(g *Gateway) { g.retry = p.withDefaults() } }

func WithFetchLimit(n int) Option { return func(g *Gateway) { g.fetchLimit = n } }

func New(store docstore.Store, online Online, log *zap.Logger, opts ...Option) *Gateway {
	if log == nil {
		log = zap.NewNop()
	}
	g := &Gateway{
		store:      store,
		online:     online,
		log:        log,
		retry:      RetryPolicy{}.withDefaults(),
		fetchLimit: 8,
	}
	for _, o := range opts {
		o(g)
	}
	return g
}

func (g *Gateway) requireOnline(op string) error {
	if g.online != nil && !g.online.Current() {
		return errs.ErrOffline.WrapMsg("device is offline", "op", op)
	}
	return nil
}

func patchFields(p model.RecordPatch) (map[string]any, error) {
	fields := make(map[string]any, 3)
	switch {
	case p.Location != nil:
		m, err := decode.ToMap(*p.Location)
		if err != nil {
			return nil, err
		}
		fields["location"] = m
	case p.ClearLocation:
		fields["location"] = nil
	}
	if p.ShareLocation != nil {
		fields["shareLocation"] = *p.ShareLocation
	}
	switch {
	case p.TrackingCode != nil && *p.TrackingCode != "":
		fields["trackingCode"] = *p.TrackingCode
	case p.TrackingCode != nil || p.ClearTrackingCode:
		fields["trackingCode"] = nil
	}
	return fields, nil
}

// WriteUserLocation performs one upsert-merge of the sharing fields. Offline
// fails with ErrOffline, which is also an ErrRemoteUnavailable.
func (g *Gateway) WriteUserLocation(ctx context.Context, userID string, patch model.RecordPatch) error {
	if userID == "" {
		return errs.ErrArgs.WrapMsg("empty user id")
	}
	if err := g.requireOnline("writeUserLocation"); err != nil {
		return err
	}
	if patch.Empty() {
		return nil
	}
	fields, err := patchFields(patch)
	if err != nil {
		return errs.ErrArgs.WrapMsg(err.Error())
	}
	if err := g.store.SetMerge(ctx, UsersCollection, userID, fields); err != nil {
		return err
	}
	g.log.Debug("user location written", zap.String("user", userID), zap.Int("fields", len(fields)))
	return nil
}

// ApplyLocationUpdate writes a queued full overwrite; applying it twice is the
// same as once.
func (g *Gateway) ApplyLocationUpdate(ctx context.Context, u model.LocationUpdate) error {
	return g.WriteUserLocation(ctx, u.UserID, u.Patch())
}

func profileOf(snap docstore.Snapshot) (model.UserProfile, error) {
	if !snap.Exists {
		return model.UserProfile{UserID: snap.ID}, nil
	}
	p, err := decode.DecodeMap[model.UserProfile](snap.Data)
	if err != nil {
		return model.UserProfile{}, errs.ErrInternal.WrapMsg(err.Error(), "id", snap.ID)
	}
	p.UserID = snap.ID
	return *p, nil
}

// ReadUserRecord fails with ErrNotFound when the user has no document.
func (g *Gateway) ReadUserRecord(ctx context.Context, userID string) (model.UserProfile, error) {
	if err := g.requireOnline("readUserRecord"); err != nil {
		return model.UserProfile{}, err
	}
	snap, err := g.store.Get(ctx, UsersCollection, userID)
	if err != nil {
		return model.UserProfile{}, err
	}
	if !snap.Exists {
		return model.UserProfile{}, errs.ErrNotFound.WrapMsg("user not found", "id", userID)
	}
	return profileOf(snap)
}

// SubscribeUserRecord pushes every committed state of the user document.
// exists=false reports a missing or deleted document.
func (g *Gateway) SubscribeUserRecord(ctx context.Context, userID string, fn func(p model.UserProfile, exists bool)) (docstore.Cancel, error) {
	if err := g.requireOnline("subscribeUserRecord"); err != nil {
		return nil, err
	}
	return g.store.WatchDoc(ctx, UsersCollection, userID, func(snap docstore.Snapshot) {
		p, err := profileOf(snap)
		if err != nil {
			g.log.Warn("undecodable user document", zap.String("id", userID), zap.Error(err))
			return
		}
		fn(p, snap.Exists)
	})
}

// SubscribeByTrackingCode resolves the sharing user holding code. fn receives
// nil when nobody matches, including when the match stops sharing.
func (g *Gateway) SubscribeByTrackingCode(ctx context.Context, code string, fn func(p *model.UserProfile)) (docstore.Cancel, error) {
	if err := g.requireOnline("subscribeByTrackingCode"); err != nil {
		return nil, err
	}
	filters := []docstore.Filter{
		docstore.Eq("trackingCode", code),
		docstore.Eq("shareLocation", true),
	}
	return g.store.WatchQuery(ctx, UsersCollection, filters, func(res []docstore.Snapshot) {
		for _, snap := range res {
			p, err := profileOf(snap)
			if err != nil {
				g.log.Warn("undecodable user document", zap.String("id", snap.ID), zap.Error(err))
				continue
			}
			fn(&p)
			return
		}
		fn(nil)
	})
}

func (g *Gateway) fetchProfiles(ctx context.Context, ids []string) ([]model.UserProfile, error) {
	found := make([]*model.UserProfile, len(ids))
	eg, ectx := errgroup.WithContext(ctx)
	eg.SetLimit(g.fetchLimit)
	for i, id := range ids {
		i, id := i, id
		eg.Go(func() error {
			snap, err := g.store.Get(ectx, UsersCollection, id)
			if err != nil {
				return err
			}
			if !snap.Exists {
				return nil
			}
			p, err := profileOf(snap)
			if err != nil {
				g.log.Warn("undecodable user document", zap.String("id", id), zap.Error(err))
				return nil
			}
			found[i] = &p
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	out := make([]model.UserProfile, 0, len(ids))
	for _, p := range found {
		if p != nil {
			out = append(out, *p)
		}
	}
	return out, nil
}

// FriendSummaries fetches the given users concurrently, keeping input order and
// skipping missing ones.
func (g *Gateway) FriendSummaries(ctx context.Context, ids []string) ([]model.FriendSummary, error) {
	if err := g.requireOnline("friendSummaries"); err != nil {
		return nil, err
	}
	profiles, err := g.fetchProfiles(ctx, ids)
	if err != nil {
		return nil, err
	}
	out := make([]model.FriendSummary, 0, len(profiles))
	for _, p := range profiles {
		out = append(out, model.SummaryOf(p))
	}
	return out, nil
}

// SubscribeFriends watches the user's own document and, on every change,
// refetches friends and incoming requests.
func (g *Gateway) SubscribeFriends(ctx context.Context, userID string, fn func(model.FriendsView)) (docstore.Cancel, error) {
	if err := g.requireOnline("subscribeFriends"); err != nil {
		return nil, err
	}
	return g.store.WatchDoc(ctx, UsersCollection, userID, func(snap docstore.Snapshot) {
		me, err := profileOf(snap)
		if err != nil {
			g.log.Warn("undecodable user document", zap.String("id", userID), zap.Error(err))
			return
		}
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()

		friends, err := g.fetchProfiles(fctx, me.Friends)
		if err != nil {
			g.log.Warn("friends refetch failed", zap.String("id", userID), zap.Error(err))
			return
		}
		requests, err := g.fetchProfiles(fctx, me.FriendRequests)
		if err != nil {
			g.log.Warn("requests refetch failed", zap.String("id", userID), zap.Error(err))
			return
		}
		view := model.FriendsView{
			Friends:  make([]model.FriendSummary, 0, len(friends)),
			Requests: make([]model.UserSummary, 0, len(requests)),
		}
		for _, f := range friends {
			view.Friends = append(view.Friends, model.SummaryOf(f))
		}
		for _, r := range requests {
			view.Requests = append(view.Requests, model.UserSummary{ID: r.UserID, Name: r.Name, Email: r.Email})
		}
		fn(view)
	})
}
