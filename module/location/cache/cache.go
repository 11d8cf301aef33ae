package cache

import (
	"context"
	"time"

	"PTracker/module/location/model"
	"PTracker/service/storage"
	"PTracker/tools/errs"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Logical keys, scoped per identity as "@<userId>/<key>".
const (
	KeyLastLocation    = "last_location"
	KeyFriendsSnapshot = "friends_snapshot"
	KeyPendingQueue    = "pending_queue"
)

// Identity yields the signed-in user id; ok=false when signed out.
type Identity interface {
	CurrentUserID() (string, bool)
}

// Store is the identity-scoped local cache. Failures are logged and surface as
// "no cached data"; only Lookup reports them.
type Store struct {
	kv  storage.KV
	id  Identity
	log *zap.Logger
	now func() time.Time
}

func New(kv storage.KV, id Identity, log *zap.Logger) *Store {
	if log == nil {
		log = zap.NewNop()
	}
	return &Store{kv: kv, id: id, log: log, now: time.Now}
}

func (s *Store) scoped(key string) (string, bool) {
	uid, ok := s.id.CurrentUserID()
	if !ok || uid == "" {
		return "", false
	}
	return "@" + uid + "/" + key, true
}

// Put serializes value under key. Signed out is an error.
func (s *Store) Put(ctx context.Context, key string, value any) error {
	k, ok := s.scoped(key)
	if !ok {
		s.log.Warn("cache put refused: unauthenticated", zap.String("key", key))
		return errs.ErrUnauthenticated.WrapMsg("cache put", "key", key)
	}
	b, err := json.Marshal(value)
	if err != nil {
		s.log.Error("cache encode failed", zap.String("key", key), zap.Error(err))
		return errs.WrapMsg(err, "cache encode", "key", key)
	}
	if err := s.kv.Set(ctx, k, b); err != nil {
		s.log.Error("cache write failed", zap.String("key", key), zap.Error(err))
		return err
	}
	return nil
}

// Lookup decodes key into dst. found=false with a nil error means absent.
func (s *Store) Lookup(ctx context.Context, key string, dst any) (bool, error) {
	k, ok := s.scoped(key)
	if !ok {
		return false, errs.ErrUnauthenticated.WrapMsg("cache get", "key", key)
	}
	b, found, err := s.kv.Get(ctx, k)
	if err != nil {
		return false, err
	}
	if !found {
		return false, nil
	}
	if err := json.Unmarshal(b, dst); err != nil {
		return false, errs.WrapMsg(err, "cache decode", "key", key)
	}
	return true, nil
}

// Get is Lookup with failures logged and reported as absent.
func (s *Store) Get(ctx context.Context, key string, dst any) bool {
	found, err := s.Lookup(ctx, key, dst)
	if err != nil {
		s.log.Warn("cache read failed", zap.String("key", key), zap.Error(err))
		return false
	}
	return found
}

func (s *Store) Remove(ctx context.Context, key string) error {
	k, ok := s.scoped(key)
	if !ok {
		return errs.ErrUnauthenticated.WrapMsg("cache remove", "key", key)
	}
	if err := s.kv.Remove(ctx, k); err != nil {
		s.log.Error("cache remove failed", zap.String("key", key), zap.Error(err))
		return err
	}
	return nil
}

// CacheUserLocation records loc as the last location, keeping the cached
// sharing fields.
func (s *Store) CacheUserLocation(ctx context.Context, loc model.LocationSample) error {
	var snap model.CachedSnapshot[model.UserLocationRecord]
	s.Get(ctx, KeyLastLocation, &snap)
	rec := snap.Payload
	if uid, ok := s.id.CurrentUserID(); ok {
		rec.UserID = uid
	}
	l := loc
	rec.Location = &l
	return s.Put(ctx, KeyLastLocation, model.NewSnapshot(rec, s.now()))
}

// CacheUserRecord replaces the cached record, e.g. after a sharing toggle or a
// fresh remote read.
func (s *Store) CacheUserRecord(ctx context.Context, rec model.UserLocationRecord) error {
	return s.Put(ctx, KeyLastLocation, model.NewSnapshot(rec, s.now()))
}

func (s *Store) GetCachedUserLocation(ctx context.Context) (model.CachedSnapshot[model.UserLocationRecord], bool) {
	var snap model.CachedSnapshot[model.UserLocationRecord]
	ok := s.Get(ctx, KeyLastLocation, &snap)
	return snap, ok
}

func (s *Store) CacheFriends(ctx context.Context, friends []model.FriendSummary) error {
	if friends == nil {
		friends = []model.FriendSummary{}
	}
	return s.Put(ctx, KeyFriendsSnapshot, model.NewSnapshot(friends, s.now()))
}

func (s *Store) GetCachedFriends(ctx context.Context) (model.CachedSnapshot[[]model.FriendSummary], bool) {
	var snap model.CachedSnapshot[[]model.FriendSummary]
	ok := s.Get(ctx, KeyFriendsSnapshot, &snap)
	return snap, ok
}
