package docstore

import (
	"context"
	"encoding/base64"
	"errors"
	"sort"

	"PTracker/service/natsx"
	"PTracker/tools/errs"
	"PTracker/tools/safe"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
)

// FeedBiz is the natsx route carrying change notifications.
const FeedBiz = "docfeed"

// DBSource yields the current database handle, or false while disconnected.
// *mgo.MongoManager implements it.
type DBSource interface {
	TryGetDB() (*mongo.Database, bool)
}

type StaticDB struct{ DB *mongo.Database }

func (s StaticDB) TryGetDB() (*mongo.Database, bool) { return s.DB, s.DB != nil }

// Feed is the change notification bus. *natsx.NatsManager implements it.
type Feed interface {
	Publish(ctx context.Context, biz, key string, data []byte, hdr map[string]string) error
	Subscribe(biz, key string, h natsx.NatsxHandler) (func() error, error)
}

// MongoStore keeps documents in MongoDB, _id = document id. After every
// committed write it publishes "<coll>.<id>" on the feed; watchers re-read on
// each notification, so every callback carries the latest committed state.
type MongoStore struct {
	src  DBSource
	feed Feed
	log  *zap.Logger
}

func NewMongoStore(src DBSource, feed Feed, log *zap.Logger) *MongoStore {
	if log == nil {
		log = zap.NewNop()
	}
	return &MongoStore{src: src, feed: feed, log: log}
}

// feedKey is one subject token per id, so ids holding '.', '*' or '>' can
// neither split the subject nor act as wildcards.
func feedKey(coll, id string) string {
	if id == "" {
		return coll + "._"
	}
	return coll + "." + base64.RawURLEncoding.EncodeToString([]byte(id))
}

func feedPattern(coll string) string { return coll + ".*" }

func (s *MongoStore) coll(name string) (*mongo.Collection, error) {
	db, ok := s.src.TryGetDB()
	if !ok {
		return nil, errs.ErrRemoteUnavailable.WrapMsg("mongo not connected")
	}
	return db.Collection(name), nil
}

// mapErr classifies driver errors: a missing document is NotFound, duplicate
// keys are argument errors, everything else is treated as transient.
func mapErr(err error, coll, id string) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, mongo.ErrNoDocuments):
		return errs.ErrNotFound.WrapMsg("document not found", "coll", coll, "id", id)
	case mongo.IsDuplicateKeyError(err):
		return errs.ErrArgs.WrapMsg(err.Error(), "coll", coll, "id", id)
	default:
		return errs.ErrRemoteUnavailable.WrapMsg(err.Error(), "coll", coll, "id", id)
	}
}

func (s *MongoStore) Get(ctx context.Context, coll, id string) (Snapshot, error) {
	c, err := s.coll(coll)
	if err != nil {
		return Snapshot{}, err
	}
	var raw bson.M
	err = c.FindOne(ctx, bson.M{"_id": id}).Decode(&raw)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return Snapshot{ID: id}, nil
	}
	if err != nil {
		return Snapshot{}, mapErr(err, coll, id)
	}
	snap := docToSnapshot(raw)
	snap.ID = id
	return snap, nil
}

func (s *MongoStore) SetMerge(ctx context.Context, coll, id string, fields map[string]any) error {
	return s.write(ctx, coll, id, fields, true)
}

func (s *MongoStore) Update(ctx context.Context, coll, id string, fields map[string]any) error {
	return s.write(ctx, coll, id, fields, false)
}

func (s *MongoStore) write(ctx context.Context, coll, id string, fields map[string]any, upsert bool) error {
	nf, err := normalizeFields(fields)
	if err != nil {
		return errs.ErrArgs.WrapMsg(err.Error())
	}
	update := buildUpdate(nf)
	if len(update) == 0 {
		return nil
	}
	c, err := s.coll(coll)
	if err != nil {
		return err
	}
	res, err := c.UpdateOne(ctx, bson.M{"_id": id}, update, options.Update().SetUpsert(upsert))
	if err != nil {
		return mapErr(err, coll, id)
	}
	if !upsert && res.MatchedCount == 0 {
		return errs.ErrNotFound.WrapMsg("document not found", "coll", coll, "id", id)
	}
	s.publish(ctx, coll, id)
	return nil
}

// publish failures are logged only: the write is committed, and watchers
// catch up on the next notification.
func (s *MongoStore) publish(ctx context.Context, coll, id string) {
	if s.feed == nil {
		return
	}
	if err := s.feed.Publish(ctx, FeedBiz, feedKey(coll, id), []byte(id), nil); err != nil {
		s.log.Warn("change feed publish failed", zap.String("coll", coll), zap.String("id", id), zap.Error(err))
	}
}

func (s *MongoStore) Query(ctx context.Context, coll string, filters ...Filter) ([]Snapshot, error) {
	nf, err := normalizeFilters(filters)
	if err != nil {
		return nil, errs.ErrArgs.WrapMsg(err.Error())
	}
	c, err := s.coll(coll)
	if err != nil {
		return nil, err
	}
	cur, err := c.Find(ctx, buildFilter(nf))
	if err != nil {
		return nil, mapErr(err, coll, "")
	}
	var raws []bson.M
	if err := cur.All(ctx, &raws); err != nil {
		return nil, mapErr(err, coll, "")
	}
	out := make([]Snapshot, 0, len(raws))
	for _, raw := range raws {
		out = append(out, docToSnapshot(raw))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MongoStore) WatchDoc(ctx context.Context, coll, id string, fn func(Snapshot)) (Cancel, error) {
	return s.watch(ctx, feedKey(coll, id), func(rctx context.Context) {
		snap, err := s.Get(rctx, coll, id)
		if err != nil {
			s.log.Warn("watch reload failed", zap.String("coll", coll), zap.String("id", id), zap.Error(err))
			return
		}
		fn(snap)
	})
}

func (s *MongoStore) WatchQuery(ctx context.Context, coll string, filters []Filter, fn func([]Snapshot)) (Cancel, error) {
	return s.watch(ctx, feedPattern(coll), func(rctx context.Context) {
		res, err := s.Query(rctx, coll, filters...)
		if err != nil {
			s.log.Warn("watch query reload failed", zap.String("coll", coll), zap.Error(err))
			return
		}
		fn(res)
	})
}

// watch subscribes to the feed and funnels the initial load plus every
// notification through one mailbox.
func (s *MongoStore) watch(ctx context.Context, key string, reload func(context.Context)) (Cancel, error) {
	if s.feed == nil {
		return nil, errs.ErrRemoteUnavailable.WrapMsg("change feed not configured")
	}
	mb := safe.NewMailbox(s.log, "docstore.watch")
	wctx, stop := context.WithCancel(context.WithoutCancel(ctx))
	job := func() { reload(wctx) }

	unsub, err := s.feed.Subscribe(FeedBiz, key, func(context.Context, natsx.NatsxMessage) error {
		mb.Push(job)
		return nil
	})
	if err != nil {
		stop()
		mb.Close()
		return nil, errs.ErrRemoteUnavailable.WrapMsg(err.Error(), "key", key)
	}
	mb.Push(job)

	return func() {
		stop()
		mb.Close()
		if err := unsub(); err != nil {
			s.log.Debug("unsubscribe failed", zap.String("key", key), zap.Error(err))
		}
	}, nil
}
