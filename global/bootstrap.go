package global

import (
	"context"
	"sync"
	"time"

	"PTracker/global/config"
	"PTracker/logger"
	"PTracker/middleware"
	midsec "PTracker/middleware/security"
	"PTracker/module/location"
	"PTracker/module/location/cache"
	"PTracker/module/location/connectivity"
	"PTracker/module/location/engine"
	"PTracker/module/location/gateway"
	"PTracker/module/location/model"
	"PTracker/module/location/queue"
	"PTracker/module/location/reconcile"
	"PTracker/service/docstore"
	"PTracker/service/events"
	"PTracker/service/kafka"
	mgoSrv "PTracker/service/mgo"
	"PTracker/service/natsx"
	"PTracker/service/positioning"
	"PTracker/service/storage"
	"PTracker/service/storage/redis"
	"PTracker/tools/errs"
	"PTracker/tools/ids"
	"PTracker/tools/safe"

	"github.com/Shopify/sarama"
	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// identity is what the engine and the HTTP layer need from the signed-in user.
type identity interface {
	CurrentUserID() (string, bool)
}

// App owns every long-lived component of one running agent.
type App struct {
	cfg *config.Config
	log *zap.Logger

	Identity identity
	auth     *midsec.Options
	KV       storage.KV
	rdb      *goredis.Client
	Store    docstore.Store
	Monitor  *connectivity.Monitor
	Cache    *cache.Store
	Queue    *queue.Queue
	Gateway  *gateway.Gateway
	Loop     *reconcile.Loop
	Source   positioning.Source
	sink     location.PositionSink
	Engine   *engine.Engine
	Hub      *events.Hub
	Router   *gin.Engine

	mu       sync.Mutex
	starters []func(ctx context.Context)
	closers  []func()
	closed   bool
}

func (a *App) onStart(fn func(ctx context.Context)) {
	a.mu.Lock()
	a.starters = append(a.starters, fn)
	a.mu.Unlock()
}

func (a *App) onClose(fn func()) {
	a.mu.Lock()
	a.closers = append(a.closers, fn)
	a.mu.Unlock()
}

// Bootstrap builds the whole object graph from cfg. Background loops that
// need ctx (mongo connect, probing) are started by Run.
func Bootstrap(ctx context.Context, cfg *config.Config) (*App, error) {
	a := &App{cfg: cfg, log: logger.Named("bootstrap")}
	ids.SetNodeID(cfg.NodeID)

	steps := []struct {
		name string
		fn   func(ctx context.Context) error
	}{
		{"identity", a.configIdentity},
		{"storage", a.configStorage},
		{"remote", a.configRemote},
		{"sync", a.configSync},
		{"positioning", a.configPositioning},
		{"engine", a.configEngine},
		{"http", a.configHTTP},
	}
	for _, s := range steps {
		if err := s.fn(ctx); err != nil {
			a.Close()
			return nil, errs.WrapMsg(err, "bootstrap", "step", s.name)
		}
		a.log.Debug("configured", zap.String("step", s.name))
	}
	return a, nil
}

func (a *App) configIdentity(context.Context) error {
	switch a.cfg.Identity.Mode {
	case "jwt":
		id := location.NewTokenIdentity(a.cfg.Identity.SecurityOptions())
		if err := id.SignIn(a.cfg.Identity.Token); err != nil {
			return err
		}
		a.Identity = id
		a.auth = midsec.DefaultOptions(id.Verify, id.CurrentUserID)
	default:
		a.Identity = location.StaticIdentity(a.cfg.Identity.UserID)
	}
	return nil
}

func (a *App) configStorage(ctx context.Context) error {
	switch a.cfg.Storage.Backend {
	case "redis":
		rdb, err := redis.NewClient(ctx, a.cfg.Redis.Client())
		if err != nil {
			return errs.ErrRemoteUnavailable.WrapMsg(err.Error(), "redis", a.cfg.Redis.Addr)
		}
		a.onClose(func() { _ = rdb.Close() })
		a.rdb = rdb
		a.KV = storage.NewRedisKV(rdb, a.cfg.Storage.Prefix)
	case "postgres":
		pool, err := pgxpool.New(ctx, a.cfg.Postgres.DSN)
		if err != nil {
			return errs.WrapMsg(err, "postgres pool")
		}
		a.onClose(pool.Close)
		kv := storage.NewPgKV(pool)
		if err := kv.EnsureSchema(ctx); err != nil {
			return err
		}
		a.KV = kv
	default:
		a.KV = storage.NewMemKV()
	}
	return nil
}

// configRemote builds the document store and the connectivity monitor, whose
// reachability probes depend on the store's backends.
func (a *App) configRemote(context.Context) error {
	var reach []connectivity.Prober
	if len(a.cfg.Connectivity.DialTargets) > 0 {
		reach = append(reach, connectivity.NewDialProber(a.cfg.Connectivity.DialTargets, a.cfg.Connectivity.DialTimeout))
	}

	switch a.cfg.Remote.Backend {
	case "mongo":
		// the feed publisher retries with one message id; drop the repeats
		nm, err := natsx.NewNatsManager(a.cfg.Nats.Client(), logger.Named("natsx"),
			natsx.NatsxIdemMiddleware(a.idemStore(), time.Minute))
		if err != nil {
			return errs.ErrRemoteUnavailable.WrapMsg(err.Error(), "nats", a.cfg.Nats.Servers)
		}
		a.onClose(func() { _ = nm.Close() })
		if err := nm.RegisterRoute(natsx.NatsxRoute{
			Biz:     docstore.FeedBiz,
			Subject: a.cfg.Nats.FeedSubject,
			Mode:    natsx.Core,
		}); err != nil {
			return err
		}

		mgr := mgoSrv.NewMongoManager(a.cfg.Mongo.Util(), logger.Named("mongo"))
		a.onStart(mgr.StartAsync)
		a.Store = docstore.NewMongoStore(mgr, nm, logger.Named("docstore"))
		reach = append(reach,
			connectivity.StateProber("mongo", mgr.Connected),
			connectivity.StateProber("nats", nm.IsConnected),
		)
	default:
		a.Store = docstore.NewMemStore(logger.Named("docstore"))
	}

	a.Monitor = connectivity.NewMonitor(logger.Named("connectivity"), connectivity.NewLinkProber(), reach...)
	a.onStart(func(ctx context.Context) {
		safe.Go(a.log, "connectivity.run", func() { a.Monitor.Run(ctx, a.cfg.Connectivity.Interval) })
	})
	return nil
}

func (a *App) idemStore() natsx.IdemStore {
	if a.rdb != nil {
		return natsx.NewRedisIdem(a.rdb, a.cfg.Storage.Prefix+"feed:", time.Minute)
	}
	ctx, cancel := context.WithCancel(context.Background())
	a.onClose(cancel)
	return natsx.NewMemIdem(ctx, time.Minute)
}

func (a *App) configSync(context.Context) error {
	a.Cache = cache.New(a.KV, a.Identity, logger.Named("cache"))
	a.Queue = queue.New(a.Cache, logger.Named("queue"))
	a.Gateway = gateway.New(a.Store, a.Monitor, logger.Named("gateway"),
		gateway.WithRetryPolicy(gateway.RetryPolicy{
			Attempts:  a.cfg.Sync.Attempts,
			BaseDelay: a.cfg.Sync.BaseDelay,
			MaxDelay:  a.cfg.Sync.MaxDelay,
		}))
	a.Loop = reconcile.New(a.Queue, a.Monitor, logger.Named("reconcile"),
		reconcile.WithRunTimeout(a.cfg.Sync.RunTimeout),
		reconcile.WithRunObserver(func(applied int, err error) {
			if err != nil {
				logger.Warn("replay stopped", zap.Int("applied", applied), zap.Error(err))
			}
		}))
	a.Loop.RegisterDefaults(a.Gateway)
	return nil
}

func (a *App) configPositioning(context.Context) error {
	pc := a.cfg.Positioning
	if pc.Source != "kafka" || !pc.Enabled {
		feed := positioning.NewFeedSource(pc.Enabled, logger.Named("positioning"))
		a.Source = feed
		a.sink = func(_ string, s model.LocationSample) error { return feed.Push(s) }
		return nil
	}

	kc := a.cfg.Kafka.Client()
	cli, err := kafka.NewClient(kc)
	if err != nil {
		return errs.ErrRemoteUnavailable.WrapMsg(err.Error(), "kafka", kc.Brokers)
	}
	a.onClose(func() { _ = cli.Close() })

	if kc.AutoCreateTopic {
		admin, err := sarama.NewClusterAdminFromClient(cli)
		if err != nil {
			return errs.WrapMsg(err, "kafka admin")
		}
		// closing the admin would close the shared client
		if err := kafka.EnsureTopic(admin, kc, logger.Named("kafka")); err != nil {
			return err
		}
	}

	consumer, err := sarama.NewConsumerFromClient(cli)
	if err != nil {
		return errs.WrapMsg(err, "kafka consumer")
	}
	a.onClose(func() { _ = consumer.Close() })
	reader := kafka.NewReader(consumer, kc.Topic, kafka.InitialOffset(kc.InitialOffset), logger.Named("kafka"))
	a.Source = positioning.NewKafkaSource(reader, a.Identity.CurrentUserID, logger.Named("positioning"))

	producer, err := kafka.NewProducerFromClient(cli, kc.Topic, logger.Named("kafka"))
	if err != nil {
		return err
	}
	a.onClose(func() { _ = producer.Close() })
	a.sink = positioning.NewPublisher(producer).Publish
	return nil
}

func (a *App) configEngine(context.Context) error {
	a.Hub = events.NewHub(events.HubConf{SendQueue: a.cfg.HTTP.EventBuffer}, logger.Named("events"),
		events.WithGreeting(func() (string, any) { return events.TypeState, a.Engine.GetLastKnownState() }))
	a.Engine = engine.New(engine.Deps{
		Identity:    a.Identity,
		Cache:       a.Cache,
		Queue:       a.Queue,
		Gateway:     a.Gateway,
		Monitor:     a.Monitor,
		Loop:        a.Loop,
		Source:      a.Source,
		Positioning: a.cfg.Positioning.Options(),
	}, location.EventCallbacks(a.Hub), logger.Named("engine"))
	return nil
}

func (a *App) configHTTP(context.Context) error {
	r := gin.New()
	r.Use(gin.Recovery(), middleware.AccessLog(logger.Named("http")))

	mids := middleware.NewManager()
	mids.Add("origin", middleware.Origin(a.cfg.HTTP.AllowedOrigins))
	r.Use(mids.Use())

	h := location.NewHandler(a.Engine, a.Hub, a.sink, a.Identity.CurrentUserID)
	h.Register(middleware.Router{R: r, Auth: a.auth})
	a.Router = r
	return nil
}
