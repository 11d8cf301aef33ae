package reconcile

import (
	"context"
	"errors"
	"sync"
	"time"

	"PTracker/module/location/connectivity"
	"PTracker/module/location/gateway"
	"PTracker/module/location/model"
	"PTracker/module/location/queue"
	"PTracker/tools/errs"
	"PTracker/tools/safe"

	"go.uber.org/zap"
)

// Applier replays one pending operation against the remote store.
type Applier func(ctx context.Context, op model.PendingOperation) error

// Notifier is the connectivity source a loop attaches to.
type Notifier interface {
	Subscribe(l connectivity.Listener) func()
}

// Loop replays the pending queue whenever connectivity returns.
type Loop struct {
	q      *queue.Queue
	online gateway.Online
	log    *zap.Logger
	// timeout bounds one run started by a transition.
	timeout time.Duration
	// done, when set, observes every run started by a transition.
	done func(applied int, err error)

	amu      sync.RWMutex
	appliers map[model.Kind]Applier

	runMu sync.Mutex
}

type Option func(*Loop)

func WithRunTimeout(d time.Duration) Option { return func(l *Loop) { l.timeout = d } }

func WithRunObserver(fn func(applied int, err error)) Option {
	return func(l *Loop) { l.done = fn }
}

func New(q *queue.Queue, online gateway.Online, log *zap.Logger, opts ...Option) *Loop {
	safe.MustNotNil(q, "reconcile queue")
	if log == nil {
		log = zap.NewNop()
	}
	l := &Loop{
		q:        q,
		online:   online,
		log:      log,
		timeout:  time.Minute,
		appliers: make(map[model.Kind]Applier),
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

func (l *Loop) Register(kind model.Kind, a Applier) {
	l.amu.Lock()
	defer l.amu.Unlock()
	l.appliers[kind] = a
}

func (l *Loop) applier(kind model.Kind) (Applier, bool) {
	l.amu.RLock()
	defer l.amu.RUnlock()
	a, ok := l.appliers[kind]
	return a, ok
}

// Attach starts a run in the background on every transition to online. The
// returned func detaches.
func (l *Loop) Attach(n Notifier) func() {
	return n.Subscribe(func(online bool) {
		if !online {
			return
		}
		safe.Go(l.log, "reconcile.run", func() {
			ctx, cancel := context.WithTimeout(context.Background(), l.timeout)
			defer cancel()
			applied, err := l.Run(ctx)
			if l.done != nil {
				l.done(applied, err)
			}
		})
	})
}

// Run drains the queue and applies it in order. A transient failure stops the
// run and leaves the whole batch queued; the batch is cleared only after every
// operation went through. Operations that can never apply (unknown kind, bad
// payload, missing document) are logged and skipped.
func (l *Loop) Run(ctx context.Context) (int, error) {
	l.runMu.Lock()
	defer l.runMu.Unlock()

	if l.online != nil && !l.online.Current() {
		return 0, nil
	}
	batch, err := l.q.DrainAll(ctx)
	if err != nil {
		l.log.Error("drain failed", zap.Error(err))
		return 0, err
	}
	if batch.Empty() {
		return 0, nil
	}

	applied := 0
	for _, op := range batch.Ops {
		a, ok := l.applier(op.Kind)
		if !ok {
			l.log.Warn("no applier for pending operation, skipped", zap.String("id", op.ID), zap.String("kind", string(op.Kind)))
			continue
		}
		if err := a(ctx, op); err != nil {
			if permanent(err) {
				l.log.Error("pending operation rejected, dropped", zap.String("id", op.ID), zap.String("kind", string(op.Kind)), zap.Error(err))
				continue
			}
			l.log.Warn("replay interrupted, batch kept",
				zap.String("id", op.ID), zap.Int("applied", applied), zap.Int("batch", len(batch.Ops)), zap.Error(err))
			return applied, errs.WrapMsg(err, "replay pending operation", "id", op.ID)
		}
		applied++
	}

	if err := l.q.Clear(ctx, batch); err != nil {
		l.log.Error("clear failed, batch will be replayed", zap.Error(err))
		return applied, err
	}
	l.log.Info("pending queue replayed", zap.Int("applied", applied), zap.Uint64("highWater", batch.HighWater))
	return applied, nil
}

func permanent(err error) bool {
	return errors.Is(err, errs.ErrArgs) || errors.Is(err, errs.ErrNotFound)
}
