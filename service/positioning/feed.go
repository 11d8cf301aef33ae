package positioning

import (
	"context"
	"sync"

	"PTracker/module/location/model"
	"PTracker/tools/errs"
	"PTracker/tools/safe"

	"go.uber.org/zap"
)

type feedWatcher struct {
	t  *Throttle
	fn func(model.LocationSample)
	mb *safe.Mailbox
}

// FeedSource takes samples pushed in-process (or through POST /positions)
// and fans them out to watchers.
type FeedSource struct {
	log *zap.Logger

	mu       sync.Mutex
	granted  bool
	watchers map[uint64]*feedWatcher
	nextID   uint64
}

func NewFeedSource(granted bool, log *zap.Logger) *FeedSource {
	if log == nil {
		log = zap.NewNop()
	}
	return &FeedSource{log: log, granted: granted, watchers: make(map[uint64]*feedWatcher)}
}

// SetPermission revokes or grants positioning. Revoking drops current watchers.
func (f *FeedSource) SetPermission(granted bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.granted = granted
	if granted {
		return
	}
	for id, w := range f.watchers {
		w.mb.Close()
		delete(f.watchers, id)
	}
}

func (f *FeedSource) Watch(ctx context.Context, opts Options, fn func(model.LocationSample)) (func(), error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.granted {
		return nil, errs.ErrPermissionDenied.WrapMsg("positioning not permitted")
	}
	f.nextID++
	id := f.nextID
	w := &feedWatcher{t: NewThrottle(opts), fn: fn, mb: safe.NewMailbox(f.log, "positioning.feed")}
	f.watchers[id] = w

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			w.mb.Close()
			f.mu.Lock()
			delete(f.watchers, id)
			f.mu.Unlock()
		})
	}
	if done := ctx.Done(); done != nil {
		go func() {
			select {
			case <-done:
				cancel()
			case <-w.mb.Done():
			}
		}()
	}
	return cancel, nil
}

// Push validates s and delivers it to every watcher whose throttle accepts it.
func (f *FeedSource) Push(s model.LocationSample) error {
	if err := s.Validate(); err != nil {
		return errs.ErrArgs.WrapMsg(err.Error())
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.granted {
		return errs.ErrPermissionDenied.WrapMsg("positioning not permitted")
	}
	for _, w := range f.watchers {
		if !w.t.Accept(s) {
			continue
		}
		fn := w.fn
		w.mb.Push(func() { fn(s) })
	}
	return nil
}
