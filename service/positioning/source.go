package positioning

import (
	"context"
	"sync"
	"time"

	"PTracker/module/location/model"
	"PTracker/tools/geo"
)

const (
	DefaultInterval          = time.Second
	DefaultMinDistanceMeters = 5.0
)

// Options is how often a watcher wants fixes.
type Options struct {
	Interval          time.Duration
	MinDistanceMeters float64
}

func (o Options) withDefaults() Options {
	if o.Interval <= 0 {
		o.Interval = DefaultInterval
	}
	if o.MinDistanceMeters <= 0 {
		o.MinDistanceMeters = DefaultMinDistanceMeters
	}
	return o
}

// Source is an externally driven stream of fixes. Watch fails with
// errs.ErrPermissionDenied when positioning is not allowed.
type Source interface {
	Watch(ctx context.Context, opts Options, fn func(model.LocationSample)) (cancel func(), err error)
}

// Throttle drops a sample that is both sooner than the interval and closer
// than the distance threshold to the last accepted one.
type Throttle struct {
	opts Options

	mu   sync.Mutex
	last *model.LocationSample
	at   time.Time
}

func NewThrottle(opts Options) *Throttle {
	return &Throttle{opts: opts.withDefaults()}
}

func (t *Throttle) Accept(s model.LocationSample) bool {
	ts, err := s.Time()
	if err != nil {
		return false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.last != nil {
		soon := ts.Sub(t.at) < t.opts.Interval
		km := geo.Distance(t.last.Latitude, t.last.Longitude, s.Latitude, s.Longitude)
		near := km*1000 < t.opts.MinDistanceMeters
		if soon && near {
			return false
		}
	}
	t.last = &s
	t.at = ts
	return true
}
