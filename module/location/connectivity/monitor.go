package connectivity

import (
	"context"
	"sync"
	"time"

	"PTracker/tools/safe"

	"go.uber.org/zap"
)

// Listener receives connectivity transitions.
type Listener func(online bool)

// Monitor combines a link probe with reachability probes and fans transitions
// out to listeners.
type Monitor struct {
	log   *zap.Logger
	link  Prober
	reach []Prober

	mu        sync.Mutex
	observed  bool
	online    bool
	listeners map[uint64]Listener
	order     []uint64
	nextID    uint64

	// notifyMu keeps transitions delivered in the order they were observed.
	notifyMu sync.Mutex
}

// NewMonitor builds a monitor. link may be nil to skip the link-layer check.
func NewMonitor(log *zap.Logger, link Prober, reach ...Prober) *Monitor {
	if log == nil {
		log = zap.NewNop()
	}
	return &Monitor{
		log:       log,
		link:      link,
		reach:     reach,
		listeners: make(map[uint64]Listener),
	}
}

// IsOnline probes now. Link down, any reachability failure, or a probe panic
// all report offline.
func (m *Monitor) IsOnline(ctx context.Context) (online bool) {
	defer func() {
		if r := recover(); r != nil {
			m.log.Error("probe panicked", zap.Any("panic", r))
			online = false
		}
	}()
	if m.link != nil {
		if err := m.link.Probe(ctx); err != nil {
			m.log.Debug("link probe failed", zap.Error(err))
			return false
		}
	}
	for _, p := range m.reach {
		if err := p.Probe(ctx); err != nil {
			m.log.Debug("reachability probe failed", zap.Error(err))
			return false
		}
	}
	return true
}

// Current returns the last observed state without probing. Before the first
// observation it reports offline.
func (m *Monitor) Current() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.observed && m.online
}

// Subscribe registers l for every transition. The returned func unsubscribes.
func (m *Monitor) Subscribe(l Listener) func() {
	m.mu.Lock()
	m.nextID++
	id := m.nextID
	m.listeners[id] = l
	m.order = append(m.order, id)
	m.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.listeners, id)
			for i, v := range m.order {
				if v == id {
					m.order = append(m.order[:i], m.order[i+1:]...)
					break
				}
			}
			m.mu.Unlock()
		})
	}
}

// Set records an observation. Listeners run synchronously, in registration
// order, only when the state changed; the first observation always counts.
// It reports whether a transition happened.
func (m *Monitor) Set(online bool) bool {
	m.notifyMu.Lock()
	defer m.notifyMu.Unlock()

	m.mu.Lock()
	if m.observed && m.online == online {
		m.mu.Unlock()
		return false
	}
	m.observed = true
	m.online = online
	ls := make([]Listener, 0, len(m.order))
	for _, id := range m.order {
		ls = append(ls, m.listeners[id])
	}
	m.mu.Unlock()

	m.log.Info("connectivity changed", zap.Bool("online", online))
	for _, l := range ls {
		l := l
		safe.Call(m.log, "connectivity.listener", func() { l(online) })
	}
	return true
}

// Check probes once and records the result.
func (m *Monitor) Check(ctx context.Context) bool {
	online := m.IsOnline(ctx)
	m.Set(online)
	return online
}

// Run probes every interval until ctx is done, starting immediately.
func (m *Monitor) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	m.Check(ctx)
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			m.Check(ctx)
		}
	}
}
