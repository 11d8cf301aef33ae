package docstore

import (
	"context"
	"sort"
	"sync"

	"PTracker/tools/errs"
	"PTracker/tools/safe"

	"go.uber.org/zap"
)

type docWatch struct {
	coll, id string
	fn       func(Snapshot)
	mb       *safe.Mailbox
}

type queryWatch struct {
	coll    string
	filters []Filter
	fn      func([]Snapshot)
	mb      *safe.Mailbox
}

// MemStore is an in-process Store. Each subscription has its own ordered
// mailbox, so a slow callback never blocks writers or other subscriptions.
type MemStore struct {
	log *zap.Logger

	mu      sync.Mutex
	colls   map[string]map[string]map[string]any
	docW    map[uint64]*docWatch
	queryW  map[uint64]*queryWatch
	nextID  uint64
	offline bool
	writes  int
}

func NewMemStore(log *zap.Logger) *MemStore {
	if log == nil {
		log = zap.NewNop()
	}
	return &MemStore{
		log:    log,
		colls:  make(map[string]map[string]map[string]any),
		docW:   make(map[uint64]*docWatch),
		queryW: make(map[uint64]*queryWatch),
	}
}

// SetOffline makes every call fail with ErrRemoteUnavailable, simulating an
// unreachable backend.
func (s *MemStore) SetOffline(offline bool) {
	s.mu.Lock()
	s.offline = offline
	s.mu.Unlock()
}

// Writes counts committed SetMerge/Update calls.
func (s *MemStore) Writes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writes
}

func (s *MemStore) unavailable() error {
	return errs.ErrRemoteUnavailable.WrapMsg("memory store offline")
}

func (s *MemStore) snapshot(coll, id string) Snapshot {
	doc, ok := s.colls[coll][id]
	if !ok {
		return Snapshot{ID: id}
	}
	return Snapshot{ID: id, Exists: true, Data: copyDoc(doc)}
}

func (s *MemStore) Get(_ context.Context, coll, id string) (Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.offline {
		return Snapshot{}, s.unavailable()
	}
	return s.snapshot(coll, id), nil
}

func (s *MemStore) SetMerge(ctx context.Context, coll, id string, fields map[string]any) error {
	return s.write(coll, id, fields, true)
}

func (s *MemStore) Update(ctx context.Context, coll, id string, fields map[string]any) error {
	return s.write(coll, id, fields, false)
}

func (s *MemStore) write(coll, id string, fields map[string]any, upsert bool) error {
	nf, err := normalizeFields(fields)
	if err != nil {
		return errs.ErrArgs.WrapMsg(err.Error())
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.offline {
		return s.unavailable()
	}
	docs, ok := s.colls[coll]
	if !ok {
		docs = make(map[string]map[string]any)
		s.colls[coll] = docs
	}
	doc, ok := docs[id]
	if !ok {
		if !upsert {
			return errs.ErrNotFound.WrapMsg("document not found", "coll", coll, "id", id)
		}
		doc = make(map[string]any)
		docs[id] = doc
	}
	applyFields(doc, nf)
	s.writes++
	s.notify(coll, id)
	return nil
}

// Delete removes a document; watchers see Exists=false.
func (s *MemStore) Delete(_ context.Context, coll, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.offline {
		return s.unavailable()
	}
	if _, ok := s.colls[coll][id]; !ok {
		return nil
	}
	delete(s.colls[coll], id)
	s.notify(coll, id)
	return nil
}

// notify must be called with s.mu held so pushes follow commit order.
func (s *MemStore) notify(coll, id string) {
	for _, w := range s.docW {
		if w.coll == coll && w.id == id {
			snap := s.snapshot(coll, id)
			fn := w.fn
			w.mb.Push(func() { fn(snap) })
		}
	}
	for _, w := range s.queryW {
		if w.coll == coll {
			res := s.query(coll, w.filters)
			fn := w.fn
			w.mb.Push(func() { fn(res) })
		}
	}
}

func (s *MemStore) query(coll string, filters []Filter) []Snapshot {
	var out []Snapshot
	for id, doc := range s.colls[coll] {
		if Matches(doc, filters) {
			out = append(out, Snapshot{ID: id, Exists: true, Data: copyDoc(doc)})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *MemStore) Query(_ context.Context, coll string, filters ...Filter) ([]Snapshot, error) {
	nf, err := normalizeFilters(filters)
	if err != nil {
		return nil, errs.ErrArgs.WrapMsg(err.Error())
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.offline {
		return nil, s.unavailable()
	}
	return s.query(coll, nf), nil
}

func (s *MemStore) WatchDoc(_ context.Context, coll, id string, fn func(Snapshot)) (Cancel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.offline {
		return nil, s.unavailable()
	}
	s.nextID++
	key := s.nextID
	w := &docWatch{coll: coll, id: id, fn: fn, mb: safe.NewMailbox(s.log, "docstore.watch")}
	s.docW[key] = w

	snap := s.snapshot(coll, id)
	w.mb.Push(func() { fn(snap) })

	return s.cancel(key, w.mb), nil
}

func (s *MemStore) WatchQuery(_ context.Context, coll string, filters []Filter, fn func([]Snapshot)) (Cancel, error) {
	nf, err := normalizeFilters(filters)
	if err != nil {
		return nil, errs.ErrArgs.WrapMsg(err.Error())
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.offline {
		return nil, s.unavailable()
	}
	s.nextID++
	key := s.nextID
	w := &queryWatch{coll: coll, filters: nf, fn: fn, mb: safe.NewMailbox(s.log, "docstore.watch")}
	s.queryW[key] = w

	res := s.query(coll, nf)
	w.mb.Push(func() { fn(res) })

	return s.cancel(key, w.mb), nil
}

func (s *MemStore) cancel(key uint64, mb *safe.Mailbox) Cancel {
	return func() {
		mb.Close()
		s.mu.Lock()
		delete(s.docW, key)
		delete(s.queryW, key)
		s.mu.Unlock()
	}
}

// Watchers reports live subscriptions, for tests.
func (s *MemStore) Watchers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.docW) + len(s.queryW)
}

func normalizeFilters(filters []Filter) ([]Filter, error) {
	out := make([]Filter, len(filters))
	for i, f := range filters {
		v, err := normalize(f.Value)
		if err != nil {
			return nil, err
		}
		out[i] = Filter{Field: f.Field, Value: v}
	}
	return out, nil
}
