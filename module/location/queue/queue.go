package queue

import (
	"context"
	"sync"
	"time"

	"PTracker/module/location/cache"
	"PTracker/module/location/model"
	"PTracker/tools/decode"
	"PTracker/tools/errs"
	"PTracker/tools/ids"

	"go.uber.org/zap"
)

// state is what gets persisted under the pending_queue key.
type state struct {
	NextSeq uint64                   `json:"nextSeq"`
	Ops     []model.PendingOperation `json:"ops"`
}

// Batch is a drained snapshot. Clear removes only what the batch captured.
type Batch struct {
	Ops       []model.PendingOperation
	HighWater uint64
}

func (b Batch) Empty() bool { return len(b.Ops) == 0 }

// Queue is the durable FIFO of write intents. Every method persists before
// returning and all of them are serialized by one mutex.
type Queue struct {
	store *cache.Store
	log   *zap.Logger
	now   func() time.Time

	mu sync.Mutex
}

func New(store *cache.Store, log *zap.Logger) *Queue {
	if log == nil {
		log = zap.NewNop()
	}
	return &Queue{store: store, log: log, now: time.Now}
}

func (q *Queue) load(ctx context.Context) (state, error) {
	var st state
	if _, err := q.store.Lookup(ctx, cache.KeyPendingQueue, &st); err != nil {
		return state{}, err
	}
	return st, nil
}

// Enqueue appends an operation. payload is a struct or map; it is stored in
// its generic map form.
func (q *Queue) Enqueue(ctx context.Context, kind model.Kind, payload any) (model.PendingOperation, error) {
	m, err := decode.ToMap(payload)
	if err != nil {
		return model.PendingOperation{}, errs.ErrArgs.WrapMsg(err.Error(), "kind", kind)
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	st, err := q.load(ctx)
	if err != nil {
		q.log.Error("queue load failed, enqueue dropped", zap.String("kind", string(kind)), zap.Error(err))
		return model.PendingOperation{}, err
	}
	st.NextSeq++
	op := model.PendingOperation{
		ID:         ids.GenerateString(),
		Kind:       kind,
		Payload:    m,
		EnqueuedAt: st.NextSeq,
	}
	st.Ops = append(st.Ops, op)
	if err := q.store.Put(ctx, cache.KeyPendingQueue, st); err != nil {
		return model.PendingOperation{}, err
	}
	q.log.Debug("enqueued", zap.String("id", op.ID), zap.String("kind", string(kind)), zap.Uint64("seq", op.EnqueuedAt))
	return op, nil
}

// DrainAll returns every queued operation in enqueue order without removing any.
func (q *Queue) DrainAll(ctx context.Context) (Batch, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	st, err := q.load(ctx)
	if err != nil {
		return Batch{}, err
	}
	b := Batch{Ops: st.Ops}
	for _, op := range st.Ops {
		if op.EnqueuedAt > b.HighWater {
			b.HighWater = op.EnqueuedAt
		}
	}
	return b, nil
}

// Clear drops the operations captured by b. Anything enqueued after the drain
// stays queued.
func (q *Queue) Clear(ctx context.Context, b Batch) error {
	if b.Empty() {
		return nil
	}
	q.mu.Lock()
	defer q.mu.Unlock()

	st, err := q.load(ctx)
	if err != nil {
		return err
	}
	kept := st.Ops[:0]
	for _, op := range st.Ops {
		if op.EnqueuedAt > b.HighWater {
			kept = append(kept, op)
		}
	}
	st.Ops = kept
	return q.store.Put(ctx, cache.KeyPendingQueue, st)
}

// Len is best effort: a read failure reports 0.
func (q *Queue) Len(ctx context.Context) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	st, err := q.load(ctx)
	if err != nil {
		return 0
	}
	return len(st.Ops)
}
