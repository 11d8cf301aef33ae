package safe

import (
	"sync"

	"go.uber.org/zap"
)

// Mailbox runs pushed jobs one at a time in push order on its own goroutine.
// Push never blocks; after Close no further job starts. A panicking job is
// logged and the mailbox keeps going.
type Mailbox struct {
	log  *zap.Logger
	name string
	mu   sync.Mutex
	jobs []func()
	wake chan struct{}
	done chan struct{}
	once sync.Once
}

func NewMailbox(log *zap.Logger, name string) *Mailbox {
	if log == nil {
		log = zap.NewNop()
	}
	mb := &Mailbox{
		log:  log,
		name: name,
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
	go mb.loop()
	return mb
}

func (mb *Mailbox) Push(job func()) {
	mb.mu.Lock()
	select {
	case <-mb.done:
		mb.mu.Unlock()
		return
	default:
	}
	mb.jobs = append(mb.jobs, job)
	mb.mu.Unlock()

	select {
	case mb.wake <- struct{}{}:
	default:
	}
}

func (mb *Mailbox) Close() {
	mb.once.Do(func() {
		close(mb.done)
		mb.mu.Lock()
		mb.jobs = nil
		mb.mu.Unlock()
	})
}

func (mb *Mailbox) Closed() bool {
	select {
	case <-mb.done:
		return true
	default:
		return false
	}
}

func (mb *Mailbox) loop() {
	for {
		select {
		case <-mb.done:
			return
		case <-mb.wake:
		}
		for {
			mb.mu.Lock()
			if len(mb.jobs) == 0 {
				mb.mu.Unlock()
				break
			}
			job := mb.jobs[0]
			mb.jobs[0] = nil
			mb.jobs = mb.jobs[1:]
			mb.mu.Unlock()

			if mb.Closed() {
				return
			}
			Call(mb.log, mb.name, job)
		}
	}
}

// Done is closed by Close.
func (mb *Mailbox) Done() <-chan struct{} { return mb.done }
