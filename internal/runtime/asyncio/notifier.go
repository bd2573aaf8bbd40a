package asyncio

import (
	"sync"
	"sync/atomic"

	"github.com/orizon-lang/cownrt/internal/runtime/concurrency"
	"github.com/orizon-lang/cownrt/internal/runtime/sched"
)

// Completion names a cown made runnable by an I/O event and the core it
// should run on.
type Completion struct {
	Core *sched.Core
	Cown *sched.Cown
}

// Notifier decouples poller goroutines from the scheduler: pollers post
// completions into a lock-free ring and a single drain goroutine performs
// the LIFO scheduling. Posting never blocks; when the ring is full the
// completion is scheduled directly on the caller.
type Notifier struct {
	pool *sched.Pool
	ring *concurrency.MPMCRing[Completion]
	wake chan struct{}
	done chan struct{}

	closed  atomic.Bool
	stopped sync.WaitGroup

	// posted counts completions accepted through the ring; overflow counts
	// direct fallbacks.
	posted   atomic.Uint64
	overflow atomic.Uint64
}

// NewNotifier starts a notifier draining into the pool.
func NewNotifier(pool *sched.Pool, capacity uint64) *Notifier {
	n := &Notifier{
		pool: pool,
		ring: concurrency.NewMPMCRing[Completion](capacity),
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
	pool.AddExternalSource()
	n.stopped.Add(1)
	go n.drain()
	return n
}

// Post hands a completion to the scheduler.
func (n *Notifier) Post(c Completion) {
	if n.closed.Load() {
		return
	}
	if !n.ring.Put(c) {
		n.overflow.Add(1)
		sched.ScheduleLIFO(n.pool, c.Core, c.Cown)
		return
	}
	n.posted.Add(1)
	select {
	case n.wake <- struct{}{}:
	default:
	}
}

// Posted returns the number of completions accepted through the ring.
func (n *Notifier) Posted() uint64 { return n.posted.Load() }

// Overflows returns the number of direct-schedule fallbacks.
func (n *Notifier) Overflows() uint64 { return n.overflow.Load() }

// Close stops the drain goroutine after flushing pending completions.
func (n *Notifier) Close() {
	if !n.closed.CompareAndSwap(false, true) {
		return
	}
	close(n.done)
	n.stopped.Wait()
	n.pool.RemoveExternalSource()
}

func (n *Notifier) drain() {
	defer n.stopped.Done()
	for {
		select {
		case <-n.wake:
			n.flush()
		case <-n.done:
			n.flush()
			return
		}
	}
}

func (n *Notifier) flush() {
	var c Completion
	for n.ring.Take(&c) {
		sched.ScheduleLIFO(n.pool, c.Core, c.Cown)
	}
}
