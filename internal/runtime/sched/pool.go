package sched

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// PoolConfig carries the knobs the pool needs at construction.
type PoolConfig struct {
	// Threads is the number of scheduler threads (and cores). Minimum 1.
	Threads int
	// Fair enables the token-driven fairness stealing.
	Fair bool
	// DetectLeaks records, rather than frees, cowns that still carry weak
	// references at teardown.
	DetectLeaks bool
	// QuiescenceTimeout bounds how long an idle thread spins between steal
	// probes before parking. Zero selects the default.
	QuiescenceTimeout time.Duration
}

// defaultQuiescence approximates the original's cycle-counted spin window.
const defaultQuiescence = time.Millisecond

// Pool owns the scheduler threads and their cores and implements the host
// contract the threads program against: parking, the LD vote, inflight
// message accounting and the teardown barrier.
type Pool struct {
	mu      sync.Mutex
	cond    *sync.Cond
	threads []*SchedulerThread
	cores   []*Core

	fair        atomic.Bool
	detectLeaks atomic.Bool
	inflight    atomic.Int64
	leaked      atomic.Uint64
	extSources  atomic.Int64

	coordinator *ldCoordinator
	ldRequested atomic.Bool
	quiescence  time.Duration

	// Parking state, guarded by mu.
	sleepers int
	wakeGen  uint64
	stopped  bool

	// Teardown barrier, guarded by mu.
	barrierArrived int
	barrierGen     uint64

	done sync.WaitGroup

	// rr picks a core for external scheduling when the caller is not a
	// scheduler thread.
	rr atomic.Uint64

	local sync.Map // goroutine id -> *SchedulerThread
}

// NewPool builds a stopped pool: cores wired into a ring, one scheduler
// thread per core.
func NewPool(cfg PoolConfig) (*Pool, error) {
	if cfg.Threads < 1 {
		return nil, fmt.Errorf("sched: pool needs at least one thread, got %d", cfg.Threads)
	}
	p := &Pool{
		coordinator: newLDCoordinator(cfg.Threads),
		quiescence:  cfg.QuiescenceTimeout,
	}
	if p.quiescence <= 0 {
		p.quiescence = defaultQuiescence
	}
	p.cond = sync.NewCond(&p.mu)
	p.fair.Store(cfg.Fair)
	p.detectLeaks.Store(cfg.DetectLeaks)

	p.cores = make([]*Core, cfg.Threads)
	for i := range p.cores {
		p.cores[i] = newCore(i)
	}
	for i := range p.cores {
		p.cores[i].next = p.cores[(i+1)%len(p.cores)]
	}

	p.threads = make([]*SchedulerThread, cfg.Threads)
	for i := range p.threads {
		t := newSchedulerThread(p, uint64(i))
		t.setCore(p.cores[i])
		p.threads[i] = t
	}
	return p, nil
}

// Start launches every scheduler thread. The startup callback runs on each
// thread before its loop begins, for embedders initialising thread-local
// state.
func (p *Pool) Start(startup func(*SchedulerThread)) {
	for _, t := range p.threads {
		p.done.Add(1)
		go func(t *SchedulerThread) {
			defer p.done.Done()
			t.run(startup)
		}(t)
	}
}

// Stop orders every thread to finish. Threads drain outstanding work before
// exiting; Wait blocks until teardown completes.
func (p *Pool) Stop() {
	p.mu.Lock()
	p.stopped = true
	for _, t := range p.threads {
		t.stop()
	}
	p.cond.Broadcast()
	p.mu.Unlock()
}

// Wait blocks until all scheduler threads have torn down.
func (p *Pool) Wait() {
	p.done.Wait()
}

// Run is Start + block until the pool quiesces and tears down.
func (p *Pool) Run(startup func(*SchedulerThread)) {
	p.Start(startup)
	p.Wait()
}

// Fair reports whether fairness stealing is on.
func (p *Pool) Fair() bool { return p.fair.Load() }

// SetFair toggles fairness stealing at runtime.
func (p *Pool) SetFair(v bool) { p.fair.Store(v) }

// DetectLeaks reports whether teardown records leaks instead of freeing.
func (p *Pool) DetectLeaks() bool { return p.detectLeaks.Load() }

// SetDetectLeaks toggles leak recording at runtime.
func (p *Pool) SetDetectLeaks(v bool) { p.detectLeaks.Store(v) }

// LeakedCowns returns the number of cowns recorded as leaked at teardown.
func (p *Pool) LeakedCowns() uint64 { return p.leaked.Load() }

// Cores exposes the core ring for diagnostics and external LIFO producers.
func (p *Pool) Cores() []*Core { return p.cores }

// RequestLD asks the pool to begin a leak-detection cycle. The next
// protocol step on any thread volunteers it into WantLD.
func (p *Pool) RequestLD() {
	p.ldRequested.Store(true)
	p.Unpause()
}

// ShouldScan reports whether the LD protocol is in a phase where epoch
// marks on scheduled cowns matter.
func (p *Pool) ShouldScan() bool {
	return p.coordinator.scanRequested()
}

// MessageSent records an in-flight message.
func (p *Pool) MessageSent() { p.inflight.Add(1) }

// MessageReceived retires an in-flight message.
func (p *Pool) MessageReceived() {
	n := p.inflight.Add(-1)
	assertf(n >= 0, "inflight message count went negative")
}

// NoInflightMessages reports that no message is in transit anywhere.
func (p *Pool) NoInflightMessages() bool {
	return p.inflight.Load() == 0
}

// Local returns the scheduler thread running on the calling goroutine, or
// nil when called from outside the pool.
func (p *Pool) Local() *SchedulerThread {
	if v, ok := p.local.Load(goid()); ok {
		return v.(*SchedulerThread)
	}
	return nil
}

func (p *Pool) setLocal(t *SchedulerThread) {
	if t == nil {
		p.local.Delete(goid())
		return
	}
	p.local.Store(goid(), t)
}

// Schedule hands a cown to the pool: FIFO on the calling scheduler thread's
// core; for external callers, on the cown's owning core, or round-robin
// across cores when the cown is not yet bound. Counts as an
// in-flight message until a scheduler thread picks the cown up.
func (p *Pool) Schedule(c *Cown) {
	assertf(!c.token, "token cown cannot be scheduled externally")
	if !c.wake() {
		// Already queued or running; its mailbox will absorb the work.
		return
	}
	c.pendingMsg.Store(true)
	p.MessageSent()
	if t := p.Local(); t != nil {
		t.scheduleFifo(c)
		return
	}
	core := c.OwningCore()
	if core == nil {
		core = p.cores[p.rr.Add(1)%uint64(len(p.cores))]
	}
	core.q.Enqueue(c)
	if p.Unpause() {
		core.stats.Unpause()
	}
}

// ScheduleLIFO front-enqueues a cown on a specific core. External sources
// such as asynchronous I/O call this from arbitrary goroutines.
func ScheduleLIFO(p *Pool, core *Core, c *Cown) {
	assertf(!c.token, "token cown cannot be scheduled externally")
	if !c.wake() {
		return
	}
	c.pendingMsg.Store(true)
	p.MessageSent()
	core.q.EnqueueFront(c)
	core.stats.Lifo()
	logger.Debug().Int("core", core.affinity).Msg("lifo scheduled cown")
	if p.Unpause() {
		core.stats.Unpause()
	}
}

// nextState forwards a thread's protocol vote to the coordinator.
func (p *Pool) nextState(tid int, cur State) State {
	return p.coordinator.Next(tid, cur)
}

// wantsLD consumes a pending LD request.
func (p *Pool) wantsLD() bool {
	return p.ldRequested.CompareAndSwap(true, false)
}

// Pause parks the calling scheduler thread until some producer wakes it.
// Returns false when the pool has ordered shutdown instead; the caller will
// observe running == false and exit its steal loop.
//
// The last thread to park while nothing is in flight and every queue is
// stale initiates shutdown itself: at that point no producer inside the
// pool can ever wake anyone again.
func (p *Pool) Pause() bool {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return false
	}
	p.sleepers++
	if p.sleepers == len(p.threads) && p.quiescedLocked() {
		p.sleepers--
		p.stopped = true
		for _, t := range p.threads {
			t.stop()
		}
		p.cond.Broadcast()
		p.mu.Unlock()
		return false
	}
	gen := p.wakeGen
	for gen == p.wakeGen && !p.stopped {
		p.cond.Wait()
	}
	p.sleepers--
	stopped := p.stopped
	p.mu.Unlock()
	return !stopped
}

// AddExternalSource registers a producer outside the pool (an I/O poller,
// a timer wheel). While any is registered, an idle pool keeps waiting
// instead of tearing down.
func (p *Pool) AddExternalSource() { p.extSources.Add(1) }

// RemoveExternalSource deregisters an external producer.
func (p *Pool) RemoveExternalSource() {
	n := p.extSources.Add(-1)
	assertf(n >= 0, "external source count went negative")
	if n == 0 {
		// The pool may now be able to quiesce; give parked threads a
		// chance to notice.
		p.Unpause()
	}
}

// quiescedLocked decides whether the pool has run out of work for good.
func (p *Pool) quiescedLocked() bool {
	if p.extSources.Load() != 0 {
		return false
	}
	if !p.NoInflightMessages() {
		return false
	}
	for _, c := range p.cores {
		if !c.q.NothingOld() {
			return false
		}
	}
	return true
}

// Unpause wakes parked threads. Returns true iff somebody was actually
// sleeping.
func (p *Pool) Unpause() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.sleepers == 0 {
		return false
	}
	p.wakeGen++
	p.cond.Broadcast()
	return true
}

// EnterBarrier is the teardown rendezvous: every thread blocks until all of
// them have arrived.
func (p *Pool) EnterBarrier() {
	p.mu.Lock()
	gen := p.barrierGen
	p.barrierArrived++
	if p.barrierArrived == len(p.threads) {
		p.barrierArrived = 0
		p.barrierGen++
		p.cond.Broadcast()
		p.mu.Unlock()
		return
	}
	for gen == p.barrierGen {
		p.cond.Wait()
	}
	p.mu.Unlock()
}

// recordLeak counts a cown intentionally left unfreed at teardown.
func (p *Pool) recordLeak() {
	p.leaked.Add(1)
}
