package sched

import (
	"sync/atomic"
	"unsafe"
)

// Runner executes one pending behaviour of a cown. The return value is the
// reschedule decision: true means the cown has more work and must go back to
// a queue, false means it goes to sleep.
type Runner interface {
	Run(a *Alloc, state State) bool
}

// RunnerFunc adapts a plain function to the Runner interface.
type RunnerFunc func(a *Alloc, state State) bool

func (f RunnerFunc) Run(a *Alloc, state State) bool { return f(a, state) }

// Cown is a concurrent-owned scheduling unit. The scheduler only touches the
// stub fields declared here; behaviour execution is delegated to the Runner.
//
// A cown is bound to the first core that executes it and stays registered
// there until its stub is collected. The stub is collectible once the weak
// count reaches zero and its captured queue epoch is outdated.
type Cown struct {
	// next links the core's owned-cown list. Only the owning scheduler
	// thread traverses it (stub collection and teardown).
	next *Cown
	// qnext links the work queue. A cown is in at most one work queue.
	qnext *Cown

	runner Runner

	owner           unsafe.Pointer // *Core, set once by prerun
	mark            atomic.Uint32  // EpochMark
	weak            atomic.Int64
	epochWhenPopped atomic.Uint64
	sleeping        atomic.Bool
	pendingMsg      atomic.Bool

	// token marks the core's scheduling sentinel. A token is never run; it
	// exists to measure queue traversal. Prerun is the only inspector.
	token bool
}

// NewCown creates an unowned, sleeping cown holding one weak reference on
// behalf of the creator.
func NewCown(r Runner) *Cown {
	c := &Cown{runner: r}
	c.weak.Store(1)
	c.epochWhenPopped.Store(NoEpochSet)
	c.sleeping.Store(true)
	return c
}

// newTokenCown builds the scheduling sentinel for a core.
func newTokenCown(core *Core) *Cown {
	c := &Cown{token: true}
	c.epochWhenPopped.Store(NoEpochSet)
	atomic.StorePointer(&c.owner, unsafe.Pointer(core))
	return c
}

// OwningCore returns the core this cown is bound to, or nil before binding.
func (c *Cown) OwningCore() *Core {
	return (*Core)(atomic.LoadPointer(&c.owner))
}

func (c *Cown) setOwningCore(core *Core) {
	atomic.StorePointer(&c.owner, unsafe.Pointer(core))
}

// EpochMark returns the cown's current scan colour.
func (c *Cown) EpochMark() EpochMark {
	return EpochMark(c.mark.Load())
}

// Scanned reports whether the cown has been scanned in the given epoch.
func (c *Cown) Scanned(e EpochMark) bool {
	return c.EpochMark() == e
}

func (c *Cown) markScanned(e EpochMark) {
	c.mark.Store(uint32(e))
}

// IsSleeping reports whether the cown's behaviour queue is asleep. A cown in
// a work queue is never sleeping.
func (c *Cown) IsSleeping() bool {
	return c.sleeping.Load()
}

// wake transitions the cown out of the sleeping state; it returns false if
// the cown was already awake (scheduled or running elsewhere).
func (c *Cown) wake() bool {
	return c.sleeping.CompareAndSwap(true, false)
}

func (c *Cown) sleep() {
	c.sleeping.Store(true)
}

// AcquireWeak takes an additional weak reference on the stub.
func (c *Cown) AcquireWeak() {
	c.weak.Add(1)
}

// ReleaseWeak drops a weak reference. When the count reaches zero the stub
// becomes collectible and the owning core's free counter is bumped.
func (c *Cown) ReleaseWeak() {
	if c.weak.Add(-1) == 0 {
		if core := c.OwningCore(); core != nil {
			core.freeCowns.Add(1)
		}
	}
}

// WeakCount returns the current weak reference count.
func (c *Cown) WeakCount() int64 {
	return c.weak.Load()
}

// run executes one behaviour and returns the reschedule decision.
func (c *Cown) run(a *Alloc, state State) bool {
	if c.runner == nil {
		return false
	}
	return c.runner.Run(a, state)
}

// dropBody releases the behaviour side of the cown, leaving only the stub.
func (c *Cown) dropBody() {
	c.runner = nil
}

// dealloc releases the stub through the thread-local allocator.
func (c *Cown) dealloc(a *Alloc) {
	c.runner = nil
	c.next = nil
	c.qnext = nil
	a.deallocStub()
}
