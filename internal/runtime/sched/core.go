package sched

import (
	"sync"
	"sync/atomic"
)

// Core models one physical core's share of the scheduler: the work queue,
// the token sentinel, the owned-cown list and the aggregate counters. Cores
// form a ring through next; an idle scheduler thread walks the ring looking
// for victims to steal from.
type Core struct {
	q         cownQueue
	tokenCown *Cown
	next      *Core
	affinity  int

	totalCowns       atomic.Uint64
	freeCowns        atomic.Uint64
	progressCounter  atomic.Uint64
	lastWorker       atomic.Uint64
	servicingThreads atomic.Int64
	sweeps           atomic.Uint64

	stats CoreStats

	// Owned-cown list. Normally only the single servicing thread touches
	// it; the lock covers the shared-core teardown where several threads
	// drain the same core.
	cownsMu  sync.Mutex
	listHead *Cown
	listTail *Cown
}

// newCore creates a core with its token already circulating in the queue.
func newCore(affinity int) *Core {
	c := &Core{affinity: affinity}
	c.tokenCown = newTokenCown(c)
	c.q.Enqueue(c.tokenCown)
	return c
}

// Affinity returns the core's identifier.
func (c *Core) Affinity() int { return c.affinity }

// Stats exposes the core's counters.
func (c *Core) Stats() *CoreStats { return &c.stats }

// Progress returns the core's monotonic executed-cown counter.
func (c *Core) Progress() uint64 { return c.progressCounter.Load() }

// TotalCowns returns the number of cowns registered on this core.
func (c *Core) TotalCowns() uint64 { return c.totalCowns.Load() }

// FreeCowns returns the number of registered cowns whose stub is
// collectible.
func (c *Core) FreeCowns() uint64 { return c.freeCowns.Load() }

// Sweeps returns how many sweep passes have run on this core.
func (c *Core) Sweeps() uint64 { return c.sweeps.Load() }

// addCown appends a cown to the owned list.
func (c *Core) addCown(cown *Cown) {
	c.cownsMu.Lock()
	defer c.cownsMu.Unlock()
	cown.next = nil
	if c.listTail == nil {
		c.listHead, c.listTail = cown, cown
		return
	}
	c.listTail.next = cown
	c.listTail = cown
}

// addCowns splices a drained list back in.
func (c *Core) addCowns(head, tail *Cown) {
	if head == nil {
		return
	}
	assertf(tail != nil && tail.next == nil, "spliced list must be terminated")
	c.cownsMu.Lock()
	defer c.cownsMu.Unlock()
	if c.listTail == nil {
		c.listHead, c.listTail = head, tail
		return
	}
	c.listTail.next = head
	c.listTail = tail
}

// drain detaches and returns the owned-cown list.
func (c *Core) drain() *Cown {
	c.cownsMu.Lock()
	defer c.cownsMu.Unlock()
	head := c.listHead
	c.listHead, c.listTail = nil, nil
	return head
}

// scan colours every owned cown for the new scan epoch and wakes sleepers
// with an empty LIFO message so their mailboxes participate in the scan.
// Dead cowns (weak count zero) are left uncoloured; the stub collector
// reaps them.
func (c *Core) scan(sendEpoch EpochMark) {
	c.cownsMu.Lock()
	defer c.cownsMu.Unlock()
	for cown := c.listHead; cown != nil; cown = cown.next {
		if cown.WeakCount() == 0 {
			continue
		}
		if !cown.Scanned(sendEpoch) {
			cown.markScanned(sendEpoch)
			if cown.wake() {
				c.q.EnqueueFront(cown)
				c.stats.Lifo()
			}
		}
	}
}

// tryCollect is the sweep step: release the bodies of cowns the scan never
// reached. Their epoch mark still carries the previous colour (or none),
// which is exactly the conservative unreachability test the protocol
// guarantees at this point.
func (c *Core) tryCollect(sendEpoch EpochMark) {
	c.sweeps.Add(1)
	c.cownsMu.Lock()
	defer c.cownsMu.Unlock()
	for cown := c.listHead; cown != nil; cown = cown.next {
		if cown.Scanned(sendEpoch) || cown.WeakCount() == 0 {
			continue
		}
		logger.Debug().Int("core", c.affinity).Msg("sweep unreachable cown")
		cown.dropBody()
		cown.weak.Store(0)
		c.freeCowns.Add(1)
	}
}

// collect is teardown phase 1: drop every owned cown's behaviour side so
// only stubs remain for phase 2.
func (c *Core) collect() {
	c.cownsMu.Lock()
	defer c.cownsMu.Unlock()
	for cown := c.listHead; cown != nil; cown = cown.next {
		cown.dropBody()
	}
}
