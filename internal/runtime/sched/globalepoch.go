package sched

import "sync/atomic"

// NoEpochSet marks a cown that has never been observed in a work queue.
const NoEpochSet = ^uint64(0)

// globalEpoch is the process-wide reclamation clock. It is advanced during
// teardown and consulted by the stub collector to decide whether a cown's
// captured epoch is stale enough that no thread can still hold a reference
// obtained from a queue pop.
type globalEpoch struct {
	current atomic.Uint64
	// margin widens the staleness test. A captured epoch e is outdated only
	// when current > e + margin. The margin tracks how conservatively the
	// pool wants reclamation to behave while threads sit in non-sweep
	// states; the default of zero is correct while the epoch only advances
	// at teardown barriers.
	margin atomic.Uint64
}

// GlobalEpoch is the single process-wide epoch instance.
var GlobalEpoch globalEpoch

// Current returns the published epoch value.
func (g *globalEpoch) Current() uint64 {
	return g.current.Load()
}

// Advance publishes a new epoch. Callers must guarantee that every scheduler
// thread has flushed its local epoch first (the teardown barrier does this).
func (g *globalEpoch) Advance() {
	g.current.Add(1)
}

// SetMargin adjusts the staleness margin.
func (g *globalEpoch) SetMargin(m uint64) {
	g.margin.Store(m)
}

// IsOutdated reports whether a captured epoch is old enough that the memory
// it guards can be reclaimed.
func (g *globalEpoch) IsOutdated(e uint64) bool {
	if e == NoEpochSet {
		return false
	}
	return g.current.Load() > e+g.margin.Load()
}
