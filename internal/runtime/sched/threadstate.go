package sched

import (
	"fmt"
	"sync"
)

// State is a scheduler thread's position in the leak-detection protocol.
// The declaration order is the protocol's vote order.
type State uint8

const (
	NotInLD State = iota
	WantLD
	PreScan
	Scan
	AllInScan
	BelieveDoneVote
	BelieveDone
	BelieveDoneConfirm
	BelieveDoneRetract
	ReallyDoneConfirm
	Sweep
	Finished
)

var stateNames = [...]string{
	"NotInLD", "WantLD", "PreScan", "Scan", "AllInScan",
	"BelieveDone_Vote", "BelieveDone", "BelieveDone_Confirm",
	"BelieveDone_Retract", "ReallyDone_Confirm", "Sweep", "Finished",
}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("State(%d)", uint8(s))
}

// ldCoordinator aggregates every thread's reported state and answers votes.
// The decision logic lives in NextStateVector, a pure function over the
// state vector, so the protocol can be exercised with synthetic vectors.
//
// One bit of memory sits outside the vector: once a retract sends the
// protocol back to Scan, threads still parked in a confirm state must keep
// being told "Scan" even after the retracting thread has left the vote, so
// the coordinator latches retreating until every thread has left the
// confirm states.
type ldCoordinator struct {
	mu         sync.Mutex
	states     []State
	retreating bool
}

func newLDCoordinator(threads int) *ldCoordinator {
	return &ldCoordinator{states: make([]State, threads)}
}

// Next records the caller's current state and returns the state it should
// move to. Returning the current state means "no transition".
func (c *ldCoordinator) Next(tid int, cur State) State {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.states[tid] = cur
	next, retreating := NextStateVector(c.states, tid, c.retreating)
	c.retreating = retreating
	if next != cur {
		c.states[tid] = next
	}
	return next
}

// scanRequested reports whether the protocol is in a phase where message and
// cown marks matter (anything from prescan up to the confirm votes).
func (c *ldCoordinator) scanRequested() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, s := range c.states {
		if s >= PreScan && s <= BelieveDoneRetract {
			return true
		}
	}
	return false
}

// snapshot copies the current vector for diagnostics.
func (c *ldCoordinator) snapshot() []State {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]State, len(c.states))
	copy(out, c.states)
	return out
}

// NextStateVector is the protocol's voting rule. Given the vector of every
// thread's state, the caller's index and the latched retreat flag, it
// returns the caller's next state and the updated flag. It never mutates
// the vector.
//
// The shape of every rule is a barrier: a thread advances out of a phase
// only once every thread has reached it, which is what makes the scan and
// sweep hand-offs safe without a global lock.
func NextStateVector(states []State, tid int, retreating bool) (State, bool) {
	cur := states[tid]

	allAtLeast := func(min State) bool {
		for _, s := range states {
			if s < min {
				return false
			}
		}
		return true
	}
	anyIn := func(set ...State) bool {
		for _, s := range states {
			for _, want := range set {
				if s == want {
					return true
				}
			}
		}
		return false
	}
	allIn := func(set ...State) bool {
		for _, s := range states {
			ok := false
			for _, want := range set {
				if s == want {
					ok = true
					break
				}
			}
			if !ok {
				return false
			}
		}
		return true
	}

	switch cur {
	case NotInLD:
		// Join a starting cycle. A cycle cannot progress past PreScan
		// until everyone joins, so only the early phases matter here.
		if anyIn(WantLD, PreScan) {
			return PreScan, retreating
		}
		return NotInLD, retreating

	case WantLD:
		return PreScan, retreating

	case PreScan:
		// A peer still in Finished belongs to the previous cycle; the new
		// cycle must not outrun it.
		if allAtLeast(PreScan) && !anyIn(Finished) {
			return Scan, retreating
		}
		return PreScan, retreating

	case Scan:
		if allAtLeast(Scan) && !anyIn(Finished) {
			return AllInScan, retreating
		}
		return Scan, retreating

	case AllInScan:
		// The thread itself decides when to vote BelieveDone_Vote (its
		// checkpoint and unscanned flag are local knowledge).
		return AllInScan, retreating

	case BelieveDoneVote:
		if allAtLeast(BelieveDoneVote) && !anyIn(Finished) {
			return BelieveDone, retreating
		}
		return BelieveDoneVote, retreating

	case BelieveDone:
		// Threads convert this to Confirm/Retract locally; the
		// coordinator holds position.
		return BelieveDone, retreating

	case BelieveDoneConfirm, BelieveDoneRetract:
		// Someone saw unscanned work: the whole pool rescans. The latch
		// stays up until the last thread has left the confirm states, and
		// each leaver recomputes it from the threads it leaves behind.
		if retreating || (allAtLeast(BelieveDoneConfirm) && anyIn(BelieveDoneRetract)) {
			return Scan, anyOther(states, tid, BelieveDoneConfirm, BelieveDoneRetract)
		}
		if allAtLeast(BelieveDoneConfirm) && !anyIn(Finished) {
			return ReallyDoneConfirm, retreating
		}
		return cur, retreating

	case ReallyDoneConfirm:
		if allAtLeast(ReallyDoneConfirm) {
			return Sweep, retreating
		}
		return ReallyDoneConfirm, retreating

	case Sweep:
		if allAtLeast(Sweep) {
			return Finished, retreating
		}
		return Sweep, retreating

	case Finished:
		// Peers may already be starting the next cycle; leaving is still
		// safe, and the new cycle's prescan barrier waits for us.
		if allIn(Finished, NotInLD, WantLD, PreScan) {
			return NotInLD, retreating
		}
		return Finished, retreating
	}

	return cur, retreating
}

// anyOther reports whether any thread other than tid is in one of the given
// states.
func anyOther(states []State, tid int, set ...State) bool {
	for i, s := range states {
		if i == tid {
			continue
		}
		for _, want := range set {
			if s == want {
				return true
			}
		}
	}
	return false
}
