package sched

import "testing"

// bindCown pushes a cown through the queue and prerun the way the run loop
// would, leaving it registered on the thread's core.
func bindCown(t *testing.T, st *SchedulerThread, c *Cown) {
	t.Helper()
	c.wake()
	st.core.q.Enqueue(c)
	for {
		got := st.core.q.Dequeue()
		if got == nil {
			t.Fatalf("queue ran dry before yielding the cown")
		}
		if st.prerun(got) {
			if got != c {
				t.Fatalf("unexpected cown %v", got)
			}
			return
		}
	}
}

func newStoppedThread(t *testing.T, threads int) (*Pool, *SchedulerThread) {
	t.Helper()
	pool, err := NewPool(PoolConfig{Threads: threads})
	if err != nil {
		t.Fatalf("pool: %v", err)
	}
	st := pool.threads[0]
	st.alloc = newAlloc()
	st.victim = st.core.next
	return pool, st
}

func TestStubCollectFreesOutdatedStub(t *testing.T) {
	_, st := newStoppedThread(t, 1)

	c := NewCown(RunnerFunc(func(*Alloc, State) bool { return false }))
	bindCown(t, st, c)
	if got := st.core.totalCowns.Load(); got != 1 {
		t.Fatalf("total cowns %d after binding", got)
	}

	c.ReleaseWeak()
	if got := st.core.freeCowns.Load(); got != 1 {
		t.Fatalf("free cowns %d after final release", got)
	}

	// The pop epoch is still current, so the stub must survive.
	st.collectCownStubs(false)
	if got := st.core.totalCowns.Load(); got != 1 {
		t.Fatalf("stub collected while its epoch was still live")
	}

	GlobalEpoch.Advance()
	st.collectCownStubs(false)
	if got := st.core.totalCowns.Load(); got != 0 {
		t.Fatalf("total cowns %d after collection", got)
	}
	if got := st.core.freeCowns.Load(); got != 0 {
		t.Fatalf("free cowns %d after collection", got)
	}
	if got := st.alloc.Deallocs(); got != 1 {
		t.Fatalf("deallocs %d", got)
	}
}

func TestStubCollectKeepsLiveCowns(t *testing.T) {
	_, st := newStoppedThread(t, 1)

	c := NewCown(RunnerFunc(func(*Alloc, State) bool { return false }))
	bindCown(t, st, c)

	GlobalEpoch.Advance()
	st.collectCownStubs(false)
	if got := st.core.totalCowns.Load(); got != 1 {
		t.Fatalf("collected a cown that still holds a weak reference")
	}
}

func TestStubCollectSkippedWhileSweeping(t *testing.T) {
	_, st := newStoppedThread(t, 1)

	c := NewCown(nil)
	bindCown(t, st, c)
	c.ReleaseWeak()
	GlobalEpoch.Advance()

	st.stateV.Store(uint32(ReallyDoneConfirm))
	st.collectCownStubs(false)
	if got := st.core.totalCowns.Load(); got != 1 {
		t.Fatalf("stub collection ran concurrently with a sweep window")
	}

	st.stateV.Store(uint32(NotInLD))
	st.collectCownStubs(false)
	if got := st.core.totalCowns.Load(); got != 0 {
		t.Fatalf("stub not collected once the sweep window closed")
	}
}

func TestTeardownRecordsLeaks(t *testing.T) {
	pool, err := NewPool(PoolConfig{Threads: 1, DetectLeaks: true})
	if err != nil {
		t.Fatalf("pool: %v", err)
	}

	ran := make(chan struct{})
	c := NewCown(RunnerFunc(func(*Alloc, State) bool {
		close(ran)
		return false
	}))
	// The embedder keeps its weak reference: a leak at teardown.
	pool.Schedule(c)
	pool.Start(nil)
	<-ran
	pool.Wait()

	if got := pool.LeakedCowns(); got != 1 {
		t.Fatalf("leaked cowns %d, want 1", got)
	}
}
