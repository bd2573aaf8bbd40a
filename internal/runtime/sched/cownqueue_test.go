package sched

import "testing"

func TestCownQueueTokenAloneLooksEmpty(t *testing.T) {
	core := newCore(0)
	if got := core.q.Dequeue(); got != nil {
		t.Fatalf("dequeued %v from a queue holding only the token", got)
	}
	if !core.q.NothingOld() {
		t.Fatalf("token-only queue should report nothing old")
	}
}

func TestCownQueueTokenSurfacesAheadOfWork(t *testing.T) {
	core := newCore(0)
	a := NewCown(nil)
	a.wake()
	core.q.Enqueue(a)

	got := core.q.Dequeue()
	if got == nil || !got.token {
		t.Fatalf("expected the token first, got %v", got)
	}
	if core.q.NothingOld() {
		t.Fatalf("queue with real work should not be stale")
	}
	// Put the token back the way prerun does and drain the cown.
	core.q.Enqueue(got)
	if got := core.q.Dequeue(); got != a {
		t.Fatalf("expected the cown, got %v", got)
	}
	if !core.q.NothingOld() {
		t.Fatalf("token at head again, queue should be stale")
	}
}

func TestCownQueueLifoFrontEntry(t *testing.T) {
	core := newCore(0)
	a := NewCown(nil)
	b := NewCown(nil)
	a.wake()
	b.wake()
	core.q.Enqueue(a)
	core.q.EnqueueFront(b)

	if got := core.q.Dequeue(); got != b {
		t.Fatalf("front-enqueued cown should pop first, got %v", got)
	}
}

func TestCownQueueDequeueStampsEpoch(t *testing.T) {
	core := newCore(0)
	a := NewCown(nil)
	a.wake()
	core.q.Enqueue(a)
	core.q.Dequeue() // token
	core.q.Enqueue(core.tokenCown)

	if e := a.epochWhenPopped.Load(); e != NoEpochSet {
		t.Fatalf("cown stamped before any pop: %d", e)
	}
	if got := core.q.Dequeue(); got != a {
		t.Fatalf("expected the cown, got %v", got)
	}
	if e := a.epochWhenPopped.Load(); e != GlobalEpoch.Current() {
		t.Fatalf("pop stamped epoch %d, current is %d", e, GlobalEpoch.Current())
	}
	if e := core.tokenCown.epochWhenPopped.Load(); e != NoEpochSet {
		t.Fatalf("token must never be stamped, got %d", e)
	}
}
