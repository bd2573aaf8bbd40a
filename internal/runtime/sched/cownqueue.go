package sched

import "sync"

// cownQueue is a core's work queue: multi-producer multi-consumer, FIFO for
// normal scheduling with a LIFO front entry for external I/O completions.
//
// The queue carries one special element, the core's token cown. Mirroring
// the queue's role as a traversal meter, a token that is the only element is
// unreachable: Dequeue reports empty and the token stays put. This keeps an
// idle thread from spinning on its own sentinel and keeps stealers from
// bouncing a foreign token around.
//
// A mutexed intrusive list is deliberate: the queue is an external
// collaborator here, steals are rare relative to local pops, and the lock
// keeps the LIFO/FIFO race trivially loss-free.
type cownQueue struct {
	mu        sync.Mutex
	head      *Cown
	tail      *Cown
	destroyed bool
}

// Enqueue appends a cown at the back.
func (q *cownQueue) Enqueue(c *Cown) {
	q.mu.Lock()
	assertf(!q.destroyed, "enqueue on destroyed queue")
	c.qnext = nil
	if q.tail == nil {
		q.head, q.tail = c, c
	} else {
		q.tail.qnext = c
		q.tail = c
	}
	q.mu.Unlock()
}

// EnqueueFront pushes a cown at the front. Used by external producers such
// as I/O completion sources.
func (q *cownQueue) EnqueueFront(c *Cown) {
	q.mu.Lock()
	assertf(!q.destroyed, "enqueue on destroyed queue")
	c.qnext = q.head
	q.head = c
	if q.tail == nil {
		q.tail = c
	}
	q.mu.Unlock()
}

// Dequeue pops the front cown, stamping real cowns with the current global
// epoch. Returns nil when the queue is empty or holds only a token.
func (q *cownQueue) Dequeue() *Cown {
	q.mu.Lock()
	c := q.head
	if c == nil || (c.token && c.qnext == nil) {
		q.mu.Unlock()
		return nil
	}
	q.head = c.qnext
	if q.head == nil {
		q.tail = nil
	}
	c.qnext = nil
	q.mu.Unlock()
	if !c.token {
		c.epochWhenPopped.Store(GlobalEpoch.Current())
	}
	return c
}

// NothingOld reports that no work predating the token's last pass remains:
// the queue is empty or a token sits at the head.
func (q *cownQueue) NothingOld() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.head == nil || q.head.token
}

// Destroy tears the queue down. Only the last scheduler thread servicing
// the core may call it; any surviving element must be the core's token.
func (q *cownQueue) Destroy() {
	q.mu.Lock()
	defer q.mu.Unlock()
	assertf(!q.destroyed, "queue destroyed twice")
	if q.head != nil {
		assertf(q.head.token && q.head.qnext == nil, "destroying queue with pending work")
	}
	q.head, q.tail = nil, nil
	q.destroyed = true
}
