package concurrency

import (
	"runtime"
	"sync/atomic"
)

// MPMCRing is a bounded multi-producer multi-consumer lock-free ring buffer
// based on Dmitry Vyukov's algorithm using per-slot sequence numbers. It is
// the hand-off buffer between event producers (I/O pollers) and the
// scheduling path: producers must never block, so a full ring reports
// failure and the producer falls back to a direct schedule.
type MPMCRing[T any] struct {
	_pad0   [64]byte
	mask    uint64
	_pad1   [64]byte
	enqueue uint64
	_pad2   [64]byte
	dequeue uint64
	_pad3   [64]byte
	cells   []ringCell[T]
}

type ringCell[T any] struct {
	seq  uint64
	_pad [56]byte // cache line padding (approx)
	val  T
}

// NewMPMCRing creates a ring with the given capacity, rounded up to a power
// of two with a minimum of 2.
func NewMPMCRing[T any](capacity uint64) *MPMCRing[T] {
	if capacity < 2 {
		capacity = 2
	}
	capPow2 := uint64(1)
	for capPow2 < capacity {
		capPow2 <<= 1
	}
	r := &MPMCRing[T]{
		mask:  capPow2 - 1,
		cells: make([]ringCell[T], capPow2),
	}
	for i := range r.cells {
		r.cells[i].seq = uint64(i)
	}
	return r
}

// Put tries to push v; returns false if the ring is full.
func (r *MPMCRing[T]) Put(v T) bool {
	for {
		pos := atomic.LoadUint64(&r.enqueue)
		c := &r.cells[pos&r.mask]
		seq := atomic.LoadUint64(&c.seq)
		dif := int64(seq) - int64(pos)
		if dif == 0 {
			if atomic.CompareAndSwapUint64(&r.enqueue, pos, pos+1) {
				c.val = v
				atomic.StoreUint64(&c.seq, pos+1)
				return true
			}
		} else if dif < 0 {
			return false // full
		} else {
			runtime.Gosched()
		}
	}
}

// Take tries to pop into out; returns false if the ring is empty.
func (r *MPMCRing[T]) Take(out *T) bool {
	for {
		pos := atomic.LoadUint64(&r.dequeue)
		c := &r.cells[pos&r.mask]
		seq := atomic.LoadUint64(&c.seq)
		dif := int64(seq) - int64(pos+1)
		if dif == 0 {
			if atomic.CompareAndSwapUint64(&r.dequeue, pos, pos+1) {
				*out = c.val
				var zero T
				c.val = zero
				atomic.StoreUint64(&c.seq, pos+r.mask+1)
				return true
			}
		} else if dif < 0 {
			return false // empty
		} else {
			runtime.Gosched()
		}
	}
}
