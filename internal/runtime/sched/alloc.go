package sched

// Alloc is the thread-local allocator handle held by each scheduler thread.
// Go's runtime owns the memory itself; the handle tracks stub reclamation
// and carries the thread-local epoch that must be flushed before the global
// epoch advances at teardown.
type Alloc struct {
	deallocs   uint64
	localEpoch uint64
}

func newAlloc() *Alloc {
	return &Alloc{localEpoch: GlobalEpoch.Current()}
}

func (a *Alloc) deallocStub() {
	a.deallocs++
}

// Deallocs returns the number of stubs released through this handle.
func (a *Alloc) Deallocs() uint64 {
	return a.deallocs
}

// flushLocalEpoch publishes any epoch state cached on this thread. Called
// immediately before the teardown barrier so that the subsequent global
// advance observes every thread's view.
func (a *Alloc) flushLocalEpoch() {
	a.localEpoch = GlobalEpoch.Current()
}
