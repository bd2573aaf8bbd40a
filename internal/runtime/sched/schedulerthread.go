package sched

import (
	"runtime"
	"sync/atomic"
	"time"
)

// SchedulerThread runs cowns from one core's queue and periodically steals
// from peers to spread work. The stealing period is set by the core's token
// cown: it is dequeued once everything ahead of it has run, so it surfaces
// at a rate inversely proportional to the queue's backlog. The same token
// doubles as the leak-detection checkpoint meter.
type SchedulerThread struct {
	pool *Pool
	core *Core
	// victim walks the core ring looking for queues to steal from.
	victim *Core
	alloc  *Alloc

	// tid is the thread's index in the coordinator's vote vector;
	// systematicID is the friendly identifier used in logs and stats.
	tid          int
	systematicID uint64

	running atomic.Bool

	// nLdTokens counts the token passes still owed before this thread's LD
	// checkpoint is reached (zero = reached).
	nLdTokens uint8

	shouldStealForFairness bool

	// scheduledUnscannedCown latches that work without the current scan
	// colour was queued; the vote step reads it, enterScan clears it.
	scheduledUnscannedCown atomic.Bool

	// sendEpoch and state are thread-private but sampled by the debug
	// endpoints, so they live behind atomics.
	sendEpochV atomic.Uint32
	prevEpoch  EpochMark

	stateV atomic.Uint32
}

func newSchedulerThread(p *Pool, id uint64) *SchedulerThread {
	t := &SchedulerThread{
		pool:         p,
		tid:          int(id),
		systematicID: id,
		prevEpoch:    EpochB,
	}
	t.sendEpochV.Store(uint32(EpochA))
	t.stateV.Store(uint32(NotInLD))
	t.running.Store(true)
	return t
}

func (t *SchedulerThread) setCore(c *Core) {
	t.core = c
}

// Core returns the core this thread services.
func (t *SchedulerThread) Core() *Core { return t.core }

// LDState returns the thread's current protocol state.
func (t *SchedulerThread) LDState() State { return State(t.stateV.Load()) }

// SendEpoch returns the thread's current scan colour.
func (t *SchedulerThread) SendEpoch() EpochMark { return EpochMark(t.sendEpochV.Load()) }

func (t *SchedulerThread) setSendEpoch(e EpochMark) { t.sendEpochV.Store(uint32(e)) }

func (t *SchedulerThread) stop() {
	t.running.Store(false)
}

// run is the thread body. It returns only when stealing fails, no work can
// be obtained anywhere and the pool has authorised termination.
func (t *SchedulerThread) run(startup func(*SchedulerThread)) {
	if startup != nil {
		startup(t)
	}
	t.pool.setLocal(t)
	t.alloc = newAlloc()
	assertf(t.core != nil, "scheduler thread started without a core")
	t.victim = t.core.next
	t.core.servicingThreads.Add(1)

	var cown *Cown
	for {
		// Opportunistic stub collection: more than half the cowns are
		// collectible, or the systematic coin fires.
		if t.core.totalCowns.Load() < t.core.freeCowns.Load()<<1 || systematic.Coin(4) {
			t.collectCownStubs(false)
		}

		if t.shouldStealForFairness && cown == nil {
			t.shouldStealForFairness = false
			cown, _ = t.fastSteal()
		}

		if cown == nil {
			cown = t.core.q.Dequeue()
			if cown != nil {
				logger.Debug().Int("core", t.core.affinity).Msg("pop cown")
			}
		}

		if cown == nil {
			cown = t.steal()
			// If we can't steal, we are done.
			if cown == nil {
				break
			}
		}

		// Administrative work before handling messages.
		if !t.prerun(cown) {
			cown = nil
			continue
		}

		// Keep the LD protocol from advancing past work that has not been
		// scanned: stolen cowns and empty-queue reschedules land here with
		// a stale colour.
		if t.pool.ShouldScan() && cown.EpochMark() != t.SendEpoch() {
			logger.Debug().Msg("unscanned cown next")
			t.scheduledUnscannedCown.Store(true)
		}

		t.ldProtocol()

		// Progress accounting on the cown's core; a foreign cown also
		// counts against this core so both utilisation views move.
		cownCore := cown.OwningCore()
		assertf(cownCore != nil, "prerun must have bound the cown")
		cownCore.progressCounter.Add(1)
		if cownCore != t.core {
			t.core.progressCounter.Add(1)
		}
		t.core.lastWorker.Store(t.systematicID)

		if cown.pendingMsg.CompareAndSwap(true, false) {
			t.pool.MessageReceived()
		}

		reschedule := cown.run(t.alloc, t.LDState())

		if reschedule {
			if t.shouldStealForFairness {
				t.scheduleFifo(cown)
				cown = nil
			} else {
				assertf(!cown.IsSleeping(), "rescheduling a sleeping cown")
				// Push to the back of the queue only if something else is
				// pending, otherwise run this cown again: enqueueing our
				// only cown invites a peer to steal it and ping-pong it
				// back.
				n := t.core.q.Dequeue()
				if n != nil {
					t.scheduleFifo(cown)
					cown = n
				} else if t.core.q.NothingOld() {
					// We have effectively reached the token.
					t.nLdTokens = 0
					if t.pool.Fair() {
						if stolen, ok := t.fastSteal(); ok {
							t.scheduleFifo(cown)
							cown = stolen
						}
					}
				}
			}
		} else {
			cown.sleep()
			cown = nil
		}

		systematic.Yield()
	}

	t.teardown()
}

// teardown is the two-phase exit: drop behaviour bodies, rendezvous with
// the other threads, then reclaim stubs under a fresh epoch. The last
// thread out destroys the core's queue.
func (t *SchedulerThread) teardown() {
	logger.Debug().Uint64("thread", t.systematicID).Msg("begin teardown phase 1")
	t.core.collect()
	t.alloc.flushLocalEpoch()
	t.pool.EnterBarrier()

	logger.Debug().Uint64("thread", t.systematicID).Msg("begin teardown phase 2")
	GlobalEpoch.Advance()
	t.collectCownStubs(true)

	if t.core.servicingThreads.Add(-1) == 0 {
		logger.Debug().Int("core", t.core.affinity).Msg("destroying core queue")
		t.core.q.Destroy()
	}

	// The physical thread may be reused for a different scheduler later.
	t.pool.setLocal(nil)
}

// scheduleFifo enqueues on this thread's core, flagging unscanned work so
// the LD vote cannot conclude past it.
func (t *SchedulerThread) scheduleFifo(c *Cown) {
	if !c.Scanned(t.SendEpoch()) {
		t.scheduledUnscannedCown.Store(true)
	}
	assertf(!c.IsSleeping(), "enqueueing a sleeping cown")
	t.core.q.Enqueue(c)
	if t.pool.Unpause() {
		t.core.stats.Unpause()
	}
}

// fastSteal probes the current victim once. On failure the victim pointer
// advances around the ring.
func (t *SchedulerThread) fastSteal() (*Cown, bool) {
	if t.victim != t.core {
		if c := t.victim.q.Dequeue(); c != nil {
			t.core.stats.Steal()
			logger.Debug().Int("victim", t.victim.affinity).Msg("fast-steal cown")
			return c, true
		}
	}
	t.victim = t.victim.next
	return nil, false
}

// steal is the slow path: keep probing, participate in the LD protocol, and
// after the quiescence window park on the pool. Returns nil only once the
// thread has been told to stop.
func (t *SchedulerThread) steal() *Cown {
	start := time.Now()

	for t.running.Load() {
		systematic.Yield()

		if t.core.q.NothingOld() {
			t.nLdTokens = 0
		}

		t.ldProtocol()

		// Another thread may have pushed work on our queue.
		if c := t.core.q.Dequeue(); c != nil {
			return c
		}

		if t.victim != t.core {
			if c := t.victim.q.Dequeue(); c != nil {
				t.core.stats.Steal()
				logger.Debug().Int("victim", t.victim.affinity).Msg("stole cown")
				return c
			}
		}
		t.victim = t.victim.next

		if _, production := systematic.(noSystematic); !production {
			// Deterministic runs pause with a 1-in-32 coin instead of the
			// wall clock.
			if !systematic.Coin(5) {
				systematic.Yield()
				continue
			}
		} else if time.Since(start) < t.pool.quiescence {
			runtime.Gosched()
			continue
		}

		// Park only while outside the leak detector; a parked thread
		// cannot answer protocol votes.
		if t.LDState() == NotInLD {
			if t.pool.Pause() {
				t.core.stats.Pause()
			}
		}
	}

	return nil
}

// prerun filters tokens out of the work stream and binds fresh cowns to
// this core. Returns false when the element was a token.
func (t *SchedulerThread) prerun(c *Cown) bool {
	if c.token {
		owner := c.OwningCore()
		assertf(owner != nil, "token without an owning core")
		if owner == t.core {
			if t.pool.Fair() {
				t.shouldStealForFairness = true
			}
			if t.nLdTokens > 0 {
				t.decNLdTokens()
			}
			t.core.stats.Token()
			logger.Debug().Int("core", t.core.affinity).Msg("reached own token")
		} else {
			logger.Debug().Int("owner", owner.affinity).Msg("reached stolen token")
		}
		// Put the token back where it belongs.
		owner.q.Enqueue(c)
		return false
	}

	assertf(!c.IsSleeping(), "dequeued a sleeping cown")
	if c.OwningCore() == nil {
		c.setOwningCore(t.core)
		t.core.addCown(c)
		t.core.totalCowns.Add(1)
	}
	return true
}

func (t *SchedulerThread) decNLdTokens() {
	assertf(t.nLdTokens == 1 || t.nLdTokens == 2, "token budget out of range: %d", t.nLdTokens)
	logger.Debug().Msg("reached ld token")
	t.nLdTokens--
}

func (t *SchedulerThread) ldCheckpointReached() bool {
	return t.nLdTokens == 0
}

// ldProtocol plays the thread's part in the collection protocol: catch up
// with the aggregate state and vote where local knowledge allows.
func (t *SchedulerThread) ldProtocol() {
	if t.LDState() == NotInLD && t.pool.wantsLD() {
		t.ldStateChange(WantLD)
	}

	// Vote BelieveDone once scanning looks finished from here: checkpoint
	// reached, nothing unscanned queued, nothing in flight. Otherwise a
	// fresh token budget and another scan pass.
	if t.LDState() == AllInScan && t.ldCheckpointReached() {
		if !t.scheduledUnscannedCown.Load() && t.pool.NoInflightMessages() {
			t.ldStateChange(BelieveDoneVote)
		} else {
			t.enterScan()
		}
	}

	first := true
	for {
		sprev := t.LDState()
		systematic.Yield()
		snext := t.pool.nextState(t.tid, sprev)

		// A lost wake-up in prescan would wedge every thread; poke the
		// pool when no progress is being made.
		if sprev == PreScan && snext == PreScan && t.pool.Unpause() {
			t.core.stats.Unpause()
		}

		if snext == sprev {
			return
		}
		systematic.Yield()

		if first {
			first = false
			logger.Debug().Uint64("thread", t.systematicID).Msg("ld protocol loop")
		}

		t.ldStateChange(snext)

		switch t.LDState() {
		case PreScan:
			if t.pool.Unpause() {
				t.core.stats.Unpause()
			}
			t.enterPreScan()
			return

		case Scan:
			switch sprev {
			case PreScan:
				t.enterScan()
			case BelieveDoneConfirm, BelieveDoneRetract:
				// Rescan after a retract: fresh token budget, same
				// colour; the epoch must not flip twice in one cycle.
				t.enterScan()
			default:
				t.enterPreScan()
				t.enterScan()
			}
			return

		case AllInScan:
			if sprev == PreScan {
				t.enterScan()
			}
			return

		case BelieveDone:
			if t.scheduledUnscannedCown.Load() {
				t.ldStateChange(BelieveDoneRetract)
			} else {
				t.ldStateChange(BelieveDoneConfirm)
			}
			continue

		case ReallyDoneConfirm:
			continue

		case Sweep:
			t.collectCowns()
			continue

		default:
			continue
		}
	}
}

func (t *SchedulerThread) ldStateChange(next State) {
	logger.Debug().
		Uint64("thread", t.systematicID).
		Stringer("from", t.LDState()).
		Stringer("to", next).
		Msg("ld state change")
	t.stateV.Store(uint32(next))
}

// enterPreScan parks the current colour and sends EpochNone so messages
// produced from here on count as unscanned in-flight work.
func (t *SchedulerThread) enterPreScan() {
	t.prevEpoch = t.SendEpoch()
	t.setSendEpoch(EpochNone)
}

// enterScan flips the colour, colours this core's cowns, and arms the token
// checkpoint.
func (t *SchedulerThread) enterScan() {
	t.setSendEpoch(t.prevEpoch.flip())
	logger.Debug().Stringer("epoch", t.SendEpoch()).Msg("enter scan")
	t.core.scan(t.SendEpoch())
	t.nLdTokens = 2
	t.scheduledUnscannedCown.Store(false)
}

func (t *SchedulerThread) collectCowns() {
	t.core.tryCollect(t.SendEpoch())
}

// collectCownStubs reclaims dead cown metadata under the epoch regime. It
// must not run while any thread can be sweeping the same cowns, so the
// confirm and finished states bail out.
func (t *SchedulerThread) collectCownStubs(duringTeardown bool) {
	switch t.LDState() {
	case ReallyDoneConfirm, Finished:
		return
	}

	list := t.core.drain()
	p := &list
	var tail *Cown
	removed := uint64(0)
	count := uint64(0)

	for *p != nil {
		count++
		c := *p
		if c.WeakCount() <= 0 || duringTeardown {
			if c.WeakCount() > 0 && t.pool.DetectLeaks() {
				logger.Warn().Msg("leaking cown")
				t.pool.recordLeak()
				*p = c.next
				continue
			}
			epoch := c.epochWhenPopped.Load()
			outdated := epoch == NoEpochSet || GlobalEpoch.IsOutdated(epoch)
			if outdated {
				removed++
				*p = c.next
				c.dealloc(t.alloc)
				continue
			}
		}
		tail = c
		p = &c.next
	}

	if list != nil {
		assertf(tail != nil, "non-empty list without a tail")
		t.core.addCowns(list, tail)
	}

	// With one thread per core the drained list accounts for every
	// registered cown; a shared core only permits the bounded check.
	assertf(count <= t.core.totalCowns.Load(), "owned list exceeds registered cowns")
	subSaturating(&t.core.freeCowns, removed)
	subSaturating(&t.core.totalCowns, removed)

	if removed > 0 {
		logger.Debug().
			Uint64("removed", removed).
			Uint64("free", t.core.freeCowns.Load()).
			Uint64("total", t.core.totalCowns.Load()).
			Msg("stub collected cowns")
	}
}

func subSaturating(v *atomic.Uint64, n uint64) {
	for {
		cur := v.Load()
		next := uint64(0)
		if cur > n {
			next = cur - n
		}
		if v.CompareAndSwap(cur, next) {
			return
		}
	}
}
