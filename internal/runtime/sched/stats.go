package sched

import "sync/atomic"

// CoreStats counts scheduling events on one core. All counters are written
// cross-thread (external schedulers bump a core's unpause counter, LIFO
// producers are arbitrary goroutines), so everything is atomic.
type CoreStats struct {
	steals   atomic.Uint64
	pauses   atomic.Uint64
	unpauses atomic.Uint64
	lifo     atomic.Uint64
	tokens   atomic.Uint64
}

func (s *CoreStats) Steal()   { s.steals.Add(1) }
func (s *CoreStats) Pause()   { s.pauses.Add(1) }
func (s *CoreStats) Unpause() { s.unpauses.Add(1) }
func (s *CoreStats) Lifo()    { s.lifo.Add(1) }
func (s *CoreStats) Token()   { s.tokens.Add(1) }

// StatsSnapshot is a point-in-time copy of a core's counters.
type StatsSnapshot struct {
	Steals   uint64 `json:"steals"`
	Pauses   uint64 `json:"pauses"`
	Unpauses uint64 `json:"unpauses"`
	Lifo     uint64 `json:"lifo"`
	Tokens   uint64 `json:"tokens"`
}

// Snapshot copies the counters.
func (s *CoreStats) Snapshot() StatsSnapshot {
	return StatsSnapshot{
		Steals:   s.steals.Load(),
		Pauses:   s.pauses.Load(),
		Unpauses: s.unpauses.Load(),
		Lifo:     s.lifo.Load(),
		Tokens:   s.tokens.Load(),
	}
}
