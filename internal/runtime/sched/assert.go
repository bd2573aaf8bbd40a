package sched

import "fmt"

// debugChecks gates the scheduler's invariant assertions. Violations are
// design bugs, not recoverable conditions, so they panic.
const debugChecks = true

func assertf(cond bool, format string, args ...any) {
	if debugChecks && !cond {
		panic(fmt.Sprintf("sched: invariant violated: "+format, args...))
	}
}
