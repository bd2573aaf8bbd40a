package sched

import (
	"bytes"
	"runtime"
	"strconv"
)

// goid returns the calling goroutine's id. The id anchors the pool's
// current-scheduler lookup, standing in for the thread-local pointer a
// native runtime would use. The header parse is the stable "goroutine N ["
// prefix of runtime.Stack.
func goid() uint64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	b := buf[:n]
	b = bytes.TrimPrefix(b, []byte("goroutine "))
	if i := bytes.IndexByte(b, ' '); i >= 0 {
		b = b[:i]
	}
	id, err := strconv.ParseUint(string(b), 10, 64)
	if err != nil {
		return 0
	}
	return id
}
