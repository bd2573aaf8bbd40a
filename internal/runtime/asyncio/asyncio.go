// Package asyncio feeds external I/O readiness into the scheduler. Pollers
// watch connections and report events to a handler; the notifier turns those
// events into LIFO-scheduled cowns so a completion runs ahead of the backlog
// on its core.
package asyncio

import (
	"errors"
	"net"
	"syscall"
)

// EventType classifies a readiness event.
type EventType int

const (
	Readable EventType = iota
	Writable
	IOError
)

func (e EventType) String() string {
	switch e {
	case Readable:
		return "readable"
	case Writable:
		return "writable"
	default:
		return "error"
	}
}

// Event is one readiness report.
type Event struct {
	Conn net.Conn
	Type EventType
	Err  error
}

// Handler consumes readiness events. Handlers run on the poller goroutine
// and must not block.
type Handler func(Event)

// Poller watches registered connections and reports readiness.
type Poller interface {
	Start() error
	Stop() error
	Register(conn net.Conn, kinds []EventType, h Handler) error
	Deregister(conn net.Conn) error
}

// getFD extracts the file descriptor behind a connection.
func getFD(conn net.Conn) (int, error) {
	sc, ok := conn.(syscall.Conn)
	if !ok {
		return 0, errors.New("asyncio: connection does not expose a descriptor")
	}
	raw, err := sc.SyscallConn()
	if err != nil {
		return 0, err
	}
	fd := -1
	cerr := raw.Control(func(u uintptr) { fd = int(u) })
	if cerr != nil {
		return 0, cerr
	}
	if fd < 0 {
		return 0, errors.New("asyncio: invalid descriptor")
	}
	return fd, nil
}
