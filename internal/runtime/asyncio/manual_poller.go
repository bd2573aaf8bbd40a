package asyncio

import (
	"errors"
	"net"
	"sync"
)

// ManualPoller is a poller driven by explicit Fire calls. It backs the
// platforms without a native poller here and gives tests a deterministic
// event source.
type ManualPoller struct {
	mu      sync.RWMutex
	regs    map[net.Conn]Handler
	started bool
}

// NewManualPoller creates a stopped manual poller.
func NewManualPoller() *ManualPoller {
	return &ManualPoller{regs: make(map[net.Conn]Handler)}
}

func (p *ManualPoller) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return errors.New("asyncio: poller already started")
	}
	p.started = true
	return nil
}

func (p *ManualPoller) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.started = false
	p.regs = make(map[net.Conn]Handler)
	return nil
}

func (p *ManualPoller) Register(conn net.Conn, kinds []EventType, h Handler) error {
	if conn == nil || h == nil {
		return errors.New("asyncio: invalid registration")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.started {
		return errors.New("asyncio: poller not started")
	}
	p.regs[conn] = h
	return nil
}

func (p *ManualPoller) Deregister(conn net.Conn) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.regs, conn)
	return nil
}

// Fire synthesises an event for a registered connection. Returns false when
// the connection is unknown.
func (p *ManualPoller) Fire(conn net.Conn, t EventType, err error) bool {
	p.mu.RLock()
	h := p.regs[conn]
	p.mu.RUnlock()
	if h == nil {
		return false
	}
	h(Event{Conn: conn, Type: t, Err: err})
	return true
}
