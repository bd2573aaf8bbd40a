//go:build linux

package asyncio

import (
	"errors"
	"net"
	"sync"

	"golang.org/x/sys/unix"
)

// epollPoller implements Poller using epoll(7).
type epollPoller struct {
	mu      sync.RWMutex
	epfd    int
	regs    map[int]*epollReg
	stop    chan struct{}
	stopped sync.WaitGroup
	started bool
}

type epollReg struct {
	fd      int
	conn    net.Conn
	handler Handler
}

func newEpollPoller() Poller {
	return &epollPoller{regs: make(map[int]*epollReg), epfd: -1}
}

func (p *epollPoller) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return errors.New("asyncio: poller already started")
	}
	fd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return err
	}
	p.epfd = fd
	p.stop = make(chan struct{})
	p.started = true
	p.stopped.Add(1)
	go p.loop()
	return nil
}

func (p *epollPoller) Stop() error {
	p.mu.Lock()
	if !p.started {
		p.mu.Unlock()
		return nil
	}
	p.started = false
	close(p.stop)
	regs := p.regs
	p.regs = make(map[int]*epollReg)
	epfd := p.epfd
	p.epfd = -1
	p.mu.Unlock()

	for fd := range regs {
		_ = unix.EpollCtl(epfd, unix.EPOLL_CTL_DEL, fd, nil)
	}
	_ = unix.Close(epfd)
	p.stopped.Wait()
	return nil
}

func (p *epollPoller) Register(conn net.Conn, kinds []EventType, h Handler) error {
	if conn == nil || h == nil {
		return errors.New("asyncio: invalid registration")
	}
	fd, err := getFD(conn)
	if err != nil {
		return err
	}
	ev := unix.EpollEvent{Fd: int32(fd)}
	for _, k := range kinds {
		switch k {
		case Readable:
			ev.Events |= unix.EPOLLIN
		case Writable:
			ev.Events |= unix.EPOLLOUT
		}
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.started {
		return errors.New("asyncio: poller not started")
	}
	if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_ADD, fd, &ev); err != nil {
		return err
	}
	p.regs[fd] = &epollReg{fd: fd, conn: conn, handler: h}
	return nil
}

func (p *epollPoller) Deregister(conn net.Conn) error {
	fd, err := getFD(conn)
	if err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if reg := p.regs[fd]; reg != nil {
		delete(p.regs, fd)
		if p.epfd >= 0 {
			return unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, fd, nil)
		}
	}
	return nil
}

func (p *epollPoller) loop() {
	defer p.stopped.Done()
	events := make([]unix.EpollEvent, 64)
	for {
		select {
		case <-p.stop:
			return
		default:
		}
		p.mu.RLock()
		epfd := p.epfd
		p.mu.RUnlock()
		if epfd < 0 {
			return
		}
		n, err := unix.EpollWait(epfd, events, 100)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			return
		}
		for i := 0; i < n; i++ {
			ev := events[i]
			p.mu.RLock()
			reg := p.regs[int(ev.Fd)]
			p.mu.RUnlock()
			if reg == nil {
				continue
			}
			if ev.Events&(unix.EPOLLERR|unix.EPOLLHUP) != 0 {
				reg.handler(Event{Conn: reg.conn, Type: IOError, Err: errors.New("asyncio: connection error")})
				continue
			}
			if ev.Events&unix.EPOLLIN != 0 {
				reg.handler(Event{Conn: reg.conn, Type: Readable})
			}
			if ev.Events&unix.EPOLLOUT != 0 {
				reg.handler(Event{Conn: reg.conn, Type: Writable})
			}
		}
	}
}
