//go:build linux

package asyncio

// NewPoller returns the platform poller: epoll on Linux.
func NewPoller() Poller { return newEpollPoller() }
