//go:build !linux

package asyncio

// NewPoller returns the platform poller. Platforms without a native
// implementation here get the manually driven one.
func NewPoller() Poller { return NewManualPoller() }
