package asyncio

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orizon-lang/cownrt/internal/runtime/sched"
)

func TestNotifierSchedulesCompletions(t *testing.T) {
	pool, err := sched.NewPool(sched.PoolConfig{Threads: 1})
	require.NoError(t, err)

	n := NewNotifier(pool, 16)
	pool.Start(nil)

	var ran atomic.Int32
	done := make(chan struct{})
	c := sched.NewCown(sched.RunnerFunc(func(*sched.Alloc, sched.State) bool {
		if ran.Add(1) == 3 {
			close(done)
		}
		return false
	}))

	core := pool.Cores()[0]
	for i := 0; i < 3; i++ {
		// Only a sleeping cown can be woken by a completion; wait out the
		// window between the behaviour returning and the cown parking.
		deadline := time.Now().Add(2 * time.Second)
		for !c.IsSleeping() && time.Now().Before(deadline) {
			time.Sleep(time.Millisecond)
		}
		require.True(t, c.IsSleeping(), "cown never went back to sleep")

		n.Post(Completion{Core: core, Cown: c})

		deadline = time.Now().Add(2 * time.Second)
		for ran.Load() != int32(i+1) && time.Now().Before(deadline) {
			time.Sleep(time.Millisecond)
		}
		require.Equal(t, int32(i+1), ran.Load())
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("completions did not all run")
	}
	assert.Equal(t, uint64(3), n.Posted())

	n.Close()
	pool.Wait()
	assert.GreaterOrEqual(t, core.Stats().Snapshot().Lifo, uint64(3))
}

func TestManualPollerFiresHandlers(t *testing.T) {
	p := NewManualPoller()
	require.NoError(t, p.Start())

	var events []Event
	conn := &fakeConn{}
	require.NoError(t, p.Register(conn, []EventType{Readable}, func(e Event) {
		events = append(events, e)
	}))

	assert.True(t, p.Fire(conn, Readable, nil))
	require.Len(t, events, 1)
	assert.Equal(t, Readable, events[0].Type)

	require.NoError(t, p.Deregister(conn))
	assert.False(t, p.Fire(conn, Readable, nil), "deregistered conn must not fire")
	require.NoError(t, p.Stop())
}

func TestManualPollerRejectsWhenStopped(t *testing.T) {
	p := NewManualPoller()
	err := p.Register(&fakeConn{}, []EventType{Readable}, func(Event) {})
	assert.Error(t, err)
}
