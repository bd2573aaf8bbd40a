package concurrency

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMPMCRingOrdering(t *testing.T) {
	r := NewMPMCRing[int](8)
	for i := 0; i < 5; i++ {
		require.True(t, r.Put(i))
	}
	for i := 0; i < 5; i++ {
		var v int
		require.True(t, r.Take(&v))
		assert.Equal(t, i, v)
	}
	var v int
	assert.False(t, r.Take(&v), "drained ring should be empty")
}

func TestMPMCRingFullAndCapacityRounding(t *testing.T) {
	r := NewMPMCRing[int](3) // rounds up to 4
	for i := 0; i < 4; i++ {
		require.True(t, r.Put(i))
	}
	assert.False(t, r.Put(99), "ring beyond capacity must reject")

	var v int
	require.True(t, r.Take(&v))
	assert.True(t, r.Put(99), "slot freed by a take must be reusable")
}

func TestMPMCRingConcurrentTransfer(t *testing.T) {
	const (
		producers = 4
		consumers = 4
		perProd   = 1000
	)
	r := NewMPMCRing[int](64)

	var wg sync.WaitGroup
	results := make(chan int, producers*perProd)

	for c := 0; c < consumers; c++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got := 0
			for got < producers*perProd/consumers {
				var v int
				if r.Take(&v) {
					results <- v
					got++
				}
			}
		}()
	}

	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < perProd; i++ {
				v := p*perProd + i
				for !r.Put(v) {
				}
			}
		}(p)
	}

	wg.Wait()
	close(results)

	seen := make(map[int]bool, producers*perProd)
	for v := range results {
		require.False(t, seen[v], "value %d delivered twice", v)
		seen[v] = true
	}
	assert.Len(t, seen, producers*perProd)
}
