package reaper

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOutstandingTracksLaunchAndDone(t *testing.T) {
	r := New(4)
	assert.Equal(t, int64(0), r.Outstanding())

	r.Launch(1)
	r.Launch(2)
	assert.Equal(t, int64(2), r.Outstanding())

	r.Done(1)
	// Outstanding only decreases once the completion is actually drained.
	assert.Equal(t, int64(2), r.Outstanding())

	r.Drain()
	assert.Equal(t, int64(1), r.Outstanding())
}

func TestWaitBlocksUntilNReaped(t *testing.T) {
	r := New(4)
	r.Launch(1)
	r.Launch(2)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		r.Done(1)
		r.Done(2)
	}()

	ids := r.Wait(2)
	wg.Wait()
	require.Len(t, ids, 2)
	assert.ElementsMatch(t, []int{1, 2}, ids)
	assert.Equal(t, int64(0), r.Outstanding())
}

func TestDrainIsNonBlockingWhenEmpty(t *testing.T) {
	r := New(4)
	ids := r.Drain()
	assert.Empty(t, ids)
}

func TestDrainCollectsEverythingCurrentlyAvailable(t *testing.T) {
	r := New(4)
	r.Launch(1)
	r.Launch(2)
	r.Launch(3)
	r.Done(1)
	r.Done(2)

	ids := r.Drain()
	assert.ElementsMatch(t, []int{1, 2}, ids)
	assert.Equal(t, int64(1), r.Outstanding())
}
