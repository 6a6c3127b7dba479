package execctx

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func fill(b []byte, v byte) {
	for i := range b {
		b[i] = v
	}
}

func allEqual(b []byte, v byte) bool {
	for _, x := range b {
		if x != v {
			return false
		}
	}
	return true
}

func TestSwapPreservesWorkspace(t *testing.T) {
	a := NewArena(64, 256)
	a.Acquire(OwnerPrimary)
	fill(a.Code(), 0xA1)
	fill(a.Data(), 0xA2)

	overlayDone := make(chan struct{})
	go func() {
		defer close(overlayDone)
		a.Acquire(OwnerOverlay)
		assert.Equal(t, OwnerOverlay, a.Owner())
		fill(a.Code(), 0xB1)
		fill(a.Data(), 0xB2)
		a.Release(OwnerOverlay)
	}()

	require.True(t, a.Swap(OwnerPrimary, nil))
	<-overlayDone

	assert.Equal(t, OwnerPrimary, a.Owner())
	assert.True(t, allEqual(a.Code(), 0xA1), "primary code region restored")
	assert.True(t, allEqual(a.Data(), 0xA2), "primary data region restored")
	assert.Equal(t, uint64(1), a.Swaps())
	a.Release(OwnerPrimary)
}

func TestSwapPingPong(t *testing.T) {
	a := NewArena(8, 8)
	a.Acquire(OwnerPrimary)

	var order []Owner
	var mu sync.Mutex
	record := func(o Owner) {
		mu.Lock()
		defer mu.Unlock()
		order = append(order, o)
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		a.Acquire(OwnerOverlay)
		for range 3 {
			record(OwnerOverlay)
			fill(a.Data(), 2)
			if !a.Swap(OwnerOverlay, nil) {
				return
			}
			assert.True(t, allEqual(a.Data(), 2))
		}
		a.Release(OwnerOverlay)
	}()

	for range 3 {
		fill(a.Data(), 1)
		require.True(t, a.Swap(OwnerPrimary, nil))
		assert.True(t, allEqual(a.Data(), 1))
		record(OwnerPrimary)
	}
	a.Release(OwnerPrimary)
	wg.Wait()

	require.Len(t, order, 6)
	for i, o := range order {
		if i%2 == 0 {
			assert.Equal(t, OwnerOverlay, o, "step %d", i)
		} else {
			assert.Equal(t, OwnerPrimary, o, "step %d", i)
		}
	}
}

func TestSwapAbortsWithoutPartner(t *testing.T) {
	a := NewArena(8, 8)
	a.Acquire(OwnerPrimary)
	fill(a.Code(), 3)
	fill(a.Data(), 4)

	var stop sync.Mutex
	stopped := false
	abort := func() bool {
		stop.Lock()
		defer stop.Unlock()
		return stopped
	}

	result := make(chan bool)
	go func() { result <- a.Swap(OwnerPrimary, abort) }()

	time.Sleep(10 * time.Millisecond)
	a.Wake()
	// the released regions get scribbled on while nobody owns them
	fill(a.Code(), 0xEE)
	fill(a.Data(), 0xEE)

	stop.Lock()
	stopped = true
	stop.Unlock()
	a.Wake()

	select {
	case ok := <-result:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("swap did not observe abort")
	}
	assert.Equal(t, OwnerPrimary, a.Owner())
	assert.False(t, a.TryAcquire(OwnerOverlay), "aborted swap keeps the arena")
	assert.True(t, allEqual(a.Code(), 3), "code region restored")
	assert.True(t, allEqual(a.Data(), 4), "data region restored")
	assert.Equal(t, uint64(0), a.Swaps())

	a.Release(OwnerPrimary)
	assert.True(t, a.TryAcquire(OwnerOverlay))
}

func TestInterruptReleasesWaiters(t *testing.T) {
	a := NewArena(8, 8)
	a.Acquire(OwnerOverlay)

	result := make(chan bool)
	go func() { result <- a.Swap(OwnerOverlay, nil) }()

	time.Sleep(5 * time.Millisecond)
	a.Interrupt()
	assert.False(t, <-result)
}

func TestInterruptFailsAcquire(t *testing.T) {
	a := NewArena(8, 8)
	require.True(t, a.Acquire(OwnerPrimary))

	result := make(chan bool)
	go func() { result <- a.Acquire(OwnerOverlay) }()

	time.Sleep(5 * time.Millisecond)
	a.Interrupt()
	assert.False(t, <-result)
	assert.False(t, a.Acquire(OwnerPrimary))
}

func TestSwapRequiresOwnership(t *testing.T) {
	a := NewArena(8, 8)
	assert.False(t, a.Swap(OwnerPrimary, nil))

	a.Acquire(OwnerOverlay)
	assert.False(t, a.Swap(OwnerPrimary, nil))
	a.Release(OwnerPrimary)
	assert.False(t, a.TryAcquire(OwnerPrimary), "release by non-owner is ignored")
	a.Release(OwnerOverlay)
	assert.True(t, a.TryAcquire(OwnerPrimary))
}

func TestSwapIgnoresAbortOnceTaken(t *testing.T) {
	a := NewArena(8, 8)
	a.Acquire(OwnerPrimary)
	fill(a.Data(), 1)

	taken := make(chan struct{})
	release := make(chan struct{})
	go func() {
		a.Acquire(OwnerOverlay)
		fill(a.Data(), 2)
		close(taken)
		<-release
		a.Release(OwnerOverlay)
	}()

	var aborted sync.Mutex
	abortNow := false
	result := make(chan bool)
	go func() {
		result <- a.Swap(OwnerPrimary, func() bool {
			aborted.Lock()
			defer aborted.Unlock()
			return abortNow
		})
	}()

	<-taken
	aborted.Lock()
	abortNow = true
	aborted.Unlock()
	a.Wake()
	close(release)

	require.True(t, <-result)
	assert.True(t, allEqual(a.Data(), 1), "workspace restored after late abort")
	a.Release(OwnerPrimary)
}
