package instrument

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquire_ExclusiveAndIdempotentRelease(t *testing.T) {
	oven := NewSimulated(25, 1)

	release, err := Acquire(oven)
	require.NoError(t, err)
	assert.True(t, oven.Claimed())

	_, err = Acquire(oven)
	assert.ErrorIs(t, err, ErrClaimed)

	release()
	release()
	assert.False(t, oven.Claimed())

	release2, err := Acquire(oven)
	require.NoError(t, err)
	release2()
}

func TestAcquire_ReleasedOnPanic(t *testing.T) {
	oven := NewSimulated(25, 1)

	func() {
		defer func() { _ = recover() }()
		release, err := Acquire(oven)
		require.NoError(t, err)
		defer release()
		panic("driver fault")
	}()

	assert.False(t, oven.Claimed())
}

func TestLock_ConcurrentClaims(t *testing.T) {
	var l Lock
	var winners atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if l.Claim() {
				winners.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), winners.Load())
}

func TestSimulated_ApproachesTarget(t *testing.T) {
	now := time.Unix(0, 0)
	oven := NewSimulated(25, 1).WithClock(func() time.Time { return now })

	require.True(t, oven.SetTarget(100))
	now = now.Add(10 * time.Second)

	v, ok := oven.ReadValue()
	require.True(t, ok)
	assert.InDelta(t, 100, v, 0.01)
}

func TestSimulated_Disconnected(t *testing.T) {
	oven := NewSimulated(25, 1)
	oven.SetConnected(false)

	_, ok := oven.ReadValue()
	assert.False(t, ok)
	assert.False(t, oven.SetTarget(50))
	assert.False(t, oven.IsConnected())

	oven.SetConnected(true)
	assert.True(t, oven.SetTarget(50))
	assert.Equal(t, 50.0, oven.Target())
}
