package service

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestThrottleSpacesSimultaneousSends(t *testing.T) {
	interval := 30 * time.Millisecond
	th := NewThrottle(interval, time.Second, 16, 8)
	go th.Run()
	defer th.Shutdown()

	var mu sync.Mutex
	var stamps []time.Time
	var wg sync.WaitGroup
	wg.Add(5)

	for i := 0; i < 5; i++ {
		err := th.Schedule(func() {
			mu.Lock()
			stamps = append(stamps, time.Now())
			mu.Unlock()
			wg.Done()
		})
		require.NoError(t, err)
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, stamps, 5)
	for i := 1; i < len(stamps); i++ {
		gap := stamps[i].Sub(stamps[i-1])
		require.GreaterOrEqual(t, gap, interval, "execution %d followed too quickly", i)
		require.False(t, stamps[i].Before(stamps[i-1]), "timestamps must be non-decreasing")
	}
}

func TestThrottleGrowsWithQueueDepth(t *testing.T) {
	interval := 20 * time.Millisecond
	th := NewThrottle(interval, time.Second, 16, 8)
	go th.Run()
	defer th.Shutdown()

	var mu sync.Mutex
	var stamps []time.Time
	var wg sync.WaitGroup
	wg.Add(4)

	for i := 0; i < 4; i++ {
		require.NoError(t, th.Schedule(func() {
			mu.Lock()
			stamps = append(stamps, time.Now())
			mu.Unlock()
			wg.Done()
		}))
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	// Later positions in the window wait longer than earlier ones.
	first := stamps[1].Sub(stamps[0])
	last := stamps[3].Sub(stamps[2])
	require.GreaterOrEqual(t, last, first)
}

func TestThrottleIdleReset(t *testing.T) {
	interval := 200 * time.Millisecond
	th := NewThrottle(interval, 250*time.Millisecond, 16, 8)
	go th.Run()
	defer th.Shutdown()

	done := make(chan struct{})
	require.NoError(t, th.Schedule(func() { close(done) }))
	<-done

	// Let the window go idle, then the next send should run immediately
	// instead of inheriting the window's accumulated delay.
	time.Sleep(300 * time.Millisecond)

	start := time.Now()
	again := make(chan struct{})
	require.NoError(t, th.Schedule(func() { close(again) }))
	<-again
	require.Less(t, time.Since(start), interval/2)
}

func TestThrottleBoundedQueue(t *testing.T) {
	th := NewThrottle(time.Hour, time.Hour, 2, 8)
	// Not running: the queue fills up.
	require.NoError(t, th.Schedule(func() {}))
	require.NoError(t, th.Schedule(func() {}))
	require.ErrorIs(t, th.Schedule(func() {}), ErrThrottleFull)
	require.Equal(t, 2, th.QueueDepth())
}
