package blocker

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestWaitReturnsImmediatelyIfRetrySucceeds(t *testing.T) {
	m := NewManager(zerolog.Nop())
	ok := m.Wait(context.Background(), []string{"k"}, time.Second, func() bool { return true })
	require.True(t, ok)
}

func TestWaitWakesOnNotify(t *testing.T) {
	m := NewManager(zerolog.Nop())
	var attempts int32
	done := make(chan bool, 1)

	go func() {
		ok := m.Wait(context.Background(), []string{"k"}, 2*time.Second, func() bool {
			n := atomic.AddInt32(&attempts, 1)
			return n >= 2 // fail the first attempt, succeed after a wake
		})
		done <- ok
	}()

	// Give the goroutine time to park, then push.
	time.Sleep(20 * time.Millisecond)
	m.Notify("k")

	select {
	case ok := <-done:
		require.True(t, ok)
	case <-time.After(time.Second):
		t.Fatal("Wait did not return after Notify")
	}
}

func TestWaitTimesOut(t *testing.T) {
	m := NewManager(zerolog.Nop())
	start := time.Now()
	ok := m.Wait(context.Background(), []string{"k"}, 30*time.Millisecond, func() bool { return false })
	require.False(t, ok)
	require.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
}

func TestWaitCanceledByContext(t *testing.T) {
	m := NewManager(zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan bool, 1)
	go func() {
		done <- m.Wait(ctx, []string{"k"}, 0, func() bool { return false })
	}()
	time.Sleep(10 * time.Millisecond)
	cancel()
	select {
	case ok := <-done:
		require.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("Wait did not return after cancel")
	}
}

func TestUnregisterRemovesWaiterAfterWake(t *testing.T) {
	m := NewManager(zerolog.Nop())
	var attempts int32
	go func() {
		// Give Wait time to park on both keys, then wake it.
		time.Sleep(20 * time.Millisecond)
		m.Notify("k")
	}()
	ok := m.Wait(context.Background(), []string{"k", "k2"}, time.Second, func() bool {
		return atomic.AddInt32(&attempts, 1) >= 2 // fail before parking, succeed after the wake
	})
	require.True(t, ok)
	m.mu.Lock()
	defer m.mu.Unlock()
	require.Empty(t, m.waiters["k"])
	require.Empty(t, m.waiters["k2"])
}
