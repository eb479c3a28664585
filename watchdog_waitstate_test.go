package lifeline

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestWatchdog_WaitState_AlreadyInState(t *testing.T) {
	wd, err := New(newTestConfig(t))
	require.NoError(t, err)

	start := time.Now()
	err = <-wd.WaitState(StateStopped, 5*time.Second)

	require.NoError(t, err)
	require.Less(t, time.Since(start), 100*time.Millisecond, "Should return immediately when already in state")
}

func TestWatchdog_WaitState_StateTransition(t *testing.T) {
	wd, err := New(newTestConfig(t))
	require.NoError(t, err)

	errCh := wd.WaitState(StateActive, 2*time.Second)

	go func() {
		time.Sleep(100 * time.Millisecond)
		_ = wd.Start(context.Background())
	}()

	require.NoError(t, <-errCh)
	require.NoError(t, wd.Stop(context.Background()))
}

func TestWatchdog_WaitState_Timeout(t *testing.T) {
	wd, err := New(newTestConfig(t))
	require.NoError(t, err)

	start := time.Now()
	err = <-wd.WaitState(StateDegraded, 300*time.Millisecond)

	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.GreaterOrEqual(t, time.Since(start), 300*time.Millisecond, "Should wait for full timeout")
}

func TestWatchdog_WaitState_MultipleWaiters(t *testing.T) {
	wd, err := New(newTestConfig(t))
	require.NoError(t, err)

	const waiters = 5
	results := make(chan error, waiters)
	for range waiters {
		go func() {
			results <- <-wd.WaitState(StateDegraded, 2*time.Second)
		}()
	}

	ctx := t.Context()
	require.NoError(t, wd.Start(ctx))
	wd.SetVisible(false)

	for i := range waiters {
		require.NoError(t, <-results, "waiter %d should succeed", i)
	}
	require.NoError(t, wd.Stop(ctx))
}
