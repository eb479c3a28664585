package testutil

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/arloliu/lifeline/types"
)

// Waiter is the subset of Watchdog used for waiting.
// It lets the helpers work with both real watchdogs and test doubles.
type Waiter interface {
	// WaitState waits for the watchdog to reach the expected state within the timeout.
	WaitState(expectedState types.State, timeout time.Duration) <-chan error
}

// WaitAllState waits for every waiter to reach the expected state.
//
// The first failure cancels the remaining waits and is returned. If ctx is
// cancelled first, ctx.Err() is returned.
//
// Parameters:
//   - ctx: Context for cancellation
//   - waiters: Watchdogs to wait on
//   - expectedState: Target state for all of them
//   - timeout: Maximum time to wait for each individual watchdog
//
// Returns:
//   - error: nil if all reached the state, the first error otherwise
//
// Example:
//
//	err := testutil.WaitAllState(ctx, fleet.Waiters(), types.StateActive, 5*time.Second)
//	require.NoError(t, err, "all instances should be active")
func WaitAllState(
	ctx context.Context,
	waiters []Waiter,
	expectedState types.State,
	timeout time.Duration,
) error {
	if len(waiters) == 0 {
		return nil
	}

	var (
		wg       sync.WaitGroup
		errOnce  sync.Once
		firstErr error
	)

	waitCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	wg.Add(len(waiters))
	for i, w := range waiters {
		go func(index int, w Waiter) {
			defer wg.Done()

			select {
			case err := <-w.WaitState(expectedState, timeout):
				if err != nil {
					errOnce.Do(func() {
						firstErr = fmt.Errorf("instance[%d] failed to reach state %s: %w", index, expectedState, err)
						cancel()
					})
				}
			case <-waitCtx.Done():
			}
		}(i, w)
	}

	wg.Wait()

	if firstErr != nil {
		return firstErr
	}

	return ctx.Err()
}

// WaitAnyState waits for the first waiter to reach the expected state.
//
// Returns:
//   - int: Index of the first waiter that reached the state (-1 if none did)
//   - error: nil on success, every waiter's error joined otherwise
func WaitAnyState(
	waiters []Waiter,
	expectedState types.State,
	timeout time.Duration,
) (int, error) {
	if len(waiters) == 0 {
		return -1, errors.New("no waiters provided")
	}

	type result struct {
		index int
		err   error
	}

	resultCh := make(chan result, len(waiters))
	for i, w := range waiters {
		go func(index int, w Waiter) {
			resultCh <- result{index: index, err: <-w.WaitState(expectedState, timeout)}
		}(i, w)
	}

	errs := make([]error, 0, len(waiters))
	for range waiters {
		r := <-resultCh
		if r.err == nil {
			return r.index, nil
		}
		errs = append(errs, fmt.Errorf("instance[%d]: %w", r.index, r.err))
	}

	return -1, fmt.Errorf("no instance reached state %s: %w", expectedState, errors.Join(errs...))
}

// WaitStates waits for one watchdog to pass through states in order.
//
// Example:
//
//	states := []types.State{types.StateActive, types.StateDegraded, types.StateActive}
//	err := testutil.WaitStates(ctx, wd, states, time.Second)
func WaitStates(
	ctx context.Context,
	w Waiter,
	states []types.State,
	timeout time.Duration,
) error {
	for i, state := range states {
		select {
		case err := <-w.WaitState(state, timeout):
			if err != nil {
				return fmt.Errorf("failed to reach state[%d] %s: %w", i, state, err)
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	return nil
}
