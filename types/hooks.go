package types

import "context"

// Hooks defines callbacks for watchdog lifecycle events.
//
// All hooks are optional and called asynchronously in background goroutines
// so they never delay a tick. Hooks receive the watchdog's run context, which
// is cancelled when the run stops.
//
// Hook execution behavior:
//   - Hooks run concurrently and may not complete before Stop() returns
//   - Hook errors are logged but don't fail watchdog operations
//
// Example:
//
//	hooks := &lifeline.Hooks{
//	    OnEscalation: func(ctx context.Context, e lifeline.Escalation) error {
//	        alerts <- e
//	        return nil
//	    },
//	}
type Hooks struct {
	// OnStateChanged is called when the scheduler state transitions.
	OnStateChanged func(ctx context.Context, from, to State) error

	// OnEscalation is called after every escalation with its outcome.
	OnEscalation func(ctx context.Context, escalation Escalation) error

	// OnError is called when a recoverable error occurs.
	OnError func(ctx context.Context, err error) error
}
