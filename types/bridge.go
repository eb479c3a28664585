package types

import "context"

// RecoveryBridge is an optional host capability used as the first escalation step.
//
// Implementations are detected at runtime. A nil bridge is a normal condition
// and the step is skipped silently. Calls are fire-and-forget: the watchdog
// does not wait for them and applies no timeout.
type RecoveryBridge interface {
	// RestartProcess asks the host to restart the supervised process.
	RestartProcess(ctx context.Context) error

	// EnableAutoRestart asks the host to restart the process automatically on exit.
	EnableAutoRestart(ctx context.Context) error
}
