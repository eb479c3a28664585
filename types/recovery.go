package types

import "time"

// RecoveryState is the persisted escalation guard.
//
// AttemptCount never exceeds the configured maximum; WindowStart marks the
// beginning of the current cooldown window (zero when no escalation happened yet).
type RecoveryState struct {
	AttemptCount int       `json:"attemptCount"`
	WindowStart  time.Time `json:"-"`
}

// Escalation describes the outcome of one escalation.
type Escalation struct {
	// At is the time the escalation started.
	At time.Time

	// Attempt is the logical attempt number within the current window.
	// It keeps counting past the maximum even though the persisted count saturates.
	Attempt int

	// AttemptCount is the persisted, bounded attempt count after this escalation.
	AttemptCount int

	// BridgeInvoked reports whether a recovery bridge was present and called.
	BridgeInvoked bool

	// Broadcast reports whether the restart broadcast was sent without transport errors.
	Broadcast bool

	// Reloaded reports whether the self-reload step ran.
	Reloaded bool

	// Suppressed reports whether self-reload was skipped by the attempt guard.
	Suppressed bool
}
