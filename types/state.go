package types

// State represents the watchdog scheduler state.
//
// States follow a defined progression:
//
//	StateStopped → StateActive ⇄ StateDegraded
//
// Any state moves to StateStopped on Stop. A new Start begins a fresh run.
type State int

const (
	// StateStopped indicates no run is in progress. No timers or channel handles are held.
	StateStopped State = iota

	// StateActive indicates normal operation at the base tick interval.
	StateActive

	// StateDegraded indicates the host reported hidden/unfocused. The tick interval
	// and staleness threshold are tightened; heartbeats continue.
	StateDegraded
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateStopped:
		return "Stopped"
	case StateActive:
		return "Active"
	case StateDegraded:
		return "Degraded"
	default:
		return "Unknown"
	}
}

// Running reports whether the state belongs to a live run.
func (s State) Running() bool {
	return s == StateActive || s == StateDegraded
}
