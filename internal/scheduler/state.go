package scheduler

import (
	"time"

	"github.com/arloliu/lifeline/types"
)

// Cadence is the pair of constants the tick loop re-reads on every tick.
type Cadence struct {
	// Interval is the time between ticks in Active.
	Interval time.Duration

	// Threshold is the maximum tolerated aggregate age in Active.
	Threshold time.Duration
}

// Effective returns the cadence that applies in state.
//
// Degraded divides both values by factor; factors below 2 are treated as 2 so
// Degraded is always strictly tighter than Active.
func Effective(c Cadence, state types.State, factor int) Cadence {
	if state != types.StateDegraded {
		return c
	}
	if factor < 2 {
		factor = 2
	}

	return Cadence{
		Interval:  c.Interval / time.Duration(factor),
		Threshold: c.Threshold / time.Duration(factor),
	}
}

// Snapshot is the complete scheduler state.
type Snapshot struct {
	State types.State

	// Visible is the last reported foreground visibility. It survives Stop.
	Visible bool

	// Run counts the runs started so far; the current run's number while running.
	Run uint64

	TickArmed      bool
	MonitorRunning bool
	RelayOpen      bool
}

// Idle reports whether the snapshot holds no timer and no channel handle.
func (s Snapshot) Idle() bool {
	return !s.TickArmed && !s.MonitorRunning && !s.RelayOpen
}

// Initial returns the snapshot of a scheduler that never ran.
func Initial() Snapshot {
	return Snapshot{State: types.StateStopped, Visible: true}
}

// Start begins a run. It returns s unchanged and false when a run is active.
func Start(s Snapshot) (Snapshot, bool) {
	if s.State.Running() {
		return s, false
	}

	s.State = types.StateActive
	if !s.Visible {
		s.State = types.StateDegraded
	}
	s.Run++
	s.TickArmed = true
	s.MonitorRunning = true
	s.RelayOpen = true

	return s, true
}

// Hide records hidden visibility; an Active run becomes Degraded.
func Hide(s Snapshot) Snapshot {
	s.Visible = false
	if s.State == types.StateActive {
		s.State = types.StateDegraded
	}

	return s
}

// Show records visible; a Degraded run becomes Active.
func Show(s Snapshot) Snapshot {
	s.Visible = true
	if s.State == types.StateDegraded {
		s.State = types.StateActive
	}

	return s
}

// Stop ends the run and releases every handle.
func Stop(s Snapshot) Snapshot {
	s.State = types.StateStopped
	s.TickArmed = false
	s.MonitorRunning = false
	s.RelayOpen = false

	return s
}
