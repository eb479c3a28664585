// Package scheduler implements the watchdog state machine and its tick loop.
//
// # States
//
//	Stopped → Active ⇄ Degraded
//	any     → Stopped
//
// Start moves Stopped to Active, or straight to Degraded when the host is
// already hidden. Visibility moves a run between Active and Degraded. Stop
// ends the run; a later Start begins a fresh one.
//
// The state lives in an explicit Snapshot value. Transitions are pure
// functions over it, so the outcome of Stop can be checked by inspecting the
// snapshot rather than by watching side effects.
//
// # Tick Loop
//
// One goroutine per run waits for the next tick. On every tick it re-reads the
// cadence, compares the age of the aggregate heartbeat with the threshold of
// the current state, and escalates once when the aggregate is stale. Degraded
// divides both the interval and the threshold by DegradedFactor. A visibility
// change re-arms the pending tick from the time of the last one.
package scheduler
