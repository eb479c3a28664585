// Package recovery implements the escalation chain run when the aggregate
// heartbeat goes stale.
//
// Every escalation attempts three steps in order, regardless of the outcome of
// the previous one:
//
//  1. Ask the host recovery bridge to restart the process, if one is present
//  2. Broadcast a restart request so sibling instances reload themselves
//  3. Reload the current process, unless the attempt guard suppresses it
//
// The attempt guard is persisted through the heartbeat store so every instance
// of the process group shares it. Within one cooldown window the attempt count
// saturates at MaxAttempts; once it is saturated, self-reload is suppressed
// while steps 1 and 2 still run. The first escalation after the window expires
// starts a new window with a count of one.
package recovery
