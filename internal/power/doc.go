// Package power remaps the scheduler cadence from the host power state.
//
// On charging hosts the watchdog ticks more often and tolerates less
// staleness; on battery it backs off. A change rewrites the cadence in place
// and takes effect from the next tick; the scheduler is never restarted.
package power
