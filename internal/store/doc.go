// Package store implements the heartbeat store shared by every watchdog
// instance of one process group.
//
// # Data Layout
//
// Three kinds of keys live under a common prefix:
//
//	{prefix}.hb.{instanceID}   JSON {"lastActive": <unix ms>, "alive": true}
//	{prefix}.aggregate         decimal unix ms, max(lastActive) over all records
//	{prefix}.recovery          JSON {"attemptCount": n, "windowStart": <unix ms>}
//
// # Merge Rule
//
// Every timestamp write is a max-merge, so writes commute and duplicate or
// reordered deliveries never move a value backwards. Backends that implement
// MaxMerger perform the merge atomically (JetStream revision check, Redis
// WATCH, file lock); others fall back to read-max-write.
//
// # Failure Handling
//
// Each value is also kept in a context-local memory layer. When the backend
// rejects a write the store logs it, records a metric and keeps serving from
// memory. Reads return the max of both layers. No backend error escapes Put
// or Reconcile.
package store
