// Package testutil provides shared helpers for lifeline integration tests.
//
// Helpers fall into four groups:
//   - Fleet: several watchdogs sharing one channel and store
//   - Broker: a NATS server in a separate process that can be killed and restarted
//   - Waiters: parallel WaitState helpers with early failure
//   - Invariants and resource checks: aggregate monotonicity, goroutine leaks
//
// Note: For embedded NATS servers, use the github.com/arloliu/lifeline/testing package.
// This package is specifically for multi-instance scenarios.
package testutil
