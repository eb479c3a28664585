// Package types provides core type definitions and interfaces for the lifeline library.
//
// This package contains shared types that are used across multiple packages in the
// lifeline library. By keeping these types in a separate package, we avoid import cycles
// between the root lifeline package and its internal implementations.
//
// Key types:
//   - State: Watchdog scheduler state (Stopped, Active, Degraded)
//   - Message: Wire message carried by every transport
//   - PowerState: External power signal value
//   - RecoveryBridge: Optional host capability used during escalation
//   - Logger: Structured logging interface
//   - MetricsCollector: Metrics recording interface
package types
