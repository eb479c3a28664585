package types

import (
	"errors"
	"strings"
)

// Sentinel errors for the lifeline library.
//
// These errors provide type-safe error checking using errors.Is() and errors.As().
// All components should use these sentinel errors for known error conditions
// and wrap external errors with context using fmt.Errorf("%s: %w", msg, err).

// Watchdog errors - Public API errors returned by the Watchdog facade.
var (
	// ErrInvalidConfig is returned when the configuration is invalid.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrAlreadyStarted is returned when Start is called on a running watchdog.
	ErrAlreadyStarted = errors.New("watchdog already started")

	// ErrNotStarted is returned when operations require a started watchdog.
	ErrNotStarted = errors.New("watchdog not started")

	// ErrUnknownBackend is returned when the configured store backend is not recognised.
	ErrUnknownBackend = errors.New("unknown store backend")

	// ErrBackendUnavailable is returned when the configured store backend lacks a connection.
	ErrBackendUnavailable = errors.New("store backend unavailable")
)

// Transport errors - Capability probe results.
var (
	// ErrTransportUnavailable is returned by a transport probe when the capability is absent.
	ErrTransportUnavailable = errors.New("transport unavailable")

	// ErrTransportClosed is returned when sending on a closed transport.
	ErrTransportClosed = errors.New("transport closed")

	// ErrRelayClosed is returned when sending on a closed relay.
	ErrRelayClosed = errors.New("relay closed")
)

// Store errors - Backend failures.
var (
	// ErrWriteRejected indicates the backend refused a write (quota, permission).
	ErrWriteRejected = errors.New("store write rejected")

	// ErrConnectivity indicates a NATS/Redis connectivity issue.
	ErrConnectivity = errors.New("connectivity issue")
)

// Common errors - Shared errors used across multiple components.
var (
	// ErrContextCanceled is returned when an operation is canceled by context.
	ErrContextCanceled = errors.New("operation canceled by context")

	// ErrNoKeysFound is returned when NATS KV returns no keys (expected condition).
	ErrNoKeysFound = errors.New("no keys found")
)

// IsNoKeysFoundError checks if an error indicates that no keys were found in NATS KV.
//
// This function handles NATS-specific "no keys found" errors which may come as:
//   - Direct error: "nats: no keys found"
//   - Wrapped error: "failed to list KV keys: nats: no keys found"
//
// Parameters:
//   - err: The error to check
//
// Returns:
//   - bool: true if the error indicates no keys were found, false otherwise
func IsNoKeysFoundError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrNoKeysFound) {
		return true
	}

	return strings.Contains(err.Error(), "no keys found")
}
