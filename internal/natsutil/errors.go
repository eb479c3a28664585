// Package natsutil classifies NATS and JetStream errors.
//
// Kept in internal/natsutil to avoid importing NATS dependencies in the types/ package.
package natsutil

import (
	"errors"
	"strings"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/arloliu/lifeline/types"
)

// jsErrCodeInsufficientResources is the JetStream API error code for a server
// that ran out of storage or memory for the account.
const jsErrCodeInsufficientResources jetstream.ErrorCode = 10023

// IsConnectivityError checks if an error is caused by connectivity issues.
//
// This includes NATS timeouts, connection refused, disconnections, etc.
// The heartbeat store treats these as transient and serves from memory.
//
// Parameters:
//   - err: Error to check
//
// Returns:
//   - bool: true if error indicates connectivity issue
func IsConnectivityError(err error) bool {
	if err == nil {
		return false
	}

	return errors.Is(err, types.ErrConnectivity) ||
		errors.Is(err, nats.ErrTimeout) ||
		errors.Is(err, nats.ErrNoServers) ||
		errors.Is(err, nats.ErrDisconnected) ||
		errors.Is(err, nats.ErrConnectionClosed) ||
		errors.Is(err, jetstream.ErrNoStreamResponse) ||
		strings.Contains(err.Error(), "connection refused") ||
		strings.Contains(err.Error(), "i/o timeout")
}

// IsWriteRejected checks if JetStream refused a write for resource or permission reasons.
//
// These are the "quota/denied" failures of the durable store: retrying does not help
// until an operator intervenes.
//
// Parameters:
//   - err: Error to check
//
// Returns:
//   - bool: true if the write was rejected
func IsWriteRejected(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, types.ErrWriteRejected) ||
		errors.Is(err, nats.ErrPermissionViolation) {
		return true
	}

	var jsErr jetstream.JetStreamError
	if errors.As(err, &jsErr) && jsErr.APIError() != nil &&
		jsErr.APIError().ErrorCode == jsErrCodeInsufficientResources {
		return true
	}

	msg := strings.ToLower(err.Error())

	return strings.Contains(msg, "maximum bytes exceeded") ||
		strings.Contains(msg, "maximum messages exceeded") ||
		strings.Contains(msg, "permissions violation") ||
		strings.Contains(msg, "insufficient resources")
}
