package lifeline

import "github.com/arloliu/lifeline/types"

// Sentinel errors returned by the Watchdog.
//
// They alias the definitions in the types package so internal packages and
// callers compare against the same values with errors.Is.
var (
	// ErrInvalidConfig is returned when the configuration is invalid.
	ErrInvalidConfig = types.ErrInvalidConfig

	// ErrAlreadyStarted is returned when Start is called on a running watchdog.
	ErrAlreadyStarted = types.ErrAlreadyStarted

	// ErrNotStarted is returned when Stop is called on a watchdog that isn't running.
	ErrNotStarted = types.ErrNotStarted

	// ErrUnknownBackend is returned when Store.Backend names no known backend.
	ErrUnknownBackend = types.ErrUnknownBackend

	// ErrBackendUnavailable is returned when the configured backend lacks its connection.
	ErrBackendUnavailable = types.ErrBackendUnavailable

	// ErrTransportUnavailable marks a relay transport that failed its probe.
	ErrTransportUnavailable = types.ErrTransportUnavailable

	// ErrRelayClosed is returned when sending through a closed relay.
	ErrRelayClosed = types.ErrRelayClosed
)
