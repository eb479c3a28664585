package relay

import (
	"github.com/arloliu/lifeline/internal/logging"
	"github.com/arloliu/lifeline/internal/metrics"
	"github.com/arloliu/lifeline/types"
)

const defaultDuplicateWindow = 256

// Option configures a Relay.
type Option func(*Relay)

// WithSelf sets the local instance id; inbound messages from it are dropped.
func WithSelf(id string) Option {
	return func(r *Relay) { r.self = id }
}

// WithLogger sets the logger.
func WithLogger(logger types.Logger) Option {
	return func(r *Relay) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithMetrics sets the metrics collector.
func WithMetrics(m types.MetricsCollector) Option {
	return func(r *Relay) {
		if m != nil {
			r.metrics = m
		}
	}
}

// WithDuplicateWindow sets how many recent fingerprints are kept for duplicate accounting.
func WithDuplicateWindow(n int) Option {
	return func(r *Relay) {
		if n > 0 {
			r.windowSize = n
		}
	}
}

func defaults(r *Relay) {
	r.logger = logging.NewNop()
	r.metrics = metrics.NewNop()
	r.windowSize = defaultDuplicateWindow
}
