package lifeline

import (
	"github.com/jonboulle/clockwork"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
)

// Option configures a Watchdog with optional dependencies.
type Option func(*watchdogOptions)

// watchdogOptions holds optional Watchdog configuration.
type watchdogOptions struct {
	logger     Logger
	metrics    MetricsCollector
	hooks      *Hooks
	nc         *nats.Conn
	redis      redis.UniversalClient
	backend    StoreBackend
	transports []TransportCandidate
	bridge     RecoveryBridge
	bridgeSet  bool
	reloader   Reloader
	clock      clockwork.Clock
	visibility VisibilitySource
	power      PowerSource
}

// WithLogger sets a logger.
//
// Parameters:
//   - logger: Logger implementation (compatible with zap.SugaredLogger)
//
// Returns:
//   - Option: Functional option for New
//
// Example:
//
//	logger := zap.NewExample().Sugar()
//	wd, err := lifeline.New(&cfg, lifeline.WithLogger(logger))
func WithLogger(logger Logger) Option {
	return func(o *watchdogOptions) {
		o.logger = logger
	}
}

// WithMetrics sets a metrics collector.
//
// Parameters:
//   - metrics: MetricsCollector implementation
//
// Returns:
//   - Option: Functional option for New
func WithMetrics(metrics MetricsCollector) Option {
	return func(o *watchdogOptions) {
		o.metrics = metrics
	}
}

// WithHooks sets lifecycle event hooks.
//
// Parameters:
//   - hooks: Hooks structure with callback functions, nil callbacks are ignored
//
// Returns:
//   - Option: Functional option for New
//
// Example:
//
//	hooks := &lifeline.Hooks{
//	    OnEscalation: func(ctx context.Context, e lifeline.Escalation) error {
//	        log.Printf("escalation #%d suppressed=%v", e.Attempt, e.Suppressed)
//	        return nil
//	    },
//	}
//	wd, err := lifeline.New(&cfg, lifeline.WithHooks(hooks))
func WithHooks(hooks *Hooks) Option {
	return func(o *watchdogOptions) {
		o.hooks = hooks
	}
}

// WithNATS provides the NATS connection used by the "nats" store backend
// and the "nats" and "jetstream" relay transports.
func WithNATS(nc *nats.Conn) Option {
	return func(o *watchdogOptions) {
		o.nc = nc
	}
}

// WithRedis provides the Redis client used by the "redis" store backend and relay transport.
func WithRedis(client redis.UniversalClient) Option {
	return func(o *watchdogOptions) {
		o.redis = client
	}
}

// WithBackend overrides the store backend selected by Store.Backend.
//
// A backend shared between processes should implement store MaxMerger
// (MergeMax) so the aggregate is merged atomically; see StoreBackend.
//
// Parameters:
//   - backend: Backend implementation, nil falls back to Store.Backend
//
// Returns:
//   - Option: Functional option for New
func WithBackend(backend StoreBackend) Option {
	return func(o *watchdogOptions) {
		o.backend = backend
	}
}

// WithTransports replaces the candidate list built from Relay.Transports.
//
// Candidates are probed in the given order at every Start.
func WithTransports(candidates ...TransportCandidate) Option {
	return func(o *watchdogOptions) {
		o.transports = candidates
	}
}

// WithBridge sets the recovery bridge. Passing nil disables the bridge even
// when Bridge commands are configured.
func WithBridge(bridge RecoveryBridge) Option {
	return func(o *watchdogOptions) {
		o.bridge = bridge
		o.bridgeSet = true
	}
}

// WithReloader sets the self-reload step. The default re-executes the current binary.
func WithReloader(reloader Reloader) Option {
	return func(o *watchdogOptions) {
		o.reloader = reloader
	}
}

// WithClock sets the clock driving ticks, heartbeats and cooldown windows.
func WithClock(clock clockwork.Clock) Option {
	return func(o *watchdogOptions) {
		o.clock = clock
	}
}

// WithVisibilitySource subscribes the watchdog to visibility changes while running.
//
// Example:
//
//	vis := lifeline.NewBroadcaster[bool]()
//	wd, _ := lifeline.New(&cfg, lifeline.WithVisibilitySource(vis))
func WithVisibilitySource(src VisibilitySource) Option {
	return func(o *watchdogOptions) {
		o.visibility = src
	}
}

// WithPowerSource subscribes the watchdog's power policy to power state changes.
func WithPowerSource(src PowerSource) Option {
	return func(o *watchdogOptions) {
		o.power = src
	}
}
