package power

import (
	"sync"

	"github.com/arloliu/lifeline/internal/logging"
	"github.com/arloliu/lifeline/internal/metrics"
	"github.com/arloliu/lifeline/internal/scheduler"
	"github.com/arloliu/lifeline/internal/signals"
	"github.com/arloliu/lifeline/types"
)

// CadenceSetter receives cadence rewrites.
type CadenceSetter interface {
	SetCadence(c scheduler.Cadence)
}

// Profiles holds the cadence for each known power state.
type Profiles struct {
	Charging scheduler.Cadence
	Battery  scheduler.Cadence
}

// Policy applies a power profile to a scheduler.
type Policy struct {
	target   CadenceSetter
	profiles Profiles
	logger   types.Logger
	metrics  types.MetricsCollector

	mu      sync.Mutex
	current types.PowerState
}

// Option configures a Policy.
type Option func(*Policy)

// WithLogger sets the logger.
func WithLogger(logger types.Logger) Option {
	return func(p *Policy) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithMetrics sets the metrics collector.
func WithMetrics(m types.MetricsCollector) Option {
	return func(p *Policy) {
		if m != nil {
			p.metrics = m
		}
	}
}

// NewPolicy creates a policy targeting target. The initial state is PowerUnknown.
func NewPolicy(target CadenceSetter, profiles Profiles, opts ...Option) *Policy {
	p := &Policy{
		target:   target,
		profiles: profiles,
		logger:   logging.NewNop(),
		metrics:  metrics.NewNop(),
		current:  types.PowerUnknown,
	}
	for _, opt := range opts {
		opt(p)
	}

	return p
}

// Apply rewrites the target cadence for state.
//
// An unchanged state and PowerUnknown are no-ops.
//
// Returns:
//   - bool: true if the cadence was rewritten
func (p *Policy) Apply(state types.PowerState) bool {
	var c scheduler.Cadence
	switch state {
	case types.PowerCharging:
		c = p.profiles.Charging
	case types.PowerBattery:
		c = p.profiles.Battery
	default:
		return false
	}

	p.mu.Lock()
	if p.current == state {
		p.mu.Unlock()
		return false
	}
	prev := p.current
	p.current = state
	p.target.SetCadence(c)
	p.mu.Unlock()

	p.metrics.RecordCadenceChange(state, c.Interval.Seconds())
	p.logger.Info("power state changed",
		"from", prev.String(),
		"to", state.String(),
		"interval", c.Interval,
		"threshold", c.Threshold,
	)

	return true
}

// Attach subscribes the policy to src and returns the unsubscribe function.
func (p *Policy) Attach(src signals.Source[types.PowerState]) (cancel func()) {
	return src.Subscribe(func(state types.PowerState) { p.Apply(state) })
}

// Current returns the last applied power state.
func (p *Policy) Current() types.PowerState {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.current
}
