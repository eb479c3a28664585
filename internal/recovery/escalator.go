package recovery

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/arloliu/lifeline/internal/logging"
	"github.com/arloliu/lifeline/internal/metrics"
	"github.com/arloliu/lifeline/types"
)

// Bridge operation names used in metrics.
const (
	OpRestartProcess    = "restart_process"
	OpEnableAutoRestart = "enable_auto_restart"
)

const (
	defaultMaxAttempts = 5
	defaultCooldown    = 60 * time.Second
)

// Store persists the attempt guard.
type Store interface {
	LoadRecovery(ctx context.Context) types.RecoveryState
	SaveRecovery(ctx context.Context, state types.RecoveryState)
}

// Sender broadcasts restart requests and acknowledgements.
type Sender interface {
	Send(ctx context.Context, msg types.Message) error
}

// Config holds the attempt guard settings.
type Config struct {
	// MaxAttempts bounds the persisted attempt count within one cooldown window.
	MaxAttempts int

	// Cooldown is the length of the attempt window, measured from its first escalation.
	Cooldown time.Duration

	// SelfReload enables step 3. When false the chain stops after the broadcast.
	SelfReload bool
}

// AckPayload is the payload of an ack message.
type AckPayload struct {
	// Request is the timestamp of the acknowledged restart request (unix ms).
	Request int64 `json:"request"`

	// To is the instance that sent the request.
	To string `json:"to"`
}

// Escalator runs the recovery chain.
type Escalator struct {
	store    Store
	sender   Sender
	bridge   types.RecoveryBridge
	reloader Reloader
	clock    clockwork.Clock
	logger   types.Logger
	metrics  types.MetricsCollector
	self     string
	cfg      Config

	mu       sync.Mutex
	overflow int
	restarts map[string]int64
}

// Option configures an Escalator.
type Option func(*Escalator)

// WithBridge sets the recovery bridge. nil skips step 1.
func WithBridge(b types.RecoveryBridge) Option {
	return func(e *Escalator) { e.bridge = b }
}

// WithReloader sets the self-reload implementation. nil skips step 3.
func WithReloader(r Reloader) Option {
	return func(e *Escalator) { e.reloader = r }
}

// WithClock sets the clock.
func WithClock(clock clockwork.Clock) Option {
	return func(e *Escalator) {
		if clock != nil {
			e.clock = clock
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger types.Logger) Option {
	return func(e *Escalator) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithMetrics sets the metrics collector.
func WithMetrics(m types.MetricsCollector) Option {
	return func(e *Escalator) {
		if m != nil {
			e.metrics = m
		}
	}
}

// WithSelf sets the local instance id stamped on outgoing messages.
func WithSelf(id string) Option {
	return func(e *Escalator) { e.self = id }
}

// New creates an escalator.
//
// Non-positive MaxAttempts and Cooldown fall back to 5 and 60s.
//
// Parameters:
//   - store: Persistence for the attempt guard
//   - sender: Relay used for restart broadcasts and acks (nil skips step 2)
//   - cfg: Attempt guard settings
//   - opts: Bridge, reloader, clock, logger, metrics
//
// Returns:
//   - *Escalator: Ready escalator
func New(store Store, sender Sender, cfg Config, opts ...Option) *Escalator {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaultMaxAttempts
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = defaultCooldown
	}

	e := &Escalator{
		store:    store,
		sender:   sender,
		cfg:      cfg,
		clock:    clockwork.NewRealClock(),
		logger:   logging.NewNop(),
		metrics:  metrics.NewNop(),
		restarts: make(map[string]int64),
	}
	for _, opt := range opts {
		opt(e)
	}

	return e
}

// Escalate runs the recovery chain once and reports what it did.
//
// The attempt guard is updated and persisted before any step runs. The bridge
// call is fire-and-forget; Escalate does not wait for it.
func (e *Escalator) Escalate(ctx context.Context) types.Escalation {
	e.mu.Lock()
	now := e.clock.Now()
	state := e.store.LoadRecovery(ctx)

	var suppressed bool
	switch {
	case e.expired(state, now):
		state = types.RecoveryState{AttemptCount: 1, WindowStart: now}
		e.overflow = 0
	case state.AttemptCount >= e.cfg.MaxAttempts:
		suppressed = true
		state.AttemptCount = e.cfg.MaxAttempts
		e.overflow++
	default:
		state.AttemptCount++
	}

	e.store.SaveRecovery(ctx, state)
	esc := types.Escalation{
		At:           now,
		Attempt:      state.AttemptCount + e.overflow,
		AttemptCount: state.AttemptCount,
		Suppressed:   suppressed,
	}
	e.mu.Unlock()

	e.logger.Warn("aggregate heartbeat stale, escalating",
		"attempt", esc.Attempt,
		"attempt_count", esc.AttemptCount,
		"max_attempts", e.cfg.MaxAttempts,
		"suppressed", suppressed,
	)

	if e.bridge != nil {
		esc.BridgeInvoked = true
		go e.callBridge(context.WithoutCancel(ctx), OpRestartProcess, e.bridge.RestartProcess)
	}

	if e.sender != nil {
		err := e.sender.Send(ctx, types.NewMessage(types.MessageRestart, e.self, now))
		esc.Broadcast = err == nil
		if err != nil {
			e.logger.Warn("restart broadcast failed", "error", err)
		}
	}

	switch {
	case suppressed:
		e.logger.Warn("self-reload suppressed by attempt guard",
			"attempt_count", esc.AttemptCount,
			"window_start", state.WindowStart,
			"cooldown", e.cfg.Cooldown,
		)
	case e.cfg.SelfReload && e.reloader != nil:
		esc.Reloaded = e.reload(ctx, "escalation")
	}

	e.metrics.RecordEscalation(esc.AttemptCount, suppressed)

	return esc
}

// EnableAutoRestart asks the bridge to restart the process automatically on
// exit. Fire-and-forget; returns false when no bridge is present.
func (e *Escalator) EnableAutoRestart(ctx context.Context) bool {
	if e.bridge == nil {
		return false
	}

	go e.callBridge(context.WithoutCancel(ctx), OpEnableAutoRestart, e.bridge.EnableAutoRestart)

	return true
}

// HandleRestart processes a restart request from a sibling instance.
//
// Requests are deduplicated per sender by timestamp, so the copies delivered
// by several transports act once. Each accepted request is acknowledged; the
// instance then reloads unless the shared attempt guard is saturated.
//
// Returns:
//   - bool: true if the self-reload step ran successfully
func (e *Escalator) HandleRestart(ctx context.Context, msg types.Message) bool {
	if msg.Type != types.MessageRestart {
		return false
	}

	e.mu.Lock()
	if last, ok := e.restarts[msg.Sender]; ok && msg.Timestamp <= last {
		e.mu.Unlock()
		return false
	}
	e.restarts[msg.Sender] = msg.Timestamp

	state := e.store.LoadRecovery(ctx)
	saturated := !e.expired(state, e.clock.Now()) && state.AttemptCount >= e.cfg.MaxAttempts
	e.mu.Unlock()

	e.logger.Info("restart requested by sibling", "from", msg.Sender, "request_ts", msg.Timestamp)

	if e.sender != nil {
		ack := types.NewMessage(types.MessageAck, e.self, e.clock.Now())
		ack.Payload, _ = json.Marshal(AckPayload{Request: msg.Timestamp, To: msg.Sender})
		if err := e.sender.Send(ctx, ack); err != nil {
			e.logger.Debug("restart ack failed", "error", err)
		}
	}

	if saturated {
		e.logger.Warn("sibling restart ignored, attempt guard saturated", "attempt_count", state.AttemptCount)
		return false
	}

	if !e.cfg.SelfReload || e.reloader == nil {
		return false
	}

	return e.reload(ctx, "sibling")
}

// State returns the persisted guard, with an expired window read as zero.
func (e *Escalator) State(ctx context.Context) types.RecoveryState {
	e.mu.Lock()
	defer e.mu.Unlock()

	state := e.store.LoadRecovery(ctx)
	if e.expired(state, e.clock.Now()) {
		return types.RecoveryState{}
	}

	return state
}

// Config returns the effective guard settings.
func (e *Escalator) Config() Config {
	return e.cfg
}

func (e *Escalator) expired(state types.RecoveryState, now time.Time) bool {
	return state.WindowStart.IsZero() || now.Sub(state.WindowStart) > e.cfg.Cooldown
}

func (e *Escalator) reload(ctx context.Context, cause string) bool {
	e.logger.Warn("reloading", "cause", cause)

	if err := e.reloader.Reload(ctx); err != nil {
		e.logger.Error("self-reload failed", "cause", cause, "error", err)
		return false
	}

	return true
}

func (e *Escalator) callBridge(ctx context.Context, op string, fn func(context.Context) error) {
	err := fn(ctx)
	e.metrics.RecordBridgeCall(op, err == nil)
	if err != nil {
		e.logger.Warn("recovery bridge call failed", "operation", op, "error", err)
	}
}
