package lifeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/redis/go-redis/v9"

	"github.com/arloliu/lifeline/internal/bridge"
	"github.com/arloliu/lifeline/internal/heartbeat"
	"github.com/arloliu/lifeline/internal/hooks"
	"github.com/arloliu/lifeline/internal/logging"
	"github.com/arloliu/lifeline/internal/metrics"
	"github.com/arloliu/lifeline/internal/power"
	"github.com/arloliu/lifeline/internal/recovery"
	"github.com/arloliu/lifeline/internal/relay"
	"github.com/arloliu/lifeline/internal/scheduler"
	"github.com/arloliu/lifeline/internal/store"
	"github.com/arloliu/lifeline/internal/transport"
	"github.com/arloliu/lifeline/types"
)

// processMemory backs the "memory" store so every watchdog in one process shares it.
var processMemory = store.NewMemory()

// Watchdog keeps an application alive across the channels it can reach.
//
// Watchdog is the main entry point of the library. It wires:
//   - A heartbeat store shared with sibling instances
//   - A relay fanning messages out over every transport that probed available
//   - A liveness monitor writing randomized heartbeats
//   - A scheduler ticking in Active or Degraded and escalating on stale aggregates
//   - A recovery escalator bounded by an attempt guard
//   - A power policy rewriting the cadence
//
// Thread Safety:
//   - All public methods are safe for concurrent use
//   - Hooks run in their own goroutines and never block a tick
//
// Lifecycle:
//   - Create with New()
//   - Start with Start(), which writes the first heartbeat before returning
//   - Stop with Stop() or Teardown(); the watchdog can be started again
type Watchdog struct {
	cfg        Config
	instanceID string

	logger  Logger
	metrics MetricsCollector
	hooks   *Hooks
	clock   clockwork.Clock

	store      *store.Store
	candidates []transport.Candidate
	sender     *relaySender
	monitor    *heartbeat.Monitor
	escalator  *recovery.Escalator
	sched      *scheduler.Scheduler
	policy     *power.Policy

	visibility VisibilitySource
	powerSrc   PowerSource

	// runCtx is handed to hooks; it is cancelled when the run stops.
	runCtx atomic.Pointer[context.Context]

	// lifecycle serializes Start and Stop; mu guards the fields below.
	lifecycle sync.Mutex
	mu        sync.Mutex
	running   bool
	cancel    context.CancelFunc
	unsubs    []func()
}

// New creates a stopped watchdog.
//
// The store backend and the transport candidates are resolved here; transports
// are probed on every Start.
//
// Parameters:
//   - cfg: Configuration, defaults are applied in place
//   - opts: Optional dependencies (logger, connections, bridge, sources)
//
// Returns:
//   - *Watchdog: Watchdog in the Stopped state
//   - error: ErrInvalidConfig, ErrUnknownBackend or ErrBackendUnavailable
//
// Example:
//
//	cfg := lifeline.DefaultConfig()
//	cfg.Store.Backend = lifeline.BackendNATS
//	wd, err := lifeline.New(&cfg, lifeline.WithNATS(nc), lifeline.WithLogger(logger))
//	if err != nil {
//	    return err
//	}
//	if err := wd.Start(ctx); err != nil {
//	    return err
//	}
//	defer wd.Teardown(context.Background())
func New(cfg *Config, opts ...Option) (*Watchdog, error) {
	if cfg == nil {
		return nil, ErrInvalidConfig
	}

	SetDefaults(cfg)

	if err := cfg.Validate(); err != nil {
		if errors.Is(err, ErrUnknownBackend) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	options := &watchdogOptions{}
	for _, opt := range opts {
		opt(options)
	}

	metricsCollector := options.metrics
	if metricsCollector == nil {
		metricsCollector = metrics.NewNop()
	}

	loggerInstance := options.logger
	if loggerInstance == nil {
		loggerInstance = logging.NewNop()
	}

	cfg.ValidateWithWarnings(loggerInstance)

	clock := options.clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	w := &Watchdog{
		cfg:        *cfg,
		instanceID: uuid.NewString(),
		logger:     loggerInstance,
		metrics:    metricsCollector,
		hooks:      hooks.Fill(options.hooks),
		clock:      clock,
		visibility: options.visibility,
		powerSrc:   options.power,
		sender:     &relaySender{},
	}
	bg := context.Background()
	w.runCtx.Store(&bg)

	backend := options.backend
	if backend == nil {
		var err error
		backend, err = openBackend(cfg, options.nc, options.redis)
		if err != nil {
			return nil, err
		}
	}

	w.store = store.New(backend,
		store.WithPrefix(cfg.Store.Prefix),
		store.WithTimeout(cfg.Store.Timeout),
		store.WithLogger(loggerInstance),
		store.WithMetrics(metricsCollector),
	)

	w.candidates = options.transports
	if w.candidates == nil {
		w.candidates = buildCandidates(cfg, options.nc, options.redis)
	}

	bridgeInstance := options.bridge
	if !options.bridgeSet {
		bridgeInstance = bridge.Detect(bridge.Config(cfg.Bridge))
	}

	reloader := options.reloader
	if reloader == nil {
		reloader = recovery.ExecReloader{}
	}

	w.monitor = heartbeat.New(w.store, w.sender,
		heartbeat.WithInterval(cfg.Heartbeat.MinInterval, cfg.Heartbeat.MaxInterval),
		heartbeat.WithClock(clock),
		heartbeat.WithLogger(loggerInstance),
		heartbeat.WithMetrics(metricsCollector),
		heartbeat.WithTimeout(cfg.Store.Timeout),
	)
	w.monitor.SetInstanceID(w.instanceID)

	w.escalator = recovery.New(w.store, w.sender,
		recovery.Config{
			MaxAttempts: cfg.Recovery.MaxAttempts,
			Cooldown:    cfg.Recovery.Cooldown,
			SelfReload:  !cfg.Recovery.DisableSelfReload,
		},
		recovery.WithBridge(bridgeInstance),
		recovery.WithReloader(reloader),
		recovery.WithClock(clock),
		recovery.WithLogger(loggerInstance),
		recovery.WithMetrics(metricsCollector),
		recovery.WithSelf(w.instanceID),
	)

	w.sched = scheduler.New(w.store,
		scheduler.Cadence{Interval: cfg.Scheduler.BaseInterval, Threshold: cfg.Scheduler.StaleThreshold},
		scheduler.WithClock(clock),
		scheduler.WithLogger(loggerInstance),
		scheduler.WithMetrics(metricsCollector),
		scheduler.WithDegradedFactor(cfg.Scheduler.DegradedFactor),
		scheduler.WithTransitionHandler(w.onTransition),
		scheduler.WithEscalationHandler(w.onEscalation),
	)

	w.policy = power.NewPolicy(w.sched,
		power.Profiles{
			Charging: scheduler.Cadence{Interval: cfg.Power.Charging.BaseInterval, Threshold: cfg.Power.Charging.StaleThreshold},
			Battery:  scheduler.Cadence{Interval: cfg.Power.Battery.BaseInterval, Threshold: cfg.Power.Battery.StaleThreshold},
		},
		power.WithLogger(loggerInstance),
		power.WithMetrics(metricsCollector),
	)

	loggerInstance.Info("watchdog created",
		"instance", w.instanceID,
		"backend", w.store.BackendName(),
		"candidates", len(w.candidates),
		"bridge", bridgeInstance != nil,
	)

	return w, nil
}

// Start begins a run.
//
// Start probes the transports, writes and broadcasts the first heartbeat, arms
// the tick and finally asks the bridge to enable host auto-restart. Visibility
// and power sources are subscribed for the duration of the run.
//
// Parameters:
//   - ctx: Context bounding probes and the first heartbeat
//
// Returns:
//   - error: ErrAlreadyStarted if running, or the first-heartbeat error
func (w *Watchdog) Start(ctx context.Context) error {
	w.lifecycle.Lock()
	defer w.lifecycle.Unlock()

	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return ErrAlreadyStarted
	}

	startCtx, cancelStart := context.WithTimeout(ctx, w.cfg.StartupTimeout)
	defer cancelStart()

	r := relay.New(startCtx, w.cfg.Relay.Channel, w.candidates,
		relay.WithSelf(w.instanceID),
		relay.WithLogger(w.logger),
		relay.WithMetrics(w.metrics),
	)
	w.sender.set(r)

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	w.runCtx.Store(&runCtx)

	err := w.sched.Start(startCtx, scheduler.Run{
		Relay:     r,
		Monitor:   w.monitor,
		Escalator: w.escalator,
	})
	if err != nil {
		cancel()
		w.sender.clear(r)
		w.mu.Unlock()
		w.reportError(fmt.Errorf("start: %w", err))
		return err
	}

	w.running = true
	w.cancel = cancel
	w.mu.Unlock()

	w.logger.Info("watchdog running",
		"instance", w.instanceID,
		"transports", r.Transports(),
		"state", w.sched.State().String(),
	)

	// Without a bridge there is nothing to enable. Bridge failures are
	// logged by the escalator.
	if w.escalator.EnableAutoRestart(startCtx) {
		w.logger.Debug("auto-restart requested from recovery bridge")
	}

	// Sources replay their last value on subscribe, so subscribe outside the lock.
	var unsubs []func()
	if w.visibility != nil {
		unsubs = append(unsubs, w.visibility.Subscribe(w.SetVisible))
	}
	if w.powerSrc != nil {
		unsubs = append(unsubs, w.policy.Attach(w.powerSrc))
	}

	w.mu.Lock()
	w.unsubs = unsubs
	w.mu.Unlock()

	return nil
}

// Stop ends the run.
//
// After Stop returns no tick, heartbeat or relay handler of the run fires.
// When ctx has no deadline, ShutdownTimeout applies.
//
// Parameters:
//   - ctx: Context bounding the shutdown
//
// Returns:
//   - error: ErrNotStarted if not running, or ctx.Err() on timeout
func (w *Watchdog) Stop(ctx context.Context) error {
	w.lifecycle.Lock()
	defer w.lifecycle.Unlock()

	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return ErrNotStarted
	}
	w.running = false
	unsubs := w.unsubs
	w.unsubs = nil
	cancel := w.cancel
	w.cancel = nil
	r := w.sender.get()
	w.mu.Unlock()

	for _, unsub := range unsubs {
		unsub()
	}

	if _, ok := ctx.Deadline(); !ok {
		var cancelTimeout context.CancelFunc
		ctx, cancelTimeout = context.WithTimeout(ctx, w.cfg.ShutdownTimeout)
		defer cancelTimeout()
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		if _, err := w.sched.Stop(); err != nil {
			w.logger.Debug("scheduler stop", "error", err)
		}
		// A timed-out Stop may finish after the next Start installed its relay.
		w.sender.clear(r)
		cancel()
	}()

	select {
	case <-done:
		w.logger.Info("watchdog stopped", "instance", w.instanceID)
		return nil
	case <-ctx.Done():
		w.logger.Warn("shutdown timeout exceeded", "instance", w.instanceID)
		return ctx.Err()
	}
}

// Teardown writes a last heartbeat and stops the watchdog.
//
// The heartbeat is best-effort: its failure does not prevent Stop.
func (w *Watchdog) Teardown(ctx context.Context) error {
	if err := w.monitor.Beat(ctx, heartbeat.ReasonTeardown); err != nil {
		w.logger.Debug("teardown heartbeat skipped", "error", err)
	}

	return w.Stop(ctx)
}

// SetVisible reports foreground visibility.
//
// Hiding a running watchdog moves it to Degraded; showing it returns to Active
// and writes a heartbeat immediately. While stopped the value is remembered and
// decides the state of the next run.
func (w *Watchdog) SetVisible(visible bool) {
	prev := w.sched.State()
	w.sched.SetVisible(visible)

	if prev == StateDegraded && w.sched.State() == StateActive {
		ctx := *w.runCtx.Load()
		if err := w.monitor.Beat(ctx, heartbeat.ReasonVisible); err != nil {
			w.logger.Debug("visible heartbeat skipped", "error", err)
		}
	}
}

// SetPowerState applies the cadence profile of state.
//
// Returns:
//   - bool: true if the cadence changed
func (w *Watchdog) SetPowerState(state PowerState) bool {
	return w.policy.Apply(state)
}

// PowerState returns the last applied power state.
func (w *Watchdog) PowerState() PowerState {
	return w.policy.Current()
}

// State returns the current scheduler state.
func (w *Watchdog) State() State {
	return w.sched.State()
}

// Snapshot returns a copy of the scheduler state.
func (w *Watchdog) Snapshot() Snapshot {
	return w.sched.Snapshot()
}

// InstanceID returns the identifier this watchdog writes and sends under.
func (w *Watchdog) InstanceID() string {
	return w.instanceID
}

// Aggregate returns the freshest heartbeat across all instances sharing the store.
//
// Returns:
//   - time.Time: Zero when no heartbeat was ever written
func (w *Watchdog) Aggregate(ctx context.Context) time.Time {
	return w.store.Aggregate(ctx)
}

// RecoveryState returns the attempt guard as the next escalation would see it.
func (w *Watchdog) RecoveryState(ctx context.Context) RecoveryState {
	return w.escalator.State(ctx)
}

// Transports returns the names of the transports active in the current run.
func (w *Watchdog) Transports() []string {
	r := w.sender.get()
	if r == nil {
		return nil
	}

	return r.Transports()
}

// StoreDegraded reports whether the store currently serves from memory only.
func (w *Watchdog) StoreDegraded() bool {
	return w.store.Degraded()
}

// Ticks returns the number of ticks evaluated since creation.
func (w *Watchdog) Ticks() int64 {
	return w.sched.Ticks()
}

// WaitState waits for the watchdog to reach the expected state.
//
// Returns a channel that receives nil when the state is reached, or an error
// wrapping context.DeadlineExceeded if the timeout expires first.
//
// Parameters:
//   - expectedState: Target state to wait for
//   - timeout: Maximum duration to wait
//
// Returns:
//   - <-chan error: Receives nil on success or error on timeout
//
// Example:
//
//	if err := <-wd.WaitState(lifeline.StateDegraded, time.Second); err != nil {
//	    log.Fatal(err)
//	}
func (w *Watchdog) WaitState(expectedState State, timeout time.Duration) <-chan error {
	ch := make(chan error, 1)

	go func() {
		defer close(ch)

		ticker := time.NewTicker(50 * time.Millisecond)
		defer ticker.Stop()

		timer := time.NewTimer(timeout)
		defer timer.Stop()

		for {
			if w.State() == expectedState {
				ch <- nil
				return
			}

			select {
			case <-timer.C:
				ch <- fmt.Errorf("waiting for state %s (current: %s): %w", expectedState, w.State(), context.DeadlineExceeded)
				return
			case <-ticker.C:
			}
		}
	}()

	return ch
}

// onTransition runs under the scheduler lock; it must not call back into the scheduler.
func (w *Watchdog) onTransition(from, to State) {
	if !isValidTransition(from, to) {
		w.logger.Error("unexpected state transition", "from", from.String(), "to", to.String())
	}

	w.logger.Info("state transition", "from", from.String(), "to", to.String())

	ctx := *w.runCtx.Load()
	go func() {
		if err := w.hooks.OnStateChanged(ctx, from, to); err != nil {
			w.logError("state change hook error", "from", from.String(), "to", to.String(), "error", err)
		}
	}()
}

func (w *Watchdog) onEscalation(e Escalation) {
	ctx := *w.runCtx.Load()
	go func() {
		if err := w.hooks.OnEscalation(ctx, e); err != nil {
			w.logError("escalation hook error", "attempt", e.Attempt, "error", err)
		}
	}()
}

func (w *Watchdog) reportError(err error) {
	w.logError("watchdog error", "error", err)

	ctx := *w.runCtx.Load()
	go func() {
		if hookErr := w.hooks.OnError(ctx, err); hookErr != nil {
			w.logError("error hook failed", "error", hookErr)
		}
	}()
}

// isValidTransition checks if a state transition is allowed.
func isValidTransition(from, to State) bool {
	validTransitions := map[State][]State{
		StateStopped:  {StateActive, StateDegraded},
		StateActive:   {StateDegraded, StateStopped},
		StateDegraded: {StateActive, StateStopped},
	}

	for _, allowed := range validTransitions[from] {
		if allowed == to {
			return true
		}
	}

	return false
}

func (w *Watchdog) logError(msg string, keysAndValues ...any) {
	if w.logger != nil {
		w.logger.Error(msg, keysAndValues...)
	}
}

// openBackend builds the backend named by cfg.Store.Backend.
func openBackend(cfg *Config, nc *nats.Conn, client redis.UniversalClient) (StoreBackend, error) {
	switch cfg.Store.Backend {
	case BackendMemory:
		return processMemory, nil
	case BackendNATS:
		ctx, cancel := context.WithTimeout(context.Background(), cfg.StartupTimeout)
		defer cancel()

		b, err := store.OpenNATS(ctx, nc, cfg.Store.Bucket, jetstream.FileStorage)
		if err != nil {
			return nil, fmt.Errorf("open nats backend: %w", err)
		}
		return b, nil
	case BackendRedis:
		if client == nil {
			return nil, fmt.Errorf("redis backend: %w", ErrBackendUnavailable)
		}
		return store.NewRedis(client), nil
	case BackendFile:
		b, err := store.NewFile(cfg.Store.Path)
		if err != nil {
			return nil, fmt.Errorf("open file backend: %w", err)
		}
		return b, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, cfg.Store.Backend)
	}
}

// buildCandidates maps transport names to candidates in configured order.
//
// A candidate whose connection is missing is still listed; its probe fails at
// Start and it is omitted from the run.
func buildCandidates(cfg *Config, nc *nats.Conn, client redis.UniversalClient) []transport.Candidate {
	candidates := make([]transport.Candidate, 0, len(cfg.Relay.Transports))
	for _, name := range cfg.Relay.Transports {
		switch name {
		case TransportHub:
			candidates = append(candidates, transport.DefaultHub)
		case TransportNATS:
			candidates = append(candidates, transport.NewNATS(nc, cfg.Relay.SubjectPrefix))
		case TransportJetStream:
			candidates = append(candidates, transport.NewJetStream(nc, cfg.Relay.SubjectPrefix,
				transport.WithStreamName(cfg.Relay.Stream),
				transport.WithStreamMaxAge(cfg.Relay.StreamMaxAge),
			))
		case TransportRedis:
			candidates = append(candidates, transport.NewRedis(client, cfg.Relay.SubjectPrefix))
		}
	}

	return candidates
}

// relaySender forwards to the relay of the current run.
type relaySender struct {
	r atomic.Pointer[relay.Relay]
}

func (s *relaySender) set(r *relay.Relay) { s.r.Store(r) }

func (s *relaySender) get() *relay.Relay { return s.r.Load() }

// clear drops r unless another run has replaced it.
func (s *relaySender) clear(r *relay.Relay) { s.r.CompareAndSwap(r, nil) }

// Send implements heartbeat.Sender and recovery.Sender.
func (s *relaySender) Send(ctx context.Context, msg types.Message) error {
	r := s.r.Load()
	if r == nil {
		return ErrRelayClosed
	}

	return r.Send(ctx, msg)
}
