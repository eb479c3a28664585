package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/arloliu/lifeline/internal/logging"
	"github.com/arloliu/lifeline/internal/metrics"
	"github.com/arloliu/lifeline/internal/relay"
	"github.com/arloliu/lifeline/types"
)

const defaultDegradedFactor = 2

// Store is the part of the heartbeat store the scheduler reads and reconciles.
type Store interface {
	Aggregate(ctx context.Context) time.Time
	Reconcile(ctx context.Context, ts time.Time) time.Time
}

// Escalator runs the recovery chain.
type Escalator interface {
	Escalate(ctx context.Context) types.Escalation
	HandleRestart(ctx context.Context, msg types.Message) bool
}

// Monitor is the liveness monitor of one run.
type Monitor interface {
	Start(ctx context.Context) error
	Stop() error
	SetPace(divisor int)
}

// Relay is the channel relay of one run.
type Relay interface {
	OnMessage(handler relay.Handler) (cancel func())
	Close() error
}

// Run bundles the per-run components. The scheduler owns them from Start
// until Stop returns. Any of them may be nil.
type Run struct {
	Relay     Relay
	Monitor   Monitor
	Escalator Escalator
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithClock sets the clock.
func WithClock(clock clockwork.Clock) Option {
	return func(s *Scheduler) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger types.Logger) Option {
	return func(s *Scheduler) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMetrics sets the metrics collector.
func WithMetrics(m types.MetricsCollector) Option {
	return func(s *Scheduler) {
		if m != nil {
			s.metrics = m
		}
	}
}

// WithDegradedFactor sets the Degraded divisor (default 2).
func WithDegradedFactor(factor int) Option {
	return func(s *Scheduler) {
		if factor > 1 {
			s.factor = factor
		}
	}
}

// WithTransitionHandler registers fn to observe state transitions.
//
// fn runs synchronously with the transition and must not call back into the scheduler.
func WithTransitionHandler(fn func(from, to types.State)) Option {
	return func(s *Scheduler) { s.onTransition = fn }
}

// WithEscalationHandler registers fn to observe every escalation outcome.
func WithEscalationHandler(fn func(types.Escalation)) Option {
	return func(s *Scheduler) { s.onEscalation = fn }
}

// Scheduler drives the tick loop of one watchdog instance.
type Scheduler struct {
	store   Store
	clock   clockwork.Clock
	logger  types.Logger
	metrics types.MetricsCollector
	factor  int
	cadence atomic.Pointer[Cadence]

	onTransition func(from, to types.State)
	onEscalation func(types.Escalation)

	ticks       atomic.Int64
	escalations atomic.Int64

	mu       sync.Mutex
	snap     Snapshot
	run      Run
	cancel   context.CancelFunc
	stopCh   chan struct{}
	doneCh   chan struct{}
	rearmCh  chan chan struct{}
	unlisten func()
	handlers sync.WaitGroup
}

// New creates a stopped scheduler.
//
// Parameters:
//   - store: Heartbeat store read on every tick
//   - cadence: Initial Active cadence
//   - opts: Optional configuration
//
// Returns:
//   - *Scheduler: Scheduler in the Stopped state
func New(store Store, cadence Cadence, opts ...Option) *Scheduler {
	s := &Scheduler{
		store:   store,
		clock:   clockwork.NewRealClock(),
		logger:  logging.NewNop(),
		metrics: metrics.NewNop(),
		factor:  defaultDegradedFactor,
		snap:    Initial(),
	}
	s.cadence.Store(&cadence)

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Start begins a run with the given components.
//
// The relay handler is attached, then the monitor is started (it writes its
// first heartbeat before returning), then the tick loop is armed.
//
// Returns:
//   - error: types.ErrAlreadyStarted if a run is active, or the monitor start error
func (s *Scheduler) Start(ctx context.Context, run Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next, ok := Start(s.snap)
	if !ok {
		return types.ErrAlreadyStarted
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))

	var unlisten func()
	if run.Relay != nil {
		esc := run.Escalator
		unlisten = run.Relay.OnMessage(func(transport string, msg types.Message) {
			s.handleMessage(runCtx, esc, transport, msg)
		})
	}

	if run.Monitor != nil {
		run.Monitor.SetPace(s.paceFor(next.State))
		if err := run.Monitor.Start(ctx); err != nil {
			cancel()
			s.releaseRelay(run, unlisten)
			return err
		}
	}

	prev := s.snap.State
	s.snap = next
	s.run = run
	s.cancel = cancel
	s.unlisten = unlisten
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})
	s.rearmCh = make(chan chan struct{})

	s.transitioned(prev, next.State)

	// The first tick is armed here so a later SetCadence only affects the ticks after it.
	eff := Effective(s.Cadence(), next.State, s.factor)
	armed := s.clock.Now()
	timer := s.clock.NewTimer(eff.Interval)

	go s.loop(runCtx, run.Escalator, timer, armed, s.stopCh, s.doneCh, s.rearmCh)

	s.logger.Info("watchdog started",
		"run", next.Run,
		"state", next.State.String(),
		"interval", eff.Interval,
		"threshold", eff.Threshold,
	)

	return nil
}

// Stop ends the run.
//
// On return the tick timer is stopped, the monitor is halted, the relay is
// closed and every in-flight message handler has finished. Nothing scheduled
// by this run fires afterwards.
//
// Returns:
//   - Snapshot: The stopped snapshot
//   - error: types.ErrNotStarted if no run is active
func (s *Scheduler) Stop() (Snapshot, error) {
	s.mu.Lock()
	if !s.snap.State.Running() {
		snap := s.snap
		s.mu.Unlock()
		return snap, types.ErrNotStarted
	}

	prev := s.snap.State
	s.snap = Stop(s.snap)
	run := s.run
	s.run = Run{}
	close(s.stopCh)
	doneCh := s.doneCh
	cancel := s.cancel
	unlisten := s.unlisten
	s.unlisten = nil
	s.transitioned(prev, types.StateStopped)
	s.mu.Unlock()

	<-doneCh

	if run.Monitor != nil {
		if err := run.Monitor.Stop(); err != nil {
			s.logger.Debug("monitor stop", "error", err)
		}
	}

	s.releaseRelay(run, unlisten)
	cancel()
	s.handlers.Wait()

	s.logger.Info("watchdog stopped", "ticks", s.ticks.Load(), "escalations", s.escalations.Load())

	return s.Snapshot(), nil
}

// SetVisible reports foreground visibility.
//
// While running, a change moves the run between Active and Degraded without
// restarting it: the monitor pace is updated and the pending tick is re-armed
// from the time of the last tick with the new interval.
func (s *Scheduler) SetVisible(visible bool) {
	s.mu.Lock()
	prev := s.snap
	if visible {
		s.snap = Show(s.snap)
	} else {
		s.snap = Hide(s.snap)
	}
	next := s.snap
	run := s.run
	rearmCh, doneCh := s.rearmCh, s.doneCh

	if prev.State == next.State {
		s.mu.Unlock()
		return
	}

	if run.Monitor != nil {
		run.Monitor.SetPace(s.paceFor(next.State))
	}
	s.transitioned(prev.State, next.State)
	s.mu.Unlock()

	eff := Effective(s.Cadence(), next.State, s.factor)
	s.logger.Info("visibility changed",
		"visible", visible,
		"state", next.State.String(),
		"interval", eff.Interval,
		"threshold", eff.Threshold,
	)

	// Wait until the loop re-armed, unless the run ended meanwhile.
	ack := make(chan struct{})
	select {
	case rearmCh <- ack:
		<-ack
	case <-doneCh:
	}
}

// SetCadence replaces the Active cadence. The loop picks it up when it arms the next tick.
func (s *Scheduler) SetCadence(c Cadence) {
	s.cadence.Store(&c)
}

// Cadence returns the Active cadence.
func (s *Scheduler) Cadence() Cadence {
	return *s.cadence.Load()
}

// Effective returns the cadence of the current state.
func (s *Scheduler) Effective() Cadence {
	s.mu.Lock()
	state := s.snap.State
	s.mu.Unlock()

	return Effective(s.Cadence(), state, s.factor)
}

// Snapshot returns the current state.
func (s *Scheduler) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.snap
}

// State returns the current state.
func (s *Scheduler) State() types.State {
	return s.Snapshot().State
}

// Ticks returns the number of ticks evaluated since creation.
func (s *Scheduler) Ticks() int64 {
	return s.ticks.Load()
}

// Escalations returns the number of escalations triggered since creation.
func (s *Scheduler) Escalations() int64 {
	return s.escalations.Load()
}

func (s *Scheduler) loop(
	ctx context.Context,
	esc Escalator,
	timer clockwork.Timer,
	last time.Time,
	stopCh, doneCh chan struct{},
	rearmCh chan chan struct{},
) {
	defer close(doneCh)
	defer timer.Stop()

	// coldFired is set once a zero aggregate escalated in this run.
	coldFired := false

	for {
		select {
		case <-stopCh:
			return

		case ack := <-rearmCh:
			timer.Stop()
			wait := last.Add(s.Effective().Interval).Sub(s.clock.Now())
			timer.Reset(max(wait, 0))
			close(ack)

		case <-timer.Chan():
			last = s.clock.Now()
			coldFired = s.tick(ctx, esc, last, coldFired)
			timer.Reset(s.Effective().Interval)
		}
	}
}

// tick evaluates staleness once and returns the updated cold-start flag.
func (s *Scheduler) tick(ctx context.Context, esc Escalator, now time.Time, coldFired bool) bool {
	s.mu.Lock()
	state := s.snap.State
	s.mu.Unlock()

	eff := Effective(s.Cadence(), state, s.factor)
	agg := s.store.Aggregate(ctx)
	s.ticks.Add(1)

	var stale bool
	age := -1.0

	if agg.IsZero() {
		// Never observed: escalate once, then wait for a heartbeat to land.
		stale = !coldFired
		coldFired = true
	} else {
		coldFired = false
		ageDur := now.Sub(agg)
		age = ageDur.Seconds()
		stale = ageDur > eff.Threshold
	}

	s.metrics.RecordTick(state, age, stale)

	if !stale {
		return coldFired
	}

	s.logger.Warn("aggregate heartbeat stale",
		"state", state.String(),
		"aggregate", agg,
		"age_seconds", age,
		"threshold", eff.Threshold,
	)

	s.escalations.Add(1)
	if esc == nil {
		return coldFired
	}

	outcome := esc.Escalate(ctx)
	if s.onEscalation != nil {
		s.onEscalation(outcome)
	}

	return coldFired
}

// handleMessage runs on a relay delivery goroutine. The relay guarantees no
// call is in flight once it is closed, which Stop does before waiting on handlers.
func (s *Scheduler) handleMessage(ctx context.Context, esc Escalator, transport string, msg types.Message) {
	if ctx.Err() != nil {
		return
	}

	switch msg.Type {
	case types.MessageHeartbeat:
		s.store.Reconcile(ctx, msg.Time())
	case types.MessageRestart:
		if esc == nil {
			return
		}

		// Off the delivery goroutine: the handler sends an ack and may reload.
		s.handlers.Add(1)
		go func() {
			defer s.handlers.Done()
			if ctx.Err() != nil {
				return
			}
			esc.HandleRestart(ctx, msg)
		}()
	case types.MessageAck:
		s.logger.Debug("restart acknowledged", "transport", transport, "from", msg.Sender, "payload", string(msg.Payload))
	}
}

func (s *Scheduler) releaseRelay(run Run, unlisten func()) {
	if unlisten != nil {
		unlisten()
	}
	if run.Relay != nil {
		if err := run.Relay.Close(); err != nil {
			s.logger.Debug("relay close", "error", err)
		}
	}
}

func (s *Scheduler) paceFor(state types.State) int {
	if state == types.StateDegraded {
		return s.factor
	}

	return 1
}

func (s *Scheduler) transitioned(from, to types.State) {
	if from == to {
		return
	}

	s.metrics.RecordStateTransition(from, to)
	if s.onTransition != nil {
		s.onTransition(from, to)
	}
}
