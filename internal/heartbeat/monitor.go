package heartbeat

import (
	"context"
	"errors"
	rand "math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/arloliu/lifeline/internal/backoff"
	"github.com/arloliu/lifeline/internal/logging"
	"github.com/arloliu/lifeline/internal/metrics"
	"github.com/arloliu/lifeline/types"
)

// Common errors for monitor operations.
var (
	ErrNotStarted     = errors.New("monitor not started")
	ErrAlreadyStarted = errors.New("monitor already started")
	ErrNoInstanceID   = errors.New("instance ID not set")
)

const (
	defaultMinInterval = 10 * time.Second
	defaultMaxInterval = 20 * time.Second
	defaultTimeout     = 5 * time.Second
)

// Beat reasons used in logs.
const (
	ReasonCadence  = "cadence"
	ReasonStart    = "start"
	ReasonVisible  = "visible"
	ReasonTeardown = "teardown"
)

// Store records heartbeats.
type Store interface {
	Put(ctx context.Context, id string, ts time.Time) time.Time
}

// Sender broadcasts heartbeats to sibling instances.
type Sender interface {
	Send(ctx context.Context, msg types.Message) error
}

// Monitor publishes periodic heartbeats to a Store and a Sender.
type Monitor struct {
	store   Store
	sender  Sender
	clock   clockwork.Clock
	logger  types.Logger
	metrics types.MetricsCollector
	timeout time.Duration

	minInterval time.Duration
	maxInterval time.Duration
	pace        atomic.Int64

	rngMu sync.Mutex
	rng   *rand.Rand

	mu         sync.Mutex
	started    bool
	instanceID string
	stopCh     chan struct{}
	doneCh     chan struct{}
	kickCh     chan struct{}
	beats      atomic.Int64

	// beatMu is held for reading by every beat; Stop drains it.
	beatMu sync.RWMutex
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithInterval sets the cadence bounds. max below min is raised to min.
func WithInterval(minInterval, maxInterval time.Duration) Option {
	return func(m *Monitor) {
		if minInterval > 0 {
			m.minInterval = minInterval
		}
		if maxInterval > 0 {
			m.maxInterval = maxInterval
		}
		if m.maxInterval < m.minInterval {
			m.maxInterval = m.minInterval
		}
	}
}

// WithClock sets the clock (default: real clock).
func WithClock(clock clockwork.Clock) Option {
	return func(m *Monitor) {
		if clock != nil {
			m.clock = clock
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger types.Logger) Option {
	return func(m *Monitor) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithMetrics sets the metrics collector.
func WithMetrics(mc types.MetricsCollector) Option {
	return func(m *Monitor) {
		if mc != nil {
			m.metrics = mc
		}
	}
}

// WithSeed makes the cadence jitter deterministic. Zero keeps the global PRNG.
func WithSeed(seed int64) Option {
	return func(m *Monitor) { m.rng = backoff.NewRNG(seed) }
}

// WithTimeout bounds each beat issued by the background loop (default 5s).
func WithTimeout(d time.Duration) Option {
	return func(m *Monitor) {
		if d > 0 {
			m.timeout = d
		}
	}
}

// New creates a new liveness monitor.
//
// Parameters:
//   - store: Heartbeat store receiving Put(instanceID, now)
//   - sender: Relay broadcasting heartbeat messages (nil disables broadcasting)
//   - opts: Optional configuration
//
// Returns:
//   - *Monitor: Stopped monitor; call SetInstanceID then Start
func New(store Store, sender Sender, opts ...Option) *Monitor {
	m := &Monitor{
		store:       store,
		sender:      sender,
		clock:       clockwork.NewRealClock(),
		logger:      logging.NewNop(),
		metrics:     metrics.NewNop(),
		timeout:     defaultTimeout,
		minInterval: defaultMinInterval,
		maxInterval: defaultMaxInterval,
	}
	m.pace.Store(1)

	for _, opt := range opts {
		opt(m)
	}

	return m
}

// SetInstanceID sets the instance ID stamped on every heartbeat.
//
// Must be called before Start().
func (m *Monitor) SetInstanceID(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.instanceID = id
}

// InstanceID returns the current instance ID.
func (m *Monitor) InstanceID() string {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.instanceID
}

// SetPace divides the cadence by divisor. Values below 1 are treated as 1.
//
// A change reschedules the pending beat with the new cadence.
func (m *Monitor) SetPace(divisor int) {
	if divisor < 1 {
		divisor = 1
	}
	if m.pace.Swap(int64(divisor)) == int64(divisor) {
		return
	}

	m.mu.Lock()
	kick := m.kickCh
	m.mu.Unlock()

	if kick != nil {
		select {
		case kick <- struct{}{}:
		default:
		}
	}
}

// Pace returns the current cadence divisor.
func (m *Monitor) Pace() int {
	return int(m.pace.Load())
}

// NextInterval draws the delay until the next beat.
func (m *Monitor) NextInterval() time.Duration {
	m.rngMu.Lock()
	d := backoff.Between(m.minInterval, m.maxInterval, m.rng)
	m.rngMu.Unlock()

	return d / time.Duration(m.pace.Load())
}

// Beats returns the number of beats performed since creation.
func (m *Monitor) Beats() int64 {
	return m.beats.Load()
}

// Start begins publishing heartbeats in the background.
//
// Publishes the first heartbeat before returning, then one per cadence
// interval until Stop() is called.
//
// Parameters:
//   - ctx: Context for the initial beat
//
// Returns:
//   - error: ErrAlreadyStarted if already running, ErrNoInstanceID if the ID is not set
func (m *Monitor) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.started {
		return ErrAlreadyStarted
	}

	if m.instanceID == "" {
		return ErrNoInstanceID
	}

	m.started = true
	m.stopCh = make(chan struct{})
	m.doneCh = make(chan struct{})
	m.kickCh = make(chan struct{}, 1)

	m.beat(ctx, m.instanceID, ReasonStart)

	go m.loop(m.instanceID, m.stopCh, m.doneCh, m.kickCh)

	return nil
}

// Stop halts the monitor.
//
// Blocks until the background loop exits and every in-flight Beat returns.
//
// Returns:
//   - error: ErrNotStarted if not running
func (m *Monitor) Stop() error {
	m.mu.Lock()
	if !m.started {
		m.mu.Unlock()
		return ErrNotStarted
	}

	m.started = false
	close(m.stopCh)
	doneCh := m.doneCh
	m.kickCh = nil
	m.mu.Unlock()

	<-doneCh

	m.beatMu.Lock()
	defer m.beatMu.Unlock()

	return nil
}

// IsStarted returns whether the monitor is currently running.
func (m *Monitor) IsStarted() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.started
}

// Beat publishes a heartbeat immediately, outside the cadence.
//
// Used when the instance regains visibility and as a best-effort last write
// before teardown.
//
// Returns:
//   - error: ErrNotStarted if the monitor is not running
func (m *Monitor) Beat(ctx context.Context, reason string) error {
	m.beatMu.RLock()
	defer m.beatMu.RUnlock()

	m.mu.Lock()
	started, id := m.started, m.instanceID
	m.mu.Unlock()

	if !started {
		return ErrNotStarted
	}

	m.beat(ctx, id, reason)

	return nil
}

func (m *Monitor) loop(id string, stopCh, doneCh, kickCh chan struct{}) {
	defer close(doneCh)

	timer := m.clock.NewTimer(m.NextInterval())
	defer timer.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-kickCh:
			timer.Stop()
			timer.Reset(m.NextInterval())
		case <-timer.Chan():
			ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
			m.beat(ctx, id, ReasonCadence)
			cancel()

			timer.Reset(m.NextInterval())
		}
	}
}

// beat writes the store then broadcasts. Store failures are absorbed by the
// store; relay failures are logged and counted.
func (m *Monitor) beat(ctx context.Context, id, reason string) {
	now := m.clock.Now()
	m.store.Put(ctx, id, now)
	m.beats.Add(1)

	var err error
	if m.sender != nil {
		err = m.sender.Send(ctx, types.NewMessage(types.MessageHeartbeat, id, now))
	}

	if err != nil {
		m.logger.Debug("heartbeat broadcast failed", "instance_id", id, "reason", reason, "error", err)
	} else {
		m.logger.Debug("heartbeat", "instance_id", id, "reason", reason, "ts", now.UnixMilli())
	}

	m.metrics.RecordHeartbeat(id, err == nil)
}
