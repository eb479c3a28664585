package store

import (
	"context"
	"encoding/json"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/arloliu/lifeline/internal/logging"
	"github.com/arloliu/lifeline/internal/metrics"
	"github.com/arloliu/lifeline/types"
)

const (
	defaultPrefix  = "lifeline"
	defaultTimeout = 5 * time.Second

	// plainMergeAttempts bounds the read-max-write-verify rounds on backends
	// without MaxMerger.
	plainMergeAttempts = 3
)

// Record is the per-instance heartbeat record.
type Record struct {
	LastActive int64 `json:"lastActive"`
	Alive      bool  `json:"alive"`
}

type recoveryDoc struct {
	AttemptCount int   `json:"attemptCount"`
	WindowStart  int64 `json:"windowStart"`
}

// Store is the heartbeat store.
//
// All methods are safe for concurrent use.
type Store struct {
	backend Backend
	merger  MaxMerger
	prefix  string
	timeout time.Duration
	logger  types.Logger
	metrics types.MetricsCollector

	// mu serializes read-max-write sequences on the memory layer
	mu       sync.Mutex
	local    map[string]string
	degraded atomic.Bool
}

// Option configures a Store.
type Option func(*Store)

// WithPrefix sets the key prefix (default "lifeline").
func WithPrefix(prefix string) Option {
	return func(s *Store) {
		if prefix != "" {
			s.prefix = prefix
		}
	}
}

// WithTimeout bounds every backend operation (default 5s).
func WithTimeout(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger types.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMetrics sets the metrics collector.
func WithMetrics(m types.MetricsCollector) Option {
	return func(s *Store) {
		if m != nil {
			s.metrics = m
		}
	}
}

// New creates a heartbeat store on top of backend.
//
// A nil backend yields a store that only uses its memory layer.
//
// Parameters:
//   - backend: Durable key-value backend (may be nil)
//   - opts: Optional prefix, timeout, logger and metrics
//
// Returns:
//   - *Store: Ready-to-use store
func New(backend Backend, opts ...Option) *Store {
	s := &Store{
		backend: backend,
		prefix:  defaultPrefix,
		timeout: defaultTimeout,
		logger:  logging.NewNop(),
		metrics: metrics.NewNop(),
		local:   make(map[string]string),
	}
	if m, ok := backend.(MaxMerger); ok {
		s.merger = m
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// BackendName returns the backend name, or "memory-only" without a backend.
func (s *Store) BackendName() string {
	if s.backend == nil {
		return "memory-only"
	}

	return s.backend.Name()
}

// Degraded reports whether the most recent backend write failed.
func (s *Store) Degraded() bool {
	return s.degraded.Load()
}

// Put records a heartbeat for id, keeping max(ts, previous), and reconciles the
// aggregate with the stored value.
//
// Parameters:
//   - ctx: Context for backend calls
//   - id: Instance id
//   - ts: Heartbeat time
//
// Returns:
//   - time.Time: The lastActive value now stored for id
func (s *Store) Put(ctx context.Context, id string, ts time.Time) time.Time {
	key := s.recordKey(id)
	remote := s.readRemoteRecord(ctx, key)

	s.mu.Lock()
	prev := newerRecord(s.localRecordLocked(key), remote)
	rec := Record{LastActive: max(ts.UnixMilli(), prev.LastActive), Alive: true}
	data, _ := json.Marshal(rec) // Record always encodes
	s.local[key] = string(data)
	s.mu.Unlock()

	s.writeBackend(ctx, key, string(data))
	s.Reconcile(ctx, time.UnixMilli(rec.LastActive))

	return time.UnixMilli(rec.LastActive)
}

// Record returns the heartbeat record for id.
func (s *Store) Record(ctx context.Context, id string) (Record, bool) {
	key := s.recordKey(id)
	remote := s.readRemoteRecord(ctx, key)

	s.mu.Lock()
	rec := newerRecord(s.localRecordLocked(key), remote)
	s.mu.Unlock()

	return rec, rec.LastActive > 0
}

// Reconcile merges ts into the aggregate: aggregate = max(aggregate, ts).
//
// Returns:
//   - time.Time: The aggregate after the merge
func (s *Store) Reconcile(ctx context.Context, ts time.Time) time.Time {
	key := s.aggregateKey()
	v := ts.UnixMilli()

	s.mu.Lock()
	local := max(parseInt(s.local[key]), v)
	s.local[key] = strconv.FormatInt(local, 10)
	s.mu.Unlock()

	stored := local
	if s.backend != nil {
		if remote, ok := s.mergeBackend(ctx, key, local); ok {
			stored = max(stored, remote)
		}
	}

	s.mu.Lock()
	if stored > parseInt(s.local[key]) {
		s.local[key] = strconv.FormatInt(stored, 10)
	}
	s.mu.Unlock()

	return time.UnixMilli(stored)
}

// Aggregate returns the global aggregate, or the zero time when nothing was observed.
func (s *Store) Aggregate(ctx context.Context) time.Time {
	key := s.aggregateKey()

	s.mu.Lock()
	v := parseInt(s.local[key])
	s.mu.Unlock()

	if remote, ok := s.readBackend(ctx, key); ok {
		v = max(v, parseInt(remote))
	}

	if v <= 0 {
		return time.Time{}
	}

	return time.UnixMilli(v)
}

// LoadRecovery returns the persisted recovery state, or the zero state.
func (s *Store) LoadRecovery(ctx context.Context) types.RecoveryState {
	key := s.recoveryKey()

	s.mu.Lock()
	raw, ok := s.local[key]
	s.mu.Unlock()

	// The backend copy wins: another instance of the group may have escalated.
	if remote, found := s.readBackend(ctx, key); found {
		raw, ok = remote, true
	}
	if !ok {
		return types.RecoveryState{}
	}

	var doc recoveryDoc
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		s.logger.Warn("discarding malformed recovery state", "key", key, "error", err)
		return types.RecoveryState{}
	}

	state := types.RecoveryState{AttemptCount: doc.AttemptCount}
	if doc.WindowStart > 0 {
		state.WindowStart = time.UnixMilli(doc.WindowStart)
	}

	return state
}

// SaveRecovery persists the recovery state.
func (s *Store) SaveRecovery(ctx context.Context, state types.RecoveryState) {
	doc := recoveryDoc{AttemptCount: state.AttemptCount}
	if !state.WindowStart.IsZero() {
		doc.WindowStart = state.WindowStart.UnixMilli()
	}
	data, _ := json.Marshal(doc) // recoveryDoc always encodes

	key := s.recoveryKey()

	s.mu.Lock()
	s.local[key] = string(data)
	s.mu.Unlock()

	s.writeBackend(ctx, key, string(data))
}

// readRemoteRecord reads a record from the backend. It is called without s.mu
// so a slow backend does not block the memory layer.
func (s *Store) readRemoteRecord(ctx context.Context, key string) Record {
	var rec Record
	if raw, ok := s.readBackend(ctx, key); ok {
		_ = json.Unmarshal([]byte(raw), &rec)
	}

	return rec
}

func (s *Store) localRecordLocked(key string) Record {
	var rec Record
	if raw, ok := s.local[key]; ok {
		_ = json.Unmarshal([]byte(raw), &rec)
	}

	return rec
}

func newerRecord(a, b Record) Record {
	if b.LastActive > a.LastActive {
		return b
	}

	return a
}

func (s *Store) readBackend(ctx context.Context, key string) (string, bool) {
	if s.backend == nil {
		return "", false
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	v, found, err := s.backend.Get(ctx, key)
	if err != nil {
		s.metrics.RecordStoreFallback("get")
		s.logger.Debug("store read failed, using memory layer", "backend", s.backend.Name(), "key", key, "error", err)

		return "", false
	}

	return v, found
}

func (s *Store) writeBackend(ctx context.Context, key, value string) {
	if s.backend == nil {
		return
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	s.recordWrite(key, s.backend.Set(ctx, key, value))
}

func (s *Store) mergeBackend(ctx context.Context, key string, v int64) (int64, bool) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if s.merger != nil {
		stored, err := s.merger.MergeMax(ctx, key, v)
		s.recordWrite(key, err)

		return stored, err == nil
	}

	// Without MaxMerger a concurrent writer can replace v with a lower value
	// between Get and Set. Re-reading after the write lets the higher writer
	// put its value back.
	for range plainMergeAttempts {
		raw, found, err := s.backend.Get(ctx, key)
		if err != nil {
			s.metrics.RecordStoreFallback("get")
			return 0, false
		}
		if cur := parseInt(raw); found && cur >= v {
			return cur, true
		}

		err = s.backend.Set(ctx, key, strconv.FormatInt(v, 10))
		s.recordWrite(key, err)
		if err != nil {
			return v, false
		}
	}

	return v, true
}

func (s *Store) recordWrite(key string, err error) {
	if err == nil {
		if s.degraded.CompareAndSwap(true, false) {
			s.logger.Info("store backend recovered", "backend", s.backend.Name())
		}

		return
	}

	s.metrics.RecordStoreFallback("set")
	if s.degraded.CompareAndSwap(false, true) {
		s.logger.Warn("store write failed, continuing with memory layer",
			"backend", s.backend.Name(),
			"key", key,
			"rejected", IsWriteRejected(err),
			"error", err,
		)
	}
}

func (s *Store) recordKey(id string) string { return s.prefix + ".hb." + id }
func (s *Store) aggregateKey() string { return AggregateKey(s.prefix) }
func (s *Store) recoveryKey() string { return s.prefix + ".recovery" }

// AggregateKey returns the backend key holding the aggregate heartbeat for prefix.
func AggregateKey(prefix string) string {
	if prefix == "" {
		prefix = defaultPrefix
	}

	return prefix + ".aggregate"
}

func parseInt(raw string) int64 {
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0
	}

	return v
}
