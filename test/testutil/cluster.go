package testutil

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/arloliu/lifeline"
	lifelinetest "github.com/arloliu/lifeline/testing"
	"github.com/arloliu/lifeline/types"
)

// Scope returns a store prefix and relay channel unique to one run of t.
//
// The memory backend and the in-process hub live as long as the test binary,
// so t.Name() alone leaks state between -count repetitions.
func Scope(t testing.TB) string {
	t.Helper()

	return t.Name() + "-" + uuid.NewString()
}

// StateTracker records the states one instance moved into.
//
// Hooks run asynchronously, so the tracker is safe for concurrent use.
type StateTracker struct {
	index  int
	t      *testing.T
	mu     sync.Mutex
	states []types.State
}

// NewStateTracker creates a tracker for the instance at index.
func NewStateTracker(t *testing.T, index int) *StateTracker {
	return &StateTracker{index: index, t: t}
}

// Hook returns an OnStateChanged hook feeding the tracker.
func (st *StateTracker) Hook() func(context.Context, types.State, types.State) error {
	return func(_ context.Context, from, to types.State) error {
		st.t.Logf("instance %d: %s -> %s", st.index, from, to)

		st.mu.Lock()
		st.states = append(st.states, to)
		st.mu.Unlock()

		return nil
	}
}

// HasState reports whether the instance went through state.
func (st *StateTracker) HasState(state types.State) bool {
	st.mu.Lock()
	defer st.mu.Unlock()

	return slices.Contains(st.states, state)
}

// Fleet is a set of watchdogs sharing one config, and so one channel and store.
type Fleet struct {
	t   *testing.T
	cfg lifeline.Config

	Instances []*lifeline.Watchdog
	Metrics   []*lifelinetest.RecordingMetrics
	Trackers  []*StateTracker
}

// NewFleet creates n stopped watchdogs.
//
// Each instance gets its own RecordingMetrics, a test logger and a StateTracker;
// the recovery bridge is disabled. Running instances are stopped on cleanup.
//
// Parameters:
//   - t: Testing context
//   - cfg: Shared config; Store.Prefix and Relay.Channel should be unique per test
//   - n: Number of instances
//   - opts: Extra options applied to every instance (connections, backends)
//
// Returns:
//   - *Fleet: The fleet, not yet started
//
// Example:
//
//	cfg := testutil.NewConfigFromProfile(testutil.MakeFast())
//	cfg.Relay.Channel = t.Name()
//	fleet := testutil.NewFleet(t, cfg, 3, lifeline.WithNATS(nc))
//	fleet.Start(ctx)
func NewFleet(t *testing.T, cfg lifeline.Config, n int, opts ...lifeline.Option) *Fleet {
	t.Helper()

	f := &Fleet{t: t, cfg: cfg}
	for i := range n {
		mc := lifelinetest.NewRecordingMetrics()
		tracker := NewStateTracker(t, i)

		instanceOpts := append([]lifeline.Option{
			lifeline.WithLogger(lifelinetest.NewTestLogger(t)),
			lifeline.WithMetrics(mc),
			lifeline.WithBridge(nil),
			lifeline.WithHooks(&lifeline.Hooks{OnStateChanged: tracker.Hook()}),
		}, opts...)

		instanceCfg := cfg
		wd, err := lifeline.New(&instanceCfg, instanceOpts...)
		require.NoError(t, err, "instance %d", i)

		f.Instances = append(f.Instances, wd)
		f.Metrics = append(f.Metrics, mc)
		f.Trackers = append(f.Trackers, tracker)
	}

	t.Cleanup(f.Stop)

	return f
}

// Config returns the shared config.
func (f *Fleet) Config() lifeline.Config { return f.cfg }

// Start starts every instance, failing the test on the first error.
func (f *Fleet) Start(ctx context.Context) {
	f.t.Helper()

	for i, wd := range f.Instances {
		require.NoError(f.t, wd.Start(ctx), "start instance %d", i)
	}
}

// Stop tears down every running instance.
func (f *Fleet) Stop() {
	for _, wd := range f.Instances {
		if wd.State().Running() {
			_ = wd.Teardown(context.Background())
		}
	}
}

// Crash stops instance i without the teardown heartbeat, as if it was killed.
func (f *Fleet) Crash(i int) {
	f.t.Helper()

	require.NoError(f.t, f.Instances[i].Stop(context.Background()), "crash instance %d", i)
}

// Running returns the instances currently running.
func (f *Fleet) Running() []*lifeline.Watchdog {
	var out []*lifeline.Watchdog
	for _, wd := range f.Instances {
		if wd.State().Running() {
			out = append(out, wd)
		}
	}

	return out
}

// Waiters returns the instances as Waiters.
func (f *Fleet) Waiters() []Waiter {
	out := make([]Waiter, len(f.Instances))
	for i, wd := range f.Instances {
		out[i] = wd
	}

	return out
}

// Readers returns the instances as AggregateReaders.
func (f *Fleet) Readers() []AggregateReader {
	out := make([]AggregateReader, len(f.Instances))
	for i, wd := range f.Instances {
		out[i] = wd
	}

	return out
}

// Escalations returns the number of escalations recorded across the fleet.
func (f *Fleet) Escalations() int {
	total := 0
	for _, mc := range f.Metrics {
		total += len(mc.Escalations())
	}

	return total
}

// String summarizes the fleet for test failure messages.
func (f *Fleet) String() string {
	s := ""
	for i, wd := range f.Instances {
		s += fmt.Sprintf("[%d %s %s] ", i, wd.InstanceID()[:8], wd.State())
	}

	return s
}
