package lifeline

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/arloliu/lifeline/internal/recovery"
	"github.com/arloliu/lifeline/internal/transport"
	lifelinetest "github.com/arloliu/lifeline/testing"
)

// newTestConfig returns TestConfig isolated to the calling test. The memory
// backend outlives the test, so the prefix is unique per call as well.
func newTestConfig(t *testing.T) *Config {
	t.Helper()

	scope := t.Name() + "-" + uuid.NewString()

	cfg := TestConfig()
	cfg.Store.Prefix = scope
	cfg.Relay.Channel = scope

	return &cfg
}

// countingReloader counts reload requests instead of re-executing the test binary.
func countingReloader(n *atomic.Int64) Option {
	return WithReloader(FuncReloader(func(context.Context) error {
		n.Add(1)
		return nil
	}))
}

func TestNew_NilSafety(t *testing.T) {
	t.Run("without optional dependencies", func(t *testing.T) {
		wd, err := New(newTestConfig(t))

		require.NoError(t, err)
		require.NotNil(t, wd)

		require.NotNil(t, wd.hooks)
		require.NotNil(t, wd.metrics)
		require.NotNil(t, wd.logger)
		require.NotEmpty(t, wd.InstanceID())
		require.Equal(t, StateStopped, wd.State())

		require.NotPanics(t, func() {
			wd.logError("test error", "key", "value")
			wd.onTransition(StateStopped, StateActive)
			wd.onEscalation(Escalation{Attempt: 1})
		})
	})

	t.Run("accepts partial hooks", func(t *testing.T) {
		wd, err := New(newTestConfig(t), WithHooks(&Hooks{}))

		require.NoError(t, err)
		require.NotNil(t, wd.hooks.OnStateChanged)
		require.NotNil(t, wd.hooks.OnEscalation)
		require.NotNil(t, wd.hooks.OnError)
	})
}

func TestNew_Errors(t *testing.T) {
	t.Run("nil config", func(t *testing.T) {
		wd, err := New(nil)

		require.ErrorIs(t, err, ErrInvalidConfig)
		require.Nil(t, wd)
	})

	t.Run("invalid config", func(t *testing.T) {
		cfg := newTestConfig(t)
		cfg.Scheduler.DegradedFactor = 1

		_, err := New(cfg)
		require.ErrorIs(t, err, ErrInvalidConfig)
		require.Contains(t, err.Error(), "DegradedFactor")
	})

	t.Run("unknown backend", func(t *testing.T) {
		cfg := newTestConfig(t)
		cfg.Store.Backend = "etcd"

		_, err := New(cfg)
		require.ErrorIs(t, err, ErrUnknownBackend)
	})

	t.Run("nats backend without connection", func(t *testing.T) {
		cfg := newTestConfig(t)
		cfg.Store.Backend = BackendNATS

		_, err := New(cfg)
		require.ErrorIs(t, err, ErrBackendUnavailable)
	})

	t.Run("redis backend without client", func(t *testing.T) {
		cfg := newTestConfig(t)
		cfg.Store.Backend = BackendRedis

		_, err := New(cfg)
		require.ErrorIs(t, err, ErrBackendUnavailable)
	})
}

func TestWatchdog_Lifecycle(t *testing.T) {
	var reloads atomic.Int64
	mc := lifelinetest.NewRecordingMetrics()

	wd, err := New(newTestConfig(t),
		WithLogger(lifelinetest.NewTestLogger(t)),
		WithMetrics(mc),
		countingReloader(&reloads),
	)
	require.NoError(t, err)

	ctx := t.Context()

	require.ErrorIs(t, wd.Stop(ctx), ErrNotStarted)
	require.Nil(t, wd.Transports())
	require.True(t, wd.Aggregate(ctx).IsZero())

	require.NoError(t, wd.Start(ctx))
	require.Equal(t, StateActive, wd.State())
	require.Equal(t, []string{TransportHub}, wd.Transports())
	require.False(t, wd.Aggregate(ctx).IsZero(), "Start writes the first heartbeat")
	require.ErrorIs(t, wd.Start(ctx), ErrAlreadyStarted)

	snap := wd.Snapshot()
	require.Equal(t, uint64(1), snap.Run)
	require.False(t, snap.Idle())

	require.NoError(t, wd.Stop(ctx))
	require.Equal(t, StateStopped, wd.State())
	require.True(t, wd.Snapshot().Idle())
	require.Nil(t, wd.Transports())
	require.ErrorIs(t, wd.Stop(ctx), ErrNotStarted)

	// A stopped watchdog starts a fresh run.
	require.NoError(t, wd.Start(ctx))
	require.Equal(t, uint64(2), wd.Snapshot().Run)
	require.NoError(t, wd.Stop(ctx))

	ok, _ := mc.Heartbeats()
	require.GreaterOrEqual(t, ok, 2)
	require.Zero(t, reloads.Load())
}

func TestWatchdog_Teardown(t *testing.T) {
	mc := lifelinetest.NewRecordingMetrics()
	wd, err := New(newTestConfig(t), WithMetrics(mc))
	require.NoError(t, err)

	ctx := t.Context()
	require.NoError(t, wd.Start(ctx))
	before, _ := mc.Heartbeats()

	require.NoError(t, wd.Teardown(ctx))
	after, _ := mc.Heartbeats()

	require.Equal(t, StateStopped, wd.State())
	require.Greater(t, after, before, "teardown writes a last heartbeat")
	require.ErrorIs(t, wd.Teardown(ctx), ErrNotStarted)
}

func TestWatchdog_Visibility(t *testing.T) {
	vis := NewBroadcaster[bool]()
	wd, err := New(newTestConfig(t), WithVisibilitySource(vis))
	require.NoError(t, err)

	ctx := t.Context()

	// Start replays the hidden state published before the run.
	vis.Publish(false)
	require.NoError(t, wd.Start(ctx))
	require.Equal(t, StateDegraded, wd.State())

	vis.Publish(true)
	require.NoError(t, <-wd.WaitState(StateActive, time.Second))

	wd.SetVisible(false)
	require.Equal(t, StateDegraded, wd.State())

	require.NoError(t, wd.Stop(ctx))
	require.False(t, wd.Snapshot().Visible, "visibility survives Stop")

	// The source is unsubscribed while stopped.
	vis.Publish(true)
	require.False(t, wd.Snapshot().Visible)
}

func TestWatchdog_Hooks(t *testing.T) {
	transitions := make(chan [2]State, 8)
	hooks := &Hooks{
		OnStateChanged: func(_ context.Context, from, to State) error {
			transitions <- [2]State{from, to}
			return nil
		},
	}

	wd, err := New(newTestConfig(t), WithHooks(hooks))
	require.NoError(t, err)

	ctx := t.Context()
	require.NoError(t, wd.Start(ctx))
	wd.SetVisible(false)
	require.NoError(t, wd.Stop(ctx))

	want := map[[2]State]bool{
		{StateStopped, StateActive}:    true,
		{StateActive, StateDegraded}:   true,
		{StateDegraded, StateStopped}: true,
	}

	// Hooks are asynchronous; order across goroutines is not guaranteed.
	for range len(want) {
		select {
		case got := <-transitions:
			require.True(t, want[got], "unexpected transition %v", got)
			delete(want, got)
		case <-time.After(time.Second):
			t.Fatalf("missing transitions: %v", want)
		}
	}
}

func TestWatchdog_NoBridgeIsSilent(t *testing.T) {
	tests := []struct {
		name string
		opts []Option
	}{
		{name: "bridge disabled", opts: []Option{WithBridge(nil)}},
		{name: "no bridge configured", opts: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var errs atomic.Int64
			hooks := &Hooks{
				OnError: func(context.Context, error) error {
					errs.Add(1)
					return nil
				},
			}

			wd, err := New(newTestConfig(t), append(tt.opts, WithHooks(hooks))...)
			require.NoError(t, err)

			ctx := t.Context()
			require.NoError(t, wd.Start(ctx))
			require.NoError(t, wd.Stop(ctx))

			require.Never(t, func() bool { return errs.Load() > 0 }, 200*time.Millisecond, 10*time.Millisecond)
		})
	}
}

func TestWatchdog_PowerState(t *testing.T) {
	cfg := newTestConfig(t)
	src := NewBroadcaster[PowerState]()
	mc := lifelinetest.NewRecordingMetrics()

	wd, err := New(cfg, WithPowerSource(src), WithMetrics(mc))
	require.NoError(t, err)

	require.Equal(t, PowerUnknown, wd.PowerState())
	require.False(t, wd.SetPowerState(PowerUnknown))

	require.True(t, wd.SetPowerState(PowerCharging))
	require.False(t, wd.SetPowerState(PowerCharging))
	require.Equal(t, PowerCharging, wd.PowerState())

	ctx := t.Context()
	require.NoError(t, wd.Start(ctx))

	src.Publish(PowerBattery)
	require.Equal(t, PowerBattery, wd.PowerState())
	require.Equal(t, []PowerState{PowerCharging, PowerBattery}, mc.CadenceChanges())

	require.NoError(t, wd.Stop(ctx))
}

func TestWatchdog_SiblingRestart(t *testing.T) {
	var reloads atomic.Int64
	cfg := newTestConfig(t)
	cfg.Recovery.DisableSelfReload = false

	wd, err := New(cfg, countingReloader(&reloads))
	require.NoError(t, err)

	ctx := t.Context()
	require.NoError(t, wd.Start(ctx))
	defer func() { _ = wd.Stop(context.Background()) }()

	// A raw hub member stands in for a sibling instance.
	sibling, err := transport.DefaultHub.Open(ctx, cfg.Relay.Channel)
	require.NoError(t, err)
	defer func() { _ = sibling.Close() }()

	acks := make(chan recovery.AckPayload, 4)
	sibling.Listen(func(data []byte) {
		var msg Message
		if json.Unmarshal(data, &msg) != nil || msg.Type != MessageAck {
			return
		}
		var ack recovery.AckPayload
		if json.Unmarshal(msg.Payload, &ack) == nil {
			acks <- ack
		}
	})

	req := NewMessage(MessageRestart, "sibling-1", time.Now())
	data, err := json.Marshal(req)
	require.NoError(t, err)
	require.NoError(t, sibling.Send(ctx, data))

	select {
	case ack := <-acks:
		require.Equal(t, req.Timestamp, ack.Request)
		require.Equal(t, "sibling-1", ack.To)
	case <-time.After(2 * time.Second):
		t.Fatal("restart request was not acknowledged")
	}

	require.Eventually(t, func() bool { return reloads.Load() == 1 }, time.Second, 10*time.Millisecond)

	// A second copy of the same request acts once.
	require.NoError(t, sibling.Send(ctx, data))
	time.Sleep(100 * time.Millisecond)
	require.Equal(t, int64(1), reloads.Load())
}
