package recovery

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"github.com/arloliu/lifeline/internal/store"
	lifelinetest "github.com/arloliu/lifeline/testing"
	"github.com/arloliu/lifeline/types"
)

var epoch = time.UnixMilli(1_700_000_000_000)

type recordingSender struct {
	mu   sync.Mutex
	msgs []types.Message
	err  error
}

func (s *recordingSender) Send(_ context.Context, msg types.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.msgs = append(s.msgs, msg)
	return s.err
}

func (s *recordingSender) count(typ types.MessageType) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, m := range s.msgs {
		if m.Type == typ {
			n++
		}
	}
	return n
}

func (s *recordingSender) last() types.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.msgs[len(s.msgs)-1]
}

type fakeBridge struct {
	restarts    chan struct{}
	autoRestart chan struct{}
	err         error
}

func newFakeBridge() *fakeBridge {
	return &fakeBridge{restarts: make(chan struct{}, 32), autoRestart: make(chan struct{}, 4)}
}

func (b *fakeBridge) RestartProcess(context.Context) error {
	b.restarts <- struct{}{}
	return b.err
}

func (b *fakeBridge) EnableAutoRestart(context.Context) error {
	b.autoRestart <- struct{}{}
	return b.err
}

type fixture struct {
	esc     *Escalator
	store   *store.Store
	sender  *recordingSender
	bridge  *fakeBridge
	clock   *clockwork.FakeClock
	reloads *atomic.Int64
}

func newFixture(t *testing.T, cfg Config, opts ...Option) *fixture {
	t.Helper()

	f := &fixture{
		store:   store.New(nil),
		sender:  &recordingSender{},
		bridge:  newFakeBridge(),
		clock:   clockwork.NewFakeClockAt(epoch),
		reloads: &atomic.Int64{},
	}

	base := []Option{
		WithClock(f.clock),
		WithBridge(f.bridge),
		WithSelf("instance-a"),
		WithLogger(lifelinetest.NewTestLogger(t)),
		WithReloader(FuncReloader(func(context.Context) error {
			f.reloads.Add(1)
			return nil
		})),
	}
	f.esc = New(f.store, f.sender, cfg, append(base, opts...)...)

	return f
}

func defaultConfig() Config {
	return Config{MaxAttempts: 5, Cooldown: 60 * time.Second, SelfReload: true}
}

func waitBridge(t *testing.T, ch <-chan struct{}, n int) {
	t.Helper()
	for i := range n {
		select {
		case <-ch:
		case <-time.After(time.Second):
			t.Fatalf("bridge call %d of %d not observed", i+1, n)
		}
	}
}

func TestEscalate_FirstAttempt(t *testing.T) {
	f := newFixture(t, defaultConfig())

	esc := f.esc.Escalate(t.Context())

	require.Equal(t, epoch, esc.At)
	require.Equal(t, 1, esc.Attempt)
	require.Equal(t, 1, esc.AttemptCount)
	require.True(t, esc.BridgeInvoked)
	require.True(t, esc.Broadcast)
	require.True(t, esc.Reloaded)
	require.False(t, esc.Suppressed)

	waitBridge(t, f.bridge.restarts, 1)
	require.Equal(t, int64(1), f.reloads.Load())

	restart := f.sender.last()
	require.Equal(t, types.MessageRestart, restart.Type)
	require.Equal(t, epoch.UnixMilli(), restart.Timestamp)
	require.Equal(t, "instance-a", restart.Sender)

	state := f.store.LoadRecovery(t.Context())
	require.Equal(t, 1, state.AttemptCount)
	require.Equal(t, epoch, state.WindowStart)
}

func TestEscalate_SixthAttemptSuppressesReload(t *testing.T) {
	f := newFixture(t, defaultConfig())

	for i := 1; i <= 5; i++ {
		f.clock.Advance(5 * time.Second)
		esc := f.esc.Escalate(t.Context())
		require.Equal(t, i, esc.AttemptCount)
		require.False(t, esc.Suppressed)
		require.True(t, esc.Reloaded)
	}

	f.clock.Advance(5 * time.Second)
	esc := f.esc.Escalate(t.Context())

	require.Equal(t, 6, esc.Attempt)
	require.Equal(t, 5, esc.AttemptCount)
	require.True(t, esc.Suppressed)
	require.False(t, esc.Reloaded)
	require.True(t, esc.Broadcast, "restart broadcast still sent")
	require.True(t, esc.BridgeInvoked, "bridge still invoked")

	require.Equal(t, int64(5), f.reloads.Load())
	require.Equal(t, 6, f.sender.count(types.MessageRestart))
	waitBridge(t, f.bridge.restarts, 6)
}

func TestEscalate_AttemptCountIsBounded(t *testing.T) {
	for _, n := range []int{1, 3, 5, 6, 12} {
		f := newFixture(t, defaultConfig())

		for range n {
			f.clock.Advance(time.Second)
			f.esc.Escalate(t.Context())
		}

		require.Equal(t, min(n, 5), f.store.LoadRecovery(t.Context()).AttemptCount, "n=%d", n)
		require.Equal(t, int64(min(n, 5)), f.reloads.Load(), "n=%d", n)
	}
}

func TestEscalate_CooldownResetsWindow(t *testing.T) {
	f := newFixture(t, defaultConfig())

	for range 6 {
		f.esc.Escalate(t.Context())
	}
	require.True(t, f.esc.Escalate(t.Context()).Suppressed)

	// Still inside the window: exactly at the boundary nothing resets.
	f.clock.Advance(60 * time.Second)
	require.True(t, f.esc.Escalate(t.Context()).Suppressed)

	f.clock.Advance(time.Millisecond)
	esc := f.esc.Escalate(t.Context())
	require.False(t, esc.Suppressed)
	require.Equal(t, 1, esc.Attempt)
	require.Equal(t, 1, esc.AttemptCount)

	state := f.store.LoadRecovery(t.Context())
	require.True(t, state.WindowStart.Equal(epoch.Add(60*time.Second+time.Millisecond)))
}

func TestEscalate_GuardIsSharedThroughStore(t *testing.T) {
	shared := store.New(nil)
	clock := clockwork.NewFakeClockAt(epoch)
	var reloads atomic.Int64
	reloader := FuncReloader(func(context.Context) error { reloads.Add(1); return nil })

	a := New(shared, nil, defaultConfig(), WithClock(clock), WithReloader(reloader))
	b := New(shared, nil, defaultConfig(), WithClock(clock), WithReloader(reloader))

	for range 3 {
		a.Escalate(t.Context())
	}
	require.Equal(t, 4, b.Escalate(t.Context()).AttemptCount)
	require.Equal(t, 5, b.Escalate(t.Context()).AttemptCount)
	require.True(t, b.Escalate(t.Context()).Suppressed)
	require.Equal(t, int64(5), reloads.Load())
}

func TestEscalate_OptionalSteps(t *testing.T) {
	t.Run("nil bridge is skipped silently", func(t *testing.T) {
		f := newFixture(t, defaultConfig(), WithBridge(nil))

		esc := f.esc.Escalate(t.Context())
		require.False(t, esc.BridgeInvoked)
		require.True(t, esc.Reloaded)
	})

	t.Run("self reload disabled", func(t *testing.T) {
		cfg := defaultConfig()
		cfg.SelfReload = false
		f := newFixture(t, cfg)

		esc := f.esc.Escalate(t.Context())
		require.False(t, esc.Reloaded)
		require.False(t, esc.Suppressed)
		require.Zero(t, f.reloads.Load())
	})

	t.Run("failures do not stop later steps", func(t *testing.T) {
		mc := lifelinetest.NewRecordingMetrics()
		f := newFixture(t, defaultConfig(), WithMetrics(mc),
			WithReloader(FuncReloader(func(context.Context) error { return errors.New("denied") })))
		f.bridge.err = errors.New("no host")
		f.sender.err = errors.New("no transport")

		esc := f.esc.Escalate(t.Context())
		require.True(t, esc.BridgeInvoked)
		require.False(t, esc.Broadcast)
		require.False(t, esc.Reloaded)
		require.Equal(t, []bool{false}, mc.Escalations())
		waitBridge(t, f.bridge.restarts, 1)
	})

	t.Run("defaults applied", func(t *testing.T) {
		e := New(store.New(nil), nil, Config{})
		require.Equal(t, 5, e.Config().MaxAttempts)
		require.Equal(t, 60*time.Second, e.Config().Cooldown)
	})
}

func TestEnableAutoRestart(t *testing.T) {
	f := newFixture(t, defaultConfig())
	require.True(t, f.esc.EnableAutoRestart(t.Context()))
	waitBridge(t, f.bridge.autoRestart, 1)

	none := New(store.New(nil), nil, defaultConfig())
	require.False(t, none.EnableAutoRestart(t.Context()))
}

func TestHandleRestart(t *testing.T) {
	restart := types.NewMessage(types.MessageRestart, "instance-b", epoch)

	t.Run("acks and reloads once per request", func(t *testing.T) {
		f := newFixture(t, defaultConfig())

		require.True(t, f.esc.HandleRestart(t.Context(), restart))
		require.False(t, f.esc.HandleRestart(t.Context(), restart), "duplicate delivery")
		require.Equal(t, int64(1), f.reloads.Load())
		require.Equal(t, 1, f.sender.count(types.MessageAck))

		ack := f.sender.last()
		var payload AckPayload
		require.NoError(t, json.Unmarshal(ack.Payload, &payload))
		require.Equal(t, AckPayload{Request: epoch.UnixMilli(), To: "instance-b"}, payload)

		later := types.NewMessage(types.MessageRestart, "instance-b", epoch.Add(time.Second))
		require.True(t, f.esc.HandleRestart(t.Context(), later))
		require.Equal(t, int64(2), f.reloads.Load())
	})

	t.Run("saturated guard acks without reloading", func(t *testing.T) {
		f := newFixture(t, defaultConfig())
		f.store.SaveRecovery(t.Context(), types.RecoveryState{AttemptCount: 5, WindowStart: epoch})

		require.False(t, f.esc.HandleRestart(t.Context(), restart))
		require.Zero(t, f.reloads.Load())
		require.Equal(t, 1, f.sender.count(types.MessageAck))
	})

	t.Run("expired saturated guard allows reload", func(t *testing.T) {
		f := newFixture(t, defaultConfig())
		f.store.SaveRecovery(t.Context(), types.RecoveryState{AttemptCount: 5, WindowStart: epoch})
		f.clock.Advance(2 * time.Minute)

		require.True(t, f.esc.HandleRestart(t.Context(), restart))
	})

	t.Run("other message types are ignored", func(t *testing.T) {
		f := newFixture(t, defaultConfig())
		require.False(t, f.esc.HandleRestart(t.Context(), types.NewMessage(types.MessageHeartbeat, "b", epoch)))
		require.Zero(t, f.sender.count(types.MessageAck))
	})
}

func TestState(t *testing.T) {
	f := newFixture(t, defaultConfig())
	f.esc.Escalate(t.Context())
	f.esc.Escalate(t.Context())

	require.Equal(t, 2, f.esc.State(t.Context()).AttemptCount)

	f.clock.Advance(61 * time.Second)
	require.Equal(t, types.RecoveryState{}, f.esc.State(t.Context()))
}

func TestFuncReloader(t *testing.T) {
	called := false
	var r Reloader = FuncReloader(func(context.Context) error {
		called = true
		return nil
	})

	require.NoError(t, r.Reload(t.Context()))
	require.True(t, called)
}
