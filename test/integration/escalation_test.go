package integration_test

import (
	"context"
	"encoding/json"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/arloliu/lifeline"
	"github.com/arloliu/lifeline/internal/store"
	"github.com/arloliu/lifeline/internal/transport"
	"github.com/arloliu/lifeline/test/testutil"
	lifelinetest "github.com/arloliu/lifeline/testing"
)

// stallingBackend blocks heartbeat record writes while stalled, the way a hung
// disk or a saturated broker would, and leaves every other key untouched.
type stallingBackend struct {
	*store.MemoryBackend
	stalled atomic.Bool
}

func (b *stallingBackend) Name() string { return "stalling" }

func (b *stallingBackend) Set(ctx context.Context, key, value string) error {
	for b.stalled.Load() && strings.Contains(key, ".hb.") {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(5 * time.Millisecond):
		}
	}

	return b.MemoryBackend.Set(ctx, key, value)
}

// TestStalledHeartbeat_Escalates stalls an instance's heartbeat writes until its
// aggregate goes stale. It must broadcast restart requests, reload under the
// attempt guard, and stop escalating once writes flow again.
func TestStalledHeartbeat_Escalates(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	t.Parallel()

	cfg := testutil.NewConfigFromProfile(testutil.MakeFast())
	scope := testutil.Scope(t)
	cfg.Store.Prefix = scope
	cfg.Store.Timeout = 2 * time.Second
	cfg.Relay.Channel = scope
	cfg.Relay.Transports = []string{lifeline.TransportHub}
	cfg.Recovery.DisableSelfReload = false
	cfg.Recovery.MaxAttempts = 2
	cfg.Recovery.Cooldown = time.Minute

	backend := &stallingBackend{MemoryBackend: store.NewMemory()}
	mc := lifelinetest.NewRecordingMetrics()
	var reloads atomic.Int64

	wd, err := lifeline.New(&cfg,
		lifeline.WithBackend(backend),
		lifeline.WithBridge(nil),
		lifeline.WithMetrics(mc),
		lifeline.WithLogger(lifelinetest.NewTestLogger(t)),
		lifeline.WithReloader(lifeline.FuncReloader(func(context.Context) error {
			reloads.Add(1)
			return nil
		})),
	)
	require.NoError(t, err)

	ctx := t.Context()

	// A bare hub member stands in for a sibling and collects restart requests.
	sibling, err := transport.DefaultHub.Open(ctx, cfg.Relay.Channel)
	require.NoError(t, err)
	defer func() { _ = sibling.Close() }()

	var restarts atomic.Int64
	sibling.Listen(func(data []byte) {
		var msg lifeline.Message
		if json.Unmarshal(data, &msg) == nil && msg.Type == lifeline.MessageRestart {
			restarts.Add(1)
		}
	})

	require.NoError(t, wd.Start(ctx))
	defer func() { _ = wd.Stop(context.Background()) }()

	backend.stalled.Store(true)

	require.Eventually(t, func() bool { return len(mc.Escalations()) >= 3 }, 3*time.Second, 10*time.Millisecond)
	require.Positive(t, restarts.Load(), "escalation broadcasts a restart request")

	// The attempt guard saturates at MaxAttempts and suppresses further reloads.
	rs := wd.RecoveryState(ctx)
	require.Equal(t, cfg.Recovery.MaxAttempts, rs.AttemptCount)
	require.Equal(t, int64(cfg.Recovery.MaxAttempts), reloads.Load())
	require.Contains(t, mc.Escalations(), true, "escalations past the limit are suppressed")

	// Release the writes; once a heartbeat lands, escalation stops.
	backend.stalled.Store(false)
	require.Eventually(t, func() bool {
		return time.Since(wd.Aggregate(ctx)) < cfg.Scheduler.StaleThreshold
	}, 3*time.Second, 10*time.Millisecond)

	time.Sleep(cfg.Scheduler.BaseInterval)
	settled := len(mc.Escalations())
	time.Sleep(3 * cfg.Scheduler.StaleThreshold)
	require.Equal(t, settled, len(mc.Escalations()), "a fresh aggregate does not escalate")
}
