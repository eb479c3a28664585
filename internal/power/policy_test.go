package power

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/arloliu/lifeline/internal/scheduler"
	"github.com/arloliu/lifeline/internal/signals"
	"github.com/arloliu/lifeline/internal/store"
	lifelinetest "github.com/arloliu/lifeline/testing"
	"github.com/arloliu/lifeline/types"
)

var profiles = Profiles{
	Charging: scheduler.Cadence{Interval: 5 * time.Second, Threshold: 25 * time.Second},
	Battery:  scheduler.Cadence{Interval: 30 * time.Second, Threshold: 60 * time.Second},
}

type recordingSetter struct {
	mu  sync.Mutex
	got []scheduler.Cadence
}

func (r *recordingSetter) SetCadence(c scheduler.Cadence) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, c)
}

func (r *recordingSetter) calls() []scheduler.Cadence {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]scheduler.Cadence(nil), r.got...)
}

func TestPolicy_Apply(t *testing.T) {
	t.Run("maps each state to its profile", func(t *testing.T) {
		target := &recordingSetter{}
		mc := lifelinetest.NewRecordingMetrics()
		p := NewPolicy(target, profiles, WithMetrics(mc), WithLogger(lifelinetest.NewTestLogger(t)))
		require.Equal(t, types.PowerUnknown, p.Current())

		require.True(t, p.Apply(types.PowerCharging))
		require.True(t, p.Apply(types.PowerBattery))

		require.Equal(t, []scheduler.Cadence{profiles.Charging, profiles.Battery}, target.calls())
		require.Equal(t, types.PowerBattery, p.Current())
		require.Equal(t, []types.PowerState{types.PowerCharging, types.PowerBattery}, mc.CadenceChanges())
	})

	t.Run("unchanged state is a no-op", func(t *testing.T) {
		target := &recordingSetter{}
		p := NewPolicy(target, profiles)

		require.True(t, p.Apply(types.PowerBattery))
		require.False(t, p.Apply(types.PowerBattery))
		require.Len(t, target.calls(), 1)
	})

	t.Run("unknown state is ignored", func(t *testing.T) {
		target := &recordingSetter{}
		p := NewPolicy(target, profiles)

		require.False(t, p.Apply(types.PowerUnknown))
		require.Empty(t, target.calls())
	})
}

func TestPolicy_Attach(t *testing.T) {
	target := &recordingSetter{}
	p := NewPolicy(target, profiles)
	src := signals.NewBroadcaster[types.PowerState]()

	cancel := p.Attach(src)
	src.Publish(types.PowerCharging)
	src.Publish(types.PowerCharging)
	src.Publish(types.PowerBattery)
	cancel()
	src.Publish(types.PowerCharging)

	require.Equal(t, []scheduler.Cadence{profiles.Charging, profiles.Battery}, target.calls())
}

func TestPolicy_RewritesSchedulerInPlace(t *testing.T) {
	sched := scheduler.New(store.New(nil), scheduler.Cadence{Interval: 15 * time.Second, Threshold: 30 * time.Second})
	require.NoError(t, sched.Start(t.Context(), scheduler.Run{}))
	defer sched.Stop()

	p := NewPolicy(sched, profiles)
	require.True(t, p.Apply(types.PowerBattery))

	require.Equal(t, profiles.Battery, sched.Cadence())
	require.Equal(t, types.StateActive, sched.State())
	require.Equal(t, uint64(1), sched.Snapshot().Run)
}
