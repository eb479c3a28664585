package testutil

import (
	"time"

	"github.com/arloliu/lifeline"
)

// TimingProfile centralizes shortened intervals for integration tests so they
// stay consistent and can be tuned in one place.
//
// The profile keeps the config invariants:
//   - MaxHeartbeat = HeartbeatMultiplier * MinHeartbeat
//   - StaleThreshold = StaleMultiplier * MaxHeartbeat, always above MaxHeartbeat
//
// Zero fields keep the value already in the config.
type TimingProfile struct {
	MinHeartbeat        time.Duration
	HeartbeatMultiplier float64
	TickInterval        time.Duration
	StaleMultiplier     float64
	Cooldown            time.Duration
	StartupTimeout      time.Duration
	ShutdownTimeout     time.Duration
}

// MakeFast returns an aggressive profile for lifecycle and fleet tests.
func MakeFast() TimingProfile {
	return TimingProfile{
		MinHeartbeat:        50 * time.Millisecond,
		HeartbeatMultiplier: 2,
		TickInterval:        100 * time.Millisecond,
		StaleMultiplier:     3, // 300ms
		Cooldown:            time.Second,
		StartupTimeout:      5 * time.Second,
		ShutdownTimeout:     2 * time.Second,
	}
}

// MakeBroker returns a profile tolerant of broker round trips, for tests that
// kill and restart the NATS server.
func MakeBroker() TimingProfile {
	return TimingProfile{
		MinHeartbeat:        100 * time.Millisecond,
		HeartbeatMultiplier: 2,
		TickInterval:        200 * time.Millisecond,
		StaleMultiplier:     5, // 1s
		Cooldown:            5 * time.Second,
		StartupTimeout:      10 * time.Second,
		ShutdownTimeout:     3 * time.Second,
	}
}

// ApplyTo applies the profile on top of cfg and returns cfg for chaining.
func (tp TimingProfile) ApplyTo(cfg *lifeline.Config) *lifeline.Config {
	lifeline.SetDefaults(cfg)

	if tp.MinHeartbeat > 0 {
		cfg.Heartbeat.MinInterval = tp.MinHeartbeat
		cfg.Heartbeat.MaxInterval = tp.MinHeartbeat
		if tp.HeartbeatMultiplier > 1 {
			cfg.Heartbeat.MaxInterval = time.Duration(float64(tp.MinHeartbeat) * tp.HeartbeatMultiplier)
		}
	}
	if tp.TickInterval > 0 {
		cfg.Scheduler.BaseInterval = tp.TickInterval
	}
	if tp.StaleMultiplier > 1 {
		cfg.Scheduler.StaleThreshold = time.Duration(float64(cfg.Heartbeat.MaxInterval) * tp.StaleMultiplier)
	}
	if tp.Cooldown > 0 {
		cfg.Recovery.Cooldown = tp.Cooldown
	}
	if tp.StartupTimeout > 0 {
		cfg.StartupTimeout = tp.StartupTimeout
	}
	if tp.ShutdownTimeout > 0 {
		cfg.ShutdownTimeout = tp.ShutdownTimeout
	}

	cfg.Power.Charging = lifeline.ProfileConfig{
		BaseInterval:   cfg.Scheduler.BaseInterval,
		StaleThreshold: cfg.Scheduler.StaleThreshold,
	}
	cfg.Power.Battery = lifeline.ProfileConfig{
		BaseInterval:   2 * cfg.Scheduler.BaseInterval,
		StaleThreshold: 2 * cfg.Scheduler.StaleThreshold,
	}

	cfg.Recovery.DisableSelfReload = true

	return cfg
}

// NewConfigFromProfile creates a config with defaults applied and then the profile.
func NewConfigFromProfile(tp TimingProfile) lifeline.Config {
	cfg := lifeline.Config{}
	return *tp.ApplyTo(&cfg)
}
