package lifeline

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	lifelinetest "github.com/arloliu/lifeline/testing"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	require.Equal(t, 10*time.Second, cfg.Heartbeat.MinInterval)
	require.Equal(t, 20*time.Second, cfg.Heartbeat.MaxInterval)
	require.Equal(t, 15*time.Second, cfg.Scheduler.BaseInterval)
	require.Equal(t, 30*time.Second, cfg.Scheduler.StaleThreshold)
	require.Equal(t, 2, cfg.Scheduler.DegradedFactor)
	require.Equal(t, 5, cfg.Recovery.MaxAttempts)
	require.Equal(t, 60*time.Second, cfg.Recovery.Cooldown)
	require.False(t, cfg.Recovery.DisableSelfReload)
	require.Equal(t, BackendMemory, cfg.Store.Backend)
	require.Equal(t, []string{TransportHub, TransportNATS, TransportJetStream, TransportRedis}, cfg.Relay.Transports)
	require.NoError(t, cfg.Validate())
}

func TestSetDefaults(t *testing.T) {
	t.Run("applies defaults to empty config", func(t *testing.T) {
		cfg := Config{}
		SetDefaults(&cfg)

		require.Equal(t, DefaultConfig(), cfg)
	})

	t.Run("preserves custom values", func(t *testing.T) {
		cfg := Config{
			Heartbeat: HeartbeatConfig{MinInterval: time.Second, MaxInterval: 2 * time.Second},
			Scheduler: SchedulerConfig{BaseInterval: 3 * time.Second, StaleThreshold: 9 * time.Second, DegradedFactor: 3},
			Recovery:  RecoveryConfig{MaxAttempts: 2, Cooldown: time.Minute},
			Store:     StoreConfig{Backend: BackendFile, Path: "/tmp/x.json"},
			Relay:     RelayConfig{Channel: "custom"},
		}
		SetDefaults(&cfg)

		require.Equal(t, time.Second, cfg.Heartbeat.MinInterval)
		require.Equal(t, 2*time.Second, cfg.Heartbeat.MaxInterval)
		require.Equal(t, 3*time.Second, cfg.Scheduler.BaseInterval)
		require.Equal(t, 9*time.Second, cfg.Scheduler.StaleThreshold)
		require.Equal(t, 3, cfg.Scheduler.DegradedFactor)
		require.Equal(t, 2, cfg.Recovery.MaxAttempts)
		require.Equal(t, BackendFile, cfg.Store.Backend)
		require.Equal(t, "/tmp/x.json", cfg.Store.Path)
		require.Equal(t, "custom", cfg.Relay.Channel)
	})

	t.Run("max interval follows a large min", func(t *testing.T) {
		cfg := Config{Heartbeat: HeartbeatConfig{MinInterval: time.Minute}}
		SetDefaults(&cfg)

		require.Equal(t, time.Minute, cfg.Heartbeat.MaxInterval)
	})

	t.Run("explicit empty transport list is kept", func(t *testing.T) {
		cfg := Config{Relay: RelayConfig{Transports: []string{}}}
		SetDefaults(&cfg)

		require.NotNil(t, cfg.Relay.Transports)
		require.Empty(t, cfg.Relay.Transports)
	})
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "threshold must exceed heartbeat max",
			mutate:  func(c *Config) { c.Scheduler.StaleThreshold = c.Heartbeat.MaxInterval },
			wantErr: "Scheduler.StaleThreshold",
		},
		{
			name:    "degraded factor above one",
			mutate:  func(c *Config) { c.Scheduler.DegradedFactor = 1 },
			wantErr: "DegradedFactor",
		},
		{
			name:    "max below min",
			mutate:  func(c *Config) { c.Heartbeat.MaxInterval = c.Heartbeat.MinInterval - time.Second },
			wantErr: "Heartbeat.MaxInterval",
		},
		{
			name:    "battery profile threshold",
			mutate:  func(c *Config) { c.Power.Battery.StaleThreshold = time.Second },
			wantErr: "Power.battery.StaleThreshold",
		},
		{
			name:    "at least one attempt",
			mutate:  func(c *Config) { c.Recovery.MaxAttempts = -1 },
			wantErr: "MaxAttempts",
		},
		{
			name:    "unknown backend",
			mutate:  func(c *Config) { c.Store.Backend = "etcd" },
			wantErr: "unknown store backend",
		},
		{
			name:    "unknown transport",
			mutate:  func(c *Config) { c.Relay.Transports = []string{TransportHub, "carrier-pigeon"} },
			wantErr: "carrier-pigeon",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)

			err := cfg.Validate()
			require.Error(t, err)
			require.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestConfig_ValidateWithWarnings(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Scheduler.DegradedFactor = 8
	cfg.Recovery.DisableSelfReload = true
	cfg.Relay.Transports = []string{}

	require.NotPanics(t, func() {
		cfg.ValidateWithWarnings(lifelinetest.NewTestLogger(t))
	})
}

func TestTestConfig(t *testing.T) {
	cfg := TestConfig()

	require.NoError(t, cfg.Validate())
	require.True(t, cfg.Recovery.DisableSelfReload)
	require.Equal(t, []string{TransportHub}, cfg.Relay.Transports)
	require.Less(t, cfg.Scheduler.BaseInterval, time.Second)
}

func TestConfig_YAMLRoundTrip(t *testing.T) {
	doc := `
heartbeat:
  minInterval: 2s
  maxInterval: 4s
scheduler:
  baseInterval: 5s
  staleThreshold: 12s
  degradedFactor: 3
recovery:
  maxAttempts: 3
  cooldown: 2m
store:
  backend: file
  path: /var/lib/lifeline/state.json
relay:
  channel: kiosk
  transports: [hub, nats]
bridge:
  restartCommand: [systemctl, restart, kiosk]
`
	var cfg Config
	require.NoError(t, yaml.Unmarshal([]byte(doc), &cfg))
	SetDefaults(&cfg)

	require.Equal(t, 2*time.Second, cfg.Heartbeat.MinInterval)
	require.Equal(t, 12*time.Second, cfg.Scheduler.StaleThreshold)
	require.Equal(t, 3, cfg.Scheduler.DegradedFactor)
	require.Equal(t, 2*time.Minute, cfg.Recovery.Cooldown)
	require.Equal(t, BackendFile, cfg.Store.Backend)
	require.Equal(t, "kiosk", cfg.Relay.Channel)
	require.Equal(t, []string{TransportHub, TransportNATS}, cfg.Relay.Transports)
	require.Equal(t, []string{"systemctl", "restart", "kiosk"}, cfg.Bridge.RestartCommand)
	require.NoError(t, cfg.Validate())
}

func TestLoadConfig(t *testing.T) {
	t.Run("missing file yields defaults", func(t *testing.T) {
		cfg, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
		require.NoError(t, err)
		require.Equal(t, DefaultConfig().Scheduler, cfg.Scheduler)
	})

	t.Run("file and environment", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "lifeline.yaml")
		require.NoError(t, os.WriteFile(path, []byte("relay:\n  channel: from-file\nconnections:\n  natsUrl: nats://file:4222\n"), 0o600))

		t.Setenv(EnvNATSURL, "nats://env:4222")
		t.Setenv(EnvStorePath, "/tmp/env.json")

		cfg, err := LoadConfig(path)
		require.NoError(t, err)
		require.Equal(t, "from-file", cfg.Relay.Channel)
		require.Equal(t, "nats://env:4222", cfg.Connections.NATSURL)
		require.Equal(t, "/tmp/env.json", cfg.Store.Path)
	})

	t.Run("malformed file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "bad.yaml")
		require.NoError(t, os.WriteFile(path, []byte("relay: [unterminated"), 0o600))

		_, err := LoadConfig(path)
		require.Error(t, err)
		require.Contains(t, err.Error(), "parse config")
	})
}
