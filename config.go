package lifeline

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Store backend names accepted by StoreConfig.Backend.
const (
	BackendMemory = "memory"
	BackendNATS   = "nats"
	BackendRedis  = "redis"
	BackendFile   = "file"
)

// Transport names accepted by RelayConfig.Transports, in default probe order.
const (
	TransportHub       = "hub"
	TransportNATS      = "nats"
	TransportJetStream = "jetstream"
	TransportRedis     = "redis"
)

// Environment variables that override connection settings after the file is loaded.
const (
	EnvNATSURL   = "LIFELINE_NATS_URL"
	EnvRedisURL  = "LIFELINE_REDIS_URL"
	EnvStorePath = "LIFELINE_STORE_PATH"
	EnvChannel   = "LIFELINE_CHANNEL"
)

// HeartbeatConfig controls the liveness monitor.
type HeartbeatConfig struct {
	// MinInterval is the lower bound of the randomized heartbeat period.
	MinInterval time.Duration `yaml:"minInterval"`

	// MaxInterval is the upper bound of the randomized heartbeat period.
	// Must be >= MinInterval.
	MaxInterval time.Duration `yaml:"maxInterval"`
}

// SchedulerConfig controls the watchdog tick.
type SchedulerConfig struct {
	// BaseInterval is the tick period in the Active state.
	BaseInterval time.Duration `yaml:"baseInterval"`

	// StaleThreshold is the aggregate age beyond which a tick escalates.
	// Must exceed Heartbeat.MaxInterval, otherwise a healthy instance escalates.
	StaleThreshold time.Duration `yaml:"staleThreshold"`

	// DegradedFactor divides both the interval and the threshold while hidden.
	// Must be > 1.
	DegradedFactor int `yaml:"degradedFactor"`
}

// RecoveryConfig controls the escalation guard.
type RecoveryConfig struct {
	// MaxAttempts is the number of escalations per cooldown window that may reload.
	MaxAttempts int `yaml:"maxAttempts"`

	// Cooldown is the length of the attempt window.
	Cooldown time.Duration `yaml:"cooldown"`

	// DisableSelfReload skips the self-reload step entirely.
	// Escalations still broadcast and call the bridge.
	DisableSelfReload bool `yaml:"disableSelfReload"`
}

// ProfileConfig is the cadence used under one power state.
type ProfileConfig struct {
	BaseInterval   time.Duration `yaml:"baseInterval"`
	StaleThreshold time.Duration `yaml:"staleThreshold"`
}

// PowerConfig holds the cadence profiles and the sysfs poller settings.
type PowerConfig struct {
	Charging ProfileConfig `yaml:"charging"`
	Battery  ProfileConfig `yaml:"battery"`

	// SysfsRoot is the power_supply class directory polled by the daemon.
	SysfsRoot string `yaml:"sysfsRoot"`

	// PollInterval is how often SysfsRoot is read.
	PollInterval time.Duration `yaml:"pollInterval"`
}

// StoreConfig selects and configures the heartbeat store backend.
type StoreConfig struct {
	// Backend is one of "memory", "nats", "redis" or "file".
	Backend string `yaml:"backend"`

	// Prefix namespaces every key written by the store.
	Prefix string `yaml:"prefix"`

	// Bucket is the NATS KV bucket name (nats backend only).
	Bucket string `yaml:"bucket"`

	// Path is the JSON document path (file backend only).
	Path string `yaml:"path"`

	// Timeout bounds every backend call.
	Timeout time.Duration `yaml:"timeout"`
}

// RelayConfig configures the multi-channel relay.
type RelayConfig struct {
	// Channel is the logical channel name shared by all instances.
	Channel string `yaml:"channel"`

	// SubjectPrefix prefixes NATS subjects and Redis channels.
	SubjectPrefix string `yaml:"subjectPrefix"`

	// Transports lists the candidates probed at start, in order.
	Transports []string `yaml:"transports"`

	// Stream is the JetStream stream backing the "jetstream" transport.
	Stream string `yaml:"stream"`

	// StreamMaxAge bounds retention of persisted relay messages.
	StreamMaxAge time.Duration `yaml:"streamMaxAge"`
}

// ConnectionConfig holds broker URLs used by the daemon.
//
// The library itself never dials; it uses the connections passed with WithNATS and WithRedis.
type ConnectionConfig struct {
	NATSURL  string `yaml:"natsUrl"`
	RedisURL string `yaml:"redisUrl"`
}

// BridgeConfig names the external commands behind the recovery bridge.
//
// A command whose executable cannot be resolved counts as absent.
type BridgeConfig struct {
	RestartCommand     []string `yaml:"restartCommand"`
	AutoRestartCommand []string `yaml:"autoRestartCommand"`
}

// Config is the configuration for the Watchdog.
//
// All duration fields accept standard Go duration strings like "30s", "5m", "1h".
type Config struct {
	Heartbeat   HeartbeatConfig  `yaml:"heartbeat"`
	Scheduler   SchedulerConfig  `yaml:"scheduler"`
	Recovery    RecoveryConfig   `yaml:"recovery"`
	Power       PowerConfig      `yaml:"power"`
	Store       StoreConfig      `yaml:"store"`
	Relay       RelayConfig      `yaml:"relay"`
	Connections ConnectionConfig `yaml:"connections"`
	Bridge      BridgeConfig     `yaml:"bridge"`

	// StartupTimeout bounds transport probing and the first heartbeat.
	StartupTimeout time.Duration `yaml:"startupTimeout"`

	// ShutdownTimeout bounds Stop when the caller passes a context without deadline.
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
}

// DefaultConfig returns a Config with production defaults.
//
// Returns:
//   - Config: Configuration with default values
func DefaultConfig() Config {
	return Config{
		Heartbeat: HeartbeatConfig{
			MinInterval: 10 * time.Second,
			MaxInterval: 20 * time.Second,
		},
		Scheduler: SchedulerConfig{
			BaseInterval:   15 * time.Second,
			StaleThreshold: 30 * time.Second,
			DegradedFactor: 2,
		},
		Recovery: RecoveryConfig{
			MaxAttempts: 5,
			Cooldown:    60 * time.Second,
		},
		Power: PowerConfig{
			Charging:     ProfileConfig{BaseInterval: 5 * time.Second, StaleThreshold: 25 * time.Second},
			Battery:      ProfileConfig{BaseInterval: 30 * time.Second, StaleThreshold: 60 * time.Second},
			SysfsRoot:    "/sys/class/power_supply",
			PollInterval: 30 * time.Second,
		},
		Store: StoreConfig{
			Backend: BackendMemory,
			Prefix:  "lifeline",
			Bucket:  "lifeline-heartbeat",
			Path:    "lifeline-state.json",
			Timeout: 5 * time.Second,
		},
		Relay: RelayConfig{
			Channel:       "lifeline",
			SubjectPrefix: "lifeline",
			Transports:    []string{TransportHub, TransportNATS, TransportJetStream, TransportRedis},
			Stream:        "LIFELINE_RELAY",
			StreamMaxAge:  5 * time.Minute,
		},
		StartupTimeout:  10 * time.Second,
		ShutdownTimeout: 10 * time.Second,
	}
}

// SetDefaults fills in missing configuration values with production defaults.
//
// Parameters:
//   - cfg: Config to apply defaults to (modified in place)
func SetDefaults(cfg *Config) {
	defaults := DefaultConfig()

	if cfg.Heartbeat.MinInterval == 0 {
		cfg.Heartbeat.MinInterval = defaults.Heartbeat.MinInterval
	}
	if cfg.Heartbeat.MaxInterval == 0 {
		cfg.Heartbeat.MaxInterval = max(defaults.Heartbeat.MaxInterval, cfg.Heartbeat.MinInterval)
	}
	if cfg.Scheduler.BaseInterval == 0 {
		cfg.Scheduler.BaseInterval = defaults.Scheduler.BaseInterval
	}
	if cfg.Scheduler.StaleThreshold == 0 {
		cfg.Scheduler.StaleThreshold = defaults.Scheduler.StaleThreshold
	}
	if cfg.Scheduler.DegradedFactor == 0 {
		cfg.Scheduler.DegradedFactor = defaults.Scheduler.DegradedFactor
	}
	if cfg.Recovery.MaxAttempts == 0 {
		cfg.Recovery.MaxAttempts = defaults.Recovery.MaxAttempts
	}
	if cfg.Recovery.Cooldown == 0 {
		cfg.Recovery.Cooldown = defaults.Recovery.Cooldown
	}
	if cfg.Power.Charging == (ProfileConfig{}) {
		cfg.Power.Charging = defaults.Power.Charging
	}
	if cfg.Power.Battery == (ProfileConfig{}) {
		cfg.Power.Battery = defaults.Power.Battery
	}
	if cfg.Power.SysfsRoot == "" {
		cfg.Power.SysfsRoot = defaults.Power.SysfsRoot
	}
	if cfg.Power.PollInterval == 0 {
		cfg.Power.PollInterval = defaults.Power.PollInterval
	}
	if cfg.Store.Backend == "" {
		cfg.Store.Backend = defaults.Store.Backend
	}
	if cfg.Store.Prefix == "" {
		cfg.Store.Prefix = defaults.Store.Prefix
	}
	if cfg.Store.Bucket == "" {
		cfg.Store.Bucket = defaults.Store.Bucket
	}
	if cfg.Store.Path == "" {
		cfg.Store.Path = defaults.Store.Path
	}
	if cfg.Store.Timeout == 0 {
		cfg.Store.Timeout = defaults.Store.Timeout
	}
	if cfg.Relay.Channel == "" {
		cfg.Relay.Channel = defaults.Relay.Channel
	}
	if cfg.Relay.SubjectPrefix == "" {
		cfg.Relay.SubjectPrefix = defaults.Relay.SubjectPrefix
	}
	// A nil list means "not configured"; an explicit empty list disables every transport.
	if cfg.Relay.Transports == nil {
		cfg.Relay.Transports = defaults.Relay.Transports
	}
	if cfg.Relay.Stream == "" {
		cfg.Relay.Stream = defaults.Relay.Stream
	}
	if cfg.Relay.StreamMaxAge == 0 {
		cfg.Relay.StreamMaxAge = defaults.Relay.StreamMaxAge
	}
	if cfg.StartupTimeout == 0 {
		cfg.StartupTimeout = defaults.StartupTimeout
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = defaults.ShutdownTimeout
	}
}

// Validate checks configuration constraints and returns error for invalid values.
//
// Hard Validation Rules:
//   - Heartbeat.MinInterval > 0 and MaxInterval >= MinInterval
//   - Scheduler.StaleThreshold > Heartbeat.MaxInterval (a healthy instance never looks stale)
//   - Scheduler.DegradedFactor > 1
//   - Both power profiles have a threshold above Heartbeat.MaxInterval
//   - Recovery.MaxAttempts >= 1 and Cooldown > 0
//   - Store.Backend and every Relay.Transports entry are known names
//
// Returns:
//   - error: Validation error with clear explanation, nil if valid
func (cfg *Config) Validate() error {
	if cfg.Heartbeat.MinInterval <= 0 {
		return fmt.Errorf("Heartbeat.MinInterval must be > 0, got %v", cfg.Heartbeat.MinInterval)
	}

	if cfg.Heartbeat.MaxInterval < cfg.Heartbeat.MinInterval {
		return fmt.Errorf(
			"Heartbeat.MaxInterval (%v) must be >= Heartbeat.MinInterval (%v)",
			cfg.Heartbeat.MaxInterval, cfg.Heartbeat.MinInterval,
		)
	}

	if cfg.Scheduler.BaseInterval <= 0 {
		return fmt.Errorf("Scheduler.BaseInterval must be > 0, got %v", cfg.Scheduler.BaseInterval)
	}

	if cfg.Scheduler.StaleThreshold <= cfg.Heartbeat.MaxInterval {
		return fmt.Errorf(
			"Scheduler.StaleThreshold (%v) must be > Heartbeat.MaxInterval (%v) so a healthy instance is never stale",
			cfg.Scheduler.StaleThreshold, cfg.Heartbeat.MaxInterval,
		)
	}

	if cfg.Scheduler.DegradedFactor <= 1 {
		return fmt.Errorf("Scheduler.DegradedFactor must be > 1, got %d", cfg.Scheduler.DegradedFactor)
	}

	for name, p := range map[string]ProfileConfig{"charging": cfg.Power.Charging, "battery": cfg.Power.Battery} {
		if p.BaseInterval <= 0 {
			return fmt.Errorf("Power.%s.BaseInterval must be > 0, got %v", name, p.BaseInterval)
		}
		if p.StaleThreshold <= cfg.Heartbeat.MaxInterval {
			return fmt.Errorf(
				"Power.%s.StaleThreshold (%v) must be > Heartbeat.MaxInterval (%v)",
				name, p.StaleThreshold, cfg.Heartbeat.MaxInterval,
			)
		}
	}

	if cfg.Recovery.MaxAttempts < 1 {
		return fmt.Errorf("Recovery.MaxAttempts must be >= 1, got %d", cfg.Recovery.MaxAttempts)
	}

	if cfg.Recovery.Cooldown <= 0 {
		return fmt.Errorf("Recovery.Cooldown must be > 0, got %v", cfg.Recovery.Cooldown)
	}

	switch cfg.Store.Backend {
	case BackendMemory, BackendNATS, BackendRedis, BackendFile:
	default:
		return fmt.Errorf("%w: %q", ErrUnknownBackend, cfg.Store.Backend)
	}

	known := []string{TransportHub, TransportNATS, TransportJetStream, TransportRedis}
	for _, name := range cfg.Relay.Transports {
		if !slices.Contains(known, name) {
			return fmt.Errorf("Relay.Transports: unknown transport %q", name)
		}
	}

	return nil
}

// ValidateWithWarnings checks configuration and logs warnings for non-recommended values.
//
// This is called after Validate() in New() to provide operator guidance.
//
// Parameters:
//   - logger: Logger instance for warning output
func (cfg *Config) ValidateWithWarnings(logger Logger) {
	if cfg.Scheduler.StaleThreshold < 2*cfg.Scheduler.BaseInterval {
		logger.Warn(
			"StaleThreshold is below two ticks, a single late tick may escalate",
			"staleThreshold", cfg.Scheduler.StaleThreshold,
			"baseInterval", cfg.Scheduler.BaseInterval,
			"recommended", 2*cfg.Scheduler.BaseInterval,
		)
	}

	if cfg.Scheduler.DegradedFactor > 4 {
		logger.Warn(
			"DegradedFactor is high, hidden instances will tick and beat very often",
			"degradedFactor", cfg.Scheduler.DegradedFactor,
			"degradedInterval", cfg.Scheduler.BaseInterval/time.Duration(cfg.Scheduler.DegradedFactor),
		)
	}

	if cfg.Recovery.DisableSelfReload {
		logger.Warn("self-reload disabled, escalations only broadcast and call the bridge")
	}

	if len(cfg.Relay.Transports) == 0 {
		logger.Warn("no relay transports configured, instances will not see each other's heartbeats")
	}
}

// TestConfig returns a configuration optimized for fast test execution.
//
// Returns:
//   - Config: Configuration with millisecond timings and the memory backend
//
// Example:
//
//	cfg := lifeline.TestConfig()
//	cfg.Relay.Channel = t.Name()
//	wd, err := lifeline.New(&cfg)
func TestConfig() Config {
	cfg := DefaultConfig()

	cfg.Heartbeat.MinInterval = 50 * time.Millisecond
	cfg.Heartbeat.MaxInterval = 100 * time.Millisecond
	cfg.Scheduler.BaseInterval = 100 * time.Millisecond
	cfg.Scheduler.StaleThreshold = 300 * time.Millisecond
	cfg.Recovery.Cooldown = time.Second
	cfg.Recovery.DisableSelfReload = true
	cfg.Power.Charging = ProfileConfig{BaseInterval: 50 * time.Millisecond, StaleThreshold: 250 * time.Millisecond}
	cfg.Power.Battery = ProfileConfig{BaseInterval: 200 * time.Millisecond, StaleThreshold: 600 * time.Millisecond}
	cfg.Store.Timeout = time.Second
	cfg.Relay.Transports = []string{TransportHub}
	cfg.StartupTimeout = 2 * time.Second
	cfg.ShutdownTimeout = 2 * time.Second

	return cfg
}

// LoadConfig reads a YAML configuration file and applies environment overrides.
//
// A missing path yields DefaultConfig with overrides. Defaults are applied but the
// result is not validated; New validates it.
//
// Parameters:
//   - path: YAML file path, empty to skip the file
//
// Returns:
//   - Config: Loaded configuration
//   - error: Read or parse failure
func LoadConfig(path string) (Config, error) {
	var cfg Config

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err == nil {
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return Config{}, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}

	applyEnv(&cfg)
	SetDefaults(&cfg)

	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := strings.TrimSpace(os.Getenv(EnvNATSURL)); v != "" {
		cfg.Connections.NATSURL = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvRedisURL)); v != "" {
		cfg.Connections.RedisURL = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvStorePath)); v != "" {
		cfg.Store.Path = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvChannel)); v != "" {
		cfg.Relay.Channel = v
	}
}
