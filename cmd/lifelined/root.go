package main

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/arloliu/lifeline"
	"github.com/arloliu/lifeline/internal/logging"
)

// rootFlags are the persistent flags shared by every subcommand.
type rootFlags struct {
	configPath string

	logLevel  string
	logFormat string
	logFile   string

	natsURL  string
	redisURL string
}

// NewRootCmd builds the lifelined command tree.
func NewRootCmd() *cobra.Command {
	f := &rootFlags{}

	rootCmd := &cobra.Command{
		Use: "lifelined SUBCOMMAND",

		Short: "Multi-channel liveness watchdog",

		Long: `lifelined keeps a process group alive across every channel it can reach.

Each instance writes randomized heartbeats into a shared store, relays them
over NATS, JetStream and Redis, and escalates through the configured recovery
bridge when the freshest heartbeat across all instances goes stale.

Connection URLs may also come from LIFELINE_NATS_URL and LIFELINE_REDIS_URL.
`,

		CompletionOptions: cobra.CompletionOptions{HiddenDefaultCmd: true},

		SilenceErrors: true,
		SilenceUsage:  true,
	}

	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&f.configPath, "config", "c", "lifeline.yaml", "path to the YAML config file (a missing file uses defaults)")
	pf.StringVar(&f.logLevel, "log-level", "info", "log level: debug, info, warn, error")
	pf.StringVar(&f.logFormat, "log-format", "console", "log format: console or json")
	pf.StringVar(&f.logFile, "log-file", "", "also write JSON logs to this rotated file")
	pf.StringVar(&f.natsURL, "nats-url", "", "NATS server URL (overrides config)")
	pf.StringVar(&f.redisURL, "redis-url", "", "Redis URL (overrides config)")

	rootCmd.AddCommand(
		NewRunCmd(f),
		NewStatusCmd(f),
		NewWatchCmd(f),
		NewVersionCmd(),
	)

	return rootCmd
}

// loadConfig reads the config file, applies environment and flag overrides and validates it.
func (f *rootFlags) loadConfig() (*lifeline.Config, error) {
	cfg, err := lifeline.LoadConfig(f.configPath)
	if err != nil {
		return nil, err
	}

	if f.natsURL != "" {
		cfg.Connections.NATSURL = f.natsURL
	}
	if f.redisURL != "" {
		cfg.Connections.RedisURL = f.redisURL
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", f.configPath, err)
	}

	return &cfg, nil
}

func (f *rootFlags) newLogger() (*logging.ZapLogger, error) {
	logger, err := logging.NewZap(logging.ZapOptions{
		Level:    f.logLevel,
		Format:   f.logFormat,
		File:     f.logFile,
		Compress: true,
	})
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}

	return logger, nil
}

// connections holds the broker clients named by the config.
type connections struct {
	nc    *nats.Conn
	redis redis.UniversalClient
}

// options returns the watchdog options carrying the connected clients.
func (c *connections) options() []lifeline.Option {
	var opts []lifeline.Option
	if c.nc != nil {
		opts = append(opts, lifeline.WithNATS(c.nc))
	}
	if c.redis != nil {
		opts = append(opts, lifeline.WithRedis(c.redis))
	}

	return opts
}

func (c *connections) Close() {
	if c.nc != nil {
		c.nc.Close()
	}
	if c.redis != nil {
		_ = c.redis.Close()
	}
}

// connect dials the configured brokers.
//
// NATS must be reachable when a URL is set. An unreachable Redis is only logged:
// its transport probe drops it from the relay and the store falls back to memory.
func connect(ctx context.Context, cfg *lifeline.Config, logger lifeline.Logger) (*connections, error) {
	conns := &connections{}

	if url := cfg.Connections.NATSURL; url != "" {
		nc, err := nats.Connect(url,
			nats.Name("lifelined"),
			nats.MaxReconnects(-1),
			nats.ReconnectWait(time.Second),
			nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
				logger.Warn("nats disconnected", "error", err)
			}),
			nats.ReconnectHandler(func(nc *nats.Conn) {
				logger.Info("nats reconnected", "url", nc.ConnectedUrl())
			}),
		)
		if err != nil {
			return nil, fmt.Errorf("connect nats %s: %w", url, err)
		}
		conns.nc = nc
	}

	if url := cfg.Connections.RedisURL; url != "" {
		opts, err := redis.ParseURL(url)
		if err != nil {
			conns.Close()
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		conns.redis = redis.NewClient(opts)

		pingCtx, cancel := context.WithTimeout(ctx, cfg.Store.Timeout)
		defer cancel()
		if err := conns.redis.Ping(pingCtx).Err(); err != nil {
			logger.Warn("redis unreachable", "addr", opts.Addr, "error", err)
		}
	}

	return conns, nil
}
