package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/arloliu/lifeline"
	"github.com/arloliu/lifeline/internal/metrics"
	"github.com/arloliu/lifeline/internal/power"
)

type runFlags struct {
	metricsAddr string
	lockFile    string
	noPower     bool
}

// NewRunCmd returns the command running the watchdog until interrupted.
func NewRunCmd(root *rootFlags) *cobra.Command {
	f := &runFlags{}

	cmd := &cobra.Command{
		Use: "run",

		Short: "Run the watchdog in the foreground",

		Long: `Run the watchdog until SIGINT or SIGTERM, then write a teardown heartbeat and stop.

SIGUSR1 marks the instance hidden (Degraded cadence) and SIGUSR2 visible again.`,

		Args: cobra.NoArgs,

		RunE: func(cmd *cobra.Command, _ []string) error {
			return runWatchdog(cmd.Context(), root, f)
		},
	}

	cmd.Flags().StringVar(&f.metricsAddr, "metrics-addr", "", "serve Prometheus /metrics and /health on this address")
	cmd.Flags().StringVar(&f.lockFile, "lock-file", filepath.Join(os.TempDir(), "lifelined.lock"), "single-instance lock file")
	cmd.Flags().BoolVar(&f.noPower, "no-power", false, "do not poll sysfs for the power state")

	return cmd
}

func runWatchdog(ctx context.Context, root *rootFlags, f *runFlags) error {
	// One daemon per lock file.
	fileLock := flock.New(f.lockFile)
	locked, err := fileLock.TryLock()
	if err != nil {
		return fmt.Errorf("acquiring lock: %w", err)
	}
	if !locked {
		return fmt.Errorf("lifelined already running (lock %s held by another process)", f.lockFile)
	}
	defer func() { _ = fileLock.Unlock() }()

	cfg, err := root.loadConfig()
	if err != nil {
		return err
	}

	logger, err := root.newLogger()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	conns, err := connect(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer conns.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	visibility := lifeline.NewBroadcaster[bool]()

	opts := append(conns.options(),
		lifeline.WithLogger(logger),
		lifeline.WithMetrics(metrics.NewPrometheus(reg, "lifeline")),
		lifeline.WithVisibilitySource(visibility),
		lifeline.WithHooks(daemonHooks(logger)),
	)

	if !f.noPower {
		src := power.NewSysfsSource(
			power.WithRoot(cfg.Power.SysfsRoot),
			power.WithPollInterval(cfg.Power.PollInterval),
			power.WithSourceLogger(logger),
		)
		if err := src.Start(ctx); err != nil {
			logger.Warn("power source unavailable, keeping base cadence", "root", cfg.Power.SysfsRoot, "error", err)
		} else {
			defer src.Stop()
			opts = append(opts, lifeline.WithPowerSource(src))
		}
	}

	wd, err := lifeline.New(cfg, opts...)
	if err != nil {
		return err
	}

	if err := wd.Start(ctx); err != nil {
		return fmt.Errorf("start watchdog: %w", err)
	}

	logger.Info("lifelined running",
		"instanceID", wd.InstanceID(),
		"transports", wd.Transports(),
		"backend", cfg.Store.Backend,
		"pid", os.Getpid(),
	)

	if f.metricsAddr != "" {
		srv := newMetricsServer(f.metricsAddr, reg, wd)
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server failed", "addr", f.metricsAddr, "error", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	sigCh := make(chan os.Signal, 1)
	if sigs := visibilitySignals(); len(sigs) > 0 {
		signal.Notify(sigCh, sigs...)
		defer signal.Stop(sigCh)
	}

	for done := false; !done; {
		select {
		case <-ctx.Done():
			done = true
		case sig := <-sigCh:
			visible := isVisibleSignal(sig)
			logger.Info("visibility signal", "signal", sig.String(), "visible", visible)
			visibility.Publish(visible)
		}
	}

	logger.Info("shutting down", "timeout", cfg.ShutdownTimeout)

	teardownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := wd.Teardown(teardownCtx); err != nil {
		return fmt.Errorf("teardown: %w", err)
	}

	return nil
}

// daemonHooks logs escalations and background errors.
func daemonHooks(logger lifeline.Logger) *lifeline.Hooks {
	return &lifeline.Hooks{
		OnEscalation: func(_ context.Context, e lifeline.Escalation) error {
			logger.Warn("escalated",
				"attempt", e.Attempt,
				"attemptCount", e.AttemptCount,
				"bridge", e.BridgeInvoked,
				"broadcast", e.Broadcast,
				"reloaded", e.Reloaded,
				"suppressed", e.Suppressed,
			)

			return nil
		},
		OnError: func(_ context.Context, err error) error {
			logger.Error("watchdog error", "error", err)
			return nil
		},
	}
}

// newMetricsServer serves /metrics from reg and /health from the watchdog state.
//
// /health answers 503 while the watchdog is stopped.
func newMetricsServer(addr string, reg *prometheus.Registry, wd *lifeline.Watchdog) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		state := wd.State()
		if state == lifeline.StateStopped {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_, _ = fmt.Fprintf(w, "%s\n", state)
	})

	return &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
}
