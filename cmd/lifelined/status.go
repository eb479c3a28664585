package main

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/arloliu/lifeline"
)

// NewStatusCmd returns the command printing the shared liveness state.
func NewStatusCmd(root *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use: "status",

		Short: "Print the aggregate heartbeat age and recovery state from the configured store",

		Args: cobra.NoArgs,

		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

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

			// Never started, so it only reads the store.
			opts := append(conns.options(),
				lifeline.WithLogger(logger),
				lifeline.WithBridge(nil),
			)
			wd, err := lifeline.New(cfg, opts...)
			if err != nil {
				return err
			}

			writeStatus(cmd.OutOrStdout(), cfg, wd.Aggregate(ctx), wd.RecoveryState(ctx), time.Now())

			return nil
		},
	}
}

func writeStatus(w io.Writer, cfg *lifeline.Config, aggregate time.Time, rs lifeline.RecoveryState, now time.Time) {
	fmt.Fprintf(w, "backend:    %s\n", cfg.Store.Backend)
	if cfg.Store.Backend == lifeline.BackendMemory {
		fmt.Fprintln(w, "            (memory is per process; use nats, redis or file to inspect a running daemon)")
	}

	if aggregate.IsZero() {
		fmt.Fprintln(w, "aggregate:  never")
	} else {
		age := now.Sub(aggregate).Truncate(time.Millisecond)
		stale := age > cfg.Scheduler.StaleThreshold
		fmt.Fprintf(w, "aggregate:  %s (age %s, stale %t, threshold %s)\n",
			aggregate.Format(time.RFC3339Nano), age, stale, cfg.Scheduler.StaleThreshold)
	}

	fmt.Fprintf(w, "attempts:   %d/%d\n", rs.AttemptCount, cfg.Recovery.MaxAttempts)
	if !rs.WindowStart.IsZero() {
		fmt.Fprintf(w, "window:     %s (cooldown %s)\n", rs.WindowStart.Format(time.RFC3339), cfg.Recovery.Cooldown)
	}
}
