package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/spf13/cobra"

	"github.com/arloliu/lifeline"
	"github.com/arloliu/lifeline/internal/store"
)

// NewWatchCmd returns the command streaming aggregate updates from the NATS KV bucket.
func NewWatchCmd(root *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use: "watch",

		Short: "Stream aggregate heartbeat updates from the NATS KV store until interrupted",

		Args: cobra.NoArgs,

		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			cfg, err := root.loadConfig()
			if err != nil {
				return err
			}
			if cfg.Connections.NATSURL == "" {
				return errors.New("watch needs a NATS URL (--nats-url or " + lifeline.EnvNATSURL + ")")
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

			backend, err := store.OpenNATS(ctx, conns.nc, cfg.Store.Bucket, jetstream.FileStorage)
			if err != nil {
				return err
			}

			key := store.AggregateKey(cfg.Store.Prefix)
			updates, err := backend.WatchInt(ctx, key)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "watching %s/%s\n", backend.Bucket(), key)

			for ms := range updates {
				at := time.UnixMilli(ms)
				fmt.Fprintf(out, "%s  age %s\n", at.Format(time.RFC3339Nano), time.Since(at).Truncate(time.Millisecond))
			}

			return nil
		},
	}
}
