// Command lifelined runs a lifeline watchdog as a standalone daemon.
//
// Usage:
//
//	lifelined run --config /etc/lifeline/lifeline.yaml --metrics-addr :9102
//	lifelined status --config /etc/lifeline/lifeline.yaml
//	lifelined watch --nats-url nats://127.0.0.1:4222
//	lifelined version
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	if err := mainE(); err != nil {
		os.Exit(1)
	}
}

func mainE() error {
	// run tears the watchdog down once this context is cancelled.
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	root := NewRootCmd()
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		return err
	}

	return nil
}
