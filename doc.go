// Package lifeline provides a multi-channel liveness watchdog for long-running processes.
//
// A watchdog writes randomized heartbeats into a store shared with its sibling
// instances, relays them over every transport it can reach, and on a fixed
// cadence checks the freshest heartbeat across all instances. When that
// aggregate is older than the stale threshold it escalates: it asks the host
// recovery bridge to restart the process, broadcasts a restart request to the
// siblings and reloads itself, bounded by an attempt guard.
//
// # Quick Start
//
//	cfg := lifeline.DefaultConfig()
//	wd, err := lifeline.New(&cfg, lifeline.WithLogger(logger))
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	if err := wd.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer wd.Teardown(context.Background())
//
// # States
//
// The scheduler has three states:
//
//	Stopped → Active ⇄ Degraded → Stopped
//
// A hidden (background) instance runs Degraded: the tick interval, the stale
// threshold and the heartbeat pace are all divided by Scheduler.DegradedFactor.
//
// # Channels
//
// Transports are probed once per run, in order. The defaults are the in-process
// hub, NATS core, JetStream and Redis pub/sub; a transport whose connection is
// missing or whose probe fails is left out without error. The store backend is
// one of memory, NATS KV, Redis or a locked JSON file; when it fails the store
// keeps serving from memory.
//
// # Power
//
// SetPowerState or WithPowerSource switch the cadence between the charging and
// battery profiles. cmd/lifelined polls /sys/class/power_supply for it.
//
// See the examples/ directory for complete working examples.
package lifeline
