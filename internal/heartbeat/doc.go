// Package heartbeat provides the liveness monitor: the per-instance producer of
// "I am alive" announcements.
//
// # Design Overview
//
// Every beat does two things, in order:
//
//  1. Store.Put(instanceID, now) records the instance's last-active time and
//     reconciles the shared aggregate
//  2. Relay.Send({heartbeat, now}) tells sibling instances about it
//
// The cadence is a random interval in [MinInterval, MaxInterval], drawn again
// for every beat, divided by the current pace. The scheduler raises the pace
// while the instance is hidden so the aggregate stays fresh against the
// tightened threshold.
//
// # Monitor Lifecycle
//
//  1. Create the monitor with New(store, relay, opts...)
//  2. Set the instance ID with SetInstanceID(id)
//  3. Start with Start(ctx); the first beat is written before Start returns
//  4. Fire out-of-cadence beats with Beat(ctx, reason)
//  5. Stop with Stop(); no beat runs after Stop returns
//
// Example:
//
//	m := heartbeat.New(st, rl, heartbeat.WithInterval(10*time.Second, 20*time.Second))
//	m.SetInstanceID(id)
//	if err := m.Start(ctx); err != nil {
//	    return err
//	}
//	defer m.Stop()
//
// # Thread Safety
//
// The Monitor is safe for concurrent use. Beat may race with the background
// loop; the store keeps each instance's last-active time non-decreasing.
package heartbeat
