package testutil

import (
	"context"
	"testing"
	"time"
)

// AggregateReader is the subset of Watchdog exposing the shared aggregate.
type AggregateReader interface {
	Aggregate(ctx context.Context) time.Time
}

// AssertMonotonic fails the test if any aggregate sample is earlier than the one before it.
//
// Parameters:
//   - t: testing handle
//   - samples: aggregates in observation order
func AssertMonotonic(t *testing.T, samples []time.Time) {
	t.Helper()

	for i := 1; i < len(samples); i++ {
		if samples[i].Before(samples[i-1]) {
			t.Fatalf("aggregate moved backwards at sample %d: %s -> %s",
				i, samples[i-1].Format(time.RFC3339Nano), samples[i].Format(time.RFC3339Nano))
		}
	}
}

// AssertAggregatesAgree fails the test unless every reader reports an aggregate
// within tolerance of the others, and none of them is zero.
func AssertAggregatesAgree(t *testing.T, ctx context.Context, readers []AggregateReader, tolerance time.Duration) {
	t.Helper()

	var lo, hi time.Time
	for i, r := range readers {
		agg := r.Aggregate(ctx)
		if agg.IsZero() {
			t.Fatalf("instance[%d] has no aggregate", i)
		}
		if lo.IsZero() || agg.Before(lo) {
			lo = agg
		}
		if agg.After(hi) {
			hi = agg
		}
	}

	if spread := hi.Sub(lo); spread > tolerance {
		t.Fatalf("aggregates spread %s exceeds tolerance %s", spread, tolerance)
	}
}
