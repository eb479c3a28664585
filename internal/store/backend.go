package store

import "context"

// Backend is the durable key-value store the heartbeat store is layered on.
//
// Get reports found=false with a nil error for a missing key.
//
// A backend shared between processes should also implement MaxMerger. Without
// it the store merges the aggregate by read, max, write and verify, which can
// briefly expose a lower aggregate to readers while two writers interleave.
type Backend interface {
	// Name identifies the backend in logs and metrics.
	Name() string

	// Get returns the value stored under key.
	Get(ctx context.Context, key string) (value string, found bool, err error)

	// Set stores value under key.
	Set(ctx context.Context, key, value string) error
}

// MaxMerger is implemented by backends that can atomically store
// max(current, v) for an integer-valued key.
type MaxMerger interface {
	// MergeMax stores max(current, v) under key and returns the stored value.
	MergeMax(ctx context.Context, key string, v int64) (int64, error)
}
