package store

import (
	"context"
	"strconv"

	"github.com/puzpuzpuz/xsync/v4"
)

// MemoryBackend keeps values in process memory. It is visible to every
// watchdog instance that shares the same *MemoryBackend.
type MemoryBackend struct {
	data *xsync.Map[string, string]
}

var (
	_ Backend   = (*MemoryBackend)(nil)
	_ MaxMerger = (*MemoryBackend)(nil)
)

// NewMemory creates an empty in-memory backend.
func NewMemory() *MemoryBackend {
	return &MemoryBackend{data: xsync.NewMap[string, string]()}
}

// Name returns "memory".
func (m *MemoryBackend) Name() string { return "memory" }

// Get returns the value stored under key.
func (m *MemoryBackend) Get(_ context.Context, key string) (string, bool, error) {
	v, ok := m.data.Load(key)
	return v, ok, nil
}

// Set stores value under key.
func (m *MemoryBackend) Set(_ context.Context, key, value string) error {
	m.data.Store(key, value)
	return nil
}

// MergeMax atomically stores max(current, v).
func (m *MemoryBackend) MergeMax(_ context.Context, key string, v int64) (int64, error) {
	stored := v
	m.data.Compute(key, func(old string, loaded bool) (string, xsync.ComputeOp) {
		if loaded {
			if cur, err := strconv.ParseInt(old, 10, 64); err == nil && cur >= v {
				stored = cur
				return old, xsync.CancelOp
			}
		}

		return strconv.FormatInt(v, 10), xsync.UpdateOp
	})

	return stored, nil
}
