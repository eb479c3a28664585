package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/arloliu/lifeline/internal/backoff"
	"github.com/arloliu/lifeline/internal/kvutil"
	"github.com/arloliu/lifeline/types"
)

const (
	mergeRetries   = 32
	mergeRetryBase = time.Millisecond
	mergeRetryCap  = 50 * time.Millisecond
)

// NATSBackend stores values in a JetStream KeyValue bucket.
type NATSBackend struct {
	kv jetstream.KeyValue
}

var (
	_ Backend   = (*NATSBackend)(nil)
	_ MaxMerger = (*NATSBackend)(nil)
)

// NewNATS wraps an existing KV bucket.
func NewNATS(kv jetstream.KeyValue) *NATSBackend {
	return &NATSBackend{kv: kv}
}

// OpenNATS creates or opens the heartbeat bucket on nc.
//
// Parameters:
//   - ctx: Context for bucket provisioning
//   - nc: Connected NATS client with JetStream available
//   - bucket: Bucket name
//   - storage: jetstream.FileStorage or jetstream.MemoryStorage
//
// Returns:
//   - *NATSBackend: Backend bound to the bucket
//   - error: types.ErrBackendUnavailable when nc is nil, or provisioning error
func OpenNATS(ctx context.Context, nc *nats.Conn, bucket string, storage jetstream.StorageType) (*NATSBackend, error) {
	if nc == nil {
		return nil, fmt.Errorf("nats backend: %w", types.ErrBackendUnavailable)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		return nil, fmt.Errorf("failed to create jetstream context: %w", err)
	}

	kv, err := kvutil.EnsureBucket(ctx, js, jetstream.KeyValueConfig{
		Bucket:      bucket,
		Description: "lifeline heartbeat store",
		History:     1, // Keep only latest value
		Storage:     storage,
	}, 5)
	if err != nil {
		return nil, err
	}

	return NewNATS(kv), nil
}

// Name returns "nats".
func (b *NATSBackend) Name() string { return "nats" }

// Bucket returns the bucket name.
func (b *NATSBackend) Bucket() string { return b.kv.Bucket() }

// Get returns the value stored under key.
func (b *NATSBackend) Get(ctx context.Context, key string) (string, bool, error) {
	entry, err := b.kv.Get(ctx, key)
	if errors.Is(err, jetstream.ErrKeyNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("kv get %s: %w", key, err)
	}

	return string(entry.Value()), true, nil
}

// Set stores value under key.
func (b *NATSBackend) Set(ctx context.Context, key, value string) error {
	if _, err := b.kv.PutString(ctx, key, value); err != nil {
		return fmt.Errorf("kv put %s: %w", key, err)
	}

	return nil
}

// MergeMax stores max(current, v) using revision-checked writes.
//
// A concurrent writer makes Create/Update fail with a sequence mismatch; the
// merge is then retried against the fresh value.
func (b *NATSBackend) MergeMax(ctx context.Context, key string, v int64) (int64, error) {
	val := []byte(strconv.FormatInt(v, 10))

	var (
		lastErr error
		delay   time.Duration
	)
	for range mergeRetries {
		entry, err := b.kv.Get(ctx, key)
		switch {
		case errors.Is(err, jetstream.ErrKeyNotFound):
			_, err = b.kv.Create(ctx, key, val)
			if err == nil {
				return v, nil
			}
		case err != nil:
			return 0, fmt.Errorf("kv get %s: %w", key, err)
		default:
			cur, parseErr := strconv.ParseInt(string(entry.Value()), 10, 64)
			if parseErr == nil && cur >= v {
				return cur, nil
			}

			_, err = b.kv.Update(ctx, key, val, entry.Revision())
			if err == nil {
				return v, nil
			}
		}

		if !isRevisionConflict(err) {
			return 0, fmt.Errorf("kv merge %s: %w", key, err)
		}
		lastErr = err

		delay = backoff.Jitter(delay, mergeRetryBase, 2, mergeRetryCap, nil)
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-time.After(delay):
		}
	}

	return 0, fmt.Errorf("kv merge %s: too many concurrent writers: %w", key, lastErr)
}

// WatchInt streams integer updates of key until ctx is cancelled.
//
// The current value, if any, is delivered first. Non-integer values are skipped.
//
// Returns:
//   - <-chan int64: Updates; closed when ctx is done
//   - error: If the watch cannot be created
func (b *NATSBackend) WatchInt(ctx context.Context, key string) (<-chan int64, error) {
	watcher, err := b.kv.Watch(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("kv watch %s: %w", key, err)
	}

	out := make(chan int64, 16)
	go func() {
		defer close(out)
		defer func() { _ = watcher.Stop() }()

		for {
			select {
			case <-ctx.Done():
				return
			case entry, ok := <-watcher.Updates():
				if !ok {
					return
				}
				// nil marks the end of the initial values
				if entry == nil || entry.Operation() != jetstream.KeyValuePut {
					continue
				}

				v, err := strconv.ParseInt(string(entry.Value()), 10, 64)
				if err != nil {
					continue
				}

				select {
				case out <- v:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out, nil
}

func isRevisionConflict(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, jetstream.ErrKeyExists) {
		return true
	}

	return strings.Contains(err.Error(), "wrong last sequence")
}
