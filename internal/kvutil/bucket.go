// Package kvutil provides utilities for provisioning NATS JetStream KeyValue
// buckets and streams shared by every watchdog instance.
package kvutil

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/arloliu/lifeline/internal/backoff"
)

const (
	defaultMaxRetries = 5
	retryBase         = 10 * time.Millisecond
	retryCap          = 500 * time.Millisecond
)

// EnsureBucket creates or opens a KV bucket with retry logic.
//
// Several instances of one process group start at roughly the same time and
// race to create the bucket. ErrBucketExists opens the existing bucket; other
// failures are retried with jittered backoff.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//   - js: JetStream context
//   - config: KV bucket configuration
//   - maxRetries: Maximum number of attempts (defaults to 5 when <= 0)
//
// Returns:
//   - jetstream.KeyValue: The KV bucket instance
//   - error: Last error after all retries, or the context error
//
// Example:
//
//	kv, err := kvutil.EnsureBucket(ctx, js, jetstream.KeyValueConfig{
//	    Bucket:  "lifeline",
//	    History: 1,
//	}, 5)
func EnsureBucket(
	ctx context.Context,
	js jetstream.JetStream,
	config jetstream.KeyValueConfig,
	maxRetries int,
) (jetstream.KeyValue, error) {
	if maxRetries <= 0 {
		maxRetries = defaultMaxRetries
	}

	var lastErr error
	var delay time.Duration

	for attempt := 0; attempt < maxRetries; attempt++ {
		kv, err := js.CreateKeyValue(ctx, config)
		if err == nil {
			return kv, nil
		}

		if errors.Is(err, jetstream.ErrBucketExists) {
			kv, openErr := js.KeyValue(ctx, config.Bucket)
			if openErr == nil {
				return kv, nil
			}
			lastErr = fmt.Errorf("bucket exists but failed to open: %w", openErr)
		} else {
			lastErr = err
		}

		if ctx.Err() != nil {
			return nil, fmt.Errorf("context cancelled during KV bucket creation: %w", ctx.Err())
		}

		if attempt < maxRetries-1 {
			delay = backoff.Jitter(delay, retryBase, 2, retryCap, nil)
			if err := sleep(ctx, delay); err != nil {
				return nil, err
			}
		}
	}

	return nil, fmt.Errorf("failed to create/open KV bucket %s after %d attempts: %w",
		config.Bucket, maxRetries, lastErr)
}

// EnsureStream creates or updates a stream with the same retry policy as EnsureBucket.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//   - js: JetStream context
//   - config: Stream configuration
//   - maxRetries: Maximum number of attempts (defaults to 5 when <= 0)
//
// Returns:
//   - jetstream.Stream: The stream handle
//   - error: Last error after all retries, or the context error
func EnsureStream(
	ctx context.Context,
	js jetstream.JetStream,
	config jetstream.StreamConfig,
	maxRetries int,
) (jetstream.Stream, error) {
	if maxRetries <= 0 {
		maxRetries = defaultMaxRetries
	}

	var lastErr error
	var delay time.Duration

	for attempt := 0; attempt < maxRetries; attempt++ {
		stream, err := js.CreateOrUpdateStream(ctx, config)
		if err == nil {
			return stream, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return nil, fmt.Errorf("context cancelled during stream creation: %w", ctx.Err())
		}

		if attempt < maxRetries-1 {
			delay = backoff.Jitter(delay, retryBase, 2, retryCap, nil)
			if err := sleep(ctx, delay); err != nil {
				return nil, err
			}
		}
	}

	return nil, fmt.Errorf("failed to create/update stream %s after %d attempts: %w",
		config.Name, maxRetries, lastErr)
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
