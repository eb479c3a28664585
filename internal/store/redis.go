package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"
)

// RedisBackend stores values in Redis.
type RedisBackend struct {
	client redis.UniversalClient
}

var (
	_ Backend   = (*RedisBackend)(nil)
	_ MaxMerger = (*RedisBackend)(nil)
)

// NewRedis wraps a Redis client.
func NewRedis(client redis.UniversalClient) *RedisBackend {
	return &RedisBackend{client: client}
}

// Name returns "redis".
func (b *RedisBackend) Name() string { return "redis" }

// Get returns the value stored under key.
func (b *RedisBackend) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := b.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("redis get %s: %w", key, err)
	}

	return v, true, nil
}

// Set stores value under key without expiry.
func (b *RedisBackend) Set(ctx context.Context, key, value string) error {
	if err := b.client.Set(ctx, key, value, 0).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}

	return nil
}

// MergeMax stores max(current, v) inside a WATCH transaction, retrying on conflict.
func (b *RedisBackend) MergeMax(ctx context.Context, key string, v int64) (int64, error) {
	var stored int64

	merge := func(tx *redis.Tx) error {
		cur, err := tx.Get(ctx, key).Int64()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		if err == nil && cur >= v {
			stored = cur
			return nil
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, strconv.FormatInt(v, 10), 0)
			return nil
		})
		if err == nil {
			stored = v
		}

		return err
	}

	var err error
	for range mergeRetries {
		err = b.client.Watch(ctx, merge, key)
		if !errors.Is(err, redis.TxFailedErr) {
			break
		}
	}
	if err != nil {
		return 0, fmt.Errorf("redis merge %s: %w", key, err)
	}

	return stored, nil
}
