package kvutil

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/require"

	lifelinetest "github.com/arloliu/lifeline/testing"
)

func TestEnsureBucket(t *testing.T) {
	_, nc := lifelinetest.StartEmbeddedNATS(t)

	ctx := t.Context()
	js, err := jetstream.New(nc)
	require.NoError(t, err)

	t.Run("creates bucket on first try", func(t *testing.T) {
		kv, err := EnsureBucket(ctx, js, jetstream.KeyValueConfig{Bucket: "ensure-1", History: 1}, 3)
		require.NoError(t, err)
		require.Equal(t, "ensure-1", kv.Bucket())
	})

	t.Run("opens existing bucket", func(t *testing.T) {
		cfg := jetstream.KeyValueConfig{Bucket: "ensure-2", History: 1}

		_, err := js.CreateKeyValue(ctx, cfg)
		require.NoError(t, err)

		kv, err := EnsureBucket(ctx, js, cfg, 3)
		require.NoError(t, err)
		require.NotNil(t, kv)
	})

	t.Run("concurrent creates all succeed", func(t *testing.T) {
		const instances = 10
		cfg := jetstream.KeyValueConfig{Bucket: "ensure-3", History: 1}

		var wg sync.WaitGroup
		errs := make(chan error, instances)

		for range instances {
			wg.Go(func() {
				if _, err := EnsureBucket(ctx, js, cfg, 5); err != nil {
					errs <- err
				}
			})
		}

		wg.Wait()
		close(errs)

		for err := range errs {
			require.NoError(t, err)
		}
	})

	t.Run("expired context fails gracefully", func(t *testing.T) {
		shortCtx, cancel := context.WithTimeout(context.Background(), time.Nanosecond)
		defer cancel()
		<-shortCtx.Done()

		_, err := EnsureBucket(shortCtx, js, jetstream.KeyValueConfig{Bucket: "ensure-4"}, 3)
		require.Error(t, err)
		require.Contains(t, err.Error(), "context")
	})
}

func TestEnsureStream(t *testing.T) {
	_, nc := lifelinetest.StartEmbeddedNATS(t)

	ctx := t.Context()
	js, err := jetstream.New(nc)
	require.NoError(t, err)

	cfg := jetstream.StreamConfig{
		Name:     "LIFELINE_TEST",
		Subjects: []string{"lifeline.persist.>"},
		Storage:  jetstream.MemoryStorage,
		MaxAge:   time.Minute,
	}

	stream, err := EnsureStream(ctx, js, cfg, 3)
	require.NoError(t, err)
	require.Equal(t, "LIFELINE_TEST", stream.CachedInfo().Config.Name)

	// Idempotent update
	_, err = EnsureStream(ctx, js, cfg, 3)
	require.NoError(t, err)
}
