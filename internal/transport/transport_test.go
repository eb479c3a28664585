package transport

import (
	"context"
	"testing"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/require"

	lifelinetest "github.com/arloliu/lifeline/testing"
	"github.com/arloliu/lifeline/types"
)

const waitFor = 2 * time.Second

// collect returns a receiver that forwards payloads to a buffered channel.
func collect() (Receiver, <-chan string) {
	ch := make(chan string, 16)

	return func(data []byte) { ch <- string(data) }, ch
}

func expect(t *testing.T, ch <-chan string, want string) {
	t.Helper()

	select {
	case got := <-ch:
		require.Equal(t, want, got)
	case <-time.After(waitFor):
		t.Fatalf("timed out waiting for %q", want)
	}
}

func expectNone(t *testing.T, ch <-chan string, within time.Duration) {
	t.Helper()

	select {
	case got := <-ch:
		t.Fatalf("unexpected delivery %q", got)
	case <-time.After(within):
	}
}

// exercisePair checks broadcast between two handles of one candidate.
func exercisePair(t *testing.T, c Candidate, channel string) {
	t.Helper()
	ctx := t.Context()

	a, err := c.Open(ctx, channel)
	require.NoError(t, err)
	b, err := c.Open(ctx, channel)
	require.NoError(t, err)
	require.Equal(t, c.Name(), a.Name())

	recvB, gotB := collect()
	b.Listen(recvB)

	require.NoError(t, a.Send(ctx, []byte("ping")))
	expect(t, gotB, "ping")

	require.NoError(t, b.Close())
	require.NoError(t, b.Close(), "close is idempotent")
	require.ErrorIs(t, b.Send(ctx, []byte("x")), types.ErrTransportClosed)

	require.NoError(t, a.Send(ctx, []byte("after-close")))
	expectNone(t, gotB, 100*time.Millisecond)

	require.NoError(t, a.Close())
}

func TestHub(t *testing.T) {
	t.Run("broadcast between handles", func(t *testing.T) {
		exercisePair(t, NewHub(), "watchdog")
	})

	t.Run("sender does not receive its own message", func(t *testing.T) {
		ctx := t.Context()
		hub := NewHub()

		a, err := hub.Open(ctx, "watchdog")
		require.NoError(t, err)
		defer a.Close()

		recv, got := collect()
		a.Listen(recv)

		require.NoError(t, a.Send(ctx, []byte("self")))
		expectNone(t, got, 50*time.Millisecond)
	})

	t.Run("channels are isolated", func(t *testing.T) {
		ctx := t.Context()
		hub := NewHub()

		a, err := hub.Open(ctx, "one")
		require.NoError(t, err)
		defer a.Close()
		b, err := hub.Open(ctx, "two")
		require.NoError(t, err)
		defer b.Close()

		recv, got := collect()
		b.Listen(recv)

		require.NoError(t, a.Send(ctx, []byte("x")))
		expectNone(t, got, 50*time.Millisecond)
	})

	t.Run("close removes member", func(t *testing.T) {
		hub := NewHub()

		a, err := hub.Open(t.Context(), "watchdog")
		require.NoError(t, err)
		require.Equal(t, 1, hub.Members("watchdog"))

		require.NoError(t, a.Close())
		require.Zero(t, hub.Members("watchdog"))
		require.Zero(t, hub.Members("unknown"))
	})

	t.Run("full inbox drops and reports", func(t *testing.T) {
		ctx := t.Context()
		hub := NewHub()

		a, err := hub.Open(ctx, "watchdog")
		require.NoError(t, err)
		defer a.Close()
		b, err := hub.Open(ctx, "watchdog")
		require.NoError(t, err)
		defer b.Close()

		block := make(chan struct{})
		defer close(block)
		b.Listen(func([]byte) { <-block })

		var sendErr error
		for range hubInboxSize + 2 {
			if err := a.Send(ctx, []byte("x")); err != nil {
				sendErr = err
			}
		}
		require.Error(t, sendErr)
	})
}

func TestNATS(t *testing.T) {
	t.Run("broadcast between handles", func(t *testing.T) {
		_, nc := lifelinetest.StartEmbeddedNATSCore(t)
		exercisePair(t, NewNATS(nc, "lifeline"), "watchdog")
	})

	t.Run("nil connection is unavailable", func(t *testing.T) {
		_, err := NewNATS(nil, "lifeline").Open(t.Context(), "watchdog")
		require.ErrorIs(t, err, types.ErrTransportUnavailable)
	})

	t.Run("closed connection is unavailable", func(t *testing.T) {
		_, nc := lifelinetest.StartEmbeddedNATSCore(t)
		nc.Close()

		_, err := NewNATS(nc, "lifeline").Open(t.Context(), "watchdog")
		require.ErrorIs(t, err, types.ErrTransportUnavailable)
	})
}

func TestJetStream(t *testing.T) {
	t.Run("broadcast between handles", func(t *testing.T) {
		_, nc := lifelinetest.StartEmbeddedNATS(t)
		exercisePair(t, NewJetStream(nc, "lifeline", WithStreamMaxAge(time.Minute)), "watchdog")
	})

	t.Run("only new messages are delivered", func(t *testing.T) {
		ctx := t.Context()
		_, nc := lifelinetest.StartEmbeddedNATS(t)
		c := NewJetStream(nc, "lifeline", WithStreamName("TEST_RELAY"))

		a, err := c.Open(ctx, "watchdog")
		require.NoError(t, err)
		defer a.Close()
		require.NoError(t, a.Send(ctx, []byte("old")))

		b, err := c.Open(ctx, "watchdog")
		require.NoError(t, err)
		defer b.Close()

		recv, got := collect()
		b.Listen(recv)

		require.NoError(t, a.Send(ctx, []byte("new")))
		expect(t, got, "new")
	})

	t.Run("close deletes the server consumer", func(t *testing.T) {
		ctx := t.Context()
		_, nc := lifelinetest.StartEmbeddedNATS(t)
		c := NewJetStream(nc, "lifeline", WithStreamName("CLOSE_RELAY"))

		consumers := func() int {
			js, err := jetstream.New(nc)
			require.NoError(t, err)
			stream, err := js.Stream(ctx, "CLOSE_RELAY")
			require.NoError(t, err)
			info, err := stream.Info(ctx)
			require.NoError(t, err)

			return info.State.Consumers
		}

		for range 3 {
			h, err := c.Open(ctx, "watchdog")
			require.NoError(t, err)
			require.Equal(t, 1, consumers())
			require.NoError(t, h.Close())
			require.Zero(t, consumers())
		}
	})

	t.Run("unavailable without jetstream", func(t *testing.T) {
		_, nc := lifelinetest.StartEmbeddedNATSCore(t)

		ctx, cancel := context.WithTimeout(t.Context(), 3*time.Second)
		defer cancel()

		_, err := NewJetStream(nc, "lifeline").Open(ctx, "watchdog")
		require.ErrorIs(t, err, types.ErrTransportUnavailable)
	})

	t.Run("nil connection is unavailable", func(t *testing.T) {
		_, err := NewJetStream(nil, "lifeline").Open(t.Context(), "watchdog")
		require.ErrorIs(t, err, types.ErrTransportUnavailable)
	})
}

func TestRedis(t *testing.T) {
	t.Run("nil client is unavailable", func(t *testing.T) {
		_, err := NewRedis(nil, "lifeline").Open(t.Context(), "watchdog")
		require.ErrorIs(t, err, types.ErrTransportUnavailable)
	})

	t.Run("broadcast between handles", func(t *testing.T) {
		client := lifelinetest.RedisClient(t)
		exercisePair(t, NewRedis(client, "lifeline"), "watchdog")
	})
}
