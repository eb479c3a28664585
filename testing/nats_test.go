package testing

import (
	"testing"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/require"
)

func TestStartEmbeddedNATS(t *testing.T) {
	ns, nc := StartEmbeddedNATS(t)

	require.NotNil(t, ns)
	require.True(t, nc.IsConnected())
	require.True(t, ns.ReadyForConnections(time.Second))
	require.True(t, ns.JetStreamEnabled())
}

func TestStartEmbeddedNATSCore(t *testing.T) {
	ns, nc := StartEmbeddedNATSCore(t)

	require.True(t, nc.IsConnected())
	require.False(t, ns.JetStreamEnabled())
}

func TestStartEmbeddedNATS_Parallel(t *testing.T) {
	t.Parallel()

	for range 3 {
		t.Run("parallel", func(t *testing.T) {
			t.Parallel()

			_, nc := StartEmbeddedNATS(t)
			require.True(t, nc.IsConnected())
		})
	}
}

func TestCreateJetStreamKV(t *testing.T) {
	_, nc := StartEmbeddedNATS(t)
	kv := CreateJetStreamKV(t, nc, "helper-bucket")

	_, err := kv.PutString(t.Context(), "k", "v")
	require.NoError(t, err)

	entry, err := kv.Get(t.Context(), "k")
	require.NoError(t, err)
	require.Equal(t, "v", string(entry.Value()))
	require.Equal(t, jetstream.KeyValuePut, entry.Operation())
}
