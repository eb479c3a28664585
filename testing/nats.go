package testing

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/redis/go-redis/v9"
)

// RedisURLEnv names the environment variable that enables Redis-backed tests.
const RedisURLEnv = "LIFELINE_REDIS_URL"

// StartEmbeddedNATS starts an embedded NATS server with JetStream enabled for testing.
//
// The server runs in-process with JetStream enabled and stores data in a temporary
// directory that is automatically cleaned up when the test completes. The server
// uses a random available port to avoid conflicts in parallel tests.
//
// Parameters:
//   - t: Testing context for logging and cleanup
//
// Returns:
//   - *server.Server: The embedded NATS server instance
//   - *nats.Conn: Connected NATS client (closed automatically on test completion)
//
// Example:
//
//	func TestRelay(t *testing.T) {
//	    _, nc := lifelinetest.StartEmbeddedNATS(t)
//	    // Use nc for your tests
//	}
func StartEmbeddedNATS(t *testing.T) (*server.Server, *nats.Conn) {
	t.Helper()

	return startEmbedded(t, true)
}

// StartEmbeddedNATSCore starts an embedded NATS server without JetStream.
//
// Useful for exercising capability probes: core pub/sub is available while
// every JetStream-backed component must report itself unavailable.
func StartEmbeddedNATSCore(t *testing.T) (*server.Server, *nats.Conn) {
	t.Helper()

	return startEmbedded(t, false)
}

func startEmbedded(t *testing.T, jetStream bool) (*server.Server, *nats.Conn) {
	t.Helper()

	opts := &server.Options{
		Host:      "127.0.0.1",
		Port:      -1, // Use random available port
		JetStream: jetStream,
		NoLog:     true,
		NoSigs:    true,
	}
	if jetStream {
		opts.StoreDir = t.TempDir()
	}

	ns, err := server.NewServer(opts)
	if err != nil {
		t.Fatalf("Failed to create embedded NATS server: %v", err)
	}

	go ns.Start()

	if !ns.ReadyForConnections(5 * time.Second) {
		ns.Shutdown()
		t.Fatal("Embedded NATS server not ready within timeout")
	}

	nc, err := nats.Connect(ns.ClientURL(),
		nats.Timeout(2*time.Second),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(3),
	)
	if err != nil {
		ns.Shutdown()
		t.Fatalf("Failed to connect to embedded NATS server: %v", err)
	}

	// Cleanup handlers run in reverse order
	t.Cleanup(func() {
		nc.Close()
		ns.Shutdown()
		ns.WaitForShutdown()
	})

	return ns, nc
}

// CreateJetStreamKV creates a memory-backed JetStream KV bucket for testing.
//
// Parameters:
//   - t: Testing context
//   - nc: Connection to a JetStream-enabled server
//   - bucketName: Bucket name
//
// Returns:
//   - jetstream.KeyValue: The created bucket
func CreateJetStreamKV(t *testing.T, nc *nats.Conn, bucketName string) jetstream.KeyValue {
	t.Helper()

	js, err := jetstream.New(nc)
	if err != nil {
		t.Fatalf("Failed to get JetStream context: %v", err)
	}

	kv, err := js.CreateKeyValue(t.Context(), jetstream.KeyValueConfig{
		Bucket:      bucketName,
		Description: fmt.Sprintf("Test KV bucket: %s", bucketName),
		History:     1,
		Storage:     jetstream.MemoryStorage,
		Replicas:    1,
	})
	if err != nil {
		t.Fatalf("Failed to create KV bucket %s: %v", bucketName, err)
	}

	return kv
}

// RedisClient returns a client for the server named by LIFELINE_REDIS_URL,
// or skips the test when the variable is unset or the server does not answer.
//
// The database is flushed before the test and the client closed afterwards.
func RedisClient(t *testing.T) *redis.Client {
	t.Helper()

	url := os.Getenv(RedisURLEnv)
	if url == "" {
		t.Skipf("%s not set; skipping Redis-backed test", RedisURLEnv)
	}

	opts, err := redis.ParseURL(url)
	if err != nil {
		t.Fatalf("invalid %s: %v", RedisURLEnv, err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(t.Context(), 2*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		t.Skipf("redis at %s unreachable: %v", url, err)
	}

	if err := client.FlushDB(ctx).Err(); err != nil {
		_ = client.Close()
		t.Fatalf("failed to flush redis: %v", err)
	}

	t.Cleanup(func() { _ = client.Close() })

	return client
}
