// Package testing provides test utilities for the lifeline library.
//
// This package offers helpers for setting up test environments, particularly
// embedded NATS servers for integration testing. It follows Go's convention
// of providing testing utilities in a dedicated package (similar to net/http/httptest).
//
// Key utilities:
//   - StartEmbeddedNATS: Single NATS server with JetStream
//   - StartEmbeddedNATSCore: Single NATS server without JetStream (JetStream-unavailable transport tests)
//   - CreateJetStreamKV: Convenience wrapper for KV bucket creation
//   - RedisClient: Redis client from LIFELINE_REDIS_URL, skipping when unset
//   - NewTestLogger: types.Logger bound to testing.T
//
// Example usage:
//
//	import (
//	    "testing"
//	    lifelinetest "github.com/arloliu/lifeline/testing"
//	)
//
//	func TestMyComponent(t *testing.T) {
//	    _, nc := lifelinetest.StartEmbeddedNATS(t)
//	    // Use nc for your tests
//	}
package testing
