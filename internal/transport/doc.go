// Package transport implements the message transports a relay fans out over.
//
// Each transport is reached through a Candidate. A relay opens every candidate
// once at startup; a Candidate whose Open fails is treated as unavailable and
// left out of the active set.
//
// Available transports:
//   - hub: in-process shared port keyed by channel name, always available
//   - nats: ephemeral core NATS broadcast on <prefix>.<channel>
//   - jetstream: persistent JetStream stream on <prefix>.persist.<channel>
//   - redis: Redis pub/sub on <prefix>.<channel>
//
// Delivery is best-effort and unordered. Broadcast transports may echo a
// message back to its sender; filtering is the relay's job.
package transport
