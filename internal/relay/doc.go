// Package relay fans messages out over every available transport and fans
// inbound messages back in to registered handlers.
//
// Transport availability is probed exactly once, when the relay is created.
// The resulting active set is fixed for the relay's lifetime. Delivery is
// best-effort: the same message may arrive once per transport, and handlers
// must tolerate duplicates.
package relay
