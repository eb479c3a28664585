package transport

import (
	"context"
	"sync/atomic"
)

// Receiver is invoked with the raw bytes of each inbound message.
type Receiver func(data []byte)

// Transport is one open, bidirectional channel handle.
type Transport interface {
	// Name returns the candidate name this handle was opened from.
	Name() string

	// Send publishes data to every listener of the channel.
	Send(ctx context.Context, data []byte) error

	// Listen installs the receiver for inbound messages, replacing any previous one.
	// Messages arriving before Listen is called are dropped.
	Listen(fn Receiver)

	// Close releases the handle. No receiver call starts after Close returns.
	Close() error
}

// Candidate is a transport capability that may or may not be present.
type Candidate interface {
	// Name identifies the transport in logs and metrics.
	Name() string

	// Open probes the capability and opens a handle on channel.
	// An error means the transport is unavailable.
	Open(ctx context.Context, channel string) (Transport, error)
}

// receiverSlot holds the current receiver of a transport.
type receiverSlot struct {
	fn atomic.Pointer[Receiver]
}

func (s *receiverSlot) set(fn Receiver) {
	if fn == nil {
		s.fn.Store(nil)
		return
	}
	s.fn.Store(&fn)
}

func (s *receiverSlot) deliver(data []byte) {
	if fn := s.fn.Load(); fn != nil {
		(*fn)(data)
	}
}
