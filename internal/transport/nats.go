package transport

import (
	"context"
	"fmt"
	"sync"

	"github.com/nats-io/nats.go"

	"github.com/arloliu/lifeline/types"
)

// NATSName is the candidate name of the core NATS transport.
const NATSName = "nats"

// NATS is an ephemeral broadcast transport over core NATS pub/sub.
//
// Messages published while no instance is subscribed are lost.
type NATS struct {
	conn   *nats.Conn
	prefix string
}

var _ Candidate = (*NATS)(nil)

// NewNATS creates a core NATS candidate publishing on <prefix>.<channel>.
//
// Parameters:
//   - conn: NATS connection (nil makes the candidate unavailable)
//   - prefix: Subject prefix (e.g., "lifeline")
//
// Returns:
//   - *NATS: Candidate ready to be probed by a relay
func NewNATS(conn *nats.Conn, prefix string) *NATS {
	return &NATS{conn: conn, prefix: prefix}
}

// Name implements Candidate.
func (n *NATS) Name() string { return NATSName }

// Open implements Candidate.
func (n *NATS) Open(_ context.Context, channel string) (Transport, error) {
	if n.conn == nil || !n.conn.IsConnected() {
		return nil, fmt.Errorf("%s: %w", NATSName, types.ErrTransportUnavailable)
	}

	t := &natsTransport{conn: n.conn, subject: subject(n.prefix, channel)}

	sub, err := n.conn.Subscribe(t.subject, func(msg *nats.Msg) {
		t.recv.deliver(msg.Data)
	})
	if err != nil {
		return nil, fmt.Errorf("%s: subscribe %s: %w", NATSName, t.subject, err)
	}
	t.sub = sub

	return t, nil
}

type natsTransport struct {
	conn    *nats.Conn
	subject string
	sub     *nats.Subscription
	recv    receiverSlot

	mu     sync.Mutex
	closed bool
}

func (t *natsTransport) Name() string { return NATSName }

func (t *natsTransport) Send(_ context.Context, data []byte) error {
	t.mu.Lock()
	closed := t.closed
	t.mu.Unlock()
	if closed {
		return types.ErrTransportClosed
	}

	if err := t.conn.Publish(t.subject, data); err != nil {
		return fmt.Errorf("%s: publish: %w", NATSName, err)
	}

	return nil
}

func (t *natsTransport) Listen(fn Receiver) { t.recv.set(fn) }

func (t *natsTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil
	}
	t.closed = true
	t.recv.set(nil)

	if err := t.sub.Unsubscribe(); err != nil && err != nats.ErrConnectionClosed {
		return fmt.Errorf("%s: unsubscribe: %w", NATSName, err)
	}

	return nil
}

func subject(prefix, channel string) string {
	if prefix == "" {
		return channel
	}

	return prefix + "." + channel
}
