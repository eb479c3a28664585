package transport

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/arloliu/lifeline/internal/kvutil"
	"github.com/arloliu/lifeline/types"
)

// JetStreamName is the candidate name of the persistent JetStream transport.
const JetStreamName = "jetstream"

const (
	defaultStreamName   = "LIFELINE_RELAY"
	defaultStreamMaxAge = 5 * time.Minute
	streamRetries       = 3

	// consumerInactive bounds how long the server keeps the consumer of a
	// handle that went away without Close.
	consumerInactive = 30 * time.Second
	deleteTimeout    = 2 * time.Second
)

// JetStream is a persistent messaging transport backed by a JetStream stream.
//
// Each handle consumes through an ordered consumer starting at new messages,
// so a handle sees only messages published after it opened. The stream keeps
// messages for MaxAge so a consumer that reconnects catches up.
type JetStream struct {
	conn   *nats.Conn
	prefix string
	stream string
	maxAge time.Duration
}

var _ Candidate = (*JetStream)(nil)

// JetStreamOption configures a JetStream candidate.
type JetStreamOption func(*JetStream)

// WithStreamName overrides the stream name (default "LIFELINE_RELAY").
func WithStreamName(name string) JetStreamOption {
	return func(j *JetStream) { j.stream = name }
}

// WithStreamMaxAge bounds how long relay messages are retained (default 5m).
func WithStreamMaxAge(d time.Duration) JetStreamOption {
	return func(j *JetStream) { j.maxAge = d }
}

// NewJetStream creates a JetStream candidate publishing on <prefix>.persist.<channel>.
func NewJetStream(conn *nats.Conn, prefix string, opts ...JetStreamOption) *JetStream {
	j := &JetStream{
		conn:   conn,
		prefix: prefix,
		stream: defaultStreamName,
		maxAge: defaultStreamMaxAge,
	}
	for _, opt := range opts {
		opt(j)
	}

	return j
}

// Name implements Candidate.
func (j *JetStream) Name() string { return JetStreamName }

// Open implements Candidate. The transport is unavailable when the server has
// JetStream disabled.
func (j *JetStream) Open(ctx context.Context, channel string) (Transport, error) {
	if j.conn == nil || !j.conn.IsConnected() {
		return nil, fmt.Errorf("%s: %w", JetStreamName, types.ErrTransportUnavailable)
	}

	js, err := jetstream.New(j.conn)
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %w", JetStreamName, types.ErrTransportUnavailable, err)
	}

	if _, err := js.AccountInfo(ctx); err != nil {
		return nil, fmt.Errorf("%s: %w: %w", JetStreamName, types.ErrTransportUnavailable, err)
	}

	persistPrefix := subject(j.prefix, "persist")
	stream, err := kvutil.EnsureStream(ctx, js, jetstream.StreamConfig{
		Name:      j.stream,
		Subjects:  []string{persistPrefix + ".>"},
		Storage:   jetstream.FileStorage,
		Retention: jetstream.LimitsPolicy,
		MaxAge:    j.maxAge,
		Discard:   jetstream.DiscardOld,
	}, streamRetries)
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %w", JetStreamName, types.ErrTransportUnavailable, err)
	}

	t := &jetStreamTransport{js: js, stream: j.stream, subject: subject(persistPrefix, channel)}

	cons, err := stream.OrderedConsumer(ctx, jetstream.OrderedConsumerConfig{
		FilterSubjects:    []string{t.subject},
		DeliverPolicy:     jetstream.DeliverNewPolicy,
		InactiveThreshold: consumerInactive,
	})
	if err != nil {
		return nil, fmt.Errorf("%s: consumer: %w", JetStreamName, err)
	}
	t.cons = cons

	cc, err := cons.Consume(func(msg jetstream.Msg) {
		t.recv.deliver(msg.Data())
	})
	if err != nil {
		t.deleteConsumer()
		return nil, fmt.Errorf("%s: consume: %w", JetStreamName, err)
	}
	t.cc = cc

	return t, nil
}

type jetStreamTransport struct {
	js      jetstream.JetStream
	stream  string
	subject string
	cons    jetstream.Consumer
	cc      jetstream.ConsumeContext
	recv    receiverSlot

	mu     sync.Mutex
	closed bool
}

func (t *jetStreamTransport) Name() string { return JetStreamName }

func (t *jetStreamTransport) Send(ctx context.Context, data []byte) error {
	t.mu.Lock()
	closed := t.closed
	t.mu.Unlock()
	if closed {
		return types.ErrTransportClosed
	}

	if _, err := t.js.Publish(ctx, t.subject, data); err != nil {
		return fmt.Errorf("%s: publish: %w", JetStreamName, err)
	}

	return nil
}

func (t *jetStreamTransport) Listen(fn Receiver) { t.recv.set(fn) }

func (t *jetStreamTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil
	}
	t.closed = true
	t.recv.set(nil)
	t.cc.Stop()
	t.deleteConsumer()

	return nil
}

// deleteConsumer removes the server-side consumer currently backing the
// ordered consumer. Ordered consumers recreate themselves on reconnect, so
// the name is read at delete time.
func (t *jetStreamTransport) deleteConsumer() {
	info := t.cons.CachedInfo()
	if info == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), deleteTimeout)
	defer cancel()

	// A failed delete is reclaimed by the inactive threshold.
	_ = t.js.DeleteConsumer(ctx, t.stream, info.Name)
}
