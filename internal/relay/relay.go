package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/puzpuzpuz/xsync/v4"
	"golang.org/x/sync/errgroup"

	"github.com/arloliu/lifeline/internal/transport"
	"github.com/arloliu/lifeline/types"
)

// Handler receives one inbound message from one transport.
type Handler func(transport string, msg types.Message)

// Relay is a fan-out/fan-in over a fixed set of transports.
type Relay struct {
	channel    string
	self       string
	windowSize int
	logger     types.Logger
	metrics    types.MetricsCollector

	transports []transport.Transport
	handlers   *xsync.Map[uint64, Handler]
	nextID     atomic.Uint64
	seen       *window

	// mu is held for reading while handlers run; Close takes it for writing.
	mu     sync.RWMutex
	closed atomic.Bool
}

// New probes every candidate once, in order, and opens a relay on channel.
//
// Candidates whose Open fails are omitted from the active set. A relay with no
// active transport is valid: Send is a no-op and no handler ever fires.
//
// Parameters:
//   - ctx: Context bounding the probes
//   - channel: Channel name shared by all cooperating instances
//   - candidates: Transport candidates in preference order
//   - opts: Optional configuration
//
// Returns:
//   - *Relay: Open relay
//
// Example:
//
//	r := relay.New(ctx, "watchdog", []transport.Candidate{
//	    transport.DefaultHub,
//	    transport.NewNATS(nc, "lifeline"),
//	}, relay.WithSelf(id))
//	defer r.Close()
func New(ctx context.Context, channel string, candidates []transport.Candidate, opts ...Option) *Relay {
	r := &Relay{
		channel:  channel,
		handlers: xsync.NewMap[uint64, Handler](),
	}
	defaults(r)
	for _, opt := range opts {
		opt(r)
	}
	r.seen = newWindow(r.windowSize)

	for _, c := range candidates {
		if c == nil {
			continue
		}

		t, err := c.Open(ctx, channel)
		if err != nil {
			r.logger.Debug("transport unavailable", "transport", c.Name(), "channel", channel, "error", err)
			continue
		}

		name := t.Name()
		t.Listen(func(data []byte) { r.dispatch(name, data) })
		r.transports = append(r.transports, t)
	}

	r.metrics.SetActiveTransports(len(r.transports))
	r.logger.Debug("relay opened", "channel", channel, "transports", r.Transports())

	return r
}

// Transports returns the names of the active transports in probe order.
func (r *Relay) Transports() []string {
	names := make([]string, len(r.transports))
	for i, t := range r.transports {
		names[i] = t.Name()
	}

	return names
}

// Send encodes msg once and delivers it on every active transport.
//
// Each transport is attempted regardless of the others. The returned error
// joins the per-transport failures and is meant for logging.
func (r *Relay) Send(ctx context.Context, msg types.Message) error {
	if r.closed.Load() {
		return types.ErrRelayClosed
	}

	if msg.Sender == "" {
		msg.Sender = r.self
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode %s message: %w", msg.Type, err)
	}

	errs := make([]error, len(r.transports))

	var g errgroup.Group
	for i, t := range r.transports {
		g.Go(func() error {
			err := t.Send(ctx, data)
			r.metrics.RecordTransportSend(t.Name(), err == nil)
			if err != nil {
				errs[i] = fmt.Errorf("%s: %w", t.Name(), err)
			}

			return nil
		})
	}
	_ = g.Wait()

	return errors.Join(errs...)
}

// OnMessage registers handler for inbound messages and returns a function that removes it.
//
// The handler runs on the transport's delivery goroutine, once per transport
// per message. It must not call Close.
func (r *Relay) OnMessage(handler Handler) (cancel func()) {
	id := r.nextID.Add(1)
	r.handlers.Store(id, handler)

	return func() { r.handlers.Delete(id) }
}

// Close detaches every handler and releases every transport.
//
// After Close returns no handler fires. Close is idempotent.
func (r *Relay) Close() error {
	r.mu.Lock()
	if r.closed.Swap(true) {
		r.mu.Unlock()
		return nil
	}
	r.handlers.Clear()
	r.mu.Unlock()

	errs := make([]error, len(r.transports))

	var g errgroup.Group
	for i, t := range r.transports {
		g.Go(func() error {
			if err := t.Close(); err != nil {
				errs[i] = fmt.Errorf("%s: %w", t.Name(), err)
			}

			return nil
		})
	}
	_ = g.Wait()

	r.logger.Debug("relay closed", "channel", r.channel)

	return errors.Join(errs...)
}

// Closed reports whether Close was called.
func (r *Relay) Closed() bool {
	return r.closed.Load()
}

func (r *Relay) dispatch(name string, data []byte) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed.Load() {
		return
	}

	var msg types.Message
	if err := json.Unmarshal(data, &msg); err != nil || !msg.Type.Valid() {
		r.logger.Debug("dropping malformed relay message", "transport", name, "error", err)
		return
	}

	if r.self != "" && msg.Sender == r.self {
		return
	}

	r.metrics.RecordMessageReceived(name, msg.Type)
	if r.seen.observe(data) {
		r.metrics.RecordDuplicateDelivery(name)
	}

	r.handlers.Range(func(_ uint64, h Handler) bool {
		h(name, msg)
		return true
	})
}
