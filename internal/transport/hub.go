package transport

import (
	"context"
	"fmt"
	"sync"

	"github.com/puzpuzpuz/xsync/v4"

	"github.com/arloliu/lifeline/types"
)

// HubName is the candidate name of the in-process hub.
const HubName = "hub"

const hubInboxSize = 64

// DefaultHub is the process-wide hub shared by every watchdog of this process.
var DefaultHub = NewHub()

// Hub is an in-process broadcast port keyed by channel name.
//
// Every handle opened on the same channel receives messages sent by the other
// handles; a sender never receives its own messages. Delivery is asynchronous
// through a bounded inbox per handle, full inboxes drop.
type Hub struct {
	channels *xsync.Map[string, *hubChannel]
}

var _ Candidate = (*Hub)(nil)

// NewHub creates an isolated hub. Tests use it to keep instances apart.
func NewHub() *Hub {
	return &Hub{channels: xsync.NewMap[string, *hubChannel]()}
}

// Name implements Candidate.
func (h *Hub) Name() string { return HubName }

// Open implements Candidate. The hub is always available.
func (h *Hub) Open(_ context.Context, channel string) (Transport, error) {
	ch, _ := h.channels.LoadOrCompute(channel, func() (*hubChannel, bool) {
		return &hubChannel{members: make(map[*hubTransport]struct{})}, false
	})

	t := &hubTransport{
		channel: ch,
		inbox:   make(chan []byte, hubInboxSize),
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}

	ch.mu.Lock()
	ch.members[t] = struct{}{}
	ch.mu.Unlock()

	go t.run()

	return t, nil
}

// Members returns the number of open handles on channel.
func (h *Hub) Members(channel string) int {
	ch, ok := h.channels.Load(channel)
	if !ok {
		return 0
	}

	ch.mu.RLock()
	defer ch.mu.RUnlock()

	return len(ch.members)
}

type hubChannel struct {
	mu      sync.RWMutex
	members map[*hubTransport]struct{}
}

type hubTransport struct {
	channel *hubChannel
	recv    receiverSlot

	inbox  chan []byte
	stopCh chan struct{}
	doneCh chan struct{}

	closeOnce sync.Once
	mu        sync.RWMutex
	closed    bool
}

func (t *hubTransport) Name() string { return HubName }

func (t *hubTransport) Send(_ context.Context, data []byte) error {
	t.mu.RLock()
	closed := t.closed
	t.mu.RUnlock()
	if closed {
		return types.ErrTransportClosed
	}

	t.channel.mu.RLock()
	defer t.channel.mu.RUnlock()

	dropped := 0
	for peer := range t.channel.members {
		if peer == t {
			continue
		}
		if !peer.offer(data) {
			dropped++
		}
	}

	if dropped > 0 {
		return fmt.Errorf("hub: %d peer inbox(es) full", dropped)
	}

	return nil
}

func (t *hubTransport) offer(data []byte) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if t.closed {
		return true
	}

	select {
	case t.inbox <- data:
		return true
	default:
		return false
	}
}

func (t *hubTransport) Listen(fn Receiver) { t.recv.set(fn) }

func (t *hubTransport) Close() error {
	t.closeOnce.Do(func() {
		t.channel.mu.Lock()
		delete(t.channel.members, t)
		t.channel.mu.Unlock()

		t.mu.Lock()
		t.closed = true
		t.mu.Unlock()

		close(t.stopCh)
		<-t.doneCh
	})

	return nil
}

func (t *hubTransport) run() {
	defer close(t.doneCh)

	for {
		select {
		case <-t.stopCh:
			return
		case data := <-t.inbox:
			t.recv.deliver(data)
		}
	}
}
