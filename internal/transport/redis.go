package transport

import (
	"context"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/arloliu/lifeline/types"
)

// RedisName is the candidate name of the Redis pub/sub transport.
const RedisName = "redis"

// Redis is an ephemeral broadcast transport over Redis pub/sub.
type Redis struct {
	client redis.UniversalClient
	prefix string
}

var _ Candidate = (*Redis)(nil)

// NewRedis creates a Redis candidate publishing on <prefix>.<channel>.
func NewRedis(client redis.UniversalClient, prefix string) *Redis {
	return &Redis{client: client, prefix: prefix}
}

// Name implements Candidate.
func (r *Redis) Name() string { return RedisName }

// Open implements Candidate. The transport is unavailable when PING fails.
func (r *Redis) Open(ctx context.Context, channel string) (Transport, error) {
	if r.client == nil {
		return nil, fmt.Errorf("%s: %w", RedisName, types.ErrTransportUnavailable)
	}

	if err := r.client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("%s: %w: %w", RedisName, types.ErrTransportUnavailable, err)
	}

	t := &redisTransport{
		client:  r.client,
		channel: subject(r.prefix, channel),
		doneCh:  make(chan struct{}),
	}

	t.ps = r.client.Subscribe(ctx, t.channel)
	// Wait for the subscription confirmation so messages sent right after Open are seen.
	if _, err := t.ps.Receive(ctx); err != nil {
		_ = t.ps.Close()
		return nil, fmt.Errorf("%s: subscribe %s: %w", RedisName, t.channel, err)
	}

	go t.run(t.ps.Channel())

	return t, nil
}

type redisTransport struct {
	client  redis.UniversalClient
	channel string
	ps      *redis.PubSub
	recv    receiverSlot
	doneCh  chan struct{}

	mu     sync.Mutex
	closed bool
}

func (t *redisTransport) Name() string { return RedisName }

func (t *redisTransport) Send(ctx context.Context, data []byte) error {
	t.mu.Lock()
	closed := t.closed
	t.mu.Unlock()
	if closed {
		return types.ErrTransportClosed
	}

	if err := t.client.Publish(ctx, t.channel, data).Err(); err != nil {
		return fmt.Errorf("%s: publish: %w", RedisName, err)
	}

	return nil
}

func (t *redisTransport) Listen(fn Receiver) { t.recv.set(fn) }

func (t *redisTransport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.mu.Unlock()

	err := t.ps.Close()
	<-t.doneCh

	if err != nil {
		return fmt.Errorf("%s: close: %w", RedisName, err)
	}

	return nil
}

func (t *redisTransport) run(msgs <-chan *redis.Message) {
	defer close(t.doneCh)

	for msg := range msgs {
		t.recv.deliver([]byte(msg.Payload))
	}
}
