// Package signals provides push-style external signals (visibility, power).
package signals

import (
	"sync"
	"sync/atomic"

	"github.com/puzpuzpuz/xsync/v4"
)

// Source is a push-style signal. Subscribe registers fn and returns a function
// that removes it.
type Source[T any] interface {
	Subscribe(fn func(T)) (cancel func())
}

// Broadcaster is a Source that delivers every published value to all current
// subscribers, synchronously, in the publisher's goroutine.
//
// Values equal to the last published one are still delivered; deduplication is
// left to subscribers.
type Broadcaster[T any] struct {
	subscribers *xsync.Map[uint64, func(T)]
	nextID      atomic.Uint64

	mu   sync.RWMutex
	last T
	set  bool
}

var _ Source[bool] = (*Broadcaster[bool])(nil)

// NewBroadcaster creates an empty broadcaster.
func NewBroadcaster[T any]() *Broadcaster[T] {
	return &Broadcaster[T]{subscribers: xsync.NewMap[uint64, func(T)]()}
}

// Subscribe registers fn. If a value was already published, fn receives it immediately.
func (b *Broadcaster[T]) Subscribe(fn func(T)) func() {
	id := b.nextID.Add(1)
	b.subscribers.Store(id, fn)

	if v, ok := b.Last(); ok {
		fn(v)
	}

	return func() { b.subscribers.Delete(id) }
}

// Publish delivers v to every subscriber.
func (b *Broadcaster[T]) Publish(v T) {
	b.mu.Lock()
	b.last, b.set = v, true
	b.mu.Unlock()

	b.subscribers.Range(func(_ uint64, fn func(T)) bool {
		fn(v)
		return true
	})
}

// Last returns the most recently published value.
func (b *Broadcaster[T]) Last() (T, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return b.last, b.set
}

// Subscribers returns the number of registered subscribers.
func (b *Broadcaster[T]) Subscribers() int {
	return b.subscribers.Size()
}
