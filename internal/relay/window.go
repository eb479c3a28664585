package relay

import (
	"sync"

	"github.com/zeebo/xxh3"
)

// window remembers the fingerprints of the last n payloads.
type window struct {
	mu    sync.Mutex
	seen  map[uint64]struct{}
	ring  []uint64
	next  int
	count int
}

func newWindow(n int) *window {
	return &window{
		seen: make(map[uint64]struct{}, n),
		ring: make([]uint64, n),
	}
}

// observe records data and reports whether it was already in the window.
func (w *window) observe(data []byte) bool {
	fp := xxh3.Hash(data)

	w.mu.Lock()
	defer w.mu.Unlock()

	if _, dup := w.seen[fp]; dup {
		return true
	}

	if w.count == len(w.ring) {
		delete(w.seen, w.ring[w.next])
	} else {
		w.count++
	}
	w.ring[w.next] = fp
	w.seen[fp] = struct{}{}
	w.next = (w.next + 1) % len(w.ring)

	return false
}
