// Package captions keeps the captions a session has received.
package captions

import (
	"sync"

	"github.com/eleven-am/live-captions/internal/protocol"
)

const DefaultCapacity = 100

// History is a bounded FIFO. Appending to a full history evicts exactly
// the oldest caption.
type History struct {
	mu    sync.RWMutex
	items []protocol.Caption
	cap   int
}

func NewHistory(capacity int) *History {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &History{
		items: make([]protocol.Caption, 0, capacity),
		cap:   capacity,
	}
}

func (h *History) Append(c protocol.Caption) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if len(h.items) == h.cap {
		copy(h.items, h.items[1:])
		h.items = h.items[:len(h.items)-1]
	}
	h.items = append(h.items, c)
}

func (h *History) Clear() {
	h.mu.Lock()
	h.items = h.items[:0]
	h.mu.Unlock()
}

// Snapshot returns the captions oldest first.
func (h *History) Snapshot() []protocol.Caption {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]protocol.Caption, len(h.items))
	copy(out, h.items)
	return out
}

// Latest returns up to n of the newest captions, oldest first.
func (h *History) Latest(n int) []protocol.Caption {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if n <= 0 || n > len(h.items) {
		n = len(h.items)
	}
	out := make([]protocol.Caption, n)
	copy(out, h.items[len(h.items)-n:])
	return out
}

func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.items)
}

func (h *History) Cap() int {
	return h.cap
}
