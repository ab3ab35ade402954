package monitor

import (
	"sync"
	"time"
)

// HistoryWindow is how much time a History covers.
const HistoryWindow = 2 * time.Minute

// CapacityFor returns the number of samples taken at interval within HistoryWindow.
func CapacityFor(interval time.Duration) int {
	if interval <= 0 {
		return 1
	}
	n := int((HistoryWindow + interval - 1) / interval)
	return max(n, 1)
}

// History is a fixed-capacity FIFO of samples.
type History struct {
	mu    sync.RWMutex
	buf   []Sample
	start int
	n     int
}

func NewHistory(capacity int) *History {
	return &History{buf: make([]Sample, max(capacity, 1))}
}

// Append adds s, evicting the oldest sample when full.
func (h *History) Append(s Sample) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.n < len(h.buf) {
		h.buf[(h.start+h.n)%len(h.buf)] = s
		h.n++
		return
	}
	h.buf[h.start] = s
	h.start = (h.start + 1) % len(h.buf)
}

// Snapshot returns the samples oldest first.
func (h *History) Snapshot() []Sample {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]Sample, h.n)
	for i := range out {
		out[i] = h.buf[(h.start+i)%len(h.buf)]
	}
	return out
}

func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.n
}

func (h *History) Cap() int {
	return len(h.buf)
}

func (h *History) Clear() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.start, h.n = 0, 0
}
