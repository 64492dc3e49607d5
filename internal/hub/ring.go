package hub

import (
	"sync"

	"SignalHub/internal/domain/models"
)

// LogRing keeps the most recent log lines, evicting the oldest first.
type LogRing struct {
	mu   sync.RWMutex
	buf  []models.LogLine
	head int // index of the oldest entry
	size int
}

func NewLogRing(capacity int) *LogRing {
	if capacity <= 0 {
		capacity = 1
	}
	return &LogRing{buf: make([]models.LogLine, capacity)}
}

func (r *LogRing) Push(l models.LogLine) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.size < len(r.buf) {
		r.buf[(r.head+r.size)%len(r.buf)] = l
		r.size++
		return
	}
	r.buf[r.head] = l
	r.head = (r.head + 1) % len(r.buf)
}

// Snapshot returns the retained lines oldest first.
func (r *LogRing) Snapshot() []models.LogLine {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]models.LogLine, 0, r.size)
	for i := 0; i < r.size; i++ {
		out = append(out, r.buf[(r.head+i)%len(r.buf)].Clone())
	}
	return out
}

// Recent returns up to limit lines newest first, optionally filtered by level.
func (r *LogRing) Recent(level models.LogLevel, limit int) []models.LogLine {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if limit <= 0 || limit > r.size {
		limit = r.size
	}
	out := make([]models.LogLine, 0, limit)
	for i := r.size - 1; i >= 0 && len(out) < limit; i-- {
		l := r.buf[(r.head+i)%len(r.buf)]
		if level != "" && l.Level != level {
			continue
		}
		out = append(out, l.Clone())
	}
	return out
}

func (r *LogRing) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.size
}

func (r *LogRing) Cap() int { return len(r.buf) }
