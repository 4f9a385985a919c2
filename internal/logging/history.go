package logging

import (
	"sync"
	"time"
)

// LogEntry is one log record kept in the history.
type LogEntry struct {
	Seq        uint64         `json:"seq"`
	Timestamp  time.Time      `json:"timestamp"`
	Level      string         `json:"level"`
	Module     string         `json:"module"`
	Message    string         `json:"message"`
	Attributes map[string]any `json:"attributes,omitempty"`
}

// History keeps the most recent log entries, numbered in write order
// starting at 1. Once full, each write evicts the oldest entry.
type History struct {
	mu       sync.Mutex
	entries  []LogEntry
	oldest   int
	capacity int
	lastSeq  uint64
}

// NewHistory creates a history holding up to capacity entries.
func NewHistory(capacity int) *History {
	if capacity < 1 {
		capacity = 1
	}
	return &History{
		entries:  make([]LogEntry, 0, capacity),
		capacity: capacity,
	}
}

// Append numbers entry, stores it and returns the stored copy.
func (h *History) Append(entry LogEntry) LogEntry {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.lastSeq++
	entry.Seq = h.lastSeq

	if len(h.entries) < h.capacity {
		h.entries = append(h.entries, entry)
		return entry
	}
	h.entries[h.oldest] = entry
	h.oldest = (h.oldest + 1) % h.capacity
	return entry
}

// Since returns the retained entries numbered after seq, oldest first.
func (h *History) Since(seq uint64) []LogEntry {
	h.mu.Lock()
	defer h.mu.Unlock()

	var out []LogEntry
	for i := range h.entries {
		entry := h.entries[(h.oldest+i)%len(h.entries)]
		if entry.Seq > seq {
			out = append(out, entry)
		}
	}
	return out
}

// Entries returns every retained entry, oldest first.
func (h *History) Entries() []LogEntry {
	return h.Since(0)
}

// Len returns the number of retained entries.
func (h *History) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.entries)
}

// LastSeq returns the number of the newest entry, 0 when empty.
func (h *History) LastSeq() uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.lastSeq
}
