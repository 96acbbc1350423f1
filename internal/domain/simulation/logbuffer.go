package simulation

import (
	"sync"
	"time"
)

// LogEntry is one stored simulation log line.
type LogEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Message   string    `json:"message"`
	UserKey   string    `json:"user_key,omitempty"`
}

// LogBuffer is a capped, append-only store of recent log entries. Once the
// cap is reached the oldest entry is dropped, while Total keeps counting
// every message ever appended so pagination stays honest after drops.
type LogBuffer struct {
	mu      sync.Mutex
	max     int
	entries []LogEntry
	total   int64
}

// NewLogBuffer creates a buffer retaining at most max entries.
func NewLogBuffer(max int) *LogBuffer {
	if max < 1 {
		max = 1
	}
	return &LogBuffer{max: max, entries: make([]LogEntry, 0, max)}
}

// Append stores an entry, evicting the oldest once the cap is reached.
func (b *LogBuffer) Append(e LogEntry) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.entries) >= b.max {
		b.entries = b.entries[1:]
	}
	b.entries = append(b.entries, e)
	b.total++
}

// Len returns the number of currently stored entries.
func (b *LogBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.entries)
}

// Total returns the count of all entries ever appended, dropped included.
func (b *LogBuffer) Total() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.total
}

// Page returns a copy of stored entries in append order, skipping skip
// entries and returning at most limit. hasMore reports whether stored
// entries remain beyond the returned window.
func (b *LogBuffer) Page(limit, skip int) (entries []LogEntry, total int64, hasMore bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	total = b.total
	if skip >= len(b.entries) {
		return []LogEntry{}, total, false
	}
	end := skip + limit
	if end > len(b.entries) {
		end = len(b.entries)
	}
	entries = make([]LogEntry, end-skip)
	copy(entries, b.entries[skip:end])
	return entries, total, end < len(b.entries)
}

// Reset clears stored entries and the total counter.
func (b *LogBuffer) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.entries = b.entries[:0]
	b.total = 0
}
