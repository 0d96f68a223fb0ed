package logging

import "sync"

// DefaultBufferSize is the number of entries the live view keeps.
const DefaultBufferSize = 100

// LogBuffer is a fixed-size ring of recent log entries.
type LogBuffer struct {
	mu      sync.RWMutex
	entries []LogEntry
	start   int
	count   int
}

// NewLogBuffer returns a buffer holding at most size entries.
func NewLogBuffer(size int) *LogBuffer {
	if size <= 0 {
		size = DefaultBufferSize
	}
	return &LogBuffer{entries: make([]LogEntry, size)}
}

// Add appends an entry, overwriting the oldest when full.
func (b *LogBuffer) Add(entry LogEntry) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.entries[(b.start+b.count)%len(b.entries)] = entry
	if b.count < len(b.entries) {
		b.count++
		return
	}
	b.start = (b.start + 1) % len(b.entries)
}

// Last returns up to n of the newest entries, oldest first.
func (b *LogBuffer) Last(n int) []LogEntry {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if n > b.count {
		n = b.count
	}
	out := make([]LogEntry, n)
	skip := b.count - n
	for i := range n {
		out[i] = b.entries[(b.start+skip+i)%len(b.entries)]
	}
	return out
}

// Len returns the number of buffered entries.
func (b *LogBuffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.count
}
