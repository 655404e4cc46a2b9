package commands

import (
	"sync"
	"time"
)

// DefaultConsoleCapacity bounds the capture ring. Older entries fall
// off the front once it fills.
const DefaultConsoleCapacity = 1000

// ConsoleEntry is one captured console or error message from the host
// application's UI layer.
type ConsoleEntry struct {
	Level     string    `json:"level"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// ConsoleLog is a bounded in-memory ring of console output. The host
// application appends as its UI emits; agents read it back through the
// get_console_logs command.
type ConsoleLog struct {
	mu       sync.Mutex
	capacity int
	entries  []ConsoleEntry
}

func NewConsoleLog(capacity int) *ConsoleLog {
	if capacity <= 0 {
		capacity = DefaultConsoleCapacity
	}

	return &ConsoleLog{capacity: capacity}
}

// Append records one entry, evicting the oldest if the ring is full.
func (c *ConsoleLog) Append(level, message string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = append(c.entries, ConsoleEntry{
		Level:     level,
		Message:   message,
		Timestamp: time.Now(),
	})

	if len(c.entries) > c.capacity {
		c.entries = c.entries[len(c.entries)-c.capacity:]
	}
}

// Tail returns the most recent limit entries, oldest first. limit <= 0
// returns everything held.
func (c *ConsoleLog) Tail(limit int) []ConsoleEntry {
	c.mu.Lock()
	defer c.mu.Unlock()

	start := 0
	if limit > 0 && len(c.entries) > limit {
		start = len(c.entries) - limit
	}

	out := make([]ConsoleEntry, len(c.entries)-start)
	copy(out, c.entries[start:])
	return out
}

// Len reports how many entries the ring currently holds.
func (c *ConsoleLog) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.entries)
}
