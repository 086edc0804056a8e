package api

import (
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// LogEntry is one captured log line
type LogEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Level     string    `json:"level"`
	Component string    `json:"component,omitempty"`
	Message   string    `json:"message"`
	Raw       string    `json:"raw"`
}

// LogBuffer is a thread-safe ring buffer of recent log lines. It implements
// io.Writer so it can be tee'd behind the root logger.
type LogBuffer struct {
	entries []LogEntry
	size    int
	head    int
	count   int
	mu      sync.RWMutex
}

// NewLogBuffer creates a new log buffer with the specified capacity
func NewLogBuffer(size int) *LogBuffer {
	if size <= 0 {
		size = 500
	}
	return &LogBuffer{
		entries: make([]LogEntry, size),
		size:    size,
	}
}

// Write implements io.Writer. Each call is one zerolog JSON line.
func (lb *LogBuffer) Write(p []byte) (int, error) {
	entry := parseEntry(string(p))

	lb.mu.Lock()
	lb.entries[lb.head] = entry
	lb.head = (lb.head + 1) % lb.size
	if lb.count < lb.size {
		lb.count++
	}
	lb.mu.Unlock()

	return len(p), nil
}

func parseEntry(raw string) LogEntry {
	raw = strings.TrimRight(raw, "\n")
	entry := LogEntry{Timestamp: time.Now(), Level: zerolog.InfoLevel.String(), Message: raw, Raw: raw}

	var fields map[string]any
	if err := json.Unmarshal([]byte(raw), &fields); err != nil {
		return entry
	}
	if v, ok := fields[zerolog.LevelFieldName].(string); ok {
		entry.Level = v
	}
	if v, ok := fields[zerolog.MessageFieldName].(string); ok {
		entry.Message = v
	}
	if v, ok := fields["component"].(string); ok {
		entry.Component = v
	}
	if v, ok := fields[zerolog.TimestampFieldName].(string); ok {
		if ts, err := time.Parse(time.RFC3339, v); err == nil {
			entry.Timestamp = ts
		}
	}
	return entry
}

// Entries returns all captured entries, oldest first
func (lb *LogBuffer) Entries() []LogEntry {
	lb.mu.RLock()
	defer lb.mu.RUnlock()

	result := make([]LogEntry, lb.count)
	start := 0
	if lb.count == lb.size {
		start = lb.head
	}
	for i := 0; i < lb.count; i++ {
		result[i] = lb.entries[(start+i)%lb.size]
	}
	return result
}

// Recent returns the most recent n entries, optionally filtered to one level.
func (lb *LogBuffer) Recent(n int, level string) []LogEntry {
	entries := lb.Entries()
	if level != "" {
		filtered := entries[:0]
		for _, e := range entries {
			if e.Level == level {
				filtered = append(filtered, e)
			}
		}
		entries = filtered
	}
	if n <= 0 || len(entries) <= n {
		return entries
	}
	return entries[len(entries)-n:]
}
