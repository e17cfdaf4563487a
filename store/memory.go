package store

import (
	"context"
	"sync"
	"time"
)

// MemoryLogDB implements RequestLogDB in memory with a bounded number of
// retained entries. Safe for concurrent use.
type MemoryLogDB struct {
	mu         sync.Mutex
	entries    []LogEntry
	nextID     int64
	maxEntries int
}

// NewMemoryLogDB creates an in-memory log store. maxEntries <= 0 falls back
// to DefaultMaxLogEntries.
func NewMemoryLogDB(maxEntries int) *MemoryLogDB {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxLogEntries
	}
	return &MemoryLogDB{nextID: 1, maxEntries: maxEntries}
}

// InsertLog stores one request log entry, evicting the oldest entries when
// the retention limit is hit.
func (s *MemoryLogDB) InsertLog(_ context.Context, entry LogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry.ID = s.nextID
	s.nextID++
	entry.Text = truncateText(entry.Text)
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}

	s.entries = append(s.entries, entry)
	if len(s.entries) > s.maxEntries {
		s.entries = s.entries[len(s.entries)-s.maxEntries:]
	}
	return nil
}

// GetLogs retrieves log entries, newest first.
func (s *MemoryLogDB) GetLogs(_ context.Context, limit, offset int) ([]LogEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if limit <= 0 {
		limit = 100
	}

	var out []LogEntry
	for i := len(s.entries) - 1 - offset; i >= 0 && len(out) < limit; i-- {
		out = append(out, s.entries[i])
	}
	return out, nil
}

// GetLogsCount returns the total number of retained entries.
func (s *MemoryLogDB) GetLogsCount(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries), nil
}

// ClearLogs removes all entries.
func (s *MemoryLogDB) ClearLogs(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = nil
	return nil
}

// CleanupOldLogs removes entries older than the given duration.
func (s *MemoryLogDB) CleanupOldLogs(_ context.Context, olderThan time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().Add(-olderThan)
	kept := s.entries[:0]
	var removed int64
	for _, entry := range s.entries {
		if entry.CreatedAt.Before(cutoff) {
			removed++
			continue
		}
		kept = append(kept, entry)
	}
	s.entries = kept
	return removed, nil
}

// Close is a no-op for the in-memory store.
func (s *MemoryLogDB) Close() error { return nil }
