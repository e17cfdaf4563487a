// Package store persists an audit trail of encode/decode requests served
// over HTTP. The codec itself keeps no state; this layer is optional
// serving infrastructure and defaults to an in-memory ring.
package store

import (
	"context"
	"time"
)

// Retention limits for the in-memory store.
const (
	// DefaultMaxLogEntries is the default maximum number of log entries to
	// retain in memory.
	DefaultMaxLogEntries = 5000
	// MaxLogTextSize is the maximum stored size of a request text in bytes.
	MaxLogTextSize = 50 * 1024
)

// LogEntry is one served request.
type LogEntry struct {
	ID          int64     `json:"id"`
	RequestID   string    `json:"request_id"`
	Operation   string    `json:"operation"` // encode, decode or ground
	Text        string    `json:"text"`
	EntityCount int       `json:"entity_count"`
	CreatedAt   time.Time `json:"created_at"`
}

// RequestLogDB is the interface for request log storage.
type RequestLogDB interface {
	// InsertLog stores one request log entry.
	InsertLog(ctx context.Context, entry LogEntry) error

	// GetLogs retrieves log entries, newest first.
	GetLogs(ctx context.Context, limit, offset int) ([]LogEntry, error)

	// GetLogsCount returns the total number of log entries.
	GetLogsCount(ctx context.Context) (int, error)

	// ClearLogs removes all log entries.
	ClearLogs(ctx context.Context) error

	// CleanupOldLogs removes entries older than the given duration and
	// returns how many were removed.
	CleanupOldLogs(ctx context.Context, olderThan time.Duration) (int64, error)

	// Close closes the underlying storage.
	Close() error
}

func truncateText(text string) string {
	if len(text) > MaxLogTextSize {
		return text[:MaxLogTextSize]
	}
	return text
}
