package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

// PostgresConfig holds the connection parameters for the Postgres-backed
// request log.
type PostgresConfig struct {
	Host         string
	Port         int
	Database     string
	Username     string
	Password     string
	SSLMode      string
	MaxOpenConns int
	MaxIdleConns int
	MaxLifetime  int // seconds
}

// PostgresLogDB implements RequestLogDB over Postgres.
type PostgresLogDB struct {
	db *sql.DB
}

// NewPostgresLogDB opens the connection and creates the log table if it
// does not exist yet.
func NewPostgresLogDB(ctx context.Context, cfg PostgresConfig) (*PostgresLogDB, error) {
	dsn := fmt.Sprintf("host=%s port=%d dbname=%s user=%s password=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.Database, cfg.Username, cfg.Password, cfg.SSLMode)

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database connection: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.MaxLifetime > 0 {
		db.SetConnMaxLifetime(time.Duration(cfg.MaxLifetime) * time.Second)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if err := createTables(ctx, db); err != nil {
		db.Close()
		return nil, err
	}

	return &PostgresLogDB{db: db}, nil
}

func createTables(ctx context.Context, db *sql.DB) error {
	const schema = `
	CREATE TABLE IF NOT EXISTS request_logs (
		id BIGSERIAL PRIMARY KEY,
		request_id TEXT NOT NULL,
		operation TEXT NOT NULL,
		text TEXT NOT NULL,
		entity_count INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	);
	CREATE INDEX IF NOT EXISTS idx_request_logs_created_at ON request_logs (created_at);`

	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to create tables: %w", err)
	}
	return nil
}

// InsertLog stores one request log entry.
func (s *PostgresLogDB) InsertLog(ctx context.Context, entry LogEntry) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO request_logs (request_id, operation, text, entity_count) VALUES ($1, $2, $3, $4)`,
		entry.RequestID, entry.Operation, truncateText(entry.Text), entry.EntityCount)
	if err != nil {
		return fmt.Errorf("failed to insert log entry: %w", err)
	}
	return nil
}

// GetLogs retrieves log entries, newest first.
func (s *PostgresLogDB) GetLogs(ctx context.Context, limit, offset int) ([]LogEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, request_id, operation, text, entity_count, created_at
		 FROM request_logs ORDER BY created_at DESC, id DESC LIMIT $1 OFFSET $2`,
		limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query logs: %w", err)
	}
	defer rows.Close()

	var entries []LogEntry
	for rows.Next() {
		var entry LogEntry
		if err := rows.Scan(&entry.ID, &entry.RequestID, &entry.Operation, &entry.Text,
			&entry.EntityCount, &entry.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan log entry: %w", err)
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// GetLogsCount returns the total number of log entries.
func (s *PostgresLogDB) GetLogsCount(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM request_logs`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count logs: %w", err)
	}
	return count, nil
}

// ClearLogs removes all log entries.
func (s *PostgresLogDB) ClearLogs(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM request_logs`); err != nil {
		return fmt.Errorf("failed to clear logs: %w", err)
	}
	return nil
}

// CleanupOldLogs removes entries older than the given duration.
func (s *PostgresLogDB) CleanupOldLogs(ctx context.Context, olderThan time.Duration) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM request_logs WHERE created_at < $1`, time.Now().Add(-olderThan))
	if err != nil {
		return 0, fmt.Errorf("failed to cleanup logs: %w", err)
	}
	return result.RowsAffected()
}

// Close closes the database connection.
func (s *PostgresLogDB) Close() error {
	return s.db.Close()
}
