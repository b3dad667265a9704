// Package kvstore provides a small namespaced key/value store backed by
// SQLite. It backs local caches that must survive restarts without pulling
// the practice database into the hot path, like the email draft cache.
package kvstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS kv_entries (
    namespace  TEXT NOT NULL,
    key        TEXT NOT NULL,
    value      BLOB NOT NULL,
    updated_at TEXT NOT NULL,
    PRIMARY KEY (namespace, key)
);`

const (
	sqliteBusyCode          = 5
	busyRetryAttempts       = 5
	busyRetryInitialBackoff = 10 * time.Millisecond
	busyRetryMaxBackoff     = 200 * time.Millisecond
)

// Store is a namespaced key/value store over a single SQLite file. It is
// safe for concurrent use.
type Store struct {
	db   *sql.DB
	path string
}

// Open initializes or connects to the key/value database at path, creating
// parent directories as needed.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("kvstore: ensure directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("kvstore: open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("kvstore: apply pragma %q: %w", pragma, execErr)
		}
	}

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("kvstore: init schema: %w", err)
	}

	return &Store{db: db, path: path}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Get returns the value for key in namespace, or (nil, nil) when absent.
func (s *Store) Get(ctx context.Context, namespace, key string) ([]byte, error) {
	var value []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM kv_entries WHERE namespace = ? AND key = ?`,
		namespace, key,
	).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("kvstore: get %s/%s: %w", namespace, key, err)
	}
	return value, nil
}

// Set upserts the value for key in namespace.
func (s *Store) Set(ctx context.Context, namespace, key string, value []byte) error {
	err := s.execWithRetry(ctx,
		`INSERT INTO kv_entries (namespace, key, value, updated_at)
         VALUES (?, ?, ?, ?)
         ON CONFLICT (namespace, key) DO UPDATE SET
             value = excluded.value, updated_at = excluded.updated_at`,
		namespace, key, value, time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("kvstore: set %s/%s: %w", namespace, key, err)
	}
	return nil
}

// Delete removes key from namespace. Deleting an absent key is not an error.
func (s *Store) Delete(ctx context.Context, namespace, key string) error {
	if err := s.execWithRetry(ctx,
		`DELETE FROM kv_entries WHERE namespace = ? AND key = ?`,
		namespace, key,
	); err != nil {
		return fmt.Errorf("kvstore: delete %s/%s: %w", namespace, key, err)
	}
	return nil
}

// All returns every key and value in namespace.
func (s *Store) All(ctx context.Context, namespace string) (map[string][]byte, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT key, value FROM kv_entries WHERE namespace = ?`, namespace)
	if err != nil {
		return nil, fmt.Errorf("kvstore: list %s: %w", namespace, err)
	}
	defer rows.Close()

	entries := make(map[string][]byte)
	for rows.Next() {
		var (
			key   string
			value []byte
		)
		if err := rows.Scan(&key, &value); err != nil {
			return nil, fmt.Errorf("kvstore: scan %s: %w", namespace, err)
		}
		entries[key] = value
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("kvstore: iterate %s: %w", namespace, err)
	}
	return entries, nil
}

// ReplaceAll atomically replaces the full contents of namespace with entries.
func (s *Store) ReplaceAll(ctx context.Context, namespace string, entries map[string][]byte) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("kvstore: begin replace %s: %w", namespace, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM kv_entries WHERE namespace = ?`, namespace); err != nil {
		return fmt.Errorf("kvstore: clear %s: %w", namespace, err)
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)
	for key, value := range entries {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO kv_entries (namespace, key, value, updated_at) VALUES (?, ?, ?, ?)`,
			namespace, key, value, now); err != nil {
			return fmt.Errorf("kvstore: insert %s/%s: %w", namespace, key, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("kvstore: commit replace %s: %w", namespace, err)
	}
	return nil
}

func (s *Store) execWithRetry(ctx context.Context, query string, args ...any) error {
	delay := busyRetryInitialBackoff
	var lastErr error
	for attempt := 0; attempt < busyRetryAttempts; attempt++ {
		_, lastErr = s.db.ExecContext(ctx, query, args...)
		if lastErr == nil {
			return nil
		}
		if !isSQLiteBusy(lastErr) || attempt == busyRetryAttempts-1 {
			break
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		if next := delay * 2; next <= busyRetryMaxBackoff {
			delay = next
		}
	}
	return lastErr
}

func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	var coder interface{ Code() int }
	if errors.As(err, &coder) && coder.Code() == sqliteBusyCode {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}
