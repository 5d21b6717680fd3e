// Package state persists the daemon's watched roots and sync telemetry in
// SQLite.
package state

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver (no CGO)

	werrors "github.com/Aman-CERP/watchsync/internal/errors"
)

// dateLayout keys the daily aggregates.
const dateLayout = "2006-01-02"

// Latency buckets for sync_latency_stats.
const (
	BucketUnder10ms  = "<10ms"
	Bucket10to50ms   = "10-50ms"
	Bucket50to100ms  = "50-100ms"
	Bucket100to500ms = "100-500ms"
	BucketOver500ms  = ">500ms"
)

// LatencyBucket maps a sync duration to its histogram bucket.
func LatencyBucket(d time.Duration) string {
	switch {
	case d < 10*time.Millisecond:
		return BucketUnder10ms
	case d < 50*time.Millisecond:
		return Bucket10to50ms
	case d < 100*time.Millisecond:
		return Bucket50to100ms
	case d < 500*time.Millisecond:
		return Bucket100to500ms
	default:
		return BucketOver500ms
	}
}

const schema = `
-- Roots restored when the daemon starts
CREATE TABLE IF NOT EXISTS watched_roots (
	path TEXT PRIMARY KEY,
	added_at TIMESTAMP NOT NULL
);

-- Sync outcomes (aggregated daily)
CREATE TABLE IF NOT EXISTS sync_stats (
	date TEXT NOT NULL,
	root TEXT NOT NULL,
	outcome TEXT NOT NULL,
	count INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (date, root, outcome)
);

-- Sync latency histogram (aggregated daily)
CREATE TABLE IF NOT EXISTS sync_latency_stats (
	date TEXT NOT NULL,
	root TEXT NOT NULL,
	bucket TEXT NOT NULL,
	count INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (date, root, bucket)
);
`

// Store is the SQLite-backed state store.
type Store struct {
	db   *sql.DB
	path string
	now  func() time.Time
}

// Open opens (creating if needed) the state database at path.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, werrors.IOError("create state directory", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, werrors.IOError("open state database", err)
	}

	// Single writer to prevent lock contention
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	// DSN params may be ignored by modernc.org/sqlite, so set pragmas directly.
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, classify(fmt.Errorf("set pragma %q: %w", pragma, err), path)
		}
	}

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, classify(fmt.Errorf("create state schema: %w", err), path)
	}

	return &Store{db: db, path: path, now: time.Now}, nil
}

// classify marks errors that mean the file is not a usable database.
func classify(err error, path string) error {
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "not a database") || strings.Contains(msg, "malformed") {
		return werrors.New(werrors.ErrCodeStateCorrupt, "state database is corrupted", err).
			WithDetail("path", path).
			WithSuggestion(fmt.Sprintf("Remove %s and re-add watches", path))
	}
	return werrors.IOError("initialise state database", err)
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// RootRecord is a persisted watched root.
type RootRecord struct {
	Path    string    `json:"path"`
	AddedAt time.Time `json:"added_at"`
}

// AddRoot records path as watched. Re-adding keeps the original time.
func (s *Store) AddRoot(ctx context.Context, path string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO watched_roots (path, added_at)
		VALUES (?, ?)
		ON CONFLICT(path) DO NOTHING
	`, path, s.now().UTC())
	if err != nil {
		return fmt.Errorf("insert watched root: %w", err)
	}
	return nil
}

// RemoveRoot forgets path. Removing an unknown root is not an error.
func (s *Store) RemoveRoot(ctx context.Context, path string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM watched_roots WHERE path = ?`, path); err != nil {
		return fmt.Errorf("delete watched root: %w", err)
	}
	return nil
}

// Roots returns the persisted roots, oldest first.
func (s *Store) Roots(ctx context.Context) ([]RootRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT path, added_at
		FROM watched_roots
		ORDER BY added_at, path
	`)
	if err != nil {
		return nil, fmt.Errorf("query watched roots: %w", err)
	}
	defer rows.Close()

	var roots []RootRecord
	for rows.Next() {
		var r RootRecord
		if err := rows.Scan(&r.Path, &r.AddedAt); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		roots = append(roots, r)
	}
	return roots, rows.Err()
}

// RecordSync adds one sync outcome and its latency to today's aggregates.
func (s *Store) RecordSync(ctx context.Context, root, outcome string, latency time.Duration) error {
	date := s.now().UTC().Format(dateLayout)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO sync_stats (date, root, outcome, count)
		VALUES (?, ?, ?, 1)
		ON CONFLICT(date, root, outcome) DO UPDATE SET count = count + 1
	`, date, root, outcome); err != nil {
		return fmt.Errorf("upsert sync outcome: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO sync_latency_stats (date, root, bucket, count)
		VALUES (?, ?, ?, 1)
		ON CONFLICT(date, root, bucket) DO UPDATE SET count = count + 1
	`, date, root, LatencyBucket(latency)); err != nil {
		return fmt.Errorf("upsert sync latency: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// SyncSummary aggregates sync telemetry over a date range.
type SyncSummary struct {
	Outcomes map[string]int64 `json:"outcomes"`
	Latency  map[string]int64 `json:"latency"`
}

// Total returns the number of syncs in the summary.
func (s SyncSummary) Total() int64 {
	var n int64
	for _, c := range s.Outcomes {
		n += c
	}
	return n
}

// SyncStats sums telemetry for root between the from and to dates
// (inclusive, YYYY-MM-DD). An empty root covers every root.
func (s *Store) SyncStats(ctx context.Context, root, from, to string) (SyncSummary, error) {
	summary := SyncSummary{
		Outcomes: make(map[string]int64),
		Latency:  make(map[string]int64),
	}

	queries := []struct {
		sql  string
		into map[string]int64
	}{
		{`SELECT outcome, SUM(count) FROM sync_stats
			WHERE date >= ? AND date <= ? AND (? = '' OR root = ?)
			GROUP BY outcome`, summary.Outcomes},
		{`SELECT bucket, SUM(count) FROM sync_latency_stats
			WHERE date >= ? AND date <= ? AND (? = '' OR root = ?)
			GROUP BY bucket`, summary.Latency},
	}

	for _, q := range queries {
		rows, err := s.db.QueryContext(ctx, q.sql, from, to, root, root)
		if err != nil {
			return SyncSummary{}, fmt.Errorf("query sync stats: %w", err)
		}
		for rows.Next() {
			var key string
			var count int64
			if err := rows.Scan(&key, &count); err != nil {
				rows.Close()
				return SyncSummary{}, fmt.Errorf("scan row: %w", err)
			}
			q.into[key] = count
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return SyncSummary{}, err
		}
	}
	return summary, nil
}

// Today returns today's date key.
func (s *Store) Today() string {
	return s.now().UTC().Format(dateLayout)
}
