// Package store keeps a history of run reports in a SQLite database.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/tliron/commonlog"
	_ "modernc.org/sqlite"

	"github.com/enotvtapke/virtual-machines-cub/report"
)

// ErrNotFound indicates the requested run doesn't exist.
var ErrNotFound = errors.New("run not found")

var log = commonlog.GetLogger("lamavm.store")

var schema = []string{`CREATE TABLE IF NOT EXISTS runs (
	run_id     TEXT PRIMARY KEY,
	image      TEXT NOT NULL,
	status     TEXT NOT NULL,
	steps      INTEGER NOT NULL,
	started_at INTEGER NOT NULL,
	report     BLOB NOT NULL
)`,
	`CREATE INDEX IF NOT EXISTS runs_image ON runs (image, started_at)`,
}

// Store is a run history backed by one SQLite file.
type Store struct {
	db   *sql.DB
	path string
	mu   sync.Mutex
}

// Summary is the indexed part of a stored run.
type Summary struct {
	RunID     string
	Image     string
	Status    string
	Steps     int
	StartedAt time.Time
}

// Open opens or creates the database at path.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Set busy timeout for concurrent access
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}
	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("creating tables: %w", err)
		}
	}

	log.Infof("opened run history %s", path)
	return &Store{db: db, path: path}, nil
}

// Path returns the database file path.
func (s *Store) Path() string { return s.path }

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Save stores r, replacing any run with the same id.
func (s *Store) Save(ctx context.Context, r *report.Report) error {
	data, err := report.Marshal(r)
	if err != nil {
		return fmt.Errorf("encoding report: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err = s.db.ExecContext(ctx,
		"INSERT OR REPLACE INTO runs (run_id, image, status, steps, started_at, report) VALUES (?, ?, ?, ?, ?, ?)",
		r.RunID, r.Image, r.Status, r.Steps, r.StartedAt.UnixNano(), data,
	)
	if err != nil {
		log.Errorf("saving run %s: %s", r.RunID, err)
		return fmt.Errorf("saving run: %w", err)
	}
	log.Debugf("saved run %s (%s)", r.RunID, r.Status)
	return nil
}

// Get loads the full report of a run.
func (s *Store) Get(ctx context.Context, runID string) (*report.Report, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx, "SELECT report FROM runs WHERE run_id = ?", runID).Scan(&data)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, runID)
		}
		return nil, fmt.Errorf("querying run: %w", err)
	}
	return report.Unmarshal(data)
}

// List returns the most recent runs, newest first. An empty image lists
// runs of every image; limit <= 0 means no limit.
func (s *Store) List(ctx context.Context, image string, limit int) ([]Summary, error) {
	query := "SELECT run_id, image, status, steps, started_at FROM runs"
	var args []any
	if image != "" {
		query += " WHERE image = ?"
		args = append(args, image)
	}
	query += " ORDER BY started_at DESC, run_id"
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}
	defer rows.Close()

	var out []Summary
	for rows.Next() {
		var sum Summary
		var started int64
		if err := rows.Scan(&sum.RunID, &sum.Image, &sum.Status, &sum.Steps, &started); err != nil {
			return nil, fmt.Errorf("scanning run: %w", err)
		}
		sum.StartedAt = time.Unix(0, started).UTC()
		out = append(out, sum)
	}
	return out, rows.Err()
}
