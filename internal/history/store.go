package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/spherical/pdfdown/internal/domain"
)

// ErrNotFound is returned when a run does not exist.
var ErrNotFound = errors.New("run not found")

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id           TEXT PRIMARY KEY,
	input_path   TEXT NOT NULL,
	content_type TEXT NOT NULL,
	model        TEXT NOT NULL,
	total_pages  INTEGER NOT NULL,
	successful   INTEGER NOT NULL,
	failed       INTEGER NOT NULL,
	duration_ms  INTEGER NOT NULL,
	started_at   TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS page_results (
	run_id      TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
	page_index  INTEGER NOT NULL,
	ok          INTEGER NOT NULL,
	error_kind  TEXT NOT NULL DEFAULT '',
	status_code INTEGER NOT NULL DEFAULT 0,
	attempts    INTEGER NOT NULL,
	duration_ms INTEGER NOT NULL,
	chars       INTEGER NOT NULL,
	PRIMARY KEY (run_id, page_index)
);

CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at DESC);
`

// Store persists runs in a SQLite database.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the history database at path. Use ":memory:" for tests.
func Open(path string) (*Store, error) {
	if path == "" {
		return nil, domain.ConfigError("history database path is empty", nil)
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, domain.IOError("create history directory", err)
		}
	}

	db, err := sql.Open("sqlite3", path+"?_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// a single connection keeps :memory: databases shared and serializes writers
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate history schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// RecordRun stores a run and its page records in one transaction.
func (s *Store) RecordRun(ctx context.Context, run Run) error {
	if run.ID == "" {
		return errors.New("run id is required")
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO runs (id, input_path, content_type, model, total_pages, successful, failed, duration_ms, started_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		run.ID, run.InputPath, run.ContentType, run.Model, run.TotalPages,
		run.Successful, run.Failed, run.Duration.Milliseconds(), run.StartedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO page_results (run_id, page_index, ok, error_kind, status_code, attempts, duration_ms, chars)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("prepare page insert: %w", err)
	}
	defer stmt.Close()

	for _, p := range run.Pages {
		if _, err := stmt.ExecContext(ctx,
			run.ID, p.Index, p.OK, p.ErrorKind, p.StatusCode, p.Attempts, p.Duration.Milliseconds(), p.Chars,
		); err != nil {
			return fmt.Errorf("insert page %d: %w", p.Index, err)
		}
	}

	return tx.Commit()
}

// ListRuns returns the most recent runs, newest first, without page records.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, input_path, content_type, model, total_pages, successful, failed, duration_ms, started_at
		FROM runs
		ORDER BY started_at DESC, rowid DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// GetRun returns a run with its page records in page order.
func (s *Store) GetRun(ctx context.Context, id string) (*Run, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, input_path, content_type, model, total_pages, successful, failed, duration_ms, started_at
		FROM runs WHERE id = ?
	`, id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT page_index, ok, error_kind, status_code, attempts, duration_ms, chars
		FROM page_results WHERE run_id = ?
		ORDER BY page_index
	`, id)
	if err != nil {
		return nil, fmt.Errorf("query pages: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var p PageRecord
		var durationMS int64
		if err := rows.Scan(&p.Index, &p.OK, &p.ErrorKind, &p.StatusCode, &p.Attempts, &durationMS, &p.Chars); err != nil {
			return nil, fmt.Errorf("scan page: %w", err)
		}
		p.Duration = time.Duration(durationMS) * time.Millisecond
		run.Pages = append(run.Pages, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return &run, nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(row scanner) (Run, error) {
	var run Run
	var durationMS int64
	err := row.Scan(
		&run.ID, &run.InputPath, &run.ContentType, &run.Model, &run.TotalPages,
		&run.Successful, &run.Failed, &durationMS, &run.StartedAt,
	)
	if err != nil {
		return Run{}, err
	}
	run.Duration = time.Duration(durationMS) * time.Millisecond
	return run, nil
}
