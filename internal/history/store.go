// Package history is the SQLite-backed audit ledger of terminal tasks:
// every task that reaches Completed, Failed, or Cancelled gets one row
// here, written after the Manager updates its in-memory status. It is
// strictly an audit trail -- scheduling and resume decisions never
// consult it, only Task and resume.Info do.
package history

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// Entry is one terminal task's audit row.
type Entry struct {
	ID          string
	URL         string
	DestPath    string
	Filename    string
	Status      string // "completed", "failed", "cancelled"
	TotalSize   int64
	Downloaded  int64
	CompletedAt time.Time
	Elapsed     time.Duration
	ErrorMsg    string
}

// Store wraps a SQLite connection holding the history table.
type Store struct {
	db *sql.DB
}

// Open opens (creating if necessary) the history database at path and
// ensures its schema exists.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("history: open: %w", err)
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite is not safe for concurrent writers

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS history (
			id           TEXT PRIMARY KEY,
			url          TEXT NOT NULL,
			dest_path    TEXT NOT NULL,
			filename     TEXT NOT NULL,
			status       TEXT NOT NULL,
			total_size   INTEGER NOT NULL,
			downloaded   INTEGER NOT NULL,
			completed_at INTEGER NOT NULL,
			elapsed_ms   INTEGER NOT NULL,
			error_msg    TEXT NOT NULL DEFAULT ''
		)
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("history: create schema: %w", err)
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) withTx(fn func(*sql.Tx) error) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("history: begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

// Record upserts a terminal task's entry, keyed by task id.
func (s *Store) Record(e Entry) error {
	return s.withTx(func(tx *sql.Tx) error {
		_, err := tx.Exec(`
			INSERT INTO history (
				id, url, dest_path, filename, status, total_size, downloaded, completed_at, elapsed_ms, error_msg
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				status=excluded.status,
				downloaded=excluded.downloaded,
				completed_at=excluded.completed_at,
				elapsed_ms=excluded.elapsed_ms,
				error_msg=excluded.error_msg
		`, e.ID, e.URL, e.DestPath, e.Filename, e.Status, e.TotalSize, e.Downloaded,
			e.CompletedAt.Unix(), e.Elapsed.Milliseconds(), e.ErrorMsg)
		if err != nil {
			return fmt.Errorf("history: upsert %s: %w", e.ID, err)
		}
		return nil
	})
}

// List returns every recorded entry, most recently completed first.
func (s *Store) List() ([]Entry, error) {
	rows, err := s.db.Query(`
		SELECT id, url, dest_path, filename, status, total_size, downloaded, completed_at, elapsed_ms, error_msg
		FROM history ORDER BY completed_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("history: list: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		var completedAt, elapsedMs int64
		if err := rows.Scan(&e.ID, &e.URL, &e.DestPath, &e.Filename, &e.Status,
			&e.TotalSize, &e.Downloaded, &completedAt, &elapsedMs, &e.ErrorMsg); err != nil {
			return nil, fmt.Errorf("history: scan: %w", err)
		}
		e.CompletedAt = time.Unix(completedAt, 0)
		e.Elapsed = time.Duration(elapsedMs) * time.Millisecond
		out = append(out, e)
	}
	return out, rows.Err()
}

// Delete removes a task's entry, e.g. when the user clears it from the UI.
func (s *Store) Delete(id string) error {
	_, err := s.db.Exec("DELETE FROM history WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("history: delete %s: %w", id, err)
	}
	return nil
}

// ClearCompleted removes every entry with status "completed" and returns
// how many rows were removed.
func (s *Store) ClearCompleted() (int64, error) {
	res, err := s.db.Exec("DELETE FROM history WHERE status = 'completed'")
	if err != nil {
		return 0, fmt.Errorf("history: clear completed: %w", err)
	}
	return res.RowsAffected()
}
