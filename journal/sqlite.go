package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore keeps entries in a SQLite database file.
type SQLiteStore struct {
	path string

	mu sync.RWMutex
	db *sql.DB
}

func NewSQLiteStore(path string) *SQLiteStore {
	return &SQLiteStore{path: path}
}

func (s *SQLiteStore) Init(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.path == "" {
		return errors.New("sqlite path is required")
	}
	if s.db != nil {
		return nil
	}

	db, err := sql.Open("sqlite", s.path)
	if err != nil {
		return err
	}
	// Workers save concurrently; one connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return err
	}
	if err := createTables(ctx, db); err != nil {
		_ = db.Close()
		return err
	}

	s.db = db
	return nil
}

func (s *SQLiteStore) Save(ctx context.Context, e Entry) error {
	db, err := s.getDB()
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx, `
		INSERT INTO results (run_id, worker_id, task, task_id, experiment_id, fitness, simulated_time, result, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, e.RunID, e.WorkerID, e.Task, e.TaskID, e.ExperimentID, e.Fitness, e.SimulatedTime, []byte(e.Result), e.CompletedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("saving result %s: %w", e.TaskID, err)
	}
	return nil
}

func (s *SQLiteStore) Top(ctx context.Context, n int) ([]Entry, error) {
	db, err := s.getDB()
	if err != nil {
		return nil, err
	}
	if n < 0 {
		n = -1 // SQLite: no limit
	}
	rows, err := db.QueryContext(ctx, `
		SELECT run_id, worker_id, task, task_id, experiment_id, fitness, simulated_time, result, completed_at
		FROM results
		ORDER BY fitness DESC, completed_at ASC, rowid ASC
		LIMIT ?
	`, n)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			e         Entry
			result    []byte
			completed int64
		)
		if err := rows.Scan(&e.RunID, &e.WorkerID, &e.Task, &e.TaskID, &e.ExperimentID, &e.Fitness, &e.SimulatedTime, &result, &completed); err != nil {
			return nil, err
		}
		e.Result = result
		e.CompletedAt = time.Unix(0, completed)
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Count(ctx context.Context) (int, error) {
	db, err := s.getDB()
	if err != nil {
		return 0, err
	}
	var n int
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM results`).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func (s *SQLiteStore) getDB() (*sql.DB, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.db == nil {
		return nil, errors.New("sqlite store is not initialized")
	}
	return s.db, nil
}

func createTables(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS results (
			run_id TEXT NOT NULL,
			worker_id INTEGER NOT NULL,
			task TEXT NOT NULL,
			task_id TEXT NOT NULL,
			experiment_id TEXT NOT NULL,
			fitness REAL NOT NULL,
			simulated_time INTEGER NOT NULL,
			result BLOB,
			completed_at INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS results_fitness ON results (fitness DESC);
	`)
	return err
}
