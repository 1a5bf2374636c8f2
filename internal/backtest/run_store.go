package backtest

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// ErrRunNotFound is returned when a run id has no row.
var ErrRunNotFound = errors.New("backtest: run not found")

// RunStore persists backtest runs in their own SQLite file, separate from
// the live trading database.
type RunStore struct {
	mu sync.Mutex
	db *sql.DB
}

func NewRunStore(root string) (*RunStore, error) {
	if root == "" {
		return nil, fmt.Errorf("backtest: run store root cannot be empty")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, err
	}
	path := filepath.Join(root, "runs.db")
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&cache=shared", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if err := ensureRunSchema(db); err != nil {
		db.Close()
		return nil, err
	}
	return &RunStore{db: db}, nil
}

func (s *RunStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func ensureRunSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS backtest_runs (
			id TEXT PRIMARY KEY,
			status TEXT NOT NULL,
			config_json TEXT NOT NULL,
			results_json TEXT,
			message TEXT,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL,
			completed_at INTEGER
		)`)
	return err
}

func (s *RunStore) InsertRun(ctx context.Context, run Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cfgJSON, err := json.Marshal(run.Config)
	if err != nil {
		return err
	}
	now := time.Now().UnixMilli()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO backtest_runs (id, status, config_json, message, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		run.ID, run.Status, string(cfgJSON), run.Message, now, now)
	return err
}

func (s *RunStore) UpdateRunStatus(ctx context.Context, id, status, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UnixMilli()
	var completed interface{}
	if status == RunStatusDone || status == RunStatusFailed {
		completed = now
	}
	_, err := s.db.ExecContext(ctx, `
		UPDATE backtest_runs
		SET status=?, message=?, updated_at=?,
		    completed_at=CASE WHEN ? IS NULL THEN completed_at ELSE ? END
		WHERE id=?`,
		status, message, now, completed, completed, id)
	return err
}

// CompleteRun stores the results and marks the run done.
func (s *RunStore) CompleteRun(ctx context.Context, id string, results []AgentResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	resultsJSON, err := json.Marshal(results)
	if err != nil {
		return err
	}
	now := time.Now().UnixMilli()
	_, err = s.db.ExecContext(ctx, `
		UPDATE backtest_runs
		SET status=?, results_json=?, updated_at=?, completed_at=?
		WHERE id=?`,
		RunStatusDone, string(resultsJSON), now, now, id)
	return err
}

func (s *RunStore) GetRun(ctx context.Context, id string) (Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var (
		run         Run
		cfgJSON     string
		resultsJSON sql.NullString
		createdAt   int64
		completedAt sql.NullInt64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, status, config_json, results_json, COALESCE(message, ''), created_at, completed_at
		FROM backtest_runs WHERE id = ?`, id).
		Scan(&run.ID, &run.Status, &cfgJSON, &resultsJSON, &run.Message, &createdAt, &completedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, ErrRunNotFound
	}
	if err != nil {
		return Run{}, err
	}
	if err := json.Unmarshal([]byte(cfgJSON), &run.Config); err != nil {
		return Run{}, err
	}
	if resultsJSON.Valid && resultsJSON.String != "" {
		if err := json.Unmarshal([]byte(resultsJSON.String), &run.Results); err != nil {
			return Run{}, err
		}
	}
	run.CreatedAt = time.UnixMilli(createdAt).UTC()
	if completedAt.Valid {
		t := time.UnixMilli(completedAt.Int64).UTC()
		run.CompletedAt = &t
	}
	return run, nil
}

// ListRuns returns recent runs without their result payloads.
func (s *RunStore) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, status, COALESCE(message, ''), created_at, completed_at
		FROM backtest_runs ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Run
	for rows.Next() {
		var (
			run         Run
			createdAt   int64
			completedAt sql.NullInt64
		)
		if err := rows.Scan(&run.ID, &run.Status, &run.Message, &createdAt, &completedAt); err != nil {
			return nil, err
		}
		run.CreatedAt = time.UnixMilli(createdAt).UTC()
		if completedAt.Valid {
			t := time.UnixMilli(completedAt.Int64).UTC()
			run.CompletedAt = &t
		}
		out = append(out, run)
	}
	return out, rows.Err()
}
