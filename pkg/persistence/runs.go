package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"devflow/pkg/workflow"
)

// ErrNotFound is returned when a requested run does not exist.
var ErrNotFound = errors.New("run not found")

// RunRecord is the summary row stored per run, without the full state blob.
type RunRecord struct {
	ID          string     `json:"id"`
	Description string     `json:"description"`
	RepoPath    string     `json:"repo_path"`
	BaseBranch  string     `json:"base_branch"`
	Status      string     `json:"status"`
	CurrentStep string     `json:"current_step"`
	RetryCount  int        `json:"retry_count"`
	StartedAt   time.Time  `json:"started_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	EndedAt     *time.Time `json:"ended_at,omitempty"`
}

// StepSnapshot is one historical state capture taken after a step finished.
type StepSnapshot struct {
	ID         int64     `json:"id"`
	RunID      string    `json:"run_id"`
	Step       string    `json:"step"`
	Status     string    `json:"status"`
	RetryCount int       `json:"retry_count"`
	CreatedAt  time.Time `json:"created_at"`
}

// Store persists runs and their step-by-step history. It satisfies the
// workflow engine's state store.
type Store struct {
	db *sql.DB
}

// NewStore wraps an initialized database.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// SaveState upserts the run's summary row and full state blob, and appends
// one step snapshot. The engine calls it after every transition.
func (s *Store) SaveState(ctx context.Context, state *workflow.RunState) error {
	stateJSON, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to marshal run %s: %w", state.RunID, err)
	}

	now := time.Now().UTC()
	var endedAt any
	if !state.EndedAt.IsZero() {
		endedAt = state.EndedAt
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO runs (
			id, description, repo_path, base_branch, status, current_step,
			retry_count, state_json, started_at, updated_at, ended_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			current_step = excluded.current_step,
			retry_count = excluded.retry_count,
			state_json = excluded.state_json,
			updated_at = excluded.updated_at,
			ended_at = excluded.ended_at
	`, state.RunID, state.Request.Description, state.Request.RepoPath,
		state.Request.BaseBranch, string(state.Status), string(state.CurrentStep),
		state.RetryCount, string(stateJSON), state.StartedAt, now, endedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert run %s: %w", state.RunID, err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO run_steps (run_id, step, status, retry_count, snapshot_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, state.RunID, string(state.CurrentStep), string(state.Status),
		state.RetryCount, string(stateJSON), now)
	if err != nil {
		return fmt.Errorf("failed to record step snapshot for run %s: %w", state.RunID, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit run %s: %w", state.RunID, err)
	}
	return nil
}

// GetRun loads the full state of a run.
func (s *Store) GetRun(ctx context.Context, runID string) (*workflow.RunState, error) {
	var stateJSON string
	err := s.db.QueryRowContext(ctx,
		`SELECT state_json FROM runs WHERE id = ?`, runID,
	).Scan(&stateJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load run %s: %w", runID, err)
	}

	var state workflow.RunState
	if err := json.Unmarshal([]byte(stateJSON), &state); err != nil {
		return nil, fmt.Errorf("failed to unmarshal run %s: %w", runID, err)
	}
	return &state, nil
}

// ListRuns returns run summaries newest-first, optionally filtered by
// status. limit <= 0 means no limit.
func (s *Store) ListRuns(ctx context.Context, status string, limit int) ([]*RunRecord, error) {
	query := `
		SELECT id, description, repo_path, base_branch, status, current_step,
		       retry_count, started_at, updated_at, ended_at
		FROM runs
	`
	var args []any
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY started_at DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var records []*RunRecord
	for rows.Next() {
		var rec RunRecord
		var endedAt sql.NullTime
		if err := rows.Scan(&rec.ID, &rec.Description, &rec.RepoPath, &rec.BaseBranch,
			&rec.Status, &rec.CurrentStep, &rec.RetryCount,
			&rec.StartedAt, &rec.UpdatedAt, &endedAt); err != nil {
			return nil, fmt.Errorf("failed to scan run row: %w", err)
		}
		if endedAt.Valid {
			t := endedAt.Time
			rec.EndedAt = &t
		}
		records = append(records, &rec)
	}
	return records, rows.Err()
}

// StepHistory returns the step snapshots of a run oldest-first.
func (s *Store) StepHistory(ctx context.Context, runID string) ([]*StepSnapshot, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, run_id, step, status, retry_count, created_at
		FROM run_steps WHERE run_id = ? ORDER BY id ASC
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to load step history for run %s: %w", runID, err)
	}
	defer func() { _ = rows.Close() }()

	var snapshots []*StepSnapshot
	for rows.Next() {
		var snap StepSnapshot
		if err := rows.Scan(&snap.ID, &snap.RunID, &snap.Step, &snap.Status,
			&snap.RetryCount, &snap.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan step snapshot: %w", err)
		}
		snapshots = append(snapshots, &snap)
	}
	return snapshots, rows.Err()
}

// DeleteRun removes a run and its step history.
func (s *Store) DeleteRun(ctx context.Context, runID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM runs WHERE id = ?`, runID)
	if err != nil {
		return fmt.Errorf("failed to delete run %s: %w", runID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}
