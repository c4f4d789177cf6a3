package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Task is a queued query. It is created by the API in state Queued and
// mutated only by the query pipeline, except for an external cancel which may
// set Cancelled at any time.
type Task struct {
	ID        string          `json:"id"`
	Status    Status          `json:"status"`
	Payload   json.RawMessage `json:"payload"`
	Result    json.RawMessage `json:"result,omitempty"`
	CreatedAt string          `json:"created_at"`
	UpdatedAt string          `json:"updated_at"`
}

// InsertTask stores a new task in state Queued and returns nothing; the
// caller supplies the id.
func (s *Store) InsertTask(ctx context.Context, id string, payload json.RawMessage) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO tasks (id, status, payload) VALUES (?, ?, ?)`,
		id, StatusQueued, string(payload))
	if err != nil {
		return fmt.Errorf("inserting task: %w", err)
	}
	return nil
}

// GetTask fetches one task by id.
func (s *Store) GetTask(ctx context.Context, id string) (*Task, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, status, payload, result, created_at, updated_at FROM tasks WHERE id = ?`, id)

	var t Task
	var payload, result sql.NullString
	err := row.Scan(&t.ID, &t.Status, &payload, &result, &t.CreatedAt, &t.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning task: %w", err)
	}
	if payload.Valid {
		t.Payload = json.RawMessage(payload.String)
	}
	if result.Valid {
		t.Result = json.RawMessage(result.String)
	}
	return &t, nil
}

// TaskStatus returns the status of a task, or StatusNotFound for unknown ids.
func (s *Store) TaskStatus(ctx context.Context, id string) (Status, error) {
	var status Status
	err := s.db.QueryRowContext(ctx, `SELECT status FROM tasks WHERE id = ?`, id).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return StatusNotFound, nil
	}
	if err != nil {
		return "", fmt.Errorf("reading task status: %w", err)
	}
	return status, nil
}

// ClaimNextTask atomically claims the oldest Queued task. The claim is a
// conditional Queued→InProgress update; zero affected rows means another
// worker won the race and ok is false.
func (s *Store) ClaimNextTask(ctx context.Context) (*Task, bool, error) {
	var id string
	var payload sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT id, payload FROM tasks WHERE status = ? ORDER BY created_at LIMIT 1`,
		StatusQueued).Scan(&id, &payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("selecting claimable task: %w", err)
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE tasks SET status = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ? AND status = ?`,
		StatusInProgress, id, StatusQueued)
	if err != nil {
		return nil, false, fmt.Errorf("claiming task: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, false, err
	}
	if n == 0 {
		return nil, false, nil
	}

	t := &Task{ID: id, Status: StatusInProgress}
	if payload.Valid {
		t.Payload = json.RawMessage(payload.String)
	}
	return t, true, nil
}

// MarkTaskInProgress re-asserts InProgress. Idempotent; it supports resuming
// a task whose claim already set the state but never overrides a terminal
// status.
func (s *Store) MarkTaskInProgress(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE tasks SET status = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ? AND status IN (?, ?)`,
		StatusInProgress, id, StatusQueued, StatusInProgress)
	if err != nil {
		return fmt.Errorf("marking task in progress: %w", err)
	}
	return nil
}

// CompleteTask persists the result and moves the task to Completed. The write
// is conditional on InProgress: a cancel that lands before this statement
// wins, and the result is discarded.
func (s *Store) CompleteTask(ctx context.Context, id string, result json.RawMessage) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE tasks SET status = ?, result = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ? AND status = ?`,
		StatusCompleted, string(result), id, StatusInProgress)
	if err != nil {
		return false, fmt.Errorf("completing task: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// FailTask records the failure reason as the task result. Conditional on
// InProgress for the same reason as CompleteTask.
func (s *Store) FailTask(ctx context.Context, id, reason string) error {
	result, _ := json.Marshal(map[string]string{"error": reason})
	_, err := s.db.ExecContext(ctx,
		`UPDATE tasks SET status = ?, result = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ? AND status = ?`,
		StatusFailed, string(result), id, StatusInProgress)
	if err != nil {
		return fmt.Errorf("failing task: %w", err)
	}
	return nil
}

// CancelTask marks a task Cancelled. Cancellation is authoritative: it may
// interrupt an InProgress task, and the pipeline's conditional writes ensure
// it is never overwritten once set. Completed and Failed tasks stay as they
// are.
func (s *Store) CancelTask(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE tasks SET status = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ? AND status IN (?, ?)`,
		StatusCancelled, id, StatusQueued, StatusInProgress)
	if err != nil {
		return false, fmt.Errorf("cancelling task: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// IsTaskCancelled is the cooperative cancellation checkpoint used by the
// query pipeline between stages.
func (s *Store) IsTaskCancelled(ctx context.Context, id string) (bool, error) {
	status, err := s.TaskStatus(ctx, id)
	if err != nil {
		return false, err
	}
	return status == StatusCancelled, nil
}

// ReclaimStaleTasks moves InProgress tasks older than age back to Queued so
// they are reprocessed. Time-based and idempotent; concurrent reclaim passes
// are safe because the update is conditional on InProgress.
func (s *Store) ReclaimStaleTasks(ctx context.Context, age time.Duration) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE tasks SET status = ?, updated_at = CURRENT_TIMESTAMP
		 WHERE status = ? AND updated_at < datetime('now', ?)`,
		StatusQueued, StatusInProgress, ageModifier(age))
	if err != nil {
		return 0, fmt.Errorf("reclaiming stale tasks: %w", err)
	}
	return res.RowsAffected()
}
