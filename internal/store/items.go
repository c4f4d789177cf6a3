package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Item is a stored document. It is created by upload/import and mutated only
// by the analysis pipeline. PendingAnalysis stays true until analysis
// completes; a Failed item keeps it true so it remains visible as needing
// attention.
type Item struct {
	ID              string  `json:"id"`
	Filename        string  `json:"filename"`
	Path            string  `json:"path"`
	Description     *string `json:"description"`
	PendingAnalysis bool    `json:"pending_analysis"`
	AnalysisStatus  Status  `json:"analysis_status"`
	CreatedAt       string  `json:"created_at"`
}

// InsertItem stores a new item in state Queued with analysis pending.
func (s *Store) InsertItem(ctx context.Context, id, filename, path string, description *string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO items (id, filename, path, description, pending_analysis, analysis_status) VALUES (?, ?, ?, ?, 1, ?)`,
		id, filename, path, description, StatusQueued)
	if err != nil {
		return fmt.Errorf("inserting item: %w", err)
	}
	return nil
}

// GetItem fetches one item by id.
func (s *Store) GetItem(ctx context.Context, id string) (*Item, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, filename, path, description, pending_analysis, analysis_status, created_at FROM items WHERE id = ?`, id)
	return scanItem(row)
}

// GetCompletedItem fetches an item only if its analysis has finished. Items
// still pending (or unknown ids) report ErrNotFound; query results must never
// surface a document whose analysis has not completed.
func (s *Store) GetCompletedItem(ctx context.Context, id string) (*Item, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, filename, path, description, pending_analysis, analysis_status, created_at FROM items WHERE id = ? AND pending_analysis = 0`, id)
	return scanItem(row)
}

func scanItem(row *sql.Row) (*Item, error) {
	var it Item
	var desc sql.NullString
	var pending int
	err := row.Scan(&it.ID, &it.Filename, &it.Path, &desc, &pending, &it.AnalysisStatus, &it.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning item: %w", err)
	}
	if desc.Valid {
		it.Description = &desc.String
	}
	it.PendingAnalysis = pending != 0
	return &it, nil
}

// ListItems returns up to limit items, newest first.
func (s *Store) ListItems(ctx context.Context, limit int) ([]Item, error) {
	if limit <= 0 {
		limit = 500
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, filename, path, description, pending_analysis, analysis_status, created_at FROM items ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing items: %w", err)
	}
	defer rows.Close()

	var items []Item
	for rows.Next() {
		var it Item
		var desc sql.NullString
		var pending int
		if err := rows.Scan(&it.ID, &it.Filename, &it.Path, &desc, &pending, &it.AnalysisStatus, &it.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning item: %w", err)
		}
		if desc.Valid {
			it.Description = &desc.String
		}
		it.PendingAnalysis = pending != 0
		items = append(items, it)
	}
	return items, rows.Err()
}

// HasItemWithFilename reports whether any item was stored under filename.
// Used by the demo import to skip files that were already brought in.
func (s *Store) HasItemWithFilename(ctx context.Context, filename string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM items WHERE filename = ?`, filename).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("checking filename: %w", err)
	}
	return n > 0, nil
}

// DeleteItem removes the item row and returns its blob path so the caller can
// clean up storage and the vector index.
func (s *Store) DeleteItem(ctx context.Context, id string) (string, error) {
	var path string
	err := s.db.QueryRowContext(ctx, `SELECT path FROM items WHERE id = ?`, id).Scan(&path)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("deleting item: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM items WHERE id = ?`, id); err != nil {
		return "", fmt.Errorf("deleting item: %w", err)
	}
	return path, nil
}

// ClaimNextItem selects one item eligible for analysis and atomically moves it
// to InProgress. Eligible: Queued, or InProgress but older than staleAfter
// (a previous worker likely died mid-processing). The transition is a
// conditional update against the status observed at selection time; zero
// affected rows means another worker won the claim and ok is false.
func (s *Store) ClaimNextItem(ctx context.Context, staleAfter time.Duration) (string, bool, error) {
	var id string
	var status Status
	err := s.db.QueryRowContext(ctx,
		`SELECT id, analysis_status FROM items
		 WHERE pending_analysis = 1
		   AND (analysis_status = ? OR (analysis_status = ? AND created_at < datetime('now', ?)))
		 ORDER BY created_at LIMIT 1`,
		StatusQueued, StatusInProgress, ageModifier(staleAfter)).Scan(&id, &status)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("selecting claimable item: %w", err)
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE items SET analysis_status = ? WHERE id = ? AND analysis_status = ?`,
		StatusInProgress, id, status)
	if err != nil {
		return "", false, fmt.Errorf("claiming item: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return "", false, err
	}
	if n == 0 {
		// Lost the race; not an error.
		return "", false, nil
	}
	return id, true, nil
}

// SetItemDescription persists the generated description while the item is
// still being processed.
func (s *Store) SetItemDescription(ctx context.Context, id, description string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE items SET description = ?, analysis_status = ? WHERE id = ?`,
		description, StatusInProgress, id)
	if err != nil {
		return fmt.Errorf("setting item description: %w", err)
	}
	return nil
}

// CompleteItem marks analysis as done. The write is conditional on InProgress
// so that a completed or failed item is never mutated again.
func (s *Store) CompleteItem(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE items SET pending_analysis = 0, analysis_status = ? WHERE id = ? AND analysis_status = ?`,
		StatusCompleted, id, StatusInProgress)
	if err != nil {
		return fmt.Errorf("completing item: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("completing item %s: %w", id, ErrNotFound)
	}
	return nil
}

// FailItem records an item-fatal error. The item stays pending so it remains
// visible as needing attention; the failure reason is stored in description
// only when no description exists yet (first failure reason wins). Like
// CompleteItem, the write is conditional on InProgress: if another claimer
// already drove the item to a terminal state, the loser's failure is a no-op.
func (s *Store) FailItem(ctx context.Context, id, reason string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failing item: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`UPDATE items SET analysis_status = ?, pending_analysis = 1 WHERE id = ? AND analysis_status = ?`,
		StatusFailed, id, StatusInProgress)
	if err != nil {
		return fmt.Errorf("failing item: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return tx.Commit()
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE items SET description = COALESCE(description, ?) WHERE id = ?`,
		fmt.Sprintf("[analysis failed: %s]", reason), id); err != nil {
		return fmt.Errorf("failing item: %w", err)
	}
	return tx.Commit()
}
