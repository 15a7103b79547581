package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
)

// Run is one committed reconciliation run's metadata.
type Run struct {
	ID             string `json:"id"`
	StartedAt      int64  `json:"started_at"`  // ms
	FinishedAt     int64  `json:"finished_at"` // ms
	ProducerJSON   string `json:"producer_json"`
	TotalBefore    int    `json:"total_before"`
	TotalAfter     int    `json:"total_after"`
	NewCount       int    `json:"new_count"`
	UpdatedCount   int    `json:"updated_count"`
	UnchangedCount int    `json:"unchanged_count"`
	MissingCount   int    `json:"missing_count"`
	SkippedCount   int    `json:"skipped_count"`
}

// Producer decodes the echoed producer parameters.
func (r *Run) Producer() map[string]string {
	if r.ProducerJSON == "" || r.ProducerJSON == "{}" {
		return nil
	}
	var m map[string]string
	if err := json.Unmarshal([]byte(r.ProducerJSON), &m); err != nil {
		return nil
	}
	return m
}

const runCols = `id, started_at, finished_at, producer_json, total_before,
	total_after, new_count, updated_count, unchanged_count, missing_count, skipped_count`

func scanRun(row interface{ Scan(...any) error }) (*Run, error) {
	var r Run
	err := row.Scan(&r.ID, &r.StartedAt, &r.FinishedAt, &r.ProducerJSON,
		&r.TotalBefore, &r.TotalAfter, &r.NewCount, &r.UpdatedCount,
		&r.UnchangedCount, &r.MissingCount, &r.SkippedCount)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: scan run: %w", err)
	}
	return &r, nil
}

// GetRun returns one run by ID, or nil when absent.
func (s *Store) GetRun(ctx context.Context, id string) (*Run, error) {
	row := s.DB.QueryRowContext(ctx, `SELECT `+runCols+` FROM runs WHERE id = ?`, id)
	return scanRun(row)
}

// ListRuns returns runs newest first, at most limit (0 means 50).
func (s *Store) ListRuns(ctx context.Context, limit int) ([]*Run, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.DB.QueryContext(ctx,
		`SELECT `+runCols+` FROM runs ORDER BY started_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("store: list runs: %w", err)
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// GetReport returns the report body for a run, or "" when absent.
func (s *Store) GetReport(ctx context.Context, runID string) (string, error) {
	var body string
	err := s.DB.QueryRowContext(ctx, `SELECT body FROM reports WHERE run_id = ?`, runID).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("store: get report %s: %w", runID, err)
	}
	return body, nil
}
