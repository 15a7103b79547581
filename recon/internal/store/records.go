package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rinklab/rinksync/feed"
)

// Snapshot returns the full identity-key-to-record mapping.
// This is the diffing baseline for a run and the read surface for
// downstream consumers.
func (s *Store) Snapshot(ctx context.Context) (map[string]feed.Record, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT identity_key, kind, native_id, game_date, start_time, home, away,
		status, details_json FROM records`)
	if err != nil {
		return nil, fmt.Errorf("store: load snapshot: %w", err)
	}
	defer rows.Close()

	snap := make(map[string]feed.Record)
	for rows.Next() {
		var key, detailsJSON string
		var r feed.Record
		if err := rows.Scan(&key, &r.Kind, &r.NativeID, &r.Date, &r.StartTime,
			&r.Home, &r.Away, &r.Status, &detailsJSON); err != nil {
			return nil, fmt.Errorf("store: scan record: %w", err)
		}
		if detailsJSON != "" && detailsJSON != "{}" {
			if err := json.Unmarshal([]byte(detailsJSON), &r.Details); err != nil {
				return nil, fmt.Errorf("store: record %s: bad details: %w", key, err)
			}
		}
		snap[key] = r
	}
	return snap, rows.Err()
}

// CountRecords returns the number of records in the snapshot.
func (s *Store) CountRecords(ctx context.Context) (int, error) {
	var n int
	err := s.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM records`).Scan(&n)
	return n, err
}

// upsertRecord writes one merged record inside the commit transaction.
// first_seen_run is preserved on conflict; last_changed_run moves to the
// committing run.
func upsertRecord(ctx context.Context, tx *sql.Tx, key string, r feed.Record, runID string) error {
	detailsJSON := "{}"
	if len(r.Details) > 0 {
		b, err := json.Marshal(r.Details)
		if err != nil {
			return fmt.Errorf("store: marshal details for %s: %w", key, err)
		}
		detailsJSON = string(b)
	}
	now := time.Now().UnixMilli()
	_, err := tx.ExecContext(ctx,
		`INSERT INTO records (identity_key, kind, native_id, game_date, start_time,
			home, away, status, details_json, first_seen_run, last_changed_run,
			created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(identity_key) DO UPDATE SET
			kind = excluded.kind,
			native_id = excluded.native_id,
			game_date = excluded.game_date,
			start_time = excluded.start_time,
			home = excluded.home,
			away = excluded.away,
			status = excluded.status,
			details_json = excluded.details_json,
			last_changed_run = excluded.last_changed_run,
			updated_at = excluded.updated_at`,
		key, r.Kind, r.NativeID, r.Date, r.StartTime, r.Home, r.Away, r.Status,
		detailsJSON, runID, runID, now, now)
	if err != nil {
		return fmt.Errorf("store: upsert %s: %w", key, err)
	}
	return nil
}
