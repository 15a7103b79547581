package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rinklab/rinksync/dbopen"
	"github.com/rinklab/rinksync/feed"
)

// CommitRun atomically persists one run: the changed records (NEW and
// UPDATED only — unchanged and missing rows are already in place), the run
// metadata row, the report body, and the last-run pointer. Everything goes
// through one transaction; readers observe either the fully-prior or the
// fully-new snapshot, never an intermediate state.
func (s *Store) CommitRun(ctx context.Context, run *Run, changed map[string]feed.Record, reportBody string) error {
	return dbopen.RunTx(ctx, s.DB, func(tx *sql.Tx) error {
		for key, r := range changed {
			if err := upsertRecord(ctx, tx, key, r, run.ID); err != nil {
				return err
			}
		}

		producerJSON := run.ProducerJSON
		if producerJSON == "" {
			producerJSON = "{}"
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO runs (id, started_at, finished_at, producer_json,
				total_before, total_after, new_count, updated_count,
				unchanged_count, missing_count, skipped_count)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			run.ID, run.StartedAt, run.FinishedAt, producerJSON,
			run.TotalBefore, run.TotalAfter, run.NewCount, run.UpdatedCount,
			run.UnchangedCount, run.MissingCount, run.SkippedCount); err != nil {
			return fmt.Errorf("store: insert run %s: %w", run.ID, err)
		}

		if _, err := tx.ExecContext(ctx,
			`INSERT INTO reports (run_id, created_at, body) VALUES (?, ?, ?)`,
			run.ID, time.Now().UnixMilli(), reportBody); err != nil {
			return fmt.Errorf("store: insert report %s: %w", run.ID, err)
		}

		if _, err := tx.ExecContext(ctx,
			`INSERT INTO meta (k, v) VALUES (?, ?)
			ON CONFLICT(k) DO UPDATE SET v = excluded.v`,
			metaLastRun, run.ID); err != nil {
			return fmt.Errorf("store: update last run: %w", err)
		}
		return nil
	})
}
