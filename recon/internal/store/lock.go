package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rinklab/rinksync/dbopen"
)

// AcquireLock takes the exclusive run lock for owner. If the lock is already
// held it returns ErrLockHeld immediately — contention is the scheduler's
// problem, never queued here.
func (s *Store) AcquireLock(ctx context.Context, owner string) error {
	return dbopen.RunTx(ctx, s.DB, func(tx *sql.Tx) error {
		var holder string
		err := tx.QueryRowContext(ctx, `SELECT owner FROM run_lock WHERE id = 1`).Scan(&holder)
		switch {
		case err == nil:
			return fmt.Errorf("%w (held by %s)", ErrLockHeld, holder)
		case errors.Is(err, sql.ErrNoRows):
			// lock is free
		default:
			return fmt.Errorf("store: read lock: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO run_lock (id, owner, acquired_at) VALUES (1, ?, ?)`,
			owner, time.Now().UnixMilli()); err != nil {
			// A racing acquirer can slip between the read and the insert;
			// the primary key turns that into contention, not corruption.
			if strings.Contains(err.Error(), "UNIQUE") || strings.Contains(err.Error(), "PRIMARY KEY") {
				return ErrLockHeld
			}
			return fmt.Errorf("store: take lock: %w", err)
		}
		return nil
	})
}

// ReleaseLock releases the lock if owner still holds it. Releasing a lock
// someone else holds is a no-op, not an error.
func (s *Store) ReleaseLock(ctx context.Context, owner string) error {
	_, err := s.DB.ExecContext(ctx, `DELETE FROM run_lock WHERE id = 1 AND owner = ?`, owner)
	if err != nil {
		return fmt.Errorf("store: release lock: %w", err)
	}
	return nil
}

// ForceUnlock removes the lock regardless of owner. Operator action after a
// crashed run; returns the evicted owner, "" if the lock was free.
func (s *Store) ForceUnlock(ctx context.Context) (string, error) {
	var holder string
	err := s.DB.QueryRowContext(ctx, `SELECT owner FROM run_lock WHERE id = 1`).Scan(&holder)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("store: read lock: %w", err)
	}
	if _, err := s.DB.ExecContext(ctx, `DELETE FROM run_lock WHERE id = 1`); err != nil {
		return "", fmt.Errorf("store: force unlock: %w", err)
	}
	return holder, nil
}
