// Package store is the snapshot store: the durable mapping from identity key
// to record, plus run metadata, change reports, and the exclusive run lock.
// One SQLite database is one snapshot; downstream consumers read it as a
// point-in-time dataset.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/rinklab/rinksync/dbopen"
)

// ErrLockHeld is returned when another run holds the exclusive run lock.
var ErrLockHeld = errors.New("store: run in progress")

// ErrCorrupt is returned when the commit marker points at a run whose rows
// are incomplete. A snapshot in this state must not be used as a diffing
// baseline; restore from the latest backup instead.
var ErrCorrupt = errors.New("store: snapshot is corrupt")

// Store wraps the snapshot database.
type Store struct {
	DB   *sql.DB
	path string
}

// Open opens (or creates) the snapshot database at path, applies the schema,
// and verifies integrity: if a last-run pointer exists, its run row and
// report row must both resolve, otherwise Open fails with ErrCorrupt.
func Open(path string) (*Store, error) {
	db, err := dbopen.Open(path, dbopen.WithMkdirAll(), dbopen.WithSchema(schema))
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	s := &Store{DB: db, path: path}
	if err := s.verify(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// OpenDB wraps an already-opened database, applying schema and the same
// integrity check. Used by tests with in-memory databases.
func OpenDB(db *sql.DB) (*Store, error) {
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("store: apply schema: %w", err)
	}
	s := &Store{DB: db}
	if err := s.verify(context.Background()); err != nil {
		return nil, err
	}
	return s, nil
}

// Path returns the database file path ("" for in-memory stores).
func (s *Store) Path() string { return s.path }

// Close closes the underlying database.
func (s *Store) Close() error { return s.DB.Close() }

// LastRunID returns the committed run pointer, or "" before the first commit.
func (s *Store) LastRunID(ctx context.Context) (string, error) {
	var id string
	err := s.DB.QueryRowContext(ctx, `SELECT v FROM meta WHERE k = ?`, metaLastRun).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return id, err
}

// verify fails fast when the last-run pointer dangles. The pointer is
// written in the same transaction as the run and report rows, so a dangling
// pointer means the file was damaged outside this process.
func (s *Store) verify(ctx context.Context) error {
	last, err := s.LastRunID(ctx)
	if err != nil {
		return fmt.Errorf("store: read last run: %w", err)
	}
	if last == "" {
		return nil
	}
	var n int
	err = s.DB.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM runs r JOIN reports p ON p.run_id = r.id WHERE r.id = ?`,
		last).Scan(&n)
	if err != nil {
		return fmt.Errorf("store: verify last run: %w", err)
	}
	if n != 1 {
		return fmt.Errorf("%w: last run %s has no matching run/report pair", ErrCorrupt, last)
	}
	return nil
}
