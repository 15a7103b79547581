// Package backup archives the snapshot database before a run mutates it and
// enforces the retention bound on old archives.
//
// Archives are written with VACUUM INTO: a consistent full copy taken
// through SQLite itself, safe against a WAL database that a reader may have
// open. Names carry a UTC timestamp so lexicographic order is age order.
package backup

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

const (
	prefix = "snapshot-"
	suffix = ".db"
)

// DefaultRetention is how many archives survive pruning unless configured.
const DefaultRetention = 10

// Archive copies the current snapshot into dir as an immutable timestamped
// file and returns its path. Any failure here must abort the run: the
// invariant is "never mutate without a successful prior backup".
func Archive(ctx context.Context, db *sql.DB, dir string) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("backup: mkdir %s: %w", dir, err)
	}
	ts := time.Now().UTC().Format("20060102T150405.000Z")
	path := filepath.Join(dir, prefix+ts+suffix)
	// Back-to-back runs can land in the same millisecond; disambiguate
	// rather than fail the run over a name.
	for n := 1; ; n++ {
		if _, err := os.Stat(path); os.IsNotExist(err) {
			break
		}
		path = filepath.Join(dir, fmt.Sprintf("%s%s-%d%s", prefix, ts, n, suffix))
	}
	// Path is embedded as a quoted literal: not every driver binds
	// parameters inside VACUUM statements.
	stmt := fmt.Sprintf(`VACUUM INTO '%s'`, strings.ReplaceAll(path, "'", "''"))
	if _, err := db.ExecContext(ctx, stmt); err != nil {
		// VACUUM INTO leaves a partial file on some failures; best effort.
		os.Remove(path)
		return "", fmt.Errorf("backup: vacuum into %s: %w", path, err)
	}
	return path, nil
}

// Prune deletes archives beyond the newest keep. Best-effort by contract: a
// file that cannot be deleted is logged at warn and skipped; the run outcome
// is never affected. keep <= 0 falls back to DefaultRetention.
func Prune(dir string, keep int, logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	if keep <= 0 {
		keep = DefaultRetention
	}
	archives, err := List(dir)
	if err != nil {
		logger.Warn("backup: prune: list archives", "dir", dir, "error", err)
		return
	}
	if len(archives) <= keep {
		return
	}
	for _, path := range archives[keep:] {
		if err := os.Remove(path); err != nil {
			logger.Warn("backup: prune: remove archive", "path", path, "error", err)
			continue
		}
		logger.Info("backup: pruned archive", "path", path)
	}
}

// List returns archive paths in dir, newest first. Files that do not match
// the archive naming pattern are ignored.
func List(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("backup: read dir %s: %w", dir, err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if strings.HasPrefix(e.Name(), prefix) && strings.HasSuffix(e.Name(), suffix) {
			names = append(names, e.Name())
		}
	}
	// Timestamp naming makes lexicographic descending == newest first.
	sort.Sort(sort.Reverse(sort.StringSlice(names)))
	paths := make([]string, len(names))
	for i, n := range names {
		paths[i] = filepath.Join(dir, n)
	}
	return paths, nil
}
