package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/rinklab/rinksync/dbopen"
	"github.com/rinklab/rinksync/feed"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	db := dbopen.OpenMemory(t)
	s, err := OpenDB(db)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	return s
}

func testRun(id string) *Run {
	now := time.Now().UnixMilli()
	return &Run{ID: id, StartedAt: now, FinishedAt: now}
}

func TestOpen_AppliesSchema(t *testing.T) {
	// WHAT: Open creates all tables.
	// WHY: Everything else sits on top of this schema.
	s := openTestStore(t)
	for _, table := range []string{"records", "runs", "reports", "meta", "run_lock"} {
		var name string
		err := s.DB.QueryRow(`SELECT name FROM sqlite_master WHERE type='table' AND name=?`, table).Scan(&name)
		if err != nil {
			t.Errorf("table %s not found: %v", table, err)
		}
	}
}

func TestCommitRun_AndSnapshot(t *testing.T) {
	// WHAT: A committed run's records come back in the snapshot, and the
	// run/report/last-run rows are in place.
	// WHY: This is the persistence contract of the whole engine.
	s := openTestStore(t)
	ctx := context.Background()

	changed := map[string]feed.Record{
		"G1": {Kind: "game", NativeID: "G1", Date: "2026-01-12", StartTime: "19:00",
			Home: "MTL", Away: "BOS", Status: "final", Details: map[string]string{"score": "3-2"}},
	}
	run := testRun("20260112T100000Z_r1")
	run.NewCount = 1
	run.TotalAfter = 1
	if err := s.CommitRun(ctx, run, changed, `{"run_id":"20260112T100000Z_r1"}`); err != nil {
		t.Fatalf("commit: %v", err)
	}

	snap, err := s.Snapshot(ctx)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	got, ok := snap["G1"]
	if !ok {
		t.Fatal("record G1 not in snapshot")
	}
	if got.Status != "final" {
		t.Errorf("status = %q", got.Status)
	}
	if v, _ := got.Detail("score"); v != "3-2" {
		t.Errorf("score = %q", v)
	}

	last, err := s.LastRunID(ctx)
	if err != nil || last != run.ID {
		t.Fatalf("last run = %q, %v", last, err)
	}
	r, err := s.GetRun(ctx, run.ID)
	if err != nil || r == nil || r.NewCount != 1 {
		t.Fatalf("run row: %+v, %v", r, err)
	}
	body, err := s.GetReport(ctx, run.ID)
	if err != nil || body == "" {
		t.Fatalf("report body: %q, %v", body, err)
	}
}

func TestCommitRun_Atomic(t *testing.T) {
	// WHAT: A commit that fails partway leaves no trace: no records, no run
	// row, no last-run pointer.
	// WHY: A partial commit would poison the next run's diffing baseline.
	s := openTestStore(t)
	ctx := context.Background()

	// First commit a valid run to have a prior state.
	if err := s.CommitRun(ctx, testRun("r1"), map[string]feed.Record{
		"G1": {Kind: "game", NativeID: "G1", Date: "2026-01-12", Home: "MTL", Away: "BOS"},
	}, "{}"); err != nil {
		t.Fatalf("commit r1: %v", err)
	}

	// Duplicate run ID makes the runs insert fail after records were upserted.
	err := s.CommitRun(ctx, testRun("r1"), map[string]feed.Record{
		"G2": {Kind: "game", NativeID: "G2", Date: "2026-01-13", Home: "TOR", Away: "NYR"},
	}, "{}")
	if err == nil {
		t.Fatal("expected duplicate run commit to fail")
	}

	snap, err := s.Snapshot(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := snap["G2"]; ok {
		t.Fatal("rolled-back record G2 is visible")
	}
	if n, _ := s.CountRecords(ctx); n != 1 {
		t.Fatalf("records = %d, want 1", n)
	}
}

func TestCommitRun_PreservesFirstSeenRun(t *testing.T) {
	// WHAT: Updating a record keeps first_seen_run and moves last_changed_run.
	// WHY: Provenance columns must survive upserts.
	s := openTestStore(t)
	ctx := context.Background()
	rec := feed.Record{Kind: "game", NativeID: "G1", Date: "2026-01-12", Home: "MTL", Away: "BOS"}

	if err := s.CommitRun(ctx, testRun("r1"), map[string]feed.Record{"G1": rec}, "{}"); err != nil {
		t.Fatal(err)
	}
	rec.Status = "final"
	if err := s.CommitRun(ctx, testRun("r2"), map[string]feed.Record{"G1": rec}, "{}"); err != nil {
		t.Fatal(err)
	}

	var firstSeen, lastChanged string
	err := s.DB.QueryRow(`SELECT first_seen_run, last_changed_run FROM records WHERE identity_key = 'G1'`).
		Scan(&firstSeen, &lastChanged)
	if err != nil {
		t.Fatal(err)
	}
	if firstSeen != "r1" || lastChanged != "r2" {
		t.Fatalf("first_seen=%q last_changed=%q", firstSeen, lastChanged)
	}
}

func TestVerify_CorruptPointer(t *testing.T) {
	// WHAT: A last-run pointer without its run/report pair fails Open.
	// WHY: Fail fast beats silently diffing against a damaged baseline.
	path := filepath.Join(t.TempDir(), "snapshot.db")
	s, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.DB.Exec(`INSERT INTO meta (k, v) VALUES ('last_run', 'ghost')`); err != nil {
		t.Fatal(err)
	}
	s.Close()

	_, err = Open(path)
	if !errors.Is(err, ErrCorrupt) {
		t.Fatalf("err = %v, want ErrCorrupt", err)
	}
}

func TestLock_Exclusive(t *testing.T) {
	// WHAT: A second acquire fails immediately with ErrLockHeld.
	// WHY: No concurrent runs, and no blocking — the scheduler decides.
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.AcquireLock(ctx, "run-a"); err != nil {
		t.Fatalf("first acquire: %v", err)
	}
	err := s.AcquireLock(ctx, "run-b")
	if !errors.Is(err, ErrLockHeld) {
		t.Fatalf("second acquire = %v, want ErrLockHeld", err)
	}

	if err := s.ReleaseLock(ctx, "run-a"); err != nil {
		t.Fatalf("release: %v", err)
	}
	if err := s.AcquireLock(ctx, "run-b"); err != nil {
		t.Fatalf("acquire after release: %v", err)
	}
}

func TestLock_ReleaseWrongOwnerIsNoop(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.AcquireLock(ctx, "run-a"); err != nil {
		t.Fatal(err)
	}
	if err := s.ReleaseLock(ctx, "run-b"); err != nil {
		t.Fatalf("release by non-owner: %v", err)
	}
	// run-a still holds it.
	if err := s.AcquireLock(ctx, "run-c"); !errors.Is(err, ErrLockHeld) {
		t.Fatalf("err = %v, want ErrLockHeld", err)
	}
}

func TestForceUnlock(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	holder, err := s.ForceUnlock(ctx)
	if err != nil || holder != "" {
		t.Fatalf("unlock free lock: %q, %v", holder, err)
	}

	if err := s.AcquireLock(ctx, "crashed-run"); err != nil {
		t.Fatal(err)
	}
	holder, err = s.ForceUnlock(ctx)
	if err != nil || holder != "crashed-run" {
		t.Fatalf("force unlock: %q, %v", holder, err)
	}
	if err := s.AcquireLock(ctx, "next-run"); err != nil {
		t.Fatalf("acquire after force unlock: %v", err)
	}
}

func TestListRuns_NewestFirst(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	for i, id := range []string{"r1", "r2", "r3"} {
		run := testRun(id)
		run.StartedAt = int64(1000 * (i + 1))
		run.FinishedAt = run.StartedAt + 1
		if err := s.CommitRun(ctx, run, nil, "{}"); err != nil {
			t.Fatal(err)
		}
	}

	runs, err := s.ListRuns(ctx, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 2 || runs[0].ID != "r3" || runs[1].ID != "r2" {
		t.Fatalf("runs: %+v", runs)
	}
}
