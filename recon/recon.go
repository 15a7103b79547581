// Package recon is the incremental reconciliation engine: it merges a
// freshly fetched candidate dataset into the durable snapshot without losing
// previously captured detail and without duplicating records across runs.
//
// One run is a sequential batch pipeline over the complete candidate set:
//
//	lock → archive → classify → merge → report → commit → prune
//
// The run holds the exclusive lock for its full duration, mutates nothing
// before the archive succeeds, and commits the new snapshot, run metadata,
// and change report in a single transaction.
//
// Usage:
//
//	eng, err := recon.New(cfg, logger)
//	defer eng.Close()
//	rep, err := eng.Run(ctx, recon.RunOptions{FeedPath: "feed.json"})
package recon

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/rinklab/rinksync/dbopen"
	"github.com/rinklab/rinksync/feed"
	"github.com/rinklab/rinksync/idgen"
	"github.com/rinklab/rinksync/obs"
	"github.com/rinklab/rinksync/recon/internal/backup"
	"github.com/rinklab/rinksync/recon/internal/diff"
	"github.com/rinklab/rinksync/recon/internal/report"
	"github.com/rinklab/rinksync/recon/internal/store"
)

// Run re-exports the store's run metadata row for CLI consumers.
type Run = store.Run

// Engine owns the snapshot store handle and runs the pipeline. There are no
// package-level globals: prior state always flows through the store the
// engine was constructed with.
type Engine struct {
	cfg      *Config
	store    *store.Store
	events   *obs.Logger // nil when the obs database is unavailable
	obsDB    *sql.DB
	logger   *slog.Logger
	newRunID idgen.Generator
}

// Option configures an Engine.
type Option func(*Engine)

// WithRunIDGenerator overrides run ID generation (tests).
func WithRunIDGenerator(gen idgen.Generator) Option {
	return func(e *Engine) { e.newRunID = gen }
}

// New opens the snapshot store (fail-fast on a corrupt snapshot) and the
// run event log. An unavailable event log degrades to a warning: events are
// best-effort by contract, the snapshot is not.
func New(cfg *Config, logger *slog.Logger, opts ...Option) (*Engine, error) {
	if cfg == nil {
		cfg = &Config{}
	}
	cfg.defaults()
	if logger == nil {
		logger = slog.Default()
	}

	s, err := store.Open(cfg.DBPath)
	if err != nil {
		return nil, err
	}

	e := &Engine{
		cfg:      cfg,
		store:    s,
		logger:   logger,
		newRunID: idgen.Timestamped(idgen.Default),
	}
	for _, o := range opts {
		o(e)
	}

	obsDB, err := dbopen.Open(cfg.ObsDBPath, dbopen.WithMkdirAll())
	if err != nil {
		logger.Warn("recon: event log unavailable", "path", cfg.ObsDBPath, "error", err)
		return e, nil
	}
	if err := obs.Init(obsDB); err != nil {
		logger.Warn("recon: event log init", "error", err)
		obsDB.Close()
		return e, nil
	}
	e.obsDB = obsDB
	e.events = obs.NewLogger(obsDB)
	return e, nil
}

// Close releases the engine's databases.
func (e *Engine) Close() error {
	if e.events != nil {
		e.events.Close()
	}
	if e.obsDB != nil {
		e.obsDB.Close()
	}
	return e.store.Close()
}

// RunOptions parameterises one reconciliation run.
type RunOptions struct {
	// FeedPath is the Producer's output document.
	FeedPath string

	// DryRun computes classifications and the report without archiving or
	// committing anything.
	DryRun bool

	// Retention overrides the configured backup retention when > 0.
	Retention int
}

// Run executes one reconciliation run and returns its change report.
// On any error the snapshot is left at its prior state.
func (e *Engine) Run(ctx context.Context, opts RunOptions) (*report.Report, error) {
	started := time.Now()
	runID := e.newRunID()
	log := e.logger.With("run", runID)

	doc, err := feed.Load(opts.FeedPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadFeed, err)
	}
	valid, skipped := e.validateRecords(doc.Records, log)
	log.Info("feed loaded", "path", opts.FeedPath,
		"records", len(doc.Records), "skipped", skipped, "dry_run", opts.DryRun)

	if err := e.store.AcquireLock(ctx, runID); err != nil {
		return nil, err
	}
	// Release must succeed even when ctx is already cancelled.
	defer func() {
		if err := e.store.ReleaseLock(context.WithoutCancel(ctx), runID); err != nil {
			log.Error("release run lock", "error", err)
		}
	}()

	e.record(runID, "run_started", map[string]any{
		"feed": opts.FeedPath, "records": len(doc.Records), "skipped": skipped,
		"dry_run": opts.DryRun,
	})

	if !opts.DryRun {
		if err := e.archive(ctx, runID, log); err != nil {
			e.record(runID, "run_failed", map[string]any{"error": err.Error()})
			return nil, err
		}
	}

	prior, err := e.store.Snapshot(ctx)
	if err != nil {
		e.record(runID, "run_failed", map[string]any{"error": err.Error()})
		return nil, err
	}

	res := diff.Classify(prior, valid)
	for _, key := range res.DuplicateKeys {
		log.Warn("duplicate identity key in feed, later record wins", "key", key)
	}
	merged := diff.Merge(prior, res)
	e.record(runID, "classified", map[string]any{
		"new": res.NewCount, "updated": res.UpdatedCount,
		"unchanged": res.UnchangedCount, "missing": res.MissingCount,
	})

	finished := time.Now()
	rep := report.Build(report.Meta{
		RunID:           runID,
		StartedAt:       started,
		FinishedAt:      finished,
		DryRun:          opts.DryRun,
		FeedGeneratedAt: doc.GeneratedAt,
		Producer:        doc.Producer,
		Skipped:         skipped,
		TotalBefore:     len(prior),
		TotalAfter:      len(merged),
	}, res)

	if !opts.DryRun {
		if err := e.commit(ctx, runID, started, finished, doc, res, merged, rep); err != nil {
			e.record(runID, "run_failed", map[string]any{"error": err.Error()})
			return nil, err
		}
		retention := opts.Retention
		if retention <= 0 {
			retention = e.cfg.Backup.Retention
		}
		backup.Prune(e.cfg.Backup.Dir, retention, log)
	}

	if e.cfg.ReportsDir != "" {
		if path, err := rep.Export(e.cfg.ReportsDir); err != nil {
			log.Warn("export report", "error", err)
		} else {
			log.Info("report exported", "path", path)
		}
	}

	log.Info("run complete",
		"new", res.NewCount, "updated", res.UpdatedCount,
		"unchanged", res.UnchangedCount, "missing", res.MissingCount,
		"skipped", skipped, "total", len(merged),
		"duration_ms", finished.Sub(started).Milliseconds(), "dry_run", opts.DryRun)
	return rep, nil
}

func (e *Engine) validateRecords(recs []feed.Record, log *slog.Logger) ([]feed.Record, int) {
	valid := make([]feed.Record, 0, len(recs))
	skipped := 0
	for i, r := range recs {
		if err := feed.Validate(r); err != nil {
			skipped++
			log.Warn("skipping malformed record", "index", i, "error", err)
			continue
		}
		valid = append(valid, r)
	}
	return valid, skipped
}

// archive copies the snapshot before any mutation. Nothing-committed-yet is
// the one case that skips it: an empty store has no state worth copying.
func (e *Engine) archive(ctx context.Context, runID string, log *slog.Logger) error {
	last, err := e.store.LastRunID(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrArchiveFailed, err)
	}
	if last == "" {
		log.Info("first run, nothing to archive")
		return nil
	}
	path, err := backup.Archive(ctx, e.store.DB, e.cfg.Backup.Dir)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrArchiveFailed, err)
	}
	log.Info("snapshot archived", "path", path)
	e.record(runID, "archived", map[string]any{"path": path})
	return nil
}

func (e *Engine) commit(ctx context.Context, runID string, started, finished time.Time,
	doc *feed.Document, res diff.Result, merged map[string]feed.Record, rep *report.Report) error {

	changed := make(map[string]feed.Record, res.NewCount+res.UpdatedCount)
	for _, ch := range res.Changes {
		if ch.Class == diff.New || ch.Class == diff.Updated {
			changed[ch.Key] = merged[ch.Key]
		}
	}

	body, err := rep.JSON()
	if err != nil {
		return fmt.Errorf("%w: marshal report: %v", ErrCommitFailed, err)
	}

	run := &store.Run{
		ID:             runID,
		StartedAt:      started.UnixMilli(),
		FinishedAt:     finished.UnixMilli(),
		ProducerJSON:   producerJSON(doc.Producer),
		TotalBefore:    rep.TotalBefore,
		TotalAfter:     rep.TotalAfter,
		NewCount:       res.NewCount,
		UpdatedCount:   res.UpdatedCount,
		UnchangedCount: res.UnchangedCount,
		MissingCount:   res.MissingCount,
		SkippedCount:   rep.Counts.Skipped,
	}
	if err := e.store.CommitRun(ctx, run, changed, string(body)); err != nil {
		return fmt.Errorf("%w: %v", ErrCommitFailed, err)
	}
	e.record(runID, "committed", map[string]any{
		"changed": len(changed), "total": rep.TotalAfter,
	})
	return nil
}

func (e *Engine) record(runID, kind string, payload any) {
	if e.events != nil {
		e.events.Record(runID, kind, payload)
	}
}

// ForceUnlock clears a stale run lock left by a crashed run. Returns the
// evicted owner, "" when the lock was already free.
func (e *Engine) ForceUnlock(ctx context.Context) (string, error) {
	owner, err := e.store.ForceUnlock(ctx)
	if err == nil && owner != "" {
		e.record(owner, "unlocked", nil)
	}
	return owner, err
}

// Runs lists committed run summaries, newest first.
func (e *Engine) Runs(ctx context.Context, limit int) ([]*Run, error) {
	return e.store.ListRuns(ctx, limit)
}

// ReportJSON returns the persisted change report for a run, "" when absent.
func (e *Engine) ReportJSON(ctx context.Context, runID string) (string, error) {
	return e.store.GetReport(ctx, runID)
}

func producerJSON(m map[string]string) string {
	if len(m) == 0 {
		return "{}"
	}
	b, err := json.Marshal(m)
	if err != nil {
		return "{}"
	}
	return string(b)
}
