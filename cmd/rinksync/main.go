// Command rinksync runs incremental reconciliation of scraped sports data
// into the durable snapshot.
//
//	rinksync run -feed feed.json -db data/snapshot.db [-retention 10] [-dry-run]
//	rinksync unlock -db data/snapshot.db
//	rinksync reports -db data/snapshot.db [-run <id>]
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "modernc.org/sqlite"

	"github.com/rinklab/rinksync/recon"
)

// Exit codes are stable per error kind so schedulers and monitoring can
// tell "nothing changed" from the ways a run can fail.
const (
	exitOK           = 0
	exitError        = 1
	exitLockHeld     = 2
	exitArchive      = 3
	exitCommit       = 4
	exitBadFeed      = 5
	exitCorruptStore = 6
)

func main() {
	setupLogging()

	if len(os.Args) < 2 {
		usage()
		os.Exit(exitError)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	var code int
	switch os.Args[1] {
	case "run":
		code = cmdRun(ctx, os.Args[2:])
	case "unlock":
		code = cmdUnlock(ctx, os.Args[2:])
	case "reports":
		code = cmdReports(ctx, os.Args[2:])
	case "-h", "--help", "help":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", os.Args[1])
		usage()
		code = exitError
	}
	os.Exit(code)
}

func usage() {
	fmt.Fprint(os.Stderr, `usage: rinksync <command> [flags]

commands:
  run      run one reconciliation of a Producer feed into the snapshot
  unlock   force-release a stale run lock left by a crashed run
  reports  list run summaries or print one change report
`)
}

func setupLogging() {
	var lvl slog.Level
	switch env("LOG_LEVEL", "info") {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
	slog.SetDefault(logger)
}

func env(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// engineFlags are the flags shared by every subcommand that opens the store.
type engineFlags struct {
	configPath string
	dbPath     string
	reportsDir string
}

func (f *engineFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&f.configPath, "config", env("RINKSYNC_CONFIG", ""), "YAML config file")
	fs.StringVar(&f.dbPath, "db", "", "snapshot database path (overrides config)")
}

func (f *engineFlags) engine() (*recon.Engine, int) {
	cfg, err := recon.LoadConfig(f.configPath)
	if err != nil {
		slog.Error("load config", "error", err)
		return nil, exitError
	}
	if f.dbPath != "" {
		cfg.DBPath = f.dbPath
		// Re-derive the paths that default relative to the snapshot.
		cfg.ObsDBPath = ""
		cfg.Backup.Dir = ""
	}
	if f.reportsDir != "" {
		cfg.ReportsDir = f.reportsDir
	}
	eng, err := recon.New(cfg, slog.Default())
	if err != nil {
		slog.Error("open snapshot store", "error", err)
		return nil, exitCode(err)
	}
	return eng, exitOK
}

func cmdRun(ctx context.Context, args []string) int {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	var ef engineFlags
	ef.register(fs)
	feedPath := fs.String("feed", "", "Producer feed document (required)")
	retention := fs.Int("retention", 0, "backup retention override (default from config, 10)")
	dryRun := fs.Bool("dry-run", false, "classify and report without committing")
	fs.StringVar(&ef.reportsDir, "reports-dir", "", "export the report as <run_id>.json here (overrides config)")
	fs.Parse(args)

	if *feedPath == "" {
		fmt.Fprintln(os.Stderr, "run: -feed is required")
		return exitError
	}

	eng, code := ef.engine()
	if eng == nil {
		return code
	}
	defer eng.Close()

	rep, err := eng.Run(ctx, recon.RunOptions{
		FeedPath:  *feedPath,
		DryRun:    *dryRun,
		Retention: *retention,
	})
	if err != nil {
		slog.Error("run failed", "error", err)
		return exitCode(err)
	}

	if *dryRun {
		// Dry runs exist to be read; print the report itself.
		body, err := rep.JSON()
		if err == nil {
			fmt.Println(string(body))
		}
	}
	return exitOK
}

func cmdUnlock(ctx context.Context, args []string) int {
	fs := flag.NewFlagSet("unlock", flag.ExitOnError)
	var ef engineFlags
	ef.register(fs)
	fs.Parse(args)

	eng, code := ef.engine()
	if eng == nil {
		return code
	}
	defer eng.Close()

	owner, err := eng.ForceUnlock(ctx)
	if err != nil {
		slog.Error("unlock", "error", err)
		return exitError
	}
	if owner == "" {
		slog.Info("lock was not held")
	} else {
		slog.Info("lock released", "owner", owner)
	}
	return exitOK
}

func cmdReports(ctx context.Context, args []string) int {
	fs := flag.NewFlagSet("reports", flag.ExitOnError)
	var ef engineFlags
	ef.register(fs)
	runID := fs.String("run", "", "print the full report for this run ID")
	limit := fs.Int("limit", 20, "max run summaries to list")
	fs.Parse(args)

	eng, code := ef.engine()
	if eng == nil {
		return code
	}
	defer eng.Close()

	if *runID != "" {
		body, err := eng.ReportJSON(ctx, *runID)
		if err != nil {
			slog.Error("get report", "run", *runID, "error", err)
			return exitError
		}
		if body == "" {
			fmt.Fprintf(os.Stderr, "no report for run %s\n", *runID)
			return exitError
		}
		fmt.Println(body)
		return exitOK
	}

	runs, err := eng.Runs(ctx, *limit)
	if err != nil {
		slog.Error("list runs", "error", err)
		return exitError
	}
	for _, r := range runs {
		fmt.Printf("%s  started=%s  new=%d updated=%d unchanged=%d missing=%d skipped=%d  total=%d\n",
			r.ID, time.UnixMilli(r.StartedAt).UTC().Format(time.RFC3339),
			r.NewCount, r.UpdatedCount, r.UnchangedCount, r.MissingCount,
			r.SkippedCount, r.TotalAfter)
	}
	return exitOK
}

func exitCode(err error) int {
	switch {
	case errors.Is(err, recon.ErrLockHeld):
		return exitLockHeld
	case errors.Is(err, recon.ErrArchiveFailed):
		return exitArchive
	case errors.Is(err, recon.ErrCommitFailed):
		return exitCommit
	case errors.Is(err, recon.ErrBadFeed):
		return exitBadFeed
	case errors.Is(err, recon.ErrCorruptStore):
		return exitCorruptStore
	default:
		return exitError
	}
}
