// Package report turns one run's classification result into the structured
// change report that is persisted per run. Reports are append-only output:
// later runs never read them, so the format can grow without migration
// concerns.
package report

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rinklab/rinksync/recon/internal/diff"
)

// Meta carries the run metadata echoed into the report.
type Meta struct {
	RunID           string
	StartedAt       time.Time
	FinishedAt      time.Time
	DryRun          bool
	FeedGeneratedAt time.Time
	Producer        map[string]string
	Skipped         int
	TotalBefore     int
	TotalAfter      int
}

// Counts summarises one run per classification, plus records skipped by
// validation.
type Counts struct {
	New       int `json:"new"`
	Updated   int `json:"updated"`
	Unchanged int `json:"unchanged"`
	Missing   int `json:"missing"`
	Skipped   int `json:"skipped"`
}

// Update is the full field-level diff for one updated record.
type Update struct {
	Key    string             `json:"key"`
	Fields []diff.FieldChange `json:"fields"`
}

// Report is the per-run change document.
type Report struct {
	RunID           string            `json:"run_id"`
	StartedAt       time.Time         `json:"started_at"`
	FinishedAt      time.Time         `json:"finished_at"`
	DryRun          bool              `json:"dry_run,omitempty"`
	FeedGeneratedAt time.Time         `json:"feed_generated_at,omitempty"`
	Producer        map[string]string `json:"producer,omitempty"`

	Counts      Counts `json:"counts"`
	TotalBefore int    `json:"total_before"`
	TotalAfter  int    `json:"total_after"`

	Updates       []Update `json:"updates,omitempty"`
	NewKeys       []string `json:"new_keys,omitempty"`
	MissingKeys   []string `json:"missing_keys,omitempty"`
	DuplicateKeys []string `json:"duplicate_keys,omitempty"`
}

// Build assembles the report for one run.
func Build(meta Meta, res diff.Result) *Report {
	rep := &Report{
		RunID:           meta.RunID,
		StartedAt:       meta.StartedAt.UTC(),
		FinishedAt:      meta.FinishedAt.UTC(),
		DryRun:          meta.DryRun,
		FeedGeneratedAt: meta.FeedGeneratedAt,
		Producer:        meta.Producer,
		Counts: Counts{
			New:       res.NewCount,
			Updated:   res.UpdatedCount,
			Unchanged: res.UnchangedCount,
			Missing:   res.MissingCount,
			Skipped:   meta.Skipped,
		},
		TotalBefore:   meta.TotalBefore,
		TotalAfter:    meta.TotalAfter,
		DuplicateKeys: res.DuplicateKeys,
	}
	for _, ch := range res.Changes {
		switch ch.Class {
		case diff.New:
			rep.NewKeys = append(rep.NewKeys, ch.Key)
		case diff.Updated:
			rep.Updates = append(rep.Updates, Update{Key: ch.Key, Fields: ch.Fields})
		case diff.Missing:
			rep.MissingKeys = append(rep.MissingKeys, ch.Key)
		}
	}
	return rep
}

// JSON renders the report as an indented document, the form persisted in the
// reports table and exported to the reports directory.
func (r *Report) JSON() ([]byte, error) {
	return json.MarshalIndent(r, "", "  ")
}

// Export writes the report to dir as <run_id>.json, creating dir if needed.
func (r *Report) Export(dir string) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("report: mkdir %s: %w", dir, err)
	}
	body, err := r.JSON()
	if err != nil {
		return "", fmt.Errorf("report: marshal: %w", err)
	}
	path := filepath.Join(dir, r.RunID+".json")
	if err := os.WriteFile(path, body, 0o644); err != nil {
		return "", fmt.Errorf("report: write %s: %w", path, err)
	}
	return path, nil
}
