// Package feed defines the candidate dataset contract between the Producer
// (the scraper clients, external to this repo) and the reconciliation engine.
//
// The Producer writes one JSON document per run:
//
//	{
//	  "generated_at": "2026-01-12T09:30:00Z",
//	  "producer": {"source": "nhl-schedule", "season": "20252026"},
//	  "records": [ ... ]
//	}
//
// The engine never fetches data itself; it consumes the document as a
// complete candidate universe for one run.
package feed

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// Record is one candidate entity from the Producer: a scheduled game, a
// per-player stat line, or a standings row.
//
// Core fields (Date, StartTime, Home, Away) identify the entity when the
// Producer supplies no native ID. Details holds the nullable detail fields
// that may only be populated by later fetches; an absent or empty value
// means "not yet available", never "cleared".
type Record struct {
	Kind      string            `json:"kind"`                 // "game", "skater", "goalie", "standing"
	NativeID  string            `json:"native_id,omitempty"`  // producer-native identifier, may be empty
	Date      string            `json:"date,omitempty"`       // YYYY-MM-DD
	StartTime string            `json:"start_time,omitempty"` // HH:MM local
	Home      string            `json:"home,omitempty"`       // first participant (home team, player)
	Away      string            `json:"away,omitempty"`       // second participant (away team, grouping)
	Status    string            `json:"status,omitempty"`     // "scheduled", "live", "final", ...
	Details   map[string]string `json:"details,omitempty"`
}

// Document is the envelope the Producer writes for one run.
type Document struct {
	GeneratedAt time.Time         `json:"generated_at"`
	Producer    map[string]string `json:"producer,omitempty"`
	Records     []Record          `json:"records"`
}

// Load reads and parses a Producer document from path.
// A missing or syntactically invalid file is a hard error; validation of
// individual records is the caller's concern (see Validate).
func Load(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("feed: read %s: %w", path, err)
	}
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("feed: parse %s: %w", path, err)
	}
	if doc.Records == nil {
		return nil, fmt.Errorf("feed: %s: missing records array", path)
	}
	return &doc, nil
}

// Validate checks that a record carries enough identity to reconcile:
// a non-empty kind, and either a native ID or the full core tuple
// (date + both participants). Invalid records are skipped by the engine,
// never fatal.
func Validate(r Record) error {
	if r.Kind == "" {
		return fmt.Errorf("feed: record missing kind")
	}
	if r.NativeID != "" {
		return nil
	}
	if r.Date == "" || r.Home == "" || r.Away == "" {
		return fmt.Errorf("feed: %s record has neither native_id nor core fields (date/home/away)", r.Kind)
	}
	return nil
}

// Detail returns the value of a detail field and whether it is set.
// Empty string counts as unset: Producers emit "" for not-yet-available.
func (r Record) Detail(key string) (string, bool) {
	v, ok := r.Details[key]
	if !ok || v == "" {
		return "", false
	}
	return v, true
}
