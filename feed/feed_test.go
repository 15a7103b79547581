package feed

import (
	"os"
	"path/filepath"
	"testing"
)

func writeFeed(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "feed.json")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad(t *testing.T) {
	// WHAT: A well-formed Producer document parses into records.
	// WHY: This is the only input surface of the engine.
	path := writeFeed(t, `{
		"generated_at": "2026-01-12T09:30:00Z",
		"producer": {"source": "nhl-schedule", "season": "20252026"},
		"records": [
			{"kind": "game", "native_id": "2026020411", "date": "2026-01-12",
			 "start_time": "19:00", "home": "MTL", "away": "BOS",
			 "status": "scheduled", "details": {"venue": "Bell Centre"}}
		]
	}`)

	doc, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(doc.Records) != 1 {
		t.Fatalf("records = %d, want 1", len(doc.Records))
	}
	if doc.Producer["season"] != "20252026" {
		t.Errorf("producer season = %q", doc.Producer["season"])
	}
	r := doc.Records[0]
	if r.NativeID != "2026020411" || r.Home != "MTL" {
		t.Errorf("record = %+v", r)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.json")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestLoad_MalformedJSON(t *testing.T) {
	path := writeFeed(t, `{"records": [`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for malformed JSON")
	}
}

func TestLoad_MissingRecordsArray(t *testing.T) {
	// WHAT: A document without a records array is rejected outright.
	// WHY: An empty universe and a truncated document must not be confused —
	// MISSING classification depends on the set being complete.
	path := writeFeed(t, `{"generated_at": "2026-01-12T09:30:00Z"}`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for missing records array")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		rec     Record
		wantErr bool
	}{
		{"native id only", Record{Kind: "game", NativeID: "G1"}, false},
		{"full core tuple", Record{Kind: "game", Date: "2025-11-15", Home: "X", Away: "Y"}, false},
		{"missing kind", Record{NativeID: "G1"}, true},
		{"no identity at all", Record{Kind: "game", Status: "final"}, true},
		{"partial core tuple", Record{Kind: "game", Date: "2025-11-15", Home: "X"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.rec)
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate(%+v) = %v, wantErr=%v", tt.rec, err, tt.wantErr)
			}
		})
	}
}

func TestDetail_EmptyIsUnset(t *testing.T) {
	// WHAT: An empty detail value reads as unset.
	// WHY: Producers emit "" for not-yet-available; merge must treat it as null.
	r := Record{Details: map[string]string{"score": "", "venue": "Bell Centre"}}
	if _, ok := r.Detail("score"); ok {
		t.Error("empty score should be unset")
	}
	if v, ok := r.Detail("venue"); !ok || v != "Bell Centre" {
		t.Errorf("venue = %q, %v", v, ok)
	}
	if _, ok := r.Detail("attendance"); ok {
		t.Error("absent key should be unset")
	}
}
