package identity

import (
	"testing"

	"github.com/rinklab/rinksync/feed"
)

func TestKey_NativeID(t *testing.T) {
	// WHAT: A native identifier is used verbatim as the key.
	// WHY: Producer IDs are the strongest identity signal we have.
	r := feed.Record{Kind: "game", NativeID: "2026020411", Date: "2026-01-12", Home: "MTL", Away: "BOS"}
	if got := Key(r); got != "2026020411" {
		t.Fatalf("Key = %q, want native id verbatim", got)
	}
}

func TestKey_CompositeFallback(t *testing.T) {
	// WHAT: Without a native ID the key is the documented composite.
	// WHY: The field order and separator are a persisted contract.
	r := feed.Record{Kind: "game", Date: "2025-11-15", StartTime: "19:00", Home: "X", Away: "Y"}
	want := "game|2025-11-15|19:00|X|Y"
	if got := Key(r); got != want {
		t.Fatalf("Key = %q, want %q", got, want)
	}
}

func TestKey_StableAcrossRuns(t *testing.T) {
	// WHAT: Two independently built records with the same core fields
	// resolve to the same key.
	// WHY: Cross-run identity stability is what prevents duplicates.
	a := feed.Record{Kind: "game", Date: "2025-11-15", StartTime: "19:00", Home: "X", Away: "Y",
		Status: "scheduled"}
	b := feed.Record{Kind: "game", Date: "2025-11-15", StartTime: "19:00", Home: "X", Away: "Y",
		Status: "final", Details: map[string]string{"score": "3-2"}}
	if Key(a) != Key(b) {
		t.Fatalf("keys differ: %q vs %q", Key(a), Key(b))
	}
}

func TestKey_CompositeDistinguishesKinds(t *testing.T) {
	// WHAT: Same participants and date, different kind, different key.
	// WHY: A game row and a standings row must never collide.
	g := feed.Record{Kind: "game", Date: "2025-11-15", Home: "X", Away: "Y"}
	s := feed.Record{Kind: "standing", Date: "2025-11-15", Home: "X", Away: "Y"}
	if Key(g) == Key(s) {
		t.Fatal("keys collide across kinds")
	}
}

func TestKey_EmptyStartTime(t *testing.T) {
	// Standings rows have no start time; the slot stays in the composite so
	// field positions never shift.
	r := feed.Record{Kind: "standing", Date: "2025-11-15", Home: "X", Away: "Atlantic"}
	want := "standing|2025-11-15||X|Atlantic"
	if got := Key(r); got != want {
		t.Fatalf("Key = %q, want %q", got, want)
	}
}
