// Package diff classifies candidate records against the prior snapshot and
// merges the two into the next snapshot. It is pure in-memory logic: no I/O,
// no clocks, so every policy in it is unit-testable in isolation.
package diff

import (
	"sort"

	"github.com/rinklab/rinksync/feed"
	"github.com/rinklab/rinksync/recon/internal/identity"
)

// Classification of one identity key for one run.
type Classification string

const (
	New       Classification = "new"       // key absent from the prior snapshot
	Updated   Classification = "updated"   // present, at least one field trigger fired
	Unchanged Classification = "unchanged" // present, no trigger fired
	Missing   Classification = "missing"   // present before, absent from the candidate set
)

// FieldChange is one (prior, new) pair in an update diff.
type FieldChange struct {
	Field string `json:"field"`
	Prior string `json:"prior"`
	New   string `json:"new"`
}

// Change is the classification outcome for one identity key.
type Change struct {
	Key    string         `json:"key"`
	Class  Classification `json:"class"`
	Fields []FieldChange  `json:"fields,omitempty"` // populated for Updated only
}

// Result holds one run's full classification outcome.
type Result struct {
	Changes []Change // candidate keys in input order, then missing keys sorted

	// Candidates maps identity key to the winning candidate record.
	// When the feed carries the same key twice the later record wins;
	// the duplicates are reported in DuplicateKeys.
	Candidates map[string]feed.Record

	DuplicateKeys []string

	NewCount       int
	UpdatedCount   int
	UnchangedCount int
	MissingCount   int
}

// Core field names, in the fixed comparison order. Detail keys are compared
// after these (sorted), status last.
var coreFields = []string{"date", "start_time", "home", "away"}

func coreValue(r feed.Record, field string) string {
	switch field {
	case "date":
		return r.Date
	case "start_time":
		return r.StartTime
	case "home":
		return r.Home
	case "away":
		return r.Away
	}
	return ""
}

// Classify compares every candidate against the prior snapshot and then
// derives MISSING for prior keys outside the candidate universe. The
// candidate slice must be the complete set for the run; MISSING is
// meaningless against a partial one.
func Classify(prior map[string]feed.Record, cands []feed.Record) Result {
	res := Result{Candidates: make(map[string]feed.Record, len(cands))}

	var order []string
	for _, c := range cands {
		key := identity.Key(c)
		if _, seen := res.Candidates[key]; seen {
			res.DuplicateKeys = append(res.DuplicateKeys, key)
		} else {
			order = append(order, key)
		}
		res.Candidates[key] = c // later record wins
	}

	for _, key := range order {
		c := res.Candidates[key]
		p, exists := prior[key]
		if !exists {
			res.Changes = append(res.Changes, Change{Key: key, Class: New})
			res.NewCount++
			continue
		}
		fields := compare(p, c)
		if len(fields) > 0 {
			res.Changes = append(res.Changes, Change{Key: key, Class: Updated, Fields: fields})
			res.UpdatedCount++
		} else {
			res.Changes = append(res.Changes, Change{Key: key, Class: Unchanged})
			res.UnchangedCount++
		}
	}

	// MISSING needs the whole candidate universe, so it comes last.
	var missing []string
	for key := range prior {
		if _, ok := res.Candidates[key]; !ok {
			missing = append(missing, key)
		}
	}
	sort.Strings(missing)
	for _, key := range missing {
		res.Changes = append(res.Changes, Change{Key: key, Class: Missing})
		res.MissingCount++
	}

	return res
}

// compare returns the field-level triggers between a prior record and its
// candidate, in the fixed order: core fields, detail keys (sorted), status.
//
// The empty string means "not provided" on the candidate side and "never
// captured" on the prior side. A candidate omitting a value the prior has is
// never a trigger (monotonic detail preservation); a candidate supplying a
// value the prior lacks, or contradicting it, always is. A core field
// contradiction is a reschedule and classifies as an update, not a new record.
func compare(prior, cand feed.Record) []FieldChange {
	var out []FieldChange

	for _, f := range coreFields {
		if fc, hit := trigger(f, coreValue(prior, f), coreValue(cand, f)); hit {
			out = append(out, fc)
		}
	}

	keys := make([]string, 0, len(prior.Details)+len(cand.Details))
	seen := make(map[string]bool, len(keys))
	for k := range prior.Details {
		if !seen[k] {
			seen[k] = true
			keys = append(keys, k)
		}
	}
	for k := range cand.Details {
		if !seen[k] {
			seen[k] = true
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	for _, k := range keys {
		pv, _ := prior.Detail(k)
		cv, _ := cand.Detail(k)
		if fc, hit := trigger(k, pv, cv); hit {
			out = append(out, fc)
		}
	}

	if fc, hit := trigger("status", prior.Status, cand.Status); hit {
		out = append(out, fc)
	}

	return out
}

func trigger(field, prior, cand string) (FieldChange, bool) {
	if cand == "" || cand == prior {
		return FieldChange{}, false
	}
	return FieldChange{Field: field, Prior: prior, New: cand}, true
}
