package diff

import "github.com/rinklab/rinksync/feed"

// Merge builds the next snapshot from the prior one and a classification
// result. The output is the union of every identity key ever seen, each
// resolved to exactly one record:
//
//   - New: candidate inserted as-is.
//   - Updated: candidate replaces the prior record, except detail values the
//     candidate omits are retained from the prior record (non-regression).
//   - Unchanged, Missing: prior record retained verbatim. Disappearance from
//     one feed is treated as transient, never as an authoritative deletion.
func Merge(prior map[string]feed.Record, res Result) map[string]feed.Record {
	next := make(map[string]feed.Record, len(prior)+res.NewCount)
	for k, r := range prior {
		next[k] = r
	}
	for _, ch := range res.Changes {
		switch ch.Class {
		case New:
			next[ch.Key] = res.Candidates[ch.Key]
		case Updated:
			next[ch.Key] = mergeRecord(prior[ch.Key], res.Candidates[ch.Key])
		}
	}
	return next
}

// mergeRecord applies the non-regression rule to one updated record. The
// candidate wins every field it actually provides; anything it leaves empty
// keeps the prior value. Details from both sides are unioned so a detail
// captured once is never lost to a later partial fetch.
func mergeRecord(prior, cand feed.Record) feed.Record {
	merged := cand

	for _, f := range coreFields {
		if coreValue(merged, f) == "" {
			setCore(&merged, f, coreValue(prior, f))
		}
	}
	if merged.Status == "" {
		merged.Status = prior.Status
	}
	if merged.NativeID == "" {
		merged.NativeID = prior.NativeID
	}
	if merged.Kind == "" {
		merged.Kind = prior.Kind
	}

	if len(prior.Details) > 0 || len(cand.Details) > 0 {
		// Rebuild rather than mutate: the candidate map may alias feed data,
		// and empty placeholder values are dropped here once and for all.
		details := make(map[string]string, len(prior.Details)+len(cand.Details))
		for k, v := range prior.Details {
			if v != "" {
				details[k] = v
			}
		}
		for k, v := range cand.Details {
			if v != "" {
				details[k] = v
			}
		}
		merged.Details = details
	}

	return merged
}

func setCore(r *feed.Record, field, v string) {
	switch field {
	case "date":
		r.Date = v
	case "start_time":
		r.StartTime = v
	case "home":
		r.Home = v
	case "away":
		r.Away = v
	}
}
