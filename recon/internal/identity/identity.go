// Package identity resolves the stable identity key of a candidate record.
//
// The key is what reconciliation joins on across runs, so it must be
// deterministic: the same logical record always resolves to the same key,
// run after run. When the Producer supplies a native identifier it is used
// verbatim; otherwise the key is a fixed-order composite of the core fields.
//
// Known limitation, kept on purpose: a changed native identifier for what is
// semantically the same entity is not detected. The record shows up as NEW
// under the new key while the old key goes MISSING, and both appear in the
// change report for operators to spot. No guessing heuristics.
package identity

import (
	"strings"

	"github.com/rinklab/rinksync/feed"
)

// Separator joins composite key parts. Team codes, dates, and times never
// contain it; feed validation never lets one through unnoticed because keys
// are only built from the documented core fields.
const Separator = "|"

// Key resolves the identity key for a record.
//
// Native identifier verbatim when present; otherwise the composite
// kind|date|start_time|home|away. The field order is part of the persisted
// contract and must not change.
func Key(r feed.Record) string {
	if r.NativeID != "" {
		return r.NativeID
	}
	return strings.Join([]string{r.Kind, r.Date, r.StartTime, r.Home, r.Away}, Separator)
}
