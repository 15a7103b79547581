package recon

import (
	"errors"

	"github.com/rinklab/rinksync/recon/internal/store"
)

// ErrBadFeed is returned when the candidate document cannot be read or
// parsed at all. Individual malformed records are skipped and counted, not
// fatal; this error means the run has no usable candidate universe.
var ErrBadFeed = errors.New("recon: malformed candidate feed")

// ErrArchiveFailed is returned when the pre-run backup cannot be written.
// The run aborts before any mutation: never mutate without a prior backup.
var ErrArchiveFailed = errors.New("recon: pre-run archive failed")

// ErrCommitFailed is returned when the snapshot/metadata pair cannot be
// committed. The store remains at its prior, already-archived state.
var ErrCommitFailed = errors.New("recon: snapshot commit failed")

// ErrLockHeld is returned when another run holds the exclusive lock.
var ErrLockHeld = store.ErrLockHeld

// ErrCorruptStore is returned when the snapshot fails its integrity check
// on open.
var ErrCorruptStore = store.ErrCorrupt
