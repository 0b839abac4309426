// Package revert implements the Revert/Conflict Engine (spec.md
// §4.7-4.8): reconstructing entries from the repository or the stored
// BASE, renaming local files into conflict variants, and driving an
// external three-way merge program.
package revert

import "github.com/pkg/errors"

// ConflictPolicy selects how a locally-modified entry is handled when
// an update would overwrite it (spec.md §4.7).
type ConflictPolicy int

const (
	// PolicyStop fails the whole operation on the first locally-modified
	// entry that would be overwritten.
	PolicyStop ConflictPolicy = iota
	// PolicyLocal skips the update for locally-modified entries.
	PolicyLocal
	// PolicyRemote overwrites local modifications unconditionally.
	PolicyRemote
	// PolicyBoth renames local to <name>.mine, fetches remote as
	// <name>.rNN, leaves an empty placeholder, and marks Conflict.
	PolicyBoth
	// PolicyMerge does everything PolicyBoth does, plus fetches the
	// common ancestor and invokes an external three-way merge program.
	PolicyMerge
)

// DirMtimeMode is the per-directory mtime-restoration flag spec.md §4.7
// accumulates while processing a directory's children.
type DirMtimeMode int

const (
	// DirMtimeNone leaves the directory's mtime exactly as the
	// filesystem set it while children were being written.
	DirMtimeNone DirMtimeMode = iota
	// DirMtimeRevert restores the recorded (pre-update) mtime.
	DirMtimeRevert
	// DirMtimeSetCurrent stamps the current time (used after an
	// intentional change such as a completed merge).
	DirMtimeSetCurrent
	// DirMtimeGetTimestamp re-reads the mtime the filesystem now reports,
	// so a later run does not see a spurious change.
	DirMtimeGetTimestamp
)

// ErrConflict marks a merge that completed with textual conflicts
// (spec.md §7: "non-fatal but flagged on the entry").
var ErrConflict = errors.New("revert: merge left unresolved conflicts")

// ErrBusy is returned under PolicyStop when an update would overwrite a
// locally-modified entry.
var ErrBusy = errors.New("revert: local modification would be overwritten")

// ErrNoURL is returned when BASE revert is attempted on an entry that
// has no URL and is not copy-derived (spec.md §4.7: "print a cannot
// revert unknown message and skip").
var ErrNoURL = errors.New("revert: entry has no URL to revert from")
