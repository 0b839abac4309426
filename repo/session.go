// Package repo declares the Repository Session interface spec.md §6
// lists as "consumed": the boundary the Revert/Conflict Engine and the
// Tree Walker's remote_status population call through to reach an
// actual version-control backend. Implementing a real backend (talking
// to Subversion or anything else) is out of this module's scope —
// spec.md §1 excludes "the actual network/repository access layer,
// credentials, and wire protocol" — so this package holds only the
// interface shape and the value types its methods exchange.
package repo

import (
	"context"
	"io"

	"github.com/phmarek/fsvs-sub001/entry"
)

// FileContent is one get_file result.
type FileContent struct {
	Body       io.ReadCloser
	Properties map[string][]byte
	ActualRev  int64
}

// DirListing is one get_dir result: the directory's immediate children
// plus its own properties.
type DirListing struct {
	Entries    []DirEntry
	Properties map[string][]byte
}

// DirEntry is one child reported by get_dir.
type DirEntry struct {
	Name string
	Meta entry.Meta
}

// CommitChange is one local modification the Revert engine's commit
// counterpart hands to the repository's commit-deltas operation
// (spec.md §1: "the repository transport (fetch file bytes, fetch
// directory listings, commit deltas) — abstracted as a Repository
// Session").
type CommitChange struct {
	Path    string
	Meta    entry.Meta
	MD5     [16]byte
	Removed bool
	// Body is nil for directories and removals.
	Body io.Reader
}

// ChangeCallbacks is the delta-editor sink report_changes drives;
// implementations call back into the tree as the repository reports
// each addition, modification, or deletion between two revisions.
type ChangeCallbacks struct {
	OnAdded    func(path string, meta entry.Meta) error
	OnChanged  func(path string, meta entry.Meta) error
	OnRemoved  func(path string) error
	OnDirOpen  func(path string) error
	OnDirClose func(path string) error
}

// Session is the Repository Session interface spec.md §6 requires.
type Session interface {
	// GetFile fetches one file's content and properties as of rev (or
	// HEAD, via entry.SetRevnum).
	GetFile(ctx context.Context, url string, rev int64) (FileContent, error)

	// GetDir lists one directory's children and properties as of rev.
	GetDir(ctx context.Context, url string, rev int64) (DirListing, error)

	// ReportChanges drives cb with every change between the tree's
	// recorded revision and rev, starting at root; used to populate
	// remote_status (spec.md §4.5, §4.7).
	ReportChanges(ctx context.Context, root string, rev int64, cb ChangeCallbacks) error

	// Commit sends changes as one new revision and returns the revision
	// number the repository assigned, resolving any entry left at
	// entry.SetRevnum (spec.md §3: "resolved to the returned revision
	// when the commit completes").
	Commit(ctx context.Context, url string, changes []CommitChange, message string) (newRev int64, err error)
}

// OpenFunc opens a Session against url (spec.md §6's open_session).
type OpenFunc func(ctx context.Context, url string) (Session, error)
