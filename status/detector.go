// Package status implements the Change Detector (spec.md §4.5): turning
// a freshly lstat'd Meta plus the tree's recorded Meta into the 10-bit
// entry_status / remote_status bitsets, propagating ChildChanged
// upward, and memoizing the filter verdict used by the Tree Walker.
package status

import (
	"github.com/sirupsen/logrus"

	"github.com/phmarek/fsvs-sub001/entry"
)

// defaultLog is used whenever a Snapshot carries no Log field, so the
// package logs something useful even when a caller doesn't wire a
// logger through.
var defaultLog = logrus.StandardLogger()

func pickLog(l *logrus.Logger) *logrus.Logger {
	if l != nil {
		return l
	}
	return defaultLog
}

// Snapshot is everything the detector needs for one entry: what was
// last recorded against it, and what lstat(2) (or the repository's
// report-and-deliver protocol, for remote_status) returned this run.
type Snapshot struct {
	// HadRecorded is false for an entry that has no prior recorded data
	// at all (spec.md §4.5: "New if no recorded data").
	HadRecorded bool
	Recorded    entry.Meta

	LocalExists bool
	Local       entry.Meta

	// Path is the tracked-tree path of the entry being examined, used
	// only for logging; leaving it empty just means a blank path in log
	// lines.
	Path string
	// Log is an optional per-call logger. A nil Log falls back to the
	// package-level default.
	Log *logrus.Logger
}

// ContentResolver resolves an ambiguous "content may or may not have
// changed" case (matching mtime heuristics insufficient) to a definite
// answer — normally the Manber Chunker comparison of spec.md §4.3, or a
// symlink-target / device-number equality check for non-regular files.
// A nil resolver leaves the ambiguity as the soft Likely flag.
type ContentResolver func() (entry.ChangeFlag, error)

// Detect computes one entry's status bitset per spec.md §4.5.
func Detect(snap Snapshot, resolve ContentResolver) (entry.StatusFlags, error) {
	log := pickLog(snap.Log)
	s, err := detect(snap, resolve)
	if err != nil {
		log.WithError(err).WithField("path", snap.Path).Warn("status: change detection failed")
		return s, err
	}
	log.WithFields(logrus.Fields{
		"path":   snap.Path,
		"status": s,
	}).Debug("status: change detection verdict")
	return s, nil
}

func detect(snap Snapshot, resolve ContentResolver) (entry.StatusFlags, error) {
	if !snap.LocalExists {
		return entry.StatusRemoved, nil
	}
	if !snap.HadRecorded {
		return entry.StatusNew, nil
	}

	if typeOf(snap.Recorded.Mode) != typeOf(snap.Local.Mode) {
		return entry.StatusReplaced, nil
	}

	var s entry.StatusFlags
	if snap.Recorded.MtimeSec != snap.Local.MtimeSec || snap.Recorded.MtimeNsec != snap.Local.MtimeNsec {
		s |= entry.StatusMetaMtime
	}
	if snap.Recorded.Uid != snap.Local.Uid {
		s |= entry.StatusMetaOwner
	}
	if snap.Recorded.Gid != snap.Local.Gid {
		s |= entry.StatusMetaGroup
	}
	if permBits(snap.Recorded.Mode) != permBits(snap.Local.Mode) {
		s |= entry.StatusMetaUmode
	}

	switch {
	case snap.Recorded.IsRegular():
		if snap.Recorded.Size != snap.Local.Size {
			s |= entry.StatusChanged
			return s, nil
		}
		if !s.Has(entry.StatusMetaMtime) {
			return s, nil
		}
		// Same size, different mtime: genuinely ambiguous without reading
		// content (spec.md §4.5: "do a manber compare to resolve").
		cf, err := resolveOrLikely(resolve)
		if err != nil {
			return 0, err
		}
		s |= contentBit(cf)

	case snap.Recorded.IsSymlink(), snap.Recorded.IsDevice():
		if resolve == nil {
			if s.Has(entry.StatusMetaMtime) {
				s |= entry.StatusLikely
			}
			return s, nil
		}
		cf, err := resolve()
		if err != nil {
			return 0, err
		}
		s |= contentBit(cf)
	}

	return s, nil
}

func resolveOrLikely(resolve ContentResolver) (entry.ChangeFlag, error) {
	if resolve == nil {
		return entry.ChangeUnknown, nil
	}
	return resolve()
}

func contentBit(cf entry.ChangeFlag) entry.StatusFlags {
	switch cf {
	case entry.ChangeChanged:
		return entry.StatusChanged
	case entry.ChangeNotChanged:
		return 0
	default:
		return entry.StatusLikely
	}
}

func typeOf(mode uint32) uint32 { return mode & entry.ModeTypeMask }
func permBits(mode uint32) uint32 {
	return mode &^ entry.ModeTypeMask
}
