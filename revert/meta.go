package revert

import (
	"os"
	"time"

	"github.com/pkg/errors"

	"github.com/phmarek/fsvs-sub001/entry"
)

// applyMeta restores mode, mtime, and (best-effort) ownership at
// realPath. billy.Filesystem has no notion of permission bits or
// ownership — by design, it only abstracts file *data* operations for
// go-git's own needs — so meta restoration steps outside the billy
// abstraction to the real os package for this one concern. Callers
// pass the real absolute OS path (Engine.realWCPath), not a tracked
// tree path.
//
// mode selects spec.md §4.7's directory-mtime-restoration behavior:
// DirMtimeRevert restores m's recorded mtime (the usual case, and the
// only one that matters for a plain file restore); DirMtimeSetCurrent
// stamps now instead (used after an intentional change such as a
// completed merge); DirMtimeGetTimestamp re-reads whatever mtime the
// filesystem now reports, so a later run does not see a spurious
// change; DirMtimeNone leaves mtime untouched entirely. applyMeta
// returns m with Mtime* updated to whatever value it actually wrote
// (or read back), so the caller can record it on the entry.
func applyMeta(realPath string, m entry.Meta, mode DirMtimeMode, now time.Time) (entry.Meta, error) {
	if err := os.Chmod(realPath, os.FileMode(m.Mode&0777)); err != nil {
		return m, errors.Wrapf(err, "revert: chmod %s", realPath)
	}

	switch mode {
	case DirMtimeNone:
		// leave mtime exactly as the filesystem set it.
	case DirMtimeSetCurrent:
		if err := os.Chtimes(realPath, now, now); err != nil {
			return m, errors.Wrapf(err, "revert: chtimes %s", realPath)
		}
		m.MtimeSec, m.MtimeNsec = now.Unix(), int64(now.Nanosecond())
	case DirMtimeGetTimestamp:
		fi, err := os.Stat(realPath)
		if err != nil {
			return m, errors.Wrapf(err, "revert: stat %s", realPath)
		}
		mt := fi.ModTime()
		m.MtimeSec, m.MtimeNsec = mt.Unix(), int64(mt.Nanosecond())
	default: // DirMtimeRevert
		mtime := time.Unix(m.MtimeSec, m.MtimeNsec)
		if err := os.Chtimes(realPath, mtime, mtime); err != nil {
			return m, errors.Wrapf(err, "revert: chtimes %s", realPath)
		}
	}

	// Changing ownership requires privileges this process often lacks
	// (e.g. test runs, non-root installs); spec.md treats owner/group
	// mismatches as a soft status bit (StatusMetaOwner/StatusMetaGroup),
	// not a hard revert failure, so a permission error here is tolerated.
	if err := os.Chown(realPath, int(m.Uid), int(m.Gid)); err != nil && !os.IsPermission(err) {
		return m, errors.Wrapf(err, "revert: chown %s", realPath)
	}

	return m, nil
}
