package revert

import (
	"bytes"
	"context"
	"io"
	"path/filepath"
	"strconv"
	"time"

	"github.com/go-git/go-billy/v5"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/phmarek/fsvs-sub001/entry"
	"github.com/phmarek/fsvs-sub001/manber"
	"github.com/phmarek/fsvs-sub001/pipe"
	"github.com/phmarek/fsvs-sub001/repo"
	"github.com/phmarek/fsvs-sub001/urllist"
	"github.com/phmarek/fsvs-sub001/waa"
)

// Engine drives BASE revert, explicit-revision update, and conflict
// resolution over one working copy (spec.md §4.7-4.8).
//
// FS is a billy.Filesystem rooted at WCRoot and is used for all
// working-copy content operations, addressed by the Tree's tracked
// ("/"-relative) paths. WAAFS is a separate billy.Filesystem rooted at
// the real OS "/", used for Locator-addressed WAA sidecar and conflict
// index files, since Locator.Path already returns fully absolute real
// paths (typically under a WAA directory outside WCRoot) — sharing one
// filesystem instance between the two path styles would double-prefix
// whichever one isn't relative to that instance's root.
type Engine struct {
	Tree    *entry.Tree
	FS      billy.Filesystem
	WCRoot  string
	WAAFS   billy.Filesystem
	Locator *waa.Locator
	URLs    *urllist.List
	Session repo.Session

	Policy       ConflictPolicy
	MergeCommand string // shell command line; tokenized once per merge

	Env pipe.Env

	// Now supplies the current time for post-merge mtime stamping; tests
	// inject a fixed clock.
	Now func() time.Time

	// Log is an optional logger (nil-safe, falls back to
	// logrus.StandardLogger) that records per-entry conflict resolution
	// choices at Debug and recoverable/fatal conditions at Warn/Error.
	Log *logrus.Logger
}

func (e *Engine) log() *logrus.Logger {
	if e.Log != nil {
		return e.Log
	}
	return logrus.StandardLogger()
}

func (e *Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

// realWCPath computes the real absolute OS path of an entry's
// working-copy content, for the os-package calls applyMeta makes
// outside the billy abstraction.
func (e *Engine) realWCPath(id entry.EntryId) string {
	return filepath.Join(e.WCRoot, e.Tree.Path(id))
}

// realPath converts a "/"-relative tracked path (as used by FS
// operations) into its real absolute OS path, for handing to an
// external process such as the merge program, which has no notion of
// the billy.Filesystem root.
func (e *Engine) realPath(trackedPath string) string {
	return filepath.Join(e.WCRoot, trackedPath)
}

// RevertEntry reverts a single entry to its BASE revision (spec.md
// §4.7 "Revert to BASE"). Callers drive the walker so that a
// directory's own call happens after all of its children's — the
// directory's recorded mode/owner/mtime must win over whatever
// MkdirAll default a child's restore created along the way.
func (e *Engine) RevertEntry(ctx context.Context, id entry.EntryId) error {
	en := e.Tree.MustGet(id)

	if en.Flags.Has(entry.FlagUnversion) {
		en.Flags &^= entry.FlagUnversion
		return nil
	}
	if en.Flags.Has(entry.FlagAdd) && en.ReposRev == entry.SetRevnum {
		en.ToBeIgnored = true
		return nil
	}
	if en.URLId == entry.InvalidID && !en.Flags.Has(entry.FlagCopyBase) {
		err := errors.Wrapf(ErrNoURL, "%s", e.Tree.Path(id))
		e.log().WithField("path", e.Tree.Path(id)).Warn("revert: cannot revert unknown entry")
		return err
	}

	path := e.Tree.Path(id)
	e.log().WithField("path", path).Debug("revert: reverting to BASE")

	if en.IsDir() {
		if err := e.FS.MkdirAll(path, 0777); err != nil {
			return errors.Wrapf(err, "revert: mkdir %s", path)
		}
		restored, err := applyMeta(e.realWCPath(id), en.Meta, DirMtimeRevert, e.now())
		if err != nil {
			return err
		}
		en.Meta = restored
	} else {
		if err := e.FS.MkdirAll(filepath.Dir(path), 0777); err != nil {
			return errors.Wrapf(err, "revert: mkdir parent of %s", path)
		}
		if err := e.restoreContent(ctx, id, en.ReposRev); err != nil {
			return err
		}
	}

	return e.clearConflictArtifacts(id)
}

// restoreContent fetches one file's content as of rev from the
// repository, decodes it through the entry's recorded update-pipe
// command if any, regenerates the manber sidecar, and atomically
// installs it at the entry's working-copy path.
func (e *Engine) restoreContent(ctx context.Context, id entry.EntryId, rev int64) error {
	en := e.Tree.MustGet(id)
	path := e.Tree.Path(id)

	u, ok := e.URLs.Get(en.URLId)
	if !ok {
		return errors.Wrapf(ErrNoURL, "%s: url id %d not found", path, en.URLId)
	}

	fc, err := e.Session.GetFile(ctx, u.Target, rev)
	if err != nil {
		return errors.Wrapf(err, "revert: fetch %s@%d", path, rev)
	}
	defer fc.Body.Close()

	var decoded io.Reader = fc.Body
	if en.Decoder != "" {
		filter, err := pipe.Parse(en.Decoder)
		if err != nil {
			return errors.Wrapf(err, "revert: parse decoder for %s", path)
		}
		pr, pw := io.Pipe()
		go func() {
			pw.CloseWithError(filter.Apply(ctx, fc.Body, pw, e.entryEnv(path, rev)))
		}()
		decoded = pr
	}

	buf, err := io.ReadAll(decoded)
	if err != nil {
		return errors.Wrapf(err, "revert: decode %s", path)
	}

	chunked, err := manber.Chunk(bytes.NewReader(buf))
	if err != nil {
		return errors.Wrapf(err, "revert: chunk %s", path)
	}

	w, err := waa.Open(e.FS, path, waa.OpenFlags{Create: true, Truncate: true, WriteOnly: true})
	if err != nil {
		return err
	}
	_, writeErr := w.Write(buf)
	if err := w.Close(writeErr == nil); err != nil {
		return err
	}
	if writeErr != nil {
		return errors.Wrapf(writeErr, "revert: write %s", path)
	}

	if err := e.writeSidecar(id, chunked); err != nil {
		return err
	}

	en.MD5 = chunked.FileMD5
	en.ReposRev = rev
	restored, err := applyMeta(e.realWCPath(id), en.Meta, DirMtimeRevert, e.now())
	en.Meta = restored
	return err
}

func (e *Engine) writeSidecar(id entry.EntryId, res manber.Result) error {
	path := e.Tree.Path(id)
	sidecarPath := e.Locator.Path(path, "md5s")

	if !manber.ShouldKeepSidecar(res.Size, minSidecarSize) {
		_ = e.WAAFS.Remove(sidecarPath)
		return nil
	}

	var buf bytes.Buffer
	if err := manber.WriteSidecar(&buf, res.Blocks); err != nil {
		return errors.Wrapf(err, "revert: encode sidecar for %s", path)
	}
	return waa.WriteFileAtomic(e.WAAFS, sidecarPath, buf.Bytes())
}

// minSidecarSize is the Manber Chunker's own MinFileSize threshold
// (spec.md §4.3 step 5), passed to ShouldKeepSidecar; files smaller
// than it keep no md5s sidecar.
const minSidecarSize = manber.MinFileSize

func (e *Engine) entryEnv(path string, rev int64) pipe.Env {
	env := e.Env
	env.EntryPath = path
	env.TargetRev = strconv.FormatInt(rev, 10)
	return env
}

// clearConflictArtifacts removes any `.mine`/`.rNN`/common-base files
// this entry still references and clears its Conflict flag (spec.md
// §4.7's final bullet, and the shared tail of §4.8's `resolved`).
func (e *Engine) clearConflictArtifacts(id entry.EntryId) error {
	en := e.Tree.MustGet(id)
	if !en.Flags.Has(entry.FlagConflict) {
		return nil
	}
	return e.Resolved(id)
}
