package revert

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"

	"github.com/google/shlex"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/phmarek/fsvs-sub001/entry"
	"github.com/phmarek/fsvs-sub001/repo"
	"github.com/phmarek/fsvs-sub001/waa"
)

// PopulateRemoteStatus drives the repository's report-and-deliver
// protocol and records the result as each affected entry's
// remote_status (spec.md §4.7: "Entries' remote_status is populated by
// running the repository's report-and-deliver protocol (external)").
// It must run to completion before ApplyUpdate touches any entry — the
// Tree Walker is not reentrant against a repository call that can
// itself modify the tree (spec.md §5).
func (e *Engine) PopulateRemoteStatus(ctx context.Context, rootURL string, rev int64) error {
	mark := func(path string, status entry.StatusFlags) error {
		id, ok := findByPath(e.Tree, path)
		if !ok {
			return nil
		}
		e.Tree.MustGet(id).RemoteStatus |= status
		return nil
	}
	cb := repo.ChangeCallbacks{
		OnAdded:   func(path string, _ entry.Meta) error { return mark(path, entry.StatusNew) },
		OnChanged: func(path string, _ entry.Meta) error { return mark(path, entry.StatusChanged) },
		OnRemoved: func(path string) error { return mark(path, entry.StatusRemoved) },
	}
	return e.Session.ReportChanges(ctx, rootURL, rev, cb)
}

// ApplyUpdate brings one entry to rev, honoring the configured conflict
// policy when both local and remote changes touch it (spec.md §4.7).
// Callers drive this per-entry in children-before-parent order, same as
// RevertEntry.
func (e *Engine) ApplyUpdate(ctx context.Context, id entry.EntryId, rev int64) error {
	en := e.Tree.MustGet(id)

	if en.RemoteStatus == 0 {
		return nil
	}
	if en.EntryStatus == 0 {
		return e.restoreContent(ctx, id, rev)
	}

	path := e.Tree.Path(id)
	e.log().WithFields(logrus.Fields{
		"path":   path,
		"policy": e.Policy,
	}).Debug("revert: resolving local/remote conflict")

	switch e.Policy {
	case PolicyStop:
		e.log().WithField("path", path).Warn("revert: refusing to overwrite locally-modified entry")
		return errors.Wrapf(ErrBusy, "%s", path)
	case PolicyLocal:
		return nil
	case PolicyRemote:
		return e.restoreContent(ctx, id, rev)
	case PolicyBoth:
		_, _, err := e.stageConflictArtifacts(ctx, id, rev)
		if err != nil {
			return err
		}
		en.Flags |= entry.FlagConflict
		return e.recordArtifacts(id, []string{conflictMinePath(e.Tree, id), conflictTheirsPath(e.Tree, id, rev)})
	case PolicyMerge:
		return e.conflictMerge(ctx, id, rev)
	default:
		return errors.Errorf("revert: unknown conflict policy %d", e.Policy)
	}
}

func conflictMinePath(t *entry.Tree, id entry.EntryId) string { return t.Path(id) + ".mine" }

func conflictTheirsPath(t *entry.Tree, id entry.EntryId, rev int64) string {
	return fmt.Sprintf("%s.r%d", t.Path(id), rev)
}

// stageConflictArtifacts renames the local file to <name>.mine, fetches
// the remote revision as <name>.rNN, and leaves an empty placeholder at
// the original name — the common first half of both the `both` and
// `merge` conflict policies (spec.md §4.7).
func (e *Engine) stageConflictArtifacts(ctx context.Context, id entry.EntryId, rev int64) (mine, theirs string, err error) {
	en := e.Tree.MustGet(id)
	path := e.Tree.Path(id)
	mine = conflictMinePath(e.Tree, id)
	theirs = conflictTheirsPath(e.Tree, id, rev)

	if err := e.FS.Rename(path, mine); err != nil {
		return "", "", errors.Wrapf(err, "revert: rename %s -> %s", path, mine)
	}
	if err := e.fetchInto(ctx, en, theirs, rev); err != nil {
		return "", "", err
	}
	f, err := e.FS.Create(path)
	if err != nil {
		return "", "", errors.Wrapf(err, "revert: placeholder %s", path)
	}
	_ = f.Close()
	return mine, theirs, nil
}

// conflictMerge implements the `merge` conflict policy: as `both`, plus
// fetching the common-ancestor revision and invoking an external
// three-way merge program.
func (e *Engine) conflictMerge(ctx context.Context, id entry.EntryId, rev int64) error {
	en := e.Tree.MustGet(id)
	path := e.Tree.Path(id)

	mine, theirs, err := e.stageConflictArtifacts(ctx, id, rev)
	if err != nil {
		return err
	}

	commonRev := en.ReposRev
	common := fmt.Sprintf("%s.r%d.common", path, commonRev)
	if err := e.fetchInto(ctx, en, common, commonRev); err != nil {
		return err
	}

	argv, err := shlex.Split(e.MergeCommand)
	if err != nil {
		return errors.Wrapf(err, "revert: parse merge command %q", e.MergeCommand)
	}
	if len(argv) == 0 {
		return errors.New("revert: no merge command configured")
	}
	// The merge program is a real OS process, not a billy-addressed
	// caller, so it needs real filesystem paths rather than the
	// "/"-relative tracked paths mine/common/theirs use for FS
	// operations (same boundary applyMeta crosses for chmod/chtimes).
	argv = append(append([]string(nil), argv...), e.realPath(mine), e.realPath(common), e.realPath(theirs))

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	cmd.Env = append(cmd.Environ(), e.entryEnv(path, rev).Strings()...)
	runErr := cmd.Run()

	switch code := exitCode(runErr); code {
	case 0:
		e.log().WithField("path", path).Debug("revert: three-way merge clean")
		// A clean exit leaves the merged content in `mine` (the
		// merge program's first positional argument), matching the
		// classic three-way `merge file1 oldfile file2` convention.
		if err := e.installFile(path, mine); err != nil {
			return err
		}
		for _, p := range []string{mine, theirs, common} {
			_ = e.FS.Remove(p)
		}
		en.Flags &^= entry.FlagConflict
		restored, err := applyMeta(e.realWCPath(id), en.Meta, DirMtimeSetCurrent, e.now())
		en.Meta = restored
		return err

	case 1:
		e.log().WithField("path", path).Warn("revert: three-way merge left conflicts")
		en.Flags |= entry.FlagConflict
		if err := e.recordArtifacts(id, []string{mine, common, theirs}); err != nil {
			return err
		}
		return errors.Wrapf(ErrConflict, "%s", path)

	default:
		e.log().WithFields(logrus.Fields{"path": path, "exit_code": code}).Error("revert: merge program failed")
		return errors.Wrapf(runErr, "revert: merge program exited %d for %s", code, path)
	}
}

// installFile copies srcPath's content into destPath via an
// AtomicWriter.
func (e *Engine) installFile(destPath, srcPath string) error {
	src, err := e.FS.Open(srcPath)
	if err != nil {
		return errors.Wrapf(err, "revert: open %s", srcPath)
	}
	defer src.Close()

	w, err := waa.Open(e.FS, destPath, waa.OpenFlags{Create: true, Truncate: true, WriteOnly: true})
	if err != nil {
		return err
	}
	_, copyErr := io.Copy(w, src)
	if err := w.Close(copyErr == nil); err != nil {
		return err
	}
	return errors.Wrapf(copyErr, "revert: install %s", destPath)
}

// fetchInto writes entry en's content as of rev to destPath verbatim
// (no sidecar, no decoding) — the conflict artifacts are plain files a
// human or merge tool reads, not tracked working-copy content.
func (e *Engine) fetchInto(ctx context.Context, en *entry.Entry, destPath string, rev int64) error {
	u, ok := e.URLs.Get(en.URLId)
	if !ok {
		return errors.Wrapf(ErrNoURL, "%s: url id %d not found", destPath, en.URLId)
	}
	fc, err := e.Session.GetFile(ctx, u.Target, rev)
	if err != nil {
		return errors.Wrapf(err, "revert: fetch %s@%d", destPath, rev)
	}
	defer fc.Body.Close()

	w, err := waa.Open(e.FS, destPath, waa.OpenFlags{Create: true, Truncate: true, WriteOnly: true})
	if err != nil {
		return err
	}
	_, copyErr := io.Copy(w, fc.Body)
	if err := w.Close(copyErr == nil); err != nil {
		return err
	}
	return errors.Wrapf(copyErr, "revert: write %s", destPath)
}

func (e *Engine) recordArtifacts(id entry.EntryId, paths []string) error {
	path := e.Tree.Path(id)
	cflctPath := e.Locator.Path(path, "cflct")

	var buf bytes.Buffer
	if err := WriteConflictIndex(&buf, paths); err != nil {
		return err
	}
	return waa.WriteFileAtomic(e.WAAFS, cflctPath, buf.Bytes())
}

// Resolved implements spec.md §4.8's `resolved`: read the cflct index,
// unlink each listed artifact (missing files tolerated), delete the
// index, and clear Conflict.
func (e *Engine) Resolved(id entry.EntryId) error {
	en := e.Tree.MustGet(id)
	path := e.Tree.Path(id)
	cflctPath := e.Locator.Path(path, "cflct")

	f, err := e.WAAFS.Open(cflctPath)
	if err != nil {
		en.Flags &^= entry.FlagConflict
		return nil
	}
	paths, err := ReadConflictIndex(f)
	f.Close()
	if err != nil {
		return err
	}

	for _, p := range paths {
		if err := e.FS.Remove(p); err != nil && !isNotExist(err) {
			return errors.Wrapf(err, "revert: unlink artifact %s", p)
		}
	}
	if err := e.WAAFS.Remove(cflctPath); err != nil && !isNotExist(err) {
		return errors.Wrapf(err, "revert: remove conflict index %s", cflctPath)
	}

	en.Flags &^= entry.FlagConflict
	return nil
}

func isNotExist(err error) bool {
	return errors.Is(err, os.ErrNotExist)
}

func exitCode(err error) int {
	if err == nil {
		return 0
	}
	if exitErr, ok := err.(*exec.ExitError); ok {
		return exitErr.ExitCode()
	}
	return -1
}

// findByPath resolves an absolute "/"-separated tracked path to an
// entry id by walking the tree from the root, one path segment at a
// time.
func findByPath(t *entry.Tree, path string) (entry.EntryId, bool) {
	cur := t.Root()
	if path == "" || path == "/" {
		return cur, true
	}
	for _, seg := range strings.Split(strings.Trim(path, "/"), "/") {
		found := false
		for _, childID := range t.MustGet(cur).ByInode {
			if t.MustGet(childID).Name == seg {
				cur = childID
				found = true
				break
			}
		}
		if !found {
			return entry.InvalidID, false
		}
	}
	return cur, true
}
