package revert

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-git/go-billy/v5/osfs"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phmarek/fsvs-sub001/entry"
	"github.com/phmarek/fsvs-sub001/repo"
	"github.com/phmarek/fsvs-sub001/urllist"
	"github.com/phmarek/fsvs-sub001/waa"
)

type fakeSession struct {
	byRev map[int64][]byte
}

func (s *fakeSession) GetFile(_ context.Context, _ string, rev int64) (repo.FileContent, error) {
	data, ok := s.byRev[rev]
	if !ok {
		return repo.FileContent{}, errors.Errorf("fakeSession: no content at rev %d", rev)
	}
	return repo.FileContent{Body: io.NopCloser(bytes.NewReader(data)), ActualRev: rev}, nil
}

func (s *fakeSession) GetDir(context.Context, string, int64) (repo.DirListing, error) {
	return repo.DirListing{}, nil
}

func (s *fakeSession) ReportChanges(context.Context, string, int64, repo.ChangeCallbacks) error {
	return nil
}

func (s *fakeSession) Commit(context.Context, string, []repo.CommitChange, string) (int64, error) {
	return 0, errors.New("fakeSession: commit not supported")
}

func newTestEngine(t *testing.T) (*Engine, entry.EntryId, string) {
	t.Helper()
	root := t.TempDir()
	fs := osfs.New(root)

	tr := entry.NewTree()
	id, err := tr.AddChild(tr.Root(), "a.txt", entry.Meta{Mode: entry.ModeRegular | 0644})
	require.NoError(t, err)
	tr.SortChildren(tr.Root())

	urls := urllist.NewList()
	u := urls.Add(urllist.URL{ID: entry.InvalidID, Target: "fake://repo/a.txt", Priority: 0})
	tr.MustGet(id).URLId = u.ID
	tr.MustGet(id).ReposRev = 5

	waaRoot := filepath.Join(root, "waa")
	loc := waa.NewLocator(waaRoot, "", root)

	e := &Engine{
		Tree:    tr,
		FS:      fs,
		WCRoot:  root,
		WAAFS:   osfs.New("/"),
		Locator: loc,
		URLs:    urls,
		Session: &fakeSession{byRev: map[int64][]byte{
			5: []byte("remote content at rev 5"),
			7: []byte("remote content at rev 7"),
			3: []byte("common ancestor content"),
		}},
	}
	return e, id, root
}

func TestRevertEntryFetchesBaseAndRestoresMeta(t *testing.T) {
	e, id, root := newTestEngine(t)

	require.NoError(t, e.RevertEntry(context.Background(), id))

	data, err := os.ReadFile(filepath.Join(root, "a.txt"))
	require.NoError(t, err)
	assert.Equal(t, "remote content at rev 5", string(data))

	info, err := os.Stat(filepath.Join(root, "a.txt"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0644), info.Mode().Perm())
}

func TestRevertEntryNoURLIsSkipped(t *testing.T) {
	e, id, _ := newTestEngine(t)
	e.Tree.MustGet(id).URLId = entry.InvalidID

	err := e.RevertEntry(context.Background(), id)
	assert.ErrorIs(t, err, ErrNoURL)
}

func TestRevertEntryClearsUnversionFlag(t *testing.T) {
	e, id, _ := newTestEngine(t)
	e.Tree.MustGet(id).Flags |= entry.FlagUnversion

	require.NoError(t, e.RevertEntry(context.Background(), id))
	assert.False(t, e.Tree.MustGet(id).Flags.Has(entry.FlagUnversion))
}

func TestApplyUpdateCleanOverwriteUnderRemotePolicy(t *testing.T) {
	e, id, root := newTestEngine(t)
	e.Policy = PolicyRemote
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.txt"), []byte("local edit"), 0644))

	en := e.Tree.MustGet(id)
	en.EntryStatus = entry.StatusChanged
	en.RemoteStatus = entry.StatusChanged

	require.NoError(t, e.ApplyUpdate(context.Background(), id, 5))

	data, err := os.ReadFile(filepath.Join(root, "a.txt"))
	require.NoError(t, err)
	assert.Equal(t, "remote content at rev 5", string(data))
}

func TestApplyUpdateStopPolicyFailsOnConflict(t *testing.T) {
	e, id, _ := newTestEngine(t)
	e.Policy = PolicyStop

	en := e.Tree.MustGet(id)
	en.EntryStatus = entry.StatusChanged
	en.RemoteStatus = entry.StatusChanged

	err := e.ApplyUpdate(context.Background(), id, 5)
	assert.ErrorIs(t, err, ErrBusy)
}

func TestApplyUpdateBothPolicyProducesConflictArtifacts(t *testing.T) {
	e, id, root := newTestEngine(t)
	e.Policy = PolicyBoth
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.txt"), []byte("local edit"), 0644))

	en := e.Tree.MustGet(id)
	en.EntryStatus = entry.StatusChanged
	en.RemoteStatus = entry.StatusChanged

	require.NoError(t, e.ApplyUpdate(context.Background(), id, 7))

	mine, err := os.ReadFile(filepath.Join(root, "a.txt.mine"))
	require.NoError(t, err)
	assert.Equal(t, "local edit", string(mine))

	theirs, err := os.ReadFile(filepath.Join(root, "a.txt.r7"))
	require.NoError(t, err)
	assert.Equal(t, "remote content at rev 7", string(theirs))

	placeholder, err := os.ReadFile(filepath.Join(root, "a.txt"))
	require.NoError(t, err)
	assert.Empty(t, placeholder)

	assert.True(t, en.Flags.Has(entry.FlagConflict))

	cflctPath := e.Locator.Path(e.Tree.Path(id), "cflct")
	f, err := e.WAAFS.Open(cflctPath)
	require.NoError(t, err)
	artifacts, err := ReadConflictIndex(f)
	f.Close()
	require.NoError(t, err)
	assert.Equal(t, []string{"/a.txt.mine", "/a.txt.r7"}, artifacts)
}

func TestResolvedRemovesArtifactsAndClearsConflict(t *testing.T) {
	e, id, root := newTestEngine(t)
	e.Policy = PolicyBoth
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.txt"), []byte("local edit"), 0644))

	en := e.Tree.MustGet(id)
	en.EntryStatus = entry.StatusChanged
	en.RemoteStatus = entry.StatusChanged
	require.NoError(t, e.ApplyUpdate(context.Background(), id, 7))
	require.True(t, en.Flags.Has(entry.FlagConflict))

	require.NoError(t, e.Resolved(id))

	assert.False(t, en.Flags.Has(entry.FlagConflict))
	_, err := os.Stat(filepath.Join(root, "a.txt.mine"))
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(filepath.Join(root, "a.txt.r7"))
	assert.True(t, os.IsNotExist(err))
}

// writeMergeScript installs an executable shell script at dir/name and
// returns its path, for use as Engine.MergeCommand in the conflictMerge
// tests below.
func writeMergeScript(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	script := "#!/bin/sh\n" + body + "\n"
	require.NoError(t, os.WriteFile(path, []byte(script), 0755))
	return path
}

func TestConflictMergeCleanExitInstallsMergedFile(t *testing.T) {
	e, id, root := newTestEngine(t)
	e.Policy = PolicyMerge
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.txt"), []byte("local edit"), 0644))

	e.MergeCommand = writeMergeScript(t, t.TempDir(), "merge-clean.sh",
		`printf 'merged-content' > "$1"
exit 0`)

	en := e.Tree.MustGet(id)
	en.EntryStatus = entry.StatusChanged
	en.RemoteStatus = entry.StatusChanged

	require.NoError(t, e.ApplyUpdate(context.Background(), id, 7))

	data, err := os.ReadFile(filepath.Join(root, "a.txt"))
	require.NoError(t, err)
	assert.Equal(t, "merged-content", string(data))

	assert.False(t, en.Flags.Has(entry.FlagConflict))
	for _, suffix := range []string{".mine", ".r7", ".r5.common"} {
		_, err := os.Stat(filepath.Join(root, "a.txt"+suffix))
		assert.Truef(t, os.IsNotExist(err), "expected %s to be removed after a clean merge", suffix)
	}
}

func TestConflictMergeExitOneRecordsConflictArtifacts(t *testing.T) {
	e, id, root := newTestEngine(t)
	e.Policy = PolicyMerge
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.txt"), []byte("local edit"), 0644))

	e.MergeCommand = writeMergeScript(t, t.TempDir(), "merge-conflict.sh", "exit 1")

	en := e.Tree.MustGet(id)
	en.EntryStatus = entry.StatusChanged
	en.RemoteStatus = entry.StatusChanged

	err := e.ApplyUpdate(context.Background(), id, 7)
	assert.ErrorIs(t, err, ErrConflict)
	assert.True(t, en.Flags.Has(entry.FlagConflict))

	for _, suffix := range []string{".mine", ".r7", ".r5.common"} {
		_, statErr := os.Stat(filepath.Join(root, "a.txt"+suffix))
		assert.NoErrorf(t, statErr, "expected %s to remain after a conflicting merge", suffix)
	}

	cflctPath := e.Locator.Path(e.Tree.Path(id), "cflct")
	f, err := e.WAAFS.Open(cflctPath)
	require.NoError(t, err)
	artifacts, err := ReadConflictIndex(f)
	f.Close()
	require.NoError(t, err)
	assert.Equal(t, []string{"/a.txt.mine", "/a.txt.r5.common", "/a.txt.r7"}, artifacts)
}

func TestFindByPathResolvesNestedEntries(t *testing.T) {
	e, id, _ := newTestEngine(t)
	found, ok := findByPath(e.Tree, "/a.txt")
	require.True(t, ok)
	assert.Equal(t, id, found)

	_, ok = findByPath(e.Tree, "/missing.txt")
	assert.False(t, ok)
}
