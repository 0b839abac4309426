package walk

import (
	"testing"

	"github.com/phmarek/fsvs-sub001/entry"
	"github.com/phmarek/fsvs-sub001/ignore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeFS is a tiny virtual filesystem keyed by tracked relative path,
// just enough to drive the Walker's Stat/ReadDir callbacks in tests.
type fakeFS struct {
	metas    map[string]entry.Meta
	children map[string][]DirEntry
}

func (f *fakeFS) stat(p string) (entry.Meta, bool, error) {
	m, ok := f.metas[p]
	return m, ok, nil
}

func (f *fakeFS) readDir(p string) ([]DirEntry, error) {
	return f.children[p], nil
}

func newFakeFS() *fakeFS {
	return &fakeFS{metas: map[string]entry.Meta{}, children: map[string][]DirEntry{}}
}

func TestFullTreeDispatchOrderIsChildrenBeforeParent(t *testing.T) {
	tr := entry.NewTree()
	root := tr.Root()
	d, err := tr.AddChild(root, "d", entry.Meta{Mode: entry.ModeDirectory | 0755, Ino: 1})
	require.NoError(t, err)
	f, err := tr.AddChild(d, "f.txt", entry.Meta{Mode: entry.ModeRegular | 0644, Ino: 2})
	require.NoError(t, err)

	fs := newFakeFS()
	fs.metas["/"] = tr.MustGet(root).Meta
	fs.metas["/d"] = tr.MustGet(d).Meta
	fs.metas["/d/f.txt"] = tr.MustGet(f).Meta

	var order []string
	w := New(tr, Options{
		Stat: fs.stat,
		Action: func(tr *entry.Tree, id entry.EntryId) error {
			if name := tr.MustGet(id).Name; name != "" {
				order = append(order, name)
			}
			return nil
		},
		Filter: entry.StatusAllPass,
	})
	require.NoError(t, w.Run())

	assert.Equal(t, []string{"f.txt", "d"}, order)
}

func TestSelectionGatesWhichEntriesAreVisited(t *testing.T) {
	tr := entry.NewTree()
	root := tr.Root()
	a, err := tr.AddChild(root, "a", entry.Meta{Mode: entry.ModeRegular | 0644})
	require.NoError(t, err)
	_, err = tr.AddChild(root, "b", entry.Meta{Mode: entry.ModeRegular | 0644})
	require.NoError(t, err)

	fs := newFakeFS()
	fs.metas["/"] = tr.MustGet(root).Meta
	fs.metas["/a"] = tr.MustGet(a).Meta

	var visited []string
	w := New(tr, Options{
		Stat:     fs.stat,
		Selected: []entry.EntryId{a},
		Action: func(tr *entry.Tree, id entry.EntryId) error {
			if name := tr.MustGet(id).Name; name != "" {
				visited = append(visited, name)
			}
			return nil
		},
		Filter: entry.StatusAllPass,
	})
	require.NoError(t, w.Run())

	assert.Equal(t, []string{"a"}, visited)
}

func TestRemovedEntryPropagatesWithoutStat(t *testing.T) {
	tr := entry.NewTree()
	root := tr.Root()
	d, err := tr.AddChild(root, "d", entry.Meta{Mode: entry.ModeDirectory | 0755})
	require.NoError(t, err)
	_, err = tr.AddChild(d, "f.txt", entry.Meta{Mode: entry.ModeRegular | 0644})
	require.NoError(t, err)

	fs := newFakeFS() // "/d" (and everything under it) absent entirely
	fs.metas["/"] = tr.MustGet(root).Meta

	var statuses []entry.StatusFlags
	w := New(tr, Options{
		Stat: fs.stat,
		Action: func(tr *entry.Tree, id entry.EntryId) error {
			if tr.MustGet(id).Name != "" {
				statuses = append(statuses, tr.MustGet(id).EntryStatus)
			}
			return nil
		},
		Filter: entry.StatusAllPass,
	})
	require.NoError(t, w.Run())

	require.Len(t, statuses, 2)
	for _, s := range statuses {
		assert.True(t, s.Has(entry.StatusRemoved))
	}
}

func TestEnumerationAddsNewEntriesAndSkipsIgnored(t *testing.T) {
	tr := entry.NewTree()
	root := tr.Root()

	fs := newFakeFS()
	fs.metas["/"] = tr.MustGet(root).Meta
	fs.children["/"] = []DirEntry{
		{Name: "keep.go", Meta: entry.Meta{Mode: entry.ModeRegular | 0644}},
		{Name: "skip.tmp", Meta: entry.Meta{Mode: entry.ModeRegular | 0644}},
	}

	matcher := &ignore.Matcher{Patterns: []ignore.Pattern{
		ignore.Compile("*.tmp", ignore.KindIgnore),
	}}

	var added []string
	w := New(tr, Options{
		Stat:    fs.stat,
		ReadDir: fs.readDir,
		Matcher: matcher,
		Action: func(tr *entry.Tree, id entry.EntryId) error {
			if tr.MustGet(id).EntryStatus.Has(entry.StatusNew) {
				added = append(added, tr.MustGet(id).Name)
			}
			return nil
		},
		Filter: entry.StatusAllPass,
	})
	require.NoError(t, w.Run())

	assert.Equal(t, []string{"keep.go"}, added)
}
