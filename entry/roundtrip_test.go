package entry

import (
	"bytes"
	"crypto/md5"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildSampleTree(t *testing.T) *Tree {
	t.Helper()
	tree := NewTree()
	root := tree.Root()

	a, err := tree.AddChild(root, "a.txt", Meta{Mode: ModeRegular | 0644, Dev: 1, Ino: 10, Size: 3})
	require.NoError(t, err)
	b, err := tree.AddChild(root, "b.txt", Meta{Mode: ModeRegular | 0644, Dev: 1, Ino: 5, Size: 4})
	require.NoError(t, err)
	sub, err := tree.AddChild(root, "sub", Meta{Mode: ModeDirectory | 0755, Dev: 1, Ino: 7})
	require.NoError(t, err)
	_, err = tree.AddChild(sub, "c.txt", Meta{Mode: ModeRegular | 0644, Dev: 1, Ino: 3})
	require.NoError(t, err)

	tree.MustGet(a).MD5 = md5.Sum([]byte("aaa"))
	tree.MustGet(b).MD5 = md5.Sum([]byte("bbbb"))

	tree.SortChildren(root)
	tree.SortChildren(sub)
	return tree
}

func TestWriteThenReadRoundTrip(t *testing.T) {
	tree := buildSampleTree(t)

	var buf bytes.Buffer
	require.NoError(t, tree.WriteDir(&buf, nil))

	got, err := ReadDir(&buf)
	require.NoError(t, err)

	assert.Equal(t, tree.Len(), got.Len())

	rootPath := got.Path(got.Root())
	assert.Equal(t, "/", rootPath)

	root := got.MustGet(got.Root())
	require.Len(t, root.ByInode, 3)

	// Children attach in ascending-inode order: b(5), sub(7), a(10).
	names := []string{
		got.MustGet(root.ByInode[0]).Name,
		got.MustGet(root.ByInode[1]).Name,
		got.MustGet(root.ByInode[2]).Name,
	}
	assert.Equal(t, []string{"b.txt", "sub", "a.txt"}, names)

	for _, id := range root.ByInode {
		e := got.MustGet(id)
		if e.Name == "a.txt" {
			assert.Equal(t, md5.Sum([]byte("aaa")), e.MD5)
			assert.Equal(t, uint64(3), e.Meta.Size)
		}
	}

	sub := got.MustGet(root.ByInode[1])
	require.True(t, sub.IsDir())
	require.Len(t, sub.ByInode, 1)
	assert.Equal(t, "c.txt", got.MustGet(sub.ByInode[0]).Name)
	assert.Equal(t, "/sub/c.txt", got.Path(sub.ByInode[0]))
}

func TestWriteDirExcludesFilteredEntries(t *testing.T) {
	tree := buildSampleTree(t)
	root := tree.Root()

	var excludedName string
	for _, id := range tree.MustGet(root).ByInode {
		if tree.MustGet(id).Name == "a.txt" {
			excludedName = "a.txt"
		}
	}
	require.Equal(t, "a.txt", excludedName)

	var buf bytes.Buffer
	err := tree.WriteDir(&buf, func(e *Entry) bool { return e.Name == "a.txt" })
	require.NoError(t, err)

	got, err := ReadDir(&buf)
	require.NoError(t, err)

	for _, id := range got.MustGet(got.Root()).ByInode {
		assert.NotEqual(t, "a.txt", got.MustGet(id).Name)
	}
}

func TestReadDirRejectsBadVersion(t *testing.T) {
	tree := NewTree()
	var buf bytes.Buffer
	require.NoError(t, tree.WriteDir(&buf, nil))

	raw := buf.Bytes()
	raw[0] = '9'
	_, err := ReadDir(bytes.NewReader(raw))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTreeDamaged)
}

func TestReadDirRejectsMissingTerminator(t *testing.T) {
	tree := NewTree()
	var buf bytes.Buffer
	require.NoError(t, tree.WriteDir(&buf, nil))

	raw := buf.Bytes()
	raw = raw[:len(raw)-1] // drop trailing \n

	_, err := ReadDir(bytes.NewReader(raw))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTreeDamaged)
}

func TestReadDirRejectsEntryCountMismatch(t *testing.T) {
	tree := buildSampleTree(t)
	var buf bytes.Buffer
	require.NoError(t, tree.WriteDir(&buf, nil))

	header, err := decodeHeader(buf.Bytes()[:headerLen])
	require.NoError(t, err)
	header.EntryCount++
	badHeader := encodeHeader(header)

	raw := append(append([]byte{}, badHeader...), buf.Bytes()[headerLen:]...)
	_, err = ReadDir(bytes.NewReader(raw))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTreeDamaged)
}
