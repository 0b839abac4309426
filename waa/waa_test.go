package waa

import (
	"io"
	"testing"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/memfs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocatorEntryDirShape(t *testing.T) {
	l := NewLocator("/waa", "", "/tmp/wc")

	dir := l.EntryDir("/etc/hosts", true)
	assert.Contains(t, dir, "/waa/"+l.WCPrefix+"/")

	sum := l.Hash("/etc/hosts")
	assert.Len(t, sum, 16)
	assert.Len(t, l.WCPrefix, 32)
}

func TestTwoWorkingCopiesDoNotCollide(t *testing.T) {
	// spec.md §8 scenario 6: two unrelated WCs sharing a relative path
	// must hash to disjoint WAA storage.
	a := NewLocator("/waa", "", "/a/wc")
	b := NewLocator("/waa", "", "/b/wc")

	pathA := a.Path("/a/wc/etc/hosts", "md5s")
	pathB := b.Path("/b/wc/etc/hosts", "md5s")

	assert.NotEqual(t, pathA, pathB)
	assert.NotEqual(t, a.WCPrefix, b.WCPrefix)
}

func TestLocatorSoftRoot(t *testing.T) {
	l := &Locator{Root: "/waa", SoftRoot: "/mnt/target"}
	withPrefix := l.Hash("/mnt/target/etc/hosts")
	direct := l.Hash("/etc/hosts")
	assert.Equal(t, direct, withPrefix)
}

func TestAtomicWriterCommitAndAbort(t *testing.T) {
	fs := memfs.New()

	w, err := Open(fs, "/waa/aa/bb/entry/md5s", OpenFlags{Create: true, Truncate: true, WriteOnly: true})
	require.NoError(t, err)
	_, err = w.Write([]byte("hello"))
	require.NoError(t, err)
	require.NoError(t, w.Close(true))

	data, err := readAll(fs, "/waa/aa/bb/entry/md5s")
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))

	// Aborted write must not touch the final file, and must leave no
	// visible temp artifact under the final name.
	w2, err := Open(fs, "/waa/aa/bb/entry/md5s", OpenFlags{Create: true, Truncate: true, WriteOnly: true})
	require.NoError(t, err)
	_, err = w2.Write([]byte("corrupt"))
	require.NoError(t, err)
	require.NoError(t, w2.Close(false))

	data, err = readAll(fs, "/waa/aa/bb/entry/md5s")
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data), "aborted write must not clobber prior content")
}

func TestAtomicWriterDistinctTempNames(t *testing.T) {
	fs := memfs.New()
	w1, err := Open(fs, "/waa/x/dir", OpenFlags{Create: true, WriteOnly: true})
	require.NoError(t, err)
	w2, err := Open(fs, "/waa/x/dir", OpenFlags{Create: true, WriteOnly: true})
	require.NoError(t, err)

	assert.NotEqual(t, w1.tempPath, w2.tempPath)

	require.NoError(t, w1.Close(true))
	require.ErrorIs(t, w2.Close(true), ErrBusy)
}

func readAll(fs billy.Filesystem, path string) ([]byte, error) {
	f, err := fs.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	return io.ReadAll(f)
}
