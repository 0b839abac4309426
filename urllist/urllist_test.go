package urllist

import (
	"bytes"
	"testing"

	"github.com/phmarek/fsvs-sub001/entry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestListSortedByPriority(t *testing.T) {
	l := NewList()
	l.Add(URL{ID: entry.InvalidID, Target: "file:///low", Priority: 10})
	l.Add(URL{ID: entry.InvalidID, Target: "file:///high", Priority: 1})

	sorted := l.Sorted()
	require.Len(t, sorted, 2)
	assert.Equal(t, "file:///high", sorted[0].Target)
	assert.Equal(t, "file:///low", sorted[1].Target)
}

func TestWriteReadURLsRoundTrip(t *testing.T) {
	urls := []URL{
		{ID: 0, Priority: 0, TargetRev: entry.SetRevnum, Target: "file:///repo/trunk"},
		{ID: 1, Priority: 5, TargetRev: 42, Target: "file:///repo/branches/stable"},
	}

	var buf bytes.Buffer
	require.NoError(t, WriteURLs(&buf, urls))

	got, err := ReadURLs(&buf)
	require.NoError(t, err)
	assert.Equal(t, urls, got)
}

func TestReadURLsRejectsMissingTerminator(t *testing.T) {
	_, err := ReadURLs(bytes.NewBufferString("0 0 0 file:///repo"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCorrupt)
}

func TestWriteReadRevsRoundTrip(t *testing.T) {
	revs := map[entry.EntryId]RevState{
		0: {Current: 10, Head: 12},
		1: {Current: 3, Head: 3},
	}

	var buf bytes.Buffer
	require.NoError(t, WriteRevs(&buf, revs))

	got, err := ReadRevs(&buf)
	require.NoError(t, err)
	assert.Equal(t, revs, got)
}

func TestCopyRelationsRoundTrip(t *testing.T) {
	relations := map[string]string{
		"/wc/new-name.txt": "/wc/old name with spaces.txt",
		"/wc/other.txt":    "/wc/source.txt",
	}

	var buf bytes.Buffer
	require.NoError(t, WriteCopyRelations(&buf, relations))

	got, err := ReadCopyRelations(&buf)
	require.NoError(t, err)
	assert.Equal(t, relations, got)
}

func TestCopyRelationsEmptyFile(t *testing.T) {
	got, err := ReadCopyRelations(bytes.NewReader(nil))
	require.NoError(t, err)
	assert.Empty(t, got)
}
