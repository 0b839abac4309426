package manber

import (
	"bytes"
	"crypto/md5"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChunkUniformFileSingleBlock(t *testing.T) {
	// spec.md §8 scenario 2: a 256 KiB file of 0x41 produces exactly one
	// block, and its full MD5 matches the direct MD5 of the same bytes.
	data := bytes.Repeat([]byte{0x41}, 256*1024)

	res, err := Chunk(bytes.NewReader(data))
	require.NoError(t, err)

	assert.Len(t, res.Blocks, 1)
	assert.EqualValues(t, len(data), res.Size)
	assert.Equal(t, md5.Sum(data), res.FileMD5)
}

func TestChunkDeterministic(t *testing.T) {
	data := pseudoRandom(3*1024*1024 + 17)

	r1, err := Chunk(bytes.NewReader(data))
	require.NoError(t, err)
	r2, err := Chunk(bytes.NewReader(data))
	require.NoError(t, err)

	require.Equal(t, len(r1.Blocks), len(r2.Blocks))
	for i := range r1.Blocks {
		assert.Equal(t, r1.Blocks[i], r2.Blocks[i])
	}
	assert.Equal(t, r1.FileMD5, r2.FileMD5)
}

func TestChunkLocality(t *testing.T) {
	// spec.md §8: changing one byte affects only the blocks whose range
	// intersects [k-W, k], plus at most one subsequent block.
	data := pseudoRandom(2 * 1024 * 1024)
	base, err := Chunk(bytes.NewReader(data))
	require.NoError(t, err)
	require.Greater(t, len(base.Blocks), 2, "need a multi-block file to test locality")

	k := len(data) / 2
	mutated := append([]byte(nil), data...)
	mutated[k] ^= 0xff

	changed, err := Chunk(bytes.NewReader(mutated))
	require.NoError(t, err)

	// find the block(s) touching k in the base chunking
	touched := 0
	for _, b := range base.Blocks {
		if int64(k) >= b.Start-Window && int64(k) <= b.End() {
			touched++
		}
	}
	assert.Greater(t, touched, 0)

	// Blocks that end more than 2*Window bytes before k must be
	// byte-identical between the two chunkings; blocks after k are not
	// compared here.
	var farBase, farChanged []Block
	for i, b := range base.Blocks {
		if b.End() < int64(k)-2*Window && i < len(changed.Blocks) {
			farBase = append(farBase, b)
			farChanged = append(farChanged, changed.Blocks[i])
		}
	}
	for i := range farBase {
		assert.Equal(t, farBase[i], farChanged[i], "block %d far from the mutation should be unaffected", i)
	}
}

func TestSparseFileOneBlockPerRegion(t *testing.T) {
	// spec.md §8 scenario 5.
	zeros1 := make([]byte, 5*1024*1024)
	middle := pseudoRandom(1024 * 1024)
	zeros2 := make([]byte, 4*1024*1024)

	var buf bytes.Buffer
	buf.Write(zeros1)
	buf.Write(middle)
	buf.Write(zeros2)

	res, err := Chunk(&buf)
	require.NoError(t, err)
	require.NotEmpty(t, res.Blocks)

	// The very first block must be the all-zero leading run, with the
	// well-known MD5 of that many zero bytes.
	first := res.Blocks[0]
	assert.EqualValues(t, 0, first.Start)
	assert.EqualValues(t, len(zeros1), first.Length)
	assert.Equal(t, md5.Sum(zeros1), first.MD5)
}

func TestSidecarRoundTrip(t *testing.T) {
	data := pseudoRandom(1024 * 1024)
	res, err := Chunk(bytes.NewReader(data))
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, WriteSidecar(&buf, res.Blocks))

	parsed, err := ReadSidecar(&buf)
	require.NoError(t, err)
	require.Equal(t, len(res.Blocks), parsed.Count)

	for i, b := range res.Blocks {
		assert.Equal(t, b.LastState, parsed.Hash[i])
		assert.Equal(t, b.MD5, parsed.MD5[i])
		assert.Equal(t, b.End(), parsed.EndOffset[i])
	}
}

func TestCompareAgainstStoredDetectsChange(t *testing.T) {
	data := pseudoRandom(1024 * 1024)
	base, err := Chunk(bytes.NewReader(data))
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, WriteSidecar(&buf, base.Blocks))
	stored, err := ReadSidecar(&buf)
	require.NoError(t, err)

	cmp := CompareAgainstStored(stored, base.Blocks)
	assert.False(t, cmp.Changed)

	mutated := append([]byte(nil), data...)
	mutated[len(mutated)/2] ^= 1
	changed, err := Chunk(bytes.NewReader(mutated))
	require.NoError(t, err)

	cmp = CompareAgainstStored(stored, changed.Blocks)
	assert.True(t, cmp.Changed)
}

func TestMarkDiffersChangesValue(t *testing.T) {
	orig := md5.Sum([]byte("hello"))
	marked := orig
	MarkDiffers(&marked)
	assert.NotEqual(t, orig, marked)
}

// pseudoRandom returns deterministic, non-repeating filler bytes without
// depending on math/rand's seeding so tests stay reproducible.
func pseudoRandom(n int) []byte {
	out := make([]byte, n)
	var x uint32 = 0x2545F491
	for i := range out {
		x ^= x << 13
		x ^= x >> 17
		x ^= x << 5
		out[i] = byte(x)
	}
	return out
}
