// Package manber implements the Manber Chunker (spec.md §4.3): a
// streaming rolling-hash block splitter used to detect which ~128 KiB
// regions of a file changed since the last commit, plus the "md5s"
// sidecar file format that records one line per block.
package manber

import (
	"crypto/md5"
	"fmt"
	"io"

	"github.com/pkg/errors"
)

// Block is one content-defined chunk of a file, as recorded in a line
// of the "md5s" sidecar.
type Block struct {
	MD5       [16]byte
	LastState uint32
	Start     int64
	Length    int64
}

// End returns the exclusive end offset of the block.
func (b Block) End() int64 { return b.Start + b.Length }

// Result is the full output of chunking one file.
type Result struct {
	Blocks  []Block
	FileMD5 [16]byte
	Size    int64
}

// chunkState is the streaming state machine of spec.md §4.3: rolling
// hash, backtrack ring buffer, block/full MD5 contexts, and the
// "any-non-zero-byte-seen" flag that drives the sparse-file
// optimization.
type chunkState struct {
	fullMD5  hashWriter
	blockMD5 hashWriter

	rolling    uint32
	lastState  uint32
	ring       [Window]byte
	ringPos    int
	bytesIn    int
	pos        int64
	blockStart int64
	dataSeen   bool

	blocks []Block
}

type hashWriter = interface {
	io.Writer
	Sum([]byte) []byte
	Reset()
}

func newChunkState() *chunkState {
	return &chunkState{fullMD5: md5.New(), blockMD5: md5.New()}
}

func (c *chunkState) emitBlock(endPos int64) {
	sum := c.blockMD5.Sum(nil)
	var arr [16]byte
	copy(arr[:], sum)
	c.blocks = append(c.blocks, Block{
		MD5:       arr,
		LastState: c.lastState,
		Start:     c.blockStart,
		Length:    endPos - c.blockStart,
	})
	c.blockMD5.Reset()
	c.blockStart = endPos
}

func (c *chunkState) resetWindow() {
	c.rolling = 0
	c.bytesIn = 0
	c.ringPos = 0
}

// feed processes one input byte, per the algorithm in spec.md §4.3.
func (c *chunkState) feed(b byte) {
	single := [1]byte{b}
	c.fullMD5.Write(single[:])

	if !c.dataSeen {
		if b == 0 {
			c.blockMD5.Write(single[:])
			c.pos++
			return
		}
		// Step 3: the zero run ends here; close it as its own block (an
		// all-zero MD5) unless the file started with a non-zero byte, in
		// which case there is nothing to close yet.
		if c.pos > c.blockStart {
			c.lastState = 0
			c.emitBlock(c.pos)
		}
		c.dataSeen = true
		c.resetWindow()
		// fall through: b is processed below as the first byte of a fresh
		// window fill.
	}

	c.blockMD5.Write(single[:])

	if c.bytesIn < Window {
		c.rolling = c.rolling*Prime + uint32(b)
		c.ring[c.ringPos] = b
		c.ringPos = (c.ringPos + 1) % Window
		c.bytesIn++
		c.pos++
		return
	}

	outgoing := c.ring[c.ringPos]
	c.rolling = c.rolling*Prime + uint32(b) - powerTable[outgoing]
	c.ring[c.ringPos] = b
	c.ringPos = (c.ringPos + 1) % Window
	c.pos++

	if c.rolling&BitMask == 0 {
		c.lastState = c.rolling
		c.emitBlock(c.pos)
		c.resetWindow()
	}
}

// Chunk streams r through the Manber Chunker and returns the resulting
// blocks plus the whole-file MD5, computed in one pass.
func Chunk(r io.Reader) (Result, error) {
	c := newChunkState()

	buf := make([]byte, 64*1024)
	for {
		n, err := r.Read(buf)
		for i := 0; i < n; i++ {
			c.feed(buf[i])
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return Result{}, errors.Wrap(err, "manber: read")
		}
	}

	if c.pos > c.blockStart {
		c.emitBlock(c.pos)
	}

	var res Result
	res.Blocks = c.blocks
	res.Size = c.pos
	copy(res.FileMD5[:], c.fullMD5.Sum(nil))
	return res, nil
}

// ShouldKeepSidecar reports whether a file of the given size is large
// enough to justify keeping its md5s sidecar (spec.md §4.3 step 5: "If
// total length is below a minimum threshold, delete the
// partially-written md5s file").
func ShouldKeepSidecar(size, minSize int64) bool {
	return size >= minSize
}

// fmtHex is used by sidecar.go and tests; kept here so the textual
// sidecar format and the chunker that produces its inputs live next to
// each other.
func fmtHex(b []byte) string {
	return fmt.Sprintf("%x", b)
}
