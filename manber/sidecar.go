package manber

import (
	"bufio"
	"bytes"
	"encoding/hex"
	"fmt"
	"io"

	"github.com/pkg/errors"
)

// ErrCorruptSidecar is returned when a md5s sidecar line cannot be
// parsed.
var ErrCorruptSidecar = errors.New("manber: corrupt md5s sidecar")

// WriteSidecar serializes blocks in the "md5s" format of spec.md §4.3
// step 4: hex MD5, space, hex last_state, space, decimal start offset,
// space, decimal block length, newline.
func WriteSidecar(w io.Writer, blocks []Block) error {
	bw := bufio.NewWriter(w)
	for _, b := range blocks {
		if _, err := fmt.Fprintf(bw, "%s %08x %d %d\n", fmtHex(b.MD5[:]), b.LastState, b.Start, b.Length); err != nil {
			return errors.Wrap(err, "manber: write sidecar line")
		}
	}
	return bw.Flush()
}

// SidecarBlocks holds the three parallel arrays the reader side builds
// for cache friendliness (spec.md §4.3: "allocate three parallel arrays
// (hash[], md5[][16], end_offset[])").
type SidecarBlocks struct {
	Hash      []uint32
	MD5       [][16]byte
	EndOffset []int64
	Count     int
}

// ReadSidecar parses a md5s sidecar line-by-line.
func ReadSidecar(r io.Reader) (SidecarBlocks, error) {
	var out SidecarBlocks

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 256), 4096)
	for sc.Scan() {
		line := sc.Text()
		if line == "" {
			continue
		}
		var md5hex string
		var state uint32
		var start, length int64
		n, err := fmt.Sscanf(line, "%s %08x %d %d", &md5hex, &state, &start, &length)
		if err != nil || n != 4 {
			return SidecarBlocks{}, errors.Wrapf(ErrCorruptSidecar, "line %q", line)
		}

		raw, err := hex.DecodeString(md5hex)
		if err != nil || len(raw) != 16 {
			return SidecarBlocks{}, errors.Wrapf(ErrCorruptSidecar, "md5 in line %q", line)
		}

		var arr [16]byte
		copy(arr[:], raw)

		out.Hash = append(out.Hash, state)
		out.MD5 = append(out.MD5, arr)
		out.EndOffset = append(out.EndOffset, start+length)
		out.Count++
	}
	if err := sc.Err(); err != nil {
		return SidecarBlocks{}, errors.Wrap(err, "manber: scan sidecar")
	}
	return out, nil
}

// CompareResult is the outcome of comparing a freshly re-chunked file
// against its stored sidecar.
type CompareResult struct {
	Changed     bool
	MismatchIdx int
}

// CompareAgainstStored implements the comparison half of spec.md §4.3's
// compare-file fast path: it compares each fresh (last_state,
// end_offset, block_md5) triple to the stored one at the same index and
// returns at the first mismatch; differing block counts also count as
// changed.
//
// It works on two block lists already in memory (typically the output
// of a full Chunk() call, which always reads to EOF), so it does not
// stop the reading of the file early, and it does not mutate the stored
// MD5 (see MarkDiffers for that).
func CompareAgainstStored(stored SidecarBlocks, fresh []Block) CompareResult {
	n := stored.Count
	if len(fresh) < n {
		n = len(fresh)
	}
	for i := 0; i < n; i++ {
		if stored.Hash[i] != fresh[i].LastState ||
			stored.EndOffset[i] != fresh[i].End() ||
			!bytes.Equal(stored.MD5[i][:], fresh[i].MD5[:]) {
			return CompareResult{Changed: true, MismatchIdx: i}
		}
	}
	if stored.Count != len(fresh) {
		return CompareResult{Changed: true, MismatchIdx: n}
	}
	return CompareResult{Changed: false}
}

// MarkDiffers mutates one byte of a stored MD5 so that it is guaranteed
// to differ from its previous value — the cheap "flag as changed"
// marker spec.md §4.3 describes for the compare fast path, used so a
// subsequent read of the sidecar by another process immediately sees a
// mismatch without needing an extra "dirty" bit.
func MarkDiffers(md5 *[16]byte) {
	md5[0] ^= 0xff
}
