package entry

import (
	"bytes"
	"io"

	"github.com/pkg/errors"
)

// recordTerminator ends every record and the file itself (spec.md
// §4.4: "single line of space-separated ... fields followed by \0,
// then \n" and "the file ends with \0\n so that length-terminating
// parsers cannot run off the end").
var recordTerminator = []byte{0, '\n'}

// ReadDir parses a complete "dir" file and reconstructs its Tree.
//
// The source mmaps the file read-only; this module reads it fully into
// memory instead (billy.Filesystem exposes no mmap primitive, and a
// full read is observably equivalent for a format that must be parsed
// start-to-end regardless). All of the source's validation — header
// version and length, trailing terminator, child-index bounds, parent
// pointer range — is preserved, returning ErrTreeDamaged exactly where
// spec.md §4.4 calls for it.
func ReadDir(r io.Reader) (*Tree, error) {
	all, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.Wrap(err, "entry: read dir file")
	}
	if len(all) < headerLen {
		return nil, errors.Wrapf(ErrTreeDamaged, "file too short for header (%d bytes)", len(all))
	}

	header, err := decodeHeader(all[:headerLen])
	if err != nil {
		return nil, err
	}

	body := all[headerLen:]
	if !bytes.HasSuffix(body, recordTerminator) {
		return nil, errors.Wrap(ErrTreeDamaged, "missing trailing \\0\\n terminator")
	}

	lines := bytes.Split(body, recordTerminator)
	// The trailing terminator produces one empty element after the last
	// real record.
	if len(lines) == 0 || len(lines[len(lines)-1]) != 0 {
		return nil, errors.Wrap(ErrTreeDamaged, "non-terminated last record")
	}
	lines = lines[:len(lines)-1]

	if len(lines) != header.EntryCount {
		return nil, errors.Wrapf(ErrTreeDamaged, "record count %d != header entry count %d", len(lines), header.EntryCount)
	}

	t := &Tree{}
	remainingChildren := make([]int, 0, len(lines)) // per-entry: how many more children it expects

	for i, line := range lines {
		rec, err := decodeRecord(string(line))
		if err != nil {
			return nil, err
		}

		e := &Entry{
			id:     EntryId(i),
			Name:   rec.Name,
			Old:    InvalidID,
			URLId:  InvalidID,
			Flags:  rec.Flags & PersistentMask,
			ReposRev: rec.ReposRev,
		}
		e.Meta = Meta{
			Ino: rec.Ino, Dev: rec.Dev, Mode: rec.Mode,
			Uid: rec.Uid, Gid: rec.Gid,
			MtimeSec: rec.MtimeSec, MtimeNsec: rec.MtimeNsec,
			CtimeSec: rec.CtimeSec, CtimeNsec: rec.CtimeNsec,
		}
		if rec.URLID >= 0 {
			e.URLId = EntryId(rec.URLID)
		}

		switch rec.Kind {
		case contentMD5:
			e.Meta.Size = rec.SizeOrRdev
			b, err := hexBytes(rec.Content)
			if err != nil {
				return nil, errors.Wrapf(ErrTreeDamaged, "record %d: malformed md5 %q: %v", i+1, rec.Content, err)
			}
			if len(b) != 16 {
				return nil, errors.Wrapf(ErrTreeDamaged, "record %d: md5 %q decodes to %d bytes, want 16", i+1, rec.Content, len(b))
			}
			copy(e.MD5[:], b)
		case contentDev:
			e.Meta.Rdev = rec.SizeOrRdev
			if _, err := parseDev(rec.Content); err != nil {
				return nil, err
			}
		case contentLink:
			e.Decoder = rec.Content
		}

		if e.Meta.IsDir() {
			e.EntryCount = rec.EntryCount
		}

		if i == 0 {
			if rec.ParentPos != 0 {
				return nil, errors.Wrapf(ErrTreeDamaged, "root record has non-zero parent position %d", rec.ParentPos)
			}
			e.Parent = InvalidID
			t.root = e.id
		} else {
			if rec.ParentPos < 1 || rec.ParentPos > i {
				return nil, errors.Wrapf(ErrTreeDamaged, "out-of-range parent pointer %d at record %d", rec.ParentPos, i+1)
			}
			parentIdx := rec.ParentPos - 1
			parent := EntryId(parentIdx)
			e.Parent = parent

			if remainingChildren[parentIdx] <= 0 {
				return nil, errors.Wrapf(ErrTreeDamaged, "child-index overflow under parent record %d", rec.ParentPos)
			}
			remainingChildren[parentIdx]--

			parentEntry := t.arenaAt(parentIdx)
			parentEntry.ByInode = append(parentEntry.ByInode, e.id)
		}

		t.arena = append(t.arena, e)

		expect := 0
		if e.Meta.IsDir() {
			expect = e.EntryCount
		}
		remainingChildren = append(remainingChildren, expect)
	}

	return t, nil
}

// arenaAt is a read-time convenience accessor used while the arena is
// still being built incrementally (MustGet would also work once the
// whole slice exists, but this documents the "already emitted" bound).
func (t *Tree) arenaAt(i int) *Entry { return t.arena[i] }
