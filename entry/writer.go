package entry

import (
	"bytes"
	"container/heap"
	"io"

	"github.com/pkg/errors"
)

// iterEntry is one "directory iterator" from spec.md §4.4's write
// algorithm: a cursor into one directory's (already exclusion-filtered)
// inode-sorted child list, plus the file position already assigned to
// that directory (reused as the parent reference for every child it
// writes).
type iterEntry struct {
	parentPos int
	children  []EntryId
	idx       int
}

// iterHeap is the "working array of directory iterators", kept as a
// min-heap on the current child's (device, inode) so picking the
// globally smallest next child across every open directory is
// O(log n) rather than a linear scan.
type iterHeap struct {
	t     *Tree
	items []*iterEntry
}

func (h *iterHeap) Len() int { return len(h.items) }
func (h *iterHeap) Less(i, j int) bool {
	a := h.t.MustGet(h.items[i].children[h.items[i].idx])
	b := h.t.MustGet(h.items[j].children[h.items[j].idx])
	if a.Meta.Dev != b.Meta.Dev {
		return a.Meta.Dev < b.Meta.Dev
	}
	if a.Meta.Ino != b.Meta.Ino {
		return a.Meta.Ino < b.Meta.Ino
	}
	return a.Name < b.Name
}
func (h *iterHeap) Swap(i, j int) { h.items[i], h.items[j] = h.items[j], h.items[i] }
func (h *iterHeap) Push(x any)    { h.items = append(h.items, x.(*iterEntry)) }
func (h *iterHeap) Pop() any {
	old := h.items
	n := len(old)
	it := old[n-1]
	h.items = old[:n-1]
	return it
}

// WriteDir serializes t to w as a complete "dir" file: header, then
// every record in the disk order of spec.md §4.4 (root first, then
// every child after its parent, ascending-inode within each directory,
// 1-based file positions reused as parent references), then the
// trailing "\0\n" terminator.
//
// excluded, when non-nil, reports whether an entry should be dropped
// from serialization (spec.md §3 invariant: entries marked ToBeIgnored
// or FlagDontWrite are excluded).
func (t *Tree) WriteDir(w io.Writer, excluded func(*Entry) bool) error {
	if excluded == nil {
		excluded = func(*Entry) bool { return false }
	}

	root := t.MustGet(t.root)
	if excluded(root) {
		return errors.New("entry: root entry cannot be excluded from serialization")
	}

	var body bytes.Buffer
	filePos := make(map[EntryId]int, t.Len())
	var entryCount, dirCount, nameBytes, maxPath int

	writeOne := func(e *Entry, parentPos int) (int, error) {
		entryCount++
		if e.IsDir() {
			dirCount++
		}
		nameBytes += len(e.Name)
		if p := len(t.Path(e.id)); p > maxPath {
			maxPath = p
		}

		if _, err := body.Write(encodeRecord(toRecord(e, parentPos))); err != nil {
			return 0, errors.Wrapf(err, "entry: write record for %q", e.Name)
		}
		filePos[e.id] = entryCount
		return entryCount, nil
	}

	rootPos, err := writeOne(root, 0)
	if err != nil {
		return err
	}

	h := &iterHeap{t: t}
	heap.Init(h)

	visibleChildrenOf := func(dir *Entry) []EntryId {
		if dir.ToBeSorted {
			t.SortChildren(dir.id)
		}
		visible := make([]EntryId, 0, len(dir.ByInode))
		for _, c := range dir.ByInode {
			if !excluded(t.MustGet(c)) {
				visible = append(visible, c)
			}
		}
		return visible
	}

	if visible := visibleChildrenOf(root); len(visible) > 0 {
		heap.Push(h, &iterEntry{parentPos: rootPos, children: visible})
	}

	for h.Len() > 0 {
		top := h.items[0]
		childID := top.children[top.idx]
		child := t.MustGet(childID)

		pos, err := writeOne(child, top.parentPos)
		if err != nil {
			return err
		}

		if top.idx+1 < len(top.children) {
			top.idx++
			heap.Fix(h, 0)
		} else {
			heap.Pop(h)
		}

		if child.IsDir() {
			if visible := visibleChildrenOf(child); len(visible) > 0 {
				heap.Push(h, &iterEntry{parentPos: pos, children: visible})
			}
		}
	}

	header := encodeHeader(Header{
		Version:    HeaderVersion,
		EntryCount: entryCount,
		DirCount:   dirCount,
		NameBytes:  nameBytes,
		MaxPathLen: maxPath,
	})

	if _, err := w.Write(header); err != nil {
		return errors.Wrap(err, "entry: write header")
	}
	if _, err := w.Write(body.Bytes()); err != nil {
		return errors.Wrap(err, "entry: write body")
	}
	if _, err := w.Write([]byte{0, '\n'}); err != nil {
		return errors.Wrap(err, "entry: write trailer")
	}
	return nil
}

func toRecord(e *Entry, parentPos int) record {
	r := record{
		Ino:        e.Meta.Ino,
		Dev:        e.Meta.Dev,
		Mode:       e.Meta.Mode,
		Uid:        e.Meta.Uid,
		Gid:        e.Meta.Gid,
		MtimeSec:   e.Meta.MtimeSec,
		MtimeNsec:  e.Meta.MtimeNsec,
		CtimeSec:   e.Meta.CtimeSec,
		CtimeNsec:  e.Meta.CtimeNsec,
		ReposRev:   e.ReposRev,
		URLID:      -1,
		ParentPos:  parentPos,
		EntryCount: 0,
		Flags:      e.Flags & PersistentMask,
		Kind:       contentNone,
		Content:    "",
		Name:       e.Name,
	}
	if e.URLId != InvalidID {
		r.URLID = int64(e.URLId)
	}

	switch {
	case e.Meta.IsDir():
		r.EntryCount = e.EntryCount
	case e.Meta.IsRegular():
		r.SizeOrRdev = e.Meta.Size
		r.Kind = contentMD5
		r.Content = hexString(e.MD5[:])
	case e.Meta.IsDevice():
		r.SizeOrRdev = e.Meta.Rdev
		r.Kind = contentDev
		r.Content = devString(e.Meta.Rdev)
	case e.Meta.IsSymlink():
		r.Kind = contentLink
		r.Content = e.Decoder // symlink target stashed in Decoder for leaf entries
	}
	return r
}
