package entry

import (
	"sort"

	"github.com/pkg/errors"
)

// ErrNotFound mirrors spec.md §7's NotFound kind for lookups against the
// arena (e.g. a child that was never added, a path that resolves to
// nothing).
var ErrNotFound = errors.New("entry: not found")

// ErrTreeDamaged mirrors spec.md §7's TreeDamaged kind: a structural
// violation discovered while reading or traversing a "dir" file.
var ErrTreeDamaged = errors.New("entry: tree damaged")

// Tree is the in-memory arena of Entry values (spec.md §4.4). Entries
// are addressed by EntryId rather than by pointer, per spec.md §9's
// design note.
type Tree struct {
	arena []*Entry
	root  EntryId
}

// NewTree creates a Tree containing only its root entry.
func NewTree() *Tree {
	t := &Tree{}
	root := &Entry{Parent: InvalidID, Old: InvalidID, URLId: InvalidID}
	root.Meta.Mode = ModeDirectory | 0755
	t.arena = append(t.arena, root)
	root.id = 0
	t.root = 0
	return t
}

// Root returns the id of the tree's single root entry (spec.md §3
// invariant: "exactly one root").
func (t *Tree) Root() EntryId { return t.root }

// Get returns the Entry for id, or nil if id is out of range.
func (t *Tree) Get(id EntryId) *Entry {
	if int(id) < 0 || int(id) >= len(t.arena) {
		return nil
	}
	return t.arena[id]
}

// MustGet returns the Entry for id, panicking if it does not exist —
// used only where the caller has already established id's validity as
// an internal invariant (spec.md §7 BugAssert).
func (t *Tree) MustGet(id EntryId) *Entry {
	e := t.Get(id)
	if e == nil {
		panic("entry: BugAssert: dereferenced invalid EntryId")
	}
	return e
}

// Len reports the number of entries currently live in the arena
// (including logically-removed-but-not-yet-swept ones).
func (t *Tree) Len() int { return len(t.arena) }

// AddChild creates a new entry under parent and appends it to the
// parent's by-inode child list (the caller re-sorts via SortChildren
// once all of a directory's children for this pass are known).
func (t *Tree) AddChild(parent EntryId, name string, meta Meta) (EntryId, error) {
	p := t.Get(parent)
	if p == nil {
		return InvalidID, errors.Wrapf(ErrNotFound, "parent %d", parent)
	}
	if !p.IsDir() {
		return InvalidID, errors.Errorf("entry: parent %d is not a directory", parent)
	}

	e := &Entry{
		Parent: parent,
		Name:   name,
		Meta:   meta,
		Old:    InvalidID,
		URLId:  InvalidID,
	}
	id := EntryId(len(t.arena))
	e.id = id
	t.arena = append(t.arena, e)

	p.ByInode = append(p.ByInode, id)
	p.nameSorted = false
	p.ToBeSorted = true
	p.EntryCount++
	return id, nil
}

// SortChildren sorts a directory's ByInode list by (device, inode), the
// Tree's invariant primary order (spec.md §3). Hardlinks — entries
// sharing (device, inode) — keep a deterministic secondary order by
// name, so serialization stays reproducible (spec.md §9 design note).
func (t *Tree) SortChildren(dir EntryId) {
	d := t.MustGet(dir)
	if !d.ToBeSorted {
		return
	}

	children := d.ByInode
	sort.Slice(children, func(i, j int) bool {
		a, b := t.MustGet(children[i]), t.MustGet(children[j])
		if a.Meta.Dev != b.Meta.Dev {
			return a.Meta.Dev < b.Meta.Dev
		}
		if a.Meta.Ino != b.Meta.Ino {
			return a.Meta.Ino < b.Meta.Ino
		}
		return a.Name < b.Name
	})
	d.ToBeSorted = false
}

// ByNameView returns (and caches) a directory's children ordered by
// name, used by the Directory Enumerator's correlation pass (spec.md
// §4.6).
func (t *Tree) ByNameView(dir EntryId) []EntryId {
	d := t.MustGet(dir)
	if d.nameSorted {
		return d.byName
	}

	names := append([]EntryId(nil), d.ByInode...)
	sort.Slice(names, func(i, j int) bool {
		return t.MustGet(names[i]).Name < t.MustGet(names[j]).Name
	})
	d.byName = names
	d.nameSorted = true
	return names
}

// Remove logically removes id from its parent's child lists. If
// keepChildren is false and id is a directory, its descendants are
// removed too (spec.md §3 lifecycle: "logically removed and
// keep_children is not requested").
func (t *Tree) Remove(id EntryId, keepChildren bool) error {
	e := t.Get(id)
	if e == nil {
		return errors.Wrapf(ErrNotFound, "entry %d", id)
	}
	if e.Parent == InvalidID {
		return errors.New("entry: cannot remove the root")
	}

	parent := t.MustGet(e.Parent)
	parent.ByInode = removeID(parent.ByInode, id)
	parent.byName = nil
	parent.nameSorted = false
	parent.EntryCount--

	if e.IsDir() && !keepChildren {
		for _, c := range append([]EntryId(nil), e.ByInode...) {
			if err := t.Remove(c, false); err != nil {
				return err
			}
		}
	}
	return nil
}

func removeID(list []EntryId, id EntryId) []EntryId {
	out := list[:0]
	for _, v := range list {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}

// Snapshot copies e into the shadow arena and records it as e's Old
// pointer, replacing any existing shadow (spec.md §3: "a shadow pointer
// old to a copy taken at the moment of replacement/removal").
func (t *Tree) Snapshot(id EntryId) {
	e := t.MustGet(id)
	cp := *e
	cp.id = InvalidID
	cp.Old = InvalidID
	shadowID := EntryId(len(t.arena)) | shadowBit
	t.arena = append(t.arena, &cp)
	e.Old = shadowID
}

// shadowBit distinguishes shadow-arena ids from live-arena ids without
// needing a second backing slice; shadow entries are never themselves
// walked or serialized, only read back through Entry.Old.
const shadowBit EntryId = 1 << 31

// OldOf returns the shadow snapshot for id, if any.
func (t *Tree) OldOf(id EntryId) *Entry {
	e := t.MustGet(id)
	if e.Old == InvalidID {
		return nil
	}
	return t.Get(e.Old &^ shadowBit)
}

// MarkAdd sets the Add flag on id, the minimal primitive the (otherwise
// out-of-scope) `add` action needs from the core so that Revert (spec.md
// §4.7: "If flagged Add and not yet committed, mark to_be_ignored") has
// something to look at.
func (t *Tree) MarkAdd(id EntryId) error {
	e := t.Get(id)
	if e == nil {
		return errors.Wrapf(ErrNotFound, "entry %d", id)
	}
	e.Flags |= FlagAdd
	return nil
}

// MarkUnversion sets the Unversion flag on id, the minimal primitive the
// (otherwise out-of-scope) `unversion` action needs from the core.
func (t *Tree) MarkUnversion(id EntryId) error {
	e := t.Get(id)
	if e == nil {
		return errors.Wrapf(ErrNotFound, "entry %d", id)
	}
	e.Flags |= FlagUnversion
	return nil
}

// Path reconstructs the absolute-from-root path of id by walking Parent
// references.
func (t *Tree) Path(id EntryId) string {
	var parts []string
	for cur := id; cur != InvalidID; {
		e := t.Get(cur)
		if e == nil {
			break
		}
		if e.Parent == InvalidID {
			break
		}
		parts = append(parts, e.Name)
		cur = e.Parent
	}
	// reverse
	for i, j := 0, len(parts)-1; i < j; i, j = i+1, j-1 {
		parts[i], parts[j] = parts[j], parts[i]
	}
	out := "/"
	for i, p := range parts {
		if i > 0 {
			out += "/"
		}
		out += p
	}
	return out
}
