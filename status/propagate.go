package status

import "github.com/phmarek/fsvs-sub001/entry"

// Field selects which of an Entry's two status bitsets a propagation or
// filter operation acts on: the local Change Detector's entry_status,
// or the repository-compared remote_status (spec.md §4.5, §4.7).
type Field int

const (
	Local Field = iota
	Remote
)

func get(t *entry.Tree, id entry.EntryId, f Field) entry.StatusFlags {
	e := t.MustGet(id)
	if f == Remote {
		return e.RemoteStatus
	}
	return e.EntryStatus
}

func set(t *entry.Tree, id entry.EntryId, f Field, v entry.StatusFlags) {
	e := t.MustGet(id)
	if f == Remote {
		e.RemoteStatus = v
	} else {
		e.EntryStatus = v
	}
}

// PropagateChildChanged walks up from id's parent, setting ChildChanged
// on each ancestor and stopping at the first one already marked (spec.md
// §4.5: "stopping at the first parent already marked. This is O(depth)
// per change and O(n) in aggregate").
func PropagateChildChanged(t *entry.Tree, id entry.EntryId, f Field) {
	e := t.MustGet(id)
	for cur := e.Parent; cur != entry.InvalidID; {
		s := get(t, cur, f)
		if s.Has(entry.StatusChildChanged) {
			return
		}
		set(t, cur, f, s|entry.StatusChildChanged)
		cur = t.MustGet(cur).Parent
	}
}

// FilterAllows reports whether filter permits id to be acted on, per
// spec.md §4.5: "an entry is allowed by filter if the configured filter
// bitset equals the all-pass sentinel, or if any bit in the filter
// intersects the entry's entry_status." The verdict is memoized on the
// Entry itself (spec.md §8's "filter memoization" testable property),
// so repeated calls within one run are free after the first.
func FilterAllows(t *entry.Tree, id entry.EntryId, filter entry.StatusFlags) bool {
	e := t.MustGet(id)
	if e.FilterComputed() {
		return e.DoFilterAllows
	}
	allow := filter == entry.StatusAllPass || filter&e.EntryStatus != 0
	e.SetFilterAllows(allow)
	return allow
}
