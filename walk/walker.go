// Package walk implements the Tree Walker (spec.md §4.6): disk-order
// partial update, directory enumeration of newly-appeared entries, and
// dispatch of an action callback in the order spec.md requires (leaves
// and empty directories immediately, non-empty directories only after
// their children have closed).
//
// The depth-first shape follows go-git's TreeWalker (tree_walker.go),
// but the walk here is recursive and hands a directory to the caller
// only after all of its children. This module additionally
// threads the Change Detector and the ignore/take matcher through each
// step, neither of which a git tree object needs.
package walk

import (
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/phmarek/fsvs-sub001/entry"
	"github.com/phmarek/fsvs-sub001/ignore"
	"github.com/phmarek/fsvs-sub001/status"
)

// DirEntry is one readdir(3) result: a name plus freshly lstat'd meta.
type DirEntry struct {
	Name string
	Meta entry.Meta
}

// StatFunc lstats relPath, reporting whether it exists at all.
type StatFunc func(relPath string) (meta entry.Meta, exists bool, err error)

// ReadDirFunc lists a directory's immediate children.
type ReadDirFunc func(relPath string) ([]DirEntry, error)

// ResolveFunc answers an ambiguous content-changed question for one
// entry (normally a Manber Chunker comparison; spec.md §4.3/§4.5).
type ResolveFunc func(tr *entry.Tree, id entry.EntryId) (entry.ChangeFlag, error)

// ActionFunc is the registered callback invoked once per dispatched
// entry, in the order spec.md §4.6 describes.
type ActionFunc func(tr *entry.Tree, id entry.EntryId) error

// Options configures one Walk run.
type Options struct {
	Stat    StatFunc
	ReadDir ReadDirFunc
	Resolve ResolveFunc // nil leaves ambiguous content changes as Likely
	Matcher *ignore.Matcher
	Filter  entry.StatusFlags
	Action  ActionFunc

	// Log is an optional logger (nil-safe, falls back to
	// logrus.StandardLogger) that records per-entry dispatch decisions
	// at Debug.
	Log *logrus.Logger

	// Selected holds the explicit do_userselected set. Empty means
	// full-tree mode (spec.md §4.6: "If neither mark is set anywhere,
	// the root is silently flagged selected").
	Selected []entry.EntryId
}

// Walker drives one traversal of a Tree.
type Walker struct {
	tr   *entry.Tree
	opts Options
}

func (w *Walker) log() *logrus.Logger {
	if w.opts.Log != nil {
		return w.opts.Log
	}
	return logrus.StandardLogger()
}

// New prepares a Walker, marking the selection bits Options.Selected
// implies before any entry is visited.
func New(tr *entry.Tree, opts Options) *Walker {
	w := &Walker{tr: tr, opts: opts}
	if len(opts.Selected) == 0 {
		markSubtreeSelected(tr, tr.Root())
	} else {
		for _, id := range opts.Selected {
			tr.MustGet(id).DoUserSelected = true
			markAncestorsChildWanted(tr, id)
		}
	}
	return w
}

func markSubtreeSelected(tr *entry.Tree, id entry.EntryId) {
	e := tr.MustGet(id)
	e.DoUserSelected = true
	for _, c := range e.ByInode {
		markSubtreeSelected(tr, c)
	}
}

func markAncestorsChildWanted(tr *entry.Tree, id entry.EntryId) {
	for cur := tr.MustGet(id).Parent; cur != entry.InvalidID; {
		p := tr.MustGet(cur)
		if p.DoChildWanted {
			return
		}
		p.DoChildWanted = true
		cur = p.Parent
	}
}

// Run performs the traversal, starting at the tree's root.
func (w *Walker) Run() error {
	return w.visit(w.tr.Root())
}

func (w *Walker) visit(id entry.EntryId) error {
	e := w.tr.MustGet(id)
	if !(e.DoUserSelected || e.DoChildWanted || e.DoThisEntry) {
		return nil
	}

	relPath := w.tr.Path(id)
	meta, exists, err := w.opts.Stat(relPath)
	if err != nil {
		return err
	}

	hadRecorded := !e.Flags.Has(entry.FlagIsNew)
	var resolve status.ContentResolver
	if w.opts.Resolve != nil {
		resolve = func() (entry.ChangeFlag, error) { return w.opts.Resolve(w.tr, id) }
	}

	st, err := status.Detect(status.Snapshot{
		HadRecorded: hadRecorded,
		Recorded:    e.Meta,
		LocalExists: exists,
		Local:       meta,
		Path:        relPath,
		Log:         w.opts.Log,
	}, resolve)
	if err != nil {
		return err
	}
	e.EntryStatus = st
	if st != 0 {
		status.PropagateChildChanged(w.tr, id, status.Local)
	}

	wasReplaced := st.IsReplaced()
	if exists && !wasReplaced {
		e.Meta = meta
	}
	if wasReplaced {
		// Type changed underneath the recorded entry: reset the
		// directory-specific fields before treating it by its new type
		// (spec.md §4.6: "A directory that was replaced by a
		// non-directory (or vice-versa) resets its directory-specific
		// fields before continuing").
		e.Meta = meta
		e.ByInode = nil
		e.EntryCount = 0
		e.ResetFilterMemo()
	}

	if !exists {
		// Removed parent short-circuits children: they are propagated as
		// removed without further lstat (spec.md §4.6).
		for _, c := range e.ByInode {
			if err := w.propagateRemoved(c); err != nil {
				return err
			}
		}
		return w.dispatch(id)
	}

	if !meta.IsDir() {
		return w.dispatch(id)
	}

	existing := append([]entry.EntryId(nil), w.tr.MustGet(id).ByInode...)

	added, err := w.enumerate(id)
	if err != nil {
		return err
	}

	for _, c := range existing {
		if err := w.visit(c); err != nil {
			return err
		}
	}
	for _, c := range added {
		if err := w.visitNew(c); err != nil {
			return err
		}
	}

	return w.dispatch(id)
}

// visitNew dispatches a freshly-enumerated entry directly — its status
// is already New, there is nothing recorded to compare against — and,
// if it is itself a directory, recurses purely through further
// enumeration to build its subtree (spec.md §4.6: "recurse into new
// subdirectories to build their subtrees").
func (w *Walker) visitNew(id entry.EntryId) error {
	e := w.tr.MustGet(id)
	if !e.IsDir() {
		return w.dispatch(id)
	}

	added, err := w.enumerate(id)
	if err != nil {
		return err
	}
	for _, c := range added {
		if err := w.visitNew(c); err != nil {
			return err
		}
	}
	return w.dispatch(id)
}

// propagateRemoved marks a subtree Removed without touching the
// filesystem, used once an ancestor has already been found absent.
func (w *Walker) propagateRemoved(id entry.EntryId) error {
	e := w.tr.MustGet(id)
	e.EntryStatus = entry.StatusRemoved
	status.PropagateChildChanged(w.tr, id, status.Local)
	for _, c := range e.ByInode {
		if err := w.propagateRemoved(c); err != nil {
			return err
		}
	}
	return w.dispatch(id)
}

func (w *Walker) dispatch(id entry.EntryId) error {
	path := w.tr.Path(id)
	if w.opts.Action == nil {
		return nil
	}
	if !status.FilterAllows(w.tr, id, w.opts.Filter) {
		w.log().WithField("path", path).Debug("walk: filtered out, not dispatched")
		return nil
	}
	w.log().WithField("path", path).Debug("walk: dispatching entry")
	if err := w.opts.Action(w.tr, id); err != nil {
		w.log().WithError(err).WithField("path", path).Error("walk: action callback failed")
		return err
	}
	return nil
}

// enumerate runs the Directory Enumeration step (spec.md §4.6): readdir
// id, correlate against the recorded children, skip extras the Matcher
// ignores (the first matching pattern in list order decides, whether
// take or ignore), and append the rest as New. It
// returns the ids of the entries it added.
func (w *Walker) enumerate(id entry.EntryId) ([]entry.EntryId, error) {
	if w.opts.ReadDir == nil {
		return nil, nil
	}
	dir := w.tr.MustGet(id)
	dirPath := w.tr.Path(id)

	listed, err := w.opts.ReadDir(dirPath)
	if err != nil {
		return nil, err
	}
	sort.Slice(listed, func(i, j int) bool { return listed[i].Name < listed[j].Name })

	onDisk := make([]string, len(listed))
	metaByName := make(map[string]entry.Meta, len(listed))
	for i, de := range listed {
		onDisk[i] = de.Name
		metaByName[de.Name] = de.Meta
	}

	recordedIDs := w.tr.ByNameView(id)
	recorded := make([]string, len(recordedIDs))
	for i, cid := range recordedIDs {
		recorded[i] = w.tr.MustGet(cid).Name
	}

	extras, _, _ := CorrelateDirs(onDisk, recorded)

	var added []entry.EntryId
	for _, name := range extras {
		m := metaByName[name]
		relPath := dirPath
		if relPath == "/" {
			relPath = "/" + name
		} else {
			relPath = relPath + "/" + name
		}

		var decided *ignore.Pattern
		if w.opts.Matcher != nil {
			var ignored bool
			ignored, decided = w.opts.Matcher.Evaluate(relPath, m)
			if ignored {
				continue
			}
		}

		childID, err := w.tr.AddChild(id, name, m)
		if err != nil {
			return nil, err
		}
		added = append(added, childID)
		child := w.tr.MustGet(childID)
		child.Flags |= entry.FlagIsNew
		child.EntryStatus = entry.StatusNew
		status.PropagateChildChanged(w.tr, childID, status.Local)

		if decided != nil && len(decided.AutoProps) > 0 {
			props := child.UserProp
			if props == nil {
				props = map[string]string{}
			}
			ignore.ApplyAutoProps(decided, props)
			child.UserProp = props
		}
	}

	if len(added) > 0 {
		dir.ToBeSorted = true
		w.tr.SortChildren(id)
	}
	return added, nil
}
