package main

import (
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/phmarek/fsvs-sub001/entry"
	"github.com/phmarek/fsvs-sub001/pipe"
	"github.com/phmarek/fsvs-sub001/repo"
	"github.com/phmarek/fsvs-sub001/revert"
)

// newEngine builds a revert.Engine over wc's loaded state, configured
// from cfg's conflict-policy and merge-program options (spec.md §9's
// prioritized Context).
func (wc *workingCopy) newEngine(session repo.Session, logger *logrus.Logger) *revert.Engine {
	return &revert.Engine{
		Tree:         wc.tree,
		FS:           wc.fs,
		WCRoot:       wc.root,
		WAAFS:        wc.waaFS,
		Locator:      wc.loc,
		URLs:         wc.urls,
		Session:      session,
		Policy:       parsePolicy(wc.cfg.ConflictPolicy.MustGet()),
		MergeCommand: wc.cfg.MergeProgram.MustGet(),
		Env: pipe.Env{
			WCRoot: wc.root,
		},
		Log: logger,
	}
}

func parsePolicy(name string) revert.ConflictPolicy {
	switch name {
	case "local":
		return revert.PolicyLocal
	case "remote":
		return revert.PolicyRemote
	case "both":
		return revert.PolicyBoth
	case "merge":
		return revert.PolicyMerge
	default:
		return revert.PolicyStop
	}
}

// postOrderWalk invokes fn on every descendant of id before id itself
// (spec.md §4.7: "For each selected entry, in depth-first order"),
// matching the children-before-parent ordering revert.Engine's doc
// comment requires so a directory's own RevertEntry/ApplyUpdate call
// happens only after all its children's.
func postOrderWalk(tr *entry.Tree, id entry.EntryId, fn func(entry.EntryId) error) error {
	e := tr.MustGet(id)
	for _, c := range e.ByInode {
		if err := postOrderWalk(tr, c, fn); err != nil {
			return err
		}
	}
	return fn(id)
}

// findByPath resolves an absolute "/"-separated tracked path to an
// entry id by walking the tree from the root, one path segment at a
// time.
func findByPath(t *entry.Tree, path string) (entry.EntryId, bool) {
	cur := t.Root()
	if path == "" || path == "/" {
		return cur, true
	}
	for _, seg := range strings.Split(strings.Trim(path, "/"), "/") {
		found := false
		for _, childID := range t.MustGet(cur).ByInode {
			if t.MustGet(childID).Name == seg {
				cur = childID
				found = true
				break
			}
		}
		if !found {
			return entry.InvalidID, false
		}
	}
	return cur, true
}
