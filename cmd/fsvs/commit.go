package main

import (
	"context"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/phmarek/fsvs-sub001/entry"
	"github.com/phmarek/fsvs-sub001/repo"
	"github.com/phmarek/fsvs-sub001/walk"
)

// runCommit walks the selected paths (the whole tree if none are
// given), collects every locally New/Removed/Changed entry into one
// delta, and sends it to the repository as a single new revision
// (spec.md §4.4: "a commit sends ... as one new revision").
func runCommit(ctx context.Context, wc *workingCopy, paths []string, message string, logger *logrus.Logger) error {
	ids, err := resolveSelection(wc.tree, paths)
	if err != nil {
		return err
	}

	w := walk.New(wc.tree, walk.Options{
		Stat:     osStat(wc.root),
		ReadDir:  osReadDir(wc.root),
		Resolve:  wc.resolveContent,
		Matcher:  wc.matcher,
		Filter:   entry.StatusAllPass,
		Selected: ids,
		Log:      logger,
	})
	if err := w.Run(); err != nil {
		return errors.Wrap(err, "fsvs: commit walk")
	}

	var changes []repo.CommitChange
	for _, id := range ids {
		collectChanges(wc.tree, id, &changes)
	}
	if len(changes) == 0 {
		logger.Info("nothing to commit")
		return nil
	}

	rootURL, err := wc.primaryURL()
	if err != nil {
		return err
	}
	session, err := openSession(ctx, rootURL)
	if err != nil {
		return err
	}

	newRev, err := session.Commit(ctx, rootURL, changes, message)
	if err != nil {
		return errors.Wrap(err, "fsvs: commit")
	}

	for _, c := range changes {
		id, ok := findByPath(wc.tree, c.Path)
		if !ok {
			continue
		}
		e := wc.tree.MustGet(id)
		if c.Removed {
			if err := wc.tree.Remove(id, false); err != nil {
				return errors.Wrapf(err, "fsvs: remove committed entry %s", c.Path)
			}
			continue
		}
		e.ReposRev = newRev
		e.EntryStatus = 0
	}

	logger.Infof("committed %d changes as r%d", len(changes), newRev)
	return nil
}

// collectChanges appends id and its descendants' committable deltas,
// children before parents so a directory's removal is only queued once
// every child already is (mirroring revert.Engine's dispatch order).
func collectChanges(tr *entry.Tree, id entry.EntryId, out *[]repo.CommitChange) {
	e := tr.MustGet(id)
	for _, c := range e.ByInode {
		collectChanges(tr, c, out)
	}
	if e.EntryStatus == 0 {
		return
	}
	*out = append(*out, repo.CommitChange{
		Path:    tr.Path(id),
		Meta:    e.Meta,
		MD5:     e.MD5,
		Removed: e.EntryStatus.Has(entry.StatusRemoved),
	})
}
