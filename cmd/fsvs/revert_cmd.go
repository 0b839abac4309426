package main

import (
	"context"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/phmarek/fsvs-sub001/entry"
	"github.com/phmarek/fsvs-sub001/revert"
)

// runRevert reverts the given tracked paths (the whole tree if none
// are given) to BASE, or to rev when rev >= 0 (spec.md §4.7's two
// revert modes).
func runRevert(ctx context.Context, wc *workingCopy, paths []string, rev int64, logger *logrus.Logger) error {
	ids, err := resolveSelection(wc.tree, paths)
	if err != nil {
		return err
	}

	if rev < 0 {
		engine := wc.newEngine(nil, logger)
		for _, id := range ids {
			if err := postOrderWalk(wc.tree, id, func(child entry.EntryId) error {
				err := engine.RevertEntry(ctx, child)
				if errors.Is(err, revert.ErrNoURL) {
					// The engine has already logged "cannot revert
					// unknown entry"; skip it and go on.
					return nil
				}
				return err
			}); err != nil {
				return errors.Wrapf(err, "fsvs: revert %s", wc.tree.Path(id))
			}
		}
		logger.Infof("reverted %d selected entries to BASE", len(ids))
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
	engine := wc.newEngine(session, logger)

	if err := engine.PopulateRemoteStatus(ctx, rootURL, rev); err != nil {
		return errors.Wrap(err, "fsvs: populate remote status")
	}

	for _, id := range ids {
		if err := postOrderWalk(wc.tree, id, func(child entry.EntryId) error {
			return engine.ApplyUpdate(ctx, child, rev)
		}); err != nil {
			return errors.Wrapf(err, "fsvs: update %s to r%d", wc.tree.Path(id), rev)
		}
	}
	logger.Infof("updated %d selected entries to r%d", len(ids), rev)
	return nil
}

// runResolved clears the Conflict flag and removes the recorded
// artifacts for the given tracked paths (spec.md §4.8).
func runResolved(wc *workingCopy, paths []string, logger *logrus.Logger) error {
	ids, err := resolveSelection(wc.tree, paths)
	if err != nil {
		return err
	}
	engine := wc.newEngine(nil, logger)
	for _, id := range ids {
		if err := engine.Resolved(id); err != nil {
			return errors.Wrapf(err, "fsvs: resolved %s", wc.tree.Path(id))
		}
	}
	logger.Infof("cleared conflict state on %d entries", len(ids))
	return nil
}

// resolveSelection maps tracked paths to entry ids, defaulting to the
// whole tree (just the root) when none are given.
func resolveSelection(tr *entry.Tree, paths []string) ([]entry.EntryId, error) {
	if len(paths) == 0 {
		return []entry.EntryId{tr.Root()}, nil
	}
	ids := make([]entry.EntryId, 0, len(paths))
	for _, p := range paths {
		id, ok := findByPath(tr, p)
		if !ok {
			return nil, errors.Errorf("fsvs: %s is not a tracked entry", p)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// primaryURL returns the highest-priority URL's target, the root the
// explicit-revision revert's report-and-deliver protocol runs against.
func (wc *workingCopy) primaryURL() (string, error) {
	sorted := wc.urls.Sorted()
	if len(sorted) == 0 {
		return "", errors.New("fsvs: working copy has no URL configured")
	}
	return sorted[0].Target, nil
}
