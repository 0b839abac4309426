package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/phmarek/fsvs-sub001/entry"
	"github.com/phmarek/fsvs-sub001/walk"
)

// runStatus drives the Tree Walker over wcRoot and prints one line per
// entry whose status is non-zero, in the classic single-letter-column
// convention (spec.md §4.5's status bitset, §8 scenario 1). paths
// restricts the walk to those tracked paths; empty means the whole
// tree (spec.md §4.6: "If neither mark is set anywhere, the root is
// silently flagged selected").
func runStatus(wc *workingCopy, paths []string, logger *logrus.Logger) error {
	ids, err := resolveSelection(wc.tree, paths)
	if err != nil {
		return err
	}
	selected := ids
	if len(paths) == 0 {
		selected = nil
	}

	w := walk.New(wc.tree, walk.Options{
		Stat:     osStat(wc.root),
		ReadDir:  osReadDir(wc.root),
		Resolve:  wc.resolveContent,
		Matcher:  wc.matcher,
		Filter:   entry.StatusAllPass,
		Selected: selected,
		Log:      logger,
		Action: func(tr *entry.Tree, id entry.EntryId) error {
			e := tr.MustGet(id)
			if e.EntryStatus == 0 {
				return nil
			}
			fmt.Println(statusLine(e.EntryStatus) + " " + tr.Path(id))
			return nil
		},
	})
	if err := w.Run(); err != nil {
		return errors.Wrap(err, "fsvs: status walk")
	}
	logger.Debug("status walk complete")
	return nil
}

// statusLine renders the svn-style single-letter status column: one
// character per bit that applies, in the fixed order spec.md §3 lists
// the status bitset's members.
func statusLine(st entry.StatusFlags) string {
	cols := []struct {
		bit entry.StatusFlags
		ch  byte
	}{
		{entry.StatusNew, 'A'},
		{entry.StatusRemoved, 'D'},
		{entry.StatusChanged, 'M'},
		{entry.StatusMetaMtime, 't'},
		{entry.StatusMetaOwner, 'o'},
		{entry.StatusMetaGroup, 'g'},
		{entry.StatusMetaUmode, 'p'},
		{entry.StatusLikely, '?'},
		{entry.StatusChildChanged, 'c'},
		{entry.StatusPropertiesChanged, 'P'},
	}
	buf := make([]byte, len(cols))
	for i, c := range cols {
		if st.Has(c.bit) {
			buf[i] = c.ch
		} else {
			buf[i] = '.'
		}
	}
	if st.IsReplaced() {
		buf[0], buf[1] = 'R', 'R'
	}
	return string(buf)
}

// osStat adapts os.Lstat to walk.StatFunc, relative to root.
func osStat(root string) walk.StatFunc {
	return func(relPath string) (entry.Meta, bool, error) {
		fi, err := os.Lstat(filepath.Join(root, relPath))
		if err != nil {
			if os.IsNotExist(err) {
				return entry.Meta{}, false, nil
			}
			return entry.Meta{}, false, errors.Wrapf(err, "fsvs: lstat %s", relPath)
		}
		return metaFromFileInfo(fi), true, nil
	}
}

// osReadDir adapts os.ReadDir to walk.ReadDirFunc, relative to root.
func osReadDir(root string) walk.ReadDirFunc {
	return func(relPath string) ([]walk.DirEntry, error) {
		entries, err := os.ReadDir(filepath.Join(root, relPath))
		if err != nil {
			return nil, errors.Wrapf(err, "fsvs: readdir %s", relPath)
		}
		out := make([]walk.DirEntry, 0, len(entries))
		for _, de := range entries {
			fi, err := de.Info()
			if err != nil {
				return nil, errors.Wrapf(err, "fsvs: stat %s/%s", relPath, de.Name())
			}
			out = append(out, walk.DirEntry{Name: de.Name(), Meta: metaFromFileInfo(fi)})
		}
		return out, nil
	}
}

