package revert

import (
	"bytes"
	"io"

	"github.com/pkg/errors"
)

// ErrCorrupt mirrors spec.md §7's TreeDamaged kind for the cflct index.
var ErrCorrupt = errors.New("revert: corrupt conflict index")

var artifactTerminator = []byte{0, '\n'}

// WriteConflictIndex serializes one entry's pending conflict-artifact
// paths (spec.md §4.8: "a per-entry file ... listing absolute artifact
// paths, each followed by \0\n").
func WriteConflictIndex(w io.Writer, paths []string) error {
	for _, p := range paths {
		if _, err := io.WriteString(w, p); err != nil {
			return errors.Wrap(err, "revert: write conflict artifact path")
		}
		if _, err := w.Write(artifactTerminator); err != nil {
			return errors.Wrap(err, "revert: write conflict artifact terminator")
		}
	}
	return nil
}

// ReadConflictIndex parses a cflct file.
func ReadConflictIndex(r io.Reader) ([]string, error) {
	all, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.Wrap(err, "revert: read conflict index")
	}
	if len(all) == 0 {
		return nil, nil
	}
	if !bytes.HasSuffix(all, artifactTerminator) {
		return nil, errors.Wrap(ErrCorrupt, "conflict index missing trailing \\0\\n")
	}

	lines := bytes.Split(all, artifactTerminator)
	lines = lines[:len(lines)-1]

	paths := make([]string, 0, len(lines))
	for _, line := range lines {
		paths = append(paths, string(line))
	}
	return paths, nil
}
