package urllist

import (
	"bytes"
	"io"

	"github.com/pkg/errors"
)

// WriteCopyRelations serializes the Copy file (spec.md §6: "copy-from
// relations, key=dest, value=src, both \0-terminated"). dest and src
// are each NUL-terminated in place of a space-separated record, since
// paths may themselves contain spaces.
func WriteCopyRelations(w io.Writer, relations map[string]string) error {
	for dest, src := range relations {
		if _, err := io.WriteString(w, dest); err != nil {
			return errors.Wrap(err, "urllist: write copy dest")
		}
		if _, err := w.Write([]byte{0}); err != nil {
			return err
		}
		if _, err := io.WriteString(w, src); err != nil {
			return errors.Wrap(err, "urllist: write copy src")
		}
		if _, err := w.Write([]byte{0}); err != nil {
			return err
		}
	}
	return nil
}

// ReadCopyRelations parses a Copy file.
func ReadCopyRelations(r io.Reader) (map[string]string, error) {
	all, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.Wrap(err, "urllist: read copy relations")
	}
	out := map[string]string{}
	if len(all) == 0 {
		return out, nil
	}

	parts := bytes.Split(all, []byte{0})
	// A well-formed file is an even number of NUL-terminated fields
	// followed by nothing; bytes.Split leaves one trailing empty slice.
	if len(parts) == 0 || len(parts[len(parts)-1]) != 0 {
		return nil, errors.Wrap(ErrCorrupt, "copy relations file missing trailing NUL")
	}
	parts = parts[:len(parts)-1]
	if len(parts)%2 != 0 {
		return nil, errors.Wrap(ErrCorrupt, "copy relations file has an unpaired dest/src record")
	}

	for i := 0; i < len(parts); i += 2 {
		out[string(parts[i])] = string(parts[i+1])
	}
	return out, nil
}
