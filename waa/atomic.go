package waa

import (
	"io"
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/go-git/go-billy/v5"
	"github.com/pkg/errors"
)

// ErrBusy is returned when a second writer's commit would clobber a
// rename target that a concurrent writer already produced (spec.md §9
// Open Question: distinct temp names, fail the clobbering close instead
// of silently replicating last-writer-wins).
var ErrBusy = errors.New("waa: concurrent write to the same target")

// OpenFlags mirrors the caller's intent for AtomicWriter.Open, matching
// spec.md §4.1's "any of create/truncate/write-only/append, except pure
// append" rule for when the temp-file indirection applies.
type OpenFlags struct {
	Create    bool
	Truncate  bool
	WriteOnly bool
	Append    bool
}

// needsTempFile reports whether this open should go through the
// temp-file-plus-rename path.
func (f OpenFlags) needsTempFile() bool {
	if f.Append && !f.Create && !f.Truncate {
		return false
	}
	return f.Create || f.Truncate || f.WriteOnly || f.Append
}

var tempCounter uint64

// AtomicWriter implements the temp-file-plus-rename discipline of
// spec.md §4.2. One AtomicWriter instance is used per logical write; it
// is not safe for concurrent use by multiple goroutines against the same
// final path (the engine is single-threaded per spec.md §5).
type AtomicWriter struct {
	fs        billy.Filesystem
	finalPath string
	tempPath  string
	handle    io.WriteCloser
	direct    billy.File // used for append-mode, which skips the temp path
	closed    bool
	// expectAbsent records that finalPath did not exist when Open ran.
	expectAbsent bool
}

// Open begins a write against finalPath. When flags requires a temp
// file, the returned handle writes to a uniquely-named sibling; Close
// decides whether it becomes visible.
func Open(fs billy.Filesystem, finalPath string, flags OpenFlags) (*AtomicWriter, error) {
	if err := fs.MkdirAll(filepath.Dir(finalPath), 0777); err != nil {
		return nil, errors.Wrapf(err, "waa: mkdir for %s", finalPath)
	}

	w := &AtomicWriter{fs: fs, finalPath: finalPath}

	if !flags.needsTempFile() {
		f, err := fs.OpenFile(finalPath, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0666)
		if err != nil {
			return nil, errors.Wrapf(err, "waa: open append %s", finalPath)
		}
		w.direct = f
		return w, nil
	}

	_, statErr := fs.Stat(finalPath)
	w.expectAbsent = statErr != nil

	suffix := atomic.AddUint64(&tempCounter, 1)
	w.tempPath = TempName(finalPath, suffix)

	f, err := fs.OpenFile(w.tempPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0666)
	if err != nil {
		return nil, errors.Wrapf(err, "waa: create temp %s", w.tempPath)
	}
	w.handle = f
	return w, nil
}

// Write writes to the underlying handle.
func (w *AtomicWriter) Write(p []byte) (int, error) {
	if w.direct != nil {
		return w.direct.Write(p)
	}
	return w.handle.Write(p)
}

// Close finalizes the write. ok=true renames the temp file into place
// (or, for append-mode, simply closes the direct handle); ok=false
// unlinks the temp file and leaves the final path untouched. If the final
// path was absent when Open ran and exists now, ok=true also unlinks the
// temp file and returns ErrBusy instead of renaming over it.
func (w *AtomicWriter) Close(ok bool) error {
	if w.closed {
		return errors.New("waa: double close")
	}
	w.closed = true

	if w.direct != nil {
		return w.direct.Close()
	}

	if err := w.handle.Close(); err != nil {
		if !ok {
			_ = w.fs.Remove(w.tempPath)
		}
		return errors.Wrapf(err, "waa: close temp %s", w.tempPath)
	}

	if !ok {
		return errors.Wrapf(w.fs.Remove(w.tempPath), "waa: unlink temp %s after failed write", w.tempPath)
	}

	if err := EnsureNotClobbered(w.fs, w.finalPath, w.expectAbsent); err != nil {
		_ = w.fs.Remove(w.tempPath)
		return err
	}

	if err := w.fs.Rename(w.tempPath, w.finalPath); err != nil {
		_ = w.fs.Remove(w.tempPath)
		return errors.Wrapf(err, "waa: rename %s -> %s", w.tempPath, w.finalPath)
	}
	return nil
}

// WriteFileAtomic is a convenience wrapper for the common case of
// writing an entire buffer in one shot: open, write, close(true).
func WriteFileAtomic(fs billy.Filesystem, finalPath string, data []byte) (err error) {
	w, err := Open(fs, finalPath, OpenFlags{Create: true, Truncate: true, WriteOnly: true})
	if err != nil {
		return err
	}
	defer func() {
		closeErr := w.Close(err == nil)
		if err == nil {
			err = closeErr
		}
	}()

	_, err = w.Write(data)
	return err
}

// EnsureNotClobbered detects the Open Question scenario (spec.md §9): a
// final path that was absent when a writer opened it (expectedAbsent)
// and exists now, because another writer committed first.
// AtomicWriter.Close calls it before renaming. A final path that already
// existed at Open is not checked, so a change to it in between goes
// undetected.
func EnsureNotClobbered(fs billy.Filesystem, finalPath string, expectedAbsent bool) error {
	_, err := fs.Stat(finalPath)
	exists := err == nil
	if expectedAbsent && exists {
		return errors.Wrapf(ErrBusy, "target %s appeared during write", finalPath)
	}
	return nil
}
