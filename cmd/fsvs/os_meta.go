package main

import (
	"io/fs"
	"syscall"

	"github.com/phmarek/fsvs-sub001/entry"
)

// metaFromFileInfo extracts the compact stat tuple spec.md §3 records
// from an os.Lstat/os.ReadDir result. billy.Filesystem's own Stat
// returns the same os.FileInfo, which loses device/inode/ctime — so,
// like revert's applyMeta, this steps outside the billy abstraction to
// read the raw syscall.Stat_t the standard library's os package already
// populated underneath.
func metaFromFileInfo(fi fs.FileInfo) entry.Meta {
	m := entry.Meta{
		Mode:     uint32(fi.Mode().Perm()),
		MtimeSec: fi.ModTime().Unix(),
	}
	switch {
	case fi.IsDir():
		m.Mode |= entry.ModeDirectory
	case fi.Mode()&fs.ModeSymlink != 0:
		m.Mode |= entry.ModeSymlink
	case fi.Mode()&fs.ModeDevice != 0:
		if fi.Mode()&fs.ModeCharDevice != 0 {
			m.Mode |= entry.ModeCharDevice
		} else {
			m.Mode |= entry.ModeBlockDevice
		}
	case fi.Mode()&fs.ModeNamedPipe != 0:
		m.Mode |= entry.ModeFIFO
	case fi.Mode()&fs.ModeSocket != 0:
		m.Mode |= entry.ModeSocket
	default:
		m.Mode |= entry.ModeRegular
		m.Size = uint64(fi.Size())
	}

	if st, ok := fi.Sys().(*syscall.Stat_t); ok {
		m.Dev = uint64(st.Dev)
		m.Ino = st.Ino
		m.Uid = st.Uid
		m.Gid = st.Gid
		m.Rdev = uint64(st.Rdev)
		m.CtimeSec = int64(st.Ctim.Sec)
		m.CtimeNsec = int64(st.Ctim.Nsec)
		m.MtimeNsec = int64(st.Mtim.Nsec)
	}
	return m
}
