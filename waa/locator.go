// Package waa implements the Working-copy Administrative Area: the
// Path-hash Locator (spec.md §4.1) and the Atomic File Writer
// (spec.md §4.2). All bookkeeping for a tracked tree lives here,
// out-of-tree, keyed by the hash of the working-copy path.
package waa

import (
	"crypto/md5"
	"fmt"
	"path/filepath"
	"strings"
)

// Locator maps an absolute working-copy path to a three-level directory
// under a WAA root, per spec.md §4.1.
type Locator struct {
	// Root is the WAA root directory ("W" in the spec).
	Root string
	// SoftRoot, if non-empty, is stripped from incoming paths before
	// hashing.
	SoftRoot string
	// WCPrefix, if non-empty, must be the 32 hex characters of the MD5 of
	// the working-copy root; it is inserted between Root and the two-byte
	// fan-out directories for WC-scoped files so that multiple working
	// copies on one machine never collide (spec.md §4.1, scenario 6 of
	// spec.md §8).
	WCPrefix string
}

// NewLocator builds a Locator whose WCPrefix is derived from wcRoot.
func NewLocator(waaRoot, softRoot, wcRoot string) *Locator {
	l := &Locator{Root: waaRoot, SoftRoot: softRoot}
	if wcRoot != "" {
		l.WCPrefix = WCHashPrefix(wcRoot)
	}
	return l
}

// WCHashPrefix returns the 32 hex characters of the MD5 of the
// normalized working-copy root path.
func WCHashPrefix(wcRoot string) string {
	sum := md5.Sum([]byte(normalize(wcRoot, "")))
	return fmt.Sprintf("%x", sum)
}

// normalize anchors a possibly-relative path, strips a matching soft-root
// prefix, and collapses trailing separators to a single one (spec.md
// §4.1: "collapse trailing separators to one character for the root
// case").
func normalize(p, softRoot string) string {
	if !filepath.IsAbs(p) {
		if abs, err := filepath.Abs(p); err == nil {
			p = abs
		}
	}

	if softRoot != "" && strings.HasPrefix(p, softRoot) {
		p = strings.TrimPrefix(p, softRoot)
		if p == "" {
			p = string(filepath.Separator)
		}
	}

	for len(p) > 1 && strings.HasSuffix(p, string(filepath.Separator)) {
		p = p[:len(p)-1]
	}
	if p == "" {
		p = string(filepath.Separator)
	}
	return p
}

// Hash returns the 16-byte MD5 of the normalized path P.
func (l *Locator) Hash(p string) [md5.Size]byte {
	return md5.Sum([]byte(normalize(p, l.SoftRoot)))
}

// EntryDir returns the three-level fan-out directory
// "aa/bb/cccccccccccccccccccccccccccc" (relative to the Locator's Root,
// with WCPrefix inserted when scoped is true) for the given path.
func (l *Locator) EntryDir(p string, scoped bool) string {
	sum := l.Hash(p)
	aa := fmt.Sprintf("%02x", sum[0])
	bb := fmt.Sprintf("%02x", sum[1])
	rest := fmt.Sprintf("%x", sum[2:])

	parts := []string{l.Root}
	if scoped && l.WCPrefix != "" {
		parts = append(parts, l.WCPrefix)
	}
	parts = append(parts, aa, bb, rest)
	return filepath.Join(parts...)
}

// Path returns the full path "W[/wcPrefix]/aa/bb/cccc.../ext" for the
// given working-copy path and sidecar extension (e.g. "md5s", "prop",
// "cflct"). Entry-hash-scoped sidecars (md5s, prop, cflct) are always
// WC-scoped; per-WC files (dir, Urls, revs, Ign, Copy) should instead use
// WCRoot directly (see WCRootPath).
func (l *Locator) Path(p, ext string) string {
	return filepath.Join(l.EntryDir(p, true), ext)
}

// WCRootPath returns the path to a per-working-copy file (dir, Urls,
// revs, Ign, Copy, README.txt), which lives directly under
// Root/WCPrefix rather than under a further path-hash fan-out.
func (l *Locator) WCRootPath(name string) string {
	if l.WCPrefix == "" {
		return filepath.Join(l.Root, name)
	}
	return filepath.Join(l.Root, l.WCPrefix, name)
}

// TempName returns the ".tmp" sibling name for a write against the given
// final path, with path separators in the final name replaced by "_"
// (spec.md §4.1). The suffix disambiguates concurrent writers against
// the same final name (see AtomicWriter).
func TempName(finalPath string, suffix uint64) string {
	dir := filepath.Dir(finalPath)
	base := filepath.Base(finalPath)
	mangled := strings.ReplaceAll(finalPath, string(filepath.Separator), "_")
	return filepath.Join(dir, fmt.Sprintf(".%s.%d.tmp", mangled[:min(len(mangled), 64)]+base, suffix))
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
