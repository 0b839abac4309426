// Package ignore implements the ignore/take/group pattern matcher that
// the Tree Walker's Directory Enumeration step applies to freshly
// readdir'd entries (spec.md §4.6, §4.5's data model for Ignore/Group
// Pattern).
//
// The matching shape — evaluate an ordered list of patterns, first hit
// wins — follows go-git's plumbing/format/gitignore matcher
// (IgnoreNoder/MatchNoder in noder.go); the ignore/take polarity, group
// name, and auto-properties fields come from the FSVS original's
// grouping_t (original_source/src/ignore.h), which gitignore's
// negate-only rule does not model.
package ignore

import (
	"path"
	"strings"

	"github.com/phmarek/fsvs-sub001/entry"
)

// Kind is a pattern's ignore/take polarity (spec.md §4.5: "is_ignore vs
// is_take flag").
type Kind int

const (
	KindIgnore Kind = iota
	KindTake
)

// Pattern is one compiled ignore/take/group rule.
type Pattern struct {
	Raw  string
	Kind Kind

	// Group is the named bundle this pattern belongs to, "" if none
	// (spec.md glossary: "Grouping — a named bundle of ignore/take
	// patterns plus auto-properties applied to matching new entries").
	Group     string
	AutoProps map[string]string

	hasType  bool
	wantType uint32

	hasMode   bool
	modeMask  uint32
	modeValue uint32

	hasDevice bool
	device    uint64

	hasInode bool
	inode    uint64
}

// Option configures optional type/mode/device/inode filters on a
// compiled Pattern.
type Option func(*Pattern)

// WithType restricts the pattern to entries whose mode type bits equal
// want (e.g. entry.ModeDirectory).
func WithType(want uint32) Option {
	return func(p *Pattern) { p.hasType = true; p.wantType = want & entry.ModeTypeMask }
}

// WithModeMask restricts the pattern to entries whose mode, masked by
// mask, equals value.
func WithModeMask(mask, value uint32) Option {
	return func(p *Pattern) { p.hasMode = true; p.modeMask = mask; p.modeValue = value & mask }
}

// WithDevice restricts the pattern to entries on a specific device.
func WithDevice(dev uint64) Option {
	return func(p *Pattern) { p.hasDevice = true; p.device = dev }
}

// WithInode restricts the pattern to one specific inode.
func WithInode(ino uint64) Option {
	return func(p *Pattern) { p.hasInode = true; p.inode = ino }
}

// WithGroup attaches a group name and auto-properties to the pattern.
func WithGroup(name string, autoProps map[string]string) Option {
	return func(p *Pattern) { p.Group = name; p.AutoProps = autoProps }
}

// Compile builds a Pattern from a glob and its ignore/take polarity.
func Compile(glob string, kind Kind, opts ...Option) Pattern {
	p := Pattern{Raw: glob, Kind: kind}
	for _, opt := range opts {
		opt(&p)
	}
	return p
}

func (p *Pattern) matches(relPath string, meta entry.Meta) bool {
	if !globMatch(p.Raw, relPath) {
		return false
	}
	if p.hasType && meta.Mode&entry.ModeTypeMask != p.wantType {
		return false
	}
	if p.hasMode && meta.Mode&p.modeMask != p.modeValue {
		return false
	}
	if p.hasDevice && meta.Dev != p.device {
		return false
	}
	if p.hasInode && meta.Ino != p.inode {
		return false
	}
	return true
}

// globMatch matches pattern against relPath. A pattern containing no
// "/" may match the entry's base name at any depth, matching the
// convenience gitignore-style patterns offer; patterns containing "/"
// must match the full relative path.
func globMatch(pattern, relPath string) bool {
	if !strings.Contains(pattern, "/") {
		if ok, _ := path.Match(pattern, path.Base(relPath)); ok {
			return true
		}
	}
	ok, _ := path.Match(pattern, relPath)
	return ok
}

// Matcher evaluates an ordered pattern list (spec.md §8: "the first
// matching pattern in list order wins").
type Matcher struct {
	Patterns []Pattern
}

// Evaluate returns whether relPath is ignored and the pattern that
// decided it (nil if nothing matched, meaning "not ignored").
func (m *Matcher) Evaluate(relPath string, meta entry.Meta) (ignored bool, decided *Pattern) {
	for i := range m.Patterns {
		if m.Patterns[i].matches(relPath, meta) {
			return m.Patterns[i].Kind == KindIgnore, &m.Patterns[i]
		}
	}
	return false, nil
}

// ApplyAutoProps copies p's auto-properties (if any) into target.
func ApplyAutoProps(p *Pattern, target map[string]string) {
	if p == nil {
		return
	}
	for k, v := range p.AutoProps {
		target[k] = v
	}
}
