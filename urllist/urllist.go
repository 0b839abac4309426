// Package urllist manages the overlay of repository URLs a working
// copy tracks (spec.md §3 glossary: "URL — one repository URL with
// priority, target revision, current revision, HEAD revision, internal
// stable id, session handle and its pool") and the small flat-record
// file formats spec.md §6 lists for it: Urls (config, may live under
// /etc and so stays immutable across a commit) and revs (the mutable
// per-WC current/HEAD revision cache kept separate for exactly that
// reason).
//
// Record shape follows the same "fields, then \0\n" discipline as the
// entry package's dir file — one line, NUL
// terminator so a length-based parser can never run past the end.
package urllist

import (
	"bytes"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/phmarek/fsvs-sub001/entry"
)

// ErrCorrupt mirrors spec.md §7's TreeDamaged kind for this package's
// own flat files.
var ErrCorrupt = errors.New("urllist: corrupt record")

// URL is one overlaid repository URL's configuration (the part that
// belongs in the immutable Urls file).
type URL struct {
	ID       entry.EntryId
	Target   string
	Priority int
	// TargetRev pins the revision this URL should track; entry.SetRevnum
	// means "track HEAD".
	TargetRev int64
}

// RevState is a URL's mutable revision cache (the revs file).
type RevState struct {
	Current int64
	Head    int64
}

// List is the in-memory overlay: URLs plus their revision cache.
type List struct {
	urls []URL
	revs map[entry.EntryId]RevState
	next entry.EntryId
}

// NewList creates an empty overlay.
func NewList() *List {
	return &List{revs: map[entry.EntryId]RevState{}}
}

// Add appends a URL, assigning it a stable id if it has none
// (entry.InvalidID).
func (l *List) Add(u URL) URL {
	if u.ID == entry.InvalidID {
		u.ID = l.next
		l.next++
	} else if u.ID >= l.next {
		l.next = u.ID + 1
	}
	l.urls = append(l.urls, u)
	return u
}

// Sorted returns the URLs in priority order — lowest Priority value
// first, i.e. highest precedence first, matching config.Priority's own
// "lower enum value loses to higher" convention inverted for overlay
// order (the first URL to claim a path wins).
func (l *List) Sorted() []URL {
	out := append([]URL(nil), l.urls...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Priority < out[j].Priority })
	return out
}

// Get looks up a URL by id.
func (l *List) Get(id entry.EntryId) (URL, bool) {
	for _, u := range l.urls {
		if u.ID == id {
			return u, true
		}
	}
	return URL{}, false
}

// SetRevState records id's current/HEAD revision.
func (l *List) SetRevState(id entry.EntryId, s RevState) { l.revs[id] = s }

// RevState returns id's cached revision state, if any.
func (l *List) RevState(id entry.EntryId) (RevState, bool) {
	s, ok := l.revs[id]
	return s, ok
}

var terminator = []byte{0, '\n'}

// WriteURLs serializes the Urls file.
func WriteURLs(w io.Writer, urls []URL) error {
	for _, u := range urls {
		line := fmt.Sprintf("%d %d %d %s", u.ID, u.Priority, u.TargetRev, u.Target)
		if _, err := io.WriteString(w, line); err != nil {
			return errors.Wrap(err, "urllist: write url record")
		}
		if _, err := w.Write(terminator); err != nil {
			return errors.Wrap(err, "urllist: write url terminator")
		}
	}
	return nil
}

// ReadURLs parses a Urls file.
func ReadURLs(r io.Reader) ([]URL, error) {
	all, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.Wrap(err, "urllist: read urls")
	}
	return parseURLLines(all)
}

func parseURLLines(all []byte) ([]URL, error) {
	if len(all) == 0 {
		return nil, nil
	}
	if !bytes.HasSuffix(all, terminator) {
		return nil, errors.Wrap(ErrCorrupt, "missing trailing \\0\\n")
	}
	lines := bytes.Split(all, terminator)
	lines = lines[:len(lines)-1]

	urls := make([]URL, 0, len(lines))
	for _, line := range lines {
		fields := strings.SplitN(string(line), " ", 4)
		if len(fields) != 4 {
			return nil, errors.Wrapf(ErrCorrupt, "url record has %d fields, want 4", len(fields))
		}
		id, err := strconv.ParseUint(fields[0], 10, 32)
		if err != nil {
			return nil, errors.Wrap(ErrCorrupt, "url id field")
		}
		priority, err := strconv.Atoi(fields[1])
		if err != nil {
			return nil, errors.Wrap(ErrCorrupt, "url priority field")
		}
		targetRev, err := strconv.ParseInt(fields[2], 10, 64)
		if err != nil {
			return nil, errors.Wrap(ErrCorrupt, "url target-rev field")
		}
		urls = append(urls, URL{ID: entry.EntryId(id), Priority: priority, TargetRev: targetRev, Target: fields[3]})
	}
	return urls, nil
}

// WriteRevs serializes the revs cache.
func WriteRevs(w io.Writer, revs map[entry.EntryId]RevState) error {
	ids := make([]entry.EntryId, 0, len(revs))
	for id := range revs {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	for _, id := range ids {
		s := revs[id]
		line := fmt.Sprintf("%d %d %d", id, s.Current, s.Head)
		if _, err := io.WriteString(w, line); err != nil {
			return errors.Wrap(err, "urllist: write rev record")
		}
		if _, err := w.Write(terminator); err != nil {
			return errors.Wrap(err, "urllist: write rev terminator")
		}
	}
	return nil
}

// ReadRevs parses a revs cache file.
func ReadRevs(r io.Reader) (map[entry.EntryId]RevState, error) {
	all, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.Wrap(err, "urllist: read revs")
	}
	out := map[entry.EntryId]RevState{}
	if len(all) == 0 {
		return out, nil
	}
	if !bytes.HasSuffix(all, terminator) {
		return nil, errors.Wrap(ErrCorrupt, "missing trailing \\0\\n")
	}
	lines := bytes.Split(all, terminator)
	lines = lines[:len(lines)-1]

	for _, line := range lines {
		fields := strings.Fields(string(line))
		if len(fields) != 3 {
			return nil, errors.Wrapf(ErrCorrupt, "rev record has %d fields, want 3", len(fields))
		}
		id, err := strconv.ParseUint(fields[0], 10, 32)
		if err != nil {
			return nil, errors.Wrap(ErrCorrupt, "rev id field")
		}
		cur, err := strconv.ParseInt(fields[1], 10, 64)
		if err != nil {
			return nil, errors.Wrap(ErrCorrupt, "rev current field")
		}
		head, err := strconv.ParseInt(fields[2], 10, 64)
		if err != nil {
			return nil, errors.Wrap(ErrCorrupt, "rev head field")
		}
		out[entry.EntryId(id)] = RevState{Current: cur, Head: head}
	}
	return out, nil
}
