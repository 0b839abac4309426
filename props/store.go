// Package props implements the Property Store (spec.md §6): an
// embedded per-entry key/value database of user-defined properties
// (svn:text-time, fsvs:commit-pipe, and friends), backed by SQLite —
// matching spec.md §1's own description of the subsystem as "an
// embedded hash DB" — via github.com/mattn/go-sqlite3, a dependency the
// retrieval pack otherwise pulls in unwired (rcowham/gitp4transfer's
// go.mod) and this module exercises for real.
package props

import (
	"database/sql"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
)

// ErrNotFound mirrors spec.md §7's NotFound kind: the requested key is
// absent.
var ErrNotFound = errors.New("props: not found")

// Mode selects how Open prepares the underlying database.
type Mode int

const (
	ReadOnly Mode = iota
	ReadWrite
)

// tombstone is the reserved sentinel value spec.md §6 calls out:
// "a reserved sentinel value denotes marked-for-removal-on-next-commit".
// It is distinguishable from any real property value a caller could set
// (properties are free-form shell command lines, mode strings, etc. —
// never containing a leading NUL).
var tombstone = []byte("\x00fsvs:tombstone\x00")

// IsTombstoned reports whether value is the marked-for-removal sentinel.
func IsTombstoned(value []byte) bool {
	return string(value) == string(tombstone)
}

// Store is the Property Store interface spec.md §6 requires: opaque
// byte-string values keyed by property name, with soft deletes that a
// commit resolves.
type Store interface {
	Get(key string) ([]byte, error)
	Set(key string, value []byte) error
	Delete(key string) error
	Iterate(fn func(key string, value []byte) error) error
	Close(committed bool) error
}

type sqliteStore struct {
	db *sql.DB
}

// Open opens (creating if absent) the SQLite-backed property database
// at path.
func Open(path string, mode Mode) (Store, error) {
	dsn := path
	if mode == ReadOnly {
		dsn += "?mode=ro"
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, errors.Wrapf(err, "props: open %q", path)
	}
	if mode == ReadWrite {
		if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS props (key TEXT PRIMARY KEY, value BLOB NOT NULL)`); err != nil {
			db.Close()
			return nil, errors.Wrap(err, "props: create schema")
		}
	}
	return &sqliteStore{db: db}, nil
}

// Get returns key's value, or ErrNotFound if absent or tombstoned (a
// tombstoned key reads as absent until the tombstone is swept by a
// committed Close).
func (s *sqliteStore) Get(key string) ([]byte, error) {
	var value []byte
	err := s.db.QueryRow(`SELECT value FROM props WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrapf(err, "props: get %q", key)
	}
	if IsTombstoned(value) {
		return nil, ErrNotFound
	}
	return value, nil
}

// Set upserts key's value.
func (s *sqliteStore) Set(key string, value []byte) error {
	_, err := s.db.Exec(`INSERT INTO props (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	if err != nil {
		return errors.Wrapf(err, "props: set %q", key)
	}
	return nil
}

// Delete marks key for removal on the next committed Close, rather than
// deleting the row outright — so an aborted commit can retry (spec.md
// §6's tombstone sentinel).
func (s *sqliteStore) Delete(key string) error {
	return s.Set(key, tombstone)
}

// Iterate calls fn for every live (non-tombstoned) property, in key
// order.
func (s *sqliteStore) Iterate(fn func(key string, value []byte) error) error {
	rows, err := s.db.Query(`SELECT key, value FROM props ORDER BY key`)
	if err != nil {
		return errors.Wrap(err, "props: iterate")
	}
	defer rows.Close()

	for rows.Next() {
		var key string
		var value []byte
		if err := rows.Scan(&key, &value); err != nil {
			return errors.Wrap(err, "props: scan")
		}
		if IsTombstoned(value) {
			continue
		}
		if err := fn(key, value); err != nil {
			return err
		}
	}
	return rows.Err()
}

// Close finalizes the store. When committed is true, rows tombstoned by
// Delete are permanently swept first; otherwise they are left in place
// so a retried commit sees the same pending deletions.
func (s *sqliteStore) Close(committed bool) error {
	if committed {
		if _, err := s.db.Exec(`DELETE FROM props WHERE value = ?`, tombstone); err != nil {
			s.db.Close()
			return errors.Wrap(err, "props: sweep tombstones")
		}
	}
	return s.db.Close()
}
