// Package config implements the prioritized option store that replaces
// the original tool's global mutable configuration table.
package config

import (
	"sync"

	"github.com/pkg/errors"
)

// Priority orders where an option value came from. Higher wins; a setter
// refuses to overwrite a value that was set at a higher priority.
type Priority int

const (
	// Default is the built-in fallback.
	Default Priority = iota
	// EtcConfig is the machine-wide /etc configuration file.
	EtcConfig
	// WCConfig is the per-working-copy configuration file stored in the WAA.
	WCConfig
	// Env is an environment variable.
	Env
	// CommandLine is an explicit command-line flag.
	CommandLine
	// MustHave is a value the caller asserts must win regardless of anything
	// else (used by tests and by internal call sites that require a specific
	// value for correctness, not convenience).
	MustHave
)

// ErrLowerPriority is returned by Value.Set when an attempt is made to
// overwrite a higher-priority value.
var ErrLowerPriority = errors.New("config: refusing to overwrite higher-priority value")

// Value is a single prioritized configuration slot.
type Value[T any] struct {
	mu       sync.Mutex
	set      bool
	priority Priority
	value    T
}

// NewValue constructs a Value pre-seeded with a Default-priority value.
func NewValue[T any](def T) *Value[T] {
	return &Value[T]{set: true, priority: Default, value: def}
}

// Set stores value at the given priority. It is a no-op error if a
// higher-priority value is already present.
func (v *Value[T]) Set(p Priority, value T) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.set && p < v.priority {
		return errors.Wrapf(ErrLowerPriority, "priority %d < existing %d", p, v.priority)
	}

	v.set = true
	v.priority = p
	v.value = value
	return nil
}

// Get returns the current value and whether it has ever been set.
func (v *Value[T]) Get() (T, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.value, v.set
}

// MustGet returns the current value, panicking if it was never set. Used
// only for options the engine treats as always having a Default.
func (v *Value[T]) MustGet() T {
	val, ok := v.Get()
	if !ok {
		panic("config: value read before being set")
	}
	return val
}

// Context is the explicit replacement for the source's global mutable
// option table (spec.md §9). It is threaded through calls instead of
// being read from package-level globals, so tests can run with
// independent configurations concurrently.
type Context struct {
	// WAARoot is the Working-copy Administrative Area root directory.
	WAARoot *Value[string]
	// SoftRoot, if set, is a prefix stripped from working-copy paths before
	// they are hashed by the Path-hash Locator (spec.md §4.1).
	SoftRoot *Value[string]
	// ConflictPolicy selects the Revert engine's conflict behavior.
	ConflictPolicy *Value[string]
	// MergeProgram is the external three-way merge command template, e.g.
	// "merge3 %mine %common %theirs".
	MergeProgram *Value[string]
	// MinChunkFileSize holds a minimum file length (bytes) for keeping a
	// Manber sidecar (spec.md §4.3 step 5). It can be set from a
	// configuration file, but no engine component reads it: sidecar
	// deletion uses manber.MinFileSize.
	MinChunkFileSize *Value[int64]
}

// NewContext returns a Context with sensible defaults, matching the
// source's built-in fallbacks.
func NewContext() *Context {
	return &Context{
		WAARoot:          NewValue(""),
		SoftRoot:         NewValue(""),
		ConflictPolicy:   NewValue("stop"),
		MergeProgram:     NewValue(""),
		MinChunkFileSize: NewValue(int64(4096)),
	}
}
