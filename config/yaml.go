package config

import (
	"io"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// fileDocument is the on-disk shape of a per-WC or /etc configuration
// file. Only the handful of options the core engine consumes are
// modeled here; the full option surface belongs to the (out of scope)
// command-line front end.
type fileDocument struct {
	SoftRoot         string `yaml:"soft_root"`
	ConflictPolicy   string `yaml:"conflict_policy"`
	MergeProgram     string `yaml:"merge_program"`
	MinChunkFileSize int64  `yaml:"min_chunk_file_size"`
}

// LoadYAML reads a configuration document from r and applies it to c at
// the given priority. Zero-valued fields in the document are treated as
// "not present" and left untouched, matching the source's layered
// defaulting behavior. A field refused because a higher-priority value
// is already set does not stop the remaining fields from being applied;
// LoadYAML then returns the first such ErrLowerPriority error.
func (c *Context) LoadYAML(r io.Reader, p Priority) error {
	var doc fileDocument
	dec := yaml.NewDecoder(r)
	if err := dec.Decode(&doc); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return errors.Wrap(err, "config: decode yaml")
	}

	var refused error
	apply := func(err error) error {
		if errors.Is(err, ErrLowerPriority) {
			if refused == nil {
				refused = err
			}
			return nil
		}
		return err
	}

	if doc.SoftRoot != "" {
		if err := apply(c.SoftRoot.Set(p, doc.SoftRoot)); err != nil {
			return err
		}
	}
	if doc.ConflictPolicy != "" {
		if err := apply(c.ConflictPolicy.Set(p, doc.ConflictPolicy)); err != nil {
			return err
		}
	}
	if doc.MergeProgram != "" {
		if err := apply(c.MergeProgram.Set(p, doc.MergeProgram)); err != nil {
			return err
		}
	}
	if doc.MinChunkFileSize != 0 {
		if err := apply(c.MinChunkFileSize.Set(p, doc.MinChunkFileSize)); err != nil {
			return err
		}
	}
	return refused
}
