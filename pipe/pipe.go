// Package pipe implements the commit-pipe/update-pipe filter chains
// spec.md §6/§9 describes: shell commands, configured per-entry via the
// fsvs:commit-pipe and fsvs:update-pipe properties, that transform file
// content on its way to or from the repository.
//
// Commands are tokenized with github.com/google/shlex rather than
// handed to a subshell, following rcowham/gitp4transfer's own use of
// shlex.Split to parse filter command lines (main.go) instead of paying
// for a shell fork per file.
package pipe

import (
	"bytes"
	"context"
	"io"
	"os/exec"

	"github.com/google/shlex"
	"github.com/pkg/errors"
)

// Filter is one compiled commit-pipe or update-pipe command.
type Filter struct {
	argv []string
}

// Parse tokenizes a shell command line into a Filter. An empty or
// whitespace-only command produces a no-op Filter (Empty() reports
// true), matching entries that set no pipe property at all.
func Parse(command string) (Filter, error) {
	argv, err := shlex.Split(command)
	if err != nil {
		return Filter{}, errors.Wrapf(err, "pipe: parse %q", command)
	}
	return Filter{argv: argv}, nil
}

// Empty reports whether the filter has no command to run.
func (f Filter) Empty() bool { return len(f.argv) == 0 }

// Env is the set of variables spec.md §6 says are exported to commit-
// pipe, update-pipe, and merge-program children.
type Env struct {
	EntryPath     string
	WCRoot        string
	TargetRev     string
	WAAPath       string
	ConfigPath    string
}

// Strings renders e as NAME=value pairs for a child process's
// environment.
func (e Env) Strings() []string {
	return []string{
		"FSVS_PATH=" + e.EntryPath,
		"FSVS_WC_ROOT=" + e.WCRoot,
		"FSVS_REVISION=" + e.TargetRev,
		"FSVS_WAA=" + e.WAAPath,
		"FSVS_CONF=" + e.ConfigPath,
	}
}

// Apply runs the filter synchronously: r is piped to the command's
// stdin, and its stdout is copied to w. A no-op Filter copies r to w
// directly.
func (f Filter) Apply(ctx context.Context, r io.Reader, w io.Writer, env Env) error {
	if f.Empty() {
		_, err := io.Copy(w, r)
		return err
	}

	cmd := exec.CommandContext(ctx, f.argv[0], f.argv[1:]...)
	cmd.Stdin = r
	cmd.Stdout = w
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	cmd.Env = append(cmd.Environ(), env.Strings()...)

	if err := cmd.Run(); err != nil {
		return errors.Wrapf(err, "pipe: %q failed: %s", f.argv[0], stderr.String())
	}
	return nil
}
