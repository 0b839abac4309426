package main

import (
	"context"
	"net/url"

	"github.com/pkg/errors"

	"github.com/phmarek/fsvs-sub001/repo"
)

// backends maps a URL scheme to the repo.OpenFunc that can open a
// Session against it. Nothing is registered here: the actual
// repository transport is an external collaborator this module only
// consumes an interface for (spec.md §1) — wiring a real Subversion (or
// any other) client is outside this module's scope. Commands that need
// a Session (commit, explicit-revision revert) fail with a clear error
// until a caller registers one, rather than pretending to talk to a
// server that was never implemented.
var backends = map[string]repo.OpenFunc{}

// openSession resolves target's scheme against the backend registry.
func openSession(ctx context.Context, target string) (repo.Session, error) {
	u, err := url.Parse(target)
	if err != nil {
		return nil, errors.Wrapf(err, "fsvs: parse repository url %q", target)
	}
	open, ok := backends[u.Scheme]
	if !ok {
		return nil, errors.Errorf("fsvs: no repository backend registered for scheme %q (url %q)", u.Scheme, target)
	}
	return open(ctx, target)
}
