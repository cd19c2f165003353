package commit

import (
	"context"
	"regexp"
)

// Source abstracts source-control plumbing for the core.
// Implementations (see the gitsource package) own cloning, walking, and
// diffing; the engine only ever sees ordered ranges and file lists.
type Source interface {
	// Commits returns the range of commits reachable from target but not
	// from base, oldest first, following the first-parent chain.
	Commits(ctx context.Context, base, target string) (*Range, error)

	// ChangedFiles returns the paths that differ between base and target.
	ChangedFiles(ctx context.Context, base, target string) ([]string, error)

	// LastVersionTag returns the newest tag matching pattern that is
	// reachable from target, with the commit it points at.
	// Returns empty strings when no tag matches.
	LastVersionTag(ctx context.Context, target string, pattern *regexp.Regexp) (tag, hash string, err error)

	// Head returns the current checked-out commit and branch.
	Head(ctx context.Context) (hash, branch string, err error)
}
