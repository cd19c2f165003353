package gitsource

import (
	"context"
	"fmt"
	"sort"

	"github.com/go-git/go-git/v5/plumbing/object"

	"github.com/keelci/keel/commit"
)

// maxRangeLength caps the first-parent walk: a range longer than this
// indicates a wrong base and would make foreach expansion explode.
const maxRangeLength = 10000

// Commits implements commit.Source: the commits reachable from target
// but not from base, oldest first, along the first-parent chain. The
// first-parent rule decides the "first commit of a lineage" tie-break
// deterministically when diamond merges leave several candidates.
func (r *Repo) Commits(ctx context.Context, base, target string) (*commit.Range, error) {
	targetCommit, err := r.commitObject(target)
	if err != nil {
		return nil, err
	}

	var baseHash string
	if base != "" {
		baseCommit, err := r.commitObject(base)
		if err != nil {
			return nil, err
		}
		baseHash = baseCommit.Hash.String()
	}

	var commits []commit.Commit
	cur := targetCommit
	for cur != nil && cur.Hash.String() != baseHash {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if len(commits) >= maxRangeLength {
			return nil, fmt.Errorf("commit range %s..%s exceeds %d commits", base, target, maxRangeLength)
		}

		commits = append(commits, commit.New(
			cur.Hash.String(),
			cur.Message,
			cur.Author.String(),
		))

		if cur.NumParents() == 0 {
			if baseHash != "" {
				return nil, fmt.Errorf("base %q is not an ancestor of %q along the first-parent chain", base, target)
			}
			break
		}
		parent, err := cur.Parent(0)
		if err != nil {
			return nil, fmt.Errorf("cannot walk first parent of %s: %w", cur.Hash, err)
		}
		cur = parent
	}

	// The walk collected newest first; the model is oldest first.
	for i, j := 0, len(commits)-1; i < j; i, j = i+1, j-1 {
		commits[i], commits[j] = commits[j], commits[i]
	}

	return &commit.Range{
		Base:    baseHash,
		Target:  targetCommit.Hash.String(),
		Commits: commits,
	}, nil
}

// ChangedFiles implements commit.Source: the paths differing between
// base and target, sorted.
func (r *Repo) ChangedFiles(_ context.Context, base, target string) ([]string, error) {
	targetCommit, err := r.commitObject(target)
	if err != nil {
		return nil, err
	}
	targetTree, err := targetCommit.Tree()
	if err != nil {
		return nil, fmt.Errorf("cannot load tree of %q: %w", target, err)
	}

	var baseTree *object.Tree
	if base != "" {
		baseCommit, err := r.commitObject(base)
		if err != nil {
			return nil, err
		}
		baseTree, err = baseCommit.Tree()
		if err != nil {
			return nil, fmt.Errorf("cannot load tree of %q: %w", base, err)
		}
	}

	changes, err := object.DiffTree(baseTree, targetTree)
	if err != nil {
		return nil, fmt.Errorf("cannot diff %q..%q: %w", base, target, err)
	}

	seen := map[string]bool{}
	var files []string
	for _, ch := range changes {
		for _, name := range []string{ch.From.Name, ch.To.Name} {
			if name != "" && !seen[name] {
				seen[name] = true
				files = append(files, name)
			}
		}
	}
	sort.Strings(files)
	return files, nil
}
