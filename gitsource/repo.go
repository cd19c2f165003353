// Package gitsource implements the commit.Source capability over a real
// git repository using go-git. The engine core never touches git
// plumbing directly; everything it needs arrives through this package
// as ordered ranges, file lists, and tags.
package gitsource

import (
	"context"
	"fmt"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/storage"

	"github.com/go-git/go-billy/v5"

	"github.com/keelci/keel/commit"
)

// Repo wraps a git repository as a commit.Source.
type Repo struct {
	repo *git.Repository
}

// compile-time interface check
var _ commit.Source = (*Repo)(nil)

// Open opens an existing repository at path.
func Open(path string) (*Repo, error) {
	r, err := git.PlainOpen(path)
	if err != nil {
		return nil, fmt.Errorf("cannot open repository at %q: %w", path, err)
	}
	return &Repo{repo: r}, nil
}

// Clone clones remote into path and checks out ref. A ref that is not a
// branch (a tag or a commit hash) yields a detached HEAD.
func Clone(ctx context.Context, path, remote, ref string) (*Repo, error) {
	opts := &git.CloneOptions{URL: remote}
	if ref != "" {
		opts.ReferenceName = plumbing.NewBranchReferenceName(ref)
	}
	r, err := git.PlainCloneContext(ctx, path, false, opts)
	if err != nil && ref != "" {
		// Not a branch name; clone the default branch and move the
		// worktree to the requested revision.
		r, err = git.PlainCloneContext(ctx, path, false, &git.CloneOptions{URL: remote})
		if err == nil {
			repo := &Repo{repo: r}
			if err := repo.Checkout(ctx, ref); err != nil {
				return nil, err
			}
			return repo, nil
		}
	}
	if err != nil {
		return nil, fmt.Errorf("cannot clone %q: %w", remote, err)
	}
	return &Repo{repo: r}, nil
}

// Init creates an empty repository over the given storage and worktree.
// Used by tests and by unbundling into a fresh workspace.
func Init(s storage.Storer, worktree billy.Filesystem) (*Repo, error) {
	r, err := git.Init(s, worktree)
	if err != nil {
		return nil, fmt.Errorf("cannot init repository: %w", err)
	}
	return &Repo{repo: r}, nil
}

// Head implements commit.Source.
func (r *Repo) Head(_ context.Context) (hash, branch string, err error) {
	ref, err := r.repo.Head()
	if err != nil {
		return "", "", fmt.Errorf("cannot resolve HEAD: %w", err)
	}
	branch = ""
	if ref.Name().IsBranch() {
		branch = ref.Name().Short()
	}
	return ref.Hash().String(), branch, nil
}

// Checkout moves the worktree to the given revision.
func (r *Repo) Checkout(_ context.Context, rev string) error {
	wt, err := r.repo.Worktree()
	if err != nil {
		return fmt.Errorf("cannot open worktree: %w", err)
	}

	hash, err := r.resolve(rev)
	if err != nil {
		return err
	}
	if err := wt.Checkout(&git.CheckoutOptions{Hash: hash}); err != nil {
		return fmt.Errorf("cannot checkout %q: %w", rev, err)
	}
	return nil
}

// resolve maps a revision expression to a commit hash.
func (r *Repo) resolve(rev string) (plumbing.Hash, error) {
	h, err := r.repo.ResolveRevision(plumbing.Revision(rev))
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("cannot resolve revision %q: %w", rev, err)
	}
	return *h, nil
}

// commitObject loads the commit a revision points at, peeling tags.
func (r *Repo) commitObject(rev string) (*object.Commit, error) {
	hash, err := r.resolve(rev)
	if err != nil {
		return nil, err
	}
	c, err := r.repo.CommitObject(hash)
	if err != nil {
		return nil, fmt.Errorf("cannot load commit %s: %w", hash, err)
	}
	return c, nil
}
