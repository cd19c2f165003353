package gitsource

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
)

// ErrNonFastForward indicates a change request cannot be applied by
// fast-forwarding the target branch.
var ErrNonFastForward = errors.New("change request is not a fast-forward")

// committerName is the identity source-tree preparation commits carry.
const committerName = "keel"

// MergeChangeRequest applies a change-request ref onto the current
// branch head. Only fast-forward application is supported; a diverged
// change request must be rebased by its author first, which keeps the
// resulting history linear and the first-parent chain meaningful.
func (r *Repo) MergeChangeRequest(ctx context.Context, remote, ref string) (string, error) {
	if remote != "" {
		// The change request often lives in a fork, not in the
		// workspace's origin. Fetch over an anonymous remote so the
		// workspace's remote configuration stays untouched.
		anon, err := r.repo.CreateRemoteAnonymous(&config.RemoteConfig{
			Name: "anonymous",
			URLs: []string{remote},
		})
		if err != nil {
			return "", fmt.Errorf("cannot address remote %q: %w", remote, err)
		}
		err = anon.FetchContext(ctx, &git.FetchOptions{
			RefSpecs: []config.RefSpec{
				config.RefSpec(fmt.Sprintf("+%s:%s", ref, ref)),
			},
		})
		if err != nil && !errors.Is(err, git.NoErrAlreadyUpToDate) {
			return "", fmt.Errorf("cannot fetch change request %q from %q: %w", ref, remote, err)
		}
	}

	head, err := r.repo.Head()
	if err != nil {
		return "", fmt.Errorf("cannot resolve HEAD: %w", err)
	}
	target, err := r.commitObject(ref)
	if err != nil {
		return "", err
	}

	ok, err := r.isAncestor(head.Hash(), target.Hash)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", fmt.Errorf("%w: %s does not contain %s", ErrNonFastForward, ref, head.Hash())
	}

	wt, err := r.repo.Worktree()
	if err != nil {
		return "", fmt.Errorf("cannot open worktree: %w", err)
	}
	if err := wt.Checkout(&git.CheckoutOptions{Hash: target.Hash, Force: true}); err != nil {
		return "", fmt.Errorf("cannot checkout %s: %w", target.Hash, err)
	}
	if head.Name().IsBranch() {
		if err := r.repo.Storer.SetReference(plumbing.NewHashReference(head.Name(), target.Hash)); err != nil {
			return "", fmt.Errorf("cannot advance %s: %w", head.Name(), err)
		}
		if err := wt.Checkout(&git.CheckoutOptions{Branch: head.Name(), Force: true}); err != nil {
			return "", fmt.Errorf("cannot re-attach %s: %w", head.Name(), err)
		}
	}
	return target.Hash.String(), nil
}

// CommitAll stages every worktree change and commits it. Used by
// apply-modality-change and bump-version to record prepared source
// trees. Returns the new commit hash.
func (r *Repo) CommitAll(_ context.Context, message string) (string, error) {
	wt, err := r.repo.Worktree()
	if err != nil {
		return "", fmt.Errorf("cannot open worktree: %w", err)
	}
	if err := wt.AddGlob("."); err != nil {
		return "", fmt.Errorf("cannot stage changes: %w", err)
	}

	hash, err := wt.Commit(message, &git.CommitOptions{
		Author: &object.Signature{
			Name:  committerName,
			Email: committerName + "@localhost",
			When:  time.Now(),
		},
	})
	if err != nil {
		return "", fmt.Errorf("cannot commit: %w", err)
	}
	return hash.String(), nil
}

// isAncestor reports whether a is an ancestor of b.
func (r *Repo) isAncestor(a, b plumbing.Hash) (bool, error) {
	if a == b {
		return true, nil
	}
	ac, err := r.repo.CommitObject(a)
	if err != nil {
		return false, fmt.Errorf("cannot load commit %s: %w", a, err)
	}
	bc, err := r.repo.CommitObject(b)
	if err != nil {
		return false, fmt.Errorf("cannot load commit %s: %w", b, err)
	}
	return ac.IsAncestor(bc)
}
