package gitsource

import (
	"context"
	"fmt"
	"regexp"

	"github.com/go-git/go-git/v5/plumbing"

	"github.com/keelci/keel/version"
)

// tagEntry pairs a tag name with the commit it (eventually) points at.
type tagEntry struct {
	name string
	hash string
}

// listTags returns all tags matching pattern, annotated tags peeled to
// their target commit.
func (r *Repo) listTags(pattern *regexp.Regexp) ([]tagEntry, error) {
	iter, err := r.repo.Tags()
	if err != nil {
		return nil, fmt.Errorf("cannot list tags: %w", err)
	}
	defer iter.Close()

	var entries []tagEntry
	err = iter.ForEach(func(ref *plumbing.Reference) error {
		name := ref.Name().Short()
		if pattern != nil && !pattern.MatchString(name) {
			return nil
		}

		hash := ref.Hash()
		if tag, err := r.repo.TagObject(hash); err == nil {
			hash = tag.Target
		}
		entries = append(entries, tagEntry{name: name, hash: hash.String()})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("cannot iterate tags: %w", err)
	}
	return entries, nil
}

// LastVersionTag implements commit.Source: the highest version tag
// matching pattern that is an ancestor of target along the first-parent
// chain. Version order, not tag creation order, decides "last".
func (r *Repo) LastVersionTag(ctx context.Context, target string, pattern *regexp.Regexp) (string, string, error) {
	entries, err := r.listTags(pattern)
	if err != nil {
		return "", "", err
	}
	if len(entries) == 0 {
		return "", "", nil
	}

	reachable, err := r.firstParentSet(ctx, target)
	if err != nil {
		return "", "", err
	}

	var bestTag, bestHash string
	var best version.Version
	for _, e := range entries {
		if !reachable[e.hash] {
			continue
		}
		v, err := parseAnyTag(e.name)
		if err != nil {
			continue // not a version tag after all
		}
		if best.IsZero() || best.LessThan(v) {
			best, bestTag, bestHash = v, e.name, e.hash
		}
	}
	return bestTag, bestHash, nil
}

// VersionTags returns every parseable version tag, used to derive the
// next hotfix counter.
func (r *Repo) VersionTags(pattern *regexp.Regexp) ([]version.Version, error) {
	entries, err := r.listTags(pattern)
	if err != nil {
		return nil, err
	}
	var out []version.Version
	for _, e := range entries {
		if v, err := parseAnyTag(e.name); err == nil {
			out = append(out, v)
		}
	}
	return out, nil
}

// CreateTag tags the given revision.
func (r *Repo) CreateTag(_ context.Context, name, rev string) error {
	hash, err := r.resolve(rev)
	if err != nil {
		return err
	}
	if _, err := r.repo.CreateTag(name, hash, nil); err != nil {
		return fmt.Errorf("cannot create tag %q: %w", name, err)
	}
	return nil
}

// firstParentSet collects the hashes on the first-parent chain from rev
// back to the root.
func (r *Repo) firstParentSet(ctx context.Context, rev string) (map[string]bool, error) {
	cur, err := r.commitObject(rev)
	if err != nil {
		return nil, err
	}

	set := map[string]bool{}
	for cur != nil {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		set[cur.Hash.String()] = true
		if cur.NumParents() == 0 {
			break
		}
		cur, err = cur.Parent(0)
		if err != nil {
			return nil, fmt.Errorf("cannot walk first parent: %w", err)
		}
	}
	return set, nil
}

// parseAnyTag parses a tag with or without the conventional "v" prefix.
func parseAnyTag(tag string) (version.Version, error) {
	if v, err := version.ParseTag(tag, "v"); err == nil {
		return v, nil
	}
	return version.Parse(tag)
}
