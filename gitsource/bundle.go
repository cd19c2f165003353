package gitsource

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/format/packfile"
)

// bundleSignature is the v2 bundle header line.
const bundleSignature = "# v2 git bundle"

// Unbundle imports a git bundle file into the repository: the packfile
// is unpacked into object storage and the bundle's refs are created.
// Prerequisite refs (lines starting with "-") must already be present.
func (r *Repo) Unbundle(ctx context.Context, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("cannot open bundle %q: %w", path, err)
	}
	defer f.Close()

	br := bufio.NewReader(f)
	sig, err := br.ReadString('\n')
	if err != nil {
		return fmt.Errorf("cannot read bundle header: %w", err)
	}
	if strings.TrimSpace(sig) != bundleSignature {
		return fmt.Errorf("%q is not a v2 git bundle", path)
	}

	type bundleRef struct {
		name string
		hash plumbing.Hash
	}
	var refs []bundleRef

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		line, err := br.ReadString('\n')
		if err != nil {
			return fmt.Errorf("truncated bundle header: %w", err)
		}
		line = strings.TrimRight(line, "\n")
		if line == "" {
			break // header done, packfile follows
		}

		if strings.HasPrefix(line, "-") {
			// Prerequisite: the object must already exist here.
			hash := plumbing.NewHash(strings.Fields(line[1:])[0])
			if _, err := r.repo.CommitObject(hash); err != nil {
				return fmt.Errorf("bundle prerequisite %s missing from repository", hash)
			}
			continue
		}

		fields := strings.Fields(line)
		if len(fields) != 2 {
			return fmt.Errorf("malformed bundle ref line %q", line)
		}
		refs = append(refs, bundleRef{name: fields[1], hash: plumbing.NewHash(fields[0])})
	}

	if err := packfile.UpdateObjectStorage(r.repo.Storer, io.Reader(br)); err != nil {
		return fmt.Errorf("cannot unpack bundle objects: %w", err)
	}

	for _, ref := range refs {
		hashRef := plumbing.NewHashReference(plumbing.ReferenceName(ref.name), ref.hash)
		if err := r.repo.Storer.SetReference(hashRef); err != nil {
			return fmt.Errorf("cannot create ref %q: %w", ref.name, err)
		}
	}
	return nil
}
