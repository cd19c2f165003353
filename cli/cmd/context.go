package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/urfave/cli/v2"

	"github.com/keelci/keel/commit"
	"github.com/keelci/keel/config"
	"github.com/keelci/keel/gitsource"
	"github.com/keelci/keel/log"
	"github.com/keelci/keel/types"
	"github.com/keelci/keel/version"
)

// hotfixBranchPrefix marks hotfix lineages; release lineages use
// releaseBranchPrefix. Both are protected: only patch-level changes.
const (
	hotfixBranchPrefix  = "hotfix/"
	releaseBranchPrefix = "release/"
)

// buildEnv is the per-invocation context threaded through commands:
// config, repository, identity, and the resolved version. It is
// assembled once and read-only afterwards.
type buildEnv struct {
	cfg    *config.Config
	repo   *gitsource.Repo
	meta   *types.BuildMeta
	logger *log.Logger

	base      version.Version
	baseHash  string
	resolved  version.Version
	bumpLevel version.BumpLevel
	rng       *commit.Range
	changed   []string
}

// setupEnv loads the config, opens the workspace repository, and
// resolves the version for the current source state.
func setupEnv(ctx context.Context, c *cli.Context) (*buildEnv, error) {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return nil, cli.Exit(err.Error(), exitConfigError)
	}

	repo, err := gitsource.Open(c.String("workspace"))
	if err != nil {
		return nil, cli.Exit(err.Error(), exitConfigError)
	}

	head, branch, err := repo.Head(ctx)
	if err != nil {
		return nil, cli.Exit(err.Error(), exitConfigError)
	}

	env := &buildEnv{
		cfg:  cfg,
		repo: repo,
		meta: &types.BuildMeta{
			BuildID:      uuid.New().String(),
			Branch:       branch,
			TargetCommit: head,
			StartedAt:    time.Now(),
		},
	}
	env.logger = log.NewLogger(env.meta)

	if err := env.resolveVersion(ctx); err != nil {
		var exitErr cli.ExitCoder
		if errors.As(err, &exitErr) {
			return nil, err
		}
		return nil, cli.Exit(err.Error(), exitVersionError)
	}
	return env, nil
}

// tagPattern matches tags the configured prefix renders.
func (e *buildEnv) tagPattern() *regexp.Regexp {
	return regexp.MustCompile("^" + regexp.QuoteMeta(e.cfg.Version.TagPrefix) + `[0-9]`)
}

// resolveVersion computes the version for the current source state.
// The same inputs produce the same version for a local run and a remote
// orchestrator; there is no privileged mode.
func (e *buildEnv) resolveVersion(ctx context.Context) error {
	tag, tagHash, err := e.repo.LastVersionTag(ctx, e.meta.TargetCommit, e.tagPattern())
	if err != nil {
		return err
	}

	switch {
	case tag != "":
		e.base, err = version.ParseTag(tag, e.cfg.Version.TagPrefix)
		if err != nil {
			return fmt.Errorf("cannot parse version tag %q: %w", tag, err)
		}
		e.baseHash = tagHash
		e.meta.BaseCommit = tagHash
	case e.cfg.Version.InitialVersion != "":
		e.base, err = version.Parse(e.cfg.Version.InitialVersion)
		if err != nil {
			return fmt.Errorf("invalid initial-version: %w", err)
		}
		e.base = e.base.WithPrefix(e.cfg.Version.TagPrefix)
	}

	e.rng, err = e.repo.Commits(ctx, e.baseHash, e.meta.TargetCommit)
	if err != nil {
		return err
	}
	e.changed, err = e.repo.ChangedFiles(ctx, e.baseHash, e.meta.TargetCommit)
	if err != nil {
		return err
	}

	resolver := &version.Resolver{
		Policy:   e.cfg.Version.BumpPolicy(),
		MaxLevel: e.maxBumpLevel(),
		Log:      e.logger.Sugar(),
	}

	if strings.HasPrefix(e.meta.Branch, hotfixBranchPrefix) {
		return e.resolveHotfix(resolver)
	}

	e.resolved, e.bumpLevel, err = resolver.Resolve(e.base, e.rng)
	return err
}

// resolveHotfix computes the hotfix version for a hotfix lineage.
func (e *buildEnv) resolveHotfix(resolver *version.Resolver) error {
	identifier := ""
	hashDerived := false

	if pattern := e.cfg.Version.HotfixBranchPattern; pattern != "" {
		re, err := regexp.Compile(pattern)
		if err != nil {
			return fmt.Errorf("invalid hotfix-branch-pattern: %w", err)
		}
		identifier, err = version.IdentifierFromBranch(e.meta.Branch, re)
		if err != nil {
			return err
		}
	} else {
		var err error
		identifier, err = version.DefaultIdentifier(e.rng)
		if err != nil {
			return err
		}
		hashDerived = true
	}

	existing, err := e.repo.VersionTags(e.tagPattern())
	if err != nil {
		return err
	}

	hctx := version.HotfixContext{
		Base:       e.base,
		Identifier: identifier,
		Counter:    version.NextCounter(existing, e.base, identifier),
	}
	e.resolved, err = resolver.ResolveHotfix(hctx, e.rng, hashDerived)
	e.bumpLevel = version.LevelPatch
	return err
}

// maxBumpLevel caps the bump level by branch: hotfix and release
// lineages only accept patch-level changes.
func (e *buildEnv) maxBumpLevel() version.BumpLevel {
	branch := e.meta.Branch
	if strings.HasPrefix(branch, hotfixBranchPrefix) || strings.HasPrefix(branch, releaseBranchPrefix) {
		return version.LevelPatch
	}
	return version.LevelMajor
}

// mayPublish reports whether this invocation is allowed to publish:
// only builds of the mainline or a protected lineage publish.
func (e *buildEnv) mayPublish() bool {
	branch := e.meta.Branch
	return branch == "main" || branch == "master" ||
		strings.HasPrefix(branch, hotfixBranchPrefix) ||
		strings.HasPrefix(branch, releaseBranchPrefix)
}

// passThroughEnv filters the process environment down to the names the
// config declares.
func (e *buildEnv) passThroughEnv() map[string]string {
	out := map[string]string{}
	for _, name := range e.cfg.PassThroughEnv {
		if v, ok := os.LookupEnv(name); ok {
			out[name] = v
		}
	}
	return out
}
