package graph

import (
	"errors"
	"fmt"
	"testing"

	"github.com/keelci/keel/commit"
	"github.com/keelci/keel/config"
	"github.com/keelci/keel/version"
)

func mustConfig(t *testing.T, doc string) *config.Config {
	t.Helper()
	cfg, err := config.Parse([]byte(doc))
	if err != nil {
		t.Fatalf("config: %v", err)
	}
	return cfg
}

func rangeOf(messages ...string) *commit.Range {
	r := &commit.Range{Base: "base", Target: "target"}
	for i, m := range messages {
		hash := fmt.Sprintf("%040x", i+1)
		r.Commits = append(r.Commits, commit.New(hash, m, "Dev <dev@example.com>"))
	}
	return r
}

func TestBuild_SubstitutesVariables(t *testing.T) {
	cfg := mustConfig(t, `
phases:
  publish:
    all:
      - sh: docker push registry/app:$PUBLISH_VERSION
      - sh: git tag ${VERSION} $GIT_COMMIT
`)
	g, err := Build(&Inputs{
		Config:       cfg,
		Version:      version.MustParse("1.2.3+g9fceb02"),
		TargetCommit: "deadbeef",
		Branch:       "main",
	})
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	steps := g.Phases[0].Variants[0].Steps
	if steps[0].Command != "docker push registry/app:1.2.3.g9fceb02" {
		t.Errorf("PUBLISH_VERSION not registry-safe: %q", steps[0].Command)
	}
	if steps[1].Command != "git tag 1.2.3+g9fceb02 deadbeef" {
		t.Errorf("command = %q", steps[1].Command)
	}
}

func TestBuild_PassThroughEnv(t *testing.T) {
	cfg := mustConfig(t, `
pass-through-environment-vars:
  - DOCKER_REGISTRY
phases:
  publish:
    all:
      - sh: docker push $DOCKER_REGISTRY/app
`)
	g, err := Build(&Inputs{
		Config:  cfg,
		Version: version.MustParse("1.0.0"),
		Env:     map[string]string{"DOCKER_REGISTRY": "registry.example.com"},
	})
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if got := g.Phases[0].Variants[0].Steps[0].Command; got != "docker push registry.example.com/app" {
		t.Errorf("command = %q", got)
	}
}

func TestBuild_NewVersionOnlyGate(t *testing.T) {
	doc := `
phases:
  build:
    all:
      - sh: make build
  publish:
    all:
      - sh: make publish
        run-on-change: new-version-only
`
	current := version.MustParse("1.2.3")

	g, err := Build(&Inputs{
		Config:        mustConfig(t, doc),
		Version:       current,
		LastPublished: current,
	})
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if len(g.Phases) != 1 || g.Phases[0].Name != "build" {
		t.Errorf("same version should drop the publish phase, got %+v", g.Phases)
	}

	g, err = Build(&Inputs{
		Config:        mustConfig(t, doc),
		Version:       version.MustParse("1.2.4"),
		LastPublished: current,
	})
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if len(g.Phases) != 2 {
		t.Errorf("new version should keep the publish phase, got %+v", g.Phases)
	}
}

func TestBuild_NewVersionOnlyGate_NoLastPublished(t *testing.T) {
	cfg := mustConfig(t, `
phases:
  publish:
    all:
      - sh: make publish
        run-on-change: new-version-only
`)
	g, err := Build(&Inputs{Config: cfg, Version: version.MustParse("0.1.0")})
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if len(g.Phases) != 1 {
		t.Error("unknown last published version should let the gate pass")
	}
}

func TestBuild_OnlyGate(t *testing.T) {
	doc := `
phases:
  docs:
    all:
      - sh: make docs
        run-on-change: only
`
	g, err := Build(&Inputs{Config: mustConfig(t, doc), Version: version.MustParse("1.0.0")})
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if len(g.Phases) != 0 {
		t.Error("no changed files should gate the step out")
	}

	g, err = Build(&Inputs{
		Config:       mustConfig(t, doc),
		Version:      version.MustParse("1.0.0"),
		ChangedFiles: []string{"docs/index.md"},
	})
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if len(g.Phases) != 1 {
		t.Error("changed files should let the gate pass")
	}
}

func TestBuild_ForeachExpansion(t *testing.T) {
	cfg := mustConfig(t, `
phases:
  verify:
    all:
      - sh: git verify-commit $AUTOSQUASHED_COMMIT
        foreach: AUTOSQUASHED_COMMIT
`)
	rng := rangeOf("fix: a", "fix: b", "fix: c")
	g, err := Build(&Inputs{Config: cfg, Version: version.MustParse("1.0.0"), Range: rng})
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	steps := g.Phases[0].Variants[0].Steps
	if len(steps) != 3 {
		t.Fatalf("got %d steps, want one per commit", len(steps))
	}
	for i, s := range steps {
		wantHash := rng.Commits[i].Hash
		if s.SourceCommit != wantHash {
			t.Errorf("step %d SourceCommit = %q, want %q (oldest first)", i, s.SourceCommit, wantHash)
		}
		if want := "git verify-commit " + wantHash; s.Command != want {
			t.Errorf("step %d command = %q, want %q", i, s.Command, want)
		}
	}
}

func TestBuild_ForeachEmptyRange(t *testing.T) {
	cfg := mustConfig(t, `
phases:
  verify:
    all:
      - sh: git verify-commit $AUTOSQUASHED_COMMIT
        foreach: AUTOSQUASHED_COMMIT
`)
	g, err := Build(&Inputs{Config: cfg, Version: version.MustParse("1.0.0"), Range: rangeOf()})
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if len(g.Phases) != 0 {
		t.Error("empty range should expand foreach to nothing")
	}
}

func TestBuild_UnknownVariable(t *testing.T) {
	cfg := mustConfig(t, `
phases:
  build:
    all:
      - sh: echo $NOT_DECLARED
`)
	_, err := Build(&Inputs{Config: cfg, Version: version.MustParse("1.0.0")})
	if !errors.Is(err, ErrUnknownVariable) {
		t.Errorf("err = %v, want ErrUnknownVariable", err)
	}
	var be *BuildError
	if !errors.As(err, &be) {
		t.Fatalf("err = %T, want *BuildError", err)
	}
	if be.Where == "" {
		t.Error("BuildError should locate the step")
	}
}

func TestBuild_ConflictingGates(t *testing.T) {
	cfg := mustConfig(t, `
phases:
  build:
    x:
      - sh: make build
        run-on-change: only
  publish:
    x:
      - sh: make publish
        run-on-change: new-version-only
`)
	_, err := Build(&Inputs{Config: cfg, Version: version.MustParse("1.0.0")})
	if !errors.Is(err, ErrConflictingGate) {
		t.Errorf("err = %v, want ErrConflictingGate", err)
	}
}

func TestBuild_CredentialTypeMismatch(t *testing.T) {
	cfg := mustConfig(t, `
phases:
  build:
    x:
      - sh: make build
        with-credentials:
          - id: registry
            type: string
            string-variable: TOKEN
  publish:
    x:
      - sh: make publish
        with-credentials:
          - id: registry
            type: username-password
            username-variable: USER
            password-variable: PASS
`)
	_, err := Build(&Inputs{Config: cfg, Version: version.MustParse("1.0.0")})
	if !errors.Is(err, ErrCredentialTypeMismatch) {
		t.Errorf("err = %v, want ErrCredentialTypeMismatch", err)
	}
}

func TestBuild_ChainFromPrevious(t *testing.T) {
	cfg := mustConfig(t, `
phases:
  build:
    x:
      - sh: make build
        wait-on-full-previous-phase: false
  test:
    x:
      - sh: make test
        wait-on-full-previous-phase: false
    y:
      - sh: make integration
`)
	g, err := Build(&Inputs{Config: cfg, Version: version.MustParse("1.0.0")})
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	if g.Variant("build", "x").ChainFromPrevious {
		t.Error("a first-phase variant has nothing to chain from")
	}
	if !g.Variant("test", "x").ChainFromPrevious {
		t.Error("explicit false on the first step should chain the variant")
	}
	if g.Variant("test", "y").ChainFromPrevious {
		t.Error("default should not chain")
	}
}

func TestBuild_NodeLabel(t *testing.T) {
	cfg := mustConfig(t, `
phases:
  build:
    x:
      - sh: make build
        node-label: linux-large
      - sh: make package
`)
	g, err := Build(&Inputs{Config: cfg, Version: version.MustParse("1.0.0")})
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if got := g.Variant("build", "x").NodeLabel; got != "linux-large" {
		t.Errorf("NodeLabel = %q", got)
	}
}

func TestBuild_Locks(t *testing.T) {
	cfg := mustConfig(t, `
ci-locks:
  - repo-name: shared-infra
    branch: main
  - repo-name: staging-env
    from-phase-onward: deploy
phases:
  build:
    all:
      - sh: make build
  deploy:
    all:
      - sh: make deploy
`)
	g, err := Build(&Inputs{Config: cfg, Version: version.MustParse("1.0.0")})
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	if len(g.BuildLocks) != 1 || g.BuildLocks[0] != "shared-infra/main" {
		t.Errorf("BuildLocks = %v", g.BuildLocks)
	}
	if len(g.Phases[0].AcquireLocks) != 0 {
		t.Errorf("build phase should take no locks, got %v", g.Phases[0].AcquireLocks)
	}
	if len(g.Phases[1].AcquireLocks) != 1 || g.Phases[1].AcquireLocks[0] != "staging-env" {
		t.Errorf("deploy phase locks = %v", g.Phases[1].AcquireLocks)
	}
}

func TestBuild_TimeoutAndArtifacts(t *testing.T) {
	cfg := mustConfig(t, `
phases:
  test:
    all:
      - sh: make test
        timeout: 90
        junit:
          - reports/junit.xml
        archive:
          artifacts:
            - pattern: dist/app-$VERSION.tar.gz
            - pattern: logs/*.log
              allow-empty: true
`)
	g, err := Build(&Inputs{Config: cfg, Version: version.MustParse("2.0.0")})
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	step := g.Phases[0].Variants[0].Steps[0]
	if step.Timeout.Seconds() != 90 {
		t.Errorf("Timeout = %s", step.Timeout)
	}
	if len(step.JUnit) != 1 || step.JUnit[0] != "reports/junit.xml" {
		t.Errorf("JUnit = %v", step.JUnit)
	}
	if step.Archive[0].Pattern != "dist/app-2.0.0.tar.gz" {
		t.Errorf("archive pattern not substituted: %q", step.Archive[0].Pattern)
	}
	if !step.Archive[1].AllowEmpty {
		t.Error("allow-empty lost in resolution")
	}
}

func TestBuildStandalone(t *testing.T) {
	steps := []config.Step{
		{Sh: "git rebase --autosquash $GIT_COMMIT"},
	}
	g, err := BuildStandalone(&Inputs{
		Config:       mustConfig(t, "phases:\n  build:\n    all:\n      - sh: make\n"),
		Version:      version.MustParse("1.0.0"),
		TargetCommit: "deadbeef",
	}, "autosquash", steps)
	if err != nil {
		t.Fatalf("BuildStandalone failed: %v", err)
	}
	if len(g.Phases) != 1 || len(g.Phases[0].Variants) != 1 {
		t.Fatalf("graph shape = %+v", g)
	}
	if got := g.Phases[0].Variants[0].Steps[0].Command; got != "git rebase --autosquash deadbeef" {
		t.Errorf("command = %q", got)
	}
}

func TestBuildStandalone_AllGatedOut(t *testing.T) {
	steps := []config.Step{
		{Sh: "make docs", RunOnChange: config.RunOnlyChanged},
	}
	g, err := BuildStandalone(&Inputs{
		Config:  mustConfig(t, "phases:\n  build:\n    all:\n      - sh: make\n"),
		Version: version.MustParse("1.0.0"),
	}, "docs", steps)
	if err != nil {
		t.Fatalf("BuildStandalone failed: %v", err)
	}
	if len(g.Phases) != 0 {
		t.Error("fully gated step list should produce an empty graph")
	}
}
