package graph

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/keelci/keel/commit"
	"github.com/keelci/keel/config"
	"github.com/keelci/keel/version"
)

// Step is one fully resolved unit of work: command and paths have all
// variables substituted, gating has been applied, and the volume and
// credential references are copies of the config model's.
type Step struct {
	Description string
	Command     string
	Env         map[string]string
	Image       string
	Volumes     []config.VolumeSpec
	Credentials []config.CredentialRef
	Timeout     time.Duration
	Archive     []config.ArtifactPattern
	JUnit       []string
	// SourceCommit is set for steps expanded from a foreach construct:
	// the commit this instance operates on.
	SourceCommit string
}

// Variant is a resolved parallel branch within one phase.
type Variant struct {
	Name      string
	NodeLabel string
	// ChainFromPrevious continues on the previous phase's executor
	// without waiting for the full previous-phase join.
	ChainFromPrevious bool
	Steps             []Step
}

// Phase is one resolved, ordered stage. Variants that resolved to no
// steps (NOP) are absent; a phase whose variants are all NOP is absent
// from the graph.
type Phase struct {
	Name     string
	Variants []Variant
	// AcquireLocks are lock names to take before this phase starts.
	AcquireLocks []string
}

// Graph is the immutable execution structure for one invocation.
type Graph struct {
	Phases []Phase
	// BuildLocks are lock names held for the whole build.
	BuildLocks []string
	// Version is the resolved version the graph was built for.
	Version version.Version
}

// Variant returns the named variant of the named phase, or nil.
func (g *Graph) Variant(phase, name string) *Variant {
	for i := range g.Phases {
		if g.Phases[i].Name != phase {
			continue
		}
		for j := range g.Phases[i].Variants {
			if g.Phases[i].Variants[j].Name == name {
				return &g.Phases[i].Variants[j]
			}
		}
	}
	return nil
}

// Inputs carries everything graph construction needs. All fields are
// read-only during Build.
type Inputs struct {
	Config *config.Config
	// Version is the resolved version for this invocation.
	Version version.Version
	// LastPublished is the last published version; zero when none is
	// known, which makes every new-version-only gate pass.
	LastPublished version.Version
	// Range is the commit range that produced Version.
	Range *commit.Range
	// ChangedFiles are the paths differing between base and target.
	ChangedFiles []string
	// Branch and TargetCommit feed GIT_BRANCH / GIT_COMMIT.
	Branch       string
	TargetCommit string
	// Env is the pass-through environment, already filtered to the
	// names the config declares.
	Env map[string]string
}

// baseVars builds the variable namespace every step sees.
func (in *Inputs) baseVars() map[string]string {
	vars := make(map[string]string, len(in.Env)+5)
	for k, v := range in.Env {
		vars[k] = v
	}
	vars["VERSION"] = in.Version.String()
	vars["PURE_VERSION"] = in.Version.Pure()
	// Registry-safe rendering: build metadata separator is not accepted
	// by most artifact hosts.
	vars["PUBLISH_VERSION"] = strings.ReplaceAll(in.Version.String(), "+", ".")
	vars["GIT_COMMIT"] = in.TargetCommit
	vars["GIT_BRANCH"] = in.Branch
	return vars
}

// Build constructs the execution graph: phases in declaration order,
// variables substituted, foreach steps expanded over the commit range,
// and run-on-change gates applied. The result is never mutated.
func Build(in *Inputs) (*Graph, error) {
	if err := checkGateConsistency(in.Config); err != nil {
		return nil, err
	}
	if err := checkCredentialConsistency(in.Config); err != nil {
		return nil, err
	}

	g := &Graph{Version: in.Version}
	seen := map[string]bool{}
	vars := in.baseVars()

	started := false
	for _, pc := range in.Config.Phases {
		if seen[pc.Name] {
			return nil, buildErrorf(ErrDuplicatePhase, "%q", pc.Name)
		}
		seen[pc.Name] = true

		phase := Phase{Name: pc.Name}
		for _, lock := range in.Config.CILocks {
			if lock.FromPhaseOnward == pc.Name {
				phase.AcquireLocks = append(phase.AcquireLocks, lock.Name())
			}
		}

		for _, vc := range pc.Variants {
			variant, err := resolveVariant(in, pc.Name, &vc, vars, started)
			if err != nil {
				return nil, err
			}
			if len(variant.Steps) == 0 {
				continue // NOP: no steps survive gating, no allocation
			}
			phase.Variants = append(phase.Variants, *variant)
		}

		if len(phase.Variants) == 0 && len(phase.AcquireLocks) == 0 {
			continue
		}
		g.Phases = append(g.Phases, phase)
		started = true
	}

	for _, lock := range in.Config.CILocks {
		if lock.FromPhaseOnward == "" {
			g.BuildLocks = append(g.BuildLocks, lock.Name())
		}
	}
	return g, nil
}

// BuildStandalone resolves a bare step list (modality preparation,
// post-submit) into a single-phase graph with the same gating and
// substitution rules as a full build.
func BuildStandalone(in *Inputs, name string, steps []config.Step) (*Graph, error) {
	vc := &config.Variant{Name: name, Steps: steps}
	variant, err := resolveVariant(in, name, vc, in.baseVars(), false)
	if err != nil {
		return nil, err
	}
	g := &Graph{Version: in.Version}
	if len(variant.Steps) > 0 {
		g.Phases = []Phase{{Name: name, Variants: []Variant{*variant}}}
	}
	return g, nil
}

// resolveVariant resolves one phase's entry for a variant: gating,
// foreach expansion, and variable substitution, in that order of
// visibility (a gated-out step is never partially expanded).
func resolveVariant(in *Inputs, phase string, vc *config.Variant, vars map[string]string, chainable bool) (*Variant, error) {
	variant := &Variant{Name: vc.Name}

	for i := range vc.Steps {
		sc := &vc.Steps[i]
		if i == 0 {
			variant.NodeLabel = sc.NodeLabel
			if w := sc.WaitOnFullPreviousPhase; w != nil && !*w && chainable {
				variant.ChainFromPrevious = true
			}
		}

		if !gatePasses(in, sc.Gate()) {
			continue
		}

		where := fmt.Sprintf("phase %s, variant %s, step %d", phase, vc.Name, i)
		if sc.Foreach != "" {
			if in.Range != nil {
				for j := range in.Range.Commits {
					c := &in.Range.Commits[j]
					perCommit := cloneVars(vars)
					perCommit["AUTOSQUASHED_COMMIT"] = c.Hash
					perCommit["SOURCE_COMMIT"] = c.Hash
					step, err := resolveStep(in, sc, perCommit, where)
					if err != nil {
						return nil, err
					}
					step.SourceCommit = c.Hash
					variant.Steps = append(variant.Steps, *step)
				}
			}
			continue
		}

		step, err := resolveStep(in, sc, vars, where)
		if err != nil {
			return nil, err
		}
		variant.Steps = append(variant.Steps, *step)
	}
	return variant, nil
}

func gatePasses(in *Inputs, gate config.RunOnChange) bool {
	switch gate {
	case config.RunOnlyChanged:
		// The config carries no variant-to-path mapping, so any change
		// between base and target gates every `only` step in.
		return len(in.ChangedFiles) > 0
	case config.RunNewVersionOnly:
		return in.LastPublished.IsZero() || !in.Version.Equal(in.LastPublished)
	default:
		return true
	}
}

func resolveStep(in *Inputs, sc *config.Step, vars map[string]string, where string) (*Step, error) {
	command, err := expand(sc.Sh, vars)
	if err != nil {
		return nil, wrapWhere(err, where)
	}

	step := &Step{
		Description: sc.Description,
		Command:     command,
		Image:       sc.Image,
		Timeout:     sc.Timeout(),
		Env:         vars,
	}

	for _, name := range sc.Volumes {
		if v := in.Config.Volume(name); v != nil {
			step.Volumes = append(step.Volumes, *v)
		}
	}
	step.Credentials = append(step.Credentials, sc.WithCredentials...)

	if sc.Archive != nil {
		for _, a := range sc.Archive.Artifacts {
			pattern, err := expand(a.Pattern, vars)
			if err != nil {
				return nil, wrapWhere(err, where)
			}
			step.Archive = append(step.Archive, config.ArtifactPattern{
				Pattern:    pattern,
				AllowEmpty: a.AllowEmpty,
			})
		}
	}
	for _, j := range sc.JUnit {
		path, err := expand(j, vars)
		if err != nil {
			return nil, wrapWhere(err, where)
		}
		step.JUnit = append(step.JUnit, path)
	}
	return step, nil
}

func wrapWhere(err error, where string) error {
	var be *BuildError
	if errors.As(err, &be) {
		be.Where = where + ": " + be.Where
		return be
	}
	return err
}

// checkCredentialConsistency rejects a credential id referenced with two
// different types anywhere in the config. Per-step shape is validated at
// load time; this cross-step check is only possible over the whole model.
func checkCredentialConsistency(cfg *config.Config) error {
	types := map[string]config.CredentialType{}
	check := func(steps []config.Step) error {
		for i := range steps {
			for _, cred := range steps[i].WithCredentials {
				prev, ok := types[cred.ID]
				if !ok {
					types[cred.ID] = cred.Type
					continue
				}
				if prev != cred.Type {
					return buildErrorf(ErrCredentialTypeMismatch,
						"credential %q referenced as both %q and %q", cred.ID, prev, cred.Type)
				}
			}
		}
		return nil
	}

	for _, p := range cfg.Phases {
		for _, v := range p.Variants {
			if err := check(v.Steps); err != nil {
				return err
			}
		}
	}
	return check(cfg.PostSubmit)
}

// checkGateConsistency rejects a variant that declares two different
// non-default gates anywhere across the config: such a variant would be
// NOP in some phases and live in others depending on which gate fires,
// breaking the executor-reuse chain.
func checkGateConsistency(cfg *config.Config) error {
	gates := map[string]config.RunOnChange{}
	for _, p := range cfg.Phases {
		for _, v := range p.Variants {
			for i := range v.Steps {
				gate := v.Steps[i].Gate()
				if gate == config.RunAlways {
					continue
				}
				prev, ok := gates[v.Name]
				if !ok {
					gates[v.Name] = gate
					continue
				}
				if prev != gate {
					return buildErrorf(ErrConflictingGate,
						"variant %q declares both %q and %q", v.Name, prev, gate)
				}
			}
		}
	}
	return nil
}
