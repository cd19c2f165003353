// Package config loads and validates the declarative build
// configuration. The loaded Config is the read-only model every other
// component consumes; it is built once per invocation and never mutated.
//
// Variable substitution ($VERSION and friends) deliberately does not
// happen here: the graph builder substitutes at build time, so the same
// file resolves identically for a local run and a remote orchestrator.
package config

import (
	"time"

	"github.com/keelci/keel/version"
)

// RunOnChange gates whether a step executes for the current invocation.
type RunOnChange string

const (
	// RunAlways includes the step unconditionally. The default.
	RunAlways RunOnChange = "always"
	// RunNewVersionOnly includes the step only when the resolved version
	// differs from the last published version.
	RunNewVersionOnly RunOnChange = "new-version-only"
	// RunOnlyChanged includes the step only when the target commit
	// changes files relative to the base.
	RunOnlyChanged RunOnChange = "only"
)

// CredentialType identifies the shape of a credential reference.
type CredentialType string

const (
	// CredUsernamePassword resolves to a username/password pair.
	CredUsernamePassword CredentialType = "username-password"
	// CredString resolves to a single opaque string.
	CredString CredentialType = "string"
	// CredFile resolves to a file materialized on disk.
	CredFile CredentialType = "file"
	// CredSSHKey resolves to a private key file plus passphrase.
	CredSSHKey CredentialType = "ssh-key"
)

// CredentialRef scopes a secret into a step's environment.
// Which *-variable fields apply depends on Type.
type CredentialRef struct {
	ID               string         `yaml:"id"`
	Type             CredentialType `yaml:"type"`
	UsernameVariable string         `yaml:"username-variable"`
	PasswordVariable string         `yaml:"password-variable"`
	StringVariable   string         `yaml:"string-variable"`
	FileVariable     string         `yaml:"file-variable"`
}

// VolumeSpec declares a volume a step's container mounts.
type VolumeSpec struct {
	Name     string `yaml:"name"`
	Source   string `yaml:"source"`
	Target   string `yaml:"target"`
	ReadOnly bool   `yaml:"read-only"`
}

// ArtifactPattern is one archive glob declared by a step.
type ArtifactPattern struct {
	Pattern string `yaml:"pattern"`
	// AllowEmpty suppresses the step failure when the glob matches
	// nothing. A non-matching pattern without it fails the step.
	AllowEmpty bool `yaml:"allow-empty"`
}

// ArchiveSpec declares a step's archive outputs.
type ArchiveSpec struct {
	Artifacts []ArtifactPattern `yaml:"artifacts"`
}

// Step is one unit of work inside a variant.
type Step struct {
	Description     string          `yaml:"description"`
	Sh              string          `yaml:"sh"`
	WithCredentials []CredentialRef `yaml:"with-credentials"`
	Volumes         []string        `yaml:"volumes"`
	Image           string          `yaml:"image"`
	TimeoutSeconds  float64         `yaml:"timeout"`
	RunOnChange     RunOnChange     `yaml:"run-on-change"`
	// Foreach repeats the step once per commit in the build's commit
	// range. The only supported subject is AUTOSQUASHED_COMMIT.
	Foreach string       `yaml:"foreach"`
	Archive *ArchiveSpec `yaml:"archive"`
	JUnit   []string     `yaml:"junit"`
	// NodeLabel selects the executor pool for the owning variant.
	NodeLabel string `yaml:"node-label"`
	// WaitOnFullPreviousPhase, when explicitly false on a variant's
	// first step, chains the variant onto its previous-phase executor
	// without waiting for the full phase join.
	WaitOnFullPreviousPhase *bool `yaml:"wait-on-full-previous-phase"`
}

// Timeout returns the step timeout, zero when unset.
func (s *Step) Timeout() time.Duration {
	return time.Duration(s.TimeoutSeconds * float64(time.Second))
}

// Gate returns the effective run-on-change gate, defaulting to always.
func (s *Step) Gate() RunOnChange {
	if s.RunOnChange == "" {
		return RunAlways
	}
	return s.RunOnChange
}

// Variant is a named parallel branch of work within a phase.
type Variant struct {
	Name  string
	Steps []Step
}

// Phase is one ordered stage of the build. Order is declaration order.
type Phase struct {
	Name     string
	Variants []Variant
}

// Variant returns the named variant within the phase, or nil.
func (p *Phase) Variant(name string) *Variant {
	for i := range p.Variants {
		if p.Variants[i].Name == name {
			return &p.Variants[i]
		}
	}
	return nil
}

// LockSpec declares a named mutual-exclusion lock a build takes.
type LockSpec struct {
	Branch   string `yaml:"branch"`
	RepoName string `yaml:"repo-name"`
	// FromPhaseOnward scopes the lock to the named phase and everything
	// after it. Empty means the whole build.
	FromPhaseOnward string `yaml:"from-phase-onward"`
}

// Name returns the lock's mutual-exclusion token.
func (l LockSpec) Name() string {
	if l.Branch != "" {
		return l.RepoName + "/" + l.Branch
	}
	return l.RepoName
}

// BumpConfig selects the bump policy.
type BumpConfig struct {
	Policy        string `yaml:"policy"`
	Strict        bool   `yaml:"strict"`
	OnEveryChange bool   `yaml:"on-every-change"`
}

// VersionConfig configures version resolution.
type VersionConfig struct {
	// TagPrefix prefixes rendered version tags, commonly "v".
	TagPrefix string `yaml:"tag-prefix"`
	// Format is the version format; only "semver" is supported.
	Format string `yaml:"format"`
	Bump   BumpConfig `yaml:"bump"`
	// InitialVersion seeds resolution when no tag is reachable.
	InitialVersion string `yaml:"initial-version"`
	// HotfixBranchPattern derives the hotfix identifier from the branch
	// name; must contain a named group "id". Empty falls back to the
	// g<commit-hash> default.
	HotfixBranchPattern string `yaml:"hotfix-branch-pattern"`
}

// BumpPolicy converts the config shape to the resolver's policy.
func (v VersionConfig) BumpPolicy() version.BumpPolicy {
	return version.BumpPolicy{
		Strict:        v.Bump.Strict,
		OnEveryChange: v.Bump.OnEveryChange,
	}
}

// Config is the validated in-memory model of a build configuration.
type Config struct {
	Version        VersionConfig
	Phases         []Phase
	PostSubmit     []Step
	CILocks        []LockSpec
	Volumes        []VolumeSpec
	PassThroughEnv []string
	// Modality maps a modality name to the steps apply-modality-change
	// runs to prepare the source tree.
	Modality map[string][]Step
}

// Phase returns the named phase, or nil.
func (c *Config) Phase(name string) *Phase {
	for i := range c.Phases {
		if c.Phases[i].Name == name {
			return &c.Phases[i]
		}
	}
	return nil
}

// Volume returns the named volume spec, or nil.
func (c *Config) Volume(name string) *VolumeSpec {
	for i := range c.Volumes {
		if c.Volumes[i].Name == name {
			return &c.Volumes[i]
		}
	}
	return nil
}
