package version

import (
	"fmt"

	"github.com/keelci/keel/commit"
	"github.com/keelci/keel/log"
)

// BumpLevel is the version increment a commit (or range) implies.
// Levels are ordered: none < patch < minor < major.
type BumpLevel int

const (
	// LevelNone implies no version change.
	LevelNone BumpLevel = iota
	// LevelPatch implies a patch increment (fix commits).
	LevelPatch
	// LevelMinor implies a minor increment (feat commits).
	LevelMinor
	// LevelMajor implies a major increment (any breaking change).
	LevelMajor
)

func (l BumpLevel) String() string {
	switch l {
	case LevelPatch:
		return "patch"
	case LevelMinor:
		return "minor"
	case LevelMajor:
		return "major"
	default:
		return "none"
	}
}

// BumpPolicy decides how a conventional-commit range translates into a
// bump level. Kind is always conventional-commits.
type BumpPolicy struct {
	// Strict makes an unparseable commit anywhere in the range a hard error.
	Strict bool
	// OnEveryChange forces a patch bump for a non-empty range that would
	// otherwise resolve to none.
	OnEveryChange bool
}

// LevelOf classifies a single commit.
// A breaking change is major regardless of type; feat is minor; fix is
// patch; everything else, including unparseable commits, is none.
func LevelOf(c commit.Commit) BumpLevel {
	if c.Unparseable() {
		return LevelNone
	}
	if c.Parsed.Breaking {
		return LevelMajor
	}
	switch c.Parsed.Type {
	case "feat":
		return LevelMinor
	case "fix":
		return LevelPatch
	default:
		return LevelNone
	}
}

// Resolver computes the current version from a base version, a bump
// policy, and a commit range. A single Resolver serves one build
// invocation; it holds no mutable state.
type Resolver struct {
	// Policy is the bump policy in effect.
	Policy BumpPolicy
	// MaxLevel caps the bump level the current branch permits.
	// Hotfix and release lineages set this to LevelPatch; the zero value
	// means unrestricted, normalized to LevelMajor.
	MaxLevel BumpLevel
	// Log receives warnings about tolerated unparseable commits.
	// May be nil.
	Log *log.SugaredLogger
}

// RangeLevel computes the bump level a commit range implies: the maximum
// level over all commits, oldest to newest. In strict mode an
// unparseable commit is a hard error.
func (r *Resolver) RangeLevel(rng *commit.Range) (BumpLevel, error) {
	level := LevelNone
	if rng == nil {
		return level, nil
	}
	for i := range rng.Commits {
		c := &rng.Commits[i]
		if c.Unparseable() {
			if r.Policy.Strict {
				return LevelNone, newResolutionError(ErrInvalidBumpInRange,
					fmt.Sprintf("commit %s: %q", c.ShortHash(), c.Subject), nil)
			}
			if r.Log != nil {
				r.Log.Warnf("ignoring unparseable commit %s: %q", c.ShortHash(), c.Subject)
			}
			continue
		}
		if l := LevelOf(*c); l > level {
			level = l
		}
	}
	return level, nil
}

// Resolve computes the version for the current source state.
//
// The resulting level is the range maximum. When the level is none and
// OnEveryChange is unset, the base version is returned unchanged. When
// OnEveryChange is set, a non-empty none-level range still forces a
// patch bump. A level above MaxLevel fails with ErrRestrictedChange.
func (r *Resolver) Resolve(base Version, rng *commit.Range) (Version, BumpLevel, error) {
	if base.IsZero() {
		return Version{}, LevelNone, newResolutionError(ErrNoVersionFound,
			"no base tag resolvable and no initial version configured", nil)
	}

	level, err := r.RangeLevel(rng)
	if err != nil {
		return Version{}, LevelNone, err
	}

	if level == LevelNone {
		if !r.Policy.OnEveryChange || rng.Empty() {
			return base, LevelNone, nil
		}
		level = LevelPatch
	}

	maxLevel := r.MaxLevel
	if maxLevel == LevelNone {
		maxLevel = LevelMajor
	}
	if level > maxLevel {
		return Version{}, level, newResolutionError(ErrRestrictedChange,
			fmt.Sprintf("range requires a %s bump but branch allows at most %s", level, maxLevel), nil)
	}

	return base.bumped(level), level, nil
}
