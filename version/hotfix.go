package version

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/keelci/keel/commit"
)

// Hotfix version invariants. The identifier must be distinguishable from
// PEP-440-style prerelease keywords and from git describe hash suffixes,
// otherwise a rendered hotfix tag becomes ambiguous to re-parse.
var (
	identifierPattern = regexp.MustCompile(`^[a-zA-Z][-.a-zA-Z0-9]*[a-zA-Z0-9]$`)
	reservedPattern   = regexp.MustCompile(`^(a|b|c|rc|alpha|beta|pre|preview|post|rev|r|dev)[-.]?[0-9]*$`)
	hashLikePattern   = regexp.MustCompile(`^g[0-9a-fA-F]+$`)
)

// hotfixPrefix tags hotfix prerelease identifiers: "hotfix.<id>.<counter>".
const hotfixPrefix = "hotfix."

// HotfixContext describes a hotfix lineage: the released version the
// branch split from, the lineage identifier, and the monotonic counter
// for that identifier.
type HotfixContext struct {
	// Base is the released version the hotfix branch split from.
	Base Version
	// Identifier names the hotfix lineage.
	Identifier string
	// Counter is the per-identifier sequence number, starting at 0.
	Counter int
}

// ValidateIdentifier checks a hotfix identifier against the format
// invariants. hashDerived must be true when the identifier was derived
// from a commit-hash prefix, which exempts it from the g<hex> check.
// base guards against identifiers that merely restate the base version.
func ValidateIdentifier(id string, base Version, hashDerived bool) error {
	if !identifierPattern.MatchString(id) {
		return newResolutionError(ErrInvalidHotfixIdentifier,
			fmt.Sprintf("%q does not match the identifier format", id), nil)
	}
	if reservedPattern.MatchString(id) {
		return newResolutionError(ErrInvalidHotfixIdentifier,
			fmt.Sprintf("%q matches a reserved pre-release keyword", id), nil)
	}
	if !hashDerived && hashLikePattern.MatchString(id) {
		return newResolutionError(ErrInvalidHotfixIdentifier,
			fmt.Sprintf("%q looks like a commit-hash suffix", id), nil)
	}
	if !base.IsZero() && restatesVersion(id, base) {
		return newResolutionError(ErrInvalidHotfixIdentifier,
			fmt.Sprintf("%q merely restates the base version %s", id, base), nil)
	}
	return nil
}

// restatesVersion reports whether id is just the base version in
// disguise (with or without a leading "v").
func restatesVersion(id string, base Version) bool {
	trimmed := strings.TrimPrefix(id, "v")
	core := fmt.Sprintf("%d.%d.%d", base.Major(), base.Minor(), base.Patch())
	return trimmed == base.String() || trimmed == base.Pure() || trimmed == core
}

// DefaultIdentifier derives the hotfix identifier from the first commit
// unique to the hotfix lineage: g<short-hash>. The range is first-parent
// ordered by construction, so Commits[0] is the leftmost candidate when
// diamond merges leave more than one.
func DefaultIdentifier(rng *commit.Range) (string, error) {
	first := rng.First()
	if first == nil {
		return "", newResolutionError(ErrInvalidHotfixIdentifier,
			"cannot derive identifier from an empty commit range", nil)
	}
	return "g" + first.ShortHash(), nil
}

// IdentifierFromBranch derives the identifier from a branch name using a
// configured pattern. The pattern must define a named capture group "id"
// (e.g. `^hotfix/(?P<id>.+)$`).
func IdentifierFromBranch(branch string, pattern *regexp.Regexp) (string, error) {
	m := pattern.FindStringSubmatch(branch)
	if m == nil {
		return "", newResolutionError(ErrInvalidHotfixIdentifier,
			fmt.Sprintf("branch %q does not match the identifier pattern", branch), nil)
	}
	idx := pattern.SubexpIndex("id")
	if idx < 0 || m[idx] == "" {
		return "", newResolutionError(ErrInvalidHotfixIdentifier,
			fmt.Sprintf("identifier pattern has no \"id\" group matching %q", branch), nil)
	}
	return m[idx], nil
}

// ResolveHotfix computes the hotfix version for the lineage:
// {major, minor, patch+1, prerelease "hotfix.<identifier>.<counter>"}.
//
// The commit range must not require more than a patch bump; hotfix
// lineages are protected branches. Ordering holds by semver prerelease
// rules: the result is greater than the base, less than the next tagged
// release of the same core version, and for equal identifiers greater
// than any predecessor counter.
func (r *Resolver) ResolveHotfix(hctx HotfixContext, rng *commit.Range, hashDerived bool) (Version, error) {
	if hctx.Base.IsZero() {
		return Version{}, newResolutionError(ErrNoVersionFound,
			"hotfix lineage has no base version", nil)
	}
	if err := ValidateIdentifier(hctx.Identifier, hctx.Base, hashDerived); err != nil {
		return Version{}, err
	}

	level, err := r.RangeLevel(rng)
	if err != nil {
		return Version{}, err
	}
	if level > LevelPatch {
		return Version{}, newResolutionError(ErrRestrictedChange,
			fmt.Sprintf("hotfix range requires a %s bump", level), nil)
	}

	next := hctx.Base.bumped(LevelPatch)
	pre := fmt.Sprintf("%s%s.%d", hotfixPrefix, hctx.Identifier, hctx.Counter)
	sv, err := next.sem.SetPrerelease(pre)
	if err != nil {
		return Version{}, newResolutionError(ErrInvalidHotfixIdentifier,
			fmt.Sprintf("%q is not a valid prerelease identifier", pre), err)
	}
	next.sem = &sv
	return next, nil
}

// NextCounter returns the counter for the next hotfix version with the
// given identifier and base: one past the highest existing counter, or 0
// when none exists. existing is typically the set of tags already
// pointing into the lineage.
func NextCounter(existing []Version, base Version, identifier string) int {
	target := base.bumped(LevelPatch)
	prefix := hotfixPrefix + identifier + "."

	next := 0
	for _, v := range existing {
		if v.Major() != target.Major() || v.Minor() != target.Minor() || v.Patch() != target.Patch() {
			continue
		}
		rest, ok := strings.CutPrefix(v.Prerelease(), prefix)
		if !ok {
			continue
		}
		n, err := strconv.Atoi(rest)
		if err != nil {
			continue
		}
		if n+1 > next {
			next = n + 1
		}
	}
	return next
}
