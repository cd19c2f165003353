package version

import (
	"fmt"
	"strings"

	"github.com/Masterminds/semver/v3"
)

// Format identifies the versioning scheme a Version belongs to.
// Two versions are comparable only within the same format.
type Format string

// FormatSemVer is semantic versioning 2.0.0, the only supported format.
const FormatSemVer Format = "semver"

// Version is an immutable semantic version with rendering rules for the
// tag it round-trips through. The zero Version is invalid; construct via
// Parse, ParseTag, or MustParse.
type Version struct {
	sem    *semver.Version
	format Format
	prefix string
}

// Parse parses a bare semantic version string ("1.2.3-rc.1+build").
func Parse(s string) (Version, error) {
	sv, err := semver.StrictNewVersion(s)
	if err != nil {
		return Version{}, fmt.Errorf("invalid semver %q: %w", s, err)
	}
	return Version{sem: sv, format: FormatSemVer}, nil
}

// ParseTag parses a tag string with the given prefix (commonly "v").
// The prefix is retained so Render produces the identical tag.
func ParseTag(tag, prefix string) (Version, error) {
	if !strings.HasPrefix(tag, prefix) {
		return Version{}, fmt.Errorf("tag %q does not start with prefix %q", tag, prefix)
	}
	v, err := Parse(strings.TrimPrefix(tag, prefix))
	if err != nil {
		return Version{}, err
	}
	v.prefix = prefix
	return v, nil
}

// MustParse parses a bare version string, panicking on failure.
// For tests and compile-time constants only.
func MustParse(s string) Version {
	v, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return v
}

// IsZero reports whether the version was never constructed.
func (v Version) IsZero() bool { return v.sem == nil }

// Format returns the version's format tag.
func (v Version) Format() Format { return v.format }

// Major returns the major component.
func (v Version) Major() uint64 { return v.sem.Major() }

// Minor returns the minor component.
func (v Version) Minor() uint64 { return v.sem.Minor() }

// Patch returns the patch component.
func (v Version) Patch() uint64 { return v.sem.Patch() }

// Prerelease returns the prerelease identifiers, empty for releases.
func (v Version) Prerelease() string { return v.sem.Prerelease() }

// Metadata returns the build metadata, empty when absent.
func (v Version) Metadata() string { return v.sem.Metadata() }

// IsRelease reports whether the version carries no prerelease.
func (v Version) IsRelease() bool { return v.sem.Prerelease() == "" }

// String renders the bare version without tag prefix.
func (v Version) String() string {
	if v.sem == nil {
		return ""
	}
	return v.sem.String()
}

// Pure renders the version without build metadata.
func (v Version) Pure() string {
	if v.sem.Metadata() == "" {
		return v.sem.String()
	}
	stripped, _ := v.sem.SetMetadata("")
	return stripped.String()
}

// Render renders the full tag string, prefix included.
// Round-trip invariant: ParseTag(v.Render(), prefix) == v.
func (v Version) Render() string {
	return v.prefix + v.String()
}

// WithPrefix returns a copy rendering with the given tag prefix.
func (v Version) WithPrefix(prefix string) Version {
	v.prefix = prefix
	return v
}

// WithMetadata returns a copy carrying the given build metadata.
func (v Version) WithMetadata(meta string) (Version, error) {
	sv, err := v.sem.SetMetadata(meta)
	if err != nil {
		return Version{}, fmt.Errorf("invalid build metadata %q: %w", meta, err)
	}
	v.sem = &sv
	return v, nil
}

// Compare returns -1, 0, or 1 ordering v against o.
// Build metadata is ignored, prerelease ordering follows semver: a
// release always compares greater than any prerelease derived from it.
// Comparing across formats is a programming error and panics.
func (v Version) Compare(o Version) int {
	if v.format != o.format {
		panic(fmt.Sprintf("cannot compare %s version against %s version", v.format, o.format))
	}
	return v.sem.Compare(o.sem)
}

// Equal reports whether v and o denote the same version.
func (v Version) Equal(o Version) bool {
	return !v.IsZero() && !o.IsZero() && v.Compare(o) == 0
}

// LessThan reports whether v orders before o.
func (v Version) LessThan(o Version) bool { return v.Compare(o) < 0 }

// bumped returns the version incremented by the given level.
// A none level returns the version unchanged.
func (v Version) bumped(level BumpLevel) Version {
	var next semver.Version
	switch level {
	case LevelMajor:
		next = v.sem.IncMajor()
	case LevelMinor:
		next = v.sem.IncMinor()
	case LevelPatch:
		next = v.sem.IncPatch()
	default:
		return v
	}
	return Version{sem: &next, format: v.format, prefix: v.prefix}
}
