// Package version implements the version resolution engine: semantic
// versions with a total order, conventional-commit bump computation, and
// hotfix lineage versions with monotonic per-identifier counters.
//
// This file defines sentinel errors and the typed wrapper for version
// resolution failures. Use errors.Is(err, ErrXxx) for classification.
package version

import (
	"errors"
	"fmt"
)

// Sentinel errors for version resolution failure classification.
var (
	// ErrNoVersionFound indicates no base tag is reachable and no
	// initial version is configured.
	ErrNoVersionFound = errors.New("no version found")

	// ErrInvalidBumpInRange indicates a strict bump policy hit a commit
	// that does not parse as a conventional commit.
	ErrInvalidBumpInRange = errors.New("invalid bump in commit range")

	// ErrRestrictedChange indicates the branch policy forbids the bump
	// level the commit range requires.
	ErrRestrictedChange = errors.New("restricted change on protected branch")

	// ErrInvalidHotfixIdentifier indicates a hotfix identifier violates
	// the identifier format invariants.
	ErrInvalidHotfixIdentifier = errors.New("invalid hotfix identifier")
)

// ResolutionError wraps an underlying error with resolution classification.
// It preserves the original error in the chain for errors.As inspection.
type ResolutionError struct {
	// Kind is the sentinel error for classification.
	Kind error
	// Detail describes what was being resolved.
	Detail string
	// Err is the underlying error, if any.
	Err error
}

func (e *ResolutionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%v: %s: %v", e.Kind, e.Detail, e.Err)
	}
	return fmt.Sprintf("%v: %s", e.Kind, e.Detail)
}

// Unwrap returns the underlying error for chain traversal.
func (e *ResolutionError) Unwrap() error {
	return e.Err
}

// Is reports whether the error matches the target sentinel.
func (e *ResolutionError) Is(target error) bool {
	return errors.Is(e.Kind, target)
}

// newResolutionError creates a classified resolution error.
func newResolutionError(kind error, detail string, err error) *ResolutionError {
	return &ResolutionError{Kind: kind, Detail: detail, Err: err}
}
