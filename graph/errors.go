// Package graph builds the execution graph for one build invocation: a
// phase-ordered, variant-parallel structure of fully resolved steps with
// run-on-change gating already applied. The graph is immutable after
// construction and safe for concurrent reads.
package graph

import (
	"errors"
	"fmt"
)

// Sentinel errors for graph construction failures.
var (
	// ErrDuplicatePhase indicates two phases share a name.
	ErrDuplicatePhase = errors.New("duplicate phase name")

	// ErrConflictingGate indicates one variant declares incompatible
	// run-on-change gates across phases.
	ErrConflictingGate = errors.New("conflicting run-on-change settings")

	// ErrUnknownVariable indicates a step references an undefined
	// substitution variable.
	ErrUnknownVariable = errors.New("unknown variable")

	// ErrCredentialTypeMismatch indicates a credential reference does
	// not fit the declared credential type.
	ErrCredentialTypeMismatch = errors.New("credential type mismatch")
)

// BuildError wraps an underlying error with the graph location that
// triggered it.
type BuildError struct {
	// Kind is the sentinel error for classification.
	Kind error
	// Where locates the offending element ("phase build, variant linux").
	Where string
	// Err is the underlying error, if any.
	Err error
}

func (e *BuildError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%v: %s: %v", e.Kind, e.Where, e.Err)
	}
	return fmt.Sprintf("%v: %s", e.Kind, e.Where)
}

// Unwrap returns the underlying error for chain traversal.
func (e *BuildError) Unwrap() error { return e.Err }

// Is reports whether the error matches the target sentinel.
func (e *BuildError) Is(target error) bool { return errors.Is(e.Kind, target) }

func buildErrorf(kind error, format string, args ...any) error {
	return &BuildError{Kind: kind, Where: fmt.Sprintf(format, args...)}
}
