// Package types defines core domain value types for the keel engine.
//
//nolint:revive // types is a common Go package naming convention
package types

import (
	"errors"
	"fmt"
	"time"
)

// BuildMeta is the identity of a single build invocation.
// It is constructed once per invocation and threaded through the version
// resolver, graph builder, and scheduler. There is no global build state.
type BuildMeta struct {
	// BuildID uniquely identifies this invocation.
	BuildID string
	// Branch is the branch the build operates on.
	Branch string
	// TargetCommit is the commit being built.
	TargetCommit string
	// BaseCommit is the commit the version base tag points at, if any.
	BaseCommit string
	// StartedAt is the invocation start time.
	StartedAt time.Time
}

// Validate checks that the required identity fields are present.
func (m *BuildMeta) Validate() error {
	if m == nil {
		return errors.New("build metadata is nil")
	}
	if m.BuildID == "" {
		return errors.New("build_id is required")
	}
	if m.TargetCommit == "" {
		return errors.New("target commit is required")
	}
	return nil
}

// String returns a short human-readable identity for log lines.
func (m *BuildMeta) String() string {
	return fmt.Sprintf("%s@%.10s", m.BuildID, m.TargetCommit)
}
