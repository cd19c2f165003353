package types

import (
	"time"

	"github.com/keelci/keel/metrics"
)

// StepStatus is the terminal status of a single step.
type StepStatus string

const (
	// StepSuccess indicates the step's command exited zero.
	StepSuccess StepStatus = "success"
	// StepFailed indicates a nonzero exit or a hard artifact failure.
	StepFailed StepStatus = "failed"
	// StepTimeout indicates the step exceeded its configured timeout.
	StepTimeout StepStatus = "timeout"
	// StepSkipped indicates a gate excluded the step from execution.
	StepSkipped StepStatus = "skipped"
	// StepAborted indicates the step never ran because an earlier
	// failure or a signal stopped the build.
	StepAborted StepStatus = "aborted"
)

// BuildStatus is the aggregate status of a build invocation.
type BuildStatus string

const (
	// BuildSuccess indicates every executed phase completed.
	BuildSuccess BuildStatus = "success"
	// BuildFailed indicates at least one variant failed.
	BuildFailed BuildStatus = "failed"
	// BuildAborted indicates the build stopped on a signal before
	// completing all phases.
	BuildAborted BuildStatus = "aborted"
)

// StepResult records the outcome of one executed step.
type StepResult struct {
	Command   string        `json:"command" yaml:"command"`
	Status    StepStatus    `json:"status" yaml:"status"`
	ExitCode  int           `json:"exit_code" yaml:"exit_code"`
	Output    string        `json:"output,omitempty" yaml:"output,omitempty"`
	Duration  time.Duration `json:"duration" yaml:"duration"`
	Artifacts []string      `json:"artifacts,omitempty" yaml:"artifacts,omitempty"`
}

// VariantResult aggregates step results for one variant within one phase.
type VariantResult struct {
	Variant  string        `json:"variant" yaml:"variant"`
	NodeID   string        `json:"node_id,omitempty" yaml:"node_id,omitempty"`
	Steps    []StepResult  `json:"steps" yaml:"steps"`
	Status   StepStatus    `json:"status" yaml:"status"`
	Duration time.Duration `json:"duration" yaml:"duration"`
}

// PhaseResult aggregates variant results for one phase.
type PhaseResult struct {
	Phase    string          `json:"phase" yaml:"phase"`
	Variants []VariantResult `json:"variants" yaml:"variants"`
	Status   StepStatus      `json:"status" yaml:"status"`
	Duration time.Duration   `json:"duration" yaml:"duration"`
}

// BuildReport is the final report for a build invocation.
type BuildReport struct {
	Meta     *BuildMeta    `json:"-" yaml:"-"`
	BuildID  string        `json:"build_id" yaml:"build_id"`
	Version  string        `json:"version" yaml:"version"`
	Status   BuildStatus   `json:"status" yaml:"status"`
	Phases   []PhaseResult `json:"phases" yaml:"phases"`
	Duration time.Duration `json:"duration" yaml:"duration"`
	// Metrics is the collector snapshot taken when the build finished.
	Metrics metrics.Snapshot `json:"metrics" yaml:"metrics"`
}

// Failed reports whether any phase in the report failed.
func (r *BuildReport) Failed() bool {
	for _, p := range r.Phases {
		if p.Status == StepFailed || p.Status == StepTimeout {
			return true
		}
	}
	return r.Status == BuildFailed
}
