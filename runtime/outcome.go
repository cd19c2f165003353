package runtime

import (
	"fmt"
	"time"

	"github.com/keelci/keel/types"
)

// StepError carries a failed step's identity and captured output up to
// the caller. Step failures are not retried.
type StepError struct {
	Phase    string
	Variant  string
	Command  string
	ExitCode int
	TimedOut bool
	Output   string
}

func (e *StepError) Error() string {
	if e.TimedOut {
		return fmt.Sprintf("step timed out in %s/%s: %q", e.Phase, e.Variant, e.Command)
	}
	return fmt.Sprintf("step failed in %s/%s: %q exited %d", e.Phase, e.Variant, e.Command, e.ExitCode)
}

// stepStatus derives the step status from an execution result.
// Timeout wins over the exit code: a killed command reports a nonzero
// exit that would otherwise masquerade as an ordinary failure.
func stepStatus(res *Result) types.StepStatus {
	switch {
	case res.TimedOut:
		return types.StepTimeout
	case res.ExitCode != 0:
		return types.StepFailed
	default:
		return types.StepSuccess
	}
}

// variantStatus aggregates step statuses: the first non-success status
// wins; a variant with no executed steps is aborted.
func variantStatus(steps []types.StepResult) types.StepStatus {
	ran := false
	for _, s := range steps {
		switch s.Status {
		case types.StepSuccess:
			ran = true
		case types.StepSkipped:
		default:
			return s.Status
		}
	}
	if !ran {
		return types.StepAborted
	}
	return types.StepSuccess
}

// phaseStatus aggregates variant statuses the same way.
func phaseStatus(variants []types.VariantResult) types.StepStatus {
	for _, v := range variants {
		if v.Status != types.StepSuccess && v.Status != types.StepSkipped {
			return v.Status
		}
	}
	return types.StepSuccess
}

// sumDurations totals a slice of step durations.
func sumDurations(steps []types.StepResult) time.Duration {
	var total time.Duration
	for _, s := range steps {
		total += s.Duration
	}
	return total
}
