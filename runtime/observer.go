package runtime

import "github.com/keelci/keel/types"

// Observer receives scheduler lifecycle notifications. Host pipeline
// integrations (status reporting, UI hooks) live entirely behind this
// interface; the scheduler invokes it synchronously at the points below
// and nowhere else.
type Observer interface {
	PhaseStarted(phase string)
	PhaseCompleted(phase string, result *types.PhaseResult)
	VariantStarted(phase, variant string, node Handle)
	VariantCompleted(phase, variant string, result *types.VariantResult)
	StepStarted(phase, variant, command string)
	StepCompleted(phase, variant string, result *types.StepResult)
	NodeAllocated(variant string, node Handle)
}

// NopObserver ignores all notifications. Embed it to implement only the
// hooks an integration cares about.
type NopObserver struct{}

// PhaseStarted implements Observer.
func (NopObserver) PhaseStarted(string) {}

// PhaseCompleted implements Observer.
func (NopObserver) PhaseCompleted(string, *types.PhaseResult) {}

// VariantStarted implements Observer.
func (NopObserver) VariantStarted(string, string, Handle) {}

// VariantCompleted implements Observer.
func (NopObserver) VariantCompleted(string, string, *types.VariantResult) {}

// StepStarted implements Observer.
func (NopObserver) StepStarted(string, string, string) {}

// StepCompleted implements Observer.
func (NopObserver) StepCompleted(string, string, *types.StepResult) {}

// NodeAllocated implements Observer.
func (NopObserver) NodeAllocated(string, Handle) {}
