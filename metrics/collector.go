// Package metrics provides per-build metrics collection.
//
// The Collector accumulates counters during a single build invocation.
// It is a leaf package with no internal dependencies; the scheduler
// absorbs a Snapshot into the build report at completion.
package metrics

import (
	"sync"
	"time"
)

// Snapshot is an immutable point-in-time view of build metrics.
// Safe to read concurrently after creation.
type Snapshot struct {
	// Phase lifecycle
	PhasesStarted   int64
	PhasesCompleted int64
	PhasesFailed    int64

	// Variant lifecycle
	VariantsStarted   int64
	VariantsCompleted int64
	VariantsFailed    int64
	VariantsSkipped   int64

	// Steps
	StepsRun     int64
	StepsFailed  int64
	StepsSkipped int64

	// Coordination
	NodesAllocated int64
	LockWaits      int64
	LockWaitTime   time.Duration

	// Dimensions (informational, set at construction)
	BuildID string
	Branch  string
}

// Collector accumulates metrics during a single build.
// Thread-safe via sync.Mutex. All increment methods are nil-receiver safe.
type Collector struct {
	mu sync.Mutex

	phasesStarted   int64
	phasesCompleted int64
	phasesFailed    int64

	variantsStarted   int64
	variantsCompleted int64
	variantsFailed    int64
	variantsSkipped   int64

	stepsRun     int64
	stepsFailed  int64
	stepsSkipped int64

	nodesAllocated int64
	lockWaits      int64
	lockWaitTime   time.Duration

	buildID string
	branch  string
}

// NewCollector creates a Collector with dimension labels.
func NewCollector(buildID, branch string) *Collector {
	return &Collector{buildID: buildID, branch: branch}
}

// inc assumes the caller already nil-checked the receiver (taking a
// field address on a nil receiver would panic first).
func (c *Collector) inc(field *int64) {
	c.mu.Lock()
	*field++
	c.mu.Unlock()
}

// PhaseStarted records a phase entering execution.
func (c *Collector) PhaseStarted() {
	if c != nil {
		c.inc(&c.phasesStarted)
	}
}

// PhaseCompleted records a phase finishing successfully.
func (c *Collector) PhaseCompleted() {
	if c != nil {
		c.inc(&c.phasesCompleted)
	}
}

// PhaseFailed records a phase failure.
func (c *Collector) PhaseFailed() {
	if c != nil {
		c.inc(&c.phasesFailed)
	}
}

// VariantStarted records a variant entering execution.
func (c *Collector) VariantStarted() {
	if c != nil {
		c.inc(&c.variantsStarted)
	}
}

// VariantCompleted records a variant finishing successfully.
func (c *Collector) VariantCompleted() {
	if c != nil {
		c.inc(&c.variantsCompleted)
	}
}

// VariantFailed records a variant failure.
func (c *Collector) VariantFailed() {
	if c != nil {
		c.inc(&c.variantsFailed)
	}
}

// VariantSkipped records a variant aborted before it started.
func (c *Collector) VariantSkipped() {
	if c != nil {
		c.inc(&c.variantsSkipped)
	}
}

// StepRun records an executed step.
func (c *Collector) StepRun() {
	if c != nil {
		c.inc(&c.stepsRun)
	}
}

// StepFailed records a failed step.
func (c *Collector) StepFailed() {
	if c != nil {
		c.inc(&c.stepsFailed)
	}
}

// StepSkipped records a step that never ran.
func (c *Collector) StepSkipped() {
	if c != nil {
		c.inc(&c.stepsSkipped)
	}
}

// NodeAllocated records an executor allocation.
func (c *Collector) NodeAllocated() {
	if c != nil {
		c.inc(&c.nodesAllocated)
	}
}

// LockWaited records time spent blocked on lock acquisition.
func (c *Collector) LockWaited(d time.Duration) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.lockWaits++
	c.lockWaitTime += d
	c.mu.Unlock()
}

// Snapshot returns a copy of all counters.
func (c *Collector) Snapshot() Snapshot {
	if c == nil {
		return Snapshot{}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return Snapshot{
		PhasesStarted:     c.phasesStarted,
		PhasesCompleted:   c.phasesCompleted,
		PhasesFailed:      c.phasesFailed,
		VariantsStarted:   c.variantsStarted,
		VariantsCompleted: c.variantsCompleted,
		VariantsFailed:    c.variantsFailed,
		VariantsSkipped:   c.variantsSkipped,
		StepsRun:          c.stepsRun,
		StepsFailed:       c.stepsFailed,
		StepsSkipped:      c.stepsSkipped,
		NodesAllocated:    c.nodesAllocated,
		LockWaits:         c.lockWaits,
		LockWaitTime:      c.lockWaitTime,
		BuildID:           c.buildID,
		Branch:            c.branch,
	}
}
