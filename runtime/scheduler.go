package runtime

import (
	"context"
	"sync"
	"time"

	"github.com/keelci/keel/graph"
	"github.com/keelci/keel/log"
	"github.com/keelci/keel/metrics"
	"github.com/keelci/keel/secrets"
	"github.com/keelci/keel/types"
)

// Scheduler walks an execution graph: phases strictly in order,
// variants of a phase in parallel, steps of a variant strictly in
// order. The graph is read-only; the allocator mapping and the lock
// coordinator's held set are the only mutable shared state.
type Scheduler struct {
	// Executor runs step commands. Defaults to a LocalExecutor.
	Executor Executor
	// Allocator assigns executor identities. Defaults to a fresh one.
	Allocator *Allocator
	// Locks coordinates named mutual exclusion. Defaults to a fresh one.
	Locks *LockCoordinator
	// Secrets resolves credential references. Required only when the
	// graph declares credentials.
	Secrets secrets.Store
	// Observer receives lifecycle notifications. Defaults to none.
	Observer Observer
	// Logger receives build progress, may be nil.
	Logger *log.Logger
	// Collector records build metrics, may be nil.
	Collector *metrics.Collector
	// Meta is the build identity.
	Meta *types.BuildMeta
	// Workdir is the working directory steps run in.
	Workdir string
	// ArchiveDir receives collected artifacts.
	ArchiveDir string
}

// lane is a maximal chain of one variant across consecutive phases:
// the first segment starts at the normal phase boundary, every later
// segment is a chained continuation on the same executor.
type lane struct {
	name     string
	segments []segment
}

type segment struct {
	phase   int
	variant *graph.Variant
}

// Run executes the graph and returns the build report. The returned
// error is non-nil only for coordination failures (lock timeout,
// context cancellation before completion); step failures are reported
// through the report's status.
func (s *Scheduler) Run(ctx context.Context, g *graph.Graph) (*types.BuildReport, error) {
	s.applyDefaults()

	report := &types.BuildReport{
		Meta:    s.Meta,
		BuildID: s.Meta.BuildID,
		Version: g.Version.String(),
		Status:  types.BuildSuccess,
	}
	start := time.Now()
	defer func() {
		report.Duration = time.Since(start)
		report.Metrics = s.Collector.Snapshot()
	}()

	if len(g.Phases) == 0 {
		return report, nil
	}

	var held []string
	defer func() {
		s.Locks.ReleaseAll(held)
		s.Allocator.ReleaseAll()
	}()

	if err := s.Locks.AcquireAll(ctx, g.BuildLocks); err != nil {
		report.Status = types.BuildFailed
		return report, err
	}
	held = append(held, g.BuildLocks...)

	lanes := buildLanes(g)
	lanesByStart := map[int][]*lane{}
	for _, ln := range lanes {
		lanesByStart[ln.segments[0].phase] = append(lanesByStart[ln.segments[0].phase], ln)
	}

	// gates[p] is closed once phase p may be entered by a chained lane.
	// Phases without locks are open from the start: chaining must not
	// wait on the previous phase's join barrier.
	gates := make([]chan struct{}, len(g.Phases))
	results := make([]chan types.VariantResult, len(g.Phases))
	for p := range g.Phases {
		gates[p] = make(chan struct{})
		if len(g.Phases[p].AcquireLocks) == 0 {
			close(gates[p])
		}
		results[p] = make(chan types.VariantResult, len(g.Phases[p].Variants))
	}

	abortCh := make(chan struct{})
	var abortOnce sync.Once
	abort := func() { abortOnce.Do(func() { close(abortCh) }) }

	var wg sync.WaitGroup
	var lockErr error
	completed := 0

	for p := range g.Phases {
		phase := &g.Phases[p]

		if len(phase.AcquireLocks) > 0 {
			if err := s.Locks.AcquireAll(ctx, phase.AcquireLocks); err != nil {
				lockErr = err
				break
			}
			held = append(held, phase.AcquireLocks...)
			close(gates[p])
		}

		s.Observer.PhaseStarted(phase.Name)
		s.Collector.PhaseStarted()
		s.logf("phase started", map[string]any{"phase": phase.Name})
		phaseStart := time.Now()

		for _, ln := range lanesByStart[p] {
			wg.Add(1)
			go s.runLane(ctx, g, ln, results, gates, abortCh, &wg)
		}

		pr := types.PhaseResult{Phase: phase.Name}
		for i := 0; i < len(phase.Variants); i++ {
			pr.Variants = append(pr.Variants, <-results[p])
		}
		pr.Status = phaseStatus(pr.Variants)
		pr.Duration = time.Since(phaseStart)

		s.Observer.PhaseCompleted(phase.Name, &pr)
		report.Phases = append(report.Phases, pr)
		completed = p + 1

		if pr.Status != types.StepSuccess {
			s.Collector.PhaseFailed()
			s.logf("phase failed", map[string]any{"phase": phase.Name})
			break
		}
		s.Collector.PhaseCompleted()
	}

	// Whether we broke out on a failure or finished cleanly, running
	// chained lanes get to finish their current phase; nothing new
	// starts past this point.
	abort()
	wg.Wait()

	report.Phases = append(report.Phases, s.drainAborted(g, results, completed)...)

	switch {
	case ctx.Err() != nil:
		report.Status = types.BuildAborted
	case report.Failed() || lockErr != nil:
		report.Status = types.BuildFailed
	}
	return report, lockErr
}

func (s *Scheduler) applyDefaults() {
	if s.Executor == nil {
		s.Executor = &LocalExecutor{}
	}
	if s.Allocator == nil {
		s.Allocator = NewAllocator()
	}
	if s.Locks == nil {
		s.Locks = NewLockCoordinator()
	}
	if s.Observer == nil {
		s.Observer = NopObserver{}
	}
	if s.Locks.Collector == nil {
		s.Locks.Collector = s.Collector
	}
	if s.Meta == nil {
		s.Meta = &types.BuildMeta{BuildID: "local", StartedAt: time.Now()}
	}
}

// buildLanes groups the graph's variants into chains. A variant entry
// marked ChainFromPrevious extends the lane that ended in the previous
// phase; everything else opens a new lane at its phase boundary.
func buildLanes(g *graph.Graph) []*lane {
	var lanes []*lane
	open := map[string]*lane{} // variant name -> lane whose last segment is in the previous phase

	for p := range g.Phases {
		next := map[string]*lane{}
		for i := range g.Phases[p].Variants {
			v := &g.Phases[p].Variants[i]
			if ln, ok := open[v.Name]; ok && v.ChainFromPrevious {
				ln.segments = append(ln.segments, segment{phase: p, variant: v})
				next[v.Name] = ln
				continue
			}
			ln := &lane{name: v.Name, segments: []segment{{phase: p, variant: v}}}
			lanes = append(lanes, ln)
			next[v.Name] = ln
		}
		open = next
	}
	return lanes
}

// runLane executes one chain of segments on a single executor handle.
func (s *Scheduler) runLane(ctx context.Context, g *graph.Graph, ln *lane, results []chan types.VariantResult, gates []chan struct{}, abortCh <-chan struct{}, wg *sync.WaitGroup) {
	defer wg.Done()

	handle, created := s.Allocator.Allocate(ln.name, ln.segments[0].variant.NodeLabel)
	if created {
		s.Collector.NodeAllocated()
		s.Observer.NodeAllocated(ln.name, handle)
	}

	for i, seg := range ln.segments {
		if i > 0 {
			// Chained continuation: proceed immediately unless the next
			// phase is lock-gated or the build is stopping.
			select {
			case <-abortCh:
				s.abortSegments(ln.segments[i:], results)
				return
			default:
			}
			select {
			case <-gates[seg.phase]:
			case <-abortCh:
				s.abortSegments(ln.segments[i:], results)
				return
			}
		}

		res := s.runSegment(ctx, &g.Phases[seg.phase], seg.variant, handle)
		results[seg.phase] <- res
		if res.Status != types.StepSuccess {
			s.abortSegments(ln.segments[i+1:], results)
			return
		}
	}
}

// abortSegments posts aborted results for segments that never ran so
// every phase's join barrier still balances.
func (s *Scheduler) abortSegments(segs []segment, results []chan types.VariantResult) {
	for _, seg := range segs {
		s.Collector.VariantSkipped()
		results[seg.phase] <- types.VariantResult{
			Variant: seg.variant.Name,
			Status:  types.StepAborted,
		}
	}
}

// runSegment executes one phase's step sequence for one variant.
func (s *Scheduler) runSegment(ctx context.Context, phase *graph.Phase, v *graph.Variant, handle Handle) types.VariantResult {
	s.Observer.VariantStarted(phase.Name, v.Name, handle)
	s.Collector.VariantStarted()

	vr := types.VariantResult{Variant: v.Name, NodeID: handle.ID}
	failed := false
	for i := range v.Steps {
		step := &v.Steps[i]
		if failed || ctx.Err() != nil {
			// Never run past the failure point; the step currently
			// executing elsewhere is not touched.
			s.Collector.StepSkipped()
			vr.Steps = append(vr.Steps, types.StepResult{
				Command: step.Command,
				Status:  types.StepAborted,
			})
			continue
		}

		sr := s.runStep(ctx, phase.Name, v.Name, step, handle)
		vr.Steps = append(vr.Steps, sr)
		if sr.Status != types.StepSuccess {
			failed = true
		}
	}

	vr.Status = variantStatus(vr.Steps)
	vr.Duration = sumDurations(vr.Steps)
	if vr.Status == types.StepSuccess {
		s.Collector.VariantCompleted()
	} else {
		s.Collector.VariantFailed()
	}
	s.Observer.VariantCompleted(phase.Name, v.Name, &vr)
	return vr
}

// runStep resolves the step's credentials, executes its command, and
// collects declared artifacts.
func (s *Scheduler) runStep(ctx context.Context, phaseName, variantName string, step *graph.Step, handle Handle) types.StepResult {
	s.Observer.StepStarted(phaseName, variantName, step.Command)
	start := time.Now()

	sr := types.StepResult{Command: step.Command}
	defer func() {
		sr.Duration = time.Since(start)
		s.Observer.StepCompleted(phaseName, variantName, &sr)
	}()

	env, err := s.credentialEnv(ctx, step)
	if err != nil {
		// Never substitute an empty value: resolution failure is fatal.
		s.Collector.StepFailed()
		sr.Status = types.StepFailed
		sr.Output = err.Error()
		return sr
	}

	runCtx := ctx
	if step.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, step.Timeout)
		defer cancel()
	}

	res, err := s.Executor.Run(runCtx, &Spec{
		Command: step.Command,
		Env:     env,
		Image:   step.Image,
		Volumes: step.Volumes,
		Workdir: s.Workdir,
		Node:    handle,
	})
	s.Collector.StepRun()
	if err != nil {
		s.Collector.StepFailed()
		sr.Status = types.StepFailed
		sr.Output = err.Error()
		return sr
	}

	sr.Status = stepStatus(res)
	sr.ExitCode = res.ExitCode
	sr.Output = res.Output

	if sr.Status == types.StepSuccess && (len(step.Archive) > 0 || len(step.JUnit) > 0) {
		artifacts, aerr := collectArtifacts(s.Workdir, s.ArchiveDir, step.Archive, step.JUnit)
		sr.Artifacts = artifacts
		if aerr != nil {
			sr.Status = types.StepFailed
			sr.Output += "\n" + aerr.Error()
		}
	}

	if sr.Status != types.StepSuccess {
		s.Collector.StepFailed()
		s.logf("step failed", map[string]any{
			"phase":   phaseName,
			"variant": variantName,
			"command": step.Command,
			"exit":    sr.ExitCode,
			"status":  string(sr.Status),
		})
	}
	return sr
}

// credentialEnv builds the step environment including resolved secrets.
func (s *Scheduler) credentialEnv(ctx context.Context, step *graph.Step) (map[string]string, error) {
	if len(step.Credentials) == 0 {
		return step.Env, nil
	}

	env := make(map[string]string, len(step.Env)+2*len(step.Credentials))
	for k, v := range step.Env {
		env[k] = v
	}

	for _, cred := range step.Credentials {
		ref := secrets.Ref{ID: cred.ID, Type: secrets.Type(cred.Type)}
		if s.Secrets == nil {
			return nil, &secrets.ResolutionError{Ref: ref, Err: secrets.ErrNotFound}
		}
		secret, err := s.Secrets.Resolve(ctx, ref)
		if err != nil {
			return nil, err
		}
		if cred.UsernameVariable != "" {
			env[cred.UsernameVariable] = secret.Username
		}
		if cred.PasswordVariable != "" {
			env[cred.PasswordVariable] = secret.Password
		}
		if cred.StringVariable != "" {
			env[cred.StringVariable] = secret.Value
		}
		if cred.FileVariable != "" {
			env[cred.FileVariable] = secret.Path
		}
	}
	return env, nil
}

// drainAborted accounts for phases past the stop point: chained lanes
// may have posted real results there, everything else is aborted.
func (s *Scheduler) drainAborted(g *graph.Graph, results []chan types.VariantResult, from int) []types.PhaseResult {
	var out []types.PhaseResult
	for p := from; p < len(g.Phases); p++ {
		phase := &g.Phases[p]
		pr := types.PhaseResult{Phase: phase.Name, Status: types.StepAborted}

		got := map[string]types.VariantResult{}
	drain:
		for {
			select {
			case vr := <-results[p]:
				got[vr.Variant] = vr
			default:
				break drain
			}
		}

		for i := range phase.Variants {
			name := phase.Variants[i].Name
			if vr, ok := got[name]; ok {
				pr.Variants = append(pr.Variants, vr)
				continue
			}
			s.Collector.VariantSkipped()
			pr.Variants = append(pr.Variants, types.VariantResult{
				Variant: name,
				Status:  types.StepAborted,
			})
		}
		out = append(out, pr)
	}
	return out
}

func (s *Scheduler) logf(msg string, fields map[string]any) {
	if s.Logger != nil {
		s.Logger.Info(msg, fields)
	}
}
