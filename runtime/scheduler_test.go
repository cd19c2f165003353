package runtime

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/keelci/keel/config"
	"github.com/keelci/keel/graph"
	"github.com/keelci/keel/secrets"
	"github.com/keelci/keel/types"
	"github.com/keelci/keel/version"
)

// fakeExecutor records every Run call. exitCodes fails specific
// commands; onRun lets a test coordinate concurrency.
type fakeExecutor struct {
	mu        sync.Mutex
	runs      []*Spec
	exitCodes map[string]int
	onRun     func(spec *Spec)
}

func (f *fakeExecutor) Run(_ context.Context, spec *Spec) (*Result, error) {
	if f.onRun != nil {
		f.onRun(spec)
	}
	f.mu.Lock()
	f.runs = append(f.runs, spec)
	f.mu.Unlock()

	if code, ok := f.exitCodes[spec.Command]; ok {
		return &Result{ExitCode: code, Output: "boom"}, nil
	}
	return &Result{Output: "ok"}, nil
}

func (f *fakeExecutor) commands() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.runs))
	for i, s := range f.runs {
		out[i] = s.Command
	}
	return out
}

func (f *fakeExecutor) specFor(command string) *Spec {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range f.runs {
		if s.Command == command {
			return s
		}
	}
	return nil
}

func simpleGraph() *graph.Graph {
	return &graph.Graph{
		Version: version.MustParse("1.0.0"),
		Phases: []graph.Phase{
			{
				Name: "build",
				Variants: []graph.Variant{
					{Name: "x", Steps: []graph.Step{{Command: "x-build"}}},
					{Name: "y", Steps: []graph.Step{{Command: "y-build"}}},
				},
			},
			{
				Name: "test",
				Variants: []graph.Variant{
					{Name: "x", Steps: []graph.Step{{Command: "x-test"}}},
				},
			},
		},
	}
}

func TestScheduler_PhaseOrdering(t *testing.T) {
	exec := &fakeExecutor{}
	s := &Scheduler{Executor: exec}

	report, err := s.Run(context.Background(), simpleGraph())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if report.Status != types.BuildSuccess {
		t.Errorf("Status = %s", report.Status)
	}
	if len(report.Phases) != 2 {
		t.Fatalf("got %d phase results", len(report.Phases))
	}

	// Both build commands ran before the test command.
	commands := exec.commands()
	if len(commands) != 3 {
		t.Fatalf("commands = %v", commands)
	}
	if commands[2] != "x-test" {
		t.Errorf("phase boundary violated: %v", commands)
	}
}

func TestScheduler_HandleReuseAcrossPhases(t *testing.T) {
	exec := &fakeExecutor{}
	s := &Scheduler{Executor: exec}

	if _, err := s.Run(context.Background(), simpleGraph()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	buildNode := exec.specFor("x-build").Node
	testNode := exec.specFor("x-test").Node
	if buildNode.ID != testNode.ID {
		t.Error("the same variant should keep its executor across phases")
	}
	if yNode := exec.specFor("y-build").Node; yNode.ID == buildNode.ID {
		t.Error("distinct variants should run on distinct executors")
	}
}

func TestScheduler_StepFailureStopsVariant(t *testing.T) {
	g := &graph.Graph{
		Version: version.MustParse("1.0.0"),
		Phases: []graph.Phase{
			{
				Name: "build",
				Variants: []graph.Variant{
					{Name: "x", Steps: []graph.Step{
						{Command: "x-1"},
						{Command: "x-2"},
						{Command: "x-3"},
					}},
					{Name: "y", Steps: []graph.Step{{Command: "y-1"}}},
				},
			},
			{
				Name: "publish",
				Variants: []graph.Variant{
					{Name: "x", Steps: []graph.Step{{Command: "x-publish"}}},
				},
			},
		},
	}

	exec := &fakeExecutor{exitCodes: map[string]int{"x-2": 3}}
	s := &Scheduler{Executor: exec}

	report, err := s.Run(context.Background(), g)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if report.Status != types.BuildFailed {
		t.Errorf("Status = %s, want failed", report.Status)
	}

	build := report.Phases[0]
	x := build.Variants[0]
	if x.Variant != "x" {
		x = build.Variants[1]
	}
	if x.Steps[0].Status != types.StepSuccess {
		t.Errorf("step before failure = %s", x.Steps[0].Status)
	}
	if x.Steps[1].Status != types.StepFailed || x.Steps[1].ExitCode != 3 {
		t.Errorf("failed step = %+v", x.Steps[1])
	}
	if x.Steps[2].Status != types.StepAborted {
		t.Errorf("step after failure = %s, want aborted", x.Steps[2].Status)
	}

	// The sibling variant still finishes its phase.
	for _, v := range build.Variants {
		if v.Variant == "y" && v.Status != types.StepSuccess {
			t.Errorf("sibling variant = %s, want success", v.Status)
		}
	}

	// The publish phase never starts.
	if len(report.Phases) != 2 {
		t.Fatalf("got %d phase results", len(report.Phases))
	}
	if report.Phases[1].Status != types.StepAborted {
		t.Errorf("publish phase = %s, want aborted", report.Phases[1].Status)
	}
	if spec := exec.specFor("x-publish"); spec != nil {
		t.Error("publish command ran despite the failure")
	}
}

func TestScheduler_ChainedVariantSkipsJoin(t *testing.T) {
	chainReached := make(chan struct{})
	g := &graph.Graph{
		Version: version.MustParse("1.0.0"),
		Phases: []graph.Phase{
			{
				Name: "build",
				Variants: []graph.Variant{
					{Name: "x", Steps: []graph.Step{{Command: "x-build"}}},
					{Name: "y", Steps: []graph.Step{{Command: "y-slow"}}},
				},
			},
			{
				Name: "test",
				Variants: []graph.Variant{
					{Name: "x", ChainFromPrevious: true, Steps: []graph.Step{{Command: "x-test"}}},
				},
			},
		},
	}

	exec := &fakeExecutor{}
	exec.onRun = func(spec *Spec) {
		switch spec.Command {
		case "x-test":
			close(chainReached)
		case "y-slow":
			// Finishes only once the chained continuation has started:
			// the chain must not wait on this phase's join.
			select {
			case <-chainReached:
			case <-time.After(5 * time.Second):
			}
		}
	}

	s := &Scheduler{Executor: exec}
	report, err := s.Run(context.Background(), g)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if report.Status != types.BuildSuccess {
		t.Errorf("Status = %s", report.Status)
	}

	select {
	case <-chainReached:
	case <-time.After(time.Second):
		t.Fatal("chained variant never started before the previous phase joined")
	}
}

func TestScheduler_BuildLockTimeout(t *testing.T) {
	locks := NewLockCoordinator()
	locks.MaxWait = 30 * time.Millisecond
	if err := locks.AcquireAll(context.Background(), []string{"infra/main"}); err != nil {
		t.Fatal(err)
	}

	g := simpleGraph()
	g.BuildLocks = []string{"infra/main"}

	exec := &fakeExecutor{}
	s := &Scheduler{Executor: exec, Locks: locks}

	report, err := s.Run(context.Background(), g)
	if err == nil {
		t.Fatal("Run should surface the lock timeout")
	}
	if report.Status != types.BuildFailed {
		t.Errorf("Status = %s", report.Status)
	}
	if len(exec.commands()) != 0 {
		t.Errorf("no step should run without the build lock, got %v", exec.commands())
	}
}

func TestScheduler_PhaseLock(t *testing.T) {
	g := simpleGraph()
	g.Phases[1].AcquireLocks = []string{"staging-env"}

	exec := &fakeExecutor{}
	locks := NewLockCoordinator()
	s := &Scheduler{Executor: exec, Locks: locks}

	report, err := s.Run(context.Background(), g)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if report.Status != types.BuildSuccess {
		t.Errorf("Status = %s", report.Status)
	}

	// The lock was released when the build finished.
	locks.MaxWait = 30 * time.Millisecond
	if err := locks.AcquireAll(context.Background(), []string{"staging-env"}); err != nil {
		t.Errorf("phase lock still held after the build: %v", err)
	}
}

func TestScheduler_CredentialEnv(t *testing.T) {
	store := secrets.NewMemoryStore()
	store.Put(&secrets.Secret{
		Ref:      secrets.Ref{ID: "registry", Type: secrets.TypeUsernamePassword},
		Username: "deployer",
		Password: "hunter2",
	})

	g := &graph.Graph{
		Version: version.MustParse("1.0.0"),
		Phases: []graph.Phase{
			{
				Name: "publish",
				Variants: []graph.Variant{
					{Name: "all", Steps: []graph.Step{{
						Command: "docker push",
						Env:     map[string]string{"VERSION": "1.0.0"},
						Credentials: []config.CredentialRef{{
							ID:               "registry",
							Type:             config.CredUsernamePassword,
							UsernameVariable: "REGISTRY_USER",
							PasswordVariable: "REGISTRY_PASS",
						}},
					}}},
				},
			},
		},
	}

	exec := &fakeExecutor{}
	s := &Scheduler{Executor: exec, Secrets: store}

	report, err := s.Run(context.Background(), g)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if report.Status != types.BuildSuccess {
		t.Fatalf("Status = %s", report.Status)
	}

	env := exec.specFor("docker push").Env
	if env["REGISTRY_USER"] != "deployer" || env["REGISTRY_PASS"] != "hunter2" {
		t.Errorf("credential env = %v", env)
	}
	if env["VERSION"] != "1.0.0" {
		t.Error("step env lost during credential merge")
	}
}

func TestScheduler_MissingCredentialFailsStep(t *testing.T) {
	g := &graph.Graph{
		Version: version.MustParse("1.0.0"),
		Phases: []graph.Phase{
			{
				Name: "publish",
				Variants: []graph.Variant{
					{Name: "all", Steps: []graph.Step{{
						Command: "docker push",
						Credentials: []config.CredentialRef{{
							ID:             "registry",
							Type:           config.CredString,
							StringVariable: "TOKEN",
						}},
					}}},
				},
			},
		},
	}

	exec := &fakeExecutor{}
	s := &Scheduler{Executor: exec, Secrets: secrets.NewMemoryStore()}

	report, err := s.Run(context.Background(), g)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if report.Status != types.BuildFailed {
		t.Errorf("Status = %s, want failed", report.Status)
	}
	if len(exec.commands()) != 0 {
		t.Error("command ran despite unresolvable credential")
	}
}

func TestScheduler_EmptyGraph(t *testing.T) {
	s := &Scheduler{Executor: &fakeExecutor{}}
	report, err := s.Run(context.Background(), &graph.Graph{Version: version.MustParse("1.0.0")})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if report.Status != types.BuildSuccess {
		t.Errorf("Status = %s", report.Status)
	}
}
