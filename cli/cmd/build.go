package cmd

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/keelci/keel/cli/render"
	"github.com/keelci/keel/graph"
	"github.com/keelci/keel/metrics"
	"github.com/keelci/keel/runtime"
	"github.com/keelci/keel/types"
	"github.com/keelci/keel/version"
)

// BuildCommand returns the build command: construct the execution graph
// for the current source state and run it, optionally restricted to one
// phase or variant.
func BuildCommand() *cli.Command {
	return &cli.Command{
		Name:  "build",
		Usage: "Run the build graph for the current source state",
		Flags: append(commonFlags(),
			&cli.StringFlag{
				Name:  "phase",
				Usage: "Run only the named phase",
			},
			&cli.StringFlag{
				Name:  "variant",
				Usage: "Run only the named variant",
			},
			&cli.StringFlag{
				Name:  "archive-dir",
				Usage: "Directory collected artifacts are copied into",
				Value: ".keel/artifacts",
			},
		),
		Action: buildAction,
	}
}

func buildAction(c *cli.Context) error {
	// A process interrupt propagates to the running step command and
	// waits for its graceful termination before we exit.
	ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	env, err := setupEnv(ctx, c)
	if err != nil {
		return err
	}

	g, err := buildGraph(env)
	if err != nil {
		return cli.Exit(err.Error(), exitConfigError)
	}
	g = filterGraph(g, c.String("phase"), c.String("variant"))

	report, runErr := runGraph(ctx, env, g, c.String("archive-dir"))

	renderer, err := render.NewRenderer(c)
	if err != nil {
		return cli.Exit(err.Error(), exitConfigError)
	}
	if err := renderer.Report(report); err != nil {
		return cli.Exit(err.Error(), exitStepFailure)
	}

	if runErr != nil || report.Status != types.BuildSuccess {
		return cli.Exit("", exitStepFailure)
	}
	return nil
}

// buildInputs assembles the graph inputs from the resolved build
// environment.
func buildInputs(env *buildEnv) *graph.Inputs {
	// A base seeded from initial-version was never published; only a
	// tag-derived base feeds the new-version-only gate.
	var lastPublished version.Version
	if env.baseHash != "" {
		lastPublished = env.base
	}
	return &graph.Inputs{
		Config:        env.cfg,
		Version:       env.resolved,
		LastPublished: lastPublished,
		Range:         env.rng,
		ChangedFiles:  env.changed,
		Branch:        env.meta.Branch,
		TargetCommit:  env.meta.TargetCommit,
		Env:           env.passThroughEnv(),
	}
}

// buildGraph constructs the execution graph from the resolved build
// environment.
func buildGraph(env *buildEnv) (*graph.Graph, error) {
	return graph.Build(buildInputs(env))
}

// runGraph executes a graph with the standard scheduler wiring.
func runGraph(ctx context.Context, env *buildEnv, g *graph.Graph, archiveDir string) (*types.BuildReport, error) {
	sched := &runtime.Scheduler{
		Secrets:    secretStore(),
		Logger:     env.logger,
		Collector:  metrics.NewCollector(env.meta.BuildID, env.meta.Branch),
		Meta:       env.meta,
		Workdir:    ".",
		ArchiveDir: archiveDir,
	}
	return sched.Run(ctx, g)
}

// filterGraph restricts a graph to one phase and/or variant. Filtering
// happens after construction so gating and substitution behave exactly
// as in a full build.
func filterGraph(g *graph.Graph, phase, variant string) *graph.Graph {
	if phase == "" && variant == "" {
		return g
	}

	out := &graph.Graph{Version: g.Version, BuildLocks: g.BuildLocks}
	for _, p := range g.Phases {
		if phase != "" && p.Name != phase {
			continue
		}
		kept := graph.Phase{Name: p.Name, AcquireLocks: p.AcquireLocks}
		for _, v := range p.Variants {
			if variant != "" && v.Name != variant {
				continue
			}
			// A lone phase/variant run has no previous phase to chain from.
			v.ChainFromPrevious = false
			kept.Variants = append(kept.Variants, v)
		}
		if len(kept.Variants) > 0 {
			out.Phases = append(out.Phases, kept)
		}
	}
	return out
}
