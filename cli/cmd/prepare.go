package cmd

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/keelci/keel/graph"
	"github.com/keelci/keel/types"
	"github.com/keelci/keel/version"
)

// PrepareSourceTreeCommand returns the prepare-source-tree command
// group: operations that mutate the workspace into the state a build
// runs against.
func PrepareSourceTreeCommand() *cli.Command {
	return &cli.Command{
		Name:  "prepare-source-tree",
		Usage: "Mutate the workspace into the state a build runs against",
		Subcommands: []*cli.Command{
			mergeChangeRequestCommand(),
			applyModalityChangeCommand(),
			bumpVersionCommand(),
		},
	}
}

func mergeChangeRequestCommand() *cli.Command {
	return &cli.Command{
		Name:  "merge-change-request",
		Usage: "Fast-forward the workspace to a change request's revision",
		Flags: append(commonFlags(),
			&cli.StringFlag{
				Name:     "source-remote",
				Usage:    "URL of the repository holding the change request",
				Required: true,
			},
			&cli.StringFlag{
				Name:     "source-ref",
				Usage:    "Change request branch or revision",
				Required: true,
			},
		),
		Action: mergeChangeRequestAction,
	}
}

func mergeChangeRequestAction(c *cli.Context) error {
	env, err := setupEnv(c.Context, c)
	if err != nil {
		return err
	}

	hash, err := env.repo.MergeChangeRequest(c.Context, c.String("source-remote"), c.String("source-ref"))
	if err != nil {
		return cli.Exit(err.Error(), exitConfigError)
	}
	env.logger.Info("merged change request", map[string]any{
		"source-ref": c.String("source-ref"),
		"merged":     hash,
	})
	fmt.Fprintln(c.App.Writer, hash)
	return nil
}

func applyModalityChangeCommand() *cli.Command {
	return &cli.Command{
		Name:      "apply-modality-change",
		Usage:     "Run a modality's preparation steps and commit the result",
		ArgsUsage: "<modality>",
		Flags:     commonFlags(),
		Action:    applyModalityChangeAction,
	}
}

func applyModalityChangeAction(c *cli.Context) error {
	ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	modality := c.Args().First()
	if modality == "" {
		return cli.Exit("modality name required", exitConfigError)
	}

	env, err := setupEnv(ctx, c)
	if err != nil {
		return err
	}

	steps, ok := env.cfg.Modality[modality]
	if !ok {
		return cli.Exit(fmt.Sprintf("unknown modality %q", modality), exitConfigError)
	}

	g, err := graph.BuildStandalone(buildInputs(env), modality, steps)
	if err != nil {
		return cli.Exit(err.Error(), exitConfigError)
	}

	report, runErr := runGraph(ctx, env, g, "")
	if runErr != nil || report.Status != types.BuildSuccess {
		return cli.Exit("modality preparation failed", exitStepFailure)
	}

	hash, err := env.repo.CommitAll(ctx, fmt.Sprintf("Apply modality change: %s", modality))
	if err != nil {
		return cli.Exit(err.Error(), exitConfigError)
	}
	env.logger.Info("applied modality change", map[string]any{
		"modality": modality,
		"commit":   hash,
	})
	fmt.Fprintln(c.App.Writer, hash)
	return nil
}

func bumpVersionCommand() *cli.Command {
	return &cli.Command{
		Name:   "bump-version",
		Usage:  "Resolve and report the version for the current source state",
		Flags:  commonFlags(),
		Action: bumpVersionAction,
	}
}

func bumpVersionAction(c *cli.Context) error {
	env, err := setupEnv(c.Context, c)
	if err != nil {
		return err
	}

	// A range that produces no bump means the source state is already
	// versioned; there is nothing to prepare.
	if env.bumpLevel == version.LevelNone && env.resolved.Equal(env.base) {
		env.logger.Info("no version bump required", map[string]any{
			"version": env.base.Render(),
		})
		return cli.Exit("", exitNothingToDo)
	}

	env.logger.Info("version resolved", map[string]any{
		"base":    env.base.Render(),
		"version": env.resolved.Render(),
		"bump":    env.bumpLevel.String(),
	})
	fmt.Fprintln(c.App.Writer, env.resolved.Render())
	return nil
}
