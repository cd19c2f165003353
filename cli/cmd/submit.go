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

// SubmitCommand returns the submit command: tag the target revision with
// the resolved version and run the post-submit steps.
func SubmitCommand() *cli.Command {
	return &cli.Command{
		Name:   "submit",
		Usage:  "Tag the target revision and run post-submit steps",
		Flags:  commonFlags(),
		Action: submitAction,
	}
}

func submitAction(c *cli.Context) error {
	ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	env, err := setupEnv(ctx, c)
	if err != nil {
		return err
	}

	if !env.mayPublish() {
		return cli.Exit(fmt.Sprintf("branch %q may not publish", env.meta.Branch), exitStepFailure)
	}
	if env.bumpLevel == version.LevelNone && env.resolved.Equal(env.base) {
		env.logger.Info("no new version to submit", map[string]any{
			"version": env.base.Render(),
		})
		return cli.Exit("", exitNothingToDo)
	}

	tag := env.resolved.Render()
	if err := env.repo.CreateTag(ctx, tag, env.meta.TargetCommit); err != nil {
		return cli.Exit(err.Error(), exitConfigError)
	}
	env.logger.Info("created version tag", map[string]any{
		"tag": tag,
	})

	if len(env.cfg.PostSubmit) > 0 {
		g, err := graph.BuildStandalone(buildInputs(env), "post-submit", env.cfg.PostSubmit)
		if err != nil {
			return cli.Exit(err.Error(), exitConfigError)
		}
		report, runErr := runGraph(ctx, env, g, "")
		if runErr != nil || report.Status != types.BuildSuccess {
			return cli.Exit("post-submit failed", exitStepFailure)
		}
	}

	fmt.Fprintln(c.App.Writer, tag)
	return nil
}
