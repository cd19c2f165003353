package cmd

import (
	"fmt"

	"github.com/urfave/cli/v2"
)

// MayPublishCommand returns the may-publish command: report through the
// exit code whether the current branch is allowed to publish.
func MayPublishCommand() *cli.Command {
	return &cli.Command{
		Name:   "may-publish",
		Usage:  "Exit 0 when the current branch may publish, 1 otherwise",
		Flags:  commonFlags(),
		Action: mayPublishAction,
	}
}

func mayPublishAction(c *cli.Context) error {
	env, err := setupEnv(c.Context, c)
	if err != nil {
		return err
	}
	if !env.mayPublish() {
		return cli.Exit(fmt.Sprintf("branch %q may not publish", env.meta.Branch), exitStepFailure)
	}
	return nil
}
