package cmd

import (
	"github.com/urfave/cli/v2"

	"github.com/keelci/keel/gitsource"
)

// UnbundleCommand returns the unbundle command: import the refs and
// objects of a git bundle into the workspace repository.
func UnbundleCommand() *cli.Command {
	return &cli.Command{
		Name:  "unbundle",
		Usage: "Import a git bundle into the workspace repository",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "bundle",
				Usage:    "Path to the bundle file",
				Required: true,
			},
			&cli.StringFlag{
				Name:  "workspace",
				Usage: "Path to the source tree",
				Value: ".",
			},
		},
		Action: unbundleAction,
	}
}

func unbundleAction(c *cli.Context) error {
	repo, err := gitsource.Open(c.String("workspace"))
	if err != nil {
		return cli.Exit(err.Error(), exitConfigError)
	}
	if err := repo.Unbundle(c.Context, c.String("bundle")); err != nil {
		return cli.Exit(err.Error(), exitConfigError)
	}
	return nil
}
