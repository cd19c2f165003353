package cmd

import (
	"github.com/google/uuid"
	"github.com/urfave/cli/v2"

	"github.com/keelci/keel/gitsource"
	"github.com/keelci/keel/log"
	"github.com/keelci/keel/types"
)

// CheckoutSourceTreeCommand returns the checkout-source-tree command:
// materialize the target revision of a repository into the workspace.
func CheckoutSourceTreeCommand() *cli.Command {
	return &cli.Command{
		Name:  "checkout-source-tree",
		Usage: "Clone a repository and check out the target revision",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "target-remote",
				Usage:    "URL of the repository to clone",
				Required: true,
			},
			&cli.StringFlag{
				Name:     "target-ref",
				Usage:    "Branch or revision to check out",
				Required: true,
			},
			&cli.StringFlag{
				Name:  "workspace",
				Usage: "Directory the source tree is placed in",
				Value: ".",
			},
		},
		Action: checkoutAction,
	}
}

func checkoutAction(c *cli.Context) error {
	repo, err := gitsource.Clone(c.Context, c.String("workspace"), c.String("target-remote"), c.String("target-ref"))
	if err != nil {
		return cli.Exit(err.Error(), exitConfigError)
	}
	hash, branch, err := repo.Head(c.Context)
	if err != nil {
		return cli.Exit(err.Error(), exitConfigError)
	}
	logger := log.NewLogger(&types.BuildMeta{
		BuildID:      uuid.New().String(),
		Branch:       branch,
		TargetCommit: hash,
	})
	logger.Info("checked out source tree", map[string]any{
		"workspace": c.String("workspace"),
	})
	return nil
}
