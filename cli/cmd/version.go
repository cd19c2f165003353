package cmd

import (
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/keelci/keel/types"
)

// VersionCommand returns the version command.
func VersionCommand() *cli.Command {
	return &cli.Command{
		Name:  "version",
		Usage: "Print the keel version",
		Action: func(c *cli.Context) error {
			fmt.Fprintln(c.App.Writer, types.Version)
			return nil
		},
	}
}
