// Package cmd implements the keel CLI commands.
package cmd

import (
	"github.com/urfave/cli/v2"

	"github.com/keelci/keel/secrets"
)

// Exit codes. Nonzero codes distinguish build-step failures from
// configuration errors from "nothing to do".
const (
	exitSuccess      = 0
	exitStepFailure  = 1
	exitConfigError  = 2
	exitVersionError = 3
	exitNothingToDo  = 4
)

// secretStore returns the credential store for this invocation.
// Credentials are injected through the process environment.
func secretStore() secrets.Store {
	return secrets.EnvStore{}
}

// commonFlags are shared by every command that reads a config and a
// workspace.
func commonFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:  "config",
			Usage: "Path to the build configuration file",
			Value: "keel.yml",
		},
		&cli.StringFlag{
			Name:  "workspace",
			Usage: "Path to the source tree",
			Value: ".",
		},
		&cli.StringFlag{
			Name:  "format",
			Usage: "Output format: json, table, or yaml",
		},
	}
}
