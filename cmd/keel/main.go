// Package main provides the keel CLI entrypoint.
//
// Usage:
//
//	keel <command> [subcommand] [options]
//
// Exit codes:
//   - 0: success
//   - 1: step failure
//   - 2: configuration error
//   - 3: version resolution error
//   - 4: nothing to do
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/keelci/keel/cli/cmd"
	"github.com/keelci/keel/types"
)

// Commit is set via ldflags at build time.
var commit = "unknown"

func main() {
	app := &cli.App{
		Name:           "keel",
		Usage:          "Build orchestration CLI",
		Version:        fmt.Sprintf("%s (commit: %s)", types.Version, commit),
		ExitErrHandler: exitErrHandler,
		Commands: []*cli.Command{
			cmd.CheckoutSourceTreeCommand(),
			cmd.PrepareSourceTreeCommand(),
			cmd.BuildCommand(),
			cmd.SubmitCommand(),
			cmd.MayPublishCommand(),
			cmd.UnbundleCommand(),
			cmd.VersionCommand(),
		},
	}

	if err := app.Run(os.Args); err != nil {
		// ExitErrHandler already handled the exit for cli.ExitCoder errors.
		// This branch handles unexpected errors that weren't wrapped.
		os.Exit(1)
	}
}

// exitErrHandler handles errors from the CLI, preserving exit codes from
// cli.Exit().
func exitErrHandler(_ *cli.Context, err error) {
	if err == nil {
		return
	}

	var exitCoder cli.ExitCoder
	if errors.As(err, &exitCoder) {
		code := exitCoder.ExitCode()
		msg := exitCoder.Error()

		// cli.Exit("", N).Error() returns "exit status N"; skip those.
		if msg != "" && msg != fmt.Sprintf("exit status %d", code) {
			fmt.Fprintln(os.Stderr, msg)
		}
		os.Exit(code)
	}

	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}
