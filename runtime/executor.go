// Package runtime walks the execution graph: phases sequentially,
// variants in parallel, steps strictly in order, with executor
// allocation, lock coordination, and credential scoping around them.
package runtime

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"syscall"
	"time"

	"github.com/keelci/keel/config"
)

// Handle is the opaque executor identity a variant runs on.
type Handle struct {
	// ID uniquely identifies the executor within one build.
	ID string
	// Label is the node label the variant requested, if any.
	Label string
}

// Spec describes one command execution.
type Spec struct {
	// Command is the fully resolved shell command.
	Command string
	// Env is the extra environment for the command.
	Env map[string]string
	// Image is the container image to run inside, empty for host
	// execution.
	Image string
	// Volumes are the mounts the command's container needs.
	Volumes []config.VolumeSpec
	// Workdir is the working directory.
	Workdir string
	// Node is the executor handle the owning variant holds.
	Node Handle
}

// Result is the outcome of one command execution.
type Result struct {
	// ExitCode is the command's exit code.
	ExitCode int
	// Output is the combined captured stdout and stderr.
	Output string
	// TimedOut reports whether the command was terminated on deadline.
	TimedOut bool
}

// Executor runs one command and reports its status and output.
// The scheduler never shells out directly; container and remote
// execution live behind this interface.
type Executor interface {
	Run(ctx context.Context, spec *Spec) (*Result, error)
}

// terminationGrace is how long a signalled command gets to exit cleanly
// before it is killed.
const terminationGrace = 10 * time.Second

// LocalExecutor runs commands on the host through the shell.
// Image and volume declarations are ignored; a container-backed
// Executor honors them instead.
type LocalExecutor struct {
	// Shell overrides the shell binary, default "/bin/sh".
	Shell string
}

// Run implements Executor. Context cancellation sends SIGTERM and waits
// up to the termination grace period for the command to exit before
// killing it; the call does not return until the process is gone.
func (e *LocalExecutor) Run(ctx context.Context, spec *Spec) (*Result, error) {
	shell := e.Shell
	if shell == "" {
		shell = "/bin/sh"
	}

	cmd := exec.CommandContext(ctx, shell, "-c", spec.Command)
	cmd.Dir = spec.Workdir
	cmd.Env = os.Environ()
	for k, v := range spec.Env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}

	var output bytes.Buffer
	cmd.Stdout = &output
	cmd.Stderr = &output

	cmd.Cancel = func() error {
		return cmd.Process.Signal(syscall.SIGTERM)
	}
	cmd.WaitDelay = terminationGrace

	err := cmd.Run()
	result := &Result{
		Output:   output.String(),
		TimedOut: errors.Is(ctx.Err(), context.DeadlineExceeded),
	}

	var exitErr *exec.ExitError
	switch {
	case err == nil:
		result.ExitCode = 0
	case errors.As(err, &exitErr):
		result.ExitCode = exitErr.ExitCode()
	default:
		return nil, fmt.Errorf("failed to run command: %w", err)
	}
	return result, nil
}
