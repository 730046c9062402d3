package compiler

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os/exec"
)

// Outcome is what a finished backend process left behind
type Outcome struct {
	Stdout []byte
	Stderr []byte

	// Exit status, -1 when the process was terminated by a signal
	ExitCode int
}

// Signaled reports whether the process was killed rather than exiting
func (o *Outcome) Signaled() bool {
	return o.ExitCode < 0
}

// Runner executes a backend invocation. A nil Outcome with an error means
// the process could not be started. A non-zero exit is not an error.
type Runner interface {
	Run(ctx context.Context, inv *Invocation) (*Outcome, error)
}

// ExecRunner runs invocations as child processes
type ExecRunner struct {
	// Receives a copy of the backend's stderr as it is produced, may be nil
	Stream io.Writer

	execCommand func(ctx context.Context, name string, args ...string) *exec.Cmd
}

// NewExecRunner creates a runner that echoes backend stderr to stream
func NewExecRunner(stream io.Writer) *ExecRunner {
	return &ExecRunner{
		Stream:      stream,
		execCommand: exec.CommandContext,
	}
}

// Run starts the process and waits for it
func (r *ExecRunner) Run(ctx context.Context, inv *Invocation) (*Outcome, error) {
	cmd := r.execCommand(ctx, inv.Program, inv.Args...)
	cmd.Dir = inv.Dir
	cmd.Env = inv.Env

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if r.Stream != nil {
		cmd.Stderr = io.MultiWriter(&stderr, r.Stream)
	}

	if err := cmd.Start(); err != nil {
		return nil, err
	}

	err := cmd.Wait()

	outcome := &Outcome{Stdout: stdout.Bytes(), Stderr: stderr.Bytes()}

	var exitErr *exec.ExitError
	switch {
	case err == nil:
		outcome.ExitCode = 0
	case errors.As(err, &exitErr):
		outcome.ExitCode = exitErr.ExitCode()
	default:
		// Output copying failed; the exit status is unknown
		return outcome, err
	}

	return outcome, nil
}
