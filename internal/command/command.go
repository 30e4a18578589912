// Package command runs the external tools (blastn, blastdbcmd, primer3_core,
// gfServer, faToTwoBit) and captures their output.
package command

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
)

// Result is the captured output of a process that ran to completion
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Runner executes a command and blocks until it exits
type Runner interface {
	Run(ctx context.Context, stdin io.Reader, name string, args ...string) (*Result, error)
}

// Process is a started, long-lived process
type Process interface {
	Wait() error
	Kill() error
}

// Starter launches a command without waiting on it
type Starter interface {
	Start(ctx context.Context, name string, args ...string) (Process, error)
}

// Exec runs commands with os/exec
type Exec struct{}

// Run executes name with args. An error is only returned if the process could not
// be started or was killed because ctx ended; a non-zero exit is reported in
// the Result's ExitCode instead
func (Exec) Run(ctx context.Context, stdin io.Reader, name string, args ...string) (*Result, error) {
	var stdout, stderr bytes.Buffer

	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdin = stdin
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, fmt.Errorf("%s was cancelled: %w", name, ctxErr)
	}

	res := &Result{
		Stdout: strings.ToValidUTF8(stdout.String(), "�"),
		Stderr: strings.ToValidUTF8(stderr.String(), "�"),
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		res.ExitCode = exitErr.ExitCode()
		return res, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to execute %s: %w", name, err)
	}

	return res, nil
}

// Start launches name with args. The process is killed if ctx ends before it exits
func (Exec) Start(ctx context.Context, name string, args ...string) (Process, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start %s: %w", name, err)
	}
	return &process{cmd: cmd}, nil
}

type process struct {
	cmd *exec.Cmd
}

func (p *process) Wait() error {
	return p.cmd.Wait()
}

func (p *process) Kill() error {
	return p.cmd.Process.Kill()
}
