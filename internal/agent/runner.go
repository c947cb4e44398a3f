package agent

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"strings"
	"time"
)

// ExecResult captures the outcome of a single shell command.
type ExecResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Runner executes shell commands on the local host. A non-zero exit code is
// reported through ExecResult, not as an error; errors are reserved for
// spawn failures and timeouts.
type Runner interface {
	Run(ctx context.Context, command string) (*ExecResult, error)
}

type shellRunner struct {
	timeout time.Duration
}

// NewShellRunner creates a Runner backed by /bin/sh with a per-command timeout.
func NewShellRunner(timeout time.Duration) Runner {
	if timeout == 0 {
		timeout = 10 * time.Minute
	}
	return &shellRunner{timeout: timeout}
}

func (r *shellRunner) Run(ctx context.Context, command string) (*ExecResult, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "sh", "-c", command)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	result := &ExecResult{
		Stdout: strings.TrimSpace(stdout.String()),
		Stderr: strings.TrimSpace(stderr.String()),
	}

	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
			return result, nil
		}
		return nil, err
	}

	return result, nil
}
