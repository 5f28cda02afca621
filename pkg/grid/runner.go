// Package grid wraps the external grid tools the cache orchestrates:
// the metadata-query client (dasgoclient), the transfer client (xrdcp) and
// the VOMS proxy tools. Each tool is its own failure domain, invoked as a
// subprocess with a timeout; a non-zero exit or a timeout is a retryable
// failure up to the caller's attempt budget.
package grid

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"time"
)

// Result captures one subprocess invocation.
type Result struct {
	ExitCode int
	Stdout   string
	Stderr   string
}

// Ok reports whether the process exited zero.
func (r Result) Ok() bool { return r.ExitCode == 0 }

// Runner executes external tools. The interface exists so staging and query
// logic can be tested without the real grid binaries.
type Runner interface {
	// Run executes name with args and waits for completion. A timeout of
	// zero means no limit. The error is non-nil only when the process
	// could not be run at all or the timeout fired; a non-zero exit is
	// reported through Result.ExitCode.
	Run(ctx context.Context, name string, args []string, timeout time.Duration) (Result, error)
}

// ExecRunner runs tools with os/exec.
type ExecRunner struct{}

// Run implements Runner.
func (ExecRunner) Run(ctx context.Context, name string, args []string, timeout time.Duration) (Result, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	result := Result{Stdout: stdout.String(), Stderr: stderr.String()}

	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			// The timeout shows up as a killed process; report it as an
			// error rather than an exit code.
			if ctxErr := ctx.Err(); ctxErr != nil {
				result.ExitCode = -1
				return result, fmt.Errorf("%s timed out: %w", name, ctxErr)
			}
			result.ExitCode = exitErr.ExitCode()
			return result, nil
		}
		result.ExitCode = -1
		return result, fmt.Errorf("run %s: %w", name, err)
	}

	return result, nil
}
