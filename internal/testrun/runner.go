// Package testrun executes the repository's configured test command and
// normalizes the outcome into a structured result, including the timeout case.
package testrun

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os/exec"
	"strings"
	"time"

	"iterflow/internal/types"
)

// Runner executes test commands inside one repository.
type Runner struct {
	// Dir is the absolute repository root the command runs in.
	Dir string
	// Timeout bounds one test execution. Zero means no bound.
	Timeout time.Duration
}

// Run executes command through the shell and captures combined output. A
// timeout yields a structured result (ExitCode TimeoutExitCode, TimedOut set)
// rather than an error; only failures to start the process error out.
func (r *Runner) Run(ctx context.Context, command string) (types.TestResult, error) {
	res := types.TestResult{Command: command}
	if strings.TrimSpace(command) == "" {
		return res, errors.New("testrun: empty command")
	}

	runCtx := ctx
	cancel := context.CancelFunc(func() {})
	if r.Timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, r.Timeout)
	}
	defer cancel()

	cmd := exec.CommandContext(runCtx, "sh", "-c", command)
	cmd.Dir = r.Dir
	out, err := cmd.CombinedOutput()
	res.Output = string(out)

	if runCtx.Err() == context.DeadlineExceeded {
		res.ExitCode = types.TimeoutExitCode
		res.TimedOut = true
		res.Output += fmt.Sprintf("\n[timeout] test run exceeded %s", r.Timeout)
		log.Printf("testrun: %q timed out after %s", command, r.Timeout)
		return res, nil
	}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			res.ExitCode = exitErr.ExitCode()
		} else {
			return res, fmt.Errorf("testrun: start %q: %w", command, err)
		}
	}
	log.Printf("testrun: %q exited %d (%d bytes of output)", command, res.ExitCode, len(res.Output))
	return res, nil
}

// StatusLine renders the human-readable verdict for one result.
func StatusLine(res types.TestResult) string {
	switch {
	case res.TimedOut:
		return fmt.Sprintf("[tests] Status: TIMED OUT (exit code: %d)", res.ExitCode)
	case res.Passing():
		return fmt.Sprintf("[tests] Status: PASSED (exit code: %d)", res.ExitCode)
	default:
		return fmt.Sprintf("[tests] Status: FAILED (exit code: %d)", res.ExitCode)
	}
}
