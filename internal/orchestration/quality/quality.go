// Package quality runs the project's own checks (build, lint, tests) after an
// agent iteration and before its work is committed.
package quality

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/zjrosen/ralph/internal/log"
)

// DefaultTimeout bounds a single check command.
const DefaultTimeout = 10 * time.Minute

// outputTail is how much combined output a failure keeps.
const outputTail = 2000

// Checker verifies a project after an iteration.
type Checker interface {
	Run(ctx context.Context, projectPath string, commands []string) error
}

// CheckError reports the first failing command.
type CheckError struct {
	Command  string
	ExitCode int
	Output   string
	TimedOut bool
}

// Error implements the error interface.
func (e *CheckError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "quality check %q ", e.Command)
	if e.TimedOut {
		b.WriteString("timed out")
	} else {
		fmt.Fprintf(&b, "failed (exit %d)", e.ExitCode)
	}
	if last := lastLine(e.Output); last != "" {
		fmt.Fprintf(&b, ": %s", last)
	}
	return b.String()
}

// ShellChecker runs each command with "sh -c" in the project directory, in
// order, stopping at the first failure.
type ShellChecker struct {
	Timeout time.Duration
}

// NewShellChecker creates a ShellChecker. A zero timeout uses DefaultTimeout.
func NewShellChecker(timeout time.Duration) *ShellChecker {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &ShellChecker{Timeout: timeout}
}

// Run executes commands. An empty list passes.
func (c *ShellChecker) Run(ctx context.Context, projectPath string, commands []string) error {
	for _, command := range commands {
		command = strings.TrimSpace(command)
		if command == "" {
			continue
		}
		if err := c.runOne(ctx, projectPath, command); err != nil {
			return err
		}
	}
	return nil
}

func (c *ShellChecker) runOne(ctx context.Context, projectPath, command string) error {
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	log.Debug(log.CatOrch, "running quality check", "command", command, "dir", projectPath)
	start := time.Now()

	// #nosec G204 -- commands come from the user's session config
	cmd := exec.CommandContext(cctx, "sh", "-c", command)
	cmd.Dir = projectPath
	cmd.WaitDelay = 5 * time.Second
	out, err := cmd.CombinedOutput()
	if err == nil {
		log.Debug(log.CatOrch, "quality check passed", "command", command, "duration", time.Since(start))
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}

	cerr := &CheckError{Command: command, Output: tail(string(out)), ExitCode: -1}
	var exitErr *exec.ExitError
	switch {
	case errors.Is(cctx.Err(), context.DeadlineExceeded):
		cerr.TimedOut = true
	case errors.As(err, &exitErr):
		cerr.ExitCode = exitErr.ExitCode()
	default:
		cerr.Output = err.Error()
	}
	log.Warn(log.CatOrch, "quality check failed", "command", command, "exit", cerr.ExitCode, "timedOut", cerr.TimedOut)
	return cerr
}

func tail(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > outputTail {
		return s[len(s)-outputTail:]
	}
	return s
}

func lastLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return strings.TrimSpace(s[i+1:])
	}
	return s
}

var _ Checker = (*ShellChecker)(nil)
