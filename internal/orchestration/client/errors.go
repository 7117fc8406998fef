package client

import (
	"errors"
	"fmt"
	"strings"
)

// ErrSkipEvent tells the reader that a record carries nothing of interest.
var ErrSkipEvent = errors.New("skip event")

// ErrExecutableNotFound is returned when the agent CLI cannot be located.
var ErrExecutableNotFound = errors.New("executable not found")

// Process failure categories.
const (
	FailureSpawn      = "spawn"
	FailureExit       = "exit"
	FailureTimeout    = "timeout"
	FailureNoResult   = "no_result"
	FailureAgentError = "agent_error"
)

// ProcessError describes an agent invocation that did not succeed.
type ProcessError struct {
	Category string
	ExitCode int
	Stderr   string
	Err      error
}

// Error implements the error interface.
func (e *ProcessError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "agent process %s", e.Category)
	if e.Category == FailureExit {
		fmt.Fprintf(&b, " (code %d)", e.ExitCode)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	if tail := lastLine(e.Stderr); tail != "" {
		fmt.Fprintf(&b, ": %s", tail)
	}
	return b.String()
}

// Unwrap returns the underlying error.
func (e *ProcessError) Unwrap() error { return e.Err }

// ParseError is a stdout line that could not be decoded.
type ParseError struct {
	Line string
	Err  error
}

// Error implements the error interface.
func (e *ParseError) Error() string {
	line := e.Line
	if len(line) > 120 {
		line = line[:120] + "..."
	}
	return fmt.Sprintf("unparseable agent output %q: %v", line, e.Err)
}

// Unwrap returns the underlying error.
func (e *ParseError) Unwrap() error { return e.Err }

func lastLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return strings.TrimSpace(s[i+1:])
	}
	return s
}
