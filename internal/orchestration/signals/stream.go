package signals

import (
	"fmt"
	"strings"
	"time"
)

// Stream thresholds applied within one agent invocation.
const (
	DefaultCommandFailures = 3
	DefaultThrashWrites    = 5
	DefaultThrashWindow    = 10 * time.Minute
)

// StreamDetector watches the tool calls of a single invocation for signs
// the agent is stuck: the same shell command failing over and over, or the
// same file rewritten many times in a short window. It is not safe for
// concurrent use; the invoke loop owns it.
type StreamDetector struct {
	commandFailures int
	thrashWrites    int
	thrashWindow    time.Duration
	now             func() time.Time

	failures map[string]int
	writes   map[string][]time.Time
}

// StreamOption configures a StreamDetector.
type StreamOption func(*StreamDetector)

// WithCommandFailures sets how many failures of one command count as stuck.
func WithCommandFailures(n int) StreamOption {
	return func(d *StreamDetector) { d.commandFailures = n }
}

// WithThrash sets how many writes to one path within window count as stuck.
func WithThrash(writes int, window time.Duration) StreamOption {
	return func(d *StreamDetector) { d.thrashWrites, d.thrashWindow = writes, window }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) StreamOption {
	return func(d *StreamDetector) { d.now = now }
}

func NewStreamDetector(opts ...StreamOption) *StreamDetector {
	d := &StreamDetector{
		commandFailures: DefaultCommandFailures,
		thrashWrites:    DefaultThrashWrites,
		thrashWindow:    DefaultThrashWindow,
		now:             time.Now,
		failures:        make(map[string]int),
		writes:          make(map[string][]time.Time),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// ObserveShell records a finished shell command. Successful runs are
// ignored; they do not reset the failure count.
func (d *StreamDetector) ObserveShell(command string, exitCode int) Signal {
	command = strings.TrimSpace(command)
	if exitCode == 0 || command == "" {
		return Signal{}
	}
	d.failures[command]++
	if n := d.failures[command]; n >= d.commandFailures {
		return Signal{Kind: Gutter, Reason: fmt.Sprintf("command failed %d times: %s", n, command)}
	}
	return Signal{}
}

// ObserveWrite records a write to path and drops writes older than the
// window.
func (d *StreamDetector) ObserveWrite(path string) Signal {
	if path == "" {
		return Signal{}
	}
	now := d.now()
	cutoff := now.Add(-d.thrashWindow)
	kept := d.writes[path][:0]
	for _, t := range d.writes[path] {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	kept = append(kept, now)
	d.writes[path] = kept

	if len(kept) >= d.thrashWrites {
		return Signal{Kind: Gutter, Reason: fmt.Sprintf("file thrashing: %s written %d times in %s", path, len(kept), d.thrashWindow)}
	}
	return Signal{}
}
