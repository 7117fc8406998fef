// Package signals decides whether a session should wrap up, rotate to a
// fresh context, or halt because it is stuck. Detector judges once per
// iteration; StreamDetector judges tool calls as the agent makes them.
package signals

import (
	"fmt"
	"sync"
)

// Kind is the signal raised for an iteration.
type Kind int

const (
	None Kind = iota
	Warn
	Rotate
	Gutter
)

func (k Kind) String() string {
	switch k {
	case Warn:
		return "warn"
	case Rotate:
		return "rotate"
	case Gutter:
		return "gutter"
	default:
		return "none"
	}
}

// Signal is the outcome of one evaluation. Reason is set for Gutter. Repeat
// marks a Warn already raised in the current context.
type Signal struct {
	Kind   Kind
	Reason string
	Repeat bool
}

// DefaultGutterThreshold is how many identical consecutive failures halt a session.
const DefaultGutterThreshold = 3

// Policy holds the detector thresholds.
type Policy struct {
	WarnThreshold   int
	RotateThreshold int
	GutterThreshold int
}

// Validate checks 0 < warn < rotate and a gutter threshold of at least 2.
func (p Policy) Validate() error {
	if p.WarnThreshold <= 0 {
		return fmt.Errorf("warn threshold must be positive: %d", p.WarnThreshold)
	}
	if p.RotateThreshold <= p.WarnThreshold {
		return fmt.Errorf("rotate threshold (%d) must exceed warn threshold (%d)", p.RotateThreshold, p.WarnThreshold)
	}
	if p.GutterThreshold < 2 {
		return fmt.Errorf("gutter threshold must be at least 2: %d", p.GutterThreshold)
	}
	return nil
}

// Detector tracks the failure window and the per-context warn latch.
// Precedence when several conditions hold is Gutter, then Rotate, then Warn.
type Detector struct {
	mu     sync.Mutex
	policy Policy
	window []FailureSignature
	warned bool
}

// NewDetector creates a detector. A zero GutterThreshold uses the default.
func NewDetector(p Policy) (*Detector, error) {
	if p.GutterThreshold == 0 {
		p.GutterThreshold = DefaultGutterThreshold
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &Detector{policy: p}, nil
}

// RecordFailure appends a failure to the rolling window.
func (d *Detector) RecordFailure(sig FailureSignature) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.window = append(d.window, sig)
	if len(d.window) > d.policy.GutterThreshold {
		d.window = d.window[len(d.window)-d.policy.GutterThreshold:]
	}
}

// RecordSuccess breaks any run of consecutive failures.
func (d *Detector) RecordSuccess() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.window = d.window[:0]
}

// ResetContext clears the warn latch after a rotation.
func (d *Detector) ResetContext() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.warned = false
}

// Reset clears all state, used when a human releases a gutter halt.
func (d *Detector) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.window = nil
	d.warned = false
}

// Evaluate returns the single signal for this tick given the tokens used in
// the current context.
func (d *Detector) Evaluate(iterationTokens int) Signal {
	d.mu.Lock()
	defer d.mu.Unlock()

	if reason, stuck := d.gutterLocked(); stuck {
		return Signal{Kind: Gutter, Reason: reason}
	}
	if iterationTokens >= d.policy.RotateThreshold {
		return Signal{Kind: Rotate}
	}
	if iterationTokens >= d.policy.WarnThreshold {
		repeat := d.warned
		d.warned = true
		return Signal{Kind: Warn, Repeat: repeat}
	}
	return Signal{Kind: None}
}

// ConsecutiveFailures returns the length of the current identical-failure run.
func (d *Detector) ConsecutiveFailures() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.window) == 0 {
		return 0
	}
	last := d.window[len(d.window)-1].Key()
	n := 0
	for i := len(d.window) - 1; i >= 0 && d.window[i].Key() == last; i-- {
		n++
	}
	return n
}

func (d *Detector) gutterLocked() (string, bool) {
	n := d.policy.GutterThreshold
	if len(d.window) < n {
		return "", false
	}
	recent := d.window[len(d.window)-n:]
	key := recent[0].Key()
	for _, sig := range recent[1:] {
		if sig.Key() != key {
			return "", false
		}
	}
	return fmt.Sprintf("%s %d times in a row", recent[0], n), true
}
