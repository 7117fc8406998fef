package domain

import "fmt"

// StatusKind names a session lifecycle state.
type StatusKind string

const (
	StatusIdle               StatusKind = "idle"
	StatusRunning            StatusKind = "running"
	StatusPaused             StatusKind = "paused"
	StatusWaitingForRotation StatusKind = "waiting_for_rotation"
	StatusGutter             StatusKind = "gutter"
	StatusComplete           StatusKind = "complete"
	StatusFailed             StatusKind = "failed"
)

// Valid reports whether k is a known status kind.
func (k StatusKind) Valid() bool {
	switch k {
	case StatusIdle, StatusRunning, StatusPaused, StatusWaitingForRotation,
		StatusGutter, StatusComplete, StatusFailed:
		return true
	}
	return false
}

// SessionStatus is a tagged variant. StoryID is set only for running,
// Reason only for gutter and Error only for failed.
type SessionStatus struct {
	Kind    StatusKind `json:"kind"`
	StoryID string     `json:"story_id,omitempty"`
	Reason  string     `json:"reason,omitempty"`
	Error   string     `json:"error,omitempty"`
}

func Idle() SessionStatus               { return SessionStatus{Kind: StatusIdle} }
func Paused() SessionStatus             { return SessionStatus{Kind: StatusPaused} }
func WaitingForRotation() SessionStatus { return SessionStatus{Kind: StatusWaitingForRotation} }
func Complete() SessionStatus           { return SessionStatus{Kind: StatusComplete} }

// Running marks the session as working on storyID.
func Running(storyID string) SessionStatus {
	return SessionStatus{Kind: StatusRunning, StoryID: storyID}
}

// Gutter marks the session as halted on repeated identical failures.
func Gutter(reason string) SessionStatus {
	return SessionStatus{Kind: StatusGutter, Reason: reason}
}

// Failed marks the session as terminally failed.
func Failed(err string) SessionStatus {
	return SessionStatus{Kind: StatusFailed, Error: err}
}

// IsTerminal reports whether no further transitions are possible.
func (s SessionStatus) IsTerminal() bool {
	return s.Kind == StatusComplete || s.Kind == StatusFailed
}

// IsActive reports whether a supervisor loop owns the session.
func (s SessionStatus) IsActive() bool {
	return s.Kind == StatusRunning || s.Kind == StatusWaitingForRotation
}

// CanStart reports whether StartSession may move the session to running.
func (s SessionStatus) CanStart() bool {
	return s.Kind == StatusIdle || s.Kind == StatusPaused
}

func (s SessionStatus) String() string {
	switch s.Kind {
	case StatusRunning:
		return fmt.Sprintf("running(%s)", s.StoryID)
	case StatusGutter:
		return fmt.Sprintf("gutter(%s)", s.Reason)
	case StatusFailed:
		return fmt.Sprintf("failed(%s)", s.Error)
	default:
		return string(s.Kind)
	}
}
