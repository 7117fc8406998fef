// Package domain holds the session model shared by the supervisor, the
// registry, persistence and the API.
package domain

import (
	"time"

	"github.com/zjrosen/ralph/internal/prd"
)

// SignalKind is the last context signal raised for a session.
type SignalKind string

const (
	SignalNone   SignalKind = "none"
	SignalWarn   SignalKind = "warn"
	SignalRotate SignalKind = "rotate"
	SignalGutter SignalKind = "gutter"
)

// ContextHealth summarizes iteration token usage against the thresholds.
type ContextHealth string

const (
	HealthHealthy  ContextHealth = "healthy"
	HealthWarning  ContextHealth = "warning"
	HealthCritical ContextHealth = "critical"
)

// TokenUsage tracks tokens in the current context and over the session.
// Iteration is zeroed on rotation; Lifetime never decreases.
type TokenUsage struct {
	Iteration int `json:"iteration"`
	Lifetime  int `json:"lifetime"`
}

// Add records n more tokens in both counters.
func (u *TokenUsage) Add(n int) {
	if n <= 0 {
		return
	}
	u.Iteration += n
	u.Lifetime += n
}

// Rotate starts a fresh context.
func (u *TokenUsage) Rotate() {
	u.Iteration = 0
}

// Health classifies Iteration against the thresholds.
func (u TokenUsage) Health(warn, rotate int) ContextHealth {
	switch {
	case u.Iteration >= rotate:
		return HealthCritical
	case u.Iteration >= warn:
		return HealthWarning
	default:
		return HealthHealthy
	}
}

// Session is one autonomous run against a project. The supervising goroutine
// owns the live value; everyone else sees copies made with Clone.
type Session struct {
	ID          string        `json:"id"`
	ProjectPath string        `json:"project_path"`
	Status      SessionStatus `json:"status"`
	Config      SessionConfig `json:"config"`
	Prd         *prd.Prd      `json:"prd,omitempty"`
	Iteration   int           `json:"current_iteration"`
	Tokens      TokenUsage    `json:"token_usage"`
	LastSignal  SignalKind    `json:"last_signal"`
	LastError   string        `json:"last_error,omitempty"`
	Commits     int           `json:"commits"`
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
}

// NewSession creates an idle session.
func NewSession(id, projectPath string, cfg SessionConfig, now time.Time) *Session {
	return &Session{
		ID:          id,
		ProjectPath: projectPath,
		Status:      Idle(),
		Config:      cfg.Clone(),
		LastSignal:  SignalNone,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// Clone returns a deep copy safe to hand to another goroutine.
func (s *Session) Clone() Session {
	out := *s
	out.Config = s.Config.Clone()
	out.Prd = s.Prd.Clone()
	return out
}

// Health is the context health for the current iteration tokens.
func (s *Session) Health() ContextHealth {
	return s.Tokens.Health(s.Config.WarnThreshold, s.Config.RotateThreshold)
}

// CompletedStories counts passing stories.
func (s *Session) CompletedStories() int {
	if s.Prd == nil {
		return 0
	}
	return len(s.Prd.Stories) - s.Prd.Remaining()
}
