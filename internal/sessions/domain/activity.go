package domain

import "time"

// ActivityKind classifies one entry of a session's activity feed.
type ActivityKind string

const (
	ActivityRead        ActivityKind = "read"
	ActivityWrite       ActivityKind = "write"
	ActivityShell       ActivityKind = "shell"
	ActivityTokenUpdate ActivityKind = "token_update"
	ActivitySignal      ActivityKind = "signal"
	ActivityError       ActivityKind = "error"
)

// Activity is one thing the agent did, or one thing the supervisor decided,
// during an iteration. Health is the context health right after it.
type Activity struct {
	SessionID string        `json:"session_id"`
	Time      time.Time     `json:"timestamp"`
	Iteration int           `json:"iteration"`
	Kind      ActivityKind  `json:"kind"`
	Path      string        `json:"path,omitempty"`
	Command   string        `json:"command,omitempty"`
	ExitCode  *int          `json:"exit_code,omitempty"`
	Tokens    *TokenUsage   `json:"tokens,omitempty"`
	Signal    SignalKind    `json:"signal,omitempty"`
	Message   string        `json:"message,omitempty"`
	Health    ContextHealth `json:"health"`
}

// NewActivity stamps an entry with the session's identity, iteration and
// current context health.
func NewActivity(s *Session, kind ActivityKind, at time.Time) Activity {
	return Activity{
		SessionID: s.ID,
		Time:      at,
		Iteration: s.Iteration,
		Kind:      kind,
		Health:    s.Health(),
	}
}
