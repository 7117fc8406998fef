package api

import (
	"encoding/json"

	"github.com/zjrosen/ralph/internal/guardrails"
	"github.com/zjrosen/ralph/internal/prd"
	"github.com/zjrosen/ralph/internal/sessions/domain"
)

// CreateSessionRequest is the body of POST /api/sessions. Config fields
// that are omitted keep the server defaults.
type CreateSessionRequest struct {
	ProjectPath string          `json:"project_path"`
	Config      json.RawMessage `json:"config,omitempty"`
	// Prd, when set, replaces prd.json before the session is returned.
	Prd *prd.Prd `json:"prd,omitempty"`
	// Start launches the session immediately.
	Start bool `json:"start,omitempty"`
}

// SessionView is a session snapshot plus derived fields.
type SessionView struct {
	domain.Session
	ContextHealth   domain.ContextHealth `json:"context_health"`
	StoriesTotal    int                  `json:"stories_total"`
	StoriesComplete int                  `json:"stories_complete"`
}

func viewOf(s domain.Session) SessionView {
	v := SessionView{
		Session:         s,
		ContextHealth:   s.Health(),
		StoriesComplete: s.CompletedStories(),
	}
	if s.Prd != nil {
		v.StoriesTotal = len(s.Prd.Stories)
	}
	return v
}

func viewsOf(ss []domain.Session) []SessionView {
	out := make([]SessionView, 0, len(ss))
	for _, s := range ss {
		out = append(out, viewOf(s))
	}
	return out
}

// SessionListResponse is returned by GET /api/sessions and GET /api/history.
type SessionListResponse struct {
	Sessions []SessionView `json:"sessions"`
	Total    int           `json:"total"`
}

// GuardrailsResponse is returned by GET /api/sessions/{id}/guardrails.
type GuardrailsResponse struct {
	Guardrails []guardrails.Guardrail `json:"guardrails"`
}

// HealthResponse is returned by GET /api/health.
type HealthResponse struct {
	Status   string `json:"status"`
	Sessions int    `json:"sessions"`
	Running  int    `json:"running"`
}

// ErrorResponse wraps every error reply.
type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

// ErrorBody carries a machine-readable code and a message.
type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
