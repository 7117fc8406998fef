// Package api exposes the session manager over HTTP.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/zjrosen/ralph/internal/guardrails"
	"github.com/zjrosen/ralph/internal/log"
	"github.com/zjrosen/ralph/internal/prd"
	"github.com/zjrosen/ralph/internal/pubsub"
	"github.com/zjrosen/ralph/internal/sessions/domain"
)

// maxBodySize bounds request bodies; a PRD is the largest payload.
const maxBodySize = 4 << 20

// SessionService is the part of the session manager the API drives.
type SessionService interface {
	CreateSession(ctx context.Context, projectPath string, cfg domain.SessionConfig) (domain.Session, error)
	GetSession(ctx context.Context, id string) (domain.Session, error)
	ListSessions(ctx context.Context) []domain.Session
	StartSession(ctx context.Context, id string) (domain.Session, error)
	PauseSession(ctx context.Context, id string) (domain.Session, error)
	StopSession(ctx context.Context, id string) (domain.Session, error)
	ResetSession(ctx context.Context, id string) (domain.Session, error)
	EvictSession(ctx context.Context, id string) error
	SetPrd(ctx context.Context, id string, p *prd.Prd) (domain.Session, error)
	GetGuardrails(ctx context.Context, id string) ([]guardrails.Guardrail, error)
	Subscribe(ctx context.Context) <-chan pubsub.Event[domain.Session]
	SubscribeActivity(ctx context.Context) <-chan pubsub.Event[domain.Activity]
}

// Handler serves the JSON API.
type Handler struct {
	svc       SessionService
	history   domain.SessionRepository
	defaults  domain.SessionConfig
	heartbeat time.Duration
}

// HandlerOption configures a Handler.
type HandlerOption func(*Handler)

// WithHistory serves GET /api/history from repo.
func WithHistory(repo domain.SessionRepository) HandlerOption {
	return func(h *Handler) { h.history = repo }
}

// WithSessionDefaults sets the config new sessions start from.
func WithSessionDefaults(cfg domain.SessionConfig) HandlerOption {
	return func(h *Handler) { h.defaults = cfg.Clone() }
}

// WithHeartbeat sets the SSE keep-alive interval.
func WithHeartbeat(d time.Duration) HandlerOption {
	return func(h *Handler) { h.heartbeat = d }
}

// NewHandler creates a Handler over svc.
func NewHandler(svc SessionService, opts ...HandlerOption) *Handler {
	h := &Handler{
		svc:       svc,
		defaults:  domain.DefaultSessionConfig(),
		heartbeat: 15 * time.Second,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Routes returns a mux with every endpoint registered.
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)
	return logRequests(mux)
}

// RegisterRoutes adds the API endpoints to mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/health", h.Health)
	mux.HandleFunc("GET /api/history", h.History)

	mux.HandleFunc("POST /api/sessions", h.CreateSession)
	mux.HandleFunc("GET /api/sessions", h.ListSessions)
	mux.HandleFunc("GET /api/sessions/{id}", h.GetSession)
	mux.HandleFunc("DELETE /api/sessions/{id}", h.EvictSession)
	mux.HandleFunc("POST /api/sessions/{id}/start", h.lifecycle(SessionService.StartSession))
	mux.HandleFunc("POST /api/sessions/{id}/pause", h.lifecycle(SessionService.PauseSession))
	mux.HandleFunc("POST /api/sessions/{id}/stop", h.lifecycle(SessionService.StopSession))
	mux.HandleFunc("POST /api/sessions/{id}/reset", h.lifecycle(SessionService.ResetSession))
	mux.HandleFunc("PUT /api/sessions/{id}/prd", h.SetPrd)
	mux.HandleFunc("GET /api/sessions/{id}/guardrails", h.Guardrails)
	mux.HandleFunc("GET /api/sessions/{id}/events", h.Events)
}

// Health reports liveness and session counts.
// GET /api/health
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	sessions := h.svc.ListSessions(r.Context())
	resp := HealthResponse{Status: "ok", Sessions: len(sessions)}
	for _, s := range sessions {
		if s.Status.IsActive() {
			resp.Running++
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// CreateSession registers a session and optionally sets its PRD and starts it.
// POST /api/sessions
func (h *Handler) CreateSession(w http.ResponseWriter, r *http.Request) {
	var req CreateSessionRequest
	if !decode(w, r, &req) {
		return
	}
	if req.ProjectPath == "" {
		writeError(w, http.StatusUnprocessableEntity, "invalid_request", "project_path is required")
		return
	}
	cfg := h.defaults.Clone()
	if len(req.Config) > 0 {
		dec := json.NewDecoder(bytes.NewReader(req.Config))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&cfg); err != nil {
			writeError(w, http.StatusUnprocessableEntity, string(domain.ConfigInvalidConfig), err.Error())
			return
		}
	}

	ctx := r.Context()
	s, err := h.svc.CreateSession(ctx, req.ProjectPath, cfg)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if req.Prd != nil {
		if s, err = h.svc.SetPrd(ctx, s.ID, req.Prd); err != nil {
			writeServiceError(w, err)
			return
		}
	}
	if req.Start {
		if s, err = h.svc.StartSession(ctx, s.ID); err != nil {
			writeServiceError(w, err)
			return
		}
	}
	writeJSON(w, http.StatusCreated, viewOf(s))
}

// ListSessions returns every registered session.
// GET /api/sessions
func (h *Handler) ListSessions(w http.ResponseWriter, r *http.Request) {
	sessions := h.svc.ListSessions(r.Context())
	writeJSON(w, http.StatusOK, SessionListResponse{Sessions: viewsOf(sessions), Total: len(sessions)})
}

// GetSession returns one session.
// GET /api/sessions/{id}
func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	s, err := h.svc.GetSession(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, viewOf(s))
}

// EvictSession removes a finished session from the registry.
// DELETE /api/sessions/{id}
func (h *Handler) EvictSession(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.EvictSession(r.Context(), r.PathValue("id")); err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) lifecycle(op func(SessionService, context.Context, string) (domain.Session, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, err := op(h.svc, r.Context(), r.PathValue("id"))
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, viewOf(s))
	}
}

// SetPrd replaces the session's PRD.
// PUT /api/sessions/{id}/prd
func (h *Handler) SetPrd(w http.ResponseWriter, r *http.Request) {
	var p prd.Prd
	if !decode(w, r, &p) {
		return
	}
	s, err := h.svc.SetPrd(r.Context(), r.PathValue("id"), &p)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, viewOf(s))
}

// Guardrails lists the guardrails of the session's project.
// GET /api/sessions/{id}/guardrails
func (h *Handler) Guardrails(w http.ResponseWriter, r *http.Request) {
	gs, err := h.svc.GetGuardrails(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if gs == nil {
		gs = []guardrails.Guardrail{}
	}
	writeJSON(w, http.StatusOK, GuardrailsResponse{Guardrails: gs})
}

// History lists persisted sessions, including evicted ones.
// GET /api/history?project=P&status=S&limit=N
func (h *Handler) History(w http.ResponseWriter, r *http.Request) {
	if h.history == nil {
		writeError(w, http.StatusServiceUnavailable, "history_disabled", "session history database is disabled")
		return
	}
	q := r.URL.Query()
	filter := domain.ListFilter{
		Project: q.Get("project"),
		Status:  domain.StatusKind(q.Get("status")),
	}
	if filter.Status != "" && !filter.Status.Valid() {
		writeError(w, http.StatusBadRequest, "invalid_request", fmt.Sprintf("unknown status %q", filter.Status))
		return
	}
	if l := q.Get("limit"); l != "" {
		n, err := strconv.Atoi(l)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid_request", "limit must be a non-negative integer")
			return
		}
		filter.Limit = n
	}

	saved, err := h.history.List(r.Context(), filter)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	views := make([]SessionView, 0, len(saved))
	for _, s := range saved {
		views = append(views, viewOf(*s))
	}
	writeJSON(w, http.StatusOK, SessionListResponse{Sessions: views, Total: len(views)})
}

// === Helpers ===

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", err.Error())
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Error(log.CatAPI, "encoding response failed", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, ErrorResponse{Error: ErrorBody{Code: code, Message: message}})
}

// writeServiceError maps domain errors to status codes.
func writeServiceError(w http.ResponseWriter, err error) {
	var (
		notFound *domain.SessionNotFoundError
		invalid  *domain.InvalidStateError
		cfgErr   *domain.ConfigError
	)
	switch {
	case errors.As(err, &notFound):
		writeError(w, http.StatusNotFound, "not_found", err.Error())
	case errors.As(err, &invalid):
		writeError(w, http.StatusConflict, "invalid_state", err.Error())
	case errors.As(err, &cfgErr):
		writeError(w, http.StatusUnprocessableEntity, string(cfgErr.Kind), err.Error())
	case errors.Is(err, context.Canceled):
		writeError(w, http.StatusServiceUnavailable, "cancelled", err.Error())
	default:
		log.ErrorErr(log.CatAPI, "request failed", err)
		writeError(w, http.StatusInternalServerError, "internal", err.Error())
	}
}
