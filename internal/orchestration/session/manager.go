// Package session supervises autonomous coding-agent sessions: it owns the
// session registry, runs one supervisor goroutine per running session, and
// drives each iteration from story selection through commit.
package session

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	gitapp "github.com/zjrosen/ralph/internal/git/application"
	"github.com/zjrosen/ralph/internal/guardrails"
	"github.com/zjrosen/ralph/internal/log"
	"github.com/zjrosen/ralph/internal/orchestration/client"
	"github.com/zjrosen/ralph/internal/orchestration/quality"
	"github.com/zjrosen/ralph/internal/orchestration/signals"
	"github.com/zjrosen/ralph/internal/paths"
	"github.com/zjrosen/ralph/internal/prd"
	"github.com/zjrosen/ralph/internal/pubsub"
	"github.com/zjrosen/ralph/internal/sessions/domain"
	"github.com/zjrosen/ralph/internal/tracing"
	"github.com/zjrosen/ralph/internal/workspace"
)

// Cancellation causes delivered to a supervisor.
var (
	errPauseRequested = errors.New("pause requested")
	errStopRequested  = errors.New("stop requested")
	errShutdown       = errors.New("manager shutting down")
)

// StoppedError is the failure message of a stopped session.
const StoppedError = "stopped"

// activityBuffer is per subscriber; tool calls arrive in bursts.
const activityBuffer = 256

// AgentSettings are applied to every agent invocation.
type AgentSettings struct {
	Executable  string
	Timeout     time.Duration
	GracePeriod time.Duration
	Force       bool
	ExtraArgs   []string
	Env         []string
}

// Manager creates, runs and controls sessions. It is safe for concurrent use.
type Manager struct {
	registry *Registry
	agent    client.HeadlessClient
	git      gitapp.ExecutorFactory

	agentSettings AgentSettings
	guardrails    *guardrails.Store
	checker       quality.Checker
	repo          domain.SessionRepository
	broker        *pubsub.Broker[domain.Session]
	activity      *pubsub.Broker[domain.Activity]
	tracer        trace.Tracer
	now           func() time.Time
	newID         func() string
	promptLimit   int
	watchDebounce time.Duration

	wg     sync.WaitGroup
	closed atomic.Bool
}

// Option configures a Manager.
type Option func(*Manager)

// WithAgentSettings sets executable, timeouts and flags for agent runs.
func WithAgentSettings(s AgentSettings) Option {
	return func(m *Manager) { m.agentSettings = s }
}

// WithGuardrailStore replaces the default guardrail store.
func WithGuardrailStore(s *guardrails.Store) Option {
	return func(m *Manager) { m.guardrails = s }
}

// WithQualityChecker replaces the default shell checker.
func WithQualityChecker(c quality.Checker) Option {
	return func(m *Manager) { m.checker = c }
}

// WithRepository persists every published snapshot.
func WithRepository(r domain.SessionRepository) Option {
	return func(m *Manager) { m.repo = r }
}

// WithBroker publishes snapshots on b instead of a private broker.
func WithBroker(b *pubsub.Broker[domain.Session]) Option {
	return func(m *Manager) { m.broker = b }
}

// WithTracer sets the tracer for iteration and agent spans.
func WithTracer(t trace.Tracer) Option {
	return func(m *Manager) { m.tracer = t }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithIDGenerator overrides session id generation.
func WithIDGenerator(f func() string) Option {
	return func(m *Manager) { m.newID = f }
}

// WithGuardrailPromptLimit sets how many recent guardrails go in a prompt.
func WithGuardrailPromptLimit(n int) Option {
	return func(m *Manager) { m.promptLimit = n }
}

// WithPrdWatch reloads prd.json when it changes on disk while a session
// runs. A zero debounce disables watching.
func WithPrdWatch(debounce time.Duration) Option {
	return func(m *Manager) { m.watchDebounce = debounce }
}

// NewManager creates a Manager that runs agent against repositories opened
// by git.
func NewManager(agent client.HeadlessClient, git gitapp.ExecutorFactory, opts ...Option) *Manager {
	m := &Manager{
		registry:    NewRegistry(),
		agent:       agent,
		git:         git,
		guardrails:  guardrails.NewStore(),
		checker:     quality.NewShellChecker(0),
		broker:      pubsub.NewBroker[domain.Session](),
		activity:    pubsub.NewBrokerWithBuffer[domain.Activity](activityBuffer),
		tracer:      otel.Tracer(tracing.InstrumentationName),
		now:         time.Now,
		newID:       uuid.NewString,
		promptLimit: 10,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Subscribe streams snapshots of every session until ctx ends.
func (m *Manager) Subscribe(ctx context.Context) <-chan pubsub.Event[domain.Session] {
	return m.broker.Subscribe(ctx)
}

// SubscribeActivity streams the activity feed of every session until ctx
// ends. Entries are not stored; a subscriber sees only what happens after
// it subscribes.
func (m *Manager) SubscribeActivity(ctx context.Context) <-chan pubsub.Event[domain.Activity] {
	return m.activity.Subscribe(ctx)
}

// Guardrails exposes the guardrail store.
func (m *Manager) Guardrails() *guardrails.Store {
	return m.guardrails
}

// CreateSession validates projectPath and cfg and registers an idle session.
// An existing prd.json in the project is loaded.
func (m *Manager) CreateSession(ctx context.Context, projectPath string, cfg domain.SessionConfig) (domain.Session, error) {
	abs, err := filepath.Abs(projectPath)
	if err != nil {
		return domain.Session{}, &domain.ConfigError{Kind: domain.ConfigPathNotFound, Path: projectPath, Reason: err.Error()}
	}
	info, err := os.Stat(abs)
	if err != nil || !info.IsDir() {
		return domain.Session{}, &domain.ConfigError{Kind: domain.ConfigPathNotFound, Path: abs}
	}
	if !m.git(abs).IsGitRepo(ctx) {
		return domain.Session{}, &domain.ConfigError{Kind: domain.ConfigNotAGitRepo, Path: abs}
	}
	if err := cfg.Validate(); err != nil {
		return domain.Session{}, &domain.ConfigError{Kind: domain.ConfigInvalidConfig, Path: abs, Reason: err.Error()}
	}
	detector, err := signals.NewDetector(signals.Policy{
		WarnThreshold:   cfg.WarnThreshold,
		RotateThreshold: cfg.RotateThreshold,
	})
	if err != nil {
		return domain.Session{}, &domain.ConfigError{Kind: domain.ConfigInvalidConfig, Path: abs, Reason: err.Error()}
	}

	if err := workspace.Init(abs); err != nil {
		return domain.Session{}, fmt.Errorf("initializing workspace: %w", err)
	}

	s := domain.NewSession(m.newID(), abs, cfg, m.now())
	switch p, err := prd.Load(paths.PrdPath(abs)); {
	case err == nil:
		if verr := p.Validate(); verr != nil {
			log.Warn(log.CatSession, "ignoring invalid prd.json", "project", abs, "error", verr)
		} else {
			s.Prd = p
		}
	case !errors.Is(err, prd.ErrNotFound):
		log.Warn(log.CatSession, "could not read prd.json", "project", abs, "error", err)
	}

	e := newEntry(s.Clone(), detector)
	m.registry.add(e)
	m.persist(ctx, e.snapshot())
	m.broker.Publish(pubsub.CreatedEvent, e.snapshot())

	log.Info(log.CatSession, "session created", "session", s.ID, "project", abs, "model", cfg.ExecutionModel)
	return e.snapshot(), nil
}

// GetSession returns a snapshot of the session.
func (m *Manager) GetSession(_ context.Context, id string) (domain.Session, error) {
	e, err := m.registry.get(id)
	if err != nil {
		return domain.Session{}, err
	}
	return e.snapshot(), nil
}

// ListSessions returns snapshots of all registered sessions, oldest first.
func (m *Manager) ListSessions(_ context.Context) []domain.Session {
	return m.registry.snapshots()
}

// SetPrd replaces the session's PRD and writes prd.json. Passing flags
// come from the current PRD, never from p. A running session must be paused first.
func (m *Manager) SetPrd(_ context.Context, id string, p *prd.Prd) (domain.Session, error) {
	e, err := m.registry.get(id)
	if err != nil {
		return domain.Session{}, err
	}
	if err := p.Validate(); err != nil {
		return domain.Session{}, &domain.ConfigError{Kind: domain.ConfigInvalidConfig, Reason: err.Error()}
	}

	e.mu.Lock()
	if e.run != nil || e.snap.Status.IsTerminal() {
		st := e.snap.Status
		e.mu.Unlock()
		return domain.Session{}, &domain.InvalidStateError{ID: id, Op: "set prd for", Status: st}
	}
	next := p.Clone()
	_ = next.CarryPasses(e.snap.Prd)
	if err := prd.Save(paths.PrdPath(e.snap.ProjectPath), next); err != nil {
		e.mu.Unlock()
		return domain.Session{}, err
	}
	e.snap.Prd = next
	e.snap.UpdatedAt = m.now()
	snap := e.snap.Clone()
	e.mu.Unlock()

	m.persist(context.Background(), snap)
	m.broker.Publish(pubsub.UpdatedEvent, snap)
	log.Info(log.CatSession, "prd updated", "session", id, "stories", len(next.Stories))
	return snap, nil
}

// GetGuardrails returns the guardrails recorded for the session's project.
func (m *Manager) GetGuardrails(ctx context.Context, id string) ([]guardrails.Guardrail, error) {
	e, err := m.registry.get(id)
	if err != nil {
		return nil, err
	}
	return m.guardrails.Load(ctx, e.snapshot().ProjectPath)
}

// StartSession moves an idle or paused session to running and launches its
// supervisor.
func (m *Manager) StartSession(_ context.Context, id string) (domain.Session, error) {
	e, err := m.registry.get(id)
	if err != nil {
		return domain.Session{}, err
	}

	e.mu.Lock()
	if e.run != nil {
		snap := e.snap.Clone()
		e.mu.Unlock()
		return snap, nil
	}
	if !e.snap.Status.CanStart() {
		st := e.snap.Status
		e.mu.Unlock()
		return domain.Session{}, &domain.InvalidStateError{ID: id, Op: "start", Status: st}
	}
	if m.closed.Load() {
		st := e.snap.Status
		e.mu.Unlock()
		return domain.Session{}, &domain.InvalidStateError{ID: id, Op: "start", Status: st, Reason: "manager is shutting down"}
	}
	if e.snap.Prd == nil {
		if p, err := prd.Load(paths.PrdPath(e.snap.ProjectPath)); err == nil && p.Validate() == nil {
			e.snap.Prd = p
		}
	}
	if e.snap.Prd == nil || len(e.snap.Prd.Stories) == 0 {
		st := e.snap.Status
		e.mu.Unlock()
		return domain.Session{}, &domain.InvalidStateError{ID: id, Op: "start", Status: st, Reason: "no PRD with stories"}
	}

	storyID := ""
	if next := e.snap.Prd.NextStory(); next != nil {
		storyID = next.ID
	}
	e.snap.Status = domain.Running(storyID)
	e.snap.LastError = ""
	e.snap.UpdatedAt = m.now()

	ctx, cancel := context.WithCancelCause(context.Background())
	r := &run{cancel: cancel, done: make(chan struct{})}
	// Counted before the run is visible so Shutdown always waits for it.
	m.wg.Add(1)
	e.run = r
	working := e.snap.Clone()
	snap := e.snap.Clone()
	e.mu.Unlock()

	m.persist(ctx, snap)
	m.broker.Publish(pubsub.UpdatedEvent, snap)

	log.SafeGo("session-"+id, func() {
		m.supervise(ctx, e, &working, r)
	})
	log.Info(log.CatSession, "session started", "session", id, "story", storyID)
	return snap, nil
}

// PauseSession stops the supervisor after terminating any in-flight agent
// and leaves the session paused. An idle session is paused directly.
func (m *Manager) PauseSession(ctx context.Context, id string) (domain.Session, error) {
	return m.halt(ctx, id, "pause", errPauseRequested)
}

// StopSession ends the session as failed("stopped"). Stopping a terminal
// session returns it unchanged.
func (m *Manager) StopSession(ctx context.Context, id string) (domain.Session, error) {
	return m.halt(ctx, id, "stop", errStopRequested)
}

func (m *Manager) halt(ctx context.Context, id, op string, cause error) (domain.Session, error) {
	e, err := m.registry.get(id)
	if err != nil {
		return domain.Session{}, err
	}

	e.mu.Lock()
	r := e.run
	if r == nil {
		st := e.snap.Status
		switch {
		case st.IsTerminal() && cause == errStopRequested:
			snap := e.snap.Clone()
			e.mu.Unlock()
			return snap, nil
		case st.IsTerminal():
			e.mu.Unlock()
			return domain.Session{}, &domain.InvalidStateError{ID: id, Op: op, Status: st}
		case cause == errPauseRequested && st.Kind == domain.StatusPaused:
			snap := e.snap.Clone()
			e.mu.Unlock()
			return snap, nil
		case cause == errPauseRequested && st.Kind == domain.StatusGutter:
			e.mu.Unlock()
			return domain.Session{}, &domain.InvalidStateError{ID: id, Op: op, Status: st, Reason: "reset the session instead"}
		}
		if cause == errStopRequested {
			e.snap.Status = domain.Failed(StoppedError)
		} else {
			e.snap.Status = domain.Paused()
		}
		e.snap.UpdatedAt = m.now()
		snap := e.snap.Clone()
		e.mu.Unlock()
		m.settled(snap)
		return snap, nil
	}
	e.mu.Unlock()

	r.cancel(cause)
	select {
	case <-r.done:
	case <-ctx.Done():
		return domain.Session{}, ctx.Err()
	}
	return e.snapshot(), nil
}

// ResetSession releases a gutter halt: the failure history is cleared and
// the session is paused so StartSession can resume it.
func (m *Manager) ResetSession(_ context.Context, id string) (domain.Session, error) {
	e, err := m.registry.get(id)
	if err != nil {
		return domain.Session{}, err
	}

	e.mu.Lock()
	if e.snap.Status.Kind != domain.StatusGutter {
		st := e.snap.Status
		e.mu.Unlock()
		return domain.Session{}, &domain.InvalidStateError{ID: id, Op: "reset", Status: st}
	}
	e.detector.Reset()
	e.seen = make(map[string]struct{})
	e.lastFailure, e.lastFailureStory = "", ""
	e.snap.Status = domain.Paused()
	e.snap.LastSignal = domain.SignalNone
	e.snap.UpdatedAt = m.now()
	snap := e.snap.Clone()
	e.mu.Unlock()

	m.settled(snap)
	log.Info(log.CatSession, "gutter reset", "session", id)
	return snap, nil
}

// EvictSession removes a finished session from the registry. Its history
// stays in the repository.
func (m *Manager) EvictSession(_ context.Context, id string) error {
	e, err := m.registry.get(id)
	if err != nil {
		return err
	}
	e.mu.Lock()
	st := e.snap.Status
	running := e.run != nil
	snap := e.snap.Clone()
	e.mu.Unlock()
	if running || !st.IsTerminal() {
		return &domain.InvalidStateError{ID: id, Op: "evict", Status: st, Reason: "only finished sessions can be evicted"}
	}
	m.registry.remove(id)
	m.broker.Publish(pubsub.DeletedEvent, snap)
	log.Info(log.CatSession, "session evicted", "session", id)
	return nil
}

// Restore registers unfinished sessions persisted by an earlier process.
// Sessions that were running when it exited come back paused.
func (m *Manager) Restore(ctx context.Context) (int, error) {
	if m.repo == nil {
		return 0, nil
	}
	saved, err := m.repo.List(ctx, domain.ListFilter{})
	if err != nil {
		return 0, fmt.Errorf("listing saved sessions: %w", err)
	}
	n := 0
	for _, s := range saved {
		if s.Status.IsTerminal() {
			continue
		}
		if _, err := m.registry.get(s.ID); err == nil {
			continue
		}
		detector, err := signals.NewDetector(signals.Policy{
			WarnThreshold:   s.Config.WarnThreshold,
			RotateThreshold: s.Config.RotateThreshold,
		})
		if err != nil {
			log.Warn(log.CatSession, "skipping saved session with invalid config", "session", s.ID, "error", err)
			continue
		}
		if s.Status.IsActive() {
			s.Status = domain.Paused()
			s.LastError = "interrupted by restart"
		}
		m.registry.add(newEntry(s.Clone(), detector))
		n++
	}
	log.Info(log.CatSession, "sessions restored", "count", n)
	return n, nil
}

// Shutdown pauses every running session and waits for the supervisors to
// exit or ctx to end. Sessions cannot be started afterwards.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.closed.Store(true)
	for _, s := range m.registry.snapshots() {
		e, err := m.registry.get(s.ID)
		if err != nil {
			continue
		}
		e.mu.Lock()
		if e.run != nil {
			e.run.cancel(errShutdown)
		}
		e.mu.Unlock()
	}

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// publish copies s into the entry and notifies subscribers.
func (m *Manager) publish(e *entry, s *domain.Session) {
	s.UpdatedAt = m.now()
	snap := s.Clone()
	e.mu.Lock()
	e.snap = snap.Clone()
	e.mu.Unlock()
	m.broker.Publish(pubsub.UpdatedEvent, snap)
}

func (m *Manager) emit(a domain.Activity) {
	m.activity.Publish(pubsub.CreatedEvent, a)
}

// checkpoint publishes and persists.
func (m *Manager) checkpoint(e *entry, s *domain.Session) {
	m.publish(e, s)
	m.persist(context.Background(), s.Clone())
}

// settled records a session that no supervisor is driving any more.
func (m *Manager) settled(snap domain.Session) {
	m.persist(context.Background(), snap)
	m.broker.Publish(pubsub.UpdatedEvent, snap)
	if err := RecordInIndex(snap); err != nil {
		log.ErrorErr(log.CatSession, "updating session index failed", err, "session", snap.ID)
	}
}

func (m *Manager) persist(ctx context.Context, snap domain.Session) {
	if m.repo == nil {
		return
	}
	if err := m.repo.Save(context.WithoutCancel(ctx), &snap); err != nil {
		log.ErrorErr(log.CatDB, "saving session failed", err, "session", snap.ID)
	}
}
