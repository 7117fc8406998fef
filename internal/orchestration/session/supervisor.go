package session

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	gitdomain "github.com/zjrosen/ralph/internal/git/domain"
	"github.com/zjrosen/ralph/internal/log"
	"github.com/zjrosen/ralph/internal/paths"
	"github.com/zjrosen/ralph/internal/prd"
	"github.com/zjrosen/ralph/internal/sessions/domain"
	"github.com/zjrosen/ralph/internal/tracing"
)

// supervise drives one session until it completes, fails, halts on gutter
// or is cancelled. s is the supervisor's private working copy.
func (m *Manager) supervise(ctx context.Context, e *entry, s *domain.Session, r *run) {
	defer m.wg.Done()
	defer close(r.done)

	ctx, span := m.tracer.Start(ctx, "session.run", trace.WithAttributes(
		tracing.AttrSessionID.String(s.ID),
		tracing.AttrProject.String(s.ProjectPath),
		tracing.AttrModel.String(s.Config.ModelForPhase(domain.PhaseExecution)),
	))
	defer span.End()

	watchCtx, stopWatch := context.WithCancel(ctx)
	defer stopWatch()
	m.watchPrd(watchCtx, e, s)

	if err := m.setupBranch(ctx, s); err != nil {
		if ctx.Err() == nil {
			log.ErrorErr(log.CatGit, "branch setup failed", err, "session", s.ID)
			s.Status = domain.Failed(fmt.Sprintf("branch setup failed: %v", err))
		}
	}

	for !s.Status.IsTerminal() && ctx.Err() == nil {
		if stop := m.tick(ctx, e, s); stop {
			break
		}
	}
	if err := context.Cause(ctx); err != nil && !s.Status.IsTerminal() && s.Status.Kind != domain.StatusGutter {
		applyHalt(s, err)
	}

	span.SetAttributes(
		tracing.AttrIteration.Int(s.Iteration),
		tracing.AttrTokens.Int(s.Tokens.Lifetime),
		attribute.String("ralph.status", string(s.Status.Kind)),
	)
	if s.Status.Kind == domain.StatusFailed {
		span.SetStatus(codes.Error, s.Status.Error)
	}

	s.UpdatedAt = m.now()
	snap := s.Clone()
	e.mu.Lock()
	e.snap = snap.Clone()
	e.run = nil
	e.mu.Unlock()
	m.settled(snap)

	log.Info(log.CatSession, "supervisor exited",
		"session", s.ID, "status", s.Status.String(), "iterations", s.Iteration,
		"commits", s.Commits, "lifetimeTokens", s.Tokens.Lifetime)
}

// applyHalt maps a cancellation cause to the resulting status.
func applyHalt(s *domain.Session, cause error) {
	switch {
	case errors.Is(cause, errStopRequested):
		s.Status = domain.Failed(StoppedError)
	case errors.Is(cause, errShutdown):
		s.Status = domain.Paused()
		s.LastError = "interrupted by shutdown"
	default:
		s.Status = domain.Paused()
	}
}

func (m *Manager) watchPrd(ctx context.Context, e *entry, s *domain.Session) {
	if m.watchDebounce <= 0 {
		return
	}
	w, err := prd.NewWatcher(paths.PrdPath(s.ProjectPath), m.watchDebounce, func() {
		e.prdDirty.Store(true)
	})
	if err != nil {
		log.Warn(log.CatSession, "prd watch unavailable", "session", s.ID, "error", err)
		return
	}
	log.SafeGo("prd-watch-"+s.ID, func() { w.Run(ctx) })
}

// setupBranch checks out the session branch, creating it from the main
// branch when needed. The configured branch wins over the PRD's.
func (m *Manager) setupBranch(ctx context.Context, s *domain.Session) error {
	branch := s.Config.BranchName
	if branch == "" && s.Prd != nil {
		branch = s.Prd.BranchName
	}
	if branch == "" {
		return nil
	}
	git := m.git(s.ProjectPath)
	if err := git.ValidateBranchName(ctx, branch); err != nil {
		return err
	}
	if current, err := git.GetCurrentBranch(ctx); err == nil && current == branch {
		return nil
	}
	if err := git.EnsureBranch(ctx, branch); err != nil {
		return err
	}
	log.Info(log.CatGit, "switched to session branch", "session", s.ID, "branch", branch)
	return nil
}

// reloadPrd picks up an edited prd.json. Pass flags always come from the
// session: only a successful iteration flips a story, so flags written by
// hand or by the agent are reset on disk.
func (m *Manager) reloadPrd(s *domain.Session) {
	p, err := prd.Load(paths.PrdPath(s.ProjectPath))
	if err != nil {
		log.Warn(log.CatSession, "prd reload failed", "session", s.ID, "error", err)
		return
	}
	if err := p.Validate(); err != nil {
		log.Warn(log.CatSession, "ignoring invalid prd.json edit", "session", s.ID, "error", err)
		return
	}
	if n := p.CarryPasses(s.Prd); n > 0 {
		log.Warn(log.CatSession, "ignoring pass flags edited in prd.json", "session", s.ID, "stories", n)
		if err := prd.Save(paths.PrdPath(s.ProjectPath), p); err != nil {
			log.ErrorErr(log.CatSession, "saving prd.json failed", err, "session", s.ID)
		}
	}
	s.Prd = p
	log.Info(log.CatSession, "prd reloaded", "session", s.ID, "stories", len(p.Stories), "remaining", p.Remaining())
}

// finishComplete marks the session complete and opens a pull request when
// configured. A pull request failure is reported but does not undo
// completion.
func (m *Manager) finishComplete(ctx context.Context, s *domain.Session) {
	s.Status = domain.Complete()
	s.LastError = ""
	log.Info(log.CatSession, "all stories pass", "session", s.ID, "iterations", s.Iteration, "commits", s.Commits)
	if !s.Config.OpenPR {
		return
	}

	wctx := context.WithoutCancel(ctx)
	git := m.git(s.ProjectPath)
	branch, err := git.GetCurrentBranch(wctx)
	if err == nil {
		var url string
		url, err = git.OpenPullRequest(wctx, pullRequestFor(s, branch))
		if err == nil {
			log.Info(log.CatGit, "pull request opened", "session", s.ID, "url", url)
			return
		}
	}
	log.ErrorErr(log.CatGit, "opening pull request failed", err, "session", s.ID)
	s.LastError = fmt.Sprintf("opening pull request: %v", err)
}

func pullRequestFor(s *domain.Session, branch string) gitdomain.PullRequest {
	title := "ralph: completed stories"
	var body strings.Builder
	if s.Prd != nil {
		if s.Prd.Project != "" {
			title = "ralph: " + s.Prd.Project
		}
		if s.Prd.Description != "" {
			body.WriteString(s.Prd.Description)
			body.WriteString("\n\n")
		}
		body.WriteString("## Stories\n\n")
		for _, st := range s.Prd.Stories {
			mark := " "
			if st.Passes {
				mark = "x"
			}
			fmt.Fprintf(&body, "- [%s] %s: %s\n", mark, st.ID, st.Title)
		}
	}
	fmt.Fprintf(&body, "\nSession %s, %d iterations, %d commits.\n", s.ID, s.Iteration, s.Commits)
	return gitdomain.PullRequest{Branch: branch, Title: title, Body: body.String()}
}
