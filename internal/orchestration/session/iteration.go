package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	gitapp "github.com/zjrosen/ralph/internal/git/application"
	"github.com/zjrosen/ralph/internal/guardrails"
	"github.com/zjrosen/ralph/internal/log"
	"github.com/zjrosen/ralph/internal/orchestration/client"
	"github.com/zjrosen/ralph/internal/orchestration/prompt"
	"github.com/zjrosen/ralph/internal/orchestration/quality"
	"github.com/zjrosen/ralph/internal/orchestration/signals"
	"github.com/zjrosen/ralph/internal/paths"
	"github.com/zjrosen/ralph/internal/prd"
	"github.com/zjrosen/ralph/internal/sessions/domain"
	"github.com/zjrosen/ralph/internal/tracing"
	"github.com/zjrosen/ralph/internal/workspace"
)

// commitRetryDelay separates the two commit attempts.
var commitRetryDelay = 2 * time.Second

// outcome is what one agent invocation produced. category is empty on
// success.
type outcome struct {
	complete  bool
	learnings []string
	summary   []string
	category  string
	detail    string
	exitCode  int
	// stuck is the reason the stream detector stopped the agent.
	stuck string
}

func (o outcome) failed() bool { return o.category != "" }

// tick runs at most one iteration. It returns true when the supervisor
// should stop.
func (m *Manager) tick(ctx context.Context, e *entry, s *domain.Session) bool {
	git := m.git(s.ProjectPath)
	if !git.IsGitRepo(ctx) {
		if ctx.Err() != nil {
			return true
		}
		s.Status = domain.Failed("project is no longer a git repository")
		return true
	}

	if e.prdDirty.Swap(false) {
		m.reloadPrd(s)
	}

	story := s.Prd.NextStory()
	if story == nil {
		m.finishComplete(ctx, s)
		return true
	}
	if s.Iteration >= s.Config.MaxIterations {
		s.Status = domain.Failed("max iterations exceeded")
		log.Warn(log.CatSession, "iteration cap reached", "session", s.ID, "max", s.Config.MaxIterations)
		return true
	}

	s.Iteration++
	s.Status = domain.Running(story.ID)

	ctx, span := m.tracer.Start(ctx, "session.iteration", trace.WithAttributes(
		tracing.AttrSessionID.String(s.ID),
		tracing.AttrStoryID.String(story.ID),
		tracing.AttrIteration.Int(s.Iteration),
	))
	defer span.End()

	text, err := m.buildPrompt(ctx, e, s, *story)
	if err != nil {
		s.Status = domain.Failed(err.Error())
		span.SetStatus(codes.Error, err.Error())
		return true
	}
	m.checkpoint(e, s)
	log.Info(log.CatSession, "iteration started",
		"session", s.ID, "iteration", s.Iteration, "story", story.ID, "contextTokens", s.Tokens.Iteration)

	out := m.invoke(ctx, e, s, text)
	if ctx.Err() != nil {
		return true
	}
	if !out.failed() && len(s.Config.QualityChecks) > 0 {
		if err := m.checker.Run(ctx, s.ProjectPath, s.Config.QualityChecks); err != nil {
			if ctx.Err() != nil {
				return true
			}
			out.category = signals.CategoryQualityChecks
			out.detail = err.Error()
			var ce *quality.CheckError
			if errors.As(err, &ce) {
				out.exitCode = ce.ExitCode
			}
		}
	}

	if out.failed() {
		span.SetStatus(codes.Error, out.detail)
		m.recordFailure(ctx, e, s, *story, out)
	} else if stop := m.recordSuccess(ctx, e, s, *story, out); stop {
		return true
	}

	sig := e.detector.Evaluate(s.Tokens.Iteration)
	if out.stuck != "" {
		sig = signals.Signal{Kind: signals.Gutter, Reason: out.stuck}
	}
	span.SetAttributes(tracing.AttrSignal.String(sig.Kind.String()), tracing.AttrTokens.Int(s.Tokens.Iteration))
	return m.applySignal(ctx, e, s, sig)
}

func (m *Manager) buildPrompt(ctx context.Context, e *entry, s *domain.Session, story prd.Story) (string, error) {
	e.mu.Lock()
	variant := e.nextVariant
	lastFailure := ""
	if e.lastFailureStory == story.ID {
		lastFailure = e.lastFailure
	}
	e.mu.Unlock()

	rails, err := m.guardrails.Load(ctx, s.ProjectPath)
	if err != nil {
		log.Warn(log.CatSession, "loading guardrails failed", "session", s.ID, "error", err)
	}
	patterns, err := workspace.ReadPatterns(s.ProjectPath)
	if err != nil {
		log.Warn(log.CatSession, "reading patterns failed", "session", s.ID, "error", err)
	}

	return prompt.Build(prompt.Input{
		Variant:       variant,
		Prd:           s.Prd,
		Story:         story,
		Iteration:     s.Iteration,
		MaxIterations: s.Config.MaxIterations,
		Guardrails:    guardrails.FormatForPrompt(rails, m.promptLimit),
		Patterns:      patterns,
		LastFailure:   lastFailure,
	})
}

// invoke runs the agent once, streaming token usage into s as it arrives.
func (m *Manager) invoke(ctx context.Context, e *entry, s *domain.Session, text string) outcome {
	model := s.Config.ModelForPhase(domain.PhaseExecution)
	ctx, span := m.tracer.Start(ctx, "agent.invoke", trace.WithAttributes(
		tracing.AttrSessionID.String(s.ID),
		tracing.AttrModel.String(model),
	))
	defer span.End()

	proc, err := m.agent.Spawn(ctx, client.Config{
		WorkDir:         s.ProjectPath,
		Prompt:          text,
		Model:           model,
		SkipPermissions: m.agentSettings.Force,
		Timeout:         m.agentSettings.Timeout,
		GracePeriod:     m.agentSettings.GracePeriod,
		Executable:      m.agentSettings.Executable,
		ExtraArgs:       m.agentSettings.ExtraArgs,
		Env:             m.agentSettings.Env,
	})
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		log.ErrorErr(log.CatAgent, "spawning agent failed", err, "session", s.ID)
		return outcome{category: signals.CategorySpawn, detail: err.Error()}
	}
	log.Debug(log.CatAgent, "agent spawned", "session", s.ID, "pid", proc.PID(), "model", model)

	var (
		out       outcome
		tally     client.TokenTally
		counted   int
		sawResult bool
		agentErr  string
		stream    = signals.NewStreamDetector()
	)
	for ev := range proc.Events() {
		if total := tally.Observe(ev); total > counted {
			s.Tokens.Add(total - counted)
			counted = total
			m.publish(e, s)
			a := domain.NewActivity(s, domain.ActivityTokenUpdate, m.now())
			tokens := s.Tokens
			a.Tokens = &tokens
			m.emit(a)
		}
		if ev.StoryComplete {
			out.complete = true
		}
		out.learnings = append(out.learnings, ev.Learnings...)
		if ev.IsFailure() {
			agentErr = failureText(ev)
			a := domain.NewActivity(s, domain.ActivityError, m.now())
			a.Message = agentErr
			m.emit(a)
		}
		if sig := m.observeTool(s, stream, ev); sig.Kind == signals.Gutter && out.stuck == "" {
			out.stuck = sig.Reason
			log.Warn(log.CatAgent, "agent stuck, stopping invocation", "session", s.ID, "reason", sig.Reason)
			proc.Cancel()
		}
		if ev.IsTerminal() {
			sawResult = true
			if r := strings.TrimSpace(ev.Result); r != "" && !ev.IsFailure() {
				out.summary = append(out.summary, firstLine(r))
			}
		}
	}
	res := proc.Wait()
	out.exitCode = res.ExitCode
	span.SetAttributes(tracing.AttrExitCode.Int(res.ExitCode), tracing.AttrTokens.Int(counted))

	var perr *client.ProcessError
	switch {
	case out.stuck != "":
		out.category = signals.CategoryStuck
		out.detail = out.stuck
	case errors.As(res.Err, &perr):
		out.category = perr.Category
		out.detail = perr.Error()
	case res.Err != nil:
		out.category = signals.CategoryExit
		out.detail = res.Err.Error()
	case agentErr != "":
		out.category = signals.CategoryAgentError
		out.detail = agentErr
	case !sawResult:
		out.category = signals.CategoryNoResult
		out.detail = "agent exited without a result"
	}
	if out.failed() {
		span.SetStatus(codes.Error, out.detail)
	}
	log.Info(log.CatAgent, "agent finished",
		"session", s.ID, "exit", res.ExitCode, "duration", res.Duration,
		"tokens", counted, "reported", tally.Reported(), "complete", out.complete, "failure", out.category)
	return out
}

// observeTool turns a finished tool call into an activity entry and feeds
// it to the stream detector.
func (m *Manager) observeTool(s *domain.Session, stream *signals.StreamDetector, ev client.OutputEvent) signals.Signal {
	if ev.Type != client.EventToolResult || ev.Tool == nil {
		return signals.Signal{}
	}
	t := ev.Tool
	var (
		a   domain.Activity
		sig signals.Signal
	)
	switch {
	case t.Command != "" || t.Name == "Bash":
		a = domain.NewActivity(s, domain.ActivityShell, m.now())
		a.Command = t.Command
		code := t.ExitCode
		a.ExitCode = &code
		sig = stream.ObserveShell(t.Command, t.ExitCode)
	case t.Name == "Edit" || t.Name == "Write":
		a = domain.NewActivity(s, domain.ActivityWrite, m.now())
		a.Path = t.Path
		sig = stream.ObserveWrite(t.Path)
	case t.Name == "Read":
		a = domain.NewActivity(s, domain.ActivityRead, m.now())
		a.Path = t.Path
	default:
		return signals.Signal{}
	}
	m.emit(a)
	return sig
}

func failureText(ev client.OutputEvent) string {
	if ev.Error != nil && ev.Error.Message != "" {
		return ev.Error.Message
	}
	if t := strings.TrimSpace(ev.Text()); t != "" {
		return firstLine(t)
	}
	return "agent reported an error"
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	if len(s) > 200 {
		s = s[:200] + "..."
	}
	return s
}

// recordSuccess saves progress and commits. Bookkeeping runs to completion
// even if the session is cancelled meanwhile. It returns true when a commit
// failure paused the session; the story's pass is then rolled back so the
// story runs again on resume.
func (m *Manager) recordSuccess(ctx context.Context, e *entry, s *domain.Session, story prd.Story, out outcome) bool {
	wctx := context.WithoutCancel(ctx)
	git := m.git(s.ProjectPath)

	pending := s.Prd.Clone()
	if out.complete {
		if err := s.Prd.MarkPassed(story.ID); err != nil {
			log.Warn(log.CatSession, "marking story passed failed", "session", s.ID, "story", story.ID, "error", err)
		}
		if err := prd.Save(paths.PrdPath(s.ProjectPath), s.Prd); err != nil {
			log.ErrorErr(log.CatSession, "saving prd.json failed", err, "session", s.ID)
		}
	}

	files := changedPaths(wctx, git)
	progress := workspace.ProgressEntry{
		Time:         m.now(),
		SessionID:    s.ID,
		Iteration:    s.Iteration,
		StoryID:      story.ID,
		StoryTitle:   story.Title,
		Summary:      out.summary,
		ChangedFiles: files,
		Learnings:    out.learnings,
	}
	if !out.complete {
		progress.Summary = append(progress.Summary, "Story not yet complete; work in progress committed.")
	}
	if err := workspace.AppendProgress(s.ProjectPath, progress); err != nil {
		log.ErrorErr(log.CatSession, "appending progress failed", err, "session", s.ID)
	}

	msg := fmt.Sprintf("feat: [%s] %s", story.ID, story.Title)
	if !out.complete {
		msg = fmt.Sprintf("wip: [%s] %s (iteration %d)", story.ID, story.Title, s.Iteration)
	}
	before, _ := git.HeadRevision(wctx)
	rev, err := commitWithRetry(wctx, git, msg)
	if err != nil {
		log.ErrorErr(log.CatGit, "commit failed, pausing session", err, "session", s.ID)
		if out.complete {
			s.Prd = pending
			if err := prd.Save(paths.PrdPath(s.ProjectPath), s.Prd); err != nil {
				log.ErrorErr(log.CatSession, "restoring prd.json failed", err, "session", s.ID)
			}
		}
		s.Status = domain.Paused()
		s.LastError = fmt.Sprintf("commit failed: %v", err)
		return true
	}
	if rev != "" && rev != before {
		s.Commits++
	}

	e.detector.RecordSuccess()
	e.mu.Lock()
	e.lastFailure, e.lastFailureStory = "", ""
	e.mu.Unlock()
	s.LastError = ""

	log.Info(log.CatSession, "iteration succeeded",
		"session", s.ID, "iteration", s.Iteration, "story", story.ID,
		"storyComplete", out.complete, "files", len(files), "rev", shortRev(rev))
	return false
}

func commitWithRetry(ctx context.Context, git gitapp.GitExecutor, msg string) (string, error) {
	rev, err := git.Commit(ctx, msg)
	if err == nil {
		return rev, nil
	}
	log.Warn(log.CatGit, "commit failed, retrying", "error", err)
	select {
	case <-time.After(commitRetryDelay):
	case <-ctx.Done():
		return "", err
	}
	return git.Commit(ctx, msg)
}

// recordFailure feeds the gutter detector and records a guardrail the
// first time a failure signature is seen.
func (m *Manager) recordFailure(ctx context.Context, e *entry, s *domain.Session, story prd.Story, out outcome) {
	wctx := context.WithoutCancel(ctx)
	sig := signals.NewFailureSignature(story.ID, out.category, changedPaths(wctx, m.git(s.ProjectPath)))
	e.detector.RecordFailure(sig)

	e.mu.Lock()
	_, seen := e.seen[sig.Key()]
	e.seen[sig.Key()] = struct{}{}
	e.lastFailure = out.detail
	e.lastFailureStory = story.ID
	e.mu.Unlock()
	s.LastError = out.detail

	log.Warn(log.CatSession, "iteration failed",
		"session", s.ID, "iteration", s.Iteration, "story", story.ID,
		"category", out.category, "detail", out.detail, "consecutive", e.detector.ConsecutiveFailures())

	if seen {
		return
	}
	g := guardrails.Guardrail{
		SessionID:   s.ID,
		Title:       fmt.Sprintf("%s on %s", failureTitle(out.category), story.ID),
		Trigger:     sig.String(),
		Instruction: instructionFor(out.category, out.detail),
		AddedAfter:  fmt.Sprintf("iteration %d", s.Iteration),
	}
	if _, err := m.guardrails.Append(wctx, s.ProjectPath, g); err != nil {
		log.ErrorErr(log.CatSession, "recording guardrail failed", err, "session", s.ID)
	}
}

func failureTitle(category string) string {
	switch category {
	case signals.CategoryQualityChecks:
		return "Quality checks failed"
	case signals.CategoryTimeout:
		return "Agent timed out"
	case signals.CategoryNoResult:
		return "Agent stopped without a result"
	case signals.CategoryAgentError:
		return "Agent reported an error"
	case signals.CategorySpawn:
		return "Agent could not start"
	case signals.CategoryStuck:
		return "Agent stuck in a loop"
	default:
		return "Agent exited with an error"
	}
}

func instructionFor(category, detail string) string {
	var base string
	switch category {
	case signals.CategoryQualityChecks:
		base = "Run the project's quality checks before declaring the story complete and fix every failure they report."
	case signals.CategoryTimeout:
		base = "Work in smaller steps: commit to one focused change per iteration instead of broad rewrites."
	case signals.CategoryNoResult:
		base = "Finish every iteration with a short summary of what changed and what is left."
	case signals.CategoryAgentError:
		base = "Avoid the action that caused the agent error and take a different approach."
	case signals.CategoryStuck:
		base = "Do not rerun a failing command or rewrite the same file again and again. Read the error, then change the approach."
	default:
		base = "Check the error output and avoid repeating the same approach."
	}
	if detail = firstLine(detail); detail != "" {
		base += " Last error: " + detail
	}
	return base
}

// applySignal acts on the detector's verdict. It returns true on gutter.
func (m *Manager) applySignal(ctx context.Context, e *entry, s *domain.Session, sig signals.Signal) bool {
	next := prompt.VariantNormal
	switch sig.Kind {
	case signals.Gutter:
		s.Status = domain.Gutter(sig.Reason)
		s.LastSignal = domain.SignalGutter
		log.Warn(log.CatSession, "session in gutter", "session", s.ID, "reason", sig.Reason)
		m.emitSignal(s, sig.Reason)
		g := guardrails.Guardrail{
			SessionID:   s.ID,
			Title:       "Stuck on repeated failure",
			Trigger:     sig.Reason,
			Instruction: "The same failure repeated without progress. Re-read the story and the error before trying again, and choose a different approach.",
			AddedAfter:  fmt.Sprintf("gutter at iteration %d", s.Iteration),
		}
		if _, err := m.guardrails.Append(context.WithoutCancel(ctx), s.ProjectPath, g); err != nil {
			log.ErrorErr(log.CatSession, "recording gutter guardrail failed", err, "session", s.ID)
		}
		return true
	case signals.Rotate:
		log.Info(log.CatSession, "rotating context", "session", s.ID, "contextTokens", s.Tokens.Iteration)
		s.Tokens.Rotate()
		e.detector.ResetContext()
		s.Status = domain.WaitingForRotation()
		s.LastSignal = domain.SignalRotate
		next = prompt.VariantRotate
	case signals.Warn:
		if !sig.Repeat {
			log.Info(log.CatSession, "context nearly full", "session", s.ID, "contextTokens", s.Tokens.Iteration)
		}
		s.LastSignal = domain.SignalWarn
		next = prompt.VariantWrapUp
	default:
		s.LastSignal = domain.SignalNone
	}

	if sig.Kind != signals.None {
		m.emitSignal(s, "")
	}
	e.mu.Lock()
	e.nextVariant = next
	e.mu.Unlock()
	m.checkpoint(e, s)
	return false
}

func (m *Manager) emitSignal(s *domain.Session, reason string) {
	a := domain.NewActivity(s, domain.ActivitySignal, m.now())
	a.Signal = s.LastSignal
	a.Message = reason
	m.emit(a)
}

func changedPaths(ctx context.Context, git gitapp.GitExecutor) []string {
	changes, err := git.ChangedFiles(ctx)
	if err != nil {
		log.Debug(log.CatGit, "listing changed files failed", "error", err)
		return nil
	}
	out := make([]string, 0, len(changes))
	for _, c := range changes {
		out = append(out, c.Path)
	}
	return out
}

func shortRev(rev string) string {
	if len(rev) > 12 {
		return rev[:12]
	}
	return rev
}
