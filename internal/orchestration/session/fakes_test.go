package session

import (
	"context"
	"fmt"
	"sort"
	"sync"

	gitapp "github.com/zjrosen/ralph/internal/git/application"
	gitdomain "github.com/zjrosen/ralph/internal/git/domain"
	"github.com/zjrosen/ralph/internal/orchestration/client"
	"github.com/zjrosen/ralph/internal/sessions/domain"
)

// === Fake agent ===

// step scripts one agent invocation.
type step struct {
	events   []client.OutputEvent
	result   client.Result
	spawnErr error
	// block keeps the process alive until it is cancelled.
	block bool
}

type fakeAgent struct {
	mu      sync.Mutex
	script  func(call int) step
	prompts []string
	configs []client.Config
	spawned chan int
}

func newFakeAgent(script func(call int) step) *fakeAgent {
	return &fakeAgent{script: script, spawned: make(chan int, 64)}
}

func (a *fakeAgent) Type() client.ClientType { return client.ClientCursor }

func (a *fakeAgent) Spawn(ctx context.Context, cfg client.Config) (client.HeadlessProcess, error) {
	a.mu.Lock()
	call := len(a.prompts)
	a.prompts = append(a.prompts, cfg.Prompt)
	a.configs = append(a.configs, cfg)
	a.mu.Unlock()

	st := a.script(call)
	a.spawned <- call
	if st.spawnErr != nil {
		return nil, st.spawnErr
	}

	p := &fakeProcess{
		events:    make(chan client.OutputEvent, len(st.events)),
		done:      make(chan struct{}),
		cancelled: make(chan struct{}),
	}
	for _, ev := range st.events {
		p.events <- ev
	}
	go func() {
		if st.block {
			select {
			case <-ctx.Done():
			case <-p.cancelled:
			}
			p.result = client.Result{
				ExitCode:  -1,
				Cancelled: true,
				Err:       &client.ProcessError{Category: client.FailureExit, ExitCode: -1, Err: context.Canceled},
			}
		} else {
			p.result = st.result
		}
		close(p.events)
		close(p.done)
	}()
	return p, nil
}

func (a *fakeAgent) calls() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.prompts)
}

func (a *fakeAgent) prompt(i int) string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.prompts[i]
}

type fakeProcess struct {
	events    chan client.OutputEvent
	done      chan struct{}
	cancelled chan struct{}
	once      sync.Once
	result    client.Result
}

func (p *fakeProcess) Events() <-chan client.OutputEvent { return p.events }

func (p *fakeProcess) Wait() client.Result {
	<-p.done
	return p.result
}

func (p *fakeProcess) Cancel() { p.once.Do(func() { close(p.cancelled) }) }

func (p *fakeProcess) PID() int { return 4242 }

// completes is an invocation that finishes the story.
func completes(usage int) step {
	return step{events: []client.OutputEvent{
		assistant("All criteria met.\n"+client.CompletionMarker, usage, true),
		{Type: client.EventResult, Result: "Implemented the story."},
	}}
}

// progresses is a clean invocation that leaves the story open.
func progresses(usage int) step {
	return step{events: []client.OutputEvent{
		assistant("Made some progress.", usage, false),
		{Type: client.EventResult, Result: "Partial work."},
	}}
}

// agentErrors is an invocation whose agent reports an error.
func agentErrors(msg string) step {
	return step{events: []client.OutputEvent{
		{Type: client.EventError, Error: &client.ErrorInfo{Message: msg}},
	}}
}

func shellResult(command string, exitCode int) client.OutputEvent {
	return client.OutputEvent{
		Type: client.EventToolResult,
		Tool: &client.ToolContent{Name: "Bash", Command: command, ExitCode: exitCode},
	}
}

func editResult(path string) client.OutputEvent {
	return client.OutputEvent{
		Type: client.EventToolResult,
		Tool: &client.ToolContent{Name: "Edit", Path: path},
	}
}

func assistant(text string, usage int, complete bool) client.OutputEvent {
	ev := client.OutputEvent{
		Type: client.EventAssistant,
		Message: &client.MessageContent{
			Role:    "assistant",
			Content: []client.ContentBlock{{Type: "text", Text: text}},
		},
		StoryComplete: complete,
	}
	if usage > 0 {
		ev.Usage = &client.UsageInfo{InputTokens: usage}
	}
	return ev
}

// === Fake git ===

type fakeGit struct {
	mu          sync.Mutex
	notRepo     bool
	head        int
	commits     []string
	commitCalls int
	commitErr   error
	changed     []gitdomain.FileChange
	branch      string
	branchErr   error
	prs         []gitdomain.PullRequest
	prErr       error
}

func newFakeGit() *fakeGit {
	return &fakeGit{
		branch:  "main",
		changed: []gitdomain.FileChange{{Path: "main.go", Status: " M"}},
	}
}

func (g *fakeGit) factory() gitapp.ExecutorFactory {
	return func(string) gitapp.GitExecutor { return g }
}

func (g *fakeGit) IsGitRepo(context.Context) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return !g.notRepo
}

func (g *fakeGit) HeadRevision(context.Context) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.head == 0 {
		return "", gitdomain.ErrNoCommits
	}
	return fmt.Sprintf("rev%d", g.head), nil
}

func (g *fakeGit) HasUncommittedChanges(context.Context) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.changed) > 0, nil
}

func (g *fakeGit) ChangedFiles(context.Context) ([]gitdomain.FileChange, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]gitdomain.FileChange(nil), g.changed...), nil
}

func (g *fakeGit) Commit(_ context.Context, message string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.commitCalls++
	if g.commitErr != nil {
		return "", g.commitErr
	}
	g.head++
	g.commits = append(g.commits, message)
	return fmt.Sprintf("rev%d", g.head), nil
}

func (g *fakeGit) GetCurrentBranch(context.Context) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.branch, nil
}

func (g *fakeGit) GetMainBranch(context.Context) (string, error) { return "main", nil }

func (g *fakeGit) BranchExists(_ context.Context, name string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return name == g.branch
}

func (g *fakeGit) ValidateBranchName(context.Context, string) error { return nil }

func (g *fakeGit) EnsureBranch(_ context.Context, name string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.branchErr != nil {
		return g.branchErr
	}
	g.branch = name
	return nil
}

func (g *fakeGit) Push(context.Context, string) error { return nil }

func (g *fakeGit) OpenPullRequest(_ context.Context, pr gitdomain.PullRequest) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.prErr != nil {
		return "", g.prErr
	}
	g.prs = append(g.prs, pr)
	return "https://example.com/pr/1", nil
}

func (g *fakeGit) commitMessages() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.commits...)
}

// === Fake repository ===

type memRepo struct {
	mu       sync.Mutex
	sessions map[string]domain.Session
}

func newMemRepo() *memRepo {
	return &memRepo{sessions: make(map[string]domain.Session)}
}

func (r *memRepo) Save(_ context.Context, s *domain.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[s.ID] = s.Clone()
	return nil
}

func (r *memRepo) FindByID(_ context.Context, id string) (*domain.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil, &domain.SessionNotFoundError{ID: id}
	}
	out := s.Clone()
	return &out, nil
}

func (r *memRepo) List(_ context.Context, _ domain.ListFilter) ([]*domain.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*domain.Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		c := s.Clone()
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *memRepo) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, id)
	return nil
}
