// Package infrastructure implements git ports by shelling out to the git and
// gh command line tools.
package infrastructure

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/zjrosen/ralph/internal/git/application"
	domain "github.com/zjrosen/ralph/internal/git/domain"
	"github.com/zjrosen/ralph/internal/log"
)

const (
	defaultCommandTimeout = 60 * time.Second
	defaultRemoteTimeout  = 5 * time.Minute
)

// CLIExecutor runs git in a single working tree.
type CLIExecutor struct {
	workDir        string
	gitPath        string
	ghPath         string
	remote         string
	commandTimeout time.Duration
	remoteTimeout  time.Duration
}

// Option configures a CLIExecutor.
type Option func(*CLIExecutor)

// WithGitPath overrides the git executable.
func WithGitPath(path string) Option { return func(e *CLIExecutor) { e.gitPath = path } }

// WithGHPath overrides the gh executable used for pull requests.
func WithGHPath(path string) Option { return func(e *CLIExecutor) { e.ghPath = path } }

// WithRemote sets the remote pushed to. Defaults to origin.
func WithRemote(name string) Option { return func(e *CLIExecutor) { e.remote = name } }

// WithTimeouts sets the local and network command timeouts.
func WithTimeouts(local, remote time.Duration) Option {
	return func(e *CLIExecutor) {
		if local > 0 {
			e.commandTimeout = local
		}
		if remote > 0 {
			e.remoteTimeout = remote
		}
	}
}

// NewCLIExecutor creates an executor for workDir.
func NewCLIExecutor(workDir string, opts ...Option) *CLIExecutor {
	e := &CLIExecutor{
		workDir:        workDir,
		gitPath:        "git",
		ghPath:         "gh",
		remote:         "origin",
		commandTimeout: defaultCommandTimeout,
		remoteTimeout:  defaultRemoteTimeout,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Factory returns an ExecutorFactory that applies opts to every executor.
func Factory(opts ...Option) application.ExecutorFactory {
	return func(workDir string) application.GitExecutor {
		return NewCLIExecutor(workDir, opts...)
	}
}

var _ application.GitExecutor = (*CLIExecutor)(nil)

func (e *CLIExecutor) run(ctx context.Context, timeout time.Duration, bin, op string, args ...string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, bin, args...) //nolint:gosec // arguments are built internally
	cmd.Dir = e.workDir
	cmd.Env = append(os.Environ(), "GIT_TERMINAL_PROMPT=0")
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			err = fmt.Errorf("%w: %w", domain.ErrGitTimeout, err)
		}
		log.Debug(log.CatGit, "command failed",
			"op", op, "args", strings.Join(args, " "), "dir", e.workDir, "stderr", strings.TrimSpace(stderr.String()))
		return stdout.String(), &domain.GitError{Op: op, Args: args, Stderr: stderr.String(), Err: err}
	}
	return stdout.String(), nil
}

func (e *CLIExecutor) git(ctx context.Context, op string, args ...string) (string, error) {
	return e.run(ctx, e.commandTimeout, e.gitPath, op, args...)
}

// IsGitRepo reports whether the working tree is inside a git repository.
func (e *CLIExecutor) IsGitRepo(ctx context.Context) bool {
	out, err := e.git(ctx, "rev-parse", "rev-parse", "--is-inside-work-tree")
	return err == nil && strings.TrimSpace(out) == "true"
}

// HeadRevision returns the full hash of HEAD.
func (e *CLIExecutor) HeadRevision(ctx context.Context) (string, error) {
	out, err := e.git(ctx, "rev-parse", "rev-parse", "--verify", "--quiet", "HEAD")
	if err != nil {
		if !e.IsGitRepo(ctx) {
			return "", domain.ErrNotGitRepo
		}
		return "", domain.ErrNoCommits
	}
	return strings.TrimSpace(out), nil
}

// ChangedFiles lists modified, staged and untracked paths.
func (e *CLIExecutor) ChangedFiles(ctx context.Context) ([]domain.FileChange, error) {
	out, err := e.git(ctx, "status", "status", "--porcelain=v1", "-z", "--untracked-files=all")
	if err != nil {
		return nil, err
	}
	return parsePorcelainZ(out), nil
}

// parsePorcelainZ parses `git status --porcelain=v1 -z`. Rename and copy
// entries carry the original path as an extra NUL-terminated field.
func parsePorcelainZ(out string) []domain.FileChange {
	fields := strings.Split(out, "\x00")
	var changes []domain.FileChange
	for i := 0; i < len(fields); i++ {
		entry := fields[i]
		if len(entry) < 4 {
			continue
		}
		status := entry[:2]
		changes = append(changes, domain.FileChange{Path: entry[3:], Status: status})
		if status[0] == 'R' || status[0] == 'C' {
			i++
		}
	}
	return changes
}

// HasUncommittedChanges reports whether the tree differs from HEAD.
func (e *CLIExecutor) HasUncommittedChanges(ctx context.Context) (bool, error) {
	changes, err := e.ChangedFiles(ctx)
	if err != nil {
		return false, err
	}
	return len(changes) > 0, nil
}

// Commit stages all changes and commits them with message. The project's
// commit hooks run; a rejecting hook fails the commit.
func (e *CLIExecutor) Commit(ctx context.Context, message string) (string, error) {
	dirty, err := e.HasUncommittedChanges(ctx)
	if err != nil {
		return "", err
	}
	if !dirty {
		head, err := e.HeadRevision(ctx)
		if errors.Is(err, domain.ErrNoCommits) {
			return "", nil
		}
		return head, err
	}

	if _, err := e.git(ctx, "add", "add", "-A"); err != nil {
		return "", err
	}
	if _, err := e.git(ctx, "commit", "commit", "-m", message); err != nil {
		return "", err
	}
	head, err := e.HeadRevision(ctx)
	if err != nil {
		return "", err
	}
	log.Info(log.CatGit, "committed", "dir", e.workDir, "revision", head)
	return head, nil
}

// GetCurrentBranch returns the checked out branch name.
func (e *CLIExecutor) GetCurrentBranch(ctx context.Context) (string, error) {
	out, err := e.git(ctx, "branch", "branch", "--show-current")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

// GetMainBranch prefers origin's default branch, then main, then master,
// then whatever is checked out.
func (e *CLIExecutor) GetMainBranch(ctx context.Context) (string, error) {
	if out, err := e.git(ctx, "symbolic-ref", "symbolic-ref", "--quiet", "--short", "refs/remotes/"+e.remote+"/HEAD"); err == nil {
		ref := strings.TrimSpace(out)
		if name := strings.TrimPrefix(ref, e.remote+"/"); name != "" {
			return name, nil
		}
	}
	for _, candidate := range []string{"main", "master"} {
		if e.BranchExists(ctx, candidate) {
			return candidate, nil
		}
	}
	return e.GetCurrentBranch(ctx)
}

// BranchExists reports whether a local branch exists.
func (e *CLIExecutor) BranchExists(ctx context.Context, name string) bool {
	_, err := e.git(ctx, "rev-parse", "rev-parse", "--verify", "--quiet", "refs/heads/"+name)
	return err == nil
}

// ValidateBranchName runs git check-ref-format --branch.
func (e *CLIExecutor) ValidateBranchName(ctx context.Context, name string) error {
	if strings.TrimSpace(name) == "" || strings.HasPrefix(name, "-") {
		return fmt.Errorf("%w: %q", domain.ErrInvalidBranchName, name)
	}
	if _, err := e.git(ctx, "check-ref-format", "check-ref-format", "--branch", name); err != nil {
		return fmt.Errorf("%w: %q", domain.ErrInvalidBranchName, name)
	}
	return nil
}

// EnsureBranch checks out name, creating it from the main branch if needed.
func (e *CLIExecutor) EnsureBranch(ctx context.Context, name string) error {
	if err := e.ValidateBranchName(ctx, name); err != nil {
		return err
	}
	current, err := e.GetCurrentBranch(ctx)
	if err != nil {
		return err
	}
	if current == name {
		return nil
	}
	if e.BranchExists(ctx, name) {
		_, err := e.git(ctx, "checkout", "checkout", name)
		return err
	}

	if _, err := e.HeadRevision(ctx); errors.Is(err, domain.ErrNoCommits) {
		// Unborn HEAD: point it at the new branch name.
		_, err := e.git(ctx, "symbolic-ref", "symbolic-ref", "HEAD", "refs/heads/"+name)
		return err
	}

	base, err := e.GetMainBranch(ctx)
	if err != nil {
		return err
	}
	args := []string{"checkout", "-b", name}
	if base != "" && e.BranchExists(ctx, base) {
		args = append(args, base)
	}
	_, err = e.git(ctx, "checkout", args...)
	if err == nil {
		log.Info(log.CatGit, "created branch", "dir", e.workDir, "branch", name, "base", base)
	}
	return err
}

// Push pushes branch to the remote and sets upstream.
func (e *CLIExecutor) Push(ctx context.Context, branch string) error {
	_, err := e.run(ctx, e.remoteTimeout, e.gitPath, "push", "push", "-u", e.remote, branch)
	return err
}

// OpenPullRequest pushes the branch and opens a pull request with gh.
func (e *CLIExecutor) OpenPullRequest(ctx context.Context, pr domain.PullRequest) (string, error) {
	if err := e.Push(ctx, pr.Branch); err != nil {
		return "", err
	}
	out, err := e.run(ctx, e.remoteTimeout, e.ghPath, "pr create",
		"pr", "create", "--head", pr.Branch, "--title", pr.Title, "--body", pr.Body)
	if err != nil {
		return "", err
	}
	lines := strings.Split(strings.TrimSpace(out), "\n")
	url := strings.TrimSpace(lines[len(lines)-1])
	log.Info(log.CatGit, "opened pull request", "branch", pr.Branch, "url", url)
	return url, nil
}
