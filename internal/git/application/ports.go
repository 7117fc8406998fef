// Package application defines ports (interfaces) for git operations.
package application

import (
	"context"

	domain "github.com/zjrosen/ralph/internal/git/domain"
)

// GitExecutor is the commit discipline a session relies on. Implementations
// are bound to one working tree.
type GitExecutor interface {
	IsGitRepo(ctx context.Context) bool

	// HeadRevision returns the full hash of HEAD, or ErrNoCommits.
	HeadRevision(ctx context.Context) (string, error)
	HasUncommittedChanges(ctx context.Context) (bool, error)
	// ChangedFiles lists modified, staged and untracked paths.
	ChangedFiles(ctx context.Context) ([]domain.FileChange, error)

	// Commit stages everything and commits. A clean tree is not an error:
	// the current HEAD is returned unchanged.
	Commit(ctx context.Context, message string) (string, error)

	GetCurrentBranch(ctx context.Context) (string, error)
	// GetMainBranch returns the branch new work starts from.
	GetMainBranch(ctx context.Context) (string, error)
	BranchExists(ctx context.Context, name string) bool
	ValidateBranchName(ctx context.Context, name string) error
	// EnsureBranch checks out name, creating it from the main branch when
	// it does not exist yet.
	EnsureBranch(ctx context.Context, name string) error

	Push(ctx context.Context, branch string) error
	// OpenPullRequest pushes branch and opens a pull request, returning its URL.
	OpenPullRequest(ctx context.Context, pr domain.PullRequest) (string, error)
}

// ExecutorFactory binds a GitExecutor to a working tree.
type ExecutorFactory func(workDir string) GitExecutor
