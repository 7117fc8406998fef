package domain

import (
	"errors"
	"fmt"
	"strings"
)

// Git-specific sentinel errors.
var (
	// ErrNotGitRepo indicates the directory is not a git repository.
	ErrNotGitRepo = errors.New("not a git repository")

	// ErrInvalidBranchName indicates the branch name fails git check-ref-format.
	ErrInvalidBranchName = errors.New("invalid branch name format")

	// ErrNoCommits indicates the repository has no HEAD yet.
	ErrNoCommits = errors.New("repository has no commits")

	// ErrGitTimeout is returned when a git command exceeds its deadline.
	ErrGitTimeout = errors.New("git command timed out")
)

// GitError wraps a failed git or gh invocation with its stderr.
type GitError struct {
	Op     string
	Args   []string
	Stderr string
	Err    error
}

// Error implements the error interface.
func (e *GitError) Error() string {
	msg := fmt.Sprintf("git %s failed", e.Op)
	if stderr := strings.TrimSpace(e.Stderr); stderr != "" {
		msg += ": " + stderr
	} else if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying error.
func (e *GitError) Unwrap() error {
	return e.Err
}
