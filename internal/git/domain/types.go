// Package domain provides domain types for git operations.
package domain

// FileChange is one entry of `git status --porcelain`.
type FileChange struct {
	Path   string // Path relative to the repository root
	Status string // Two-letter porcelain status, e.g. " M", "??", "A "
}

// PullRequest describes a pull request opened for a session branch.
type PullRequest struct {
	Branch string
	Title  string
	Body   string
	URL    string
}
