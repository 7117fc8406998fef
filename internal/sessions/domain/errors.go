package domain

import "fmt"

// ConfigErrorKind classifies session creation failures.
type ConfigErrorKind string

const (
	ConfigPathNotFound  ConfigErrorKind = "path_not_found"
	ConfigNotAGitRepo   ConfigErrorKind = "not_a_git_repo"
	ConfigInvalidConfig ConfigErrorKind = "invalid_config"
)

// ConfigError is returned by session creation; the session never starts.
type ConfigError struct {
	Kind   ConfigErrorKind
	Path   string
	Reason string
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	switch e.Kind {
	case ConfigPathNotFound:
		return fmt.Sprintf("project path not found: %q", e.Path)
	case ConfigNotAGitRepo:
		return fmt.Sprintf("not a git repository: %q", e.Path)
	default:
		return fmt.Sprintf("invalid session config: %s", e.Reason)
	}
}

// SessionNotFoundError indicates that no session has the given ID.
type SessionNotFoundError struct {
	ID string
}

// Error implements the error interface.
func (e *SessionNotFoundError) Error() string {
	return fmt.Sprintf("session not found: id=%q", e.ID)
}

// InvalidStateError indicates an operation that the session's current
// status does not allow.
type InvalidStateError struct {
	ID     string
	Op     string
	Status SessionStatus
	Reason string
}

// Error implements the error interface.
func (e *InvalidStateError) Error() string {
	msg := fmt.Sprintf("cannot %s session %q in state %s", e.Op, e.ID, e.Status.Kind)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}
