package domain

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestConfigError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      *ConfigError
		expected string
	}{
		{
			name:     "path not found",
			err:      &ConfigError{Kind: ConfigPathNotFound, Path: "/nope"},
			expected: `project path not found: "/nope"`,
		},
		{
			name:     "not a git repo",
			err:      &ConfigError{Kind: ConfigNotAGitRepo, Path: "/tmp/plain"},
			expected: `not a git repository: "/tmp/plain"`,
		},
		{
			name:     "invalid config",
			err:      &ConfigError{Kind: ConfigInvalidConfig, Reason: "warn_threshold (9) must be below rotate_threshold (5)"},
			expected: "invalid session config: warn_threshold (9) must be below rotate_threshold (5)",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.expected, tt.err.Error())
		})
	}
}

func TestSessionNotFoundError_Error(t *testing.T) {
	err := &SessionNotFoundError{ID: "abc-123"}
	require.Equal(t, `session not found: id="abc-123"`, err.Error())
}

func TestInvalidStateError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      *InvalidStateError
		expected string
	}{
		{
			name:     "without reason",
			err:      &InvalidStateError{ID: "s1", Op: "start", Status: Complete()},
			expected: `cannot start session "s1" in state complete`,
		},
		{
			name:     "with reason",
			err:      &InvalidStateError{ID: "s1", Op: "start", Status: Idle(), Reason: "no PRD set"},
			expected: `cannot start session "s1" in state idle: no PRD set`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.expected, tt.err.Error())
		})
	}
}

func TestErrors_MatchThroughWrapping(t *testing.T) {
	wrapped := fmt.Errorf("api: %w", &ConfigError{Kind: ConfigNotAGitRepo, Path: "/x"})

	var cfgErr *ConfigError
	require.True(t, errors.As(wrapped, &cfgErr))
	require.Equal(t, ConfigNotAGitRepo, cfgErr.Kind)

	var notFound *SessionNotFoundError
	require.False(t, errors.As(wrapped, &notFound))
}
