package cmd

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/zjrosen/ralph/internal/guardrails"
	"github.com/zjrosen/ralph/internal/infrastructure/sqlite"
	"github.com/zjrosen/ralph/internal/orchestration/session"
	"github.com/zjrosen/ralph/internal/prd"
	"github.com/zjrosen/ralph/internal/sessions/domain"
)

// executeCommand runs the root command with args in an isolated home and
// returns everything written to stdout and stderr.
func executeCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Setenv("HOME", t.TempDir())
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("RALPH_LOG_LEVEL", "error")

	cfgFile, logLevel = "", ""
	historyStatus, historyLimit, historyLocal = "", 20, false
	guardrailsLimit, guardrailsPrompt = 0, false
	configInitPath = ""

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func finishedSession(id, project string) domain.Session {
	now := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	s := domain.NewSession(id, project, domain.DefaultSessionConfig(), now)
	s.Prd = &prd.Prd{Project: "demo", Stories: []prd.Story{{ID: "S1", Title: "one", Priority: 1, Passes: true}}}
	s.Status = domain.Complete()
	s.Iteration = 3
	s.Commits = 2
	s.Tokens.Lifetime = 12_500
	s.UpdatedAt = now.Add(time.Hour)
	return *s
}

// === config ===

func TestConfigShow_MergesEnvironment(t *testing.T) {
	t.Setenv("RALPH_SERVER_ADDR", "0.0.0.0:9000")
	out, err := executeCommand(t, "config", "show")
	require.NoError(t, err)
	require.Contains(t, out, "# Source: defaults")
	require.Contains(t, out, "addr: 0.0.0.0:9000")
	require.Contains(t, out, "execution_model: opus-4.5-thinking")
}

func TestConfigShow_ReadsExplicitFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ralph.yaml")
	require.NoError(t, os.WriteFile(path, []byte("session:\n  max_iterations: 7\n"), 0o600))

	out, err := executeCommand(t, "--config", path, "config", "show")
	require.NoError(t, err)
	require.Contains(t, out, "# Source: "+path)
	require.Contains(t, out, "max_iterations: 7")
}

func TestConfig_InvalidFileFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ralph.yaml")
	require.NoError(t, os.WriteFile(path, []byte("session:\n  warn_threshold: 90000\n"), 0o600))

	_, err := executeCommand(t, "--config", path, "config", "show")
	require.ErrorContains(t, err, "warn_threshold")
}

func TestConfigInit_WritesOnce(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	out, err := executeCommand(t, "config", "init", "--path", path)
	require.NoError(t, err)
	require.Contains(t, out, "wrote "+path)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(data), "agent:")

	_, err = executeCommand(t, "config", "init", "--path", path)
	require.ErrorContains(t, err, "already exists")
}

// === guardrails ===

func TestGuardrails_ListsSigns(t *testing.T) {
	project := t.TempDir()
	_, err := guardrails.NewStore().Append(context.Background(), project, guardrails.Guardrail{
		Title:       "Run the linter",
		Trigger:     "quality_checks:S1",
		Instruction: "run golangci-lint before finishing",
		AddedAfter:  "iteration 2",
	})
	require.NoError(t, err)

	out, err := executeCommand(t, "guardrails", project)
	require.NoError(t, err)
	require.Contains(t, out, "Run the linter")
	require.Contains(t, out, "golangci-lint")
	require.Contains(t, out, "iteration 2")
}

func TestGuardrails_Empty(t *testing.T) {
	out, err := executeCommand(t, "guardrails", t.TempDir())
	require.NoError(t, err)
	require.Contains(t, out, "no guardrails recorded")
}

// === history ===

func TestHistory_LocalIndex(t *testing.T) {
	project := t.TempDir()
	require.NoError(t, session.RecordInIndex(finishedSession("abcdef1234", project)))

	out, err := executeCommand(t, "history", project, "--local")
	require.NoError(t, err)
	require.Contains(t, out, "abcdef12")
	require.Contains(t, out, "complete")
	require.Contains(t, out, "1/1")
	require.Contains(t, out, "12.5k")
}

func TestHistory_Database(t *testing.T) {
	project := t.TempDir()
	dbPath := filepath.Join(t.TempDir(), "ralph.db")
	db, err := sqlite.NewDB(dbPath)
	require.NoError(t, err)
	s := finishedSession("fedcba9876", project)
	require.NoError(t, db.SessionRepository().Save(context.Background(), &s))
	require.NoError(t, db.Close())

	t.Setenv("RALPH_DATABASE_PATH", dbPath)
	out, err := executeCommand(t, "history", project)
	require.NoError(t, err)
	require.Contains(t, out, "fedcba98")

	out, err = executeCommand(t, "history", project, "--status", "failed")
	require.NoError(t, err)
	require.Contains(t, out, "no sessions recorded")
}

func TestHistory_UnknownStatus(t *testing.T) {
	_, err := executeCommand(t, "history", t.TempDir(), "--local", "--status", "melted")
	require.ErrorContains(t, err, "unknown status")
}

// === run ===

func TestRun_RejectsNonRepository(t *testing.T) {
	t.Setenv("RALPH_DATABASE_ENABLED", "false")
	_, err := executeCommand(t, "run", t.TempDir())

	var cfgErr *domain.ConfigError
	require.ErrorAs(t, err, &cfgErr)
	require.Equal(t, domain.ConfigNotAGitRepo, cfgErr.Kind)
}

func TestRun_UnknownAgentClient(t *testing.T) {
	t.Setenv("RALPH_DATABASE_ENABLED", "false")
	t.Setenv("RALPH_AGENT_CLIENT", "nope")
	_, err := executeCommand(t, "run", t.TempDir())
	require.ErrorContains(t, err, "unknown client type")
}
