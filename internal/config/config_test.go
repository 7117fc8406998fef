package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestDefaults_AreValid(t *testing.T) {
	require.NoError(t, Defaults().Validate())
}

func TestDefaultConfigTemplate_MatchesDefaults(t *testing.T) {
	path := writeConfig(t, DefaultConfigTemplate())

	cfg, used, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, path, used)

	d := Defaults()
	require.Equal(t, d.Agent, cfg.Agent)
	require.Equal(t, d.Session, cfg.Session)
	require.Equal(t, d.Server, cfg.Server)
	require.Equal(t, d.Guardrails, cfg.Guardrails)
	require.Equal(t, d.Quality, cfg.Quality)
	require.Equal(t, d.Watch, cfg.Watch)
	require.Equal(t, d.Database.Path, cfg.Database.Path)
}

func TestLoad_PartialFileMergesDefaults(t *testing.T) {
	path := writeConfig(t, `
session:
  execution_model: gpt-5
  quality_checks:
    - go test ./...
agent:
  timeout: 5m
`)

	cfg, _, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "gpt-5", cfg.Session.ExecutionModel)
	require.Equal(t, []string{"go test ./..."}, cfg.Session.QualityChecks)
	require.Equal(t, 5*time.Minute, cfg.Agent.Timeout)
	require.Equal(t, 70000, cfg.Session.WarnThreshold)
	require.Equal(t, "127.0.0.1:7420", cfg.Server.Addr)
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("RALPH_SERVER_ADDR", "0.0.0.0:9000")
	t.Setenv("RALPH_SESSION_MAX_ITERATIONS", "7")

	cfg, _, err := Load(writeConfig(t, "log:\n  level: debug\n"))
	require.NoError(t, err)
	require.Equal(t, "0.0.0.0:9000", cfg.Server.Addr)
	require.Equal(t, 7, cfg.Session.MaxIterations)
	require.Equal(t, "debug", cfg.Log.Level)
}

func TestLoad_RejectsInvalid(t *testing.T) {
	path := writeConfig(t, `
session:
  warn_threshold: 90000
  rotate_threshold: 80000
`)

	_, _, err := Load(path)
	require.Error(t, err)
	require.Contains(t, err.Error(), "warn_threshold")
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	_, _, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestLoad_MissingDefaultFileUsesDefaults(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	cfg, used, err := Load("")
	require.NoError(t, err)
	require.Empty(t, used)
	require.Equal(t, Defaults().Session, cfg.Session)
}

func TestValidate_CollectsErrors(t *testing.T) {
	cfg := Defaults()
	cfg.Agent.Client = ""
	cfg.Agent.Timeout = 0
	cfg.Log.Format = "xml"
	cfg.Guardrails.PromptLimit = -1

	err := cfg.Validate()
	require.Error(t, err)
	for _, want := range []string{"agent.client", "agent.timeout", "log.format", "guardrails.prompt_limit"} {
		require.Contains(t, err.Error(), want)
	}
}

func TestSetDefaults_RegistersEveryKey(t *testing.T) {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	require.NoError(t, v.Unmarshal(&cfg))
	require.Equal(t, Defaults(), cfg)
}

func TestWriteDefaultConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	require.NoError(t, WriteDefaultConfig(path))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, DefaultConfigTemplate(), string(data))

	require.Error(t, WriteDefaultConfig(path), "existing file must not be overwritten")
}

func TestLoad_ListFromEnv(t *testing.T) {
	t.Setenv("RALPH_SESSION_QUALITY_CHECKS", "go vet ./...,go test ./...")

	cfg, _, err := Load(writeConfig(t, "{}\n"))
	require.NoError(t, err)
	require.Equal(t, []string{"go vet ./...", "go test ./..."}, cfg.Session.QualityChecks)
}
