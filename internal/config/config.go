// Package config provides configuration types and defaults for ralph.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/zjrosen/ralph/internal/paths"
	"github.com/zjrosen/ralph/internal/sessions/domain"
	"github.com/zjrosen/ralph/internal/tracing"
)

// EnvPrefix prefixes environment overrides, e.g. RALPH_SERVER_ADDR.
const EnvPrefix = "RALPH"

// Config holds all ralph configuration.
type Config struct {
	Agent      AgentConfig          `mapstructure:"agent" yaml:"agent"`
	Session    domain.SessionConfig `mapstructure:"session" yaml:"session"`
	Server     ServerConfig         `mapstructure:"server" yaml:"server"`
	Database   DatabaseConfig       `mapstructure:"database" yaml:"database"`
	Log        LogConfig            `mapstructure:"log" yaml:"log"`
	Tracing    tracing.Config       `mapstructure:"tracing" yaml:"tracing"`
	Guardrails GuardrailsConfig     `mapstructure:"guardrails" yaml:"guardrails"`
	Quality    QualityConfig        `mapstructure:"quality" yaml:"quality"`
	Watch      WatchConfig          `mapstructure:"watch" yaml:"watch"`
}

// AgentConfig controls how the coding agent is spawned.
type AgentConfig struct {
	// Client selects the registered agent provider.
	Client string `mapstructure:"client" yaml:"client"`
	// Executable overrides executable discovery.
	Executable  string        `mapstructure:"executable" yaml:"executable,omitempty"`
	Timeout     time.Duration `mapstructure:"timeout" yaml:"timeout"`
	GracePeriod time.Duration `mapstructure:"grace_period" yaml:"grace_period"`
	// Force lets the agent edit files and run commands without prompting.
	Force     bool     `mapstructure:"force" yaml:"force"`
	ExtraArgs []string `mapstructure:"extra_args" yaml:"extra_args,omitempty"`
	Env       []string `mapstructure:"env" yaml:"env,omitempty"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Addr string `mapstructure:"addr" yaml:"addr"`
}

// DatabaseConfig configures the session history database.
type DatabaseConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Path    string `mapstructure:"path" yaml:"path"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	File   string `mapstructure:"file" yaml:"file,omitempty"`
	Format string `mapstructure:"format" yaml:"format"`
}

// GuardrailsConfig controls guardrail prompt injection.
type GuardrailsConfig struct {
	// PromptLimit is how many recent guardrails go into each prompt.
	PromptLimit int `mapstructure:"prompt_limit" yaml:"prompt_limit"`
}

// QualityConfig bounds quality check commands.
type QualityConfig struct {
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// WatchConfig controls prd.json change detection.
type WatchConfig struct {
	Enabled  bool          `mapstructure:"enabled" yaml:"enabled"`
	Debounce time.Duration `mapstructure:"debounce" yaml:"debounce"`
}

// Defaults returns a Config with sensible default values.
func Defaults() Config {
	return Config{
		Agent: AgentConfig{
			Client:      "cursor",
			Timeout:     30 * time.Minute,
			GracePeriod: 10 * time.Second,
			Force:       true,
		},
		Session: domain.DefaultSessionConfig(),
		Server: ServerConfig{
			Addr: "127.0.0.1:7420",
		},
		Database: DatabaseConfig{
			Enabled: true,
			Path:    paths.DefaultDBPath(),
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Tracing: tracing.Config{
			Exporter:    tracing.ExporterStdout,
			SampleRate:  1,
			ServiceName: "ralph",
		},
		Guardrails: GuardrailsConfig{PromptLimit: 10},
		Quality:    QualityConfig{Timeout: 10 * time.Minute},
		Watch:      WatchConfig{Enabled: true, Debounce: 300 * time.Millisecond},
	}
}

// Validate checks cross-field constraints.
func (c Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Agent.Client) == "" {
		errs = append(errs, errors.New("agent.client is required"))
	}
	if c.Agent.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("agent.timeout must be positive, got %s", c.Agent.Timeout))
	}
	if c.Agent.GracePeriod < 0 {
		errs = append(errs, fmt.Errorf("agent.grace_period must not be negative, got %s", c.Agent.GracePeriod))
	}
	if err := c.Session.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("session: %w", err))
	}
	if strings.TrimSpace(c.Server.Addr) == "" {
		errs = append(errs, errors.New("server.addr is required"))
	}
	if c.Database.Enabled && strings.TrimSpace(c.Database.Path) == "" {
		errs = append(errs, errors.New("database.path is required when the database is enabled"))
	}
	switch c.Log.Format {
	case "", "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format must be text or json, got %q", c.Log.Format))
	}
	if err := c.Tracing.Validate(); err != nil {
		errs = append(errs, err)
	}
	if c.Guardrails.PromptLimit < 0 {
		errs = append(errs, fmt.Errorf("guardrails.prompt_limit must not be negative, got %d", c.Guardrails.PromptLimit))
	}
	return errors.Join(errs...)
}

// SetDefaults registers Defaults() with v so that partially specified files
// and environment overrides merge on top of them. List settings have no
// default and are bound to the environment by Load instead.
func SetDefaults(v *viper.Viper) {
	d := Defaults()
	v.SetDefault("agent.client", d.Agent.Client)
	v.SetDefault("agent.executable", d.Agent.Executable)
	v.SetDefault("agent.timeout", d.Agent.Timeout)
	v.SetDefault("agent.grace_period", d.Agent.GracePeriod)
	v.SetDefault("agent.force", d.Agent.Force)

	v.SetDefault("session.prd_model", d.Session.PrdModel)
	v.SetDefault("session.execution_model", d.Session.ExecutionModel)
	v.SetDefault("session.max_iterations", d.Session.MaxIterations)
	v.SetDefault("session.warn_threshold", d.Session.WarnThreshold)
	v.SetDefault("session.rotate_threshold", d.Session.RotateThreshold)
	v.SetDefault("session.branch_name", d.Session.BranchName)
	v.SetDefault("session.open_pr", d.Session.OpenPR)

	v.SetDefault("server.addr", d.Server.Addr)
	v.SetDefault("database.enabled", d.Database.Enabled)
	v.SetDefault("database.path", d.Database.Path)
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.file", d.Log.File)
	v.SetDefault("log.format", d.Log.Format)

	v.SetDefault("tracing.enabled", d.Tracing.Enabled)
	v.SetDefault("tracing.exporter", d.Tracing.Exporter)
	v.SetDefault("tracing.endpoint", d.Tracing.Endpoint)
	v.SetDefault("tracing.file_path", d.Tracing.FilePath)
	v.SetDefault("tracing.sample_rate", d.Tracing.SampleRate)
	v.SetDefault("tracing.service_name", d.Tracing.ServiceName)

	v.SetDefault("guardrails.prompt_limit", d.Guardrails.PromptLimit)
	v.SetDefault("quality.timeout", d.Quality.Timeout)
	v.SetDefault("watch.enabled", d.Watch.Enabled)
	v.SetDefault("watch.debounce", d.Watch.Debounce)
}

// Load reads configuration from path (or the default location when path is
// empty) with RALPH_ environment overrides. A missing default file is not an
// error; a missing explicit file is.
func Load(path string) (Config, string, error) {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for _, key := range listKeys {
		_ = v.BindEnv(key)
	}

	explicit := path != ""
	if !explicit {
		path = paths.DefaultConfigPath()
	}
	v.SetConfigFile(path)

	used := ""
	if err := v.ReadInConfig(); err != nil {
		if explicit || !isNotExist(err) {
			return Config{}, "", fmt.Errorf("reading config %s: %w", path, err)
		}
	} else {
		used = v.ConfigFileUsed()
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, "", fmt.Errorf("decoding config: %w", err)
	}
	cfg.Database.Path = paths.ExpandHome(cfg.Database.Path)
	cfg.Log.File = paths.ExpandHome(cfg.Log.File)
	cfg.Tracing.FilePath = paths.ExpandHome(cfg.Tracing.FilePath)

	if err := cfg.Validate(); err != nil {
		return Config{}, used, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, used, nil
}

// listKeys are settings whose environment form is a comma-separated list.
var listKeys = []string{"agent.extra_args", "agent.env", "session.quality_checks"}

func isNotExist(err error) bool {
	var nf viper.ConfigFileNotFoundError
	return errors.As(err, &nf) || errors.Is(err, os.ErrNotExist)
}

// DefaultConfigTemplate returns the default config as a YAML string with comments.
func DefaultConfigTemplate() string {
	return `# Ralph Configuration

# Coding agent
agent:
  client: cursor          # registered agent provider
  # executable: ~/.local/bin/cursor-agent
  timeout: 30m            # wall-clock limit per iteration
  grace_period: 10s       # SIGTERM -> SIGKILL delay on cancel
  force: true             # let the agent edit and run commands without prompting
  # extra_args: []
  # env: ["CURSOR_API_KEY=..."]

# Defaults for new sessions (each can be overridden per session)
session:
  prd_model: sonnet-4.5-thinking
  execution_model: opus-4.5-thinking
  max_iterations: 20
  warn_threshold: 70000   # ask the agent to wrap up
  rotate_threshold: 80000 # start a fresh context
  open_pr: false
  # branch_name: ralph/feature
  # quality_checks:
  #   - go build ./...
  #   - go test ./...

# HTTP API
server:
  addr: 127.0.0.1:7420

# Session history
database:
  enabled: true
  path: ~/.ralph/ralph.db

log:
  level: info             # debug, info, warn, error
  format: text            # text or json
  # file: ~/.ralph/ralph.log

tracing:
  enabled: false
  exporter: stdout        # stdout, file or otlp
  # endpoint: localhost:4317
  # file_path: ~/.ralph/traces.json
  sample_rate: 1.0

guardrails:
  prompt_limit: 10        # most recent signs included in each prompt

quality:
  timeout: 10m            # per quality check command

watch:
  enabled: true           # reload prd.json when edited externally
  debounce: 300ms
`
}

// WriteDefaultConfig creates a config file at the given path with default settings and comments.
// Creates the parent directory if it doesn't exist. An existing file is not overwritten.
func WriteDefaultConfig(configPath string) error {
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	f, err := os.OpenFile(configPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0600) //nolint:gosec // user-chosen path
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return fmt.Errorf("config file already exists: %s", configPath)
		}
		return fmt.Errorf("writing config file: %w", err)
	}
	if _, err := f.WriteString(DefaultConfigTemplate()); err != nil {
		_ = f.Close()
		return fmt.Errorf("writing config file: %w", err)
	}
	return f.Close()
}
