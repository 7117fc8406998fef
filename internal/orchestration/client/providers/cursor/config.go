package cursor

import (
	"time"

	"github.com/zjrosen/ralph/internal/orchestration/client"
)

// Config holds configuration for spawning a Cursor process.
type Config struct {
	WorkDir         string
	Prompt          string
	Model           string // e.g. "opus-4.5-thinking"
	SkipPermissions bool   // Maps to --force
	Timeout         time.Duration
	GracePeriod     time.Duration
	Executable      string // Overrides discovery when set
	ExtraArgs       []string
	Env             []string
}

func configFromClient(cfg client.Config) Config {
	return Config{
		WorkDir:         cfg.WorkDir,
		Prompt:          cfg.Prompt,
		Model:           cfg.Model,
		SkipPermissions: cfg.SkipPermissions,
		Timeout:         cfg.EffectiveTimeout(),
		GracePeriod:     cfg.EffectiveGracePeriod(),
		Executable:      cfg.Executable,
		ExtraArgs:       append([]string(nil), cfg.ExtraArgs...),
		Env:             append([]string(nil), cfg.Env...),
	}
}
