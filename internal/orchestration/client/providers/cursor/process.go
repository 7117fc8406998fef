package cursor

import (
	"context"
	"fmt"

	"github.com/zjrosen/ralph/internal/log"
	"github.com/zjrosen/ralph/internal/orchestration/client"
)

// defaultKnownPaths defines the priority-ordered paths to check for the
// cursor-agent executable before falling back to PATH.
var defaultKnownPaths = []string{
	"~/.local/bin/{name}",
	"/opt/homebrew/bin/{name}",
	"/usr/local/bin/{name}",
}

// Process is a running cursor-agent invocation.
type Process struct {
	*client.BaseProcess
}

// Spawn finds cursor-agent and starts it with cfg.
func Spawn(ctx context.Context, cfg Config) (*Process, error) {
	opts := []client.FinderOption{client.WithKnownPaths(defaultKnownPaths...)}
	if cfg.Executable != "" {
		opts = append(opts, client.WithOverride(cfg.Executable))
	}
	execPath, err := client.NewExecutableFinder("cursor-agent", opts...).Find()
	if err != nil {
		return nil, &client.ProcessError{Category: client.FailureSpawn, Err: err}
	}

	log.Debug(log.CatAgent, "spawning cursor-agent",
		"path", execPath, "workDir", cfg.WorkDir, "model", cfg.Model, "promptBytes", len(cfg.Prompt))

	base, err := client.NewSpawnBuilder(ctx).
		WithExecutable(execPath, buildArgs(cfg)).
		WithWorkDir(cfg.WorkDir).
		WithEnv(cfg.Env).
		WithTimeout(cfg.Timeout).
		WithGracePeriod(cfg.GracePeriod).
		WithParser(NewParser()).
		WithProviderName("cursor").
		Build()
	if err != nil {
		return nil, fmt.Errorf("cursor: %w", err)
	}
	return &Process{BaseProcess: base}, nil
}

var _ client.HeadlessProcess = (*Process)(nil)
