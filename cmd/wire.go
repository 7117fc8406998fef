package cmd

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/zjrosen/ralph/internal/config"
	gitinfra "github.com/zjrosen/ralph/internal/git/infrastructure"
	"github.com/zjrosen/ralph/internal/guardrails"
	"github.com/zjrosen/ralph/internal/infrastructure/sqlite"
	"github.com/zjrosen/ralph/internal/log"
	"github.com/zjrosen/ralph/internal/orchestration/client"
	"github.com/zjrosen/ralph/internal/orchestration/quality"
	"github.com/zjrosen/ralph/internal/orchestration/session"
	"github.com/zjrosen/ralph/internal/tracing"

	// Registers the cursor provider with client.NewClient.
	_ "github.com/zjrosen/ralph/internal/orchestration/client/providers/cursor"
)

// newManager builds a session manager from the loaded config.
func newManager(c config.Config, opts ...session.Option) (*session.Manager, error) {
	agent, err := client.NewClient(client.ClientType(c.Agent.Client))
	if err != nil {
		return nil, err
	}
	base := []session.Option{
		session.WithAgentSettings(session.AgentSettings{
			Executable:  c.Agent.Executable,
			Timeout:     c.Agent.Timeout,
			GracePeriod: c.Agent.GracePeriod,
			Force:       c.Agent.Force,
			ExtraArgs:   c.Agent.ExtraArgs,
			Env:         c.Agent.Env,
		}),
		session.WithGuardrailStore(guardrails.NewStore()),
		session.WithQualityChecker(quality.NewShellChecker(c.Quality.Timeout)),
		session.WithGuardrailPromptLimit(c.Guardrails.PromptLimit),
	}
	if c.Watch.Enabled {
		base = append(base, session.WithPrdWatch(c.Watch.Debounce))
	}
	return session.NewManager(agent, gitinfra.Factory(), append(base, opts...)...), nil
}

// openHistory opens the session history database, or returns nil when it is
// disabled.
func openHistory(c config.Config) (*sqlite.DB, error) {
	if !c.Database.Enabled {
		return nil, nil
	}
	db, err := sqlite.NewDB(c.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("opening history database: %w", err)
	}
	return db, nil
}

// startTracing installs the configured tracer provider. The returned func
// flushes and closes it.
func startTracing(ctx context.Context, c config.Config) (func(), error) {
	tp, err := tracing.NewProvider(ctx, c.Tracing)
	if err != nil {
		return func() {}, fmt.Errorf("initializing tracing: %w", err)
	}
	return func() {
		if err := tp.Shutdown(context.WithoutCancel(ctx)); err != nil {
			log.ErrorErr(log.CatConfig, "tracing shutdown failed", err)
		}
	}, nil
}

// projectArg resolves an optional project argument, defaulting to the
// working directory.
func projectArg(args []string) (string, error) {
	p := "."
	if len(args) > 0 {
		p = args[0]
	}
	return filepath.Abs(p)
}
