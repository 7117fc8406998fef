// Package cmd implements the ralph command line.
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/zjrosen/ralph/internal/config"
	"github.com/zjrosen/ralph/internal/log"
)

var (
	cfgFile  string
	logLevel string
	cfg      config.Config
	cfgUsed  string

	logCleanup = func() {}
)

var rootCmd = &cobra.Command{
	Use:   "ralph",
	Short: "Run autonomous coding-agent sessions against a PRD",
	Long: `ralph drives a headless coding agent through the stories of a project's
prd.json, one iteration at a time. Each iteration gets a fresh prompt built
from the next story, the progress log and the project's guardrails; finished
work is committed and the agent is rotated before its context fills up.`,
	SilenceUsage:       true,
	PersistentPreRunE:  setup,
	PersistentPostRunE: func(*cobra.Command, []string) error { logCleanup(); return nil },
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ~/.config/ralph/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override log.level (debug, info, warn, error)")
}

// SetVersion sets the version reported by --version.
func SetVersion(v string) {
	rootCmd.Version = v
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// setup loads configuration and starts logging before any subcommand runs.
func setup(cmd *cobra.Command, _ []string) error {
	loaded, used, err := config.Load(cfgFile)
	if err != nil {
		return err
	}
	cfg, cfgUsed = loaded, used
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}

	cleanup, err := log.Init(log.Options{
		Level:  cfg.Log.Level,
		File:   cfg.Log.File,
		Format: cfg.Log.Format,
	})
	if err != nil {
		return fmt.Errorf("initializing logging: %w", err)
	}
	logCleanup = cleanup
	log.Debug(log.CatConfig, "config loaded", "file", cfgUsed, "command", cmd.Name())
	return nil
}
