// Package paths resolves the filesystem locations ralph reads and writes.
package paths

import (
	"os"
	"path/filepath"
	"strings"
)

const (
	// RalphDirName is the per-project state directory.
	RalphDirName = ".ralph"
	// PrdFileName lives at the project root so agents can edit it directly.
	PrdFileName = "prd.json"

	progressFileName   = "progress.md"
	guardrailsFileName = "guardrails.md"
	patternsFileName   = "patterns.md"
	sessionsFileName   = "sessions.json"
)

// RalphDir returns <project>/.ralph.
func RalphDir(projectPath string) string {
	return filepath.Join(projectPath, RalphDirName)
}

// PrdPath returns <project>/prd.json.
func PrdPath(projectPath string) string {
	return filepath.Join(projectPath, PrdFileName)
}

// ProgressPath returns <project>/.ralph/progress.md.
func ProgressPath(projectPath string) string {
	return filepath.Join(RalphDir(projectPath), progressFileName)
}

// GuardrailsPath returns <project>/.ralph/guardrails.md.
func GuardrailsPath(projectPath string) string {
	return filepath.Join(RalphDir(projectPath), guardrailsFileName)
}

// PatternsPath returns <project>/.ralph/patterns.md.
func PatternsPath(projectPath string) string {
	return filepath.Join(RalphDir(projectPath), patternsFileName)
}

// SessionIndexPath returns <project>/.ralph/sessions.json.
func SessionIndexPath(projectPath string) string {
	return filepath.Join(RalphDir(projectPath), sessionsFileName)
}

// ConfigDir returns the user config directory for ralph, honoring
// XDG_CONFIG_HOME.
func ConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "ralph")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".config", "ralph")
	}
	return filepath.Join(home, ".config", "ralph")
}

// DefaultConfigPath returns <config dir>/config.yaml.
func DefaultConfigPath() string {
	return filepath.Join(ConfigDir(), "config.yaml")
}

// DataDir returns ~/.ralph, the home of the history database and logs.
func DataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return RalphDirName
	}
	return filepath.Join(home, RalphDirName)
}

// DefaultDBPath returns ~/.ralph/ralph.db.
func DefaultDBPath() string {
	return filepath.Join(DataDir(), "ralph.db")
}

// ExpandHome replaces a leading "~" with the user's home directory.
func ExpandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}
