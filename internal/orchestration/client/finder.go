package client

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
)

// ExecutableFinder locates an agent CLI: an explicit override first, then a
// list of well-known install paths, then PATH.
type ExecutableFinder struct {
	name       string
	override   string
	knownPaths []string
}

// FinderOption configures an ExecutableFinder.
type FinderOption func(*ExecutableFinder)

// WithKnownPaths adds candidate paths. "~" expands to the home directory and
// "{name}" to the executable name (with .exe on Windows).
func WithKnownPaths(paths ...string) FinderOption {
	return func(f *ExecutableFinder) { f.knownPaths = append(f.knownPaths, paths...) }
}

// WithOverride pins the executable path; discovery is skipped when set.
func WithOverride(path string) FinderOption {
	return func(f *ExecutableFinder) { f.override = path }
}

// NewExecutableFinder creates a finder for the named executable.
func NewExecutableFinder(name string, opts ...FinderOption) *ExecutableFinder {
	f := &ExecutableFinder{name: name}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Find returns the first executable candidate.
func (f *ExecutableFinder) Find() (string, error) {
	if f.override != "" {
		path := expand(f.override, f.execName())
		if isExecutable(path) {
			return path, nil
		}
		if lp, err := exec.LookPath(f.override); err == nil {
			return lp, nil
		}
		return "", fmt.Errorf("%w: %s (configured path)", ErrExecutableNotFound, f.override)
	}

	checked := make([]string, 0, len(f.knownPaths))
	for _, p := range f.knownPaths {
		path := expand(p, f.execName())
		checked = append(checked, path)
		if isExecutable(path) {
			return path, nil
		}
	}

	if path, err := exec.LookPath(f.name); err == nil {
		return path, nil
	}
	return "", fmt.Errorf("%w: %s (checked %s and PATH)", ErrExecutableNotFound, f.name, strings.Join(checked, ", "))
}

func (f *ExecutableFinder) execName() string {
	if runtime.GOOS == "windows" && !strings.HasSuffix(f.name, ".exe") {
		return f.name + ".exe"
	}
	return f.name
}

func expand(path, name string) string {
	path = strings.ReplaceAll(path, "{name}", name)
	if path == "~" || strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			path = filepath.Join(home, strings.TrimPrefix(path, "~"))
		}
	}
	return path
}

func isExecutable(path string) bool {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return false
	}
	if runtime.GOOS == "windows" {
		return true
	}
	return info.Mode()&0o111 != 0
}
