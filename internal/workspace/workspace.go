// Package workspace manages the per-project .ralph directory: the
// append-only progress log and the read-only pattern notes.
package workspace

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/zjrosen/ralph/internal/guardrails"
	"github.com/zjrosen/ralph/internal/paths"
)

const (
	progressHeader = "# Ralph Progress Log"
	patternsHeader = "# Codebase Patterns"
)

// Init creates .ralph/ and seeds the progress, guardrails and patterns
// files when they do not exist yet. Existing files are left untouched.
func Init(projectPath string) error {
	if err := os.MkdirAll(paths.RalphDir(projectPath), 0750); err != nil {
		return fmt.Errorf("creating %s: %w", paths.RalphDirName, err)
	}
	seeds := []struct {
		path    string
		content string
	}{
		{paths.ProgressPath(projectPath), progressHeader + "\n"},
		{paths.GuardrailsPath(projectPath), guardrails.FileHeader + "\n"},
		{paths.PatternsPath(projectPath), patternsHeader + "\n\n" +
			"<!-- Notes about this codebase that every iteration should know. -->\n"},
	}
	for _, s := range seeds {
		if err := writeIfMissing(s.path, s.content); err != nil {
			return err
		}
	}
	return nil
}

func writeIfMissing(path, content string) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644) //nolint:gosec // project-relative path
	if errors.Is(err, fs.ErrExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("seeding %s: %w", path, err)
	}
	_, werr := f.WriteString(content)
	if cerr := f.Close(); werr == nil {
		werr = cerr
	}
	return werr
}

// ProgressEntry is one record in the progress log.
type ProgressEntry struct {
	Time         time.Time
	SessionID    string
	Iteration    int
	StoryID      string
	StoryTitle   string
	Summary      []string
	ChangedFiles []string
	Learnings    []string
}

// Markdown renders the entry.
func (e ProgressEntry) Markdown() string {
	var b strings.Builder
	fmt.Fprintf(&b, "\n## %s - %s", e.Time.UTC().Format("2006-01-02 15:04:05"), e.StoryID)
	if e.StoryTitle != "" {
		fmt.Fprintf(&b, ": %s", e.StoryTitle)
	}
	b.WriteString("\n\n")
	if e.SessionID != "" {
		fmt.Fprintf(&b, "- Session %s, iteration %d\n", e.SessionID, e.Iteration)
	}
	for _, s := range e.Summary {
		fmt.Fprintf(&b, "- %s\n", s)
	}
	if len(e.ChangedFiles) > 0 {
		b.WriteString("- Files changed:\n")
		for _, f := range e.ChangedFiles {
			fmt.Fprintf(&b, "  - %s\n", f)
		}
	}
	if len(e.Learnings) > 0 {
		b.WriteString("\n**Learnings**\n\n")
		for _, l := range e.Learnings {
			fmt.Fprintf(&b, "- %s\n", l)
		}
	}
	b.WriteString("\n---\n")
	return b.String()
}

var progressMu sync.Map // path -> *sync.Mutex

func lockPath(path string) func() {
	v, _ := progressMu.LoadOrStore(path, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

// AppendProgress appends e to .ralph/progress.md, creating the file with
// its header if needed.
func AppendProgress(projectPath string, e ProgressEntry) error {
	path := paths.ProgressPath(projectPath)
	unlock := lockPath(path)
	defer unlock()

	if err := os.MkdirAll(paths.RalphDir(projectPath), 0750); err != nil {
		return fmt.Errorf("creating %s: %w", paths.RalphDirName, err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644) //nolint:gosec // project-relative path
	if err != nil {
		return fmt.Errorf("opening progress log: %w", err)
	}
	defer func() { _ = f.Close() }()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat progress log: %w", err)
	}
	block := e.Markdown()
	if info.Size() == 0 {
		block = progressHeader + "\n" + block
	}
	if _, err := f.WriteString(block); err != nil {
		return fmt.Errorf("writing progress log: %w", err)
	}
	return nil
}

// ReadPatterns returns the project's pattern notes, or "" when the file is
// missing or holds only the seeded template.
func ReadPatterns(projectPath string) (string, error) {
	data, err := os.ReadFile(paths.PatternsPath(projectPath)) //nolint:gosec // project-relative path
	if errors.Is(err, fs.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("reading patterns: %w", err)
	}
	return meaningful(string(data)), nil
}

// meaningful strips headings and HTML comments and reports "" when nothing
// else is left.
func meaningful(s string) string {
	var body []string
	for _, line := range strings.Split(s, "\n") {
		t := strings.TrimSpace(line)
		if t == "" || strings.HasPrefix(t, "# ") || (strings.HasPrefix(t, "<!--") && strings.HasSuffix(t, "-->")) {
			continue
		}
		body = append(body, line)
	}
	if len(body) == 0 {
		return ""
	}
	return strings.TrimSpace(s)
}
