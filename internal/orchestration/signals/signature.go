package signals

import (
	"crypto/sha256"
	"fmt"
	"sort"
	"strings"
)

// Failure categories recorded in signatures.
const (
	CategorySpawn         = "spawn"
	CategoryExit          = "exit"
	CategoryTimeout       = "timeout"
	CategoryNoResult      = "no_result"
	CategoryAgentError    = "agent_error"
	CategoryQualityChecks = "quality_checks"
	CategoryStuck         = "stuck"
)

// FailureSignature identifies a failed iteration. Two iterations that fail
// on the same story, for the same reason, leaving the same files touched,
// are treated as the same failure.
type FailureSignature struct {
	StoryID  string
	Category string
	Files    []string
}

// NewFailureSignature normalizes files into a sorted, de-duplicated set.
func NewFailureSignature(storyID, category string, files []string) FailureSignature {
	set := make(map[string]struct{}, len(files))
	norm := make([]string, 0, len(files))
	for _, f := range files {
		f = strings.TrimSpace(f)
		if f == "" {
			continue
		}
		if _, ok := set[f]; ok {
			continue
		}
		set[f] = struct{}{}
		norm = append(norm, f)
	}
	sort.Strings(norm)
	return FailureSignature{StoryID: storyID, Category: category, Files: norm}
}

// Key returns a stable comparison key.
func (s FailureSignature) Key() string {
	h := sha256.Sum256([]byte(strings.Join(s.Files, "\x00")))
	return fmt.Sprintf("%s:%s:%x", s.StoryID, s.Category, h[:8])
}

// String renders the signature for reasons and guardrails.
func (s FailureSignature) String() string {
	files := "no files"
	if len(s.Files) > 0 {
		files = strings.Join(s.Files, ", ")
	}
	return fmt.Sprintf("story %s failed with %s (%s)", s.StoryID, s.Category, files)
}
