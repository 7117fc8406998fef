package client

import (
	"regexp"
	"strings"
)

// CompletionMarker is printed by the agent when the current story is done.
const CompletionMarker = "<ralph>COMPLETE</ralph>"

var learningPattern = regexp.MustCompile(`(?s)<ralph>LEARNING:\s*(.*?)</ralph>`)

// ScanMarkers finds the completion marker and learning markers in text.
func ScanMarkers(text string) (complete bool, learnings []string) {
	complete = strings.Contains(text, CompletionMarker)
	for _, m := range learningPattern.FindAllStringSubmatch(text, -1) {
		if l := strings.TrimSpace(m[1]); l != "" {
			learnings = append(learnings, l)
		}
	}
	return complete, learnings
}
