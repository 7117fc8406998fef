// Package prompt renders the instructions handed to the coding agent for
// one iteration.
package prompt

import (
	"bytes"
	"embed"
	"fmt"
	"strings"
	"text/template"

	"github.com/zjrosen/ralph/internal/prd"
)

// Variant selects the framing of an iteration prompt.
type Variant string

const (
	// VariantNormal is a regular iteration.
	VariantNormal Variant = "normal"
	// VariantWrapUp asks the agent to finish quickly because the context
	// is near the warn threshold.
	VariantWrapUp Variant = "wrap_up"
	// VariantRotate continues a story in a fresh context after rotation.
	VariantRotate Variant = "rotate"
)

//go:embed templates/*.tmpl
var templatesFS embed.FS

var iterationTmpl = template.Must(template.ParseFS(templatesFS, "templates/iteration.md.tmpl"))

// Input is everything an iteration prompt is built from.
type Input struct {
	Variant       Variant
	Prd           *prd.Prd
	Story         prd.Story
	Iteration     int
	MaxIterations int
	// Guardrails is pre-rendered by guardrails.FormatForPrompt.
	Guardrails string
	Patterns   string
	// LastFailure describes why the previous attempt at this story failed.
	LastFailure string
}

type view struct {
	Variant       Variant
	Project       string
	Description   string
	Story         prd.Story
	Iteration     int
	MaxIterations int
	Remaining     int
	Total         int
	Guardrails    string
	Patterns      string
	LastFailure   string
}

// Build renders the iteration prompt.
func Build(in Input) (string, error) {
	if in.Story.ID == "" {
		return "", fmt.Errorf("building prompt: no story")
	}
	v := view{
		Variant:       in.Variant,
		Story:         in.Story,
		Iteration:     in.Iteration,
		MaxIterations: in.MaxIterations,
		Guardrails:    strings.TrimSpace(in.Guardrails),
		Patterns:      strings.TrimSpace(in.Patterns),
		LastFailure:   strings.TrimSpace(in.LastFailure),
	}
	if v.Variant == "" {
		v.Variant = VariantNormal
	}
	if in.Prd != nil {
		v.Project = in.Prd.Project
		v.Description = in.Prd.Description
		v.Remaining = in.Prd.Remaining()
		v.Total = len(in.Prd.Stories)
	}

	var buf bytes.Buffer
	if err := iterationTmpl.Execute(&buf, v); err != nil {
		return "", fmt.Errorf("rendering prompt: %w", err)
	}
	return buf.String(), nil
}
