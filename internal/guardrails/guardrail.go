// Package guardrails records lessons ("signs") learned from failed agent
// iterations in a project's .ralph/guardrails.md and renders them back into
// agent prompts.
package guardrails

import (
	"fmt"
	"strings"
	"time"
)

// FileHeader is the first line of a fresh guardrails file.
const FileHeader = "# Ralph Guardrails (Signs)"

// Guardrail is one learned lesson.
type Guardrail struct {
	ID          string    `json:"id"`
	SessionID   string    `json:"session_id,omitempty"`
	Title       string    `json:"title"`
	Trigger     string    `json:"trigger"`
	Instruction string    `json:"instruction"`
	AddedAfter  string    `json:"added_after"`
	CreatedAt   time.Time `json:"created_at"`
}

const (
	signPrefix        = "## Sign:"
	idPrefix          = "- **ID**:"
	sessionPrefix     = "- **Session**:"
	triggerPrefix     = "- **Trigger**:"
	instructionPrefix = "- **Instruction**:"
	addedAfterPrefix  = "- **Added after**:"
	addedPrefix       = "- **Added**:"
)

// Markdown renders g as a sign block.
func (g Guardrail) Markdown() string {
	var b strings.Builder
	fmt.Fprintf(&b, "\n%s %s\n\n", signPrefix, oneLine(g.Title))
	if g.ID != "" {
		fmt.Fprintf(&b, "%s %s\n", idPrefix, g.ID)
	}
	if g.SessionID != "" {
		fmt.Fprintf(&b, "%s %s\n", sessionPrefix, g.SessionID)
	}
	fmt.Fprintf(&b, "%s %s\n", triggerPrefix, oneLine(g.Trigger))
	fmt.Fprintf(&b, "%s %s\n", instructionPrefix, oneLine(g.Instruction))
	fmt.Fprintf(&b, "%s %s\n", addedAfterPrefix, oneLine(g.AddedAfter))
	if !g.CreatedAt.IsZero() {
		fmt.Fprintf(&b, "%s %s\n", addedPrefix, g.CreatedAt.UTC().Format(time.RFC3339))
	}
	return b.String()
}

// oneLine collapses whitespace so a field cannot break the block structure.
func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// Parse reads every sign block from guardrails markdown in file order.
// Blocks without a title or instruction are dropped.
func Parse(content string) []Guardrail {
	var (
		out []Guardrail
		cur *Guardrail
	)
	flush := func() {
		if cur != nil && cur.Title != "" && cur.Instruction != "" {
			out = append(out, *cur)
		}
		cur = nil
	}

	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimRight(line, "\r")
		switch {
		case strings.HasPrefix(line, signPrefix):
			flush()
			cur = &Guardrail{Title: strings.TrimSpace(strings.TrimPrefix(line, signPrefix))}
		case cur == nil:
			continue
		case strings.HasPrefix(line, idPrefix):
			cur.ID = field(line, idPrefix)
		case strings.HasPrefix(line, sessionPrefix):
			cur.SessionID = field(line, sessionPrefix)
		case strings.HasPrefix(line, triggerPrefix):
			cur.Trigger = field(line, triggerPrefix)
		case strings.HasPrefix(line, instructionPrefix):
			cur.Instruction = field(line, instructionPrefix)
		case strings.HasPrefix(line, addedAfterPrefix):
			cur.AddedAfter = field(line, addedAfterPrefix)
		case strings.HasPrefix(line, addedPrefix):
			if t, err := time.Parse(time.RFC3339, field(line, addedPrefix)); err == nil {
				cur.CreatedAt = t
			}
		}
	}
	flush()
	return out
}

func field(line, prefix string) string {
	return strings.TrimSpace(strings.TrimPrefix(line, prefix))
}

// FormatForPrompt renders the most recent limit guardrails for inclusion in
// an agent prompt. A limit of zero or less includes all of them.
func FormatForPrompt(gs []Guardrail, limit int) string {
	if len(gs) == 0 {
		return ""
	}
	if limit > 0 && len(gs) > limit {
		gs = gs[len(gs)-limit:]
	}

	var b strings.Builder
	b.WriteString("# Guardrails (Signs to Follow)\n\n")
	b.WriteString("These were learned from previous iterations. Follow them:\n\n")
	for _, g := range gs {
		fmt.Fprintf(&b, "## %s\n", g.Title)
		if g.Trigger != "" {
			fmt.Fprintf(&b, "- **When**: %s\n", g.Trigger)
		}
		fmt.Fprintf(&b, "- **Do**: %s\n", g.Instruction)
		if g.AddedAfter != "" {
			fmt.Fprintf(&b, "- **Context**: %s\n", g.AddedAfter)
		}
		b.WriteString("\n")
	}
	return b.String()
}
