// Package prd models the product requirements document a session works
// through: an ordered list of user stories, each of which eventually passes.
package prd

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNoStories is returned when a PRD has nothing to work on.
var ErrNoStories = errors.New("prd has no stories")

// Prd is the ordered list of stories for a project. Field names match the
// prd.json layout agents read and edit.
type Prd struct {
	Project     string  `json:"project"`
	BranchName  string  `json:"branch_name"`
	Description string  `json:"description"`
	Stories     []Story `json:"stories"`
}

// Story is one unit of work. Lower Priority is more urgent.
type Story struct {
	ID                 string   `json:"id"`
	Title              string   `json:"title"`
	Description        string   `json:"description"`
	AcceptanceCriteria []string `json:"acceptance_criteria"`
	Priority           int      `json:"priority"`
	Passes             bool     `json:"passes"`
	Notes              string   `json:"notes"`
}

// Validate checks that the PRD is usable by a session.
func (p *Prd) Validate() error {
	if len(p.Stories) == 0 {
		return ErrNoStories
	}
	seen := make(map[string]struct{}, len(p.Stories))
	for i, s := range p.Stories {
		if strings.TrimSpace(s.ID) == "" {
			return fmt.Errorf("story %d: id is required", i)
		}
		if _, dup := seen[s.ID]; dup {
			return fmt.Errorf("story %d: duplicate id %q", i, s.ID)
		}
		seen[s.ID] = struct{}{}
		if s.Priority < 0 {
			return fmt.Errorf("story %s: priority must not be negative", s.ID)
		}
	}
	return nil
}

// NextStory returns the pending story with the lowest priority value.
// Ties go to the story declared first. Returns nil when every story passes.
func (p *Prd) NextStory() *Story {
	if p == nil {
		return nil
	}
	var next *Story
	for i := range p.Stories {
		s := &p.Stories[i]
		if s.Passes {
			continue
		}
		if next == nil || s.Priority < next.Priority {
			next = s
		}
	}
	return next
}

// Story returns the story with the given id, or nil.
func (p *Prd) Story(id string) *Story {
	if p == nil {
		return nil
	}
	for i := range p.Stories {
		if p.Stories[i].ID == id {
			return &p.Stories[i]
		}
	}
	return nil
}

// MarkPassed flips the story to passing. Passing stories never flip back.
func (p *Prd) MarkPassed(id string) error {
	s := p.Story(id)
	if s == nil {
		return fmt.Errorf("story %q not found", id)
	}
	s.Passes = true
	return nil
}

// Remaining counts stories that do not pass yet.
func (p *Prd) Remaining() int {
	if p == nil {
		return 0
	}
	n := 0
	for _, s := range p.Stories {
		if !s.Passes {
			n++
		}
	}
	return n
}

// Complete reports whether every story passes.
func (p *Prd) Complete() bool {
	return p != nil && p.Remaining() == 0
}

// Clone returns a deep copy.
func (p *Prd) Clone() *Prd {
	if p == nil {
		return nil
	}
	out := *p
	out.Stories = make([]Story, len(p.Stories))
	for i, s := range p.Stories {
		s.AcceptanceCriteria = append([]string(nil), s.AcceptanceCriteria...)
		out.Stories[i] = s
	}
	return &out
}

// CarryPasses takes every story's passing flag from prev and ignores the
// flag in p. Stories prev does not know start out pending, so an edit to
// prd.json can neither regress nor grant a pass. It returns how many flags
// in p were overridden.
func (p *Prd) CarryPasses(prev *Prd) int {
	if p == nil {
		return 0
	}
	n := 0
	for i := range p.Stories {
		old := prev.Story(p.Stories[i].ID)
		want := old != nil && old.Passes
		if p.Stories[i].Passes != want {
			p.Stories[i].Passes = want
			n++
		}
	}
	return n
}
