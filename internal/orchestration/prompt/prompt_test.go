package prompt

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/zjrosen/ralph/internal/prd"
)

func samplePrd() *prd.Prd {
	return &prd.Prd{
		Project:     "shop",
		BranchName:  "ralph/shop",
		Description: "A small web shop",
		Stories: []prd.Story{
			{ID: "US-001", Title: "Cart", Priority: 1, Passes: true},
			{
				ID:                 "US-002",
				Title:              "Checkout",
				Description:        "Users can pay for the cart.",
				AcceptanceCriteria: []string{"Card payments work", "Receipt is emailed"},
				Priority:           2,
				Notes:              "Use the sandbox key.",
			},
		},
	}
}

func TestBuild_Normal(t *testing.T) {
	p := samplePrd()
	out, err := Build(Input{
		Prd:           p,
		Story:         p.Stories[1],
		Iteration:     3,
		MaxIterations: 20,
	})
	require.NoError(t, err)

	require.Contains(t, out, "project **shop**: A small web shop")
	require.Contains(t, out, "Iteration 3 of at most 20. 1 of 2 stories remain.")
	require.Contains(t, out, "## Current story: US-002 - Checkout")
	require.Contains(t, out, "- Card payments work\n- Receipt is emailed\n")
	require.Contains(t, out, "Use the sandbox key.")
	require.Contains(t, out, "<ralph>COMPLETE</ralph>")
	require.NotContains(t, out, "Fresh context")
	require.NotContains(t, out, "nearly full")
	require.NotContains(t, out, "Guardrails")
}

func TestBuild_Variants(t *testing.T) {
	p := samplePrd()
	tests := []struct {
		variant Variant
		want    string
		absent  string
	}{
		{VariantWrapUp, "## Context is nearly full", "# Fresh context"},
		{VariantRotate, "# Fresh context", "nearly full"},
	}
	for _, tt := range tests {
		t.Run(string(tt.variant), func(t *testing.T) {
			out, err := Build(Input{Variant: tt.variant, Prd: p, Story: p.Stories[1], Iteration: 1, MaxIterations: 5})
			require.NoError(t, err)
			require.Contains(t, out, tt.want)
			require.NotContains(t, out, tt.absent)
		})
	}
}

func TestBuild_RotateVariantLeadsPrompt(t *testing.T) {
	p := samplePrd()
	out, err := Build(Input{Variant: VariantRotate, Prd: p, Story: p.Stories[1]})
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(out, "# Fresh context"))
}

func TestBuild_IncludesContextSections(t *testing.T) {
	p := samplePrd()
	out, err := Build(Input{
		Prd:         p,
		Story:       p.Stories[1],
		Guardrails:  "# Guardrails (Signs to Follow)\n\n## Run tests\n- **Do**: go test ./...\n",
		Patterns:    "- handlers live in internal/http",
		LastFailure: "agent process exit (code 1)",
	})
	require.NoError(t, err)

	require.Contains(t, out, "# Codebase patterns\n\n- handlers live in internal/http")
	require.Contains(t, out, "## Run tests")
	require.Contains(t, out, "failed: agent process exit (code 1)")
	require.Less(t, strings.Index(out, "Codebase patterns"), strings.Index(out, "Guardrails"))
}

func TestBuild_RequiresStory(t *testing.T) {
	_, err := Build(Input{Prd: samplePrd()})
	require.Error(t, err)
}

func TestBuild_NilPrd(t *testing.T) {
	out, err := Build(Input{Story: prd.Story{ID: "US-1", Title: "x"}})
	require.NoError(t, err)
	require.Contains(t, out, "## Current story: US-1 - x")
}
