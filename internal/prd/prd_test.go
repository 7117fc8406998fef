package prd

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func samplePrd() *Prd {
	return &Prd{
		Project:     "shop",
		BranchName:  "ralph/checkout",
		Description: "Checkout flow",
		Stories: []Story{
			{ID: "US-001", Title: "Cart", Priority: 2},
			{ID: "US-002", Title: "Payment", Priority: 1},
			{ID: "US-003", Title: "Receipt", Priority: 1},
		},
	}
}

func TestNextStory(t *testing.T) {
	tests := []struct {
		name     string
		mutate   func(p *Prd)
		expected string
	}{
		{"lowest priority wins", func(p *Prd) {}, "US-002"},
		{"tie broken by declaration order", func(p *Prd) { p.Stories[1].Passes = true }, "US-003"},
		{"skips passing stories", func(p *Prd) {
			p.Stories[1].Passes = true
			p.Stories[2].Passes = true
		}, "US-001"},
		{"all passing", func(p *Prd) {
			for i := range p.Stories {
				p.Stories[i].Passes = true
			}
		}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := samplePrd()
			tt.mutate(p)
			next := p.NextStory()
			if tt.expected == "" {
				require.Nil(t, next)
				require.True(t, p.Complete())
				return
			}
			require.NotNil(t, next)
			require.Equal(t, tt.expected, next.ID)
		})
	}
}

func TestNextStory_NilPrd(t *testing.T) {
	var p *Prd
	require.Nil(t, p.NextStory())
	require.False(t, p.Complete())
}

func TestNextStory_Property_DeterministicMinimum(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(0, 12).Draw(t, "n")
		p := &Prd{}
		for i := 0; i < n; i++ {
			p.Stories = append(p.Stories, Story{
				ID:       rapid.StringMatching(`US-[0-9]{3}`).Draw(t, "id") + string(rune('a'+i)),
				Priority: rapid.IntRange(0, 4).Draw(t, "priority"),
				Passes:   rapid.Bool().Draw(t, "passes"),
			})
		}

		next := p.NextStory()
		again := p.NextStory()
		require.Equal(t, next, again)

		if p.Remaining() == 0 {
			require.Nil(t, next)
			return
		}
		require.NotNil(t, next)
		require.False(t, next.Passes)

		idx := -1
		for i := range p.Stories {
			if &p.Stories[i] == next {
				idx = i
			}
		}
		require.GreaterOrEqual(t, idx, 0)
		for i, s := range p.Stories {
			if s.Passes {
				continue
			}
			require.GreaterOrEqual(t, s.Priority, next.Priority)
			if i < idx {
				require.Greater(t, s.Priority, next.Priority, "earlier pending story with equal priority should win")
			}
		}
	})
}

func TestMarkPassed(t *testing.T) {
	p := samplePrd()
	require.NoError(t, p.MarkPassed("US-002"))
	require.True(t, p.Story("US-002").Passes)
	require.Equal(t, 2, p.Remaining())

	require.NoError(t, p.MarkPassed("US-002"))
	require.True(t, p.Story("US-002").Passes)

	require.Error(t, p.MarkPassed("US-404"))
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		prd     *Prd
		wantErr string
	}{
		{"valid", samplePrd(), ""},
		{"no stories", &Prd{Project: "x"}, "no stories"},
		{"missing id", &Prd{Stories: []Story{{Title: "t"}}}, "id is required"},
		{"duplicate id", &Prd{Stories: []Story{{ID: "A"}, {ID: "A"}}}, "duplicate id"},
		{"negative priority", &Prd{Stories: []Story{{ID: "A", Priority: -1}}}, "priority"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.prd.Validate()
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestClone_IsDeep(t *testing.T) {
	p := samplePrd()
	p.Stories[0].AcceptanceCriteria = []string{"adds items"}

	c := p.Clone()
	c.Stories[0].Passes = true
	c.Stories[0].AcceptanceCriteria[0] = "changed"

	require.False(t, p.Stories[0].Passes)
	require.Equal(t, "adds items", p.Stories[0].AcceptanceCriteria[0])
}

func TestCarryPasses(t *testing.T) {
	prev := samplePrd()
	require.NoError(t, prev.MarkPassed("US-001"))

	edited := samplePrd()
	edited.Stories[1].Passes = true
	edited.Stories = append(edited.Stories, Story{ID: "US-004", Priority: 0, Passes: true})
	require.Equal(t, 3, edited.CarryPasses(prev))

	require.True(t, edited.Story("US-001").Passes, "earned pass is kept")
	require.False(t, edited.Story("US-002").Passes, "pass written to disk is ignored")
	require.False(t, edited.Story("US-004").Passes, "new story starts pending")
}

func TestSaveLoad_StoryRoundTrip(t *testing.T) {
	dir := t.TempDir()
	rapid.Check(t, func(t *rapid.T) {
		story := Story{
			ID:                 rapid.StringMatching(`[A-Z]{2}-[0-9]{1,4}`).Draw(t, "id"),
			Title:              rapid.String().Draw(t, "title"),
			Description:        rapid.String().Draw(t, "description"),
			AcceptanceCriteria: rapid.SliceOfN(rapid.String(), 1, 4).Draw(t, "criteria"),
			Priority:           rapid.IntRange(0, 100).Draw(t, "priority"),
			Passes:             rapid.Bool().Draw(t, "passes"),
			Notes:              rapid.String().Draw(t, "notes"),
		}
		path := filepath.Join(dir, "prd.json")
		require.NoError(t, Save(path, &Prd{Project: "p", Stories: []Story{story}}))

		loaded, err := Load(path)
		require.NoError(t, err)
		require.Len(t, loaded.Stories, 1)
		require.Equal(t, story, loaded.Stories[0])
	})
}

func TestLoad_Missing(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "prd.json"))
	require.ErrorIs(t, err, ErrNotFound)
}
