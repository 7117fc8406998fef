package styles

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTable_AlignsColumns(t *testing.T) {
	out := Table([]string{"ID", "STATUS"}, [][]string{
		{"abc", "complete"},
		{"a-much-longer-id", "failed"},
	})

	lines := strings.Split(strings.TrimSuffix(out, "\n"), "\n")
	require.Len(t, lines, 3)
	col := strings.Index(lines[2], "failed")
	require.Equal(t, col, strings.Index(lines[0], "STATUS"))
	require.Equal(t, col, strings.Index(lines[1], "complete"))
}

func TestTable_ShortRowsAndNoRows(t *testing.T) {
	out := Table([]string{"A", "B", "C"}, [][]string{{"1"}})
	require.Contains(t, out, "1\n")

	out = Table([]string{"ONLY"}, nil)
	require.Equal(t, "ONLY\n", out)
}
