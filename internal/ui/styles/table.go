package styles

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// Table renders rows as left-aligned columns two cells apart under a bold
// header. Cells may already be styled; widths are measured in terminal cells.
func Table(headers []string, rows [][]string) string {
	widths := make([]int, len(headers))
	for i, h := range headers {
		widths[i] = lipgloss.Width(h)
	}
	for _, row := range rows {
		for i := range min(len(row), len(widths)) {
			widths[i] = max(widths[i], lipgloss.Width(row[i]))
		}
	}

	var b strings.Builder
	writeRow := func(cells []string, style *lipgloss.Style) {
		var line strings.Builder
		for i := range widths {
			var cell string
			if i < len(cells) {
				cell = cells[i]
			}
			if style != nil {
				cell = style.Render(cell)
			}
			line.WriteString(cell)
			if i < len(widths)-1 {
				line.WriteString(strings.Repeat(" ", widths[i]-lipgloss.Width(cell)+2))
			}
		}
		b.WriteString(strings.TrimRight(line.String(), " "))
		b.WriteString("\n")
	}
	writeRow(headers, &HeaderStyle)
	for _, row := range rows {
		writeRow(row, nil)
	}
	return b.String()
}
