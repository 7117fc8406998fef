package styles

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// Rounded border runes.
const (
	borderTopLeft     = "╭"
	borderTopRight    = "╮"
	borderBottomLeft  = "╰"
	borderBottomRight = "╯"
	borderHorizontal  = "─"
	borderVertical    = "│"
)

// RenderPanel wraps content in a rounded border of the given total width
// with titles embedded in the top edge:
//
//	╭─ Left ──────────── Right ─╮
//	│content                    │
//	╰───────────────────────────╯
//
// Either title may be empty. Content is wrapped to fit and the panel grows
// to the content's height.
func RenderPanel(content, leftTitle, rightTitle string, width int, titleColor lipgloss.TerminalColor) string {
	borderStyle := lipgloss.NewStyle().Foreground(BorderDefaultColor)
	titleStyle := lipgloss.NewStyle().Bold(true).Foreground(titleColor)

	innerWidth := max(width-2, 1)
	wrapped := lipgloss.NewStyle().Width(innerWidth).Render(content)

	var b strings.Builder
	b.WriteString(topBorder(leftTitle, rightTitle, innerWidth, borderStyle, titleStyle))
	for _, line := range strings.Split(wrapped, "\n") {
		if pad := innerWidth - lipgloss.Width(line); pad > 0 {
			line += strings.Repeat(" ", pad)
		}
		b.WriteString("\n")
		b.WriteString(borderStyle.Render(borderVertical) + line + borderStyle.Render(borderVertical))
	}
	b.WriteString("\n")
	b.WriteString(borderStyle.Render(borderBottomLeft + strings.Repeat(borderHorizontal, innerWidth) + borderBottomRight))
	return b.String()
}

// topBorder embeds up to two titles in the top edge. When both do not fit the
// right title is dropped, then the left one is truncated.
func topBorder(left, right string, innerWidth int, borderStyle, titleStyle lipgloss.Style) string {
	plain := borderStyle.Render(borderTopLeft + strings.Repeat(borderHorizontal, innerWidth) + borderTopRight)
	if left == "" && right == "" {
		return plain
	}

	// "─ Left ─...─ Right ─" needs six runes of decoration around the titles.
	if left != "" && right != "" && lipgloss.Width(left)+lipgloss.Width(right)+7 > innerWidth {
		right = ""
	}
	if left == "" {
		left, right = right, ""
	}
	// "─ Left ─" needs four.
	if innerWidth < 5 {
		return plain
	}
	if lipgloss.Width(left) > innerWidth-4 {
		left = TruncateString(left, innerWidth-4)
	}

	used := 3 + lipgloss.Width(left)
	if right != "" {
		used += 3 + lipgloss.Width(right)
	}
	dashes := max(innerWidth-used, 1)

	var b strings.Builder
	b.WriteString(borderStyle.Render(borderTopLeft + borderHorizontal + " "))
	b.WriteString(titleStyle.Render(left))
	b.WriteString(borderStyle.Render(" " + strings.Repeat(borderHorizontal, dashes)))
	if right != "" {
		b.WriteString(borderStyle.Render(" "))
		b.WriteString(titleStyle.Render(right))
		b.WriteString(borderStyle.Render(" " + borderHorizontal))
	}
	b.WriteString(borderStyle.Render(borderTopRight))
	return b.String()
}

// TruncateString shortens s to maxWidth cells, ending in "..." when cut.
func TruncateString(s string, maxWidth int) string {
	if maxWidth < 1 {
		return ""
	}
	if lipgloss.Width(s) <= maxWidth {
		return s
	}
	if maxWidth <= 3 {
		return strings.Repeat(".", maxWidth)
	}
	var b strings.Builder
	for _, r := range s {
		if lipgloss.Width(b.String()+string(r)) > maxWidth-3 {
			break
		}
		b.WriteRune(r)
	}
	return b.String() + "..."
}
