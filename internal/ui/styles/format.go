package styles

import (
	"fmt"
	"strings"
)

// FormatTokens renders a token count compactly: 950, 12.5k, 1.2M.
func FormatTokens(n int) string {
	switch {
	case n < 1_000:
		return fmt.Sprintf("%d", n)
	case n < 1_000_000:
		return trimZero(fmt.Sprintf("%.1f", float64(n)/1_000)) + "k"
	default:
		return trimZero(fmt.Sprintf("%.1f", float64(n)/1_000_000)) + "M"
	}
}

func trimZero(s string) string { return strings.TrimSuffix(s, ".0") }

// FormatProgress renders "done/total" with a percentage.
func FormatProgress(done, total int) string {
	if total <= 0 {
		return "0/0"
	}
	return fmt.Sprintf("%d/%d (%d%%)", done, total, done*100/total)
}

// KeyValue renders a dimmed label followed by a value.
func KeyValue(label, value string) string {
	return LabelStyle.Render(label+":") + " " + ValueStyle.Render(value)
}
