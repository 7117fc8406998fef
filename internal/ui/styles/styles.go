// Package styles contains Lip Gloss style definitions for ralph's terminal
// output.
package styles

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/zjrosen/ralph/internal/sessions/domain"
)

// Palette. Adaptive colors pick the light or dark variant from the terminal
// background.
var (
	TextPrimaryColor   = lipgloss.AdaptiveColor{Light: "#1F2328", Dark: "#E6EDF3"}
	TextSecondaryColor = lipgloss.AdaptiveColor{Light: "#59636E", Dark: "#9198A1"}
	BorderDefaultColor = lipgloss.AdaptiveColor{Light: "#D1D9E0", Dark: "#3D444D"}
	AccentColor        = lipgloss.AdaptiveColor{Light: "#8250DF", Dark: "#BC8CFF"}
	SuccessColor       = lipgloss.AdaptiveColor{Light: "#1A7F37", Dark: "#3FB950"}
	WarningColor       = lipgloss.AdaptiveColor{Light: "#9A6700", Dark: "#D29922"}
	ErrorColor         = lipgloss.AdaptiveColor{Light: "#CF222E", Dark: "#F85149"}
	InfoColor          = lipgloss.AdaptiveColor{Light: "#0969DA", Dark: "#58A6FF"}
)

var (
	TitleStyle  = lipgloss.NewStyle().Bold(true).Foreground(AccentColor)
	LabelStyle  = lipgloss.NewStyle().Foreground(TextSecondaryColor)
	ValueStyle  = lipgloss.NewStyle().Foreground(TextPrimaryColor)
	ErrorStyle  = lipgloss.NewStyle().Foreground(ErrorColor)
	HeaderStyle = lipgloss.NewStyle().Bold(true).Foreground(TextSecondaryColor)
)

// StatusColor maps a session status to its display color.
func StatusColor(kind domain.StatusKind) lipgloss.TerminalColor {
	switch kind {
	case domain.StatusRunning:
		return InfoColor
	case domain.StatusWaitingForRotation, domain.StatusPaused:
		return WarningColor
	case domain.StatusComplete:
		return SuccessColor
	case domain.StatusGutter, domain.StatusFailed:
		return ErrorColor
	default:
		return TextSecondaryColor
	}
}

// HealthColor maps context health to its display color.
func HealthColor(h domain.ContextHealth) lipgloss.TerminalColor {
	switch h {
	case domain.HealthWarning:
		return WarningColor
	case domain.HealthCritical:
		return ErrorColor
	default:
		return SuccessColor
	}
}

// Status renders a status in bold in its color.
func Status(s domain.SessionStatus) string {
	return lipgloss.NewStyle().Bold(true).Foreground(StatusColor(s.Kind)).Render(s.String())
}
