// Package watch implements the vkore system watch TUI: a live dashboard of
// module processes and the event stream, driven entirely by the HTTP API.
package watch

import "github.com/charmbracelet/lipgloss"

// Palette entries adapt to light and dark terminal backgrounds.
var (
	colorGreen  = lipgloss.AdaptiveColor{Light: "#1A7F37", Dark: "#3FB950"}
	colorAmber  = lipgloss.AdaptiveColor{Light: "#9A6700", Dark: "#D29922"}
	colorRed    = lipgloss.AdaptiveColor{Light: "#CF222E", Dark: "#F85149"}
	colorMuted  = lipgloss.AdaptiveColor{Light: "#6E7781", Dark: "#8B949E"}
	colorFaint  = lipgloss.AdaptiveColor{Light: "#D0D7DE", Dark: "#30363D"}
	colorAccent = lipgloss.AdaptiveColor{Light: "#0969DA", Dark: "#58A6FF"}
	colorFrame  = lipgloss.AdaptiveColor{Light: "#8250DF", Dark: "#A371F7"}
	colorText   = lipgloss.AdaptiveColor{Light: "#1F2328", Dark: "#E6EDF3"}
)

// Theme holds every style the dashboard renders with.
type Theme struct {
	StatusOK      lipgloss.Style
	StatusRunning lipgloss.Style
	StatusFailed  lipgloss.Style
	StatusSkipped lipgloss.Style

	Border    lipgloss.Style
	Title     lipgloss.Style
	Header    lipgloss.Style
	Dim       lipgloss.Style
	Highlight lipgloss.Style

	PulseActive   lipgloss.Style
	PulseInactive lipgloss.Style
}

func fg(c lipgloss.TerminalColor) lipgloss.Style {
	return lipgloss.NewStyle().Foreground(c)
}

// NewDefaultTheme returns the dashboard's standard styles.
func NewDefaultTheme() Theme {
	return Theme{
		StatusOK:      fg(colorGreen),
		StatusRunning: fg(colorAmber),
		StatusFailed:  fg(colorRed).Bold(true),
		StatusSkipped: fg(colorMuted),

		Border:    lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(colorFrame),
		Title:     fg(colorText).Bold(true).Padding(0, 1),
		Header:    fg(colorAccent).Bold(true),
		Dim:       fg(colorMuted),
		Highlight: fg(colorAccent),

		PulseActive:   fg(colorGreen),
		PulseInactive: fg(colorFaint),
	}
}

// stateStyle picks the style for a supervisor state string.
func (t Theme) stateStyle(state string) lipgloss.Style {
	switch state {
	case "running":
		return t.StatusRunning
	case "exited":
		return t.StatusOK
	case "failed":
		return t.StatusFailed
	default:
		return t.Dim
	}
}
