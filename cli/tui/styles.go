package tui

import "github.com/charmbracelet/lipgloss"

// Color palette, shared tones with cli/render.
var (
	headerColor = lipgloss.Color("#7C3AED") // Purple
	mutedColor  = lipgloss.Color("#6B7280") // Gray
	closedColor = lipgloss.Color("#F59E0B") // Amber
)

var (
	// headerStyle renders the attach header line.
	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(headerColor)

	// statusLiveStyle and statusClosedStyle render the stream state label.
	statusLiveStyle = lipgloss.NewStyle().
			Foreground(mutedColor)

	statusClosedStyle = lipgloss.NewStyle().
				Foreground(closedColor)
)

// statusStyle returns the style for the stream state label.
func statusStyle(closed bool) lipgloss.Style {
	if closed {
		return statusClosedStyle
	}
	return statusLiveStyle
}
