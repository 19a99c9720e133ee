package ui

import "github.com/charmbracelet/lipgloss"

// Base text styles
var (
	StyleBold = lipgloss.NewStyle().Bold(true)
	StyleDim  = lipgloss.NewStyle().Foreground(ColorDim)
)

// Colored text styles
var (
	StyleCyan   = lipgloss.NewStyle().Foreground(ColorCyan)
	StyleGreen  = lipgloss.NewStyle().Foreground(ColorGreen)
	StyleYellow = lipgloss.NewStyle().Foreground(ColorYellow)
	StyleOrange = lipgloss.NewStyle().Foreground(ColorOrange)
	StyleRed    = lipgloss.NewStyle().Foreground(ColorRed)
	StyleGray   = lipgloss.NewStyle().Foreground(ColorGray)
)

// Semantic styles
var (
	StyleHeader  = StyleBold.Foreground(ColorPurple)
	StyleSuccess = StyleBold.Foreground(ColorGreen)
	StyleWarning = StyleBold.Foreground(ColorOrange)
	StyleError   = StyleBold.Foreground(ColorRed)
	StyleCommand = StyleCyan
	StyleComment = StyleDim
)

// Box styles
var (
	ErrorBoxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(ColorRed).
			Padding(0, 1).
			MaxWidth(80)

	InfoBoxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(ColorCyan).
			Padding(0, 1).
			MaxWidth(80)
)

// TableHeaderStyle styles table column titles.
var TableHeaderStyle = StyleBold.Foreground(ColorCyan)

// StatusStyle colors an agent, task or work-item status.
func StatusStyle(status string) lipgloss.Style {
	switch status {
	case "idle", "done", "completed", "complete":
		return StyleGreen
	case "processing", "initializing", "in_progress", "doing", "code-review":
		return StyleYellow
	case "paused", "waiting", "pending", "todo":
		return StyleCyan
	case "error", "failed":
		return StyleRed
	case "cancelled":
		return StyleGray
	default:
		return StyleDim
	}
}
