package ui

import "github.com/charmbracelet/lipgloss"

// Color palette for the conductor CLI
var (
	ColorCyan   = lipgloss.AdaptiveColor{Light: "#00CED1", Dark: "#00FFFF"}
	ColorGreen  = lipgloss.AdaptiveColor{Light: "#00A000", Dark: "#04B575"}
	ColorYellow = lipgloss.AdaptiveColor{Light: "#B8860B", Dark: "#FFD700"}
	ColorOrange = lipgloss.AdaptiveColor{Light: "#FF6B00", Dark: "#FFAA00"}
	ColorRed    = lipgloss.AdaptiveColor{Light: "#CC0000", Dark: "#FF5555"}
	ColorPurple = lipgloss.AdaptiveColor{Light: "#5A3FC0", Dark: "#7D56F4"}

	ColorGray = lipgloss.AdaptiveColor{Light: "#888888", Dark: "#888888"}
	ColorDim  = lipgloss.AdaptiveColor{Light: "#888888", Dark: "#555555"}
)
