package ui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
)

// Header renders a section title.
func Header(title string) string {
	return StyleHeader.Render(title) + "\n"
}

// Success renders a success line.
func Success(message string) string {
	return StyleSuccess.Render("✓ " + message)
}

// Warning renders a warning line.
func Warning(message string) string {
	return StyleWarning.Render("! " + message)
}

// Error renders an error line.
func Error(message string) string {
	return StyleError.Render("✗ " + message)
}

// ErrorBox renders content in an error box. Long lines are cut to fit.
func ErrorBox(title, content string) string {
	if title == "" {
		title = "Error"
	}
	return "\n" + ErrorBoxStyle.Render(boxBody(StyleError.Render(title), content)) + "\n"
}

// InfoBox renders content in an info box.
func InfoBox(title, content string) string {
	if title == "" {
		title = "Info"
	}
	return "\n" + InfoBoxStyle.Render(boxBody(StyleCyan.Render(title), content)) + "\n"
}

func boxBody(title, content string) string {
	content = strings.TrimSpace(content)
	if content == "" {
		return title
	}
	lines := strings.Split(content, "\n")
	for i, line := range lines {
		if len(line) > 76 {
			lines[i] = line[:73] + "..."
		}
	}
	return title + "\n\n" + strings.Join(lines, "\n")
}

// KeyValue renders an indented "label value" line.
func KeyValue(label string, value interface{}) string {
	return fmt.Sprintf("  %s %v\n", StyleDim.Render(label+":"), value)
}

// Status renders a status word in its color.
func Status(status string) string {
	return StatusStyle(status).Render(status)
}

// Cost formats a USD amount.
func Cost(usd float64) string {
	return fmt.Sprintf("$%.4f", usd)
}

// Age formats how long ago t was, in its largest whole unit.
func Age(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	d := time.Since(t)
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd", int(d.Hours()/24))
	}
}

// Step is one entry of a "Next steps" list.
type Step struct {
	Command     string
	Description string
}

// NextSteps renders a "Next steps:" section with commands.
func NextSteps(steps []Step) string {
	var b strings.Builder

	b.WriteString("\n" + StyleBold.Render("Next steps:") + "\n")
	for _, step := range steps {
		b.WriteString("  " + StyleCommand.Render(step.Command))
		if step.Description != "" {
			b.WriteString(StyleComment.Render("  # " + step.Description))
		}
		b.WriteString("\n")
	}
	return b.String()
}

// Table renders rows under headers. Cells may already be styled; widths are
// measured without escape sequences.
func Table(headers []string, rows [][]string) string {
	if len(headers) == 0 {
		return ""
	}

	widths := make([]int, len(headers))
	for i, h := range headers {
		widths[i] = lipgloss.Width(h)
	}
	for _, row := range rows {
		for i, cell := range row {
			if i < len(widths) {
				widths[i] = max(widths[i], lipgloss.Width(cell))
			}
		}
	}

	var b strings.Builder
	for i, h := range headers {
		b.WriteString(TableHeaderStyle.Render(pad(h, widths[i])))
		b.WriteString("  ")
	}
	b.WriteString("\n")

	for _, w := range widths {
		b.WriteString(StyleDim.Render(strings.Repeat("─", w+2)))
	}
	b.WriteString("\n")

	for _, row := range rows {
		for i := range widths {
			cell := ""
			if i < len(row) {
				cell = row[i]
			}
			b.WriteString(pad(cell, widths[i]))
			b.WriteString("  ")
		}
		b.WriteString("\n")
	}
	return b.String()
}

func pad(s string, width int) string {
	if n := width - lipgloss.Width(s); n > 0 {
		return s + strings.Repeat(" ", n)
	}
	return s
}

// Divider renders a horizontal rule.
func Divider() string {
	return StyleDim.Render(strings.Repeat("─", 80))
}
