// Package tui provides a live terminal dashboard for bench runs.
//
// The TUI uses Bubble Tea for the application framework and Lipgloss
// for styling. It displays submission progress, response outcomes and
// runtime percentiles while a worker is under load.
package tui

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"
)

// Colors based on a modern dark theme.
var (
	colorPrimary = lipgloss.Color("#7C3AED") // Purple
	colorSuccess = lipgloss.Color("#10B981") // Green
	colorWarning = lipgloss.Color("#F59E0B") // Amber
	colorError   = lipgloss.Color("#EF4444") // Red

	colorText      = lipgloss.Color("#E5E7EB") // Light gray
	colorTextMuted = lipgloss.Color("#9CA3AF") // Medium gray
	colorBorder    = lipgloss.Color("#374151") // Border gray
)

var (
	titleStyle = lipgloss.NewStyle().
			Foreground(colorPrimary).
			Bold(true)

	labelStyle = lipgloss.NewStyle().
			Foreground(colorTextMuted)

	valueStyle = lipgloss.NewStyle().
			Foreground(colorText).
			Bold(true)

	successStyle = lipgloss.NewStyle().
			Foreground(colorSuccess)

	warningStyle = lipgloss.NewStyle().
			Foreground(colorWarning)

	errorStyle = lipgloss.NewStyle().
			Foreground(colorError)

	sectionStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(colorBorder).
			Padding(0, 1)

	footerStyle = lipgloss.NewStyle().
			Foreground(colorTextMuted).
			Italic(true)
)

// kv renders one "label: value" fragment.
func kv(label, value string) string {
	return labelStyle.Render(label+": ") + valueStyle.Render(value)
}

// outcome colors a count by what it means.
func outcome(label string, n uint64, style lipgloss.Style) string {
	return labelStyle.Render(label+": ") + style.Render(fmt.Sprintf("%d", n))
}
