package tui

import (
	"github.com/charmbracelet/lipgloss"
)

var (
	accent     = lipgloss.Color("#7DD3FC")
	accentDim  = lipgloss.Color("#0EA5E9")
	okGreen    = lipgloss.Color("#4ADE80")
	warnAmber  = lipgloss.Color("#FBBF24")
	failRed    = lipgloss.Color("#F87171")
	panelBg    = lipgloss.Color("#111827")
	dimWhite   = lipgloss.Color("#9CA3AF")
	faintWhite = lipgloss.Color("#4B5563")

	baseStyle = lipgloss.NewStyle().
			Foreground(dimWhite)

	headerStyle = lipgloss.NewStyle().
			Foreground(accent).
			Bold(true).
			Padding(1, 0).
			Align(lipgloss.Center)

	panelStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(accentDim).
			Background(panelBg).
			Padding(0, 1)

	titleStyle = lipgloss.NewStyle().
			Background(accentDim).
			Foreground(panelBg).
			Bold(true).
			Padding(0, 1)

	statsLabelStyle = lipgloss.NewStyle().
			Foreground(accent).
			Bold(true)

	statsValueStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#F9FAFB"))

	successStyle = lipgloss.NewStyle().
			Foreground(okGreen).
			Bold(true)

	errorStyle = lipgloss.NewStyle().
			Foreground(failRed).
			Bold(true)

	warningStyle = lipgloss.NewStyle().
			Foreground(warnAmber).
			Bold(true)

	mutedStyle = lipgloss.NewStyle().
			Foreground(faintWhite)

	itemStyle = lipgloss.NewStyle().
			PaddingLeft(2)

	logTimestampStyle = lipgloss.NewStyle().
				Foreground(faintWhite)

	logMessageStyle = lipgloss.NewStyle().
			Foreground(dimWhite)

	helpStyle = lipgloss.NewStyle().
			Foreground(faintWhite).
			Padding(1, 0, 0, 2)
)

// stateStyle colours an entry by its state
func stateStyle(s EntryState) lipgloss.Style {
	switch s {
	case EntryDownloaded:
		return successStyle
	case EntrySkipped:
		return mutedStyle
	case EntryFailed:
		return errorStyle
	case EntryRetrying:
		return warningStyle
	default:
		return statsValueStyle
	}
}

// stateIcon is the one-character marker for a state
func stateIcon(s EntryState) string {
	switch s {
	case EntryDownloaded:
		return "✓"
	case EntrySkipped:
		return "="
	case EntryFailed:
		return "✗"
	case EntryRetrying:
		return "↻"
	case EntryActive:
		return "→"
	default:
		return "·"
	}
}

func levelColor(level string) lipgloss.Color {
	switch level {
	case "ERROR":
		return failRed
	case "WARN":
		return warnAmber
	case "SUCCESS":
		return okGreen
	case "INFO":
		return accent
	default:
		return dimWhite
	}
}
