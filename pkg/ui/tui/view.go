package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"unsplashdl/pkg/summary"
)

type counters struct {
	active, downloaded, skipped, failed, retries int
	totalBytes                                   int64
	done                                         *summary.RunSummary
}

func (m *Model) counters() counters {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return counters{
		active:     m.active,
		downloaded: m.downloaded,
		skipped:    m.skipped,
		failed:     m.failed,
		retries:    m.retries,
		totalBytes: m.totalBytes,
		done:       m.summary,
	}
}

// View renders the entire TUI
func (m *Model) View() string {
	if m.width == 0 || m.height == 0 {
		return "Initializing..."
	}

	half := (m.width - 4) / 2
	left := lipgloss.JoinVertical(lipgloss.Left,
		m.renderStatsPanel(half),
		m.renderActivePanel(half),
		m.renderQueuePanel(half),
	)
	right := lipgloss.JoinVertical(lipgloss.Left,
		m.renderSettingsPanel(half),
		m.renderLogsPanel(half),
	)

	sections := []string{
		m.renderHeader(),
		lipgloss.JoinHorizontal(lipgloss.Top, left, "  ", right),
	}
	if m.showHelp {
		sections = append(sections, m.renderHelp())
	} else {
		sections = append(sections, helpStyle.Render("q quit • ? help"))
	}

	return baseStyle.Width(m.width).MaxHeight(m.height).Render(
		lipgloss.JoinVertical(lipgloss.Left, sections...),
	)
}

func (m *Model) renderHeader() string {
	finished, total := m.Progress()
	frac := 0.0
	if total > 0 {
		frac = float64(finished) / float64(total)
	}

	bar := m.overall
	bar.Width = m.width - 20
	if bar.Width < 10 {
		bar.Width = 10
	}

	title := "unsplashdl"
	if m.settings.DryRun {
		title += " (dry run)"
	}
	return lipgloss.JoinVertical(lipgloss.Center,
		headerStyle.Width(m.width).Render(title),
		fmt.Sprintf("%s %d/%d", bar.ViewAs(frac), finished, total),
	)
}

func (m *Model) renderStatsPanel(width int) string {
	c := m.counters()
	elapsed := time.Since(m.sessionStartTime)

	row := func(label, value string) string {
		return fmt.Sprintf("%s %s", statsLabelStyle.Render(label), statsValueStyle.Render(value))
	}

	eta := "--:--"
	if d := m.ETA(); d > 0 {
		eta = formatDuration(d)
	}

	stats := []string{
		row("Elapsed:", formatDuration(elapsed)),
		row("Downloaded:", fmt.Sprintf("%d", c.downloaded)),
		row("Skipped:", fmt.Sprintf("%d", c.skipped)),
		row("Failed:", fmt.Sprintf("%d", c.failed)),
		row("Retries:", fmt.Sprintf("%d", c.retries)),
		row("Saved:", summary.FormatBytes(c.totalBytes)),
		row("ETA:", eta),
	}
	if c.done != nil {
		stats = append(stats, successStyle.Render("✓ "+c.done.String()))
	}

	return panel(" RUN ", width, strings.Join(stats, "\n"))
}

func (m *Model) renderActivePanel(width int) string {
	active := m.ActiveEntries()
	if len(active) == 0 {
		return panel(" IN FLIGHT ", width, mutedStyle.Render("Nothing in flight"))
	}

	lines := make([]string, 0, len(active))
	for _, e := range active {
		line := fmt.Sprintf("%s %s %s",
			m.spinner.View(),
			stateStyle(e.State).Render(e.ID),
			mutedStyle.Render(formatDuration(time.Since(e.StartTime))),
		)
		if e.State == EntryRetrying {
			line += warningStyle.Render(fmt.Sprintf(" attempt %d failed", e.Attempt))
		}
		if e.Author != "" {
			line += mutedStyle.Render(" • " + e.Author)
		}
		lines = append(lines, clip(line, width-4))
	}
	return panel(" IN FLIGHT ", width, strings.Join(lines, "\n"))
}

func (m *Model) renderQueuePanel(width int) string {
	pending := m.PendingEntries()
	recent := m.RecentlyFinished(5)

	var items []string
	if n := len(pending); n > 0 {
		items = append(items, warningStyle.Render(fmt.Sprintf("⏳ %d pending", n)))
		for i := 0; i < 3 && i < n; i++ {
			items = append(items, itemStyle.Render("· "+pending[i].ID))
		}
		if n > 3 {
			items = append(items, mutedStyle.Render(fmt.Sprintf("  ... and %d more", n-3)))
		}
	}

	if len(recent) > 0 {
		if len(items) > 0 {
			items = append(items, "")
		}
		for _, e := range recent {
			detail := summary.FormatBytes(e.Size)
			if e.State == EntryFailed {
				detail = e.LastError
			}
			line := fmt.Sprintf("%s %s %s", stateIcon(e.State), e.ID, mutedStyle.Render(detail))
			items = append(items, itemStyle.Render(clip(stateStyle(e.State).Render(line), width-6)))
		}
	}

	if len(items) == 0 {
		items = append(items, mutedStyle.Render("Queue empty"))
	}
	return panel(" QUEUE ", width, strings.Join(items, "\n"))
}

func (m *Model) renderSettingsPanel(width int) string {
	s := m.settings

	pacing := "unlimited"
	if s.NavigationsPerMinute > 0 {
		pacing = fmt.Sprintf("%d navigations/min", s.NavigationsPerMinute)
	}

	row := func(label, value string) string {
		return fmt.Sprintf("%s %s", statsLabelStyle.Render(label), statsValueStyle.Render(value))
	}
	rows := []string{
		row("Manifest:", s.Source),
		row("Output:", s.OutputDir),
		row("Workers:", fmt.Sprintf("%d", s.Workers)),
		row("Retries:", fmt.Sprintf("%d", s.Retries)),
		row("Size:", s.PreferredSize),
		row("Pacing:", pacing),
	}
	return panel(" SETTINGS ", width, strings.Join(rows, "\n"))
}

func (m *Model) renderLogsPanel(width int) string {
	m.mu.RLock()
	start := len(m.logMessages) - 10
	if start < 0 {
		start = 0
	}
	messages := append([]LogMessage(nil), m.logMessages[start:]...)
	m.mu.RUnlock()

	logs := make([]string, 0, len(messages))
	for _, msg := range messages {
		timestamp := logTimestampStyle.Render(msg.Time.Format("15:04:05"))
		level := lipgloss.NewStyle().Foreground(msg.Color).Bold(true).Render(fmt.Sprintf("[%-7s]", msg.Level))
		text := logMessageStyle.Render(truncate(msg.Message, width-25))
		logs = append(logs, fmt.Sprintf("%s %s %s", timestamp, level, text))
	}

	content := strings.Join(logs, "\n")
	if content == "" {
		content = mutedStyle.Render("No logs yet...")
	}
	return panel(" LOG ", width, content)
}

func (m *Model) renderHelp() string {
	help := `
  Keys:
    q        - Quit (cancels the run if it is still going)
    ctrl+l   - Clear the log
    ?        - Toggle this help

  Markers:
    ` + successStyle.Render("✓") + `        - Downloaded
    ` + mutedStyle.Render("=") + `        - Already present
    ` + warningStyle.Render("↻") + `        - Retrying
    ` + errorStyle.Render("✗") + `        - Failed
`
	return panelStyle.Width(m.width - 2).Render(help)
}

func panel(title string, width int, content string) string {
	return panelStyle.Width(width).Render(
		lipgloss.JoinVertical(lipgloss.Left, titleStyle.Render(title), content),
	)
}

// clip cuts styled text to n cells
func clip(s string, n int) string {
	if n < 1 {
		return s
	}
	return lipgloss.NewStyle().MaxWidth(n).Render(s)
}

// truncate shortens plain text to at most n runes
func truncate(s string, n int) string {
	if n <= 3 {
		return s
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}

// formatDuration formats a duration as mm:ss or hh:mm:ss
func formatDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}

	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60

	if h > 0 {
		return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%02d:%02d", m, s)
}
