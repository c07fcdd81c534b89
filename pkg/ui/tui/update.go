package tui

import (
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"unsplashdl/pkg/models"
	"unsplashdl/pkg/summary"
)

// quitDelay keeps the final screen visible before the program exits
const quitDelay = 1500 * time.Millisecond

// EntryStartedMsg is sent when the coordinator picks up an entry
type EntryStartedMsg struct {
	Index int
	ID    string
}

// AttemptFailedMsg is sent when an attempt fails
type AttemptFailedMsg struct {
	Index   int
	ID      string
	Attempt int
	Kind    string
	Message string
}

// EntryFinishedMsg carries the final result of an entry
type EntryFinishedMsg struct {
	Result models.DownloadResult
}

// RunCompleteMsg is sent once every entry has a result
type RunCompleteMsg struct {
	Summary summary.RunSummary
}

// LogMsg is sent to add a log message
type LogMsg struct {
	Level   string
	Message string
}

// TickMsg is sent periodically to update the UI
type TickMsg time.Time

type quitMsg struct{}

// Update handles all messages and updates the model
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKeyPress(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case TickMsg:
		return m, tickCmd()

	case EntryStartedMsg:
		m.StartEntry(msg.Index)
		return m, nil

	case AttemptFailedMsg:
		m.RetryEntry(msg.Index, msg.Attempt, msg.Message)
		m.AddLogMessage("WARN", fmt.Sprintf("%s attempt %d: %s", msg.ID, msg.Attempt, msg.Kind))
		return m, nil

	case EntryFinishedMsg:
		m.FinishEntry(msg.Result)
		m.logResult(msg.Result)
		return m, nil

	case RunCompleteMsg:
		m.Finish(msg.Summary)
		m.AddLogMessage("SUCCESS", "Run complete: "+msg.Summary.String())
		return m, tea.Tick(quitDelay, func(time.Time) tea.Msg { return quitMsg{} })

	case quitMsg:
		return m, tea.Quit

	case LogMsg:
		m.AddLogMessage(msg.Level, msg.Message)
		return m, nil
	}

	return m, nil
}

func (m *Model) logResult(r models.DownloadResult) {
	switch {
	case !r.Success:
		m.AddLogMessage("ERROR", fmt.Sprintf("%s failed: %s", r.ID, r.Error))
	case r.Skipped:
		m.AddLogMessage("INFO", r.ID+" already present")
	case r.DryRun:
		m.AddLogMessage("INFO", r.ID+" would be saved as "+r.FileName)
	default:
		m.AddLogMessage("SUCCESS", "Saved "+r.FileName)
	}
}

// handleKeyPress handles keyboard input
func (m *Model) handleKeyPress(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "Q", "ctrl+c":
		m.mu.RLock()
		done := m.summary != nil
		m.mu.RUnlock()
		if !done && m.onQuit != nil {
			m.onQuit()
		}
		return m, tea.Quit

	case "?":
		m.showHelp = !m.showHelp
		return m, nil

	case "ctrl+l":
		m.mu.Lock()
		m.logMessages = nil
		m.mu.Unlock()
		return m, nil
	}

	return m, nil
}

// tickCmd returns a command that sends a tick message
func tickCmd() tea.Cmd {
	return tea.Tick(250*time.Millisecond, func(t time.Time) tea.Msg {
		return TickMsg(t)
	})
}
