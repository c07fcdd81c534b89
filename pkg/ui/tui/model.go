package tui

import (
	"sync"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"unsplashdl/pkg/models"
	"unsplashdl/pkg/summary"
)

// EntryState is where an entry is in the run
type EntryState int

const (
	EntryPending EntryState = iota
	EntryActive
	EntryRetrying
	EntryDownloaded
	EntrySkipped
	EntryFailed
)

func (s EntryState) finished() bool {
	return s >= EntryDownloaded
}

// EntryItem is one manifest entry as shown on screen
type EntryItem struct {
	Index     int
	ID        string
	Author    string
	State     EntryState
	Attempt   int
	Size      int64
	FileName  string
	LastError string
	StartTime time.Time
	Duration  time.Duration
}

// Settings are the run parameters shown in the settings panel
type Settings struct {
	Source               string
	OutputDir            string
	Workers              int
	Retries              int
	PreferredSize        string
	DryRun               bool
	NavigationsPerMinute int
}

// Model is the bubbletea model of a download run
type Model struct {
	spinner spinner.Model
	overall progress.Model

	entries  []*EntryItem
	finished []int
	settings Settings

	active     int
	downloaded int
	skipped    int
	failed     int
	retries    int
	totalBytes int64

	sessionStartTime time.Time
	summary          *summary.RunSummary
	onQuit           func()

	width          int
	height         int
	showHelp       bool
	logMessages    []LogMessage
	maxLogMessages int

	mu sync.RWMutex
}

// LogMessage represents a log entry
type LogMessage struct {
	Time    time.Time
	Level   string
	Message string
	Color   lipgloss.Color
}

// NewModel creates a model with every entry pending. onQuit runs when the
// user quits before the run has finished.
func NewModel(entries []models.ManifestEntry, settings Settings, onQuit func()) *Model {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(accent)

	items := make([]*EntryItem, len(entries))
	for i, e := range entries {
		items[i] = &EntryItem{Index: i, ID: e.ID, Author: e.Author}
	}

	return &Model{
		spinner:          s,
		overall:          progress.New(progress.WithGradient(string(accentDim), string(okGreen))),
		entries:          items,
		settings:         settings,
		sessionStartTime: time.Now(),
		onQuit:           onQuit,
		maxLogMessages:   50,
	}
}

// Init initializes the model
func (m *Model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, tickCmd())
}

func (m *Model) entry(index int) *EntryItem {
	if index < 0 || index >= len(m.entries) {
		return nil
	}
	return m.entries[index]
}

// StartEntry marks an entry as active
func (m *Model) StartEntry(index int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e := m.entry(index)
	if e == nil || e.State != EntryPending {
		return
	}
	e.State = EntryActive
	e.StartTime = time.Now()
	m.active++
}

// RetryEntry records a failed attempt on an active entry
func (m *Model) RetryEntry(index, attempt int, reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e := m.entry(index)
	if e == nil || e.State.finished() {
		return
	}
	e.State = EntryRetrying
	e.Attempt = attempt
	e.LastError = reason
	m.retries++
}

// FinishEntry records the final outcome of an entry
func (m *Model) FinishEntry(result models.DownloadResult) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e := m.entry(result.Index)
	if e == nil || e.State.finished() {
		return
	}
	if e.State == EntryActive || e.State == EntryRetrying {
		m.active--
		e.Duration = time.Since(e.StartTime)
	}

	e.Attempt = result.Attempts
	e.Size = result.Size
	e.FileName = result.FileName
	switch {
	case !result.Success:
		e.State = EntryFailed
		e.LastError = result.Error
		m.failed++
	case result.Skipped:
		e.State = EntrySkipped
		m.skipped++
		m.totalBytes += result.Size
	default:
		e.State = EntryDownloaded
		m.downloaded++
		m.totalBytes += result.Size
	}
	m.finished = append(m.finished, result.Index)
}

// Finish stores the run summary
func (m *Model) Finish(s summary.RunSummary) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.summary = &s
}

// AddLogMessage adds a log message
func (m *Model) AddLogMessage(level, message string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.logMessages = append(m.logMessages, LogMessage{
		Time:    time.Now(),
		Level:   level,
		Message: message,
		Color:   levelColor(level),
	})

	if len(m.logMessages) > m.maxLogMessages {
		m.logMessages = m.logMessages[len(m.logMessages)-m.maxLogMessages:]
	}
}

// ActiveEntries returns entries currently being worked on, in manifest order
func (m *Model) ActiveEntries() []*EntryItem {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var active []*EntryItem
	for _, e := range m.entries {
		if e.State == EntryActive || e.State == EntryRetrying {
			active = append(active, e)
		}
	}
	return active
}

// PendingEntries returns entries not started yet, in manifest order
func (m *Model) PendingEntries() []*EntryItem {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var pending []*EntryItem
	for _, e := range m.entries {
		if e.State == EntryPending {
			pending = append(pending, e)
		}
	}
	return pending
}

// RecentlyFinished returns up to n finished entries, most recent last
func (m *Model) RecentlyFinished(n int) []*EntryItem {
	m.mu.RLock()
	defer m.mu.RUnlock()

	start := len(m.finished) - n
	if start < 0 {
		start = 0
	}
	recent := make([]*EntryItem, 0, len(m.finished)-start)
	for _, i := range m.finished[start:] {
		recent = append(recent, m.entries[i])
	}
	return recent
}

// Progress returns finished and total entry counts
func (m *Model) Progress() (finished, total int) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.finished), len(m.entries)
}

// ETA estimates the remaining time from the average time per finished entry
func (m *Model) ETA() time.Duration {
	finished, total := m.Progress()
	if finished == 0 || finished >= total {
		return 0
	}
	perEntry := time.Since(m.sessionStartTime) / time.Duration(finished)
	return perEntry * time.Duration(total-finished)
}
