// Package tui is a full-screen bubbletea view of a download run
package tui

import (
	"fmt"
	"sync"
	"sync/atomic"

	tea "github.com/charmbracelet/bubbletea"

	"unsplashdl/pkg/errors"
	"unsplashdl/pkg/models"
	"unsplashdl/pkg/summary"
)

// TUI forwards coordinator events to a bubbletea program. Its methods are
// safe to call from several workers.
type TUI struct {
	program *tea.Program
	model   *Model

	done    chan struct{}
	err     error
	once    sync.Once
	started atomic.Bool
}

// NewTUI creates the program for entries. onQuit is called when the user
// quits before the run ends, normally to cancel the run.
func NewTUI(entries []models.ManifestEntry, settings Settings, onQuit func(), opts ...tea.ProgramOption) *TUI {
	model := NewModel(entries, settings, onQuit)
	if len(opts) == 0 {
		opts = []tea.ProgramOption{tea.WithAltScreen()}
	}

	return &TUI{
		program: tea.NewProgram(model, opts...),
		model:   model,
		done:    make(chan struct{}),
	}
}

// Start runs the program in the background
func (t *TUI) Start() {
	t.once.Do(func() {
		t.started.Store(true)
		go func() {
			defer close(t.done)
			_, t.err = t.program.Run()
		}()
	})
}

// Wait blocks until the program has exited. It returns at once if the
// program was never started.
func (t *TUI) Wait() error {
	if !t.started.Load() {
		return nil
	}
	<-t.done
	return t.err
}

// Stop quits the program without waiting for the final screen
func (t *TUI) Stop() {
	t.program.Quit()
}

// Send sends a message to the TUI
func (t *TUI) Send(msg tea.Msg) {
	if t.program != nil {
		t.program.Send(msg)
	}
}

// EntryStarted implements the coordinator observer
func (t *TUI) EntryStarted(index int, entry models.ManifestEntry) {
	t.Send(EntryStartedMsg{Index: index, ID: entry.ID})
}

// AttemptFailed implements the coordinator observer
func (t *TUI) AttemptFailed(index int, entry models.ManifestEntry, err *errors.Error) {
	t.Send(AttemptFailedMsg{
		Index:   index,
		ID:      entry.ID,
		Attempt: err.Attempt,
		Kind:    string(err.Kind),
		Message: err.Error(),
	})
}

// EntryFinished implements the coordinator observer
func (t *TUI) EntryFinished(result models.DownloadResult) {
	t.Send(EntryFinishedMsg{Result: result})
}

// Complete shows the summary and waits for the program to exit
func (t *TUI) Complete(s summary.RunSummary) {
	t.Send(RunCompleteMsg{Summary: s})
	_ = t.Wait()
}

// Log sends a log message to the TUI
func (t *TUI) Log(level, format string, args ...interface{}) {
	t.Send(LogMsg{Level: level, Message: fmt.Sprintf(format, args...)})
}
