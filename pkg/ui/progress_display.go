package ui

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"unsplashdl/pkg/errors"
	"unsplashdl/pkg/models"
	"unsplashdl/pkg/summary"
)

// ProgressDisplay keeps a single progress line up to date, or prints one
// line per event in verbose mode
type ProgressDisplay struct {
	mu      sync.Mutex
	out     io.Writer
	label   string
	total   int
	verbose bool
	now     func() time.Time

	startTime  time.Time
	finished   int
	downloaded int
	skipped    int
	failed     int
	bytes      int64
	current    map[int]string
}

// NewProgressDisplay creates a display for a run of total entries
func NewProgressDisplay(out io.Writer, label string, total int, verbose bool) *ProgressDisplay {
	return &ProgressDisplay{
		out:       out,
		label:     label,
		total:     total,
		verbose:   verbose,
		now:       time.Now,
		startTime: time.Now(),
		current:   make(map[int]string),
	}
}

// EntryStarted marks an entry as in flight
func (p *ProgressDisplay) EntryStarted(index int, entry models.ManifestEntry) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.current[index] = entry.ID
	if !p.verbose {
		p.printProgress()
	}
}

// AttemptFailed reports a failed attempt that may still be retried
func (p *ProgressDisplay) AttemptFailed(index int, entry models.ManifestEntry, err *errors.Error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.verbose {
		fmt.Fprintf(p.out, "%s %s attempt %d: %s\n", Yellow("↻"), entry.ID, err.Attempt, Dim(string(err.Kind)))
	}
}

// EntryFinished records the outcome of an entry
func (p *ProgressDisplay) EntryFinished(result models.DownloadResult) {
	p.mu.Lock()
	defer p.mu.Unlock()

	delete(p.current, result.Index)
	p.finished++

	switch {
	case !result.Success:
		p.failed++
	case result.Skipped:
		p.skipped++
		p.bytes += result.Size
	default:
		p.downloaded++
		p.bytes += result.Size
	}

	if p.verbose {
		p.printEvent(result)
		return
	}
	p.printProgress()
}

// printProgress redraws the progress line
func (p *ProgressDisplay) printProgress() {
	elapsed := p.now().Sub(p.startTime)

	eta := "calculating..."
	if d, ok := ETA(p.finished, p.total, elapsed); ok {
		eta = FormatDuration(d)
	}

	line := fmt.Sprintf("%s [%s] %d/%d • %.1f/min • %s • %s",
		Cyan(p.label),
		Bar(p.finished, p.total, 20),
		p.finished,
		p.total,
		Rate(p.downloaded, elapsed),
		summary.FormatBytes(p.bytes),
		eta,
	)

	if len(p.current) > 0 {
		ids := make([]string, 0, len(p.current))
		for _, id := range p.current {
			ids = append(ids, id)
		}
		if len(ids) > 3 {
			ids = append(ids[:3], "…")
		}
		line += " • " + strings.Join(ids, " ")
	}

	if p.skipped > 0 {
		line += " • " + Dim(fmt.Sprintf("%d skipped", p.skipped))
	}
	if p.failed > 0 {
		line += " • " + Red(fmt.Sprintf("%d failed", p.failed))
	}

	fmt.Fprintf(p.out, "\r%s\r%s", strings.Repeat(" ", 120), line)
}

// printEvent prints one line per finished entry
func (p *ProgressDisplay) printEvent(result models.DownloadResult) {
	switch {
	case !result.Success:
		fmt.Fprintf(p.out, "%s %s • %s\n", Red("✗"), result.ID, result.Error)
	case result.Skipped:
		fmt.Fprintf(p.out, "%s %s • %s\n", Dim("="), result.ID, Dim("already present"))
	default:
		line := fmt.Sprintf("%s %s • %s", Green("✓"), result.ID, summary.FormatBytes(result.Size))
		if author := result.Metadata.Author; author != "" {
			line += " • " + Dim(author)
		}
		if result.DryRun {
			line += " • " + Dim("dry run")
		}
		fmt.Fprintln(p.out, line)
	}
}

// Complete prints the final summary block
func (p *ProgressDisplay) Complete(s summary.RunSummary) {
	p.mu.Lock()
	defer p.mu.Unlock()

	elapsed := p.now().Sub(p.startTime)

	fmt.Fprintf(p.out, "\n\n%s Downloaded %d of %d images\n", Green("✓"), s.Successful, s.Total)
	fmt.Fprintf(p.out, "  %s %s in %s (%.1f images/min)\n",
		Dim("•"),
		summary.FormatBytes(s.TotalBytes),
		FormatDuration(elapsed),
		Rate(s.Successful, elapsed),
	)
	if s.Skipped > 0 {
		fmt.Fprintf(p.out, "  %s %d already present\n", Dim("•"), s.Skipped)
	}
	if s.Failed > 0 {
		fmt.Fprintf(p.out, "  %s %s\n", Dim("•"), Red(fmt.Sprintf("%d failed", s.Failed)))
		for _, f := range s.Failures {
			fmt.Fprintf(p.out, "      %s %s\n", f.ID, Dim(f.Error))
		}
	}
}
