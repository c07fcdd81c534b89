package ui

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"unsplashdl/pkg/errors"
	"unsplashdl/pkg/models"
	"unsplashdl/pkg/summary"
)

func TestBar(t *testing.T) {
	assert.Equal(t, "━━━━━─────", Bar(1, 2, 10))
	assert.Equal(t, "──────────", Bar(0, 0, 10))
	assert.Equal(t, "━━━━━━━━━━", Bar(12, 10, 10))
	assert.Equal(t, "", Bar(1, 1, 0))
}

func TestETA(t *testing.T) {
	d, ok := ETA(2, 6, 10*time.Second)
	require.True(t, ok)
	assert.Equal(t, 20*time.Second, d)

	_, ok = ETA(0, 6, time.Second)
	assert.False(t, ok)

	d, ok = ETA(6, 6, time.Second)
	assert.True(t, ok)
	assert.Zero(t, d)
}

func TestFormatDuration(t *testing.T) {
	assert.Equal(t, "42s", FormatDuration(42*time.Second))
	assert.Equal(t, "3m5s", FormatDuration(3*time.Minute+5*time.Second))
	assert.Equal(t, "2h10m", FormatDuration(2*time.Hour+10*time.Minute))
	assert.Equal(t, "0s", FormatDuration(-time.Second))
}

func TestColorCanBeDisabled(t *testing.T) {
	SetColorEnabled(false)
	defer SetColorEnabled(true)

	assert.Equal(t, "plain", Red("plain"))
}

func TestProgressDisplayCounts(t *testing.T) {
	SetColorEnabled(false)
	defer SetColorEnabled(true)

	var buf bytes.Buffer
	p := NewProgressDisplay(&buf, "manifest.json", 3, false)

	p.EntryStarted(0, models.ManifestEntry{ID: "a"})
	p.EntryFinished(models.DownloadResult{Index: 0, ID: "a", Success: true, Size: 2048})
	p.EntryStarted(1, models.ManifestEntry{ID: "b"})
	p.EntryFinished(models.DownloadResult{Index: 1, ID: "b", Success: true, Skipped: true, Size: 1024})
	p.EntryStarted(2, models.ManifestEntry{ID: "c"})
	p.EntryFinished(models.DownloadResult{Index: 2, ID: "c", Error: "timeout"})

	out := buf.String()
	assert.Contains(t, out, "3/3")
	assert.Contains(t, out, "3.0 KB")
	assert.Contains(t, out, "1 skipped")
	assert.Contains(t, out, "1 failed")
	assert.Empty(t, p.current)
}

func TestProgressDisplayVerbose(t *testing.T) {
	SetColorEnabled(false)
	defer SetColorEnabled(true)

	var buf bytes.Buffer
	p := NewProgressDisplay(&buf, "run", 2, true)

	entry := models.ManifestEntry{ID: "abc"}
	p.AttemptFailed(0, entry, &errors.Error{Kind: errors.KindTimeout, EntryID: "abc", Attempt: 1})
	p.EntryFinished(models.DownloadResult{
		ID: "abc", Success: true, Size: 500,
		Metadata: models.EntryMetadata{Author: "Jane Doe"},
	})

	out := buf.String()
	assert.Contains(t, out, "abc attempt 1: timeout")
	assert.Contains(t, out, "✓ abc • 500 B • Jane Doe")
}

func TestProgressDisplayComplete(t *testing.T) {
	SetColorEnabled(false)
	defer SetColorEnabled(true)

	var buf bytes.Buffer
	p := NewProgressDisplay(&buf, "run", 4, false)
	p.Complete(summary.RunSummary{
		Total: 4, Successful: 2, Skipped: 1, Failed: 1, TotalBytes: 3500,
		Failures: []models.DownloadResult{{ID: "bad", Error: "no download button"}},
	})

	out := buf.String()
	assert.Contains(t, out, "Downloaded 2 of 4 images")
	assert.Contains(t, out, "1 already present")
	assert.Contains(t, out, "bad no download button")
}

type recordingSender struct {
	titles   []string
	messages []string
}

func (r *recordingSender) Send(title, message string) error {
	r.titles = append(r.titles, title)
	r.messages = append(r.messages, message)
	return nil
}

func TestNotifierRunFinished(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	defer SetOutput(nil)
	SetColorEnabled(false)
	defer SetColorEnabled(true)

	sender := &recordingSender{}
	n := NewNotifierWithSender(sender)

	n.RunFinished(summary.RunSummary{Total: 2, Successful: 2})
	n.RunFinished(summary.RunSummary{Total: 2, Successful: 1, Failed: 1})

	require.Len(t, sender.titles, 2)
	assert.Equal(t, "Downloads complete", sender.titles[0])
	assert.Equal(t, "Downloads finished with failures", sender.titles[1])
	assert.Contains(t, sender.messages[1], "1 failed")
	assert.Contains(t, buf.String(), "Downloads complete")
}

func TestNotifierWithoutSender(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	defer SetOutput(nil)

	NewNotifierWithSender(nil).SendNotification("title", "message")
	assert.Contains(t, buf.String(), "message")
}
