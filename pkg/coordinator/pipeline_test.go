package coordinator

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	errs "unsplashdl/pkg/errors"
	"unsplashdl/pkg/manifest"
	"unsplashdl/pkg/summary"
)

const pipelineManifest = `{
  "generated_at": "2026-10-01T08:00:00Z",
  "images": {
    "present": {"image_author": "Ana", "width": 4000},
    "fresh": {"image_author": "Ben", "width": 1600, "description": "harbour at dusk"},
    "broken": {"image_author": "Cy"},
    "ignored": {"image_author": "Dee"}
  }
}`

// manifest in, result manifest out, through the coordinator with a fake browser
func TestManifestToResultManifest(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, filepath.Join(testDir, "present.webp"), []byte("already-here"), 0644))

	src, err := manifest.Decode(strings.NewReader(pipelineManifest), 3)
	require.NoError(t, err)
	require.Len(t, src.Entries, 3)
	src.Path = "manifest.json"

	session := newFakeSession(fs, 2)
	session.token = func(string) (string, error) { return "ixid-1", nil }
	session.navigate = func(ctx context.Context, id string, call int32) error {
		if id == "broken" {
			return errs.New(errs.KindTimeout, "photo page did not load")
		}
		return nil
	}

	opts := testOptions()
	opts.EnableConcurrency = true
	opts.Concurrency = 2

	results, err := newTestCoordinator(t, fs, session, opts).Run(context.Background(), src.Entries)
	require.NoError(t, err)
	require.Len(t, results, 3)

	s := summary.Summarize(results)
	assert.Equal(t, 3, s.Total)
	assert.Equal(t, 1, s.Successful)
	assert.Equal(t, 1, s.Skipped)
	assert.Equal(t, 1, s.Failed)
	assert.Equal(t, 1, s.ByKind[errs.KindTimeout])

	generated := time.Date(2026, 10, 14, 12, 0, 0, 0, time.UTC)
	out := manifest.BuildResult(src, results, s, manifest.BuildOptions{GeneratedAt: generated, RunID: "run-1"})
	path := filepath.Join(testDir, "download-manifest.json")
	require.NoError(t, manifest.Write(fs, path, out))

	back, err := manifest.ReadResult(fs, path)
	require.NoError(t, err)

	assert.Equal(t, "run-1", back.RunID)
	assert.Equal(t, "2026-10-01T08:00:00Z", back.SourceGeneratedAt)
	assert.Equal(t, manifest.MethodBrowser, back.DownloadMethod)
	require.Len(t, back.Images, 2)

	present := back.Images["present"]
	assert.True(t, present.Skipped)
	assert.Equal(t, filepath.Join(testDir, "present.webp"), present.LocalPath)
	assert.Equal(t, "Ana", present.Author)

	fresh := back.Images["fresh"]
	assert.False(t, fresh.Skipped)
	assert.Equal(t, "harbour at dusk", fresh.Description)
	assert.Equal(t, filepath.Join(testDir, "fresh.jpg"), fresh.LocalPath)

	require.Len(t, back.Stats.Failures, 1)
	assert.Equal(t, "broken", back.Stats.Failures[0].ID)
	assert.Equal(t, string(errs.KindTimeout), back.Stats.Failures[0].Kind)
	assert.Equal(t, 3, back.Stats.Failures[0].Attempt)

	_, ok := back.Images["ignored"]
	assert.False(t, ok, "entries past the limit are never processed")
}
