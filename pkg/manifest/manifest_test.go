package manifest

import (
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"unsplashdl/pkg/errors"
	"unsplashdl/pkg/models"
	"unsplashdl/pkg/sizing"
	"unsplashdl/pkg/storage"
	"unsplashdl/pkg/summary"
)

const sample = `{
  "generated_at": "2024-05-01T10:00:00Z",
  "source": "blog",
  "images": {
    "zeta": {"image_author": "Ann", "width": 3000, "height": 2000, "description": "dunes", "image_author_url": "https://unsplash.com/@ann"},
    "alpha": {"image_author": "Bo", "width": 500},
    "mid": {}
  }
}`

func TestDecodeKeepsDocumentOrder(t *testing.T) {
	src, err := Decode(strings.NewReader(sample), 0)
	require.NoError(t, err)

	assert.Equal(t, "2024-05-01T10:00:00Z", src.GeneratedAt)
	require.Len(t, src.Entries, 3)
	assert.Equal(t, "zeta", src.Entries[0].ID)
	assert.Equal(t, "alpha", src.Entries[1].ID)
	assert.Equal(t, "mid", src.Entries[2].ID)

	zeta := src.Entries[0]
	assert.Equal(t, "Ann", zeta.Author)
	require.NotNil(t, zeta.Width)
	assert.Equal(t, 3000, *zeta.Width)
	assert.Equal(t, 2000, *zeta.Height)
	assert.Equal(t, "dunes", zeta.Description)
	assert.Equal(t, "https://unsplash.com/@ann", zeta.AuthorURL)

	assert.Nil(t, src.Entries[2].Width)
}

func TestDecodeLimit(t *testing.T) {
	src, err := Decode(strings.NewReader(sample), 2)
	require.NoError(t, err)
	require.Len(t, src.Entries, 2)
	assert.Equal(t, "alpha", src.Entries[1].ID)

	src, err = Decode(strings.NewReader(sample), 10)
	require.NoError(t, err)
	assert.Len(t, src.Entries, 3)
}

func TestDecodeMissingImages(t *testing.T) {
	for _, doc := range []string{`{}`, `{"generated_at": 12}`, `{"images": null}`, `{"images": {}}`} {
		src, err := Decode(strings.NewReader(doc), 0)
		require.NoError(t, err, doc)
		assert.Empty(t, src.Entries, doc)
	}
}

func TestDecodeDuplicateIDs(t *testing.T) {
	src, err := Decode(strings.NewReader(`{"images": {"a": {"image_author": "first"}, "b": {}, "a": {"image_author": "second"}}}`), 0)
	require.NoError(t, err)
	require.Len(t, src.Entries, 2)
	assert.Equal(t, "a", src.Entries[0].ID)
	assert.Equal(t, "second", src.Entries[0].Author)
}

func TestDecodeErrors(t *testing.T) {
	for _, doc := range []string{``, `[]`, `{"images": []}`, `{"images": {"a": {"width": "wide"}}}`, `{"images": {"a": {}`} {
		_, err := Decode(strings.NewReader(doc), 0)
		assert.Error(t, err, doc)
	}
}

func TestDecodeRejectsUnsafeIDs(t *testing.T) {
	for _, id := range []string{"", ".", "..", "../../etc/evil", "nested/photo", `back\slash`, "/abs"} {
		doc := `{"images": {"ok": {}, ` + strconv.Quote(id) + `: {}}}`
		_, err := Decode(strings.NewReader(doc), 0)
		assert.ErrorIs(t, err, storage.ErrInvalidID, "%q", id)
	}
}

func TestLoad(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/data/manifest.json", []byte(sample), 0644))

	src, err := Load(fs, "/data/manifest.json", 1)
	require.NoError(t, err)
	assert.Equal(t, "/data/manifest.json", src.Path)
	assert.Len(t, src.Entries, 1)

	_, err = Load(fs, "/data/missing.json", 0)
	assert.Error(t, err)
}

func intPtr(v int) *int { return &v }

func TestBuildResult(t *testing.T) {
	at := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	sel := sizing.Selection{Size: sizing.Large, Width: intPtr(2400)}

	results := []models.DownloadResult{
		{Index: 0, ID: "a", Success: true, Path: "/dl/a.jpg", Size: 1000, DownloadedAt: at, Selection: &sel,
			Metadata: models.EntryMetadata{Author: "Ann", AuthorURL: "https://unsplash.com/@ann"}, Attempts: 1},
		{Index: 1, ID: "b", Success: true, Skipped: true, Path: "/dl/b.png", Size: 500, DownloadedAt: at},
		{Index: 2, ID: "c", Success: false, Attempts: 3,
			Err: errors.WithEntry(errors.New(errors.KindEmptyTransfer, "zero bytes"), "c", 3), Error: "zero bytes"},
	}
	src := &Source{Path: "manifest.json", GeneratedAt: "2024-05-01T10:00:00Z"}

	m := BuildResult(src, results, summary.Summarize(results), BuildOptions{GeneratedAt: at, RunID: "run-1"})

	assert.Equal(t, Version, m.Version)
	assert.Equal(t, "run-1", m.RunID)
	assert.Equal(t, MethodBrowser, m.DownloadMethod)
	assert.Equal(t, "2024-05-01T10:00:00Z", m.SourceGeneratedAt)
	require.Len(t, m.Images, 2)

	a := m.Images["a"]
	assert.Equal(t, "/dl/a.jpg", a.LocalPath)
	assert.Equal(t, "Ann", a.Author)
	assert.Equal(t, int64(1000), a.SizeBytes)
	assert.False(t, a.Skipped)
	assert.Equal(t, "large", a.Tier)
	assert.True(t, m.Images["b"].Skipped)

	assert.Equal(t, 1, m.Stats.Successful)
	assert.Equal(t, 1, m.Stats.Skipped)
	assert.Equal(t, 1, m.Stats.Failed)
	assert.Equal(t, int64(1500), m.Stats.TotalBytes)
	require.Len(t, m.Stats.Failures, 1)
	assert.Equal(t, FailureRecord{ID: "c", Kind: "empty_transfer", Attempt: 3, Error: "zero bytes"}, m.Stats.Failures[0])
}

func TestBuildResultDefaults(t *testing.T) {
	m := BuildResult(nil, nil, summary.Summarize(nil), BuildOptions{DryRun: true})

	assert.Equal(t, MethodDryRun, m.DownloadMethod)
	assert.NotEmpty(t, m.RunID)
	assert.False(t, m.GeneratedAt.IsZero())
	assert.NotNil(t, m.Images)
	assert.NotNil(t, m.Stats.Failures)
}

func TestWriteAndRead(t *testing.T) {
	fs := afero.NewMemMapFs()
	at := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	results := []models.DownloadResult{{ID: "a", Success: true, Path: "/dl/a.jpg", Size: 42, DownloadedAt: at}}
	m := BuildResult(&Source{}, results, summary.Summarize(results), BuildOptions{GeneratedAt: at, RunID: "r"})

	require.NoError(t, Write(fs, "/dl/download-manifest.json", m))

	raw, err := afero.ReadFile(fs, "/dl/download-manifest.json")
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"generated_at": "2024-06-01T12:00:00Z"`)
	assert.Contains(t, string(raw), `"size_bytes": 42`)
	assert.Contains(t, string(raw), `"failures": []`)

	back, err := ReadResult(fs, "/dl/download-manifest.json")
	require.NoError(t, err)
	assert.Equal(t, m, back)
}
