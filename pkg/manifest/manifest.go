// Package manifest reads the list of images to download and writes the record
// of what a run saved.
package manifest

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/afero"

	"unsplashdl/pkg/models"
	"unsplashdl/pkg/storage"
	"unsplashdl/pkg/summary"
)

// Version is written into every result manifest
const Version = "2.0"

// Download methods recorded in the result manifest
const (
	MethodBrowser = "browser"
	MethodDryRun  = "dry-run"
)

// Source is a parsed input manifest
type Source struct {
	Path        string
	GeneratedAt string
	Entries     []models.ManifestEntry
}

// Load reads the manifest at path. limit > 0 keeps only the first limit entries.
func Load(fs afero.Fs, path string, limit int) (*Source, error) {
	f, err := fs.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open manifest: %w", err)
	}
	defer f.Close()

	src, err := Decode(f, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to parse manifest %s: %w", path, err)
	}
	src.Path = path
	return src, nil
}

// Decode parses a manifest from r, keeping the images in document order.
// A missing or null "images" field yields zero entries.
func Decode(r io.Reader, limit int) (*Source, error) {
	dec := json.NewDecoder(r)

	if err := expectDelim(dec, '{'); err != nil {
		return nil, err
	}

	src := &Source{}
	for dec.More() {
		key, err := readKey(dec)
		if err != nil {
			return nil, err
		}

		switch key {
		case "images":
			entries, err := decodeImages(dec)
			if err != nil {
				return nil, fmt.Errorf("images: %w", err)
			}
			src.Entries = entries
		case "generated_at":
			var v interface{}
			if err := dec.Decode(&v); err != nil {
				return nil, fmt.Errorf("generated_at: %w", err)
			}
			if s, ok := v.(string); ok {
				src.GeneratedAt = s
			}
		default:
			var skip json.RawMessage
			if err := dec.Decode(&skip); err != nil {
				return nil, fmt.Errorf("%s: %w", key, err)
			}
		}
	}

	if err := expectDelim(dec, '}'); err != nil {
		return nil, err
	}

	if limit > 0 && len(src.Entries) > limit {
		src.Entries = src.Entries[:limit]
	}
	return src, nil
}

func decodeImages(dec *json.Decoder) ([]models.ManifestEntry, error) {
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	if tok == nil {
		return nil, nil
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return nil, fmt.Errorf("expected an object, got %v", tok)
	}

	var entries []models.ManifestEntry
	seen := make(map[string]int)
	for dec.More() {
		id, err := readKey(dec)
		if err != nil {
			return nil, err
		}
		if err := storage.ValidateID(id); err != nil {
			return nil, err
		}

		var meta models.EntryMetadata
		if err := dec.Decode(&meta); err != nil {
			return nil, fmt.Errorf("entry %q: %w", id, err)
		}

		// a repeated id keeps its first position and its last value
		if i, dup := seen[id]; dup {
			entries[i].EntryMetadata = meta
			continue
		}
		seen[id] = len(entries)
		entries = append(entries, models.ManifestEntry{ID: id, EntryMetadata: meta})
	}

	if err := expectDelim(dec, '}'); err != nil {
		return nil, err
	}
	return entries, nil
}

func readKey(dec *json.Decoder) (string, error) {
	tok, err := dec.Token()
	if err != nil {
		return "", err
	}
	key, ok := tok.(string)
	if !ok {
		return "", fmt.Errorf("expected an object key, got %v", tok)
	}
	return key, nil
}

func expectDelim(dec *json.Decoder, want json.Delim) error {
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if d, ok := tok.(json.Delim); !ok || d != want {
		return fmt.Errorf("expected %q, got %v", want, tok)
	}
	return nil
}

// ResultManifest records what a run saved
type ResultManifest struct {
	GeneratedAt       time.Time              `json:"generated_at"`
	Version           string                 `json:"version"`
	RunID             string                 `json:"run_id"`
	SourceManifest    string                 `json:"source_manifest,omitempty"`
	SourceGeneratedAt string                 `json:"source_generated_at"`
	DownloadMethod    string                 `json:"download_method"`
	Images            map[string]ImageRecord `json:"images"`
	Stats             Stats                  `json:"stats"`
}

// ImageRecord is one saved or skipped image
type ImageRecord struct {
	LocalPath      string    `json:"local_path"`
	DownloadedAt   time.Time `json:"downloaded_at"`
	Author         string    `json:"author"`
	AuthorURL      string    `json:"author_url,omitempty"`
	Description    string    `json:"description,omitempty"`
	SizeBytes      int64     `json:"size_bytes"`
	Skipped        bool      `json:"skipped"`
	DownloadMethod string    `json:"download_method"`
	Tier           string    `json:"tier,omitempty"`
}

// Stats mirrors summary.RunSummary
type Stats struct {
	Total      int             `json:"total"`
	Successful int             `json:"successful"`
	Failed     int             `json:"failed"`
	Skipped    int             `json:"skipped"`
	TotalBytes int64           `json:"total_bytes"`
	Failures   []FailureRecord `json:"failures"`
}

// FailureRecord describes one failed entry
type FailureRecord struct {
	ID      string `json:"id"`
	Kind    string `json:"kind"`
	Attempt int    `json:"attempt"`
	Error   string `json:"error"`
}

// BuildOptions controls the generated fields of a result manifest
type BuildOptions struct {
	GeneratedAt time.Time
	RunID       string
	DryRun      bool
}

// BuildResult assembles the result manifest. Only successful and skipped
// entries appear under images; failures are listed in stats.
func BuildResult(src *Source, results []models.DownloadResult, s summary.RunSummary, opts BuildOptions) *ResultManifest {
	method := MethodBrowser
	if opts.DryRun {
		method = MethodDryRun
	}
	generated := opts.GeneratedAt
	if generated.IsZero() {
		generated = time.Now().UTC()
	}
	runID := opts.RunID
	if runID == "" {
		runID = uuid.NewString()
	}

	m := &ResultManifest{
		GeneratedAt:    generated,
		Version:        Version,
		RunID:          runID,
		DownloadMethod: method,
		Images:         make(map[string]ImageRecord),
		Stats: Stats{
			Total:      s.Total,
			Successful: s.Successful,
			Failed:     s.Failed,
			Skipped:    s.Skipped,
			TotalBytes: s.TotalBytes,
			Failures:   make([]FailureRecord, 0, len(s.Failures)),
		},
	}
	if src != nil {
		m.SourceManifest = src.Path
		m.SourceGeneratedAt = src.GeneratedAt
	}

	for _, r := range results {
		if !r.Success {
			continue
		}
		rec := ImageRecord{
			LocalPath:      r.Path,
			DownloadedAt:   r.DownloadedAt,
			Author:         r.Metadata.Author,
			AuthorURL:      r.Metadata.AuthorURL,
			Description:    r.Metadata.Description,
			SizeBytes:      r.Size,
			Skipped:        r.Skipped,
			DownloadMethod: method,
		}
		if r.Selection != nil {
			rec.Tier = string(r.Selection.Size)
		}
		m.Images[r.ID] = rec
	}

	for _, f := range s.Failures {
		rec := FailureRecord{ID: f.ID, Error: f.Error, Kind: string(f.Kind()), Attempt: f.Attempts}
		if f.Err != nil {
			rec.Attempt = f.Err.Attempt
			if rec.Error == "" {
				rec.Error = f.Err.Error()
			}
		}
		m.Stats.Failures = append(m.Stats.Failures, rec)
	}

	return m
}

// Write stores the result manifest at path atomically
func Write(fs afero.Fs, path string, m *ResultManifest) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal result manifest: %w", err)
	}
	data = append(data, '\n')

	if err := storage.WriteAtomic(fs, path, bytes.NewReader(data), 0644); err != nil {
		return fmt.Errorf("failed to write result manifest: %w", err)
	}
	return nil
}

// ReadResult loads a result manifest written by Write
func ReadResult(fs afero.Fs, path string) (*ResultManifest, error) {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return nil, fmt.Errorf("failed to read result manifest: %w", err)
	}

	var m ResultManifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse result manifest: %w", err)
	}
	return &m, nil
}
