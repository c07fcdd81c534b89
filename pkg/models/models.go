package models

import (
	"time"

	"unsplashdl/pkg/errors"
	"unsplashdl/pkg/sizing"
)

// EntryMetadata is the descriptive data attached to an image in the source manifest
type EntryMetadata struct {
	Author      string `json:"image_author,omitempty"`
	Width       *int   `json:"width,omitempty"`
	Height      *int   `json:"height,omitempty"`
	Description string `json:"description,omitempty"`
	AuthorURL   string `json:"image_author_url,omitempty"`
}

// ManifestEntry is one image to download
type ManifestEntry struct {
	ID string `json:"id"`
	EntryMetadata
}

// DownloadRequest describes what ClickAndAwaitTransfer should fetch
type DownloadRequest struct {
	EntryID   string
	Token     string
	Selection sizing.Selection
}

// Transfer is a completed browser download that has not been moved into place yet
type Transfer struct {
	GUID              string
	SuggestedFilename string
	TempPath          string
}

// SavedFile is the result of moving a transfer to its final location
type SavedFile struct {
	Path string
	Size int64
}

// DownloadResult records the outcome for one entry
type DownloadResult struct {
	Index        int
	ID           string
	Success      bool
	Skipped      bool
	DryRun       bool
	Path         string
	FileName     string
	Size         int64
	Metadata     EntryMetadata
	Attempts     int
	Selection    *sizing.Selection
	DownloadedAt time.Time
	Err          *errors.Error
	Error        string
}

// Kind returns the failure kind, or an empty kind for successes
func (r DownloadResult) Kind() errors.Kind {
	if r.Err == nil {
		return ""
	}
	return r.Err.Kind
}
