// Package summary reduces per-entry download results into run totals.
package summary

import (
	"fmt"

	"unsplashdl/pkg/errors"
	"unsplashdl/pkg/models"
)

// RunSummary holds the totals for one run
type RunSummary struct {
	Total      int
	Successful int
	Failed     int
	Skipped    int
	// TotalBytes counts every successful entry, skipped ones included
	TotalBytes int64
	Failures   []models.DownloadResult
	// ByKind counts failures per error kind
	ByKind map[errors.Kind]int
}

// Summarize partitions results into successful, failed and skipped.
func Summarize(results []models.DownloadResult) RunSummary {
	s := RunSummary{
		Total:  len(results),
		ByKind: make(map[errors.Kind]int),
	}

	for _, r := range results {
		switch {
		case !r.Success:
			s.Failed++
			s.Failures = append(s.Failures, r)
			kind := r.Kind()
			if kind == "" {
				kind = errors.KindUnknown
			}
			s.ByKind[kind]++
		case r.Skipped:
			s.Skipped++
		default:
			s.Successful++
		}

		if r.Success {
			s.TotalBytes += r.Size
		}
	}

	return s
}

// AllSucceeded reports whether no entry failed
func (s RunSummary) AllSucceeded() bool {
	return s.Failed == 0
}

// String renders a one-line summary
func (s RunSummary) String() string {
	return fmt.Sprintf("%d downloaded, %d skipped, %d failed, %s total",
		s.Successful, s.Skipped, s.Failed, FormatBytes(s.TotalBytes))
}

// FormatBytes renders a byte count with a binary unit
func FormatBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
