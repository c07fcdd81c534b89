package ui

import (
	"unsplashdl/pkg/errors"
	"unsplashdl/pkg/models"
	"unsplashdl/pkg/summary"
)

// Display shows the progress of a run. ProgressDisplay and the tui package
// both implement it; the download command passes it to the coordinator as
// its observer.
type Display interface {
	EntryStarted(index int, entry models.ManifestEntry)
	AttemptFailed(index int, entry models.ManifestEntry, err *errors.Error)
	EntryFinished(result models.DownloadResult)
	Complete(s summary.RunSummary)
}
