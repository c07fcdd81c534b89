package downloader

import (
	"context"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"unsplashdl/pkg/logger"
	"unsplashdl/pkg/models"
)

// Job is one manifest entry together with its position in the manifest
type Job struct {
	Index int
	Entry models.ManifestEntry
}

// Handler processes one job. workerID identifies the worker running it.
// A non-nil error is fatal: it cancels every other worker and is returned
// from Run.
type Handler func(ctx context.Context, workerID int, job Job) (models.DownloadResult, error)

// WorkerPool runs a handler over a fixed work list with a bounded number of workers
type WorkerPool struct {
	numWorkers int
	handler    Handler
	logger     logger.Logger

	processed atomic.Int64
}

// NewWorkerPool creates a pool of numWorkers workers
func NewWorkerPool(numWorkers int, handler Handler, log logger.Logger) *WorkerPool {
	if numWorkers < 1 {
		numWorkers = 1
	}
	if log == nil {
		log = logger.GetLogger()
	}

	return &WorkerPool{
		numWorkers: numWorkers,
		handler:    handler,
		logger:     log.WithField("component", "worker_pool"),
	}
}

// Run feeds every entry through the workers and returns one result per entry.
// results[i] always belongs to entries[i] and claimed[i] reports whether a
// handler produced it. Slots for entries that were never claimed, because ctx
// ended or a handler failed, are left as zero values with Index set.
func (wp *WorkerPool) Run(ctx context.Context, entries []models.ManifestEntry) (results []models.DownloadResult, claimed []bool, err error) {
	results = make([]models.DownloadResult, len(entries))
	claimed = make([]bool, len(entries))
	for i := range results {
		results[i].Index = i
	}

	jobQueue := make(chan Job, len(entries))
	for i, e := range entries {
		jobQueue <- Job{Index: i, Entry: e}
	}
	close(jobQueue)

	workers := wp.numWorkers
	if workers > len(entries) {
		workers = len(entries)
	}

	wp.logger.InfoWithFields("Starting worker pool", map[string]interface{}{
		"num_workers": workers,
		"jobs":        len(entries),
	})

	g, gctx := errgroup.WithContext(ctx)
	for id := 0; id < workers; id++ {
		workerID := id
		g.Go(func() error {
			return wp.worker(gctx, workerID, jobQueue, results, claimed)
		})
	}

	err = g.Wait()

	wp.logger.InfoWithFields("Worker pool stopped", map[string]interface{}{
		"processed": wp.processed.Load(),
	})
	return results, claimed, err
}

// worker pulls jobs until the queue is drained or ctx ends. Each result goes
// into its own pre-reserved slot, so no locking is needed.
func (wp *WorkerPool) worker(ctx context.Context, id int, jobs <-chan Job, results []models.DownloadResult, claimed []bool) error {
	wp.logger.DebugWithFields("Worker started", map[string]interface{}{
		"worker_id": id,
	})

	for job := range jobs {
		if ctx.Err() != nil {
			wp.logger.DebugWithFields("Worker stopping - context cancelled", map[string]interface{}{
				"worker_id": id,
			})
			return nil
		}

		result, err := wp.handler(ctx, id, job)
		if err != nil {
			wp.logger.WithError(err).ErrorWithFields("Worker hit a fatal error", map[string]interface{}{
				"worker_id": id,
				"entry_id":  job.Entry.ID,
			})
			return err
		}

		result.Index = job.Index
		results[job.Index] = result
		claimed[job.Index] = true
		wp.processed.Add(1)
	}

	wp.logger.DebugWithFields("Worker stopping - job queue drained", map[string]interface{}{
		"worker_id": id,
	})
	return nil
}
