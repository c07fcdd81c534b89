// Package coordinator downloads every entry of a manifest through a browser
// session, one entry at a time or with a bounded pool of tabs.
//
// Each entry goes through the same steps: an existing local file short
// circuits to a skipped success, a dry run synthesizes a success, and
// otherwise up to Retries attempts are made to acquire a tab, open the photo
// page, read its token, trigger the download and move the file into place.
// Failures never escape an entry; they end up on its DownloadResult.
package coordinator

import (
	"context"
	"path/filepath"
	"time"

	"unsplashdl/internal/downloader"
	"unsplashdl/pkg/browser"
	"unsplashdl/pkg/config"
	errs "unsplashdl/pkg/errors"
	"unsplashdl/pkg/logger"
	"unsplashdl/pkg/metrics"
	"unsplashdl/pkg/models"
	"unsplashdl/pkg/ratelimit"
	"unsplashdl/pkg/retry"
	"unsplashdl/pkg/sizing"
	"unsplashdl/pkg/storage"
)

// DryRunSize is the size reported for every simulated download
const DryRunSize int64 = 1 << 20

// Session is the browser work a download attempt needs
type Session interface {
	Acquire(ctx context.Context) (*browser.Page, error)
	Release(p *browser.Page)
	PhotoURL(id string) string
	Navigate(ctx context.Context, p *browser.Page, url string) error
	ExtractToken(ctx context.Context, p *browser.Page) (string, error)
	ClickAndAwaitTransfer(ctx context.Context, p *browser.Page, req models.DownloadRequest, timeout time.Duration) (models.Transfer, error)
	SaveTransfer(t models.Transfer, dest string) (models.SavedFile, error)
}

// Observer is told about progress. Calls may come from several workers at once.
type Observer interface {
	EntryStarted(index int, entry models.ManifestEntry)
	AttemptFailed(index int, entry models.ManifestEntry, err *errs.Error)
	EntryFinished(result models.DownloadResult)
}

// Options are the run parameters
type Options struct {
	Retries           int
	Preferred         sizing.Tier
	Timeout           time.Duration
	DryRun            bool
	EnableConcurrency bool
	Concurrency       int
	// Backoff is consulted between attempts; nil means 2s × attempt
	Backoff retry.BackoffStrategy
	// SequentialDelay separates entries in sequential mode
	SequentialDelay time.Duration
	// SuccessDelay follows each real download inside a worker in concurrent mode
	SuccessDelay time.Duration
}

// OptionsFromConfig builds run options with the standard pacing
func OptionsFromConfig(cfg *config.Config) Options {
	tier, _ := sizing.ParseTier(cfg.Download.PreferredSize)
	return Options{
		Retries:           cfg.Download.Retries,
		Preferred:         tier,
		Timeout:           cfg.Browser.Timeout(),
		DryRun:            cfg.Download.DryRun,
		EnableConcurrency: cfg.Download.EnableConcurrency,
		Concurrency:       cfg.Download.Concurrency,
		Backoff:           retry.DownloadBackoff(2 * time.Second),
		SequentialDelay:   time.Second,
		SuccessDelay:      500 * time.Millisecond,
	}
}

// Workers returns how many tabs and workers the options call for
func (o Options) Workers() int {
	if !o.EnableConcurrency {
		return 1
	}
	n := o.Concurrency
	if n < 1 {
		n = 1
	}
	if n > config.MaxConcurrency {
		n = config.MaxConcurrency
	}
	return n
}

// Option customises a Coordinator
type Option func(*Coordinator)

// WithLimiter paces page navigations
func WithLimiter(l ratelimit.Limiter) Option {
	return func(c *Coordinator) { c.limiter = l }
}

// WithMetrics reports to r
func WithMetrics(r metrics.Recorder) Option {
	return func(c *Coordinator) { c.metrics = r }
}

// WithObserver reports progress to o
func WithObserver(o Observer) Option {
	return func(c *Coordinator) { c.observer = o }
}

// WithLogger sets the logger
func WithLogger(l logger.Logger) Option {
	return func(c *Coordinator) { c.logger = l }
}

// WithClock replaces time.Now for download timestamps
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) { c.now = now }
}

// Coordinator runs the download state machine over a list of entries
type Coordinator struct {
	session Session
	store   *storage.Manager
	opts    Options

	limiter  ratelimit.Limiter
	metrics  metrics.Recorder
	observer Observer
	logger   logger.Logger
	now      func() time.Time
}

// New creates a coordinator. session may be nil for dry runs.
func New(session Session, store *storage.Manager, opts Options, options ...Option) *Coordinator {
	if opts.Retries < 1 {
		opts.Retries = 1
	}
	if opts.Backoff == nil {
		opts.Backoff = retry.DownloadBackoff(2 * time.Second)
	}
	if opts.Preferred == "" {
		opts.Preferred = sizing.Original
	}

	c := &Coordinator{
		session:  session,
		store:    store,
		opts:     opts,
		limiter:  ratelimit.Unlimited{},
		metrics:  metrics.Nop{},
		observer: nopObserver{},
		logger:   logger.GetLogger(),
		now:      time.Now,
	}
	for _, o := range options {
		o(c)
	}
	c.logger = c.logger.WithField("component", "coordinator")
	return c
}

// Run processes every entry and returns one result per entry in manifest
// order. Per-entry failures are reported in the results; the error is only
// set for failures that stopped the whole run.
func (c *Coordinator) Run(ctx context.Context, entries []models.ManifestEntry) ([]models.DownloadResult, error) {
	start := time.Now()
	workers := c.opts.Workers()

	logger.LogComponentStart(c.logger, "coordinator", map[string]interface{}{
		"entries":        len(entries),
		"workers":        workers,
		"retries":        c.opts.Retries,
		"preferred_size": string(c.opts.Preferred),
		"dry_run":        c.opts.DryRun,
	})

	var (
		results []models.DownloadResult
		err     error
	)
	if c.opts.EnableConcurrency {
		var claimed []bool
		results, claimed, err = c.runConcurrent(ctx, entries, workers)
		// slots nobody claimed belong to entries the run never reached
		for i, ok := range claimed {
			if !ok {
				results[i] = c.unclaimed(ctx, i, entries[i])
			}
		}
	} else {
		results = c.runSequential(ctx, entries)
	}

	c.metrics.ObserveDuration("run", time.Since(start))
	logger.LogComponentStop(c.logger, "coordinator", "finished")
	return results, err
}

func (c *Coordinator) runSequential(ctx context.Context, entries []models.ManifestEntry) []models.DownloadResult {
	results := make([]models.DownloadResult, len(entries))
	for i, entry := range entries {
		if ctx.Err() != nil {
			results[i] = c.unclaimed(ctx, i, entry)
			continue
		}

		results[i] = c.Process(ctx, i, entry)

		if i < len(entries)-1 {
			_ = retry.Wait(ctx, c.opts.SequentialDelay)
		}
	}
	return results
}

func (c *Coordinator) runConcurrent(ctx context.Context, entries []models.ManifestEntry, workers int) ([]models.DownloadResult, []bool, error) {
	pool := downloader.NewWorkerPool(workers, func(ctx context.Context, workerID int, job downloader.Job) (models.DownloadResult, error) {
		result := c.Process(ctx, job.Index, job.Entry)
		if result.Success && !result.Skipped && !result.DryRun {
			_ = retry.Wait(ctx, c.opts.SuccessDelay)
		}
		return result, nil
	}, c.logger)

	return pool.Run(ctx, entries)
}

// unclaimed records an entry the run never started
func (c *Coordinator) unclaimed(ctx context.Context, index int, entry models.ManifestEntry) models.DownloadResult {
	cause := ctx.Err()
	if cause == nil {
		cause = context.Canceled
	}
	e := errs.WithEntry(errs.Wrap(errs.KindCancelled, cause, "run stopped before this entry started"), entry.ID, 0)
	result := c.failed(index, entry, e, 0)
	c.metrics.EntryFinished(metrics.OutcomeFailed, string(e.Kind))
	c.observer.EntryFinished(result)
	return result
}

// Process runs the full state machine for one entry
func (c *Coordinator) Process(ctx context.Context, index int, entry models.ManifestEntry) models.DownloadResult {
	start := time.Now()
	c.metrics.InFlight(1)
	defer c.metrics.InFlight(-1)
	c.observer.EntryStarted(index, entry)

	result := c.process(ctx, index, entry)

	c.metrics.ObserveDuration("entry", time.Since(start))
	switch {
	case !result.Success:
		c.metrics.EntryFinished(metrics.OutcomeFailed, string(result.Kind()))
	case result.Skipped:
		c.metrics.EntryFinished(metrics.OutcomeSkipped, "")
	case result.DryRun:
		c.metrics.EntryFinished(metrics.OutcomeDryRun, "")
	default:
		c.metrics.EntryFinished(metrics.OutcomeDownloaded, "")
		c.metrics.ObserveFileSize(filepath.Ext(result.Path), result.Size)
	}

	var logErr error
	if result.Err != nil {
		logErr = result.Err
	}
	logger.LogDownload(c.logger, entry.ID, result.Path, result.Size, result.Skipped, logErr)
	c.observer.EntryFinished(result)
	return result
}

func (c *Coordinator) process(ctx context.Context, index int, entry models.ManifestEntry) models.DownloadResult {
	if err := storage.ValidateID(entry.ID); err != nil {
		return c.failed(index, entry, errs.WithEntry(errs.Wrap(errs.KindUnknown, err, "refusing entry"), entry.ID, 0), 0)
	}

	existing, found, err := c.store.Find(entry.ID)
	if err != nil {
		return c.failed(index, entry, errs.WithEntry(errs.Wrap(errs.KindUnknown, err, "checking for an existing file"), entry.ID, 0), 0)
	}
	if found {
		return models.DownloadResult{
			Index:        index,
			ID:           entry.ID,
			Success:      true,
			Skipped:      true,
			Path:         existing.Path,
			FileName:     filepath.Base(existing.Path),
			Size:         existing.Size,
			Metadata:     entry.EntryMetadata,
			DownloadedAt: c.now(),
		}
	}

	sel := sizing.Select(entry.Width, c.opts.Preferred)

	if c.opts.DryRun {
		path, err := c.store.Path(entry.ID, storage.DefaultExtension)
		if err != nil {
			return c.failed(index, entry, errs.WithEntry(errs.Wrap(errs.KindUnknown, err, "refusing entry"), entry.ID, 0), 0)
		}
		return models.DownloadResult{
			Index:        index,
			ID:           entry.ID,
			Success:      true,
			DryRun:       true,
			Path:         path,
			FileName:     filepath.Base(path),
			Size:         DryRunSize,
			Metadata:     entry.EntryMetadata,
			Selection:    &sel,
			DownloadedAt: c.now(),
		}
	}

	if c.session == nil {
		return c.failed(index, entry, errs.WithEntry(errs.New(errs.KindUnknown, "no browser session"), entry.ID, 1), 1)
	}

	saved, attempts, err := retry.DoWithResult(ctx, func(ctx context.Context, attempt int) (models.SavedFile, error) {
		s, err := c.attempt(ctx, entry, sel)
		if err != nil {
			e := errs.WithEntry(err, entry.ID, attempt)
			c.metrics.AttemptFailed(string(e.Kind))
			c.observer.AttemptFailed(index, entry, e)
			return models.SavedFile{}, e
		}
		return s, nil
	}, &retry.Config{
		MaxAttempts: c.opts.Retries,
		Backoff:     c.opts.Backoff,
		RetryIf:     retry.DefaultRetryIf,
		Logger:      c.logger.WithField("entry_id", entry.ID),
	})
	if err != nil {
		return c.failed(index, entry, errs.WithEntry(err, entry.ID, attempts), attempts)
	}

	return models.DownloadResult{
		Index:        index,
		ID:           entry.ID,
		Success:      true,
		Path:         saved.Path,
		FileName:     filepath.Base(saved.Path),
		Size:         saved.Size,
		Metadata:     entry.EntryMetadata,
		Attempts:     attempts,
		Selection:    &sel,
		DownloadedAt: c.now(),
	}
}

// attempt is one try at downloading entry. The tab is always released.
func (c *Coordinator) attempt(ctx context.Context, entry models.ManifestEntry, sel sizing.Selection) (models.SavedFile, error) {
	page, err := c.session.Acquire(ctx)
	if err != nil {
		return models.SavedFile{}, err
	}
	defer c.session.Release(page)

	if err := c.limiter.Wait(ctx); err != nil {
		return models.SavedFile{}, errs.Wrap(errs.KindCancelled, err, "waiting for rate limit")
	}

	step := time.Now()
	if err := c.session.Navigate(ctx, page, c.session.PhotoURL(entry.ID)); err != nil {
		return models.SavedFile{}, c.cancelledOr(ctx, err)
	}
	c.metrics.ObserveDuration("navigate", time.Since(step))

	token, err := c.session.ExtractToken(ctx, page)
	if err != nil {
		return models.SavedFile{}, c.cancelledOr(ctx, err)
	}

	step = time.Now()
	transfer, err := c.session.ClickAndAwaitTransfer(ctx, page, models.DownloadRequest{
		EntryID:   entry.ID,
		Token:     token,
		Selection: sel,
	}, c.opts.Timeout)
	if err != nil {
		return models.SavedFile{}, c.cancelledOr(ctx, err)
	}
	c.metrics.ObserveDuration("transfer", time.Since(step))

	dest, err := c.store.Path(entry.ID, storage.ExtensionOf(transfer.SuggestedFilename))
	if err != nil {
		return models.SavedFile{}, errs.Wrap(errs.KindUnknown, err, "choosing destination")
	}
	saved, err := c.session.SaveTransfer(transfer, dest)
	if err != nil {
		return models.SavedFile{}, err
	}
	if saved.Size == 0 {
		if rerr := c.store.Remove(saved.Path); rerr != nil {
			c.logger.WithError(rerr).WithField("path", saved.Path).Warn("Failed to remove empty download")
		}
		return models.SavedFile{}, errs.New(errs.KindEmptyTransfer, "downloaded file %s is empty", filepath.Base(saved.Path))
	}

	return saved, nil
}

// cancelledOr reports a cancelled run instead of whatever the step failed with
func (c *Coordinator) cancelledOr(ctx context.Context, err error) error {
	if ctx.Err() != nil && !errs.Is(err, errs.KindCancelled) {
		return errs.Wrap(errs.KindCancelled, ctx.Err(), err.Error())
	}
	return err
}

func (c *Coordinator) failed(index int, entry models.ManifestEntry, e *errs.Error, attempts int) models.DownloadResult {
	return models.DownloadResult{
		Index:    index,
		ID:       entry.ID,
		Metadata: entry.EntryMetadata,
		Attempts: attempts,
		Err:      e,
		Error:    e.Error(),
	}
}

type nopObserver struct{}

func (nopObserver) EntryStarted(int, models.ManifestEntry)               {}
func (nopObserver) AttemptFailed(int, models.ManifestEntry, *errs.Error) {}
func (nopObserver) EntryFinished(models.DownloadResult)                  {}
