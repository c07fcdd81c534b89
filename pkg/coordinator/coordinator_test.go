package coordinator

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"unsplashdl/pkg/browser"
	errs "unsplashdl/pkg/errors"
	"unsplashdl/pkg/logger"
	"unsplashdl/pkg/models"
	"unsplashdl/pkg/retry"
	"unsplashdl/pkg/sizing"
	"unsplashdl/pkg/storage"
	"unsplashdl/pkg/summary"
)

const testDir = "/downloads"

// fakeSession records every call and writes transfers into an afero filesystem
type fakeSession struct {
	fs    afero.Fs
	pages chan *browser.Page

	acquired  atomic.Int32
	released  atomic.Int32
	navigated atomic.Int32
	extracted atomic.Int32
	clicked   atomic.Int32
	saved     atomic.Int32

	// hooks; nil means succeed
	navigate func(ctx context.Context, id string, call int32) error
	token    func(id string) (string, error)
	payload  func(id string, call int32) []byte
	filename string
	delay    func(id string) time.Duration

	mu       sync.Mutex
	requests []models.DownloadRequest
	inUse    int
	peak     int
}

func newFakeSession(fs afero.Fs, pages int) *fakeSession {
	f := &fakeSession{fs: fs, pages: make(chan *browser.Page, pages), filename: "photo.jpg"}
	for i := 0; i < pages; i++ {
		f.pages <- &browser.Page{ID: fmt.Sprintf("page-%d", i)}
	}
	return f
}

func (f *fakeSession) Acquire(ctx context.Context) (*browser.Page, error) {
	select {
	case p := <-f.pages:
		f.acquired.Add(1)
		f.mu.Lock()
		f.inUse++
		if f.inUse > f.peak {
			f.peak = f.inUse
		}
		f.mu.Unlock()
		return p, nil
	case <-ctx.Done():
		return nil, errs.Wrap(errs.KindCancelled, ctx.Err(), "waiting for a browser tab")
	}
}

func (f *fakeSession) Release(p *browser.Page) {
	f.released.Add(1)
	f.mu.Lock()
	f.inUse--
	f.mu.Unlock()
	f.pages <- p
}

func (f *fakeSession) PhotoURL(id string) string {
	return "https://unsplash.test/photos/" + id
}

func (f *fakeSession) Navigate(ctx context.Context, p *browser.Page, url string) error {
	call := f.navigated.Add(1)
	id := filepath.Base(url)
	if f.delay != nil {
		select {
		case <-time.After(f.delay(id)):
		case <-ctx.Done():
			return errs.Wrap(errs.KindCancelled, ctx.Err(), "navigating")
		}
	}
	if f.navigate != nil {
		return f.navigate(ctx, id, call)
	}
	return nil
}

func (f *fakeSession) ExtractToken(ctx context.Context, p *browser.Page) (string, error) {
	f.extracted.Add(1)
	if f.token != nil {
		return f.token("")
	}
	return "tok", nil
}

func (f *fakeSession) ClickAndAwaitTransfer(ctx context.Context, p *browser.Page, req models.DownloadRequest, timeout time.Duration) (models.Transfer, error) {
	call := f.clicked.Add(1)
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()

	data := []byte("jpeg-bytes-for-" + req.EntryID)
	if f.payload != nil {
		data = f.payload(req.EntryID, call)
	}

	guid := fmt.Sprintf("guid-%s-%d", req.EntryID, call)
	tmp := filepath.Join("/tmp/browser", guid)
	if err := afero.WriteFile(f.fs, tmp, data, 0644); err != nil {
		return models.Transfer{}, err
	}
	return models.Transfer{GUID: guid, SuggestedFilename: f.filename, TempPath: tmp}, nil
}

func (f *fakeSession) SaveTransfer(t models.Transfer, dest string) (models.SavedFile, error) {
	f.saved.Add(1)
	size, err := storage.Move(f.fs, t.TempPath, dest)
	if err != nil {
		return models.SavedFile{}, err
	}
	return models.SavedFile{Path: dest, Size: size}, nil
}

func (f *fakeSession) browserCalls() int32 {
	return f.acquired.Load() + f.navigated.Load() + f.extracted.Load() + f.clicked.Load() + f.saved.Load()
}

func testOptions() Options {
	return Options{
		Retries:   3,
		Preferred: sizing.Large,
		Timeout:   time.Second,
		Backoff:   &retry.LinearBackoff{},
	}
}

func newTestCoordinator(t *testing.T, fs afero.Fs, session Session, opts Options, extra ...Option) *Coordinator {
	t.Helper()
	store := storage.NewManager(fs, testDir)
	options := append([]Option{WithLogger(logger.NewNopLogger())}, extra...)
	return New(session, store, opts, options...)
}

func width(w int) *int { return &w }

func TestProcessDownloadsAndNamesByExtension(t *testing.T) {
	fs := afero.NewMemMapFs()
	session := newFakeSession(fs, 1)
	session.filename = "some-photo-by-someone.PNG"
	c := newTestCoordinator(t, fs, session, testOptions())

	entry := models.ManifestEntry{ID: "abc", EntryMetadata: models.EntryMetadata{Author: "Jane", Width: width(5000)}}
	result := c.Process(context.Background(), 0, entry)

	require.True(t, result.Success, result.Error)
	assert.False(t, result.Skipped)
	assert.Equal(t, filepath.Join(testDir, "abc.png"), result.Path)
	assert.Equal(t, "abc.png", result.FileName)
	assert.Equal(t, int64(len("jpeg-bytes-for-abc")), result.Size)
	assert.Equal(t, "Jane", result.Metadata.Author)
	assert.Equal(t, 1, result.Attempts)
	require.NotNil(t, result.Selection)
	assert.Equal(t, sizing.Large, result.Selection.Size)

	exists, err := afero.Exists(fs, result.Path)
	require.NoError(t, err)
	assert.True(t, exists)
	assert.Equal(t, session.acquired.Load(), session.released.Load())
}

func TestProcessSkipsExistingFileWithoutBrowser(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, filepath.Join(testDir, "abc.webp"), make([]byte, 500), 0644))
	session := newFakeSession(fs, 1)
	c := newTestCoordinator(t, fs, session, testOptions())

	result := c.Process(context.Background(), 3, models.ManifestEntry{ID: "abc"})

	assert.True(t, result.Success)
	assert.True(t, result.Skipped)
	assert.Equal(t, 3, result.Index)
	assert.Equal(t, int64(500), result.Size)
	assert.Equal(t, filepath.Join(testDir, "abc.webp"), result.Path)
	assert.Zero(t, session.browserCalls(), "skipped entries must not touch the browser")
}

func TestProcessRetryCeiling(t *testing.T) {
	for _, retries := range []int{1, 2, 5} {
		t.Run(fmt.Sprintf("retries=%d", retries), func(t *testing.T) {
			fs := afero.NewMemMapFs()
			session := newFakeSession(fs, 1)
			session.navigate = func(ctx context.Context, id string, call int32) error {
				return errs.New(errs.KindTimeout, "page never loaded")
			}

			opts := testOptions()
			opts.Retries = retries
			c := newTestCoordinator(t, fs, session, opts)

			result := c.Process(context.Background(), 0, models.ManifestEntry{ID: "abc"})

			assert.False(t, result.Success)
			assert.Equal(t, int32(retries), session.navigated.Load())
			assert.Equal(t, retries, result.Attempts)
			require.NotNil(t, result.Err)
			assert.Equal(t, errs.KindTimeout, result.Err.Kind)
			assert.Equal(t, "abc", result.Err.EntryID)
			assert.Equal(t, retries, result.Err.Attempt)
			assert.NotEmpty(t, result.Error)
			assert.Equal(t, session.acquired.Load(), session.released.Load(), "every tab must be released")
		})
	}
}

func TestProcessBackoffIsLinear(t *testing.T) {
	fs := afero.NewMemMapFs()
	session := newFakeSession(fs, 1)
	session.navigate = func(ctx context.Context, id string, call int32) error {
		return errs.New(errs.KindTimeout, "slow")
	}

	var delays []time.Duration
	backoff := retry.DownloadBackoff(2 * time.Second)
	opts := testOptions()
	opts.Retries = 4
	opts.Backoff = recordingBackoff{inner: backoff, delays: &delays}
	c := newTestCoordinator(t, fs, session, opts)

	c.Process(context.Background(), 0, models.ManifestEntry{ID: "abc"})

	assert.Equal(t, []time.Duration{2 * time.Second, 4 * time.Second, 6 * time.Second}, delays)
}

// recordingBackoff reports the delays of inner but never sleeps
type recordingBackoff struct {
	inner  retry.BackoffStrategy
	delays *[]time.Duration
}

func (r recordingBackoff) NextDelay(attempt int) time.Duration {
	*r.delays = append(*r.delays, r.inner.NextDelay(attempt))
	return 0
}

func (r recordingBackoff) Reset() {}

func TestProcessEmptyTransferIsRetried(t *testing.T) {
	fs := afero.NewMemMapFs()
	session := newFakeSession(fs, 1)
	session.payload = func(id string, call int32) []byte {
		if call == 1 {
			return nil
		}
		return []byte("real image")
	}
	c := newTestCoordinator(t, fs, session, testOptions())

	result := c.Process(context.Background(), 0, models.ManifestEntry{ID: "abc"})

	require.True(t, result.Success, result.Error)
	assert.Equal(t, 2, result.Attempts)
	assert.Equal(t, int64(len("real image")), result.Size)
}

func TestProcessEmptyTransferExhausted(t *testing.T) {
	fs := afero.NewMemMapFs()
	session := newFakeSession(fs, 1)
	session.payload = func(id string, call int32) []byte { return nil }
	c := newTestCoordinator(t, fs, session, testOptions())

	result := c.Process(context.Background(), 0, models.ManifestEntry{ID: "abc"})

	assert.False(t, result.Success)
	assert.Equal(t, errs.KindEmptyTransfer, result.Kind())
	assert.Equal(t, int32(3), session.clicked.Load())

	exists, err := afero.Exists(fs, filepath.Join(testDir, "abc.jpg"))
	require.NoError(t, err)
	assert.False(t, exists, "empty files must not be left behind")
}

func TestProcessMissingToken(t *testing.T) {
	fs := afero.NewMemMapFs()
	session := newFakeSession(fs, 1)
	session.token = func(string) (string, error) {
		return "", errs.New(errs.KindMissingRequiredToken, "no ixid")
	}
	opts := testOptions()
	opts.Retries = 2
	c := newTestCoordinator(t, fs, session, opts)

	result := c.Process(context.Background(), 0, models.ManifestEntry{ID: "abc"})

	assert.Equal(t, errs.KindMissingRequiredToken, result.Kind())
	assert.Equal(t, int32(2), session.extracted.Load())
	assert.Zero(t, session.clicked.Load())
}

func TestProcessCancelledIsNotRetried(t *testing.T) {
	fs := afero.NewMemMapFs()
	session := newFakeSession(fs, 1)
	ctx, cancel := context.WithCancel(context.Background())
	session.navigate = func(navCtx context.Context, id string, call int32) error {
		cancel()
		return errs.Wrap(errs.KindTimeout, navCtx.Err(), "navigation aborted")
	}
	opts := testOptions()
	opts.Retries = 5
	c := newTestCoordinator(t, fs, session, opts)

	result := c.Process(ctx, 0, models.ManifestEntry{ID: "abc"})

	assert.False(t, result.Success)
	assert.Equal(t, errs.KindCancelled, result.Kind())
	assert.Equal(t, int32(1), session.navigated.Load())
}

func TestProcessDryRunIsPure(t *testing.T) {
	base := afero.NewMemMapFs()
	fs := afero.NewReadOnlyFs(base)
	session := newFakeSession(base, 1)

	opts := testOptions()
	opts.DryRun = true
	c := newTestCoordinator(t, fs, session, opts)

	result := c.Process(context.Background(), 0, models.ManifestEntry{ID: "abc", EntryMetadata: models.EntryMetadata{Width: width(500)}})

	assert.True(t, result.Success)
	assert.True(t, result.DryRun)
	assert.False(t, result.Skipped)
	assert.Equal(t, DryRunSize, result.Size)
	assert.Equal(t, filepath.Join(testDir, "abc.jpg"), result.Path)
	assert.Zero(t, session.browserCalls())

	entries, err := afero.ReadDir(base, "/")
	require.NoError(t, err)
	assert.Empty(t, entries, "dry run must not write anything")
}

func TestRunResolvesSizePerEntry(t *testing.T) {
	fs := afero.NewMemMapFs()
	session := newFakeSession(fs, 1)
	c := newTestCoordinator(t, fs, session, testOptions())

	entries := []models.ManifestEntry{
		{ID: "a", EntryMetadata: models.EntryMetadata{Width: width(3000)}},
		{ID: "b", EntryMetadata: models.EntryMetadata{Width: width(500)}},
	}
	results, err := c.Run(context.Background(), entries)
	require.NoError(t, err)
	require.Len(t, results, 2)

	require.Len(t, session.requests, 2)
	assert.Equal(t, sizing.Large, session.requests[0].Selection.Size)
	require.NotNil(t, session.requests[0].Selection.Width)
	assert.Equal(t, 2400, *session.requests[0].Selection.Width)
	assert.Equal(t, sizing.Original, session.requests[1].Selection.Size)
	assert.Nil(t, session.requests[1].Selection.Width)
}

func TestRunSequentialKeepsManifestOrder(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, filepath.Join(testDir, "e1.jpg"), []byte("x"), 0644))
	session := newFakeSession(fs, 1)
	session.navigate = func(ctx context.Context, id string, call int32) error {
		if id == "e2" {
			return errs.New(errs.KindResourceExhausted, "no button")
		}
		return nil
	}

	var finished []string
	var mu sync.Mutex
	obs := &recordingObserver{onFinish: func(r models.DownloadResult) {
		mu.Lock()
		finished = append(finished, r.ID)
		mu.Unlock()
	}}

	c := newTestCoordinator(t, fs, session, testOptions(), WithObserver(obs))
	entries := []models.ManifestEntry{{ID: "e0"}, {ID: "e1"}, {ID: "e2"}, {ID: "e3"}}

	results, err := c.Run(context.Background(), entries)
	require.NoError(t, err)

	assert.Equal(t, []string{"e0", "e1", "e2", "e3"}, finished)
	for i, r := range results {
		assert.Equal(t, entries[i].ID, r.ID)
		assert.Equal(t, i, r.Index)
	}
	assert.True(t, results[1].Skipped)
	assert.Equal(t, errs.KindResourceExhausted, results[2].Kind())
	assert.Equal(t, 3, obs.attemptFailures())

	s := summary.Summarize(results)
	assert.Equal(t, 2, s.Successful)
	assert.Equal(t, 1, s.Skipped)
	assert.Equal(t, 1, s.Failed)
}

func TestRunConcurrentIndexStability(t *testing.T) {
	const numEntries = 20
	entries := make([]models.ManifestEntry, numEntries)
	for i := range entries {
		entries[i] = models.ManifestEntry{ID: fmt.Sprintf("img%02d", i)}
	}

	for workers := 1; workers <= 10; workers++ {
		t.Run(fmt.Sprintf("workers=%d", workers), func(t *testing.T) {
			fs := afero.NewMemMapFs()
			session := newFakeSession(fs, workers)
			// early entries are slowest so they complete last
			session.delay = func(id string) time.Duration {
				var n int
				fmt.Sscanf(id, "img%d", &n)
				return time.Duration(numEntries-n) * time.Millisecond
			}

			opts := testOptions()
			opts.EnableConcurrency = true
			opts.Concurrency = workers
			c := newTestCoordinator(t, fs, session, opts)

			results, err := c.Run(context.Background(), entries)
			require.NoError(t, err)
			require.Len(t, results, numEntries)

			for i, r := range results {
				assert.Equal(t, entries[i].ID, r.ID, "slot %d", i)
				assert.Equal(t, i, r.Index)
				assert.True(t, r.Success, r.Error)
				assert.Equal(t, filepath.Join(testDir, entries[i].ID+".jpg"), r.Path)
			}
			assert.LessOrEqual(t, session.peak, workers)
			assert.Equal(t, session.acquired.Load(), session.released.Load())
		})
	}
}

func TestRunCancelledRecordsEveryEntry(t *testing.T) {
	fs := afero.NewMemMapFs()
	session := newFakeSession(fs, 2)
	ctx, cancel := context.WithCancel(context.Background())
	session.navigate = func(navCtx context.Context, id string, call int32) error {
		if call == 2 {
			cancel()
		}
		return nil
	}

	opts := testOptions()
	opts.EnableConcurrency = true
	opts.Concurrency = 2
	c := newTestCoordinator(t, fs, session, opts)

	entries := make([]models.ManifestEntry, 8)
	for i := range entries {
		entries[i] = models.ManifestEntry{ID: fmt.Sprintf("c%d", i)}
	}

	results, err := c.Run(ctx, entries)
	require.NoError(t, err)
	require.Len(t, results, len(entries))

	cancelled := 0
	for i, r := range results {
		assert.Equal(t, entries[i].ID, r.ID)
		if !r.Success {
			assert.Equal(t, errs.KindCancelled, r.Kind())
			cancelled++
		}
	}
	assert.Positive(t, cancelled)
	assert.Equal(t, session.acquired.Load(), session.released.Load())
}

func TestProcessRefusesEscapingID(t *testing.T) {
	fs := afero.NewMemMapFs()
	session := newFakeSession(fs, 1)
	c := newTestCoordinator(t, fs, session, testOptions())

	result := c.Process(context.Background(), 0, models.ManifestEntry{ID: "../../etc/evil"})

	assert.False(t, result.Success)
	assert.Equal(t, errs.KindUnknown, result.Kind())
	assert.ErrorIs(t, result.Err, storage.ErrInvalidID)
	assert.Zero(t, session.browserCalls())

	exists, err := afero.Exists(fs, "/etc/evil.jpg")
	require.NoError(t, err)
	assert.False(t, exists)

	opts := testOptions()
	opts.DryRun = true
	dry := newTestCoordinator(t, fs, nil, opts)
	result = dry.Process(context.Background(), 0, models.ManifestEntry{ID: "../outside"})
	assert.False(t, result.Success)
	assert.Empty(t, result.Path)
}

func TestRunConcurrentKeepsResultForEmptyID(t *testing.T) {
	fs := afero.NewMemMapFs()
	session := newFakeSession(fs, 2)

	opts := testOptions()
	opts.EnableConcurrency = true
	opts.Concurrency = 2
	c := newTestCoordinator(t, fs, session, opts)

	results, err := c.Run(context.Background(), []models.ManifestEntry{{ID: ""}, {ID: "abc"}})
	require.NoError(t, err)
	require.Len(t, results, 2)

	// the empty id is refused on its own terms, not reported as never started
	assert.False(t, results[0].Success)
	assert.Equal(t, errs.KindUnknown, results[0].Kind())
	assert.ErrorIs(t, results[0].Err, storage.ErrInvalidID)
	assert.True(t, results[1].Success, results[1].Error)
}

func TestOptionsWorkers(t *testing.T) {
	assert.Equal(t, 1, Options{Concurrency: 5}.Workers())
	assert.Equal(t, 5, Options{Concurrency: 5, EnableConcurrency: true}.Workers())
	assert.Equal(t, 10, Options{Concurrency: 50, EnableConcurrency: true}.Workers())
	assert.Equal(t, 1, Options{EnableConcurrency: true}.Workers())
}

type recordingObserver struct {
	mu       sync.Mutex
	started  int
	failures int
	onFinish func(models.DownloadResult)
}

func (o *recordingObserver) EntryStarted(int, models.ManifestEntry) {
	o.mu.Lock()
	o.started++
	o.mu.Unlock()
}

func (o *recordingObserver) AttemptFailed(int, models.ManifestEntry, *errs.Error) {
	o.mu.Lock()
	o.failures++
	o.mu.Unlock()
}

func (o *recordingObserver) EntryFinished(r models.DownloadResult) {
	if o.onFinish != nil {
		o.onFinish(r)
	}
}

func (o *recordingObserver) attemptFailures() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.failures
}
