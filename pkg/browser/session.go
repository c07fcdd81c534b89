package browser

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/browser"
	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/chromedp"
	"github.com/google/uuid"
	"github.com/spf13/afero"

	"unsplashdl/pkg/config"
	errs "unsplashdl/pkg/errors"
	"unsplashdl/pkg/logger"
	"unsplashdl/pkg/models"
	"unsplashdl/pkg/storage"
)

// Options configures a Session
type Options struct {
	Headless    bool
	Debug       bool
	ExecPath    string
	UserDataDir string
	UserAgent   string
	BaseURL     string
	LoginURL    string
	// Timeout bounds every navigation, extraction and click step
	Timeout time.Duration
	// PoolSize is the number of tabs opened at startup
	PoolSize int
	// DownloadDir receives the temporary directory Chrome downloads into
	DownloadDir string
	// Fs must be the OS filesystem in production, Chrome writes to real paths
	Fs     afero.Fs
	Logger logger.Logger
}

// OptionsFromConfig maps the browser and download sections onto Options
func OptionsFromConfig(cfg *config.Config, poolSize int) Options {
	return Options{
		Headless:    cfg.Browser.Headless,
		Debug:       cfg.Browser.Debug,
		ExecPath:    cfg.Browser.ExecPath,
		UserDataDir: cfg.Browser.UserDataDir,
		UserAgent:   cfg.Browser.UserAgent,
		BaseURL:     cfg.Browser.BaseURL,
		LoginURL:    cfg.Auth.LoginURL,
		Timeout:     cfg.Browser.Timeout(),
		PoolSize:    poolSize,
		DownloadDir: cfg.Download.Directory,
	}
}

// Page is a browser tab on loan from the session pool
type Page struct {
	ID string

	ctx     context.Context
	cancel  context.CancelFunc
	frameID string
}

// Session owns the Chrome process and its tab pool
type Session struct {
	opts   Options
	fs     afero.Fs
	logger logger.Logger

	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc

	tempDir string
	router  *downloadRouter

	pages     chan *Page
	all       []*Page
	closeOnce sync.Once
}

// Credentials are the site account used by Login
type Credentials struct {
	Email    string
	Password string
}

// New starts Chrome, enables downloads into a temporary directory and opens
// PoolSize tabs. Any failure here is fatal for the run.
func New(ctx context.Context, opts Options) (*Session, error) {
	if opts.PoolSize < 1 {
		opts.PoolSize = 1
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.Fs == nil {
		opts.Fs = afero.NewOsFs()
	}
	if opts.Logger == nil {
		opts.Logger = logger.GetLogger()
	}

	s := &Session{
		opts:   opts,
		fs:     opts.Fs,
		logger: opts.Logger.WithField("component", "browser"),
		router: newDownloadRouter(),
		pages:  make(chan *Page, opts.PoolSize),
	}

	absDir, err := filepath.Abs(opts.DownloadDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve download directory: %w", err)
	}
	s.tempDir = filepath.Join(absDir, ".unsplashdl-"+uuid.NewString()[:8])
	if err := s.fs.MkdirAll(s.tempDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create browser download directory: %w", err)
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), s.allocatorOptions()...)
	s.allocCancel = allocCancel

	ctxOpts := []chromedp.ContextOption{
		chromedp.WithLogf(s.cdpLog),
		chromedp.WithErrorf(s.cdpError),
	}
	if opts.Debug {
		ctxOpts = append(ctxOpts, chromedp.WithDebugf(logger.Printf(s.logger, "debug", "cdp")))
	}
	s.browserCtx, s.browserCancel = chromedp.NewContext(allocCtx, ctxOpts...)

	startCtx, stop := bound(ctx, s.browserCtx)
	err = chromedp.Run(startCtx, chromedp.ActionFunc(func(ctx context.Context) error {
		c := chromedp.FromContext(ctx)
		// the Browser executor keeps "sessionId" out of the command
		if err := browser.SetDownloadBehavior(browser.SetDownloadBehaviorBehaviorAllowAndName).
			WithDownloadPath(s.tempDir).
			WithEventsEnabled(true).
			Do(cdp.WithExecutor(ctx, c.Browser)); err != nil {
			return fmt.Errorf("failed to enable downloads: %w", err)
		}

		_, product, _, _, _, err := browser.GetVersion().Do(ctx)
		if err != nil {
			return err
		}
		s.logger.WithField("version", product).Info("Browser started")
		return nil
	}))
	stop()
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("failed to start browser: %w", err)
	}

	chromedp.ListenBrowser(s.browserCtx, s.router.handle)

	for i := 0; i < opts.PoolSize; i++ {
		p, err := s.openPage(ctx)
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("failed to open tab %d: %w", i+1, err)
		}
		s.all = append(s.all, p)
		s.pages <- p
	}

	logger.LogComponentStart(s.logger, "browser", map[string]interface{}{
		"headless":  opts.Headless,
		"pool_size": opts.PoolSize,
		"temp_dir":  s.tempDir,
	})
	return s, nil
}

func (s *Session) allocatorOptions() []chromedp.ExecAllocatorOption {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.Flag("lang", "en-US,en"),
		chromedp.Flag("window-size", "1920,1080"),
	)
	if s.opts.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(s.opts.UserAgent))
	}
	if s.opts.UserDataDir != "" {
		opts = append(opts, chromedp.UserDataDir(s.opts.UserDataDir))
	}
	if !s.opts.Headless {
		// undo the three opts in chromedp.Headless() which is included in DefaultExecAllocatorOptions
		opts = append(opts,
			chromedp.Flag("headless", false),
			chromedp.Flag("hide-scrollbars", false),
			chromedp.Flag("mute-audio", false),
		)
	}
	if s.opts.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(s.opts.ExecPath))
	}
	return opts
}

func (s *Session) openPage(ctx context.Context) (*Page, error) {
	tabCtx, cancel := chromedp.NewContext(s.browserCtx)

	runCtx, stop := bound(ctx, tabCtx)
	defer stop()
	// the first Run creates the target
	if err := chromedp.Run(runCtx); err != nil {
		cancel()
		return nil, err
	}

	return &Page{
		ID:      uuid.NewString(),
		ctx:     tabCtx,
		cancel:  cancel,
		frameID: string(chromedp.FromContext(tabCtx).Target.TargetID),
	}, nil
}

func (s *Session) cdpLog(format string, v ...interface{}) {
	if strings.Contains(format, "unhandled") || strings.Contains(format, "event") {
		return
	}
	s.logger.Debug(fmt.Sprintf(format, v...))
}

func (s *Session) cdpError(format string, v ...interface{}) {
	if strings.Contains(format, "unhandled") || strings.Contains(format, "event") {
		return
	}
	s.logger.Error(fmt.Sprintf(format, v...))
}

// bound derives a context from the chromedp context cdpCtx that is also
// cancelled when ctx is.
func bound(ctx, cdpCtx context.Context) (context.Context, context.CancelFunc) {
	out, cancel := context.WithCancel(cdpCtx)
	stop := context.AfterFunc(ctx, cancel)
	return out, func() {
		stop()
		cancel()
	}
}

// step bounds one automation step on p by the session timeout and by ctx
func (s *Session) step(ctx context.Context, p *Page, timeout time.Duration) (context.Context, context.CancelFunc) {
	tctx, cancel := context.WithTimeout(p.ctx, timeout)
	stop := context.AfterFunc(ctx, cancel)
	return tctx, func() {
		stop()
		cancel()
	}
}

// classify turns a chromedp failure into a download error. A cancelled run
// wins over everything, an expired step becomes KindTimeout.
func classify(ctx context.Context, err error, kind errs.Kind, msg string) error {
	if ctx.Err() != nil {
		return errs.Wrap(errs.KindCancelled, ctx.Err(), msg)
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return errs.Wrap(errs.KindTimeout, err, msg)
	}
	return errs.Wrap(kind, err, msg)
}

// Acquire blocks until a tab is free or ctx is done
func (s *Session) Acquire(ctx context.Context) (*Page, error) {
	select {
	case p, ok := <-s.pages:
		if !ok {
			return nil, errors.New("browser session is closed")
		}
		return p, nil
	case <-ctx.Done():
		return nil, errs.Wrap(errs.KindCancelled, ctx.Err(), "waiting for a browser tab")
	}
}

// Release hands a tab back to the pool
func (s *Session) Release(p *Page) {
	if p == nil {
		return
	}
	select {
	case s.pages <- p:
	default:
		s.logger.WithField("page_id", p.ID).Warn("Released a tab the pool has no room for")
	}
}

// PhotoURL returns the photo page for id on the configured site
func (s *Session) PhotoURL(id string) string {
	return PhotoURL(s.opts.BaseURL, id)
}

// Navigate loads url in p and waits for the body
func (s *Session) Navigate(ctx context.Context, p *Page, url string) error {
	sctx, cancel := s.step(ctx, p, s.opts.Timeout)
	defer cancel()

	start := time.Now()
	resp, err := chromedp.RunResponse(sctx, chromedp.Navigate(url))
	if err != nil {
		return classify(ctx, err, errs.KindTimeout, "navigation to "+url+" failed")
	}
	if resp != nil && (resp.Status < 200 || resp.Status >= 300) {
		return errs.New(errs.KindTimeout, "unexpected response %d navigating to %s", resp.Status, url)
	}

	if err := chromedp.Run(sctx, chromedp.WaitReady("body", chromedp.ByQuery)); err != nil {
		return classify(ctx, err, errs.KindTimeout, "waiting for page body")
	}

	s.logger.DebugWithFields("Navigated", map[string]interface{}{
		"page_id":     p.ID,
		"url":         url,
		"duration_ms": time.Since(start).Milliseconds(),
	})
	return nil
}

const tokenScript = `[...document.querySelectorAll('a[href*="ixid="], img[src*="ixid="], link[href*="ixid="]')]
	.map(e => e.href || e.currentSrc || e.src || '')
	.concat([location.href])`

// ExtractToken reads the ixid token from the links on the current page
func (s *Session) ExtractToken(ctx context.Context, p *Page) (string, error) {
	sctx, cancel := s.step(ctx, p, s.opts.Timeout)
	defer cancel()

	var candidates []string
	if err := chromedp.Run(sctx, chromedp.Evaluate(tokenScript, &candidates)); err != nil {
		return "", classify(ctx, err, errs.KindMissingRequiredToken, "reading page links")
	}

	token := TokenFromURLs(candidates)
	if token == "" {
		return "", errs.New(errs.KindMissingRequiredToken, "no ixid token among %d page links", len(candidates))
	}
	return token, nil
}

// clickStrategy runs a script that reports whether it clicked something
type clickStrategy struct {
	name   string
	script string
}

func clickStrategies(id, downloadURL string) []clickStrategy {
	u, _ := json.Marshal(downloadURL)
	photoPath, _ := json.Marshal("/photos/" + id)

	return []clickStrategy{
		{
			name: "rewrite-anchor",
			script: fmt.Sprintf(`(() => {
	const a = [...document.querySelectorAll('a[href*="/download"]')].find(a => a.href.includes(%s));
	if (!a) return false;
	a.href = %s;
	a.removeAttribute('target');
	a.click();
	return true;
})()`, photoPath, u),
		},
		{
			name: "download-button",
			script: `(() => {
	const b = document.querySelector('[data-testid*="download"], a[title*="Download"], button[title*="Download"]');
	if (!b) return false;
	b.click();
	return true;
})()`,
		},
		{
			name: "inject-anchor",
			script: fmt.Sprintf(`(() => {
	const a = document.createElement('a');
	a.href = %s;
	a.setAttribute('download', '');
	document.body.appendChild(a);
	a.click();
	a.remove();
	return true;
})()`, u),
		},
	}
}

// ClickAndAwaitTransfer triggers the download described by req and waits for
// the browser to finish writing it.
func (s *Session) ClickAndAwaitTransfer(ctx context.Context, p *Page, req models.DownloadRequest, timeout time.Duration) (models.Transfer, error) {
	if timeout <= 0 {
		timeout = s.opts.Timeout
	}

	w, unregister := s.router.register(p.frameID, req.EntryID)
	defer unregister()

	downloadURL := RequestURL(s.opts.BaseURL, req.EntryID, req.Token, req.Selection)
	log := s.logger.WithFields(map[string]interface{}{
		"page_id":  p.ID,
		"entry_id": req.EntryID,
		"tier":     string(req.Selection.Size),
	})

	strategies := clickStrategies(req.EntryID, downloadURL)
	clicked := ""
	for _, strategy := range strategies {
		sctx, cancel := s.step(ctx, p, timeout)
		var ok bool
		err := chromedp.Run(sctx, chromedp.Evaluate(strategy.script, &ok))
		cancel()

		if ctx.Err() != nil {
			return models.Transfer{}, errs.Wrap(errs.KindCancelled, ctx.Err(), "clicking download")
		}
		if err != nil {
			log.WithError(err).DebugWithFields("Click strategy failed", map[string]interface{}{"strategy": strategy.name})
			continue
		}
		if ok {
			clicked = strategy.name
			break
		}
	}
	if clicked == "" {
		return models.Transfer{}, errs.New(errs.KindResourceExhausted,
			"no download trigger found after %d strategies", len(strategies))
	}
	log.WithField("strategy", clicked).Debug("Download requested")

	return s.awaitTransfer(ctx, w, timeout)
}

func (s *Session) awaitTransfer(ctx context.Context, w *downloadWaiter, timeout time.Duration) (models.Transfer, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	var begin *browser.EventDownloadWillBegin
	select {
	case begin = <-w.begin:
	case <-timer.C:
		return models.Transfer{}, errs.New(errs.KindTimeout, "download did not start within %s", timeout)
	case <-ctx.Done():
		return models.Transfer{}, errs.Wrap(errs.KindCancelled, ctx.Err(), "waiting for download to start")
	}

	// progress events push the deadline out
	timer.Reset(timeout)
	for {
		select {
		case <-w.progress:
			timer.Reset(timeout)
		case ev := <-w.done:
			if ev.State != browser.DownloadProgressStateCompleted {
				return models.Transfer{}, errs.New(errs.KindUnknown, "download %s ended in state %s", begin.GUID, ev.State)
			}
			return models.Transfer{
				GUID:              begin.GUID,
				SuggestedFilename: begin.SuggestedFilename,
				TempPath:          filepath.Join(s.tempDir, begin.GUID),
			}, nil
		case <-timer.C:
			return models.Transfer{}, errs.New(errs.KindTimeout, "download %s did not complete within %s", begin.GUID, timeout)
		case <-ctx.Done():
			return models.Transfer{}, errs.Wrap(errs.KindCancelled, ctx.Err(), "waiting for download to complete")
		}
	}
}

// SaveTransfer moves a completed download to dest
func (s *Session) SaveTransfer(t models.Transfer, dest string) (models.SavedFile, error) {
	size, err := storage.Move(s.fs, t.TempPath, dest)
	if err != nil {
		return models.SavedFile{}, errs.Wrap(errs.KindUnknown, err, "failed to save download")
	}
	return models.SavedFile{Path: dest, Size: size}, nil
}

// Login signs in with creds on the first free tab. The caller decides
// whether a failure is fatal.
func (s *Session) Login(ctx context.Context, creds Credentials) error {
	if creds.Email == "" || creds.Password == "" {
		return errors.New("email and password are required")
	}

	p, err := s.Acquire(ctx)
	if err != nil {
		return err
	}
	defer s.Release(p)

	if err := s.Navigate(ctx, p, s.opts.LoginURL); err != nil {
		return fmt.Errorf("failed to open login page: %w", err)
	}

	sctx, cancel := s.step(ctx, p, s.opts.Timeout)
	defer cancel()

	var location string
	err = chromedp.Run(sctx,
		chromedp.WaitVisible(`input[name="email"]`, chromedp.ByQuery),
		chromedp.SendKeys(`input[name="email"]`, creds.Email, chromedp.ByQuery),
		chromedp.SendKeys(`input[name="password"]`, creds.Password, chromedp.ByQuery),
		chromedp.Click(`form button[type="submit"], form input[type="submit"]`, chromedp.ByQuery),
		chromedp.ActionFunc(func(ctx context.Context) error {
			for {
				if err := chromedp.Location(&location).Do(ctx); err != nil {
					return err
				}
				if !strings.Contains(location, "/login") {
					return nil
				}
				select {
				case <-time.After(250 * time.Millisecond):
				case <-ctx.Done():
					return ctx.Err()
				}
			}
		}),
	)
	if err != nil {
		return classify(ctx, err, errs.KindTimeout, "login did not complete")
	}

	s.logger.WithField("location", location).Info("Signed in")
	return nil
}

// TempDir is where Chrome writes downloads before SaveTransfer moves them
func (s *Session) TempDir() string {
	return s.tempDir
}

// Close shuts the browser down and removes the temporary directory
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		for _, p := range s.all {
			p.cancel()
		}
		if s.browserCancel != nil {
			s.browserCancel()
		}
		if s.allocCancel != nil {
			s.allocCancel()
		}
		if pending := s.router.pending(); pending > 0 {
			s.logger.WithField("pending", pending).Warn("Closing browser with downloads in progress")
		}
		if s.tempDir != "" {
			if err := s.fs.RemoveAll(s.tempDir); err != nil && !errors.Is(err, os.ErrNotExist) {
				s.logger.WithError(err).Warn("Failed to remove browser download directory")
			}
		}
		logger.LogComponentStop(s.logger, "browser", "closed")
	})
}
