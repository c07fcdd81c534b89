package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"unsplashdl/pkg/auth"
	"unsplashdl/pkg/browser"
	"unsplashdl/pkg/config"
	"unsplashdl/pkg/coordinator"
	"unsplashdl/pkg/logger"
	"unsplashdl/pkg/manifest"
	"unsplashdl/pkg/metrics"
	"unsplashdl/pkg/models"
	"unsplashdl/pkg/publish"
	"unsplashdl/pkg/ratelimit"
	"unsplashdl/pkg/storage"
	"unsplashdl/pkg/summary"
	"unsplashdl/pkg/ui"
	"unsplashdl/pkg/ui/tui"
)

var (
	downloadDir      string
	outputManifest   string
	preferredSize    string
	retries          int
	timeoutMS        int
	concurrency      int
	enableConcurrent bool
	dryRun           bool
	limit            int
	headless         bool
	debugBrowser     bool
	execPath         string
	accountEmail     string
	useTUI           bool
	failOnError      bool
	notify           bool
	logFile          string
	metricsTextfile  string
	metricsAddr      string
	s3Bucket         string
)

// downloadCmd represents the download command
var downloadCmd = &cobra.Command{
	Use:   "download [manifest]",
	Short: "Download every image listed in a manifest",
	Long: `Download every image listed in a JSON manifest through an automated browser.

Images already present in the download directory are skipped. Each remaining
image is opened on its photo page and downloaded with the page's own token,
picking the smallest size that still covers the width recorded in the manifest.

When the run ends a result manifest is written next to the images (or to
--output) listing what was saved and what failed.`,
	Example: `  # Download everything in manifest.json into ./downloads
  unsplashdl download manifest.json

  # Three tabs in parallel, large size, first 20 entries only
  unsplashdl download manifest.json --concurrent --concurrency 3 --size large --limit 20

  # See what would happen without opening a browser
  unsplashdl download manifest.json --dry-run`,
	Args: cobra.MaximumNArgs(1),
	RunE: runDownload,
}

func init() {
	rootCmd.AddCommand(downloadCmd)
	addDownloadFlags(downloadCmd.Flags())
}

func addDownloadFlags(f *pflag.FlagSet) {
	f.StringVarP(&downloadDir, "dir", "d", "", "download directory (default ./downloads)")
	f.StringVarP(&outputManifest, "output", "o", "", "result manifest path (default <dir>/download-manifest.json)")
	f.StringVarP(&preferredSize, "size", "s", "", "preferred size: original, large, medium or small")
	f.IntVar(&retries, "retries", 0, "attempts per image (default 3)")
	f.IntVar(&timeoutMS, "timeout", 0, "timeout in milliseconds for each browser step (default 30000)")
	f.IntVar(&concurrency, "concurrency", 0, fmt.Sprintf("parallel tabs when --concurrent is set, 1-%d (default 3)", config.MaxConcurrency))
	f.BoolVar(&enableConcurrent, "concurrent", false, "download several images at once")
	f.BoolVar(&dryRun, "dry-run", false, "simulate the run without a browser or any file changes")
	f.IntVar(&limit, "limit", 0, "only process the first N manifest entries")
	f.BoolVar(&headless, "headless", true, "run Chrome without a window")
	f.BoolVar(&debugBrowser, "debug", false, "log browser protocol traffic")
	f.StringVar(&execPath, "exec-path", "", "path to the Chrome executable")
	f.StringVarP(&accountEmail, "account", "a", "", "stored account to sign in with")
	f.BoolVar(&useTUI, "tui", false, "use interactive terminal UI with live progress")
	f.BoolVar(&failOnError, "fail-on-error", false, "exit with status 1 when any image failed")
	f.BoolVar(&notify, "notify", false, "send a desktop notification when the run ends")
	f.StringVar(&logFile, "log-file", "", "also write logs to this file")
	f.StringVar(&metricsTextfile, "metrics-textfile", "", "write Prometheus metrics to this file when the run ends")
	f.StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address during the run")
	f.StringVar(&s3Bucket, "s3-bucket", "", "upload saved images and the result manifest to this bucket")
}

// downloadOverrides collects the flags that were set explicitly
func downloadOverrides(cmd *cobra.Command, args []string) config.Overrides {
	o := globalOverrides(cmd)
	flags := cmd.Flags()

	str := func(name string, v *string) *string {
		if flags.Changed(name) {
			return v
		}
		return nil
	}
	num := func(name string, v *int) *int {
		if flags.Changed(name) {
			return v
		}
		return nil
	}
	flag := func(name string, v *bool) *bool {
		if flags.Changed(name) {
			return v
		}
		return nil
	}

	o.Directory = str("dir", &downloadDir)
	o.OutputManifest = str("output", &outputManifest)
	o.PreferredSize = str("size", &preferredSize)
	o.Retries = num("retries", &retries)
	o.TimeoutMS = num("timeout", &timeoutMS)
	o.Concurrency = num("concurrency", &concurrency)
	o.EnableConcurrency = flag("concurrent", &enableConcurrent)
	o.DryRun = flag("dry-run", &dryRun)
	o.Limit = num("limit", &limit)
	o.Headless = flag("headless", &headless)
	o.Debug = flag("debug", &debugBrowser)
	o.ExecPath = str("exec-path", &execPath)
	o.Account = str("account", &accountEmail)
	o.TUI = flag("tui", &useTUI)
	o.Notifications = flag("notify", &notify)
	o.LogFile = str("log-file", &logFile)
	o.MetricsTextfile = str("metrics-textfile", &metricsTextfile)
	o.MetricsAddr = str("metrics-addr", &metricsAddr)
	o.S3Bucket = str("s3-bucket", &s3Bucket)

	if len(args) > 0 {
		o.Manifest = &args[0]
	}
	return o
}

func runDownload(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configFile, downloadOverrides(cmd, args))
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	// the TUI owns the terminal, so console logs only go to the log file
	if cfg.UI.TUI {
		cfg.Logging.Console = false
	}
	if cfg.UI.Quiet && !cmd.Flags().Changed("log-level") {
		cfg.Logging.Level = "error"
	}
	if err := logger.Initialize(&cfg.Logging); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	log := logger.WithField("command", "download")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	src, err := manifest.Load(afero.NewOsFs(), cfg.Download.Manifest, cfg.Download.Limit)
	if err != nil {
		return fmt.Errorf("failed to read manifest: %w", err)
	}
	log.InfoWithFields("Manifest loaded", map[string]interface{}{
		"path":    src.Path,
		"entries": len(src.Entries),
		"limit":   cfg.Download.Limit,
	})

	if !cfg.UI.Quiet && !cfg.UI.TUI {
		ui.PrintInfo("Manifest", src.Path)
		ui.PrintInfo("Entries", fmt.Sprintf("%d", len(src.Entries)))
		ui.PrintInfo("Directory", cfg.Download.Directory)
		if cfg.Download.DryRun {
			ui.PrintWarning("Dry run: no browser, no file changes")
		}
	}

	opts := coordinator.OptionsFromConfig(cfg)

	var fs afero.Fs = afero.NewOsFs()
	if cfg.Download.DryRun {
		fs = afero.NewReadOnlyFs(fs)
	}
	store := storage.NewManager(fs, cfg.Download.Directory)
	if !cfg.Download.DryRun {
		if err := store.EnsureDir(); err != nil {
			return fmt.Errorf("failed to create download directory: %w", err)
		}
	}
	if known, err := store.Scan(); err != nil {
		log.WithError(err).Warn("Could not scan download directory")
	} else if known > 0 {
		log.WithField("existing", known).Info("Found images already downloaded")
	}

	var session coordinator.Session
	if !cfg.Download.DryRun {
		if !cfg.UI.Quiet && !cfg.UI.TUI {
			ui.PrintHighlight("[STARTING BROWSER]")
		}
		bs, err := browser.New(ctx, browser.OptionsFromConfig(cfg, opts.Workers()))
		if err != nil {
			return fmt.Errorf("failed to start browser: %w", err)
		}
		defer bs.Close()
		signIn(ctx, bs, cfg)
		session = bs
	}

	limiter, err := ratelimit.New(cfg.RateLimit)
	if err != nil {
		return fmt.Errorf("failed to configure rate limit: %w", err)
	}

	coordOpts := []coordinator.Option{
		coordinator.WithLimiter(limiter),
		coordinator.WithLogger(logger.GetLogger()),
	}

	var prom *metrics.Prometheus
	if cfg.Metrics.Enabled() {
		prom = metrics.NewPrometheus("unsplashdl")
		coordOpts = append(coordOpts, coordinator.WithMetrics(prom))
		if cfg.Metrics.ListenAddr != "" {
			serveCtx, stopServe := context.WithCancel(ctx)
			defer stopServe()
			go func() {
				if err := prom.Serve(serveCtx, cfg.Metrics.ListenAddr); err != nil {
					log.WithError(err).Warn("Metrics listener stopped")
				}
			}()
		}
	}

	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()

	display := newDisplay(cfg, src, cancelRun)
	if display != nil {
		coordOpts = append(coordOpts, coordinator.WithObserver(display))
	}

	results, runErr := coordinator.New(session, store, opts, coordOpts...).Run(runCtx, src.Entries)
	s := summary.Summarize(results)

	if display != nil {
		display.Complete(s)
	} else if !cfg.UI.Quiet {
		ui.PrintHighlight(s.String())
	}
	if runErr != nil {
		log.WithError(runErr).Error("Run stopped early")
	}
	logger.LogMetrics(log, "download", map[string]interface{}{
		"total":       s.Total,
		"successful":  s.Successful,
		"skipped":     s.Skipped,
		"failed":      s.Failed,
		"total_bytes": s.TotalBytes,
	})

	if cfg.Download.DryRun {
		if !cfg.UI.Quiet {
			ui.PrintInfo("Result manifest (not written)", cfg.Download.OutputManifestPath())
		}
	} else if err := finishRun(ctx, cfg, src, results, s, prom); err != nil {
		return fmt.Errorf("failed to record run: %w", err)
	}

	if cfg.UI.Notifications {
		ui.NewNotifier().RunFinished(s)
	}

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return runErr
	}
	if failOnError && !s.AllSucceeded() {
		return fmt.Errorf("%d of %d images failed", s.Failed, s.Total)
	}
	return nil
}

// signIn logs the browser in when an account is available. Failures only warn.
func signIn(ctx context.Context, bs *browser.Session, cfg *config.Config) {
	log := logger.WithField("command", "download")

	manager, err := auth.NewManager()
	if err != nil {
		log.WithError(err).Warn("Credential storage unavailable, continuing without signing in")
		return
	}

	account, err := manager.Resolve(cfg.Auth.Account)
	if err != nil {
		if cfg.Auth.Account != "" {
			ui.PrintWarning("Account not found, continuing without signing in", cfg.Auth.Account)
		}
		log.WithError(err).Debug("No stored account")
		return
	}

	if err := bs.Login(ctx, browser.Credentials{Email: account.Email, Password: account.Password}); err != nil {
		log.WithError(err).WithField("account", account.Email).Warn("Sign in failed, continuing anonymously")
		if !cfg.UI.Quiet && !cfg.UI.TUI {
			ui.PrintWarning("Sign in failed", err.Error())
		}
		return
	}
	if !cfg.UI.Quiet && !cfg.UI.TUI {
		ui.PrintInfo("Signed in as", account.Email)
	}
}

// newDisplay picks the progress output for the run, or nil when quiet
func newDisplay(cfg *config.Config, src *manifest.Source, cancel context.CancelFunc) ui.Display {
	switch {
	case cfg.UI.TUI:
		t := tui.NewTUI(src.Entries, tui.Settings{
			Source:               src.Path,
			OutputDir:            cfg.Download.Directory,
			Workers:              coordinator.OptionsFromConfig(cfg).Workers(),
			Retries:              cfg.Download.Retries,
			PreferredSize:        cfg.Download.PreferredSize,
			DryRun:               cfg.Download.DryRun,
			NavigationsPerMinute: cfg.RateLimit.NavigationsPerMinute,
		}, cancel)
		t.Start()
		return t
	case cfg.UI.Quiet || !cfg.UI.Progress:
		return nil
	default:
		return ui.NewProgressDisplay(os.Stdout, "DOWNLOADING", len(src.Entries), verbose)
	}
}

// finishRun writes the result manifest, exports metrics and publishes
func finishRun(ctx context.Context, cfg *config.Config, src *manifest.Source, results []models.DownloadResult, s summary.RunSummary, prom *metrics.Prometheus) error {
	log := logger.WithField("command", "download")
	fs := afero.NewOsFs()

	result := manifest.BuildResult(src, results, s, manifest.BuildOptions{
		GeneratedAt: time.Now().UTC(),
		RunID:       uuid.NewString(),
	})
	path := cfg.Download.OutputManifestPath()
	if err := manifest.Write(fs, path, result); err != nil {
		return err
	}
	if !cfg.UI.Quiet {
		ui.PrintInfo("Result manifest", path)
	}

	if prom != nil && cfg.Metrics.Textfile != "" {
		if err := prom.WriteTextfile(cfg.Metrics.Textfile); err != nil {
			log.WithError(err).Warn("Could not write metrics")
		}
	}

	if !cfg.Publish.S3.Enabled() {
		return nil
	}

	// uploads run even if the download was interrupted
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Minute)
	defer cancel()

	client, err := publish.NewS3Client(pubCtx, cfg.Publish.S3)
	if err != nil {
		log.WithError(err).Warn("Publishing disabled")
		return nil
	}
	uploader := publish.NewUploader(client, fs, cfg.Publish.S3, logger.GetLogger())

	report, err := uploader.PublishResults(pubCtx, results)
	if err != nil {
		log.WithError(err).Warn("Publishing stopped early")
	}
	if _, err := uploader.PutFile(pubCtx, path, map[string]string{"run-id": result.RunID}); err != nil {
		log.WithError(err).Warn("Could not upload result manifest")
	}

	if !cfg.UI.Quiet {
		ui.PrintInfo("Published", fmt.Sprintf("%d images (%s) to s3://%s", report.Uploaded, summary.FormatBytes(report.Bytes), cfg.Publish.S3.Bucket))
		if n := len(report.Failed); n > 0 {
			ui.PrintWarning("Uploads failed", fmt.Sprintf("%d", n))
		}
	}
	return nil
}
