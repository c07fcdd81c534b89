package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"unsplashdl/pkg/sizing"
)

// EnvPrefix is prepended to every environment variable the config reads
const EnvPrefix = "UNSPLASHDL_"

// MaxConcurrency is the hard cap on parallel browser tabs
const MaxConcurrency = 10

// Config holds all configuration options for unsplashdl
type Config struct {
	Browser   BrowserConfig   `yaml:"browser" json:"browser"`
	Download  DownloadConfig  `yaml:"download" json:"download"`
	RateLimit RateLimitConfig `yaml:"rate_limit" json:"rate_limit"`
	Auth      AuthConfig      `yaml:"auth" json:"auth"`
	Logging   LoggingConfig   `yaml:"logging" json:"logging"`
	UI        UIConfig        `yaml:"ui" json:"ui"`
	Metrics   MetricsConfig   `yaml:"metrics" json:"metrics"`
	Publish   PublishConfig   `yaml:"publish" json:"publish"`
}

// BrowserConfig controls the automated Chrome instance
type BrowserConfig struct {
	Headless    bool   `yaml:"headless" json:"headless"`
	Debug       bool   `yaml:"debug" json:"debug"`
	ExecPath    string `yaml:"exec_path" json:"exec_path"`
	UserDataDir string `yaml:"user_data_dir" json:"user_data_dir"`
	BaseURL     string `yaml:"base_url" json:"base_url"`
	UserAgent   string `yaml:"user_agent" json:"user_agent"`
	// TimeoutMS bounds every navigation, extraction and click step
	TimeoutMS int `yaml:"timeout_ms" json:"timeout_ms"`
}

// Timeout returns TimeoutMS as a duration
func (b BrowserConfig) Timeout() time.Duration {
	return time.Duration(b.TimeoutMS) * time.Millisecond
}

// DownloadConfig holds the run parameters
type DownloadConfig struct {
	Directory         string `yaml:"directory" json:"directory"`
	Manifest          string `yaml:"manifest" json:"manifest"`
	OutputManifest    string `yaml:"output_manifest" json:"output_manifest"`
	PreferredSize     string `yaml:"preferred_size" json:"preferred_size"`
	Retries           int    `yaml:"retries" json:"retries"`
	Concurrency       int    `yaml:"concurrency" json:"concurrency"`
	EnableConcurrency bool   `yaml:"enable_concurrency" json:"enable_concurrency"`
	DryRun            bool   `yaml:"dry_run" json:"dry_run"`
	// Limit keeps only the first Limit manifest entries; 0 keeps all
	Limit int `yaml:"limit" json:"limit"`
}

// OutputManifestPath returns the result manifest location, defaulting into the download directory
func (d DownloadConfig) OutputManifestPath() string {
	if d.OutputManifest != "" {
		return d.OutputManifest
	}
	return filepath.Join(d.Directory, "download-manifest.json")
}

// RateLimitConfig paces page navigations. Zero disables pacing.
type RateLimitConfig struct {
	NavigationsPerMinute int    `yaml:"navigations_per_minute" json:"navigations_per_minute"`
	Burst                int    `yaml:"burst" json:"burst"`
	Strategy             string `yaml:"strategy" json:"strategy"`
}

// AuthConfig selects the stored site account to log in with
type AuthConfig struct {
	Account  string `yaml:"account" json:"account"`
	LoginURL string `yaml:"login_url" json:"login_url"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level   string `yaml:"level" json:"level"`
	File    string `yaml:"file" json:"file"`
	Format  string `yaml:"format" json:"format"`
	Console bool   `yaml:"console" json:"console"`
	NoColor bool   `yaml:"no_color" json:"no_color"`
}

// UIConfig holds terminal output preferences
type UIConfig struct {
	TUI           bool `yaml:"tui" json:"tui"`
	Quiet         bool `yaml:"quiet" json:"quiet"`
	Progress      bool `yaml:"progress" json:"progress"`
	Notifications bool `yaml:"notifications" json:"notifications"`
}

// MetricsConfig controls prometheus export
type MetricsConfig struct {
	Textfile   string `yaml:"textfile" json:"textfile"`
	ListenAddr string `yaml:"listen_addr" json:"listen_addr"`
}

// Enabled reports whether any export is configured
func (m MetricsConfig) Enabled() bool {
	return m.Textfile != "" || m.ListenAddr != ""
}

// PublishConfig holds optional upload targets
type PublishConfig struct {
	S3 S3Config `yaml:"s3" json:"s3"`
}

// S3Config describes an S3 compatible bucket that receives saved images
type S3Config struct {
	Bucket          string `yaml:"bucket" json:"bucket"`
	Prefix          string `yaml:"prefix" json:"prefix"`
	Region          string `yaml:"region" json:"region"`
	Endpoint        string `yaml:"endpoint" json:"endpoint"`
	AccessKeyID     string `yaml:"access_key_id" json:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key" json:"secret_access_key"`
	UsePathStyle    bool   `yaml:"use_path_style" json:"use_path_style"`
}

// Enabled reports whether uploads are configured
func (s S3Config) Enabled() bool {
	return s.Bucket != ""
}

// DefaultConfig returns a Config instance with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Browser: BrowserConfig{
			Headless:  true,
			BaseURL:   "https://unsplash.com",
			UserAgent: "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
			TimeoutMS: 30000,
		},
		Download: DownloadConfig{
			Directory:     "./downloads",
			Manifest:      "./manifest.json",
			PreferredSize: string(sizing.Large),
			Retries:       3,
			Concurrency:   3,
		},
		RateLimit: RateLimitConfig{
			Burst:    1,
			Strategy: "token_bucket",
		},
		Auth: AuthConfig{
			LoginURL: "https://unsplash.com/login",
		},
		Logging: LoggingConfig{
			Level:   "info",
			Format:  "console",
			Console: true,
		},
		UI: UIConfig{
			Progress: true,
		},
	}
}

// Overrides carries values set explicitly on the command line. Nil fields are left alone.
type Overrides struct {
	Headless          *bool
	Debug             *bool
	ExecPath          *string
	TimeoutMS         *int
	Retries           *int
	PreferredSize     *string
	Concurrency       *int
	EnableConcurrency *bool
	DryRun            *bool
	Directory         *string
	Manifest          *string
	OutputManifest    *string
	Limit             *int
	Account           *string
	LogLevel          *string
	LogFile           *string
	NoColor           *bool
	Quiet             *bool
	TUI               *bool
	Notifications     *bool
	MetricsTextfile   *string
	MetricsAddr       *string
	S3Bucket          *string
}

// envReader collects parse failures so one bad variable does not hide the others
type envReader struct {
	errs []error
}

func (r *envReader) str(name string, dst *string) {
	if v, ok := os.LookupEnv(EnvPrefix + name); ok && v != "" {
		*dst = v
	}
}

func (r *envReader) int(name string, dst *int) {
	v, ok := os.LookupEnv(EnvPrefix + name)
	if !ok || v == "" {
		return
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%s%s: %w", EnvPrefix, name, err))
		return
	}
	*dst = n
}

func (r *envReader) bool(name string, dst *bool) {
	v, ok := os.LookupEnv(EnvPrefix + name)
	if !ok || v == "" {
		return
	}
	b, err := strconv.ParseBool(strings.TrimSpace(v))
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%s%s: %w", EnvPrefix, name, err))
		return
	}
	*dst = b
}

// LoadFromEnv loads configuration from UNSPLASHDL_* environment variables
func (c *Config) LoadFromEnv() error {
	r := &envReader{}

	r.bool("HEADLESS", &c.Browser.Headless)
	r.bool("DEBUG", &c.Browser.Debug)
	r.str("CHROME_PATH", &c.Browser.ExecPath)
	r.str("USER_DATA_DIR", &c.Browser.UserDataDir)
	r.str("BASE_URL", &c.Browser.BaseURL)
	r.int("TIMEOUT_MS", &c.Browser.TimeoutMS)

	r.str("DOWNLOAD_DIR", &c.Download.Directory)
	r.str("MANIFEST", &c.Download.Manifest)
	r.str("OUTPUT_MANIFEST", &c.Download.OutputManifest)
	r.str("PREFERRED_SIZE", &c.Download.PreferredSize)
	r.int("RETRIES", &c.Download.Retries)
	r.int("CONCURRENCY", &c.Download.Concurrency)
	r.bool("ENABLE_CONCURRENCY", &c.Download.EnableConcurrency)
	r.bool("DRY_RUN", &c.Download.DryRun)
	r.int("LIMIT", &c.Download.Limit)

	r.int("NAVIGATIONS_PER_MINUTE", &c.RateLimit.NavigationsPerMinute)
	r.str("ACCOUNT", &c.Auth.Account)

	r.str("LOG_LEVEL", &c.Logging.Level)
	r.str("LOG_FILE", &c.Logging.File)
	r.str("LOG_FORMAT", &c.Logging.Format)

	r.bool("NOTIFICATIONS", &c.UI.Notifications)

	r.str("METRICS_TEXTFILE", &c.Metrics.Textfile)
	r.str("METRICS_ADDR", &c.Metrics.ListenAddr)

	r.str("S3_BUCKET", &c.Publish.S3.Bucket)
	r.str("S3_PREFIX", &c.Publish.S3.Prefix)
	r.str("S3_REGION", &c.Publish.S3.Region)
	r.str("S3_ENDPOINT", &c.Publish.S3.Endpoint)
	r.str("S3_ACCESS_KEY_ID", &c.Publish.S3.AccessKeyID)
	r.str("S3_SECRET_ACCESS_KEY", &c.Publish.S3.SecretAccessKey)
	r.bool("S3_USE_PATH_STYLE", &c.Publish.S3.UsePathStyle)

	return errors.Join(r.errs...)
}

// LoadFromFile loads configuration from a YAML file. An empty path searches
// the default locations and finding nothing is not an error.
func (c *Config) LoadFromFile(path string) error {
	if path == "" {
		path = findConfigFile()
		if path == "" {
			return nil
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

// findConfigFile searches for config file in standard locations
func findConfigFile() string {
	home, _ := os.UserHomeDir()
	locations := []string{
		".unsplashdl.yaml",
		".unsplashdl.yml",
	}
	if home != "" {
		locations = append(locations,
			filepath.Join(home, ".config", "unsplashdl", "config.yaml"),
			filepath.Join(home, ".config", "unsplashdl", "config.yml"),
			filepath.Join(home, ".unsplashdl.yaml"),
		)
	}

	for _, loc := range locations {
		if _, err := os.Stat(loc); err == nil {
			return loc
		}
	}

	return ""
}

// Apply copies every non-nil override into the config
func (c *Config) Apply(o Overrides) {
	setBool := func(dst *bool, v *bool) {
		if v != nil {
			*dst = *v
		}
	}
	setInt := func(dst *int, v *int) {
		if v != nil {
			*dst = *v
		}
	}
	setStr := func(dst *string, v *string) {
		if v != nil {
			*dst = *v
		}
	}

	setBool(&c.Browser.Headless, o.Headless)
	setBool(&c.Browser.Debug, o.Debug)
	setStr(&c.Browser.ExecPath, o.ExecPath)
	setInt(&c.Browser.TimeoutMS, o.TimeoutMS)
	setInt(&c.Download.Retries, o.Retries)
	setStr(&c.Download.PreferredSize, o.PreferredSize)
	setInt(&c.Download.Concurrency, o.Concurrency)
	setBool(&c.Download.EnableConcurrency, o.EnableConcurrency)
	setBool(&c.Download.DryRun, o.DryRun)
	setStr(&c.Download.Directory, o.Directory)
	setStr(&c.Download.Manifest, o.Manifest)
	setStr(&c.Download.OutputManifest, o.OutputManifest)
	setInt(&c.Download.Limit, o.Limit)
	setStr(&c.Auth.Account, o.Account)
	setStr(&c.Logging.Level, o.LogLevel)
	setStr(&c.Logging.File, o.LogFile)
	setBool(&c.Logging.NoColor, o.NoColor)
	setBool(&c.UI.Quiet, o.Quiet)
	setBool(&c.UI.TUI, o.TUI)
	setBool(&c.UI.Notifications, o.Notifications)
	setStr(&c.Metrics.Textfile, o.MetricsTextfile)
	setStr(&c.Metrics.ListenAddr, o.MetricsAddr)
	setStr(&c.Publish.S3.Bucket, o.S3Bucket)

	// a debug browser implies debug logging unless the level was given explicitly
	if c.Browser.Debug && o.LogLevel == nil && o.Debug != nil {
		c.Logging.Level = "debug"
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	var errs []error

	if c.Browser.TimeoutMS <= 0 {
		errs = append(errs, errors.New("browser timeout must be positive"))
	}
	if c.Browser.BaseURL == "" {
		errs = append(errs, errors.New("browser base URL is required"))
	}

	if c.Download.Retries < 1 {
		errs = append(errs, errors.New("retries must be at least 1"))
	}
	if c.Download.Concurrency < 1 || c.Download.Concurrency > MaxConcurrency {
		errs = append(errs, fmt.Errorf("concurrency must be between 1 and %d", MaxConcurrency))
	}
	if c.Download.Directory == "" {
		errs = append(errs, errors.New("download directory is required"))
	}
	if c.Download.Manifest == "" {
		errs = append(errs, errors.New("manifest path is required"))
	}
	if c.Download.Limit < 0 {
		errs = append(errs, errors.New("limit cannot be negative"))
	}
	if _, ok := sizing.ParseTier(c.Download.PreferredSize); !ok {
		errs = append(errs, fmt.Errorf("invalid preferred size %q (want one of %v)", c.Download.PreferredSize, sizing.Tiers()))
	}

	if c.RateLimit.NavigationsPerMinute < 0 {
		errs = append(errs, errors.New("navigations per minute cannot be negative"))
	}
	if c.RateLimit.NavigationsPerMinute > 0 {
		switch strings.ToLower(c.RateLimit.Strategy) {
		case "token_bucket", "sliding_window", "":
		default:
			errs = append(errs, fmt.Errorf("invalid rate limit strategy %q", c.RateLimit.Strategy))
		}
	}

	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "warning": true, "error": true, "disabled": true,
	}
	if !validLogLevels[strings.ToLower(c.Logging.Level)] {
		errs = append(errs, fmt.Errorf("invalid log level %q", c.Logging.Level))
	}
	switch strings.ToLower(c.Logging.Format) {
	case "console", "json", "":
	default:
		errs = append(errs, fmt.Errorf("invalid log format %q", c.Logging.Format))
	}

	if c.Publish.S3.Enabled() {
		if (c.Publish.S3.AccessKeyID == "") != (c.Publish.S3.SecretAccessKey == "") {
			errs = append(errs, errors.New("s3 access key id and secret access key must be set together"))
		}
	}

	return errors.Join(errs...)
}

// Redacted returns a copy safe to print
func (c *Config) Redacted() *Config {
	out := *c
	if out.Publish.S3.SecretAccessKey != "" {
		out.Publish.S3.SecretAccessKey = "********"
	}
	if out.Publish.S3.AccessKeyID != "" {
		out.Publish.S3.AccessKeyID = maskString(out.Publish.S3.AccessKeyID)
	}
	return &out
}

func maskString(s string) string {
	if len(s) <= 4 {
		return "****"
	}
	return s[:4] + strings.Repeat("*", len(s)-4)
}

// Save saves the configuration to a file
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Load loads configuration from all sources with proper precedence.
// Precedence order: command line overrides > environment variables > .env file > config file > defaults
func Load(configPath string, overrides Overrides) (*Config, error) {
	_ = godotenv.Load(".env")
	if home, err := os.UserHomeDir(); err == nil {
		_ = godotenv.Load(filepath.Join(home, ".env"))
		_ = godotenv.Load(filepath.Join(home, ".unsplashdl.env"))
	}

	cfg := DefaultConfig()

	if err := cfg.LoadFromFile(configPath); err != nil {
		return nil, fmt.Errorf("failed to load config file: %w", err)
	}

	if err := cfg.LoadFromEnv(); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	cfg.Apply(overrides)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}
