package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.True(t, cfg.Browser.Headless)
	assert.Equal(t, 30*time.Second, cfg.Browser.Timeout())
	assert.Equal(t, 3, cfg.Download.Retries)
	assert.Equal(t, 3, cfg.Download.Concurrency)
	assert.False(t, cfg.Download.EnableConcurrency)
	assert.Equal(t, "large", cfg.Download.PreferredSize)
	assert.Equal(t, "./downloads", cfg.Download.Directory)
	assert.NoError(t, cfg.Validate())
}

func TestOutputManifestPath(t *testing.T) {
	d := DownloadConfig{Directory: "/data/img"}
	assert.Equal(t, filepath.Join("/data/img", "download-manifest.json"), d.OutputManifestPath())

	d.OutputManifest = "/tmp/out.json"
	assert.Equal(t, "/tmp/out.json", d.OutputManifestPath())
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("UNSPLASHDL_HEADLESS", "false")
	t.Setenv("UNSPLASHDL_TIMEOUT_MS", "45000")
	t.Setenv("UNSPLASHDL_RETRIES", "5")
	t.Setenv("UNSPLASHDL_PREFERRED_SIZE", "medium")
	t.Setenv("UNSPLASHDL_CONCURRENCY", "7")
	t.Setenv("UNSPLASHDL_ENABLE_CONCURRENCY", "true")
	t.Setenv("UNSPLASHDL_DOWNLOAD_DIR", "/tmp/test-downloads")
	t.Setenv("UNSPLASHDL_LOG_LEVEL", "debug")
	t.Setenv("UNSPLASHDL_S3_BUCKET", "images")

	cfg := DefaultConfig()
	require.NoError(t, cfg.LoadFromEnv())

	assert.False(t, cfg.Browser.Headless)
	assert.Equal(t, 45000, cfg.Browser.TimeoutMS)
	assert.Equal(t, 5, cfg.Download.Retries)
	assert.Equal(t, "medium", cfg.Download.PreferredSize)
	assert.Equal(t, 7, cfg.Download.Concurrency)
	assert.True(t, cfg.Download.EnableConcurrency)
	assert.Equal(t, "/tmp/test-downloads", cfg.Download.Directory)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.True(t, cfg.Publish.S3.Enabled())
}

func TestLoadFromEnvReportsBadValues(t *testing.T) {
	t.Setenv("UNSPLASHDL_RETRIES", "many")
	t.Setenv("UNSPLASHDL_DRY_RUN", "perhaps")

	cfg := DefaultConfig()
	err := cfg.LoadFromEnv()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "UNSPLASHDL_RETRIES")
	assert.Contains(t, err.Error(), "UNSPLASHDL_DRY_RUN")
	assert.Equal(t, 3, cfg.Download.Retries)
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
browser:
  headless: false
  timeout_ms: 10000
download:
  directory: /srv/images
  preferred_size: small
  concurrency: 4
  enable_concurrency: true
rate_limit:
  navigations_per_minute: 20
  strategy: sliding_window
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg := DefaultConfig()
	require.NoError(t, cfg.LoadFromFile(path))

	assert.False(t, cfg.Browser.Headless)
	assert.Equal(t, 10000, cfg.Browser.TimeoutMS)
	assert.Equal(t, "/srv/images", cfg.Download.Directory)
	assert.Equal(t, "small", cfg.Download.PreferredSize)
	assert.Equal(t, 4, cfg.Download.Concurrency)
	assert.True(t, cfg.Download.EnableConcurrency)
	assert.Equal(t, 20, cfg.RateLimit.NavigationsPerMinute)
	// untouched keys keep their defaults
	assert.Equal(t, 3, cfg.Download.Retries)
	assert.Equal(t, "https://unsplash.com", cfg.Browser.BaseURL)
}

func TestLoadFromFileErrors(t *testing.T) {
	cfg := DefaultConfig()
	assert.Error(t, cfg.LoadFromFile(filepath.Join(t.TempDir(), "missing.yaml")))

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("download: [unclosed"), 0644))
	assert.Error(t, cfg.LoadFromFile(bad))
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid", func(c *Config) {}, ""},
		{"zero retries", func(c *Config) { c.Download.Retries = 0 }, "retries must be at least 1"},
		{"zero concurrency", func(c *Config) { c.Download.Concurrency = 0 }, "concurrency must be between 1 and 10"},
		{"too much concurrency", func(c *Config) { c.Download.Concurrency = 11 }, "concurrency must be between 1 and 10"},
		{"max concurrency", func(c *Config) { c.Download.Concurrency = 10 }, ""},
		{"bad size", func(c *Config) { c.Download.PreferredSize = "huge" }, "invalid preferred size"},
		{"no timeout", func(c *Config) { c.Browser.TimeoutMS = 0 }, "browser timeout must be positive"},
		{"no directory", func(c *Config) { c.Download.Directory = "" }, "download directory is required"},
		{"negative limit", func(c *Config) { c.Download.Limit = -1 }, "limit cannot be negative"},
		{"bad log level", func(c *Config) { c.Logging.Level = "loud" }, "invalid log level"},
		{"bad strategy", func(c *Config) {
			c.RateLimit.NavigationsPerMinute = 10
			c.RateLimit.Strategy = "leaky"
		}, "invalid rate limit strategy"},
		{"half s3 credentials", func(c *Config) {
			c.Publish.S3.Bucket = "b"
			c.Publish.S3.AccessKeyID = "AKIA"
		}, "must be set together"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestValidateJoinsErrors(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Download.Retries = 0
	cfg.Download.Concurrency = 0

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "retries")
	assert.Contains(t, err.Error(), "concurrency")
}

func TestApply(t *testing.T) {
	cfg := DefaultConfig()
	retries := 1
	size := "original"
	headless := false
	debug := true

	cfg.Apply(Overrides{
		Retries:       &retries,
		PreferredSize: &size,
		Headless:      &headless,
		Debug:         &debug,
	})

	assert.Equal(t, 1, cfg.Download.Retries)
	assert.Equal(t, "original", cfg.Download.PreferredSize)
	assert.False(t, cfg.Browser.Headless)
	assert.True(t, cfg.Browser.Debug)
	assert.Equal(t, "debug", cfg.Logging.Level)
	// nil overrides leave values alone
	assert.Equal(t, 3, cfg.Download.Concurrency)
}

func TestApplyExplicitLogLevelWins(t *testing.T) {
	cfg := DefaultConfig()
	debug := true
	level := "warn"

	cfg.Apply(Overrides{Debug: &debug, LogLevel: &level})
	assert.Equal(t, "warn", cfg.Logging.Level)
}

func TestLoadPrecedence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("download:\n  retries: 4\n  concurrency: 2\n  directory: /from/file\n"), 0644))

	t.Setenv("UNSPLASHDL_CONCURRENCY", "6")
	t.Setenv("UNSPLASHDL_DOWNLOAD_DIR", "/from/env")

	dir := "/from/flag"
	cfg, err := Load(path, Overrides{Directory: &dir})
	require.NoError(t, err)

	assert.Equal(t, 4, cfg.Download.Retries, "file beats default")
	assert.Equal(t, 6, cfg.Download.Concurrency, "env beats file")
	assert.Equal(t, "/from/flag", cfg.Download.Directory, "flag beats env")
}

func TestLoadRejectsInvalid(t *testing.T) {
	zero := 0
	_, err := Load(filepath.Join(t.TempDir(), "none.yaml"), Overrides{Retries: &zero})
	require.Error(t, err)
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "config.yaml")

	cfg := DefaultConfig()
	cfg.Download.Concurrency = 8
	require.NoError(t, cfg.Save(path))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	loaded := DefaultConfig()
	require.NoError(t, loaded.LoadFromFile(path))
	assert.Equal(t, cfg, loaded)
}

func TestRedacted(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Publish.S3.AccessKeyID = "AKIAEXAMPLE"
	cfg.Publish.S3.SecretAccessKey = "secret"

	red := cfg.Redacted()
	assert.Equal(t, "AKIA*******", red.Publish.S3.AccessKeyID)
	assert.Equal(t, "********", red.Publish.S3.SecretAccessKey)
	assert.Equal(t, "secret", cfg.Publish.S3.SecretAccessKey)

	data, err := yaml.Marshal(red)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "secret\n")
}
