package main

import (
	"fmt"
	"os"
	"runtime"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"unsplashdl/pkg/config"
	"unsplashdl/pkg/ui"
)

var (
	// Version information
	version   = "1.0.0"
	gitCommit = "unknown"
	buildDate = "unknown"

	// Global flags
	configFile string
	logLevel   string
	noColor    bool
	quiet      bool
	verbose    bool
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "unsplashdl",
	Short: "Download the images listed in a manifest through a real browser",
	Long: `unsplashdl downloads every image listed in a JSON manifest by driving a
Chrome instance, the same way you would save them by hand.

Features:
  - Skips images already present in the download directory
  - Falls back to a smaller size when the original is not needed
  - Retries failed downloads with a growing pause
  - Optional parallel tabs, navigation pacing and a live terminal UI
  - Writes a result manifest describing what was saved
  - Optional Prometheus metrics and S3 publishing`,
	Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, gitCommit, buildDate),
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		ui.SetColorEnabled(!noColor)

		if quiet || cmd.Name() == "version" || cmd.Name() == "help" || cmd.Name() == "completion" {
			return
		}
		ui.PrintLogo()
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		ui.PrintError("Error", err.Error())
		os.Exit(1)
	}
}

func init() {
	addGlobalFlags(rootCmd.PersistentFlags())

	rootCmd.SetVersionTemplate(`unsplashdl {{.Version}}
Go Version: ` + runtime.Version() + `
OS/Arch: ` + runtime.GOOS + `/` + runtime.GOARCH + `
`)

	rootCmd.CompletionOptions.DisableDefaultCmd = true
}

func addGlobalFlags(f *pflag.FlagSet) {
	f.StringVarP(&configFile, "config", "c", "", "config file (default is ./.unsplashdl.yaml or ~/.config/unsplashdl/config.yaml)")
	f.StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")
	f.BoolVar(&noColor, "no-color", false, "disable colored output")
	f.BoolVarP(&quiet, "quiet", "q", false, "suppress all output except errors")
	f.BoolVarP(&verbose, "verbose", "v", false, "print one line per entry instead of a progress bar")
}

// globalOverrides turns the persistent flags that were set into config overrides
func globalOverrides(cmd *cobra.Command) config.Overrides {
	var o config.Overrides
	flags := cmd.Flags()
	if flags.Changed("log-level") {
		o.LogLevel = &logLevel
	}
	if flags.Changed("no-color") {
		o.NoColor = &noColor
	}
	if flags.Changed("quiet") {
		o.Quiet = &quiet
	}
	return o
}
