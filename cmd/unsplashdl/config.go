package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"unsplashdl/pkg/config"
	"unsplashdl/pkg/ui"
)

// configCmd represents the config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration files",
	Long: `Manage unsplashdl configuration files.

Configuration is merged from, highest priority first:
  - Command line flags
  - Environment variables (UNSPLASHDL_*, also read from .env files)
  - Configuration file
  - Default values`,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create a configuration file with the default values",
	Long: `Create a configuration file holding every option at its default value.

The file is written to --config when given, otherwise to .unsplashdl.yaml
in the current directory. An existing file is never overwritten.`,
	RunE: runConfigInit,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the effective configuration",
	Long: `Show the configuration after merging every source.

Secrets such as S3 keys are masked.`,
	RunE: runConfigShow,
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the configuration",
	Long: `Load the configuration from every source and check it.

Besides value ranges this checks that the download directory and the log
file location can be created.`,
	RunE: runConfigValidate,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configValidateCmd)
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	path := configFile
	if path == "" {
		path = ".unsplashdl.yaml"
	}

	if _, err := os.Stat(path); err == nil {
		ui.PrintError("Configuration file already exists", path)
		fmt.Println("\nTo overwrite, first remove the existing file:")
		fmt.Printf("  rm %s\n", path)
		return fmt.Errorf("refusing to overwrite %s", path)
	}

	if err := config.DefaultConfig().Save(path); err != nil {
		return err
	}

	ui.PrintSuccess("Configuration file created: " + path)
	fmt.Println("\nNext steps:")
	fmt.Println("1. Edit the file, at least download.directory and download.manifest")
	fmt.Println("2. Run 'unsplashdl config validate' to check it")
	fmt.Println("3. Start downloading with 'unsplashdl download'")
	return nil
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configFile, globalOverrides(cmd))
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	data, err := yaml.Marshal(cfg.Redacted())
	if err != nil {
		return fmt.Errorf("failed to format configuration: %w", err)
	}

	ui.PrintHighlight("Current Configuration")
	fmt.Println()
	fmt.Print(string(data))

	fmt.Println("\nConfiguration sources (in order of priority):")
	fmt.Println("1. Command line flags")
	fmt.Printf("2. Environment variables (%s*)\n", config.EnvPrefix)
	if configFile != "" {
		fmt.Printf("3. Configuration file: %s\n", configFile)
	} else {
		fmt.Println("3. Configuration file: (searched in default locations)")
	}
	fmt.Println("4. Default values")
	return nil
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	if configFile != "" {
		ui.PrintInfo("Validating configuration", configFile)
	}

	cfg, err := config.Load(configFile, globalOverrides(cmd))
	if err != nil {
		ui.PrintError("Configuration validation failed", err.Error())
		return fmt.Errorf("invalid configuration")
	}

	var warnings, problems []string

	if err := os.MkdirAll(cfg.Download.Directory, 0755); err != nil {
		problems = append(problems, fmt.Sprintf("Cannot create download directory: %v", err))
	}
	if cfg.Logging.File != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.Logging.File), 0755); err != nil {
			problems = append(problems, fmt.Sprintf("Cannot create log directory: %v", err))
		}
	}
	if _, err := os.Stat(cfg.Download.Manifest); err != nil {
		warnings = append(warnings, fmt.Sprintf("Manifest %s is not readable yet", cfg.Download.Manifest))
	}
	if cfg.Download.EnableConcurrency && cfg.Download.Concurrency == 1 {
		warnings = append(warnings, "Concurrency is enabled with a single tab")
	}
	if cfg.Publish.S3.Enabled() && cfg.Publish.S3.Region == "" && cfg.Publish.S3.Endpoint == "" {
		warnings = append(warnings, "S3 publishing has no region or endpoint; the AWS default chain will be used")
	}

	for _, w := range warnings {
		ui.PrintWarning("Warning", w)
	}
	for _, p := range problems {
		ui.PrintError("Error", p)
	}
	if len(problems) > 0 {
		return fmt.Errorf("configuration has %d problem(s)", len(problems))
	}

	ui.PrintSuccess("Configuration is valid")
	return nil
}
