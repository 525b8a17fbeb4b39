/*
Copyright © 2025 s2ingest Contributors

s2ingest is a CLI tool for ingesting S2AG corpus releases into partitioned Parquet.
*/
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/trobanga/s2ingest/internal/lib"
	"github.com/trobanga/s2ingest/internal/models"
	"github.com/trobanga/s2ingest/internal/services"
)

var (
	// Global flags
	cfgFile     string
	apiKey      string
	storageRoot string
	logLevel    string
	verbose     bool
)

// errRunFailed makes the process exit non-zero after the summary was printed
var errRunFailed = errors.New("run failed")

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "s2ingest",
	Short: "s2ingest - S2AG release ingestion CLI",
	Long: `s2ingest downloads the latest Semantic Scholar Academic Graph (S2AG)
release and writes it to object storage as hive-partitioned Parquet.

Each run resolves the newest release, lists the files of every requested
dataset type and ingests them in parallel. Records are partitioned by
id_bucket (id mod 100) under <storage-root>/<run-id>/<dataset>/.

Failed files are reported per dataset type and can be re-driven under the
same run id.

Example:
  export S2AG_API_KEY=...
  s2ingest run start --types papers,abstracts --storage-root s3://bucket/s2ag
  s2ingest run status <run-id>
  s2ingest run retry <run-id>
  s2ingest run list`,
	Version:       "0.1.0",
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := rootCmd.ExecuteContext(ctx)
	if err != nil {
		if !errors.Is(err, errRunFailed) {
			printError(err)
		}
		stop()
		os.Exit(1)
	}
}

func init() {
	// Persistent flags (available to all subcommands)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./s2ingest.yaml, ~/.config/s2ingest/s2ingest.yaml)")
	rootCmd.PersistentFlags().StringVar(&apiKey, "key", "", "S2AG API key (default: $"+services.APIKeyEnv+")")
	rootCmd.PersistentFlags().StringVar(&storageRoot, "storage-root", "", "output root, a directory or s3://bucket/prefix")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose logging")

	bindFlag(rootCmd.PersistentFlags().Lookup("key"), "release.api_key")
	bindFlag(rootCmd.PersistentFlags().Lookup("storage-root"), "storage.root")
	bindFlag(rootCmd.PersistentFlags().Lookup("log-level"), "logging.level")

	// Add version template
	rootCmd.SetVersionTemplate("s2ingest version {{.Version}}\n")
}

// bindFlag lets a flag, when set, override the config key
func bindFlag(flag *pflag.Flag, key string) {
	cobra.CheckErr(services.BindFlagToConfig(flag, key))
}

// loadConfig loads configuration and builds the logger it describes
func loadConfig() (*models.ProjectConfig, *lib.Logger, error) {
	config, err := services.LoadConfig(cfgFile)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	level := lib.ParseLogLevel(config.Logging.Level)
	if verbose {
		level = lib.LogLevelDebug
	}

	logger := lib.NewLoggerWithFile(level, config.Logging.File)
	lib.DefaultLogger = logger
	if path := services.GetConfigFilePath(); path != "" {
		logger.Debug("Loaded configuration", "file", path)
	}

	return config, logger, nil
}

// printError prints err with guidance when it is a classified error
func printError(err error) {
	var ingestErr *lib.IngestError
	if errors.As(err, &ingestErr) {
		fmt.Fprint(os.Stderr, ingestErr.UserMessage())
		return
	}
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
}
