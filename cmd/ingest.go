package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/trobanga/s2ingest/internal/models"
	"github.com/trobanga/s2ingest/internal/pipeline"
)

var ingestType string

// ingestCmd represents the ingest command
var ingestCmd = &cobra.Command{
	Use:   "ingest <path>...",
	Short: "Ingest local files of one dataset type",
	Long: `Ingest local JSON lines files (optionally gzipped) without the release API.

Paths may be files or directories; directories are scanned recursively for
.jsonl, .json and .gz files. The run is recorded with release "local" and
can be inspected and retried like any other run.

Examples:
  # Ingest the papers sample
  s2ingest ingest --type papers ./data/s2ag/papers/papers-sample.jsonl.gz

  # Ingest a directory of OpenAlex works into S3
  s2ingest ingest --type works --storage-root s3://bucket/openalex ./works/`,
	Args: cobra.MinimumNArgs(1),
	RunE: runIngest,
}

func init() {
	rootCmd.AddCommand(ingestCmd)

	ingestCmd.Flags().StringVarP(&ingestType, "type", "t", "", "dataset type of the files (papers, abstracts, works)")
	ingestCmd.Flags().BoolVar(&noProgress, "no-progress", false, "Disable progress indicators")
	ingestCmd.Flags().Int("batch-size", 0, "records per batch")
	ingestCmd.Flags().Int("worker-memory-mb", 0, "memory reserved per worker in MiB")
	ingestCmd.Flags().Int("max-workers", 0, "upper bound on parallel workers (0 = memory bound only)")
	ingestCmd.Flags().String("temp-dir", "", "directory for copied files")
	ingestCmd.Flags().Bool("strict", false, "fail a file on records without an id instead of skipping them")
	ingestCmd.Flags().String("metrics-addr", "", "serve Prometheus metrics on this address, e.g. :9090")
	_ = ingestCmd.MarkFlagRequired("type")
}

func runIngest(cmd *cobra.Command, args []string) error {
	bindPipelineFlags(cmd)

	types := models.ParseDatasetTypes([]string{ingestType})
	if len(types) != 1 {
		return fmt.Errorf("expected one dataset type, got %q", ingestType)
	}

	config, logger, err := loadConfig()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Close() }()

	ctx := cmd.Context()
	m, stopMetrics := startMetrics(ctx, config, logger)
	defer stopMetrics()

	coordinator, err := pipeline.NewCoordinatorFromConfig(config, logger, pipeline.SetupOptions{
		Progress: progressWriter(),
		Metrics:  m,
	})
	if err != nil {
		return err
	}
	progress := newFileProgress(progressWriter())
	progress.attach(coordinator)

	report, err := coordinator.IngestLocal(ctx, types[0], args)
	progress.finish()
	return finishRun(report, err)
}
