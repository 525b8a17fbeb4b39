package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/trobanga/s2ingest/internal/lib"
	"github.com/trobanga/s2ingest/internal/metrics"
	"github.com/trobanga/s2ingest/internal/models"
	"github.com/trobanga/s2ingest/internal/pipeline"
	"github.com/trobanga/s2ingest/internal/services"
	"github.com/trobanga/s2ingest/internal/ui"
)

var (
	noProgress bool
	runTypes   []string
)

// runCmd represents the run command group
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Manage ingestion runs",
	Long: `Manage ingestion runs of the latest S2AG release.

Available subcommands:
  start  - Ingest the latest release
  status - Show the report of a run
  retry  - Re-drive the failed files of a run
  list   - List all runs`,
}

// runStartCmd represents the run start command
var runStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Ingest the latest release",
	Long: `Resolve the latest S2AG release and ingest the requested dataset types.

Every file of every type is downloaded, split into batches, transformed to
the dataset's Parquet schema and written partitioned by id_bucket. Files
are processed in parallel; the number of workers follows available memory
divided by --worker-memory-mb.

The command exits non-zero if any dataset type ends without a single
successfully ingested file.

Examples:
  # Ingest the default dataset types into ./output
  s2ingest run start

  # Ingest papers only into S3, at most 4 workers
  s2ingest run start --types papers --storage-root s3://bucket/s2ag --max-workers 4

  # Fail files on records without an id instead of skipping them
  s2ingest run start --strict`,
	Args: cobra.NoArgs,
	RunE: runRunStart,
}

// runStatusCmd represents the run status command
var runStatusCmd = &cobra.Command{
	Use:   "status <run-id>",
	Short: "Show the report of a run",
	Long: `Display the persisted report of a run.

Shows per dataset type:
  • Files attempted, succeeded and failed
  • Records read, committed, skipped and filtered
  • Failure details, including retained temp files

Example:
  s2ingest run status 20230616-070225-3f2a9c1d`,
	Args: cobra.ExactArgs(1),
	RunE: runRunStatus,
}

// runRetryCmd represents the run retry command
var runRetryCmd = &cobra.Command{
	Use:   "retry <run-id>",
	Short: "Re-drive the failed files of a run",
	Long: `Re-run only the files that failed in a previous run, under the same run id.

Objects are named after their source file and batch, so a retried file
overwrites anything it wrote before instead of duplicating it. File links
of remote releases are refreshed from the release API when an API key is
available.

Example:
  s2ingest run retry 20230616-070225-3f2a9c1d`,
	Args: cobra.ExactArgs(1),
	RunE: runRunRetry,
}

// runListCmd represents the run list command
var runListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all runs",
	Args:  cobra.NoArgs,
	RunE:  runRunList,
}

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.AddCommand(runStartCmd)
	runCmd.AddCommand(runStatusCmd)
	runCmd.AddCommand(runRetryCmd)
	runCmd.AddCommand(runListCmd)

	for _, c := range []*cobra.Command{runStartCmd, runRetryCmd} {
		c.Flags().BoolVar(&noProgress, "no-progress", false, "Disable progress indicators")
		c.Flags().Int("batch-size", 0, "records per batch")
		c.Flags().Int("worker-memory-mb", 0, "memory reserved per worker in MiB")
		c.Flags().Int("max-workers", 0, "upper bound on parallel workers (0 = memory bound only)")
		c.Flags().String("temp-dir", "", "directory for downloaded files")
		c.Flags().Bool("strict", false, "fail a file on records without an id instead of skipping them")
		c.Flags().String("metrics-addr", "", "serve Prometheus metrics on this address, e.g. :9090")
	}
	runStartCmd.Flags().StringSliceVar(&runTypes, "types", nil, "dataset types to ingest (default from config)")
}

// bindPipelineFlags binds the pipeline flags of c before config is loaded
func bindPipelineFlags(c *cobra.Command) {
	bindFlag(c.Flags().Lookup("batch-size"), "pipeline.batch_size")
	bindFlag(c.Flags().Lookup("worker-memory-mb"), "pipeline.worker_memory_mb")
	bindFlag(c.Flags().Lookup("max-workers"), "pipeline.max_workers")
	bindFlag(c.Flags().Lookup("temp-dir"), "pipeline.temp_dir")
	bindFlag(c.Flags().Lookup("strict"), "pipeline.strict_partition_key")
	bindFlag(c.Flags().Lookup("metrics-addr"), "metrics.addr")
}

func runRunStart(cmd *cobra.Command, args []string) error {
	bindPipelineFlags(cmd)

	config, logger, err := loadConfig()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Close() }()

	types := models.ParseDatasetTypes(runTypes)

	ctx := cmd.Context()
	m, stopMetrics := startMetrics(ctx, config, logger)
	defer stopMetrics()

	coordinator, err := pipeline.NewCoordinatorFromConfig(config, logger, pipeline.SetupOptions{
		WithRelease: true,
		Progress:    progressWriter(),
		Metrics:     m,
	})
	if err != nil {
		return err
	}

	fmt.Println("Resolving latest release...")
	progress := newFileProgress(progressWriter())
	progress.attach(coordinator)

	report, err := coordinator.RunPipeline(ctx, types)
	progress.finish()
	return finishRun(report, err)
}

func runRunStatus(cmd *cobra.Command, args []string) error {
	runID := args[0]

	config, logger, err := loadConfig()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Close() }()

	report, err := pipeline.LoadRun(config.RunsDir, runID)
	if err != nil {
		return err
	}

	fmt.Print(pipeline.RunSummary(report))
	if services.IsRunLocked(config.RunsDir, runID) {
		fmt.Println("\n→ A process is currently working on this run")
	}
	return nil
}

func runRunRetry(cmd *cobra.Command, args []string) error {
	runID := args[0]
	bindPipelineFlags(cmd)

	config, logger, err := loadConfig()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Close() }()

	// Retried files go to the run's own storage root
	previous, err := pipeline.LoadRun(config.RunsDir, runID)
	if err != nil {
		return err
	}
	config.Storage.Root = previous.Run.StorageRoot

	ctx := cmd.Context()
	m, stopMetrics := startMetrics(ctx, config, logger)
	defer stopMetrics()

	withRelease := !previous.Run.Release.IsLocal() && config.Release.APIKey != ""
	coordinator, err := pipeline.NewCoordinatorFromConfig(config, logger, pipeline.SetupOptions{
		WithRelease: withRelease,
		Progress:    progressWriter(),
		Metrics:     m,
	})
	if err != nil {
		return err
	}

	failed := len(previous.FailedSources())
	fmt.Printf("Retrying %d failed files of run %s\n", failed, runID)

	progress := newFileProgress(progressWriter())
	progress.attach(coordinator)

	report, err := coordinator.Retry(ctx, runID)
	progress.finish()
	return finishRun(report, err)
}

func runRunList(cmd *cobra.Command, args []string) error {
	config, logger, err := loadConfig()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Close() }()

	runIDs, err := services.ListAllRuns(config.RunsDir)
	if err != nil {
		return fmt.Errorf("failed to list runs: %w", err)
	}

	if len(runIDs) == 0 {
		fmt.Println("No runs found")
		return nil
	}

	// Print table header
	fmt.Printf("%-26s %-13s %-12s %-24s %-8s %-8s %-12s %s\n", "RUN ID", "STATUS", "RELEASE", "TYPES", "FILES", "FAILED", "RECORDS", "AGE")
	fmt.Println("------------------------------------------------------------------------------------------------------------------------")

	for _, runID := range runIDs {
		report, err := pipeline.LoadRun(config.RunsDir, runID)
		if err != nil {
			logger.Warn("Failed to load run", "run_id", runID, "error", err)
			continue
		}

		var files, failed int
		var records int64
		for _, d := range report.Datasets {
			files += d.Attempted
			failed += d.Failed
			records += d.RecordsCommitted
		}

		types := ""
		for i, dt := range report.Run.DatasetTypes {
			if i > 0 {
				types += ","
			}
			types += string(dt)
		}

		fmt.Printf("%-26s %s %-11s %-12s %-24s %-8d %-8d %-12d %s\n",
			report.Run.RunID,
			getRunStatusSymbol(report.Status),
			report.Status,
			report.Run.Release.ID,
			types,
			files,
			failed,
			records,
			formatAge(time.Since(report.Run.CreatedAt)),
		)
	}

	fmt.Printf("\nTotal: %d runs\n", len(runIDs))
	return nil
}

// finishRun prints the report and turns a failed run into a non-zero exit
func finishRun(report *models.RunReport, err error) error {
	if report == nil {
		return err
	}

	fmt.Println()
	fmt.Print(pipeline.RunSummary(report))

	if err != nil {
		return err
	}
	if !pipeline.Succeeded(report) {
		return errRunFailed
	}
	if report.Status == models.RunStatusPartial {
		fmt.Printf("\nSome files failed. Re-drive them with:\n  s2ingest run retry %s\n", report.Run.RunID)
	}
	return nil
}

// startMetrics serves metrics when configured; the returned func stops the server
func startMetrics(ctx context.Context, config *models.ProjectConfig, logger *lib.Logger) (*metrics.Metrics, func()) {
	if config.Metrics.Addr == "" {
		return nil, func() {}
	}

	registry := prometheus.NewRegistry()
	m := metrics.New(registry)

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := metrics.Serve(ctx, config.Metrics.Addr, registry, logger); err != nil {
			logger.Error("Metrics server stopped", "error", err)
		}
	}()

	return m, func() {
		cancel()
		<-done
	}
}

// progressWriter returns where download progress goes, or nil when disabled
func progressWriter() io.Writer {
	if noProgress {
		return nil
	}
	return os.Stderr
}

// fileProgress shows a files bar once the coordinator knows how many files
// it schedules, and prints failures as they happen. A nil out disables both.
type fileProgress struct {
	out       io.Writer
	bar       *ui.ProgressBar
	committed int64
}

func newFileProgress(out io.Writer) *fileProgress {
	return &fileProgress{out: out}
}

func (p *fileProgress) attach(c *pipeline.Coordinator) {
	c.OnScheduled = p.scheduled
	c.OnResult = p.result
}

func (p *fileProgress) scheduled(files int) {
	if p.out == nil || files == 0 {
		return
	}
	p.bar = ui.NewProgressBarWithWriter(int64(files), "Files", p.out)
}

func (p *fileProgress) result(result models.WorkerResult) {
	p.committed += result.RecordsCommitted
	if p.bar != nil {
		_ = p.bar.Add(1)
		p.bar.Describe(fmt.Sprintf("Files %.0f%% (%s)", p.bar.GetPercentage(),
			ui.FormatRecordRate(p.committed, p.bar.GetElapsedTime())))
	}
	if result.Failure != nil && p.out != nil {
		fmt.Fprintf(p.out, "✗ %s\n", result.Failure.Error())
	}
}

func (p *fileProgress) finish() {
	if p.bar != nil {
		_ = p.bar.Finish()
	}
}

func getRunStatusSymbol(status models.RunStatus) string {
	switch status {
	case models.RunStatusCompleted:
		return "✓"
	case models.RunStatusPartial:
		return "◐"
	case models.RunStatusInProgress:
		return "→"
	case models.RunStatusFailed:
		return "✗"
	case models.RunStatusPending:
		return "○"
	default:
		return " "
	}
}

func formatAge(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm", int(d.Minutes()))
	}
	if d < 24*time.Hour {
		return fmt.Sprintf("%dh", int(d.Hours()))
	}
	days := int(d.Hours() / 24)
	return fmt.Sprintf("%dd", days)
}
