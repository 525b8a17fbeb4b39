package pipeline

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/trobanga/s2ingest/internal/lib"
	"github.com/trobanga/s2ingest/internal/metrics"
	"github.com/trobanga/s2ingest/internal/models"
	"github.com/trobanga/s2ingest/internal/services"
	"github.com/trobanga/s2ingest/internal/storage"
	"github.com/trobanga/s2ingest/internal/transform"
	"github.com/trobanga/s2ingest/internal/ui"
)

// SetupOptions controls how NewCoordinatorFromConfig wires a coordinator
type SetupOptions struct {
	// WithRelease creates a release API client; requires an API key
	WithRelease bool
	// Progress receives download progress bars when only one worker runs
	Progress io.Writer
	Metrics  *metrics.Metrics
}

// NewCoordinatorFromConfig builds the store, worker and executor described
// by config. Executor slots follow available memory.
func NewCoordinatorFromConfig(config *models.ProjectConfig, logger *lib.Logger, opts SetupOptions) (*Coordinator, error) {
	store, err := storage.NewObjectStore(config.Storage)
	if err != nil {
		return nil, err
	}

	var resolver ReleaseResolver
	if opts.WithRelease {
		client, err := services.NewReleaseClient(config.Release, config.Retry, logger)
		if err != nil {
			return nil, err
		}
		resolver = client
	}

	available, err := services.AvailableMemory()
	if err != nil {
		logger.Warn("Could not read available memory, running one worker", "error", err)
	}
	slots := services.WorkerSlots(available, config.Pipeline.WorkerMemoryMB, config.Pipeline.MaxWorkers)
	logger.Info("Sized worker pool",
		"slots", slots,
		"available", ui.FormatBytes(int64(available)),
		"worker_memory_mb", config.Pipeline.WorkerMemoryMB)

	// Downloads are not retried by the worker; a failed file is reported.
	downloader := services.NewDownloader(services.NewSingleAttemptClient(0, logger),
		config.Pipeline.TempDir, config.Pipeline.DownloadChunkBytes, logger)
	if opts.Progress != nil && slots == 1 {
		downloader.WithProgress(opts.Progress)
	}

	registry := transform.DefaultRegistry()
	worker := NewWorker(downloader, registry, store, WorkerOptionsFromConfig(config.Pipeline), opts.Metrics, logger)
	executor := NewPoolExecutor(slots, int64(config.Pipeline.WorkerMemoryMB)<<20, logger)

	return NewCoordinator(config, resolver, registry, worker, executor, logger), nil
}

// LoadRun loads a persisted run report
func LoadRun(runsDir string, runID string) (*models.RunReport, error) {
	return services.LoadRunReport(runsDir, runID)
}

// RunSummary returns a human-readable summary of a run
func RunSummary(report *models.RunReport) string {
	var b strings.Builder

	end := time.Now()
	if report.FinishedAt != nil {
		end = *report.FinishedAt
	}

	fmt.Fprintf(&b, "Run %s\n", report.Run.RunID)
	fmt.Fprintf(&b, "Status: %s\n", report.Status)
	fmt.Fprintf(&b, "Release: %s\n", report.Run.Release.ID)
	fmt.Fprintf(&b, "Storage: %s\n", report.Run.StorageRoot)
	fmt.Fprintf(&b, "Duration: %s\n", ui.FormatDuration(end.Sub(report.StartedAt)))

	for _, dt := range report.DatasetTypes() {
		d := report.Datasets[dt]
		fmt.Fprintf(&b, "\n  %s\n", dt)
		fmt.Fprintf(&b, "    Files:      %d attempted, %d succeeded, %d failed\n", d.Attempted, d.Succeeded, d.Failed)
		fmt.Fprintf(&b, "    Records:    %d read, %d committed, %d skipped, %d filtered\n",
			d.RecordsRead, d.RecordsCommitted, d.RecordsSkipped, d.RecordsFiltered)
		fmt.Fprintf(&b, "    Downloaded: %s\n", ui.FormatBytes(d.BytesDownloaded))
		for _, f := range d.Failures {
			fmt.Fprintf(&b, "    ✗ %s\n", f.Error())
			if f.TempPath != "" {
				fmt.Fprintf(&b, "      temp file kept at %s\n", f.TempPath)
			}
		}
	}

	if report.Error != "" {
		fmt.Fprintf(&b, "\nError: %s\n", report.Error)
	}
	if empty := report.EmptyDatasets(); len(empty) > 0 && report.FinishedAt != nil {
		names := make([]string, len(empty))
		for i, dt := range empty {
			names[i] = string(dt)
		}
		fmt.Fprintf(&b, "\nNo file succeeded for: %s\n", strings.Join(names, ", "))
	}

	return b.String()
}

// Succeeded reports whether every requested dataset type has at least one
// successfully ingested file
func Succeeded(report *models.RunReport) bool {
	return report.Status == models.RunStatusCompleted || report.Status == models.RunStatusPartial
}
