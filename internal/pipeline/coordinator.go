// Package pipeline drives ingestion runs: it resolves what to ingest,
// schedules one worker per source file and aggregates the outcome.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/trobanga/s2ingest/internal/lib"
	"github.com/trobanga/s2ingest/internal/models"
	"github.com/trobanga/s2ingest/internal/services"
	"github.com/trobanga/s2ingest/internal/transform"
)

// ReleaseResolver finds the release to ingest and its files
type ReleaseResolver interface {
	Resolve(ctx context.Context) (models.Release, error)
	ListFiles(ctx context.Context, release models.Release, datasetType models.DatasetType) ([]models.SourceFile, error)
}

// Processor ingests a single file
type Processor interface {
	Process(ctx context.Context, run models.Run, src models.SourceFile) models.WorkerResult
}

// Coordinator runs ingestion end to end. It does not retry failed files on
// its own; Retry re-drives them on request.
type Coordinator struct {
	config    *models.ProjectConfig
	resolver  ReleaseResolver
	registry  *transform.Registry
	processor Processor
	executor  Executor
	logger    *lib.Logger

	// OnScheduled, when set, is called with the number of files a run or
	// retry is about to process
	OnScheduled func(files int)
	// OnResult, when set, is called after each file resolves
	OnResult func(models.WorkerResult)
}

// NewCoordinator wires a coordinator. resolver may be nil for local-only use.
func NewCoordinator(config *models.ProjectConfig, resolver ReleaseResolver, registry *transform.Registry, processor Processor, executor Executor, logger *lib.Logger) *Coordinator {
	if registry == nil {
		registry = transform.DefaultRegistry()
	}
	return &Coordinator{
		config:    config,
		resolver:  resolver,
		registry:  registry,
		processor: processor,
		executor:  executor,
		logger:    logger,
	}
}

// RunPipeline ingests the latest release for the given dataset types (the
// configured ones when empty). Configuration, release and manifest errors
// abort before any file is scheduled and return no report.
func (c *Coordinator) RunPipeline(ctx context.Context, types []models.DatasetType) (*models.RunReport, error) {
	if len(types) == 0 {
		types = c.config.Pipeline.DatasetTypes
	}
	if err := c.registry.Validate(types); err != nil {
		return nil, err
	}
	if c.resolver == nil {
		return nil, lib.ErrInvalidConfig("release", "no release resolver configured")
	}

	var (
		release models.Release
		sources []models.SourceFile
	)
	err := lib.LogOperation(c.logger, "resolve release manifest", func() error {
		var err error
		if release, err = c.resolver.Resolve(ctx); err != nil {
			return err
		}
		for _, dt := range types {
			files, err := c.resolver.ListFiles(ctx, release, dt)
			if err != nil {
				return err
			}
			sources = append(sources, files...)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	run := models.NewRun(c.config.Storage.Root, release, types)
	return c.start(ctx, run, sources)
}

// IngestLocal runs the pipeline over local files of one dataset type,
// without consulting the release API
func (c *Coordinator) IngestLocal(ctx context.Context, datasetType models.DatasetType, paths []string) (*models.RunReport, error) {
	if err := c.registry.Validate([]models.DatasetType{datasetType}); err != nil {
		return nil, err
	}

	sources, err := services.ResolveLocalSources(paths, datasetType, c.logger)
	if err != nil {
		return nil, err
	}

	release := models.Release{ID: models.LocalReleaseID}
	run := models.NewRun(c.config.Storage.Root, release, []models.DatasetType{datasetType})
	return c.start(ctx, run, sources)
}

// Retry re-drives the failed files of a persisted run under the same run id
// and merges their results into its report
func (c *Coordinator) Retry(ctx context.Context, runID string) (report *models.RunReport, err error) {
	err = services.WithRunLock(c.config.RunsDir, runID, c.logger, func() error {
		report, err = c.retryLocked(ctx, runID)
		return err
	})
	return report, err
}

func (c *Coordinator) retryLocked(ctx context.Context, runID string) (*models.RunReport, error) {
	report, err := services.LoadRunReport(c.config.RunsDir, runID)
	if err != nil {
		return nil, err
	}

	if ok, reason := lib.CanRetryRun(*report); !ok {
		return nil, fmt.Errorf("cannot retry run %s: %s", runID, reason)
	}

	failed := report.FailedSources()
	for _, src := range failed {
		d := report.Datasets[src.DatasetType]
		*d = models.ClearFailure(*d, src.URL)
	}
	report.FinishedAt = nil
	report.Error = ""

	if !report.Run.Release.IsLocal() && c.resolver != nil {
		failed = c.refreshSources(ctx, report.Run.Release, failed)
	}

	c.logger.Info("Retrying failed files", "run_id", runID, "files", len(failed))
	if c.OnScheduled != nil {
		c.OnScheduled(len(failed))
	}
	return c.execute(ctx, report, failed)
}

// start persists a new run and executes it
func (c *Coordinator) start(ctx context.Context, run models.Run, sources []models.SourceFile) (report *models.RunReport, err error) {
	if err := run.Validate(); err != nil {
		return nil, lib.ErrInvalidConfig("run", err.Error())
	}

	err = services.WithRunLock(c.config.RunsDir, run.RunID, c.logger, func() error {
		r := models.NewRunReport(run)
		r.Sources = sources
		lib.LogRunCreated(c.logger, run.RunID, run.Release.ID, run.StorageRoot)

		if c.OnScheduled != nil {
			c.OnScheduled(len(sources))
		}
		report, err = c.execute(ctx, &r, sources)
		return err
	})
	return report, err
}

// execute submits one task per source, waits for all of them and folds the
// results into report. The caller holds the run lock.
func (c *Coordinator) execute(ctx context.Context, report *models.RunReport, sources []models.SourceFile) (*models.RunReport, error) {
	started := time.Now()
	run := report.Run

	*report = models.UpdateRunStatus(*report, models.RunStatusInProgress)
	if err := services.SaveRunReport(c.config.RunsDir, report); err != nil {
		return nil, err
	}

	// A worker failure of a run-aborting kind cancels the files still queued.
	runCtx, abort := context.WithCancel(ctx)
	defer abort()
	var (
		abortOnce sync.Once
		aborted   *models.FileFailure
	)

	futures := make([]*Future, len(sources))
	for i, src := range sources {
		futures[i] = c.executor.Submit(runCtx, Task{
			Source: src,
			Run: func(ctx context.Context) models.WorkerResult {
				result := c.processor.Process(ctx, run, src)
				if result.Failure != nil && result.Failure.Kind.AbortsRun() {
					abortOnce.Do(func() {
						aborted = result.Failure
						abort()
					})
				}
				return result
			},
		})
	}

	for _, future := range futures {
		result := future.Wait()
		c.record(report, result)
		if c.OnResult != nil {
			c.OnResult(result)
		}
	}
	if err := c.executor.Wait(); err != nil {
		c.logger.Warn("Executor reported an error", "error", err)
	}

	*report = models.FinishRun(*report)
	switch {
	case ctx.Err() != nil:
		report.Error = "run cancelled before all files were processed"
	case aborted != nil:
		report.Error = fmt.Sprintf("run aborted: %s", aborted.Error())
	}
	if err := services.SaveRunReport(c.config.RunsDir, report); err != nil {
		return report, err
	}

	lib.LogRunCompleted(c.logger, run.RunID, string(report.Status), len(sources), report.TotalFailures(), time.Since(started))

	if err := ctx.Err(); err != nil {
		return report, lib.ErrCancelled(err)
	}
	if aborted != nil {
		return report, &lib.IngestError{
			Kind:       aborted.Kind,
			Message:    fmt.Sprintf("Run aborted by %s", aborted.SourceURL),
			Cause:      errors.New(aborted.Message),
			HTTPStatus: aborted.HTTPStatus,
			Offset:     -1,
		}
	}
	return report, nil
}

// record folds one result into the report and persists progress
func (c *Coordinator) record(report *models.RunReport, result models.WorkerResult) {
	dt := result.Source.DatasetType
	d, ok := report.Datasets[dt]
	if !ok {
		d = &models.DatasetReport{}
		report.Datasets[dt] = d
	}
	*d = models.RecordResult(*d, result)
	report.UpdatedAt = time.Now()

	if err := services.SaveRunReport(c.config.RunsDir, report); err != nil {
		c.logger.Warn("Failed to persist run progress", "run_id", report.Run.RunID, "error", err)
	}
}

// refreshSources swaps stale file URLs for the current manifest's. Release
// file links carry expiring signatures; the path identifies the file.
func (c *Coordinator) refreshSources(ctx context.Context, release models.Release, sources []models.SourceFile) []models.SourceFile {
	current := make(map[string]string)
	listed := make(map[models.DatasetType]bool)
	for _, src := range sources {
		if listed[src.DatasetType] {
			continue
		}
		listed[src.DatasetType] = true

		files, err := c.resolver.ListFiles(ctx, release, src.DatasetType)
		if err != nil {
			c.logger.Warn("Could not refresh file links, retrying with stored ones",
				"dataset", src.DatasetType, "error", err)
			continue
		}
		for _, f := range files {
			current[f.Location()] = f.URL
		}
	}

	refreshed := make([]models.SourceFile, len(sources))
	for i, src := range sources {
		refreshed[i] = src
		if u, ok := current[src.Location()]; ok {
			refreshed[i].URL = u
		}
	}
	return refreshed
}
