package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/trobanga/s2ingest/internal/chunker"
	"github.com/trobanga/s2ingest/internal/lib"
	"github.com/trobanga/s2ingest/internal/metrics"
	"github.com/trobanga/s2ingest/internal/models"
	"github.com/trobanga/s2ingest/internal/services"
	"github.com/trobanga/s2ingest/internal/storage"
	"github.com/trobanga/s2ingest/internal/transform"
)

// Fetcher copies a source file to local disk
type Fetcher interface {
	Fetch(ctx context.Context, src models.SourceFile) (services.Download, error)
}

// WorkerOptions configures how a worker reads and batches files
type WorkerOptions struct {
	BatchSize          int
	MaxLineBytes       int
	StrictPartitionKey bool
}

// WorkerOptionsFromConfig extracts worker options from the pipeline config
func WorkerOptionsFromConfig(config models.PipelineConfig) WorkerOptions {
	return WorkerOptions{
		BatchSize:          config.BatchSize,
		MaxLineBytes:       config.MaxLineBytes,
		StrictPartitionKey: config.StrictPartitionKey,
	}
}

// Worker ingests one source file at a time:
// download, then transform and write batch by batch, then clean up.
// A Worker holds no per-file state and can process files concurrently.
type Worker struct {
	fetcher  Fetcher
	registry *transform.Registry
	store    storage.ObjectStore
	options  WorkerOptions
	metrics  *metrics.Metrics
	logger   *lib.Logger
}

// NewWorker creates a worker writing to store
func NewWorker(fetcher Fetcher, registry *transform.Registry, store storage.ObjectStore, options WorkerOptions, m *metrics.Metrics, logger *lib.Logger) *Worker {
	if registry == nil {
		registry = transform.DefaultRegistry()
	}
	if options.BatchSize <= 0 {
		options.BatchSize = chunker.DefaultBatchSize
	}
	if options.MaxLineBytes <= 0 {
		options.MaxLineBytes = lib.DefaultMaxLineBytes
	}
	return &Worker{
		fetcher:  fetcher,
		registry: registry,
		store:    store,
		options:  options,
		metrics:  m,
		logger:   logger,
	}
}

// fileRun tracks one file through the worker states
type fileRun struct {
	worker   *Worker
	ctx      context.Context
	run      models.Run
	result   models.WorkerResult
	tempPath string
	started  time.Time
}

// Process ingests src into the run's output. It never panics on bad input
// and always returns a terminal result.
func (w *Worker) Process(ctx context.Context, run models.Run, src models.SourceFile) models.WorkerResult {
	defer w.metrics.WorkerStarted()()

	f := &fileRun{
		worker:  w,
		ctx:     ctx,
		run:     run,
		result:  models.WorkerResult{Source: src, State: models.WorkerPending},
		started: time.Now(),
	}
	result := f.process()
	w.metrics.FileFinished(result)
	return result
}

func (f *fileRun) process() models.WorkerResult {
	w := f.worker
	src := f.result.Source

	t, err := w.registry.Lookup(src.DatasetType)
	if err != nil {
		return f.fail(err)
	}
	if err := f.ctx.Err(); err != nil {
		return f.fail(lib.ErrCancelled(err))
	}

	f.transition(models.WorkerDownloading)
	download, err := w.fetcher.Fetch(f.ctx, src)
	if err != nil {
		// the fetcher removes its partial file
		return f.fail(err)
	}
	f.tempPath = download.Path
	f.result.BytesDownloaded = download.Bytes
	w.metrics.Downloaded(src.DatasetType, download.Bytes)

	f.transition(models.WorkerTransforming)
	reader, err := chunker.Open(download.Path)
	if err != nil {
		f.removeTemp()
		return f.fail(lib.ErrParse(src.FileName(), 0, err))
	}

	writer := storage.NewPartitionWriter(w.store, f.run, t)
	chunks := chunker.New(reader, src.FileName(), w.options.BatchSize, w.options.MaxLineBytes)

	for {
		if err := f.ctx.Err(); err != nil {
			_ = reader.Close()
			f.removeTemp()
			return f.fail(lib.ErrCancelled(err))
		}

		batch, err := chunks.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			_ = reader.Close()
			f.removeTemp()
			return f.fail(err)
		}

		w.logger.Debug("Transforming batch",
			"file", src.FileName(),
			"batch", batch.Index,
			"records", len(batch.Records),
			"first_offset", batch.FirstOffset())
		records, err := f.transformBatch(t, batch)
		if err != nil {
			_ = reader.Close()
			f.removeTemp()
			return f.fail(err)
		}

		f.transition(models.WorkerWriting)
		// A started commit runs to completion even if the run is cancelled.
		commit, err := writer.WriteBatch(context.WithoutCancel(f.ctx), src, batch.Index, records)
		if err != nil {
			_ = reader.Close()
			return f.fail(lib.ErrWrite(fmt.Sprintf("%s batch %d", src.FileName(), batch.Index), err))
		}
		if commit.Records > 0 {
			f.result.RecordsCommitted += int64(commit.Records)
			f.result.BatchesCommitted++
			f.result.Objects = append(f.result.Objects, commit.Objects...)
			lib.LogBatchCommitted(w.logger, src.FileName(), batch.Index, commit.Records, len(commit.Objects))
			w.metrics.BatchCommitted(src.DatasetType, commit.Records)
		}
		f.transition(models.WorkerTransforming)
	}

	f.transition(models.WorkerCleaningUp)
	if err := reader.Close(); err != nil {
		w.logger.Warn("Failed to close source", "file", src.FileName(), "error", err)
	}
	f.removeTemp()

	w.metrics.RecordsDropped(src.DatasetType, "missing_partition_key", f.result.RecordsSkipped)
	w.metrics.RecordsDropped(src.DatasetType, "filtered", f.result.RecordsFiltered)

	f.transition(models.WorkerDone)
	f.result.Duration = time.Since(f.started)
	w.logger.Info("File ingested",
		"file", src.FileName(),
		"dataset", src.DatasetType,
		"lines", chunks.LinesRead(),
		"records", f.result.RecordsCommitted,
		"skipped", f.result.RecordsSkipped,
		"filtered", f.result.RecordsFiltered,
		"batches", f.result.BatchesCommitted,
		"duration", f.result.Duration)
	return f.result
}

// transformBatch converts every record of a batch before anything is written
func (f *fileRun) transformBatch(t transform.Transformer, batch chunker.Batch) ([]transform.Record, error) {
	records := make([]transform.Record, 0, len(batch.Records))
	for _, raw := range batch.Records {
		f.result.RecordsRead++

		rec, err := t.Transform(raw)
		switch {
		case err == nil:
			records = append(records, rec)
		case errors.Is(err, transform.ErrFiltered):
			f.result.RecordsFiltered++
		case lib.KindOf(err) == models.KindMissingPartitionKey && !f.worker.options.StrictPartitionKey:
			f.result.RecordsSkipped++
			f.worker.logger.Debug("Skipping record without partition key",
				"file", f.result.Source.FileName(), "offset", raw.Offset)
		default:
			return nil, err
		}
	}
	return records, nil
}

func (f *fileRun) transition(next models.WorkerState) {
	from := f.result.State
	if !from.CanTransitionTo(next) {
		// Programming error: the loop above only takes valid paths.
		panic(fmt.Sprintf("invalid worker transition %s -> %s", from, next))
	}
	f.result.State = next
	lib.LogWorkerState(f.worker.logger, f.result.Source.FileName(), string(from), string(next))
}

// fail records err against the current state and ends in failed.
// The temp file is kept only if it still exists, which the caller decides.
func (f *fileRun) fail(err error) models.WorkerResult {
	if f.ctx.Err() != nil && lib.KindOf(err) == models.KindDownload &&
		(errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)) {
		err = lib.ErrCancelled(err)
	}

	state := f.result.State
	failure := lib.NewFileFailure(f.result.Source, state, err)
	failure.Timestamp = time.Now()
	if f.tempPath != "" {
		failure.TempPath = f.tempPath
	}

	lib.LogWorkerFailed(f.worker.logger, f.result.Source.FileName(), string(state), err)
	f.transition(models.WorkerFailed)
	f.result.Failure = failure
	f.result.Duration = time.Since(f.started)
	return f.result
}

func (f *fileRun) removeTemp() {
	if f.tempPath == "" {
		return
	}
	if err := os.Remove(f.tempPath); err != nil && !os.IsNotExist(err) {
		f.worker.logger.Warn("Failed to remove temp file", "path", f.tempPath, "error", err)
	}
	f.tempPath = ""
}
