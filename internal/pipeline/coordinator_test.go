package pipeline_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trobanga/s2ingest/internal/lib"
	"github.com/trobanga/s2ingest/internal/models"
	"github.com/trobanga/s2ingest/internal/pipeline"
	"github.com/trobanga/s2ingest/internal/services"
)

func (f *fixture) coordinator(resolver pipeline.ReleaseResolver) *pipeline.Coordinator {
	w := f.worker(pipeline.WorkerOptionsFromConfig(f.config.Pipeline))
	return pipeline.NewCoordinator(f.config, resolver, nil, w, pipeline.NewPoolExecutor(2, 1, f.logger), f.logger)
}

func TestCoordinator_RunPipelineCompleted(t *testing.T) {
	f := newFixture(t)
	resolver := newFakeResolver()
	resolver.add(models.DatasetPapers,
		f.writeSource(t, "papers-0.jsonl", paper(1), paper(2), paper(3)),
		f.writeSource(t, "papers-1.jsonl", paper(11)))
	resolver.add(models.DatasetAbstracts, f.writeSource(t, "abstracts-0.jsonl", abstract(1)))

	c := f.coordinator(resolver)
	var seen, scheduled int
	c.OnScheduled = func(files int) { scheduled = files }
	c.OnResult = func(models.WorkerResult) { seen++ }

	report, err := c.RunPipeline(context.Background(), nil)
	require.NoError(t, err)

	assert.Equal(t, models.RunStatusCompleted, report.Status)
	assert.Equal(t, "2023-06-13", report.Run.Release.ID)
	assert.Equal(t, 3, seen)
	assert.Equal(t, 3, scheduled)
	assert.Len(t, report.Sources, 3)
	assert.Equal(t, 2, report.Datasets[models.DatasetPapers].Succeeded)
	assert.Equal(t, int64(4), report.Datasets[models.DatasetPapers].RecordsCommitted)
	assert.Equal(t, int64(1), report.Datasets[models.DatasetAbstracts].RecordsCommitted)
	assert.True(t, pipeline.Succeeded(report))

	keys, err := f.store.List(context.Background(), report.Run.RunID+"/")
	require.NoError(t, err)
	for _, k := range keys {
		assert.Regexp(t, `^`+report.Run.RunID+`/(papers|abstracts)/id_bucket=\d+/[\w-]+-[0-9a-f]{8}-b\d{5}\.parquet$`, k)
	}

	persisted, err := pipeline.LoadRun(f.config.RunsDir, report.Run.RunID)
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusCompleted, persisted.Status)
	assert.NotNil(t, persisted.FinishedAt)
	assert.False(t, services.IsRunLocked(f.config.RunsDir, report.Run.RunID))

	summary := pipeline.RunSummary(report)
	assert.Contains(t, summary, "Status: completed")
	assert.Contains(t, summary, "2 attempted, 2 succeeded, 0 failed")
}

func TestCoordinator_PartialRunAndRetry(t *testing.T) {
	f := newFixture(t)
	// batch 0 (papers 5 and 7) commits before the malformed line fails the file
	broken := f.writeSource(t, "papers-1.jsonl", paper(5), paper(7), `{"corpusid": 6`)
	resolver := newFakeResolver()
	resolver.add(models.DatasetPapers, f.writeSource(t, "papers-0.jsonl", paper(1)), broken)
	resolver.add(models.DatasetAbstracts, f.writeSource(t, "abstracts-0.jsonl", abstract(1)))

	c := f.coordinator(resolver)
	report, err := c.RunPipeline(context.Background(), nil)
	require.NoError(t, err)

	assert.Equal(t, models.RunStatusPartial, report.Status)
	papers := report.Datasets[models.DatasetPapers]
	assert.Equal(t, 1, papers.Succeeded)
	require.Len(t, papers.Failures, 1)
	assert.Equal(t, broken, papers.Failures[0].SourceURL)
	assert.Equal(t, models.KindParse, papers.Failures[0].Kind)
	assert.Equal(t, int64(2), papers.Failures[0].Offset)
	assert.Equal(t, int64(2), papers.Failures[0].RecordsCommitted)
	assert.Equal(t, int64(3), papers.RecordsCommitted, "committed batches of a failed file are counted")
	assert.True(t, pipeline.Succeeded(report))
	assert.Contains(t, pipeline.RunSummary(report), "✗")

	keys, err := f.store.List(context.Background(), report.Run.RunID+"/papers/")
	require.NoError(t, err)
	assert.Len(t, keys, 3)

	require.NoError(t, os.WriteFile(broken, []byte(paper(5)+"\n"+paper(7)+"\n"+paper(6)+"\n"), 0644))

	var scheduled int
	c.OnScheduled = func(files int) { scheduled = files }
	retried, err := c.Retry(context.Background(), report.Run.RunID)
	require.NoError(t, err)
	assert.Equal(t, 1, scheduled, "only the failed file is scheduled")

	assert.Equal(t, report.Run.RunID, retried.Run.RunID, "retry keeps the run id")
	assert.Equal(t, models.RunStatusCompleted, retried.Status)
	papers = retried.Datasets[models.DatasetPapers]
	assert.Equal(t, 2, papers.Attempted)
	assert.Equal(t, 2, papers.Succeeded)
	assert.Empty(t, papers.Failures)
	assert.Equal(t, int64(4), papers.RecordsRead, "the failed attempt is not counted twice")
	assert.Equal(t, int64(4), papers.RecordsCommitted)
	assert.Equal(t, papers.RecordsRead, papers.RecordsCommitted+papers.RecordsSkipped+papers.RecordsFiltered)
	assert.Equal(t, 1, retried.Datasets[models.DatasetAbstracts].Succeeded, "succeeded files are not re-run")

	keys, err = f.store.List(context.Background(), report.Run.RunID+"/papers/")
	require.NoError(t, err)
	assert.Len(t, keys, 4, "retry overwrites the objects of committed batches")

	_, err = c.Retry(context.Background(), report.Run.RunID)
	assert.ErrorContains(t, err, "cannot retry")
}

func TestCoordinator_RetryRefreshesSignedLinks(t *testing.T) {
	f := newFixture(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("sig") != "new" {
			http.Error(w, "link expired", http.StatusForbidden)
			return
		}
		_, _ = io.WriteString(w, paper(1)+"\n"+paper(2)+"\n")
	}))
	t.Cleanup(func() {
		srv.Close()
		http.DefaultTransport.(*http.Transport).CloseIdleConnections()
	})

	stale := srv.URL + "/papers/p-0.jsonl?sig=old"
	fresh := srv.URL + "/papers/p-0.jsonl?sig=new"

	resolver := newFakeResolver()
	resolver.files[models.DatasetPapers] = []models.SourceFile{{DatasetType: models.DatasetPapers, URL: stale}}
	c := f.coordinator(resolver)

	report, err := c.RunPipeline(context.Background(), []models.DatasetType{models.DatasetPapers})
	require.NoError(t, err)
	require.Equal(t, models.RunStatusFailed, report.Status)
	assert.Equal(t, models.KindDownload, report.Datasets[models.DatasetPapers].Failures[0].Kind)

	resolver.files[models.DatasetPapers] = []models.SourceFile{{DatasetType: models.DatasetPapers, URL: fresh}}
	var attempted []string
	c.OnResult = func(r models.WorkerResult) { attempted = append(attempted, r.Source.URL) }

	retried, err := c.Retry(context.Background(), report.Run.RunID)
	require.NoError(t, err)
	assert.Equal(t, []string{fresh}, attempted)
	assert.Equal(t, 2, resolver.listCalls)
	assert.Equal(t, models.RunStatusCompleted, retried.Status)
	assert.Equal(t, int64(2), retried.Datasets[models.DatasetPapers].RecordsCommitted)
}

func TestCoordinator_FailedWhenDatasetHasNoSuccess(t *testing.T) {
	f := newFixture(t)
	resolver := newFakeResolver()
	resolver.add(models.DatasetPapers, f.writeSource(t, "papers-0.jsonl", "not json"))
	resolver.add(models.DatasetAbstracts, f.writeSource(t, "abstracts-0.jsonl", abstract(1)))

	report, err := f.coordinator(resolver).RunPipeline(context.Background(), nil)
	require.NoError(t, err)

	assert.Equal(t, models.RunStatusFailed, report.Status)
	assert.Equal(t, []models.DatasetType{models.DatasetPapers}, report.EmptyDatasets())
	assert.False(t, pipeline.Succeeded(report))
	assert.Contains(t, pipeline.RunSummary(report), "No file succeeded for: papers")
}

func TestCoordinator_ManifestErrorAbortsBeforeScheduling(t *testing.T) {
	f := newFixture(t)
	resolver := newFakeResolver()
	resolver.add(models.DatasetPapers, f.writeSource(t, "papers-0.jsonl", paper(1)))
	resolver.errs[models.DatasetAbstracts] = lib.ErrManifest("2023-06-13", models.DatasetAbstracts, 500, nil)

	c := f.coordinator(resolver)
	c.OnResult = func(models.WorkerResult) { t.Error("no file may be scheduled") }

	report, err := c.RunPipeline(context.Background(), nil)
	assert.Nil(t, report)
	assert.Equal(t, models.KindManifest, lib.KindOf(err))

	runs, err := services.ListAllRuns(f.config.RunsDir)
	require.NoError(t, err)
	assert.Empty(t, runs)
}

// misconfiguredProcessor fails every file with a configuration error
type misconfiguredProcessor struct {
	calls atomic.Int32
}

func (p *misconfiguredProcessor) Process(_ context.Context, _ models.Run, src models.SourceFile) models.WorkerResult {
	p.calls.Add(1)
	err := lib.ErrInvalidConfig("storage.root", "bucket does not exist")
	return models.WorkerResult{
		Source:  src,
		State:   models.WorkerFailed,
		Failure: lib.NewFileFailure(src, models.WorkerWriting, err),
	}
}

func TestCoordinator_WorkerConfigurationErrorAbortsRun(t *testing.T) {
	f := newFixture(t)
	resolver := newFakeResolver()
	resolver.add(models.DatasetPapers,
		f.writeSource(t, "papers-0.jsonl", paper(1)),
		f.writeSource(t, "papers-1.jsonl", paper(2)),
		f.writeSource(t, "papers-2.jsonl", paper(3)))

	processor := &misconfiguredProcessor{}
	c := pipeline.NewCoordinator(f.config, resolver, nil, processor, pipeline.NewPoolExecutor(1, 1, f.logger), f.logger)

	report, err := c.RunPipeline(context.Background(), []models.DatasetType{models.DatasetPapers})
	require.NotNil(t, report)
	assert.Equal(t, models.KindConfiguration, lib.KindOf(err))
	assert.Equal(t, int32(1), processor.calls.Load(), "queued files are not started")

	assert.Equal(t, models.RunStatusFailed, report.Status)
	assert.Contains(t, report.Error, "run aborted")
	kinds := map[models.ErrorKind]int{}
	for _, failure := range report.Datasets[models.DatasetPapers].Failures {
		kinds[failure.Kind]++
	}
	assert.Equal(t, map[models.ErrorKind]int{models.KindConfiguration: 1, models.KindCancelled: 2}, kinds)

	ok, _ := lib.CanRetryRun(*report)
	assert.True(t, ok, "an aborted run can be retried once fixed")
}

func TestCoordinator_UnknownDatasetType(t *testing.T) {
	f := newFixture(t)
	resolver := newFakeResolver()

	_, err := f.coordinator(resolver).RunPipeline(context.Background(), []models.DatasetType{"citations"})
	assert.Equal(t, models.KindConfiguration, lib.KindOf(err))
	assert.Zero(t, resolver.listCalls)
}

func TestCoordinator_CancelledRun(t *testing.T) {
	f := newFixture(t)
	resolver := newFakeResolver()
	resolver.add(models.DatasetPapers, f.writeSource(t, "papers-0.jsonl", paper(1)))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report, err := f.coordinator(resolver).RunPipeline(ctx, []models.DatasetType{models.DatasetPapers})
	require.NotNil(t, report)
	assert.Equal(t, models.KindCancelled, lib.KindOf(err))
	assert.Equal(t, models.RunStatusFailed, report.Status)

	failures := report.Datasets[models.DatasetPapers].Failures
	require.Len(t, failures, 1)
	assert.Equal(t, models.KindCancelled, failures[0].Kind)
	assert.Contains(t, pipeline.RunSummary(report), "Error: run cancelled")
}

func TestCoordinator_IngestLocal(t *testing.T) {
	f := newFixture(t)
	dir := filepath.Dir(f.writeSource(t, "works-0.jsonl",
		`{"id": "W1", "title": "t", "abstract_inverted_index": {"a": [0]}}`,
		`{"id": "W2", "title": "no abstract"}`))
	f.writeSource(t, "works-1.jsonl.gz.tmp", "ignored")

	report, err := f.coordinator(nil).IngestLocal(context.Background(), models.DatasetWorks, []string{dir})
	require.NoError(t, err)

	assert.Equal(t, models.LocalReleaseID, report.Run.Release.ID)
	assert.Equal(t, models.RunStatusCompleted, report.Status)
	works := report.Datasets[models.DatasetWorks]
	assert.Equal(t, 1, works.Attempted)
	assert.Equal(t, int64(1), works.RecordsCommitted)
	assert.Equal(t, int64(1), works.RecordsFiltered)

	keys, err := f.store.List(context.Background(), report.Run.RunID+"/works/")
	require.NoError(t, err)
	require.Len(t, keys, 1)
	assert.True(t, strings.Contains(keys[0], "/id_bucket=1/works-0-"), keys[0])
}

func TestCoordinator_RunPipelineWithoutResolver(t *testing.T) {
	f := newFixture(t)
	_, err := f.coordinator(nil).RunPipeline(context.Background(), nil)
	assert.Equal(t, models.KindConfiguration, lib.KindOf(err))
}
