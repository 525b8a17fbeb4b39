package services_test

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trobanga/s2ingest/internal/lib"
	"github.com/trobanga/s2ingest/internal/models"
	"github.com/trobanga/s2ingest/internal/services"
)

func newDownloader(t *testing.T) (*services.Downloader, string) {
	t.Helper()
	dir := t.TempDir()
	logger := quietLogger()
	return services.NewDownloader(services.NewSingleAttemptClient(0, logger), dir, 512, logger), dir
}

func TestDownloader_FetchHTTP(t *testing.T) {
	payload := strings.Repeat(`{"corpusid":1}`+"\n", 200)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "sig=abc", r.URL.RawQuery)
		_, _ = w.Write([]byte(payload))
	}))
	defer srv.Close()

	d, dir := newDownloader(t)
	var progress bytes.Buffer
	d.WithProgress(&progress)

	dl, err := d.Fetch(context.Background(), models.SourceFile{DatasetType: models.DatasetPapers, URL: srv.URL + "/papers/p-0.jsonl?sig=abc"})
	require.NoError(t, err)

	assert.Equal(t, int64(len(payload)), dl.Bytes)
	assert.Equal(t, dir, filepath.Dir(dl.Path))
	assert.Contains(t, filepath.Base(dl.Path), "p-0.jsonl")

	data, err := os.ReadFile(dl.Path)
	require.NoError(t, err)
	assert.Equal(t, payload, string(data))
}

func TestDownloader_HTTPErrorLeavesNoTempFile(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	d, dir := newDownloader(t)
	_, err := d.Fetch(context.Background(), models.SourceFile{URL: srv.URL + "/missing.gz"})

	ingestErr := lib.AsIngestError(err)
	require.NotNil(t, ingestErr)
	assert.Equal(t, models.KindDownload, ingestErr.Kind)
	assert.Equal(t, http.StatusNotFound, ingestErr.HTTPStatus)

	entries, _ := os.ReadDir(dir)
	assert.Empty(t, entries)
}

func TestDownloader_ShortTransfer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", strconv.Itoa(4096))
		_, _ = w.Write([]byte(strings.Repeat("x", 100)))
	}))
	defer srv.Close()

	d, dir := newDownloader(t)
	_, err := d.Fetch(context.Background(), models.SourceFile{URL: srv.URL + "/p.gz"})
	assert.Equal(t, models.KindDownload, lib.KindOf(err))

	entries, _ := os.ReadDir(dir)
	assert.Empty(t, entries, "partial download removed")
}

func TestDownloader_CancelledContext(t *testing.T) {
	src := filepath.Join(t.TempDir(), "papers.jsonl")
	require.NoError(t, os.WriteFile(src, []byte(strings.Repeat("{}\n", 1000)), 0644))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	d, dir := newDownloader(t)
	_, err := d.Fetch(ctx, models.SourceFile{URL: src})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)

	entries, _ := os.ReadDir(dir)
	assert.Empty(t, entries)
}

func TestDownloader_LocalFile(t *testing.T) {
	src := filepath.Join(t.TempDir(), "abstracts.jsonl")
	require.NoError(t, os.WriteFile(src, []byte("{\"corpusid\":1}\n"), 0644))

	d, _ := newDownloader(t)
	dl, err := d.Fetch(context.Background(), models.SourceFile{URL: "file://" + src})
	require.NoError(t, err)
	assert.NotEqual(t, src, dl.Path, "local sources are copied, never consumed in place")
	assert.Equal(t, int64(15), dl.Bytes)

	_, err = d.Fetch(context.Background(), models.SourceFile{URL: filepath.Dir(src)})
	assert.Equal(t, models.KindDownload, lib.KindOf(err))
}
