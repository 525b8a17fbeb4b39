package services

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/trobanga/s2ingest/internal/lib"
	"github.com/trobanga/s2ingest/internal/models"
	"github.com/trobanga/s2ingest/internal/ui"
)

// DefaultDownloadChunkBytes is the fixed copy buffer for downloads
const DefaultDownloadChunkBytes = 16 * 1024

// Downloader streams source files into private temp files.
// It does not retry: a failed transfer is reported to the caller.
type Downloader struct {
	httpClient *HTTPClient
	tempDir    string
	chunkBytes int
	logger     *lib.Logger
	progress   io.Writer
}

// Download is a completed transfer. The caller owns the file at Path.
type Download struct {
	Path  string
	Bytes int64
}

// NewDownloader creates a downloader writing temp files below tempDir
// (the system temp directory when empty)
func NewDownloader(httpClient *HTTPClient, tempDir string, chunkBytes int, logger *lib.Logger) *Downloader {
	if chunkBytes <= 0 {
		chunkBytes = DefaultDownloadChunkBytes
	}
	if httpClient == nil {
		httpClient = NewSingleAttemptClient(0, logger)
	}
	return &Downloader{
		httpClient: httpClient,
		tempDir:    tempDir,
		chunkBytes: chunkBytes,
		logger:     logger,
	}
}

// WithProgress enables a byte progress bar per transfer written to w
func (d *Downloader) WithProgress(w io.Writer) *Downloader {
	d.progress = w
	return d
}

// Fetch copies src into a new temp file. On any failure the partial temp
// file is removed and a download error is returned.
func (d *Downloader) Fetch(ctx context.Context, src models.SourceFile) (Download, error) {
	if d.tempDir != "" {
		if err := os.MkdirAll(d.tempDir, 0755); err != nil {
			return Download{}, lib.ErrDownload(src.URL, 0, fmt.Errorf("failed to create temp directory: %w", err))
		}
	}

	body, size, status, err := d.open(ctx, src)
	if err != nil {
		return Download{}, lib.ErrDownload(src.URL, status, err)
	}
	defer func() { _ = body.Close() }()

	tmp, err := os.CreateTemp(d.tempDir, fmt.Sprintf("s2ingest-%s-*-%s", src.DatasetType, sanitizeName(src.FileName())))
	if err != nil {
		return Download{}, lib.ErrDownload(src.URL, status, fmt.Errorf("failed to create temp file: %w", err))
	}
	tmpPath := tmp.Name()

	var reader io.Reader = &ctxReader{ctx: ctx, r: body}
	var bar *ui.ProgressBar
	if d.progress != nil {
		bar = ui.NewByteBar(size, src.FileName(), d.progress)
		var reported int64
		reader = &ProgressReader{Reader: reader, Callback: func(total int64) {
			_ = bar.Add(total - reported)
			reported = total
		}}
	}

	// Wrapping both sides keeps io.CopyBuffer from bypassing the fixed buffer
	// through ReadFrom/WriteTo.
	written, err := io.CopyBuffer(struct{ io.Writer }{tmp}, struct{ io.Reader }{reader}, make([]byte, d.chunkBytes))
	if err == nil {
		err = tmp.Sync()
	}
	if closeErr := tmp.Close(); err == nil && closeErr != nil {
		err = closeErr
	}
	if bar != nil {
		_ = bar.Finish()
	}

	if err != nil {
		_ = os.Remove(tmpPath)
		return Download{}, lib.ErrDownload(src.URL, status, fmt.Errorf("transfer interrupted after %d bytes: %w", written, err))
	}
	if size >= 0 && written != size {
		_ = os.Remove(tmpPath)
		return Download{}, lib.ErrDownload(src.URL, status, fmt.Errorf("short transfer: got %d of %d bytes", written, size))
	}

	d.logger.Debug("Download completed", "file", src.FileName(), "bytes", written, "temp", tmpPath)
	return Download{Path: tmpPath, Bytes: written}, nil
}

// open returns the source body, its size (-1 if unknown) and the HTTP status
func (d *Downloader) open(ctx context.Context, src models.SourceFile) (io.ReadCloser, int64, int, error) {
	if src.IsLocal() {
		f, err := os.Open(src.LocalPath())
		if err != nil {
			return nil, -1, 0, err
		}
		info, err := f.Stat()
		if err != nil {
			_ = f.Close()
			return nil, -1, 0, err
		}
		if info.IsDir() {
			_ = f.Close()
			return nil, -1, 0, fmt.Errorf("%s is a directory", src.LocalPath())
		}
		return f, info.Size(), 0, nil
	}

	resp, err := d.httpClient.Get(ctx, src.URL, nil)
	if err != nil {
		return nil, -1, 0, err
	}
	if resp.StatusCode != http.StatusOK {
		_ = resp.Body.Close()
		return nil, -1, resp.StatusCode, fmt.Errorf("unexpected status %s", resp.Status)
	}
	return resp.Body, resp.ContentLength, resp.StatusCode, nil
}

// sanitizeName keeps temp file names short and free of separators
func sanitizeName(name string) string {
	name = strings.Map(func(r rune) rune {
		if r == '/' || r == '\\' || r == '*' || r == os.PathSeparator {
			return '_'
		}
		return r
	}, name)
	if len(name) > 64 {
		name = name[len(name)-64:]
	}
	return name
}

// ctxReader stops a copy once its context is done
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
