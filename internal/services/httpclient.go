package services

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/trobanga/s2ingest/internal/lib"
	"github.com/trobanga/s2ingest/internal/models"
)

// HTTPClient wraps retryablehttp with the pipeline's backoff and
// transient-error classification
type HTTPClient struct {
	client      *retryablehttp.Client
	retryConfig lib.RetryConfig
	logger      *lib.Logger
}

// NewHTTPClient creates an HTTP client with timeout and retry configuration.
// A zero timeout leaves requests bounded only by their context.
func NewHTTPClient(timeout time.Duration, retryConfig models.RetryConfig, logger *lib.Logger) *HTTPClient {
	return newHTTPClient(timeout, lib.NewRetryConfigFromModel(retryConfig), logger)
}

// NewSingleAttemptClient creates a client that never retries, for transfers
// whose failure must surface to the caller unchanged
func NewSingleAttemptClient(timeout time.Duration, logger *lib.Logger) *HTTPClient {
	return newHTTPClient(timeout, lib.NoRetry, logger)
}

func newHTTPClient(timeout time.Duration, retryConfig lib.RetryConfig, logger *lib.Logger) *HTTPClient {
	if logger == nil {
		logger = lib.DefaultLogger
	}

	c := &HTTPClient{retryConfig: retryConfig, logger: logger}

	rc := retryablehttp.NewClient()
	rc.HTTPClient = &http.Client{Timeout: timeout}
	rc.Logger = logger
	rc.RetryMax = retryConfig.MaxAttempts - 1
	rc.CheckRetry = c.checkRetry
	rc.Backoff = c.backoff
	rc.ErrorHandler = retryablehttp.PassthroughErrorHandler
	rc.RequestLogHook = func(_ retryablehttp.Logger, req *http.Request, attempt int) {
		lib.LogServiceCall(logger, req.URL.Host, req.URL.String(), req.Method)
	}
	c.client = rc

	return c
}

func (c *HTTPClient) checkRetry(ctx context.Context, resp *http.Response, err error) (bool, error) {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return false, ctxErr
	}
	return lib.ShouldRetryResponse(ctx, resp, err), nil
}

func (c *HTTPClient) backoff(_, _ time.Duration, attempt int, resp *http.Response) time.Duration {
	cause := fmt.Errorf("transient failure")
	if resp != nil {
		cause = fmt.Errorf("HTTP %d", resp.StatusCode)
	}
	target := "request"
	if resp != nil && resp.Request != nil {
		target = resp.Request.URL.Host
	}
	lib.LogRetry(c.logger, target, attempt, c.retryConfig.MaxAttempts, cause)
	return lib.CalculateBackoff(attempt, c.retryConfig.InitialBackoffMs, c.retryConfig.MaxBackoffMs)
}

// Get performs an HTTP GET request, retrying transient failures.
// After the last attempt the final response is returned as is, so callers
// inspect the status code themselves.
func (c *HTTPClient) Get(ctx context.Context, url string, header http.Header) (*http.Response, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	for k, values := range header {
		for _, v := range values {
			req.Header.Add(k, v)
		}
	}

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	lib.LogServiceResponse(c.logger, req.URL.Host, resp.StatusCode, time.Since(start))
	return resp, nil
}

// ProgressReader wraps an io.Reader and calls a callback with bytes read
type ProgressReader struct {
	Reader   io.Reader
	Callback func(int64)
	total    int64
}

func (r *ProgressReader) Read(p []byte) (int, error) {
	n, err := r.Reader.Read(p)
	r.total += int64(n)
	if r.Callback != nil && n > 0 {
		r.Callback(r.total)
	}
	return n, err
}
