package services

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/trobanga/s2ingest/internal/lib"
	"github.com/trobanga/s2ingest/internal/models"
)

// APIKeyHeader carries the credential on every manifest call
const APIKeyHeader = "x-api-key"

// maxManifestBytes bounds manifest responses, which are small JSON documents
const maxManifestBytes = 16 << 20

// ReleaseClient resolves releases and their file manifests from the S2AG
// datasets API:
//
//	GET {api_url}                            -> ["2023-06-06", "2023-06-13", ...]
//	GET {api_url}/{release}/dataset/{type}   -> {"files": ["https://...", ...]}
type ReleaseClient struct {
	apiURL     string
	apiKey     string
	httpClient *HTTPClient
	logger     *lib.Logger
}

// datasetFiles is the body of a dataset listing
type datasetFiles struct {
	Name  string   `json:"name"`
	Files []string `json:"files"`
}

// NewReleaseClient creates a client for the release API whose calls are
// retried per retry. Fails with a configuration error when no API key is set.
func NewReleaseClient(config models.ReleaseConfig, retry models.RetryConfig, logger *lib.Logger) (*ReleaseClient, error) {
	if strings.TrimSpace(config.APIKey) == "" {
		return nil, lib.ErrMissingAPIKey()
	}
	if config.APIURL == "" {
		return nil, lib.ErrInvalidConfig("release.api_url", "must not be empty")
	}
	return &ReleaseClient{
		apiURL:     strings.TrimRight(config.APIURL, "/"),
		apiKey:     config.APIKey,
		httpClient: NewHTTPClient(time.Duration(config.TimeoutSeconds)*time.Second, retry, logger),
		logger:     logger,
	}, nil
}

// ListReleases returns the release identifiers the API advertises
func (c *ReleaseClient) ListReleases(ctx context.Context) ([]string, error) {
	body, status, err := c.get(ctx, c.apiURL)
	if err != nil {
		return nil, lib.ErrReleaseUnavailable(c.apiURL, status, err)
	}

	var releases []string
	if err := json.Unmarshal(body, &releases); err != nil {
		return nil, lib.ErrReleaseUnavailable(c.apiURL, status, fmt.Errorf("malformed release list: %w", err))
	}
	return releases, nil
}

// Resolve picks the latest release by date
func (c *ReleaseClient) Resolve(ctx context.Context) (models.Release, error) {
	ids, err := c.ListReleases(ctx)
	if err != nil {
		return models.Release{}, err
	}
	if len(ids) == 0 {
		return models.Release{}, lib.ErrReleaseUnavailable(c.apiURL, 0, fmt.Errorf("no releases listed"))
	}

	release, ok := models.SelectLatestRelease(ids)
	if !ok {
		return models.Release{}, lib.ErrReleaseUnavailable(c.apiURL, 0,
			fmt.Errorf("none of %d releases has a %s date", len(ids), models.ReleaseDateLayout))
	}

	c.logger.Info("Resolved release", "release", release.ID, "candidates", len(ids))
	return release, nil
}

// ListFiles returns the source files of one dataset type in a release
func (c *ReleaseClient) ListFiles(ctx context.Context, release models.Release, datasetType models.DatasetType) ([]models.SourceFile, error) {
	endpoint := fmt.Sprintf("%s/%s/dataset/%s", c.apiURL, url.PathEscape(release.ID), url.PathEscape(string(datasetType)))

	body, status, err := c.get(ctx, endpoint)
	if err != nil {
		return nil, lib.ErrManifest(release.ID, datasetType, status, err)
	}

	var listing datasetFiles
	if err := json.Unmarshal(body, &listing); err != nil {
		return nil, lib.ErrManifest(release.ID, datasetType, status, fmt.Errorf("malformed file listing: %w", err))
	}
	if len(listing.Files) == 0 {
		return nil, lib.ErrManifest(release.ID, datasetType, status, fmt.Errorf("file listing is empty"))
	}

	files := make([]models.SourceFile, 0, len(listing.Files))
	for _, f := range listing.Files {
		if strings.TrimSpace(f) == "" {
			return nil, lib.ErrManifest(release.ID, datasetType, status, fmt.Errorf("file listing contains an empty URL"))
		}
		files = append(files, models.SourceFile{DatasetType: datasetType, URL: f})
	}

	c.logger.Info("Listed dataset files", "release", release.ID, "dataset", datasetType, "files", len(files))
	return files, nil
}

// get fetches an endpoint and returns its body; any non-2xx status is an error
func (c *ReleaseClient) get(ctx context.Context, endpoint string) ([]byte, int, error) {
	header := http.Header{}
	header.Set(APIKeyHeader, c.apiKey)
	header.Set("Accept", "application/json")

	resp, err := c.httpClient.Get(ctx, endpoint, header)
	if err != nil {
		return nil, 0, err
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxManifestBytes))
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet := strings.TrimSpace(string(body))
		if len(snippet) > 200 {
			snippet = snippet[:200]
		}
		return nil, resp.StatusCode, fmt.Errorf("unexpected status %s: %s", resp.Status, snippet)
	}
	return body, resp.StatusCode, nil
}
