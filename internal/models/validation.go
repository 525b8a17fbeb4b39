package models

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// Validate checks if a ProjectConfig has valid fields.
// The API key is not checked here: local ingestion runs without one.
func (c *ProjectConfig) Validate() error {
	if c.Release.APIURL != "" {
		u, err := url.Parse(c.Release.APIURL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("invalid release api_url: %q", c.Release.APIURL)
		}
	}
	if c.Release.TimeoutSeconds <= 0 {
		return errors.New("release timeout_seconds must be positive")
	}

	if c.Storage.Root == "" {
		return errors.New("storage root is required")
	}
	if strings.HasPrefix(c.Storage.Root, "s3://") {
		bucket := strings.SplitN(strings.TrimPrefix(c.Storage.Root, "s3://"), "/", 2)[0]
		if bucket == "" {
			return fmt.Errorf("storage root %q has no bucket", c.Storage.Root)
		}
	}

	if len(c.Pipeline.DatasetTypes) == 0 {
		return errors.New("at least one dataset type is required")
	}
	if c.Pipeline.BatchSize < 1 {
		return fmt.Errorf("batch_size must be positive, got %d", c.Pipeline.BatchSize)
	}
	if c.Pipeline.DownloadChunkBytes < 512 {
		return fmt.Errorf("download_chunk_bytes must be at least 512, got %d", c.Pipeline.DownloadChunkBytes)
	}
	if c.Pipeline.MaxLineBytes < 1024 {
		return fmt.Errorf("max_line_bytes must be at least 1024, got %d", c.Pipeline.MaxLineBytes)
	}
	if c.Pipeline.WorkerMemoryMB < 1 {
		return fmt.Errorf("worker_memory_mb must be positive, got %d", c.Pipeline.WorkerMemoryMB)
	}
	if c.Pipeline.MaxWorkers < 0 {
		return fmt.Errorf("max_workers cannot be negative, got %d", c.Pipeline.MaxWorkers)
	}

	if c.Retry.MaxAttempts < 1 || c.Retry.MaxAttempts > 10 {
		return errors.New("max_attempts must be between 1 and 10")
	}
	if c.Retry.InitialBackoffMs <= 0 {
		return errors.New("initial_backoff_ms must be positive")
	}
	if c.Retry.MaxBackoffMs <= 0 {
		return errors.New("max_backoff_ms must be positive")
	}
	if c.Retry.InitialBackoffMs >= c.Retry.MaxBackoffMs {
		return errors.New("initial_backoff_ms must be less than max_backoff_ms")
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid logging level: %q", c.Logging.Level)
	}

	if c.RunsDir == "" {
		return errors.New("runs_dir is required")
	}

	return nil
}

// ValidateRunsDir checks if the runs directory exists and is writable.
// Creates the directory if it doesn't exist.
func ValidateRunsDir(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			if err := os.MkdirAll(path, 0755); err != nil {
				return fmt.Errorf("failed to create runs directory: %w", err)
			}
			return nil
		}
		return fmt.Errorf("cannot access runs directory: %w", err)
	}

	if !info.IsDir() {
		return fmt.Errorf("runs_dir is not a directory: %s", path)
	}

	testFile := filepath.Join(path, ".write_test_"+uuid.New().String())
	f, err := os.Create(testFile)
	if err != nil {
		return fmt.Errorf("runs directory is not writable: %w", err)
	}
	_ = f.Close()
	_ = os.Remove(testFile)

	return nil
}

// Validate checks the fields of a persisted run
func (r *Run) Validate() error {
	if r.RunID == "" {
		return errors.New("run_id is required")
	}
	if strings.ContainsAny(r.RunID, `/\`) {
		return fmt.Errorf("invalid run_id: %q", r.RunID)
	}
	if r.Release.ID == "" {
		return errors.New("release is required")
	}
	if len(r.DatasetTypes) == 0 {
		return errors.New("run has no dataset types")
	}
	return nil
}
