package lib

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/trobanga/s2ingest/internal/models"
)

// IngestError is a classified pipeline error with context and guidance
type IngestError struct {
	Kind       models.ErrorKind
	Message    string   // Short description of what went wrong
	Cause      error    // Underlying error
	Guidance   []string // What the operator can do about it
	HTTPStatus int      // HTTP status code if applicable
	Offset     int64    // Record offset for parse errors, -1 otherwise
}

// Error implements the error interface
func (e *IngestError) Error() string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("[%s] ", strings.ToUpper(string(e.Kind))))
	sb.WriteString(e.Message)

	if e.Offset >= 0 {
		sb.WriteString(fmt.Sprintf(" at record %d", e.Offset))
	}
	if e.Cause != nil {
		sb.WriteString(fmt.Sprintf(": %v", e.Cause))
	}
	if e.HTTPStatus > 0 {
		sb.WriteString(fmt.Sprintf(" (HTTP %d)", e.HTTPStatus))
	}

	return sb.String()
}

// UserMessage returns a formatted message suitable for displaying to operators
func (e *IngestError) UserMessage() string {
	var sb strings.Builder

	sb.WriteString("Error: ")
	sb.WriteString(e.Message)
	sb.WriteString("\n\n")

	if len(e.Guidance) > 0 {
		sb.WriteString("How to fix:\n")
		for i, guide := range e.Guidance {
			sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, guide))
		}
	}

	if e.Cause != nil {
		sb.WriteString(fmt.Sprintf("\nTechnical details: %v\n", e.Cause))
	}

	return sb.String()
}

// Unwrap returns the underlying cause for errors.Is/As compatibility
func (e *IngestError) Unwrap() error {
	return e.Cause
}

// Release and manifest errors

// ErrReleaseUnavailable creates an error for a release API that cannot name a release
func ErrReleaseUnavailable(apiURL string, status int, cause error) *IngestError {
	return &IngestError{
		Kind:    models.KindReleaseUnavailable,
		Message: fmt.Sprintf("No release available from %s", apiURL),
		Cause:   cause,
		Guidance: []string{
			"Check that the release API is reachable",
			"Verify the API key is valid",
			"Check release.api_url in the configuration",
		},
		HTTPStatus: status,
		Offset:     -1,
	}
}

// ErrManifest creates an error for a file listing that cannot be used
func ErrManifest(release string, datasetType models.DatasetType, status int, cause error) *IngestError {
	return &IngestError{
		Kind:    models.KindManifest,
		Message: fmt.Sprintf("Cannot list %s files for release %s", datasetType, release),
		Cause:   cause,
		Guidance: []string{
			"Check that the dataset type exists in this release",
			"Verify the API key has dataset access",
		},
		HTTPStatus: status,
		Offset:     -1,
	}
}

// Worker errors

// ErrDownload creates an error for a failed source download
func ErrDownload(url string, status int, cause error) *IngestError {
	return &IngestError{
		Kind:    models.KindDownload,
		Message: fmt.Sprintf("Download failed: %s", redactURL(url)),
		Cause:   cause,
		Guidance: []string{
			"Signed download links expire; retry the run to fetch fresh links",
			"Check free space in the temp directory",
		},
		HTTPStatus: status,
		Offset:     -1,
	}
}

// ErrParse creates an error for a record that is not a valid JSON object
func ErrParse(file string, offset int64, cause error) *IngestError {
	return &IngestError{
		Kind:    models.KindParse,
		Message: fmt.Sprintf("Malformed record in %s", file),
		Cause:   cause,
		Guidance: []string{
			"The source file may be truncated or corrupt",
			"Retry the file to download it again",
		},
		Offset: offset,
	}
}

// ErrSchema creates an error for a record field of the wrong type
func ErrSchema(datasetType models.DatasetType, field string, offset int64, cause error) *IngestError {
	return &IngestError{
		Kind:    models.KindParse,
		Message: fmt.Sprintf("Field %q does not match the %s schema", field, datasetType),
		Cause:   cause,
		Guidance: []string{
			"The release format may have changed; check the dataset documentation",
		},
		Offset: offset,
	}
}

// ErrMissingPartitionKey creates an error for a record without a numeric id
func ErrMissingPartitionKey(field string, offset int64) *IngestError {
	return &IngestError{
		Kind:    models.KindMissingPartitionKey,
		Message: fmt.Sprintf("Record has no %s", field),
		Guidance: []string{
			"Disable pipeline.strict_partition_key to skip such records",
		},
		Offset: offset,
	}
}

// ErrWrite creates an error for a failed commit to the object store
func ErrWrite(target string, cause error) *IngestError {
	return &IngestError{
		Kind:    models.KindWrite,
		Message: fmt.Sprintf("Cannot write %s", target),
		Cause:   cause,
		Guidance: []string{
			"Check storage credentials and permissions",
			"The downloaded file was kept; see temp_path in the run report",
		},
		Offset: -1,
	}
}

// ErrInvalidConfig creates an error for configuration validation failures
func ErrInvalidConfig(field string, reason string) *IngestError {
	return &IngestError{
		Kind:    models.KindConfiguration,
		Message: fmt.Sprintf("Invalid configuration: %s", field),
		Cause:   errors.New(reason),
		Guidance: []string{
			fmt.Sprintf("Fix the '%s' field in your configuration", field),
			"Run with --help to see the available flags",
		},
		Offset: -1,
	}
}

// ErrMissingAPIKey creates an error for a release client built without a credential
func ErrMissingAPIKey() *IngestError {
	return &IngestError{
		Kind:    models.KindConfiguration,
		Message: "No API key configured for the release API",
		Guidance: []string{
			"Pass --key or set S2AG_API_KEY",
			"Or set release.api_key in s2ingest.yaml",
		},
		Offset: -1,
	}
}

// ErrCancelled creates an error for work stopped by cancellation
func ErrCancelled(cause error) *IngestError {
	return &IngestError{
		Kind:    models.KindCancelled,
		Message: "Cancelled",
		Cause:   cause,
		Offset:  -1,
	}
}

// ErrRunNotFound creates an error for a missing run report
func ErrRunNotFound(runID string) *IngestError {
	return &IngestError{
		Kind:    models.KindConfiguration,
		Message: fmt.Sprintf("Run not found: %s", runID),
		Guidance: []string{
			"List runs with: s2ingest run list",
			"Check runs_dir in the configuration",
		},
		Offset: -1,
	}
}

// ErrRunLocked creates an error when a run is held by another process
func ErrRunLocked(runID string) *IngestError {
	return &IngestError{
		Kind:    models.KindConfiguration,
		Message: fmt.Sprintf("Run %s is being processed by another s2ingest process", runID),
		Guidance: []string{
			"Wait for the other process to finish",
			"Remove a stale .lock file in the run directory if no process is running",
		},
		Offset: -1,
	}
}

// Helper functions

// KindOf returns the error kind of err, or KindUnknown if it is not classified
func KindOf(err error) models.ErrorKind {
	if err == nil {
		return ""
	}
	var ingestErr *IngestError
	if errors.As(err, &ingestErr) {
		return ingestErr.Kind
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return models.KindCancelled
	}
	return models.KindUnknown
}

// AsIngestError returns err as an IngestError, classifying unknown errors
func AsIngestError(err error) *IngestError {
	var ingestErr *IngestError
	if errors.As(err, &ingestErr) {
		return ingestErr
	}
	return &IngestError{
		Kind:    KindOf(err),
		Message: "An error occurred",
		Cause:   err,
		Guidance: []string{
			"Check the technical details below",
			"See logs for more information",
		},
		Offset: -1,
	}
}

// NewFileFailure converts a worker error into a report entry
func NewFileFailure(src models.SourceFile, state models.WorkerState, err error) *models.FileFailure {
	ingestErr := AsIngestError(err)
	message := ingestErr.Message
	if ingestErr.Cause != nil {
		message = fmt.Sprintf("%s: %v", message, ingestErr.Cause)
	}
	return &models.FileFailure{
		DatasetType: src.DatasetType,
		SourceURL:   src.URL,
		Kind:        ingestErr.Kind,
		Message:     message,
		State:       state,
		Offset:      ingestErr.Offset,
		HTTPStatus:  ingestErr.HTTPStatus,
	}
}

// redactURL strips the query string, which carries signatures on S3 links
func redactURL(raw string) string {
	if i := strings.IndexByte(raw, '?'); i >= 0 {
		return raw[:i]
	}
	return raw
}
