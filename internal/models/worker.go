package models

import (
	"fmt"
	"time"
)

// WorkerState is the lifecycle state of one file's ingestion
type WorkerState string

const (
	WorkerPending      WorkerState = "pending"
	WorkerDownloading  WorkerState = "downloading"
	WorkerTransforming WorkerState = "transforming"
	WorkerWriting      WorkerState = "writing"
	WorkerCleaningUp   WorkerState = "cleaning_up"
	WorkerDone         WorkerState = "done"
	WorkerFailed       WorkerState = "failed"
)

// IsTerminal reports whether no further transitions are possible
func (s WorkerState) IsTerminal() bool {
	return s == WorkerDone || s == WorkerFailed
}

// CanTransitionTo checks if a worker state transition is valid
// Valid transitions:
//
//	pending -> downloading
//	downloading -> transforming
//	transforming -> writing | cleaning_up
//	writing -> transforming | cleaning_up
//	cleaning_up -> done
//	any non-terminal -> failed
func (s WorkerState) CanTransitionTo(next WorkerState) bool {
	if next == WorkerFailed {
		return !s.IsTerminal()
	}
	switch s {
	case WorkerPending:
		return next == WorkerDownloading
	case WorkerDownloading:
		return next == WorkerTransforming
	case WorkerTransforming:
		// cleaning_up directly when the stream ends after the last commit
		return next == WorkerWriting || next == WorkerCleaningUp
	case WorkerWriting:
		return next == WorkerTransforming || next == WorkerCleaningUp
	case WorkerCleaningUp:
		return next == WorkerDone
	default:
		return false
	}
}

// ErrorKind classifies pipeline failures
type ErrorKind string

const (
	KindReleaseUnavailable  ErrorKind = "release_unavailable"
	KindManifest            ErrorKind = "manifest_error"
	KindDownload            ErrorKind = "download_error"
	KindParse               ErrorKind = "parse_error"
	KindMissingPartitionKey ErrorKind = "missing_partition_key"
	KindWrite               ErrorKind = "write_error"
	KindConfiguration       ErrorKind = "configuration_error"
	KindCancelled           ErrorKind = "cancelled"
	KindUnknown             ErrorKind = "unknown"
)

// AbortsRun reports whether errors of this kind stop a run: before scheduling
// when raised by the resolver, or by cancelling queued files when a worker
// reports one
func (k ErrorKind) AbortsRun() bool {
	return k == KindReleaseUnavailable || k == KindManifest || k == KindConfiguration
}

// FileFailure records why one source file failed
type FileFailure struct {
	DatasetType DatasetType `json:"dataset_type"`
	SourceURL   string      `json:"source_url"`
	Kind        ErrorKind   `json:"kind"`
	Message     string      `json:"message"`
	State       WorkerState `json:"state"`                // state the worker was in when it failed
	Offset      int64       `json:"offset,omitempty"`     // record offset for parse failures, -1 otherwise
	HTTPStatus  int         `json:"http_status,omitempty"`
	TempPath    string      `json:"temp_path,omitempty"` // retained temp file, set only on write failures
	Timestamp   time.Time   `json:"timestamp"`

	// Counts the failed attempt added to its dataset report, removed again on retry
	RecordsRead      int64 `json:"records_read,omitempty"`
	RecordsCommitted int64 `json:"records_committed,omitempty"`
	RecordsSkipped   int64 `json:"records_skipped,omitempty"`
	RecordsFiltered  int64 `json:"records_filtered,omitempty"`
	BytesDownloaded  int64 `json:"bytes_downloaded,omitempty"`
}

func (f *FileFailure) Error() string {
	if f.HTTPStatus > 0 {
		return fmt.Sprintf("%s (%s, HTTP %d): %s", f.SourceURL, f.Kind, f.HTTPStatus, f.Message)
	}
	return fmt.Sprintf("%s (%s): %s", f.SourceURL, f.Kind, f.Message)
}

// WorkerResult is the outcome of ingesting one source file
type WorkerResult struct {
	Source           SourceFile    `json:"source"`
	State            WorkerState   `json:"state"`
	RecordsRead      int64         `json:"records_read"`
	RecordsCommitted int64         `json:"records_committed"`
	RecordsSkipped   int64         `json:"records_skipped"`  // missing partition key
	RecordsFiltered  int64         `json:"records_filtered"` // excluded by the dataset schema
	BatchesCommitted int           `json:"batches_committed"`
	BytesDownloaded  int64         `json:"bytes_downloaded"`
	Objects          []string      `json:"objects,omitempty"`
	Duration         time.Duration `json:"duration"`
	Failure          *FileFailure  `json:"failure,omitempty"`
}

// Succeeded reports whether the file reached the done state
func (r WorkerResult) Succeeded() bool {
	return r.State == WorkerDone && r.Failure == nil
}
