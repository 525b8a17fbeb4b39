package models

import (
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Run is one end-to-end ingestion of a release.
// All output of a run lives under StorageRoot/RunID.
type Run struct {
	RunID        string        `json:"run_id"`
	StorageRoot  string        `json:"storage_root"`
	Release      Release       `json:"release"`
	DatasetTypes []DatasetType `json:"dataset_types"`
	CreatedAt    time.Time     `json:"created_at"`
}

// RunStatus defines the execution state of a run
type RunStatus string

const (
	RunStatusPending    RunStatus = "pending"
	RunStatusInProgress RunStatus = "in_progress"
	RunStatusCompleted  RunStatus = "completed" // every file succeeded
	RunStatusPartial    RunStatus = "partial"   // some files failed, every dataset type has output
	RunStatusFailed     RunStatus = "failed"
)

// IsValidRunStatus checks if the run status is recognized
func IsValidRunStatus(s RunStatus) bool {
	switch s {
	case RunStatusPending, RunStatusInProgress, RunStatusCompleted, RunStatusPartial, RunStatusFailed:
		return true
	default:
		return false
	}
}

// CanTransitionTo checks if a run status transition is valid
// Valid transitions:
//
//	pending -> in_progress | failed
//	in_progress -> completed | partial | failed
//	partial | failed -> in_progress (retry of failed files)
func (s RunStatus) CanTransitionTo(next RunStatus) bool {
	switch s {
	case RunStatusPending:
		return next == RunStatusInProgress || next == RunStatusFailed
	case RunStatusInProgress:
		return next == RunStatusCompleted || next == RunStatusPartial || next == RunStatusFailed
	case RunStatusPartial, RunStatusFailed:
		return next == RunStatusInProgress
	default:
		return false
	}
}

// NewRunID generates a time-ordered run identifier with a random suffix,
// e.g. "20230616-070225-3f2a9c1d"
func NewRunID(now time.Time) string {
	suffix := strings.ReplaceAll(uuid.New().String(), "-", "")[:8]
	return fmt.Sprintf("%s-%s", now.UTC().Format("20060102-150405"), suffix)
}

// NewRun creates a Run for the given release and dataset types
func NewRun(storageRoot string, release Release, types []DatasetType) Run {
	now := time.Now()
	return Run{
		RunID:        NewRunID(now),
		StorageRoot:  storageRoot,
		Release:      release,
		DatasetTypes: append([]DatasetType(nil), types...),
		CreatedAt:    now,
	}
}

// DatasetPrefix returns the object key prefix of a dataset type within the run
func (r Run) DatasetPrefix(dt DatasetType) string {
	return path.Join(r.RunID, string(dt))
}
