package models

import (
	"sort"
	"time"
)

// RunReport summarises a run per dataset type. Persisted as report.json.
type RunReport struct {
	Run        Run                             `json:"run"`
	Status     RunStatus                       `json:"status"`
	StartedAt  time.Time                       `json:"started_at"`
	UpdatedAt  time.Time                       `json:"updated_at"`
	FinishedAt *time.Time                      `json:"finished_at,omitempty"`
	Datasets   map[DatasetType]*DatasetReport `json:"datasets"`
	Sources    []SourceFile                    `json:"sources"` // every scheduled file, in submission order
	Error      string                          `json:"error,omitempty"`
}

// DatasetReport aggregates worker outcomes for one dataset type
type DatasetReport struct {
	Attempted        int           `json:"attempted"`
	Succeeded        int           `json:"succeeded"`
	Failed           int           `json:"failed"`
	RecordsRead      int64         `json:"records_read"`
	RecordsCommitted int64         `json:"records_committed"`
	RecordsSkipped   int64         `json:"records_skipped"`
	RecordsFiltered  int64         `json:"records_filtered"`
	BytesDownloaded  int64         `json:"bytes_downloaded"`
	Failures         []FileFailure `json:"failures,omitempty"`
}

// TotalFailures returns the number of failed files across dataset types
func (r *RunReport) TotalFailures() int {
	n := 0
	for _, d := range r.Datasets {
		n += d.Failed
	}
	return n
}

// FailedSources returns the source files whose latest attempt failed
func (r *RunReport) FailedSources() []SourceFile {
	var sources []SourceFile
	for _, dt := range r.DatasetTypes() {
		for _, f := range r.Datasets[dt].Failures {
			sources = append(sources, SourceFile{DatasetType: f.DatasetType, URL: f.SourceURL})
		}
	}
	return sources
}

// EmptyDatasets lists dataset types without a single successful file
func (r *RunReport) EmptyDatasets() []DatasetType {
	var empty []DatasetType
	for _, dt := range r.DatasetTypes() {
		if r.Datasets[dt].Succeeded == 0 {
			empty = append(empty, dt)
		}
	}
	return empty
}

// DatasetTypes returns the report's dataset types in stable order
func (r *RunReport) DatasetTypes() []DatasetType {
	types := make([]DatasetType, 0, len(r.Datasets))
	for dt := range r.Datasets {
		types = append(types, dt)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types
}
