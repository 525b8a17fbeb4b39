package models

import "time"

// NewRunReport creates a pending report with an empty entry per dataset type
func NewRunReport(run Run) RunReport {
	now := time.Now()
	datasets := make(map[DatasetType]*DatasetReport, len(run.DatasetTypes))
	for _, dt := range run.DatasetTypes {
		datasets[dt] = &DatasetReport{}
	}
	return RunReport{
		Run:       run,
		Status:    RunStatusPending,
		StartedAt: now,
		UpdatedAt: now,
		Datasets:  datasets,
	}
}

// UpdateRunStatus creates a new RunReport with updated status
// Pure function - returns new instance, does not mutate original
func UpdateRunStatus(report RunReport, status RunStatus) RunReport {
	report.Status = status
	report.UpdatedAt = time.Now()
	return report
}

// RecordResult creates a new DatasetReport with a worker result folded in
// Pure function - returns new instance
func RecordResult(d DatasetReport, result WorkerResult) DatasetReport {
	d.Attempted++
	d.RecordsRead += result.RecordsRead
	d.RecordsCommitted += result.RecordsCommitted
	d.RecordsSkipped += result.RecordsSkipped
	d.RecordsFiltered += result.RecordsFiltered
	d.BytesDownloaded += result.BytesDownloaded

	if result.Succeeded() {
		d.Succeeded++
		return d
	}

	d.Failed++
	failure := FileFailure{
		DatasetType: result.Source.DatasetType,
		SourceURL:   result.Source.URL,
		Kind:        KindUnknown,
		State:       result.State,
		Offset:      -1,
		Timestamp:   time.Now(),
	}
	if result.Failure != nil {
		failure = *result.Failure
	}
	failure.RecordsRead = result.RecordsRead
	failure.RecordsCommitted = result.RecordsCommitted
	failure.RecordsSkipped = result.RecordsSkipped
	failure.RecordsFiltered = result.RecordsFiltered
	failure.BytesDownloaded = result.BytesDownloaded
	d.Failures = append(append([]FileFailure(nil), d.Failures...), failure)
	return d
}

// ClearFailure creates a new DatasetReport with a retried file's failure removed.
// Attempted and failed counts drop by one and the failed attempt's record and
// byte counts are subtracted, so the retry is counted once.
// Pure function - returns new instance
func ClearFailure(d DatasetReport, sourceURL string) DatasetReport {
	kept := make([]FileFailure, 0, len(d.Failures))
	var removed *FileFailure
	for i, f := range d.Failures {
		if removed == nil && f.SourceURL == sourceURL {
			removed = &d.Failures[i]
			continue
		}
		kept = append(kept, f)
	}
	if removed != nil {
		d.Attempted--
		d.Failed--
		d.RecordsRead -= removed.RecordsRead
		d.RecordsCommitted -= removed.RecordsCommitted
		d.RecordsSkipped -= removed.RecordsSkipped
		d.RecordsFiltered -= removed.RecordsFiltered
		d.BytesDownloaded -= removed.BytesDownloaded
	}
	d.Failures = kept
	return d
}

// FinishRun creates a new RunReport with a final status derived from its counts:
// completed when nothing failed, failed when some dataset type has no
// successful file, partial otherwise.
// Pure function - returns new instance
func FinishRun(report RunReport) RunReport {
	now := time.Now()
	report.FinishedAt = &now
	report.UpdatedAt = now

	switch {
	case len(report.EmptyDatasets()) > 0:
		report.Status = RunStatusFailed
	case report.TotalFailures() > 0:
		report.Status = RunStatusPartial
	default:
		report.Status = RunStatusCompleted
	}
	return report
}
