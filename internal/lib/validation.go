package lib

import (
	"fmt"

	"github.com/trobanga/s2ingest/internal/models"
)

// CanRetryRun checks whether a persisted run has failed files to re-drive.
// Returns a reason when it does not.
func CanRetryRun(report models.RunReport) (bool, string) {
	if report.Run.Release.ID == "" {
		return false, "run was never scheduled (no release resolved)"
	}
	if !report.Status.CanTransitionTo(models.RunStatusInProgress) {
		return false, fmt.Sprintf("run is %s", report.Status)
	}
	if len(report.FailedSources()) == 0 {
		return false, "run has no failed files"
	}
	return true, ""
}
