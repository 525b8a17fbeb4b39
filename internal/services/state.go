package services

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/google/uuid"

	"github.com/trobanga/s2ingest/internal/lib"
	"github.com/trobanga/s2ingest/internal/models"
)

const (
	ReportFileName = "report.json"
)

// GetRunDir returns the directory path for a specific run
func GetRunDir(runsBaseDir string, runID string) string {
	return filepath.Join(runsBaseDir, runID)
}

// GetReportFilePath returns the full path to a run's report file
func GetReportFilePath(runsBaseDir string, runID string) string {
	return filepath.Join(GetRunDir(runsBaseDir, runID), ReportFileName)
}

// LoadRunReport reads a run's report from disk
func LoadRunReport(runsBaseDir string, runID string) (*models.RunReport, error) {
	data, err := os.ReadFile(GetReportFilePath(runsBaseDir, runID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, lib.ErrRunNotFound(runID)
		}
		return nil, fmt.Errorf("failed to read run report: %w", err)
	}

	var report models.RunReport
	if err := json.Unmarshal(data, &report); err != nil {
		return nil, fmt.Errorf("failed to parse run report: %w", err)
	}
	if report.Run.RunID != runID {
		return nil, fmt.Errorf("run report in %s belongs to run %q", runID, report.Run.RunID)
	}
	if !models.IsValidRunStatus(report.Status) {
		return nil, fmt.Errorf("run report %s has unknown status %q", runID, report.Status)
	}
	if report.Datasets == nil {
		report.Datasets = make(map[models.DatasetType]*models.DatasetReport)
	}

	return &report, nil
}

// SaveRunReport writes a run's report to disk with atomic write
// Uses temp file + rename so a crash never leaves a truncated report
func SaveRunReport(runsBaseDir string, report *models.RunReport) error {
	if report.Run.RunID == "" {
		return fmt.Errorf("cannot save report without run_id")
	}

	runDir := GetRunDir(runsBaseDir, report.Run.RunID)
	if err := os.MkdirAll(runDir, 0755); err != nil {
		return fmt.Errorf("failed to create run directory: %w", err)
	}

	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal run report: %w", err)
	}

	tempFile := filepath.Join(runDir, fmt.Sprintf(".report.tmp.%s", uuid.New().String()))
	if err := os.WriteFile(tempFile, data, 0644); err != nil {
		return fmt.Errorf("failed to write temp report file: %w", err)
	}

	if err := os.Rename(tempFile, GetReportFilePath(runsBaseDir, report.Run.RunID)); err != nil {
		_ = os.Remove(tempFile)
		return fmt.Errorf("failed to save run report: %w", err)
	}

	return nil
}

// ListAllRuns scans the runs directory and returns run IDs, newest first
func ListAllRuns(runsBaseDir string) ([]string, error) {
	entries, err := os.ReadDir(runsBaseDir)
	if err != nil {
		if os.IsNotExist(err) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("failed to read runs directory: %w", err)
	}

	var runIDs []string
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		runID := entry.Name()
		if _, err := os.Stat(GetReportFilePath(runsBaseDir, runID)); err == nil {
			runIDs = append(runIDs, runID)
		}
	}

	// Run IDs start with a UTC timestamp
	sort.Sort(sort.Reverse(sort.StringSlice(runIDs)))
	return runIDs, nil
}
