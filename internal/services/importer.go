package services

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/trobanga/s2ingest/internal/lib"
	"github.com/trobanga/s2ingest/internal/models"
)

// dataSuffixes are the file extensions picked up when scanning directories
var dataSuffixes = []string{".jsonl", ".json", ".jsonl.gz", ".json.gz", ".gz"}

// IsDataFile reports whether a file name looks like a JSON lines dataset file
func IsDataFile(name string) bool {
	lower := strings.ToLower(name)
	for _, suffix := range dataSuffixes {
		if strings.HasSuffix(lower, suffix) {
			return true
		}
	}
	return false
}

// ResolveLocalSources turns local files and directories into source files of
// one dataset type. Directories are scanned recursively for data files;
// explicitly named files are taken as they are.
func ResolveLocalSources(paths []string, datasetType models.DatasetType, logger *lib.Logger) ([]models.SourceFile, error) {
	if len(paths) == 0 {
		return nil, lib.ErrInvalidConfig("paths", "at least one file or directory is required")
	}

	var sources []models.SourceFile
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			if os.IsNotExist(err) {
				return nil, fmt.Errorf("source does not exist: %s", p)
			}
			return nil, fmt.Errorf("cannot access source: %w", err)
		}

		if !info.IsDir() {
			abs, err := filepath.Abs(p)
			if err != nil {
				return nil, err
			}
			sources = append(sources, models.SourceFile{DatasetType: datasetType, URL: abs})
			continue
		}

		files, err := findDataFiles(p)
		if err != nil {
			return nil, fmt.Errorf("failed to scan %s: %w", p, err)
		}
		if len(files) == 0 {
			return nil, fmt.Errorf("no data files found in %s", p)
		}
		for _, f := range files {
			sources = append(sources, models.SourceFile{DatasetType: datasetType, URL: f})
		}
	}

	logger.Info("Found local files", "count", len(sources), "dataset", datasetType)
	return sources, nil
}

// findDataFiles recursively finds data files in a directory, as absolute paths
func findDataFiles(rootPath string) ([]string, error) {
	var files []string

	err := filepath.WalkDir(rootPath, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || strings.HasPrefix(d.Name(), ".") || !IsDataFile(d.Name()) {
			return nil
		}
		abs, err := filepath.Abs(path)
		if err != nil {
			return err
		}
		files = append(files, abs)
		return nil
	})

	sort.Strings(files)
	return files, err
}
