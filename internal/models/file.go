package models

import (
	"net/url"
	"path"
	"path/filepath"
	"strings"
)

// DatasetType names a dataset within a release (e.g. "papers")
type DatasetType string

const (
	DatasetPapers    DatasetType = "papers"
	DatasetAbstracts DatasetType = "abstracts"
	DatasetWorks     DatasetType = "works" // OpenAlex works snapshot, local ingestion only
)

// DefaultDatasetTypes are ingested when no types are requested explicitly
var DefaultDatasetTypes = []DatasetType{DatasetPapers, DatasetAbstracts}

// ParseDatasetTypes converts raw names, trimming blanks and dropping duplicates
func ParseDatasetTypes(names []string) []DatasetType {
	seen := make(map[DatasetType]bool, len(names))
	types := make([]DatasetType, 0, len(names))
	for _, name := range names {
		for _, part := range strings.Split(name, ",") {
			dt := DatasetType(strings.ToLower(strings.TrimSpace(part)))
			if dt == "" || seen[dt] {
				continue
			}
			seen[dt] = true
			types = append(types, dt)
		}
	}
	return types
}

// SourceFile is one manifest entry: a downloadable file of one dataset type.
// Stateless, so the same value can be resubmitted on retry.
type SourceFile struct {
	DatasetType DatasetType `json:"dataset_type"`
	URL         string      `json:"url"`
}

// IsLocal reports whether the source refers to a file on the local filesystem
func (f SourceFile) IsLocal() bool {
	u, err := url.Parse(f.URL)
	if err != nil {
		return true
	}
	return u.Scheme == "" || u.Scheme == "file"
}

// LocalPath returns the filesystem path of a local source
func (f SourceFile) LocalPath() string {
	if strings.HasPrefix(f.URL, "file://") {
		if u, err := url.Parse(f.URL); err == nil {
			return u.Path
		}
	}
	return f.URL
}

// FileName returns the base name of the source, without query string
func (f SourceFile) FileName() string {
	if f.IsLocal() {
		return filepath.Base(f.LocalPath())
	}
	u, err := url.Parse(f.URL)
	if err != nil || u.Path == "" {
		return "source"
	}
	return path.Base(u.Path)
}

// Location returns the URL without query string or fragment. Release links
// carry expiring signatures in the query; the location identifies the file.
func (f SourceFile) Location() string {
	if f.IsLocal() {
		return f.URL
	}
	u, err := url.Parse(f.URL)
	if err != nil {
		return f.URL
	}
	u.RawQuery = ""
	u.Fragment = ""
	return u.String()
}

// Stem returns the file name with data suffixes (.gz, .jsonl, .json) removed
func (f SourceFile) Stem() string {
	name := f.FileName()
	for _, suffix := range []string{".gz", ".jsonl", ".json"} {
		name = strings.TrimSuffix(name, suffix)
	}
	if name == "" || name == "." || name == "/" {
		return "source"
	}
	return name
}

// RawRecord is one JSON object line of a source file.
// Offset is the 0-based line number within the file.
type RawRecord struct {
	Offset int64
	Data   []byte
}
