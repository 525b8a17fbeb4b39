package models

import (
	"sort"
	"time"
)

// ReleaseDateLayout is the format of S2AG release identifiers ("2023-06-15")
const ReleaseDateLayout = "2006-01-02"

// LocalReleaseID marks runs that ingest local files without a manifest
const LocalReleaseID = "local"

// Release is an immutable, date-stamped snapshot of the corpus
type Release struct {
	ID   string    `json:"id"`
	Date time.Time `json:"date"`
}

// ParseRelease builds a Release from its identifier.
// Returns false if the identifier is not a release date.
func ParseRelease(id string) (Release, bool) {
	date, err := time.Parse(ReleaseDateLayout, id)
	if err != nil {
		return Release{}, false
	}
	return Release{ID: id, Date: date}, true
}

// SelectLatestRelease picks the release with the latest parseable date.
// Identifiers that are not dates are ignored. Ties on date resolve to the
// lexically greatest identifier. Returns false if nothing parses.
func SelectLatestRelease(ids []string) (Release, bool) {
	var candidates []Release
	for _, id := range ids {
		if r, ok := ParseRelease(id); ok {
			candidates = append(candidates, r)
		}
	}
	if len(candidates) == 0 {
		return Release{}, false
	}

	sort.Slice(candidates, func(i, j int) bool {
		if !candidates[i].Date.Equal(candidates[j].Date) {
			return candidates[i].Date.Before(candidates[j].Date)
		}
		return candidates[i].ID < candidates[j].ID
	})
	return candidates[len(candidates)-1], true
}

// IsLocal reports whether the release stands in for local file ingestion
func (r Release) IsLocal() bool {
	return r.ID == LocalReleaseID
}

func (r Release) String() string {
	return r.ID
}
