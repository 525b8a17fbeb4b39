package ui

import (
	"fmt"
	"time"
)

// FormatBytes formats bytes as human-readable size
func FormatBytes(bytes int64) string {
	const (
		KB = 1024
		MB = 1024 * KB
		GB = 1024 * MB
		TB = 1024 * GB
	)

	fbytes := float64(bytes)

	switch {
	case bytes >= TB:
		return fmt.Sprintf("%.2f TB", fbytes/TB)
	case bytes >= GB:
		return fmt.Sprintf("%.2f GB", fbytes/GB)
	case bytes >= MB:
		return fmt.Sprintf("%.2f MB", fbytes/MB)
	case bytes >= KB:
		return fmt.Sprintf("%.2f KB", fbytes/KB)
	}
	return fmt.Sprintf("%d B", bytes)
}

// FormatDuration formats a duration as a human-readable string
func FormatDuration(d time.Duration) string {
	if d < time.Second {
		return d.Round(time.Millisecond).String()
	}
	return d.Round(time.Second).String()
}

// FormatRecordRate formats records per second over an elapsed time
func FormatRecordRate(records int64, elapsed time.Duration) string {
	if elapsed <= 0 || records <= 0 {
		return "0 records/sec"
	}
	rate := float64(records) / elapsed.Seconds()
	switch {
	case rate >= 1_000_000:
		return fmt.Sprintf("%.2fM records/sec", rate/1_000_000)
	case rate >= 1_000:
		return fmt.Sprintf("%.1fk records/sec", rate/1_000)
	}
	return fmt.Sprintf("%.0f records/sec", rate)
}
