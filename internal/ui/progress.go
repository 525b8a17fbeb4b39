package ui

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/schollz/progressbar/v3"
)

// ProgressBar wraps the progressbar library for operations with a known
// total, such as files completed in a run
type ProgressBar struct {
	mu        sync.Mutex
	bar       *progressbar.ProgressBar
	total     int64
	current   int64
	startTime time.Time
}

// NewProgressBar creates a progress bar writing to stderr
func NewProgressBar(total int64, description string) *ProgressBar {
	return NewProgressBarWithWriter(total, description, os.Stderr)
}

// NewProgressBarWithWriter creates a progress bar that writes to a specific writer
func NewProgressBarWithWriter(total int64, description string, writer io.Writer) *ProgressBar {
	bar := progressbar.NewOptions64(
		total,
		progressbar.OptionSetDescription(description),
		progressbar.OptionShowCount(),
		progressbar.OptionSetWidth(40),
		progressbar.OptionThrottle(500*time.Millisecond),
		progressbar.OptionSetWriter(writer),
		progressbar.OptionSetRenderBlankState(true),
		progressbar.OptionEnableColorCodes(false),
	)
	return &ProgressBar{bar: bar, total: total, startTime: time.Now()}
}

// NewByteBar creates a progress bar for a transfer of total bytes.
// A negative total renders an indeterminate spinner.
func NewByteBar(total int64, description string, writer io.Writer) *ProgressBar {
	bar := progressbar.NewOptions64(
		total,
		progressbar.OptionSetDescription(description),
		progressbar.OptionShowBytes(true),
		progressbar.OptionSetWidth(40),
		progressbar.OptionThrottle(500*time.Millisecond),
		progressbar.OptionSetWriter(writer),
		progressbar.OptionEnableColorCodes(false),
		progressbar.OptionClearOnFinish(),
	)
	return &ProgressBar{bar: bar, total: total, startTime: time.Now()}
}

// Add increments the progress bar by the given amount. Safe for concurrent use.
func (p *ProgressBar) Add(amount int64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.current += amount
	return p.bar.Add64(amount)
}

// Describe replaces the bar's description
func (p *ProgressBar) Describe(description string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.bar.Describe(description)
}

// Finish completes the progress bar
func (p *ProgressBar) Finish() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.bar.Finish()
}

// GetPercentage returns current completion percentage (0-100)
func (p *ProgressBar) GetPercentage() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.total <= 0 {
		return 0
	}
	return (float64(p.current) / float64(p.total)) * 100
}

// GetElapsedTime returns time elapsed since progress bar was created
func (p *ProgressBar) GetElapsedTime() time.Duration {
	return time.Since(p.startTime)
}

// Spinner announces an operation of unknown duration and reports its outcome
type Spinner struct {
	description string
	startTime   time.Time
	writer      io.Writer
}

// NewSpinner creates a spinner writing to stderr
func NewSpinner(description string) *Spinner {
	return &Spinner{description: description, writer: os.Stderr}
}

// Start announces the operation
func (s *Spinner) Start() {
	s.startTime = time.Now()
	_, _ = fmt.Fprintf(s.writer, "%s...\n", s.description)
}

// Stop reports the outcome and elapsed time
func (s *Spinner) Stop(success bool) {
	elapsed := time.Since(s.startTime).Round(time.Millisecond)
	if success {
		_, _ = fmt.Fprintf(s.writer, "✓ %s (completed in %v)\n", s.description, elapsed)
	} else {
		_, _ = fmt.Fprintf(s.writer, "✗ %s (failed after %v)\n", s.description, elapsed)
	}
}
