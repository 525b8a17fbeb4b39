package lib

import (
	"bufio"
	"fmt"
	"io"
)

// DefaultMaxLineBytes bounds a single JSON line
const DefaultMaxLineBytes = 16 * 1024 * 1024

// NewLineScanner returns a scanner for newline-delimited records of up to maxLineBytes
func NewLineScanner(reader io.Reader, maxLineBytes int) *bufio.Scanner {
	if maxLineBytes <= 0 {
		maxLineBytes = DefaultMaxLineBytes
	}
	scanner := bufio.NewScanner(reader)
	initial := 64 * 1024
	if initial > maxLineBytes {
		initial = maxLineBytes
	}
	scanner.Buffer(make([]byte, initial), maxLineBytes)
	return scanner
}

// ReadLines calls fn for every non-empty line with its 0-based line offset.
// The line slice is only valid during the callback.
// Returns the number of lines read, blank ones included.
func ReadLines(reader io.Reader, maxLineBytes int, fn func(offset int64, line []byte) error) (int64, error) {
	scanner := NewLineScanner(reader, maxLineBytes)

	var offset int64
	for ; scanner.Scan(); offset++ {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		if err := fn(offset, line); err != nil {
			return offset, fmt.Errorf("line %d: %w", offset, err)
		}
	}

	if err := scanner.Err(); err != nil {
		return offset, fmt.Errorf("scanner error at line %d: %w", offset, err)
	}
	return offset, nil
}

// WriteLine writes one record followed by a newline
func WriteLine(writer io.Writer, line []byte) error {
	if _, err := writer.Write(line); err != nil {
		return fmt.Errorf("failed to write record: %w", err)
	}
	if _, err := writer.Write([]byte("\n")); err != nil {
		return fmt.Errorf("failed to write newline: %w", err)
	}
	return nil
}
