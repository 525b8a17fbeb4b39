// Package chunker splits a stream of JSON lines into bounded batches of
// validated records.
package chunker

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"iter"

	"github.com/tidwall/gjson"

	"github.com/trobanga/s2ingest/internal/lib"
	"github.com/trobanga/s2ingest/internal/models"
)

// DefaultBatchSize is the number of records per batch unless configured otherwise
const DefaultBatchSize = 500_000

// Batch is a bounded run of consecutive records from one stream
type Batch struct {
	Index   int
	Records []models.RawRecord
}

// FirstOffset returns the line offset of the first record, or -1 if empty
func (b Batch) FirstOffset() int64 {
	if len(b.Records) == 0 {
		return -1
	}
	return b.Records[0].Offset
}

// Chunker yields batches lazily from a reader. It is not restartable.
type Chunker struct {
	scanner   *bufio.Scanner
	source    string
	batchSize int
	offset    int64
	batches   int
	err       error
}

// New creates a chunker. source names the stream in parse errors.
func New(r io.Reader, source string, batchSize int, maxLineBytes int) *Chunker {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &Chunker{
		scanner:   lib.NewLineScanner(r, maxLineBytes),
		source:    source,
		batchSize: batchSize,
	}
}

// Next returns the next batch, or io.EOF once the stream is exhausted.
// A malformed line fails the stream with a parse error; every later call
// returns the same error.
func (c *Chunker) Next() (Batch, error) {
	if c.err != nil {
		return Batch{}, c.err
	}

	capacity := c.batchSize
	if capacity > 4096 {
		capacity = 4096
	}
	records := make([]models.RawRecord, 0, capacity)

	for len(records) < c.batchSize && c.scanner.Scan() {
		offset := c.offset
		c.offset++

		line := c.scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		if err := validateObject(line); err != nil {
			c.err = lib.ErrParse(c.source, offset, err)
			return Batch{}, c.err
		}

		data := make([]byte, len(line))
		copy(data, line)
		records = append(records, models.RawRecord{Offset: offset, Data: data})
	}

	if err := c.scanner.Err(); err != nil {
		c.err = lib.ErrParse(c.source, c.offset, err)
		return Batch{}, c.err
	}

	if len(records) == 0 {
		c.err = io.EOF
		return Batch{}, io.EOF
	}

	b := Batch{Index: c.batches, Records: records}
	c.batches++
	return b, nil
}

// Batches returns the remaining batches as a sequence. Iteration stops after
// the first error, which is yielded with an empty batch.
func (c *Chunker) Batches() iter.Seq2[Batch, error] {
	return func(yield func(Batch, error) bool) {
		for {
			b, err := c.Next()
			if errors.Is(err, io.EOF) {
				return
			}
			if !yield(b, err) || err != nil {
				return
			}
		}
	}
}

// LinesRead returns the number of lines consumed so far, blank ones included
func (c *Chunker) LinesRead() int64 {
	return c.offset
}

func validateObject(line []byte) error {
	if !gjson.ValidBytes(line) {
		return errors.New("invalid JSON")
	}
	if !gjson.ParseBytes(line).IsObject() {
		return fmt.Errorf("expected a JSON object, got %.32q", line)
	}
	return nil
}
