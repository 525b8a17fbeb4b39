package chunker

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"

	"github.com/hashicorp/go-multierror"
	"github.com/klauspost/compress/gzip"
)

var gzipMagic = []byte{0x1f, 0x8b}

// Stream is a possibly decompressed source stream
type Stream struct {
	io.Reader
	closers []io.Closer
}

// Close closes the decompressor and the underlying file
func (r *Stream) Close() error {
	var result *multierror.Error
	for _, c := range r.closers {
		if err := c.Close(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}

// Open opens a source file for line reading, decompressing gzip content
// detected by its magic bytes.
func Open(path string) (io.ReadCloser, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}

	r, err := NewReader(file)
	if err != nil {
		_ = file.Close()
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	r.closers = append(r.closers, file)
	return r, nil
}

// NewReader wraps r, transparently decompressing gzip input
func NewReader(r io.Reader) (*Stream, error) {
	buffered := bufio.NewReaderSize(r, 64*1024)

	head, err := buffered.Peek(len(gzipMagic))
	if err != nil && err != io.EOF {
		return nil, err
	}
	if !bytes.Equal(head, gzipMagic) {
		return &Stream{Reader: buffered}, nil
	}

	zr, err := gzip.NewReader(buffered)
	if err != nil {
		return nil, fmt.Errorf("invalid gzip stream: %w", err)
	}
	return &Stream{Reader: zr, closers: []io.Closer{zr}}, nil
}
