// Package sample prepares the small S2AG sample files for local runs.
//
// The published samples of different datasets describe unrelated papers.
// Renumbering the id field of every sample to its line index makes the
// samples join on that id, which is enough to exercise downstream joins.
package sample

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/klauspost/compress/gzip"
	"github.com/tidwall/gjson"

	"github.com/trobanga/s2ingest/internal/chunker"
	"github.com/trobanga/s2ingest/internal/lib"
)

// DefaultField is the id field rewritten by default
const DefaultField = "corpusid"

// RenumberLine sets field of a JSON object to id. An existing value is
// replaced in place; a missing field is appended as the last member.
func RenumberLine(line []byte, field string, id int64) ([]byte, error) {
	if !gjson.ValidBytes(line) {
		return nil, fmt.Errorf("invalid JSON")
	}
	obj := gjson.ParseBytes(line)
	if !obj.IsObject() {
		return nil, fmt.Errorf("expected a JSON object, got %s", obj.Type)
	}

	value := strconv.FormatInt(id, 10)
	existing := obj.Get(escapePath(field))
	if existing.Exists() {
		if existing.Index <= 0 {
			return nil, fmt.Errorf("cannot locate %q in record", field)
		}
		out := make([]byte, 0, len(line)+len(value))
		out = append(out, line[:existing.Index]...)
		out = append(out, value...)
		out = append(out, line[existing.Index+len(existing.Raw):]...)
		return out, nil
	}

	trimmed := []byte(strings.TrimRight(string(line), " \t\r"))
	closing := len(trimmed) - 1
	member := strconv.Quote(field) + ":" + value
	if len(obj.Map()) > 0 {
		member = "," + member
	}
	out := make([]byte, 0, len(trimmed)+len(member))
	out = append(out, trimmed[:closing]...)
	out = append(out, member...)
	out = append(out, '}')
	return out, nil
}

// Renumber copies JSON lines from r to w with field set to each line's
// 0-based index. Blank lines are dropped but keep their index.
// Returns the number of records written.
func Renumber(ctx context.Context, r io.Reader, w io.Writer, field string, maxLineBytes int) (int64, error) {
	var written int64
	_, err := lib.ReadLines(r, maxLineBytes, func(offset int64, line []byte) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		out, err := RenumberLine(line, field, offset)
		if err != nil {
			return err
		}
		if err := lib.WriteLine(w, out); err != nil {
			return err
		}
		written++
		return nil
	})
	return written, err
}

// RenumberFile renumbers inPath into outPath. Gzip input is detected by
// content; output is gzipped when outPath ends in .gz. outPath only
// appears once it is complete.
func RenumberFile(ctx context.Context, inPath, outPath, field string) (int64, error) {
	if field == "" {
		field = DefaultField
	}
	if absIn, err := filepath.Abs(inPath); err == nil {
		if absOut, err := filepath.Abs(outPath); err == nil && absIn == absOut {
			return 0, lib.ErrInvalidConfig("output", "must differ from the input file")
		}
	}

	in, err := chunker.Open(inPath)
	if err != nil {
		return 0, err
	}
	defer func() { _ = in.Close() }()

	tmpPath := filepath.Join(filepath.Dir(outPath), fmt.Sprintf(".%s.%s.part", filepath.Base(outPath), uuid.New().String()))
	out, err := os.Create(tmpPath)
	if err != nil {
		return 0, fmt.Errorf("failed to create output file: %w", err)
	}

	written, err := renumberTo(ctx, in, out, field, strings.HasSuffix(outPath, ".gz"))
	if closeErr := out.Close(); err == nil && closeErr != nil {
		err = closeErr
	}
	if err != nil {
		_ = os.Remove(tmpPath)
		return written, fmt.Errorf("renumbering %s: %w", inPath, err)
	}

	if err := os.Rename(tmpPath, outPath); err != nil {
		_ = os.Remove(tmpPath)
		return written, fmt.Errorf("failed to finalize output file: %w", err)
	}
	return written, nil
}

func renumberTo(ctx context.Context, in io.Reader, out *os.File, field string, compress bool) (int64, error) {
	buffered := bufio.NewWriterSize(out, 64*1024)

	var (
		w  io.Writer = buffered
		gz *gzip.Writer
	)
	if compress {
		gz = gzip.NewWriter(buffered)
		w = gz
	}

	written, err := Renumber(ctx, in, w, field, lib.DefaultMaxLineBytes)
	if err != nil {
		return written, err
	}
	if gz != nil {
		if err := gz.Close(); err != nil {
			return written, err
		}
	}
	if err := buffered.Flush(); err != nil {
		return written, err
	}
	return written, out.Sync()
}

// escapePath escapes gjson path syntax in a plain field name
func escapePath(field string) string {
	var b strings.Builder
	for _, r := range field {
		switch r {
		case '.', '*', '?', '|', '#', '@', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
