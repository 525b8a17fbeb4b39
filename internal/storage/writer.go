package storage

import (
	"bytes"
	"context"
	"fmt"
	"sort"

	"github.com/apache/arrow/go/v10/arrow"
	"github.com/apache/arrow/go/v10/arrow/array"
	"github.com/apache/arrow/go/v10/arrow/memory"
	"github.com/apache/arrow/go/v10/parquet"
	"github.com/apache/arrow/go/v10/parquet/compress"
	"github.com/apache/arrow/go/v10/parquet/pqarrow"
	"github.com/cespare/xxhash/v2"
	"github.com/hashicorp/go-multierror"

	"github.com/trobanga/s2ingest/internal/models"
	"github.com/trobanga/s2ingest/internal/transform"
)

// Commit describes one committed batch
type Commit struct {
	Objects []string
	Records int
}

// PartitionWriter commits batches of one dataset type within a run as
// hive-partitioned Parquet objects
type PartitionWriter struct {
	store  ObjectStore
	prefix string
	schema *arrow.Schema
	mem    memory.Allocator
	props  *parquet.WriterProperties
}

// NewPartitionWriter creates a writer for the run's output of t's dataset type
func NewPartitionWriter(store ObjectStore, run models.Run, t transform.Transformer) *PartitionWriter {
	return &PartitionWriter{
		store:  store,
		prefix: run.DatasetPrefix(t.DatasetType()),
		schema: t.Schema(),
		mem:    memory.NewGoAllocator(),
		props:  parquet.NewWriterProperties(parquet.WithCompression(compress.Codecs.Snappy)),
	}
}

// ObjectKey names the object of one partition of one batch. The name is a
// function of the source location (without query string, which carries
// expiring signatures) and the batch index, so files never collide and a
// retried file rewrites the same keys.
func ObjectKey(datasetPrefix string, partition int, src models.SourceFile, batch int) string {
	return fmt.Sprintf("%s/%s=%d/%s-%08x-b%05d.parquet",
		datasetPrefix, transform.PartitionColumn, partition,
		src.Stem(), uint32(xxhash.Sum64String(src.Location())), batch)
}

// WriteBatch groups records by partition key, encodes every partition, then
// uploads them. If an upload fails the objects already uploaded for this
// batch are removed, so a batch is committed whole or not at all.
func (w *PartitionWriter) WriteBatch(ctx context.Context, src models.SourceFile, batch int, records []transform.Record) (Commit, error) {
	if len(records) == 0 {
		return Commit{}, nil
	}

	groups := make(map[int][]transform.Record)
	for _, r := range records {
		groups[r.PartitionKey()] = append(groups[r.PartitionKey()], r)
	}
	partitions := make([]int, 0, len(groups))
	for k := range groups {
		partitions = append(partitions, k)
	}
	sort.Ints(partitions)

	encoded := make(map[int][]byte, len(partitions))
	for _, k := range partitions {
		data, err := w.Encode(groups[k])
		if err != nil {
			return Commit{}, fmt.Errorf("encoding partition %d: %w", k, err)
		}
		encoded[k] = data
	}

	commit := Commit{Records: len(records)}
	for _, k := range partitions {
		key := ObjectKey(w.prefix, k, src, batch)
		if err := w.store.Put(ctx, key, encoded[k]); err != nil {
			return Commit{}, w.rollback(commit.Objects, err)
		}
		commit.Objects = append(commit.Objects, key)
	}
	return commit, nil
}

func (w *PartitionWriter) rollback(keys []string, cause error) error {
	var result *multierror.Error
	result = multierror.Append(result, cause)
	// The batch context may already be cancelled; removal must still run.
	ctx := context.Background()
	for _, key := range keys {
		if err := w.store.Delete(ctx, key); err != nil {
			result = multierror.Append(result, fmt.Errorf("rollback of %s: %w", w.store.URI(key), err))
		}
	}
	return result.ErrorOrNil()
}

// Encode renders records as a single Parquet file
func (w *PartitionWriter) Encode(records []transform.Record) ([]byte, error) {
	builder := array.NewRecordBuilder(w.mem, w.schema)
	defer builder.Release()

	for _, r := range records {
		r.Append(builder)
	}
	rec := builder.NewRecord()
	defer rec.Release()

	var buf bytes.Buffer
	fw, err := pqarrow.NewFileWriter(w.schema, &buf, w.props, pqarrow.DefaultWriterProps())
	if err != nil {
		return nil, fmt.Errorf("creating parquet writer: %w", err)
	}
	if err := fw.Write(rec); err != nil {
		_ = fw.Close()
		return nil, fmt.Errorf("writing parquet: %w", err)
	}
	if err := fw.Close(); err != nil {
		return nil, fmt.Errorf("closing parquet writer: %w", err)
	}
	return buf.Bytes(), nil
}
