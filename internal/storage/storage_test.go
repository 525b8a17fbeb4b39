package storage_test

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/apache/arrow/go/v10/arrow/array"
	"github.com/apache/arrow/go/v10/arrow/memory"
	"github.com/apache/arrow/go/v10/parquet"
	"github.com/apache/arrow/go/v10/parquet/pqarrow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trobanga/s2ingest/internal/models"
	"github.com/trobanga/s2ingest/internal/storage"
	"github.com/trobanga/s2ingest/internal/transform"
)

func newRun(t *testing.T) models.Run {
	t.Helper()
	release, ok := models.ParseRelease("2023-06-13")
	require.True(t, ok)
	return models.NewRun(t.TempDir(), release, []models.DatasetType{models.DatasetPapers})
}

func papers(t *testing.T, ids ...int64) []transform.Record {
	t.Helper()
	var records []transform.Record
	for i, id := range ids {
		data := []byte(`{"corpusid": ` + strconv.FormatInt(id, 10) + `, "title": "t", "authors": [{"name": "A"}]}`)
		rec, err := transform.Papers{}.Transform(models.RawRecord{Offset: int64(i), Data: data})
		require.NoError(t, err)
		records = append(records, rec)
	}
	return records
}

func TestLocalStore_PutGetListDelete(t *testing.T) {
	ctx := context.Background()
	store, err := storage.NewLocalStore(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, store.Put(ctx, "run/papers/id_bucket=1/a.parquet", []byte("a")))
	require.NoError(t, store.Put(ctx, "run/papers/id_bucket=0/b.parquet", []byte("b")))
	require.NoError(t, store.Put(ctx, "run/abstracts/id_bucket=0/c.parquet", []byte("c")))

	data, err := store.Get(ctx, "run/papers/id_bucket=1/a.parquet")
	require.NoError(t, err)
	assert.Equal(t, "a", string(data))

	keys, err := store.List(ctx, "run/papers/")
	require.NoError(t, err)
	assert.Equal(t, []string{"run/papers/id_bucket=0/b.parquet", "run/papers/id_bucket=1/a.parquet"}, keys)

	require.NoError(t, store.Delete(ctx, "run/papers/id_bucket=1/a.parquet"))
	require.NoError(t, store.Delete(ctx, "run/papers/id_bucket=1/a.parquet"), "deleting a missing key is not an error")

	_, err = store.Get(ctx, "run/papers/id_bucket=1/a.parquet")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestLocalStore_PutOverwritesAtomically(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	store, err := storage.NewLocalStore(root)
	require.NoError(t, err)

	require.NoError(t, store.Put(ctx, "k/obj", []byte("first")))
	require.NoError(t, store.Put(ctx, "k/obj", []byte("second")))

	data, err := store.Get(ctx, "k/obj")
	require.NoError(t, err)
	assert.Equal(t, "second", string(data))

	entries, err := os.ReadDir(filepath.Join(root, "k"))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temp files left behind")
}

func TestLocalStore_RejectsEscapingKeys(t *testing.T) {
	store, err := storage.NewLocalStore(t.TempDir())
	require.NoError(t, err)

	for _, key := range []string{"../outside", "/abs/path", ".."} {
		assert.Error(t, store.Put(context.Background(), key, []byte("x")), key)
	}
}

func TestNewObjectStore(t *testing.T) {
	root := t.TempDir()
	store, err := storage.NewObjectStore(models.StorageConfig{Root: root})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "a", "b"), store.URI("a/b"))

	_, err = storage.NewObjectStore(models.StorageConfig{Root: "s3:///prefix"})
	assert.Error(t, err)
}

func TestObjectKey_Deterministic(t *testing.T) {
	signed := models.SourceFile{DatasetType: models.DatasetPapers,
		URL: "https://bucket.s3.amazonaws.com/2023-06-13/papers/part-0.jsonl.gz?X-Amz-Signature=aaa"}
	refreshed := models.SourceFile{DatasetType: models.DatasetPapers,
		URL: "https://bucket.s3.amazonaws.com/2023-06-13/papers/part-0.jsonl.gz?X-Amz-Signature=bbb"}
	other := models.SourceFile{DatasetType: models.DatasetPapers,
		URL: "https://bucket.s3.amazonaws.com/2023-06-14/papers/part-0.jsonl.gz"}

	key := storage.ObjectKey("run/papers", 7, signed, 3)
	assert.Equal(t, key, storage.ObjectKey("run/papers", 7, refreshed, 3), "query strings do not change the key")
	assert.NotEqual(t, key, storage.ObjectKey("run/papers", 7, other, 3), "same file name from another location")
	assert.True(t, strings.HasPrefix(key, "run/papers/id_bucket=7/part-0-"), key)
	assert.True(t, strings.HasSuffix(key, "-b00003.parquet"), key)
}

func TestPartitionWriter_WriteBatch(t *testing.T) {
	ctx := context.Background()
	store, err := storage.NewLocalStore(t.TempDir())
	require.NoError(t, err)
	run := newRun(t)
	src := models.SourceFile{DatasetType: models.DatasetPapers, URL: "/data/papers-0.jsonl"}

	w := storage.NewPartitionWriter(store, run, transform.Papers{})
	commit, err := w.WriteBatch(ctx, src, 0, papers(t, 7, 107, 3, -1))
	require.NoError(t, err)

	assert.Equal(t, 4, commit.Records)
	require.Len(t, commit.Objects, 3)

	keys, err := store.List(ctx, run.DatasetPrefix(models.DatasetPapers))
	require.NoError(t, err)
	assert.Equal(t, commit.Objects, keys)
	assert.Contains(t, keys[0], "/id_bucket=3/")
	assert.Contains(t, keys[1], "/id_bucket=7/")
	assert.Contains(t, keys[2], "/id_bucket=99/")

	data, err := store.Get(ctx, keys[1])
	require.NoError(t, err)
	table, err := pqarrow.ReadTable(ctx, bytes.NewReader(data),
		parquet.NewReaderProperties(memory.DefaultAllocator), pqarrow.ArrowReadProperties{}, memory.DefaultAllocator)
	require.NoError(t, err)
	defer table.Release()

	assert.Equal(t, int64(2), table.NumRows())
	assert.Equal(t, "corpusid", table.Schema().Field(0).Name)
	assert.Equal(t, len(transform.PapersSchema.Fields()), int(table.NumCols()))

	ids := table.Column(0).Data().Chunk(0).(*array.Int64)
	assert.Equal(t, []int64{7, 107}, ids.Int64Values())
}

func TestPartitionWriter_EmptyBatch(t *testing.T) {
	store, err := storage.NewLocalStore(t.TempDir())
	require.NoError(t, err)
	w := storage.NewPartitionWriter(store, newRun(t), transform.Papers{})

	commit, err := w.WriteBatch(context.Background(), models.SourceFile{URL: "x"}, 0, nil)
	require.NoError(t, err)
	assert.Empty(t, commit.Objects)
	assert.Zero(t, commit.Records)
}

// flakyStore fails the nth Put and records deletions
type flakyStore struct {
	storage.ObjectStore
	mu      sync.Mutex
	puts    int
	failAt  int
	deleted []string
}

func (s *flakyStore) Put(ctx context.Context, key string, data []byte) error {
	s.mu.Lock()
	s.puts++
	n := s.puts
	s.mu.Unlock()
	if n == s.failAt {
		return errors.New("access denied")
	}
	return s.ObjectStore.Put(ctx, key, data)
}

func (s *flakyStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	s.deleted = append(s.deleted, key)
	s.mu.Unlock()
	return s.ObjectStore.Delete(ctx, key)
}

func TestPartitionWriter_RollsBackPartialBatch(t *testing.T) {
	ctx := context.Background()
	local, err := storage.NewLocalStore(t.TempDir())
	require.NoError(t, err)
	store := &flakyStore{ObjectStore: local, failAt: 3}
	run := newRun(t)

	w := storage.NewPartitionWriter(store, run, transform.Papers{})
	_, err = w.WriteBatch(ctx, models.SourceFile{URL: "/data/papers-1.jsonl"}, 0, papers(t, 1, 2, 3, 4))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "access denied")

	assert.Len(t, store.deleted, 2)
	keys, err := local.List(ctx, run.RunID)
	require.NoError(t, err)
	assert.Empty(t, keys, "a failed batch leaves no objects")
}

func TestPartitionWriter_RetryRewritesSameKeys(t *testing.T) {
	ctx := context.Background()
	store, err := storage.NewLocalStore(t.TempDir())
	require.NoError(t, err)
	run := newRun(t)
	w := storage.NewPartitionWriter(store, run, transform.Papers{})

	first := models.SourceFile{URL: "https://host/papers/p-0.gz?sig=1"}
	second := models.SourceFile{URL: "https://host/papers/p-0.gz?sig=2"}

	c1, err := w.WriteBatch(ctx, first, 0, papers(t, 1, 2))
	require.NoError(t, err)
	c2, err := w.WriteBatch(ctx, second, 0, papers(t, 1, 2))
	require.NoError(t, err)
	assert.Equal(t, c1.Objects, c2.Objects)

	keys, err := store.List(ctx, run.RunID)
	require.NoError(t, err)
	assert.Len(t, keys, 2)
}
