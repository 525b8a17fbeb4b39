package storage_test

import (
	"bytes"
	"context"
	"io"
	"sort"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trobanga/s2ingest/internal/storage"
)

// memS3 is an in-memory bucket behind the S3 client interface
type memS3 struct {
	s3iface.S3API
	objects map[string][]byte
}

func newMemS3() *memS3 {
	return &memS3{objects: make(map[string][]byte)}
}

func (m *memS3) PutObjectWithContext(_ aws.Context, in *s3.PutObjectInput, _ ...request.Option) (*s3.PutObjectOutput, error) {
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	m.objects[aws.StringValue(in.Key)] = data
	return &s3.PutObjectOutput{}, nil
}

func (m *memS3) GetObjectWithContext(_ aws.Context, in *s3.GetObjectInput, _ ...request.Option) (*s3.GetObjectOutput, error) {
	data, ok := m.objects[aws.StringValue(in.Key)]
	if !ok {
		return nil, awserr.New(s3.ErrCodeNoSuchKey, "not found", nil)
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func (m *memS3) DeleteObjectWithContext(_ aws.Context, in *s3.DeleteObjectInput, _ ...request.Option) (*s3.DeleteObjectOutput, error) {
	delete(m.objects, aws.StringValue(in.Key))
	return &s3.DeleteObjectOutput{}, nil
}

func (m *memS3) ListObjectsV2PagesWithContext(_ aws.Context, in *s3.ListObjectsV2Input, fn func(*s3.ListObjectsV2Output, bool) bool, _ ...request.Option) error {
	var keys []string
	for k := range m.objects {
		if strings.HasPrefix(k, aws.StringValue(in.Prefix)) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	page := &s3.ListObjectsV2Output{}
	for _, k := range keys {
		page.Contents = append(page.Contents, &s3.Object{Key: aws.String(k)})
	}
	fn(page, true)
	return nil
}

func TestS3Store(t *testing.T) {
	ctx := context.Background()
	client := newMemS3()
	store := storage.NewS3Store(client, "corpus", "s2ag/")

	require.NoError(t, store.Put(ctx, "run/papers/id_bucket=1/a.parquet", []byte("a")))
	require.NoError(t, store.Put(ctx, "run/papersX/b.parquet", []byte("b")))
	assert.Contains(t, client.objects, "s2ag/run/papers/id_bucket=1/a.parquet")

	data, err := store.Get(ctx, "run/papers/id_bucket=1/a.parquet")
	require.NoError(t, err)
	assert.Equal(t, "a", string(data))

	keys, err := store.List(ctx, "run/papers/")
	require.NoError(t, err)
	assert.Equal(t, []string{"run/papers/id_bucket=1/a.parquet"}, keys)

	require.NoError(t, store.Delete(ctx, "run/papers/id_bucket=1/a.parquet"))
	_, err = store.Get(ctx, "run/papers/id_bucket=1/a.parquet")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	assert.Equal(t, "s3://corpus/s2ag/run/x", store.URI("run/x"))
}
