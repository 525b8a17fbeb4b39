// Package storage writes partitioned Parquet output to an object store.
package storage

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/trobanga/s2ingest/internal/models"
)

// ErrNotFound is returned when an object does not exist
var ErrNotFound = errors.New("object not found")

// ObjectStore is a flat key/value blob store. Put must be atomic per key:
// readers see either the previous object or the complete new one.
type ObjectStore interface {
	Put(ctx context.Context, key string, data []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
	// List returns all keys under prefix in lexical order
	List(ctx context.Context, prefix string) ([]string, error)
	// URI returns a human readable location for key
	URI(key string) string
}

// NewObjectStore opens the store named by cfg.Root: an s3://bucket/prefix
// URL or a local directory.
func NewObjectStore(cfg models.StorageConfig) (ObjectStore, error) {
	if strings.HasPrefix(cfg.Root, "s3://") {
		u, err := url.Parse(cfg.Root)
		if err != nil {
			return nil, fmt.Errorf("parsing S3 URL %v: %w", cfg.Root, err)
		}
		if u.Host == "" {
			return nil, fmt.Errorf("S3 URL %v has no bucket", cfg.Root)
		}
		client, err := NewS3Client(cfg.Region, cfg.Endpoint)
		if err != nil {
			return nil, err
		}
		return NewS3Store(client, u.Host, strings.TrimPrefix(u.Path, "/")), nil
	}
	return NewLocalStore(cfg.Root)
}

// joinKey joins key parts with "/", ignoring empty parts
func joinKey(parts ...string) string {
	kept := parts[:0:0]
	for _, p := range parts {
		p = strings.Trim(p, "/")
		if p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, "/")
}
