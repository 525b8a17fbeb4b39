// Package transform converts raw dataset records into typed, partitioned
// records with a fixed columnar schema per dataset type.
package transform

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/apache/arrow/go/v10/arrow"
	"github.com/apache/arrow/go/v10/arrow/array"

	"github.com/trobanga/s2ingest/internal/lib"
	"github.com/trobanga/s2ingest/internal/models"
)

// PartitionCount is the number of id_bucket partitions
const PartitionCount = 100

// PartitionColumn names the hive partition in object paths
const PartitionColumn = "id_bucket"

// ErrFiltered marks a record the dataset schema excludes (not an error of the file)
var ErrFiltered = errors.New("record excluded by dataset filter")

// PartitionKey maps a numeric id to its bucket in [0, PartitionCount).
// Negative ids wrap like a floored modulo.
func PartitionKey(id int64) int {
	k := id % PartitionCount
	if k < 0 {
		k += PartitionCount
	}
	return int(k)
}

// Record is a transformed record of one dataset type
type Record interface {
	ID() int64
	PartitionKey() int
	// Append writes the record as one row; b must be built from the
	// owning transformer's Schema.
	Append(b *array.RecordBuilder)
}

// Transformer converts raw records of one dataset type.
// Implementations are pure and safe for concurrent use.
type Transformer interface {
	DatasetType() models.DatasetType
	Schema() *arrow.Schema
	// Transform returns ErrFiltered for records the schema excludes, a
	// missing_partition_key error for records without an id, and a
	// parse_error for anything else that does not fit the schema.
	Transform(raw models.RawRecord) (Record, error)
}

// Registry maps dataset types to transformers
type Registry struct {
	mu           sync.RWMutex
	transformers map[models.DatasetType]Transformer
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{transformers: make(map[models.DatasetType]Transformer)}
}

// DefaultRegistry returns a registry with every built-in dataset type
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(Papers{})
	r.Register(Abstracts{})
	r.Register(Works{})
	return r
}

// Register adds or replaces the transformer for its dataset type
func (r *Registry) Register(t Transformer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transformers[t.DatasetType()] = t
}

// Lookup returns the transformer for a dataset type
func (r *Registry) Lookup(dt models.DatasetType) (Transformer, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.transformers[dt]
	if !ok {
		return nil, lib.ErrInvalidConfig("dataset_types",
			fmt.Sprintf("unknown dataset type %q (known: %v)", dt, r.typesLocked()))
	}
	return t, nil
}

// Validate checks that every dataset type is registered
func (r *Registry) Validate(types []models.DatasetType) error {
	if len(types) == 0 {
		return lib.ErrInvalidConfig("dataset_types", "no dataset types requested")
	}
	for _, dt := range types {
		if _, err := r.Lookup(dt); err != nil {
			return err
		}
	}
	return nil
}

// Types returns the registered dataset types in sorted order
func (r *Registry) Types() []models.DatasetType {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.typesLocked()
}

func (r *Registry) typesLocked() []models.DatasetType {
	types := make([]models.DatasetType, 0, len(r.transformers))
	for dt := range r.transformers {
		types = append(types, dt)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types
}
