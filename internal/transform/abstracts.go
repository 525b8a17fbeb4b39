package transform

import (
	"github.com/apache/arrow/go/v10/arrow"
	"github.com/apache/arrow/go/v10/arrow/array"

	"github.com/trobanga/s2ingest/internal/models"
)

// AbstractsSchema is the column layout of abstracts output
var AbstractsSchema = arrow.NewSchema([]arrow.Field{
	{Name: "corpusid", Type: arrow.PrimitiveTypes.Int64},
	{Name: "abstract", Type: arrow.BinaryTypes.String, Nullable: true},
	{Name: "updated", Type: arrow.BinaryTypes.String, Nullable: true},
}, nil)

// AbstractsRecord is an abstract after openaccessinfo is dropped
type AbstractsRecord struct {
	CorpusID int64
	Abstract *string
	Updated  *string
	IDBucket int
}

func (r *AbstractsRecord) ID() int64         { return r.CorpusID }
func (r *AbstractsRecord) PartitionKey() int { return r.IDBucket }

// Append writes the record as one row of AbstractsSchema
func (r *AbstractsRecord) Append(b *array.RecordBuilder) {
	b.Field(0).(*array.Int64Builder).Append(r.CorpusID)
	appendString(b.Field(1), r.Abstract)
	appendString(b.Field(2), r.Updated)
}

// Abstracts transforms S2AG abstracts records
type Abstracts struct{}

func (Abstracts) DatasetType() models.DatasetType { return models.DatasetAbstracts }
func (Abstracts) Schema() *arrow.Schema          { return AbstractsSchema }

func (Abstracts) Transform(raw models.RawRecord) (Record, error) {
	f := newFieldReader(models.DatasetAbstracts, raw)

	id, err := f.id("corpusid")
	if err != nil {
		return nil, err
	}

	rec := &AbstractsRecord{
		CorpusID: id,
		Abstract: f.str("abstract"),
		Updated:  f.str("updated"),
		IDBucket: PartitionKey(id),
	}
	if f.err != nil {
		return nil, f.err
	}
	return rec, nil
}
