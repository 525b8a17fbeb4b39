package transform

import (
	"github.com/apache/arrow/go/v10/arrow"
	"github.com/apache/arrow/go/v10/arrow/array"

	"github.com/trobanga/s2ingest/internal/models"
)

var journalType = arrow.StructOf(
	arrow.Field{Name: "name", Type: arrow.BinaryTypes.String, Nullable: true},
	arrow.Field{Name: "pages", Type: arrow.BinaryTypes.String, Nullable: true},
	arrow.Field{Name: "volume", Type: arrow.BinaryTypes.String, Nullable: true},
)

// PapersSchema is the column layout of papers output.
// id_bucket is carried by the object path, not stored in the file.
var PapersSchema = arrow.NewSchema([]arrow.Field{
	{Name: "corpusid", Type: arrow.PrimitiveTypes.Int64},
	{Name: "url", Type: arrow.BinaryTypes.String, Nullable: true},
	{Name: "title", Type: arrow.BinaryTypes.String, Nullable: true},
	{Name: "publicationvenueid", Type: arrow.BinaryTypes.String, Nullable: true},
	{Name: "year", Type: arrow.PrimitiveTypes.Int64, Nullable: true},
	{Name: "referencecount", Type: arrow.PrimitiveTypes.Int64, Nullable: true},
	{Name: "citationcount", Type: arrow.PrimitiveTypes.Int64, Nullable: true},
	{Name: "publicationdate", Type: arrow.BinaryTypes.String, Nullable: true},
	{Name: "publicationtypes", Type: arrow.ListOf(arrow.BinaryTypes.String), Nullable: true},
	{Name: "journal", Type: journalType, Nullable: true},
	{Name: "doi", Type: arrow.BinaryTypes.String, Nullable: true},
	{Name: "author_list", Type: arrow.ListOf(arrow.BinaryTypes.String), Nullable: true},
}, nil)

// Journal is the publication outlet of a paper
type Journal struct {
	Name   *string
	Pages  *string
	Volume *string
}

// PapersRecord is a paper after transformation. externalids, authors,
// venue, s2fieldsofstudy, isopenaccess and influentialcitationcount are
// dropped; doi and author_list are derived from them.
type PapersRecord struct {
	CorpusID           int64
	URL                *string
	Title              *string
	PublicationVenueID *string
	Year               *int64
	ReferenceCount     *int64
	CitationCount      *int64
	PublicationDate    *string
	PublicationTypes   []string
	Journal            *Journal
	DOI                *string
	AuthorList         []string
	IDBucket           int
}

func (r *PapersRecord) ID() int64         { return r.CorpusID }
func (r *PapersRecord) PartitionKey() int { return r.IDBucket }

// Append writes the record as one row of PapersSchema
func (r *PapersRecord) Append(b *array.RecordBuilder) {
	b.Field(0).(*array.Int64Builder).Append(r.CorpusID)
	appendString(b.Field(1), r.URL)
	appendString(b.Field(2), r.Title)
	appendString(b.Field(3), r.PublicationVenueID)
	appendInt64(b.Field(4), r.Year)
	appendInt64(b.Field(5), r.ReferenceCount)
	appendInt64(b.Field(6), r.CitationCount)
	appendString(b.Field(7), r.PublicationDate)
	appendStrings(b.Field(8), r.PublicationTypes)

	// A missing journal is written as a struct of nulls
	sb := b.Field(9).(*array.StructBuilder)
	sb.Append(true)
	j := r.Journal
	if j == nil {
		j = &Journal{}
	}
	appendString(sb.FieldBuilder(0), j.Name)
	appendString(sb.FieldBuilder(1), j.Pages)
	appendString(sb.FieldBuilder(2), j.Volume)

	appendString(b.Field(10), r.DOI)
	appendStrings(b.Field(11), r.AuthorList)
}

// Papers transforms S2AG papers records
type Papers struct{}

func (Papers) DatasetType() models.DatasetType { return models.DatasetPapers }
func (Papers) Schema() *arrow.Schema          { return PapersSchema }

// Transform derives doi from externalids.DOI and author_list from
// authors[].name; authors without a name are left out.
func (Papers) Transform(raw models.RawRecord) (Record, error) {
	f := newFieldReader(models.DatasetPapers, raw)

	id, err := f.id("corpusid")
	if err != nil {
		return nil, err
	}

	rec := &PapersRecord{
		CorpusID:           id,
		URL:                f.str("url"),
		Title:              f.str("title"),
		PublicationVenueID: f.str("publicationvenueid"),
		Year:               f.int("year"),
		ReferenceCount:     f.int("referencecount"),
		CitationCount:      f.int("citationcount"),
		PublicationDate:    f.str("publicationdate"),
		PublicationTypes:   f.strings("publicationtypes"),
		DOI:                f.str("externalids.DOI"),
		AuthorList:         f.strings("authors.#.name"),
		IDBucket:           PartitionKey(id),
	}

	if journal := f.obj.Get("journal"); present(journal) {
		if !journal.IsObject() {
			f.fail("journal", "object", journal)
		} else {
			rec.Journal = &Journal{
				Name:   f.str("journal.name"),
				Pages:  f.str("journal.pages"),
				Volume: f.str("journal.volume"),
			}
		}
	}

	if f.err != nil {
		return nil, f.err
	}
	return rec, nil
}
