package transform_test

import (
	"testing"

	"github.com/apache/arrow/go/v10/arrow/array"
	"github.com/apache/arrow/go/v10/arrow/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/trobanga/s2ingest/internal/lib"
	"github.com/trobanga/s2ingest/internal/models"
	"github.com/trobanga/s2ingest/internal/transform"
)

func raw(offset int64, data string) models.RawRecord {
	return models.RawRecord{Offset: offset, Data: []byte(data)}
}

func TestPapers_DerivesDOIAndAuthors(t *testing.T) {
	rec, err := transform.Papers{}.Transform(raw(0,
		`{"corpusid": 7, "externalids": {"DOI": "10.1/x"}, "authors": [{"name":"A"},{"name":"B"}]}`))
	require.NoError(t, err)

	paper := rec.(*transform.PapersRecord)
	assert.Equal(t, int64(7), paper.CorpusID)
	require.NotNil(t, paper.DOI)
	assert.Equal(t, "10.1/x", *paper.DOI)
	assert.Equal(t, []string{"A", "B"}, paper.AuthorList)
	assert.Equal(t, 7, paper.PartitionKey())
	assert.Nil(t, paper.Journal)
	assert.Nil(t, paper.Title)
}

func TestPapers_AuthorsWithoutNameAreDropped(t *testing.T) {
	rec, err := transform.Papers{}.Transform(raw(0,
		`{"corpusid": 1, "authors": [{"name":"A"},{"authorid":"2"},{"name":null}]}`))
	require.NoError(t, err)
	assert.Equal(t, []string{"A"}, rec.(*transform.PapersRecord).AuthorList)
}

func TestPapers_FullRecord(t *testing.T) {
	rec, err := transform.Papers{}.Transform(raw(3, `{
		"corpusid": 215416146,
		"url": "https://www.semanticscholar.org/paper/abc",
		"title": "A study",
		"venue": "dropped",
		"publicationvenueid": "pv-1",
		"year": 2020,
		"referencecount": 12,
		"citationcount": 4,
		"influentialcitationcount": 1,
		"isopenaccess": true,
		"s2fieldsofstudy": [{"category": "Medicine"}],
		"publicationtypes": ["JournalArticle", null],
		"publicationdate": "2020-04-01",
		"journal": {"name": "J", "pages": "1-2", "volume": "3"}
	}`))
	require.NoError(t, err)

	paper := rec.(*transform.PapersRecord)
	assert.Equal(t, 46, paper.IDBucket)
	assert.Equal(t, "A study", *paper.Title)
	assert.Equal(t, int64(2020), *paper.Year)
	assert.Equal(t, []string{"JournalArticle"}, paper.PublicationTypes)
	require.NotNil(t, paper.Journal)
	assert.Equal(t, "1-2", *paper.Journal.Pages)
	assert.Nil(t, paper.DOI)
}

func TestPapers_Errors(t *testing.T) {
	tests := []struct {
		name string
		data string
		kind models.ErrorKind
	}{
		{"missing id", `{"title": "x"}`, models.KindMissingPartitionKey},
		{"null id", `{"corpusid": null}`, models.KindMissingPartitionKey},
		{"string id", `{"corpusid": "7"}`, models.KindParse},
		{"fractional id", `{"corpusid": 7.5}`, models.KindParse},
		{"year as string", `{"corpusid": 7, "year": "2020"}`, models.KindParse},
		{"journal as string", `{"corpusid": 7, "journal": "J"}`, models.KindParse},
		{"publicationtypes not array", `{"corpusid": 7, "publicationtypes": "x"}`, models.KindParse},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := transform.Papers{}.Transform(raw(9, tt.data))
			require.Error(t, err)
			assert.Equal(t, tt.kind, lib.KindOf(err))
			assert.Equal(t, int64(9), lib.AsIngestError(err).Offset)
		})
	}
}

func TestAbstracts_DropsOpenAccessInfo(t *testing.T) {
	rec, err := transform.Abstracts{}.Transform(raw(0,
		`{"corpusid": 1234, "abstract": "text", "openaccessinfo": {"license": "cc"}, "updated": "2023-01-01"}`))
	require.NoError(t, err)

	abstract := rec.(*transform.AbstractsRecord)
	assert.Equal(t, "text", *abstract.Abstract)
	assert.Equal(t, "2023-01-01", *abstract.Updated)
	assert.Equal(t, 34, abstract.PartitionKey())
}

func TestAbstracts_FixedSchemaDropsUnknownFields(t *testing.T) {
	rec, err := transform.Abstracts{}.Transform(raw(0,
		`{"corpusid": 5, "abstract": "text", "openaccessinfo": {"status": "GOLD"}, "updated": "2023-01-01", "foo": {"bar": 1}}`))
	require.NoError(t, err)

	var columns []string
	for _, f := range transform.AbstractsSchema.Fields() {
		columns = append(columns, f.Name)
	}
	assert.Equal(t, []string{"corpusid", "abstract", "updated"}, columns)

	b := array.NewRecordBuilder(memory.NewGoAllocator(), transform.AbstractsSchema)
	defer b.Release()
	rec.Append(b)
	out := b.NewRecord()
	defer out.Release()

	assert.Equal(t, int64(1), out.NumRows())
	assert.Equal(t, int64(3), out.NumCols(), "unknown fields add no column")
}

func TestPartitionKey(t *testing.T) {
	assert.Equal(t, 0, transform.PartitionKey(0))
	assert.Equal(t, 7, transform.PartitionKey(7))
	assert.Equal(t, 99, transform.PartitionKey(199))
	assert.Equal(t, 99, transform.PartitionKey(-1))
	assert.Equal(t, 0, transform.PartitionKey(-100))

	for id := int64(-500); id < 500; id += 37 {
		k := transform.PartitionKey(id)
		assert.GreaterOrEqual(t, k, 0)
		assert.Less(t, k, transform.PartitionCount)
		assert.Equal(t, k, transform.PartitionKey(id), "deterministic")
	}
}

func TestWorks_ReconstructsAbstract(t *testing.T) {
	rec, err := transform.Works{}.Transform(raw(0, `{
		"id": "https://openalex.org/W2741809807",
		"title": "Deep learning",
		"doi": "https://doi.org/10.1/y",
		"publication_year": 2015,
		"cited_by_count": 10,
		"abstract_inverted_index": {"learning": [1], "Deep": [0], "works": [2]},
		"authorships": [{"author": {"display_name": "Y. LeCun"}}],
		"open_access": {"oa_url": "https://oa.example/1"},
		"host_venue": {"url": null},
		"alternate_host_venues": [{"url": "https://alt.example/1"}]
	}`))
	require.NoError(t, err)

	work := rec.(*transform.WorksRecord)
	assert.Equal(t, int64(2741809807), work.WorkID)
	assert.Equal(t, "Deep learning works", work.Abstract)
	assert.Equal(t, "https://doi.org/10.1/y", *work.DOI, "doi comes from the doi field, not the year")
	assert.Equal(t, int64(2015), *work.PublicationYear)
	assert.Equal(t, []string{"Y. LeCun"}, work.AuthorList)
	assert.Equal(t, []string{"https://oa.example/1", "https://alt.example/1"}, work.URLs)
	assert.Equal(t, 7, work.PartitionKey())
}

func TestWorks_Filtered(t *testing.T) {
	for name, data := range map[string]string{
		"no abstract":    `{"id": "W1", "title": "t"}`,
		"null abstract":  `{"id": "W1", "title": "t", "abstract_inverted_index": null}`,
		"no title":       `{"id": "W1", "abstract_inverted_index": {"a": [0]}}`,
		"empty abstract": `{"id": "W1", "title": "t", "abstract_inverted_index": {}}`,
	} {
		_, err := transform.Works{}.Transform(raw(0, data))
		assert.ErrorIs(t, err, transform.ErrFiltered, name)
	}
}

func TestWorks_InvalidID(t *testing.T) {
	_, err := transform.Works{}.Transform(raw(0, `{"id": "https://openalex.org/", "title": "t"}`))
	assert.Equal(t, models.KindParse, lib.KindOf(err))

	_, err = transform.Works{}.Transform(raw(0, `{"title": "t"}`))
	assert.Equal(t, models.KindMissingPartitionKey, lib.KindOf(err))
}

func TestInvertedIndexToString(t *testing.T) {
	text, err := transform.InvertedIndexToString(gjson.Parse(`{"b": [1, 3], "a": [0, 2]}`))
	require.NoError(t, err)
	assert.Equal(t, "a b a b", text)

	_, err = transform.InvertedIndexToString(gjson.Parse(`{"a": "0"}`))
	assert.Error(t, err)
}

func TestRecord_AppendMatchesSchema(t *testing.T) {
	registry := transform.DefaultRegistry()
	inputs := map[models.DatasetType]string{
		models.DatasetPapers:    `{"corpusid": 7, "journal": {"name": "J"}, "authors": [{"name": "A"}]}`,
		models.DatasetAbstracts: `{"corpusid": 8, "abstract": "x"}`,
		models.DatasetWorks:     `{"id": "W9", "title": "t", "abstract_inverted_index": {"a": [0]}}`,
	}

	for dt, data := range inputs {
		tr, err := registry.Lookup(dt)
		require.NoError(t, err)

		rec, err := tr.Transform(raw(0, data))
		require.NoError(t, err, dt)

		b := array.NewRecordBuilder(memory.NewGoAllocator(), tr.Schema())
		rec.Append(b)
		rec.Append(b)
		out := b.NewRecord()
		assert.Equal(t, int64(2), out.NumRows(), dt)
		assert.Equal(t, int64(len(tr.Schema().Fields())), out.NumCols(), dt)
		out.Release()
		b.Release()
	}
}

func TestRegistry(t *testing.T) {
	registry := transform.DefaultRegistry()
	assert.Equal(t, []models.DatasetType{models.DatasetAbstracts, models.DatasetPapers, models.DatasetWorks}, registry.Types())

	_, err := registry.Lookup("citations")
	assert.Equal(t, models.KindConfiguration, lib.KindOf(err))

	assert.NoError(t, registry.Validate(models.DefaultDatasetTypes))
	assert.Error(t, registry.Validate(nil))
	assert.Error(t, registry.Validate([]models.DatasetType{models.DatasetPapers, "citations"}))

	empty := transform.NewRegistry()
	empty.Register(transform.Abstracts{})
	assert.Equal(t, []models.DatasetType{models.DatasetAbstracts}, empty.Types())
}
