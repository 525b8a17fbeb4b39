package transform

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/apache/arrow/go/v10/arrow"
	"github.com/apache/arrow/go/v10/arrow/array"
	"github.com/tidwall/gjson"

	"github.com/trobanga/s2ingest/internal/lib"
	"github.com/trobanga/s2ingest/internal/models"
)

// WorksSchema is the column layout of OpenAlex works output
var WorksSchema = arrow.NewSchema([]arrow.Field{
	{Name: "workid", Type: arrow.PrimitiveTypes.Int64},
	{Name: "title", Type: arrow.BinaryTypes.String},
	{Name: "abstract", Type: arrow.BinaryTypes.String},
	{Name: "author_list", Type: arrow.ListOf(arrow.BinaryTypes.String), Nullable: true},
	{Name: "publication_year", Type: arrow.PrimitiveTypes.Int64, Nullable: true},
	{Name: "doi", Type: arrow.BinaryTypes.String, Nullable: true},
	{Name: "cited_by_count", Type: arrow.PrimitiveTypes.Int64, Nullable: true},
	{Name: "urls", Type: arrow.ListOf(arrow.BinaryTypes.String), Nullable: true},
}, nil)

// WorksRecord is an OpenAlex work with its abstract reconstructed
type WorksRecord struct {
	WorkID          int64
	Title           string
	Abstract        string
	AuthorList      []string
	PublicationYear *int64
	DOI             *string
	CitedByCount    *int64
	URLs            []string
	IDBucket        int
}

func (r *WorksRecord) ID() int64         { return r.WorkID }
func (r *WorksRecord) PartitionKey() int { return r.IDBucket }

// Append writes the record as one row of WorksSchema
func (r *WorksRecord) Append(b *array.RecordBuilder) {
	b.Field(0).(*array.Int64Builder).Append(r.WorkID)
	b.Field(1).(*array.StringBuilder).Append(r.Title)
	b.Field(2).(*array.StringBuilder).Append(r.Abstract)
	appendStrings(b.Field(3), r.AuthorList)
	appendInt64(b.Field(4), r.PublicationYear)
	appendString(b.Field(5), r.DOI)
	appendInt64(b.Field(6), r.CitedByCount)
	appendStrings(b.Field(7), r.URLs)
}

// Works transforms OpenAlex works snapshot records. Works without an
// abstract or a title are filtered out.
type Works struct{}

func (Works) DatasetType() models.DatasetType { return models.DatasetWorks }
func (Works) Schema() *arrow.Schema          { return WorksSchema }

func (Works) Transform(raw models.RawRecord) (Record, error) {
	f := newFieldReader(models.DatasetWorks, raw)

	id, err := workID(f)
	if err != nil {
		return nil, err
	}

	abstractIndex := f.obj.Get("abstract_inverted_index")
	if !present(abstractIndex) || !abstractIndex.IsObject() {
		return nil, ErrFiltered
	}
	abstract, err := InvertedIndexToString(abstractIndex)
	if err != nil {
		return nil, lib.ErrSchema(models.DatasetWorks, "abstract_inverted_index", raw.Offset, err)
	}

	var title string
	switch t := f.obj.Get("title"); {
	case !present(t):
		return nil, ErrFiltered
	case t.Type == gjson.String:
		title = t.Str
	case t.IsObject():
		if title, err = InvertedIndexToString(t); err != nil {
			return nil, lib.ErrSchema(models.DatasetWorks, "title", raw.Offset, err)
		}
	default:
		return nil, lib.ErrSchema(models.DatasetWorks, "title", raw.Offset,
			fmt.Errorf("expected string, got %s", t.Type))
	}
	if abstract == "" || title == "" {
		return nil, ErrFiltered
	}

	rec := &WorksRecord{
		WorkID:          id,
		Title:           title,
		Abstract:        abstract,
		AuthorList:      f.strings("authorships.#.author.display_name"),
		PublicationYear: f.int("publication_year"),
		DOI:             f.str("doi"),
		CitedByCount:    f.int("cited_by_count"),
		URLs:            workURLs(f),
		IDBucket:        PartitionKey(id),
	}
	if f.err != nil {
		return nil, f.err
	}
	return rec, nil
}

// workID extracts the number of an OpenAlex id such as
// "https://openalex.org/W2741809807"
func workID(f *fieldReader) (int64, error) {
	v := f.obj.Get("id")
	if !present(v) {
		return 0, lib.ErrMissingPartitionKey("id", f.offset)
	}
	if v.Type == gjson.Number {
		return f.id("id")
	}
	if v.Type != gjson.String {
		return 0, lib.ErrSchema(models.DatasetWorks, "id", f.offset, fmt.Errorf("expected string, got %s", v.Type))
	}

	s := v.Str
	if i := strings.LastIndexByte(s, '/'); i >= 0 {
		s = s[i+1:]
	}
	s = strings.TrimLeft(s, "WwAaSsIiCc")
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil || s == "" {
		return 0, lib.ErrSchema(models.DatasetWorks, "id", f.offset, fmt.Errorf("not an OpenAlex id: %q", v.Str))
	}
	return n, nil
}

func workURLs(f *fieldReader) []string {
	urls := []string{}
	add := func(path string) {
		if u := f.str(path); u != nil && *u != "" {
			urls = append(urls, *u)
		}
	}
	add("open_access.oa_url")
	add("host_venue.url")
	for _, alt := range f.obj.Get("alternate_host_venues.#.url").Array() {
		if u := f.strValue("alternate_host_venues.url", alt); u != nil && *u != "" {
			urls = append(urls, *u)
		}
	}
	return urls
}

type indexedWord struct {
	pos  int64
	word string
}

// InvertedIndexToString rebuilds text from a word -> positions index
func InvertedIndexToString(index gjson.Result) (string, error) {
	if !index.IsObject() {
		return "", errors.New("inverted index must be an object")
	}

	var words []indexedWord
	var err error
	index.ForEach(func(key, positions gjson.Result) bool {
		if !positions.IsArray() {
			err = fmt.Errorf("positions of %q must be an array", key.String())
			return false
		}
		for _, p := range positions.Array() {
			if p.Type != gjson.Number {
				err = fmt.Errorf("position of %q must be a number", key.String())
				return false
			}
			words = append(words, indexedWord{pos: p.Int(), word: key.String()})
		}
		return true
	})
	if err != nil {
		return "", err
	}

	sort.Slice(words, func(i, j int) bool {
		if words[i].pos != words[j].pos {
			return words[i].pos < words[j].pos
		}
		return words[i].word < words[j].word
	})

	parts := make([]string, len(words))
	for i, w := range words {
		parts[i] = w.word
	}
	return strings.Join(parts, " "), nil
}
