package transform

import (
	"fmt"
	"strconv"

	"github.com/apache/arrow/go/v10/arrow/array"
	"github.com/tidwall/gjson"

	"github.com/trobanga/s2ingest/internal/lib"
	"github.com/trobanga/s2ingest/internal/models"
)

// fieldReader reads typed fields from a record, keeping the first type error
type fieldReader struct {
	dt     models.DatasetType
	obj    gjson.Result
	offset int64
	err    error
}

func newFieldReader(dt models.DatasetType, raw models.RawRecord) *fieldReader {
	return &fieldReader{dt: dt, obj: gjson.ParseBytes(raw.Data), offset: raw.Offset}
}

func (r *fieldReader) fail(path string, want string, got gjson.Result) {
	if r.err == nil {
		r.err = lib.ErrSchema(r.dt, path, r.offset, fmt.Errorf("expected %s, got %s", want, got.Type))
	}
}

func present(v gjson.Result) bool {
	return v.Exists() && v.Type != gjson.Null
}

// id reads the numeric record id. Missing or null ids are a
// missing_partition_key error; non-integers are a schema error.
func (r *fieldReader) id(path string) (int64, error) {
	v := r.obj.Get(path)
	if !present(v) {
		return 0, lib.ErrMissingPartitionKey(path, r.offset)
	}
	if v.Type != gjson.Number {
		return 0, lib.ErrSchema(r.dt, path, r.offset, fmt.Errorf("expected integer, got %s", v.Type))
	}
	n, err := strconv.ParseInt(v.Raw, 10, 64)
	if err != nil {
		return 0, lib.ErrSchema(r.dt, path, r.offset, fmt.Errorf("expected integer, got %s", v.Raw))
	}
	return n, nil
}

func (r *fieldReader) str(path string) *string {
	return r.strValue(path, r.obj.Get(path))
}

func (r *fieldReader) strValue(path string, v gjson.Result) *string {
	if !present(v) {
		return nil
	}
	if v.Type != gjson.String {
		r.fail(path, "string", v)
		return nil
	}
	s := v.Str
	return &s
}

func (r *fieldReader) int(path string) *int64 {
	v := r.obj.Get(path)
	if !present(v) {
		return nil
	}
	if v.Type != gjson.Number {
		r.fail(path, "number", v)
		return nil
	}
	n, err := strconv.ParseInt(v.Raw, 10, 64)
	if err != nil {
		r.fail(path, "integer", v)
		return nil
	}
	return &n
}

// strings reads an array of strings; null elements are dropped
func (r *fieldReader) strings(path string) []string {
	v := r.obj.Get(path)
	if !present(v) {
		return nil
	}
	if !v.IsArray() {
		r.fail(path, "array", v)
		return nil
	}
	out := []string{}
	for _, elem := range v.Array() {
		if s := r.strValue(path, elem); s != nil {
			out = append(out, *s)
		}
	}
	return out
}

// Arrow append helpers. Builders come from the transformer's schema, so the
// type assertions hold by construction.

func appendString(b array.Builder, v *string) {
	sb := b.(*array.StringBuilder)
	if v == nil {
		sb.AppendNull()
		return
	}
	sb.Append(*v)
}

func appendInt64(b array.Builder, v *int64) {
	ib := b.(*array.Int64Builder)
	if v == nil {
		ib.AppendNull()
		return
	}
	ib.Append(*v)
}

// appendStrings writes a list<utf8>; nil becomes a null list
func appendStrings(b array.Builder, values []string) {
	lb := b.(*array.ListBuilder)
	if values == nil {
		lb.AppendNull()
		return
	}
	lb.Append(true)
	vb := lb.ValueBuilder().(*array.StringBuilder)
	for _, s := range values {
		vb.Append(s)
	}
}
