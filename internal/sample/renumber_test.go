package sample_test

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trobanga/s2ingest/internal/chunker"
	"github.com/trobanga/s2ingest/internal/sample"
)

func TestRenumberLine(t *testing.T) {
	tests := []struct {
		name    string
		line    string
		field   string
		want    string
		wantErr bool
	}{
		{
			name:  "replaces existing value",
			line:  `{"corpusid": 215416146, "title": "x"}`,
			field: "corpusid",
			want:  `{"corpusid": 3, "title": "x"}`,
		},
		{
			name:  "replaces null",
			line:  `{"title": "x", "corpusid": null}`,
			field: "corpusid",
			want:  `{"title": "x", "corpusid": 3}`,
		},
		{
			name:  "appends missing field",
			line:  `{"title": "x"}  `,
			field: "corpusid",
			want:  `{"title": "x","corpusid":3}`,
		},
		{
			name:  "empty object",
			line:  `{}`,
			field: "corpusid",
			want:  `{"corpusid":3}`,
		},
		{
			name:  "field with dot",
			line:  `{"a.b": 1, "a": {"b": 2}}`,
			field: "a.b",
			want:  `{"a.b": 3, "a": {"b": 2}}`,
		},
		{name: "invalid JSON", line: `{"corpusid": `, field: "corpusid", wantErr: true},
		{name: "not an object", line: `[1, 2]`, field: "corpusid", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := sample.RenumberLine([]byte(tt.line), tt.field, 3)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.JSONEq(t, tt.want, string(got))
			assert.Equal(t, tt.want, string(got))
		})
	}
}

func TestRenumber_KeepsLineIndexAcrossBlankLines(t *testing.T) {
	in := strings.NewReader("{\"corpusid\": 10}\n\n{\"corpusid\": 20}\n")
	var out bytes.Buffer

	n, err := sample.Renumber(context.Background(), in, &out, "corpusid", 0)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.Equal(t, "{\"corpusid\": 0}\n{\"corpusid\": 2}\n", out.String())
}

func TestRenumber_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := sample.Renumber(ctx, strings.NewReader("{}\n"), io.Discard, "corpusid", 0)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRenumberFile_Gzip(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "papers.jsonl")
	require.NoError(t, os.WriteFile(in, []byte("{\"corpusid\": 7}\n{\"title\": \"t\"}\n"), 0644))
	out := filepath.Join(dir, "papers-renumbered.jsonl.gz")

	n, err := sample.RenumberFile(context.Background(), in, out, "")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	r, err := chunker.Open(out)
	require.NoError(t, err)
	defer func() { _ = r.Close() }()
	data, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, "{\"corpusid\": 0}\n{\"title\": \"t\",\"corpusid\":1}\n", string(data))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 2, "no partial files left behind")
}

func TestRenumberFile_Errors(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "abstracts.jsonl")
	require.NoError(t, os.WriteFile(in, []byte("{\"corpusid\": 1}\nnot json\n"), 0644))

	_, err := sample.RenumberFile(context.Background(), in, in, "corpusid")
	assert.ErrorContains(t, err, "must differ")

	out := filepath.Join(dir, "out.jsonl")
	_, err = sample.RenumberFile(context.Background(), in, out, "corpusid")
	assert.ErrorContains(t, err, "line 1")
	assert.NoFileExists(t, out)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "partial output removed")
}
