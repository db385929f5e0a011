package transform

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"replica/internal/core/apperror"
	"replica/internal/domain/schema"
)

func testSchema() *schema.Schema {
	return &schema.Schema{
		Source:     "items",
		Target:     "Items",
		PrimaryKey: "Id",
		Fields: []schema.Field{
			{Name: "Id", Ref: "_key", Casters: []string{"int"}, ColumnType: "Int64"},
			{Name: "Name", Ref: "name", Casters: []string{"str"}, Default: "temp", HasDefault: true},
			{Name: "Attr1", Ref: "attr1", Casters: []string{"int"}, Default: 10, HasDefault: true},
			{Name: "Attr2", Ref: "attr2", Casters: []string{"int"}, Required: true},
		},
	}
}

func TestTransformCastsAndDefaults(t *testing.T) {
	tr := New(DefaultCasters())

	tests := []struct {
		name string
		doc  map[string]any
		want Row
	}{
		{
			name: "one field cast",
			doc:  map[string]any{"_key": "1", "name": "t1", "attr1": float64(1), "attr2": float64(2)},
			want: Row{"Id": int64(1), "Name": "t1", "Attr1": int64(1), "Attr2": int64(2)},
		},
		{
			name: "numeric string cast",
			doc:  map[string]any{"_key": "1", "name": "t1", "attr1": "1", "attr2": float64(2)},
			want: Row{"Id": int64(1), "Name": "t1", "Attr1": int64(1), "Attr2": int64(2)},
		},
		{
			name: "default assignment",
			doc:  map[string]any{"_key": "1", "name": "t1", "attr2": float64(2)},
			want: Row{"Id": int64(1), "Name": "t1", "Attr1": int64(10), "Attr2": int64(2)},
		},
		{
			name: "null value takes default",
			doc:  map[string]any{"_key": "1", "name": nil, "attr2": float64(2)},
			want: Row{"Id": int64(1), "Name": "temp", "Attr1": int64(10), "Attr2": int64(2)},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			row, err := tr.Transform(testSchema(), tt.doc)
			require.NoError(t, err)
			assert.Equal(t, tt.want, row)
		})
	}
}

func TestTransformOptionalWithoutDefaultIsNull(t *testing.T) {
	s := testSchema()
	s.Fields = append(s.Fields, schema.Field{Name: "Note", Ref: "note", Casters: []string{"str"}})

	row, err := New(DefaultCasters()).Transform(s, map[string]any{"_key": "7", "attr2": float64(1)})
	require.NoError(t, err)
	v, ok := row["Note"]
	assert.True(t, ok)
	assert.Nil(t, v)
}

func TestTransformMissingPrimaryKey(t *testing.T) {
	_, err := New(DefaultCasters()).Transform(testSchema(), map[string]any{"name": "t1", "attr1": float64(1), "attr2": float64(2)})
	require.Error(t, err)
	assert.True(t, apperror.HasCode(err, apperror.CodeMissingPrimaryKey))
}

func TestTransformPrimaryKeyIgnoresDefault(t *testing.T) {
	s := testSchema()
	s.Fields[0].Default = "99"
	s.Fields[0].HasDefault = true

	_, err := New(DefaultCasters()).Transform(s, map[string]any{"attr2": float64(2)})
	assert.True(t, apperror.HasCode(err, apperror.CodeMissingPrimaryKey))
}

func TestTransformMissingRequiredField(t *testing.T) {
	_, err := New(DefaultCasters()).Transform(testSchema(), map[string]any{"_key": "1", "name": "t1", "attr1": "1"})
	require.Error(t, err)
	assert.True(t, apperror.HasCode(err, apperror.CodeMissingRequiredField))
	appErr, _ := apperror.AsAppError(err)
	assert.Equal(t, "Attr2", appErr.Details["field"])
}

func TestTransformUnknownCaster(t *testing.T) {
	s := testSchema()
	s.Fields[1].Casters = []string{"str1"}

	_, err := New(DefaultCasters()).Transform(s, map[string]any{"_key": "1", "name": "t1", "attr1": float64(1), "attr2": float64(2)})
	assert.True(t, apperror.HasCode(err, apperror.CodeUnknownCaster))
}

func TestTransformSingleCasterFailure(t *testing.T) {
	_, err := New(DefaultCasters()).Transform(testSchema(), map[string]any{"_key": "abc", "attr2": float64(2)})
	assert.True(t, apperror.HasCode(err, apperror.CodeCastFailure))
}

func TestTransformMultiCasterFallsThrough(t *testing.T) {
	s := testSchema()
	s.Fields[1].Casters = []string{"str", "int"}

	row, err := New(DefaultCasters()).Transform(s, map[string]any{"_key": "1", "name": float64(5), "attr2": float64(2)})
	require.NoError(t, err)
	assert.Equal(t, int64(5), row["Name"])

	row, err = New(DefaultCasters()).Transform(s, map[string]any{"_key": "1", "name": "five", "attr2": float64(2)})
	require.NoError(t, err)
	assert.Equal(t, "five", row["Name"])
}

func TestTransformMultiCasterNoneSucceeds(t *testing.T) {
	s := testSchema()
	s.Fields[1].Casters = []string{"str", "int"}

	_, err := New(DefaultCasters()).Transform(s, map[string]any{"_key": "1", "name": []any{"x"}, "attr2": float64(2)})
	assert.True(t, apperror.HasCode(err, apperror.CodeCastFailure))
}

func TestTransformDoesNotMutateDocument(t *testing.T) {
	doc := map[string]any{"_key": "1", "attr2": "2"}
	_, err := New(DefaultCasters()).Transform(testSchema(), doc)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"_key": "1", "attr2": "2"}, doc)
}

func TestTransformConcurrentUse(t *testing.T) {
	tr := New(DefaultCasters())
	s := testSchema()

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			row, err := tr.Transform(s, map[string]any{"_key": "3", "attr2": float64(4)})
			assert.NoError(t, err)
			assert.Equal(t, int64(3), row["Id"])
		}()
	}
	wg.Wait()
}

func TestRowValues(t *testing.T) {
	r := Row{"a": 1, "b": "x"}
	assert.Equal(t, []any{"x", 1, nil}, r.Values([]string{"b", "a", "c"}))
}
