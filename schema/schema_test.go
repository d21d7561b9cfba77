package schema_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stevemurr/docstore/docerr"
	"github.com/stevemurr/docstore/schema"
	"github.com/stevemurr/docstore/state"
)

var fields = []schema.Field{
	{Path: "title", Type: schema.TypeString},
	{Path: "count", Type: schema.TypeInteger},
	{Path: "tags/*", Type: schema.TypeString},
	{Path: "meta/size", Type: schema.TypeInteger},
	{Path: "files/*/name", Type: schema.TypeString},
	{Path: "files/*/length", Type: schema.TypeFloat},
}

func TestBuild(t *testing.T) {
	m, err := schema.Build(fields)
	require.NoError(t, err)

	assert.Equal(t, []string{"count", "files", "meta", "tags", "title"}, m.Keys())
	assert.Equal(t, schema.TypeObject, m.Type())
	assert.Equal(t, schema.TypeList, m.Child("tags").Type())
	assert.True(t, m.Child("tags").IsScalarList())
	assert.False(t, m.Child("files").IsScalarList())
	assert.Equal(t, schema.TypeObject, m.Child("files").Elem().Type())
	assert.Equal(t, schema.TypeObject, m.Child("meta").Type())

	assert.Equal(t, schema.TypeFloat, m.Node("files", "3", "length").Type())
	assert.Equal(t, schema.TypeFloat, m.Node("files", "*", "length").Type())
	assert.Equal(t, schema.TypeString, m.Node("tags", "0").Type())
	assert.Nil(t, m.Node("meta", "nope"))
	assert.Nil(t, m.Node("title", "x"))
	assert.Equal(t, schema.TypeUnknown, m.Node("nope").Type())
}

func TestBuildConflicts(t *testing.T) {
	cases := map[string][]schema.Field{
		"scalar then object": {{Path: "a", Type: schema.TypeString}, {Path: "a/b", Type: schema.TypeString}},
		"object then list":   {{Path: "a/b", Type: schema.TypeString}, {Path: "a/*", Type: schema.TypeString}},
		"two leaf types":     {{Path: "a", Type: schema.TypeString}, {Path: "a", Type: schema.TypeInteger}},
		"empty segment":      {{Path: "a//b", Type: schema.TypeString}},
		"empty path":         {{Path: "", Type: schema.TypeString}},
		"quote in segment":   {{Path: `a/say "hi"`, Type: schema.TypeString}},
	}
	for name, fs := range cases {
		_, err := schema.Build(fs)
		assert.Error(t, err, name)
	}

	_, err := schema.Build([]schema.Field{{Path: "a", Type: schema.TypeObject}, {Path: "a/b", Type: schema.TypeString}})
	assert.NoError(t, err)
}

func TestPaths(t *testing.T) {
	assert.Nil(t, schema.SplitPath(""))
	assert.Equal(t, []string{"a", "0", "b"}, schema.SplitPath("a/0/b"))
	assert.Equal(t, "a/0/b", schema.JoinPath([]string{"a", "0", "b"}))
	assert.True(t, schema.IsIndex("12"))
	assert.False(t, schema.IsIndex(""))
	assert.False(t, schema.IsIndex("-1"))
	assert.False(t, schema.IsIndex("*"))
}

func TestValidate(t *testing.T) {
	m := schema.MustBuild(fields...)

	ok := state.New().
		With("title", state.String("t")).
		With("count", state.Int(1)).
		With("tags", state.Strings("a")).
		With("meta", state.New().With("size", state.Int(3))).
		With("files", state.List{state.New().With("name", state.String("f")).With("length", state.Float(1))})
	assert.NoError(t, m.Validate(ok))

	cases := []struct {
		name string
		doc  *state.State
		want error
		path string
	}{
		{"undeclared", state.New().With("nope", state.Int(1)), docerr.ErrUnsupportedField, "nope"},
		{"nested undeclared", state.New().With("meta", state.New().With("x", state.Int(1))), docerr.ErrUnsupportedField, "meta/x"},
		{"wrong scalar", state.New().With("count", state.Float(1)), docerr.ErrTypeMismatch, "count"},
		{"array element", state.New().With("tags", state.Array{state.String("a"), state.Int(1)}), docerr.ErrTypeMismatch, "tags/1"},
		{"array for list of objects", state.New().With("files", state.Strings("a")), docerr.ErrTypeMismatch, "files"},
		{"list element field", state.New().With("files", state.List{state.New(), state.New().With("length", state.Int(1))}), docerr.ErrTypeMismatch, "files/1/length"},
		{"object for scalar", state.New().With("title", state.New().With("x", state.Int(1))), docerr.ErrTypeMismatch, "title"},
	}
	for _, tc := range cases {
		err := m.Validate(tc.doc)
		require.ErrorIs(t, err, tc.want, tc.name)
		var pathErr *docerr.PathError
		require.ErrorAs(t, err, &pathErr, tc.name)
		assert.Equal(t, tc.path, pathErr.Path, tc.name)
	}

	assert.NoError(t, m.ValidateValue(state.Int(4), "count"))
	assert.ErrorIs(t, m.Node("count").ValidateValue(state.String("4"), "count"), docerr.ErrTypeMismatch)
}

func TestAccepts(t *testing.T) {
	assert.True(t, schema.Accepts(schema.TypeTimestamp, state.KindTimestamp))
	assert.False(t, schema.Accepts(schema.TypeTimestamp, state.KindInt))
	assert.False(t, schema.Accepts(schema.TypeFloat, state.KindInt))
	assert.False(t, schema.Accepts(schema.TypeUnknown, state.KindString))
}

func TestJSONSchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), "schema.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"type": "object",
		"properties": {
			"title": {"type": "string"},
			"count": {"type": ["integer", "null"]},
			"score": {"type": "number"},
			"done": {"type": "boolean"},
			"modified": {"type": "string", "format": "date-time"},
			"tags": {"type": "array", "items": {"type": "string"}},
			"meta": {"properties": {"size": {"type": "integer"}}},
			"files": {"type": "array", "items": {"type": "object", "properties": {"name": {"type": "string"}}}}
		}
	}`), 0o644))

	s, err := schema.LoadJSONSchema(path)
	require.NoError(t, err)
	m, err := schema.FromProvider(s)
	require.NoError(t, err)

	assert.Equal(t, schema.TypeString, m.Node("title").Type())
	assert.Equal(t, schema.TypeInteger, m.Node("count").Type())
	assert.Equal(t, schema.TypeFloat, m.Node("score").Type())
	assert.Equal(t, schema.TypeBoolean, m.Node("done").Type())
	assert.Equal(t, schema.TypeTimestamp, m.Node("modified").Type())
	assert.True(t, m.Node("tags").IsScalarList())
	assert.Equal(t, schema.TypeInteger, m.Node("meta", "size").Type())
	assert.Equal(t, schema.TypeString, m.Node("files", "0", "name").Type())

	_, err = schema.JSONSchema{"type": "array"}.Fields()
	assert.Error(t, err)
	_, err = schema.JSONSchema{"type": "object", "properties": map[string]any{"x": map[string]any{"type": "array"}}}.Fields()
	assert.Error(t, err)

	_, err = schema.LoadJSONSchema(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}
