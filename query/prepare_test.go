package query_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stevemurr/docstore/column"
	"github.com/stevemurr/docstore/dialect"
	"github.com/stevemurr/docstore/docerr"
	"github.com/stevemurr/docstore/query"
	"github.com/stevemurr/docstore/state"
)

type paths map[string]string

func (p paths) ResolvePath(_ context.Context, path string) (string, bool, error) {
	if path == "/broken" {
		return "", false, errors.New("lookup failed")
	}
	id, ok := p[path]
	return id, ok, nil
}

type facets map[string][]string

func (f facets) TypesWithFacet(_ context.Context, facet string) ([]string, error) {
	return f[facet], nil
}

func TestPreparePath(t *testing.T) {
	ctx := context.Background()
	r := query.Resolvers{Paths: paths{"/a": "id-a", "/b": "id-b"}}

	tests := []struct {
		name string
		p    query.Predicate
		want query.Predicate
	}{
		{"found", query.Equal(query.PathPseudo, state.String("/a")),
			query.Compare(column.KeyID, query.In, state.String("id-a"))},
		{"not found", query.Equal(query.PathPseudo, state.String("/x")), query.False},
		{"not equal, not found", query.Compare(query.PathPseudo, query.Ne, state.String("/x")), query.True},
		{"in skips missing", query.Compare(query.PathPseudo, query.In, state.String("/a"), state.String("/x"), state.String("/b")),
			query.Compare(column.KeyID, query.In, state.String("id-a"), state.String("id-b"))},
		{"starts with", query.Compare(query.PathPseudo, query.StartsWith, state.String("/a")),
			query.Compare(column.KeyAncestorIDs, query.Eq, state.String("id-a"))},
		{"starts with root", query.Compare(query.PathPseudo, query.StartsWith, state.String("/")), query.True},
		{"negated in", query.Not{P: query.Compare(query.PathPseudo, query.In, state.String("/a"))},
			query.Compare(column.KeyID, query.NotIn, state.String("id-a"))},
		{"nested", query.And{query.Not{P: query.Equal(query.PathPseudo, state.String("/b"))}, query.True},
			query.And{query.Compare(column.KeyID, query.NotIn, state.String("id-b")), query.True}},
		{"untouched", query.Equal("title", state.String("a")), query.Equal("title", state.String("a"))},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := query.Prepare(ctx, tt.p, r)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := query.Prepare(ctx, query.Equal(query.PathPseudo, state.String("/broken")), r)
	assert.EqualError(t, err, "lookup failed")

	_, err = query.Prepare(ctx, query.Equal(query.PathPseudo, state.Int(1)), r)
	assert.ErrorIs(t, err, docerr.ErrTypeMismatch)

	_, err = query.Prepare(ctx, query.Compare(query.PathPseudo, query.Lt, state.String("/a")), r)
	assert.ErrorIs(t, err, docerr.ErrUnsupportedOperator)

	_, err = query.Prepare(ctx, query.Equal(query.PathPseudo, state.String("/a")), query.Resolvers{})
	assert.ErrorIs(t, err, docerr.ErrUnsupportedOperator)
}

func TestPrepareMixin(t *testing.T) {
	ctx := context.Background()
	r := query.Resolvers{Facets: facets{"Folderish": {"Folder", "Workspace"}}}
	c := query.New(dialect.NewPostgres(), testLayout(t))

	p, err := query.Prepare(ctx, query.Equal(query.MixinPseudo, state.String("Folderish")), r)
	require.NoError(t, err)
	f, err := c.Where(p)
	require.NoError(t, err)
	assert.Equal(t, `("primary_type" IN (?::text, ?::text) OR ("mixin_types" @> ?::text[]))`, f.SQL)
	assert.Equal(t, []any{"Folder", "Workspace", []string{"Folderish"}}, values(f))

	p, err = query.Prepare(ctx, query.Compare(query.MixinPseudo, query.Ne, state.String("Folderish")), r)
	require.NoError(t, err)
	f, err = c.Where(p)
	require.NoError(t, err)
	assert.Equal(t, `("primary_type" NOT IN (?::text, ?::text) AND (NOT (("mixin_types" @> ?::text[])) OR "mixin_types" IS NULL))`, f.SQL)

	p, err = query.Prepare(ctx, query.Not{P: query.Equal(query.MixinPseudo, state.String("Folderish"))}, r)
	require.NoError(t, err)
	f, err = c.Where(p)
	require.NoError(t, err)
	assert.Equal(t, `("primary_type" NOT IN (?::text, ?::text) AND (NOT (("mixin_types" @> ?::text[])) OR "mixin_types" IS NULL))`, f.SQL)

	// no type declares the facet: only mixins can match
	p, err = query.Prepare(ctx, query.Equal(query.MixinPseudo, state.String("Hidden")), r)
	require.NoError(t, err)
	f, err = c.Where(p)
	require.NoError(t, err)
	assert.Equal(t, `(1 = 0 OR ("mixin_types" @> ?::text[]))`, f.SQL)

	_, err = query.Prepare(ctx, query.IsNull{Path: query.MixinPseudo}, r)
	assert.ErrorIs(t, err, docerr.ErrUnsupportedOperator)
	_, err = query.Prepare(ctx, query.Equal(query.MixinPseudo, state.String("x")), query.Resolvers{})
	assert.ErrorIs(t, err, docerr.ErrUnsupportedOperator)
}
