package store_test

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stevemurr/docstore/codec"
	"github.com/stevemurr/docstore/column"
	"github.com/stevemurr/docstore/docerr"
	"github.com/stevemurr/docstore/query"
	"github.com/stevemurr/docstore/schema"
	"github.com/stevemurr/docstore/state"
	"github.com/stevemurr/docstore/store"
)

var testFields = schema.Static{
	{Path: "title", Type: schema.TypeString},
	{Path: "count", Type: schema.TypeInteger},
	{Path: "score", Type: schema.TypeFloat},
	{Path: "modified", Type: schema.TypeTimestamp},
	{Path: "flag", Type: schema.TypeBoolean},
	{Path: "tags/*", Type: schema.TypeString},
	{Path: "nums/*", Type: schema.TypeInteger},
	{Path: "meta/size", Type: schema.TypeInteger},
	{Path: "meta/label", Type: schema.TypeString},
	{Path: "files/*/name", Type: schema.TypeString},
	{Path: "files/*/length", Type: schema.TypeInteger},
}

func testOptions() store.Options {
	opts := store.DefaultOptions()
	opts.Schema = testFields
	opts.Promote = column.PromoteKeys{"title", "count", "tags", "modified"}
	opts.IDs = &store.Counter{Prefix: "doc"}
	opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	return opts
}

// opener opens a Repository on the database of the running test. Calls from
// the same test share the database and the table.
type opener func(t *testing.T, opts store.Options) *store.Repository

func sqliteOpener() opener {
	dsns := map[*testing.T]string{}
	return func(t *testing.T, opts store.Options) *store.Repository {
		t.Helper()
		dsn, ok := dsns[t]
		if !ok {
			dsn = filepath.Join(t.TempDir(), "db", "docs.db")
			dsns[t] = dsn
		}
		r, err := store.Open("sqlite", dsn, opts)
		require.NoError(t, err)
		t.Cleanup(func() { r.Close() })
		return r
	}
}

func postgresOpener(dsn string) opener {
	tables := map[*testing.T]string{}
	return func(t *testing.T, opts store.Options) *store.Repository {
		t.Helper()
		table, ok := tables[t]
		if !ok {
			table = "docs_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
			tables[t] = table
			t.Cleanup(func() {
				db, err := sql.Open("pgx", dsn)
				if err != nil {
					return
				}
				defer db.Close()
				db.Exec(`DROP TABLE IF EXISTS "` + table + `" CASCADE`)
				db.Exec(`DROP SEQUENCE IF EXISTS "` + table + `_id_seq"`)
			})
		}
		opts.Table = table
		r, err := store.Open("postgres", dsn, opts)
		require.NoError(t, err)
		t.Cleanup(func() { r.Close() })
		return r
	}
}

func TestSQLiteStore(t *testing.T) {
	runStoreTests(t, sqliteOpener())
}

func TestPostgresStore(t *testing.T) {
	dsn := os.Getenv("DOCSTORE_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("DOCSTORE_TEST_POSTGRES_DSN not set")
	}
	runStoreTests(t, postgresOpener(dsn))
}

// connect initializes the table of r and opens a Connection on it.
func connect(t *testing.T, r *store.Repository) *store.Connection {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, r.Init(ctx))
	c, err := r.Connect(ctx)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func sample(id string) *state.State {
	return state.New().
		With(column.KeyID, state.String(id)).
		With("title", state.String("report")).
		With("count", state.Int(3)).
		With("score", state.Float(2)).
		With("modified", state.Timestamp(1700000000000)).
		With("flag", state.Bool(true)).
		With("tags", state.Strings("red", "blue")).
		With("nums", state.Ints(1, 2)).
		With("meta", state.New().
			With("size", state.Int(10)).
			With("label", state.String("a \"quoted\" \\ line\nnon-ascii é ☃"))).
		With("files", state.List{
			state.New().With("name", state.String("a.txt")).With("length", state.Int(5)),
			state.New().With("name", state.String("b.txt")),
		})
}

func assertState(t *testing.T, want, got *state.State) {
	t.Helper()
	require.NotNil(t, got)
	if !want.Equal(got) {
		w, _ := codec.Encode(want)
		g, _ := codec.Encode(got)
		assert.Failf(t, "documents differ", "want %s\ngot  %s", w, g)
	}
}

type facets map[string][]string

func (f facets) TypesWithFacet(_ context.Context, facet string) ([]string, error) {
	return f[facet], nil
}

func idsOf(docs []*state.State) []string {
	ids := make([]string, 0, len(docs))
	for _, doc := range docs {
		if id, ok := doc.Get(column.KeyID).(state.String); ok {
			ids = append(ids, string(id))
		}
	}
	sort.Strings(ids)
	return ids
}

// runStoreTests runs the common suite against one backend.
func runStoreTests(t *testing.T, open opener) {
	ctx := context.Background()

	t.Run("round trip", func(t *testing.T) {
		c := connect(t, open(t, testOptions()))
		doc := sample("d1")
		id, err := c.Create(ctx, doc)
		require.NoError(t, err)
		assert.Equal(t, "d1", id)

		got, err := c.Read(ctx, "d1")
		require.NoError(t, err)
		assertState(t, doc, got)
	})

	t.Run("number kinds", func(t *testing.T) {
		c := connect(t, open(t, testOptions()))
		_, err := c.Create(ctx, state.New().
			With(column.KeyID, state.String("n")).
			With("score", state.Float(2)).
			With("count", state.Int(2)).
			With("modified", state.Timestamp(2)).
			With("meta", state.New().With("size", state.Int(2))))
		require.NoError(t, err)

		got, err := c.Read(ctx, "n")
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, state.Float(2), got.Get("score"))
		assert.Equal(t, state.Int(2), got.Get("count"))
		assert.Equal(t, state.Timestamp(2), got.Get("modified"))
		assert.Equal(t, state.Int(2), got.Get("meta").(*state.State).Get("size"))
	})

	t.Run("empty values are absent", func(t *testing.T) {
		c := connect(t, open(t, testOptions()))
		_, err := c.Create(ctx, state.New().
			With(column.KeyID, state.String("e")).
			With("title", state.String("t")).
			With("tags", state.Array{}).
			With("nums", state.Array{}).
			With("meta", state.New()))
		require.NoError(t, err)

		got, err := c.Read(ctx, "e")
		require.NoError(t, err)
		assertState(t, state.New().With(column.KeyID, state.String("e")).With("title", state.String("t")), got)

		docs, err := c.Query(ctx, query.Query{Where: query.IsNull{Path: "tags"}})
		require.NoError(t, err)
		assert.Equal(t, []string{"e"}, idsOf(docs))
	})

	t.Run("read missing", func(t *testing.T) {
		c := connect(t, open(t, testOptions()))
		got, err := c.Read(ctx, "missing")
		require.NoError(t, err)
		assert.Nil(t, got)

		docs, err := c.ReadMany(ctx)
		require.NoError(t, err)
		assert.Empty(t, docs)
	})

	t.Run("read many keeps order", func(t *testing.T) {
		c := connect(t, open(t, testOptions()))
		_, err := c.CreateMany(ctx, sample("a"), sample("b"), sample("c"))
		require.NoError(t, err)

		docs, err := c.ReadMany(ctx, "c", "missing", "a", "c")
		require.NoError(t, err)
		require.Len(t, docs, 2)
		assert.Equal(t, state.String("c"), docs[0].Get(column.KeyID))
		assert.Equal(t, state.String("a"), docs[1].Get(column.KeyID))
	})

	t.Run("read by key", func(t *testing.T) {
		c := connect(t, open(t, testOptions()))
		_, err := c.CreateMany(ctx,
			state.New().With("title", state.String("x")).With("tags", state.Strings("red")),
			state.New().With("title", state.String("y")).With("tags", state.Strings("blue")),
			state.New().With("title", state.String("z")))
		require.NoError(t, err)

		docs, err := c.ReadByKey(ctx, "title", state.String("y"))
		require.NoError(t, err)
		assert.Equal(t, []string{"doc2"}, idsOf(docs))

		docs, err = c.ReadByKey(ctx, "tags", state.String("red"))
		require.NoError(t, err)
		assert.Equal(t, []string{"doc1"}, idsOf(docs))

		docs, err = c.ReadByKeys(ctx, "title", state.String("x"), state.String("z"))
		require.NoError(t, err)
		assert.Equal(t, []string{"doc1", "doc3"}, idsOf(docs))
	})

	t.Run("update", func(t *testing.T) {
		c := connect(t, open(t, testOptions()))
		before := sample("u")
		_, err := c.Create(ctx, before)
		require.NoError(t, err)

		d := state.NewDiff().
			With("title", state.String("final")).
			With("count", state.IntDelta(2)).
			With("score", state.Unset).
			With("tags", &state.ListDiff{RPush: []state.Value{state.String("green")}}).
			With("nums", &state.ListDiff{RPush: []state.Value{state.Int(3)}}).
			With("meta", state.NewDiff().
				With("size", state.IntDelta(-4)).
				With("label", state.Unset)).
			With("files", &state.ListDiff{
				Diff:  []state.Update{state.NewDiff().With("length", state.Int(7))},
				RPush: []state.Value{state.New().With("name", state.String("c.txt"))},
			})
		require.NoError(t, c.Update(ctx, "u", d, nil))

		got, err := c.Read(ctx, "u")
		require.NoError(t, err)
		assertState(t, state.Apply(before, d), got)
	})

	t.Run("update absent values", func(t *testing.T) {
		c := connect(t, open(t, testOptions()))
		_, err := c.Create(ctx, state.New().With(column.KeyID, state.String("v")))
		require.NoError(t, err)

		d := state.NewDiff().
			With("count", state.IntDelta(5)).
			With("tags", &state.ListDiff{RPush: []state.Value{state.String("a"), state.String("b")}}).
			With("nums", &state.ListDiff{RPush: []state.Value{state.Int(1)}}).
			With("meta", state.NewDiff().With("size", state.IntDelta(1)))
		require.NoError(t, c.Update(ctx, "v", d, nil))

		got, err := c.Read(ctx, "v")
		require.NoError(t, err)
		assertState(t, state.New().
			With(column.KeyID, state.String("v")).
			With("count", state.Int(5)).
			With("tags", state.Strings("a", "b")).
			With("nums", state.Ints(1)).
			With("meta", state.New().With("size", state.Int(1))), got)
	})

	t.Run("unset every residual key", func(t *testing.T) {
		c := connect(t, open(t, testOptions()))
		_, err := c.Create(ctx, state.New().
			With(column.KeyID, state.String("r")).
			With("title", state.String("kept")).
			With("score", state.Float(1)).
			With("meta", state.New().With("size", state.Int(2))))
		require.NoError(t, err)

		d := state.NewDiff().With("score", state.Unset).With("meta", state.Unset)
		require.NoError(t, c.Update(ctx, "r", d, nil))

		got, err := c.Read(ctx, "r")
		require.NoError(t, err)
		assertState(t, state.New().
			With(column.KeyID, state.String("r")).
			With("title", state.String("kept")), got)

		docs, err := c.Query(ctx, query.Query{Where: query.And{query.IsNull{Path: "score"}, query.IsNull{Path: "meta/size"}}})
		require.NoError(t, err)
		assert.Equal(t, []string{"r"}, idsOf(docs))
	})

	t.Run("set is idempotent", func(t *testing.T) {
		c := connect(t, open(t, testOptions()))
		_, err := c.Create(ctx, sample("s"))
		require.NoError(t, err)

		d := state.NewDiff().
			With("title", state.String("same")).
			With("meta", state.NewDiff().With("label", state.String("same")))
		require.NoError(t, c.Update(ctx, "s", d, nil))
		once, err := c.Read(ctx, "s")
		require.NoError(t, err)
		require.NoError(t, c.Update(ctx, "s", d, nil))
		twice, err := c.Read(ctx, "s")
		require.NoError(t, err)
		assertState(t, once, twice)
	})

	t.Run("update rejects id changes", func(t *testing.T) {
		c := connect(t, open(t, testOptions()))
		_, err := c.Create(ctx, sample("i"))
		require.NoError(t, err)
		err = c.Update(ctx, "i", state.NewDiff().With(column.KeyID, state.String("j")), nil)
		assert.ErrorIs(t, err, docerr.ErrUnsupportedField)
	})

	t.Run("conflicting update leaves the row unchanged", func(t *testing.T) {
		r := open(t, testOptions())
		c := connect(t, r)
		before := sample("k")
		_, err := c.Create(ctx, before)
		require.NoError(t, err)

		conflicts := testutil.ToFloat64(store.ConflictCount.WithLabelValues(r.Table()))
		d := state.NewDiff().With("title", state.String("lost"))
		err = c.Update(ctx, "k", d, query.Equal("title", state.String("other")))
		assert.ErrorIs(t, err, docerr.ErrConcurrentUpdate)
		assert.Equal(t, conflicts+1, testutil.ToFloat64(store.ConflictCount.WithLabelValues(r.Table())))

		err = c.Update(ctx, "missing", d, nil)
		assert.ErrorIs(t, err, docerr.ErrConcurrentUpdate)

		got, err := c.Read(ctx, "k")
		require.NoError(t, err)
		assertState(t, before, got)

		require.NoError(t, c.Update(ctx, "k", d, query.Equal("title", state.String("report"))))
		got, err = c.Read(ctx, "k")
		require.NoError(t, err)
		assert.Equal(t, state.String("lost"), got.Get("title"))
	})

	t.Run("negated list membership matches absent lists", func(t *testing.T) {
		c := connect(t, open(t, testOptions()))
		_, err := c.CreateMany(ctx,
			state.New().With(column.KeyID, state.String("a")).
				With("tags", state.Strings("x", "y")).With("nums", state.Ints(1)),
			state.New().With(column.KeyID, state.String("b")).
				With("tags", state.Strings("y")).With("nums", state.Ints(2)),
			state.New().With(column.KeyID, state.String("c")))
		require.NoError(t, err)

		cases := []struct {
			name string
			p    query.Predicate
			want []string
		}{
			{"contains", query.Equal("tags", state.String("y")), []string{"a", "b"}},
			{"not contains", query.Not{P: query.Equal("tags", state.String("x"))}, []string{"b", "c"}},
			{"ne", query.Compare("tags", query.Ne, state.String("x")), []string{"b", "c"}},
			{"not in", query.Compare("tags", query.NotIn, state.String("x"), state.String("z")), []string{"b", "c"}},
			{"in", query.Compare("tags", query.In, state.String("x"), state.String("z")), []string{"a"}},
			{"residual not contains", query.Not{P: query.Equal("nums", state.Int(1))}, []string{"b", "c"}},
			{"residual element", query.Equal("nums/*", state.Int(2)), []string{"b"}},
		}
		for _, tc := range cases {
			docs, err := c.Query(ctx, query.Query{Where: tc.p})
			require.NoError(t, err, tc.name)
			assert.Equal(t, tc.want, idsOf(docs), tc.name)
		}
	})

	t.Run("mixin types", func(t *testing.T) {
		opts := testOptions()
		opts.Facets = facets{"Folderish": {"Folder", "Workspace"}}
		c := connect(t, open(t, opts))
		doc := func(id, typ string, mixins ...string) *state.State {
			return state.New().
				With(column.KeyID, state.String(id)).
				With(column.KeyPrimaryType, state.String(typ)).
				With(column.KeyMixinTypes, state.Strings(mixins...))
		}
		_, err := c.CreateMany(ctx,
			doc("a", "Folder"),
			doc("b", "File", "Folderish"),
			doc("c", "File", "Versionable"),
			doc("d", "Note"))
		require.NoError(t, err)

		folderish := query.Equal(query.MixinPseudo, state.String("Folderish"))
		cases := []struct {
			name string
			p    query.Predicate
			want []string
		}{
			{"eq", folderish, []string{"a", "b"}},
			{"ne", query.Compare(query.MixinPseudo, query.Ne, state.String("Folderish")), []string{"c", "d"}},
			{"not", query.Not{P: folderish}, []string{"c", "d"}},
			{"not in a conjunction", query.Not{P: query.And{folderish, query.Equal(column.KeyPrimaryType, state.String("File"))}}, []string{"a", "c", "d"}},
		}
		for _, tc := range cases {
			docs, err := c.Query(ctx, query.Query{Where: tc.p})
			require.NoError(t, err, tc.name)
			assert.Equal(t, tc.want, idsOf(docs), tc.name)
		}
	})

	t.Run("query", func(t *testing.T) {
		c := connect(t, open(t, testOptions()))
		for i, title := range []string{"alpha", "beta", "gamma", "Alphabet"} {
			doc := state.New().
				With("title", state.String(title)).
				With("count", state.Int(int64(i))).
				With("meta", state.New().With("size", state.Int(int64(10*i))))
			_, err := c.Create(ctx, doc)
			require.NoError(t, err)
		}

		docs, err := c.Query(ctx, query.Query{
			OrderBy: []query.Order{{Path: "count", Desc: true}},
			Limit:   2,
		})
		require.NoError(t, err)
		require.Len(t, docs, 2)
		assert.Equal(t, state.String("doc4"), docs[0].Get(column.KeyID))
		assert.Equal(t, state.String("doc3"), docs[1].Get(column.KeyID))

		docs, err = c.Query(ctx, query.Query{
			Where:   query.Compare("meta/size", query.Gte, state.Int(10)),
			OrderBy: []query.Order{{Path: "meta/size"}},
			Offset:  1,
		})
		require.NoError(t, err)
		assert.Equal(t, []string{"doc3", "doc4"}, idsOf(docs))

		docs, err = c.Query(ctx, query.Query{Where: query.Compare("title", query.StartsWith, state.String("alpha"))})
		require.NoError(t, err)
		assert.Equal(t, []string{"doc1"}, idsOf(docs))

		docs, err = c.Query(ctx, query.Query{Where: query.Compare("title", query.ILike, state.String("alpha%"))})
		require.NoError(t, err)
		assert.Equal(t, []string{"doc1", "doc4"}, idsOf(docs))

		n, err := c.Count(ctx, query.Compare("count", query.Between, state.Int(1), state.Int(2)))
		require.NoError(t, err)
		assert.Equal(t, int64(2), n)

		n, err = c.Count(ctx, nil)
		require.NoError(t, err)
		assert.Equal(t, int64(4), n)
	})

	t.Run("projection", func(t *testing.T) {
		c := connect(t, open(t, testOptions()))
		_, err := c.Create(ctx, sample("p"))
		require.NoError(t, err)

		docs, err := c.Query(ctx, query.Query{
			Select: []string{"title", "tags", "meta/size", "meta/label", "files/0/name"},
			Where:  query.Equal(column.KeyID, state.String("p")),
		})
		require.NoError(t, err)
		require.Len(t, docs, 1)
		assertState(t, state.New().
			With("title", state.String("report")).
			With("tags", state.Strings("red", "blue")).
			With("meta/size", state.Int(10)).
			With("meta/label", state.String("a \"quoted\" \\ line\nnon-ascii é ☃")).
			With("files/0/name", state.String("a.txt")), docs[0])
	})

	t.Run("hierarchy", func(t *testing.T) {
		c := connect(t, open(t, testOptions()))
		_, err := c.Create(ctx, state.New().
			With(column.KeyID, state.String("root")).
			With(column.KeyName, state.String("a")))
		require.NoError(t, err)
		_, err = c.CreateMany(ctx,
			state.New().
				With(column.KeyID, state.String("child")).
				With(column.KeyName, state.String("b")).
				With(column.KeyParentID, state.String("root")),
			state.New().
				With(column.KeyID, state.String("leaf")).
				With(column.KeyName, state.String("c")).
				With(column.KeyParentID, state.String("child")))
		require.NoError(t, err)

		leaf, err := c.Read(ctx, "leaf")
		require.NoError(t, err)
		require.NotNil(t, leaf)
		assert.Equal(t, state.Strings("root", "child"), leaf.Get(column.KeyAncestorIDs))

		cases := []struct {
			name string
			p    query.Predicate
			want []string
		}{
			{"path", query.Equal(query.PathPseudo, state.String("/a/b")), []string{"child"}},
			{"missing path", query.Equal(query.PathPseudo, state.String("/a/x")), []string{}},
			{"not path", query.Compare(query.PathPseudo, query.Ne, state.String("/a")), []string{"child", "leaf"}},
			{"under path", query.Compare(query.PathPseudo, query.StartsWith, state.String("/a")), []string{"child", "leaf"}},
			{"ancestor", query.Equal(query.AncestorPseudo, state.String("child")), []string{"leaf"}},
		}
		for _, tc := range cases {
			docs, err := c.Query(ctx, query.Query{Where: tc.p})
			require.NoError(t, err, tc.name)
			assert.Equal(t, tc.want, idsOf(docs), tc.name)
		}

		n, err := c.Delete(ctx, "root")
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)
		got, err := c.ReadMany(ctx, "root", "child", "leaf")
		require.NoError(t, err)
		assert.Empty(t, got)
	})

	t.Run("delete", func(t *testing.T) {
		c := connect(t, open(t, testOptions()))
		_, err := c.CreateMany(ctx, sample("a"), sample("b"))
		require.NoError(t, err)

		n, err := c.Delete(ctx, "a", "missing")
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)

		n, err = c.Delete(ctx)
		require.NoError(t, err)
		assert.Zero(t, n)

		left, err := c.Count(ctx, nil)
		require.NoError(t, err)
		assert.Equal(t, int64(1), left)
	})

	t.Run("transactions", func(t *testing.T) {
		c := connect(t, open(t, testOptions()))
		require.NoError(t, c.Begin(ctx))
		_, err := c.Create(ctx, sample("rolled"))
		require.NoError(t, err)
		require.NoError(t, c.Rollback())

		got, err := c.Read(ctx, "rolled")
		require.NoError(t, err)
		assert.Nil(t, got)

		require.NoError(t, c.Begin(ctx))
		assert.Error(t, c.Begin(ctx))
		_, err = c.Create(ctx, sample("kept"))
		require.NoError(t, err)
		require.NoError(t, c.Commit())

		got, err = c.Read(ctx, "kept")
		require.NoError(t, err)
		assert.NotNil(t, got)
	})

	t.Run("closed connection", func(t *testing.T) {
		c := connect(t, open(t, testOptions()))
		require.NoError(t, c.Close())
		_, err := c.Read(ctx, "x")
		assert.ErrorIs(t, err, docerr.ErrClosed)
		assert.NoError(t, c.Close())
	})

	t.Run("strict", func(t *testing.T) {
		c := connect(t, open(t, testOptions()))
		_, err := c.Create(ctx, state.New().With("undeclared", state.String("x")))
		assert.ErrorIs(t, err, docerr.ErrUnsupportedField)

		_, err = c.Create(ctx, state.New().With("count", state.String("three")))
		assert.ErrorIs(t, err, docerr.ErrTypeMismatch)

		err = c.Update(ctx, "doc1", state.NewDiff().With("undeclared", state.Int(1)), nil)
		assert.ErrorIs(t, err, docerr.ErrUnsupportedField)
	})

	t.Run("not strict", func(t *testing.T) {
		opts := testOptions()
		opts.Strict = false
		c := connect(t, open(t, opts))
		doc := state.New().
			With(column.KeyID, state.String("loose")).
			With("title", state.String("t")).
			With("extra", state.New().With("n", state.Int(1)).With("f", state.Float(1.5)))
		_, err := c.Create(ctx, doc)
		require.NoError(t, err)

		got, err := c.Read(ctx, "loose")
		require.NoError(t, err)
		assertState(t, doc, got)

		_, err = c.Create(ctx, state.New().With("count", state.String("three")))
		assert.ErrorIs(t, err, docerr.ErrTypeMismatch)
	})

	t.Run("generated ids", func(t *testing.T) {
		c := connect(t, open(t, testOptions()))
		ids, err := c.CreateMany(ctx, state.New(), state.New())
		require.NoError(t, err)
		assert.Equal(t, []string{"doc1", "doc2"}, ids)

		opts := testOptions()
		opts.IDs = store.UUIDs()
		u := connect(t, open(t, opts))
		id, err := u.Create(ctx, state.New())
		require.NoError(t, err)
		_, err = uuid.Parse(id)
		assert.NoError(t, err)
	})

	t.Run("sequence ids", func(t *testing.T) {
		opts := testOptions()
		opts.IDs = store.Sequence()
		c := connect(t, open(t, opts))
		ids, err := c.CreateMany(ctx, state.New(), state.New())
		require.NoError(t, err)
		assert.Equal(t, []string{"1", "2"}, ids)
	})

	t.Run("init", func(t *testing.T) {
		r := open(t, testOptions())
		require.NoError(t, r.Init(ctx))
		require.NoError(t, r.Init(ctx))

		opts := testOptions()
		opts.Promote = column.PromoteKeys{"title", "count", "tags", "modified", "score"}
		err := open(t, opts).Init(ctx)
		var missing *store.MissingColumnsError
		require.True(t, errors.As(err, &missing))
		assert.Equal(t, []string{"score"}, missing.Columns)

		opts = testOptions()
		opts.Promote = column.PromoteKeys{"title"}
		assert.NoError(t, open(t, opts).Init(ctx))
	})

	t.Run("metrics", func(t *testing.T) {
		opts := testOptions()
		reg := prometheus.NewRegistry()
		opts.Registerer = reg
		r := open(t, opts)
		c := connect(t, r)
		table := r.Table()

		creates := testutil.ToFloat64(store.StatementCount.WithLabelValues(table, "create"))
		_, err := c.Create(ctx, sample("m"))
		require.NoError(t, err)
		assert.Equal(t, creates+1, testutil.ToFloat64(store.StatementCount.WithLabelValues(table, "create")))

		failed := testutil.ToFloat64(store.StatementErrors.WithLabelValues(table, "create"))
		_, err = c.Create(ctx, sample("m"))
		assert.ErrorIs(t, err, docerr.ErrBackend)
		assert.Equal(t, failed+1, testutil.ToFloat64(store.StatementErrors.WithLabelValues(table, "create")))

		n, err := testutil.GatherAndCount(reg, "docstore_store_statements")
		require.NoError(t, err)
		assert.Positive(t, n)
	})
}
