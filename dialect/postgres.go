package dialect

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/jackc/pgx/v5/pgtype"
	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" database/sql driver

	"github.com/stevemurr/docstore/codec"
	"github.com/stevemurr/docstore/column"
	"github.com/stevemurr/docstore/schema"
	"github.com/stevemurr/docstore/sqlb"
	"github.com/stevemurr/docstore/state"
)

// Postgres lowers to PostgreSQL: the residual column is jsonb, arrays are
// native typed arrays.
type Postgres struct {
	// pgtype.Map caches scan plans and is not safe for concurrent use.
	maps sync.Pool
}

// NewPostgres returns the PostgreSQL dialect.
func NewPostgres() *Postgres {
	return &Postgres{maps: sync.Pool{New: func() any { return pgtype.NewMap() }}}
}

func (*Postgres) Name() string       { return "postgres" }
func (*Postgres) DriverName() string { return "pgx" }
func (*Postgres) NativeArrays() bool { return true }

func (*Postgres) Quote(ident string) string {
	return quote(ident)
}

// Rebind numbers the placeholders: "a = ? AND b = ?" becomes "a = $1 AND b = $2".
func (*Postgres) Rebind(query string) string {
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

func (p *Postgres) Bind(param sqlb.Param) sqlb.Fragment {
	f := sqlb.Bind(param)
	f.SQL += "::" + p.ColumnType(param.Type)
	return f
}

func (*Postgres) Arg(p sqlb.Param) (any, error) {
	return p.Value, nil
}

func (p *Postgres) ScanDest(t column.PhysicalType) any {
	switch t.Elem() {
	case column.TypeString:
		if t.IsArray() {
			return &pgArray[string]{maps: &p.maps}
		}
	case column.TypeInt64, column.TypeTimestamp:
		if t.IsArray() {
			return &pgArray[int64]{maps: &p.maps}
		}
	case column.TypeFloat64:
		if t.IsArray() {
			return &pgArray[float64]{maps: &p.maps}
		}
	case column.TypeBool:
		if t.IsArray() {
			return &pgArray[bool]{maps: &p.maps}
		}
	}
	return scanDest(t)
}

func (*Postgres) Value(t column.PhysicalType, dest any) (state.Value, error) {
	switch d := dest.(type) {
	case *pgArray[string]:
		return d.value(t), nil
	case *pgArray[int64]:
		return d.value(t), nil
	case *pgArray[float64]:
		return d.value(t), nil
	case *pgArray[bool]:
		return d.value(t), nil
	}
	return scalarValue(t, dest)
}

// pgArray scans a PostgreSQL array through a pooled pgtype.Map.
type pgArray[T any] struct {
	maps  *sync.Pool
	vals  []T
	valid bool
}

func (a *pgArray[T]) Scan(src any) error {
	a.vals, a.valid = nil, src != nil
	if src == nil {
		return nil
	}
	m := a.maps.Get().(*pgtype.Map)
	defer a.maps.Put(m)
	return m.SQLScanner(&a.vals).Scan(src)
}

func (a *pgArray[T]) value(t column.PhysicalType) state.Value {
	if !a.valid || len(a.vals) == 0 {
		return nil
	}
	v := arrayValue(sqlb.Param{Type: t, Value: any(a.vals)})
	if len(v) == 0 {
		return nil
	}
	return v
}

func (*Postgres) EmptyJSON(list bool) sqlb.Fragment {
	if list {
		return sqlb.Raw("'[]'::jsonb")
	}
	return sqlb.Raw("'{}'::jsonb")
}

func (p *Postgres) seg(s Seg) sqlb.Fragment {
	if s.IsIndex {
		// jsonb -> takes an int4 index
		f := sqlb.Bind(sqlb.Param{Type: column.TypeInt64, Value: int64(s.Index)})
		f.SQL += "::int"
		return f
	}
	return p.Bind(sqlb.Param{Type: column.TypeString, Value: s.Key})
}

func (p *Postgres) JSONGet(target sqlb.Fragment, s Seg) sqlb.Fragment {
	return sqlb.Sprintf("(%s -> %s)", target, p.seg(s))
}

func (p *Postgres) JSONSet(target sqlb.Fragment, s Seg, value sqlb.Fragment) sqlb.Fragment {
	key := p.Bind(sqlb.Param{Type: column.TypeString, Value: s.String()})
	return sqlb.Sprintf("jsonb_set(%s, ARRAY[%s], %s)", target, key, value)
}

func (p *Postgres) JSONMerge(target sqlb.Fragment, set *state.State) (sqlb.Fragment, error) {
	text, err := codec.Encode(set)
	if err != nil {
		return sqlb.Fragment{}, err
	}
	return sqlb.Sprintf("(%s || %s)", target, p.Bind(sqlb.Param{Type: column.TypeJSON, Value: text})), nil
}

func (p *Postgres) JSONRemove(target sqlb.Fragment, keys []string) sqlb.Fragment {
	return sqlb.Sprintf("(%s - %s)", target, p.Bind(sqlb.Param{Type: column.TypeStringArray, Value: keys}))
}

func (*Postgres) JSONAppend(target sqlb.Fragment, value sqlb.Fragment) sqlb.Fragment {
	return sqlb.Sprintf("jsonb_insert(%s, '{-1}', %s, true)", target, value)
}

func (p *Postgres) JSONAdd(target sqlb.Fragment, delta sqlb.Param) sqlb.Fragment {
	d := sqlb.Bind(delta)
	d.SQL += "::numeric"
	return sqlb.Sprintf("to_jsonb(COALESCE((%s)::numeric, 0) + %s)", target, d)
}

func (p *Postgres) ArrayAppend(target sqlb.Fragment, values sqlb.Param) (sqlb.Fragment, error) {
	return sqlb.Sprintf("(%s || %s)", target, p.Bind(values)), nil
}

func (p *Postgres) JSONPath(col sqlb.Fragment, segs []Seg) sqlb.Fragment {
	if len(segs) == 0 {
		return col
	}
	parts := []sqlb.Fragment{col}
	for _, s := range segs {
		parts = append(parts, p.seg(s))
	}
	return sqlb.Paren(sqlb.Join(" -> ", parts))
}

func (p *Postgres) JSONScalar(col sqlb.Fragment, segs []Seg, t schema.Type) sqlb.Fragment {
	var text sqlb.Fragment
	if len(segs) == 0 {
		text = sqlb.Sprintf("(%s #>> '{}')", col)
	} else {
		parts := []sqlb.Fragment{col}
		for _, s := range segs[:len(segs)-1] {
			parts = append(parts, p.seg(s))
		}
		text = sqlb.Sprintf("(%s ->> %s)", sqlb.Join(" -> ", parts), p.seg(segs[len(segs)-1]))
	}
	switch t {
	case schema.TypeInteger, schema.TypeTimestamp:
		return sqlb.Sprintf("(%s)::bigint", text)
	case schema.TypeFloat:
		return sqlb.Sprintf("(%s)::double precision", text)
	case schema.TypeBoolean:
		return sqlb.Sprintf("(%s)::boolean", text)
	}
	return text
}

func (p *Postgres) Contains(list sqlb.Fragment, typ column.PhysicalType, v state.Value) (sqlb.Fragment, error) {
	if typ.IsArray() {
		param, err := sqlb.Typed(typ, state.Array{v})
		if err != nil {
			return sqlb.Fragment{}, err
		}
		return sqlb.Sprintf("(%s @> %s)", list, p.Bind(param)), nil
	}
	param, err := sqlb.JSONParam(jsonListOf(v))
	if err != nil {
		return sqlb.Fragment{}, err
	}
	return sqlb.Sprintf("(%s @> %s)", list, p.Bind(param)), nil
}

// jsonListOf wraps v in a one element list, the containment pattern for a
// JSON list holding v.
func jsonListOf(v state.Value) state.Value {
	if st, ok := v.(*state.State); ok {
		return state.List{st}
	}
	return state.Array{v}
}

func (p *Postgres) Overlaps(list sqlb.Fragment, vs sqlb.Param) sqlb.Fragment {
	return sqlb.Sprintf("(%s && %s)", list, p.Bind(vs))
}

func (*Postgres) ElemExists(list sqlb.Fragment, alias string, cond func(sqlb.Fragment) (sqlb.Fragment, error)) (sqlb.Fragment, error) {
	c, err := cond(sqlb.Raw(alias + ".value"))
	if err != nil {
		return sqlb.Fragment{}, err
	}
	return sqlb.Sprintf("EXISTS (SELECT 1 FROM jsonb_array_elements(%s) AS "+alias+"(value) WHERE %s)", list, c), nil
}

func (*Postgres) ILike(left, pattern sqlb.Fragment) sqlb.Fragment {
	return sqlb.Sprintf("%s ILIKE %s", left, pattern)
}

func (*Postgres) ColumnType(t column.PhysicalType) string {
	switch t {
	case column.TypeString:
		return "text"
	case column.TypeInt64, column.TypeTimestamp:
		return "bigint"
	case column.TypeFloat64:
		return "double precision"
	case column.TypeBool:
		return "boolean"
	case column.TypeJSON:
		return "jsonb"
	case column.TypeStringArray:
		return "text[]"
	case column.TypeInt64Array, column.TypeTimestampArray:
		return "bigint[]"
	case column.TypeFloat64Array:
		return "double precision[]"
	case column.TypeBoolArray:
		return "boolean[]"
	}
	return "text"
}

func (p *Postgres) CreateTable(table string, cols []column.Column, sequence bool) []string {
	defs := make([]string, 0, len(cols))
	var idCol string
	for _, c := range cols {
		def := quote(c.Name) + " " + p.ColumnType(c.Type)
		switch {
		case c.PrimaryKey:
			def += " PRIMARY KEY"
			idCol = c.Name
		case c.References:
			def += fmt.Sprintf(" REFERENCES %s (%s) ON DELETE CASCADE", quote(table), quote(idCol))
		}
		defs = append(defs, def)
	}
	stmts := []string{fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n\t%s\n)", quote(table), strings.Join(defs, ",\n\t"))}
	for _, c := range cols {
		switch {
		case c.PrimaryKey:
		case c.Type.IsArray() || c.Type == column.TypeJSON:
			stmts = append(stmts, fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s USING GIN (%s)",
				indexName(table, c.Name), quote(table), quote(c.Name)))
		default:
			stmts = append(stmts, fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s (%s)",
				indexName(table, c.Name), quote(table), quote(c.Name)))
		}
	}
	if sequence {
		stmts = append(stmts, "CREATE SEQUENCE IF NOT EXISTS "+quote(table+"_id_seq"))
	}
	return stmts
}

func (p *Postgres) TableColumns(ctx context.Context, q Querier, table string) ([]string, error) {
	rows, err := q.QueryContext(ctx, p.Rebind(
		`SELECT column_name FROM information_schema.columns
		 WHERE table_schema = current_schema() AND table_name = ?
		 ORDER BY ordinal_position`), table)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

func (p *Postgres) NextSequence(ctx context.Context, q Querier, table string) (int64, error) {
	var n int64
	err := q.QueryRowContext(ctx, p.Rebind("SELECT nextval(?::regclass)"), quote(table+"_id_seq")).Scan(&n)
	return n, err
}
