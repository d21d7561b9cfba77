package dialect

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	_ "github.com/mattn/go-sqlite3" // SQLite driver

	"github.com/stevemurr/docstore/codec"
	"github.com/stevemurr/docstore/column"
	"github.com/stevemurr/docstore/docerr"
	"github.com/stevemurr/docstore/schema"
	"github.com/stevemurr/docstore/sqlb"
	"github.com/stevemurr/docstore/state"
)

// SQLite lowers to SQLite with the JSON1 functions. The residual column and
// the array columns are TEXT holding JSON. Keys are addressed with JSON path
// parameters such as `$."files"[0]."name"`.
type SQLite struct{}

// NewSQLite returns the SQLite dialect.
func NewSQLite() *SQLite {
	return &SQLite{}
}

func (*SQLite) Name() string       { return "sqlite" }
func (*SQLite) DriverName() string { return "sqlite3" }
func (*SQLite) NativeArrays() bool { return false }

func (*SQLite) Quote(ident string) string {
	return quote(ident)
}

func (*SQLite) Rebind(query string) string {
	return query
}

func (*SQLite) Bind(p sqlb.Param) sqlb.Fragment {
	if p.Type == column.TypeJSON {
		return sqlb.Sprintf("json(%s)", sqlb.Bind(p))
	}
	return sqlb.Bind(p)
}

func (*SQLite) Arg(p sqlb.Param) (any, error) {
	if p.Type.IsArray() {
		return codec.EncodeValue(arrayValue(p))
	}
	return p.Value, nil
}

func (*SQLite) ScanDest(t column.PhysicalType) any {
	if t.IsArray() {
		return scanDest(column.TypeString)
	}
	return scanDest(t)
}

func (*SQLite) Value(t column.PhysicalType, dest any) (state.Value, error) {
	v, err := scalarValue(t.Elem(), dest)
	if err != nil || v == nil || !t.IsArray() {
		return v, err
	}
	text := string(v.(state.String))
	return codec.DecodeValue(text, schema.ListOf(t.SchemaType()), "")
}

// jsonPath renders segs as a JSON path.
func jsonPath(segs []Seg) string {
	var b strings.Builder
	b.WriteByte('$')
	for _, s := range segs {
		if s.IsIndex {
			b.WriteByte('[')
			b.WriteString(strconv.Itoa(s.Index))
			b.WriteByte(']')
			continue
		}
		b.WriteString(`."`)
		b.WriteString(s.Key)
		b.WriteByte('"')
	}
	return b.String()
}

func pathParam(segs ...Seg) sqlb.Fragment {
	return sqlb.Bind(sqlb.Param{Type: column.TypeString, Value: jsonPath(segs)})
}

func (*SQLite) EmptyJSON(list bool) sqlb.Fragment {
	if list {
		return sqlb.Raw("'[]'")
	}
	return sqlb.Raw("'{}'")
}

func (*SQLite) JSONGet(target sqlb.Fragment, s Seg) sqlb.Fragment {
	return sqlb.Sprintf("(%s -> %s)", target, pathParam(s))
}

func (*SQLite) JSONSet(target sqlb.Fragment, s Seg, value sqlb.Fragment) sqlb.Fragment {
	return sqlb.Sprintf("json_set(%s, %s, json(%s))", target, pathParam(s), value)
}

// JSONMerge assigns every key with one json_set call. json_patch is not used
// because it merges nested objects recursively.
func (*SQLite) JSONMerge(target sqlb.Fragment, set *state.State) (sqlb.Fragment, error) {
	parts := []sqlb.Fragment{target}
	for _, k := range set.Keys() {
		text, err := codec.EncodeValue(set.Get(k))
		if err != nil {
			return sqlb.Fragment{}, err
		}
		parts = append(parts, pathParam(Key(k)),
			sqlb.Sprintf("json(%s)", sqlb.Bind(sqlb.Param{Type: column.TypeJSON, Value: text})))
	}
	return sqlb.Sprintf("json_set(%s)", sqlb.Join(", ", parts)), nil
}

func (*SQLite) JSONRemove(target sqlb.Fragment, keys []string) sqlb.Fragment {
	parts := []sqlb.Fragment{target}
	for _, k := range keys {
		parts = append(parts, pathParam(Key(k)))
	}
	return sqlb.Sprintf("json_remove(%s)", sqlb.Join(", ", parts))
}

func (*SQLite) JSONAppend(target sqlb.Fragment, value sqlb.Fragment) sqlb.Fragment {
	return sqlb.Sprintf("json_insert(%s, '$[#]', json(%s))", target, value)
}

func (*SQLite) JSONAdd(target sqlb.Fragment, delta sqlb.Param) sqlb.Fragment {
	return sqlb.Sprintf("(COALESCE(CAST(%s AS NUMERIC), 0) + %s)", target, sqlb.Bind(delta))
}

// ArrayAppend appends element by element: SQLite arrays are JSON lists, and
// each element is bound as JSON text so booleans stay booleans.
func (s *SQLite) ArrayAppend(target sqlb.Fragment, values sqlb.Param) (sqlb.Fragment, error) {
	out := sqlb.Sprintf("COALESCE(%s, %s)", target, s.EmptyJSON(true))
	for _, v := range arrayValue(values) {
		p, err := sqlb.JSONParam(v)
		if err != nil {
			return sqlb.Fragment{}, err
		}
		out = s.JSONAppend(out, sqlb.Bind(p))
	}
	return out, nil
}

func (*SQLite) JSONPath(col sqlb.Fragment, segs []Seg) sqlb.Fragment {
	if len(segs) == 0 {
		return col
	}
	return sqlb.Sprintf("(%s -> %s)", col, pathParam(segs...))
}

// JSONScalar uses json_extract, which already returns SQL integers, reals,
// text and 0/1 for booleans.
func (*SQLite) JSONScalar(col sqlb.Fragment, segs []Seg, _ schema.Type) sqlb.Fragment {
	if len(segs) == 0 {
		return col
	}
	return sqlb.Sprintf("json_extract(%s, %s)", col, pathParam(segs...))
}

func (*SQLite) Contains(list sqlb.Fragment, _ column.PhysicalType, v state.Value) (sqlb.Fragment, error) {
	if !v.Kind().IsScalar() {
		return sqlb.Fragment{}, fmt.Errorf("%w: containment of %s in sqlite", docerr.ErrUnsupportedOperator, v.Kind())
	}
	p, err := sqlb.ValueParam(v)
	if err != nil {
		return sqlb.Fragment{}, err
	}
	return sqlb.Sprintf("EXISTS (SELECT 1 FROM json_each(%s) WHERE value = %s)", list, sqlb.Bind(p)), nil
}

// Overlaps binds vs whole, as the JSON list Arg encodes it.
func (*SQLite) Overlaps(list sqlb.Fragment, vs sqlb.Param) sqlb.Fragment {
	if len(arrayValue(vs)) == 0 {
		return sqlb.Raw("1 = 0")
	}
	return sqlb.Sprintf("EXISTS (SELECT 1 FROM json_each(%s) WHERE value IN (SELECT value FROM json_each(%s)))", list, sqlb.Bind(vs))
}

func (*SQLite) ElemExists(list sqlb.Fragment, alias string, cond func(sqlb.Fragment) (sqlb.Fragment, error)) (sqlb.Fragment, error) {
	c, err := cond(sqlb.Raw(alias + ".value"))
	if err != nil {
		return sqlb.Fragment{}, err
	}
	return sqlb.Sprintf("EXISTS (SELECT 1 FROM json_each(%s) AS "+alias+" WHERE %s)", list, c), nil
}

func (*SQLite) ILike(left, pattern sqlb.Fragment) sqlb.Fragment {
	return sqlb.Sprintf("LOWER(%s) LIKE LOWER(%s)", left, pattern)
}

func (*SQLite) ColumnType(t column.PhysicalType) string {
	switch t {
	case column.TypeInt64, column.TypeTimestamp:
		return "INTEGER"
	case column.TypeFloat64:
		return "REAL"
	case column.TypeBool:
		return "BOOLEAN"
	}
	return "TEXT"
}

func (s *SQLite) CreateTable(table string, cols []column.Column, sequence bool) []string {
	defs := make([]string, 0, len(cols))
	var idCol string
	for _, c := range cols {
		def := quote(c.Name) + " " + s.ColumnType(c.Type)
		switch {
		case c.PrimaryKey:
			def += " PRIMARY KEY NOT NULL"
			idCol = c.Name
		case c.References:
			def += fmt.Sprintf(" REFERENCES %s (%s) ON DELETE CASCADE", quote(table), quote(idCol))
		}
		defs = append(defs, def)
	}
	stmts := []string{fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n\t%s\n)", quote(table), strings.Join(defs, ",\n\t"))}
	for _, c := range cols {
		if c.PrimaryKey || c.Type.IsArray() || c.Type == column.TypeJSON {
			continue
		}
		stmts = append(stmts, fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s (%s)",
			indexName(table, c.Name), quote(table), quote(c.Name)))
	}
	if sequence {
		stmts = append(stmts, fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (id INTEGER PRIMARY KEY AUTOINCREMENT)",
			quote(table+"_id_seq")))
	}
	return stmts
}

func (*SQLite) TableColumns(ctx context.Context, q Querier, table string) ([]string, error) {
	rows, err := q.QueryContext(ctx, "SELECT name FROM pragma_table_info(?) ORDER BY cid", table)
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

func (*SQLite) NextSequence(ctx context.Context, q Querier, table string) (int64, error) {
	res, err := q.ExecContext(ctx, fmt.Sprintf("INSERT INTO %s DEFAULT VALUES", quote(table+"_id_seq")))
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}
