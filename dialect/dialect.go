// Package dialect lowers the document operations used by the compilers into
// the SQL of a specific backend.
//
// Supported backends:
//
//	"postgres" - PostgreSQL: jsonb residual column, native typed arrays
//	"sqlite"   - SQLite JSON1: residual column and arrays stored as JSON text
package dialect

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"

	"github.com/stevemurr/docstore/column"
	"github.com/stevemurr/docstore/schema"
	"github.com/stevemurr/docstore/sqlb"
	"github.com/stevemurr/docstore/state"
)

// Querier is the subset of *sql.Conn and *sql.Tx the dialects use.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Seg is one step of a path inside a JSON document: an object key or a list
// index.
type Seg struct {
	Key     string
	Index   int
	IsIndex bool
}

// Key returns an object key segment.
func Key(k string) Seg {
	return Seg{Key: k}
}

// Index returns a list index segment.
func Index(i int) Seg {
	return Seg{Index: i, IsIndex: true}
}

func (s Seg) String() string {
	if s.IsIndex {
		return strconv.Itoa(s.Index)
	}
	return s.Key
}

// Dialect is implemented by each supported backend.
type Dialect interface {
	// Name returns the dialect name accepted by New.
	Name() string
	// DriverName returns the database/sql driver name.
	DriverName() string
	// Rebind rewrites '?' placeholders into the backend syntax.
	Rebind(query string) string
	// Quote quotes an identifier.
	Quote(ident string) string
	// NativeArrays reports whether array columns use a native array type.
	// Without native arrays they are stored as JSON lists.
	NativeArrays() bool

	// Bind returns a placeholder for p, with any cast the backend needs.
	Bind(p sqlb.Param) sqlb.Fragment
	// Arg converts p into a driver argument.
	Arg(p sqlb.Param) (any, error)
	// ScanDest returns a scan destination for a column of type t.
	ScanDest(t column.PhysicalType) any
	// Value converts a scanned destination into a document value, nil for NULL.
	// JSON columns are returned as state.String holding the JSON text.
	Value(t column.PhysicalType, dest any) (state.Value, error)

	// EmptyJSON returns an empty JSON object, or list.
	EmptyJSON(list bool) sqlb.Fragment
	// JSONGet returns the JSON sub-document of target at seg.
	JSONGet(target sqlb.Fragment, seg Seg) sqlb.Fragment
	// JSONSet returns target with the JSON value at seg replaced.
	JSONSet(target sqlb.Fragment, seg Seg, value sqlb.Fragment) sqlb.Fragment
	// JSONMerge returns target with the keys of set assigned, shallowly.
	JSONMerge(target sqlb.Fragment, set *state.State) (sqlb.Fragment, error)
	// JSONRemove returns target without keys.
	JSONRemove(target sqlb.Fragment, keys []string) sqlb.Fragment
	// JSONAppend returns the JSON list target with value appended.
	JSONAppend(target sqlb.Fragment, value sqlb.Fragment) sqlb.Fragment
	// JSONAdd returns the JSON number target incremented by delta.
	JSONAdd(target sqlb.Fragment, delta sqlb.Param) sqlb.Fragment
	// ArrayAppend returns the array column target with values appended.
	ArrayAppend(target sqlb.Fragment, values sqlb.Param) (sqlb.Fragment, error)

	// JSONPath returns the JSON sub-document of col at segs.
	JSONPath(col sqlb.Fragment, segs []Seg) sqlb.Fragment
	// JSONScalar returns the scalar of col at segs as a SQL value of type t.
	JSONScalar(col sqlb.Fragment, segs []Seg, t schema.Type) sqlb.Fragment
	// Contains tests that the list expression (a JSON list, or a native
	// array when typ is an array type) contains v.
	Contains(list sqlb.Fragment, typ column.PhysicalType, v state.Value) (sqlb.Fragment, error)
	// Overlaps tests that a native array shares an element with vs.
	Overlaps(list sqlb.Fragment, vs sqlb.Param) sqlb.Fragment
	// ElemExists tests that some element of the JSON list satisfies cond.
	ElemExists(list sqlb.Fragment, alias string, cond func(elem sqlb.Fragment) (sqlb.Fragment, error)) (sqlb.Fragment, error)
	// ILike is a case-insensitive pattern match.
	ILike(left, pattern sqlb.Fragment) sqlb.Fragment

	// ColumnType returns the DDL type of t.
	ColumnType(t column.PhysicalType) string
	// CreateTable returns the statements creating table, its indexes and,
	// when sequence is true, its id sequence.
	CreateTable(table string, cols []column.Column, sequence bool) []string
	// TableColumns returns the column names of table, nil when it does not exist.
	TableColumns(ctx context.Context, q Querier, table string) ([]string, error)
	// NextSequence returns the next value of the id sequence of table.
	NextSequence(ctx context.Context, q Querier, table string) (int64, error)
}

// New returns the dialect for name.
func New(name string) (Dialect, error) {
	switch name {
	case "postgres", "postgresql", "pgx", "":
		return NewPostgres(), nil
	case "sqlite", "sqlite3":
		return NewSQLite(), nil
	default:
		return nil, fmt.Errorf("unknown dialect: %q (supported: postgres, sqlite)", name)
	}
}

func quote(ident string) string {
	return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
}

func indexName(table, col string) string {
	return quote(table + "_" + col + "_idx")
}

func scanDest(t column.PhysicalType) any {
	switch t {
	case column.TypeInt64, column.TypeTimestamp:
		return new(sql.NullInt64)
	case column.TypeFloat64:
		return new(sql.NullFloat64)
	case column.TypeBool:
		return new(sql.NullBool)
	default:
		return new(sql.NullString)
	}
}

// scalarValue converts the destinations returned by scanDest.
func scalarValue(t column.PhysicalType, dest any) (state.Value, error) {
	switch d := dest.(type) {
	case *sql.NullInt64:
		if !d.Valid {
			return nil, nil
		}
		if t == column.TypeTimestamp {
			return state.Timestamp(d.Int64), nil
		}
		return state.Int(d.Int64), nil
	case *sql.NullFloat64:
		if !d.Valid {
			return nil, nil
		}
		return state.Float(d.Float64), nil
	case *sql.NullBool:
		if !d.Valid {
			return nil, nil
		}
		return state.Bool(d.Bool), nil
	case *sql.NullString:
		if !d.Valid {
			return nil, nil
		}
		return state.String(d.String), nil
	}
	return nil, fmt.Errorf("dialect: unexpected scan destination %T for %s", dest, t)
}

// arrayValue converts a typed slice parameter back into a document array.
func arrayValue(p sqlb.Param) state.Array {
	var a state.Array
	switch vs := p.Value.(type) {
	case []string:
		for _, v := range vs {
			a = append(a, state.String(v))
		}
	case []int64:
		for _, v := range vs {
			if p.Type.Elem() == column.TypeTimestamp {
				a = append(a, state.Timestamp(v))
			} else {
				a = append(a, state.Int(v))
			}
		}
	case []float64:
		for _, v := range vs {
			a = append(a, state.Float(v))
		}
	case []bool:
		for _, v := range vs {
			a = append(a, state.Bool(v))
		}
	}
	return a
}
