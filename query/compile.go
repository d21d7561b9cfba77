package query

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/stevemurr/docstore/column"
	"github.com/stevemurr/docstore/dialect"
	"github.com/stevemurr/docstore/docerr"
	"github.com/stevemurr/docstore/schema"
	"github.com/stevemurr/docstore/sqlb"
	"github.com/stevemurr/docstore/state"
)

// Compiler lowers queries for one table layout and dialect. It holds no
// mutable state and may be shared.
type Compiler struct {
	d        dialect.Dialect
	layout   *column.Layout
	fulltext FulltextLowerer
}

// Option configures a Compiler.
type Option func(*Compiler)

// WithFulltext sets the lowering of Fulltext predicates. Without one they
// fail with docerr.ErrUnsupportedOperator.
func WithFulltext(l FulltextLowerer) Option {
	return func(c *Compiler) { c.fulltext = l }
}

// New returns a Compiler.
func New(d dialect.Dialect, layout *column.Layout, opts ...Option) *Compiler {
	c := &Compiler{d: d, layout: layout}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Projection describes one selected column of a Statement.
type Projection struct {
	// Path is the selected path; empty for the residual column of a whole
	// document selection.
	Path string
	// Column is the column the value comes from.
	Column column.Column
	// Type is the physical type of the selected expression. TypeJSON values
	// are JSON text to decode with Node.
	Type column.PhysicalType
	Node *schema.TypeMap
}

// Statement is a compiled SELECT.
type Statement struct {
	sqlb.Fragment
	Columns []Projection
}

// compilation holds the per call state.
type compilation struct {
	*Compiler
	aliases int
}

func (c *Compiler) begin() *compilation {
	return &compilation{Compiler: c}
}

// Where compiles p into a boolean expression. A nil predicate is true.
func (c *Compiler) Where(p Predicate) (sqlb.Fragment, error) {
	return c.begin().pred(p)
}

// Select compiles q against table.
func (c *Compiler) Select(table string, q Query) (*Statement, error) {
	cc := c.begin()
	var exprs []sqlb.Fragment
	var cols []Projection
	if len(q.Select) == 0 {
		for _, col := range c.layout.Columns() {
			node := c.layout.Types()
			if !col.IsResidual() {
				node = node.Child(col.Key)
			}
			exprs = append(exprs, sqlb.Raw(c.d.Quote(col.Name)))
			cols = append(cols, Projection{Path: col.Key, Column: col, Type: col.Type, Node: node})
		}
	}
	for _, path := range q.Select {
		expr, proj, err := cc.projection(path)
		if err != nil {
			return nil, err
		}
		exprs = append(exprs, expr)
		cols = append(cols, proj)
	}
	where, err := cc.pred(q.Where)
	if err != nil {
		return nil, err
	}
	stmt := sqlb.Sprintf("SELECT %s FROM %s WHERE %s",
		sqlb.Join(", ", exprs), sqlb.Raw(c.d.Quote(table)), where)

	if len(q.OrderBy) > 0 {
		terms := make([]sqlb.Fragment, len(q.OrderBy))
		for i, o := range q.OrderBy {
			expr, err := cc.orderTerm(o.Path)
			if err != nil {
				return nil, err
			}
			if o.Desc {
				expr = sqlb.Sprintf("%s DESC", expr)
			}
			terms[i] = expr
		}
		stmt = sqlb.Sprintf("%s ORDER BY %s", stmt, sqlb.Join(", ", terms))
	}
	if q.Limit > 0 || q.Offset > 0 {
		limit := q.Limit
		if limit <= 0 {
			limit = math.MaxInt64
		}
		stmt = sqlb.Sprintf("%s LIMIT %s", stmt, c.d.Bind(sqlb.Param{Type: column.TypeInt64, Value: limit}))
		if q.Offset > 0 {
			stmt = sqlb.Sprintf("%s OFFSET %s", stmt, c.d.Bind(sqlb.Param{Type: column.TypeInt64, Value: q.Offset}))
		}
	}
	return &Statement{Fragment: stmt, Columns: cols}, nil
}

// Count compiles a count of the documents of table matching p.
func (c *Compiler) Count(table string, p Predicate) (sqlb.Fragment, error) {
	where, err := c.Where(p)
	if err != nil {
		return sqlb.Fragment{}, err
	}
	return sqlb.Sprintf("SELECT COUNT(*) FROM %s WHERE %s", sqlb.Raw(c.d.Quote(table)), where), nil
}

func (c *compilation) projection(path string) (sqlb.Fragment, Projection, error) {
	var expr sqlb.Fragment
	var proj Projection
	_, err := c.field(path, func(f field) (sqlb.Fragment, error) {
		if f.elem {
			return sqlb.Fragment{}, fmt.Errorf("%w: projection of %q", docerr.ErrUnsupportedOperator, path)
		}
		expr = f.value
		proj = Projection{Path: Canonical(path), Column: f.col, Type: f.typ, Node: f.node}
		if f.col.IsResidual() {
			proj.Type = column.TypeJSON
		}
		return sqlb.Fragment{}, nil
	})
	return expr, proj, err
}

func (c *compilation) orderTerm(path string) (sqlb.Fragment, error) {
	return c.field(path, func(f field) (sqlb.Fragment, error) {
		if f.elem || !f.node.Type().IsScalar() {
			return sqlb.Fragment{}, fmt.Errorf("%w: ordering by %q", docerr.ErrUnsupportedOperator, path)
		}
		return f.expr, nil
	})
}

func (c *compilation) pred(p Predicate) (sqlb.Fragment, error) {
	switch x := p.(type) {
	case nil:
		return constant(true), nil
	case Const:
		return constant(bool(x)), nil
	case And:
		return c.join(" AND ", []Predicate(x), true)
	case Or:
		return c.join(" OR ", []Predicate(x), false)
	case Not:
		return c.not(x.P)
	case Comparison:
		return c.comparison(x)
	case IsNull:
		return c.field(x.Path, func(f field) (sqlb.Fragment, error) {
			return sqlb.Sprintf("%s IS NULL", f.value), nil
		})
	case IsNotNull:
		return c.field(x.Path, func(f field) (sqlb.Fragment, error) {
			return sqlb.Sprintf("%s IS NOT NULL", f.value), nil
		})
	case Fulltext:
		if c.fulltext == nil {
			return sqlb.Fragment{}, fmt.Errorf("%w: no full-text lowering configured", docerr.ErrUnsupportedOperator)
		}
		return c.fulltext.LowerFulltext(c.d, x, c.text)
	}
	return sqlb.Fragment{}, fmt.Errorf("%w: predicate %T", docerr.ErrUnsupportedOperator, p)
}

func constant(b bool) sqlb.Fragment {
	if b {
		return sqlb.Raw("1 = 1")
	}
	return sqlb.Raw("1 = 0")
}

func (c *compilation) join(sep string, ps []Predicate, empty bool) (sqlb.Fragment, error) {
	if len(ps) == 0 {
		return constant(empty), nil
	}
	parts := make([]sqlb.Fragment, len(ps))
	for i, p := range ps {
		f, err := c.pred(p)
		if err != nil {
			return sqlb.Fragment{}, err
		}
		parts[i] = f
	}
	if len(parts) == 1 {
		return parts[0], nil
	}
	return sqlb.Paren(sqlb.Join(sep, parts)), nil
}

// not pushes the negation through And and Or into comparisons, where
// negated list membership also matches documents without the list.
func (c *compilation) not(p Predicate) (sqlb.Fragment, error) {
	switch x := p.(type) {
	case Comparison:
		// below a "*" the comparison is per element: NOT EXISTS is not EXISTS NOT
		if op, ok := x.Op.Negate(); ok && !perElement(x.Path) {
			x.Op = op
			return c.comparison(x)
		}
	case IsNull:
		return c.pred(IsNotNull(x))
	case IsNotNull:
		return c.pred(IsNull(x))
	case Not:
		return c.pred(x.P)
	case Const:
		return constant(!bool(x)), nil
	case And:
		return c.join(" OR ", negated(x), false)
	case Or:
		return c.join(" AND ", negated(x), true)
	}
	f, err := c.pred(p)
	if err != nil {
		return sqlb.Fragment{}, err
	}
	return sqlb.Sprintf("NOT (%s)", f), nil
}

func negated(ps []Predicate) []Predicate {
	out := make([]Predicate, len(ps))
	for i, p := range ps {
		out[i] = Not{P: p}
	}
	return out
}

func perElement(path string) bool {
	segs := schema.SplitPath(Canonical(path))
	for i, seg := range segs {
		if seg == schema.Element && i < len(segs)-1 {
			return true
		}
	}
	return false
}

// text resolves the path of a full-text match to a string expression.
func (c *compilation) text(path string, match func(expr sqlb.Fragment) sqlb.Fragment) (sqlb.Fragment, error) {
	return c.field(path, func(f field) (sqlb.Fragment, error) {
		if f.node.Type() != schema.TypeString {
			return sqlb.Fragment{}, docerr.AtPath(docerr.ErrTypeMismatch, path, "full-text match on %s", f.node.Type())
		}
		return match(f.expr), nil
	})
}

// field is a resolved path.
type field struct {
	path string
	col  column.Column
	node *schema.TypeMap
	// expr is the SQL value of a scalar; for lists and objects it equals value.
	expr sqlb.Fragment
	// value is the stored value: the column, or the JSON sub-document.
	value sqlb.Fragment
	// typ is the physical type of expr: a scalar type, the array type of a
	// dedicated array column, or TypeJSON.
	typ column.PhysicalType
	// array marks a dedicated array column.
	array bool
	// elem marks a path below a "*" segment, evaluated per list element.
	elem bool
}

func (f field) isList() bool {
	return f.node.Type() == schema.TypeList
}

// field resolves path and calls lower with it. Paths through "*" segments
// are lowered inside an EXISTS over the list elements.
func (c *compilation) field(path string, lower func(field) (sqlb.Fragment, error)) (sqlb.Fragment, error) {
	canon := Canonical(path)
	switch canon {
	case AncestorPseudo:
		canon = column.KeyAncestorIDs
	case PathPseudo, MixinPseudo:
		return sqlb.Fragment{}, fmt.Errorf("%w: %s must be resolved by Prepare", docerr.ErrUnsupportedOperator, path)
	}
	segs := schema.SplitPath(canon)
	if len(segs) == 0 {
		return sqlb.Fragment{}, docerr.AtPath(docerr.ErrUnknownPath, path, "empty path")
	}
	col, ok := c.layout.Lookup(segs[0])
	if !ok {
		return sqlb.Fragment{}, docerr.AtPath(docerr.ErrUnknownPath, path, "not declared")
	}
	node := c.layout.Types().Child(segs[0])
	name := sqlb.Raw(c.d.Quote(col.Name))
	if col.IsResidual() {
		return c.walk(path, col, name, node, []dialect.Seg{dialect.Key(segs[0])}, segs[1:], false, lower)
	}
	rest := segs[1:]
	if len(rest) == 1 && rest[0] == schema.Element && col.Type.IsArray() {
		rest = nil
	}
	if len(rest) > 0 {
		return sqlb.Fragment{}, fmt.Errorf("%w: sub-path %q of column %s", docerr.ErrUnsupportedOperator, path, col.Name)
	}
	return lower(field{path: path, col: col, node: node, expr: name, value: name, typ: col.Type, array: col.Type.IsArray()})
}

func (c *compilation) walk(path string, col column.Column, base sqlb.Fragment, node *schema.TypeMap, prefix []dialect.Seg, rest []string, elem bool, lower func(field) (sqlb.Fragment, error)) (sqlb.Fragment, error) {
	for i, seg := range rest {
		switch {
		case seg == schema.Element:
			if node.Type() != schema.TypeList {
				return sqlb.Fragment{}, docerr.AtPath(docerr.ErrUnknownPath, path, "%q is not a list", seg)
			}
			if i == len(rest)-1 && node.IsScalarList() {
				// "tags/*" compares like "tags"
				return c.leaf(path, col, base, node, prefix, elem, lower)
			}
			c.aliases++
			alias := "e" + strconv.Itoa(c.aliases)
			list := c.d.JSONPath(base, prefix)
			inner := rest[i+1:]
			return c.d.ElemExists(list, alias, func(e sqlb.Fragment) (sqlb.Fragment, error) {
				return c.walk(path, col, e, node.Elem(), nil, inner, true, lower)
			})
		case node.Type() == schema.TypeList && schema.IsIndex(seg):
			n, err := strconv.Atoi(seg)
			if err != nil {
				return sqlb.Fragment{}, docerr.AtPath(docerr.ErrUnknownPath, path, "bad index %q", seg)
			}
			prefix = append(prefix, dialect.Index(n))
			node = node.Elem()
		case node.Type() == schema.TypeObject:
			prefix = append(prefix, dialect.Key(seg))
			node = node.Child(seg)
		default:
			node = nil
		}
		if node == nil {
			return sqlb.Fragment{}, docerr.AtPath(docerr.ErrUnknownPath, path, "no declared type at %q", seg)
		}
	}
	return c.leaf(path, col, base, node, prefix, elem, lower)
}

func (c *compilation) leaf(path string, col column.Column, base sqlb.Fragment, node *schema.TypeMap, prefix []dialect.Seg, elem bool, lower func(field) (sqlb.Fragment, error)) (sqlb.Fragment, error) {
	value := c.d.JSONPath(base, prefix)
	f := field{path: path, col: col, node: node, expr: value, value: value, typ: column.TypeJSON, elem: elem}
	if typ, ok := column.FromSchema(node); ok && !typ.IsArray() {
		f.expr = c.d.JSONScalar(base, prefix, node.Type())
		f.typ = typ
		if elem && len(prefix) == 0 {
			// a list element has no stored value of its own to test for null
			f.value = f.expr
		}
	}
	return lower(f)
}

func (c *compilation) comparison(x Comparison) (sqlb.Fragment, error) {
	if err := checkArity(x); err != nil {
		return sqlb.Fragment{}, err
	}
	for _, v := range x.Values {
		if v == nil {
			return sqlb.Fragment{}, fmt.Errorf("%w: null operand for %s on %q, use IsNull", docerr.ErrUnsupportedValue, x.Op, x.Path)
		}
	}
	return c.field(x.Path, func(f field) (sqlb.Fragment, error) {
		if f.isList() {
			return c.list(f, x.Op, x.Values)
		}
		if f.typ == column.TypeJSON {
			return sqlb.Fragment{}, fmt.Errorf("%w: %s on object %q", docerr.ErrUnsupportedOperator, x.Op, x.Path)
		}
		return c.scalar(f, x.Op, x.Values)
	})
}

// param binds v as a value of the scalar field f.
func (c *compilation) param(f field, v state.Value) (sqlb.Fragment, error) {
	if i, ok := v.(state.Int); ok && f.typ == column.TypeFloat64 {
		v = state.Float(i)
	}
	p, err := sqlb.Typed(f.typ, v)
	if err != nil {
		return sqlb.Fragment{}, docerr.AtPath(docerr.ErrTypeMismatch, f.path, "%v", err)
	}
	return c.d.Bind(p), nil
}

func (c *compilation) params(f field, vs []state.Value) ([]sqlb.Fragment, error) {
	out := make([]sqlb.Fragment, len(vs))
	for i, v := range vs {
		var err error
		if out[i], err = c.param(f, v); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (c *compilation) scalar(f field, op Op, vs []state.Value) (sqlb.Fragment, error) {
	switch op {
	case Like, NotLike, ILike, NotILike, StartsWith:
		if f.typ != column.TypeString {
			return sqlb.Fragment{}, docerr.AtPath(docerr.ErrTypeMismatch, f.path, "%s on %s", op, f.typ)
		}
	}
	ps, err := c.params(f, vs)
	if err != nil {
		return sqlb.Fragment{}, err
	}
	switch op {
	case Eq, Ne, Lt, Lte, Gt, Gte, Like, NotLike:
		return sqlb.Sprintf("%s "+op.String()+" %s", f.expr, ps[0]), nil
	case ILike:
		return c.d.ILike(f.expr, ps[0]), nil
	case NotILike:
		return sqlb.Sprintf("NOT (%s)", c.d.ILike(f.expr, ps[0])), nil
	case In, NotIn:
		if len(ps) == 0 {
			return constant(op == NotIn), nil
		}
		return sqlb.Sprintf("%s "+op.String()+" (%s)", f.expr, sqlb.Join(", ", ps)), nil
	case Between, NotBetween:
		return sqlb.Sprintf("%s "+op.String()+" %s AND %s", f.expr, ps[0], ps[1]), nil
	case StartsWith:
		prefix := strings.TrimSuffix(string(vs[0].(state.String)), "/")
		pattern, err := c.param(f, state.String(escapeLike(prefix)+"/%"))
		if err != nil {
			return sqlb.Fragment{}, err
		}
		exact, err := c.param(f, state.String(prefix))
		if err != nil {
			return sqlb.Fragment{}, err
		}
		return sqlb.Sprintf(`(%s = %s OR %s LIKE %s ESCAPE '\')`, f.expr, exact, f.expr, pattern), nil
	}
	return sqlb.Fragment{}, fmt.Errorf("%w: %s", docerr.ErrUnsupportedOperator, op)
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

// list lowers a comparison on a list valued field to membership tests.
// Negated forms also match documents without the list.
func (c *compilation) list(f field, op Op, vs []state.Value) (sqlb.Fragment, error) {
	elem := f.node.Elem()
	for _, v := range vs {
		if err := elem.ValidateValue(v, f.path); err != nil {
			return sqlb.Fragment{}, err
		}
	}
	switch op {
	case Eq:
		return c.d.Contains(f.value, f.typ, vs[0])
	case Ne:
		pos, err := c.d.Contains(f.value, f.typ, vs[0])
		if err != nil {
			return sqlb.Fragment{}, err
		}
		return widen(f, pos), nil
	case In:
		return c.anyOf(f, vs)
	case NotIn:
		if len(vs) == 0 {
			return constant(true), nil
		}
		pos, err := c.anyOf(f, vs)
		if err != nil {
			return sqlb.Fragment{}, err
		}
		return widen(f, pos), nil
	}
	return sqlb.Fragment{}, fmt.Errorf("%w: %s on list %q", docerr.ErrUnsupportedOperator, op, f.path)
}

func widen(f field, pos sqlb.Fragment) sqlb.Fragment {
	return sqlb.Sprintf("(NOT (%s) OR %s IS NULL)", pos, f.value)
}

// anyOf matches lists sharing an element with vs: one overlap test for
// array columns, one containment test per value for JSON lists.
func (c *compilation) anyOf(f field, vs []state.Value) (sqlb.Fragment, error) {
	if len(vs) == 0 {
		return constant(false), nil
	}
	if f.array {
		p, err := sqlb.Typed(f.typ, state.Array(vs))
		if err != nil {
			return sqlb.Fragment{}, docerr.AtPath(docerr.ErrTypeMismatch, f.path, "%v", err)
		}
		return c.d.Overlaps(f.value, p), nil
	}
	parts := make([]sqlb.Fragment, len(vs))
	for i, v := range vs {
		var err error
		if parts[i], err = c.d.Contains(f.value, f.typ, v); err != nil {
			return sqlb.Fragment{}, err
		}
	}
	if len(parts) == 1 {
		return parts[0], nil
	}
	return sqlb.Paren(sqlb.Join(" OR ", parts)), nil
}
