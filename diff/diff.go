// Package diff compiles incremental updates (StateDiff, ListDiff, Delta)
// into SQL expressions computing the updated value from the stored one.
package diff

import (
	"fmt"

	"github.com/stevemurr/docstore/column"
	"github.com/stevemurr/docstore/dialect"
	"github.com/stevemurr/docstore/docerr"
	"github.com/stevemurr/docstore/schema"
	"github.com/stevemurr/docstore/sqlb"
	"github.com/stevemurr/docstore/state"
)

// Compiler lowers diffs for one table layout and dialect. It holds no
// mutable state and may be shared.
type Compiler struct {
	d      dialect.Dialect
	layout *column.Layout
	strict bool
}

// New returns a Compiler. In strict mode keys missing from the layout's type
// map fail with docerr.ErrUnsupportedField.
func New(d dialect.Dialect, layout *column.Layout, strict bool) *Compiler {
	return &Compiler{d: d, layout: layout, strict: strict}
}

// Assignment is one "column = expression" of an UPDATE statement.
type Assignment struct {
	Column column.Column
	Expr   sqlb.Fragment
}

// Assignments compiles a document diff into column assignments. Keys with a
// dedicated column get their own assignment; all other keys are combined into
// a single assignment of the residual column, which is NULL when it ends up
// empty.
func (c *Compiler) Assignments(d *state.StateDiff) ([]Assignment, error) {
	var out []Assignment
	residual := state.NewDiff()
	for _, key := range d.Keys() {
		u := d.Get(key)
		if state.IsNOP(u) {
			continue
		}
		col, err := c.layout.Resolve(key, c.strict)
		if err != nil {
			return nil, err
		}
		if col.IsResidual() {
			residual.Set(key, u)
			continue
		}
		expr, err := c.Compile(sqlb.Raw(c.d.Quote(col.Name)), col.Type, c.layout.Types().Child(key), key, u)
		if err != nil {
			return nil, err
		}
		out = append(out, Assignment{Column: col, Expr: expr})
	}
	if residual.Len() > 0 {
		col := c.layout.Residual()
		target := sqlb.Sprintf("COALESCE(%s, %s)", sqlb.Raw(c.d.Quote(col.Name)), c.d.EmptyJSON(false))
		expr, err := c.stateDiff(target, c.layout.Types(), "", residual)
		if err != nil {
			return nil, err
		}
		// a residual emptied by unsets is stored as NULL, like one never set
		expr = sqlb.Sprintf("NULLIF(%s, %s)", expr, c.d.EmptyJSON(false))
		out = append(out, Assignment{Column: col, Expr: expr})
	}
	return out, nil
}

// Compile returns the expression giving the new value of target, a column
// or JSON sub-document of physical type typ declared by node at path.
func (c *Compiler) Compile(target sqlb.Fragment, typ column.PhysicalType, node *schema.TypeMap, path string, u state.Update) (sqlb.Fragment, error) {
	if typ == column.TypeJSON {
		return c.json(target, node, path, u)
	}
	switch x := u.(type) {
	case nil:
		return target, nil
	case state.Delta:
		p, err := deltaParam(typ, x, path)
		if err != nil {
			return sqlb.Fragment{}, err
		}
		return sqlb.Sprintf("COALESCE(%s, 0) + %s", target, c.d.Bind(p)), nil
	case *state.ListDiff:
		if !typ.IsArray() {
			return sqlb.Fragment{}, shape(path, "list diff on %s column", typ)
		}
		return c.arrayDiff(target, typ, node, path, x)
	case *state.StateDiff:
		return sqlb.Fragment{}, shape(path, "state diff on %s column", typ)
	case state.Value:
		if err := node.ValidateValue(x, path); err != nil {
			return sqlb.Fragment{}, err
		}
		p, err := sqlb.Typed(typ, x)
		if err != nil {
			return sqlb.Fragment{}, docerr.AtPath(docerr.ErrTypeMismatch, path, "%v", err)
		}
		return c.d.Bind(p), nil
	}
	if state.IsUnset(u) {
		return sqlb.Raw("NULL"), nil
	}
	if state.IsNOP(u) {
		return target, nil
	}
	return sqlb.Fragment{}, shape(path, "unexpected update %T", u)
}

// json compiles an update of a JSON document.
func (c *Compiler) json(target sqlb.Fragment, node *schema.TypeMap, path string, u state.Update) (sqlb.Fragment, error) {
	switch x := u.(type) {
	case *state.StateDiff:
		return c.stateDiff(target, node, path, x)
	case *state.ListDiff:
		return c.listDiff(target, node, path, x)
	case state.Delta:
		return c.delta(target, node, path, x)
	case state.Value:
		return c.jsonValue(node, path, x)
	}
	if state.IsNOP(u) {
		return target, nil
	}
	return sqlb.Fragment{}, shape(path, "unexpected update %T", u)
}

// stateDiff wraps target once per nested entry, then applies the plain sets
// as one merge and the unsets as one key removal.
func (c *Compiler) stateDiff(target sqlb.Fragment, node *schema.TypeMap, path string, d *state.StateDiff) (sqlb.Fragment, error) {
	if node.Type() != schema.TypeObject {
		return sqlb.Fragment{}, shape(path, "state diff on %s", node.Type())
	}
	expr := target
	sets := state.New()
	var unsets []string
	for _, key := range d.Keys() {
		u := d.Get(key)
		p := join(path, key)
		child := node.Child(key)
		if child == nil && c.strict {
			return sqlb.Fragment{}, docerr.AtPath(docerr.ErrUnsupportedField, p, "not declared")
		}
		switch x := u.(type) {
		case *state.StateDiff, *state.ListDiff, state.Delta:
			if state.IsNOP(u) {
				continue
			}
			if child == nil {
				return sqlb.Fragment{}, docerr.AtPath(docerr.ErrUnknownPath, p, "no declared type for %T", u)
			}
			sub := c.d.JSONGet(target, dialect.Key(key))
			switch x.(type) {
			case *state.StateDiff:
				sub = sqlb.Sprintf("COALESCE(%s, %s)", sub, c.d.EmptyJSON(false))
			case *state.ListDiff:
				sub = sqlb.Sprintf("COALESCE(%s, %s)", sub, c.d.EmptyJSON(true))
			}
			value, err := c.json(sub, child, p, u)
			if err != nil {
				return sqlb.Fragment{}, err
			}
			expr = c.d.JSONSet(expr, dialect.Key(key), value)
		case state.Value:
			// undeclared keys only reach here when not strict and are stored as is
			if child != nil {
				if err := child.ValidateValue(x, p); err != nil {
					return sqlb.Fragment{}, err
				}
			}
			sets.Set(key, x)
		default:
			switch {
			case state.IsUnset(u):
				unsets = append(unsets, key)
			case state.IsNOP(u):
			default:
				return sqlb.Fragment{}, shape(p, "unexpected update %T", u)
			}
		}
	}
	if sets.Len() > 0 {
		var err error
		if expr, err = c.d.JSONMerge(expr, sets); err != nil {
			return sqlb.Fragment{}, err
		}
	}
	if len(unsets) > 0 {
		expr = c.d.JSONRemove(expr, unsets)
	}
	return expr, nil
}

// listDiff applies positional updates as "set index" wraps, then the
// appends element by element.
func (c *Compiler) listDiff(target sqlb.Fragment, node *schema.TypeMap, path string, d *state.ListDiff) (sqlb.Fragment, error) {
	if node.Type() != schema.TypeList {
		return sqlb.Fragment{}, shape(path, "list diff on %s", node.Type())
	}
	elem := node.Elem()
	expr := target
	for i, u := range d.Diff {
		p := join(path, fmt.Sprint(i))
		switch x := u.(type) {
		case *state.StateDiff:
			if x.Len() == 0 {
				continue
			}
			sub := sqlb.Sprintf("COALESCE(%s, %s)", c.d.JSONGet(target, dialect.Index(i)), c.d.EmptyJSON(false))
			value, err := c.stateDiff(sub, elem, p, x)
			if err != nil {
				return sqlb.Fragment{}, err
			}
			expr = c.d.JSONSet(expr, dialect.Index(i), value)
		case state.Value:
			value, err := c.jsonValue(elem, p, x)
			if err != nil {
				return sqlb.Fragment{}, err
			}
			expr = c.d.JSONSet(expr, dialect.Index(i), value)
		default:
			if state.IsNOP(u) {
				continue
			}
			return sqlb.Fragment{}, shape(p, "%T inside a list", u)
		}
	}
	for i, v := range d.RPush {
		value, err := c.jsonValue(elem, join(path, fmt.Sprintf("+%d", i)), v)
		if err != nil {
			return sqlb.Fragment{}, err
		}
		expr = c.d.JSONAppend(expr, value)
	}
	return expr, nil
}

// arrayDiff updates an array column. Appends go through the dialect's
// ArrayAppend. Native arrays reject positional updates; without native arrays
// the column is a JSON list and takes them like any other list.
func (c *Compiler) arrayDiff(target sqlb.Fragment, typ column.PhysicalType, node *schema.TypeMap, path string, d *state.ListDiff) (sqlb.Fragment, error) {
	for i, u := range d.Diff {
		if state.IsNOP(u) {
			continue
		}
		if c.d.NativeArrays() {
			return sqlb.Fragment{}, shape(join(path, fmt.Sprint(i)), "positional update of a %s column", typ)
		}
		return c.listDiff(sqlb.Sprintf("COALESCE(%s, %s)", target, c.d.EmptyJSON(true)), node, path, d)
	}
	if len(d.RPush) == 0 {
		return target, nil
	}
	p, err := sqlb.Typed(typ, state.Array(d.RPush))
	if err != nil {
		return sqlb.Fragment{}, docerr.AtPath(docerr.ErrTypeMismatch, path, "%v", err)
	}
	return c.d.ArrayAppend(target, p)
}

func (c *Compiler) delta(target sqlb.Fragment, node *schema.TypeMap, path string, d state.Delta) (sqlb.Fragment, error) {
	var typ column.PhysicalType
	switch node.Type() {
	case schema.TypeInteger:
		typ = column.TypeInt64
	case schema.TypeFloat:
		typ = column.TypeFloat64
	default:
		return sqlb.Fragment{}, shape(path, "delta on %s", node.Type())
	}
	p, err := deltaParam(typ, d, path)
	if err != nil {
		return sqlb.Fragment{}, err
	}
	return c.d.JSONAdd(target, p), nil
}

// jsonValue binds a value stored inside a JSON document.
func (c *Compiler) jsonValue(node *schema.TypeMap, path string, v state.Value) (sqlb.Fragment, error) {
	if err := node.ValidateValue(v, path); err != nil {
		return sqlb.Fragment{}, err
	}
	p, err := sqlb.JSONParam(v)
	if err != nil {
		return sqlb.Fragment{}, err
	}
	return c.d.Bind(p), nil
}

func deltaParam(typ column.PhysicalType, d state.Delta, path string) (sqlb.Param, error) {
	switch n := d.Value().(type) {
	case state.Int:
		switch typ {
		case column.TypeInt64:
			return sqlb.Param{Type: typ, Value: int64(n)}, nil
		case column.TypeFloat64:
			return sqlb.Param{Type: typ, Value: float64(n)}, nil
		}
	case state.Float:
		if typ == column.TypeFloat64 {
			return sqlb.Param{Type: typ, Value: float64(n)}, nil
		}
		return sqlb.Param{}, docerr.AtPath(docerr.ErrTypeMismatch, path, "float delta on %s", typ)
	}
	return sqlb.Param{}, shape(path, "delta on %s", typ)
}

func shape(path, format string, args ...any) error {
	return docerr.AtPath(docerr.ErrUnsupportedDiffShape, path, format, args...)
}

func join(path, seg string) string {
	if path == "" {
		return seg
	}
	return path + schema.Separator + seg
}
