// Package sqlb builds SQL text together with its ordered parameters.
//
// A Fragment pairs text containing '?' placeholders with the parameters
// those placeholders bind, in order. Fragments compose by value, so every
// sub-expression carries its own parameters and no placeholder counter is
// shared between builders. Dialects rewrite '?' into their own placeholder
// syntax when the final statement is rendered; generated text therefore never
// contains a literal '?' other than a placeholder.
package sqlb

import (
	"fmt"
	"strings"

	"github.com/stevemurr/docstore/codec"
	"github.com/stevemurr/docstore/column"
	"github.com/stevemurr/docstore/docerr"
	"github.com/stevemurr/docstore/state"
)

// Param is a bound parameter: its physical type and its Go value.
//
// Values are string, int64, float64 or bool for scalars (timestamps are
// int64 milliseconds), the matching slice for arrays, and JSON text (string)
// for TypeJSON.
type Param struct {
	Type  column.PhysicalType
	Value any
}

func (p Param) String() string {
	return fmt.Sprintf("%s(%v)", p.Type, p.Value)
}

// Fragment is SQL text with the parameters bound by its placeholders.
type Fragment struct {
	SQL  string
	Args []Param
}

// Raw returns a fragment without parameters.
func Raw(sql string) Fragment {
	return Fragment{SQL: sql}
}

// Bind returns a single placeholder bound to p.
func Bind(p Param) Fragment {
	return Fragment{SQL: "?", Args: []Param{p}}
}

// Sprintf substitutes the text of parts for the %s verbs of format and
// concatenates their parameters in argument order. format must use plain %s
// verbs, in order.
func Sprintf(format string, parts ...Fragment) Fragment {
	texts := make([]any, len(parts))
	var args []Param
	for i, p := range parts {
		texts[i] = p.SQL
		args = append(args, p.Args...)
	}
	return Fragment{SQL: fmt.Sprintf(format, texts...), Args: args}
}

// Join concatenates parts separated by sep.
func Join(sep string, parts []Fragment) Fragment {
	texts := make([]string, len(parts))
	var args []Param
	for i, p := range parts {
		texts[i] = p.SQL
		args = append(args, p.Args...)
	}
	return Fragment{SQL: strings.Join(texts, sep), Args: args}
}

// Paren wraps f in parentheses.
func Paren(f Fragment) Fragment {
	return Fragment{SQL: "(" + f.SQL + ")", Args: f.Args}
}

// IsZero reports whether f is empty.
func (f Fragment) IsZero() bool {
	return f.SQL == "" && len(f.Args) == 0
}

// String returns the text, for debugging.
func (f Fragment) String() string {
	return f.SQL
}

// ValueParam converts a document value into a parameter. Nested states and
// lists become JSON text.
func ValueParam(v state.Value) (Param, error) {
	switch x := v.(type) {
	case state.String:
		return Param{column.TypeString, string(x)}, nil
	case state.Int:
		return Param{column.TypeInt64, int64(x)}, nil
	case state.Float:
		return Param{column.TypeFloat64, float64(x)}, nil
	case state.Timestamp:
		return Param{column.TypeTimestamp, int64(x)}, nil
	case state.Bool:
		return Param{column.TypeBool, bool(x)}, nil
	case state.Array:
		return ArrayParam(x)
	case state.List, *state.State:
		return JSONParam(v)
	}
	return Param{}, fmt.Errorf("%w: %T", docerr.ErrUnsupportedValue, v)
}

// JSONParam encodes v as a TypeJSON parameter.
func JSONParam(v state.Value) (Param, error) {
	text, err := codec.EncodeValue(v)
	if err != nil {
		return Param{}, err
	}
	return Param{column.TypeJSON, text}, nil
}

// ArrayParam converts a scalar array into a typed slice parameter.
func ArrayParam(a state.Array) (Param, error) {
	return arrayParam(column.Of(a), a)
}

func arrayParam(typ column.PhysicalType, a state.Array) (Param, error) {
	if !typ.Accepts(a) {
		return Param{}, fmt.Errorf("%w: array is not homogeneous", docerr.ErrTypeMismatch)
	}
	switch typ.Elem() {
	case column.TypeString:
		out := make([]string, len(a))
		for i, e := range a {
			out[i] = string(e.(state.String))
		}
		return Param{typ, out}, nil
	case column.TypeInt64, column.TypeTimestamp:
		out := make([]int64, len(a))
		for i, e := range a {
			switch n := e.(type) {
			case state.Int:
				out[i] = int64(n)
			case state.Timestamp:
				out[i] = int64(n)
			}
		}
		return Param{typ, out}, nil
	case column.TypeFloat64:
		out := make([]float64, len(a))
		for i, e := range a {
			out[i] = float64(e.(state.Float))
		}
		return Param{typ, out}, nil
	case column.TypeBool:
		out := make([]bool, len(a))
		for i, e := range a {
			out[i] = bool(e.(state.Bool))
		}
		return Param{typ, out}, nil
	}
	return Param{}, fmt.Errorf("%w: array of %s", docerr.ErrUnsupportedValue, typ)
}

// Typed converts v into a parameter of physical type t, failing with
// docerr.ErrTypeMismatch when v does not fit.
func Typed(t column.PhysicalType, v state.Value) (Param, error) {
	if v == nil {
		return Param{}, fmt.Errorf("%w: null value for %s", docerr.ErrUnsupportedValue, t)
	}
	if t == column.TypeJSON {
		return JSONParam(v)
	}
	if !t.Accepts(v) {
		return Param{}, fmt.Errorf("%w: %s value for %s", docerr.ErrTypeMismatch, v.Kind(), t)
	}
	if a, ok := v.(state.Array); ok {
		return arrayParam(t, a)
	}
	return ValueParam(v)
}
