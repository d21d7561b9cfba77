// Package query compiles predicate, projection and ordering trees over
// document paths into SQL for a table layout.
//
// Paths are slash separated keys, e.g. "files/0/name"; "a[0]/b" is accepted
// as a synonym of "a/0/b". A "*" segment matches any element of a list.
package query

import (
	"strings"

	"github.com/stevemurr/docstore/state"
)

// Op is a comparison operator.
type Op int

const (
	Eq Op = iota
	Ne
	Lt
	Lte
	Gt
	Gte
	In
	NotIn
	Like
	NotLike
	ILike
	NotILike
	Between
	NotBetween
	// StartsWith matches a path prefix: the value itself or anything below it.
	StartsWith
)

var opNames = [...]string{
	Eq: "=", Ne: "<>", Lt: "<", Lte: "<=", Gt: ">", Gte: ">=",
	In: "IN", NotIn: "NOT IN", Like: "LIKE", NotLike: "NOT LIKE",
	ILike: "ILIKE", NotILike: "NOT ILIKE", Between: "BETWEEN", NotBetween: "NOT BETWEEN",
	StartsWith: "STARTSWITH",
}

func (o Op) String() string {
	if o < 0 || int(o) >= len(opNames) {
		return "?op"
	}
	return opNames[o]
}

// Negate returns the operator matching exactly the values o does not, and
// false for operators without one.
func (o Op) Negate() (Op, bool) {
	switch o {
	case Eq:
		return Ne, true
	case Ne:
		return Eq, true
	case Lt:
		return Gte, true
	case Lte:
		return Gt, true
	case Gt:
		return Lte, true
	case Gte:
		return Lt, true
	case In:
		return NotIn, true
	case NotIn:
		return In, true
	case Like:
		return NotLike, true
	case NotLike:
		return Like, true
	case ILike:
		return NotILike, true
	case NotILike:
		return ILike, true
	case Between:
		return NotBetween, true
	case NotBetween:
		return Between, true
	}
	return o, false
}

// arity returns the number of values o takes, -1 for any.
func (o Op) arity() int {
	switch o {
	case In, NotIn:
		return -1
	case Between, NotBetween:
		return 2
	}
	return 1
}

// Pseudo paths, resolved by Prepare or lowered onto system columns.
const (
	// PathPseudo compares the document path, resolved to an id.
	PathPseudo = "@path"
	// AncestorPseudo matches documents having the id among their ancestors.
	AncestorPseudo = "@ancestorId"
	// MixinPseudo matches documents whose type declares a facet.
	MixinPseudo = "@mixinType"
)

// Predicate is a node of a predicate tree: Comparison, IsNull, IsNotNull,
// And, Or, Not, Fulltext or Const.
type Predicate interface {
	predicate()
}

// Comparison compares the value at Path with Values.
type Comparison struct {
	Path   string
	Op     Op
	Values []state.Value
}

// IsNull matches documents without a value at Path.
type IsNull struct {
	Path string
}

// IsNotNull matches documents with a value at Path.
type IsNotNull struct {
	Path string
}

// And matches when every operand matches; an empty And is true.
type And []Predicate

// Or matches when any operand matches; an empty Or is false.
type Or []Predicate

// Not negates P.
type Not struct {
	P Predicate
}

// Fulltext is a full-text match of Text, against Field or the whole document
// when Field is empty. It is lowered by a FulltextLowerer.
type Fulltext struct {
	Field string
	Text  string
}

// Const is a constant predicate.
type Const bool

const (
	True  Const = true
	False Const = false
)

func (Comparison) predicate() {}
func (IsNull) predicate()     {}
func (IsNotNull) predicate()  {}
func (And) predicate()        {}
func (Or) predicate()         {}
func (Not) predicate()        {}
func (Fulltext) predicate()   {}
func (Const) predicate()      {}

// Compare returns a Comparison.
func Compare(path string, op Op, vs ...state.Value) Comparison {
	return Comparison{Path: path, Op: op, Values: vs}
}

// Equal is Compare(path, Eq, v).
func Equal(path string, v state.Value) Comparison {
	return Compare(path, Eq, v)
}

// Canonical rewrites bracketed indexes as path segments: "a[0]/b" becomes
// "a/0/b" and "a[*]" becomes "a/*".
func Canonical(path string) string {
	if !strings.ContainsRune(path, '[') {
		return path
	}
	var b strings.Builder
	for i := 0; i < len(path); i++ {
		switch c := path[i]; c {
		case '[':
			b.WriteByte('/')
		case ']':
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

// Order is one ORDER BY term.
type Order struct {
	Path string
	Desc bool
}

// Query selects documents, or the values at Select paths, matching Where.
type Query struct {
	// Select lists the projected paths; empty selects whole documents.
	Select  []string
	Where   Predicate
	OrderBy []Order
	// Limit of 0 means no limit.
	Limit  int64
	Offset int64
}
