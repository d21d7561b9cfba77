// Package state holds the in-memory document model: State values and the
// diffs used to update them incrementally.
package state

import (
	"fmt"
	"time"
)

// Kind identifies the variant held by a Value.
type Kind int

const (
	KindBool Kind = iota + 1
	KindInt
	KindFloat
	KindTimestamp
	KindString
	KindArray
	KindList
	KindState
)

func (k Kind) String() string {
	switch k {
	case KindBool:
		return "bool"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindTimestamp:
		return "timestamp"
	case KindString:
		return "string"
	case KindArray:
		return "array"
	case KindList:
		return "list"
	case KindState:
		return "state"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// IsScalar reports whether k is one of the scalar kinds.
func (k Kind) IsScalar() bool {
	return k >= KindBool && k <= KindString
}

// Value is a non-null document value. The set of implementations is closed:
// Bool, Int, Float, Timestamp, String, Array, List and *State.
type Value interface {
	Kind() Kind
	value()
}

type (
	Bool   bool
	Int    int64
	Float  float64
	String string
	// Timestamp is a point in time in milliseconds since the Unix epoch.
	Timestamp int64
	// Array is a homogeneous array of scalar values.
	Array []Value
	// List is an ordered list of nested states.
	List []*State
)

func (Bool) Kind() Kind      { return KindBool }
func (Int) Kind() Kind       { return KindInt }
func (Float) Kind() Kind     { return KindFloat }
func (Timestamp) Kind() Kind { return KindTimestamp }
func (String) Kind() Kind    { return KindString }
func (Array) Kind() Kind     { return KindArray }
func (List) Kind() Kind      { return KindList }

func (Bool) value()      {}
func (Int) value()       {}
func (Float) value()     {}
func (Timestamp) value() {}
func (String) value()    {}
func (Array) value()     {}
func (List) value()      {}

// TimestampOf converts t to millisecond precision.
func TimestampOf(t time.Time) Timestamp {
	return Timestamp(t.UnixMilli())
}

// Time returns ts as a UTC time.
func (ts Timestamp) Time() time.Time {
	return time.UnixMilli(int64(ts)).UTC()
}

// Strings builds an Array of strings.
func Strings(ss ...string) Array {
	a := make(Array, len(ss))
	for i, s := range ss {
		a[i] = String(s)
	}
	return a
}

// Ints builds an Array of integers.
func Ints(is ...int64) Array {
	a := make(Array, len(is))
	for i, n := range is {
		a[i] = Int(n)
	}
	return a
}

// ElemKind returns the kind of the array elements, or 0 for an empty array.
func (a Array) ElemKind() Kind {
	if len(a) == 0 {
		return 0
	}
	return a[0].Kind()
}

// StringSlice returns the elements of an array of strings.
func (a Array) StringSlice() []string {
	out := make([]string, 0, len(a))
	for _, v := range a {
		if s, ok := v.(String); ok {
			out = append(out, string(s))
		}
	}
	return out
}

// IsNull reports whether v is stored as absence: nil or an empty container.
func IsNull(v Value) bool {
	switch x := v.(type) {
	case nil:
		return true
	case Array:
		return len(x) == 0
	case List:
		return len(x) == 0
	case *State:
		return x == nil || x.Len() == 0
	}
	return false
}

// Equal reports whether a and b hold the same value. Map key order is ignored.
func Equal(a, b Value) bool {
	if IsNull(a) || IsNull(b) {
		return IsNull(a) && IsNull(b)
	}
	switch x := a.(type) {
	case Array:
		y, ok := b.(Array)
		if !ok || len(x) != len(y) {
			return false
		}
		for i := range x {
			if !Equal(x[i], y[i]) {
				return false
			}
		}
		return true
	case List:
		y, ok := b.(List)
		if !ok || len(x) != len(y) {
			return false
		}
		for i := range x {
			if !x[i].Equal(y[i]) {
				return false
			}
		}
		return true
	case *State:
		y, ok := b.(*State)
		return ok && x.Equal(y)
	default:
		return a == b
	}
}
