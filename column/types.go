// Package column maps document keys to the physical columns that store them.
package column

import (
	"github.com/stevemurr/docstore/schema"
	"github.com/stevemurr/docstore/state"
)

// PhysicalType is the storage type of a column or of a bound parameter.
type PhysicalType int

const (
	TypeString PhysicalType = iota + 1
	TypeInt64
	TypeFloat64
	// TypeTimestamp is stored as int64 milliseconds since the epoch.
	TypeTimestamp
	TypeBool
	// TypeJSON is a JSON document; the residual column has this type.
	TypeJSON
	TypeStringArray
	TypeInt64Array
	TypeFloat64Array
	TypeTimestampArray
	TypeBoolArray
)

func (t PhysicalType) String() string {
	switch t {
	case TypeString:
		return "string"
	case TypeInt64:
		return "int64"
	case TypeFloat64:
		return "float64"
	case TypeTimestamp:
		return "timestamp"
	case TypeBool:
		return "bool"
	case TypeJSON:
		return "json"
	case TypeStringArray, TypeInt64Array, TypeFloat64Array, TypeTimestampArray, TypeBoolArray:
		return t.Elem().String() + "[]"
	}
	return "invalid"
}

// IsArray reports whether t is an array variant.
func (t PhysicalType) IsArray() bool {
	return t >= TypeStringArray && t <= TypeBoolArray
}

// Elem returns the element type of an array type, or t itself.
func (t PhysicalType) Elem() PhysicalType {
	if !t.IsArray() {
		return t
	}
	return t - TypeStringArray + TypeString
}

// ArrayOf returns the array variant of a scalar type.
func ArrayOf(t PhysicalType) PhysicalType {
	if t < TypeString || t > TypeBool {
		return 0
	}
	return t - TypeString + TypeStringArray
}

// FromSchema maps a declared type to a physical type. Objects and lists of
// objects have no dedicated physical type.
func FromSchema(node *schema.TypeMap) (PhysicalType, bool) {
	if node.IsScalarList() {
		elem, ok := scalarOf(node.Elem().Type())
		return ArrayOf(elem), ok
	}
	return scalarOf(node.Type())
}

func scalarOf(t schema.Type) (PhysicalType, bool) {
	switch t {
	case schema.TypeString:
		return TypeString, true
	case schema.TypeInteger:
		return TypeInt64, true
	case schema.TypeFloat:
		return TypeFloat64, true
	case schema.TypeTimestamp:
		return TypeTimestamp, true
	case schema.TypeBoolean:
		return TypeBool, true
	}
	return 0, false
}

// SchemaType is the declared type matching a scalar physical type.
func (t PhysicalType) SchemaType() schema.Type {
	switch t.Elem() {
	case TypeString:
		return schema.TypeString
	case TypeInt64:
		return schema.TypeInteger
	case TypeFloat64:
		return schema.TypeFloat
	case TypeTimestamp:
		return schema.TypeTimestamp
	case TypeBool:
		return schema.TypeBoolean
	case TypeJSON:
		return schema.TypeObject
	}
	return schema.TypeUnknown
}

// Of returns the physical type a value is bound with.
func Of(v state.Value) PhysicalType {
	switch x := v.(type) {
	case state.String:
		return TypeString
	case state.Int:
		return TypeInt64
	case state.Float:
		return TypeFloat64
	case state.Timestamp:
		return TypeTimestamp
	case state.Bool:
		return TypeBool
	case state.Array:
		if len(x) == 0 {
			return TypeStringArray
		}
		return ArrayOf(Of(x[0]))
	}
	return TypeJSON
}

// Accepts reports whether v can be stored in a column of type t.
func (t PhysicalType) Accepts(v state.Value) bool {
	if t == TypeJSON {
		return true
	}
	if a, ok := v.(state.Array); ok {
		if !t.IsArray() {
			return false
		}
		for _, e := range a {
			if Of(e) != t.Elem() {
				return false
			}
		}
		return true
	}
	return Of(v) == t
}
