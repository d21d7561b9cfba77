// Package schema provides the declared-type tree used to interpret stored
// documents, and the content-model providers it is built from.
package schema

import (
	"fmt"
	"sort"
	"strings"
)

// Type is the declared type of a field path.
type Type int

const (
	TypeUnknown Type = iota
	TypeString
	TypeInteger
	TypeFloat
	TypeTimestamp
	TypeBoolean
	TypeObject
	TypeList
)

func (t Type) String() string {
	switch t {
	case TypeString:
		return "string"
	case TypeInteger:
		return "integer"
	case TypeFloat:
		return "float"
	case TypeTimestamp:
		return "timestamp"
	case TypeBoolean:
		return "boolean"
	case TypeObject:
		return "object"
	case TypeList:
		return "list"
	default:
		return "unknown"
	}
}

// IsScalar reports whether t is a leaf type.
func (t Type) IsScalar() bool {
	return t >= TypeString && t <= TypeBoolean
}

// Element is the path segment standing for "any element" of a list.
const Element = "*"

// Separator joins path segments.
const Separator = "/"

// TypeMap is an immutable tree of declared types keyed by path segment.
// List nodes have a single child under Element.
type TypeMap struct {
	typ      Type
	children map[string]*TypeMap
}

// Field declares the type of one path, e.g. {"files/*/length", TypeInteger}.
type Field struct {
	Path string
	Type Type
}

// Build assembles a TypeMap from field declarations. Intermediate nodes are
// implied: a node followed by Element is a list, any other node is an object.
func Build(fields []Field) (*TypeMap, error) {
	root := &TypeMap{typ: TypeObject, children: map[string]*TypeMap{}}
	for _, f := range fields {
		if err := root.add(SplitPath(f.Path), f.Type, f.Path); err != nil {
			return nil, err
		}
	}
	return root, nil
}

// MustBuild is Build that panics, for static declarations.
func MustBuild(fields ...Field) *TypeMap {
	m, err := Build(fields)
	if err != nil {
		panic(err)
	}
	return m
}

func (m *TypeMap) add(segs []string, t Type, full string) error {
	if len(segs) == 0 {
		return fmt.Errorf("schema: empty field path")
	}
	node := m
	for i, seg := range segs {
		if seg == "" {
			return fmt.Errorf("schema: empty segment in %q", full)
		}
		if strings.ContainsRune(seg, '"') {
			return fmt.Errorf("schema: quote in segment of %q", full)
		}
		want := TypeObject
		if seg == Element {
			want = TypeList
		}
		switch node.typ {
		case TypeUnknown:
			node.typ = want
		case want:
		default:
			return fmt.Errorf("schema: %q conflicts with %s at %q", full, node.typ, JoinPath(segs[:i]))
		}
		child, ok := node.children[seg]
		if !ok {
			if node.children == nil {
				node.children = map[string]*TypeMap{}
			}
			child = &TypeMap{}
			node.children[seg] = child
		}
		node = child
	}
	switch {
	case node.typ == TypeUnknown || node.typ == t:
		node.typ = t
	default:
		return fmt.Errorf("schema: %q declared as both %s and %s", full, node.typ, t)
	}
	return nil
}

// Scalar returns a detached leaf node of type t.
func Scalar(t Type) *TypeMap {
	return &TypeMap{typ: t}
}

// ListOf returns a detached list node whose elements are leaves of type t.
func ListOf(t Type) *TypeMap {
	return &TypeMap{typ: TypeList, children: map[string]*TypeMap{Element: Scalar(t)}}
}

// Type returns the declared type of the node, TypeUnknown for a nil node.
func (m *TypeMap) Type() Type {
	if m == nil {
		return TypeUnknown
	}
	return m.typ
}

// Child returns the node under seg, or nil.
func (m *TypeMap) Child(seg string) *TypeMap {
	if m == nil {
		return nil
	}
	return m.children[seg]
}

// Elem returns the element node of a list, or nil.
func (m *TypeMap) Elem() *TypeMap {
	return m.Child(Element)
}

// Node walks segs from m. Numeric segments under a list node address the
// element node.
func (m *TypeMap) Node(segs ...string) *TypeMap {
	node := m
	for _, seg := range segs {
		if node.Type() == TypeList && IsIndex(seg) {
			seg = Element
		}
		node = node.Child(seg)
		if node == nil {
			return nil
		}
	}
	return node
}

// Keys returns the child keys of an object node, sorted.
func (m *TypeMap) Keys() []string {
	if m == nil || m.typ != TypeObject {
		return nil
	}
	keys := make([]string, 0, len(m.children))
	for k := range m.children {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// IsScalarList reports whether m is a list of scalar leaves.
func (m *TypeMap) IsScalarList() bool {
	return m.Type() == TypeList && m.Elem().Type().IsScalar()
}

// SplitPath splits a slash separated path.
func SplitPath(path string) []string {
	if path == "" {
		return nil
	}
	return strings.Split(path, Separator)
}

// JoinPath joins segments with Separator.
func JoinPath(segs []string) string {
	return strings.Join(segs, Separator)
}

// IsIndex reports whether seg is a list index.
func IsIndex(seg string) bool {
	if seg == "" {
		return false
	}
	for _, c := range seg {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}
