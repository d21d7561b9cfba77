package column

import (
	"fmt"
	"sort"
	"strings"

	"github.com/stevemurr/docstore/docerr"
	"github.com/stevemurr/docstore/schema"
)

// Keys of the system fields every document carries.
const (
	KeyID          = "id"
	KeyParentID    = "parentId"
	KeyName        = "name"
	KeyAncestorIDs = "ancestorIds"
	KeyPrimaryType = "primaryType"
	KeyMixinTypes  = "mixinTypes"
)

// ResidualName is the physical name of the residual JSON column.
const ResidualName = "data"

// SystemFields declares the types of the system keys.
func SystemFields() []schema.Field {
	return []schema.Field{
		{Path: KeyID, Type: schema.TypeString},
		{Path: KeyParentID, Type: schema.TypeString},
		{Path: KeyName, Type: schema.TypeString},
		{Path: KeyAncestorIDs + "/" + schema.Element, Type: schema.TypeString},
		{Path: KeyPrimaryType, Type: schema.TypeString},
		{Path: KeyMixinTypes + "/" + schema.Element, Type: schema.TypeString},
	}
}

// Column is one physical column of the document table.
type Column struct {
	// Key is the document key stored in the column; empty for the residual column.
	Key  string
	Name string
	Type PhysicalType
	// PrimaryKey marks the id column.
	PrimaryKey bool
	// References marks the parent id column, a foreign key to the id column
	// with cascading delete.
	References bool
}

// IsResidual reports whether c is the residual JSON column.
func (c Column) IsResidual() bool {
	return c.Type == TypeJSON
}

// Policy chooses which declared keys get a dedicated column.
type Policy interface {
	// Promote returns the column name for key, or false to keep the key in the
	// residual column.
	Promote(key string, node *schema.TypeMap) (name string, ok bool)
}

// PolicyFunc adapts a function to Policy.
type PolicyFunc func(key string, node *schema.TypeMap) (string, bool)

func (f PolicyFunc) Promote(key string, node *schema.TypeMap) (string, bool) {
	return f(key, node)
}

// PromoteKeys promotes exactly the listed keys.
type PromoteKeys []string

func (p PromoteKeys) Promote(key string, _ *schema.TypeMap) (string, bool) {
	for _, k := range p {
		if k == key {
			return NameFor(key), true
		}
	}
	return "", false
}

// NameFor derives a column name from a key: lower case, with every character
// outside [a-z0-9_] replaced by '_'.
func NameFor(key string) string {
	var b strings.Builder
	for i, r := range key {
		switch {
		case r >= 'A' && r <= 'Z':
			if i > 0 {
				b.WriteByte('_')
			}
			b.WriteRune(r + 'a' - 'A')
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}

// Layout is the immutable column set of a document table together with the
// type map of the documents it stores. It is safe for concurrent use.
type Layout struct {
	columns  []Column
	byKey    map[string]int
	id       int
	residual int
	parent   int
	types    *schema.TypeMap
}

// Build derives a Layout from the declared types: the system columns, one
// column per key promoted by policy, and the residual column. Keys whose type
// has nested structure are never promoted.
func Build(types *schema.TypeMap, policy Policy) (*Layout, error) {
	cols := []Column{
		{Key: KeyID, Name: "id", Type: TypeString, PrimaryKey: true},
		{Key: KeyParentID, Name: "parent_id", Type: TypeString, References: true},
		{Key: KeyName, Name: "name", Type: TypeString},
		{Key: KeyAncestorIDs, Name: "ancestor_ids", Type: TypeStringArray},
		{Key: KeyPrimaryType, Name: "primary_type", Type: TypeString},
		{Key: KeyMixinTypes, Name: "mixin_types", Type: TypeStringArray},
	}
	system := make(map[string]bool, len(cols))
	for _, c := range cols {
		system[c.Key] = true
	}
	for _, key := range types.Keys() {
		if system[key] || policy == nil {
			continue
		}
		node := types.Child(key)
		name, ok := policy.Promote(key, node)
		if !ok {
			continue
		}
		typ, ok := FromSchema(node)
		if !ok {
			continue
		}
		cols = append(cols, Column{Key: key, Name: name, Type: typ})
	}
	cols = append(cols, Column{Name: ResidualName, Type: TypeJSON})
	return NewLayout(types, cols)
}

// NewLayout validates cols and returns the Layout. Exactly one column must be
// the primary key and exactly one must have TypeJSON.
func NewLayout(types *schema.TypeMap, cols []Column) (*Layout, error) {
	l := &Layout{
		columns:  append([]Column(nil), cols...),
		byKey:    make(map[string]int, len(cols)),
		id:       -1,
		residual: -1,
		parent:   -1,
		types:    types,
	}
	names := make(map[string]bool, len(cols))
	for i, c := range l.columns {
		if c.Name == "" {
			return nil, fmt.Errorf("column: column %d has no name", i)
		}
		if names[c.Name] {
			return nil, fmt.Errorf("column: duplicate column name %q", c.Name)
		}
		names[c.Name] = true
		switch {
		case c.Type == TypeJSON:
			if l.residual >= 0 {
				return nil, fmt.Errorf("column: more than one json column (%q, %q)", l.columns[l.residual].Name, c.Name)
			}
			l.residual = i
			continue
		case c.Key == "":
			return nil, fmt.Errorf("column: column %q has no key", c.Name)
		}
		if _, dup := l.byKey[c.Key]; dup {
			return nil, fmt.Errorf("column: key %q mapped twice", c.Key)
		}
		if types.Child(c.Key) == nil {
			return nil, fmt.Errorf("column: key %q is not declared", c.Key)
		}
		l.byKey[c.Key] = i
		if c.PrimaryKey {
			if l.id >= 0 {
				return nil, fmt.Errorf("column: more than one primary key")
			}
			l.id = i
		}
		if c.References {
			l.parent = i
		}
	}
	if l.id < 0 {
		return nil, fmt.Errorf("column: no primary key column")
	}
	if l.residual < 0 {
		return nil, fmt.Errorf("column: no residual json column")
	}
	return l, nil
}

// Columns returns all columns; the order is the table column order.
func (l *Layout) Columns() []Column {
	return append([]Column(nil), l.columns...)
}

// Types returns the declared type map.
func (l *Layout) Types() *schema.TypeMap {
	return l.types
}

// ID returns the primary key column.
func (l *Layout) ID() Column {
	return l.columns[l.id]
}

// Residual returns the residual JSON column.
func (l *Layout) Residual() Column {
	return l.columns[l.residual]
}

// Parent returns the parent id column, if the layout has one.
func (l *Layout) Parent() (Column, bool) {
	if l.parent < 0 {
		return Column{}, false
	}
	return l.columns[l.parent], true
}

// Dedicated returns the dedicated column of key.
func (l *Layout) Dedicated(key string) (Column, bool) {
	i, ok := l.byKey[key]
	if !ok {
		return Column{}, false
	}
	return l.columns[i], true
}

// Lookup returns the column holding key: its dedicated column, or the
// residual column for declared keys that are not promoted. Undeclared keys
// are not found.
func (l *Layout) Lookup(key string) (Column, bool) {
	if c, ok := l.Dedicated(key); ok {
		return c, true
	}
	if l.types.Child(key) != nil {
		return l.Residual(), true
	}
	return Column{}, false
}

// Resolve is Lookup with validation: in strict mode an undeclared key fails
// with docerr.ErrUnsupportedField, otherwise it falls back to the residual
// column. Keys holding '"' cannot be addressed by a JSON path and fail too.
func (l *Layout) Resolve(key string, strict bool) (Column, error) {
	if c, ok := l.Lookup(key); ok {
		return c, nil
	}
	if strict {
		return Column{}, docerr.AtPath(docerr.ErrUnsupportedField, key, "no column")
	}
	if strings.ContainsRune(key, '"') {
		return Column{}, docerr.AtPath(docerr.ErrUnsupportedField, key, "quote in key")
	}
	return l.Residual(), nil
}

// PromotedKeys returns the keys with a dedicated column, sorted.
func (l *Layout) PromotedKeys() []string {
	keys := make([]string, 0, len(l.byKey))
	for k := range l.byKey {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
