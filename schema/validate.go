package schema

import (
	"fmt"

	"github.com/stevemurr/docstore/docerr"
	"github.com/stevemurr/docstore/state"
)

// Validate checks that every value of s is declared in m with a compatible
// type. Undeclared keys fail with docerr.ErrUnsupportedField, values of the
// wrong kind with docerr.ErrTypeMismatch.
func (m *TypeMap) Validate(s *state.State) error {
	return m.validateObject(s, "")
}

// ValidateValue checks a single value against the node at path.
func (m *TypeMap) ValidateValue(v state.Value, path string) error {
	return m.validateValue(v, path)
}

func (m *TypeMap) validateObject(s *state.State, path string) error {
	for _, key := range s.Keys() {
		p := key
		if path != "" {
			p = path + Separator + key
		}
		child := m.Child(key)
		if child == nil {
			return docerr.AtPath(docerr.ErrUnsupportedField, p, "not declared")
		}
		if err := child.validateValue(s.Get(key), p); err != nil {
			return err
		}
	}
	return nil
}

func (m *TypeMap) validateValue(v state.Value, path string) error {
	if state.IsNull(v) {
		return nil
	}
	switch x := v.(type) {
	case *state.State:
		if m.Type() != TypeObject {
			return mismatch(path, m.Type(), v)
		}
		return m.validateObject(x, path)
	case state.List:
		if m.Type() != TypeList || m.Elem().Type() != TypeObject {
			return mismatch(path, m.Type(), v)
		}
		for i, e := range x {
			if e == nil {
				return docerr.AtPath(docerr.ErrTypeMismatch, fmt.Sprintf("%s/%d", path, i), "null list element")
			}
			if err := m.Elem().validateObject(e, fmt.Sprintf("%s/%d", path, i)); err != nil {
				return err
			}
		}
		return nil
	case state.Array:
		if !m.IsScalarList() {
			return mismatch(path, m.Type(), v)
		}
		for i, e := range x {
			if err := m.Elem().validateValue(e, fmt.Sprintf("%s/%d", path, i)); err != nil {
				return err
			}
		}
		return nil
	}
	if !Accepts(m.Type(), v.Kind()) {
		return mismatch(path, m.Type(), v)
	}
	return nil
}

// Accepts reports whether a scalar of kind k may be stored under type t.
func Accepts(t Type, k state.Kind) bool {
	switch t {
	case TypeString:
		return k == state.KindString
	case TypeInteger:
		return k == state.KindInt
	case TypeFloat:
		return k == state.KindFloat
	case TypeTimestamp:
		return k == state.KindTimestamp
	case TypeBoolean:
		return k == state.KindBool
	}
	return false
}

func mismatch(path string, t Type, v state.Value) error {
	return docerr.AtPath(docerr.ErrTypeMismatch, path, "expected %s, got %s", t, v.Kind())
}
