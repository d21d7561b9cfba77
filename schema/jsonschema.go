package schema

import (
	"encoding/json"
	"fmt"
	"os"
)

// Provider is a content model: it declares the type of every field path.
type Provider interface {
	Fields() ([]Field, error)
}

// FromProvider builds the TypeMap declared by p.
func FromProvider(p Provider) (*TypeMap, error) {
	fields, err := p.Fields()
	if err != nil {
		return nil, err
	}
	return Build(fields)
}

// Static is a Provider over a fixed field list.
type Static []Field

func (s Static) Fields() ([]Field, error) {
	return s, nil
}

// JSONSchema is a Provider reading a JSON Schema (draft-07 subset) document.
//
// Supported keywords:
//   - type (string, number, integer, boolean, object, array)
//   - format "date-time" or "timestamp" on integer and string types, read as timestamps
//   - properties (for objects)
//   - items (for arrays)
type JSONSchema map[string]any

// LoadJSONSchema reads a JSON Schema file.
func LoadJSONSchema(path string) (JSONSchema, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var s map[string]any
	if err := json.Unmarshal(b, &s); err != nil {
		return nil, fmt.Errorf("schema: %s: %w", path, err)
	}
	return JSONSchema(s), nil
}

// Fields walks the schema properties and returns one Field per leaf.
func (s JSONSchema) Fields() ([]Field, error) {
	if s == nil {
		return nil, nil
	}
	if t := declaredType(s); t != "object" {
		return nil, fmt.Errorf("schema: root must be an object, got %q", t)
	}
	var fields []Field
	if err := collectObject(s, "", &fields); err != nil {
		return nil, err
	}
	return fields, nil
}

func collectObject(s map[string]any, path string, out *[]Field) error {
	props, ok := s["properties"].(map[string]any)
	if !ok {
		return nil
	}
	for field, raw := range props {
		ps, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		p := field
		if path != "" {
			p = path + Separator + field
		}
		if err := collectValue(ps, p, out); err != nil {
			return err
		}
	}
	return nil
}

func collectValue(s map[string]any, path string, out *[]Field) error {
	switch t := declaredType(s); t {
	case "object":
		*out = append(*out, Field{Path: path, Type: TypeObject})
		return collectObject(s, path, out)
	case "array":
		items, ok := s["items"].(map[string]any)
		if !ok {
			return fmt.Errorf("schema: %s: array without items", path)
		}
		return collectValue(items, path+Separator+Element, out)
	case "string", "integer":
		typ := TypeString
		if t == "integer" {
			typ = TypeInteger
		}
		if f, _ := s["format"].(string); f == "date-time" || f == "timestamp" {
			typ = TypeTimestamp
		}
		*out = append(*out, Field{Path: path, Type: typ})
	case "number":
		*out = append(*out, Field{Path: path, Type: TypeFloat})
	case "boolean":
		*out = append(*out, Field{Path: path, Type: TypeBoolean})
	default:
		return fmt.Errorf("schema: %s: unsupported type %q", path, t)
	}
	return nil
}

// declaredType returns the schema type, skipping "null" in type unions and
// defaulting to "object" when only properties are given.
func declaredType(s map[string]any) string {
	switch t := s["type"].(type) {
	case string:
		return t
	case []any:
		for _, e := range t {
			if name, ok := e.(string); ok && name != "null" {
				return name
			}
		}
	}
	if _, ok := s["properties"]; ok {
		return "object"
	}
	return ""
}
