package codec

import (
	"strconv"
	"strings"
	"unicode/utf16"
	"unicode/utf8"

	"github.com/stevemurr/docstore/docerr"
	"github.com/stevemurr/docstore/schema"
	"github.com/stevemurr/docstore/state"
)

// Decode parses the JSON object text into a State, using types to decide
// the kind of every number. Paths missing from types fail with
// docerr.ErrUnknownPath. Nulls and empty containers decode as absent keys.
func Decode(text string, types *schema.TypeMap) (*state.State, error) {
	return decode(&decoder{data: text}, types)
}

// DecodeLenient is Decode with undeclared paths accepted: their numbers
// decode as Int when integral and in range, Float otherwise.
func DecodeLenient(text string, types *schema.TypeMap) (*state.State, error) {
	return decode(&decoder{data: text, lenient: true}, types)
}

func decode(d *decoder, types *schema.TypeMap) (*state.State, error) {
	d.skipWS()
	if d.peek() != '{' {
		return nil, d.malformed("expected object")
	}
	s, err := d.object(types, "")
	if err != nil {
		return nil, err
	}
	if err := d.end(); err != nil {
		return nil, err
	}
	return s, nil
}

// DecodeValue parses a single JSON value declared by node at path. It
// returns nil for null and empty containers.
func DecodeValue(text string, node *schema.TypeMap, path string) (state.Value, error) {
	d := &decoder{data: text}
	d.skipWS()
	v, err := d.value(node, path)
	if err != nil {
		return nil, err
	}
	if err := d.end(); err != nil {
		return nil, err
	}
	return v, nil
}

type decoder struct {
	data    string
	pos     int
	lenient bool
}

func (d *decoder) peek() byte {
	if d.pos >= len(d.data) {
		return 0
	}
	return d.data[d.pos]
}

func (d *decoder) skipWS() {
	for d.pos < len(d.data) {
		switch d.data[d.pos] {
		case ' ', '\t', '\n', '\r':
			d.pos++
		default:
			return
		}
	}
}

func (d *decoder) end() error {
	d.skipWS()
	if d.pos != len(d.data) {
		return d.malformed("unexpected data after value")
	}
	return nil
}

func (d *decoder) malformed(format string, args ...any) error {
	return docerr.Malformed(d.pos, format, args...)
}

func (d *decoder) expect(c byte) error {
	if d.peek() != c {
		if d.pos >= len(d.data) {
			return d.malformed("unexpected end of input, expected %q", c)
		}
		return d.malformed("expected %q, got %q", c, d.data[d.pos])
	}
	d.pos++
	return nil
}

func join(path, seg string) string {
	if path == "" {
		return seg
	}
	return path + schema.Separator + seg
}

func mismatch(path string, node *schema.TypeMap, got string) error {
	return docerr.AtPath(docerr.ErrTypeMismatch, path, "declared %s, found %s", node.Type(), got)
}

// value parses any JSON value at the current position.
func (d *decoder) value(node *schema.TypeMap, path string) (state.Value, error) {
	if node == nil && d.lenient {
		return d.untyped(path)
	}
	switch c := d.peek(); {
	case c == '{':
		if node.Type() != schema.TypeObject {
			return nil, mismatch(path, node, "object")
		}
		s, err := d.object(node, path)
		if err != nil || s.Len() == 0 {
			return nil, err
		}
		return s, nil
	case c == '[':
		return d.array(node, path)
	case c == '"':
		s, err := d.string()
		if err != nil {
			return nil, err
		}
		if node.Type() != schema.TypeString {
			return nil, mismatch(path, node, "string")
		}
		return state.String(s), nil
	case c == 't' || c == 'f':
		b, err := d.boolean()
		if err != nil {
			return nil, err
		}
		if node.Type() != schema.TypeBoolean {
			return nil, mismatch(path, node, "boolean")
		}
		return state.Bool(b), nil
	case c == 'n':
		if !strings.HasPrefix(d.data[d.pos:], "null") {
			return nil, d.malformed("invalid literal")
		}
		d.pos += 4
		return nil, nil
	case c == '-' || (c >= '0' && c <= '9'):
		return d.number(node, path)
	case d.pos >= len(d.data):
		return nil, d.malformed("unexpected end of input")
	default:
		return nil, d.malformed("unexpected character %q", c)
	}
}

// object parses an object. Unlike value it returns empty states, which list
// elements keep.
func (d *decoder) object(node *schema.TypeMap, path string) (*state.State, error) {
	if err := d.expect('{'); err != nil {
		return nil, err
	}
	s := state.New()
	d.skipWS()
	if d.peek() == '}' {
		d.pos++
		return s, nil
	}
	for {
		d.skipWS()
		if d.peek() != '"' {
			return nil, d.malformed("expected string key")
		}
		key, err := d.string()
		if err != nil {
			return nil, err
		}
		d.skipWS()
		if err := d.expect(':'); err != nil {
			return nil, err
		}
		d.skipWS()
		p := join(path, key)
		child := node.Child(key)
		if child == nil && !d.lenient {
			return nil, docerr.AtPath(docerr.ErrUnknownPath, p, "")
		}
		v, err := d.value(child, p)
		if err != nil {
			return nil, err
		}
		if v == nil {
			s.Delete(key)
		} else {
			s.Set(key, v)
		}
		d.skipWS()
		switch d.peek() {
		case ',':
			d.pos++
		case '}':
			d.pos++
			return s, nil
		default:
			return nil, d.malformed("expected ',' or '}'")
		}
	}
}

// array parses a list of objects into a List, anything else into a
// homogeneous scalar Array.
func (d *decoder) array(node *schema.TypeMap, path string) (state.Value, error) {
	if node.Type() != schema.TypeList {
		return nil, mismatch(path, node, "array")
	}
	if err := d.expect('['); err != nil {
		return nil, err
	}
	elem := node.Elem()
	d.skipWS()
	if d.peek() == ']' {
		d.pos++
		return nil, nil
	}
	objects := d.peek() == '{'
	var list state.List
	var arr state.Array
	for i := 0; ; i++ {
		d.skipWS()
		p := join(path, strconv.Itoa(i))
		if objects {
			if d.peek() != '{' {
				return nil, docerr.AtPath(docerr.ErrTypeMismatch, p, "mixed list elements")
			}
			if elem.Type() != schema.TypeObject {
				return nil, mismatch(p, elem, "object")
			}
			s, err := d.object(elem, p)
			if err != nil {
				return nil, err
			}
			list = append(list, s)
		} else {
			v, err := d.value(elem, p)
			if err != nil {
				return nil, err
			}
			if v == nil || !v.Kind().IsScalar() {
				return nil, docerr.AtPath(docerr.ErrTypeMismatch, p, "array elements must be scalars")
			}
			arr = append(arr, v)
		}
		d.skipWS()
		switch d.peek() {
		case ',':
			d.pos++
		case ']':
			d.pos++
			if objects {
				return list, nil
			}
			return arr, nil
		default:
			return nil, d.malformed("expected ',' or ']'")
		}
	}
}

func (d *decoder) boolean() (bool, error) {
	rest := d.data[d.pos:]
	switch {
	case strings.HasPrefix(rest, "true"):
		d.pos += 4
		return true, nil
	case strings.HasPrefix(rest, "false"):
		d.pos += 5
		return false, nil
	}
	return false, d.malformed("invalid literal")
}

// number scans a number literal and types it from node.
func (d *decoder) number(node *schema.TypeMap, path string) (state.Value, error) {
	lit, integral, err := d.literal()
	if err != nil {
		return nil, err
	}
	switch node.Type() {
	case schema.TypeInteger, schema.TypeTimestamp:
		if !integral {
			return nil, mismatch(path, node, "non-integral number "+lit)
		}
		n, err := strconv.ParseInt(lit, 10, 64)
		if err != nil {
			return nil, mismatch(path, node, "out of range number "+lit)
		}
		if node.Type() == schema.TypeTimestamp {
			return state.Timestamp(n), nil
		}
		return state.Int(n), nil
	case schema.TypeFloat:
		f, err := strconv.ParseFloat(lit, 64)
		if err != nil {
			return nil, mismatch(path, node, "out of range number "+lit)
		}
		return state.Float(f), nil
	}
	return nil, mismatch(path, node, "number")
}

// literal scans a number literal.
func (d *decoder) literal() (lit string, integral bool, err error) {
	start := d.pos
	integral = true
	if d.peek() == '-' {
		d.pos++
	}
	switch c := d.peek(); {
	case c == '0':
		d.pos++
	case c >= '1' && c <= '9':
		d.digits()
	default:
		return "", false, d.malformed("invalid number")
	}
	if d.peek() == '.' {
		integral = false
		d.pos++
		if d.digits() == 0 {
			return "", false, d.malformed("invalid number fraction")
		}
	}
	if c := d.peek(); c == 'e' || c == 'E' {
		integral = false
		d.pos++
		if c := d.peek(); c == '+' || c == '-' {
			d.pos++
		}
		if d.digits() == 0 {
			return "", false, d.malformed("invalid number exponent")
		}
	}
	return d.data[start:d.pos], integral, nil
}

func (d *decoder) digits() int {
	n := 0
	for d.pos < len(d.data) && d.data[d.pos] >= '0' && d.data[d.pos] <= '9' {
		d.pos++
		n++
	}
	return n
}

// string parses a quoted string at the current position.
func (d *decoder) string() (string, error) {
	if err := d.expect('"'); err != nil {
		return "", err
	}
	var b strings.Builder
	for {
		start := d.pos
		for d.pos < len(d.data) {
			c := d.data[d.pos]
			if c == '"' || c == '\\' || c < 0x20 || c >= utf8.RuneSelf {
				break
			}
			d.pos++
		}
		b.WriteString(d.data[start:d.pos])
		if d.pos >= len(d.data) {
			return "", d.malformed("unterminated string")
		}
		switch c := d.data[d.pos]; {
		case c == '"':
			d.pos++
			return b.String(), nil
		case c == 0:
			return "", docerr.InvalidCharacter(d.pos, "NUL in string")
		case c < 0x20:
			return "", d.malformed("control character %#02x in string", c)
		case c == '\\':
			r, err := d.escape()
			if err != nil {
				return "", err
			}
			b.WriteRune(r)
		default:
			r, size := utf8.DecodeRuneInString(d.data[d.pos:])
			if r == utf8.RuneError && size == 1 {
				return "", d.malformed("invalid UTF-8")
			}
			b.WriteString(d.data[d.pos : d.pos+size])
			d.pos += size
		}
	}
}

// escape decodes the escape sequence starting at the backslash.
func (d *decoder) escape() (rune, error) {
	d.pos++
	if d.pos >= len(d.data) {
		return 0, d.malformed("unterminated escape")
	}
	c := d.data[d.pos]
	d.pos++
	switch c {
	case '"', '\\', '/':
		return rune(c), nil
	case 'b':
		return '\b', nil
	case 'f':
		return '\f', nil
	case 'n':
		return '\n', nil
	case 'r':
		return '\r', nil
	case 't':
		return '\t', nil
	case 'u':
	default:
		return 0, docerr.Malformed(d.pos-1, "invalid escape %q", c)
	}
	at := d.pos - 2
	r, err := d.hex4()
	if err != nil {
		return 0, err
	}
	switch {
	case r == 0:
		return 0, docerr.InvalidCharacter(at, "escaped NUL in string")
	case utf16.IsSurrogate(r):
		if r >= 0xdc00 || !strings.HasPrefix(d.data[d.pos:], `\u`) {
			return 0, docerr.Malformed(at, "unpaired surrogate")
		}
		d.pos += 2
		r2, err := d.hex4()
		if err != nil {
			return 0, err
		}
		combined := utf16.DecodeRune(r, r2)
		if combined == utf8.RuneError {
			return 0, docerr.Malformed(at, "unpaired surrogate")
		}
		return combined, nil
	}
	return r, nil
}

func (d *decoder) hex4() (rune, error) {
	if d.pos+4 > len(d.data) {
		return 0, d.malformed("truncated unicode escape")
	}
	var r rune
	for _, c := range []byte(d.data[d.pos : d.pos+4]) {
		r <<= 4
		switch {
		case c >= '0' && c <= '9':
			r |= rune(c - '0')
		case c >= 'a' && c <= 'f':
			r |= rune(c-'a') + 10
		case c >= 'A' && c <= 'F':
			r |= rune(c-'A') + 10
		default:
			return 0, d.malformed("invalid unicode escape")
		}
	}
	d.pos += 4
	return r, nil
}

// untyped parses a value at an undeclared path.
func (d *decoder) untyped(path string) (state.Value, error) {
	switch c := d.peek(); {
	case c == '{':
		s, err := d.object(nil, path)
		if err != nil || s.Len() == 0 {
			return nil, err
		}
		return s, nil
	case c == '[':
		return d.untypedArray(path)
	case c == '"':
		s, err := d.string()
		if err != nil {
			return nil, err
		}
		return state.String(s), nil
	case c == 't' || c == 'f':
		b, err := d.boolean()
		if err != nil {
			return nil, err
		}
		return state.Bool(b), nil
	case c == '-' || (c >= '0' && c <= '9'):
		lit, integral, err := d.literal()
		if err != nil {
			return nil, err
		}
		if integral {
			if n, err := strconv.ParseInt(lit, 10, 64); err == nil {
				return state.Int(n), nil
			}
		}
		f, err := strconv.ParseFloat(lit, 64)
		if err != nil {
			return nil, docerr.AtPath(docerr.ErrUnsupportedValue, path, "out of range number %s", lit)
		}
		return state.Float(f), nil
	}
	return d.value(schema.Scalar(schema.TypeUnknown), path)
}

func (d *decoder) untypedArray(path string) (state.Value, error) {
	if err := d.expect('['); err != nil {
		return nil, err
	}
	d.skipWS()
	if d.peek() == ']' {
		d.pos++
		return nil, nil
	}
	var list state.List
	var arr state.Array
	for i := 0; ; i++ {
		d.skipWS()
		p := join(path, strconv.Itoa(i))
		if d.peek() == '{' {
			if len(arr) > 0 {
				return nil, docerr.AtPath(docerr.ErrTypeMismatch, p, "mixed list elements")
			}
			s, err := d.object(nil, p)
			if err != nil {
				return nil, err
			}
			list = append(list, s)
		} else {
			v, err := d.untyped(p)
			if err != nil {
				return nil, err
			}
			if v == nil || !v.Kind().IsScalar() {
				return nil, docerr.AtPath(docerr.ErrTypeMismatch, p, "array elements must be scalars")
			}
			if len(list) > 0 {
				return nil, docerr.AtPath(docerr.ErrTypeMismatch, p, "mixed list elements")
			}
			arr = append(arr, v)
		}
		d.skipWS()
		switch d.peek() {
		case ',':
			d.pos++
		case ']':
			d.pos++
			if list != nil {
				return list, nil
			}
			return arr, nil
		default:
			return nil, d.malformed("expected ',' or ']'")
		}
	}
}
