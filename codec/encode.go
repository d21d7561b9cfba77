// Package codec converts States to and from the JSON text stored in the
// residual column.
//
// Encoding needs no type information. Decoding consults a schema.TypeMap to
// tell integers, floats and timestamps apart, since JSON has a single number
// type.
package codec

import (
	"math"
	"strconv"
	"unicode/utf8"

	"github.com/stevemurr/docstore/docerr"
	"github.com/stevemurr/docstore/state"
)

const hex = "0123456789abcdef"

// Encode returns the JSON text of s. Null values are omitted.
func Encode(s *state.State) (string, error) {
	b, err := AppendState(make([]byte, 0, 64), s)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// EncodeValue returns the JSON text of a single value.
func EncodeValue(v state.Value) (string, error) {
	b, err := AppendValue(nil, v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// AppendState appends the JSON object for s to b.
func AppendState(b []byte, s *state.State) ([]byte, error) {
	b = append(b, '{')
	first := true
	for _, k := range s.Keys() {
		v := s.Get(k)
		if state.IsNull(v) {
			continue
		}
		if !first {
			b = append(b, ',')
		}
		first = false
		var err error
		if b, err = AppendString(b, k); err != nil {
			return nil, err
		}
		b = append(b, ':')
		if b, err = AppendValue(b, v); err != nil {
			return nil, err
		}
	}
	return append(b, '}'), nil
}

// AppendValue appends the JSON text of v to b.
func AppendValue(b []byte, v state.Value) ([]byte, error) {
	switch x := v.(type) {
	case nil:
		return append(b, "null"...), nil
	case state.Bool:
		return strconv.AppendBool(b, bool(x)), nil
	case state.Int:
		return strconv.AppendInt(b, int64(x), 10), nil
	case state.Timestamp:
		return strconv.AppendInt(b, int64(x), 10), nil
	case state.Float:
		f := float64(x)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return nil, docerr.ErrUnsupportedValue
		}
		return strconv.AppendFloat(b, f, 'g', -1, 64), nil
	case state.String:
		return AppendString(b, string(x))
	case state.Array:
		b = append(b, '[')
		for i, e := range x {
			if i > 0 {
				b = append(b, ',')
			}
			if e == nil || !e.Kind().IsScalar() {
				return nil, docerr.ErrUnsupportedValue
			}
			var err error
			if b, err = AppendValue(b, e); err != nil {
				return nil, err
			}
		}
		return append(b, ']'), nil
	case state.List:
		b = append(b, '[')
		for i, e := range x {
			if i > 0 {
				b = append(b, ',')
			}
			var err error
			if b, err = AppendState(b, e); err != nil {
				return nil, err
			}
		}
		return append(b, ']'), nil
	case *state.State:
		return AppendState(b, x)
	}
	return nil, docerr.ErrUnsupportedValue
}

// AppendString appends s as a quoted JSON string. Control characters, '"'
// and '\' are escaped, and so is everything outside ASCII. NUL cannot be
// stored by the backend and fails with docerr.ErrInvalidCharacter.
func AppendString(b []byte, s string) ([]byte, error) {
	b = append(b, '"')
	for i := 0; i < len(s); {
		c := s[i]
		if c < utf8.RuneSelf {
			switch {
			case c == 0:
				return nil, docerr.InvalidCharacter(i, "NUL in string")
			case c == '"', c == '\\':
				b = append(b, '\\', c)
			case c == '\n':
				b = append(b, '\\', 'n')
			case c == '\r':
				b = append(b, '\\', 'r')
			case c == '\t':
				b = append(b, '\\', 't')
			case c == '\b':
				b = append(b, '\\', 'b')
			case c == '\f':
				b = append(b, '\\', 'f')
			case c < 0x20 || c == 0x7f:
				b = appendU(b, rune(c))
			default:
				b = append(b, c)
			}
			i++
			continue
		}
		r, size := utf8.DecodeRuneInString(s[i:])
		switch {
		case r == utf8.RuneError && size == 1:
			return nil, docerr.InvalidCharacter(i, "invalid UTF-8 in string")
		case r >= 0x10000:
			r1, r2 := surrogates(r)
			b = appendU(appendU(b, r1), r2)
		default:
			b = appendU(b, r)
		}
		i += size
	}
	return append(b, '"'), nil
}

func appendU(b []byte, r rune) []byte {
	return append(b, '\\', 'u', hex[r>>12&0xf], hex[r>>8&0xf], hex[r>>4&0xf], hex[r&0xf])
}

func surrogates(r rune) (rune, rune) {
	r -= 0x10000
	return 0xd800 + (r>>10)&0x3ff, 0xdc00 + r&0x3ff
}
