// Package docerr defines the errors shared by the docstore packages.
package docerr

import (
	"errors"
	"fmt"
)

var (
	// ErrMalformedEncoding is returned when JSON text violates the grammar.
	ErrMalformedEncoding = errors.New("docstore: malformed encoding")
	// ErrInvalidCharacter is returned for characters the backend text type cannot hold (NUL).
	ErrInvalidCharacter = errors.New("docstore: invalid character")
	// ErrUnsupportedValue is returned for values JSON cannot represent, such as NaN.
	ErrUnsupportedValue = errors.New("docstore: unsupported value")

	ErrTypeMismatch = errors.New("docstore: type mismatch")
	ErrUnknownPath  = errors.New("docstore: unknown path")

	ErrUnsupportedField     = errors.New("docstore: unsupported field")
	ErrUnsupportedDiffShape = errors.New("docstore: unsupported diff shape")
	ErrUnsupportedOperator  = errors.New("docstore: unsupported operator")

	// ErrConcurrentUpdate is returned when an update matched no row.
	ErrConcurrentUpdate = errors.New("docstore: concurrent update")

	ErrBackend = errors.New("docstore: backend error")
	ErrClosed  = errors.New("docstore: connection closed")
)

// EncodingError reports a decoding failure at a byte offset of the input.
type EncodingError struct {
	Offset int
	Msg    string
	Err    error // ErrMalformedEncoding or ErrInvalidCharacter
}

func (e *EncodingError) Error() string {
	return fmt.Sprintf("%v at offset %d: %s", e.Err, e.Offset, e.Msg)
}

func (e *EncodingError) Unwrap() error {
	return e.Err
}

// Malformed returns an EncodingError wrapping ErrMalformedEncoding.
func Malformed(offset int, format string, args ...any) error {
	return &EncodingError{Offset: offset, Msg: fmt.Sprintf(format, args...), Err: ErrMalformedEncoding}
}

// InvalidCharacter returns an EncodingError wrapping ErrInvalidCharacter.
func InvalidCharacter(offset int, format string, args ...any) error {
	return &EncodingError{Offset: offset, Msg: fmt.Sprintf(format, args...), Err: ErrInvalidCharacter}
}

// PathError reports a failure tied to a field path, such as a decode-time
// type mismatch or a field the compilers cannot address.
type PathError struct {
	Path string
	Msg  string
	Err  error
}

func (e *PathError) Error() string {
	if e.Msg == "" {
		return fmt.Sprintf("%v: %s", e.Err, e.Path)
	}
	return fmt.Sprintf("%v: %s: %s", e.Err, e.Path, e.Msg)
}

func (e *PathError) Unwrap() error {
	return e.Err
}

// AtPath wraps err with the path it concerns.
func AtPath(err error, path string, format string, args ...any) error {
	return &PathError{Path: path, Msg: fmt.Sprintf(format, args...), Err: err}
}

// BackendError wraps a failure reported by the database driver.
type BackendError struct {
	Op  string
	Err error
}

func (e *BackendError) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("%v: %v", ErrBackend, e.Err)
	}
	return fmt.Sprintf("%v: %s: %v", ErrBackend, e.Op, e.Err)
}

func (e *BackendError) Unwrap() error {
	return e.Err
}

// Is makes every BackendError match ErrBackend.
func (e *BackendError) Is(target error) bool {
	return target == ErrBackend
}

// Backend wraps a driver error with the operation that produced it.
func Backend(op string, err error) error {
	if err == nil {
		return nil
	}
	return &BackendError{Op: op, Err: err}
}
