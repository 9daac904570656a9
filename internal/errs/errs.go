// Package errs provides coded errors shared by the markov packages.
//
// Information Hiding:
// - Error kinds are codes attached with oops, not distinct Go types
// - Callers test kinds with IsInvalidArgument / IsStorageUnavailable
// - The underlying cause stays reachable through errors.Is / errors.As

package errs

import (
	"fmt"

	"github.com/samber/oops"
)

// Code is the machine-readable kind of an error.
type Code string

const (
	// CodeInvalidArgument marks a violated precondition. Never retried.
	CodeInvalidArgument Code = "argument.invalid"
	// CodeStorageUnavailable marks an open/read/write failure of the store.
	CodeStorageUnavailable Code = "storage.unavailable"
	// CodeConfigInvalid marks unusable configuration.
	CodeConfigInvalid Code = "config.invalid"
	// CodeFetchFailed marks a failed document retrieval.
	CodeFetchFailed Code = "fetch.failed"
)

// Attr is a structured key/value attached to an error.
type Attr struct {
	Key   string
	Value any
}

// Field creates an error attribute.
func Field(key string, value any) Attr {
	return Attr{Key: key, Value: value}
}

// New creates a coded error.
func New(code Code, msg string, fields ...Attr) error {
	return oops.Code(code).With(flatten(fields)...).New(msg)
}

// Errorf creates a coded error with a formatted message. %w is honoured.
func Errorf(code Code, format string, args ...any) error {
	return oops.Code(code).Errorf(format, args...)
}

// Wrap attaches a code and message to err. Returns nil for a nil err.
func Wrap(err error, code Code, msg string, fields ...Attr) error {
	if err == nil {
		return nil
	}
	return oops.Code(code).With(flatten(fields)...).Wrapf(err, "%s", msg)
}

// InvalidArgument is shorthand for a CodeInvalidArgument error.
func InvalidArgument(format string, args ...any) error {
	return Errorf(CodeInvalidArgument, format, args...)
}

// StorageUnavailable wraps a storage failure.
func StorageUnavailable(err error, msg string, fields ...Attr) error {
	return Wrap(err, CodeStorageUnavailable, msg, fields...)
}

// CodeOf returns the code carried by err, or "" if none.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}

	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return ""
	}

	switch code := oopsErr.Code().(type) {
	case Code:
		return code
	case string:
		return Code(code)
	case nil:
		return ""
	default:
		return Code(fmt.Sprintf("%v", code))
	}
}

// FieldsOf returns the structured context attached to err.
func FieldsOf(err error) map[string]any {
	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return nil
	}
	return oopsErr.Context()
}

// HasCode reports whether err carries code.
func HasCode(err error, code Code) bool {
	return err != nil && CodeOf(err) == code
}

// IsInvalidArgument reports whether err is a precondition violation.
func IsInvalidArgument(err error) bool {
	return HasCode(err, CodeInvalidArgument)
}

// IsStorageUnavailable reports whether err is a storage failure.
func IsStorageUnavailable(err error) bool {
	return HasCode(err, CodeStorageUnavailable)
}

func flatten(fields []Attr) []any {
	pairs := make([]any, 0, len(fields)*2)
	for _, field := range fields {
		if field.Key == "" {
			continue
		}
		pairs = append(pairs, field.Key, field.Value)
	}
	return pairs
}
