package bser

import (
	"errors"
	"fmt"
)

// ErrTruncated matches (via errors.Is) a DecodeError caused by input that
// ended before the value did.
var ErrTruncated = errors.New("bser: truncated input")

// DecodeError describes why a buffer could not be decoded.
type DecodeError struct {
	// Offset is the byte position where decoding stopped.
	Offset int

	// Reason is a short human readable description.
	Reason string

	// Needed is the total buffer length that would be required to make
	// progress. Only set for truncated input, and only when known.
	Needed int

	err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("bser: %s at offset %d", e.Reason, e.Offset)
}

func (e *DecodeError) Unwrap() error {
	return e.err
}

// UnsupportedTypeError is returned by Marshal for values it cannot encode.
type UnsupportedTypeError struct {
	Value any
}

func (e *UnsupportedTypeError) Error() string {
	return fmt.Sprintf("bser: unsupported type %T", e.Value)
}
