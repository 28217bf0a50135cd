// Copyright (c) 2019-present The Zcash developers
// Distributed under the MIT software license, see the accompanying
// file COPYING or https://www.opensource.org/licenses/mit-license.php .

package wire

import (
	"errors"
	"fmt"
)

var (
	// ErrMalformedHex is returned for a binary field that is not an
	// even-length hex string.
	ErrMalformedHex = errors.New("malformed hex")
	// ErrMissingField is returned when a required field is absent from
	// every shape the reply may take.
	ErrMissingField = errors.New("missing field")
	// ErrMalformedJSON is returned when the reply is not the JSON type
	// expected at some position.
	ErrMalformedJSON = errors.New("malformed json")
	// ErrUnknownMethod is returned by Decode for a method it has no
	// decoder for.
	ErrUnknownMethod = errors.New("no decoder for method")
)

// DecodeError reports which field of which reply could not be decoded.
type DecodeError struct {
	Method string
	Field  string
	Err    error
}

func (e *DecodeError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("decoding %s reply: %v", e.Method, e.Err)
	}
	return fmt.Sprintf("decoding %s reply: field %s: %v", e.Method, e.Field, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

func missing(method, field string) error {
	return &DecodeError{Method: method, Field: field, Err: ErrMissingField}
}

func malformedJSON(method, field string, err error) error {
	return &DecodeError{Method: method, Field: field, Err: fmt.Errorf("%w: %v", ErrMalformedJSON, err)}
}

func malformedHex(method, field string, err error) error {
	return &DecodeError{Method: method, Field: field, Err: fmt.Errorf("%w: %v", ErrMalformedHex, err)}
}
