// Copyright (c) 2019-present The Zcash developers
// Distributed under the MIT software license, see the accompanying
// file COPYING or https://www.opensource.org/licenses/mit-license.php .

package nym

import (
	"errors"
	"fmt"
)

var (
	// ErrLengthMismatch is returned when the declared body length differs
	// from the number of bytes that follow it.
	ErrLengthMismatch = errors.New("body length mismatch")
	// ErrEncoding is returned when the method name is not valid UTF-8.
	ErrEncoding = errors.New("method is not valid utf-8")
	// ErrTruncated is returned when a field runs past the end of the frame.
	ErrTruncated = errors.New("frame truncated")
	// ErrNonCanonical is returned for a compact size that is not minimally
	// encoded.
	ErrNonCanonical = errors.New("non-canonical compact size")
)

// FrameError describes which field of an envelope could not be parsed.
type FrameError struct {
	Field string
	Err   error
}

func (e *FrameError) Error() string {
	return fmt.Sprintf("nym frame: %s: %v", e.Field, e.Err)
}

func (e *FrameError) Unwrap() error { return e.Err }
