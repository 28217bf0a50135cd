// Copyright (c) 2019-present The Zcash developers
// Distributed under the MIT software license, see the accompanying
// file COPYING or https://www.opensource.org/licenses/mit-license.php .

// Package nym frames requests and responses carried over the mixnet
// transport. An envelope is
//
//	[compact-size id][compact-size-prefixed method][compact-size-prefixed body]
//
// and the declared body length must account for every remaining byte.
package nym

import (
	"fmt"
	"unicode/utf8"

	"github.com/zancas/zingo-indexer/internal/bytestring"
)

// Frame is one parsed envelope. Body aliases the input buffer.
type Frame struct {
	ID     uint64
	Method string
	Body   []byte
}

// ParseRequest extracts the id, method and body of a framed request.
func ParseRequest(data []byte) (id uint64, method string, body []byte, err error) {
	f, err := parse(data)
	if err != nil {
		return 0, "", nil, err
	}
	return f.ID, f.Method, f.Body, nil
}

// ParseResponse extracts a framed response; responses use the same
// envelope as requests.
func ParseResponse(data []byte) (Frame, error) {
	return parse(data)
}

// SerializeRequest is the inverse of ParseRequest.
func SerializeRequest(id uint64, method string, body []byte) []byte {
	return appendFrame(nil, id, method, body)
}

// SerializeResponse frames a response body so the client can match it to
// the request with the same id and method.
func SerializeResponse(id uint64, method string, body []byte) []byte {
	return appendFrame(nil, id, method, body)
}

func appendFrame(dst []byte, id uint64, method string, body []byte) []byte {
	size := bytestring.CompactSizeLen(id) +
		bytestring.CompactSizeLen(uint64(len(method))) + len(method) +
		bytestring.CompactSizeLen(uint64(len(body))) + len(body)
	if cap(dst)-len(dst) < size {
		grown := make([]byte, len(dst), len(dst)+size)
		copy(grown, dst)
		dst = grown
	}
	dst = bytestring.AppendCompactSize(dst, id)
	dst = bytestring.AppendCompactLengthPrefixed(dst, []byte(method))
	return bytestring.AppendCompactLengthPrefixed(dst, body)
}

func parse(data []byte) (Frame, error) {
	s := bytestring.String(data)
	var f Frame

	if err := readCompactSize(&s, &f.ID); err != nil {
		return Frame{}, &FrameError{Field: "id", Err: err}
	}

	var methodLen uint64
	if err := readCompactSize(&s, &methodLen); err != nil {
		return Frame{}, &FrameError{Field: "method length", Err: err}
	}
	if methodLen > uint64(len(s)) {
		return Frame{}, &FrameError{Field: "method", Err: ErrTruncated}
	}
	var method []byte
	if !s.ReadBytes(&method, int(methodLen)) {
		return Frame{}, &FrameError{Field: "method", Err: ErrTruncated}
	}
	if !utf8.Valid(method) {
		return Frame{}, &FrameError{Field: "method", Err: ErrEncoding}
	}
	f.Method = string(method)

	var bodyLen uint64
	if err := readCompactSize(&s, &bodyLen); err != nil {
		return Frame{}, &FrameError{Field: "body length", Err: err}
	}
	if bodyLen != uint64(len(s)) {
		return Frame{}, &FrameError{
			Field: "body",
			Err:   fmt.Errorf("%w: declared %d, remaining %d", ErrLengthMismatch, bodyLen, len(s)),
		}
	}
	f.Body = []byte(s)
	return f, nil
}

// readCompactSize distinguishes a short buffer from a non-minimal encoding,
// which bytestring folds into a single failure.
func readCompactSize(s *bytestring.String, out *uint64) error {
	if s.ReadCompactSizeUint64(out) {
		return nil
	}
	if len(*s) == 0 {
		return ErrTruncated
	}
	need := 1
	switch (*s)[0] {
	case 253:
		need = 3
	case 254:
		need = 5
	case 255:
		need = 9
	}
	if len(*s) < need {
		return ErrTruncated
	}
	return ErrNonCanonical
}
