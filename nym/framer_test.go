// Copyright (c) 2019-present The Zcash developers
// Distributed under the MIT software license, see the accompanying
// file COPYING or https://www.opensource.org/licenses/mit-license.php .

package nym

import (
	"bytes"
	"errors"
	"math"
	"testing"
)

func TestRoundTrip(t *testing.T) {
	tests := []struct {
		id     uint64
		method string
		body   []byte
	}{
		{0, "GetLightdInfo", []byte{}},
		{1, "GetBlock", []byte{0x08, 0x0a}},
		{252, "", []byte{1}},
		{253, "SendTransaction", bytes.Repeat([]byte{0xab}, 300)},
		{0x10000, "GetTreeState", bytes.Repeat([]byte{1}, 70000)},
		{math.MaxUint64, "GetLatestBlock", []byte{}},
	}
	for i, tt := range tests {
		frame := SerializeRequest(tt.id, tt.method, tt.body)
		id, method, body, err := ParseRequest(frame)
		if err != nil {
			t.Fatalf("case %d: unexpected error: %v", i, err)
		}
		if id != tt.id || method != tt.method || !bytes.Equal(body, tt.body) {
			t.Fatalf("case %d: round trip mismatch: id %d method %q len %d",
				i, id, method, len(body))
		}
		f, err := ParseResponse(SerializeResponse(tt.id, tt.method, tt.body))
		if err != nil {
			t.Fatalf("case %d: unexpected response error: %v", i, err)
		}
		if f.ID != tt.id || f.Method != tt.method || !bytes.Equal(f.Body, tt.body) {
			t.Fatalf("case %d: response round trip mismatch", i)
		}
	}
}

func TestMaxIDEncoding(t *testing.T) {
	frame := SerializeRequest(math.MaxUint64, "m", nil)
	want := []byte{0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 1, 'm', 0}
	if !bytes.Equal(frame, want) {
		t.Fatalf("unexpected encoding %x", frame)
	}
}

func TestLengthMismatch(t *testing.T) {
	// id 7, method "ab", body declared 5 bytes with only 3 present
	frame := []byte{7, 2, 'a', 'b', 5, 1, 2, 3}
	_, _, _, err := ParseRequest(frame)
	if !errors.Is(err, ErrLengthMismatch) {
		t.Fatal("expected ErrLengthMismatch, got", err)
	}
	var fe *FrameError
	if !errors.As(err, &fe) || fe.Field != "body" {
		t.Fatal("expected FrameError for body, got", err)
	}

	// trailing bytes are also a mismatch
	frame = []byte{7, 2, 'a', 'b', 1, 1, 2}
	if _, _, _, err = ParseRequest(frame); !errors.Is(err, ErrLengthMismatch) {
		t.Fatal("expected ErrLengthMismatch, got", err)
	}
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		frame []byte
		want  error
	}{
		{[]byte{}, ErrTruncated},
		{[]byte{253, 1}, ErrTruncated},
		{[]byte{253, 1, 0, 0, 0}, ErrNonCanonical},
		{[]byte{1, 5, 'a'}, ErrTruncated},
		{[]byte{1, 2, 0xff, 0xfe, 0}, ErrEncoding},
		{[]byte{1, 1, 'a'}, ErrTruncated},
		{[]byte{1, 1, 'a', 254, 1, 0, 0, 0}, ErrNonCanonical},
	}
	for i, tt := range tests {
		_, _, _, err := ParseRequest(tt.frame)
		if !errors.Is(err, tt.want) {
			t.Fatalf("case %d: want %v, have %v", i, tt.want, err)
		}
	}
}
