// Copyright (c) 2019-present The Zcash developers
// Distributed under the MIT software license, see the accompanying
// file COPYING or https://www.opensource.org/licenses/mit-license.php .

package nym

import (
	"bufio"
	"bytes"
	"errors"
	"io"
	"testing"
)

func TestStreamFrames(t *testing.T) {
	frames := [][]byte{
		SerializeRequest(1, "GetLatestBlock", nil),
		SerializeRequest(2, "SendTransaction", bytes.Repeat([]byte{7}, 1000)),
		{},
	}
	var buf bytes.Buffer
	for _, f := range frames {
		if err := WriteFrame(&buf, f); err != nil {
			t.Fatal(err)
		}
	}
	r := bufio.NewReader(&buf)
	for i, want := range frames {
		got, err := ReadFrame(r, DefaultMaxFrameSize)
		if err != nil {
			t.Fatalf("frame %d: %v", i, err)
		}
		if !bytes.Equal(got, want) {
			t.Fatalf("frame %d: mismatch", i)
		}
	}
	if _, err := ReadFrame(r, DefaultMaxFrameSize); err != io.EOF {
		t.Fatal("expected io.EOF, got", err)
	}
}

func TestStreamFrameErrors(t *testing.T) {
	tests := []struct {
		input []byte
		max   int
		want  error
	}{
		{[]byte{5, 1, 2}, 100, ErrTruncated},
		{[]byte{253, 1}, 100, ErrTruncated},
		{[]byte{253, 10, 0}, 100, ErrNonCanonical},
		{[]byte{253, 0, 1}, 100, ErrFrameTooLarge},
	}
	for i, tt := range tests {
		_, err := ReadFrame(bufio.NewReader(bytes.NewReader(tt.input)), tt.max)
		if !errors.Is(err, tt.want) {
			t.Fatalf("case %d: expected %v, got %v", i, tt.want, err)
		}
		var fe *FrameError
		if !errors.As(err, &fe) {
			t.Fatalf("case %d: not a FrameError", i)
		}
	}
}
