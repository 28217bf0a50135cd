// Copyright (c) 2019-present The Zcash developers
// Distributed under the MIT software license, see the accompanying
// file COPYING or https://www.opensource.org/licenses/mit-license.php .

package nym

import (
	"bufio"
	"errors"
	"fmt"
	"io"

	"github.com/zancas/zingo-indexer/internal/bytestring"
)

// DefaultMaxFrameSize bounds a frame read from a stream.
const DefaultMaxFrameSize = 4 << 20

// ErrFrameTooLarge is returned by ReadFrame for a frame above its limit.
var ErrFrameTooLarge = errors.New("frame too large")

// ReadFrame reads one envelope from a stream on which each envelope is
// preceded by its compact-size length. io.EOF means the stream ended
// cleanly between frames.
func ReadFrame(r *bufio.Reader, maxSize int) ([]byte, error) {
	first, err := r.ReadByte()
	if err != nil {
		return nil, err
	}
	prefix := []byte{first}
	switch first {
	case 253:
		prefix = append(prefix, make([]byte, 2)...)
	case 254:
		prefix = append(prefix, make([]byte, 4)...)
	case 255:
		prefix = append(prefix, make([]byte, 8)...)
	}
	if _, err := io.ReadFull(r, prefix[1:]); err != nil {
		return nil, &FrameError{Field: "frame length", Err: ErrTruncated}
	}
	s := bytestring.String(prefix)
	var size uint64
	if err := readCompactSize(&s, &size); err != nil {
		return nil, &FrameError{Field: "frame length", Err: err}
	}
	if size > uint64(maxSize) {
		return nil, &FrameError{Field: "frame length",
			Err: fmt.Errorf("%w: %d bytes, limit %d", ErrFrameTooLarge, size, maxSize)}
	}
	frame := make([]byte, size)
	if _, err := io.ReadFull(r, frame); err != nil {
		return nil, &FrameError{Field: "frame", Err: ErrTruncated}
	}
	return frame, nil
}

// WriteFrame writes frame preceded by its compact-size length.
func WriteFrame(w io.Writer, frame []byte) error {
	_, err := w.Write(bytestring.AppendCompactLengthPrefixed(nil, frame))
	return err
}
