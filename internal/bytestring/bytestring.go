// Copyright (c) 2019-present The Zcash developers
// Distributed under the MIT software license, see the accompanying
// file COPYING or https://www.opensource.org/licenses/mit-license.php .

// Package bytestring provides a cryptobyte-inspired API specialized to the
// needs of parsing Zcash blocks and the compact-size framed envelopes
// used by the mixnet transport.
package bytestring

import (
	"errors"
	"io"
)

const (
	op0  uint8 = 0x00
	op1  uint8 = 0x51 // OP_1
	op16 uint8 = 0x60 // OP_16
)

// MaxCompactSize bounds length prefixes and element counts, matching
// zcashd's MAX_SIZE.
const MaxCompactSize uint64 = 0x02000000

// String represents a string of bytes and provides methods for parsing values
// from it.
type String []byte

// read advances the string by n bytes and returns them. If fewer than n bytes
// remain, it returns nil.
func (s *String) read(n int) []byte {
	if n < 0 || len(*s) < n {
		return nil
	}
	if n == 0 {
		return []byte{}
	}

	out := (*s)[:n]
	(*s) = (*s)[n:]
	return out
}

// Read reads the next len(p) bytes from the string, or the remainder of the
// string if len(*s) < len(p). It returns the number of bytes read as n. If the
// string is empty it returns an io.EOF error, or a nil error if len(p) == 0.
// Read satisfies io.Reader.
func (s *String) Read(p []byte) (n int, err error) {
	if s.Empty() {
		if len(p) == 0 {
			return 0, nil
		}
		return 0, io.EOF
	}

	n = copy(p, *s)
	if !s.Skip(n) {
		return 0, errors.New("unexpected end of bytestring read")
	}
	return n, nil
}

// Empty reports whether or not the string is empty.
func (s *String) Empty() bool {
	return len(*s) == 0
}

// Skip advances the string by n bytes and reports whether it was successful.
func (s *String) Skip(n int) bool {
	return s.read(n) != nil
}

// ReadByte reads a single byte into out and advances over it. It reports if
// the read was successful.
func (s *String) ReadByte(out *byte) bool {
	v := s.read(1)
	if v == nil {
		return false
	}
	*out = v[0]
	return true
}

// ReadBytes reads n bytes into out and advances over them. It reports if the
// read was successful.
func (s *String) ReadBytes(out *[]byte, n int) bool {
	v := s.read(n)
	if v == nil {
		return false
	}
	*out = v
	return true
}

// ReadCompactSizeUint64 reads a Bitcoin-style compact integer over the full
// 64-bit range. Encodings that are not minimal are rejected. On failure
// the string is not advanced.
func (s *String) ReadCompactSizeUint64(out *uint64) bool {
	t := *s
	lenBytes := t.read(1)
	if lenBytes == nil {
		return false
	}
	lenByte := lenBytes[0]

	var lenLen int
	var value, minSize uint64

	switch {
	case lenByte < 253:
		value = uint64(lenByte)
	case lenByte == 253:
		lenLen = 2
		minSize = 253
	case lenByte == 254:
		lenLen = 4
		minSize = 0x10000
	default:
		lenLen = 8
		minSize = 0x100000000
	}

	if lenLen > 0 {
		// expect little endian uint of varying size
		b := t.read(lenLen)
		if b == nil {
			return false
		}
		for i := lenLen - 1; i >= 0; i-- {
			value <<= 8
			value |= uint64(b[i])
		}
		if value < minSize {
			return false
		}
	}

	*s = t
	*out = value
	return true
}

// ReadCompactSize reads a compact integer used for length-prefixing and
// count values. Values above MaxCompactSize are rejected.
func (s *String) ReadCompactSize(size *int) bool {
	t := *s
	var v uint64
	if !t.ReadCompactSizeUint64(&v) || v > MaxCompactSize {
		return false
	}
	*s = t
	*size = int(v)
	return true
}

// ReadCompactLengthPrefixed reads data prefixed by a CompactSize-encoded
// length field into out. It reports whether the read was successful.
func (s *String) ReadCompactLengthPrefixed(out *String) bool {
	t := *s
	var length int
	if !t.ReadCompactSize(&length) {
		return false
	}

	v := t.read(length)
	if v == nil {
		return false
	}

	*s = t
	*out = v
	return true
}

// ReadScriptInt64 reads and interprets a Bitcoin-custom compact integer
// encoding used for int64 numbers in scripts, such as the block height
// in a coinbase scriptSig (BIP 34).
func (s *String) ReadScriptInt64(num *int64) bool {
	// First byte is either an integer opcode, or the number of bytes in the
	// number.
	firstBytes := s.read(1)
	if firstBytes == nil {
		return false
	}
	firstByte := firstBytes[0]

	var number uint64

	switch {
	case firstByte == op0:
		number = 0
	case firstByte >= op1 && firstByte <= op16:
		number = uint64(firstByte) - uint64(op1-1)
	case firstByte > 0 && firstByte <= 8:
		v := s.read(int(firstByte))
		if v == nil {
			return false
		}
		for i := int(firstByte) - 1; i >= 0; i-- {
			number <<= 8
			number |= uint64(v[i])
		}
	default:
		return false
	}

	*num = int64(number)
	return true
}

// ReadInt32 decodes a little-endian 32-bit value into out, treating it as
// signed, and advances over it. It reports whether the read was successful.
func (s *String) ReadInt32(out *int32) bool {
	var tmp uint32
	if ok := s.ReadUint32(&tmp); !ok {
		return false
	}

	*out = int32(tmp)
	return true
}

// ReadInt64 decodes a little-endian 64-bit value into out, treating it as
// signed, and advances over it. It reports whether the read was successful.
func (s *String) ReadInt64(out *int64) bool {
	var tmp uint64
	if ok := s.ReadUint64(&tmp); !ok {
		return false
	}

	*out = int64(tmp)
	return true
}

// ReadUint16 decodes a little-endian, 16-bit value into out and advances over
// it. It reports whether the read was successful.
func (s *String) ReadUint16(out *uint16) bool {
	v := s.read(2)
	if v == nil {
		return false
	}
	*out = uint16(v[0]) | uint16(v[1])<<8
	return true
}

// ReadUint32 decodes a little-endian, 32-bit value into out and advances over
// it. It reports whether the read was successful.
func (s *String) ReadUint32(out *uint32) bool {
	v := s.read(4)
	if v == nil {
		return false
	}
	*out = uint32(v[0]) | uint32(v[1])<<8 | uint32(v[2])<<16 | uint32(v[3])<<24
	return true
}

// ReadUint64 decodes a little-endian, 64-bit value into out and advances over
// it. It reports whether the read was successful.
func (s *String) ReadUint64(out *uint64) bool {
	v := s.read(8)
	if v == nil {
		return false
	}
	*out = uint64(v[0]) | uint64(v[1])<<8 | uint64(v[2])<<16 | uint64(v[3])<<24 |
		uint64(v[4])<<32 | uint64(v[5])<<40 | uint64(v[6])<<48 | uint64(v[7])<<56
	return true
}

// CompactSizeLen returns the number of bytes AppendCompactSize uses for v.
func CompactSizeLen(v uint64) int {
	switch {
	case v < 253:
		return 1
	case v <= 0xffff:
		return 3
	case v <= 0xffffffff:
		return 5
	default:
		return 9
	}
}

// AppendCompactSize appends the minimal compact-size encoding of v.
func AppendCompactSize(dst []byte, v uint64) []byte {
	switch {
	case v < 253:
		return append(dst, byte(v))
	case v <= 0xffff:
		return append(dst, 253, byte(v), byte(v>>8))
	case v <= 0xffffffff:
		return append(dst, 254, byte(v), byte(v>>8), byte(v>>16), byte(v>>24))
	default:
		return append(dst, 255, byte(v), byte(v>>8), byte(v>>16), byte(v>>24),
			byte(v>>32), byte(v>>40), byte(v>>48), byte(v>>56))
	}
}

// AppendCompactLengthPrefixed appends b preceded by its compact-size length.
func AppendCompactLengthPrefixed(dst []byte, b []byte) []byte {
	dst = AppendCompactSize(dst, uint64(len(b)))
	return append(dst, b...)
}
