// Copyright (c) 2019-present The Zcash developers
// Distributed under the MIT software license, see the accompanying
// file COPYING or https://www.opensource.org/licenses/mit-license.php .

// Package hash32 provides a value type for 32-byte hashes such as
// block hashes and txids.
package hash32

import (
	"encoding/hex"
	"errors"
)

// T is any kind of 32-byte hash, such as a block ID or txid. Variables
// of this type are passed around and returned by value (treat like an
// integer). Values held by the indexer are in big-endian (display)
// order, the order zcashd uses in its RPC replies.
type T [32]byte

// Nil represents an unset or undefined hash value; a real hash is
// considered never to be all zeros.
var Nil = T{}

var (
	ErrOddLength = errors.New("hex string has odd length")
	ErrLength    = errors.New("hash is not 32 bytes")
)

// FromSlice converts a slice to a hash32. If the slice is too long,
// the return is only the first 32 bytes; if the slice is too short,
// the remaining bytes in the return value are zeros.
func FromSlice(arg []byte) T {
	var r T
	copy(r[:], arg)
	return r
}

// ToSlice converts a hash32 to a byte slice.
func ToSlice(arg T) []byte {
	return arg[:]
}

// Reverse the given hash, returning a new value; the input is unchanged.
// Block headers carry hashes in little-endian (internal) order.
func Reverse(arg T) T {
	r := T{}
	for i := 0; i < 32; i++ {
		r[i] = arg[32-1-i]
	}
	return r
}

func ReverseSlice(arg []byte) []byte {
	r := Reverse(FromSlice(arg))
	return r[:]
}

// Decode parses a 64-character hex string.
func Decode(s string) (T, error) {
	r := T{}
	if len(s)%2 != 0 {
		return r, ErrOddLength
	}
	hash, err := hex.DecodeString(s)
	if err != nil {
		return r, err
	}
	if len(hash) != 32 {
		return r, ErrLength
	}
	return T(hash), nil
}

func Encode(arg T) string {
	return hex.EncodeToString(ToSlice(arg))
}

func (h T) String() string {
	return Encode(h)
}

func (h T) IsNil() bool {
	return h == Nil
}

func (h T) MarshalText() ([]byte, error) {
	return []byte(Encode(h)), nil
}

func (h *T) UnmarshalText(text []byte) error {
	r, err := Decode(string(text))
	if err != nil {
		return err
	}
	*h = r
	return nil
}
