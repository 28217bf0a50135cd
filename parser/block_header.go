// Copyright (c) 2019-present The Zcash developers
// Distributed under the MIT software license, see the accompanying
// file COPYING or https://www.opensource.org/licenses/mit-license.php .

package parser

import (
	"crypto/sha256"
	"errors"

	"github.com/zancas/zingo-indexer/hash32"
	"github.com/zancas/zingo-indexer/internal/bytestring"
)

const (
	equihashSizeMainnet = 1344 // size of a mainnet Equihash solution in bytes
	equihashSizeRegtest = 36   // size of a regtest Equihash solution in bytes
)

// RawBlockHeader implements the block header as defined in version
// 2018.0-beta-29 of the Zcash Protocol Spec.
type RawBlockHeader struct {
	// The block version number indicates which set of block validation rules
	// to follow. The current and only defined block version number for Zcash
	// is 4.
	Version int32

	// A SHA-256d hash in internal byte order of the previous block's header. This
	// ensures no previous block can be changed without also changing this block's
	// header.
	HashPrevBlock []byte

	// A SHA-256d hash in internal byte order. The merkle root is derived from
	// the hashes of all transactions included in this block, ensuring that
	// none of those transactions can be modified without modifying the header.
	HashMerkleRoot []byte

	// [Pre-Sapling] A reserved field which should be ignored.
	// [Sapling onward] The root of the Sapling note commitment tree.
	// [NU5 onward] The block commitments hash.
	HashFinalSaplingRoot []byte

	// The block time is a Unix epoch time (UTC) when the miner started hashing
	// the header (according to the miner).
	Time uint32

	// An encoded version of the target threshold this block's header hash must
	// be less than or equal to, in the same nBits format used by Bitcoin.
	NBitsBytes []byte

	// An arbitrary field that miners can change to modify the header hash in
	// order to produce a hash less than or equal to the target threshold.
	Nonce []byte

	// The Equihash solution. In the wire format, this is a
	// CompactSize-prefixed value.
	Solution []byte
}

// BlockHeader extends RawBlockHeader by adding a cache for the block hash.
type BlockHeader struct {
	*RawBlockHeader
	cachedHash hash32.T
}

// CompactLengthPrefixedLen calculates the total number of bytes needed to
// encode 'length' bytes.
func CompactLengthPrefixedLen(length int) int {
	return bytestring.CompactSizeLen(uint64(length)) + length
}

// MarshalBinary returns the block header in serialized form
func (hdr *RawBlockHeader) MarshalBinary() ([]byte, error) {
	if len(hdr.HashPrevBlock) != 32 || len(hdr.HashMerkleRoot) != 32 ||
		len(hdr.HashFinalSaplingRoot) != 32 || len(hdr.NBitsBytes) != 4 || len(hdr.Nonce) != 32 {
		return nil, errors.New("block header field has the wrong length")
	}
	serBlockHeaderSize := 4 + 32*3 + 4 + 4 + 32 + CompactLengthPrefixedLen(len(hdr.Solution))
	backing := make([]byte, 0, serBlockHeaderSize)
	backing = append(backing,
		byte(hdr.Version), byte(hdr.Version>>8), byte(hdr.Version>>16), byte(hdr.Version>>24))
	backing = append(backing, hdr.HashPrevBlock...)
	backing = append(backing, hdr.HashMerkleRoot...)
	backing = append(backing, hdr.HashFinalSaplingRoot...)
	backing = append(backing,
		byte(hdr.Time), byte(hdr.Time>>8), byte(hdr.Time>>16), byte(hdr.Time>>24))
	backing = append(backing, hdr.NBitsBytes...)
	backing = append(backing, hdr.Nonce...)
	backing = bytestring.AppendCompactLengthPrefixed(backing, hdr.Solution)
	return backing, nil
}

// NewBlockHeader return a pointer to a new block header instance.
func NewBlockHeader() *BlockHeader {
	return &BlockHeader{
		RawBlockHeader: new(RawBlockHeader),
	}
}

// ParseFromSlice parses the block header struct from the provided byte slice,
// advancing over the bytes read. If successful it returns the rest of the
// slice, otherwise it returns the input slice unaltered along with an error.
func (hdr *BlockHeader) ParseFromSlice(in []byte) (rest []byte, err error) {
	s := bytestring.String(in)

	// Primary parsing layer: sort the bytes into things

	if !s.ReadInt32(&hdr.Version) {
		return in, errors.New("could not read header version")
	}

	if !s.ReadBytes(&hdr.HashPrevBlock, 32) {
		return in, errors.New("could not read HashPrevBlock")
	}

	if !s.ReadBytes(&hdr.HashMerkleRoot, 32) {
		return in, errors.New("could not read HashMerkleRoot")
	}

	if !s.ReadBytes(&hdr.HashFinalSaplingRoot, 32) {
		return in, errors.New("could not read HashFinalSaplingRoot")
	}

	if !s.ReadUint32(&hdr.Time) {
		return in, errors.New("could not read timestamp")
	}

	if !s.ReadBytes(&hdr.NBitsBytes, 4) {
		return in, errors.New("could not read NBits bytes")
	}

	if !s.ReadBytes(&hdr.Nonce, 32) {
		return in, errors.New("could not read Nonce bytes")
	}

	var solution bytestring.String
	if !s.ReadCompactLengthPrefixed(&solution) {
		return in, errors.New("could not read CompactSize-prefixed Equihash solution")
	}
	if len(solution) != equihashSizeMainnet && len(solution) != equihashSizeRegtest {
		return in, errors.New("unexpected Equihash solution size")
	}
	hdr.Solution = solution
	hdr.cachedHash = hash32.Nil

	return []byte(s), nil
}

// GetDisplayHash returns the bytes of a block hash in big-endian order.
func (hdr *BlockHeader) GetDisplayHash() hash32.T {
	if !hdr.cachedHash.IsNil() {
		return hdr.cachedHash
	}

	serializedHeader, err := hdr.MarshalBinary()
	if err != nil {
		return hash32.Nil
	}

	// SHA256d
	digest := sha256.Sum256(serializedHeader)
	digest = sha256.Sum256(digest[:])

	hdr.cachedHash = hash32.Reverse(digest)
	return hdr.cachedHash
}

// GetDisplayPrevHash returns the block hash in big-endian order.
func (hdr *BlockHeader) GetDisplayPrevHash() hash32.T {
	return hash32.Reverse(hash32.FromSlice(hdr.HashPrevBlock))
}
