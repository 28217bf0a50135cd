// Copyright (c) 2019-present The Zcash developers
// Distributed under the MIT software license, see the accompanying
// file COPYING or https://www.opensource.org/licenses/mit-license.php .

// Package parser splits serialized Zcash blocks into a header and
// per-transaction byte ranges. Transactions are walked only far enough
// to find where each one ends.
package parser

import (
	"errors"
	"fmt"

	"github.com/zancas/zingo-indexer/hash32"
	"github.com/zancas/zingo-indexer/internal/bytestring"
)

// Block represents a full block (not a compact block).
type Block struct {
	hdr    *BlockHeader
	vtx    []*Transaction
	height int
}

// NewBlock constructs a block instance.
func NewBlock() *Block {
	return &Block{height: -1}
}

// GetVersion returns a block's version number (current 4)
func (b *Block) GetVersion() int {
	return int(b.hdr.Version)
}

// GetTxCount returns the number of transactions in the block,
// including the coinbase transaction (minimum 1).
func (b *Block) GetTxCount() int {
	return len(b.vtx)
}

// Transactions returns the list of the block's transactions. Their bytes
// alias the slice the block was parsed from.
func (b *Block) Transactions() []*Transaction {
	return b.vtx
}

// Header returns the parsed block header.
func (b *Block) Header() *BlockHeader {
	return b.hdr
}

// GetDisplayHash returns the block hash in big-endian display order.
func (b *Block) GetDisplayHash() hash32.T {
	return b.hdr.GetDisplayHash()
}

// GetDisplayPrevHash returns the block's previous hash in big-endian format.
func (b *Block) GetDisplayPrevHash() hash32.T {
	return b.hdr.GetDisplayPrevHash()
}

// GetHeight extracts the block height from the coinbase transaction. See
// BIP34. Returns -1 if the height cannot be determined.
func (b *Block) GetHeight() int {
	if b.height != -1 {
		return b.height
	}
	if len(b.vtx) == 0 || b.vtx[0].coinbaseScript == nil {
		return -1
	}
	coinbaseScript := bytestring.String(b.vtx[0].coinbaseScript)
	var heightNum int64
	if !coinbaseScript.ReadScriptInt64(&heightNum) {
		return -1
	}
	if heightNum < 0 || heightNum > int64(^uint32(0)) {
		return -1
	}
	b.height = int(heightNum)
	return b.height
}

// Time returns the block time as a Unix epoch time.
func (b *Block) Time() uint32 {
	return b.hdr.Time
}

// ParseFromSlice deserializes a block from the given data stream
// and returns a slice to the remaining data. The caller should verify
// there is no remaining data if none is expected.
func (b *Block) ParseFromSlice(data []byte) (rest []byte, err error) {
	hdr := NewBlockHeader()
	data, err = hdr.ParseFromSlice(data)
	if err != nil {
		return nil, fmt.Errorf("parsing block header: %w", err)
	}

	s := bytestring.String(data)
	var txCount int
	if !s.ReadCompactSize(&txCount) {
		return nil, errors.New("could not read tx_count")
	}
	if txCount == 0 {
		return nil, errors.New("block has no transactions")
	}
	data = []byte(s)

	vtx := make([]*Transaction, 0, txCount)
	for i := 0; i < txCount; i++ {
		tx := NewTransaction()
		data, err = tx.ParseFromSlice(data)
		if err != nil {
			return nil, fmt.Errorf("parsing transaction %d: %w", i, err)
		}
		vtx = append(vtx, tx)
	}

	b.hdr = hdr
	b.vtx = vtx

	return data, nil
}
