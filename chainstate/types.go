// Copyright (c) 2019-present The Zcash developers
// Distributed under the MIT software license, see the accompanying
// file COPYING or https://www.opensource.org/licenses/mit-license.php .

package chainstate

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/zancas/zingo-indexer/hash32"
)

// Reader errors.
var (
	ErrNotFound  = errors.New("not found")
	ErrInvalidID = errors.New("invalid block identifier")
	ErrNotReady  = errors.New("chain state is not synchronized yet")
)

// ChainTip is the head of the mirrored best chain.
type ChainTip struct {
	Height uint32
	Hash   hash32.T
}

// TreeSizes are the note commitment tree sizes after a block.
type TreeSizes struct {
	Sapling uint32
	Orchard uint32
}

type txSpan struct {
	off, len int
}

// BlockRecord is one block of the mirrored chain. It is never modified
// after it has been written to the Store.
type BlockRecord struct {
	Height   uint32
	Hash     hash32.T
	PrevHash hash32.T
	Time     uint32
	Raw      []byte
	TxIDs    []hash32.T
	Trees    TreeSizes

	// spans[i] locates TxIDs[i] within Raw; nil if the block could not
	// be split.
	spans []txSpan
}

// Transaction returns the serialized transaction at index i, or nil if
// the block was stored without transaction boundaries.
func (b *BlockRecord) Transaction(i int) []byte {
	if i < 0 || i >= len(b.spans) {
		return nil
	}
	sp := b.spans[i]
	return b.Raw[sp.off : sp.off+sp.len : sp.off+sp.len]
}

// MempoolEntry is a transaction in the node's mempool.
type MempoolEntry struct {
	TxID     hash32.T
	Raw      []byte
	Inserted time.Time
}

// TreeState holds the serialized Sapling and Orchard commitment trees as
// of exactly one block.
type TreeState struct {
	Height  uint32
	Hash    hash32.T
	Time    uint32
	Sapling []byte
	Orchard []byte
}

// Transaction is the reply of State.GetTransaction. Height is -1 for a
// mempool transaction.
type Transaction struct {
	TxID      hash32.T
	Raw       []byte
	Height    int64
	BlockHash hash32.T
}

// BlockID names a block by hash or, if Hash is zero, by height. When both
// are given they must agree.
type BlockID struct {
	Height uint32
	Hash   hash32.T
}

// ParseBlockID accepts a decimal height or a 64-character hex hash.
func ParseBlockID(s string) (BlockID, error) {
	if len(s) == 64 {
		h, err := hash32.Decode(s)
		if err != nil {
			return BlockID{}, fmt.Errorf("%w: %v", ErrInvalidID, err)
		}
		return BlockID{Hash: h}, nil
	}
	height, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return BlockID{}, fmt.Errorf("%w: %q", ErrInvalidID, s)
	}
	return BlockID{Height: uint32(height)}, nil
}

func (id BlockID) String() string {
	if !id.Hash.IsNil() {
		return id.Hash.String()
	}
	return strconv.FormatUint(uint64(id.Height), 10)
}
