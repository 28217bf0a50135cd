// Copyright (c) 2019-present The Zcash developers
// Distributed under the MIT software license, see the accompanying
// file COPYING or https://www.opensource.org/licenses/mit-license.php .

package wire

import (
	"encoding/hex"
	"fmt"

	"github.com/zancas/zingo-indexer/hash32"
)

// HexBytes is a byte string carried as lowercase hex on the wire.
type HexBytes []byte

func (b HexBytes) MarshalText() ([]byte, error) {
	return []byte(hex.EncodeToString(b)), nil
}

func (b *HexBytes) UnmarshalText(text []byte) error {
	v, err := decodeHexString(string(text))
	if err != nil {
		return err
	}
	*b = v
	return nil
}

func decodeHexString(s string) ([]byte, error) {
	if len(s)%2 != 0 {
		return nil, fmt.Errorf("%w: odd length %d", ErrMalformedHex, len(s))
	}
	v, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedHex, err)
	}
	return v, nil
}

// BlockchainInfo is the reply to getblockchaininfo.
type BlockchainInfo struct {
	Chain           string                 `json:"chain"`
	Blocks          uint32                 `json:"blocks"`
	BestBlockHash   hash32.T               `json:"bestblockhash"`
	EstimatedHeight uint32                 `json:"estimatedheight,omitempty"`
	Upgrades        map[string]UpgradeInfo `json:"upgrades,omitempty"`
	Consensus       ConsensusInfo          `json:"consensus"`
}

// UpgradeInfo is one network upgrade, keyed by branch id in
// BlockchainInfo.Upgrades.
type UpgradeInfo struct {
	Name             string `json:"name"`
	ActivationHeight uint32 `json:"activationheight"`
	Status           string `json:"status"`
}

type ConsensusInfo struct {
	Chaintip  string `json:"chaintip"`
	Nextblock string `json:"nextblock"`
}

// Info is the reply to getinfo.
type Info struct {
	Build      string `json:"build"`
	Subversion string `json:"subversion"`
}

// BlockKind selects which member of a BlockReply is set.
type BlockKind int

const (
	BlockRaw BlockKind = iota
	BlockObject
)

// BlockReply is the reply to getblock. Verbosity 0 yields BlockRaw,
// verbosity 1 yields BlockObject.
type BlockReply struct {
	Kind   BlockKind
	Raw    HexBytes
	Object *BlockInfo
}

// BlockInfo is the object form of a getblock reply.
type BlockInfo struct {
	Hash          hash32.T   `json:"hash"`
	Confirmations int64      `json:"confirmations"`
	Height        uint32     `json:"height,omitempty"`
	Time          int64      `json:"time,omitempty"`
	Tx            []hash32.T `json:"tx"`
	Trees         BlockTrees `json:"trees"`
}

// BlockTrees holds the note commitment tree sizes after a block. A pool
// that is not active yet is absent.
type BlockTrees struct {
	Sapling *TreeSize `json:"sapling,omitempty"`
	Orchard *TreeSize `json:"orchard,omitempty"`
}

type TreeSize struct {
	Size uint32 `json:"size"`
}

// TxKind selects the shape of a TransactionReply.
type TxKind int

const (
	TxRaw TxKind = iota
	TxObject
	TxPartial
)

// TransactionReply is the reply to getrawtransaction. The partial shape
// carries hex and txid only; it reports Height -1.
type TransactionReply struct {
	Kind   TxKind
	Raw    HexBytes
	Object *TransactionInfo
}

// Bytes returns the raw transaction regardless of reply shape.
func (r *TransactionReply) Bytes() []byte {
	if r.Kind == TxRaw {
		return r.Raw
	}
	return r.Object.Hex
}

type TransactionInfo struct {
	Hex           HexBytes `json:"hex"`
	TxID          hash32.T `json:"txid"`
	Height        int64    `json:"height"`
	Confirmations int64    `json:"confirmations"`
}

// TreeState is the reply to z_gettreestate.
type TreeState struct {
	Height  uint32   `json:"height"`
	Hash    hash32.T `json:"hash"`
	Time    uint32   `json:"time"`
	Sapling Pool     `json:"sapling"`
	Orchard Pool     `json:"orchard"`
}

type Pool struct {
	Commitments Commitments `json:"commitments"`
}

type Commitments struct {
	FinalState HexBytes `json:"finalState"`
}
