// Copyright (c) 2019-present The Zcash developers
// Distributed under the MIT software license, see the accompanying
// file COPYING or https://www.opensource.org/licenses/mit-license.php .

// Package darkside is a scriptable stand-in for the full node. Blocks and
// transactions are staged, then applied to become the node's best chain;
// Node.RawRequest answers the JSON-RPC methods the indexer uses, so it can
// be installed as common.RawRequest for tests and for wallet developers
// who need to reproduce reorgs on demand.
package darkside

import (
	"bufio"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/zancas/zingo-indexer/common"
	"github.com/zancas/zingo-indexer/hash32"
	"github.com/zancas/zingo-indexer/internal/bytestring"
	"github.com/zancas/zingo-indexer/parser"
	"github.com/zancas/zingo-indexer/wire"
)

// saplingBranchID keys the Sapling entry of the getblockchaininfo upgrades.
const saplingBranchID = "76b809bb"

// fakeCoinbase was pulled from mainnet block 797905, whose little-endian
// encoding (d12c0c00) is replaced with the height of the created block.
const fakeCoinbase = "0400008085202f890100000000000000000000000000000000000000000000000000" +
	"00000000000000ffffffff2a03d12c0c00043855975e464b8896790758f824ceac97836" +
	"22c17ed38f1669b8a45ce1da857dbbe7950e2ffffffff02a0ebce1d000000001976a914" +
	"7ed15946ec14ae0cd8fa8991eb6084452eb3f77c88ac405973070000000017a914e445cf" +
	"a944b6f2bdacefbda904a81d5fdd26d77f8700000000000000000000000000000000000000"

type activeBlock struct {
	bytes           []byte
	hash            hash32.T
	time            uint32
	txids           []hash32.T
	saplingTreeSize uint32
	orchardTreeSize uint32
}

type stagedTx struct {
	height int
	bytes  []byte
}

// Node is a fake full node. The zero value is not usable; call New.
type Node struct {
	mu sync.Mutex

	chainName   string
	branchID    string
	startHeight int // active[0] is at this height

	// Tree sizes as of startHeight-1.
	startSaplingTreeSize uint32
	startOrchardTreeSize uint32

	// Blocks above latestHeight exist but are not presented yet.
	active       []*activeBlock
	latestHeight int

	// Applied, in arrival order, by ApplyStaged.
	stagedBlocks       [][]byte
	stagedTransactions []stagedTx

	mempool   []hash32.T
	mempoolTx map[hash32.T][]byte

	// Everything received through sendrawtransaction.
	incoming [][]byte

	treeStates map[hash32.T]*wire.TreeState

	failure error
}

// New returns a node whose chain will start at startHeight.
func New(startHeight int, chainName, branchID string) *Node {
	n := &Node{}
	n.reset(startHeight, chainName, branchID, 0, 0)
	return n
}

// Reset discards all blocks, staged data, mempool and tree states.
func (n *Node) Reset(startHeight int, chainName, branchID string, saplingTreeSize, orchardTreeSize uint32) {
	n.mu.Lock()
	defer n.mu.Unlock()
	common.Log.WithFields(logrus.Fields{
		"startHeight": startHeight,
		"chain":       chainName,
	}).Info("darkside reset")
	n.reset(startHeight, chainName, branchID, saplingTreeSize, orchardTreeSize)
}

func (n *Node) reset(startHeight int, chainName, branchID string, saplingTreeSize, orchardTreeSize uint32) {
	n.chainName = chainName
	n.branchID = branchID
	n.startHeight = startHeight
	n.startSaplingTreeSize = saplingTreeSize
	n.startOrchardTreeSize = orchardTreeSize
	n.active = nil
	n.latestHeight = -1
	n.stagedBlocks = nil
	n.stagedTransactions = nil
	n.mempool = nil
	n.mempoolTx = make(map[hash32.T][]byte)
	n.incoming = nil
	n.treeStates = make(map[hash32.T]*wire.TreeState)
	n.failure = nil
}

// TxID returns the display-order double-SHA256 of a serialized
// transaction. Real v5 txids are computed differently (ZIP 244), which a
// client of this node cannot detect.
func TxID(raw []byte) hash32.T {
	digest := sha256.Sum256(raw)
	digest = sha256.Sum256(digest[:])
	return hash32.Reverse(digest)
}

// SetFailure makes every RPC fail with err until called with nil.
func (n *Node) SetFailure(err error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.failure = err
}

// StageBlocks adds serialized blocks to the staging area.
func (n *Node) StageBlocks(blocks ...[]byte) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, b := range blocks {
		if err := n.stageBlock(b); err != nil {
			return err
		}
	}
	return nil
}

// StageBlocksFrom reads hex-encoded blocks, one per line, and stages them.
func (n *Node) StageBlocksFrom(r io.Reader) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	// some blocks are too large, especially when encoded in hex, for the
	// default buffer size, so set up a larger one; 8mb should be enough.
	scan := bufio.NewScanner(r)
	var scanbuf []byte
	scan.Buffer(scanbuf, 8*1000*1000)
	for scan.Scan() {
		line := strings.TrimSpace(scan.Text())
		if line == "" {
			continue
		}
		blockBytes, err := hex.DecodeString(line)
		if err != nil {
			return err
		}
		if err := n.stageBlock(blockBytes); err != nil {
			return err
		}
	}
	return scan.Err()
}

func (n *Node) stageBlock(b []byte) error {
	block := parser.NewBlock()
	rest, err := block.ParseFromSlice(b)
	if err != nil {
		return err
	}
	if len(rest) != 0 {
		return errors.New("block serialization is too long")
	}
	if block.GetHeight() < n.startHeight {
		return fmt.Errorf("block height %d is less than start height %d",
			block.GetHeight(), n.startHeight)
	}
	n.stagedBlocks = append(n.stagedBlocks, append([]byte{}, b...))
	return nil
}

// CreateBlock serializes a block at height holding only a coinbase
// transaction. Different nonces give different block hashes at the same
// height. The previous-block hash is filled in by ApplyStaged.
func CreateBlock(height, nonce int) []byte {
	coinbase := strings.Replace(fakeCoinbase, "d12c0c00",
		fmt.Sprintf("%02x%02x%02x%02x", height&0xFF, (height>>8)&0xFF,
			(height>>16)&0xFF, (height>>24)&0xFF), 1)
	coinbaseBytes, _ := hex.DecodeString(coinbase)

	merkle := sha256.Sum256([]byte(fmt.Sprintf("%d#%d", nonce, height)))
	hdr := &parser.RawBlockHeader{
		Version:              4,
		HashPrevBlock:        make([]byte, 32),
		HashMerkleRoot:       merkle[:],
		HashFinalSaplingRoot: make([]byte, 32),
		Time:                 uint32(1600000000 + height),
		NBitsBytes:           make([]byte, 4),
		Nonce:                make([]byte, 32),
		Solution:             make([]byte, 36),
	}
	blockBytes, _ := hdr.MarshalBinary()
	blockBytes = append(blockBytes, 1)
	return append(blockBytes, coinbaseBytes...)
}

// CreateBlockWithTransactions is CreateBlock followed by txs, in order,
// after the coinbase.
func CreateBlockWithTransactions(height, nonce int, txs ...[]byte) ([]byte, error) {
	block := CreateBlock(height, nonce)
	for _, tx := range txs {
		var err error
		if block, err = appendTransaction(block, tx); err != nil {
			return nil, err
		}
	}
	return block, nil
}

// StageBlocksCreate stages count empty blocks starting at height.
func (n *Node) StageBlocksCreate(height, nonce, count int) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	for i := 0; i < count; i++ {
		if err := n.stageBlock(CreateBlock(height+i, nonce)); err != nil {
			return err
		}
	}
	return nil
}

// StageTransaction stages a transaction to be appended to the block at
// height when ApplyStaged runs.
func (n *Node) StageTransaction(height int, raw []byte) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	tx := parser.NewTransaction()
	rest, err := tx.ParseFromSlice(raw)
	if err != nil {
		return err
	}
	if len(rest) != 0 {
		return errors.New("transaction serialization is too long")
	}
	n.stagedTransactions = append(n.stagedTransactions, stagedTx{height, append([]byte{}, raw...)})
	return nil
}

// ApplyStaged moves the staged blocks and transactions onto the active
// chain and presents it up to height (or the highest active block, if
// lower). A staged block replaces the active block at its height and
// everything above it.
func (n *Node) ApplyStaged(height int) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if height < n.startHeight {
		return fmt.Errorf("height %d is less than start height %d", height, n.startHeight)
	}
	stagedBlocks := n.stagedBlocks
	n.stagedBlocks = nil
	for _, b := range stagedBlocks {
		if err := n.addBlockActive(b); err != nil {
			return err
		}
	}
	if len(n.active) == 0 {
		return errors.New("no active blocks after applying staged blocks")
	}
	stagedTransactions := n.stagedTransactions
	n.stagedTransactions = nil
	for _, tx := range stagedTransactions {
		i := tx.height - n.startHeight
		if i < 0 || i >= len(n.active) {
			return fmt.Errorf("transaction height %d is outside the active chain", tx.height)
		}
		b, err := appendTransaction(n.active[i].bytes, tx.bytes)
		if err != nil {
			return err
		}
		n.active[i].bytes = b
		delete(n.mempoolTx, TxID(tx.bytes))
	}
	n.mempool = n.remainingMempool()

	maxHeight := n.startHeight + len(n.active) - 1
	if height > maxHeight {
		height = maxHeight
	}
	if err := n.relink(); err != nil {
		return err
	}
	n.latestHeight = height
	common.Log.WithFields(logrus.Fields{
		"start":  n.startHeight,
		"end":    maxHeight,
		"latest": n.latestHeight,
	}).Info("darkside active blocks applied")
	return nil
}

func (n *Node) addBlockActive(blockBytes []byte) error {
	block := parser.NewBlock()
	if _, err := block.ParseFromSlice(blockBytes); err != nil {
		return err
	}
	blockHeight := block.GetHeight()
	if blockHeight > n.startHeight+len(n.active) {
		return fmt.Errorf("adding block at height %d would create a gap in the blockchain", blockHeight)
	}
	// Drop the block that will be overwritten, and its children.
	n.active = n.active[:blockHeight-n.startHeight]
	n.active = append(n.active, &activeBlock{bytes: blockBytes})
	return nil
}

// appendTransaction returns block with tx added as its last transaction.
// The final Sapling root is perturbed so the block hash changes.
func appendTransaction(blockBytes, tx []byte) ([]byte, error) {
	block := parser.NewBlock()
	if _, err := block.ParseFromSlice(blockBytes); err != nil {
		return nil, err
	}
	hdr := *block.Header().RawBlockHeader
	hdr.HashFinalSaplingRoot = append([]byte{}, hdr.HashFinalSaplingRoot...)
	hdr.HashFinalSaplingRoot[0]++
	out, err := hdr.MarshalBinary()
	if err != nil {
		return nil, err
	}
	out = bytestring.AppendCompactSize(out, uint64(block.GetTxCount()+1))
	for _, t := range block.Transactions() {
		out = append(out, t.Bytes()...)
	}
	return append(out, tx...), nil
}

// relink sets each active block's previous-block hash to its
// predecessor's hash and recomputes the derived per-block fields.
func (n *Node) relink() error {
	var prevhash []byte
	saplingSize := n.startSaplingTreeSize
	orchardSize := n.startOrchardTreeSize
	for _, b := range n.active {
		if prevhash != nil {
			copy(b.bytes[4:4+32], prevhash)
		}
		block := parser.NewBlock()
		if _, err := block.ParseFromSlice(b.bytes); err != nil {
			return err
		}
		b.hash = block.GetDisplayHash()
		b.time = block.Time()
		b.txids = b.txids[:0]
		for _, tx := range block.Transactions() {
			b.txids = append(b.txids, TxID(tx.Bytes()))
			saplingSize += uint32(tx.SaplingOutputs)
			orchardSize += uint32(tx.OrchardActions)
		}
		b.saplingTreeSize = saplingSize
		b.orchardTreeSize = orchardSize
		internal := hash32.Reverse(b.hash)
		prevhash = internal[:]
	}
	return nil
}

// BlockHash returns the hash of the active block at height.
func (n *Node) BlockHash(height int) (hash32.T, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	i := height - n.startHeight
	if i < 0 || i >= len(n.active) {
		return hash32.Nil, fmt.Errorf("no active block at height %d", height)
	}
	return n.active[i].hash, nil
}

// AddMempool places a transaction in the mempool and returns its txid.
func (n *Node) AddMempool(raw []byte) (hash32.T, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.addMempool(raw)
}

func (n *Node) addMempool(raw []byte) (hash32.T, error) {
	tx := parser.NewTransaction()
	rest, err := tx.ParseFromSlice(raw)
	if err != nil {
		return hash32.Nil, err
	}
	if len(rest) != 0 {
		return hash32.Nil, errors.New("transaction serialization is too long")
	}
	txid := TxID(raw)
	if _, ok := n.mempoolTx[txid]; !ok {
		n.mempoolTx[txid] = append([]byte{}, raw...)
		n.mempool = append(n.mempool, txid)
	}
	return txid, nil
}

// RemoveMempool evicts a transaction from the mempool.
func (n *Node) RemoveMempool(txid hash32.T) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.mempoolTx, txid)
	n.mempool = n.remainingMempool()
}

func (n *Node) remainingMempool() []hash32.T {
	r := make([]hash32.T, 0, len(n.mempoolTx))
	for _, txid := range n.mempool {
		if _, ok := n.mempoolTx[txid]; ok {
			r = append(r, txid)
		}
	}
	return r
}

// IncomingTransactions returns the transactions received through
// sendrawtransaction.
func (n *Node) IncomingTransactions() [][]byte {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([][]byte{}, n.incoming...)
}

// AddTreeState sets the z_gettreestate reply for the block ts.Hash.
// Blocks without one get empty commitment trees.
func (n *Node) AddTreeState(ts wire.TreeState) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.treeStates[ts.Hash] = &ts
}

// RawRequest answers a node RPC. It has the signature of
// common.RawRequest. Errors the real node reports with a code are
// returned in the "code: message" form.
func (n *Node) RawRequest(method string, params []json.RawMessage) (json.RawMessage, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.failure != nil {
		return nil, n.failure
	}
	switch method {
	case "getblockchaininfo":
		tip, err := n.tip()
		if err != nil {
			return nil, err
		}
		return json.Marshal(&wire.BlockchainInfo{
			Chain:           n.chainName,
			Blocks:          uint32(n.latestHeight),
			BestBlockHash:   tip.hash,
			EstimatedHeight: uint32(n.latestHeight),
			Upgrades: map[string]wire.UpgradeInfo{
				saplingBranchID: {Name: "Sapling", ActivationHeight: uint32(n.startHeight), Status: "active"},
			},
			Consensus: wire.ConsensusInfo{Chaintip: n.branchID, Nextblock: n.branchID},
		})

	case "getinfo":
		return json.Marshal(&wire.Info{
			Build:      "darksidewallet-build",
			Subversion: "darksidewallet-subversion",
		})

	case "getbestblockhash":
		tip, err := n.tip()
		if err != nil {
			return nil, err
		}
		return json.Marshal(tip.hash)

	case "getblockhash":
		var height int
		if len(params) < 1 || json.Unmarshal(params[0], &height) != nil {
			return nil, errors.New("-1: failed to parse getblockhash request")
		}
		b := n.blockAt(height)
		if b == nil {
			return nil, errors.New("-8: Block height out of range")
		}
		return json.Marshal(b.hash)

	case "getblock":
		return n.getBlock(params)

	case "getrawmempool":
		return json.Marshal(n.mempool)

	case "getrawtransaction":
		return n.getRawTransaction(params)

	case "sendrawtransaction":
		var rawtx wire.HexBytes
		if len(params) < 1 || json.Unmarshal(params[0], &rawtx) != nil {
			return nil, errors.New("-22: TX decode failed")
		}
		txid, err := n.addMempool(rawtx)
		if err != nil {
			return nil, errors.New("-22: TX decode failed")
		}
		n.incoming = append(n.incoming, append([]byte{}, rawtx...))
		// zcashd's reply is not quoted here.
		return []byte(txid.String()), nil

	case "z_gettreestate":
		var heightOrHash string
		if len(params) < 1 || json.Unmarshal(params[0], &heightOrHash) != nil {
			return nil, errors.New("-1: failed to parse z_gettreestate request")
		}
		b, err := n.lookupBlock(heightOrHash)
		if err != nil {
			return nil, err
		}
		ts, ok := n.treeStates[b.hash]
		if !ok {
			ts = &wire.TreeState{Height: uint32(n.heightOf(b)), Hash: b.hash, Time: b.time}
		}
		return json.Marshal(ts)

	default:
		return nil, errors.New("-32601: Method not found: " + method)
	}
}

func (n *Node) tip() (*activeBlock, error) {
	if n.latestHeight < 0 {
		return nil, errors.New("-28: no blocks have been applied")
	}
	return n.active[n.latestHeight-n.startHeight], nil
}

// blockAt returns the presented block at height, or nil.
func (n *Node) blockAt(height int) *activeBlock {
	if height < n.startHeight || height > n.latestHeight {
		return nil
	}
	return n.active[height-n.startHeight]
}

func (n *Node) heightOf(b *activeBlock) int {
	for i, a := range n.active {
		if a == b {
			return n.startHeight + i
		}
	}
	return -1
}

func (n *Node) lookupBlock(heightOrHash string) (*activeBlock, error) {
	if len(heightOrHash) < 64 {
		height, err := strconv.Atoi(heightOrHash)
		if err != nil {
			return nil, errors.New("-8: error parsing height as integer")
		}
		b := n.blockAt(height)
		if b == nil {
			return nil, errors.New("-8: Block height out of range")
		}
		return b, nil
	}
	hash, err := hash32.Decode(heightOrHash)
	if err != nil {
		return nil, errors.New("-8: invalid block hash")
	}
	for h := n.startHeight; h <= n.latestHeight; h++ {
		if b := n.blockAt(h); b.hash == hash {
			return b, nil
		}
	}
	return nil, errors.New("-5: Block not found")
}

func (n *Node) getBlock(params []json.RawMessage) (json.RawMessage, error) {
	var heightOrHash string
	if len(params) < 1 || json.Unmarshal(params[0], &heightOrHash) != nil {
		return nil, errors.New("-1: failed to parse getblock request")
	}
	b, err := n.lookupBlock(heightOrHash)
	if err != nil {
		return nil, err
	}
	if len(params) > 1 && string(params[1]) == "1" {
		height := n.heightOf(b)
		return json.Marshal(&wire.BlockInfo{
			Hash:          b.hash,
			Confirmations: int64(n.latestHeight - height + 1),
			Height:        uint32(height),
			Time:          int64(b.time),
			Tx:            b.txids,
			Trees: wire.BlockTrees{
				Sapling: &wire.TreeSize{Size: b.saplingTreeSize},
				Orchard: &wire.TreeSize{Size: b.orchardTreeSize},
			},
		})
	}
	return json.Marshal(wire.HexBytes(b.bytes))
}

func (n *Node) getRawTransaction(params []json.RawMessage) (json.RawMessage, error) {
	var txidHex string
	if len(params) < 1 || json.Unmarshal(params[0], &txidHex) != nil {
		return nil, errors.New("-1: failed to parse getrawtransaction request")
	}
	txid, err := hash32.Decode(txidHex)
	if err != nil {
		return nil, errors.New("-8: parameter 1 must be hexadecimal string")
	}
	verbose := len(params) > 1 && string(params[1]) == "1"

	if raw, ok := n.mempoolTx[txid]; ok {
		if !verbose {
			return json.Marshal(wire.HexBytes(raw))
		}
		// Mempool transactions have no height or confirmations.
		return json.Marshal(&struct {
			Hex  wire.HexBytes `json:"hex"`
			TxID hash32.T      `json:"txid"`
		}{raw, txid})
	}
	for h := n.startHeight; h <= n.latestHeight; h++ {
		b := n.blockAt(h)
		for i, id := range b.txids {
			if id != txid {
				continue
			}
			block := parser.NewBlock()
			if _, err := block.ParseFromSlice(b.bytes); err != nil {
				return nil, err
			}
			raw := block.Transactions()[i].Bytes()
			if !verbose {
				return json.Marshal(wire.HexBytes(raw))
			}
			return json.Marshal(&wire.TransactionInfo{
				Hex:           raw,
				TxID:          txid,
				Height:        int64(h),
				Confirmations: int64(n.latestHeight - h + 1),
			})
		}
	}
	return nil, errors.New("-5: No such mempool or blockchain transaction")
}
