// Copyright (c) 2019-present The Zcash developers
// Distributed under the MIT software license, see the accompanying
// file COPYING or https://www.opensource.org/licenses/mit-license.php .

package darkside

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/zancas/zingo-indexer/hash32"
	"github.com/zancas/zingo-indexer/parser"
	"github.com/zancas/zingo-indexer/wire"
)

// a v4 transaction with no shielded parts
const txHex = "0400008085202f89010000000000000000000000000000000000000" +
	"000000000000000000000000000ffffffff03580101ffffffff0200ca9a3b000000001976a9146b" +
	"9ae8c14e917966b0afdf422d32dbac40486d3988ac80b2e60e0000000017a9146708e6670db0b95" +
	"0dac68031025cc5b63213a4918700000000000000000000000000000000000000"

func call(t *testing.T, n *Node, method string, params ...interface{}) json.RawMessage {
	t.Helper()
	var p []json.RawMessage
	for _, a := range params {
		b, _ := json.Marshal(a)
		p = append(p, b)
	}
	r, err := n.RawRequest(method, p)
	if err != nil {
		t.Fatal(method, "failed:", err)
	}
	return r
}

func TestCreateBlock(t *testing.T) {
	b := parser.NewBlock()
	rest, err := b.ParseFromSlice(CreateBlock(1000, 7))
	if err != nil {
		t.Fatal(err)
	}
	if len(rest) != 0 {
		t.Fatal("trailing bytes")
	}
	if b.GetHeight() != 1000 {
		t.Fatal("unexpected height", b.GetHeight())
	}
	if bytes.Equal(CreateBlock(1000, 7), CreateBlock(1000, 8)) {
		t.Fatal("nonce does not change the block")
	}
}

func TestApplyAndServe(t *testing.T) {
	n := New(100, "regtest", "c2d6d0b4")
	if _, err := n.RawRequest("getblockchaininfo", nil); err == nil {
		t.Fatal("getblockchaininfo should fail with no blocks")
	}
	if err := n.StageBlocksCreate(100, 0, 5); err != nil {
		t.Fatal(err)
	}
	if err := n.ApplyStaged(103); err != nil {
		t.Fatal(err)
	}

	info, err := wire.DecodeBlockchainInfo(call(t, n, "getblockchaininfo"))
	if err != nil {
		t.Fatal(err)
	}
	if info.Blocks != 103 || info.Chain != "regtest" {
		t.Fatal("unexpected info", info)
	}
	h103, _ := n.BlockHash(103)
	if info.BestBlockHash != h103 {
		t.Fatal("best block hash mismatch")
	}

	// block 104 exists but is not presented
	if _, err := n.RawRequest("getblockhash", []json.RawMessage{json.RawMessage("104")}); err == nil ||
		!strings.HasPrefix(err.Error(), "-8:") {
		t.Fatal("expected out of range, got", err)
	}

	// the chain is linked
	for h := 101; h <= 103; h++ {
		reply, err := wire.DecodeBlock(call(t, n, "getblock", hash32.Encode(mustHash(t, n, h)), 0))
		if err != nil {
			t.Fatal(err)
		}
		b := parser.NewBlock()
		if _, err := b.ParseFromSlice(reply.Raw); err != nil {
			t.Fatal(err)
		}
		if b.GetDisplayPrevHash() != mustHash(t, n, h-1) {
			t.Fatal("block", h, "does not link to its parent")
		}
		if b.GetDisplayHash() != mustHash(t, n, h) {
			t.Fatal("block", h, "hash mismatch")
		}
	}

	reply, err := wire.DecodeBlock(call(t, n, "getblock", "102", 1))
	if err != nil {
		t.Fatal(err)
	}
	if reply.Kind != wire.BlockObject || reply.Object.Height != 102 || reply.Object.Confirmations != 2 {
		t.Fatal("unexpected verbose block", reply.Object)
	}
	if len(reply.Object.Tx) != 1 || reply.Object.Trees.Sapling == nil {
		t.Fatal("unexpected verbose block contents")
	}
}

func mustHash(t *testing.T, n *Node, height int) hash32.T {
	t.Helper()
	h, err := n.BlockHash(height)
	if err != nil {
		t.Fatal(err)
	}
	return h
}

func TestReorg(t *testing.T) {
	n := New(10, "regtest", "c2d6d0b4")
	if err := n.StageBlocksCreate(10, 0, 3); err != nil {
		t.Fatal(err)
	}
	if err := n.ApplyStaged(12); err != nil {
		t.Fatal(err)
	}
	a, b := mustHash(t, n, 10), mustHash(t, n, 11)

	if err := n.StageBlocksCreate(11, 1, 3); err != nil {
		t.Fatal(err)
	}
	if err := n.ApplyStaged(13); err != nil {
		t.Fatal(err)
	}
	if mustHash(t, n, 10) != a {
		t.Fatal("common ancestor changed")
	}
	if mustHash(t, n, 11) == b {
		t.Fatal("block 11 was not replaced")
	}
	if _, err := n.RawRequest("getblock", []json.RawMessage{json.RawMessage(`"` + b.String() + `"`)}); err == nil {
		t.Fatal("replaced block is still served")
	}

	// staging a block above the tip plus one is a gap
	if err := n.StageBlocksCreate(20, 0, 1); err != nil {
		t.Fatal(err)
	}
	if err := n.ApplyStaged(20); err == nil {
		t.Fatal("gap not detected")
	}
}

func TestTransactions(t *testing.T) {
	raw, _ := hex.DecodeString(txHex)
	n := New(10, "regtest", "c2d6d0b4")
	if err := n.StageBlocksCreate(10, 0, 2); err != nil {
		t.Fatal(err)
	}
	if err := n.ApplyStaged(11); err != nil {
		t.Fatal(err)
	}
	before := mustHash(t, n, 11)

	// sendrawtransaction places it in the mempool
	txid, err := wire.DecodeSendResult(call(t, n, "sendrawtransaction", hex.EncodeToString(raw)))
	if err != nil {
		t.Fatal(err)
	}
	if txid != TxID(raw) {
		t.Fatal("unexpected txid")
	}
	mempool, err := wire.DecodeTxids(call(t, n, "getrawmempool"))
	if err != nil {
		t.Fatal(err)
	}
	if len(mempool) != 1 || mempool[0] != txid {
		t.Fatal("unexpected mempool", mempool)
	}
	tx, err := wire.DecodeRawTransaction(call(t, n, "getrawtransaction", txid.String(), 1))
	if err != nil {
		t.Fatal(err)
	}
	if tx.Kind != wire.TxPartial || tx.Object.Height != -1 {
		t.Fatal("mempool transaction should have no height")
	}
	if len(n.IncomingTransactions()) != 1 {
		t.Fatal("incoming transaction not recorded")
	}

	// mining it removes it from the mempool and changes the block hash
	if err := n.StageTransaction(11, raw); err != nil {
		t.Fatal(err)
	}
	if err := n.ApplyStaged(11); err != nil {
		t.Fatal(err)
	}
	if mustHash(t, n, 11) == before {
		t.Fatal("block hash unchanged after adding a transaction")
	}
	mempool, _ = wire.DecodeTxids(call(t, n, "getrawmempool"))
	if len(mempool) != 0 {
		t.Fatal("mined transaction still in mempool")
	}
	tx, err = wire.DecodeRawTransaction(call(t, n, "getrawtransaction", txid.String(), 1))
	if err != nil {
		t.Fatal(err)
	}
	if tx.Kind != wire.TxObject || tx.Object.Height != 11 || !bytes.Equal(tx.Bytes(), raw) {
		t.Fatal("unexpected mined transaction", tx.Object)
	}

	n.RemoveMempool(txid)
	if _, err := n.RawRequest("getrawtransaction",
		[]json.RawMessage{json.RawMessage(`"` + hash32.Nil.String() + `"`), json.RawMessage("0")}); err == nil ||
		!strings.HasPrefix(err.Error(), "-5:") {
		t.Fatal("expected not found, got", err)
	}
}

func TestTreeStateAndFailure(t *testing.T) {
	n := New(10, "regtest", "c2d6d0b4")
	if err := n.StageBlocks(CreateBlock(10, 0)); err != nil {
		t.Fatal(err)
	}
	if err := n.StageBlocksFrom(strings.NewReader(hex.EncodeToString(CreateBlock(11, 0)) + "\n")); err != nil {
		t.Fatal(err)
	}
	if err := n.ApplyStaged(11); err != nil {
		t.Fatal(err)
	}
	h := mustHash(t, n, 11)
	n.AddTreeState(wire.TreeState{Height: 11, Hash: h, Time: 5,
		Sapling: wire.Pool{Commitments: wire.Commitments{FinalState: []byte{1, 2}}}})

	ts, err := wire.DecodeTreeState(call(t, n, "z_gettreestate", h.String()))
	if err != nil {
		t.Fatal(err)
	}
	if ts.Height != 11 || !bytes.Equal(ts.Sapling.Commitments.FinalState, []byte{1, 2}) {
		t.Fatal("unexpected treestate", ts)
	}
	ts, err = wire.DecodeTreeState(call(t, n, "z_gettreestate", "10"))
	if err != nil {
		t.Fatal(err)
	}
	if ts.Height != 10 || len(ts.Sapling.Commitments.FinalState) != 0 {
		t.Fatal("unexpected default treestate", ts)
	}

	down := errors.New("connection refused")
	n.SetFailure(down)
	if _, err := n.RawRequest("getinfo", nil); err != down {
		t.Fatal("failure not injected")
	}
	n.SetFailure(nil)
	call(t, n, "getinfo")
}
