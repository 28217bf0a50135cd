// Copyright (c) 2019-present The Zcash developers
// Distributed under the MIT software license, see the accompanying
// file COPYING or https://www.opensource.org/licenses/mit-license.php .

package parser

import (
	"bytes"
	"testing"

	"github.com/zancas/zingo-indexer/hash32"
	"github.com/zancas/zingo-indexer/internal/bytestring"
)

func buildBlock(t *testing.T, prev hash32.T, txs ...[]byte) []byte {
	t.Helper()
	ser, err := testHeader(prev, 1234).MarshalBinary()
	if err != nil {
		t.Fatal(err)
	}
	ser = bytestring.AppendCompactSize(ser, uint64(len(txs)))
	for _, tx := range txs {
		ser = append(ser, tx...)
	}
	return ser
}

func TestBlockParser(t *testing.T) {
	coinbase := mustDecodeHex(t, coinbase797905Hex)
	v4 := mustDecodeHex(t, coinbaseTxHex)
	v5 := buildV5(1, 2, 1)
	prev := hash32.T{0xaa}
	raw := buildBlock(t, prev, coinbase, v4, v5)

	block := NewBlock()
	rest, err := block.ParseFromSlice(raw)
	if err != nil {
		t.Fatal("parse failed:", err)
	}
	if len(rest) != 0 {
		t.Fatal("unexpected trailing bytes", len(rest))
	}
	if block.GetTxCount() != 3 || block.GetVersion() != 4 {
		t.Fatal("unexpected block", block.GetTxCount(), block.GetVersion())
	}
	if block.GetHeight() != 797905 {
		t.Fatal("unexpected height", block.GetHeight())
	}
	if block.GetDisplayPrevHash() != prev || block.Time() != 1234 {
		t.Fatal("unexpected header fields")
	}
	if block.GetDisplayHash() != block.Header().GetDisplayHash() {
		t.Fatal("block hash differs from header hash")
	}

	// The transactions tile the block body exactly, in order.
	txs := block.Transactions()
	want := [][]byte{coinbase, v4, v5}
	offset := len(raw) - len(coinbase) - len(v4) - len(v5)
	for i, tx := range txs {
		if !bytes.Equal(tx.Bytes(), want[i]) {
			t.Fatalf("transaction %d bytes differ", i)
		}
		if &tx.Bytes()[0] != &raw[offset] {
			t.Fatalf("transaction %d does not alias the block", i)
		}
		offset += len(tx.Bytes())
	}
	if !txs[2].HasShieldedElements() {
		t.Fatal("v5 transaction should have shielded elements")
	}
}

func TestBlockParserErrors(t *testing.T) {
	coinbase := mustDecodeHex(t, coinbase797905Hex)
	raw := buildBlock(t, hash32.Nil, coinbase)

	if _, err := NewBlock().ParseFromSlice(raw[:100]); err == nil {
		t.Fatal("truncated header parsed")
	}
	if _, err := NewBlock().ParseFromSlice(raw[:len(raw)-1]); err == nil {
		t.Fatal("truncated transaction parsed")
	}
	if _, err := NewBlock().ParseFromSlice(buildBlock(t, hash32.Nil)); err == nil {
		t.Fatal("block without transactions parsed")
	}

	// declared two transactions, only one present
	twoTx := buildBlock(t, hash32.Nil, coinbase)
	twoTx[len(twoTx)-len(coinbase)-1] = 2
	if _, err := NewBlock().ParseFromSlice(twoTx); err == nil {
		t.Fatal("missing transaction not detected")
	}

	// a v5 coinbase without inputs has no height
	block := NewBlock()
	if _, err := block.ParseFromSlice(buildBlock(t, hash32.Nil, buildV5(0, 0, 0))); err != nil {
		t.Fatal(err)
	}
	if block.GetHeight() != -1 {
		t.Fatal("expected unknown height, got", block.GetHeight())
	}
}
