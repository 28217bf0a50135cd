// Copyright (c) 2019-present The Zcash developers
// Distributed under the MIT software license, see the accompanying
// file COPYING or https://www.opensource.org/licenses/mit-license.php .

package parser

import (
	"bytes"
	"encoding/hex"
	"testing"

	"github.com/zancas/zingo-indexer/internal/bytestring"
)

// a well-formed v4 coinbase transaction (regtest)
const coinbaseTxHex = "0400008085202f89010000000000000000000000000000000000000" +
	"000000000000000000000000000ffffffff03580101ffffffff0200ca9a3b000000001976a9146b" +
	"9ae8c14e917966b0afdf422d32dbac40486d3988ac80b2e60e0000000017a9146708e6670db0b95" +
	"0dac68031025cc5b63213a4918700000000000000000000000000000000000000"

// v4 coinbase transaction from mainnet block 797905
const coinbase797905Hex = "0400008085202f890100000000000000000000000000000000000000000000000000" +
	"00000000000000ffffffff2a03d12c0c00043855975e464b8896790758f824ceac97836" +
	"22c17ed38f1669b8a45ce1da857dbbe7950e2ffffffff02a0ebce1d000000001976a914" +
	"7ed15946ec14ae0cd8fa8991eb6084452eb3f77c88ac405973070000000017a914e445cf" +
	"a944b6f2bdacefbda904a81d5fdd26d77f8700000000000000000000000000000000000000"

func mustDecodeHex(t *testing.T, s string) []byte {
	t.Helper()
	b, err := hex.DecodeString(s)
	if err != nil {
		t.Fatal(err)
	}
	return b
}

// buildV5 serializes a v5 transaction with one transparent output and
// the given numbers of shielded elements; the element contents are zeros.
func buildV5(spends, outputs, actions int) []byte {
	b := []byte{0x05, 0x00, 0x00, 0x80} // fOverwintered, version 5
	b = append(b, 0x0a, 0x27, 0xa7, 0x26) // nVersionGroupId
	b = append(b, 0x21, 0x96, 0x51, 0x37) // nConsensusBranchId
	b = append(b, make([]byte, 8)...)     // nLockTime, nExpiryHeight
	b = append(b, 0)                      // tx_in_count
	b = append(b, 1)                      // tx_out_count
	b = append(b, make([]byte, 8)...)
	b = bytestring.AppendCompactLengthPrefixed(b, []byte{0x51})

	b = bytestring.AppendCompactSize(b, uint64(spends))
	b = append(b, make([]byte, spendSizeV5*spends)...)
	b = bytestring.AppendCompactSize(b, uint64(outputs))
	b = append(b, make([]byte, outputSizeV5*outputs)...)
	if spends+outputs > 0 {
		b = append(b, make([]byte, 8)...) // valueBalanceSapling
	}
	if spends > 0 {
		b = append(b, make([]byte, 32)...) // anchorSapling
	}
	b = append(b, make([]byte, (192+64)*spends+192*outputs)...)
	if spends+outputs > 0 {
		b = append(b, make([]byte, 64)...) // bindingSigSapling
	}

	b = bytestring.AppendCompactSize(b, uint64(actions))
	b = append(b, make([]byte, actionSize*actions)...)
	if actions > 0 {
		b = append(b, make([]byte, 1+8+32)...)
		b = bytestring.AppendCompactLengthPrefixed(b, make([]byte, 300))
		b = append(b, make([]byte, 64*actions+64)...)
	}
	return b
}

func TestV4CoinbaseParse(t *testing.T) {
	raw := mustDecodeHex(t, coinbaseTxHex)
	tx := NewTransaction()
	rest, err := tx.ParseFromSlice(raw)
	if err != nil {
		t.Fatal("parse failed:", err)
	}
	if len(rest) != 0 {
		t.Fatal("unexpected trailing bytes", len(rest))
	}
	if tx.Version != 4 || tx.VersionGroupID != versionGroupIDV4 {
		t.Fatal("unexpected version", tx.Version, tx.VersionGroupID)
	}
	if tx.TransparentInputs != 1 || tx.TransparentOutputs != 2 {
		t.Fatal("unexpected transparent counts", tx.TransparentInputs, tx.TransparentOutputs)
	}
	if tx.HasShieldedElements() {
		t.Fatal("coinbase has no shielded elements")
	}
	if !bytes.Equal(tx.Bytes(), raw) {
		t.Fatal("Bytes() does not cover the transaction")
	}
	if !bytes.Equal(tx.coinbaseScript, []byte{0x58, 0x01, 0x01}) {
		t.Fatalf("unexpected coinbase script %x", tx.coinbaseScript)
	}
}

func TestV5Parse(t *testing.T) {
	tests := []struct {
		spends, outputs, actions int
	}{
		{0, 0, 0},
		{1, 0, 0},
		{0, 2, 0},
		{0, 0, 2},
		{2, 1, 3},
	}
	for i, tt := range tests {
		raw := buildV5(tt.spends, tt.outputs, tt.actions)
		// a following transaction must be left untouched
		data := append(append([]byte{}, raw...), 0xde, 0xad)
		tx := NewTransaction()
		rest, err := tx.ParseFromSlice(data)
		if err != nil {
			t.Fatalf("case %d: parse failed: %v", i, err)
		}
		if !bytes.Equal(rest, []byte{0xde, 0xad}) {
			t.Fatalf("case %d: unexpected rest %x", i, rest)
		}
		if len(tx.Bytes()) != len(raw) {
			t.Fatalf("case %d: tx length %d, want %d", i, len(tx.Bytes()), len(raw))
		}
		if tx.SaplingSpends != tt.spends || tx.SaplingOutputs != tt.outputs || tx.OrchardActions != tt.actions {
			t.Fatalf("case %d: unexpected counts %+v", i, tx)
		}
		if tx.TransparentInputs != 0 || tx.TransparentOutputs != 1 {
			t.Fatalf("case %d: unexpected transparent counts", i)
		}

		// every truncation must fail
		for n := 0; n < len(raw); n += 97 {
			if _, err := NewTransaction().ParseFromSlice(raw[:n]); err == nil {
				t.Fatalf("case %d: truncated at %d parsed", i, n)
			}
		}
	}
}

func TestTransactionErrors(t *testing.T) {
	raw := mustDecodeHex(t, coinbaseTxHex)

	notOverwintered := append([]byte{}, raw...)
	notOverwintered[3] = 0x00
	if _, err := NewTransaction().ParseFromSlice(notOverwintered); err == nil {
		t.Fatal("transaction without fOverwintered parsed")
	}

	v3 := append([]byte{}, raw...)
	v3[0] = 0x03
	if _, err := NewTransaction().ParseFromSlice(v3); err == nil {
		t.Fatal("version 3 transaction parsed")
	}

	badGroup := append([]byte{}, raw...)
	badGroup[4] = 0x00
	if _, err := NewTransaction().ParseFromSlice(badGroup); err == nil {
		t.Fatal("bad version group id parsed")
	}

	badV5Group := buildV5(0, 0, 0)
	badV5Group[4] = 0x00
	if _, err := NewTransaction().ParseFromSlice(badV5Group); err == nil {
		t.Fatal("bad v5 version group id parsed")
	}
}
