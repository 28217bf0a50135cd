// Copyright (c) 2019-present The Zcash developers
// Distributed under the MIT software license, see the accompanying
// file COPYING or https://www.opensource.org/licenses/mit-license.php .

package wire

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/zancas/zingo-indexer/hash32"
)

const (
	hashA = "0000000000a1a2a3a4a5a6a7a8a9aaabacadaeafb0b1b2b3b4b5b6b7b8b9babb"
	hashB = "0000000000c1c2c3c4c5c6c7c8c9cacbcccdcecfd0d1d2d3d4d5d6d7d8d9dadb"
)

func mustHash(t *testing.T, s string) hash32.T {
	h, err := hash32.Decode(s)
	if err != nil {
		t.Fatal(err)
	}
	return h
}

func expectDecodeError(t *testing.T, err error, target error, field string) {
	t.Helper()
	if !errors.Is(err, target) {
		t.Fatalf("want %v, have %v", target, err)
	}
	var de *DecodeError
	if !errors.As(err, &de) {
		t.Fatalf("not a DecodeError: %v", err)
	}
	if de.Field != field {
		t.Fatalf("want field %q, have %q", field, de.Field)
	}
}

func TestDecodeBlockchainInfo(t *testing.T) {
	raw := json.RawMessage(`{
		"chain": "main",
		"blocks": 2500000,
		"bestblockhash": "` + hashA + `",
		"estimatedheight": 2500001,
		"upgrades": {"c2d6d0b4": {"name": "NU5", "activationheight": 1687104, "status": "active"}},
		"consensus": {"chaintip": "c2d6d0b4", "nextblock": "c2d6d0b4"}
	}`)
	info, err := DecodeBlockchainInfo(raw)
	if err != nil {
		t.Fatal(err)
	}
	if info.Chain != "main" || info.Blocks != 2500000 || info.EstimatedHeight != 2500001 {
		t.Fatal("unexpected info", info)
	}
	if info.BestBlockHash != mustHash(t, hashA) {
		t.Fatal("unexpected best block hash")
	}
	if info.Upgrades["c2d6d0b4"].ActivationHeight != 1687104 {
		t.Fatal("unexpected upgrades", info.Upgrades)
	}
	if info.Consensus.Chaintip != "c2d6d0b4" {
		t.Fatal("unexpected consensus", info.Consensus)
	}

	_, err = DecodeBlockchainInfo(json.RawMessage(`{"blocks": 5}`))
	expectDecodeError(t, err, ErrMissingField, "bestblockhash")

	_, err = DecodeBlockchainInfo(json.RawMessage(`{"blocks": -5, "bestblockhash": "` + hashA + `"}`))
	expectDecodeError(t, err, ErrMalformedJSON, "blocks")

	_, err = DecodeBlockchainInfo(json.RawMessage(`[1,2]`))
	expectDecodeError(t, err, ErrMalformedJSON, "")
}

func TestDecodeBlock(t *testing.T) {
	raw := json.RawMessage(`{
		"hash": "` + hashA + `",
		"confirmations": 3,
		"height": 11,
		"time": 1700000000,
		"tx": ["` + hashB + `"],
		"trees": {"sapling": {"size": 1000}, "orchard": {"size": 20}}
	}`)
	r, err := DecodeBlock(raw)
	if err != nil {
		t.Fatal(err)
	}
	if r.Kind != BlockObject || r.Object == nil {
		t.Fatal("expected object reply")
	}
	b := r.Object
	if b.Hash != mustHash(t, hashA) || b.Height != 11 || b.Time != 1700000000 || b.Confirmations != 3 {
		t.Fatal("unexpected block", b)
	}
	if len(b.Tx) != 1 || b.Tx[0] != mustHash(t, hashB) {
		t.Fatal("unexpected tx list", b.Tx)
	}
	if b.Trees.Sapling.Size != 1000 || b.Trees.Orchard.Size != 20 {
		t.Fatal("unexpected trees", b.Trees)
	}

	// pre-NU5 blocks have no orchard pool
	r, err = DecodeBlock(json.RawMessage(`{"hash": "` + hashA + `", "confirmations": -1,
		"tx": [], "trees": {"sapling": {"size": 1}}}`))
	if err != nil {
		t.Fatal(err)
	}
	if r.Object.Trees.Orchard != nil || r.Object.Confirmations != -1 {
		t.Fatal("unexpected orchard tree", r.Object.Trees.Orchard)
	}

	r, err = DecodeBlock(json.RawMessage(`"0400aabb"`))
	if err != nil {
		t.Fatal(err)
	}
	if r.Kind != BlockRaw || !bytes.Equal(r.Raw, []byte{4, 0, 0xaa, 0xbb}) {
		t.Fatal("unexpected raw block", r)
	}

	_, err = DecodeBlock(json.RawMessage(`"0400aab"`))
	expectDecodeError(t, err, ErrMalformedHex, "block")

	_, err = DecodeBlock(json.RawMessage(`"zz"`))
	expectDecodeError(t, err, ErrMalformedHex, "block")

	_, err = DecodeBlock(json.RawMessage(`{"hash": "` + hashA + `", "confirmations": 1, "trees": {}}`))
	expectDecodeError(t, err, ErrMissingField, "tx")

	_, err = DecodeBlock(json.RawMessage(`{"hash": "` + hashA + `", "confirmations": 1, "tx": []}`))
	expectDecodeError(t, err, ErrMissingField, "trees")

	_, err = DecodeBlock(json.RawMessage(`{"hash": "` + hashA + `", "confirmations": 1,
		"tx": ["abcd"], "trees": {}}`))
	expectDecodeError(t, err, ErrMalformedHex, "tx[0]")

	_, err = DecodeBlock(json.RawMessage(`{"hash": "` + hashA + `", "confirmations": 1,
		"tx": [], "trees": {"sapling": {}}}`))
	expectDecodeError(t, err, ErrMissingField, "trees.sapling.size")

	_, err = DecodeBlock(json.RawMessage(`12`))
	expectDecodeError(t, err, ErrMalformedJSON, "")
}

func TestDecodeRawTransaction(t *testing.T) {
	r, err := DecodeRawTransaction(json.RawMessage(`{"hex": "deadbeef", "height": 123456, "confirmations": 7}`))
	if err != nil {
		t.Fatal(err)
	}
	if r.Kind != TxObject || r.Object.Height != 123456 || r.Object.Confirmations != 7 {
		t.Fatal("unexpected reply", r)
	}
	if !bytes.Equal(r.Bytes(), []byte{0xde, 0xad, 0xbe, 0xef}) {
		t.Fatal("unexpected bytes")
	}

	r, err = DecodeRawTransaction(json.RawMessage(`{"hex": "deadbeef", "txid": "` + hashB + `"}`))
	if err != nil {
		t.Fatal(err)
	}
	if r.Kind != TxPartial || r.Object.Height != -1 || r.Object.Confirmations != 0 {
		t.Fatal("unexpected partial reply", r)
	}
	if r.Object.TxID != mustHash(t, hashB) {
		t.Fatal("unexpected txid")
	}

	r, err = DecodeRawTransaction(json.RawMessage(`"deadbeef"`))
	if err != nil {
		t.Fatal(err)
	}
	if r.Kind != TxRaw || !bytes.Equal(r.Bytes(), []byte{0xde, 0xad, 0xbe, 0xef}) {
		t.Fatal("unexpected raw reply", r)
	}

	_, err = DecodeRawTransaction(json.RawMessage(`{"height": 1, "confirmations": 1}`))
	expectDecodeError(t, err, ErrMissingField, "hex")

	_, err = DecodeRawTransaction(json.RawMessage(`{"hex": "deadbeef"}`))
	expectDecodeError(t, err, ErrMissingField, "txid")

	_, err = DecodeRawTransaction(json.RawMessage(`{"hex": "xyz", "txid": "` + hashB + `"}`))
	expectDecodeError(t, err, ErrMalformedHex, "hex")
}

func TestDecodeTreeState(t *testing.T) {
	raw := json.RawMessage(`{
		"height": 380640,
		"hash": "` + hashA + `",
		"time": 1540779438,
		"sapling": {"commitments": {"finalState": "000000"}},
		"orchard": {"commitments": {"finalState": "01aa"}}
	}`)
	ts, err := DecodeTreeState(raw)
	if err != nil {
		t.Fatal(err)
	}
	if ts.Height != 380640 || ts.Time != 1540779438 || ts.Hash != mustHash(t, hashA) {
		t.Fatal("unexpected treestate", ts)
	}
	if !bytes.Equal(ts.Sapling.Commitments.FinalState, []byte{0, 0, 0}) ||
		!bytes.Equal(ts.Orchard.Commitments.FinalState, []byte{1, 0xaa}) {
		t.Fatal("unexpected final states")
	}

	ts, err = DecodeTreeState(json.RawMessage(`{"height": 1, "hash": "` + hashA + `", "time": 2,
		"sapling": {"skipHash": "` + hashB + `"}, "orchard": {}}`))
	if err != nil {
		t.Fatal(err)
	}
	if len(ts.Sapling.Commitments.FinalState) != 0 {
		t.Fatal("skipHash pool should have an empty final state")
	}

	_, err = DecodeTreeState(json.RawMessage(`{"height": 1, "hash": "` + hashA + `", "time": 2,
		"sapling": {}}`))
	expectDecodeError(t, err, ErrMissingField, "orchard")

	_, err = DecodeTreeState(json.RawMessage(`{"height": 1, "hash": "` + hashA + `", "time": 2,
		"sapling": {"commitments": {"finalState": "0"}}, "orchard": {}}`))
	expectDecodeError(t, err, ErrMalformedHex, "sapling.commitments.finalState")
}

func TestDecodeTxids(t *testing.T) {
	txids, err := DecodeTxids(json.RawMessage(`["` + hashA + `", "` + hashB + `"]`))
	if err != nil {
		t.Fatal(err)
	}
	if len(txids) != 2 || txids[1] != mustHash(t, hashB) {
		t.Fatal("unexpected txids", txids)
	}
	txids, err = DecodeTxids(json.RawMessage(`[]`))
	if err != nil || len(txids) != 0 {
		t.Fatal("empty mempool", txids, err)
	}
	_, err = DecodeTxids(json.RawMessage(`{}`))
	expectDecodeError(t, err, ErrMalformedJSON, "")
	_, err = DecodeTxids(json.RawMessage(`["` + hashA + `", "abc"]`))
	expectDecodeError(t, err, ErrMalformedHex, "[1]")
}

func TestDecodeScalars(t *testing.T) {
	h, err := DecodeBlockHash(json.RawMessage(`"` + hashA + `"`))
	if err != nil || h != mustHash(t, hashA) {
		t.Fatal("DecodeBlockHash", h, err)
	}
	h, err = DecodeSendResult(json.RawMessage(hashB))
	if err != nil || h != mustHash(t, hashB) {
		t.Fatal("DecodeSendResult unquoted", h, err)
	}
	h, err = DecodeSendResult(json.RawMessage(`"` + hashB + `"`))
	if err != nil || h != mustHash(t, hashB) {
		t.Fatal("DecodeSendResult quoted", h, err)
	}
	info, err := DecodeInfo(json.RawMessage(`{"build": "v5.9.0", "subversion": "/MagicBean:5.9.0/"}`))
	if err != nil || info.Build != "v5.9.0" || info.Subversion != "/MagicBean:5.9.0/" {
		t.Fatal("DecodeInfo", info, err)
	}
	_, err = DecodeInfo(json.RawMessage(`{"build": "v5.9.0"}`))
	expectDecodeError(t, err, ErrMissingField, "subversion")
}

func TestDecodeDispatch(t *testing.T) {
	v, err := Decode("getbestblockhash", json.RawMessage(`"`+hashA+`"`))
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := v.(hash32.T); !ok {
		t.Fatalf("unexpected type %T", v)
	}
	v, err = Decode("getrawmempool", json.RawMessage(`[]`))
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := v.([]hash32.T); !ok {
		t.Fatalf("unexpected type %T", v)
	}
	_, err = Decode("getpeerinfo", json.RawMessage(`[]`))
	if !errors.Is(err, ErrUnknownMethod) {
		t.Fatal("expected ErrUnknownMethod, got", err)
	}
	if !strings.Contains(err.Error(), "getpeerinfo") {
		t.Fatal("error should name the method", err)
	}
}

func TestReplyEncoding(t *testing.T) {
	// The reply types encode into the shapes the decoder accepts.
	ts := TreeState{
		Height:  5,
		Hash:    mustHash(t, hashA),
		Time:    6,
		Sapling: Pool{Commitments{FinalState: HexBytes{1, 2}}},
		Orchard: Pool{Commitments{FinalState: HexBytes{3}}},
	}
	raw, err := json.Marshal(&ts)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(raw), `"finalState":"0102"`) {
		t.Fatal("unexpected encoding", string(raw))
	}
	decoded, err := DecodeTreeState(raw)
	if err != nil {
		t.Fatal(err)
	}
	if decoded.Height != 5 || decoded.Hash != ts.Hash ||
		!bytes.Equal(decoded.Orchard.Commitments.FinalState, []byte{3}) {
		t.Fatal("unexpected decode", decoded)
	}

	var b HexBytes
	if err := json.Unmarshal([]byte(`"abc"`), &b); !errors.Is(err, ErrMalformedHex) {
		t.Fatal("expected ErrMalformedHex, got", err)
	}
}
