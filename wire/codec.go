// Copyright (c) 2019-present The Zcash developers
// Distributed under the MIT software license, see the accompanying
// file COPYING or https://www.opensource.org/licenses/mit-license.php .

// Package wire decodes the JSON-RPC replies of zcashd and zebrad into
// typed values. Replies that come in more than one shape are decoded
// into a tagged variant by trying the most specific shape first.
package wire

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"

	"github.com/zancas/zingo-indexer/hash32"
)

// Decode dispatches on the RPC method name and returns one of the
// typed replies of this package.
func Decode(method string, raw json.RawMessage) (interface{}, error) {
	switch method {
	case "getblockchaininfo":
		return DecodeBlockchainInfo(raw)
	case "getblock":
		return DecodeBlock(raw)
	case "getrawtransaction":
		return DecodeRawTransaction(raw)
	case "z_gettreestate":
		return DecodeTreeState(raw)
	case "getrawmempool":
		return DecodeTxids(raw)
	case "getblockhash", "getbestblockhash":
		return decodeHash(method, raw)
	case "sendrawtransaction":
		return DecodeSendResult(raw)
	case "getinfo":
		return DecodeInfo(raw)
	}
	return nil, &DecodeError{Method: method, Err: ErrUnknownMethod}
}

func DecodeBlockchainInfo(raw json.RawMessage) (*BlockchainInfo, error) {
	o, err := parseObject("getblockchaininfo", raw)
	if err != nil {
		return nil, err
	}
	var info BlockchainInfo
	if info.Blocks, err = o.uint32("blocks"); err != nil {
		return nil, err
	}
	if info.BestBlockHash, err = o.hash("bestblockhash"); err != nil {
		return nil, err
	}
	if o.has("chain") {
		if info.Chain, err = o.str("chain"); err != nil {
			return nil, err
		}
	}
	if o.has("estimatedheight") {
		if info.EstimatedHeight, err = o.uint32("estimatedheight"); err != nil {
			return nil, err
		}
	}
	if o.has("upgrades") {
		if err := json.Unmarshal(o.fields["upgrades"], &info.Upgrades); err != nil {
			return nil, malformedJSON(o.method, "upgrades", err)
		}
	}
	if o.has("consensus") {
		if err := json.Unmarshal(o.fields["consensus"], &info.Consensus); err != nil {
			return nil, malformedJSON(o.method, "consensus", err)
		}
	}
	return &info, nil
}

// DecodeBlock accepts both the verbosity 1 object and the verbosity 0
// hex string.
func DecodeBlock(raw json.RawMessage) (*BlockReply, error) {
	const method = "getblock"
	switch firstByte(raw) {
	case '{':
		o, err := parseObject(method, raw)
		if err != nil {
			return nil, err
		}
		b, err := blockObject(o)
		if err != nil {
			return nil, err
		}
		return &BlockReply{Kind: BlockObject, Object: b}, nil
	case '"':
		b, err := decodeHexScalar(method, "block", raw)
		if err != nil {
			return nil, err
		}
		return &BlockReply{Kind: BlockRaw, Raw: b}, nil
	}
	return nil, malformedJSON(method, "", fmt.Errorf("unexpected reply %.20q", raw))
}

func blockObject(o object) (*BlockInfo, error) {
	var b BlockInfo
	var err error
	if b.Hash, err = o.hash("hash"); err != nil {
		return nil, err
	}
	if b.Confirmations, err = o.int("confirmations"); err != nil {
		return nil, err
	}
	if o.has("height") {
		if b.Height, err = o.uint32("height"); err != nil {
			return nil, err
		}
	}
	if o.has("time") {
		if b.Time, err = o.int("time"); err != nil {
			return nil, err
		}
	}
	if !o.has("tx") {
		return nil, missing(o.method, "tx")
	}
	var txids []string
	if err := json.Unmarshal(o.fields["tx"], &txids); err != nil {
		return nil, malformedJSON(o.method, "tx", err)
	}
	b.Tx = make([]hash32.T, len(txids))
	for i, s := range txids {
		field := fmt.Sprintf("tx[%d]", i)
		if b.Tx[i], err = hashFromString(o.method, field, s); err != nil {
			return nil, err
		}
	}
	trees, err := o.child("trees")
	if err != nil {
		return nil, err
	}
	for _, pool := range []struct {
		name string
		dst  **TreeSize
	}{{"sapling", &b.Trees.Sapling}, {"orchard", &b.Trees.Orchard}} {
		if !trees.has(pool.name) {
			continue
		}
		p, err := trees.child(pool.name)
		if err != nil {
			return nil, err
		}
		size, err := p.uint32("size")
		if err != nil {
			return nil, err
		}
		*pool.dst = &TreeSize{Size: size}
	}
	return &b, nil
}

// DecodeRawTransaction tries the full object (hex, height and
// confirmations), then the partial object (hex and txid), then a bare hex
// string.
func DecodeRawTransaction(raw json.RawMessage) (*TransactionReply, error) {
	const method = "getrawtransaction"
	switch firstByte(raw) {
	case '{':
		o, err := parseObject(method, raw)
		if err != nil {
			return nil, err
		}
		if o.has("height") && o.has("confirmations") {
			var tx TransactionInfo
			if tx.Hex, err = o.hex("hex"); err != nil {
				return nil, err
			}
			if tx.Height, err = o.int("height"); err != nil {
				return nil, err
			}
			if tx.Confirmations, err = o.int("confirmations"); err != nil {
				return nil, err
			}
			if o.has("txid") {
				if tx.TxID, err = o.hash("txid"); err != nil {
					return nil, err
				}
			}
			return &TransactionReply{Kind: TxObject, Object: &tx}, nil
		}
		tx := TransactionInfo{Height: -1}
		if tx.Hex, err = o.hex("hex"); err != nil {
			return nil, err
		}
		if tx.TxID, err = o.hash("txid"); err != nil {
			return nil, err
		}
		return &TransactionReply{Kind: TxPartial, Object: &tx}, nil
	case '"':
		b, err := decodeHexScalar(method, "transaction", raw)
		if err != nil {
			return nil, err
		}
		return &TransactionReply{Kind: TxRaw, Raw: b}, nil
	}
	return nil, malformedJSON(method, "", fmt.Errorf("unexpected reply %.20q", raw))
}

// DecodeTreeState requires both pools to be present. A pool that reports
// only a skipHash (tree unchanged since an earlier block) decodes with an
// empty final state.
func DecodeTreeState(raw json.RawMessage) (*TreeState, error) {
	o, err := parseObject("z_gettreestate", raw)
	if err != nil {
		return nil, err
	}
	var ts TreeState
	if ts.Height, err = o.uint32("height"); err != nil {
		return nil, err
	}
	if ts.Hash, err = o.hash("hash"); err != nil {
		return nil, err
	}
	if ts.Time, err = o.uint32("time"); err != nil {
		return nil, err
	}
	for _, pool := range []struct {
		name string
		dst  *HexBytes
	}{{"sapling", &ts.Sapling.Commitments.FinalState}, {"orchard", &ts.Orchard.Commitments.FinalState}} {
		p, err := o.child(pool.name)
		if err != nil {
			return nil, err
		}
		if !p.has("commitments") {
			continue
		}
		c, err := p.child("commitments")
		if err != nil {
			return nil, err
		}
		if !c.has("finalState") {
			continue
		}
		if *pool.dst, err = c.hex("finalState"); err != nil {
			return nil, err
		}
	}
	return &ts, nil
}

// DecodeTxids decodes the array reply of getrawmempool.
func DecodeTxids(raw json.RawMessage) ([]hash32.T, error) {
	const method = "getrawmempool"
	var txids []string
	if err := json.Unmarshal(raw, &txids); err != nil {
		return nil, malformedJSON(method, "", err)
	}
	r := make([]hash32.T, len(txids))
	for i, s := range txids {
		h, err := hashFromString(method, fmt.Sprintf("[%d]", i), s)
		if err != nil {
			return nil, err
		}
		r[i] = h
	}
	return r, nil
}

// DecodeBlockHash decodes the reply to getblockhash or getbestblockhash.
func DecodeBlockHash(raw json.RawMessage) (hash32.T, error) {
	return decodeHash("getblockhash", raw)
}

// DecodeSendResult decodes the txid returned by sendrawtransaction. Some
// nodes return it without JSON quotes.
func DecodeSendResult(raw json.RawMessage) (hash32.T, error) {
	const method = "sendrawtransaction"
	if firstByte(raw) == '"' {
		return decodeHash(method, raw)
	}
	return hashFromString(method, "txid", string(bytes.TrimSpace(raw)))
}

func DecodeInfo(raw json.RawMessage) (*Info, error) {
	o, err := parseObject("getinfo", raw)
	if err != nil {
		return nil, err
	}
	var info Info
	if info.Build, err = o.str("build"); err != nil {
		return nil, err
	}
	if info.Subversion, err = o.str("subversion"); err != nil {
		return nil, err
	}
	return &info, nil
}

func decodeHash(method string, raw json.RawMessage) (hash32.T, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return hash32.Nil, malformedJSON(method, "", err)
	}
	return hashFromString(method, "hash", s)
}

func decodeHexScalar(method, field string, raw json.RawMessage) (HexBytes, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, malformedJSON(method, field, err)
	}
	b, err := decodeHexString(s)
	if err != nil {
		return nil, &DecodeError{Method: method, Field: field, Err: err}
	}
	return b, nil
}

func hashFromString(method, field, s string) (hash32.T, error) {
	h, err := hash32.Decode(s)
	if err != nil {
		return hash32.Nil, malformedHex(method, field, err)
	}
	return h, nil
}

func firstByte(raw json.RawMessage) byte {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return 0
	}
	return raw[0]
}

// object is one JSON object of a reply, probed field by field so that
// errors name the field at fault.
type object struct {
	method string
	path   string
	fields map[string]json.RawMessage
}

func parseObject(method string, raw json.RawMessage) (object, error) {
	o := object{method: method}
	if err := json.Unmarshal(raw, &o.fields); err != nil {
		return o, malformedJSON(method, "", err)
	}
	if o.fields == nil {
		return o, malformedJSON(method, "", fmt.Errorf("null reply"))
	}
	return o, nil
}

func (o object) name(field string) string {
	if o.path == "" {
		return field
	}
	return o.path + "." + field
}

// has reports whether the field is present and not null.
func (o object) has(field string) bool {
	v, ok := o.fields[field]
	return ok && !bytes.Equal(bytes.TrimSpace(v), []byte("null"))
}

func (o object) get(field string, v interface{}) error {
	if !o.has(field) {
		return missing(o.method, o.name(field))
	}
	if err := json.Unmarshal(o.fields[field], v); err != nil {
		return malformedJSON(o.method, o.name(field), err)
	}
	return nil
}

func (o object) str(field string) (string, error) {
	var s string
	err := o.get(field, &s)
	return s, err
}

func (o object) int(field string) (int64, error) {
	var n int64
	err := o.get(field, &n)
	return n, err
}

func (o object) uint32(field string) (uint32, error) {
	n, err := o.int(field)
	if err != nil {
		return 0, err
	}
	if n < 0 || n > math.MaxUint32 {
		return 0, malformedJSON(o.method, o.name(field), fmt.Errorf("%d out of range", n))
	}
	return uint32(n), nil
}

func (o object) hash(field string) (hash32.T, error) {
	s, err := o.str(field)
	if err != nil {
		return hash32.Nil, err
	}
	return hashFromString(o.method, o.name(field), s)
}

func (o object) hex(field string) (HexBytes, error) {
	s, err := o.str(field)
	if err != nil {
		return nil, err
	}
	b, err := decodeHexString(s)
	if err != nil {
		return nil, &DecodeError{Method: o.method, Field: o.name(field), Err: err}
	}
	return b, nil
}

func (o object) child(field string) (object, error) {
	c := object{method: o.method, path: o.name(field)}
	if err := o.get(field, &c.fields); err != nil {
		return c, err
	}
	if c.fields == nil {
		return c, malformedJSON(o.method, c.path, fmt.Errorf("not an object"))
	}
	return c, nil
}
