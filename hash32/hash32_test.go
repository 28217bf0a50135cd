// Copyright (c) 2019-present The Zcash developers
// Distributed under the MIT software license, see the accompanying
// file COPYING or https://www.opensource.org/licenses/mit-license.php .

package hash32

import (
	"encoding/json"
	"errors"
	"testing"
)

const someHash = "00000000019f8c8a6f6c1e1f3f9e2f2ac5de1ec7b2bb1c1f4b07ec9e2d3a2b1c"

func TestDecodeEncode(t *testing.T) {
	h, err := Decode(someHash)
	if err != nil {
		t.Fatal("Decode failed:", err)
	}
	if Encode(h) != someHash {
		t.Fatal("round trip mismatch", Encode(h))
	}
	if h.String() != someHash {
		t.Fatal("String mismatch")
	}
	if h.IsNil() {
		t.Fatal("unexpected nil hash")
	}
}

func TestDecodeErrors(t *testing.T) {
	if _, err := Decode("abc"); !errors.Is(err, ErrOddLength) {
		t.Fatal("expected ErrOddLength, got", err)
	}
	if _, err := Decode("zz"); err == nil {
		t.Fatal("expected hex error")
	}
	if _, err := Decode("aabb"); !errors.Is(err, ErrLength) {
		t.Fatal("expected ErrLength, got", err)
	}
}

func TestReverse(t *testing.T) {
	var h T
	for i := 0; i < 32; i++ {
		h[i] = byte(i)
	}
	r := Reverse(h)
	for i := 0; i < 32; i++ {
		if r[i] != byte(32-1-i) {
			t.Fatal("mismatch")
		}
	}
	if Reverse(r) != h {
		t.Fatal("double reverse mismatch")
	}
	if string(ReverseSlice(h[:])) != string(r[:]) {
		t.Fatal("ReverseSlice mismatch")
	}
}

func TestFromSliceShort(t *testing.T) {
	h := FromSlice([]byte{1, 2})
	if h[0] != 1 || h[1] != 2 || h[2] != 0 || h[31] != 0 {
		t.Fatal("unexpected FromSlice result", h)
	}
}

func TestJSON(t *testing.T) {
	var v struct {
		Hash T `json:"hash"`
	}
	if err := json.Unmarshal([]byte(`{"hash":"`+someHash+`"}`), &v); err != nil {
		t.Fatal(err)
	}
	out, err := json.Marshal(v)
	if err != nil {
		t.Fatal(err)
	}
	if string(out) != `{"hash":"`+someHash+`"}` {
		t.Fatal("unexpected JSON", string(out))
	}
}
