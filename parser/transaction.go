// Copyright (c) 2019-present The Zcash developers
// Distributed under the MIT software license, see the accompanying
// file COPYING or https://www.opensource.org/licenses/mit-license.php .

package parser

import (
	"errors"
	"fmt"

	"github.com/zancas/zingo-indexer/internal/bytestring"
)

const (
	versionGroupIDV4 = 0x892F2085
	versionGroupIDV5 = 0x26A7270A

	spendSizeV4     = 32 + 32 + 32 + 32 + 192 + 64 // cv, anchor, nullifier, rk, zkproof, spendAuthSig
	outputSizeV4    = 32 + 32 + 32 + 580 + 80 + 192
	joinSplitSizeV4 = 8 + 8 + 32 + 2*32 + 2*32 + 32 + 32 + 2*32 + 192 + 2*601
	spendSizeV5     = 32 + 32 + 32 // cv, nullifier, rk
	outputSizeV5    = 32 + 32 + 32 + 580 + 80
	actionSize      = 820
)

// Transaction is the outline of a full (zcashd) transaction: its version
// and element counts, and the bytes it occupies.
type Transaction struct {
	Version           uint32
	VersionGroupID    uint32
	ConsensusBranchID uint32 // v5 only

	TransparentInputs  int
	TransparentOutputs int
	SaplingSpends      int
	SaplingOutputs     int
	JoinSplits         int
	OrchardActions     int

	rawBytes       []byte
	coinbaseScript []byte // scriptSig of the first input
}

// NewTransaction is the constructor for a full transaction.
func NewTransaction() *Transaction {
	return &Transaction{}
}

// Bytes returns a full transaction's raw bytes.
func (tx *Transaction) Bytes() []byte {
	return tx.rawBytes
}

// HasShieldedElements indicates whether a transaction has at least one
// shielded input, output or action.
func (tx *Transaction) HasShieldedElements() bool {
	return tx.SaplingSpends+tx.SaplingOutputs+tx.OrchardActions+tx.JoinSplits > 0
}

// skipTransparent walks the transparent inputs and outputs.
func (tx *Transaction) skipTransparent(s *bytestring.String) error {
	if !s.ReadCompactSize(&tx.TransparentInputs) {
		return errors.New("could not read tx_in_count")
	}
	for i := 0; i < tx.TransparentInputs; i++ {
		var script bytestring.String
		// prevout hash and index, scriptSig, sequence
		if !s.Skip(32+4) || !s.ReadCompactLengthPrefixed(&script) || !s.Skip(4) {
			return fmt.Errorf("could not read transparent input %d", i)
		}
		if i == 0 {
			tx.coinbaseScript = script
		}
	}
	if !s.ReadCompactSize(&tx.TransparentOutputs) {
		return errors.New("could not read tx_out_count")
	}
	for i := 0; i < tx.TransparentOutputs; i++ {
		var script bytestring.String
		// value, scriptPubKey
		if !s.Skip(8) || !s.ReadCompactLengthPrefixed(&script) {
			return fmt.Errorf("could not read transparent output %d", i)
		}
	}
	return nil
}

// parse version 4 transaction data after the nVersionGroupId field.
func (tx *Transaction) parseV4(s *bytestring.String) error {
	if tx.VersionGroupID != versionGroupIDV4 {
		return fmt.Errorf("version group ID %x must be 0x892F2085", tx.VersionGroupID)
	}
	if err := tx.skipTransparent(s); err != nil {
		return err
	}
	// nLockTime, nExpiryHeight, valueBalance
	if !s.Skip(4 + 4 + 8) {
		return errors.New("could not read nLockTime, nExpiryHeight or valueBalance")
	}
	if !s.ReadCompactSize(&tx.SaplingSpends) {
		return errors.New("could not read nShieldedSpend")
	}
	if !s.Skip(spendSizeV4 * tx.SaplingSpends) {
		return errors.New("could not skip vShieldedSpend")
	}
	if !s.ReadCompactSize(&tx.SaplingOutputs) {
		return errors.New("could not read nShieldedOutput")
	}
	if !s.Skip(outputSizeV4 * tx.SaplingOutputs) {
		return errors.New("could not skip vShieldedOutput")
	}
	if !s.ReadCompactSize(&tx.JoinSplits) {
		return errors.New("could not read nJoinSplit")
	}
	if tx.JoinSplits > 0 {
		// joinSplitPubKey, joinSplitSig
		if !s.Skip(joinSplitSizeV4*tx.JoinSplits + 32 + 64) {
			return errors.New("could not skip vJoinSplit")
		}
	}
	if tx.SaplingSpends+tx.SaplingOutputs > 0 && !s.Skip(64) {
		return errors.New("could not skip bindingSigSapling")
	}
	return nil
}

// parse version 5 transaction data after the nVersionGroupId field.
func (tx *Transaction) parseV5(s *bytestring.String) error {
	if !s.ReadUint32(&tx.ConsensusBranchID) {
		return errors.New("could not read nConsensusBranchId")
	}
	if tx.VersionGroupID != versionGroupIDV5 {
		return fmt.Errorf("version group ID %x must be 0x26A7270A", tx.VersionGroupID)
	}
	if !s.Skip(4 + 4) {
		return errors.New("could not read nLockTime or nExpiryHeight")
	}
	if err := tx.skipTransparent(s); err != nil {
		return err
	}

	if !s.ReadCompactSize(&tx.SaplingSpends) {
		return errors.New("could not read nSpendsSapling")
	}
	if tx.SaplingSpends >= (1 << 16) {
		return fmt.Errorf("spendCount (%d) must be less than 2^16", tx.SaplingSpends)
	}
	if !s.Skip(spendSizeV5 * tx.SaplingSpends) {
		return errors.New("could not skip vSpendsSapling")
	}
	if !s.ReadCompactSize(&tx.SaplingOutputs) {
		return errors.New("could not read nOutputsSapling")
	}
	if tx.SaplingOutputs >= (1 << 16) {
		return fmt.Errorf("outputCount (%d) must be less than 2^16", tx.SaplingOutputs)
	}
	if !s.Skip(outputSizeV5 * tx.SaplingOutputs) {
		return errors.New("could not skip vOutputsSapling")
	}
	if tx.SaplingSpends+tx.SaplingOutputs > 0 && !s.Skip(8) {
		return errors.New("could not skip valueBalanceSapling")
	}
	if tx.SaplingSpends > 0 && !s.Skip(32) {
		return errors.New("could not skip anchorSapling")
	}
	// vSpendProofsSapling, vSpendAuthSigsSapling, vOutputProofsSapling
	if !s.Skip((192+64)*tx.SaplingSpends + 192*tx.SaplingOutputs) {
		return errors.New("could not skip Sapling proofs and signatures")
	}
	if tx.SaplingSpends+tx.SaplingOutputs > 0 && !s.Skip(64) {
		return errors.New("could not skip bindingSigSapling")
	}

	if !s.ReadCompactSize(&tx.OrchardActions) {
		return errors.New("could not read nActionsOrchard")
	}
	if tx.OrchardActions >= (1 << 16) {
		return fmt.Errorf("actionsCount (%d) must be less than 2^16", tx.OrchardActions)
	}
	if !s.Skip(actionSize * tx.OrchardActions) {
		return errors.New("could not skip vActionsOrchard")
	}
	if tx.OrchardActions > 0 {
		// flagsOrchard, valueBalanceOrchard, anchorOrchard
		if !s.Skip(1 + 8 + 32) {
			return errors.New("could not skip Orchard flags, value balance or anchor")
		}
		var proofs bytestring.String
		if !s.ReadCompactLengthPrefixed(&proofs) {
			return errors.New("could not skip proofsOrchard")
		}
		// vSpendAuthSigsOrchard, bindingSigOrchard
		if !s.Skip(64*tx.OrchardActions + 64) {
			return errors.New("could not skip Orchard signatures")
		}
	}
	return nil
}

// ParseFromSlice deserializes a single transaction from the given data
// and returns the data that follows it.
func (tx *Transaction) ParseFromSlice(data []byte) ([]byte, error) {
	s := bytestring.String(data)

	var header uint32
	if !s.ReadUint32(&header) {
		return nil, errors.New("could not read header")
	}
	if header>>31 != 1 {
		return nil, errors.New("fOverwinter flag must be set")
	}
	tx.Version = header & 0x7FFFFFFF
	if tx.Version < 4 {
		return nil, fmt.Errorf("version number %d must be greater or equal to 4", tx.Version)
	}
	if !s.ReadUint32(&tx.VersionGroupID) {
		return nil, errors.New("could not read nVersionGroupId")
	}

	var err error
	if tx.Version == 4 {
		err = tx.parseV4(&s)
	} else {
		err = tx.parseV5(&s)
	}
	if err != nil {
		return nil, err
	}
	txLen := len(data) - len(s)
	tx.rawBytes = data[:txLen:txLen]

	return []byte(s), nil
}
