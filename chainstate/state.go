// Copyright (c) 2019-present The Zcash developers
// Distributed under the MIT software license, see the accompanying
// file COPYING or https://www.opensource.org/licenses/mit-license.php .

// Package chainstate mirrors a full node's best chain, mempool and
// recent treestates in memory, and publishes an ordered stream of
// changes to subscribers. A single Synchronizer goroutine writes the
// mirror; any number of readers use State concurrently without waiting
// for it.
package chainstate

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/zancas/zingo-indexer/backend"
	"github.com/zancas/zingo-indexer/hash32"
)

// State is the read interface to the mirror, plus transaction
// submission.
type State struct {
	node  Node
	store *Store
	hub   *Hub
	sync  *Synchronizer
}

// New returns a State that mirrors node. Nothing is fetched until Run.
func New(node Node, cfg Config) *State {
	cfg = cfg.withDefaults()
	m := newMetrics(cfg.Registerer)
	store := NewStore(cfg.MaxBlocks, cfg.TreeStateWindow)
	hub := NewHub(store, cfg.SubscriberQueue, m)
	return &State{
		node:  node,
		store: store,
		hub:   hub,
		sync:  newSynchronizer(node, store, hub, cfg, m),
	}
}

// Run synchronizes with the node until ctx is done, then closes every
// subscription.
func (s *State) Run(ctx context.Context) error {
	defer s.hub.Close()
	return s.sync.Run(ctx)
}

// Synchronizer exposes the writer, mainly to drive it one cycle at a
// time.
func (s *State) Synchronizer() *Synchronizer {
	return s.sync
}

func (s *State) Snapshot() *Snapshot {
	return s.store.Snapshot()
}

func (s *State) GetTip() (ChainTip, error) {
	tip, ok := s.store.GetTip()
	if !ok {
		return ChainTip{}, ErrNotReady
	}
	return tip, nil
}

// GetBlock returns the mirrored block named by id.
func (s *State) GetBlock(id BlockID) (*BlockRecord, error) {
	return getBlock(s.store.Snapshot(), id)
}

func getBlock(snap *Snapshot, id BlockID) (*BlockRecord, error) {
	if _, ok := snap.Tip(); !ok {
		return nil, ErrNotReady
	}
	if id.Hash.IsNil() {
		b, ok := snap.GetBlock(id.Height)
		if !ok {
			return nil, fmt.Errorf("%w: block %d", ErrNotFound, id.Height)
		}
		return b, nil
	}
	b, ok := snap.GetBlockByHash(id.Hash)
	if !ok {
		return nil, fmt.Errorf("%w: block %v", ErrNotFound, id.Hash)
	}
	if id.Height != 0 && b.Height != id.Height {
		return nil, fmt.Errorf("%w: block %v is at height %d, not %d", ErrInvalidID, id.Hash, b.Height, id.Height)
	}
	return b, nil
}

// GetTransaction looks txid up in the mempool, then the mirrored blocks.
// Transactions in blocks that are no longer retained, or that were stored
// without transaction boundaries, are fetched from the node.
func (s *State) GetTransaction(ctx context.Context, txid hash32.T) (*Transaction, error) {
	snap := s.store.Snapshot()
	if e, ok := snap.GetMempoolEntry(txid); ok {
		return &Transaction{TxID: txid, Raw: e.Raw, Height: -1}, nil
	}
	if b, i, ok := snap.FindTransaction(txid); ok {
		tx := &Transaction{TxID: txid, Raw: b.Transaction(i), Height: int64(b.Height), BlockHash: b.Hash}
		if tx.Raw == nil {
			reply, err := s.node.GetRawTransaction(ctx, txid, false)
			if err != nil {
				return nil, err
			}
			tx.Raw = reply.Bytes()
		}
		return tx, nil
	}
	if _, ok := snap.Tip(); !ok {
		return nil, ErrNotReady
	}
	reply, err := s.node.GetRawTransaction(ctx, txid, true)
	if backend.IsNotFound(err) {
		return nil, fmt.Errorf("%w: transaction %v", ErrNotFound, txid)
	}
	if err != nil {
		return nil, err
	}
	tx := &Transaction{TxID: txid, Raw: reply.Bytes(), Height: -1}
	if reply.Object != nil && reply.Object.Height >= 0 {
		tx.Height = reply.Object.Height
		// A mined transaction missing from the mirror is below the
		// retained blocks; its block hash is left zero.
	}
	return tx, nil
}

// GetMempoolSnapshot returns the mirrored mempool.
func (s *State) GetMempoolSnapshot() []*MempoolEntry {
	return s.store.Snapshot().Mempool()
}

// GetTreeState returns the treestate as of the block named by id. Blocks
// in the mirror but outside the retention window are asked of the node.
func (s *State) GetTreeState(ctx context.Context, id BlockID) (*TreeState, error) {
	snap := s.store.Snapshot()
	b, err := getBlock(snap, id)
	if err != nil {
		return nil, err
	}
	if ts, ok := snap.GetTreeState(b.Hash); ok {
		return ts, nil
	}
	reply, err := s.node.GetTreeState(ctx, b.Hash)
	if backend.IsNotFound(err) {
		return nil, fmt.Errorf("%w: treestate %d", ErrNotFound, b.Height)
	}
	if err != nil {
		return nil, err
	}
	if reply.Hash != b.Hash || reply.Height != b.Height {
		// the node reorganized since the snapshot was taken
		return nil, fmt.Errorf("%w: treestate %d, node returned block %d %v",
			ErrNotFound, b.Height, reply.Height, reply.Hash)
	}
	return &TreeState{
		Height:  reply.Height,
		Hash:    reply.Hash,
		Time:    reply.Time,
		Sapling: reply.Sapling.Commitments.FinalState,
		Orchard: reply.Orchard.Commitments.FinalState,
	}, nil
}

func (s *State) Subscribe(resync bool) *Subscriber {
	return s.hub.Subscribe(resync)
}

func (s *State) Unsubscribe(id uuid.UUID) bool {
	return s.hub.Unsubscribe(id)
}

func (s *State) Health() Health {
	return s.sync.report()
}

// SendTransaction submits raw to the node. The transaction appears in the
// mempool mirror on a later cycle, like any other.
func (s *State) SendTransaction(ctx context.Context, raw []byte) (hash32.T, error) {
	return s.node.SendRawTransaction(ctx, raw)
}

// Info describes the node being mirrored.
type Info struct {
	Chain                   string
	ConsensusBranchID       string
	SaplingActivationHeight uint32
	BlockHeight             uint32
	EstimatedHeight         uint32
	NodeBuild               string
	NodeSubversion          string
}

// saplingBranchID keys the Sapling upgrade in getblockchaininfo.
const saplingBranchID = "76b809bb"

// Info combines the last getblockchaininfo poll with getinfo.
func (s *State) Info(ctx context.Context) (*Info, error) {
	bi := s.sync.lastInfo()
	if bi == nil {
		return nil, ErrNotReady
	}
	ni, err := s.node.GetInfo(ctx)
	if err != nil {
		return nil, err
	}
	r := &Info{
		Chain:             bi.Chain,
		ConsensusBranchID: bi.Consensus.Chaintip,
		BlockHeight:       bi.Blocks,
		EstimatedHeight:   bi.EstimatedHeight,
		NodeBuild:         ni.Build,
		NodeSubversion:    ni.Subversion,
	}
	if up, ok := bi.Upgrades[saplingBranchID]; ok {
		r.SaplingActivationHeight = up.ActivationHeight
	}
	if r.EstimatedHeight == 0 {
		r.EstimatedHeight = bi.Blocks
	}
	return r, nil
}
