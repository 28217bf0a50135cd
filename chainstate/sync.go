// Copyright (c) 2019-present The Zcash developers
// Distributed under the MIT software license, see the accompanying
// file COPYING or https://www.opensource.org/licenses/mit-license.php .

package chainstate

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/zancas/zingo-indexer/backend"
	"github.com/zancas/zingo-indexer/common"
	"github.com/zancas/zingo-indexer/hash32"
	"github.com/zancas/zingo-indexer/parser"
	"github.com/zancas/zingo-indexer/wire"
)

// Node is the part of the backend client the mirror uses.
// *backend.Client implements it.
type Node interface {
	GetBlockchainInfo(ctx context.Context) (*wire.BlockchainInfo, error)
	GetBlockHash(ctx context.Context, height uint32) (hash32.T, error)
	GetBlock(ctx context.Context, height uint32) (*wire.BlockInfo, error)
	GetRawBlock(ctx context.Context, hash hash32.T) ([]byte, error)
	GetRawMempool(ctx context.Context) ([]hash32.T, error)
	GetRawTransaction(ctx context.Context, txid hash32.T, verbose bool) (*wire.TransactionReply, error)
	GetTreeState(ctx context.Context, hash hash32.T) (*wire.TreeState, error)
	SendRawTransaction(ctx context.Context, raw []byte) (hash32.T, error)
	GetInfo(ctx context.Context) (*wire.Info, error)
}

// Config tunes the mirror. Zero values select the defaults.
type Config struct {
	// PollInterval is the pause between cycles once caught up.
	PollInterval time.Duration
	// MaxRecoveryInterval caps the backoff between failed cycles.
	MaxRecoveryInterval time.Duration
	// DegradedAfter consecutive failed cycles mark the mirror degraded.
	DegradedAfter int
	// MaxReorgDepth bounds how many blocks a rollback may remove.
	MaxReorgDepth int
	// ResyncOnDeepReorg discards the mirror and starts over from the
	// checkpoint (or StartHeight) when MaxReorgDepth is exceeded.
	ResyncOnDeepReorg bool
	// TreeStateWindow is the number of blocks below the tip whose
	// treestates are kept.
	TreeStateWindow int
	// MaxBlocks bounds the retained blocks; 0 keeps all.
	MaxBlocks int
	// BatchSize bounds the blocks applied per cycle.
	BatchSize       int
	SubscriberQueue int
	// StartHeight is the first block mirrored when no checkpoint matches
	// the node's network.
	StartHeight uint32
	Checkpoints []Checkpoint
	// Registerer receives the mirror's metrics; nil for none.
	Registerer prometheus.Registerer
}

const (
	DefaultPollInterval        = 2 * time.Second
	DefaultMaxRecoveryInterval = time.Minute
	DefaultDegradedAfter       = 3
	DefaultMaxReorgDepth       = 100
	DefaultTreeStateWindow     = 100
	DefaultBatchSize           = 1000
)

func (c Config) withDefaults() Config {
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.MaxRecoveryInterval <= 0 {
		c.MaxRecoveryInterval = DefaultMaxRecoveryInterval
	}
	if c.DegradedAfter <= 0 {
		c.DegradedAfter = DefaultDegradedAfter
	}
	if c.MaxReorgDepth <= 0 {
		c.MaxReorgDepth = DefaultMaxReorgDepth
	}
	if c.TreeStateWindow <= 0 {
		c.TreeStateWindow = DefaultTreeStateWindow
	}
	if c.MaxBlocks < 0 {
		c.MaxBlocks = 0
	}
	if c.MaxBlocks > 0 && c.MaxBlocks <= c.MaxReorgDepth {
		// A rollback must not run past the retained blocks.
		c.MaxBlocks = c.MaxReorgDepth + 1
	}
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.SubscriberQueue <= 0 {
		c.SubscriberQueue = DefaultSubscriberQueue
	}
	return c
}

// SyncState is the Synchronizer's position in its cycle.
type SyncState int32

const (
	StateIdle SyncState = iota
	StatePolling
	StateDiffing
	StateApplying
	StateRecovering
)

func (s SyncState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePolling:
		return "polling"
	case StateDiffing:
		return "diffing"
	case StateApplying:
		return "applying"
	case StateRecovering:
		return "recovering"
	}
	return fmt.Sprintf("SyncState(%d)", int32(s))
}

// ReorgError reports that the node's chain shares no block with the
// mirror within the allowed rollback depth.
type ReorgError struct {
	Tip ChainTip
	// Height where the search stopped.
	Height uint32
	Reason string
}

func (e *ReorgError) Error() string {
	return fmt.Sprintf("no common ancestor with the node below tip %d (%v) down to height %d: %s",
		e.Tip.Height, e.Tip.Hash, e.Height, e.Reason)
}

// errChainMoved means the node reorganized while a cycle was fetching
// blocks; the next cycle starts over.
var errChainMoved = errors.New("node chain changed during synchronization")

// Synchronizer is the only writer of its Store. Run it in exactly one
// goroutine.
type Synchronizer struct {
	node    Node
	store   *Store
	hub     *Hub
	cfg     Config
	metrics *metrics

	state  atomic.Int32
	health atomic.Pointer[healthRecord]
	info   atomic.Pointer[wire.BlockchainInfo]

	checkpoint *Checkpoint
}

func newSynchronizer(node Node, store *Store, hub *Hub, cfg Config, m *metrics) *Synchronizer {
	s := &Synchronizer{
		node:    node,
		store:   store,
		hub:     hub,
		cfg:     cfg,
		metrics: m,
	}
	s.health.Store(&healthRecord{status: HealthStarting})
	return s
}

func (s *Synchronizer) setState(st SyncState) {
	s.state.Store(int32(st))
}

// State returns the current cycle state.
func (s *Synchronizer) State() SyncState {
	return SyncState(s.state.Load())
}

// Run synchronizes until ctx is done. Failed cycles are retried with
// exponential backoff.
func (s *Synchronizer) Run(ctx context.Context) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.cfg.PollInterval
	b.MaxInterval = s.cfg.MaxRecoveryInterval
	b.MaxElapsedTime = 0
	b.Reset()
	common.Log.WithFields(logrus.Fields{
		"pollInterval":  s.cfg.PollInterval,
		"maxReorgDepth": s.cfg.MaxReorgDepth,
	}).Info("synchronizer starting")
	for {
		behind, err := s.Step(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		var wait time.Duration
		switch {
		case err != nil:
			wait = b.NextBackOff()
		case behind:
			b.Reset()
			continue
		default:
			b.Reset()
			wait = s.cfg.PollInterval
		}
		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
}

// Step runs one cycle: poll the node, diff against the mirror, apply at
// most BatchSize blocks, then the mempool changes. behind reports that
// more blocks are waiting.
func (s *Synchronizer) Step(ctx context.Context) (behind bool, err error) {
	behind, err = s.step(ctx)
	if err != nil {
		if ctx.Err() != nil {
			s.setState(StateIdle)
			return false, ctx.Err()
		}
		s.fail(err)
		return false, err
	}
	s.succeed()
	return behind, nil
}

func (s *Synchronizer) step(ctx context.Context) (bool, error) {
	s.setState(StatePolling)
	info, err := s.node.GetBlockchainInfo(ctx)
	if err != nil {
		return false, err
	}
	mempool, err := s.node.GetRawMempool(ctx)
	if err != nil {
		return false, err
	}
	s.info.Store(info)

	s.setState(StateDiffing)
	next, err := s.diff(ctx, info)
	if err != nil {
		return false, err
	}

	s.setState(StateApplying)
	last := info.Blocks
	behind := false
	if next <= last && last-next >= uint32(s.cfg.BatchSize) {
		last = next + uint32(s.cfg.BatchSize) - 1
		behind = true
	}
	for height := next; height <= last; height++ {
		if err := s.applyBlock(ctx, height, info.Blocks); err != nil {
			return false, err
		}
	}
	if behind {
		return true, nil
	}
	return false, s.syncMempool(ctx, mempool)
}

// startHeight is where an empty mirror begins.
func (s *Synchronizer) startHeight(info *wire.BlockchainInfo) uint32 {
	if s.checkpoint == nil && len(s.cfg.Checkpoints) > 0 {
		if cp, err := SelectCheckpoint(s.cfg.Checkpoints, info.Chain); err == nil {
			s.checkpoint = cp
			common.Log.WithFields(logrus.Fields{
				"height": cp.Height,
				"hash":   cp.Hash,
			}).Info("starting from checkpoint")
		}
	}
	if s.checkpoint != nil {
		return s.checkpoint.Height
	}
	return s.cfg.StartHeight
}

// diff compares the node's tip with the mirror's, rolls back to the
// common ancestor if they diverged, and returns the next height to fetch.
func (s *Synchronizer) diff(ctx context.Context, info *wire.BlockchainInfo) (uint32, error) {
	snap := s.store.Snapshot()
	tip, ok := snap.Tip()
	if !ok {
		return s.startHeight(info), nil
	}
	if info.Blocks == tip.Height && info.BestBlockHash == tip.Hash {
		return tip.Height + 1, nil
	}
	if info.Blocks > tip.Height {
		hash, err := s.node.GetBlockHash(ctx, tip.Height)
		if err != nil {
			return 0, err
		}
		if hash == tip.Hash {
			return tip.Height + 1, nil
		}
	}

	from := tip.Height
	if info.Blocks < from {
		from = info.Blocks
	}
	ancestor, err := s.findAncestor(ctx, snap, tip, from)
	if err != nil {
		return 0, err
	}
	if err := s.store.rollbackTo(ancestor.Height, ancestor.Hash); err != nil {
		return 0, err
	}
	s.hub.publish(rollbackEvent(ancestor.Height, ancestor.Hash))
	depth := tip.Height - ancestor.Height
	s.metrics.reorgs.Inc()
	s.metrics.reorgDepth.Observe(float64(depth))
	s.metrics.tipHeight.Set(float64(ancestor.Height))
	common.Log.WithFields(logrus.Fields{
		"oldTip": tip.Height,
		"height": ancestor.Height,
		"hash":   ancestor.Hash,
		"depth":  depth,
	}).Warn("chain reorganization, rolled back")
	return ancestor.Height + 1, nil
}

// findAncestor walks down from height until the node and the mirror
// agree on the block hash.
func (s *Synchronizer) findAncestor(ctx context.Context, snap *Snapshot, tip ChainTip, height uint32) (*BlockRecord, error) {
	for {
		if tip.Height-height > uint32(s.cfg.MaxReorgDepth) {
			return nil, &ReorgError{Tip: tip, Height: height,
				Reason: fmt.Sprintf("exceeds the maximum rollback depth %d", s.cfg.MaxReorgDepth)}
		}
		local, ok := snap.GetBlock(height)
		if !ok {
			return nil, &ReorgError{Tip: tip, Height: height, Reason: "below the retained blocks"}
		}
		remote, err := s.node.GetBlockHash(ctx, height)
		if err != nil {
			return nil, err
		}
		if remote == local.Hash {
			return local, nil
		}
		if height == 0 {
			return nil, &ReorgError{Tip: tip, Height: 0, Reason: "genesis differs"}
		}
		height--
	}
}

// applyBlock fetches the block at height and appends it to the mirror,
// together with its treestate if it is within the retention window.
func (s *Synchronizer) applyBlock(ctx context.Context, height, nodeTip uint32) error {
	obj, err := s.node.GetBlock(ctx, height)
	if err != nil {
		return err
	}
	raw, err := s.node.GetRawBlock(ctx, obj.Hash)
	if err != nil {
		return err
	}
	rec, err := newBlockRecord(height, obj, raw)
	if err != nil {
		return err
	}

	tip, haveTip := s.store.GetTip()
	if haveTip && !rec.PrevHash.IsNil() && rec.PrevHash != tip.Hash {
		return fmt.Errorf("%w: block %d does not extend %v", errChainMoved, height, tip.Hash)
	}
	var ts *TreeState
	switch {
	case !haveTip && s.checkpoint != nil && height == s.checkpoint.Height:
		if rec.Hash != s.checkpoint.Hash {
			return fmt.Errorf("checkpoint at %d is %v but the node has %v",
				height, s.checkpoint.Hash, rec.Hash)
		}
		ts = s.checkpoint.TreeState()
	case nodeTip-height < uint32(s.cfg.TreeStateWindow):
		ts, err = s.fetchTreeState(ctx, rec)
		if err != nil {
			return err
		}
	}

	applied, mined, err := s.store.writeBlock(rec)
	if err != nil {
		return err
	}
	if !applied {
		return nil
	}
	s.hub.publish(newBlockEvent(rec))
	for _, txid := range mined {
		s.hub.publish(mempoolEvent(EventMempoolRemove, txid))
	}
	if ts != nil {
		if err := s.store.putTreeState(ts); err != nil {
			return err
		}
	}
	s.metrics.tipHeight.Set(float64(rec.Height))
	common.Log.WithFields(logrus.Fields{
		"height": rec.Height,
		"hash":   rec.Hash,
		"txs":    len(rec.TxIDs),
	}).Debug("block applied")
	return nil
}

func (s *Synchronizer) fetchTreeState(ctx context.Context, rec *BlockRecord) (*TreeState, error) {
	reply, err := s.node.GetTreeState(ctx, rec.Hash)
	if backend.IsNotFound(err) {
		common.Log.WithFields(logrus.Fields{
			"height": rec.Height,
			"error":  err.Error(),
		}).Warn("node has no treestate for block")
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if reply.Hash != rec.Hash || reply.Height != rec.Height {
		return nil, fmt.Errorf("%w: treestate is for %d %v, requested %d %v",
			errChainMoved, reply.Height, reply.Hash, rec.Height, rec.Hash)
	}
	return &TreeState{
		Height:  reply.Height,
		Hash:    reply.Hash,
		Time:    reply.Time,
		Sapling: reply.Sapling.Commitments.FinalState,
		Orchard: reply.Orchard.Commitments.FinalState,
	}, nil
}

// newBlockRecord combines the getblock object with the raw block. The raw
// block supplies the parent hash and the transaction boundaries.
func newBlockRecord(height uint32, obj *wire.BlockInfo, raw []byte) (*BlockRecord, error) {
	if obj.Height != 0 && obj.Height != height {
		return nil, fmt.Errorf("%w: requested block %d, node returned %d", errChainMoved, height, obj.Height)
	}
	rec := &BlockRecord{
		Height: height,
		Hash:   obj.Hash,
		Time:   uint32(obj.Time),
		Raw:    raw,
		TxIDs:  obj.Tx,
	}
	if obj.Trees.Sapling != nil {
		rec.Trees.Sapling = obj.Trees.Sapling.Size
	}
	if obj.Trees.Orchard != nil {
		rec.Trees.Orchard = obj.Trees.Orchard.Size
	}

	block := parser.NewBlock()
	rest, err := block.ParseFromSlice(raw)
	if err == nil && len(rest) != 0 {
		err = fmt.Errorf("%d bytes after the last transaction", len(rest))
	}
	if err != nil {
		common.Log.WithFields(logrus.Fields{
			"height": height,
			"error":  err.Error(),
		}).Warn("could not split block, transactions will be fetched from the node")
		return rec, nil
	}
	if block.GetDisplayHash() != obj.Hash {
		return nil, fmt.Errorf("%w: block %d hashes to %v, node reported %v",
			errChainMoved, height, block.GetDisplayHash(), obj.Hash)
	}
	rec.PrevHash = block.GetDisplayPrevHash()
	rec.Time = block.Time()
	if block.GetTxCount() == len(obj.Tx) {
		rec.spans = make([]txSpan, 0, len(obj.Tx))
		off := len(raw)
		for _, tx := range block.Transactions() {
			off -= len(tx.Bytes())
		}
		for _, tx := range block.Transactions() {
			rec.spans = append(rec.spans, txSpan{off, len(tx.Bytes())})
			off += len(tx.Bytes())
		}
	}
	return rec, nil
}

// syncMempool brings the mirrored mempool in line with the node's.
func (s *Synchronizer) syncMempool(ctx context.Context, polled []hash32.T) error {
	snap := s.store.Snapshot()
	inNode := make(map[hash32.T]struct{}, len(polled))
	for _, txid := range polled {
		inNode[txid] = struct{}{}
	}
	var removes []hash32.T
	for _, txid := range snap.MempoolTxIDs() {
		if _, ok := inNode[txid]; !ok {
			removes = append(removes, txid)
		}
	}
	var adds []*MempoolEntry
	for _, txid := range polled {
		if _, ok := snap.GetMempoolEntry(txid); ok {
			continue
		}
		// Mined since the poll.
		if _, _, ok := snap.FindTransaction(txid); ok {
			continue
		}
		reply, err := s.node.GetRawTransaction(ctx, txid, false)
		if backend.IsNotFound(err) {
			continue
		}
		if err != nil {
			return err
		}
		adds = append(adds, &MempoolEntry{
			TxID:     txid,
			Raw:      reply.Bytes(),
			Inserted: common.Time.Now(),
		})
	}
	added, removed := s.store.applyMempool(adds, removes)
	for _, txid := range removed {
		s.hub.publish(mempoolEvent(EventMempoolRemove, txid))
	}
	for _, txid := range added {
		s.hub.publish(mempoolEvent(EventMempoolAdd, txid))
	}
	s.metrics.mempoolSize.Set(float64(len(s.store.cur.Load().mempool)))
	return nil
}

func (s *Synchronizer) succeed() {
	now := common.Time.Now()
	s.health.Store(&healthRecord{status: HealthHealthy, lastSuccess: now})
	s.metrics.lastSyncEpoch.Set(float64(now.Unix()))
	s.setState(StateIdle)
}

func (s *Synchronizer) fail(err error) {
	if errors.Is(err, errChainMoved) {
		// not a node failure; health and the failure count are unchanged
		s.setState(StateIdle)
		common.Log.WithFields(logrus.Fields{
			"error": err.Error(),
		}).Info("node chain moved, restarting cycle")
		return
	}
	prev := s.health.Load()
	h := &healthRecord{
		status:      prev.status,
		lastSuccess: prev.lastSuccess,
		lastErr:     err,
		failures:    prev.failures + 1,
	}
	s.metrics.syncFailures.Inc()
	s.setState(StateRecovering)

	var reorgErr *ReorgError
	if errors.As(err, &reorgErr) {
		h.status = HealthCritical
		common.Log.WithFields(logrus.Fields{
			"error": err.Error(),
		}).Error("cannot follow the node's chain")
		if s.cfg.ResyncOnDeepReorg {
			s.resync()
		}
	} else if h.failures >= s.cfg.DegradedAfter && h.status != HealthCritical {
		h.status = HealthDegraded
	}
	s.health.Store(h)
	common.Log.WithFields(logrus.Fields{
		"error":    err.Error(),
		"failures": h.failures,
		"health":   h.status,
	}).Warn("synchronization failed")
}

// resync discards the mirror; the next cycle starts again from the
// checkpoint or StartHeight. Subscribers are evicted since the events
// they have seen no longer describe the mirror.
func (s *Synchronizer) resync() {
	s.store.reset()
	s.hub.evictAll()
	s.metrics.tipHeight.Set(0)
	common.Log.Warn("mirror discarded, resynchronizing")
}

// report returns the current health report.
func (s *Synchronizer) report() Health {
	tip, _ := s.store.GetTip()
	return s.health.Load().report(s.State(), tip)
}

// lastInfo returns the most recent getblockchaininfo reply, or nil.
func (s *Synchronizer) lastInfo() *wire.BlockchainInfo {
	return s.info.Load()
}
