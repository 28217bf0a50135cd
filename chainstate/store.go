// Copyright (c) 2019-present The Zcash developers
// Distributed under the MIT software license, see the accompanying
// file COPYING or https://www.opensource.org/licenses/mit-license.php .

package chainstate

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/zancas/zingo-indexer/hash32"
)

// Store write errors.
var (
	ErrGap      = errors.New("block does not follow the tip")
	ErrConflict = errors.New("a different block exists at this height")
	ErrNotChild = errors.New("block does not extend the tip")
)

// index maps hashes and txids to records. It is shared by successive
// versions and only ever describes the current one exactly; an older
// version checks every hit against its own blocks.
type index struct {
	byHash sync.Map // hash32.T -> *BlockRecord
	byTxID sync.Map // hash32.T -> txLoc
}

type txLoc struct {
	block *BlockRecord
	i     int
}

// version is one immutable state of the mirror. blocks is contiguous by
// height; its backing array may be shared with the previous version,
// which never looks past its own length.
type version struct {
	seq        uint64
	blocks     []*BlockRecord
	mempool    map[hash32.T]*MempoolEntry
	treeStates map[hash32.T]*TreeState
	idx        *index
}

func (v *version) tip() *BlockRecord {
	if len(v.blocks) == 0 {
		return nil
	}
	return v.blocks[len(v.blocks)-1]
}

func (v *version) blockAt(height uint32) *BlockRecord {
	if len(v.blocks) == 0 || height < v.blocks[0].Height {
		return nil
	}
	i := int(height - v.blocks[0].Height)
	if i >= len(v.blocks) {
		return nil
	}
	return v.blocks[i]
}

// Store is the in-memory mirror of the node's best chain and mempool.
// Readers load the current version without locking. Only the
// Synchronizer writes; each write publishes a new version.
type Store struct {
	cur atomic.Pointer[version]

	maxBlocks       int
	treeStateWindow int
}

// NewStore returns an empty store that retains at most maxBlocks blocks
// below the tip (0 for all) and treestates for the top treeStateWindow
// blocks.
func NewStore(maxBlocks, treeStateWindow int) *Store {
	s := &Store{
		maxBlocks:       maxBlocks,
		treeStateWindow: treeStateWindow,
	}
	s.cur.Store(&version{
		mempool:    map[hash32.T]*MempoolEntry{},
		treeStates: map[hash32.T]*TreeState{},
		idx:        &index{},
	})
	return s
}

// Snapshot returns the current version.
func (s *Store) Snapshot() *Snapshot {
	return &Snapshot{v: s.cur.Load(), store: s}
}

func (s *Store) GetTip() (ChainTip, bool) {
	return s.Snapshot().Tip()
}

func (s *Store) GetBlock(height uint32) (*BlockRecord, bool) {
	return s.Snapshot().GetBlock(height)
}

func (s *Store) GetBlockByHash(hash hash32.T) (*BlockRecord, bool) {
	return s.Snapshot().GetBlockByHash(hash)
}

func (s *Store) GetMempoolEntry(txid hash32.T) (*MempoolEntry, bool) {
	return s.Snapshot().GetMempoolEntry(txid)
}

// next returns a shallow copy of the current version with seq advanced.
func (s *Store) next() (old, v *version) {
	old = s.cur.Load()
	v = &version{
		seq:        old.seq + 1,
		blocks:     old.blocks,
		mempool:    old.mempool,
		treeStates: old.treeStates,
		idx:        old.idx,
	}
	return old, v
}

// writeBlock appends rec at the tip. A block identical to the one already
// at its height is ignored (applied is false). The txids of rec that were
// in the mempool are removed from it and returned.
func (s *Store) writeBlock(rec *BlockRecord) (applied bool, mined []hash32.T, err error) {
	old, v := s.next()
	if tip := old.tip(); tip != nil {
		if rec.Height <= tip.Height {
			existing := old.blockAt(rec.Height)
			if existing != nil && existing.Hash == rec.Hash {
				return false, nil, nil
			}
			if existing != nil {
				return false, nil, fmt.Errorf("%w: height %d has %v, not %v",
					ErrConflict, rec.Height, existing.Hash, rec.Hash)
			}
			return false, nil, fmt.Errorf("%w: height %d is below the retained blocks", ErrGap, rec.Height)
		}
		if rec.Height != tip.Height+1 {
			return false, nil, fmt.Errorf("%w: tip is %d, block is %d", ErrGap, tip.Height, rec.Height)
		}
		if !rec.PrevHash.IsNil() && rec.PrevHash != tip.Hash {
			return false, nil, fmt.Errorf("%w: block %d has parent %v, tip is %v",
				ErrNotChild, rec.Height, rec.PrevHash, tip.Hash)
		}
	}

	v.blocks = append(old.blocks, rec)
	var pruned []*BlockRecord
	if s.maxBlocks > 0 && len(v.blocks) > s.maxBlocks {
		n := len(v.blocks) - s.maxBlocks
		pruned = v.blocks[:n]
		v.blocks = v.blocks[n:]
	}

	for _, txid := range rec.TxIDs {
		if _, ok := old.mempool[txid]; ok {
			mined = append(mined, txid)
		}
	}
	if len(mined) > 0 {
		v.mempool = copyMempool(old.mempool)
		for _, txid := range mined {
			delete(v.mempool, txid)
		}
	}
	v.treeStates = s.retainTreeStates(old.treeStates, rec.Height, rec.Height)

	v.idx.byHash.Store(rec.Hash, rec)
	for i, txid := range rec.TxIDs {
		v.idx.byTxID.Store(txid, txLoc{rec, i})
	}
	s.cur.Store(v)

	// Pruned blocks are unreachable from the current version; older
	// snapshots fall back to scanning.
	for _, b := range pruned {
		unindex(v.idx, b)
	}
	return true, mined, nil
}

// rollbackTo removes every block above height. The block at height must
// have the given hash.
func (s *Store) rollbackTo(height uint32, hash hash32.T) error {
	old, v := s.next()
	target := old.blockAt(height)
	if target == nil {
		return fmt.Errorf("%w: no block at rollback height %d", ErrNotFound, height)
	}
	if target.Hash != hash {
		return fmt.Errorf("%w: rollback target %d is %v, not %v", ErrConflict, height, target.Hash, hash)
	}
	n := int(height-old.blocks[0].Height) + 1
	removed := old.blocks[n:]
	// Limit capacity so the next append copies instead of overwriting
	// blocks that older versions still hold.
	v.blocks = old.blocks[:n:n]
	v.treeStates = s.retainTreeStates(old.treeStates, height, height)
	s.cur.Store(v)

	for _, b := range removed {
		unindex(v.idx, b)
	}
	return nil
}

func unindex(idx *index, b *BlockRecord) {
	idx.byHash.CompareAndDelete(b.Hash, b)
	for i, txid := range b.TxIDs {
		idx.byTxID.CompareAndDelete(txid, txLoc{b, i})
	}
}

func copyMempool(m map[hash32.T]*MempoolEntry) map[hash32.T]*MempoolEntry {
	r := make(map[hash32.T]*MempoolEntry, len(m))
	for k, e := range m {
		r[k] = e
	}
	return r
}

// applyMempool adds and removes mempool entries in one version and
// returns the txids that actually changed.
func (s *Store) applyMempool(adds []*MempoolEntry, removes []hash32.T) (added, removed []hash32.T) {
	old, v := s.next()
	v.mempool = copyMempool(old.mempool)
	for _, txid := range removes {
		if _, ok := v.mempool[txid]; ok {
			delete(v.mempool, txid)
			removed = append(removed, txid)
		}
	}
	for _, e := range adds {
		if _, ok := v.mempool[e.TxID]; !ok {
			v.mempool[e.TxID] = e
			added = append(added, e.TxID)
		}
	}
	if len(added)+len(removed) == 0 {
		return nil, nil
	}
	s.cur.Store(v)
	return added, removed
}

func (s *Store) mempoolAdd(e *MempoolEntry) bool {
	added, _ := s.applyMempool([]*MempoolEntry{e}, nil)
	return len(added) > 0
}

func (s *Store) mempoolRemove(txid hash32.T) bool {
	_, removed := s.applyMempool(nil, []hash32.T{txid})
	return len(removed) > 0
}

// putTreeState records ts, which must belong to a block in the mirror
// within the retention window.
func (s *Store) putTreeState(ts *TreeState) error {
	old, v := s.next()
	b := old.blockAt(ts.Height)
	if b == nil || b.Hash != ts.Hash {
		return fmt.Errorf("%w: treestate for %d %v does not match a mirrored block", ErrNotFound, ts.Height, ts.Hash)
	}
	tip := old.tip()
	if s.treeStateWindow > 0 && tip.Height-ts.Height >= uint32(s.treeStateWindow) {
		return fmt.Errorf("treestate for %d is outside the retention window", ts.Height)
	}
	v.treeStates = copyTreeStates(s.retainTreeStates(old.treeStates, tip.Height, tip.Height))
	v.treeStates[ts.Hash] = ts
	s.cur.Store(v)
	return nil
}

func copyTreeStates(m map[hash32.T]*TreeState) map[hash32.T]*TreeState {
	r := make(map[hash32.T]*TreeState, len(m)+1)
	for k, ts := range m {
		r[k] = ts
	}
	return r
}

// retainTreeStates returns m without the treestates that are above
// maxHeight or outside the window below tipHeight. m itself is returned
// if nothing is dropped.
func (s *Store) retainTreeStates(m map[hash32.T]*TreeState, tipHeight, maxHeight uint32) map[hash32.T]*TreeState {
	keep := func(ts *TreeState) bool {
		if ts.Height > maxHeight {
			return false
		}
		return s.treeStateWindow <= 0 || tipHeight-ts.Height < uint32(s.treeStateWindow)
	}
	drop := false
	for _, ts := range m {
		if !keep(ts) {
			drop = true
			break
		}
	}
	if !drop {
		return m
	}
	r := make(map[hash32.T]*TreeState, len(m))
	for k, ts := range m {
		if keep(ts) {
			r[k] = ts
		}
	}
	return r
}

// reset empties the store.
func (s *Store) reset() {
	old := s.cur.Load()
	s.cur.Store(&version{
		seq:        old.seq + 1,
		mempool:    map[hash32.T]*MempoolEntry{},
		treeStates: map[hash32.T]*TreeState{},
		idx:        &index{},
	})
}

// Snapshot is a consistent view of one version of the Store. It is not
// affected by later writes.
type Snapshot struct {
	v     *version
	store *Store
}

// current reports whether the snapshot is still the latest version, in
// which case the shared index describes it exactly.
func (sn *Snapshot) current() bool {
	return sn.store.cur.Load() == sn.v
}

// Seq increases with every write to the Store.
func (sn *Snapshot) Seq() uint64 {
	return sn.v.seq
}

func (sn *Snapshot) Tip() (ChainTip, bool) {
	tip := sn.v.tip()
	if tip == nil {
		return ChainTip{}, false
	}
	return ChainTip{Height: tip.Height, Hash: tip.Hash}, true
}

// Start returns the height of the lowest retained block.
func (sn *Snapshot) Start() (uint32, bool) {
	if len(sn.v.blocks) == 0 {
		return 0, false
	}
	return sn.v.blocks[0].Height, true
}

func (sn *Snapshot) GetBlock(height uint32) (*BlockRecord, bool) {
	b := sn.v.blockAt(height)
	return b, b != nil
}

func (sn *Snapshot) GetBlockByHash(hash hash32.T) (*BlockRecord, bool) {
	if r, ok := sn.v.idx.byHash.Load(hash); ok {
		b := r.(*BlockRecord)
		if sn.v.blockAt(b.Height) == b {
			return b, true
		}
	}
	if sn.current() {
		return nil, false
	}
	for i := len(sn.v.blocks) - 1; i >= 0; i-- {
		if sn.v.blocks[i].Hash == hash {
			return sn.v.blocks[i], true
		}
	}
	return nil, false
}

// FindTransaction locates a mined transaction.
func (sn *Snapshot) FindTransaction(txid hash32.T) (*BlockRecord, int, bool) {
	if r, ok := sn.v.idx.byTxID.Load(txid); ok {
		loc := r.(txLoc)
		if sn.v.blockAt(loc.block.Height) == loc.block {
			return loc.block, loc.i, true
		}
	}
	if sn.current() {
		return nil, 0, false
	}
	for i := len(sn.v.blocks) - 1; i >= 0; i-- {
		for j, id := range sn.v.blocks[i].TxIDs {
			if id == txid {
				return sn.v.blocks[i], j, true
			}
		}
	}
	return nil, 0, false
}

func (sn *Snapshot) GetMempoolEntry(txid hash32.T) (*MempoolEntry, bool) {
	e, ok := sn.v.mempool[txid]
	return e, ok
}

// Mempool returns the mempool entries in no particular order.
func (sn *Snapshot) Mempool() []*MempoolEntry {
	r := make([]*MempoolEntry, 0, len(sn.v.mempool))
	for _, e := range sn.v.mempool {
		r = append(r, e)
	}
	return r
}

func (sn *Snapshot) MempoolTxIDs() []hash32.T {
	r := make([]hash32.T, 0, len(sn.v.mempool))
	for txid := range sn.v.mempool {
		r = append(r, txid)
	}
	return r
}

func (sn *Snapshot) GetTreeState(hash hash32.T) (*TreeState, bool) {
	ts, ok := sn.v.treeStates[hash]
	return ts, ok
}
