// Copyright (c) 2019-present The Zcash developers
// Distributed under the MIT software license, see the accompanying
// file COPYING or https://www.opensource.org/licenses/mit-license.php .

package chainstate

import (
	"fmt"

	"github.com/zancas/zingo-indexer/hash32"
)

// EventKind identifies a ChangeEvent.
type EventKind int

const (
	// EventNewBlock carries the block appended to the tip.
	EventNewBlock EventKind = iota + 1
	// EventRollback reports that every block above Height was removed;
	// Hash is the block now at the tip.
	EventRollback
	EventMempoolAdd
	EventMempoolRemove
	// EventLagging is the last event of a subscriber that was dropped
	// because it did not keep up. Its channel is closed after it.
	EventLagging
)

func (k EventKind) String() string {
	switch k {
	case EventNewBlock:
		return "NewBlock"
	case EventRollback:
		return "Rollback"
	case EventMempoolAdd:
		return "MempoolAdd"
	case EventMempoolRemove:
		return "MempoolRemove"
	case EventLagging:
		return "Lagging"
	}
	return fmt.Sprintf("EventKind(%d)", int(k))
}

// ChangeEvent describes one mutation of the Store. Seq increases by one
// for each published event.
type ChangeEvent struct {
	Kind  EventKind
	Seq   uint64
	Block *BlockRecord // EventNewBlock
	// EventRollback target.
	Height uint32
	Hash   hash32.T
	// EventMempoolAdd, EventMempoolRemove.
	TxID hash32.T
}

func (ev ChangeEvent) String() string {
	switch ev.Kind {
	case EventNewBlock:
		return fmt.Sprintf("%v(%d, %v)", ev.Kind, ev.Block.Height, ev.Block.Hash)
	case EventRollback:
		return fmt.Sprintf("%v(%d, %v)", ev.Kind, ev.Height, ev.Hash)
	case EventMempoolAdd, EventMempoolRemove:
		return fmt.Sprintf("%v(%v)", ev.Kind, ev.TxID)
	}
	return ev.Kind.String()
}

func newBlockEvent(rec *BlockRecord) ChangeEvent {
	return ChangeEvent{Kind: EventNewBlock, Block: rec, Height: rec.Height, Hash: rec.Hash}
}

func rollbackEvent(height uint32, hash hash32.T) ChangeEvent {
	return ChangeEvent{Kind: EventRollback, Height: height, Hash: hash}
}

func mempoolEvent(kind EventKind, txid hash32.T) ChangeEvent {
	return ChangeEvent{Kind: kind, TxID: txid}
}
