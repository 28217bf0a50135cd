// Copyright (c) 2019-present The Zcash developers
// Distributed under the MIT software license, see the accompanying
// file COPYING or https://www.opensource.org/licenses/mit-license.php .

package chainstate

import (
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/zancas/zingo-indexer/common"
	"github.com/zancas/zingo-indexer/hash32"
)

// DefaultSubscriberQueue is the number of undelivered events a
// subscriber may accumulate before it is evicted.
const DefaultSubscriberQueue = 1000

// Subscriber receives ChangeEvents in publish order on C. C is closed
// when the subscriber is unsubscribed or evicted; an evicted subscriber's
// last event is EventLagging.
type Subscriber struct {
	ID uuid.UUID
	C  <-chan ChangeEvent

	ch    chan ChangeEvent
	limit int
	// Seq of the last event queued.
	cursor atomic.Uint64
	// Mempool txids already sent to a resync subscriber.
	delivered map[hash32.T]struct{}
}

// Cursor returns the sequence number of the last event queued for s.
// Only meaningful after C has been drained.
func (s *Subscriber) Cursor() uint64 {
	return s.cursor.Load()
}

// Hub fans change events out to subscribers. Publishing never waits for
// a subscriber.
type Hub struct {
	mu        sync.Mutex
	subs      map[uuid.UUID]*Subscriber
	seq       uint64
	queueSize int
	store     *Store
	metrics   *metrics
}

// NewHub returns a hub whose resync subscribers start from store's
// mempool.
func NewHub(store *Store, queueSize int, m *metrics) *Hub {
	if queueSize <= 0 {
		queueSize = DefaultSubscriberQueue
	}
	if m == nil {
		m = newMetrics(nil)
	}
	return &Hub{
		subs:      make(map[uuid.UUID]*Subscriber),
		queueSize: queueSize,
		store:     store,
		metrics:   m,
	}
}

// Subscribe registers a subscriber. With resync, the current mempool is
// queued first as EventMempoolAdd events, and later adds of those txids
// are not repeated.
func (h *Hub) Subscribe(resync bool) *Subscriber {
	h.mu.Lock()
	defer h.mu.Unlock()

	var initial []hash32.T
	if resync {
		initial = h.store.Snapshot().MempoolTxIDs()
	}
	limit := h.queueSize
	if len(initial) > limit {
		limit = len(initial)
	}
	// One slot beyond the limit is reserved for EventLagging.
	ch := make(chan ChangeEvent, limit+1)
	s := &Subscriber{
		ID:    uuid.New(),
		C:     ch,
		ch:    ch,
		limit: limit,
	}
	s.cursor.Store(h.seq)
	if resync {
		s.delivered = make(map[hash32.T]struct{}, len(initial))
		for _, txid := range initial {
			s.delivered[txid] = struct{}{}
			ev := mempoolEvent(EventMempoolAdd, txid)
			ev.Seq = h.seq
			ch <- ev
		}
	}
	h.subs[s.ID] = s
	h.metrics.subscribers.Set(float64(len(h.subs)))
	common.Log.WithFields(logrus.Fields{
		"subscriber": s.ID,
		"resync":     resync,
	}).Debug("subscribed")
	return s
}

// Unsubscribe closes the subscriber's channel. It reports whether id was
// subscribed.
func (h *Hub) Unsubscribe(id uuid.UUID) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	s, ok := h.subs[id]
	if !ok {
		return false
	}
	delete(h.subs, id)
	close(s.ch)
	h.metrics.subscribers.Set(float64(len(h.subs)))
	return true
}

// Len returns the number of subscribers.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// publish assigns ev the next sequence number and queues it for every
// subscriber, evicting those whose queue is full. Only the Synchronizer
// calls it, after the mutation ev describes is visible in the Store.
func (h *Hub) publish(ev ChangeEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.seq++
	ev.Seq = h.seq
	h.metrics.events.WithLabelValues(ev.Kind.String()).Inc()
	for id, s := range h.subs {
		if s.delivered != nil {
			switch ev.Kind {
			case EventMempoolAdd:
				if _, ok := s.delivered[ev.TxID]; ok {
					continue
				}
				s.delivered[ev.TxID] = struct{}{}
			case EventMempoolRemove:
				delete(s.delivered, ev.TxID)
			}
		}
		// Only this goroutine sends on s.ch, so the length can only
		// shrink between the check and the send.
		if len(s.ch) >= s.limit {
			h.evict(id, s)
			continue
		}
		s.ch <- ev
		s.cursor.Store(ev.Seq)
	}
}

func (h *Hub) evict(id uuid.UUID, s *Subscriber) {
	delete(h.subs, id)
	s.ch <- ChangeEvent{Kind: EventLagging, Seq: s.cursor.Load()}
	close(s.ch)
	h.metrics.evictions.Inc()
	h.metrics.subscribers.Set(float64(len(h.subs)))
	common.Log.WithFields(logrus.Fields{
		"subscriber": id,
		"cursor":     s.cursor.Load(),
	}).Warn("subscriber evicted for lagging")
}

// evictAll drops every subscriber with EventLagging, which tells them
// to resynchronize from scratch.
func (h *Hub) evictAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, s := range h.subs {
		h.evict(id, s)
	}
}

// Close unsubscribes everyone.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, s := range h.subs {
		delete(h.subs, id)
		close(s.ch)
	}
	h.metrics.subscribers.Set(0)
}
