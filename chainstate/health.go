// Copyright (c) 2019-present The Zcash developers
// Distributed under the MIT software license, see the accompanying
// file COPYING or https://www.opensource.org/licenses/mit-license.php .

package chainstate

import (
	"fmt"
	"time"

	"github.com/zancas/zingo-indexer/common"
)

// HealthStatus summarizes how well the mirror tracks the node.
type HealthStatus int

const (
	// HealthStarting: no synchronization has succeeded yet.
	HealthStarting HealthStatus = iota
	HealthHealthy
	// HealthDegraded: the last DegradedAfter or more cycles failed; reads
	// serve the last good state.
	HealthDegraded
	// HealthCritical: the node's chain diverged deeper than the mirror can
	// roll back.
	HealthCritical
)

func (s HealthStatus) String() string {
	switch s {
	case HealthStarting:
		return "starting"
	case HealthHealthy:
		return "healthy"
	case HealthDegraded:
		return "degraded"
	case HealthCritical:
		return "critical"
	}
	return fmt.Sprintf("HealthStatus(%d)", int(s))
}

// Health is reported by State.Health.
type Health struct {
	Status HealthStatus
	State  SyncState
	Tip    ChainTip
	// SecondsSinceSync is the age of the last successful cycle, -1 if
	// there has been none.
	SecondsSinceSync    int64
	LastSuccess         time.Time
	LastError           error
	ConsecutiveFailures int
}

type healthRecord struct {
	status      HealthStatus
	lastSuccess time.Time
	lastErr     error
	failures    int
}

func (h *healthRecord) report(state SyncState, tip ChainTip) Health {
	r := Health{
		Status:              h.status,
		State:               state,
		Tip:                 tip,
		SecondsSinceSync:    -1,
		LastSuccess:         h.lastSuccess,
		LastError:           h.lastErr,
		ConsecutiveFailures: h.failures,
	}
	if !h.lastSuccess.IsZero() {
		r.SecondsSinceSync = int64(common.Time.Now().Sub(h.lastSuccess) / time.Second)
	}
	return r
}
