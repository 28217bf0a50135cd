// Copyright (c) 2019-present The Zcash developers
// Distributed under the MIT software license, see the accompanying
// file COPYING or https://www.opensource.org/licenses/mit-license.php .

package chainstate

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type metrics struct {
	tipHeight     prometheus.Gauge
	mempoolSize   prometheus.Gauge
	reorgs        prometheus.Counter
	reorgDepth    prometheus.Histogram
	syncFailures  prometheus.Counter
	subscribers   prometheus.Gauge
	evictions     prometheus.Counter
	events        *prometheus.CounterVec
	lastSyncEpoch prometheus.Gauge
}

// newMetrics registers with reg; a nil reg creates unregistered metrics.
func newMetrics(reg prometheus.Registerer) *metrics {
	f := promauto.With(reg)
	return &metrics{
		tipHeight: f.NewGauge(prometheus.GaugeOpts{
			Name: "zingo_indexer_tip_height",
			Help: "Height of the mirrored chain tip.",
		}),
		mempoolSize: f.NewGauge(prometheus.GaugeOpts{
			Name: "zingo_indexer_mempool_transactions",
			Help: "Number of transactions in the mirrored mempool.",
		}),
		reorgs: f.NewCounter(prometheus.CounterOpts{
			Name: "zingo_indexer_reorgs_total",
			Help: "Number of chain reorganizations applied.",
		}),
		reorgDepth: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "zingo_indexer_reorg_depth_blocks",
			Help:    "Number of blocks rolled back per reorganization.",
			Buckets: []float64{1, 2, 3, 5, 10, 20, 50, 100},
		}),
		syncFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "zingo_indexer_sync_failures_total",
			Help: "Number of failed synchronization cycles.",
		}),
		subscribers: f.NewGauge(prometheus.GaugeOpts{
			Name: "zingo_indexer_subscribers",
			Help: "Number of active change subscribers.",
		}),
		evictions: f.NewCounter(prometheus.CounterOpts{
			Name: "zingo_indexer_subscriber_evictions_total",
			Help: "Number of subscribers dropped for lagging.",
		}),
		events: f.NewCounterVec(prometheus.CounterOpts{
			Name: "zingo_indexer_events_published_total",
			Help: "Number of change events published, by kind.",
		}, []string{"kind"}),
		lastSyncEpoch: f.NewGauge(prometheus.GaugeOpts{
			Name: "zingo_indexer_last_sync_timestamp_seconds",
			Help: "Unix time of the last successful synchronization.",
		}),
	}
}
