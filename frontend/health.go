// Copyright (c) 2019-present The Zcash developers
// Distributed under the MIT software license, see the accompanying
// file COPYING or https://www.opensource.org/licenses/mit-license.php .

// Package frontend serves the chain state to clients: a gRPC health
// service and HTTP health endpoint driven by synchronization health, and
// a dispatcher for framed mixnet requests.
package frontend

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/zancas/zingo-indexer/chainstate"
	"github.com/zancas/zingo-indexer/common"
)

// ChainStateService is the service name whose gRPC health tracks the
// synchronizer. The empty name reports the same status.
const ChainStateService = "zingo.indexer.ChainState"

// ServingStatus maps synchronizer health to a gRPC health status. The
// mirror is serving when healthy and, if maxStale is positive, synced
// within maxStale.
func ServingStatus(h chainstate.Health, maxStale time.Duration) healthpb.HealthCheckResponse_ServingStatus {
	if h.Status != chainstate.HealthHealthy {
		return healthpb.HealthCheckResponse_NOT_SERVING
	}
	if maxStale > 0 && time.Duration(h.SecondsSinceSync)*time.Second > maxStale {
		return healthpb.HealthCheckResponse_NOT_SERVING
	}
	return healthpb.HealthCheckResponse_SERVING
}

// HealthReporter copies synchronizer health into a grpc health server.
type HealthReporter struct {
	server   *health.Server
	source   func() chainstate.Health
	maxStale time.Duration
	last     healthpb.HealthCheckResponse_ServingStatus
}

// NewHealthReporter returns a reporter for server; source is usually
// (*chainstate.State).Health.
func NewHealthReporter(server *health.Server, source func() chainstate.Health, maxStale time.Duration) *HealthReporter {
	return &HealthReporter{
		server:   server,
		source:   source,
		maxStale: maxStale,
		last:     healthpb.HealthCheckResponse_UNKNOWN,
	}
}

// Update publishes the current status and returns it.
func (r *HealthReporter) Update() healthpb.HealthCheckResponse_ServingStatus {
	h := r.source()
	status := ServingStatus(h, r.maxStale)
	r.server.SetServingStatus("", status)
	r.server.SetServingStatus(ChainStateService, status)
	if status != r.last {
		common.Log.WithFields(logrus.Fields{
			"status":           status,
			"health":           h.Status,
			"secondsSinceSync": h.SecondsSinceSync,
		}).Info("serving status changed")
		r.last = status
	}
	return status
}

// Run updates every interval until ctx is done, then marks every
// service NOT_SERVING.
func (r *HealthReporter) Run(ctx context.Context, interval time.Duration) error {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		r.Update()
		select {
		case <-ctx.Done():
			r.server.Shutdown()
			return nil
		case <-t.C:
		}
	}
}

// healthJSON is the body of the HTTP health endpoint.
type healthJSON struct {
	Status              string  `json:"status"`
	Sync                string  `json:"sync"`
	State               string  `json:"state"`
	Height              uint32  `json:"height"`
	Hash                string  `json:"hash,omitempty"`
	SecondsSinceSync    int64   `json:"secondsSinceSync"`
	ConsecutiveFailures int     `json:"consecutiveFailures"`
	LastError           *string `json:"lastError,omitempty"`
}

// HealthHandler serves the synchronizer's health as JSON, with status 503
// when not serving.
func HealthHandler(source func() chainstate.Health, maxStale time.Duration) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		h := source()
		status := ServingStatus(h, maxStale)
		body := healthJSON{
			Status:              status.String(),
			Sync:                h.Status.String(),
			State:               h.State.String(),
			Height:              h.Tip.Height,
			SecondsSinceSync:    h.SecondsSinceSync,
			ConsecutiveFailures: h.ConsecutiveFailures,
		}
		if !h.Tip.Hash.IsNil() {
			body.Hash = h.Tip.Hash.String()
		}
		if h.LastError != nil {
			msg := h.LastError.Error()
			body.LastError = &msg
		}
		w.Header().Set("Content-Type", "application/json")
		if status != healthpb.HealthCheckResponse_SERVING {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		json.NewEncoder(w).Encode(body)
	})
}
