// Copyright (c) 2019-present The Zcash developers
// Distributed under the MIT software license, see the accompanying
// file COPYING or https://www.opensource.org/licenses/mit-license.php .

// Package logging provides the gRPC interceptors that log each call.
package logging

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"

	"github.com/zancas/zingo-indexer/common"
)

// LogToStderr enables per-call logging; off, only failures are logged.
var LogToStderr bool

func loggerFromContext(ctx context.Context) *logrus.Entry {
	if peerInfo, ok := peer.FromContext(ctx); ok {
		return common.Log.WithFields(logrus.Fields{"peer_addr": peerInfo.Addr})
	}
	return common.Log.WithFields(logrus.Fields{"peer_addr": "unknown"})
}

func logCall(ctx context.Context, method string, start time.Time, err error) {
	if err == nil && !LogToStderr {
		return
	}
	entry := loggerFromContext(ctx).WithFields(logrus.Fields{
		"method":   method,
		"duration": time.Since(start),
	})
	if err != nil {
		entry.WithFields(logrus.Fields{
			"code":  status.Code(err),
			"error": err,
		}).Warn("call failed")
		return
	}
	entry.Info("method called")
}

// LogInterceptor logs unary calls.
func LogInterceptor(
	ctx context.Context,
	req interface{},
	info *grpc.UnaryServerInfo,
	handler grpc.UnaryHandler,
) (interface{}, error) {
	start := time.Now()
	resp, err := handler(ctx, req)
	logCall(ctx, info.FullMethod, start, err)
	return resp, err
}

// StreamLogInterceptor logs streaming calls when they end.
func StreamLogInterceptor(
	srv interface{},
	ss grpc.ServerStream,
	info *grpc.StreamServerInfo,
	handler grpc.StreamHandler,
) error {
	start := time.Now()
	err := handler(srv, ss)
	logCall(ss.Context(), info.FullMethod, start, err)
	return err
}
