// Copyright (c) 2019-present The Zcash developers
// Distributed under the MIT software license, see the accompanying
// file COPYING or https://www.opensource.org/licenses/mit-license.php .

package frontend

import (
	"bufio"
	"context"
	"encoding/hex"
	"errors"
	"io"
	"net"
	"time"

	"github.com/sirupsen/logrus"
	"google.golang.org/grpc/codes"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/zancas/zingo-indexer/backend"
	"github.com/zancas/zingo-indexer/chainstate"
	"github.com/zancas/zingo-indexer/common"
	"github.com/zancas/zingo-indexer/hash32"
	"github.com/zancas/zingo-indexer/nym"
)

// Mixnet request methods and the protobuf messages they carry.
const (
	// HealthCheckRequest -> HealthCheckResponse
	MethodHealth = "Health"
	// Empty -> Struct{height, hash}
	MethodGetLatestBlock = "GetLatestBlock"
	// StringValue (height or hash) -> BytesValue (serialized block)
	MethodGetBlock = "GetBlock"
	// StringValue (txid) -> Struct{hex, height, blockHash}
	MethodGetTransaction = "GetTransaction"
	// Empty -> ListValue of txids
	MethodGetMempoolTxids = "GetMempoolTxids"
	// StringValue (height or hash) -> Struct{height, hash, time, saplingTree, orchardTree}
	MethodGetTreeState = "GetTreeState"
	// BytesValue (serialized transaction) -> StringValue (txid)
	MethodSendTransaction = "SendTransaction"
	// Empty -> Struct
	MethodGetLightdInfo = "GetLightdInfo"

	// MethodError names a response whose body is a google.rpc.Status.
	MethodError = "Error"
)

// ChainState is what the mixnet server reads; *chainstate.State
// implements it.
type ChainState interface {
	GetTip() (chainstate.ChainTip, error)
	GetBlock(id chainstate.BlockID) (*chainstate.BlockRecord, error)
	GetTransaction(ctx context.Context, txid hash32.T) (*chainstate.Transaction, error)
	GetMempoolSnapshot() []*chainstate.MempoolEntry
	GetTreeState(ctx context.Context, id chainstate.BlockID) (*chainstate.TreeState, error)
	SendTransaction(ctx context.Context, raw []byte) (hash32.T, error)
	Health() chainstate.Health
	Info(ctx context.Context) (*chainstate.Info, error)
}

type nymHandler func(ctx context.Context, body []byte) (proto.Message, error)

// NymServer answers framed requests arriving through the mixnet client.
type NymServer struct {
	state        ChainState
	maxStale     time.Duration
	timeout      time.Duration
	maxFrameSize int
	handlers     map[string]nymHandler
}

// NewNymServer returns a server for state. Each request is bounded by
// timeout; maxStale is as for ServingStatus.
func NewNymServer(state ChainState, maxStale, timeout time.Duration) *NymServer {
	s := &NymServer{
		state:        state,
		maxStale:     maxStale,
		timeout:      timeout,
		maxFrameSize: nym.DefaultMaxFrameSize,
	}
	s.handlers = map[string]nymHandler{
		MethodHealth:          s.health,
		MethodGetLatestBlock:  s.getLatestBlock,
		MethodGetBlock:        s.getBlock,
		MethodGetTransaction:  s.getTransaction,
		MethodGetMempoolTxids: s.getMempoolTxids,
		MethodGetTreeState:    s.getTreeState,
		MethodSendTransaction: s.sendTransaction,
		MethodGetLightdInfo:   s.getLightdInfo,
	}
	return s
}

// Handle answers one framed request. The response carries the request's
// id and method, or MethodError with a status body if the request
// failed. An error is returned only if request is not a valid frame.
func (s *NymServer) Handle(ctx context.Context, request []byte) ([]byte, error) {
	id, method, body, err := nym.ParseRequest(request)
	if err != nil {
		return nil, err
	}
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	start := time.Now()
	resp, err := s.dispatch(ctx, method, body)
	var out []byte
	if err == nil {
		out, err = proto.Marshal(resp)
	}
	entry := common.Log.WithFields(logrus.Fields{
		"method":   method,
		"id":       id,
		"duration": time.Since(start),
	})
	if err != nil {
		st := errorStatus(err)
		entry.WithFields(logrus.Fields{
			"error": err.Error(),
			"code":  st.Code(),
		}).Info("mixnet request failed")
		out, _ = proto.Marshal(st.Proto())
		return nym.SerializeResponse(id, MethodError, out), nil
	}
	entry.Debug("mixnet request")
	return nym.SerializeResponse(id, method, out), nil
}

func (s *NymServer) dispatch(ctx context.Context, method string, body []byte) (proto.Message, error) {
	h, ok := s.handlers[method]
	if !ok {
		return nil, status.Errorf(codes.Unimplemented, "unknown method %q", method)
	}
	return h(ctx, body)
}

// errorStatus maps an error to the status returned to the client.
func errorStatus(err error) *status.Status {
	if st, ok := status.FromError(err); ok {
		return st
	}
	var berr *backend.BackendError
	switch {
	case errors.Is(err, chainstate.ErrNotFound):
		return status.New(codes.NotFound, err.Error())
	case errors.Is(err, chainstate.ErrInvalidID):
		return status.New(codes.InvalidArgument, err.Error())
	case errors.Is(err, chainstate.ErrNotReady):
		return status.New(codes.Unavailable, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.New(codes.DeadlineExceeded, err.Error())
	case errors.Is(err, context.Canceled):
		return status.New(codes.Canceled, err.Error())
	case errors.As(err, &berr):
		switch berr.Kind {
		case backend.KindRejected:
			return status.New(codes.InvalidArgument, berr.Error())
		case backend.KindCanceled:
			return status.New(codes.Canceled, berr.Error())
		}
		return status.New(codes.Unavailable, berr.Error())
	}
	return status.New(codes.Internal, err.Error())
}

func unmarshalBody(body []byte, m proto.Message) error {
	if err := proto.Unmarshal(body, m); err != nil {
		return status.Errorf(codes.InvalidArgument, "malformed request body: %v", err)
	}
	return nil
}

func parseBlockID(body []byte) (chainstate.BlockID, error) {
	var arg wrapperspb.StringValue
	if err := unmarshalBody(body, &arg); err != nil {
		return chainstate.BlockID{}, err
	}
	return chainstate.ParseBlockID(arg.GetValue())
}

func (s *NymServer) health(ctx context.Context, body []byte) (proto.Message, error) {
	var req healthpb.HealthCheckRequest
	if err := unmarshalBody(body, &req); err != nil {
		return nil, err
	}
	if req.GetService() != "" && req.GetService() != ChainStateService {
		return nil, status.Errorf(codes.NotFound, "unknown service %q", req.GetService())
	}
	return &healthpb.HealthCheckResponse{Status: ServingStatus(s.state.Health(), s.maxStale)}, nil
}

func (s *NymServer) getLatestBlock(ctx context.Context, body []byte) (proto.Message, error) {
	if err := unmarshalBody(body, &emptypb.Empty{}); err != nil {
		return nil, err
	}
	tip, err := s.state.GetTip()
	if err != nil {
		return nil, err
	}
	return structpb.NewStruct(map[string]interface{}{
		"height": float64(tip.Height),
		"hash":   tip.Hash.String(),
	})
}

func (s *NymServer) getBlock(ctx context.Context, body []byte) (proto.Message, error) {
	id, err := parseBlockID(body)
	if err != nil {
		return nil, err
	}
	b, err := s.state.GetBlock(id)
	if err != nil {
		return nil, err
	}
	return wrapperspb.Bytes(b.Raw), nil
}

func (s *NymServer) getTransaction(ctx context.Context, body []byte) (proto.Message, error) {
	var arg wrapperspb.StringValue
	if err := unmarshalBody(body, &arg); err != nil {
		return nil, err
	}
	txid, err := hash32.Decode(arg.GetValue())
	if err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "txid: %v", err)
	}
	tx, err := s.state.GetTransaction(ctx, txid)
	if err != nil {
		return nil, err
	}
	fields := map[string]interface{}{
		"hex":    hex.EncodeToString(tx.Raw),
		"height": float64(tx.Height),
	}
	if !tx.BlockHash.IsNil() {
		fields["blockHash"] = tx.BlockHash.String()
	}
	return structpb.NewStruct(fields)
}

func (s *NymServer) getMempoolTxids(ctx context.Context, body []byte) (proto.Message, error) {
	if err := unmarshalBody(body, &emptypb.Empty{}); err != nil {
		return nil, err
	}
	entries := s.state.GetMempoolSnapshot()
	txids := make([]interface{}, len(entries))
	for i, e := range entries {
		txids[i] = e.TxID.String()
	}
	return structpb.NewList(txids)
}

func (s *NymServer) getTreeState(ctx context.Context, body []byte) (proto.Message, error) {
	id, err := parseBlockID(body)
	if err != nil {
		return nil, err
	}
	ts, err := s.state.GetTreeState(ctx, id)
	if err != nil {
		return nil, err
	}
	return structpb.NewStruct(map[string]interface{}{
		"height":      float64(ts.Height),
		"hash":        ts.Hash.String(),
		"time":        float64(ts.Time),
		"saplingTree": hex.EncodeToString(ts.Sapling),
		"orchardTree": hex.EncodeToString(ts.Orchard),
	})
}

func (s *NymServer) sendTransaction(ctx context.Context, body []byte) (proto.Message, error) {
	var arg wrapperspb.BytesValue
	if err := unmarshalBody(body, &arg); err != nil {
		return nil, err
	}
	if len(arg.GetValue()) == 0 {
		return nil, status.Error(codes.InvalidArgument, "empty transaction")
	}
	txid, err := s.state.SendTransaction(ctx, arg.GetValue())
	if err != nil {
		return nil, err
	}
	return wrapperspb.String(txid.String()), nil
}

func (s *NymServer) getLightdInfo(ctx context.Context, body []byte) (proto.Message, error) {
	if err := unmarshalBody(body, &emptypb.Empty{}); err != nil {
		return nil, err
	}
	info, err := s.state.Info(ctx)
	if err != nil {
		return nil, err
	}
	return structpb.NewStruct(map[string]interface{}{
		"version":                 common.Version,
		"vendor":                  "Zingo Labs zingo-indexer",
		"gitCommit":               common.GitCommit,
		"branch":                  common.Branch,
		"buildDate":               common.BuildDate,
		"buildUser":               common.BuildUser,
		"chainName":               info.Chain,
		"consensusBranchId":       info.ConsensusBranchID,
		"saplingActivationHeight": float64(info.SaplingActivationHeight),
		"blockHeight":             float64(info.BlockHeight),
		"estimatedHeight":         float64(info.EstimatedHeight),
		"zcashdBuild":             info.NodeBuild,
		"zcashdSubversion":        info.NodeSubversion,
	})
}

// Serve accepts connections from the mixnet client on ln until ctx is
// done. On each connection, requests and responses are length-prefixed
// frames (nym.ReadFrame); a connection that sends an invalid frame is
// closed.
func (s *NymServer) Serve(ctx context.Context, ln net.Listener) error {
	go func() {
		<-ctx.Done()
		ln.Close()
	}()
	common.Log.WithFields(logrus.Fields{
		"addr": ln.Addr().String(),
	}).Info("mixnet listener started")
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		go s.serveConn(ctx, conn)
	}
}

func (s *NymServer) serveConn(ctx context.Context, conn net.Conn) {
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
		case <-done:
		}
		conn.Close()
	}()
	log := common.Log.WithFields(logrus.Fields{
		"peer_addr": conn.RemoteAddr().String(),
	})
	r := bufio.NewReader(conn)
	for {
		request, err := nym.ReadFrame(r, s.maxFrameSize)
		if err == io.EOF {
			return
		}
		if err != nil {
			if ctx.Err() == nil {
				log.WithFields(logrus.Fields{"error": err.Error()}).Warn("mixnet connection read failed")
			}
			return
		}
		response, err := s.Handle(ctx, request)
		if err != nil {
			log.WithFields(logrus.Fields{"error": err.Error()}).Warn("invalid mixnet request, closing")
			return
		}
		if err := nym.WriteFrame(conn, response); err != nil {
			log.WithFields(logrus.Fields{"error": err.Error()}).Warn("mixnet connection write failed")
			return
		}
	}
}
