// Copyright (c) 2019-present The Zcash developers
// Distributed under the MIT software license, see the accompanying
// file COPYING or https://www.opensource.org/licenses/mit-license.php .

// Package common holds process-wide state shared by the indexer's
// packages: build information, options, the logger, and the hooks that
// tests replace (the node RPC transport and the clock).
package common

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/sirupsen/logrus"
)

// 'make build' will overwrite this string with the output of git-describe (tag)
var (
	Version   = "v0.0.0.0-dev"
	GitCommit = ""
	Branch    = ""
	BuildDate = ""
	BuildUser = ""
)

// Options holds everything the daemon reads from flags, the config file
// and the environment.
type Options struct {
	GRPCBindAddr        string `json:"grpc_bind_address,omitempty"`
	HTTPBindAddr        string `json:"http_bind_address,omitempty"`
	NymBindAddr         string `json:"nym_bind_address,omitempty"`
	TLSCertPath         string `json:"tls_cert_path,omitempty"`
	TLSKeyPath          string `json:"tls_cert_key,omitempty"`
	LogLevel            uint64 `json:"log_level,omitempty"`
	LogFile             string `json:"log_file,omitempty"`
	ZcashConfPath       string `json:"zcash_conf,omitempty"`
	RPCUser             string `json:"rpcuser"`
	RPCPassword         string `json:"rpcpassword"`
	RPCHost             string `json:"rpchost"`
	RPCPort             string `json:"rpcport"`
	NoTLSVeryInsecure   bool   `json:"no_tls_very_insecure,omitempty"`
	GenCertVeryInsecure bool   `json:"gen_cert_very_insecure,omitempty"`
	CheckpointFile      string `json:"checkpoint_file,omitempty"`
	Darkside            bool   `json:"darkside"`
	DarksideBlocksFile  string `json:"darkside_blocks_file,omitempty"`
	DarksideTimeout     uint64 `json:"darkside_timeout,omitempty"`

	// Node client
	RPCTimeout   time.Duration `json:"rpc_timeout,omitempty"`
	RPCRetries   int           `json:"rpc_retries,omitempty"`
	RPCRateLimit float64       `json:"rpc_rate_limit,omitempty"`

	// Synchronizer and subscribers
	PollInterval      time.Duration `json:"poll_interval,omitempty"`
	DegradedAfter     int           `json:"degraded_after,omitempty"`
	MaxReorgDepth     int           `json:"max_reorg_depth,omitempty"`
	ResyncOnDeepReorg bool          `json:"resync_on_deep_reorg,omitempty"`
	TreeStateWindow   int           `json:"treestate_window,omitempty"`
	MaxBlocks         int           `json:"max_blocks,omitempty"`
	SubscriberQueue   int           `json:"subscriber_queue,omitempty"`
	StartHeight       uint32        `json:"start_height,omitempty"`
	MaxStaleness      time.Duration `json:"max_staleness,omitempty"`
}

// RawRequest points to the function to send an RPC request to the node;
// in production, it points to backend.NodeConn.RawRequest, which wraps
// btcsuite/btcd/rpcclient/rawrequest.go:RawRequest;
// in unit tests it points to a function to mock RPCs to the node.
var RawRequest = func(method string, params []json.RawMessage) (json.RawMessage, error) {
	return nil, errors.New("no node connection configured")
}

// Time allows time-related functions to be mocked for testing,
// so that tests can be deterministic and so they don't require
// real time to elapse. In production, these point to the standard
// library `time` functions; in unit tests they point to mock
// functions (set by the specific test as required).
// More functions can be added later.
var Time struct {
	After func(d time.Duration) <-chan time.Time
	Now   func() time.Time
}

// Log as a global variable simplifies logging
var Log = logrus.NewEntry(logrus.StandardLogger())

func init() {
	Time.After = time.After
	Time.Now = time.Now
}
