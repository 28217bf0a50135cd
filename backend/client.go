// Copyright (c) 2019-present The Zcash developers
// Distributed under the MIT software license, see the accompanying
// file COPYING or https://www.opensource.org/licenses/mit-license.php .

// Package backend issues JSON-RPC calls to the full node (zcashd or
// zebrad) and decodes the replies. Transient failures are retried with
// exponential backoff; errors the node reports about the request itself
// are returned immediately.
package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/zancas/zingo-indexer/common"
	"github.com/zancas/zingo-indexer/hash32"
	"github.com/zancas/zingo-indexer/wire"
)

// Options configures a Client. Zero values select the defaults.
type Options struct {
	// Timeout bounds each attempt.
	Timeout time.Duration
	// MaxRetries bounds the retries after the first attempt.
	MaxRetries int
	// InitialInterval and MaxInterval shape the backoff schedule.
	InitialInterval time.Duration
	MaxInterval     time.Duration
	// Jitter is the backoff randomization factor, 0 for none.
	Jitter float64
	// RateLimit is the sustained request rate to the node in calls per
	// second; zero means unlimited.
	RateLimit float64
	Burst     int
}

const (
	DefaultTimeout         = 30 * time.Second
	DefaultMaxRetries      = 5
	DefaultInitialInterval = time.Second
	DefaultMaxInterval     = 30 * time.Second
)

// Client calls the node through common.RawRequest.
type Client struct {
	opts    Options
	limiter *rate.Limiter
}

func NewClient(opts Options) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	} else if opts.MaxRetries == 0 {
		opts.MaxRetries = DefaultMaxRetries
	}
	if opts.InitialInterval <= 0 {
		opts.InitialInterval = DefaultInitialInterval
	}
	if opts.MaxInterval <= 0 {
		opts.MaxInterval = DefaultMaxInterval
	}
	limit := rate.Inf
	if opts.RateLimit > 0 {
		limit = rate.Limit(opts.RateLimit)
	}
	if opts.Burst <= 0 {
		opts.Burst = 1
	}
	return &Client{
		opts:    opts,
		limiter: rate.NewLimiter(limit, opts.Burst),
	}
}

func (c *Client) newBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.opts.InitialInterval
	b.MaxInterval = c.opts.MaxInterval
	b.RandomizationFactor = c.opts.Jitter
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// Call sends one request and returns the raw JSON result. Failures are
// returned as *BackendError.
func (c *Client) Call(ctx context.Context, method string, params []json.RawMessage) (json.RawMessage, error) {
	b := c.newBackOff()
	for retry := 0; ; retry++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, &BackendError{Method: method, Kind: KindCanceled, Retries: retry, Err: err}
		}
		result, err := c.attempt(ctx, method, params)
		if err == nil {
			return result, nil
		}
		var berr *BackendError
		if ctx.Err() != nil {
			berr = &BackendError{Method: method, Kind: KindCanceled, Err: ctx.Err()}
		} else if errors.Is(err, context.DeadlineExceeded) {
			berr = &BackendError{Method: method, Kind: KindTransient,
				Err: fmt.Errorf("no reply within %v: %w", c.opts.Timeout, err)}
		} else {
			berr = classify(method, err)
		}
		berr.Retries = retry
		if !berr.Temporary() || retry >= c.opts.MaxRetries {
			return nil, berr
		}
		wait := b.NextBackOff()
		if wait == backoff.Stop {
			return nil, berr
		}
		common.Log.WithFields(logrus.Fields{
			"method": method,
			"error":  err.Error(),
			"retry":  retry + 1,
			"wait":   wait,
		}).Warn("node call failed, retrying")
		select {
		case <-ctx.Done():
			return nil, &BackendError{Method: method, Kind: KindCanceled, Retries: retry + 1, Err: ctx.Err()}
		case <-common.Time.After(wait):
		}
	}
}

// attempt makes a single request bounded by the per-attempt timeout.
// rpcclient's RawRequest takes no context, so the request runs in its
// own goroutine and is abandoned on timeout.
func (c *Client) attempt(ctx context.Context, method string, params []json.RawMessage) (json.RawMessage, error) {
	ctx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
	defer cancel()

	type reply struct {
		result json.RawMessage
		err    error
	}
	rawRequest := common.RawRequest
	done := make(chan reply, 1)
	go func() {
		result, err := rawRequest(method, params)
		done <- reply{result, err}
	}()
	select {
	case r := <-done:
		return r.result, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func jsonParams(args ...interface{}) []json.RawMessage {
	params := make([]json.RawMessage, len(args))
	for i, a := range args {
		// Marshal cannot fail for the strings, integers and
		// booleans passed here.
		params[i], _ = json.Marshal(a)
	}
	return params
}

func (c *Client) GetBlockchainInfo(ctx context.Context) (*wire.BlockchainInfo, error) {
	result, err := c.Call(ctx, "getblockchaininfo", nil)
	if err != nil {
		return nil, err
	}
	return wire.DecodeBlockchainInfo(result)
}

func (c *Client) GetBestBlockHash(ctx context.Context) (hash32.T, error) {
	result, err := c.Call(ctx, "getbestblockhash", nil)
	if err != nil {
		return hash32.Nil, err
	}
	return wire.DecodeBlockHash(result)
}

// GetBlockHash returns the hash of the best-chain block at height.
func (c *Client) GetBlockHash(ctx context.Context, height uint32) (hash32.T, error) {
	result, err := c.Call(ctx, "getblockhash", jsonParams(height))
	if err != nil {
		return hash32.Nil, err
	}
	return wire.DecodeBlockHash(result)
}

// GetBlock returns the verbosity 1 object for the best-chain block at
// height. zcashd takes the height as a string.
func (c *Client) GetBlock(ctx context.Context, height uint32) (*wire.BlockInfo, error) {
	result, err := c.Call(ctx, "getblock", jsonParams(strconv.FormatUint(uint64(height), 10), 1))
	if err != nil {
		return nil, err
	}
	reply, err := wire.DecodeBlock(result)
	if err != nil {
		return nil, err
	}
	if reply.Kind != wire.BlockObject {
		return nil, &wire.DecodeError{Method: "getblock", Err: fmt.Errorf("%w: expected object", wire.ErrMalformedJSON)}
	}
	return reply.Object, nil
}

// GetRawBlock returns the serialized block with the given hash.
func (c *Client) GetRawBlock(ctx context.Context, hash hash32.T) ([]byte, error) {
	result, err := c.Call(ctx, "getblock", jsonParams(hash.String(), 0))
	if err != nil {
		return nil, err
	}
	reply, err := wire.DecodeBlock(result)
	if err != nil {
		return nil, err
	}
	if reply.Kind != wire.BlockRaw {
		return nil, &wire.DecodeError{Method: "getblock", Err: fmt.Errorf("%w: expected hex string", wire.ErrMalformedJSON)}
	}
	return reply.Raw, nil
}

func (c *Client) GetRawMempool(ctx context.Context) ([]hash32.T, error) {
	result, err := c.Call(ctx, "getrawmempool", nil)
	if err != nil {
		return nil, err
	}
	return wire.DecodeTxids(result)
}

// GetRawTransaction fetches a transaction; verbose selects the object
// reply, which carries the mined height.
func (c *Client) GetRawTransaction(ctx context.Context, txid hash32.T, verbose bool) (*wire.TransactionReply, error) {
	v := 0
	if verbose {
		v = 1
	}
	result, err := c.Call(ctx, "getrawtransaction", jsonParams(txid.String(), v))
	if err != nil {
		return nil, err
	}
	return wire.DecodeRawTransaction(result)
}

// GetTreeState returns the note commitment trees as of the block with
// the given hash.
func (c *Client) GetTreeState(ctx context.Context, hash hash32.T) (*wire.TreeState, error) {
	result, err := c.Call(ctx, "z_gettreestate", jsonParams(hash.String()))
	if err != nil {
		return nil, err
	}
	return wire.DecodeTreeState(result)
}

// SendRawTransaction submits a transaction and returns its txid. A
// rejection is a *BackendError of KindRejected.
func (c *Client) SendRawTransaction(ctx context.Context, raw []byte) (hash32.T, error) {
	hexJSON, err := json.Marshal(wire.HexBytes(raw))
	if err != nil {
		return hash32.Nil, err
	}
	result, err := c.Call(ctx, "sendrawtransaction", []json.RawMessage{hexJSON})
	if err != nil {
		return hash32.Nil, err
	}
	return wire.DecodeSendResult(result)
}

func (c *Client) GetInfo(ctx context.Context) (*wire.Info, error) {
	result, err := c.Call(ctx, "getinfo", nil)
	if err != nil {
		return nil, err
	}
	return wire.DecodeInfo(result)
}
