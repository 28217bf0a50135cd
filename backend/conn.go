// Copyright (c) 2019-present The Zcash developers
// Distributed under the MIT software license, see the accompanying
// file COPYING or https://www.opensource.org/licenses/mit-license.php .

package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/btcsuite/btcd/rpcclient"
	"github.com/sirupsen/logrus"

	"github.com/zancas/zingo-indexer/common"
)

// NodeConn is the RPC connection to the node. rpcclient sends POST
// requests one at a time from a single goroutine with no deadline, so
// one request the node never answers would hold up every later one. A
// request still unanswered after the timeout abandons the client and
// the next request goes out on a fresh one.
type NodeConn struct {
	nc      *NodeConfig
	timeout time.Duration

	mu     sync.Mutex
	client *rpcclient.Client
}

// Dial creates the connection to the node. Notifications are not
// supported in HTTP POST mode, hence the nil handlers. The returned
// connection's RawRequest is what common.RawRequest should point to.
func Dial(nc *NodeConfig, timeout time.Duration) (*NodeConn, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	client, err := rpcclient.New(nc.ConnConfig(), nil)
	if err != nil {
		return nil, err
	}
	return &NodeConn{nc: nc, timeout: timeout, client: client}, nil
}

func (c *NodeConn) current() *rpcclient.Client {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.client
}

// RawRequest sends one request to the node.
func (c *NodeConn) RawRequest(method string, params []json.RawMessage) (json.RawMessage, error) {
	client := c.current()
	type reply struct {
		result json.RawMessage
		err    error
	}
	done := make(chan reply, 1)
	go func() {
		result, err := client.RawRequest(method, params)
		done <- reply{result, err}
	}()
	t := time.NewTimer(c.timeout)
	defer t.Stop()
	select {
	case r := <-done:
		return r.result, r.err
	case <-t.C:
	}
	c.redial(client)
	return nil, fmt.Errorf("%s: no reply within %v: %w", method, c.timeout, context.DeadlineExceeded)
}

// redial replaces stale unless another request already has.
func (c *NodeConn) redial(stale *rpcclient.Client) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.client != stale {
		return
	}
	fresh, err := rpcclient.New(c.nc.ConnConfig(), nil)
	if err != nil {
		common.Log.WithFields(logrus.Fields{
			"host":  c.nc.Host,
			"error": err.Error(),
		}).Error("cannot reconnect to node")
		return
	}
	c.client = fresh
	stale.Shutdown()
	common.Log.WithFields(logrus.Fields{
		"host":    c.nc.Host,
		"timeout": c.timeout,
	}).Warn("node request timed out, reconnecting")
}

// Shutdown stops the current client. Requests still in flight fail.
func (c *NodeConn) Shutdown() {
	c.current().Shutdown()
}
