// Copyright (c) 2019-present The Zcash developers
// Distributed under the MIT software license, see the accompanying
// file COPYING or https://www.opensource.org/licenses/mit-license.php .

package backend

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Kind classifies a failed node call.
type Kind int

const (
	// KindTransient covers network failures and per-attempt timeouts.
	KindTransient Kind = iota
	// KindSyncing means the node is warming up or still in initial
	// block download.
	KindSyncing
	// KindRejected is an application error reported by the node; it is
	// never retried.
	KindRejected
	// KindCanceled means the caller's context ended.
	KindCanceled
)

func (k Kind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindSyncing:
		return "syncing"
	case KindRejected:
		return "rejected"
	case KindCanceled:
		return "canceled"
	}
	return "unknown"
}

// Node error codes, from zcashd's rpc/protocol.h.
const (
	CodeInvalidAddressOrKey = -5
	CodeInvalidParameter    = -8
	CodeInInitialDownload   = -10
	CodeVerifyRejected      = -26
	CodeInWarmup            = -28
)

type BackendError struct {
	Method  string
	Kind    Kind
	Code    int64 // zero unless the node reported an error
	Message string
	Retries int
	Err     error
}

func (e *BackendError) Error() string {
	s := fmt.Sprintf("%s: %s", e.Method, e.Kind)
	if e.Code != 0 {
		s += fmt.Sprintf(" (code %d: %s)", e.Code, e.Message)
	} else if e.Err != nil {
		s += ": " + e.Err.Error()
	}
	if e.Retries > 0 {
		s += fmt.Sprintf(" after %d retries", e.Retries)
	}
	return s
}

func (e *BackendError) Unwrap() error { return e.Err }

// Temporary reports whether the call may succeed if repeated later.
func (e *BackendError) Temporary() bool {
	return e.Kind == KindTransient || e.Kind == KindSyncing
}

// IsNotFound reports whether err is the node saying that a block height,
// hash or txid does not exist.
func IsNotFound(err error) bool {
	var be *BackendError
	if !errors.As(err, &be) || be.Kind != KindRejected {
		return false
	}
	return be.Code == CodeInvalidAddressOrKey || be.Code == CodeInvalidParameter
}

// parseNodeError splits a node error of the form "-8: Block height out
// of range". The node's error replies are not JSON; rpcclient renders
// them as "code: message".
func parseNodeError(err error) (code int64, msg string, ok bool) {
	errParts := strings.SplitN(err.Error(), ":", 2)
	if len(errParts) != 2 {
		return 0, "", false
	}
	code, perr := strconv.ParseInt(strings.TrimSpace(errParts[0]), 10, 32)
	if perr != nil || code >= 0 {
		return 0, "", false
	}
	return code, strings.TrimSpace(errParts[1]), true
}

func classify(method string, err error) *BackendError {
	code, msg, ok := parseNodeError(err)
	if !ok {
		return &BackendError{Method: method, Kind: KindTransient, Err: err}
	}
	kind := KindRejected
	if code == CodeInWarmup || code == CodeInInitialDownload {
		kind = KindSyncing
	}
	return &BackendError{Method: method, Kind: kind, Code: code, Message: msg, Err: err}
}
