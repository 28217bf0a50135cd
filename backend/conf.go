// Copyright (c) 2019-present The Zcash developers
// Distributed under the MIT software license, see the accompanying
// file COPYING or https://www.opensource.org/licenses/mit-license.php .

package backend

import (
	"errors"
	"fmt"
	"net"

	"github.com/btcsuite/btcd/rpcclient"
	ini "gopkg.in/ini.v1"
)

// NodeConfig locates and authenticates the node's RPC endpoint.
type NodeConfig struct {
	Host     string // host:port
	User     string
	Password string
}

// LoadNodeConfig reads RPC settings from a zcash.conf. If passed a
// string, it is interpreted as a path; if passed a byte slice, as the
// file's content.
func LoadNodeConfig(confPath interface{}) (*NodeConfig, error) {
	cfg, err := ini.Load(confPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	section := cfg.Section("")

	rpcaddr := section.Key("rpcbind").String()
	if rpcaddr == "" {
		rpcaddr = "127.0.0.1"
	}
	rpcport := section.Key("rpcport").String()
	if rpcport == "" {
		rpcport = "8232" // default mainnet
		testnet, _ := section.Key("testnet").Int()
		regtest, _ := section.Key("regtest").Int()
		if testnet > 0 || regtest > 0 {
			rpcport = "18232"
		}
	}
	password := section.Key("rpcpassword").String()
	if password == "" {
		return nil, errors.New("rpcpassword not found (or empty), please add rpcpassword= to zcash.conf")
	}
	return &NodeConfig{
		Host:     net.JoinHostPort(rpcaddr, rpcport),
		User:     section.Key("rpcuser").String(),
		Password: password,
	}, nil
}

// NodeConfigFromFlags builds a NodeConfig from explicit settings.
func NodeConfigFromFlags(host, port, user, password string) (*NodeConfig, error) {
	if host == "" || port == "" {
		return nil, errors.New("rpchost and rpcport are required when no zcash.conf is given")
	}
	return &NodeConfig{
		Host:     net.JoinHostPort(host, port),
		User:     user,
		Password: password,
	}, nil
}

// ConnConfig returns the rpcclient settings for the node. Zcash only
// supports HTTP POST mode and does not provide TLS by default.
func (nc *NodeConfig) ConnConfig() *rpcclient.ConnConfig {
	return &rpcclient.ConnConfig{
		Host:         nc.Host,
		User:         nc.User,
		Pass:         nc.Password,
		HTTPPostMode: true,
		DisableTLS:   true,
	}
}
