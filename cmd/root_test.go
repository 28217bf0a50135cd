// Copyright (c) 2019-present The Zcash developers
// Distributed under the MIT software license, see the accompanying
// file COPYING or https://www.opensource.org/licenses/mit-license.php .

package cmd

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"

	"github.com/zancas/zingo-indexer/chainstate"
	"github.com/zancas/zingo-indexer/common"
)

func TestFileExists(t *testing.T) {
	if fileExists("nonexistent-file") {
		t.Fatal("fileExists unexpected success")
	}
	// If the path exists but is a directory, should return false
	if fileExists(".") {
		t.Fatal("fileExists unexpected success")
	}
	// The following file should exist, it's what's being tested
	if !fileExists("root.go") {
		t.Fatal("fileExists failed")
	}
}

func TestOptionDefaults(t *testing.T) {
	opts := optionsFromViper()
	if opts.GRPCBindAddr != "127.0.0.1:9067" || opts.NymBindAddr != "" {
		t.Fatal("unexpected bind addresses", opts.GRPCBindAddr, opts.NymBindAddr)
	}
	if opts.MaxReorgDepth != chainstate.DefaultMaxReorgDepth ||
		opts.TreeStateWindow != chainstate.DefaultTreeStateWindow ||
		opts.PollInterval != chainstate.DefaultPollInterval {
		t.Fatalf("unexpected sync defaults %+v", opts)
	}
	if opts.LogLevel != uint64(logrus.InfoLevel) || opts.DarksideTimeout != 30 {
		t.Fatalf("unexpected defaults %+v", opts)
	}
}

func TestOptionsFromEnv(t *testing.T) {
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
	t.Setenv("MAX_REORG_DEPTH", "7")
	t.Setenv("POLL_INTERVAL", "250ms")
	t.Setenv("NYM_BIND_ADDR", "127.0.0.1:9070")
	t.Setenv("RESYNC_ON_DEEP_REORG", "true")
	opts := optionsFromViper()
	if opts.MaxReorgDepth != 7 || opts.PollInterval != 250*time.Millisecond ||
		opts.NymBindAddr != "127.0.0.1:9070" || !opts.ResyncOnDeepReorg {
		t.Fatalf("environment not applied: %+v", opts)
	}
}

func TestPrintVersion(t *testing.T) {
	saved := common.GitCommit
	common.GitCommit = "abc123"
	defer func() { common.GitCommit = saved }()
	var buf bytes.Buffer
	printVersion(&buf)
	out := buf.String()
	if !strings.HasPrefix(out, "zingo-indexer version "+common.Version) ||
		!strings.Contains(out, "git commit: abc123") || strings.Contains(out, "branch:") {
		t.Fatal("unexpected version output:", out)
	}
}
