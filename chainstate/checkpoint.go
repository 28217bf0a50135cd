// Copyright (c) 2019-present The Zcash developers
// Distributed under the MIT software license, see the accompanying
// file COPYING or https://www.opensource.org/licenses/mit-license.php .

package chainstate

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"github.com/BurntSushi/toml"

	"github.com/zancas/zingo-indexer/hash32"
)

// Checkpoint is a block the mirror may start from instead of genesis,
// with its commitment trees. A checkpoint file looks like
//
//	[[checkpoint]]
//	network = "main"
//	height = 1687104
//	hash = "0000000000d7...d4"
//	time = 1654712442
//	sapling_tree = "01ce1836..."
//	orchard_tree = "00"
type Checkpoint struct {
	Network string
	Height  uint32
	Hash    hash32.T
	Time    uint32
	Sapling []byte
	Orchard []byte
}

type checkpointFile struct {
	Checkpoint []struct {
		Network     string `toml:"network"`
		Height      uint32 `toml:"height"`
		Hash        string `toml:"hash"`
		Time        uint32 `toml:"time"`
		SaplingTree string `toml:"sapling_tree"`
		OrchardTree string `toml:"orchard_tree"`
	} `toml:"checkpoint"`
}

// TreeState returns the checkpoint's commitment trees.
func (c *Checkpoint) TreeState() *TreeState {
	return &TreeState{
		Height:  c.Height,
		Hash:    c.Hash,
		Time:    c.Time,
		Sapling: c.Sapling,
		Orchard: c.Orchard,
	}
}

// LoadCheckpoints reads every checkpoint in a TOML checkpoint file.
func LoadCheckpoints(path string) ([]Checkpoint, error) {
	var f checkpointFile
	meta, err := toml.DecodeFile(path, &f)
	if err != nil {
		return nil, fmt.Errorf("checkpoint file %s: %w", path, err)
	}
	return checkpoints(f, meta)
}

// ReadCheckpoints is LoadCheckpoints for a reader.
func ReadCheckpoints(r io.Reader) ([]Checkpoint, error) {
	var f checkpointFile
	meta, err := toml.DecodeReader(r, &f)
	if err != nil {
		return nil, fmt.Errorf("checkpoint file: %w", err)
	}
	return checkpoints(f, meta)
}

func checkpoints(f checkpointFile, meta toml.MetaData) ([]Checkpoint, error) {
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("checkpoint file: unknown fields %v", undecoded)
	}
	r := make([]Checkpoint, 0, len(f.Checkpoint))
	for i, c := range f.Checkpoint {
		if c.Network == "" {
			return nil, fmt.Errorf("checkpoint %d: network is required", i)
		}
		hash, err := hash32.Decode(c.Hash)
		if err != nil {
			return nil, fmt.Errorf("checkpoint %d: hash: %w", i, err)
		}
		sapling, err := hex.DecodeString(c.SaplingTree)
		if err != nil {
			return nil, fmt.Errorf("checkpoint %d: sapling_tree: %w", i, err)
		}
		orchard, err := hex.DecodeString(c.OrchardTree)
		if err != nil {
			return nil, fmt.Errorf("checkpoint %d: orchard_tree: %w", i, err)
		}
		r = append(r, Checkpoint{
			Network: c.Network,
			Height:  c.Height,
			Hash:    hash,
			Time:    c.Time,
			Sapling: sapling,
			Orchard: orchard,
		})
	}
	return r, nil
}

// SelectCheckpoint returns the highest checkpoint for network.
func SelectCheckpoint(cps []Checkpoint, network string) (*Checkpoint, error) {
	var best *Checkpoint
	for i := range cps {
		if cps[i].Network != network {
			continue
		}
		if best == nil || cps[i].Height > best.Height {
			best = &cps[i]
		}
	}
	if best == nil {
		return nil, errors.New("no checkpoint for network " + network)
	}
	return best, nil
}
