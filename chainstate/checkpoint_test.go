// Copyright (c) 2019-present The Zcash developers
// Distributed under the MIT software license, see the accompanying
// file COPYING or https://www.opensource.org/licenses/mit-license.php .

package chainstate

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const checkpointTOML = `
[[checkpoint]]
network = "main"
height = 1687104
hash = "0000000000d7a8f3ab6b38b1a00fa2dfa1d1c9b2e66c3ab6de6f5e1c8b5e4bd4"
time = 1654712442
sapling_tree = "01ce18"
orchard_tree = "00"

[[checkpoint]]
network = "main"
height = 1700000
hash = "00000000011b2ea4c2b5fe1ccfb6f3a3f1e8e9bb3a8d1c3b10e2f6d1a8c0b6e2"
time = 1656000000
sapling_tree = "01"
orchard_tree = "01"

[[checkpoint]]
network = "test"
height = 2000000
hash = "00a0b1c2d3e4f5061728394a5b6c7d8e9fa0b1c2d3e4f5061728394a5b6c7d8e"
time = 1660000000
sapling_tree = ""
orchard_tree = ""
`

func TestReadCheckpoints(t *testing.T) {
	cps, err := ReadCheckpoints(strings.NewReader(checkpointTOML))
	require.NoError(t, err)
	require.Len(t, cps, 3)
	assert.Equal(t, uint32(1687104), cps[0].Height)
	assert.Equal(t, "0000000000d7a8f3ab6b38b1a00fa2dfa1d1c9b2e66c3ab6de6f5e1c8b5e4bd4", cps[0].Hash.String())
	assert.Equal(t, []byte{0x01, 0xce, 0x18}, cps[0].Sapling)
	assert.Equal(t, []byte{0}, cps[0].Orchard)

	cp, err := SelectCheckpoint(cps, "main")
	require.NoError(t, err)
	assert.Equal(t, uint32(1700000), cp.Height)
	ts := cp.TreeState()
	assert.Equal(t, cp.Hash, ts.Hash)
	assert.Equal(t, uint32(1656000000), ts.Time)

	cp, err = SelectCheckpoint(cps, "test")
	require.NoError(t, err)
	assert.Equal(t, uint32(2000000), cp.Height)
	assert.Empty(t, cp.Sapling)

	_, err = SelectCheckpoint(cps, "regtest")
	assert.Error(t, err)
}

func TestLoadCheckpoints(t *testing.T) {
	path := filepath.Join(t.TempDir(), "checkpoints.toml")
	require.NoError(t, os.WriteFile(path, []byte(checkpointTOML), 0644))
	cps, err := LoadCheckpoints(path)
	require.NoError(t, err)
	assert.Len(t, cps, 3)

	_, err = LoadCheckpoints(filepath.Join(t.TempDir(), "missing.toml"))
	assert.Error(t, err)
}

func TestCheckpointErrors(t *testing.T) {
	for name, doc := range map[string]string{
		"unknown field": "[[checkpoint]]\nnetwork = \"main\"\nheigth = 5\n",
		"no network":    "[[checkpoint]]\nheight = 5\nhash = \"" + strings.Repeat("00", 32) + "\"\n",
		"short hash":    "[[checkpoint]]\nnetwork = \"main\"\nhash = \"0011\"\n",
		"bad tree":      "[[checkpoint]]\nnetwork = \"main\"\nhash = \"" + strings.Repeat("00", 32) + "\"\nsapling_tree = \"zz\"\n",
		"not toml":      "[[checkpoint]\n",
	} {
		_, err := ReadCheckpoints(strings.NewReader(doc))
		assert.Error(t, err, name)
	}
}
