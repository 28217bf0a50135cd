// Copyright (c) 2019-present The Zcash developers
// Distributed under the MIT software license, see the accompanying
// file COPYING or https://www.opensource.org/licenses/mit-license.php .

package cmd

import (
	"bufio"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/zancas/zingo-indexer/darkside"
)

// genblocksCmd writes a darkside blocks file.
var genblocksCmd = &cobra.Command{
	Use:   "genblocks",
	Short: "Generate a darkside blocks file",
	Long: `Generate hex-encoded blocks, one per line, for --darkside-blocks-file.
Each block height <N> is read from <N>.txt in the blocks directory, one
hex-encoded transaction per line, starting at the start height and stopping
at the first missing file.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		start, _ := cmd.Flags().GetInt("start-height")
		dir, _ := cmd.Flags().GetString("blocks-dir")
		n, err := generateBlocks(cmd.OutOrStdout(), dir, start)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "generated %d blocks\n", n)
		return nil
	},
}

func init() {
	genblocksCmd.Flags().Int("start-height", 1000, "generated blocks start at this height")
	genblocksCmd.Flags().String("blocks-dir", "./blocks", "directory containing <N>.txt for each block height <N>")
	rootCmd.AddCommand(genblocksCmd)
}

// generateBlocks returns the number of blocks written.
func generateBlocks(w io.Writer, dir string, start int) (int, error) {
	height := start
	for ; ; height++ {
		txs, err := readTransactions(filepath.Join(dir, strconv.Itoa(height)+".txt"))
		if os.IsNotExist(err) {
			break
		}
		if err != nil {
			return height - start, err
		}
		// the nonce only varies the block hash
		block, err := darkside.CreateBlockWithTransactions(height, 0, txs...)
		if err != nil {
			return height - start, fmt.Errorf("block %d: %w", height, err)
		}
		if _, err := fmt.Fprintln(w, hex.EncodeToString(block)); err != nil {
			return height - start, err
		}
	}
	return height - start, nil
}

func readTransactions(path string) ([][]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	var txs [][]byte
	scan := bufio.NewScanner(f)
	scan.Buffer(nil, 8*1000*1000)
	for line := 1; scan.Scan(); line++ {
		text := strings.TrimSpace(scan.Text())
		if text == "" {
			continue
		}
		tx, err := hex.DecodeString(text)
		if err != nil {
			return nil, fmt.Errorf("%s:%d: %w", path, line, err)
		}
		txs = append(txs, tx)
	}
	return txs, scan.Err()
}
