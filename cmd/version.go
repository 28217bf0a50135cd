// Copyright (c) 2019-present The Zcash developers
// Distributed under the MIT software license, see the accompanying
// file COPYING or https://www.opensource.org/licenses/mit-license.php .

package cmd

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/zancas/zingo-indexer/common"
)

// versionCmd represents the version command
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Display zingo-indexer version",
	Long:  `Display zingo-indexer version and build information.`,
	Run: func(cmd *cobra.Command, args []string) {
		printVersion(cmd.OutOrStdout())
	},
}

func printVersion(w io.Writer) {
	fmt.Fprintln(w, "zingo-indexer version", common.Version)
	for _, f := range []struct{ name, value string }{
		{"git commit", common.GitCommit},
		{"branch", common.Branch},
		{"build date", common.BuildDate},
		{"build user", common.BuildUser},
	} {
		if f.value != "" {
			fmt.Fprintf(w, "%s: %s\n", f.name, f.value)
		}
	}
}
