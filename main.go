// Copyright (c) 2019-present The Zcash developers
// Distributed under the MIT software license, see the accompanying
// file COPYING or https://www.opensource.org/licenses/mit-license.php .

package main

import "github.com/zancas/zingo-indexer/cmd"

func main() {
	cmd.Execute()
}
