// Command rebalancer administers and inspects a rebalance engine's state.
package main

import (
	"fmt"
	"os"

	"github.com/Rebalancy/agent-contracts/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
