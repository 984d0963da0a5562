// Command chessbench benchmarks a move-pattern predictor against a chess
// engine on historical games.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/chessbench/internal/cli"
)

func main() {
	cmd := cli.NewRootCommand()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
