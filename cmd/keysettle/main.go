// Command keysettle waits for an object-storage prefix to stop changing.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/keysettle/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
