// Command rengine runs the interactive execution engine.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/rengine/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		if msg := err.Error(); msg != "" {
			fmt.Fprintln(os.Stderr, msg)
		}
		os.Exit(cli.GetExitCode(err))
	}
}
