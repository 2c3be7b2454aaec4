// Command recordkit runs CRUD and queries against an indexed record
// collection. See internal/cli for the commands.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/recordkit/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
