// Command reactor builds reactive instances from config files and drives
// them from the command line or over HTTP.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/roach88/reactor/internal/cli"
)

func main() {
	err := cli.NewRootCommand().ExecuteContext(context.Background())
	if err != nil {
		fmt.Fprintln(os.Stderr, "reactor:", err)
	}
	os.Exit(cli.GetExitCode(err))
}
