// Command recsync serves, inspects and exercises recsync stores.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/recsync/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
