// Command conflictctl inspects and resolves document sync conflicts in a
// SQLite replica database.
package main

import (
	"fmt"
	"os"

	"github.com/c0deZ3R0/docsync/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
