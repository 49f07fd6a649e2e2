// Command taridx is the reindex driver for taridx archives: given one or
// more tar files (or globs), it rebuilds each one's sidecar .pytree/.pylst
// index pair from the archive's current contents.
package main

import (
	"os"

	"github.com/blocktar/taridx/internal/cli"
)

func main() {
	os.Exit(cli.Run(os.Args[1:], os.Stdout, os.Stderr))
}
