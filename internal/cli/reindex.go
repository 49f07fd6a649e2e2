// Package cli implements the taridx command-line driver: currently one
// subcommand, reindex, which rebuilds the sidecar index files for one or
// more tar archives. It is a thin wrapper over package taridx -- all the
// actual rebuild logic lives in internal/index.RebuildFromTar.
package cli

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/sync/errgroup"

	flag "github.com/spf13/pflag"

	"github.com/blocktar/taridx"
)

// Run parses argv (excluding the program name) and dispatches to the
// named subcommand, returning the process exit code.
func Run(argv []string, stdout, stderr io.Writer) int {
	if len(argv) == 0 {
		fmt.Fprintln(stderr, "usage: taridx <reindex> [options] tarfile ...")
		return 2
	}

	switch argv[0] {
	case "reindex":
		return cmdReindex(stdout, stderr, argv[1:])
	case "-h", "--help", "help":
		printUsage(stdout)
		return 0
	default:
		fmt.Fprintf(stderr, "taridx: unknown subcommand %q\n", argv[0])
		return 2
	}
}

func printUsage(out io.Writer) {
	fmt.Fprintln(out, "Usage: taridx reindex [-n NPROC] [--verify] tarfile [tarfile ...]")
	fmt.Fprintln(out, "")
	fmt.Fprintln(out, "Rebuilds the .pytree/.pylst index pair for each tarfile by scanning it")
	fmt.Fprintln(out, "sequentially. Arguments may be shell globs; any that don't expand via")
	fmt.Fprintln(out, "the shell (e.g. quoted) are expanded here too.")
}

type reindexOptions struct {
	nprocesses int
	verify     bool
}

func cmdReindex(stdout, stderr io.Writer, args []string) int {
	fs := flag.NewFlagSet("reindex", flag.ContinueOnError)
	fs.SetOutput(stderr)

	opts := reindexOptions{}
	fs.IntVarP(&opts.nprocesses, "nprocesses", "n", 1, "number of archives to reindex concurrently")
	fs.BoolVar(&opts.verify, "verify", false, "run a deep invariant check after each reindex")

	if err := fs.Parse(args); err != nil {
		return 2
	}
	if opts.nprocesses < 1 {
		fmt.Fprintln(stderr, "taridx: reindex: -n/--nprocesses must be at least 1")
		return 2
	}

	tarfiles, err := expandTarfileArgs(fs.Args())
	if err != nil {
		fmt.Fprintf(stderr, "taridx: reindex: %v\n", err)
		return 1
	}
	if len(tarfiles) == 0 {
		fmt.Fprintln(stderr, "taridx: reindex: no tar files given")
		return 2
	}

	failed := reindexAll(stdout, stderr, tarfiles, opts)
	fmt.Fprintln(stdout, "Finished.")
	if failed {
		return 1
	}
	return 0
}

// expandTarfileArgs expands any argument that doesn't already name a
// real file as a glob pattern: literal path if it exists, glob
// otherwise.
func expandTarfileArgs(args []string) ([]string, error) {
	var out []string
	for _, a := range args {
		if _, err := os.Stat(a); err == nil {
			out = append(out, a)
			continue
		}
		matches, err := filepath.Glob(a)
		if err != nil {
			return nil, fmt.Errorf("bad glob %q: %w", a, err)
		}
		if len(matches) == 0 {
			// Not an existing file and not a glob match either; keep the
			// literal argument so the caller gets a clear open error
			// rather than a silently-empty expansion.
			out = append(out, a)
			continue
		}
		out = append(out, matches...)
	}
	return out, nil
}

// reindexAll runs one reindex per tar file, at most opts.nprocesses at a
// time, using a bounded goroutine pool. It reports true if any archive
// failed to reindex; a per-file failure is logged and does not stop the
// others.
func reindexAll(stdout, stderr io.Writer, tarfiles []string, opts reindexOptions) bool {
	var mu sync.Mutex
	failed := false

	var g errgroup.Group
	g.SetLimit(opts.nprocesses)

	for _, path := range tarfiles {
		path := path
		g.Go(func() error {
			fmt.Fprintf(stdout, "Processing %q...\n", path)
			if err := reindexOne(path, opts.verify); err != nil {
				mu.Lock()
				failed = true
				mu.Unlock()
				fmt.Fprintf(stderr, "taridx: reindex %q: %v\n", path, err)
			}
			return nil
		})
	}
	_ = g.Wait() // reindexOne errors are reported per-file, not propagated
	return failed
}

func reindexOne(path string, verify bool) error {
	a, err := taridx.Open(path, false)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.Reindex(); err != nil {
		return err
	}
	if verify {
		return a.Check(true)
	}
	return nil
}
