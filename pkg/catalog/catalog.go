// Package catalog discovers indexed tar archives under a directory: a
// read-only listing of archive triples (<name>.tar, <name>.pytree,
// <name>.pylst) found there.
package catalog

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Entry describes one archive found under a catalog directory, and which
// of its sidecar index files are present alongside its tar file.
type Entry struct {
	// Path is the tar file's path, relative to the catalog directory.
	Path string

	HasTree bool // <name>.pytree is present
	HasList bool // <name>.pylst is present
}

// Indexed reports whether both sidecar index files are present. An
// archive missing either one needs a reindex before it can be opened
// read-only.
func (e Entry) Indexed() bool {
	return e.HasTree && e.HasList
}

// List scans dir (non-recursively) for "*.tar" files and reports, for
// each, whether its sidecar index files exist beside it. It never opens
// any of the files it finds -- this is purely a directory listing, not a
// validity check.
func List(dir string) ([]Entry, error) {
	files, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var entries []Entry
	for _, f := range files {
		if f.IsDir() || !strings.HasSuffix(f.Name(), ".tar") {
			continue
		}
		tarPath := filepath.Join(dir, f.Name())
		_, treeErr := os.Stat(tarPath + ".pytree")
		_, listErr := os.Stat(tarPath + ".pylst")
		entries = append(entries, Entry{
			Path:    f.Name(),
			HasTree: treeErr == nil,
			HasList: listErr == nil,
		})
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].Path < entries[j].Path })
	return entries, nil
}
