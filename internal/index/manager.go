// Package index composes the B-tree and the tail log into one handle per
// archive: every insert writes the tail log first, then the tree, so a
// crash between the two leaves the tail log (and thus Last) ahead of the
// tree but never the reverse -- and both are rebuilt from the tar file
// itself by RebuildFromTar.
package index

import (
	"archive/tar"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"

	"github.com/natefinch/atomic"

	"github.com/blocktar/taridx/internal/block"
	"github.com/blocktar/taridx/internal/btree"
	"github.com/blocktar/taridx/internal/escape"
	"github.com/blocktar/taridx/internal/tarerr"
)

// flushInterval is how many tar members RebuildFromTar processes between
// tree checkpoints, bounding the in-memory tree held during a full scan.
const flushInterval = 10000

// cacheSize is the node-shadow capacity of a live (non-rebuild) index.
// Live handles use write-through caching, so a dirty node is durable
// before the insert returns and eviction never has anything left to
// write.
const cacheSize = 256

// Manager is a basename's worth of index: <basename>.pytree (the B-tree)
// and <basename>.pylst (the tail log).
type Manager struct {
	Basename string
	TreeName string
	ListName string

	readOnly bool
	store    *block.Store
	tree     *btree.Tree
	log      *TailLog
}

// Create initializes a brand-new, empty index pair at basename.
func Create(basename string, overwrite bool) (*Manager, error) {
	treeName := basename + ".pytree"
	listName := basename + ".pylst"

	store, err := block.Create(treeName, block.Defaults())
	if err != nil {
		return nil, err
	}
	tree, err := btree.Open(store, block.NewCache(store, cacheSize, false), overwrite)
	if err != nil {
		store.Close()
		return nil, err
	}
	log, err := OpenTailLog(listName, false, store.Master.MaxRecLen)
	if err != nil {
		store.Close()
		return nil, err
	}

	return &Manager{Basename: basename, TreeName: treeName, ListName: listName, store: store, tree: tree, log: log}, nil
}

// Open opens an existing index pair at basename. It returns
// tarerr.ErrIndexNotFound (wrapped) if either file is missing.
func Open(basename string, readOnly bool, overwrite bool) (*Manager, error) {
	treeName := basename + ".pytree"
	listName := basename + ".pylst"

	store, err := block.Open(treeName, readOnly)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%s: %w", treeName, tarerr.ErrIndexNotFound)
		}
		return nil, err
	}

	tree, err := btree.Open(store, block.NewCache(store, cacheSize, false), overwrite)
	if err != nil {
		store.Close()
		return nil, err
	}

	if _, err := os.Stat(listName); errors.Is(err, fs.ErrNotExist) {
		store.Close()
		return nil, fmt.Errorf("%s: %w", listName, tarerr.ErrIndexNotFound)
	}
	log, err := OpenTailLog(listName, readOnly, store.Master.MaxRecLen)
	if err != nil {
		store.Close()
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%s: %w", listName, tarerr.ErrIndexNotFound)
		}
		return nil, err
	}

	return &Manager{
		Basename: basename, TreeName: treeName, ListName: listName,
		readOnly: readOnly, store: store, tree: tree, log: log,
	}, nil
}

// Close releases the tail log and block store file handles.
func (m *Manager) Close() error {
	logErr := m.log.Close()
	storeErr := m.store.Close()
	return errors.Join(logErr, storeErr)
}

// Insert records name at (offset, size): the tail log first, then the
// tree, so a crash between the two leaves Last correct and the tree
// repairable by RebuildFromTar.
// The name is validated before either file is touched -- a name the tree
// would reject must never reach the durable log.
func (m *Manager) Insert(name string, offset, size int64) error {
	if m.readOnly {
		return fmt.Errorf("index: insert on read-only index %s", m.TreeName)
	}
	if int64(len(name)) > m.store.Master.MaxNameLen {
		return fmt.Errorf("%s (%d bytes, max %d): %w", name, len(name), m.store.Master.MaxNameLen, tarerr.ErrNameTooLong)
	}
	if err := m.log.Append(name, offset, size); err != nil {
		return err
	}
	return m.tree.Insert(name, offset, size)
}

// MaxNameLen is the longest member name this index accepts, fixed when
// its block store was created.
func (m *Manager) MaxNameLen() int64 {
	return m.store.Master.MaxNameLen
}

// Lookup returns the (offset, size) of the most recently inserted record
// for name.
func (m *Manager) Lookup(name string) (offset, size int64, err error) {
	return m.tree.Lookup(name)
}

// Exist reports whether name is present in the index.
func (m *Manager) Exist(name string) (bool, error) {
	return m.tree.Exist(name)
}

// Last returns the most recently appended record, read from the tail log.
func (m *Manager) Last() (name string, offset, size int64, err error) {
	return m.log.Last()
}

// Check verifies the tree's internal invariants.
func (m *Manager) Check(deep bool) error {
	return m.tree.Check(deep)
}

// RebuildFromTar scans tarPath from the beginning and writes a fresh
// index pair at basename, publishing it atomically only once the full
// scan (and a final flush) has succeeded. A malformed or truncated tail
// of the tar stream is tolerated -- members read before the damage are
// still indexed -- matching how a crash mid-append to the archive should
// be recoverable by reindexing.
func RebuildFromTar(tarPath, basename string) error {
	treeTmp := basename + ".pytree_"
	listTmp := basename + ".pylst_"

	store, err := block.Create(treeTmp, block.Defaults())
	if err != nil {
		return err
	}
	// Write-back caching batches the scan's page writes; the periodic
	// tree.Flush in rebuildScan both persists and empties it, so a large
	// archive never holds more than flushInterval members' worth of tree
	// in memory.
	tree, err := btree.Open(store, block.NewCache(store, 0, true), true)
	if err != nil {
		store.Close()
		return err
	}

	listFile, err := os.Create(listTmp)
	if err != nil {
		store.Close()
		return err
	}

	if err := rebuildScan(tarPath, tree, listFile); err != nil {
		store.Close()
		listFile.Close()
		return err
	}

	if err := tree.Flush(); err != nil {
		store.Close()
		listFile.Close()
		return err
	}
	if err := listFile.Sync(); err != nil {
		store.Close()
		listFile.Close()
		return err
	}
	if err := listFile.Close(); err != nil {
		store.Close()
		return err
	}
	if err := store.Close(); err != nil {
		return err
	}

	if err := atomic.ReplaceFile(listTmp, basename+".pylst"); err != nil {
		return fmt.Errorf("index: publish rebuilt tail log: %w", err)
	}
	if err := atomic.ReplaceFile(treeTmp, basename+".pytree"); err != nil {
		return fmt.Errorf("index: publish rebuilt tree: %w", err)
	}
	return nil
}

func rebuildScan(tarPath string, tree *btree.Tree, listFile *os.File) error {
	f, err := os.Open(tarPath)
	if err != nil {
		return err
	}
	defer f.Close()

	tr := tar.NewReader(f)
	count := 0
	for {
		hdr, err := tr.Next()
		if err != nil {
			// io.EOF is a clean end of archive; anything else is a
			// truncated or corrupt tail, which we tolerate: everything
			// read so far is still indexed.
			break
		}

		offset, err := f.Seek(0, io.SeekCurrent)
		if err != nil {
			return fmt.Errorf("index: locate data offset for %q: %w", hdr.Name, err)
		}

		if err := tree.Insert(hdr.Name, offset, hdr.Size); err != nil {
			return fmt.Errorf("index: rebuild insert %q: %w", hdr.Name, err)
		}
		line := fmt.Sprintf("%s,%d,%d\n", escape.Escape(hdr.Name), offset, hdr.Size)
		if _, err := listFile.WriteString(line); err != nil {
			return fmt.Errorf("index: rebuild write tail log entry for %q: %w", hdr.Name, err)
		}

		count++
		if count%flushInterval == 0 {
			if err := tree.Flush(); err != nil {
				return err
			}
		}
	}
	return nil
}
