// Package btree implements the disk-backed B-tree that maps archive
// member names to their (offset, size) location in the tar file. Nodes
// are paged through an internal/block.Store (with an optional shadow
// cache), splitting by allocating fresh block numbers for both halves so
// a concurrent reader never observes a half-updated node.
package btree

import (
	"errors"
	"fmt"

	"github.com/blocktar/taridx/internal/block"
	"github.com/blocktar/taridx/internal/tarerr"
)

// Tree is a handle on one B-tree rooted at block 1 of store.
type Tree struct {
	backing *backing
	root    *node
}

// Open reads the current root (block 1) from store and returns a Tree.
// cache may be nil, in which case every write goes straight to store.
// When overwrite is false, Insert on an existing key returns
// tarerr.ErrDuplicate instead of replacing it.
func Open(store *block.Store, cache *block.Cache, overwrite bool) (*Tree, error) {
	b := &backing{
		store:      store,
		cache:      cache,
		overwrite:  overwrite,
		blockSize:  store.Master.BlockSize,
		maxItems:   store.Master.MaxItems,
		maxNameLen: store.Master.MaxNameLen,
		maxRecLen:  store.Master.MaxRecLen,
	}
	rec, err := b.readBlock(1)
	if err != nil {
		return nil, err
	}
	return &Tree{backing: b, root: nodeFromRecord(b, rec)}, nil
}

// Insert adds (key, offset, size) to the tree, or replaces an existing
// key's value if the tree was opened with overwrite enabled.
func (t *Tree) Insert(key string, offset, size int64) error {
	if int64(len(key)) > t.backing.maxNameLen {
		return fmt.Errorf("%s (%d bytes, max %d): %w", key, len(key), t.backing.maxNameLen, tarerr.ErrNameTooLong)
	}
	newRoot, err := t.root.insert(key, offset, size)
	if err != nil {
		return err
	}
	t.root = newRoot
	return nil
}

// Lookup returns the (offset, size) stored for key.
func (t *Tree) Lookup(key string) (offset, size int64, err error) {
	return t.root.lookup(key)
}

// Exist reports whether key is present, without surfacing a not-found
// error to the caller.
func (t *Tree) Exist(key string) (bool, error) {
	_, _, err := t.root.lookup(key)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, tarerr.ErrNotFound) {
		return false, nil
	}
	return false, err
}

// Last returns the name, offset and size of the lexicographically last
// member in the tree.
func (t *Tree) Last() (name string, offset, size int64, err error) {
	return t.root.last()
}

// Check verifies every node's ordering and parent-separator invariants.
// With deep set, every node not yet in memory is paged in from disk
// first, so the check covers the whole tree rather than whatever happens
// to be resident; resident nodes are checked as held, not re-read.
func (t *Tree) Check(deep bool) error {
	return t.root.treeCheck(1, deep)
}

// Flush writes back any cached dirty nodes, then drops the in-memory
// subtree and reloads the root fresh from disk. RebuildFromTar calls this
// periodically so a full reindex of a large archive holds only a bounded
// amount of tree structure in memory at once.
func (t *Tree) Flush() error {
	if t.backing.cache != nil {
		if err := t.backing.cache.Flush(); err != nil {
			return err
		}
	}
	rec, err := t.backing.store.ReadBlock(1)
	if err != nil {
		return err
	}
	t.root = nodeFromRecord(t.backing, rec)
	return nil
}
