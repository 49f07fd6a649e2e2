// Package tarerr holds the sentinel errors shared by the block store, the
// B-tree, and the index manager. It exists as its own package (rather than
// living on the root taridx package) purely so the lower layers can return
// and wrap these without importing the package that imports them.
package tarerr

import "errors"

var (
	// ErrBlockInvalid means a page failed its hash check and its twin did too.
	ErrBlockInvalid = errors.New("taridx: block invalid (hash check failed on both slots)")

	// ErrMasterInvalid means the master page could not be read or parsed.
	ErrMasterInvalid = errors.New("taridx: master block invalid")

	// ErrStructuralCorruption means a cross-page invariant was violated:
	// a stored block number disagreeing with the slot read, an ancestor
	// separator that lies about its subtree, or a split occurring at a
	// non-root block claiming to be the prior root.
	ErrStructuralCorruption = errors.New("taridx: structural corruption")

	// ErrIndexNotFound means the sidecar index files are missing while
	// opening in read-only mode.
	ErrIndexNotFound = errors.New("taridx: index files not found")

	// ErrDuplicate means insert was called with overwrite disabled on a
	// key that already exists.
	ErrDuplicate = errors.New("taridx: key already exists")

	// ErrNotFound means a lookup missed.
	ErrNotFound = errors.New("taridx: key not found")

	// ErrNameTooLong means a name exceeds maxnamelen.
	ErrNameTooLong = errors.New("taridx: name exceeds maximum length")

	// ErrWriteOutOfRange means a write targeted a block number more than
	// one past the current end of file.
	ErrWriteOutOfRange = errors.New("taridx: write beyond free block")
)
