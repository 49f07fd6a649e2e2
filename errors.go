package taridx

import "github.com/blocktar/taridx/internal/tarerr"

// Sentinel errors an Archive's methods may return, wrapped with context
// via %w so callers can check them with errors.Is.
var (
	// ErrNotFound means Read, Lookup, or Exist's underlying lookup
	// missed: no member with that name exists in the index.
	ErrNotFound = tarerr.ErrNotFound

	// ErrDuplicate means an index Insert on a tree opened without
	// overwrite met an existing name. An Archive opens its index with
	// overwrite enabled, so Write replaces instead of returning it.
	ErrDuplicate = tarerr.ErrDuplicate

	// ErrNameTooLong means a member name exceeds the index's
	// maxnamelen, fixed when the index was created.
	ErrNameTooLong = tarerr.ErrNameTooLong

	// ErrIndexNotFound means Open in read-only mode could not find the
	// archive's sidecar index files.
	ErrIndexNotFound = tarerr.ErrIndexNotFound

	// ErrBlockInvalid means a B-tree page failed its hash check on both
	// of its duplicated physical slots.
	ErrBlockInvalid = tarerr.ErrBlockInvalid

	// ErrMasterInvalid means the index's master page could not be read
	// or parsed when opening the archive.
	ErrMasterInvalid = tarerr.ErrMasterInvalid

	// ErrWriteOutOfRange means a page write targeted a block number more
	// than one past the current end of the tree file.
	ErrWriteOutOfRange = tarerr.ErrWriteOutOfRange

	// ErrStructuralCorruption means an index invariant was violated:
	// Check found unordered items, a stale parent separator, or a
	// parent/child pointer mismatch; a page's stored block number
	// disagreed with where it was read; or the tail log's last two lines
	// could not be parsed.
	ErrStructuralCorruption = tarerr.ErrStructuralCorruption
)
