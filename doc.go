// Package taridx implements a random-access, append-only tar archive
// with a crash-tolerant index: every member written to the archive is
// looked up by name through a disk-backed B-tree (internal/btree) and
// can be found as "the last member added" through an append-only tail
// log (internal/index), without ever reading the tar file sequentially.
//
// An Archive never rewrites the tar file in place -- Write only appends --
// and tree pages are updated by overwriting the older of each page's two
// on-disk copies. Each insert is durable (payload fsync, then tail log
// fsync, then tree page fsync) before the call returns; a crash between
// the tail log and the tree leaves the tail log one record ahead of the
// tree. Reindex rebuilds the index from scratch by scanning the tar file
// and publishes the result atomically.
package taridx
