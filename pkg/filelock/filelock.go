// Package filelock provides an advisory, single-writer lock over a path,
// enforced with flock(2) so that only one process at a time can hold an
// archive open for writing.
package filelock

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// Lock is a held advisory lock. The zero value is not usable; obtain one
// with Acquire.
type Lock struct {
	f *os.File
}

// Acquire takes an exclusive, non-blocking flock on path, creating it if
// necessary. It fails immediately (rather than blocking) if another
// process already holds it, since a blocked writer is a bug in this
// system's single-writer design, not a queue to wait on.
func Acquire(path string) (*Lock, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("filelock: open %s: %w", path, err)
	}
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		f.Close()
		return nil, fmt.Errorf("filelock: %s is held by another writer: %w", path, err)
	}
	return &Lock{f: f}, nil
}

// Release unlocks and closes the lock file.
func (l *Lock) Release() error {
	if err := unix.Flock(int(l.f.Fd()), unix.LOCK_UN); err != nil {
		l.f.Close()
		return fmt.Errorf("filelock: unlock %s: %w", l.f.Name(), err)
	}
	return l.f.Close()
}
