package taridx

import (
	"archive/tar"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/blocktar/taridx/internal/index"
	"github.com/blocktar/taridx/pkg/filelock"
)

// Archive is a handle on one indexed tar file: the tar file itself plus
// its sidecar <name>.pytree / <name>.pylst index pair.
type Archive struct {
	name     string
	readOnly bool

	f    *os.File
	idx  *index.Manager
	lock *filelock.Lock // nil in read-only mode
}

// Open opens the indexed tar archive at name. In read-only mode, missing
// index files surface as ErrIndexNotFound. In read-write mode, Open first
// takes an advisory single-writer lock at name+".lock", then a missing
// index triggers an automatic full reindex from the tar file's current
// contents (creating an empty tar file first if name doesn't exist yet).
// Any other error opening the index is returned as is.
func Open(name string, readOnly bool) (*Archive, error) {
	var lock *filelock.Lock
	if !readOnly {
		l, err := filelock.Acquire(name + ".lock")
		if err != nil {
			return nil, err
		}
		lock = l
	}

	idx, err := index.Open(name, readOnly, true)
	if err != nil {
		if !errors.Is(err, ErrIndexNotFound) {
			releaseLock(lock)
			return nil, err
		}
		if readOnly {
			return nil, err
		}
		if err := ensureArchiveFile(name); err != nil {
			releaseLock(lock)
			return nil, fmt.Errorf("taridx: create empty archive %s: %w", name, err)
		}
		if err := index.RebuildFromTar(name, name); err != nil {
			releaseLock(lock)
			return nil, fmt.Errorf("taridx: initial reindex of %s: %w", name, err)
		}
		idx, err = index.Open(name, readOnly, true)
		if err != nil {
			releaseLock(lock)
			return nil, err
		}
	}

	flag := os.O_RDONLY
	if !readOnly {
		flag = os.O_RDWR | os.O_CREATE
	}
	f, err := os.OpenFile(name, flag, 0o644)
	if err != nil {
		idx.Close()
		releaseLock(lock)
		return nil, fmt.Errorf("taridx: open %s: %w", name, err)
	}

	return &Archive{name: name, readOnly: readOnly, f: f, idx: idx, lock: lock}, nil
}

func releaseLock(l *filelock.Lock) {
	if l != nil {
		l.Release()
	}
}

func ensureArchiveFile(name string) error {
	f, err := os.OpenFile(name, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	return f.Close()
}

// Close releases the archive's tar file and index handles, and the
// single-writer lock if the archive was opened read-write.
func (a *Archive) Close() error {
	fErr := a.f.Close()
	idxErr := a.idx.Close()
	var lockErr error
	if a.lock != nil {
		lockErr = a.lock.Release()
	}
	return errors.Join(fErr, idxErr, lockErr)
}

// Exist reports whether name is present in the archive's index.
func (a *Archive) Exist(name string) (bool, error) {
	return a.idx.Exist(name)
}

// Last returns the name of the most recently written member.
func (a *Archive) Last() (name string, offset, size int64, err error) {
	return a.idx.Last()
}

// Check verifies the index's internal invariants.
func (a *Archive) Check(deep bool) error {
	return a.idx.Check(deep)
}

// Read looks up name and returns its stored bytes. If name was written
// more than once, the most recent write wins.
func (a *Archive) Read(name string) ([]byte, error) {
	offset, size, err := a.idx.Lookup(name)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, size)
	if _, err := a.f.ReadAt(buf, offset); err != nil {
		return nil, fmt.Errorf("taridx: read %q: %w", name, err)
	}
	return buf, nil
}

// Write appends data as a new tar member named name, fsyncs it, and
// indexes it. A later Read of the same name returns this write.
func (a *Archive) Write(name string, data []byte) error {
	if a.readOnly {
		return fmt.Errorf("taridx: write to read-only archive %s", a.name)
	}
	// Reject the name before any tar bytes land: a member the index can
	// never hold would otherwise survive in the archive and poison every
	// future reindex of it.
	if int64(len(name)) > a.idx.MaxNameLen() {
		return fmt.Errorf("%s (%d bytes, max %d): %w", name, len(name), a.idx.MaxNameLen(), ErrNameTooLong)
	}

	if _, err := a.f.Seek(0, io.SeekEnd); err != nil {
		return fmt.Errorf("taridx: seek to end of %s: %w", a.name, err)
	}

	hdr := &tar.Header{
		Name:     name,
		Size:     int64(len(data)),
		Mode:     0o644,
		ModTime:  time.Now(),
		Typeflag: tar.TypeReg,
	}

	tw := tar.NewWriter(a.f)
	if err := tw.WriteHeader(hdr); err != nil {
		return fmt.Errorf("taridx: write header for %q: %w", name, err)
	}
	// Read back the real post-header position rather than assuming a
	// fixed 512-byte header: names that don't fit USTAR's inline name
	// field make the writer emit extra PAX/GNU header records first.
	offset, err := a.f.Seek(0, io.SeekCurrent)
	if err != nil {
		return fmt.Errorf("taridx: locate data offset for %q: %w", name, err)
	}
	if _, err := tw.Write(data); err != nil {
		return fmt.Errorf("taridx: write data for %q: %w", name, err)
	}
	// Flush (not Close) pads this member to a 512-byte boundary without
	// writing a tar end-of-archive trailer, so the file stays a valid
	// target for the next Write.
	if err := tw.Flush(); err != nil {
		return fmt.Errorf("taridx: pad entry for %q: %w", name, err)
	}
	if err := a.f.Sync(); err != nil {
		return fmt.Errorf("taridx: sync archive after writing %q: %w", name, err)
	}

	return a.idx.Insert(name, offset, int64(len(data)))
}

// ReadList reads each name in order, stopping at the first error.
func (a *Archive) ReadList(names []string) ([][]byte, error) {
	out := make([][]byte, len(names))
	for i, name := range names {
		data, err := a.Read(name)
		if err != nil {
			return nil, err
		}
		out[i] = data
	}
	return out, nil
}

// WriteList writes each (name, data) pair in order, stopping at the
// first error.
func (a *Archive) WriteList(names []string, datas [][]byte) error {
	if len(names) != len(datas) {
		return fmt.Errorf("taridx: WriteList: %d names but %d payloads", len(names), len(datas))
	}
	for i := range names {
		if err := a.Write(names[i], datas[i]); err != nil {
			return err
		}
	}
	return nil
}

// Reindex rebuilds the archive's index from scratch by scanning the tar
// file, then atomically replaces the live index with the result.
func (a *Archive) Reindex() error {
	if a.readOnly {
		return fmt.Errorf("taridx: reindex read-only archive %s", a.name)
	}
	if err := a.idx.Close(); err != nil {
		return err
	}
	if err := index.RebuildFromTar(a.name, a.name); err != nil {
		return err
	}
	idx, err := index.Open(a.name, false, true)
	if err != nil {
		return err
	}
	a.idx = idx
	return nil
}
