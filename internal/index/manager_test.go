package index

import (
	"archive/tar"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/blocktar/taridx/internal/tarerr"
)

func TestManagerInsertLookupExist(t *testing.T) {
	basename := filepath.Join(t.TempDir(), "archive.tar")
	mgr, err := Create(basename, true)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer mgr.Close()

	if err := mgr.Insert("member", 512, 128); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	offset, size, err := mgr.Lookup("member")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if offset != 512 || size != 128 {
		t.Fatalf("Lookup = (%d, %d), want (512, 128)", offset, size)
	}

	ok, err := mgr.Exist("member")
	if err != nil {
		t.Fatalf("Exist: %v", err)
	}
	if !ok {
		t.Fatalf("Exist(member) = false, want true")
	}

	ok, err = mgr.Exist("nope")
	if err != nil {
		t.Fatalf("Exist: %v", err)
	}
	if ok {
		t.Fatalf("Exist(nope) = true, want false")
	}
}

// writeTarMember appends one regular-file member to an open tar.Writer and
// returns the byte offset of its payload, exactly as Archive.Write
// computes it.
func writeTarMember(t *testing.T, f *os.File, tw *tar.Writer, name string, data []byte) int64 {
	t.Helper()
	hdr := &tar.Header{Name: name, Size: int64(len(data)), Mode: 0o644, Typeflag: tar.TypeReg}
	if err := tw.WriteHeader(hdr); err != nil {
		t.Fatalf("WriteHeader(%q): %v", name, err)
	}
	offset, err := f.Seek(0, io.SeekCurrent)
	if err != nil {
		t.Fatalf("Seek: %v", err)
	}
	if _, err := tw.Write(data); err != nil {
		t.Fatalf("Write(%q): %v", name, err)
	}
	if err := tw.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	return offset
}

// TestCrashBetweenTailLogAndTreeRecoversViaRebuild drives end-to-end
// scenario 3: the tar payload and the tail log line are durable, but the
// B-tree insert never happened (simulating a crash between the two).
// Last() must still see the record; Exist() is allowed to miss it; and
// RebuildFromTar must repair the tree from the tar contents.
func TestCrashBetweenTailLogAndTreeRecoversViaRebuild(t *testing.T) {
	basename := filepath.Join(t.TempDir(), "archive.tar")

	f, err := os.Create(basename)
	if err != nil {
		t.Fatalf("create tar: %v", err)
	}
	tw := tar.NewWriter(f)
	data := []byte("payload for obj-100")
	offset := writeTarMember(t, f, tw, "obj-100", data)
	if err := f.Sync(); err != nil {
		t.Fatalf("sync tar: %v", err)
	}

	mgr, err := Create(basename, true)
	if err != nil {
		t.Fatalf("Create index: %v", err)
	}

	// Simulate Insert's first half only: the tail log line lands, but the
	// tree mutation that would normally follow never runs.
	if err := mgr.log.Append("obj-100", offset, int64(len(data))); err != nil {
		t.Fatalf("Append: %v", err)
	}

	name, gotOffset, gotSize, err := mgr.Last()
	if err != nil {
		t.Fatalf("Last: %v", err)
	}
	if name != "obj-100" || gotOffset != offset || gotSize != int64(len(data)) {
		t.Fatalf("Last = (%q, %d, %d), want (%q, %d, %d)", name, gotOffset, gotSize, "obj-100", offset, len(data))
	}

	exist, err := mgr.Exist("obj-100")
	if err != nil {
		t.Fatalf("Exist: %v", err)
	}
	if exist {
		t.Fatalf("Exist(obj-100) = true before rebuild, want false (tree insert never happened)")
	}

	if err := mgr.Close(); err != nil {
		t.Fatalf("Close before rebuild: %v", err)
	}
	if err := tw.Close(); err != nil {
		t.Fatalf("close tar writer: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("close tar file: %v", err)
	}

	if err := RebuildFromTar(basename, basename); err != nil {
		t.Fatalf("RebuildFromTar: %v", err)
	}

	rebuilt, err := Open(basename, false, true)
	if err != nil {
		t.Fatalf("Open after rebuild: %v", err)
	}
	defer rebuilt.Close()

	exist, err = rebuilt.Exist("obj-100")
	if err != nil {
		t.Fatalf("Exist after rebuild: %v", err)
	}
	if !exist {
		t.Fatalf("Exist(obj-100) = false after RebuildFromTar, want true")
	}

	gotOffset, gotSize, err = rebuilt.Lookup("obj-100")
	if err != nil {
		t.Fatalf("Lookup after rebuild: %v", err)
	}
	if gotOffset != offset || gotSize != int64(len(data)) {
		t.Fatalf("Lookup after rebuild = (%d, %d), want (%d, %d)", gotOffset, gotSize, offset, len(data))
	}
}

// TestRebuildFromTarTruncatedTailIsTolerated drives RebuildFromTar's
// premature-EOF tolerance: a tar stream cut off mid-header for its last
// member still yields a usable index over every member read before the
// damage.
func TestRebuildFromTarTruncatedTailIsTolerated(t *testing.T) {
	dir := t.TempDir()
	goodTar := filepath.Join(dir, "good.tar")

	f, err := os.Create(goodTar)
	if err != nil {
		t.Fatalf("create tar: %v", err)
	}
	tw := tar.NewWriter(f)
	writeTarMember(t, f, tw, "whole-member", []byte("complete"))
	writeTarMember(t, f, tw, "cut-member", []byte("lost"))
	if err := tw.Close(); err != nil {
		t.Fatalf("close tar writer: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("close tar: %v", err)
	}

	whole, err := os.ReadFile(goodTar)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}

	// Truncate 100 bytes into the second member's header, past the first
	// member's header+payload so the complete member is readable.
	truncated := whole[:512+512+100]
	basename := filepath.Join(dir, "truncated.tar")
	if err := os.WriteFile(basename, truncated, 0o644); err != nil {
		t.Fatalf("WriteFile truncated tar: %v", err)
	}

	if err := RebuildFromTar(basename, basename); err != nil {
		t.Fatalf("RebuildFromTar on truncated tar: %v", err)
	}

	mgr, err := Open(basename, false, true)
	if err != nil {
		t.Fatalf("Open after rebuild: %v", err)
	}
	defer mgr.Close()

	exist, err := mgr.Exist("whole-member")
	if err != nil {
		t.Fatalf("Exist: %v", err)
	}
	if !exist {
		t.Fatalf("Exist(whole-member) = false, want true (member preceded the truncation)")
	}
}

func TestInsertNameTooLongLeavesTailLogUntouched(t *testing.T) {
	basename := filepath.Join(t.TempDir(), "archive.tar")
	mgr, err := Create(basename, true)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer mgr.Close()

	long := make([]byte, mgr.MaxNameLen()+1)
	for i := range long {
		long[i] = 'n'
	}
	if err := mgr.Insert(string(long), 0, 1); !errors.Is(err, tarerr.ErrNameTooLong) {
		t.Fatalf("Insert error = %v, want ErrNameTooLong", err)
	}

	// The rejected insert must not have reached the durable log.
	if _, _, _, err := mgr.Last(); !errors.Is(err, tarerr.ErrNotFound) {
		t.Fatalf("Last after rejected insert = %v, want ErrNotFound (empty log)", err)
	}

	exact := long[:mgr.MaxNameLen()]
	if err := mgr.Insert(string(exact), 0, 1); err != nil {
		t.Fatalf("Insert of a name exactly maxnamelen long: %v", err)
	}
}

func TestManagerOpenMissingFilesReturnsIndexNotFound(t *testing.T) {
	basename := filepath.Join(t.TempDir(), "archive.tar")
	_, err := Open(basename, true, false)
	if !errors.Is(err, tarerr.ErrIndexNotFound) {
		t.Fatalf("Open missing index = %v, want ErrIndexNotFound", err)
	}
}
