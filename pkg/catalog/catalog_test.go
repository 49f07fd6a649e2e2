package catalog

import (
	"os"
	"path/filepath"
	"testing"
)

func touch(t *testing.T, path string) {
	t.Helper()
	if err := os.WriteFile(path, nil, 0o644); err != nil {
		t.Fatalf("WriteFile(%s): %v", path, err)
	}
}

func TestListReportsIndexedness(t *testing.T) {
	dir := t.TempDir()
	touch(t, filepath.Join(dir, "full.tar"))
	touch(t, filepath.Join(dir, "full.tar.pytree"))
	touch(t, filepath.Join(dir, "full.tar.pylst"))

	touch(t, filepath.Join(dir, "partial.tar"))
	touch(t, filepath.Join(dir, "partial.tar.pytree"))

	touch(t, filepath.Join(dir, "bare.tar"))

	touch(t, filepath.Join(dir, "not-a-tar.txt"))
	if err := os.Mkdir(filepath.Join(dir, "subdir.tar"), 0o755); err != nil {
		t.Fatalf("Mkdir: %v", err)
	}

	entries, err := List(dir)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("List returned %d entries, want 3: %+v", len(entries), entries)
	}

	byPath := make(map[string]Entry, len(entries))
	for _, e := range entries {
		byPath[e.Path] = e
	}

	if !byPath["full.tar"].Indexed() {
		t.Errorf("full.tar should be fully indexed")
	}
	if byPath["partial.tar"].Indexed() {
		t.Errorf("partial.tar should not be fully indexed (missing .pylst)")
	}
	if byPath["bare.tar"].HasTree || byPath["bare.tar"].HasList {
		t.Errorf("bare.tar should have neither sidecar")
	}
}
