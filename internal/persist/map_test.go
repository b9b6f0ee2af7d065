package persist

import (
	"os"
	"path/filepath"
	"testing"
)

func TestMissingFileStartsEmpty(t *testing.T) {
	dir := t.TempDir()
	m := New(filepath.Join(dir, "config.txt"))

	if m.Contains("MaximumCacheSize") {
		t.Fatalf("expected empty document for a missing file")
	}
	if m.Dirty() {
		t.Fatalf("a freshly loaded document should not be dirty")
	}
}

func TestSetMarksDirtyAndSavePersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.txt")
	m := New(path)

	if err := m.Set("MaximumCacheSize", 1073741824); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if !m.Dirty() {
		t.Fatalf("Set should mark the document dirty")
	}
	if err := m.Save(); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if m.Dirty() {
		t.Fatalf("Save should clear the dirty flag")
	}

	reloaded := New(path)
	var size int64
	if !reloaded.Get("MaximumCacheSize", &size) {
		t.Fatalf("expected MaximumCacheSize to round-trip")
	}
	if size != 1073741824 {
		t.Fatalf("got %d, want 1073741824", size)
	}
}

func TestSaveIsNoOpWhenNotDirty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.txt")
	m := New(path)
	if err := m.Save(); err != nil {
		t.Fatalf("Save on a clean document: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("Save on a never-dirtied document should not create a file")
	}
}

func TestCorruptJSONAbsorbedAsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.txt")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatalf("setup: %v", err)
	}

	m := New(path)
	if m.Contains("MaximumCacheSize") {
		t.Fatalf("corrupt document should start empty")
	}
	if m.LoadErr() == nil {
		t.Fatalf("expected a non-nil LoadErr for corrupt JSON")
	}

	if err := m.Set("MaximumCacheSize", 42); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := m.Save(); err != nil {
		t.Fatalf("Save should succeed even after a corrupt load: %v", err)
	}
}
