package workspace

import (
	"os"
	"path/filepath"
	"testing"
)

func TestPrepareRemovesPreviousContents(t *testing.T) {
	m, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	dir, err := m.Prepare("foo")
	if err != nil {
		t.Fatalf("prepare: %v", err)
	}
	stale := filepath.Join(dir, "stale.txt")
	if err := os.WriteFile(stale, []byte("old"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	again, err := m.Prepare("foo")
	if err != nil {
		t.Fatalf("prepare again: %v", err)
	}
	if again != dir {
		t.Fatalf("expected stable path, got %s and %s", dir, again)
	}
	if _, err := os.Stat(stale); !os.IsNotExist(err) {
		t.Fatalf("expected stale file to be removed, stat err=%v", err)
	}
}

func TestPrepareRejectsTraversal(t *testing.T) {
	m, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	for _, id := range []string{"", "..", "a/b", `a\b`} {
		if _, err := m.Prepare(id); err == nil {
			t.Fatalf("expected %q to be rejected", id)
		}
	}
}

func TestCleanupStaysInsideRoot(t *testing.T) {
	m, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if err := m.Cleanup(m.Root()); err == nil {
		t.Fatalf("expected root removal to be refused")
	}
	if err := m.Cleanup(t.TempDir()); err == nil {
		t.Fatalf("expected outside path to be refused")
	}
	dir, err := m.Prepare("foo")
	if err != nil {
		t.Fatalf("prepare: %v", err)
	}
	if err := m.Cleanup(dir); err != nil {
		t.Fatalf("cleanup: %v", err)
	}
	if _, err := os.Stat(dir); !os.IsNotExist(err) {
		t.Fatalf("expected workspace to be removed")
	}
}
