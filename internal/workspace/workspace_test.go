package workspace

import (
	"os"
	"path/filepath"
	"testing"
)

func TestPrepareCreatesFreshDirectory(t *testing.T) {
	mgr, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	dir, err := mgr.Prepare("dep-1")
	if err != nil {
		t.Fatalf("prepare: %v", err)
	}
	if _, err := os.Stat(dir); err != nil {
		t.Fatalf("expected workspace dir to exist: %v", err)
	}

	// Preparing again must drop stale contents.
	stale := filepath.Join(dir, "leftover")
	if err := os.WriteFile(stale, []byte("old"), 0o644); err != nil {
		t.Fatalf("write stale file: %v", err)
	}
	if _, err := mgr.Prepare("dep-1"); err != nil {
		t.Fatalf("re-prepare: %v", err)
	}
	if _, err := os.Stat(stale); !os.IsNotExist(err) {
		t.Fatalf("expected stale file to be removed, got %v", err)
	}
}

func TestCleanupRemovesDirectory(t *testing.T) {
	mgr, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	dir, err := mgr.Prepare("dep-2")
	if err != nil {
		t.Fatalf("prepare: %v", err)
	}
	if err := mgr.Cleanup(dir); err != nil {
		t.Fatalf("cleanup: %v", err)
	}
	if _, err := os.Stat(dir); !os.IsNotExist(err) {
		t.Fatalf("expected workspace to be deleted, got %v", err)
	}
}

func TestCleanupRefusesOutsideRoot(t *testing.T) {
	mgr, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	outside := t.TempDir()
	if err := mgr.Cleanup(outside); err == nil {
		t.Fatalf("expected cleanup outside root to fail")
	}
	if _, err := os.Stat(outside); err != nil {
		t.Fatalf("outside dir should be untouched: %v", err)
	}
}
