//go:build windows

package fileutil

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestLockExclusiveReportsOpenWriter(t *testing.T) {
	path := filepath.Join(t.TempDir(), "download.complete")
	if err := os.WriteFile(path, nil, 0o644); err != nil {
		t.Fatal(err)
	}

	writer, err := os.OpenFile(path, os.O_WRONLY, 0)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := writer.WriteString("hal"); err != nil {
		t.Fatal(err)
	}

	if _, err := LockExclusive(path); !errors.Is(err, ErrLocked) {
		t.Fatalf("expected ErrLocked while a writer has the file open, got %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatal(err)
	}

	release, err := LockExclusive(path)
	if err != nil {
		t.Fatalf("lock after writer closed: %v", err)
	}
	defer release()

	// The upload opens the file while the lock handle is held.
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("read while held: %v", err)
	}
	f.Close()
}
