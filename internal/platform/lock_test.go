//go:build unix || windows

package platform

import (
	"errors"
	"path/filepath"
	"testing"
)

func TestAcquireFileLock_ContentionAndRelease(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "readings.db")

	lock1, err := AcquireFileLock(path)
	if err != nil {
		t.Fatalf("acquire first lock: %v", err)
	}

	lock2, err := AcquireFileLock(path)
	if !errors.Is(err, ErrLocked) {
		t.Fatalf("expected %v, got %v", ErrLocked, err)
	}
	if lock2 != nil {
		t.Fatalf("expected second lock to be nil, got %#v", lock2)
	}

	if err := lock1.Release(); err != nil {
		t.Fatalf("release first lock: %v", err)
	}
	if err := lock1.Release(); err != nil {
		t.Fatalf("second release should be a no-op, got %v", err)
	}

	lock3, err := AcquireFileLock(path)
	if err != nil {
		t.Fatalf("acquire lock after release: %v", err)
	}
	if err := lock3.Release(); err != nil {
		t.Fatalf("release third lock: %v", err)
	}
}

func TestAcquireFileLock_DistinctPaths(t *testing.T) {
	dir := t.TempDir()

	a, err := AcquireFileLock(filepath.Join(dir, "a.db"))
	if err != nil {
		t.Fatalf("acquire a: %v", err)
	}
	defer func() { _ = a.Release() }()

	b, err := AcquireFileLock(filepath.Join(dir, "b.db"))
	if err != nil {
		t.Fatalf("acquire b: %v", err)
	}
	_ = b.Release()
}

func TestAcquireFileLock_EmptyPath(t *testing.T) {
	if _, err := AcquireFileLock("  "); err == nil {
		t.Fatalf("expected error for empty path")
	}
}
