// Package platform holds OS-specific helpers.
package platform

import (
	"errors"
	"strings"
)

// ErrLocked indicates another process already holds the lock.
var ErrLocked = errors.New("already locked by another process")

// ErrLockUnsupported indicates the current platform has no lock backend implementation.
var ErrLockUnsupported = errors.New("file lock unsupported")

// FileLock is an acquired exclusive lock.
type FileLock interface {
	Release() error
}

// AcquireFileLock takes an exclusive, non-blocking lock on path+".lock".
// ErrLocked is returned when another process holds it.
func AcquireFileLock(path string) (FileLock, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("lock path is empty")
	}

	return acquireFileLock(path + ".lock")
}
