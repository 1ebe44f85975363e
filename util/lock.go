package util

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// LockFile holds an exclusive advisory lock preventing concurrent batches.
type LockFile struct {
	f *os.File
}

// AcquireLock takes a non-blocking exclusive flock on path. A second
// invocation fails fast instead of waiting.
func AcquireLock(path string) (*LockFile, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, err
	}
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		f.Close()
		return nil, fmt.Errorf("another lilac instance is running (lock %s held): %w", path, err)
	}
	fmt.Fprintf(f, "%d\n", os.Getpid())
	return &LockFile{f: f}, nil
}

// Release drops the lock.
func (l *LockFile) Release() error {
	if l == nil || l.f == nil {
		return nil
	}
	unix.Flock(int(l.f.Fd()), unix.LOCK_UN)
	return l.f.Close()
}
