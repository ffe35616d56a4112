// Package lock provides per-target advisory file locks so that concurrent
// invocations against the same target fail fast instead of corrupting the
// destination or the sync ledger.
package lock

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// ErrHeld is returned by Acquire when another process holds the lock.
var ErrHeld = fmt.Errorf("lock already held by another process")

// Lock is an exclusive advisory lock backed by flock on a lock file.
// The lock is released when Release is called or the process exits.
type Lock struct {
	path string
	file *os.File
}

// Acquire takes an exclusive non-blocking lock on the file at path,
// creating the file if it does not exist. Returns ErrHeld when the lock
// is already taken.
func Acquire(path string) (*Lock, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open lock file %s: %w", path, err)
	}

	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		f.Close()
		if err == unix.EWOULDBLOCK {
			return nil, fmt.Errorf("%s: %w", path, ErrHeld)
		}
		return nil, fmt.Errorf("failed to lock %s: %w", path, err)
	}

	return &Lock{path: path, file: f}, nil
}

// Release drops the lock and closes the underlying file. Safe to call once.
func (l *Lock) Release() error {
	if err := unix.Flock(int(l.file.Fd()), unix.LOCK_UN); err != nil {
		l.file.Close()
		return fmt.Errorf("failed to unlock %s: %w", l.path, err)
	}
	return l.file.Close()
}
