//go:build !windows
// +build !windows

package storage

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// directoryLock is the exclusive `.lock` file recovery takes over the
// data directory before touching anything else (spec §4.9 step 1).
type directoryLock struct {
	f *os.File
}

// acquireDirectoryLock opens (creating if needed) path and takes a
// non-blocking exclusive flock on it, returning a typed RecoveryError if
// another process already holds it.
func acquireDirectoryLock(path string) (*directoryLock, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("storage: open lock file: %w", err)
	}
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		f.Close()
		return nil, newErr(RecoveryError, "storage directory is locked by another process")
	}
	return &directoryLock{f: f}, nil
}

func (l *directoryLock) Release() error {
	if l == nil || l.f == nil {
		return nil
	}
	_ = unix.Flock(int(l.f.Fd()), unix.LOCK_UN)
	return l.f.Close()
}
