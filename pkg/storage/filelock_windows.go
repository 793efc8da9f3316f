//go:build windows
// +build windows

package storage

import (
	"fmt"
	"os"

	"golang.org/x/sys/windows"
)

type directoryLock struct {
	f *os.File
}

func acquireDirectoryLock(path string) (*directoryLock, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("storage: open lock file: %w", err)
	}
	ol := new(windows.Overlapped)
	err = windows.LockFileEx(windows.Handle(f.Fd()), windows.LOCKFILE_EXCLUSIVE_LOCK|windows.LOCKFILE_FAIL_IMMEDIATELY, 0, 1, 0, ol)
	if err != nil {
		f.Close()
		return nil, newErr(RecoveryError, "storage directory is locked by another process")
	}
	return &directoryLock{f: f}, nil
}

func (l *directoryLock) Release() error {
	if l == nil || l.f == nil {
		return nil
	}
	ol := new(windows.Overlapped)
	_ = windows.UnlockFileEx(windows.Handle(l.f.Fd()), 0, 1, 0, ol)
	return l.f.Close()
}
