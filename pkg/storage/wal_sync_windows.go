//go:build windows
// +build windows

package storage

import (
	"fmt"
	"os"
)

// syncDir is a no-op on Windows: NTFS/ReFS journal directory metadata
// changes automatically, and os.Open+Sync on a directory handle fails
// with "Access is denied" there anyway.
func syncDir(dir string) error {
	if _, err := os.Stat(dir); err != nil {
		return fmt.Errorf("wal: directory does not exist: %w", err)
	}
	return nil
}
