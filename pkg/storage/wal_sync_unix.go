//go:build !windows
// +build !windows

package storage

import (
	"fmt"
	"os"
)

// syncDir fsyncs a directory so that metadata changes (file creation,
// rename) made inside it survive a crash. See wal_sync_windows.go for
// the Windows side, where this is a no-op.
func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return fmt.Errorf("wal: failed to open directory for sync: %w", err)
	}
	defer d.Close()

	if err := d.Sync(); err != nil {
		return fmt.Errorf("wal: failed to sync directory: %w", err)
	}
	return nil
}
