package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
)

// walEngine owns the active WAL segment and the rotation policy (spec
// §4.7: "A segment is finalized when its on-disk size exceeds a
// configured threshold, or on snapshot creation, or on shutdown;
// finalization syncs and closes.").
type walEngine struct {
	mu sync.Mutex

	dir   string
	id    uuid.UUID
	epoch uint64

	maxSegmentBytes int64
	logger          Logger

	seq     uint64
	file    *os.File
	tmpPath string
	firstTS Timestamp
	lastTS  Timestamp
	size    int64
	started bool
}

func newWALEngine(dir string, id uuid.UUID, epoch uint64, maxSegmentBytes int64, startSeq uint64, logger Logger) (*walEngine, error) {
	if err := ensureDir(dir); err != nil {
		return nil, fmt.Errorf("wal: create directory: %w", err)
	}
	w := &walEngine{
		dir:             dir,
		id:              id,
		epoch:           epoch,
		maxSegmentBytes: maxSegmentBytes,
		logger:          logOrDefault(logger),
		seq:             startSeq,
	}
	return w, nil
}

func (w *walEngine) segmentTmpName(seq uint64) string {
	return filepath.Join(w.dir, fmt.Sprintf("%020d.wal.open", seq))
}

func (w *walEngine) openSegmentLocked() error {
	path := w.segmentTmpName(w.seq)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("wal: open segment: %w", err)
	}
	header := encodeWALHeader(walSegmentHeader{UUID: w.id, Epoch: w.epoch, Seq: w.seq})
	if _, err := f.Write(header); err != nil {
		f.Close()
		return fmt.Errorf("wal: write segment header: %w", err)
	}
	w.file = f
	w.tmpPath = path
	w.size = int64(len(header))
	w.firstTS = 0
	w.lastTS = 0
	w.started = false
	if err := syncDir(w.dir); err != nil {
		w.logger.Log("warn", "wal directory sync failed after segment create", map[string]any{"error": err.Error()})
	}
	return nil
}

// Append writes one committed transaction's records to the active
// segment (opening one if none is active), then finalizes the segment if
// this append brought it to or past the size threshold.
// Called with the engine lock held, so WAL order equals commit order
// (spec §5: "WAL record order equals commit order").
func (w *walEngine) Append(ops []walOp, commitTS Timestamp) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file == nil {
		if err := w.openSegmentLocked(); err != nil {
			return err
		}
	}

	records := encodeCommitRecords(ops, commitTS)
	for _, r := range records {
		enc := r.encode()
		if _, err := w.file.Write(enc); err != nil {
			return fmt.Errorf("wal: append record: %w", err)
		}
		w.size += int64(len(enc))
	}
	if !w.started {
		w.firstTS = commitTS
		w.started = true
	}
	w.lastTS = commitTS

	if w.size >= w.maxSegmentBytes {
		return w.rotateLocked()
	}
	return nil
}

// Finalize closes out the active segment (on snapshot creation or
// shutdown; spec §4.7), syncing and renaming it to its permanent,
// timestamp-range-encoded name.
func (w *walEngine) Finalize() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return nil
	}
	return w.rotateLocked()
}

func (w *walEngine) rotateLocked() error {
	if _, err := w.file.Write(walSegmentFooter()); err != nil {
		return fmt.Errorf("wal: write segment footer: %w", err)
	}
	if err := w.file.Sync(); err != nil {
		return fmt.Errorf("wal: sync segment: %w", err)
	}
	if err := w.file.Close(); err != nil {
		return fmt.Errorf("wal: close segment: %w", err)
	}
	finalPath := walSegmentPath(w.dir, w.seq, w.firstTS, w.lastTS)
	if err := os.Rename(w.tmpPath, finalPath); err != nil {
		return fmt.Errorf("wal: rename segment: %w", err)
	}
	if err := syncDir(w.dir); err != nil {
		w.logger.Log("warn", "wal directory sync failed after segment finalize", map[string]any{"error": err.Error()})
	}
	w.file = nil
	w.tmpPath = ""
	w.seq++
	return nil
}

func (w *walEngine) Close() error {
	return w.Finalize()
}
