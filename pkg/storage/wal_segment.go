package storage

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

var walMagic = [4]byte{'M', 'G', 'w', 'l'}

const walFormatVersion uint32 = 1

// walSegmentHeader is the fixed prefix of every segment file (spec §6):
// `[magic "MGwl" | version u32 | uuid | epoch | seq u64 | records... | magic]`.
type walSegmentHeader struct {
	UUID  uuid.UUID
	Epoch uint64
	Seq   uint64
}

func encodeWALHeader(h walSegmentHeader) []byte {
	buf := make([]byte, 0, 4+4+16+8+8)
	buf = append(buf, walMagic[:]...)
	buf = binary.LittleEndian.AppendUint32(buf, walFormatVersion)
	idBytes, _ := h.UUID.MarshalBinary()
	buf = append(buf, idBytes...)
	buf = binary.LittleEndian.AppendUint64(buf, h.Epoch)
	buf = binary.LittleEndian.AppendUint64(buf, h.Seq)
	return buf
}

func decodeWALHeader(b []byte) (walSegmentHeader, int, error) {
	const minLen = 4 + 4 + 16 + 8 + 8
	if len(b) < minLen {
		return walSegmentHeader{}, 0, fmt.Errorf("wal: segment header truncated")
	}
	if [4]byte(b[0:4]) != walMagic {
		return walSegmentHeader{}, 0, fmt.Errorf("wal: bad segment magic")
	}
	ver := binary.LittleEndian.Uint32(b[4:8])
	if ver != walFormatVersion {
		return walSegmentHeader{}, 0, fmt.Errorf("wal: unsupported segment version %d", ver)
	}
	id, err := uuid.FromBytes(b[8:24])
	if err != nil {
		return walSegmentHeader{}, 0, fmt.Errorf("wal: bad segment uuid: %w", err)
	}
	epoch := binary.LittleEndian.Uint64(b[24:32])
	seq := binary.LittleEndian.Uint64(b[32:40])
	return walSegmentHeader{UUID: id, Epoch: epoch, Seq: seq}, minLen, nil
}

// walSegmentFooter is the trailing magic confirming the segment was
// closed cleanly (spec §6's trailing "magic"); its absence does not make
// the segment invalid, since the final segment may be an in-progress
// tail at crash time (spec §4.9 step 4).
func walSegmentFooter() []byte { return walMagic[:] }

func walSegmentPath(dir string, seq uint64, firstTS, lastTS Timestamp) string {
	name := fmt.Sprintf("%020d_%020d_%020d.wal", seq, firstTS, lastTS)
	return filepath.Join(dir, name)
}

// parseWALSegmentName extracts the sequence number encoded in a WAL
// segment's filename, used by recovery to order segments without
// opening each one first.
func parseWALSegmentName(name string) (seq uint64, firstTS, lastTS Timestamp, ok bool) {
	var s, f, l uint64
	base := filepath.Base(name)
	n, err := fmt.Sscanf(base, "%020d_%020d_%020d.wal", &s, &f, &l)
	if err != nil || n != 3 {
		return 0, 0, 0, false
	}
	return s, Timestamp(f), Timestamp(l), true
}

func ensureDir(path string) error {
	return os.MkdirAll(path, 0o755)
}
