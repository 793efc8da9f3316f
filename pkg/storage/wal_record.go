package storage

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"math"
	"time"
)

// recordTag identifies one WAL record kind (spec §4.7). TRANSACTION_BEGIN
// is implicit (the first record of a commit batch needs no tag of its
// own); TRANSACTION_END closes the batch.
type recordTag uint8

const (
	recVertexCreate recordTag = iota + 1
	recVertexDelete
	recVertexAddLabel
	recVertexRemoveLabel
	recVertexSetProperty
	recEdgeCreate
	recEdgeDelete
	recEdgeSetProperty
	recTransactionEnd
	recLabelIndexCreate
	recLabelIndexDrop
	recLabelPropertyIndexCreate
	recLabelPropertyIndexDrop
	recExistenceConstraintCreate
	recExistenceConstraintDrop
	recUniqueConstraintCreate
	recUniqueConstraintDrop
)

// walRecord is one entry in a WAL segment: `[timestamp u64 | tag u8 | len
// u32 | payload... | crc32 u32]` (spec §6). The trailing crc32 covers
// everything before it, so a byte flip anywhere in an already-written
// record is detected even when it doesn't disturb the length field enough
// to look like a truncation (spec §8 property 11: "corrupting any record
// other than the tail... causes recovery to refuse to start" — true only
// if corruption is actually detectable, not just truncation).
type walRecord struct {
	Timestamp Timestamp
	Tag       recordTag
	Payload   []byte
}

func (r walRecord) encode() []byte {
	buf := make([]byte, 0, 16+len(r.Payload))
	buf = binary.LittleEndian.AppendUint64(buf, uint64(r.Timestamp))
	buf = append(buf, byte(r.Tag))
	lenBuf := make([]byte, 4)
	binary.LittleEndian.PutUint32(lenBuf, uint32(len(r.Payload)))
	buf = append(buf, lenBuf...)
	buf = append(buf, r.Payload...)
	buf = binary.LittleEndian.AppendUint32(buf, crc(buf))
	return buf
}

// decodeRecord reads one record from the front of b, returning the
// record, the number of bytes consumed, and whether the bytes were
// sufficient, well formed, and checksum-valid. Used both by normal replay
// and by the tail-corruption check during recovery (spec §4.9 step 4).
func decodeRecord(b []byte) (walRecord, int, bool) {
	const headerLen = 8 + 1 + 4
	if len(b) < headerLen {
		return walRecord{}, 0, false
	}
	ts := Timestamp(binary.LittleEndian.Uint64(b[0:8]))
	tag := recordTag(b[8])
	plen := binary.LittleEndian.Uint32(b[9:13])
	total := headerLen + int(plen)
	if len(b) < total+4 {
		return walRecord{}, 0, false
	}
	wantCRC := binary.LittleEndian.Uint32(b[total : total+4])
	if crc(b[:total]) != wantCRC {
		return walRecord{}, 0, false
	}
	payload := make([]byte, plen)
	copy(payload, b[headerLen:total])
	return walRecord{Timestamp: ts, Tag: tag, Payload: payload}, total + 4, true
}

// --- payload encodings ---

func putLenPrefixed(buf *bytes.Buffer, s []byte) {
	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(s)))
	buf.Write(lenBuf[:])
	buf.Write(s)
}

func readLenPrefixed(b []byte, off int) ([]byte, int, error) {
	if off+4 > len(b) {
		return nil, off, fmt.Errorf("wal: truncated length prefix")
	}
	n := int(binary.LittleEndian.Uint32(b[off : off+4]))
	off += 4
	if off+n > len(b) {
		return nil, off, fmt.Errorf("wal: truncated field")
	}
	return b[off : off+n], off + n, nil
}

func encodePropertyValue(buf *bytes.Buffer, v PropertyValue) {
	buf.WriteByte(byte(v.typ))
	switch v.typ {
	case PropertyBool:
		if v.b {
			buf.WriteByte(1)
		} else {
			buf.WriteByte(0)
		}
	case PropertyInt:
		var b [8]byte
		binary.LittleEndian.PutUint64(b[:], uint64(v.i))
		buf.Write(b[:])
	case PropertyDouble:
		var b [8]byte
		binary.LittleEndian.PutUint64(b[:], math.Float64bits(v.d))
		buf.Write(b[:])
	case PropertyString:
		putLenPrefixed(buf, []byte(v.s))
	case PropertyTemporal:
		var b [8]byte
		binary.LittleEndian.PutUint64(b[:], uint64(v.t.UnixNano()))
		buf.Write(b[:])
	case PropertyList:
		var cnt [4]byte
		binary.LittleEndian.PutUint32(cnt[:], uint32(len(v.list)))
		buf.Write(cnt[:])
		for _, e := range v.list {
			encodePropertyValue(buf, e)
		}
	case PropertyMap:
		var cnt [4]byte
		binary.LittleEndian.PutUint32(cnt[:], uint32(len(v.m)))
		buf.Write(cnt[:])
		for k, e := range v.m {
			putLenPrefixed(buf, []byte(k))
			encodePropertyValue(buf, e)
		}
	}
}

func decodePropertyValue(b []byte, off int) (PropertyValue, int, error) {
	if off >= len(b) {
		return PropertyValue{}, off, fmt.Errorf("wal: truncated property value")
	}
	typ := PropertyValueType(b[off])
	off++
	switch typ {
	case PropertyNull:
		return NullValue(), off, nil
	case PropertyBool:
		if off >= len(b) {
			return PropertyValue{}, off, fmt.Errorf("wal: truncated bool")
		}
		val := b[off] != 0
		return BoolValue(val), off + 1, nil
	case PropertyInt:
		if off+8 > len(b) {
			return PropertyValue{}, off, fmt.Errorf("wal: truncated int")
		}
		v := int64(binary.LittleEndian.Uint64(b[off : off+8]))
		return IntValue(v), off + 8, nil
	case PropertyDouble:
		if off+8 > len(b) {
			return PropertyValue{}, off, fmt.Errorf("wal: truncated double")
		}
		v := math.Float64frombits(binary.LittleEndian.Uint64(b[off : off+8]))
		return DoubleValue(v), off + 8, nil
	case PropertyString:
		s, next, err := readLenPrefixed(b, off)
		if err != nil {
			return PropertyValue{}, off, err
		}
		return StringValue(string(s)), next, nil
	case PropertyTemporal:
		if off+8 > len(b) {
			return PropertyValue{}, off, fmt.Errorf("wal: truncated temporal")
		}
		ns := int64(binary.LittleEndian.Uint64(b[off : off+8]))
		return TemporalValue(time.Unix(0, ns).UTC()), off + 8, nil
	case PropertyList:
		if off+4 > len(b) {
			return PropertyValue{}, off, fmt.Errorf("wal: truncated list count")
		}
		n := int(binary.LittleEndian.Uint32(b[off : off+4]))
		off += 4
		items := make([]PropertyValue, 0, n)
		for i := 0; i < n; i++ {
			var item PropertyValue
			var err error
			item, off, err = decodePropertyValue(b, off)
			if err != nil {
				return PropertyValue{}, off, err
			}
			items = append(items, item)
		}
		return ListValue(items), off, nil
	case PropertyMap:
		if off+4 > len(b) {
			return PropertyValue{}, off, fmt.Errorf("wal: truncated map count")
		}
		n := int(binary.LittleEndian.Uint32(b[off : off+4]))
		off += 4
		m := make(map[string]PropertyValue, n)
		for i := 0; i < n; i++ {
			key, next, err := readLenPrefixed(b, off)
			if err != nil {
				return PropertyValue{}, off, err
			}
			off = next
			var val PropertyValue
			val, off, err = decodePropertyValue(b, off)
			if err != nil {
				return PropertyValue{}, off, err
			}
			m[string(key)] = val
		}
		return MapValue(m), off, nil
	default:
		return PropertyValue{}, off, fmt.Errorf("wal: unknown property tag %d", typ)
	}
}

func crc(b []byte) uint32 { return crc32.ChecksumIEEE(b) }
