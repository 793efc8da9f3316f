package storage

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/google/uuid"
)

var snapshotMagic = [4]byte{'M', 'G', 's', 'n'}

const snapshotFormatVersion uint32 = 1

// SnapshotInfo describes a snapshot file written by CreateSnapshot.
type SnapshotInfo struct {
	Path      string
	StartTS   Timestamp
	Vertices  int
	Edges     int
}

// CreateSnapshot writes a point-in-time snapshot of the whole graph (spec
// §4.8), taken from inside a SNAPSHOT_ISOLATION transaction so the file
// reflects one consistent commit_ts cut. Declines with RecoveryError when
// no data directory is configured (spec §4.8: "declined... a typed error
// is surfaced").
func (st *Storage) CreateSnapshot() (*SnapshotInfo, *StorageError) {
	if st.cfg.DataDir == "" {
		return nil, newErr(RecoveryError, "snapshot requires a configured data directory")
	}

	acc := st.Begin(SnapshotIsolation, Transactional)
	defer acc.Abort()
	viewTS := acc.tx.ViewTimestamp()
	readerID := acc.tx.ID

	var buf bytes.Buffer
	buf.Write(snapshotMagic[:])
	writeU32(&buf, snapshotFormatVersion)
	idBytes, _ := st.uuid.MarshalBinary()
	buf.Write(idBytes)
	writeU64(&buf, st.epoch)
	writeU64(&buf, uint64(acc.tx.StartTS))
	writeU64(&buf, uint64(st.vertexGids.Peek()))
	writeU64(&buf, uint64(st.edgeGids.Peek()))

	vertexCount, edgeCount := st.encodeVertices(&buf, readerID, viewTS)
	st.encodeEdges(&buf, readerID, viewTS)
	st.encodeIndexDefs(&buf)
	st.encodeConstraintDefs(&buf)
	st.encodeMappers(&buf)
	writeU32(&buf, crc(buf.Bytes()))
	buf.Write(snapshotMagic[:])

	if err := ensureDir(st.snapshotDir()); err != nil {
		return nil, wrapErr(IOError, err)
	}
	name := fmt.Sprintf("%020d.snapshot", acc.tx.StartTS)
	path := filepath.Join(st.snapshotDir(), name)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, buf.Bytes(), 0o644); err != nil {
		return nil, wrapErr(IOError, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return nil, wrapErr(IOError, err)
	}
	if err := syncDir(st.snapshotDir()); err != nil {
		st.logger.Log("warn", "snapshot directory sync failed", map[string]any{"error": err.Error()})
	}

	if st.wal != nil {
		if err := st.wal.Finalize(); err != nil {
			st.logger.Log("warn", "wal finalize on snapshot failed", map[string]any{"error": err.Error()})
		}
	}

	st.pruneSnapshots()
	return &SnapshotInfo{Path: path, StartTS: acc.tx.StartTS, Vertices: vertexCount, Edges: edgeCount}, nil
}

func (st *Storage) encodeVertices(buf *bytes.Buffer, readerID TransactionID, viewTS Timestamp) (count, edgeRefs int) {
	var views []*VertexView
	st.vertices.forEach(func(v *Vertex) {
		view := reconstructVertex(v, readerID, viewTS)
		if !view.Deleted {
			views = append(views, view)
		}
	})
	sort.Slice(views, func(i, j int) bool { return views[i].Gid < views[j].Gid })

	writeU32(buf, uint32(len(views)))
	for _, v := range views {
		writeU64(buf, uint64(v.Gid))
		writeU32(buf, uint32(len(v.Labels)))
		for _, l := range v.Labels {
			writeU64(buf, uint64(l))
		}
		writeU32(buf, uint32(len(v.Properties)))
		for _, pid := range sortedPropKeys(v.Properties) {
			writeU64(buf, uint64(pid))
			encodePropertyValue(buf, v.Properties[pid])
		}
		writeU32(buf, uint32(len(v.OutEdges)))
		for _, link := range v.OutEdges {
			writeU64(buf, uint64(link.edge.Gid))
			writeU64(buf, uint64(link.edgeType))
			writeU64(buf, uint64(link.other.Gid))
			edgeRefs++
		}
	}
	return len(views), edgeRefs
}

func sortedPropKeys(m map[PropertyID]PropertyValue) []PropertyID {
	out := make([]PropertyID, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (st *Storage) encodeEdges(buf *bytes.Buffer, readerID TransactionID, viewTS Timestamp) {
	type entry struct {
		gid      Gid
		edgeType EdgeTypeID
		from, to Gid
		view     *EdgeView
	}
	var entries []entry
	st.edges.forEach(func(e *Edge) {
		view := reconstructEdge(e, readerID, viewTS)
		if view.Deleted {
			return
		}
		entries = append(entries, entry{gid: e.Gid, edgeType: e.EdgeType, from: e.From.Gid, to: e.To.Gid, view: view})
	})
	sort.Slice(entries, func(i, j int) bool { return entries[i].gid < entries[j].gid })

	writeU32(buf, uint32(len(entries)))
	for _, e := range entries {
		writeU64(buf, uint64(e.gid))
		writeU64(buf, uint64(e.edgeType))
		writeU64(buf, uint64(e.from))
		writeU64(buf, uint64(e.to))
		if st.cfg.PropertiesOnEdges {
			writeU32(buf, uint32(len(e.view.Properties)))
			for _, pid := range sortedPropKeys(e.view.Properties) {
				writeU64(buf, uint64(pid))
				encodePropertyValue(buf, e.view.Properties[pid])
			}
		} else {
			writeU32(buf, 0)
		}
	}
}

func (st *Storage) encodeIndexDefs(buf *bytes.Buffer) {
	labels := st.labelIdx.Labels()
	sort.Slice(labels, func(i, j int) bool { return labels[i] < labels[j] })
	writeU32(buf, uint32(len(labels)))
	for _, l := range labels {
		writeU64(buf, uint64(l))
	}

	keys := st.propIdx.Keys()
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].label != keys[j].label {
			return keys[i].label < keys[j].label
		}
		return keys[i].prop < keys[j].prop
	})
	writeU32(buf, uint32(len(keys)))
	for _, k := range keys {
		writeU64(buf, uint64(k.label))
		writeU64(buf, uint64(k.prop))
	}
}

func (st *Storage) encodeConstraintDefs(buf *bytes.Buffer) {
	st.existence.mu.RLock()
	existKeys := make([]labelPropKey, 0, len(st.existence.set))
	for k := range st.existence.set {
		existKeys = append(existKeys, k)
	}
	st.existence.mu.RUnlock()
	sort.Slice(existKeys, func(i, j int) bool {
		if existKeys[i].label != existKeys[j].label {
			return existKeys[i].label < existKeys[j].label
		}
		return existKeys[i].prop < existKeys[j].prop
	})
	writeU32(buf, uint32(len(existKeys)))
	for _, k := range existKeys {
		writeU64(buf, uint64(k.label))
		writeU64(buf, uint64(k.prop))
	}

	st.unique.mu.RLock()
	uniqEntries := make([]struct {
		label LabelID
		props []PropertyID
	}, 0, len(st.unique.constraints))
	for k, e := range st.unique.constraints {
		uniqEntries = append(uniqEntries, struct {
			label LabelID
			props []PropertyID
		}{k.label, e.props})
	}
	st.unique.mu.RUnlock()
	sort.Slice(uniqEntries, func(i, j int) bool { return uniqEntries[i].label < uniqEntries[j].label })
	writeU32(buf, uint32(len(uniqEntries)))
	for _, e := range uniqEntries {
		writeU64(buf, uint64(e.label))
		writeU32(buf, uint32(len(e.props)))
		for _, p := range e.props {
			writeU64(buf, uint64(p))
		}
	}
}

func (st *Storage) encodeMappers(buf *bytes.Buffer) {
	writeNameList(buf, st.names.Labels.Snapshot())
	writeNameList(buf, st.names.Properties.Snapshot())
	writeNameList(buf, st.names.EdgeTypes.Snapshot())
}

func writeNameList(buf *bytes.Buffer, names []string) {
	writeU32(buf, uint32(len(names)))
	for _, n := range names {
		putLenPrefixed(buf, []byte(n))
	}
}

func writeU64(buf *bytes.Buffer, v uint64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	buf.Write(b[:])
}

func writeU32(buf *bytes.Buffer, v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	buf.Write(b[:])
}

// pruneSnapshots deletes all but the cfg.SnapshotRetention most recent
// snapshot files (spec §4.8: "Retention: keep the most recent N
// snapshots").
func (st *Storage) pruneSnapshots() {
	entries, err := os.ReadDir(st.snapshotDir())
	if err != nil {
		return
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() && filepath.Ext(e.Name()) == ".snapshot" {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names) // zero-padded start_ts prefix sorts chronologically
	if len(names) <= st.cfg.SnapshotRetention {
		return
	}
	for _, n := range names[:len(names)-st.cfg.SnapshotRetention] {
		if err := os.Remove(filepath.Join(st.snapshotDir(), n)); err != nil {
			st.logger.Log("warn", "failed to prune old snapshot", map[string]any{"file": n, "error": err.Error()})
		}
	}
}

// decodedSnapshot is the in-memory result of parsing a snapshot file,
// consumed by recover() to repopulate a fresh Storage.
type decodedSnapshot struct {
	uuid          uuid.UUID
	epoch         uint64
	startTS       Timestamp
	nextVertexGid Gid
	nextEdgeGid   Gid

	vertices []snapVertex
	edges    []snapEdge

	labelIndices    []LabelID
	propIndices     []labelPropKey
	existenceDefs   []labelPropKey
	uniqueDefs      []uniqueDef
	labelNames      []string
	propertyNames   []string
	edgeTypeNames   []string
}

type snapVertex struct {
	gid        Gid
	labels     []LabelID
	properties map[PropertyID]PropertyValue
	outEdges   []snapOutEdge
}

type snapOutEdge struct {
	edgeGid  Gid
	edgeType EdgeTypeID
	toGid    Gid
}

type snapEdge struct {
	gid        Gid
	edgeType   EdgeTypeID
	from, to   Gid
	properties map[PropertyID]PropertyValue
}

type uniqueDef struct {
	label LabelID
	props []PropertyID
}

func decodeSnapshotFile(path string) (*decodedSnapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if len(data) < 12 || [4]byte(data[0:4]) != snapshotMagic {
		return nil, fmt.Errorf("snapshot: bad magic in %s", path)
	}
	if [4]byte(data[len(data)-4:]) != snapshotMagic {
		return nil, fmt.Errorf("snapshot: missing trailing magic in %s", path)
	}
	body := data[:len(data)-8]
	wantCRC := binary.LittleEndian.Uint32(data[len(data)-8 : len(data)-4])
	if gotCRC := crc(body); gotCRC != wantCRC {
		return nil, fmt.Errorf("snapshot: checksum mismatch in %s", path)
	}

	off := 4
	ver := binary.LittleEndian.Uint32(data[off : off+4])
	off += 4
	if ver != snapshotFormatVersion {
		return nil, fmt.Errorf("snapshot: unsupported version %d", ver)
	}
	id, err := uuid.FromBytes(data[off : off+16])
	if err != nil {
		return nil, fmt.Errorf("snapshot: bad uuid: %w", err)
	}
	off += 16
	epoch := binary.LittleEndian.Uint64(data[off : off+8])
	off += 8
	startTS := Timestamp(binary.LittleEndian.Uint64(data[off : off+8]))
	off += 8
	nextVertex := Gid(binary.LittleEndian.Uint64(data[off : off+8]))
	off += 8
	nextEdge := Gid(binary.LittleEndian.Uint64(data[off : off+8]))
	off += 8

	out := &decodedSnapshot{uuid: id, epoch: epoch, startTS: startTS, nextVertexGid: nextVertex, nextEdgeGid: nextEdge}

	vCount := binary.LittleEndian.Uint32(data[off : off+4])
	off += 4
	out.vertices = make([]snapVertex, vCount)
	for i := range out.vertices {
		gid := Gid(binary.LittleEndian.Uint64(data[off : off+8]))
		off += 8
		labelN := binary.LittleEndian.Uint32(data[off : off+4])
		off += 4
		labels := make([]LabelID, labelN)
		for j := range labels {
			labels[j] = LabelID(binary.LittleEndian.Uint64(data[off : off+8]))
			off += 8
		}
		propN := binary.LittleEndian.Uint32(data[off : off+4])
		off += 4
		props := make(map[PropertyID]PropertyValue, propN)
		for j := uint32(0); j < propN; j++ {
			pid := PropertyID(binary.LittleEndian.Uint64(data[off : off+8]))
			off += 8
			var val PropertyValue
			val, off, err = decodePropertyValue(data, off)
			if err != nil {
				return nil, err
			}
			props[pid] = val
		}
		outN := binary.LittleEndian.Uint32(data[off : off+4])
		off += 4
		outs := make([]snapOutEdge, outN)
		for j := range outs {
			egid := Gid(binary.LittleEndian.Uint64(data[off : off+8]))
			off += 8
			etype := EdgeTypeID(binary.LittleEndian.Uint64(data[off : off+8]))
			off += 8
			to := Gid(binary.LittleEndian.Uint64(data[off : off+8]))
			off += 8
			outs[j] = snapOutEdge{edgeGid: egid, edgeType: etype, toGid: to}
		}
		out.vertices[i] = snapVertex{gid: gid, labels: labels, properties: props, outEdges: outs}
	}

	eCount := binary.LittleEndian.Uint32(data[off : off+4])
	off += 4
	out.edges = make([]snapEdge, eCount)
	for i := range out.edges {
		gid := Gid(binary.LittleEndian.Uint64(data[off : off+8]))
		off += 8
		etype := EdgeTypeID(binary.LittleEndian.Uint64(data[off : off+8]))
		off += 8
		from := Gid(binary.LittleEndian.Uint64(data[off : off+8]))
		off += 8
		to := Gid(binary.LittleEndian.Uint64(data[off : off+8]))
		off += 8
		propN := binary.LittleEndian.Uint32(data[off : off+4])
		off += 4
		props := make(map[PropertyID]PropertyValue, propN)
		for j := uint32(0); j < propN; j++ {
			pid := PropertyID(binary.LittleEndian.Uint64(data[off : off+8]))
			off += 8
			var val PropertyValue
			val, off, err = decodePropertyValue(data, off)
			if err != nil {
				return nil, err
			}
			props[pid] = val
		}
		out.edges[i] = snapEdge{gid: gid, edgeType: etype, from: from, to: to, properties: props}
	}

	labelIdxN := binary.LittleEndian.Uint32(data[off : off+4])
	off += 4
	out.labelIndices = make([]LabelID, labelIdxN)
	for i := range out.labelIndices {
		out.labelIndices[i] = LabelID(binary.LittleEndian.Uint64(data[off : off+8]))
		off += 8
	}

	propIdxN := binary.LittleEndian.Uint32(data[off : off+4])
	off += 4
	out.propIndices = make([]labelPropKey, propIdxN)
	for i := range out.propIndices {
		l := LabelID(binary.LittleEndian.Uint64(data[off : off+8]))
		off += 8
		p := PropertyID(binary.LittleEndian.Uint64(data[off : off+8]))
		off += 8
		out.propIndices[i] = labelPropKey{label: l, prop: p}
	}

	existN := binary.LittleEndian.Uint32(data[off : off+4])
	off += 4
	out.existenceDefs = make([]labelPropKey, existN)
	for i := range out.existenceDefs {
		l := LabelID(binary.LittleEndian.Uint64(data[off : off+8]))
		off += 8
		p := PropertyID(binary.LittleEndian.Uint64(data[off : off+8]))
		off += 8
		out.existenceDefs[i] = labelPropKey{label: l, prop: p}
	}

	uniqN := binary.LittleEndian.Uint32(data[off : off+4])
	off += 4
	out.uniqueDefs = make([]uniqueDef, uniqN)
	for i := range out.uniqueDefs {
		l := LabelID(binary.LittleEndian.Uint64(data[off : off+8]))
		off += 8
		propN := binary.LittleEndian.Uint32(data[off : off+4])
		off += 4
		props := make([]PropertyID, propN)
		for j := range props {
			props[j] = PropertyID(binary.LittleEndian.Uint64(data[off : off+8]))
			off += 8
		}
		out.uniqueDefs[i] = uniqueDef{label: l, props: props}
	}

	out.labelNames, off, err = readNameList(data, off)
	if err != nil {
		return nil, err
	}
	out.propertyNames, off, err = readNameList(data, off)
	if err != nil {
		return nil, err
	}
	out.edgeTypeNames, off, err = readNameList(data, off)
	if err != nil {
		return nil, err
	}
	return out, nil
}

func readNameList(data []byte, off int) ([]string, int, error) {
	if off+4 > len(data) {
		return nil, off, fmt.Errorf("snapshot: truncated name list")
	}
	n := binary.LittleEndian.Uint32(data[off : off+4])
	off += 4
	out := make([]string, n)
	for i := range out {
		var b []byte
		var err error
		b, off, err = readLenPrefixed(data, off)
		if err != nil {
			return nil, off, err
		}
		out[i] = string(b)
	}
	return out, off, nil
}

func listSnapshots(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() && filepath.Ext(e.Name()) == ".snapshot" {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}
