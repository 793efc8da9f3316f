package storage

import (
	"bytes"
	"encoding/binary"
)

// walOpKind distinguishes the forward-intent log entries a transaction
// accumulates as the accessor mutates objects (see transaction.go's
// walOps field).
type walOpKind uint8

const (
	opVertexCreate walOpKind = iota
	opVertexDelete
	opVertexAddLabel
	opVertexRemoveLabel
	opVertexSetProperty
	opEdgeCreate
	opEdgeDelete
	opEdgeSetProperty
	opLabelIndexCreate
	opLabelIndexDrop
	opLabelPropertyIndexCreate
	opLabelPropertyIndexDrop
	opExistenceConstraintCreate
	opExistenceConstraintDrop
	opUniqueConstraintCreate
	opUniqueConstraintDrop
)

type walOp struct {
	Kind walOpKind

	VertexGid Gid
	EdgeGid   Gid
	EdgeType  EdgeTypeID
	From, To  Gid

	Label LabelID
	Props []PropertyID // single element for a scalar property op
	Value PropertyValue
}

// walPass buckets the record tags the five-pass write order groups
// together (spec §4.7: "vertex-creations, edge-creations,
// property/label mutations, edge-deletions, vertex-deletions").
func walPass(kind walOpKind) int {
	switch kind {
	case opVertexCreate:
		return 0
	case opEdgeCreate:
		return 1
	case opVertexAddLabel, opVertexRemoveLabel, opVertexSetProperty, opEdgeSetProperty,
		opLabelIndexCreate, opLabelIndexDrop, opLabelPropertyIndexCreate, opLabelPropertyIndexDrop,
		opExistenceConstraintCreate, opExistenceConstraintDrop, opUniqueConstraintCreate, opUniqueConstraintDrop:
		return 2
	case opEdgeDelete:
		return 3
	case opVertexDelete:
		return 4
	default:
		return 2
	}
}

// orderForWAL produces ops in the five-pass order described by spec
// §4.7 so that replay never needs a forward reference (an edge mutation
// always follows its vertices' creation, a deletion always follows
// every creation).
func orderForWAL(ops []walOp) []walOp {
	buckets := make([][]walOp, 5)
	for _, op := range ops {
		p := walPass(op.Kind)
		buckets[p] = append(buckets[p], op)
	}
	out := make([]walOp, 0, len(ops))
	for _, b := range buckets {
		out = append(out, b...)
	}
	return out
}

func opToRecordTag(kind walOpKind) recordTag {
	switch kind {
	case opVertexCreate:
		return recVertexCreate
	case opVertexDelete:
		return recVertexDelete
	case opVertexAddLabel:
		return recVertexAddLabel
	case opVertexRemoveLabel:
		return recVertexRemoveLabel
	case opVertexSetProperty:
		return recVertexSetProperty
	case opEdgeCreate:
		return recEdgeCreate
	case opEdgeDelete:
		return recEdgeDelete
	case opEdgeSetProperty:
		return recEdgeSetProperty
	case opLabelIndexCreate:
		return recLabelIndexCreate
	case opLabelIndexDrop:
		return recLabelIndexDrop
	case opLabelPropertyIndexCreate:
		return recLabelPropertyIndexCreate
	case opLabelPropertyIndexDrop:
		return recLabelPropertyIndexDrop
	case opExistenceConstraintCreate:
		return recExistenceConstraintCreate
	case opExistenceConstraintDrop:
		return recExistenceConstraintDrop
	case opUniqueConstraintCreate:
		return recUniqueConstraintCreate
	case opUniqueConstraintDrop:
		return recUniqueConstraintDrop
	default:
		return recTransactionEnd
	}
}

func encodeWALOp(op walOp) []byte {
	var buf bytes.Buffer
	switch op.Kind {
	case opVertexCreate, opVertexDelete:
		writeUint64(&buf, uint64(op.VertexGid))
	case opVertexAddLabel, opVertexRemoveLabel:
		writeUint64(&buf, uint64(op.VertexGid))
		writeUint64(&buf, uint64(op.Label))
	case opVertexSetProperty:
		writeUint64(&buf, uint64(op.VertexGid))
		writeUint64(&buf, uint64(op.Props[0]))
		encodePropertyValue(&buf, op.Value)
	case opEdgeCreate:
		writeUint64(&buf, uint64(op.EdgeGid))
		writeUint64(&buf, uint64(op.EdgeType))
		writeUint64(&buf, uint64(op.From))
		writeUint64(&buf, uint64(op.To))
	case opEdgeDelete:
		writeUint64(&buf, uint64(op.EdgeGid))
	case opEdgeSetProperty:
		writeUint64(&buf, uint64(op.EdgeGid))
		writeUint64(&buf, uint64(op.Props[0]))
		encodePropertyValue(&buf, op.Value)
	case opLabelIndexCreate, opLabelIndexDrop:
		writeUint64(&buf, uint64(op.Label))
	case opLabelPropertyIndexCreate, opLabelPropertyIndexDrop, opExistenceConstraintCreate, opExistenceConstraintDrop:
		writeUint64(&buf, uint64(op.Label))
		writeUint64(&buf, uint64(op.Props[0]))
	case opUniqueConstraintCreate, opUniqueConstraintDrop:
		writeUint64(&buf, uint64(op.Label))
		writeUint32(&buf, uint32(len(op.Props)))
		for _, p := range op.Props {
			writeUint64(&buf, uint64(p))
		}
	}
	return buf.Bytes()
}

func writeUint64(buf *bytes.Buffer, v uint64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	buf.Write(b[:])
}

func writeUint32(buf *bytes.Buffer, v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	buf.Write(b[:])
}

// encodeCommitRecords turns one committed transaction's walOps into the
// ordered record slice a segment append writes, terminated by a
// TRANSACTION_END marker (spec §4.7).
func encodeCommitRecords(ops []walOp, commitTS Timestamp) []walRecord {
	ordered := orderForWAL(ops)
	out := make([]walRecord, 0, len(ordered)+1)
	for _, op := range ordered {
		out = append(out, walRecord{
			Timestamp: commitTS,
			Tag:       opToRecordTag(op.Kind),
			Payload:   encodeWALOp(op),
		})
	}
	out = append(out, walRecord{Timestamp: commitTS, Tag: recTransactionEnd})
	return out
}
