package storage

import (
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Timestamp is the single monotonic counter that provides both start and
// commit timestamps (spec §3). TransactionID is the unique id assigned at
// Begin.
type Timestamp uint64
type TransactionID uint64

// IsolationLevel selects the view-ts rule used for each read inside a
// transaction (spec §4.2).
type IsolationLevel uint8

const (
	SnapshotIsolation IsolationLevel = iota
	ReadCommitted
	ReadUncommitted
)

// StorageMode mirrors _examples/original_source/src/storage/v2/storage_mode.hpp,
// minus ON_DISK_TRANSACTIONAL (a disk-backed variant, explicitly a
// Non-goal per spec §1).
type StorageMode uint8

const (
	Transactional StorageMode = iota
	Analytical
)

// neighborDirection selects which edge list a delta-cache lookup targets.
type neighborDirection uint8

const (
	dirOut neighborDirection = iota
	dirIn
)

// neighborCacheKey is the (object, edge_type, direction) key the per-tx
// delta cache is keyed by (spec §3: "per-tx delta cache keyed by (object,
// edge_type, direction) to speed up repeated neighborhood reads").
type neighborCacheKey struct {
	gid    Gid
	edgeTy EdgeTypeID
	dir    neighborDirection
}

// anyEdgeType is the edge_type slot of a neighborCacheKey for an
// unfiltered neighborhood read (VertexRef::in_edges/out_edges take no
// type filter), as opposed to a future type-scoped lookup that would
// cache under its own real EdgeTypeID.
const anyEdgeType EdgeTypeID = ^EdgeTypeID(0)

// Transaction is the per-tx state described in spec §3/§4.2: id, start
// timestamp, isolation, storage mode, owned deltas in insertion order, the
// atomic commit timestamp cell, a must_abort flag, and a neighbor-read
// cache.
//
// The arena and the other per-tx slices are only ever appended to by the goroutine
// that owns this Transaction — concurrent access to a single Transaction
// from multiple goroutines is not a supported usage pattern (spec §5
// describes *transactions* as independent and concurrent with each other,
// never a single transaction driven from many goroutines at once) — so no
// lock guards them. mustAbort is the only field another goroutine (the
// session owner, cancelling on the user's behalf) may touch concurrently,
// hence the atomic; the deadline is a plain field (see SetDeadline).
type Transaction struct {
	ID        TransactionID
	StartTS   Timestamp
	Isolation IsolationLevel
	Mode      StorageMode

	commitTS *commitTSCell
	arena    deltaArena

	mustAbort atomic.Bool
	deadline  time.Time // zero means no deadline

	neighborCache *lru.Cache[neighborCacheKey, []edgeLink]

	storage *Storage

	state txState

	// touchedVertices/touchedEdges track which objects this tx modified,
	// for commit-time constraint validation (spec §4.2 step 1: "iterate
	// own deltas" to find touched vertices) without re-walking the whole
	// delta list more than once.
	touchedVertices []*Vertex
	touchedEdges    []*Edge

	// walOps is the forward-intent log the accessor appends to as each
	// mutation happens, in program order. The undo-delta chain built
	// alongside it exists for MVCC visibility and abort, and stores the
	// *inverse* of each operation — the wrong shape for a redo log — so
	// the WAL writer replays walOps, not deltas, when a commit succeeds.
	walOps []walOp
}

func (tx *Transaction) recordWALOp(op walOp) {
	tx.walOps = append(tx.walOps, op)
}

type txState uint8

const (
	txActive txState = iota
	txCommitted
	txAborted
)

const neighborCacheSize = 128

func newTransaction(st *Storage, id TransactionID, startTS Timestamp, isolation IsolationLevel, mode StorageMode) *Transaction {
	cache, _ := lru.New[neighborCacheKey, []edgeLink](neighborCacheSize)
	return &Transaction{
		ID:            id,
		StartTS:       startTS,
		Isolation:     isolation,
		Mode:          mode,
		commitTS:      newUncommittedCell(id),
		neighborCache: cache,
		storage:       st,
	}
}

// ViewTimestamp returns the timestamp a read performed right now, inside
// this transaction, should use as its view (spec §4.2: isolation levels
// "differ only in the view-ts selection rule for each read").
func (tx *Transaction) ViewTimestamp() Timestamp {
	switch tx.Isolation {
	case ReadCommitted:
		return tx.storage.currentTimestamp()
	case ReadUncommitted:
		return ^Timestamp(0)
	default: // SnapshotIsolation
		return tx.StartTS
	}
}

// MustAbort reports whether the transaction has been flagged for abort,
// either via SetMustAbort or because its deadline has passed (spec §5
// "Cancellation"/"Timeouts").
func (tx *Transaction) MustAbort() bool {
	if tx.mustAbort.Load() {
		return true
	}
	if !tx.deadline.IsZero() && time.Now().After(tx.deadline) {
		tx.mustAbort.Store(true)
		return true
	}
	return false
}

// SetMustAbort flags the transaction for abort from another goroutine
// (the session owner cancelling on the user's behalf).
func (tx *Transaction) SetMustAbort() { tx.mustAbort.Store(true) }

// SetDeadline installs an optional per-transaction deadline (spec §5
// "Timeouts"). Not safe to call concurrently with reads on this tx.
func (tx *Transaction) SetDeadline(d time.Time) { tx.deadline = d }

func (tx *Transaction) allocDelta(action DeltaAction) *Delta {
	return tx.arena.alloc(action, tx.commitTS)
}

func (tx *Transaction) recordVertex(v *Vertex) {
	for _, existing := range tx.touchedVertices {
		if existing == v {
			return
		}
	}
	tx.touchedVertices = append(tx.touchedVertices, v)
}

func (tx *Transaction) recordEdge(e *Edge) {
	for _, existing := range tx.touchedEdges {
		if existing == e {
			return
		}
	}
	tx.touchedEdges = append(tx.touchedEdges, e)
}

// invalidateNeighborCache drops any cached neighborhood reads for gid,
// called whenever this tx adds/removes an edge touching gid.
func (tx *Transaction) invalidateNeighborCache(gid Gid) {
	if tx.neighborCache == nil {
		return
	}
	for _, dir := range [2]neighborDirection{dirOut, dirIn} {
		keys := tx.neighborCache.Keys()
		for _, k := range keys {
			if k.gid == gid && k.dir == dir {
				tx.neighborCache.Remove(k)
			}
		}
	}
}

// cachedNeighbors serves a repeated neighborhood read out of the per-tx
// cache (spec §3). Only safe under SNAPSHOT_ISOLATION, where a tx's view
// timestamp is fixed for its whole lifetime (tx.StartTS); under
// READ_COMMITTED/READ_UNCOMMITTED the view moves on every call, so a
// cached result could go stale without any write this tx made.
func (tx *Transaction) cachedNeighbors(gid Gid, edgeTy EdgeTypeID, dir neighborDirection) ([]edgeLink, bool) {
	if tx.neighborCache == nil || tx.Isolation != SnapshotIsolation {
		return nil, false
	}
	return tx.neighborCache.Get(neighborCacheKey{gid: gid, edgeTy: edgeTy, dir: dir})
}

// cacheNeighbors records the result of a neighborhood read this tx just
// reconstructed, so a repeated read of the same (object, edge_type,
// direction) skips the delta-chain walk.
func (tx *Transaction) cacheNeighbors(gid Gid, edgeTy EdgeTypeID, dir neighborDirection, links []edgeLink) {
	if tx.neighborCache == nil || tx.Isolation != SnapshotIsolation {
		return
	}
	tx.neighborCache.Add(neighborCacheKey{gid: gid, edgeTy: edgeTy, dir: dir}, links)
}
