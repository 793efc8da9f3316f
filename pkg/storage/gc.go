package storage

import "sync"

// gcLock is the dedicated, non-blocking lock spec §4.6 describes ("GC lock
// (non-blocking try-lock from scheduled trigger)"): the periodic trigger
// skips a cycle outright rather than queuing behind a concurrent run or a
// caller-invoked CollectGarbage.
type gcLock struct {
	mu sync.Mutex
}

// CollectGarbage runs one GC cycle (spec §4.6). Unlike the two-phase
// unlink/reclaim split described there — which exists to let concurrent
// version-chain readers keep walking a delta that phase 1 already decided
// to drop, deferring its destruction to phase 2 — this implementation
// unlinks and makes a delta chain segment unreachable in the same locked
// step: Go's garbage collector reclaims the memory once nothing still
// points at it, so there is no separate arena-destroy pass to schedule.
// See DESIGN.md.
func (st *Storage) CollectGarbage() {
	st.collectGarbage(false)
}

// collectGarbageForce reclaims everything regardless of active readers,
// used on shutdown (spec §4.6: "If force=true... skip oldest_active and
// reclaim everything").
func (st *Storage) collectGarbageForce() {
	st.collectGarbage(true)
}

func (st *Storage) collectGarbage(force bool) {
	if !st.gc.mu.TryLock() {
		return
	}
	defer st.gc.mu.Unlock()

	oldestActive := st.commitLog.OldestActive(st.currentTimestamp())
	if force {
		oldestActive = ^Timestamp(0)
	}

	var reclaimedVertices, reclaimedEdges int
	st.vertices.forEach(func(v *Vertex) {
		v.Lock()
		cutDeltaChainLocked(&v.delta, oldestActive)
		reclaim := v.deleted && v.delta == nil
		v.Unlock()
		if reclaim {
			st.vertices.remove(v.Gid)
			reclaimedVertices++
		}
	})
	st.edges.forEach(func(e *Edge) {
		e.Lock()
		cutDeltaChainLocked(&e.delta, oldestActive)
		reclaim := e.deleted && e.delta == nil
		e.Unlock()
		if reclaim {
			st.edges.remove(e.Gid)
			reclaimedEdges++
		}
	})

	for _, label := range st.labelIdx.Labels() {
		st.labelIdx.removeObsoleteEntries(label, oldestActive)
	}
	for _, key := range st.propIdx.Keys() {
		st.propIdx.removeObsoleteEntries(key, oldestActive)
	}
	st.unique.removeObsoleteEntries(oldestActive)

	if reclaimedVertices > 0 || reclaimedEdges > 0 {
		st.logger.Log("debug", "garbage collection reclaimed objects", map[string]any{
			"vertices": reclaimedVertices,
			"edges":    reclaimedEdges,
		})
	}
}

// cutDeltaChainLocked walks head (the caller already holds the owning
// object's lock) until it finds a delta committed at or before
// oldestActive, then severs the chain there, dropping that delta and every
// older one: every active reader's view_ts is >= oldestActive, so no
// reconstruction walk can ever apply such a delta (spec §4.6 phase 1's
// unlink condition, reduced to its single-object effect).
func cutDeltaChainLocked(head **Delta, oldestActive Timestamp) {
	var prev *Delta
	d := *head
	for d != nil {
		raw := d.ts.v.Load()
		if raw&uncommittedBit != 0 {
			// still owned by an in-flight (active or doomed-but-not-yet-
			// cleaned-up) transaction; never eligible for unlinking.
			prev = d
			d = d.Next()
			continue
		}
		// A reconstruction walk only ever applies d when d's ts is
		// strictly greater than the reader's view_ts; since oldestActive
		// is <= every active reader's view_ts, a delta at or below it can
		// never be applied by any current or future reader, so it and
		// everything older than it can be severed here.
		if Timestamp(raw) <= oldestActive {
			if prev == nil {
				*head = nil
			} else {
				prev.next.Store(nil)
			}
			return
		}
		prev = d
		d = d.Next()
	}
}
