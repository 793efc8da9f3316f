package storage

import "sync/atomic"

// Gid is a stable 64-bit object identifier, unique and monotonic within
// one Storage instance. Gids are never reused within a run and are
// preserved across snapshot/WAL round-trips.
type Gid uint64

// gidAllocator hands out monotonically increasing Gids for one object kind
// (vertices and edges each get their own allocator, matching the source's
// separate next_vertex_id_/next_edge_id_ counters).
//
// The open question flagged in DESIGN NOTES — the original C++ sometimes
// advances this counter with a non-atomic read-modify-write under a
// "single-threaded replica context" assumption — is resolved here by
// always using a CAS loop claiming the max, so recovery (which must
// fast-forward past the highest Gid seen in the snapshot/WAL) can never
// race with live allocation.
type gidAllocator struct {
	next atomic.Uint64
}

// Next returns the next unused Gid.
func (a *gidAllocator) Next() Gid {
	return Gid(a.next.Add(1) - 1)
}

// Observe advances the allocator so that subsequent Next() calls never
// return a Gid <= seen. Used during recovery to fast-forward past Gids
// read from a snapshot or WAL record.
func (a *gidAllocator) Observe(seen Gid) {
	for {
		cur := a.next.Load()
		want := uint64(seen) + 1
		if want <= cur {
			return
		}
		if a.next.CompareAndSwap(cur, want) {
			return
		}
	}
}

// Peek returns the next Gid that would be allocated, without allocating
// it. Used when persisting next_vertex_id/next_edge_id into a snapshot.
func (a *gidAllocator) Peek() Gid {
	return Gid(a.next.Load())
}

// SetNext forces the next Gid that would be allocated, used by recovery
// to restore next_vertex_id/next_edge_id from a snapshot exactly (unlike
// Observe, which only ever advances past a single seen id).
func (a *gidAllocator) SetNext(next Gid) {
	a.next.Store(uint64(next))
}
