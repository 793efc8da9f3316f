package storage

import (
	"sort"
	"sync"
)

// orderedIndex is the concurrent ordered structure backing the label
// index, the label+property index, and unique constraints (spec §4.3/4.4
// describe each as "one concurrent skiplist"). It is implemented as a
// mutex-guarded sorted slice with binary-search insert/lookup rather than
// a true lock-free skiplist: the externally observable contract (ordered
// concurrent index, O(log n) point/range lookup, periodic GC compaction)
// is the same, and spec §9 explicitly allows the simpler choice
// ("Alternative designs... are compatible with this spec; implementers
// may choose"). See DESIGN.md.
type orderedEntry[K any] struct {
	key    K
	vertex *Vertex
	ts     Timestamp
}

type orderedIndex[K any] struct {
	mu      sync.Mutex
	entries []orderedEntry[K]
	cmp     func(a, b K) int
}

func newOrderedIndex[K any](cmp func(a, b K) int) *orderedIndex[K] {
	return &orderedIndex[K]{cmp: cmp}
}

// Insert adds (key, vertex, ts) in sorted position. Entries are never
// removed inline (spec §4.3: "Index entries are never removed inline");
// only RemoveWhere (driven by GC) deletes entries.
func (l *orderedIndex[K]) Insert(key K, v *Vertex, ts Timestamp) {
	l.mu.Lock()
	defer l.mu.Unlock()
	i := sort.Search(len(l.entries), func(i int) bool { return l.cmp(l.entries[i].key, key) >= 0 })
	l.entries = append(l.entries, orderedEntry[K]{})
	copy(l.entries[i+1:], l.entries[i:])
	l.entries[i] = orderedEntry[K]{key: key, vertex: v, ts: ts}
}

// Range returns a copy of every entry whose key falls within
// [lower, upper] (bounds optional, inclusivity controlled by the
// lowerIncl/upperIncl flags), for point lookups (lower==upper, both
// inclusive) and bounded range scans alike (spec §4.3: "Supports point
// lookup, equality range, and bounded range").
func (l *orderedIndex[K]) Range(lower, upper *K, lowerIncl, upperIncl bool) []orderedEntry[K] {
	l.mu.Lock()
	defer l.mu.Unlock()

	lo := 0
	if lower != nil {
		if lowerIncl {
			lo = sort.Search(len(l.entries), func(i int) bool { return l.cmp(l.entries[i].key, *lower) >= 0 })
		} else {
			lo = sort.Search(len(l.entries), func(i int) bool { return l.cmp(l.entries[i].key, *lower) > 0 })
		}
	}
	hi := len(l.entries)
	if upper != nil {
		if upperIncl {
			hi = sort.Search(len(l.entries), func(i int) bool { return l.cmp(l.entries[i].key, *upper) > 0 })
		} else {
			hi = sort.Search(len(l.entries), func(i int) bool { return l.cmp(l.entries[i].key, *upper) >= 0 })
		}
	}
	if lo >= hi {
		return nil
	}
	out := make([]orderedEntry[K], hi-lo)
	copy(out, l.entries[lo:hi])
	return out
}

// All returns a copy of every entry, for full label-index scans.
func (l *orderedIndex[K]) All() []orderedEntry[K] {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]orderedEntry[K], len(l.entries))
	copy(out, l.entries)
	return out
}

// RemoveWhere deletes every entry for which keep returns false. Called
// only by GC (spec §4.3: "GC periodically scans and removes entries...").
func (l *orderedIndex[K]) RemoveWhere(keep func(orderedEntry[K]) bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := l.entries[:0]
	for _, e := range l.entries {
		if keep(e) {
			out = append(out, e)
		}
	}
	l.entries = out
}

func (l *orderedIndex[K]) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}
