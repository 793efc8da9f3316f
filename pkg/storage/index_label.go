package storage

import "sync"

// labelIndex is the "Label index" component (spec §4.3): one ordered
// structure per label mapping (vertex, tx_start_ts) entries. Order does
// not matter for this index (callers only ever need "every vertex with
// this label"), so it is built on orderedIndex with an always-equal
// comparator — each new entry is placed in front of the existing ones, so
// entries sit newest first, and a full iteration needs no other order.
type labelIndex struct {
	mu      sync.RWMutex
	buckets map[LabelID]*orderedIndex[struct{}]
}

func newLabelIndex() *labelIndex {
	return &labelIndex{buckets: make(map[LabelID]*orderedIndex[struct{}])}
}

func trivialCmp(a, b struct{}) int { return 0 }

func (li *labelIndex) ensureBucket(label LabelID) *orderedIndex[struct{}] {
	li.mu.RLock()
	b, ok := li.buckets[label]
	li.mu.RUnlock()
	if ok {
		return b
	}
	li.mu.Lock()
	defer li.mu.Unlock()
	if b, ok = li.buckets[label]; ok {
		return b
	}
	b = newOrderedIndex[struct{}](trivialCmp)
	li.buckets[label] = b
	return b
}

// HasIndex reports whether an index exists for label at all, distinct
// from it being empty (spec §6: CreateIndex/DropIndex, INDEX_DEFINITION_ERROR
// semantics require distinguishing "no such index" from "empty index").
func (li *labelIndex) HasIndex(label LabelID) bool {
	li.mu.RLock()
	defer li.mu.RUnlock()
	_, ok := li.buckets[label]
	return ok
}

func (li *labelIndex) CreateIndex(label LabelID) bool {
	li.mu.Lock()
	defer li.mu.Unlock()
	if _, ok := li.buckets[label]; ok {
		return false
	}
	li.buckets[label] = newOrderedIndex[struct{}](trivialCmp)
	return true
}

func (li *labelIndex) DropIndex(label LabelID) bool {
	li.mu.Lock()
	defer li.mu.Unlock()
	if _, ok := li.buckets[label]; !ok {
		return false
	}
	delete(li.buckets, label)
	return true
}

// Insert records that vertex v was given label at tx start timestamp ts
// (spec §4.3: "On add_label the writer inserts (vertex, tx_start_ts)").
func (li *labelIndex) Insert(label LabelID, v *Vertex, ts Timestamp) {
	li.mu.RLock()
	b, ok := li.buckets[label]
	li.mu.RUnlock()
	if !ok {
		return // no index defined for this label; nothing to maintain
	}
	b.Insert(struct{}{}, v, ts)
}

// Scan returns every distinct vertex that, reconstructed at (readerTxID,
// viewTS), actually carries label and is not deleted (spec §6 "Index
// soundness"/"Index completeness": stale or duplicate entries are
// filtered at read time, not relied upon to have been removed).
func (li *labelIndex) Scan(label LabelID, readerTxID TransactionID, viewTS Timestamp) []*VertexView {
	li.mu.RLock()
	b, ok := li.buckets[label]
	li.mu.RUnlock()
	if !ok {
		return nil
	}
	entries := b.All()
	seen := make(map[*Vertex]struct{}, len(entries))
	out := make([]*VertexView, 0, len(entries))
	for _, e := range entries {
		if _, dup := seen[e.vertex]; dup {
			continue
		}
		seen[e.vertex] = struct{}{}
		view := reconstructVertex(e.vertex, readerTxID, viewTS)
		if view.Deleted || !hasLabel(view.Labels, label) {
			continue
		}
		out = append(out, view)
	}
	return out
}

func hasLabel(labels []LabelID, l LabelID) bool {
	for _, x := range labels {
		if x == l {
			return true
		}
	}
	return false
}

// removeObsoleteEntries drops index entries predating oldestActive for
// vertices that no longer carry the label in their current live state
// (spec §4.3/4.6: GC "removes entries whose recorded timestamp is older
// than the oldest active start_ts AND for which no reachable version of
// the vertex still satisfies the entry").
func (li *labelIndex) removeObsoleteEntries(label LabelID, oldestActive Timestamp) {
	li.mu.RLock()
	b, ok := li.buckets[label]
	li.mu.RUnlock()
	if !ok {
		return
	}
	b.RemoveWhere(func(e orderedEntry[struct{}]) bool {
		if e.ts >= oldestActive {
			return true // might still be needed by an active reader
		}
		e.vertex.Lock()
		live := !e.vertex.deleted && hasLabel(e.vertex.labels, label)
		e.vertex.Unlock()
		return live
	})
}

// Labels returns the set of labels with a defined index, for GC sweeps.
func (li *labelIndex) Labels() []LabelID {
	li.mu.RLock()
	defer li.mu.RUnlock()
	out := make([]LabelID, 0, len(li.buckets))
	for l := range li.buckets {
		out = append(out, l)
	}
	return out
}
