package storage

import "sync"

// labelPropKey identifies one label+property index (spec §4.3).
type labelPropKey struct {
	label LabelID
	prop  PropertyID
}

// propertyIndex is the "Label+property index" component: one ordered
// structure per (label, property), sorted by property value only (spec
// §4.3). Entries with equal values are not ordered by vertex or by
// timestamp: each new entry goes in front of the existing equal ones.
type propertyIndex struct {
	mu      sync.RWMutex
	buckets map[labelPropKey]*orderedIndex[PropertyValue]
}

func newPropertyIndex() *propertyIndex {
	return &propertyIndex{buckets: make(map[labelPropKey]*orderedIndex[PropertyValue])}
}

func comparePropertyValue(a, b PropertyValue) int { return Compare(a, b) }

func (pi *propertyIndex) HasIndex(label LabelID, prop PropertyID) bool {
	pi.mu.RLock()
	defer pi.mu.RUnlock()
	_, ok := pi.buckets[labelPropKey{label, prop}]
	return ok
}

func (pi *propertyIndex) CreateIndex(label LabelID, prop PropertyID) bool {
	pi.mu.Lock()
	defer pi.mu.Unlock()
	k := labelPropKey{label, prop}
	if _, ok := pi.buckets[k]; ok {
		return false
	}
	pi.buckets[k] = newOrderedIndex[PropertyValue](comparePropertyValue)
	return true
}

func (pi *propertyIndex) DropIndex(label LabelID, prop PropertyID) bool {
	pi.mu.Lock()
	defer pi.mu.Unlock()
	k := labelPropKey{label, prop}
	if _, ok := pi.buckets[k]; !ok {
		return false
	}
	delete(pi.buckets, k)
	return true
}

// Insert records (value, vertex, ts) for (label, prop), called on
// set_property when the vertex has the label, and on add_label when it
// has the property (spec §4.3).
func (pi *propertyIndex) Insert(label LabelID, prop PropertyID, value PropertyValue, v *Vertex, ts Timestamp) {
	pi.mu.RLock()
	b, ok := pi.buckets[labelPropKey{label, prop}]
	pi.mu.RUnlock()
	if !ok {
		return
	}
	b.Insert(value, v, ts)
}

// Lookup returns every distinct vertex whose reconstructed state at
// (readerTxID, viewTS) carries label, has prop set to a value within
// [lower, upper], and is not deleted.
func (pi *propertyIndex) Lookup(label LabelID, prop PropertyID, lower, upper *PropertyValue, lowerIncl, upperIncl bool, readerTxID TransactionID, viewTS Timestamp) []*VertexView {
	pi.mu.RLock()
	b, ok := pi.buckets[labelPropKey{label, prop}]
	pi.mu.RUnlock()
	if !ok {
		return nil
	}
	entries := b.Range(lower, upper, lowerIncl, upperIncl)
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
		val, ok := view.Properties[prop]
		if !ok {
			continue
		}
		if !withinBounds(val, lower, upper, lowerIncl, upperIncl) {
			continue
		}
		out = append(out, view)
	}
	return out
}

func withinBounds(v PropertyValue, lower, upper *PropertyValue, lowerIncl, upperIncl bool) bool {
	if lower != nil {
		c := Compare(v, *lower)
		if lowerIncl && c < 0 {
			return false
		}
		if !lowerIncl && c <= 0 {
			return false
		}
	}
	if upper != nil {
		c := Compare(v, *upper)
		if upperIncl && c > 0 {
			return false
		}
		if !upperIncl && c >= 0 {
			return false
		}
	}
	return true
}

func (pi *propertyIndex) removeObsoleteEntries(key labelPropKey, oldestActive Timestamp) {
	pi.mu.RLock()
	b, ok := pi.buckets[key]
	pi.mu.RUnlock()
	if !ok {
		return
	}
	b.RemoveWhere(func(e orderedEntry[PropertyValue]) bool {
		if e.ts >= oldestActive {
			return true
		}
		e.vertex.Lock()
		live := !e.vertex.deleted && hasLabel(e.vertex.labels, key.label) &&
			e.vertex.properties[key.prop].Equal(e.key)
		e.vertex.Unlock()
		return live
	})
}

func (pi *propertyIndex) Keys() []labelPropKey {
	pi.mu.RLock()
	defer pi.mu.RUnlock()
	out := make([]labelPropKey, 0, len(pi.buckets))
	for k := range pi.buckets {
		out = append(out, k)
	}
	return out
}
