package storage

import "sync"

// LabelID, PropertyID and EdgeTypeID are the interned integer forms of
// vertex labels, property keys and edge types. Interning keeps deltas,
// indices and WAL records compact (a uint64 rather than a string per
// occurrence).
type LabelID uint64
type PropertyID uint64
type EdgeTypeID uint64

// nameIDMapper is an append-only, two-way name<->id mapping, guarded by a
// plain mutex rather than anything lock-free: per spec §5 ("Shared mutable
// state") name<->id mappers are append-only under a mutex, not a hot path
// worth lock-free treatment.
type nameIDMapper[ID ~uint64] struct {
	mu      sync.Mutex
	byName  map[string]ID
	byID    []string // byID[id] == name
}

func newNameIDMapper[ID ~uint64]() *nameIDMapper[ID] {
	return &nameIDMapper[ID]{byName: make(map[string]ID)}
}

// ID interns name, allocating a new id the first time it is seen.
func (m *nameIDMapper[ID]) ID(name string) ID {
	m.mu.Lock()
	defer m.mu.Unlock()
	if id, ok := m.byName[name]; ok {
		return id
	}
	id := ID(len(m.byID))
	m.byID = append(m.byID, name)
	m.byName[name] = id
	return id
}

// Name returns the name previously interned as id, and whether it exists.
func (m *nameIDMapper[ID]) Name(id ID) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if int(id) < 0 || int(id) >= len(m.byID) {
		return "", false
	}
	return m.byID[id], true
}

// Lookup returns the id for name without interning it, for callers that
// must not allocate a new id (e.g. a drop-constraint path operating on a
// name that may never have been used as a label).
func (m *nameIDMapper[ID]) Lookup(name string) (ID, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.byName[name]
	return id, ok
}

// Snapshot returns a copy of the id->name table, in id order, for
// serialization into a snapshot file's mappers section.
func (m *nameIDMapper[ID]) Snapshot() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.byID))
	copy(out, m.byID)
	return out
}

// Restore repopulates the mapper from a snapshot's id-ordered name list.
func (m *nameIDMapper[ID]) Restore(names []string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byID = append(m.byID[:0], names...)
	m.byName = make(map[string]ID, len(names))
	for i, n := range names {
		m.byName[n] = ID(i)
	}
}

// NameMappers bundles the three interners a Storage instance owns.
type NameMappers struct {
	Labels     *nameIDMapper[LabelID]
	Properties *nameIDMapper[PropertyID]
	EdgeTypes  *nameIDMapper[EdgeTypeID]
}

func newNameMappers() *NameMappers {
	return &NameMappers{
		Labels:     newNameIDMapper[LabelID](),
		Properties: newNameIDMapper[PropertyID](),
		EdgeTypes:  newNameIDMapper[EdgeTypeID](),
	}
}
