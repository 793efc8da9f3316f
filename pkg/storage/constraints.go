package storage

import (
	"strconv"
	"sync"
)

// existenceConstraints is the "Existence" half of the Constraint engine
// (spec §4.4): a set of (label, property) pairs enforced at commit.
type existenceConstraints struct {
	mu  sync.RWMutex
	set map[labelPropKey]struct{}
}

func newExistenceConstraints() *existenceConstraints {
	return &existenceConstraints{set: make(map[labelPropKey]struct{})}
}

// Create validates the constraint against every existing vertex (spec
// §4.4: "Creation: scan all vertices; reject if any existing vertex
// already violates") before installing it.
func (ec *existenceConstraints) Create(label LabelID, prop PropertyID, vertices *vertexStore, names *NameMappers) *StorageError {
	key := labelPropKey{label, prop}
	ec.mu.Lock()
	defer ec.mu.Unlock()
	if _, ok := ec.set[key]; ok {
		return newErr(IndexDefinitionError, "existence constraint already exists")
	}

	var violation *StorageError
	vertices.forEach(func(v *Vertex) {
		if violation != nil {
			return
		}
		v.Lock()
		violates := !v.deleted && hasLabel(v.labels, label) && valueMissing(v.properties, prop)
		v.Unlock()
		if violates {
			violation = newErr(ConstraintViolation, "existing vertex violates new existence constraint")
			violation.Label, violation.Properties = constraintNames(names, label, []PropertyID{prop})
		}
	})
	if violation != nil {
		return violation
	}
	ec.set[key] = struct{}{}
	return nil
}

func (ec *existenceConstraints) Drop(label LabelID, prop PropertyID) bool {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	key := labelPropKey{label, prop}
	if _, ok := ec.set[key]; !ok {
		return false
	}
	delete(ec.set, key)
	return true
}

func valueMissing(props map[PropertyID]PropertyValue, prop PropertyID) bool {
	v, ok := props[prop]
	return !ok || v.IsNull()
}

// Validate checks every (label, property) constraint against v's final
// state (spec §4.2 commit step 1: "for every vertex modified by the tx
// whose final state has the label, require the property to be present and
// non-null").
func (ec *existenceConstraints) Validate(v *VertexView) *StorageError {
	ec.mu.RLock()
	defer ec.mu.RUnlock()
	if v.Deleted {
		return nil
	}
	for key := range ec.set {
		if !hasLabel(v.Labels, key.label) {
			continue
		}
		if valueMissing(v.Properties, key.prop) {
			return newErr(ConstraintViolation, "existence constraint violated")
		}
	}
	return nil
}

// uniqueConstraintKey identifies one unique constraint (spec §4.4: "a
// set of (label, ordered-set-of-properties)").
type uniqueConstraintKey struct {
	label LabelID
	props string // properties joined, used as a map key; see propsKey
}

func propsKey(props []PropertyID) string {
	// properties are small, fixed-size integer ids: a delimiter-joined
	// string is a simple, collision-free map key without pulling in a
	// tuple-hashing library.
	b := make([]byte, 0, len(props)*9)
	for _, p := range props {
		b = strconv.AppendUint(b, uint64(p), 10)
		b = append(b, ',')
	}
	return string(b)
}

func compareTuple(a, b []PropertyValue) int {
	for i := 0; i < len(a) && i < len(b); i++ {
		if c := Compare(a[i], b[i]); c != 0 {
			return c
		}
	}
	return len(a) - len(b)
}

type uniqueConstraintEntry struct {
	props []PropertyID
	index *orderedIndex[[]PropertyValue]
}

// uniqueConstraints is the "Uniqueness" half of the Constraint engine:
// one ordered index per constraint, keyed by the property-value tuple
// (spec §4.4).
type uniqueConstraints struct {
	mu          sync.RWMutex
	constraints map[uniqueConstraintKey]*uniqueConstraintEntry
}

func newUniqueConstraints() *uniqueConstraints {
	return &uniqueConstraints{constraints: make(map[uniqueConstraintKey]*uniqueConstraintEntry)}
}

// Create scans all vertices under a write lock, grounded on
// _examples/original_source/src/storage/v2/inmemory/unique_constraints.cpp's
// creation-time validation that rejects if any pair of existing vertices
// already collides on the tuple.
func (uc *uniqueConstraints) Create(label LabelID, props []PropertyID, vertices *vertexStore, curTS Timestamp, names *NameMappers) *StorageError {
	key := uniqueConstraintKey{label: label, props: propsKey(props)}
	uc.mu.Lock()
	defer uc.mu.Unlock()
	if _, ok := uc.constraints[key]; ok {
		return newErr(IndexDefinitionError, "unique constraint already exists")
	}

	seen := make(map[string]Gid)
	var violation *StorageError
	vertices.forEach(func(v *Vertex) {
		if violation != nil {
			return
		}
		v.Lock()
		deleted := v.deleted
		has := hasLabel(v.labels, label)
		tuple, complete := extractTuple(v.properties, props)
		v.Unlock()
		if deleted || !has || !complete {
			return
		}
		fp := tupleFingerprint(tuple)
		if other, dup := seen[fp]; dup && other != v.Gid {
			violation = newErr(ConstraintViolation, "existing vertices violate new unique constraint")
			violation.Label, violation.Properties = constraintNames(names, label, props)
			return
		}
		seen[fp] = v.Gid
	})
	if violation != nil {
		return violation
	}

	idx := newOrderedIndex[[]PropertyValue](compareTuple)
	vertices.forEach(func(v *Vertex) {
		v.Lock()
		deleted := v.deleted
		has := hasLabel(v.labels, label)
		tuple, complete := extractTuple(v.properties, props)
		v.Unlock()
		if !deleted && has && complete {
			idx.Insert(tuple, v, curTS)
		}
	})
	uc.constraints[key] = &uniqueConstraintEntry{props: props, index: idx}
	return nil
}

func (uc *uniqueConstraints) Drop(label LabelID, props []PropertyID) bool {
	uc.mu.Lock()
	defer uc.mu.Unlock()
	key := uniqueConstraintKey{label: label, props: propsKey(props)}
	if _, ok := uc.constraints[key]; !ok {
		return false
	}
	delete(uc.constraints, key)
	return true
}

func extractTuple(props map[PropertyID]PropertyValue, keys []PropertyID) ([]PropertyValue, bool) {
	out := make([]PropertyValue, len(keys))
	for i, k := range keys {
		v, ok := props[k]
		if !ok || v.IsNull() {
			return nil, false
		}
		out[i] = v
	}
	return out, true
}

// tupleFingerprint renders tuple as a position-sensitive string: a unique
// constraint's key is an ordered tuple (spec §4.4), so (a=1,b=2) and
// (a=2,b=1) must fingerprint differently.
func tupleFingerprint(tuple []PropertyValue) string {
	joined := ""
	for _, v := range tuple {
		joined += fingerprintValue(v) + "|"
	}
	return joined
}

func fingerprintValue(v PropertyValue) string {
	switch v.typ {
	case PropertyInt:
		return "i:" + strconv.FormatInt(v.i, 10)
	case PropertyDouble:
		return "d:" + strconv.FormatFloat(v.d, 'g', -1, 64)
	case PropertyString:
		return "s:" + v.s
	case PropertyBool:
		if v.b {
			return "b:1"
		}
		return "b:0"
	default:
		return "?"
	}
}

// There is no separate pre-registration structure: "pre-register modified
// vertices with the unique-constraint side index" (spec §4.2 step 2) is
// implemented by calling Insert directly against the live index while
// the committer still holds engineLock, rather than staging into a
// second structure first. What makes this a real pre-registration and
// not a race is entirely in the caller (accessor.go's commit()): Insert
// runs before engineLock is released, so a concurrent committer can never
// observe a clean index for a tuple this transaction just claimed.

// Validate checks every constraint whose property set is a subset of v's
// touched properties (in practice: every constraint on v.Label) against
// the committed index, rejecting if a different vertex already holds the
// same tuple (spec §4.4 commit phase 2).
func (uc *uniqueConstraints) Validate(v *VertexView, commitTS Timestamp, names *NameMappers) *StorageError {
	uc.mu.RLock()
	defer uc.mu.RUnlock()
	if v.Deleted {
		return nil
	}
	for key, entry := range uc.constraints {
		if !hasLabel(v.Labels, key.label) {
			continue
		}
		tuple, complete := extractTuple(v.Properties, entry.props)
		if !complete {
			continue
		}
		matches := entry.index.Range(&tuple, &tuple, true, true)
		for _, m := range matches {
			if m.vertex.Gid != v.Gid {
				violation := newErr(ConstraintViolation, "unique constraint violated")
				violation.Label, violation.Properties = constraintNames(names, key.label, entry.props)
				return violation
			}
		}
	}
	return nil
}

// constraintNames resolves label/property ids back to their interned
// names for a ConstraintViolation error's Label/Properties fields (spec
// §7: "carries kind, label, properties"). Falls back to the numeric id
// rendered as a string if a name was never interned for it, which cannot
// happen in practice since a constraint can only be defined via a label
// or property id already minted by NameToLabel/NameToProperty.
func constraintNames(names *NameMappers, label LabelID, props []PropertyID) (string, []string) {
	labelName, ok := names.Labels.Name(label)
	if !ok {
		labelName = strconv.FormatInt(int64(label), 10)
	}
	propNames := make([]string, len(props))
	for i, p := range props {
		if name, ok := names.Properties.Name(p); ok {
			propNames[i] = name
		} else {
			propNames[i] = strconv.FormatInt(int64(p), 10)
		}
	}
	return labelName, propNames
}

// Insert records the committed tuple for every constraint on vertex's
// label, called after a successful commit (spec §4.4: entries are keyed
// by the tuple so future Validate calls can find collisions). view must
// be vertex's reconstructed state as of the commit.
func (uc *uniqueConstraints) Insert(vertex *Vertex, view *VertexView, ts Timestamp) {
	uc.mu.RLock()
	defer uc.mu.RUnlock()
	for key, entry := range uc.constraints {
		if !hasLabel(view.Labels, key.label) {
			continue
		}
		tuple, complete := extractTuple(view.Properties, entry.props)
		if !complete {
			continue
		}
		entry.index.Insert(tuple, vertex, ts)
	}
}

func (uc *uniqueConstraints) removeObsoleteEntries(oldestActive Timestamp) {
	uc.mu.RLock()
	defer uc.mu.RUnlock()
	for key, entry := range uc.constraints {
		k := key
		entry.index.RemoveWhere(func(e orderedEntry[[]PropertyValue]) bool {
			if e.ts >= oldestActive {
				return true
			}
			e.vertex.Lock()
			tuple, complete := extractTuple(e.vertex.properties, entry.props)
			live := !e.vertex.deleted && hasLabel(e.vertex.labels, k.label) && complete && compareTuple(tuple, e.key) == 0
			e.vertex.Unlock()
			return live
		})
	}
}

