package storage

// objectHandle is the common surface Vertex and Edge expose to the MVCC
// machinery below (prepare_for_write, delta splicing). Defined as an
// interface rather than a shared embedded struct because Vertex and Edge
// carry different payloads (labels + two edge lists vs. none) but the
// locking/chain-head mechanics are identical — matching how the source
// treats them as siblings under storage/v2 rather than one sharing a base
// class.
type objectHandle interface {
	head() *Delta
	setHead(*Delta)
}

func (v *Vertex) setHead(d *Delta) { v.delta = d }
func (e *Edge) setHead(d *Delta)   { e.delta = d }

// prepareForWrite implements spec §4.1: the caller must already hold
// obj's lock. It returns a SerializationError if the object's current
// delta chain head belongs to neither this transaction nor a transaction
// that committed strictly before this one started.
func prepareForWrite(tx *Transaction, obj objectHandle) *StorageError {
	head := obj.head()
	if head == nil {
		return nil
	}
	raw := head.ts.v.Load()
	if raw&uncommittedBit != 0 {
		owner := TransactionID(raw &^ uncommittedBit)
		if owner == tx.ID {
			return nil
		}
		return newErr(SerializationError, "object is locked by another uncommitted transaction")
	}
	if Timestamp(raw) < tx.StartTS {
		return nil
	}
	return newErr(SerializationError, "object was modified by a transaction that committed after this transaction started")
}

// spliceNewDeltaVertex (and spliceNewDeltaEdge below) links d in as the
// new chain head of the object, preserving
// invariant 2 (spec §3): the head delta's prev points at the object, and
// the delta it displaces now has its prev pointing back at d.
func spliceNewDeltaVertex(v *Vertex, d *Delta) {
	old := v.delta
	d.next.Store(old)
	if old != nil {
		old.setPrevDelta(d)
	}
	d.setPrevVertex(v)
	d.owner = ownerRef{kind: ownerVertex, vertex: v}
	v.delta = d
}

func spliceNewDeltaEdge(e *Edge, d *Delta) {
	old := e.delta
	d.next.Store(old)
	if old != nil {
		old.setPrevDelta(d)
	}
	d.setPrevEdge(e)
	d.owner = ownerRef{kind: ownerEdge, edge: e}
	e.delta = d
}

// VertexView is a read-only reconstruction of a Vertex's state as of some
// view timestamp (spec §4.1 "apply_deltas_for_read").
type VertexView struct {
	Gid        Gid
	Labels     []LabelID
	Properties map[PropertyID]PropertyValue
	OutEdges   []edgeLink
	InEdges    []edgeLink
	Deleted    bool
}

func snapshotVertexLive(v *Vertex) *VertexView {
	labels := make([]LabelID, len(v.labels))
	copy(labels, v.labels)
	props := make(map[PropertyID]PropertyValue, len(v.properties))
	for k, val := range v.properties {
		props[k] = val
	}
	out := make([]edgeLink, len(v.outEdges))
	copy(out, v.outEdges)
	in := make([]edgeLink, len(v.inEdges))
	copy(in, v.inEdges)
	return &VertexView{
		Gid:        v.Gid,
		Labels:     labels,
		Properties: props,
		OutEdges:   out,
		InEdges:    in,
		Deleted:    v.deleted,
	}
}

// applyDeltaToVertexView performs the undo operation d.Action describes
// against view, in place.
func applyDeltaToVertexView(view *VertexView, d *Delta) {
	switch d.Action {
	case ActionSetProperty:
		if d.PropertyVal.IsNull() {
			delete(view.Properties, d.PropertyKey)
		} else {
			view.Properties[d.PropertyKey] = d.PropertyVal
		}
	case ActionAddLabel:
		view.Labels = append(view.Labels, d.Label)
	case ActionRemoveLabel:
		view.Labels = removeLabel(view.Labels, d.Label)
	case ActionAddOutEdge:
		view.OutEdges = append(view.OutEdges, edgeLink{edgeType: d.Edge.Type, other: d.Edge.Vertex, edge: d.Edge.Edge})
	case ActionRemoveOutEdge:
		view.OutEdges = removeEdgeLink(view.OutEdges, d.Edge.Edge)
	case ActionAddInEdge:
		view.InEdges = append(view.InEdges, edgeLink{edgeType: d.Edge.Type, other: d.Edge.Vertex, edge: d.Edge.Edge})
	case ActionRemoveInEdge:
		view.InEdges = removeEdgeLink(view.InEdges, d.Edge.Edge)
	case ActionRecreateObject:
		view.Deleted = false
	case ActionDeleteObject, ActionDeleteDeserializedObject:
		view.Deleted = true
	}
}

func removeLabel(labels []LabelID, l LabelID) []LabelID {
	for i, x := range labels {
		if x == l {
			return append(labels[:i], labels[i+1:]...)
		}
	}
	return labels
}

func removeEdgeLink(links []edgeLink, e *Edge) []edgeLink {
	for i, x := range links {
		if x.edge == e {
			return append(links[:i], links[i+1:]...)
		}
	}
	return links
}

// reconstructVertex walks v's delta chain from the head backward in time,
// undoing every delta newer than viewTS, to produce the state visible at
// viewTS (spec §4.1). The walk stops at the first delta owned by the
// reader's own tx, so the reader's own writes are never undone.
func reconstructVertex(v *Vertex, readerTxID TransactionID, viewTS Timestamp) *VertexView {
	v.Lock()
	view := snapshotVertexLive(v)
	head := v.delta
	v.Unlock()

	for d := head; d != nil; d = d.Next() {
		ts, isOwn := d.EffectiveTimestamp(readerTxID)
		// A delta owned by the reader's own transaction means the live
		// state already reflects it (forward mutations are applied to
		// live fields as they happen); undoing it here would hide the
		// transaction's own writes from itself, so stop instead of
		// applying (spec §5: "own writes always visible").
		if isOwn {
			break
		}
		if ts > viewTS {
			applyDeltaToVertexView(view, d)
			continue
		}
		break
	}
	return view
}

// EdgeView is the read-only reconstruction of an Edge's state.
type EdgeView struct {
	Gid        Gid
	Properties map[PropertyID]PropertyValue
	Deleted    bool
}

func snapshotEdgeLive(e *Edge) *EdgeView {
	props := make(map[PropertyID]PropertyValue, len(e.properties))
	for k, v := range e.properties {
		props[k] = v
	}
	return &EdgeView{Gid: e.Gid, Properties: props, Deleted: e.deleted}
}

func applyDeltaToEdgeView(view *EdgeView, d *Delta) {
	switch d.Action {
	case ActionSetProperty:
		if d.PropertyVal.IsNull() {
			delete(view.Properties, d.PropertyKey)
		} else {
			view.Properties[d.PropertyKey] = d.PropertyVal
		}
	case ActionRecreateObject:
		view.Deleted = false
	case ActionDeleteObject, ActionDeleteDeserializedObject:
		view.Deleted = true
	}
}

func reconstructEdge(e *Edge, readerTxID TransactionID, viewTS Timestamp) *EdgeView {
	e.Lock()
	view := snapshotEdgeLive(e)
	head := e.delta
	e.Unlock()

	for d := head; d != nil; d = d.Next() {
		ts, isOwn := d.EffectiveTimestamp(readerTxID)
		if isOwn {
			break
		}
		if ts > viewTS {
			applyDeltaToEdgeView(view, d)
			continue
		}
		break
	}
	return view
}

// applyDeltaLiveVertex performs d's undo operation directly on v's live
// fields. Used only by abort() (spec §4.2), with v already locked.
func applyDeltaLiveVertex(v *Vertex, d *Delta) {
	switch d.Action {
	case ActionSetProperty:
		if d.PropertyVal.IsNull() {
			delete(v.properties, d.PropertyKey)
		} else {
			v.properties[d.PropertyKey] = d.PropertyVal
		}
	case ActionAddLabel:
		v.labels = append(v.labels, d.Label)
	case ActionRemoveLabel:
		v.labels = removeLabel(v.labels, d.Label)
	case ActionAddOutEdge:
		v.outEdges = append(v.outEdges, edgeLink{edgeType: d.Edge.Type, other: d.Edge.Vertex, edge: d.Edge.Edge})
	case ActionRemoveOutEdge:
		v.outEdges = removeEdgeLinkSwap(v.outEdges, d.Edge.Edge)
	case ActionAddInEdge:
		v.inEdges = append(v.inEdges, edgeLink{edgeType: d.Edge.Type, other: d.Edge.Vertex, edge: d.Edge.Edge})
	case ActionRemoveInEdge:
		v.inEdges = removeEdgeLinkSwap(v.inEdges, d.Edge.Edge)
	case ActionRecreateObject:
		v.deleted = false
	case ActionDeleteObject, ActionDeleteDeserializedObject:
		v.deleted = true
	}
}

// removeEdgeLinkSwap removes by swap-with-last-and-pop, matching spec
// §4.2's described abort mechanics for edge lists ("edge lists push/pop by
// swap-with-last-and-pop").
func removeEdgeLinkSwap(links []edgeLink, e *Edge) []edgeLink {
	for i, x := range links {
		if x.edge == e {
			last := len(links) - 1
			links[i] = links[last]
			return links[:last]
		}
	}
	return links
}

func applyDeltaLiveEdge(e *Edge, d *Delta) {
	switch d.Action {
	case ActionSetProperty:
		if d.PropertyVal.IsNull() {
			delete(e.properties, d.PropertyKey)
		} else {
			e.properties[d.PropertyKey] = d.PropertyVal
		}
	case ActionRecreateObject:
		e.deleted = false
	case ActionDeleteObject, ActionDeleteDeserializedObject:
		e.deleted = true
	}
}
