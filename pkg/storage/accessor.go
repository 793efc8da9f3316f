package storage

import "context"

// VertexRef is a handle to a Vertex scoped to the Accessor that produced
// it (spec §6: `VertexRef::add_label / remove_label / labels(view) /
// set_property / get_property(view) / properties(view) / in_edges(view)
// / out_edges(view)`).
type VertexRef struct {
	v   *Vertex
	acc *Accessor
}

func (r *VertexRef) Gid() Gid { return r.v.Gid }

// EdgeRef is a handle to an Edge scoped to the Accessor that produced it
// (spec §6: `EdgeRef::set_property / get_property(view) / properties(view)
// / from_vertex / to_vertex`).
type EdgeRef struct {
	e   *Edge
	acc *Accessor
}

func (r *EdgeRef) Gid() Gid          { return r.e.Gid }
func (r *EdgeRef) Type() EdgeTypeID  { return r.e.EdgeType }
func (r *EdgeRef) FromVertex() Gid   { return r.e.From.Gid }
func (r *EdgeRef) ToVertex() Gid     { return r.e.To.Gid }

// Accessor is the user-facing API bound to one Transaction (spec §6):
// every call below performs its own per-object locking/prepare_for_write
// dance and appends to the bound Transaction's delta/WAL-op logs.
type Accessor struct {
	tx      *Transaction
	storage *Storage
}

func (a *Accessor) checkAbort(ctx context.Context) *StorageError {
	if err := ctx.Err(); err != nil {
		return wrapErr(Timeout, err)
	}
	if a.tx.MustAbort() {
		return newErr(Timeout, "transaction was flagged for abort")
	}
	if a.tx.state != txActive {
		return newErr(SerializationError, "transaction is no longer active")
	}
	return nil
}

// CreateVertex allocates a new vertex and makes it visible within this
// transaction (spec §6: `Accessor::create_vertex()`).
func (a *Accessor) CreateVertex(ctx context.Context) (*VertexRef, *StorageError) {
	if err := a.checkAbort(ctx); err != nil {
		return nil, err
	}
	gid := a.storage.vertexGids.Next()
	return a.createVertexWithGid(gid)
}

// CreateVertexWithGid creates a vertex at a caller-chosen Gid, used by
// WAL/snapshot replay to preserve identity across a restart.
func (a *Accessor) CreateVertexWithGid(ctx context.Context, gid Gid) (*VertexRef, *StorageError) {
	if err := a.checkAbort(ctx); err != nil {
		return nil, err
	}
	a.storage.vertexGids.Observe(gid)
	return a.createVertexWithGid(gid)
}

func (a *Accessor) createVertexWithGid(gid Gid) (*VertexRef, *StorageError) {
	v := newVertex(gid)
	v.Lock()
	d := a.tx.allocDelta(ActionDeleteObject)
	spliceNewDeltaVertex(v, d)
	v.deleted = false
	v.Unlock()

	a.tx.recordVertex(v)
	a.storage.vertices.insert(v)
	a.tx.recordWALOp(walOp{Kind: opVertexCreate, VertexGid: gid})
	return &VertexRef{v: v, acc: a}, nil
}

// FindVertex looks up a vertex by Gid and reports whether it exists and
// is visible at this transaction's view (spec §6:
// `Accessor::find_vertex(gid, view) -> Option<VertexRef>`).
func (a *Accessor) FindVertex(gid Gid) (*VertexRef, bool) {
	v := a.storage.vertices.get(gid)
	if v == nil {
		return nil, false
	}
	view := reconstructVertex(v, a.tx.ID, a.tx.ViewTimestamp())
	if view.Deleted {
		return nil, false
	}
	return &VertexRef{v: v, acc: a}, true
}

// Vertices returns every vertex visible at this transaction's view (spec
// §6: `Accessor::vertices(view)`).
func (a *Accessor) Vertices() []*VertexRef {
	var out []*VertexRef
	a.storage.vertices.forEach(func(v *Vertex) {
		view := reconstructVertex(v, a.tx.ID, a.tx.ViewTimestamp())
		if !view.Deleted {
			out = append(out, &VertexRef{v: v, acc: a})
		}
	})
	return out
}

// VerticesByLabel returns every visible vertex carrying label, using the
// label index when one exists and falling back to a full scan otherwise
// (spec §6: `Accessor::vertices(label, view)`).
func (a *Accessor) VerticesByLabel(label LabelID) []*VertexRef {
	viewTS := a.tx.ViewTimestamp()
	if a.storage.labelIdx.HasIndex(label) {
		views := a.storage.labelIdx.Scan(label, a.tx.ID, viewTS)
		return viewsToRefs(views, a)
	}
	var out []*VertexRef
	a.storage.vertices.forEach(func(v *Vertex) {
		view := reconstructVertex(v, a.tx.ID, viewTS)
		if !view.Deleted && hasLabel(view.Labels, label) {
			out = append(out, &VertexRef{v: v, acc: a})
		}
	})
	return out
}

// VerticesByLabelProperty returns every visible vertex carrying label
// whose prop value falls within [lower, upper] (spec §6: `Accessor::
// vertices(label, prop, value|range, view)`); pass the same value as
// both bounds, inclusive, for a point lookup.
func (a *Accessor) VerticesByLabelProperty(label LabelID, prop PropertyID, lower, upper *PropertyValue, lowerIncl, upperIncl bool) []*VertexRef {
	viewTS := a.tx.ViewTimestamp()
	if a.storage.propIdx.HasIndex(label, prop) {
		views := a.storage.propIdx.Lookup(label, prop, lower, upper, lowerIncl, upperIncl, a.tx.ID, viewTS)
		return viewsToRefs(views, a)
	}
	var out []*VertexRef
	a.storage.vertices.forEach(func(v *Vertex) {
		view := reconstructVertex(v, a.tx.ID, viewTS)
		if view.Deleted || !hasLabel(view.Labels, label) {
			return
		}
		val, ok := view.Properties[prop]
		if !ok || !withinBounds(val, lower, upper, lowerIncl, upperIncl) {
			return
		}
		out = append(out, &VertexRef{v: v, acc: a})
	})
	return out
}

func viewsToRefs(views []*VertexView, a *Accessor) []*VertexRef {
	out := make([]*VertexRef, 0, len(views))
	for _, view := range views {
		v := a.storage.vertices.get(view.Gid)
		if v != nil {
			out = append(out, &VertexRef{v: v, acc: a})
		}
	}
	return out
}

// AddLabel adds label to the vertex if not already present.
func (v *VertexRef) AddLabel(ctx context.Context, label LabelID) *StorageError {
	a := v.acc
	if err := a.checkAbort(ctx); err != nil {
		return err
	}
	vtx := v.v
	vtx.Lock()
	defer vtx.Unlock()
	if err := prepareForWrite(a.tx, vtx); err != nil {
		return err
	}
	if vtx.deleted {
		return newErr(DeletedObject, "cannot add label to a deleted vertex")
	}
	if hasLabel(vtx.labels, label) {
		return nil
	}
	d := a.tx.allocDelta(ActionRemoveLabel)
	d.Label = label
	spliceNewDeltaVertex(vtx, d)
	vtx.labels = append(vtx.labels, label)

	a.tx.recordVertex(vtx)
	a.storage.labelIdx.Insert(label, vtx, a.tx.StartTS)
	for prop, val := range vtx.properties {
		a.storage.propIdx.Insert(label, prop, val, vtx, a.tx.StartTS)
	}
	a.tx.recordWALOp(walOp{Kind: opVertexAddLabel, VertexGid: vtx.Gid, Label: label})
	return nil
}

// RemoveLabel removes label from the vertex if present.
func (v *VertexRef) RemoveLabel(ctx context.Context, label LabelID) *StorageError {
	a := v.acc
	if err := a.checkAbort(ctx); err != nil {
		return err
	}
	vtx := v.v
	vtx.Lock()
	defer vtx.Unlock()
	if err := prepareForWrite(a.tx, vtx); err != nil {
		return err
	}
	if vtx.deleted {
		return newErr(DeletedObject, "cannot remove label from a deleted vertex")
	}
	if !hasLabel(vtx.labels, label) {
		return nil
	}
	d := a.tx.allocDelta(ActionAddLabel)
	d.Label = label
	spliceNewDeltaVertex(vtx, d)
	vtx.labels = removeLabel(vtx.labels, label)

	a.tx.recordVertex(vtx)
	a.tx.recordWALOp(walOp{Kind: opVertexRemoveLabel, VertexGid: vtx.Gid, Label: label})
	return nil
}

// Labels returns the vertex's labels as seen at this transaction's view.
func (v *VertexRef) Labels() []LabelID {
	view := reconstructVertex(v.v, v.acc.tx.ID, v.acc.tx.ViewTimestamp())
	return view.Labels
}

// SetProperty sets prop to value (NullValue() deletes it).
func (v *VertexRef) SetProperty(ctx context.Context, prop PropertyID, value PropertyValue) *StorageError {
	a := v.acc
	if err := a.checkAbort(ctx); err != nil {
		return err
	}
	vtx := v.v
	vtx.Lock()
	defer vtx.Unlock()
	if err := prepareForWrite(a.tx, vtx); err != nil {
		return err
	}
	if vtx.deleted {
		return newErr(DeletedObject, "cannot set property on a deleted vertex")
	}
	old, hadOld := vtx.properties[prop]
	if !hadOld {
		old = NullValue()
	}
	d := a.tx.allocDelta(ActionSetProperty)
	d.PropertyKey = prop
	d.PropertyVal = old
	spliceNewDeltaVertex(vtx, d)
	if value.IsNull() {
		delete(vtx.properties, prop)
	} else {
		vtx.properties[prop] = value
	}

	a.tx.recordVertex(vtx)
	if !value.IsNull() {
		for _, label := range vtx.labels {
			a.storage.propIdx.Insert(label, prop, value, vtx, a.tx.StartTS)
		}
	}
	a.tx.recordWALOp(walOp{Kind: opVertexSetProperty, VertexGid: vtx.Gid, Props: []PropertyID{prop}, Value: value})
	return nil
}

// GetProperty returns prop's value as seen at this transaction's view.
func (v *VertexRef) GetProperty(prop PropertyID) (PropertyValue, bool) {
	view := reconstructVertex(v.v, v.acc.tx.ID, v.acc.tx.ViewTimestamp())
	val, ok := view.Properties[prop]
	return val, ok
}

// Properties returns every property as seen at this transaction's view.
func (v *VertexRef) Properties() map[PropertyID]PropertyValue {
	view := reconstructVertex(v.v, v.acc.tx.ID, v.acc.tx.ViewTimestamp())
	return view.Properties
}

func (v *VertexRef) OutEdges() []*EdgeRef {
	a := v.acc
	if cached, ok := a.tx.cachedNeighbors(v.v.Gid, anyEdgeType, dirOut); ok {
		return linksToRefs(cached, a)
	}
	view := reconstructVertex(v.v, a.tx.ID, a.tx.ViewTimestamp())
	a.tx.cacheNeighbors(v.v.Gid, anyEdgeType, dirOut, view.OutEdges)
	return linksToRefs(view.OutEdges, a)
}

func (v *VertexRef) InEdges() []*EdgeRef {
	a := v.acc
	if cached, ok := a.tx.cachedNeighbors(v.v.Gid, anyEdgeType, dirIn); ok {
		return linksToRefs(cached, a)
	}
	view := reconstructVertex(v.v, a.tx.ID, a.tx.ViewTimestamp())
	a.tx.cacheNeighbors(v.v.Gid, anyEdgeType, dirIn, view.InEdges)
	return linksToRefs(view.InEdges, a)
}

func linksToRefs(links []edgeLink, a *Accessor) []*EdgeRef {
	out := make([]*EdgeRef, 0, len(links))
	for _, l := range links {
		out = append(out, &EdgeRef{e: l.edge, acc: a})
	}
	return out
}

// lockPairOrdered locks a and b in ascending Gid order to avoid deadlock
// (spec §5: "To lock two vertices... acquire in ascending Gid order");
// when the gids collide (a self-edge) it locks only one.
func lockPairOrdered(a, b *Vertex) (unlock func()) {
	if a.Gid == b.Gid {
		a.Lock()
		return a.Unlock
	}
	first, second := a, b
	if second.Gid < first.Gid {
		first, second = second, first
	}
	first.Lock()
	second.Lock()
	return func() {
		second.Unlock()
		first.Unlock()
	}
}

// CreateEdge creates a typed directed edge from `from` to `to` (spec §6:
// `Accessor::create_edge(from, to, type)`).
func (a *Accessor) CreateEdge(ctx context.Context, from, to *VertexRef, edgeType EdgeTypeID) (*EdgeRef, *StorageError) {
	if err := a.checkAbort(ctx); err != nil {
		return nil, err
	}
	unlock := lockPairOrdered(from.v, to.v)
	defer unlock()

	if err := prepareForWrite(a.tx, from.v); err != nil {
		return nil, err
	}
	if err := prepareForWrite(a.tx, to.v); err != nil {
		return nil, err
	}
	if from.v.deleted || to.v.deleted {
		return nil, newErr(DeletedObject, "cannot create an edge on a deleted vertex")
	}

	gid := a.storage.edgeGids.Next()
	e := newEdge(gid, edgeType, from.v, to.v)
	e.deleted = false
	edgeDeltaRec := a.tx.allocDelta(ActionDeleteObject)
	spliceNewDeltaEdge(e, edgeDeltaRec)
	a.tx.recordEdge(e)

	outDelta := a.tx.allocDelta(ActionRemoveOutEdge)
	outDelta.Edge = edgeDelta{Type: edgeType, Vertex: to.v, Edge: e}
	spliceNewDeltaVertex(from.v, outDelta)
	from.v.outEdges = append(from.v.outEdges, edgeLink{edgeType: edgeType, other: to.v, edge: e})

	inDelta := a.tx.allocDelta(ActionRemoveInEdge)
	inDelta.Edge = edgeDelta{Type: edgeType, Vertex: from.v, Edge: e}
	spliceNewDeltaVertex(to.v, inDelta)
	to.v.inEdges = append(to.v.inEdges, edgeLink{edgeType: edgeType, other: from.v, edge: e})

	a.tx.recordVertex(from.v)
	a.tx.recordVertex(to.v)
	a.storage.edges.insert(e)
	a.storage.edgeCount.Add(1)
	a.tx.invalidateNeighborCache(from.v.Gid)
	a.tx.invalidateNeighborCache(to.v.Gid)
	a.tx.recordWALOp(walOp{Kind: opEdgeCreate, EdgeGid: gid, EdgeType: edgeType, From: from.v.Gid, To: to.v.Gid})
	return &EdgeRef{e: e, acc: a}, nil
}

// DeleteEdge removes e from the graph (spec §6: `Accessor::delete_edge`).
func (a *Accessor) DeleteEdge(ctx context.Context, e *EdgeRef) *StorageError {
	if err := a.checkAbort(ctx); err != nil {
		return err
	}
	edge := e.e
	from, to := edge.From, edge.To
	unlock := lockPairOrdered(from, to)
	defer unlock()

	edge.Lock()
	defer edge.Unlock()
	if err := prepareForWrite(a.tx, edge); err != nil {
		return err
	}
	if edge.deleted {
		return newErr(DeletedObject, "edge is already deleted")
	}
	if err := prepareForWrite(a.tx, from); err != nil {
		return err
	}
	if err := prepareForWrite(a.tx, to); err != nil {
		return err
	}

	edgeD := a.tx.allocDelta(ActionRecreateObject)
	spliceNewDeltaEdge(edge, edgeD)
	edge.deleted = true

	outDelta := a.tx.allocDelta(ActionAddOutEdge)
	outDelta.Edge = edgeDelta{Type: edge.EdgeType, Vertex: to, Edge: edge}
	spliceNewDeltaVertex(from, outDelta)
	from.outEdges = removeEdgeLink(from.outEdges, edge)

	inDelta := a.tx.allocDelta(ActionAddInEdge)
	inDelta.Edge = edgeDelta{Type: edge.EdgeType, Vertex: from, Edge: edge}
	spliceNewDeltaVertex(to, inDelta)
	to.inEdges = removeEdgeLink(to.inEdges, edge)

	a.tx.recordEdge(edge)
	a.tx.recordVertex(from)
	a.tx.recordVertex(to)
	a.storage.edgeCount.Add(-1)
	a.tx.invalidateNeighborCache(from.Gid)
	a.tx.invalidateNeighborCache(to.Gid)
	a.tx.recordWALOp(walOp{Kind: opEdgeDelete, EdgeGid: edge.Gid})
	return nil
}

// SetEdgeFrom/SetEdgeTo re-point an existing edge's endpoint, used by
// Cypher-family MATCH...SET patterns that move an edge without
// recreating it (spec §6). Implemented as delete-then-recreate under a
// single tx so the delta log only ever needs edge-list add/remove
// actions, never a new action kind.
func (a *Accessor) SetEdgeFrom(ctx context.Context, e *EdgeRef, newFrom *VertexRef) (*EdgeRef, *StorageError) {
	if err := a.DeleteEdge(ctx, e); err != nil {
		return nil, err
	}
	return a.CreateEdge(ctx, newFrom, &VertexRef{v: e.e.To, acc: a}, e.e.EdgeType)
}

func (a *Accessor) SetEdgeTo(ctx context.Context, e *EdgeRef, newTo *VertexRef) (*EdgeRef, *StorageError) {
	if err := a.DeleteEdge(ctx, e); err != nil {
		return nil, err
	}
	return a.CreateEdge(ctx, &VertexRef{v: e.e.From, acc: a}, newTo, e.e.EdgeType)
}

// SetProperty sets prop on the edge (spec §6: `EdgeRef::set_property`);
// fails with PROPERTIES_DISABLED when the engine is configured without
// properties-on-edges.
func (r *EdgeRef) SetProperty(ctx context.Context, prop PropertyID, value PropertyValue) *StorageError {
	a := r.acc
	if !a.storage.cfg.PropertiesOnEdges {
		return newErr(PropertiesDisabled, "storage is configured without properties on edges")
	}
	if err := a.checkAbort(ctx); err != nil {
		return err
	}
	edge := r.e
	edge.Lock()
	defer edge.Unlock()
	if err := prepareForWrite(a.tx, edge); err != nil {
		return err
	}
	if edge.deleted {
		return newErr(DeletedObject, "cannot set property on a deleted edge")
	}
	old, hadOld := edge.properties[prop]
	if !hadOld {
		old = NullValue()
	}
	d := a.tx.allocDelta(ActionSetProperty)
	d.PropertyKey = prop
	d.PropertyVal = old
	spliceNewDeltaEdge(edge, d)
	if value.IsNull() {
		delete(edge.properties, prop)
	} else {
		edge.properties[prop] = value
	}
	a.tx.recordEdge(edge)
	a.tx.recordWALOp(walOp{Kind: opEdgeSetProperty, EdgeGid: edge.Gid, Props: []PropertyID{prop}, Value: value})
	return nil
}

func (r *EdgeRef) GetProperty(prop PropertyID) (PropertyValue, bool) {
	view := reconstructEdge(r.e, r.acc.tx.ID, r.acc.tx.ViewTimestamp())
	v, ok := view.Properties[prop]
	return v, ok
}

func (r *EdgeRef) Properties() map[PropertyID]PropertyValue {
	view := reconstructEdge(r.e, r.acc.tx.ID, r.acc.tx.ViewTimestamp())
	return view.Properties
}

// DetachDelete deletes the given vertices (spec §6: `Accessor::
// detach_delete(nodes, edges, detach) -> (deleted_vertices, deleted_edges)`).
// When detach is false, a vertex that still has any edge is left alone
// and excluded from the result rather than erroring, matching the
// "detach" flag's role as an opt-in for cascading edge deletion.
func (a *Accessor) DetachDelete(ctx context.Context, vertices []*VertexRef, detach bool) (deletedVertices, deletedEdges int, err *StorageError) {
	if err := a.checkAbort(ctx); err != nil {
		return 0, 0, err
	}
	for _, vref := range vertices {
		vtx := vref.v
		vtx.Lock()
		out := append([]edgeLink(nil), vtx.outEdges...)
		in := append([]edgeLink(nil), vtx.inEdges...)
		vtx.Unlock()

		if !detach && (len(out) > 0 || len(in) > 0) {
			continue
		}
		for _, link := range out {
			if e := (&EdgeRef{e: link.edge, acc: a}); true {
				if delErr := a.DeleteEdge(ctx, e); delErr != nil {
					return deletedVertices, deletedEdges, delErr
				}
				deletedEdges++
			}
		}
		for _, link := range in {
			if e := (&EdgeRef{e: link.edge, acc: a}); true {
				if delErr := a.DeleteEdge(ctx, e); delErr != nil {
					return deletedVertices, deletedEdges, delErr
				}
				deletedEdges++
			}
		}

		vtx.Lock()
		werr := prepareForWrite(a.tx, vtx)
		if werr != nil {
			vtx.Unlock()
			return deletedVertices, deletedEdges, werr
		}
		if vtx.deleted {
			vtx.Unlock()
			continue
		}
		d := a.tx.allocDelta(ActionRecreateObject)
		spliceNewDeltaVertex(vtx, d)
		vtx.deleted = true
		vtx.Unlock()

		a.tx.recordVertex(vtx)
		a.tx.recordWALOp(walOp{Kind: opVertexDelete, VertexGid: vtx.Gid})
		deletedVertices++
	}
	return deletedVertices, deletedEdges, nil
}

// Commit validates constraints, assigns a commit timestamp, appends the
// transaction's WAL records, and publishes it (spec §4.2 steps 1-7).
func (a *Accessor) Commit(ctx context.Context) *StorageError {
	return a.commit(ctx, nil)
}

// CommitAt commits with a caller-chosen desired commit timestamp, used
// by a replica applying a record stream from a primary (spec §6:
// `commit(desired_ts?)`). The actual commit timestamp is
// max(current_timestamp, desiredTS+1).
func (a *Accessor) CommitAt(ctx context.Context, desiredTS Timestamp) *StorageError {
	return a.commit(ctx, &desiredTS)
}

func (a *Accessor) commit(ctx context.Context, desiredTS *Timestamp) *StorageError {
	tx := a.tx
	if tx.state != txActive {
		return newErr(SerializationError, "transaction is no longer active")
	}
	if tx.MustAbort() {
		a.Abort()
		return newErr(Timeout, "transaction was flagged for abort before commit")
	}

	finalViews := make(map[Gid]*VertexView, len(tx.touchedVertices))
	for _, v := range tx.touchedVertices {
		v.Lock()
		finalViews[v.Gid] = snapshotVertexLive(v)
		v.Unlock()
	}

	for _, view := range finalViews {
		if serr := a.storage.existence.Validate(view); serr != nil {
			a.Abort()
			return serr
		}
	}

	a.storage.engineLock.Lock()
	commitTS := a.storage.allocTimestamp()
	if desiredTS != nil && *desiredTS+1 > commitTS {
		commitTS = *desiredTS + 1
		a.storage.tsCounter.Store(uint64(commitTS) + 1)
	}

	for _, view := range finalViews {
		if serr := a.storage.unique.Validate(view, commitTS, a.storage.names); serr != nil {
			a.storage.engineLock.Unlock()
			a.Abort()
			return serr
		}
	}

	if err := a.storage.appendWAL(tx.walOps, commitTS); err != nil {
		a.storage.engineLock.Unlock()
		a.Abort()
		return wrapErr(IOError, err)
	}

	tx.commitTS.publish(commitTS)
	tx.state = txCommitted

	// Pre-register this commit's tuples with the unique-constraint side
	// index before releasing engineLock (spec §4.2 step 2: "pre-register
	// modified vertices with the unique-constraint side index"). Doing
	// this while still holding the lock is what makes it a real
	// pre-registration rather than a race: any transaction that acquires
	// engineLock after us (including the one that validated concurrently
	// with us, which is now blocked on the lock to allocate its own
	// commit timestamp) is guaranteed to run its own unique.Validate only
	// after this Insert has made our tuple visible.
	for gid, view := range finalViews {
		v := a.storage.vertices.get(gid)
		if v != nil {
			a.storage.unique.Insert(v, view, commitTS)
		}
	}

	a.storage.engineLock.Unlock()

	a.storage.commitLog.MarkFinished(tx.StartTS)

	if serr := a.storage.dispatchReplication(commitTS, tx.walOps); serr != nil {
		return serr
	}
	return nil
}

// Abort reverts every change this transaction made (spec §4.2:
// "abort() walks own deltas in reverse, applying each to its owning
// object under the object lock"), additionally unlinking each delta from
// its object's chain so the chain head never keeps pointing at a
// transaction that will never commit. See DESIGN.md for why this
// implementation goes one step further than the spec's literal
// description (it would otherwise leave a permanently-"uncommitted"
// delta at the head that every future reader would re-apply forever).
func (a *Accessor) Abort() {
	tx := a.tx
	if tx.state != txActive {
		return
	}
	deltas := tx.arena.deltas
	for i := len(deltas) - 1; i >= 0; i-- {
		d := deltas[i]
		switch d.owner.kind {
		case ownerVertex:
			v := d.owner.vertex
			v.Lock()
			applyDeltaLiveVertex(v, d)
			v.delta = d.Next()
			v.Unlock()
		case ownerEdge:
			e := d.owner.edge
			e.Lock()
			applyDeltaLiveEdge(e, d)
			e.delta = d.Next()
			if d.Action == ActionDeleteObject {
				a.storage.edgeCount.Add(-1)
			} else if d.Action == ActionRecreateObject {
				a.storage.edgeCount.Add(1)
			}
			e.Unlock()
		}
	}
	tx.state = txAborted
	a.storage.commitLog.MarkFinished(tx.StartTS)
}
