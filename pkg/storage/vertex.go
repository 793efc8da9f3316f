package storage

import "sync"

// edgeLink is one entry in a vertex's in/out edge list: the edge itself,
// its type, and the vertex at the other endpoint.
type edgeLink struct {
	edgeType EdgeTypeID
	other    *Vertex
	edge     *Edge
}

// Vertex is a graph node: a stable Gid, a label set, a property map, edge
// lists, and the head of its version-chain delta log (spec §3).
//
// All mutable fields are guarded by lock; lock is a plain sync.Mutex
// rather than a spinlock, since goroutines (unlike the source's OS
// threads under a tight C++ spinlock) are cheap to park and Go's runtime
// scheduler handles contention on a Mutex well.
type Vertex struct {
	Gid Gid

	lock sync.Mutex

	labels     []LabelID
	properties map[PropertyID]PropertyValue
	outEdges   []edgeLink
	inEdges    []edgeLink

	delta   *Delta // head of the version chain (newest delta)
	deleted bool
}

// newVertex returns a vertex with no delta and deleted set. The creating
// accessor (createVertexWithGid) then splices in its initial DELETE_OBJECT
// inverse delta and clears deleted (spec §3); the vertex becomes visible
// to other transactions only once its creating transaction commits.
func newVertex(gid Gid) *Vertex {
	return &Vertex{
		Gid:        gid,
		properties: make(map[PropertyID]PropertyValue),
		deleted:    true,
	}
}

// Lock/Unlock expose the per-object lock to the accessor and GC, which
// must hold it while reading/mutating the chain head, label list,
// property map, or edge lists (spec §5 "Locking discipline").
func (v *Vertex) Lock()   { v.lock.Lock() }
func (v *Vertex) Unlock() { v.lock.Unlock() }

// head returns the current delta chain head under lock.
func (v *Vertex) head() *Delta { return v.delta }
