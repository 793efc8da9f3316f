package storage

import "sync"

// Edge is a typed directed relationship between two vertices, carrying an
// optional property map when the engine is configured with
// properties-on-edges (spec §3).
//
// Grounded on _examples/original_source/src/storage/v2/edge.hpp: an Edge's
// initial delta must be a DELETE_OBJECT inverse, and Edges order by Gid
// alone. newEdge returns an edge with no delta and deleted set; CreateEdge
// splices in the DELETE_OBJECT delta and clears deleted. Gid orders vertex
// lock acquisition and the sections of a snapshot file; no index uses it
// as a tiebreak.
type Edge struct {
	Gid      Gid
	EdgeType EdgeTypeID
	From, To *Vertex

	lock sync.Mutex

	properties map[PropertyID]PropertyValue
	delta      *Delta
	deleted    bool
}

func newEdge(gid Gid, edgeType EdgeTypeID, from, to *Vertex) *Edge {
	return &Edge{
		Gid:        gid,
		EdgeType:   edgeType,
		From:       from,
		To:         to,
		properties: make(map[PropertyID]PropertyValue),
		deleted:    true,
	}
}

func (e *Edge) Lock()   { e.lock.Lock() }
func (e *Edge) Unlock() { e.lock.Unlock() }

func (e *Edge) head() *Delta { return e.delta }
