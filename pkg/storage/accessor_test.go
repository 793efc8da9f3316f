package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestWriteWriteConflict is spec scenario S2: two transactions racing to
// set the same property on the same vertex — the second writer is
// rejected with SERIALIZATION_ERROR, the first commits cleanly.
func TestWriteWriteConflict(t *testing.T) {
	ctx := context.Background()
	st := New(Config{})
	defer st.Close()

	propX := st.NameToProperty("x")
	setup := st.Begin(SnapshotIsolation, Transactional)
	v, _ := setup.CreateVertex(ctx)
	require.Nil(t, v.SetProperty(ctx, propX, IntValue(1)))
	require.Nil(t, setup.Commit(ctx))
	gid := v.Gid()

	acc1 := st.Begin(SnapshotIsolation, Transactional)
	acc2 := st.Begin(SnapshotIsolation, Transactional)

	v1, ok := acc1.FindVertex(gid)
	require.True(t, ok)
	require.Nil(t, v1.SetProperty(ctx, propX, IntValue(10)))

	v2, ok := acc2.FindVertex(gid)
	require.True(t, ok)
	serr := v2.SetProperty(ctx, propX, IntValue(20))
	require.NotNil(t, serr)
	assert.Equal(t, SerializationError, serr.Kind)

	assert.Nil(t, acc1.Commit(ctx))
}

// TestEdgeCountMatchesEnumeration covers property 9: info.edge_count must
// equal the number of distinct undeleted edges reachable by enumeration,
// after a mix of commits and aborts.
func TestEdgeCountMatchesEnumeration(t *testing.T) {
	ctx := context.Background()
	st := New(Config{})
	defer st.Close()

	edgeType := st.NameToEdgeType("KNOWS")

	acc := st.Begin(SnapshotIsolation, Transactional)
	v1, _ := acc.CreateVertex(ctx)
	v2, _ := acc.CreateVertex(ctx)
	v3, _ := acc.CreateVertex(ctx)
	e1, serr := acc.CreateEdge(ctx, v1, v2, edgeType)
	require.Nil(t, serr)
	_, serr = acc.CreateEdge(ctx, v2, v3, edgeType)
	require.Nil(t, serr)
	require.Nil(t, acc.Commit(ctx))

	// An aborted transaction's edge creation must not count.
	aborted := st.Begin(SnapshotIsolation, Transactional)
	av1, ok := aborted.FindVertex(v1.Gid())
	require.True(t, ok)
	av3, ok := aborted.FindVertex(v3.Gid())
	require.True(t, ok)
	_, serr = aborted.CreateEdge(ctx, av1, av3, edgeType)
	require.Nil(t, serr)
	aborted.Abort()

	del := st.Begin(SnapshotIsolation, Transactional)
	deRef := &EdgeRef{e: e1.e, acc: del}
	require.Nil(t, del.DeleteEdge(ctx, deRef))
	require.Nil(t, del.Commit(ctx))

	assert.EqualValues(t, 1, st.Info().EdgeCount)

	final := st.Begin(SnapshotIsolation, Transactional)
	fv2, ok := final.FindVertex(v2.Gid())
	require.True(t, ok)
	assert.Len(t, fv2.InEdges(), 0, "v1->v2 was deleted")
	assert.Len(t, fv2.OutEdges(), 1, "v2->v3 is still live")
	final.Commit(ctx)
}

// TestDetachDeleteSkipsAttachedVertexWithoutDetach exercises the detach
// flag's role: a vertex with edges is left alone (and excluded from the
// deleted count) rather than erroring the whole call when detach=false.
func TestDetachDeleteSkipsAttachedVertexWithoutDetach(t *testing.T) {
	ctx := context.Background()
	st := New(Config{})
	defer st.Close()

	edgeType := st.NameToEdgeType("KNOWS")
	acc := st.Begin(SnapshotIsolation, Transactional)
	v1, _ := acc.CreateVertex(ctx)
	v2, _ := acc.CreateVertex(ctx)
	_, serr := acc.CreateEdge(ctx, v1, v2, edgeType)
	require.Nil(t, serr)
	require.Nil(t, acc.Commit(ctx))

	del := st.Begin(SnapshotIsolation, Transactional)
	dv1, ok := del.FindVertex(v1.Gid())
	require.True(t, ok)
	deleted, deletedEdges, serr := del.DetachDelete(ctx, []*VertexRef{dv1}, false)
	require.Nil(t, serr)
	assert.Equal(t, 0, deleted)
	assert.Equal(t, 0, deletedEdges)
	require.Nil(t, del.Commit(ctx))

	check := st.Begin(SnapshotIsolation, Transactional)
	_, ok = check.FindVertex(v1.Gid())
	assert.True(t, ok, "vertex with edges must still exist after a detach=false call")
	check.Commit(ctx)
}

// TestDetachDeleteCascadesWithDetach exercises detach=true's cascading
// edge removal.
func TestDetachDeleteCascadesWithDetach(t *testing.T) {
	ctx := context.Background()
	st := New(Config{})
	defer st.Close()

	edgeType := st.NameToEdgeType("KNOWS")
	acc := st.Begin(SnapshotIsolation, Transactional)
	v1, _ := acc.CreateVertex(ctx)
	v2, _ := acc.CreateVertex(ctx)
	_, serr := acc.CreateEdge(ctx, v1, v2, edgeType)
	require.Nil(t, serr)
	require.Nil(t, acc.Commit(ctx))

	del := st.Begin(SnapshotIsolation, Transactional)
	dv1, ok := del.FindVertex(v1.Gid())
	require.True(t, ok)
	deleted, deletedEdges, serr := del.DetachDelete(ctx, []*VertexRef{dv1}, true)
	require.Nil(t, serr)
	assert.Equal(t, 1, deleted)
	assert.Equal(t, 1, deletedEdges)
	require.Nil(t, del.Commit(ctx))

	check := st.Begin(SnapshotIsolation, Transactional)
	_, ok = check.FindVertex(v1.Gid())
	assert.False(t, ok)
	check.Commit(ctx)
}
