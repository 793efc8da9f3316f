package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestLabelIndexSoundnessAndCompleteness covers properties 6 and 7 for a
// plain label index: the scan must return exactly the live vertices
// carrying the label, no more and no fewer, including across a GC cycle.
func TestLabelIndexSoundnessAndCompleteness(t *testing.T) {
	ctx := context.Background()
	st := New(Config{})
	defer st.Close()

	labelA := st.NameToLabel("A")
	labelB := st.NameToLabel("B")
	require.True(t, st.CreateIndex(labelA))

	acc := st.Begin(SnapshotIsolation, Transactional)
	va, _ := acc.CreateVertex(ctx)
	require.Nil(t, va.AddLabel(ctx, labelA))
	vb, _ := acc.CreateVertex(ctx)
	require.Nil(t, vb.AddLabel(ctx, labelB))
	vab, _ := acc.CreateVertex(ctx)
	require.Nil(t, vab.AddLabel(ctx, labelA))
	require.Nil(t, vab.AddLabel(ctx, labelB))
	require.Nil(t, acc.Commit(ctx))

	check := func() {
		reader := st.Begin(SnapshotIsolation, Transactional)
		refs := reader.VerticesByLabel(labelA)
		gids := map[Gid]bool{}
		for _, r := range refs {
			gids[r.Gid()] = true
		}
		assert.Len(t, gids, 2)
		assert.True(t, gids[va.Gid()])
		assert.True(t, gids[vab.Gid()])
		assert.False(t, gids[vb.Gid()])
		reader.Commit(ctx)
	}
	check()

	del := st.Begin(SnapshotIsolation, Transactional)
	dv, ok := del.FindVertex(vb.Gid())
	require.True(t, ok)
	_, _, serr := del.DetachDelete(ctx, []*VertexRef{dv}, false)
	require.Nil(t, serr)
	require.Nil(t, del.Commit(ctx))

	st.CollectGarbage()
	check()
}

// TestLabelPropertyIndexRangeLookup covers property 6/7 for the
// label+property index: point and range lookups must match a full scan.
func TestLabelPropertyIndexRangeLookup(t *testing.T) {
	ctx := context.Background()
	st := New(Config{})
	defer st.Close()

	labelA := st.NameToLabel("A")
	propN := st.NameToProperty("n")
	require.True(t, st.CreateLabelPropertyIndex(labelA, propN))

	acc := st.Begin(SnapshotIsolation, Transactional)
	var gids []Gid
	for i := int64(0); i < 10; i++ {
		v, _ := acc.CreateVertex(ctx)
		require.Nil(t, v.AddLabel(ctx, labelA))
		require.Nil(t, v.SetProperty(ctx, propN, IntValue(i)))
		gids = append(gids, v.Gid())
	}
	require.Nil(t, acc.Commit(ctx))

	reader := st.Begin(SnapshotIsolation, Transactional)
	point := IntValue(5)
	refs := reader.VerticesByLabelProperty(labelA, propN, &point, &point, true, true)
	require.Len(t, refs, 1)
	assert.Equal(t, gids[5], refs[0].Gid())

	lower, upper := IntValue(3), IntValue(7)
	rangeRefs := reader.VerticesByLabelProperty(labelA, propN, &lower, &upper, true, true)
	assert.Len(t, rangeRefs, 5) // 3,4,5,6,7
	reader.Commit(ctx)
}
