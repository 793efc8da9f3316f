package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestGCReclaimsAfterReaderLeaves is spec scenario S6: a long-lived reader
// pins the delta chains created after it started; once it aborts and a GC
// cycle runs, everything created, updated, and deleted while it was alive
// is reclaimed.
func TestGCReclaimsAfterReaderLeaves(t *testing.T) {
	ctx := context.Background()
	st := New(Config{})
	defer st.Close()

	labelL := st.NameToLabel("L")
	propN := st.NameToProperty("n")
	require.True(t, st.CreateIndex(labelL))

	reader := st.Begin(SnapshotIsolation, Transactional)

	const n = 50
	var gids []Gid
	for i := 0; i < n; i++ {
		acc := st.Begin(SnapshotIsolation, Transactional)
		v, _ := acc.CreateVertex(ctx)
		require.Nil(t, v.AddLabel(ctx, labelL))
		for j := 0; j < 10; j++ {
			require.Nil(t, v.SetProperty(ctx, propN, IntValue(int64(j))))
		}
		require.Nil(t, acc.Commit(ctx))
		gids = append(gids, v.Gid())
	}
	for _, gid := range gids {
		acc := st.Begin(SnapshotIsolation, Transactional)
		v, ok := acc.FindVertex(gid)
		require.True(t, ok)
		_, _, serr := acc.DetachDelete(ctx, []*VertexRef{v}, true)
		require.Nil(t, serr)
		require.Nil(t, acc.Commit(ctx))
	}

	st.CollectGarbage()
	assert.Greater(t, st.Info().VertexCount, 0, "reader still pins the deleted vertices' delta chains")

	reader.Commit(ctx)
	st.CollectGarbage()
	assert.Equal(t, 0, st.Info().VertexCount)
	for _, label := range st.labelIdx.Labels() {
		assert.Empty(t, st.labelIdx.Scan(label, 0, ^Timestamp(0)))
	}
}
