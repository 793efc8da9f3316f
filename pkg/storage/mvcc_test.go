package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestSnapshotIsolation is spec scenario S1: a reader started before a
// concurrent writer's commit must keep seeing the pre-commit value for the
// lifetime of its own transaction, and only a fresh transaction started
// after the commit sees the new value.
func TestSnapshotIsolation(t *testing.T) {
	ctx := context.Background()
	st := New(Config{})
	defer st.Close()

	labelA := st.NameToLabel("A")
	propX := st.NameToProperty("x")

	acc1 := st.Begin(SnapshotIsolation, Transactional)
	v, serr := acc1.CreateVertex(ctx)
	require.Nil(t, serr)
	require.Nil(t, v.AddLabel(ctx, labelA))
	require.Nil(t, v.SetProperty(ctx, propX, IntValue(1)))
	require.Nil(t, acc1.Commit(ctx))

	gid := v.Gid()

	acc2 := st.Begin(SnapshotIsolation, Transactional)
	acc3 := st.Begin(SnapshotIsolation, Transactional)

	v3, ok := acc3.FindVertex(gid)
	require.True(t, ok)
	require.Nil(t, v3.SetProperty(ctx, propX, IntValue(2)))
	require.Nil(t, acc3.Commit(ctx))

	v2, ok := acc2.FindVertex(gid)
	require.True(t, ok)
	val, ok := v2.GetProperty(propX)
	require.True(t, ok)
	assert.Equal(t, int64(1), val.Int())
	acc2.Commit(ctx)

	acc4 := st.Begin(SnapshotIsolation, Transactional)
	v4, ok := acc4.FindVertex(gid)
	require.True(t, ok)
	val4, ok := v4.GetProperty(propX)
	require.True(t, ok)
	assert.Equal(t, int64(2), val4.Int())
	acc4.Commit(ctx)
}

// TestAtomicCommitVisibility covers property 2: no observer at any view_ts
// sees only a subset of a committed transaction's writes.
func TestAtomicCommitVisibility(t *testing.T) {
	ctx := context.Background()
	st := New(Config{})
	defer st.Close()

	labelA := st.NameToLabel("A")
	propX := st.NameToProperty("x")
	propY := st.NameToProperty("y")

	setup := st.Begin(SnapshotIsolation, Transactional)
	v, _ := setup.CreateVertex(ctx)
	require.Nil(t, setup.Commit(ctx))
	gid := v.Gid()

	reader := st.Begin(SnapshotIsolation, Transactional)

	writer := st.Begin(SnapshotIsolation, Transactional)
	wv, ok := writer.FindVertex(gid)
	require.True(t, ok)
	require.Nil(t, wv.AddLabel(ctx, labelA))
	require.Nil(t, wv.SetProperty(ctx, propX, IntValue(10)))
	require.Nil(t, wv.SetProperty(ctx, propY, IntValue(20)))
	require.Nil(t, writer.Commit(ctx))

	rv, ok := reader.FindVertex(gid)
	require.True(t, ok)
	_, hasX := rv.GetProperty(propX)
	_, hasY := rv.GetProperty(propY)
	assert.False(t, hasX, "reader's pre-commit view must not see any of the writer's new properties")
	assert.False(t, hasY)
	reader.Commit(ctx)

	after := st.Begin(SnapshotIsolation, Transactional)
	av, ok := after.FindVertex(gid)
	require.True(t, ok)
	xv, hasX := av.GetProperty(propX)
	yv, hasY := av.GetProperty(propY)
	require.True(t, hasX)
	require.True(t, hasY)
	assert.Equal(t, int64(10), xv.Int())
	assert.Equal(t, int64(20), yv.Int())
	after.Commit(ctx)
}

// TestOwnWritesAlwaysVisible ensures a transaction reading its own
// uncommitted writes never has them undone by the reconstruction walk.
func TestOwnWritesAlwaysVisible(t *testing.T) {
	ctx := context.Background()
	st := New(Config{})
	defer st.Close()

	propX := st.NameToProperty("x")
	acc := st.Begin(SnapshotIsolation, Transactional)
	v, _ := acc.CreateVertex(ctx)
	require.Nil(t, v.SetProperty(ctx, propX, IntValue(1)))
	require.Nil(t, v.SetProperty(ctx, propX, IntValue(2)))

	val, ok := v.GetProperty(propX)
	require.True(t, ok)
	assert.Equal(t, int64(2), val.Int(), "a transaction must see its own latest uncommitted write")
	require.Nil(t, acc.Commit(ctx))
}
