package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIndexCreateDropIsIdempotentOnDuplicates(t *testing.T) {
	st := New(Config{})
	defer st.Close()

	label := st.NameToLabel("L")
	assert.True(t, st.CreateIndex(label))
	assert.False(t, st.CreateIndex(label), "creating the same label index twice reports no-op")
	assert.True(t, st.DropIndex(label))
	assert.False(t, st.DropIndex(label), "dropping an index that no longer exists reports no-op")
}

func TestLabelPropertyIndexCreateDropIsIdempotentOnDuplicates(t *testing.T) {
	st := New(Config{})
	defer st.Close()

	label := st.NameToLabel("L")
	prop := st.NameToProperty("p")
	assert.True(t, st.CreateLabelPropertyIndex(label, prop))
	assert.False(t, st.CreateLabelPropertyIndex(label, prop))
	assert.True(t, st.DropLabelPropertyIndex(label, prop))
	assert.False(t, st.DropLabelPropertyIndex(label, prop))
}

func TestUniqueConstraintDropIsIdempotentOnDuplicates(t *testing.T) {
	st := New(Config{})
	defer st.Close()

	label := st.NameToLabel("L")
	prop := st.NameToProperty("p")
	require.Nil(t, st.CreateUniqueConstraint(label, []PropertyID{prop}))
	assert.True(t, st.DropUniqueConstraint(label, []PropertyID{prop}))
	assert.False(t, st.DropUniqueConstraint(label, []PropertyID{prop}))
}

func TestExistenceConstraintDropIsIdempotentOnDuplicates(t *testing.T) {
	st := New(Config{})
	defer st.Close()

	label := st.NameToLabel("L")
	prop := st.NameToProperty("p")
	require.Nil(t, st.CreateExistenceConstraint(label, prop))
	assert.True(t, st.DropExistenceConstraint(label, prop))
	assert.False(t, st.DropExistenceConstraint(label, prop))
}

// TestSnapshotRetentionPrunesOldest is spec §4.8: only the
// cfg.SnapshotRetention most recent snapshot files are kept after each
// CreateSnapshot call.
func TestSnapshotRetentionPrunesOldest(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	st, err := Open(Config{DataDir: dir, Durability: PeriodicSnapshot, RecoveryEnabled: true, SnapshotRetention: 2})
	require.NoError(t, err)
	defer st.Close()

	var paths []string
	for i := 0; i < 5; i++ {
		acc := st.Begin(SnapshotIsolation, Transactional)
		_, serr := acc.CreateVertex(ctx)
		require.Nil(t, serr)
		require.Nil(t, acc.Commit(ctx))

		info, serr := st.CreateSnapshot()
		require.Nil(t, serr)
		paths = append(paths, info.Path)
	}

	entries, rerr := os.ReadDir(filepath.Join(dir, "snapshots"))
	require.NoError(t, rerr)
	assert.Len(t, entries, 2, "only SnapshotRetention snapshots should remain on disk")

	for _, p := range paths[:3] {
		_, statErr := os.Stat(p)
		assert.True(t, os.IsNotExist(statErr), "older snapshot %s should have been pruned", p)
	}
	for _, p := range paths[3:] {
		_, statErr := os.Stat(p)
		assert.NoError(t, statErr, "most recent snapshots should survive pruning")
	}
}
