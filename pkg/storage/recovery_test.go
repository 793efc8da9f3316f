package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func walDurableConfig(dir string) Config {
	return Config{
		DataDir:         dir,
		Durability:      PeriodicSnapshotWithWAL,
		RecoveryEnabled: true,
		WALSegmentBytes: 256,
	}
}

// TestWALRoundTripDurability is spec scenario S4 (at reduced scale) and
// covers property 4: a shutdown-then-reopen with SNAPSHOT_WITH_WAL must
// reconstruct an equivalent state.
func TestWALRoundTripDurability(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	st, err := Open(walDurableConfig(dir))
	require.NoError(t, err)

	labelPerson := st.NameToLabel("Person")
	propID := st.NameToProperty("id")
	edgeType := st.NameToEdgeType("LINKS")

	const n = 40
	gids := make([]Gid, n)
	for i := 0; i < n; i++ {
		acc := st.Begin(SnapshotIsolation, Transactional)
		v, serr := acc.CreateVertex(ctx)
		require.Nil(t, serr)
		require.Nil(t, v.AddLabel(ctx, labelPerson))
		require.Nil(t, v.SetProperty(ctx, propID, IntValue(int64(i))))
		require.Nil(t, acc.Commit(ctx))
		gids[i] = v.Gid()
	}
	edgeCount := 0
	for i := 0; i < n; i++ {
		acc := st.Begin(SnapshotIsolation, Transactional)
		from, ok := acc.FindVertex(gids[i])
		require.True(t, ok)
		to, ok := acc.FindVertex(gids[(i+1)%n])
		require.True(t, ok)
		to2, ok := acc.FindVertex(gids[(i+2)%n])
		require.True(t, ok)
		_, serr := acc.CreateEdge(ctx, from, to, edgeType)
		require.Nil(t, serr)
		_, serr = acc.CreateEdge(ctx, from, to2, edgeType)
		require.Nil(t, serr)
		require.Nil(t, acc.Commit(ctx))
		edgeCount += 2
	}

	require.NoError(t, st.Close())

	st2, err := Open(walDurableConfig(dir))
	require.NoError(t, err)
	defer st2.Close()

	info := st2.Info()
	assert.Equal(t, n, info.VertexCount)
	assert.EqualValues(t, edgeCount, info.EdgeCount)

	check := st2.Begin(SnapshotIsolation, Transactional)
	for i, gid := range gids {
		v, ok := check.FindVertex(gid)
		require.True(t, ok)
		val, ok := v.GetProperty(propID)
		require.True(t, ok)
		assert.Equal(t, int64(i), val.Int())
		assert.Len(t, v.OutEdges(), 2)
	}
	check.Commit(ctx)
}

// TestWALTailCorruptionTolerated is spec scenario S5 / property 10:
// truncating bytes off the end of the newest WAL segment must not prevent
// recovery; only the transactions whose TRANSACTION_END record survived
// are expected to be present.
func TestWALTailCorruptionTolerated(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	st, err := Open(walDurableConfig(dir))
	require.NoError(t, err)
	labelP := st.NameToLabel("P")
	for i := 0; i < 20; i++ {
		acc := st.Begin(SnapshotIsolation, Transactional)
		v, _ := acc.CreateVertex(ctx)
		require.Nil(t, v.AddLabel(ctx, labelP))
		require.Nil(t, acc.Commit(ctx))
	}
	require.NoError(t, st.Close())
	// Close() always takes a final snapshot when durability is enabled;
	// remove it so recovery is forced to rely on WAL replay alone, which
	// is what this test (and spec scenario S5) actually exercises.
	require.NoError(t, os.RemoveAll(filepath.Join(dir, "snapshots")))

	walFiles, err := listWALSegmentFiles(filepath.Join(dir, "wal"))
	require.NoError(t, err)
	require.NotEmpty(t, walFiles)
	newest := walFiles[len(walFiles)-1]

	data, err := os.ReadFile(newest)
	require.NoError(t, err)
	require.Greater(t, len(data), 100)
	truncated := data[:len(data)-100]
	require.NoError(t, os.WriteFile(newest, truncated, 0o644))

	st2, err := Open(walDurableConfig(dir))
	require.NoError(t, err)
	defer st2.Close()

	count := st2.Info().VertexCount
	assert.LessOrEqual(t, count, 20)
	assert.Greater(t, count, 0, "earlier, untruncated commits must still survive recovery")
}

// TestWALEarlierCorruptionIsFatal is property 11: corrupting a record
// before the tail of the last segment must cause recovery to refuse to
// start, rather than silently skip or misinterpret it.
func TestWALEarlierCorruptionIsFatal(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	st, err := Open(walDurableConfig(dir))
	require.NoError(t, err)
	labelP := st.NameToLabel("P")
	for i := 0; i < 20; i++ {
		acc := st.Begin(SnapshotIsolation, Transactional)
		v, _ := acc.CreateVertex(ctx)
		require.Nil(t, v.AddLabel(ctx, labelP))
		require.Nil(t, acc.Commit(ctx))
	}
	require.NoError(t, st.Close())
	require.NoError(t, os.RemoveAll(filepath.Join(dir, "snapshots")))

	walFiles, err := listWALSegmentFiles(filepath.Join(dir, "wal"))
	require.NoError(t, err)
	require.Greater(t, len(walFiles), 1, "need multiple segments to corrupt a non-tail one")

	earlier := walFiles[0]
	data, err := os.ReadFile(earlier)
	require.NoError(t, err)
	// Flip a byte inside the segment body (past the header), leaving the
	// record's length field intact so only its checksum catches the flip.
	flipAt := len(data) - 20
	require.Greater(t, flipAt, 0)
	data[flipAt] ^= 0xFF
	require.NoError(t, os.WriteFile(earlier, data, 0o644))

	_, err = Open(walDurableConfig(dir))
	require.Error(t, err)
	serr, ok := AsStorageError(err)
	require.True(t, ok)
	assert.Equal(t, RecoveryError, serr.Kind)
}

// TestSchemaOpsSurviveWALReplay is spec §4.7/§4.9: a schema operation
// (index or constraint create) must be durable the same way a data
// commit is, so a crash after the last snapshot but before another one
// does not silently lose it.
func TestSchemaOpsSurviveWALReplay(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	st, err := Open(walDurableConfig(dir))
	require.NoError(t, err)

	label := st.NameToLabel("Person")
	prop := st.NameToProperty("email")

	acc := st.Begin(SnapshotIsolation, Transactional)
	v, serr := acc.CreateVertex(ctx)
	require.Nil(t, serr)
	require.Nil(t, v.AddLabel(ctx, label))
	require.Nil(t, v.SetProperty(ctx, prop, StringValue("a@example.com")))
	require.Nil(t, acc.Commit(ctx))

	require.True(t, st.CreateIndex(label))
	require.True(t, st.CreateLabelPropertyIndex(label, prop))
	require.Nil(t, st.CreateExistenceConstraint(label, prop))
	require.Nil(t, st.CreateUniqueConstraint(label, []PropertyID{prop}))

	require.NoError(t, st.Close())
	// Force recovery to rely on WAL replay alone for the schema ops, the
	// same way TestWALTailCorruptionTolerated forces it for data ops.
	require.NoError(t, os.RemoveAll(filepath.Join(dir, "snapshots")))

	st2, err := Open(walDurableConfig(dir))
	require.NoError(t, err)
	defer st2.Close()

	label2 := st2.NameToLabel("Person")
	prop2 := st2.NameToProperty("email")

	assert.False(t, st2.CreateIndex(label2), "label index should already exist from WAL replay")
	assert.False(t, st2.CreateLabelPropertyIndex(label2, prop2), "label+property index should already exist from WAL replay")

	existErr := st2.CreateExistenceConstraint(label2, prop2)
	require.NotNil(t, existErr)
	assert.Equal(t, IndexDefinitionError, existErr.Kind)

	uniqueErr := st2.CreateUniqueConstraint(label2, []PropertyID{prop2})
	require.NotNil(t, uniqueErr)
	assert.Equal(t, IndexDefinitionError, uniqueErr.Kind)

	// The unique constraint itself must also still be enforced, not just
	// registered: a second vertex with the same email must be rejected.
	acc2 := st2.Begin(SnapshotIsolation, Transactional)
	dup, serr := acc2.CreateVertex(ctx)
	require.Nil(t, serr)
	require.Nil(t, dup.AddLabel(ctx, label2))
	require.Nil(t, dup.SetProperty(ctx, prop2, StringValue("a@example.com")))
	commitErr := acc2.Commit(ctx)
	require.NotNil(t, commitErr)
	assert.Equal(t, ConstraintViolation, commitErr.Kind)
}

// TestPropertiesDisabledOnEdges is property 12: with the config flag off,
// every edge SetProperty call returns PROPERTIES_DISABLED, and reads see
// an empty property map.
func TestPropertiesDisabledOnEdges(t *testing.T) {
	ctx := context.Background()
	st := New(Config{PropertiesOnEdges: false})
	defer st.Close()

	edgeType := st.NameToEdgeType("E")
	propX := st.NameToProperty("x")

	acc := st.Begin(SnapshotIsolation, Transactional)
	v1, _ := acc.CreateVertex(ctx)
	v2, _ := acc.CreateVertex(ctx)
	e, serr := acc.CreateEdge(ctx, v1, v2, edgeType)
	require.Nil(t, serr)

	setErr := e.SetProperty(ctx, propX, IntValue(1))
	require.NotNil(t, setErr)
	assert.Equal(t, PropertiesDisabled, setErr.Kind)

	props := e.Properties()
	assert.Empty(t, props)
	require.Nil(t, acc.Commit(ctx))
}
