package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestDeadlineAbortsTransaction is spec §5's "Timeouts": a transaction
// whose deadline has already passed must refuse further writes and
// commit, with a retryable Timeout error.
func TestDeadlineAbortsTransaction(t *testing.T) {
	ctx := context.Background()
	st := New(Config{})
	defer st.Close()

	acc := st.Begin(SnapshotIsolation, Transactional)
	acc.tx.SetDeadline(time.Now().Add(-time.Second))

	_, serr := acc.CreateVertex(ctx)
	require.NotNil(t, serr)
	assert.Equal(t, Timeout, serr.Kind)
	assert.True(t, serr.Retryable())
}

// TestSetMustAbortIsObservedByConcurrentWriter is spec §5's
// "Cancellation": another goroutine flagging a transaction for abort
// must be observed by the next operation on that transaction, and
// Commit must itself abort rather than publish.
func TestSetMustAbortIsObservedByConcurrentWriter(t *testing.T) {
	ctx := context.Background()
	st := New(Config{})
	defer st.Close()

	acc := st.Begin(SnapshotIsolation, Transactional)
	v, serr := acc.CreateVertex(ctx)
	require.Nil(t, serr)

	acc.tx.SetMustAbort()

	_, serr = acc.CreateVertex(ctx)
	require.NotNil(t, serr)
	assert.Equal(t, Timeout, serr.Kind)

	commitErr := acc.Commit(ctx)
	require.NotNil(t, commitErr)
	assert.Equal(t, Timeout, commitErr.Kind)

	check := st.Begin(SnapshotIsolation, Transactional)
	_, found := check.FindVertex(v.Gid())
	assert.False(t, found, "aborted transaction's vertex must not be visible")
	check.Commit(ctx)
}

// TestCommitAtHonorsDesiredTimestamp is spec §6's commit(desired_ts?):
// the actual commit timestamp is max(current_timestamp, desiredTS+1), so
// a replica can replay a primary's commit order without a clock race.
func TestCommitAtHonorsDesiredTimestamp(t *testing.T) {
	ctx := context.Background()
	st := New(Config{})
	defer st.Close()

	far := st.currentTimestamp() + 1000

	acc := st.Begin(SnapshotIsolation, Transactional)
	v, serr := acc.CreateVertex(ctx)
	require.Nil(t, serr)
	require.Nil(t, acc.CommitAt(ctx, far))

	assert.Greater(t, acc.tx.commitTS.commitTS(), far)
	assert.Greater(t, st.currentTimestamp(), far)

	check := st.Begin(SnapshotIsolation, Transactional)
	_, found := check.FindVertex(v.Gid())
	assert.True(t, found)
	check.Commit(ctx)
}

type recordingSink struct {
	calls int
	last  []walOp
	err   error
}

func (s *recordingSink) Replicate(ctx context.Context, commitTS Timestamp, ops []walOp) error {
	s.calls++
	s.last = ops
	return s.err
}

// TestReplicationSinkReceivesCommittedOps is spec §13: every commit's WAL
// ops are handed to the registered sink after the local commit succeeds.
func TestReplicationSinkReceivesCommittedOps(t *testing.T) {
	ctx := context.Background()
	sink := &recordingSink{}
	st := New(Config{Replication: sink})
	defer st.Close()

	acc := st.Begin(SnapshotIsolation, Transactional)
	_, serr := acc.CreateVertex(ctx)
	require.Nil(t, serr)
	require.Nil(t, acc.Commit(ctx))

	assert.Equal(t, 1, sink.calls)
	require.Len(t, sink.last, 1)
	assert.Equal(t, opVertexCreate, sink.last[0].Kind)
}

// TestReplicationErrorDoesNotRollBackCommit is spec §7: a synchronous
// sink failing surfaces REPLICATION_ERROR from Commit, but the already
// published commit stands.
func TestReplicationErrorDoesNotRollBackCommit(t *testing.T) {
	ctx := context.Background()
	sink := &recordingSink{err: assertError{}}
	st := New(Config{Replication: sink})
	defer st.Close()

	acc := st.Begin(SnapshotIsolation, Transactional)
	v, serr := acc.CreateVertex(ctx)
	require.Nil(t, serr)

	commitErr := acc.Commit(ctx)
	require.NotNil(t, commitErr)
	assert.Equal(t, ReplicationError, commitErr.Kind)
	assert.True(t, commitErr.Retryable())

	check := st.Begin(SnapshotIsolation, Transactional)
	_, found := check.FindVertex(v.Gid())
	assert.True(t, found, "a replication failure must not undo the local commit")
	check.Commit(ctx)
}

type assertError struct{}

func (assertError) Error() string { return "simulated sink failure" }
