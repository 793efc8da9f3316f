// Package storage implements a transactional, in-memory graph storage
// engine: labeled vertices, typed directed edges, and property maps on
// both, exposed through short-lived transaction handles.
//
// Readers see a consistent snapshot of the data as of their transaction's
// start timestamp (multi-version concurrency control via per-object delta
// chains); writers apply their changes atomically at commit, with
// conflicting writers rejected with a SerializationError. The engine
// persists through a segmented write-ahead log and periodic snapshots, and
// reconstructs itself on restart from those artifacts.
//
// The package does not parse or execute any query language — callers drive
// it directly through Storage.Begin and the Accessor/VertexRef/EdgeRef
// methods it returns. Network transports, authentication, and
// configuration loading are likewise external to this package; Storage
// only exposes the hooks (ReplicationSink, the WAL record stream) that an
// external transport would consume.
//
// Usage:
//
//	st, err := storage.Open(storage.Config{DataDir: "./data", Durability: storage.PeriodicSnapshotWithWAL})
//	acc := st.Begin(storage.SnapshotIsolation, storage.Transactional)
//	v, err := acc.CreateVertex(ctx)
//	v.AddLabel(ctx, st.NameToLabel("Person"))
//	err = acc.Commit(ctx)
package storage
