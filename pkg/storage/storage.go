package storage

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// ReplicationSink is the named-by-contract external collaborator a
// commit dispatches its WAL records to (spec §1: "the core exposes hooks
// to emit and ingest deltas but the transport is not specified"). A nil
// sink means no replication is configured.
type ReplicationSink interface {
	// Replicate is called with the engine lock released, after the local
	// commit has already succeeded, carrying the same ops a commit wrote
	// to its own WAL. A synchronous sink returning an error surfaces a
	// ReplicationError from Commit without rolling the commit back (spec
	// §7: "commit persisted locally but failed on a synchronous sink").
	Replicate(ctx context.Context, commitTS Timestamp, ops []walOp) error
}

// Storage is the top-level engine: the object stores, indices,
// constraints, commit log, id/timestamp allocators, and (if configured)
// the WAL and snapshot subsystems that back them with durability.
type Storage struct {
	cfg Config

	// engineLock is the short-held lock spec §5 describes: "held only to
	// assign ids/timestamps, publish commit, swap WAL segments." It is
	// the single point that makes WAL record order equal commit order
	// (spec §5: "enforced by holding engine lock across WAL append and
	// commit_ts publication").
	engineLock sync.Mutex

	uuid  uuid.UUID
	epoch uint64

	tsCounter   atomic.Uint64
	nextTxID    atomic.Uint64
	vertexGids  gidAllocator
	edgeGids    gidAllocator
	edgeCount   atomic.Int64

	vertices *vertexStore
	edges    *edgeStore
	names    *NameMappers

	labelIdx  *labelIndex
	propIdx   *propertyIndex
	existence *existenceConstraints
	unique    *uniqueConstraints

	commitLog *commitLog
	gc        gcLock

	wal         *walEngine
	replication ReplicationSink
	logger      Logger

	dirLock *directoryLock

	gcStop   chan struct{}
	snapStop chan struct{}
	wg       sync.WaitGroup

	closeOnce sync.Once

	// nextWALSeq is set by recover() to one past the highest WAL segment
	// sequence number found on disk, so a freshly opened WAL engine never
	// reuses a sequence number from a previous run.
	nextWALSeq uint64
}

// New builds a Storage instance in memory: it takes no directory lock,
// opens no WAL, starts no background tasks and recovers nothing, whatever
// cfg.Durability says. Close still writes a final snapshot when
// cfg.DataDir is set and durability is enabled. Intended for tests and
// for cfg.DataDir == "".
func New(cfg Config) *Storage {
	cfg = cfg.withDefaults()
	st := &Storage{
		cfg:       cfg,
		uuid:      uuid.New(),
		vertices:  newVertexStore(),
		edges:     newEdgeStore(),
		names:     newNameMappers(),
		labelIdx:  newLabelIndex(),
		propIdx:   newPropertyIndex(),
		existence: newExistenceConstraints(),
		unique:    newUniqueConstraints(),
		commitLog:   newCommitLog(),
		logger:      logOrDefault(cfg.Logger),
		replication: cfg.Replication,
	}
	st.tsCounter.Store(1)
	return st
}

// Open opens (and, if cfg.RecoveryEnabled and artifacts exist, recovers)
// a Storage instance rooted at cfg.DataDir (spec §4.9). A durable mode
// with an empty DataDir is rejected; otherwise an empty DataDir makes it
// behave exactly like New.
func Open(cfg Config) (*Storage, error) {
	cfg = cfg.withDefaults()
	if err := validateConfig(cfg); err != nil {
		return nil, err
	}
	if cfg.DataDir == "" {
		return New(cfg), nil
	}

	st := New(cfg)
	lockPath := filepath.Join(cfg.DataDir, ".lock")
	if err := ensureDir(cfg.DataDir); err != nil {
		return nil, wrapErr(IOError, err)
	}
	lock, err := acquireDirectoryLock(lockPath)
	if err != nil {
		return nil, err
	}
	st.dirLock = lock

	if err := st.recover(); err != nil {
		lock.Release()
		return nil, err
	}

	if cfg.Durability == PeriodicSnapshotWithWAL {
		segDir := filepath.Join(cfg.DataDir, "wal")
		wal, err := newWALEngine(segDir, st.uuid, st.epoch, cfg.WALSegmentBytes, st.nextWALSeq, st.logger)
		if err != nil {
			lock.Release()
			return nil, err
		}
		st.wal = wal
	}

	st.startBackgroundTasks()
	return st, nil
}

func (st *Storage) startBackgroundTasks() {
	if st.cfg.Durability == DurabilityDisabled {
		return
	}
	st.gcStop = make(chan struct{})
	st.snapStop = make(chan struct{})
	if st.cfg.GCInterval > 0 {
		st.wg.Add(1)
		go st.gcLoop()
	}
	if st.cfg.SnapshotInterval > 0 {
		st.wg.Add(1)
		go st.snapshotLoop()
	}
}

func (st *Storage) gcLoop() {
	defer st.wg.Done()
	t := time.NewTicker(st.cfg.GCInterval)
	defer t.Stop()
	for {
		select {
		case <-st.gcStop:
			return
		case <-t.C:
			st.CollectGarbage()
		}
	}
}

func (st *Storage) snapshotLoop() {
	defer st.wg.Done()
	t := time.NewTicker(st.cfg.SnapshotInterval)
	defer t.Stop()
	for {
		select {
		case <-st.snapStop:
			return
		case <-t.C:
			if _, err := st.CreateSnapshot(); err != nil {
				st.logger.Log("error", "periodic snapshot failed", map[string]any{"error": err.Error()})
			}
		}
	}
}

// Close finalizes the active WAL segment, takes a final snapshot (if
// durability is enabled), stops background tasks, and releases the
// directory lock.
func (st *Storage) Close() error {
	var closeErr error
	st.closeOnce.Do(func() {
		if st.gcStop != nil {
			close(st.gcStop)
		}
		if st.snapStop != nil {
			close(st.snapStop)
		}
		st.wg.Wait()
		st.collectGarbageForce()

		if st.cfg.Durability != DurabilityDisabled && st.cfg.DataDir != "" {
			if _, err := st.CreateSnapshot(); err != nil {
				st.logger.Log("warn", "final snapshot failed", map[string]any{"error": err.Error()})
			}
		}
		if st.wal != nil {
			if err := st.wal.Close(); err != nil {
				closeErr = err
			}
		}
		if st.dirLock != nil {
			if err := st.dirLock.Release(); err != nil && closeErr == nil {
				closeErr = err
			}
		}
	})
	return closeErr
}

// currentTimestamp returns the most recently assigned timestamp, used as
// the view timestamp for ReadCommitted reads (spec §4.2).
func (st *Storage) currentTimestamp() Timestamp {
	cur := st.tsCounter.Load()
	if cur == 0 {
		return 0
	}
	return Timestamp(cur - 1)
}

// allocTimestamp hands out the next timestamp in the single monotonic
// counter shared by start and commit timestamps (spec §3). Must be
// called with engineLock held.
func (st *Storage) allocTimestamp() Timestamp {
	return Timestamp(st.tsCounter.Add(1) - 1)
}

// Begin starts a new transaction (spec §6: `begin(isolation, mode) ->
// Accessor`).
func (st *Storage) Begin(isolation IsolationLevel, mode StorageMode) *Accessor {
	st.engineLock.Lock()
	id := TransactionID(st.nextTxID.Add(1))
	startTS := st.allocTimestamp()
	st.engineLock.Unlock()

	tx := newTransaction(st, id, startTS, isolation, mode)
	st.commitLog.MarkActive(startTS)
	return &Accessor{tx: tx, storage: st}
}

// NameToLabel/NameToProperty/NameToEdgeType intern name, allocating a new
// id on first use.
func (st *Storage) NameToLabel(name string) LabelID       { return st.names.Labels.ID(name) }
func (st *Storage) NameToProperty(name string) PropertyID { return st.names.Properties.ID(name) }
func (st *Storage) NameToEdgeType(name string) EdgeTypeID { return st.names.EdgeTypes.ID(name) }

func (st *Storage) LabelName(id LabelID) (string, bool)       { return st.names.Labels.Name(id) }
func (st *Storage) PropertyName(id PropertyID) (string, bool) { return st.names.Properties.Name(id) }
func (st *Storage) EdgeTypeName(id EdgeTypeID) (string, bool) { return st.names.EdgeTypes.Name(id) }

// appendSchemaWAL allocates a commit timestamp and appends a single
// schema-op WAL record under engineLock (spec §4.7: schema operations are
// WAL record kinds in their own right, each carrying a commit timestamp,
// so an index or constraint defined after the last snapshot still
// survives a crash on replay).
func (st *Storage) appendSchemaWAL(op walOp) error {
	st.engineLock.Lock()
	commitTS := st.allocTimestamp()
	err := st.appendWAL([]walOp{op}, commitTS)
	st.engineLock.Unlock()
	return err
}

// CreateIndex creates a label index (spec §6: `Storage::create_index`).
func (st *Storage) CreateIndex(label LabelID) bool {
	created := st.labelIdx.CreateIndex(label)
	if !created {
		return false
	}
	st.vertices.forEach(func(v *Vertex) {
		v.Lock()
		has := hasLabel(v.labels, label)
		v.Unlock()
		if has {
			st.labelIdx.Insert(label, v, 0)
		}
	})
	if err := st.appendSchemaWAL(walOp{Kind: opLabelIndexCreate, Label: label}); err != nil {
		st.logger.Log("error", "wal append for label index create failed", map[string]any{"error": err.Error()})
	}
	return true
}

func (st *Storage) DropIndex(label LabelID) bool {
	dropped := st.labelIdx.DropIndex(label)
	if dropped {
		if err := st.appendSchemaWAL(walOp{Kind: opLabelIndexDrop, Label: label}); err != nil {
			st.logger.Log("error", "wal append for label index drop failed", map[string]any{"error": err.Error()})
		}
	}
	return dropped
}

// CreateLabelPropertyIndex creates a label+property index.
func (st *Storage) CreateLabelPropertyIndex(label LabelID, prop PropertyID) bool {
	created := st.propIdx.CreateIndex(label, prop)
	if !created {
		return false
	}
	st.vertices.forEach(func(v *Vertex) {
		v.Lock()
		has := hasLabel(v.labels, label)
		val, ok := v.properties[prop]
		v.Unlock()
		if has && ok {
			st.propIdx.Insert(label, prop, val, v, 0)
		}
	})
	if err := st.appendSchemaWAL(walOp{Kind: opLabelPropertyIndexCreate, Label: label, Props: []PropertyID{prop}}); err != nil {
		st.logger.Log("error", "wal append for label+property index create failed", map[string]any{"error": err.Error()})
	}
	return true
}

func (st *Storage) DropLabelPropertyIndex(label LabelID, prop PropertyID) bool {
	dropped := st.propIdx.DropIndex(label, prop)
	if dropped {
		if err := st.appendSchemaWAL(walOp{Kind: opLabelPropertyIndexDrop, Label: label, Props: []PropertyID{prop}}); err != nil {
			st.logger.Log("error", "wal append for label+property index drop failed", map[string]any{"error": err.Error()})
		}
	}
	return dropped
}

func (st *Storage) CreateExistenceConstraint(label LabelID, prop PropertyID) *StorageError {
	if serr := st.existence.Create(label, prop, st.vertices, st.names); serr != nil {
		return serr
	}
	if err := st.appendSchemaWAL(walOp{Kind: opExistenceConstraintCreate, Label: label, Props: []PropertyID{prop}}); err != nil {
		st.existence.Drop(label, prop)
		return wrapErr(IOError, err)
	}
	return nil
}

func (st *Storage) DropExistenceConstraint(label LabelID, prop PropertyID) bool {
	dropped := st.existence.Drop(label, prop)
	if dropped {
		if err := st.appendSchemaWAL(walOp{Kind: opExistenceConstraintDrop, Label: label, Props: []PropertyID{prop}}); err != nil {
			st.logger.Log("error", "wal append for existence constraint drop failed", map[string]any{"error": err.Error()})
		}
	}
	return dropped
}

func (st *Storage) CreateUniqueConstraint(label LabelID, props []PropertyID) *StorageError {
	if serr := st.unique.Create(label, props, st.vertices, st.currentTimestamp(), st.names); serr != nil {
		return serr
	}
	if err := st.appendSchemaWAL(walOp{Kind: opUniqueConstraintCreate, Label: label, Props: props}); err != nil {
		st.unique.Drop(label, props)
		return wrapErr(IOError, err)
	}
	return nil
}

func (st *Storage) DropUniqueConstraint(label LabelID, props []PropertyID) bool {
	dropped := st.unique.Drop(label, props)
	if dropped {
		if err := st.appendSchemaWAL(walOp{Kind: opUniqueConstraintDrop, Label: label, Props: props}); err != nil {
			st.logger.Log("error", "wal append for unique constraint drop failed", map[string]any{"error": err.Error()})
		}
	}
	return dropped
}

// Info is the set of aggregate counters exposed for diagnostics (spec §3
// invariant 5 names edge count specifically as a cached aggregate).
type Info struct {
	VertexCount int
	EdgeCount   int64
	ActiveTxs   int
}

func (st *Storage) Info() Info {
	return Info{
		VertexCount: st.vertices.size(),
		EdgeCount:   st.edgeCount.Load(),
		ActiveTxs:   st.commitLog.ActiveCount(),
	}
}

func (st *Storage) appendWAL(ops []walOp, commitTS Timestamp) error {
	if st.wal == nil {
		return nil
	}
	return st.wal.Append(ops, commitTS)
}

func (st *Storage) dispatchReplication(commitTS Timestamp, ops []walOp) *StorageError {
	if st.replication == nil {
		return nil
	}
	if err := st.replication.Replicate(context.Background(), commitTS, ops); err != nil {
		return wrapErr(ReplicationError, err)
	}
	return nil
}

func (st *Storage) snapshotDir() string { return filepath.Join(st.cfg.DataDir, "snapshots") }
func (st *Storage) walDir() string      { return filepath.Join(st.cfg.DataDir, "wal") }
func (st *Storage) backupDir() string   { return filepath.Join(st.cfg.DataDir, ".backup") }

func validateConfig(cfg Config) error {
	if cfg.Durability != DurabilityDisabled && cfg.DataDir == "" {
		return fmt.Errorf("storage: durability mode %v requires a data directory", cfg.Durability)
	}
	return nil
}
