package storage

import "time"

// DurabilityMode selects how aggressively Storage persists committed
// transactions (spec §4.7): DISABLED keeps everything in memory only,
// PERIODIC_SNAPSHOT takes snapshots on a timer with no WAL, and
// PERIODIC_SNAPSHOT_WITH_WAL adds a WAL so every commit survives a crash,
// not just the last snapshot.
type DurabilityMode uint8

const (
	DurabilityDisabled DurabilityMode = iota
	PeriodicSnapshot
	PeriodicSnapshotWithWAL
)

// Config holds the settings a Storage instance is opened with. It is
// engine-only: there is no
// query language, network transport, or authentication layer in this
// package for a config loader to configure (spec §1 Non-goals), so there
// is deliberately no env/CLI precedence chain here — callers that need
// one compose it themselves and pass the result in.
type Config struct {
	// DataDir is the root directory snapshots/, wal/, .backup/, and .lock
	// live under.
	DataDir string `yaml:"data_dir"`

	Durability DurabilityMode `yaml:"durability"`

	// PropertiesOnEdges enables the property map on Edge (spec §3); when
	// false, SetProperty on an EdgeRef returns PROPERTIES_DISABLED.
	PropertiesOnEdges bool `yaml:"properties_on_edges"`

	// RecoveryEnabled controls Storage.Open's startup behavior: replay
	// existing snapshot/WAL state, or move it aside into .backup/ and
	// start empty (spec §4.9).
	RecoveryEnabled bool `yaml:"recovery_enabled"`

	// SnapshotInterval is how often the snapshot thread runs under
	// PeriodicSnapshot/PeriodicSnapshotWithWAL. Zero disables periodic
	// snapshotting (snapshots are still taken on Close).
	SnapshotInterval time.Duration `yaml:"snapshot_interval"`

	// SnapshotRetention is how many of the most recent snapshots are kept
	// before older ones are deleted (spec §4.8).
	SnapshotRetention int `yaml:"snapshot_retention"`

	// WALSegmentBytes is the on-disk size threshold that triggers segment
	// rotation (spec §4.7).
	WALSegmentBytes int64 `yaml:"wal_segment_bytes"`

	// GCInterval is how often the garbage collector's scheduled trigger
	// runs (spec §4.6). A zero or negative value is replaced by the 30s
	// default. The trigger runs only in a Storage from Open whose
	// Durability is not DurabilityDisabled; GC can also be invoked directly
	// via Storage.CollectGarbage.
	GCInterval time.Duration `yaml:"gc_interval"`

	Logger Logger `yaml:"-"`

	// Replication is the optional sink every commit's WAL ops are
	// dispatched to after the local commit succeeds (spec §13). Nil means
	// no replication is configured.
	Replication ReplicationSink `yaml:"-"`
}

const (
	defaultSnapshotRetention = 3
	defaultWALSegmentBytes   = 64 * 1024 * 1024
	defaultSnapshotInterval  = 5 * time.Minute
	defaultGCInterval        = 30 * time.Second
)

// DefaultConfig returns a Config with the same defaults the teacher's
// embedded-mode profile uses for its storage layer: WAL-backed
// durability, properties on edges enabled, recovery enabled.
func DefaultConfig(dataDir string) Config {
	return Config{
		DataDir:           dataDir,
		Durability:        PeriodicSnapshotWithWAL,
		PropertiesOnEdges: true,
		RecoveryEnabled:   true,
		SnapshotInterval:  defaultSnapshotInterval,
		SnapshotRetention: defaultSnapshotRetention,
		WALSegmentBytes:   defaultWALSegmentBytes,
		GCInterval:        defaultGCInterval,
	}
}

func (c Config) withDefaults() Config {
	if c.SnapshotRetention <= 0 {
		c.SnapshotRetention = defaultSnapshotRetention
	}
	if c.WALSegmentBytes <= 0 {
		c.WALSegmentBytes = defaultWALSegmentBytes
	}
	if c.GCInterval <= 0 {
		c.GCInterval = defaultGCInterval
	}
	return c
}
