package lsmdb

import (
	"time"

	"github.com/G1DO/Storage-Engine/internal/base"
	"github.com/G1DO/Storage-Engine/internal/record"
	"github.com/G1DO/Storage-Engine/internal/sstable"
)

// CompactionStyle selects the algorithm used to pick which files to merge.
type CompactionStyle int

const (
	// CompactionStyleLeveled grows each level by a fixed size multiplier and
	// keeps non-L0 levels non-overlapping (the default, matching how most
	// production LSM engines behave at steady state).
	CompactionStyleLeveled CompactionStyle = iota
	// CompactionStyleSizeTiered merges same-tier runs together instead of
	// enforcing per-level size ratios; better suited to write-heavy,
	// overwrite-light workloads.
	CompactionStyleSizeTiered
)

// EventListener receives notifications about internal engine activity.
// All fields are optional; a nil field is simply not called — an
// all-optional, best-effort observability hook rather than a hard
// dependency on metrics infrastructure.
type EventListener struct {
	// FlushBegin and FlushEnd bracket a memtable flush.
	FlushBegin func(logNum uint64)
	FlushEnd   func(logNum uint64, outputFileNum uint64, err error)

	// CompactionBegin and CompactionEnd bracket a compaction.
	CompactionBegin func(level int, inputFiles, outputFiles int)
	CompactionEnd   func(level int, err error)

	// WriteStallBegin and WriteStallEnd bracket a period during which
	// writes are throttled because L0 has grown past its trigger.
	WriteStallBegin func(reason string)
	WriteStallEnd   func()
}

// Options configures a DB. The zero value is not ready to use; call
// EnsureDefaults or use DefaultOptions.
type Options struct {
	// Logger receives diagnostic output. Defaults to base.DefaultLogger.
	Logger base.Logger

	// MemtableSizeBytes is the threshold at which an active memtable is
	// sealed and queued for flush.
	MemtableSizeBytes int

	// BlockSizeBytes is the target uncompressed size of an SSTable data
	// block before a new one is started.
	BlockSizeBytes int

	// BlockRestartInterval defaults to sstable.RestartInterval. The SSTable
	// writer does not read it: data blocks always place a restart point
	// every sstable.RestartInterval entries, whatever this field holds.
	BlockRestartInterval int

	// BloomBitsPerKey sizes the per-table bloom filter. Use
	// bloom.BitsPerKey(desiredFPR) to derive this from a target false
	// positive rate.
	BloomBitsPerKey uint32

	// BlockCacheBytes sizes the shared LRU cache of decompressed data
	// blocks. Zero selects the 8 MiB default; a negative value disables the
	// cache. There is no way to disable it with zero.
	BlockCacheBytes int64

	// WALSyncPolicy controls how aggressively the write-ahead log fsyncs.
	WALSyncPolicy record.SyncPolicy
	// WALSyncInterval is the fsync period when WALSyncPolicy is
	// SyncInterval.
	WALSyncInterval time.Duration

	// CompactionStyle selects the compaction algorithm.
	CompactionStyle CompactionStyle

	// L0CompactionTrigger is the number of L0 files that triggers a
	// compaction.
	L0CompactionTrigger int
	// L0StopWritesTrigger is the number of L0 files at which writes are
	// rejected with ErrBusy until compaction brings L0 back below it.
	L0StopWritesTrigger int

	// MaxLevels bounds the number of levels the leveled picker will grow
	// into.
	MaxLevels int
	// LevelSizeMultiplier is the target ratio between a level's size and
	// the level below it.
	LevelSizeMultiplier int

	// BlockCompression selects the codec applied to data blocks written at
	// L0 and L1, where flush and compaction latency matters more than
	// compression ratio. Defaults to snappy.
	BlockCompression sstable.Compression

	// DeepLevelCompression selects the codec applied to data blocks written
	// at L2 and below, where output files are longer-lived and a better
	// compression ratio pays for the extra CPU. Defaults to zstd.
	DeepLevelCompression sstable.Compression

	// EventListener receives lifecycle notifications; all fields optional.
	EventListener EventListener
}

// DefaultOptions returns an Options with every field set to its default.
func DefaultOptions() *Options {
	o := &Options{}
	o.EnsureDefaults()
	return o
}

// EnsureDefaults fills zero-valued fields of o with defaults and returns o,
// so callers can write `opts.EnsureDefaults()` after partially populating
// a literal.
func (o *Options) EnsureDefaults() *Options {
	if o.Logger == nil {
		o.Logger = base.DefaultLogger{}
	}
	if o.MemtableSizeBytes == 0 {
		o.MemtableSizeBytes = 4 << 20
	}
	if o.BlockSizeBytes == 0 {
		o.BlockSizeBytes = 4 << 10
	}
	if o.BlockRestartInterval == 0 {
		o.BlockRestartInterval = sstable.RestartInterval
	}
	if o.BloomBitsPerKey == 0 {
		o.BloomBitsPerKey = 10
	}
	if o.BlockCacheBytes == 0 {
		o.BlockCacheBytes = 8 << 20
	}
	if o.WALSyncInterval == 0 {
		o.WALSyncInterval = 5 * time.Millisecond
	}
	if o.L0CompactionTrigger == 0 {
		o.L0CompactionTrigger = 4
	}
	if o.L0StopWritesTrigger == 0 {
		o.L0StopWritesTrigger = 12
	}
	if o.MaxLevels == 0 {
		o.MaxLevels = 7
	}
	if o.LevelSizeMultiplier == 0 {
		o.LevelSizeMultiplier = 10
	}
	if o.BlockCompression == 0 {
		o.BlockCompression = sstable.CompressionSnappy
	}
	if o.DeepLevelCompression == 0 {
		o.DeepLevelCompression = sstable.CompressionZstd
	}
	return o
}

// compressionForLevel returns the block codec to use for output files
// written at level: the fast codec for L0/L1, where flush and compaction
// latency dominates, and the higher-ratio codec from L2 down, where files
// live longer and the ratio pays for itself.
func (o *Options) compressionForLevel(level int) sstable.Compression {
	if level <= 1 {
		return o.BlockCompression
	}
	return o.DeepLevelCompression
}
