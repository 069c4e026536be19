// Package lsmdb implements an embedded, ordered key-value storage engine
// built on a log-structured merge tree: an in-memory memtable backed by a
// write-ahead log for durability, periodically flushed to immutable,
// sorted SSTable files on disk, which are themselves periodically merged
// by compaction to bound read amplification and reclaim space from
// overwritten and deleted keys.
package lsmdb

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/G1DO/Storage-Engine/internal/base"
	"github.com/G1DO/Storage-Engine/internal/cache"
	"github.com/G1DO/Storage-Engine/internal/iter"
	"github.com/G1DO/Storage-Engine/internal/manifest"
	"github.com/G1DO/Storage-Engine/internal/memtable"
	"github.com/G1DO/Storage-Engine/internal/record"
	"github.com/G1DO/Storage-Engine/internal/sstable"
	"github.com/cockroachdb/errors"
)

// DB is a single-process handle to an open database directory. All
// exported methods are safe for concurrent use.
type DB struct {
	dir  string
	opts *Options

	manifest *manifest.Manifest
	cache    *cache.Cache

	mu        sync.RWMutex
	mem       *memtable.Memtable
	imm       []*memtable.Memtable
	wal       *record.Writer
	walFile   *os.File
	closed    bool
	stalled   bool

	seq atomic.Uint64

	snapshots *snapshotRegistry
}

func walPath(dir string, logNum uint64) string {
	return filepath.Join(dir, fmt.Sprintf("%06d.log", logNum))
}

// writeStallSleepPerFile is the soft-throttle penalty applied to a write
// for every L0 file beyond L0CompactionTrigger: a small, deliberately
// bounded delay so a growing L0 backlog slows writers down gradually
// rather than letting them pile files up without limit.
const writeStallSleepPerFile = 2 * time.Millisecond

// Open opens the database at dir, creating it if it does not already
// exist, and replays its write-ahead log to recover any writes that were
// not yet durable in an SSTable.
func Open(dir string, opts *Options) (*DB, error) {
	if opts == nil {
		opts = DefaultOptions()
	} else {
		opts.EnsureDefaults()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, IOError(err, "creating database directory %s", dir)
	}

	c := cache.New(opts.BlockCacheBytes)

	_, err := os.Stat(currentFilePath(dir))
	var m *manifest.Manifest
	var mem *memtable.Memtable
	var maxSeqSeen base.SeqNum

	if err == nil {
		m, err = manifest.Recover(dir, opts.MaxLevels)
		if err != nil {
			return nil, errors.Wrap(err, "lsmdb: recovering manifest")
		}
		logNum := m.CurrentLogNum()
		mem = memtable.New(logNum, int64(logNum))
		if f, openErr := os.Open(walPath(dir, logNum)); openErr == nil {
			rdr := record.NewReader(f)
			for {
				rec, ok := rdr.Next()
				if !ok {
					break
				}
				switch rec.Type {
				case base.InternalKeyKindPut:
					mem.Put(rec.Key, rec.Seq, rec.Value)
				case base.InternalKeyKindDelete:
					mem.Delete(rec.Key, rec.Seq)
				}
				if rec.Seq > maxSeqSeen {
					maxSeqSeen = rec.Seq
				}
			}
			f.Close()
		}
	} else if os.IsNotExist(err) {
		m, err = manifest.Create(dir, opts.MaxLevels)
		if err != nil {
			return nil, errors.Wrap(err, "lsmdb: creating manifest")
		}
		logNum, nerr := m.NextFileNum()
		if nerr != nil {
			return nil, nerr
		}
		if err := m.SetLogNum(logNum); err != nil {
			return nil, err
		}
		mem = memtable.New(logNum, int64(logNum))
	} else {
		return nil, IOError(err, "statting CURRENT file")
	}

	walFile, err := os.OpenFile(walPath(dir, mem.LogNum()), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, IOError(err, "opening WAL segment")
	}
	wal := record.NewWriter(walFile, opts.WALSyncPolicy, opts.WALSyncInterval)

	d := &DB{
		dir:       dir,
		opts:      opts,
		manifest:  m,
		cache:     c,
		mem:       mem,
		wal:       wal,
		walFile:   walFile,
		snapshots: newSnapshotRegistry(),
	}
	seq := maxSeqSeen
	if ls := m.LastSeq(); base.SeqNum(ls) > seq {
		seq = base.SeqNum(ls)
	}
	d.seq.Store(uint64(seq))
	opts.Logger.Infof("lsmdb: opened %s", dir)
	return d, nil
}

func currentFilePath(dir string) string {
	return filepath.Join(dir, "CURRENT")
}

// Put writes value for key, replacing any prior binding.
func (d *DB) Put(key, value []byte) error {
	return d.apply(base.InternalKeyKindPut, key, value)
}

// Delete removes key. A subsequent Get sees it as absent.
func (d *DB) Delete(key []byte) error {
	return d.apply(base.InternalKeyKindDelete, key, nil)
}

func (d *DB) apply(kind base.InternalKeyKind, key, value []byte) error {
	if len(key) == 0 {
		return InvalidArgumentError("key must not be empty")
	}
	if len(key) > base.MaxKeySize {
		return InvalidArgumentError("key of length %d exceeds maximum %d", len(key), base.MaxKeySize)
	}
	if len(value) > base.MaxValueSize {
		return InvalidArgumentError("value of length %d exceeds maximum %d", len(value), base.MaxValueSize)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrClosed
	}
	if err := d.maybeStallLocked(); err != nil {
		return err
	}

	seq := base.SeqNum(d.seq.Add(1))
	if _, err := d.wal.Append(record.Record{Type: kind, Seq: seq, Key: key, Value: value}); err != nil {
		return IOError(err, "appending to WAL")
	}
	switch kind {
	case base.InternalKeyKindPut:
		d.mem.Put(key, seq, value)
	case base.InternalKeyKindDelete:
		d.mem.Delete(key, seq)
	}

	if d.mem.IsFull(int64(d.opts.MemtableSizeBytes)) {
		if err := d.rotateAndFlushLocked(); err != nil {
			return err
		}
	}
	return nil
}

// maybeStallLocked applies the write-stall policy against the current L0
// file count: a proportional sleep once L0CompactionTrigger is exceeded
// (the backlog is growing faster than compaction can drain it), and a
// hard rejection once L0StopWritesTrigger is reached (the backlog must
// stop growing until compaction catches up). Called with d.mu held (the
// same exclusive lock apply() takes for the whole write), so the sleep
// also blocks concurrent RLock readers for its duration — the same
// coarse-locking tradeoff this engine already makes elsewhere (see
// CompactRange), justified by the per-file penalty being small and capped.
func (d *DB) maybeStallLocked() error {
	count := d.manifest.Current().FileCount(0)

	if count >= d.opts.L0StopWritesTrigger {
		d.beginStallLocked(fmt.Sprintf("L0 file count %d reached stop-writes trigger %d", count, d.opts.L0StopWritesTrigger))
		return ErrBusy
	}
	if count > d.opts.L0CompactionTrigger {
		d.beginStallLocked(fmt.Sprintf("L0 file count %d exceeds compaction trigger %d", count, d.opts.L0CompactionTrigger))
		overshoot := count - d.opts.L0CompactionTrigger
		time.Sleep(time.Duration(overshoot) * writeStallSleepPerFile)
		return nil
	}
	d.endStallLocked()
	return nil
}

func (d *DB) beginStallLocked(reason string) {
	if d.stalled {
		return
	}
	d.stalled = true
	if d.opts.EventListener.WriteStallBegin != nil {
		d.opts.EventListener.WriteStallBegin(reason)
	}
}

func (d *DB) endStallLocked() {
	if !d.stalled {
		return
	}
	d.stalled = false
	if d.opts.EventListener.WriteStallEnd != nil {
		d.opts.EventListener.WriteStallEnd()
	}
}

// rotateAndFlushLocked seals the active memtable, flushes it to L0, and
// installs a fresh memtable and WAL segment. Called with d.mu held.
func (d *DB) rotateAndFlushLocked() error {
	sealed := d.mem
	oldWAL := d.wal

	newLogNum, err := d.manifest.NextFileNum()
	if err != nil {
		return err
	}
	newWALFile, err := os.OpenFile(walPath(d.dir, newLogNum), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	newWAL := record.NewWriter(newWALFile, d.opts.WALSyncPolicy, d.opts.WALSyncInterval)
	if err := d.manifest.SetLogNum(newLogNum); err != nil {
		newWAL.Close()
		return err
	}

	d.mem = memtable.New(newLogNum, int64(newLogNum))
	d.wal = newWAL
	d.walFile = newWALFile

	if err := d.flushMemtable(sealed); err != nil {
		d.opts.Logger.Errorf("flush failed: %v", err)
		return err
	}
	oldWAL.Close()
	os.Remove(walPath(d.dir, sealed.LogNum()))

	return d.maybeScheduleCompaction()
}

// Get returns the current value bound to key, or ErrNotFound if it has no
// live binding.
func (d *DB) Get(key []byte) ([]byte, error) {
	d.mu.RLock()
	seq := base.SeqNum(d.seq.Load())
	d.mu.RUnlock()
	return d.getAt(key, seq)
}

func (d *DB) getAt(key []byte, readSeq base.SeqNum) ([]byte, error) {
	d.mu.RLock()
	mem := d.mem
	imm := append([]*memtable.Memtable(nil), d.imm...)
	v := d.manifest.Current()
	d.mu.RUnlock()

	if val, tomb, found := mem.Get(key, readSeq); found {
		if tomb {
			return nil, ErrNotFound
		}
		return val, nil
	}
	for i := len(imm) - 1; i >= 0; i-- {
		if val, tomb, found := imm[i].Get(key, readSeq); found {
			if tomb {
				return nil, ErrNotFound
			}
			return val, nil
		}
	}

	l0 := v.Files(0)
	sort.Slice(l0, func(i, j int) bool { return l0[i].FileNum < l0[j].FileNum })
	for i := len(l0) - 1; i >= 0; i-- {
		val, tomb, found, err := d.lookupInFile(l0[i], key, readSeq)
		if err != nil {
			return nil, err
		}
		if found {
			if tomb {
				return nil, ErrNotFound
			}
			return val, nil
		}
	}
	for level := 1; level < v.NumLevels(); level++ {
		files := v.Overlapping(level, key, key)
		for _, f := range files {
			val, tomb, found, err := d.lookupInFile(f, key, readSeq)
			if err != nil {
				return nil, err
			}
			if found {
				if tomb {
					return nil, ErrNotFound
				}
				return val, nil
			}
		}
	}
	return nil, ErrNotFound
}

func (d *DB) lookupInFile(f *manifest.FileMetadata, key []byte, readSeq base.SeqNum) (value []byte, tombstone bool, found bool, err error) {
	r, err := sstable.Open(d.sstablePath(f.FileNum), f.FileNum, d.cache)
	if err != nil {
		return nil, false, false, IOError(err, "opening sstable %d", f.FileNum)
	}
	defer r.Close()
	return r.Get(key, readSeq)
}

// Scan returns an Iterator over [lo, hi] as of the current sequence
// number. A nil lo or hi is unbounded on that side.
func (d *DB) Scan(lo, hi []byte) (*Iterator, error) {
	d.mu.RLock()
	seq := base.SeqNum(d.seq.Load())
	d.mu.RUnlock()
	return d.newIterAt(lo, hi, seq)
}

func (d *DB) newIterAt(lo, hi []byte, seq base.SeqNum) (*Iterator, error) {
	if lo != nil && hi != nil && base.Compare(lo, hi) > 0 {
		return nil, InvalidArgumentError("scan lower bound %q exceeds upper bound %q", lo, hi)
	}
	d.mu.RLock()
	mem := d.mem
	imm := append([]*memtable.Memtable(nil), d.imm...)
	v := d.manifest.Current()
	d.mu.RUnlock()

	var children []iter.Iterator
	var closers []io.Closer
	children = append(children, mem.NewIter())
	for _, m := range imm {
		children = append(children, m.NewIter())
	}
	for level := 0; level < v.NumLevels(); level++ {
		var files []*manifest.FileMetadata
		if level == 0 {
			files = v.Files(0)
			sort.Slice(files, func(i, j int) bool { return files[i].FileNum > files[j].FileNum })
		} else {
			files = v.Overlapping(level, lo, hi)
		}
		for _, f := range files {
			r, err := sstable.Open(d.sstablePath(f.FileNum), f.FileNum, d.cache)
			if err != nil {
				for _, c := range closers {
					c.Close()
				}
				return nil, IOError(err, "opening sstable %d", f.FileNum)
			}
			closers = append(closers, r)
			children = append(children, r.NewRangeIter(lo, hi))
		}
	}
	return newIterator(children, closers, v, seq, lo, hi)
}

// NewSnapshot pins the current sequence number for later consistent reads.
func (d *DB) NewSnapshot() *Snapshot {
	d.mu.RLock()
	seq := base.SeqNum(d.seq.Load())
	d.mu.RUnlock()
	d.snapshots.add(seq)
	return &Snapshot{db: d, seq: seq}
}

// Flush forces the active memtable to be sealed and written to an L0
// SSTable, even if it hasn't reached its size threshold.
func (d *DB) Flush() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrClosed
	}
	if d.mem.Empty() {
		return nil
	}
	return d.rotateAndFlushLocked()
}

// CompactRange forces a compaction covering [lo, hi], even if the
// automatic picker would not otherwise choose to run one.
func (d *DB) CompactRange(lo, hi []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrClosed
	}
	v := d.manifest.Current()
	for level := 0; level < v.NumLevels()-1; level++ {
		files := v.Overlapping(level, lo, hi)
		if len(files) == 0 {
			continue
		}
		outLo, outHi := boundsOf(files)
		outputs := v.Overlapping(level+1, outLo, outHi)
		pc := &pickedCompaction{level: level, outputLevel: level + 1, inputs: files, outputs: outputs}
		if err := d.runCompaction(pc); err != nil {
			return err
		}
		v = d.manifest.Current()
	}
	return nil
}

// Close flushes the active memtable and releases all resources. Close is
// idempotent.
func (d *DB) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true

	var firstErr error
	if !d.mem.Empty() {
		if err := d.flushMemtable(d.mem); err != nil {
			firstErr = err
		}
	}
	if err := d.wal.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	os.Remove(walPath(d.dir, d.mem.LogNum()))
	if err := d.manifest.AdvanceSeq(d.seq.Load()); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := d.manifest.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	d.opts.Logger.Infof("lsmdb: closed %s", d.dir)
	return firstErr
}
