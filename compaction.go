package lsmdb

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/G1DO/Storage-Engine/internal/base"
	"github.com/G1DO/Storage-Engine/internal/iter"
	"github.com/G1DO/Storage-Engine/internal/manifest"
	"github.com/G1DO/Storage-Engine/internal/sstable"
	"golang.org/x/sync/errgroup"
)

// compactionIter collapses a merged stream of InternalKeys down to the
// versions that must survive, respecting live snapshots. Snapshots divide
// the sequence-number axis into stripes; within a stripe only the newest
// version of a user key is kept, but a stripe boundary is never crossed,
// since an older snapshot holding a reference to a pre-boundary version
// must still be able to read it.
//
// At the bottommost level (no lower level can hold an even older version
// of the same key) a tombstone whose stripe is the oldest one can be
// dropped entirely instead of carried forward, since nothing below it
// could resurrect the value it shadows.
type kept struct {
	key   base.InternalKey
	value []byte
}

type compactionIter struct {
	src        iter.Iterator
	snapshots  []uint64 // ascending
	bottommost bool

	pending []kept
	pos     int

	valid bool
	key   base.InternalKey
	value []byte

	srcValid bool
}

func newCompactionIter(src iter.Iterator, snapshots []uint64, bottommost bool) *compactionIter {
	sorted := append([]uint64(nil), snapshots...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	return &compactionIter{src: src, snapshots: sorted, bottommost: bottommost}
}

// stripeCeil returns the smallest live snapshot sequence greater than or
// equal to seq (the oldest snapshot that can read an entry at seq), or
// ^uint64(0) if seq is newer than every live snapshot (the newest stripe,
// visible to all future reads).
func (ci *compactionIter) stripeCeil(seq base.SeqNum) uint64 {
	idx := sort.Search(len(ci.snapshots), func(i int) bool { return ci.snapshots[i] >= uint64(seq) })
	if idx == len(ci.snapshots) {
		return ^uint64(0)
	}
	return ci.snapshots[idx]
}

func (ci *compactionIter) First() bool {
	ci.srcValid = ci.src.First()
	return ci.advance()
}

func (ci *compactionIter) Next() bool {
	return ci.advance()
}

// advance serves the next pending entry if any remain for the current
// user key, otherwise collapses the next full run of same-user-key
// entries from src into a new pending list and serves its first entry.
func (ci *compactionIter) advance() bool {
	if ci.pos < len(ci.pending) {
		e := ci.pending[ci.pos]
		ci.pos++
		ci.key, ci.value, ci.valid = e.key, e.value, true
		return true
	}
	if !ci.srcValid {
		ci.valid = false
		return false
	}
	ci.collapseNextKey()
	if ci.pos < len(ci.pending) {
		e := ci.pending[ci.pos]
		ci.pos++
		ci.key, ci.value, ci.valid = e.key, e.value, true
		return true
	}
	// The whole run collapsed to nothing (e.g. a single bottommost
	// tombstone in the oldest stripe); try the next user key.
	return ci.advance()
}

// collapseNextKey consumes every src entry belonging to the current user
// key, keeping the newest entry of each snapshot stripe (entries arrive
// newest-seq-first per user key, since the merge orders by descending
// sequence number), and stores the survivors in ci.pending in stripe
// order (newest stripe first). If bottommost and the oldest surviving
// entry is a tombstone, it is dropped: no lower level remains to
// resurrect the value it shadows, so its absence is observably identical.
func (ci *compactionIter) collapseNextKey() {
	ci.pending = ci.pending[:0]
	ci.pos = 0

	userKey := append([]byte(nil), ci.src.Key().UserKey...)
	var lastCeil uint64
	haveCeil := false

	for ci.srcValid {
		k := ci.src.Key()
		if !base.Equal(k.UserKey, userKey) {
			break
		}
		ceil := ci.stripeCeil(k.SeqNum())
		if !haveCeil || ceil != lastCeil {
			ci.pending = append(ci.pending, kept{key: k.Clone(), value: append([]byte(nil), ci.src.Value()...)})
			lastCeil = ceil
			haveCeil = true
		}
		// else: shadowed by the stripe's already-kept newest entry.
		ci.srcValid = ci.src.Next()
	}

	if ci.bottommost && len(ci.pending) > 0 {
		last := ci.pending[len(ci.pending)-1]
		if last.key.IsTombstone() {
			ci.pending = ci.pending[:len(ci.pending)-1]
		}
	}
}

func (ci *compactionIter) Valid() bool            { return ci.valid }
func (ci *compactionIter) Key() base.InternalKey { return ci.key }
func (ci *compactionIter) Value() []byte          { return ci.value }

// runCompaction executes pc: it opens every input and output-level file,
// merges them with newer-source priority, collapses versions via
// compactionIter, and writes one or more new SSTables, rolling to a new
// output file once its entry count times 64 bytes (a rough size estimate)
// reaches twice Options.MemtableSizeBytes. On success it applies a
// VersionEdit removing the old files and adding the new ones.
func (d *DB) runCompaction(pc *pickedCompaction) error {
	if d.opts.EventListener.CompactionBegin != nil {
		d.opts.EventListener.CompactionBegin(pc.level, len(pc.inputs), 0)
	}

	all := append(append([]*manifest.FileMetadata(nil), pc.inputs...), pc.outputs...)

	readers := make([]*sstable.Reader, len(all))
	closeAll := func() {
		for _, r := range readers {
			if r != nil {
				r.Close()
			}
		}
	}
	// Opening and parsing each table's footer/filter/index involves a
	// handful of independent file reads; fan them out so compaction start
	// latency doesn't scale with input count times disk seek latency.
	var g errgroup.Group
	for i, f := range all {
		i, f := i, f
		g.Go(func() error {
			r, err := sstable.Open(d.sstablePath(f.FileNum), f.FileNum, d.cache)
			if err != nil {
				return err
			}
			readers[i] = r
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		closeAll()
		return err
	}
	defer closeAll()

	children := make([]iter.Iterator, len(readers))
	for i, r := range readers {
		children[i] = r.NewIter()
	}

	merged := iter.NewMergeIterator(children...)
	bottommost := pc.outputLevel == d.opts.MaxLevels-1
	cit := newCompactionIter(merged, d.snapshots.liveSeqs(), bottommost)

	var newFiles []manifest.NewFileEntry

	maxOutputSize := d.opts.MemtableSizeBytes * 2
	var cur *sstable.Writer
	var curFileNum uint64
	var curMinKey, curMaxKey []byte

	closeCurrent := func() error {
		if cur == nil {
			return nil
		}
		footer, err := cur.Finish()
		if err != nil {
			cur.Close()
			return err
		}
		if err := cur.Sync(); err != nil {
			cur.Close()
			return err
		}
		if err := cur.Close(); err != nil {
			return err
		}
		fi, err := os.Stat(d.sstablePath(curFileNum))
		if err != nil {
			return err
		}
		newFiles = append(newFiles, manifest.NewFileEntry{
			Level: pc.outputLevel,
			Meta: manifest.FileMetadata{
				FileNum: curFileNum,
				Size:    uint64(fi.Size()),
				MinKey:  curMinKey,
				MaxKey:  curMaxKey,
				MinSeq:  base.SeqNum(footer.MinSeq),
				MaxSeq:  base.SeqNum(footer.MaxSeq),
			},
		})
		cur = nil
		return nil
	}

	openNew := func() error {
		num, err := d.manifest.NextFileNum()
		if err != nil {
			return err
		}
		f, err := os.Create(d.sstablePath(num))
		if err != nil {
			return err
		}
		curFileNum = num
		curMinKey, curMaxKey = nil, nil
		cur = sstable.NewWriter(f, sstable.WriterOptions{
			BlockSizeBytes: d.opts.BlockSizeBytes,
			BitsPerKey:     d.opts.BloomBitsPerKey,
			Compression:    d.opts.compressionForLevel(pc.outputLevel),
		})
		return nil
	}

	for ok := cit.First(); ok; ok = cit.Next() {
		if cur == nil {
			if err := openNew(); err != nil {
				return err
			}
		}
		k := cit.Key()
		if curMinKey == nil {
			curMinKey = append([]byte(nil), k.UserKey...)
		}
		curMaxKey = append(curMaxKey[:0], k.UserKey...)
		if err := cur.Add(k, cit.Value()); err != nil {
			return err
		}
		if cur.EntryCount()*64 >= maxOutputSize { // rough size proxy
			if err := closeCurrent(); err != nil {
				return err
			}
		}
	}
	if err := closeCurrent(); err != nil {
		return err
	}

	edit := &manifest.VersionEdit{NewFiles: newFiles}
	for _, f := range all {
		edit.DeletedFiles = append(edit.DeletedFiles, manifest.DeletedFileEntry{Level: levelOf(pc, f), FileNum: f.FileNum})
	}
	if err := d.manifest.Apply(edit); err != nil {
		if d.opts.EventListener.CompactionEnd != nil {
			d.opts.EventListener.CompactionEnd(pc.level, err)
		}
		return err
	}

	closeAll()
	readers = nil
	for _, f := range all {
		os.Remove(d.sstablePath(f.FileNum))
	}

	if d.opts.EventListener.CompactionEnd != nil {
		d.opts.EventListener.CompactionEnd(pc.level, nil)
	}
	return nil
}

func levelOf(pc *pickedCompaction, f *manifest.FileMetadata) int {
	for _, in := range pc.inputs {
		if in.FileNum == f.FileNum {
			return pc.level
		}
	}
	return pc.outputLevel
}

func (d *DB) sstablePath(fileNum uint64) string {
	return filepath.Join(d.dir, fmt.Sprintf("%06d.sst", fileNum))
}

// maybeScheduleCompaction repeatedly picks and runs compactions until the
// picker finds nothing left to do in the current version. It is called
// synchronously after each memtable flush in this engine's single-writer
// design, trading background concurrency for a simpler,
// easier-to-reason-about compaction path.
func (d *DB) maybeScheduleCompaction() error {
	picker := newCompactionPicker(d.opts)
	for {
		pc := picker.pick(d.manifest.Current(), d.opts)
		if pc == nil {
			return nil
		}
		if err := d.runCompaction(pc); err != nil {
			return err
		}
	}
}
