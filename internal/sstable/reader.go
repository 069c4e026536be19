package sstable

import (
	"os"

	"github.com/G1DO/Storage-Engine/internal/base"
	"github.com/G1DO/Storage-Engine/internal/bloom"
	"github.com/G1DO/Storage-Engine/internal/cache"
)

// Reader opens an immutable SSTable for point lookups and iteration. Data
// blocks are demand-loaded through the shared block cache; the filter and
// index blocks are held in memory for the reader's lifetime.
type Reader struct {
	f       *os.File
	fileNum uint64
	cache   *cache.Cache

	footer Footer
	filter *bloom.Filter
	index  *BlockReader

	size int64
}

// Open reads the footer, filter block, and index block of the SSTable at
// path, and returns a Reader. fileNum identifies the file for block-cache
// keys; c may be nil, in which case block reads bypass the cache.
func Open(path string, fileNum uint64, c *cache.Cache) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	size := fi.Size()
	if size < int64(FooterSize()) {
		f.Close()
		return nil, CorruptionErrorFn(path, size, "file too small to contain a footer")
	}

	footerBuf := make([]byte, FooterSize())
	if _, err := f.ReadAt(footerBuf, size-int64(FooterSize())); err != nil {
		f.Close()
		return nil, err
	}
	footer, err := DecodeFooter(footerBuf)
	if err != nil {
		f.Close()
		return nil, CorruptionErrorFn(path, size-int64(FooterSize()), err.Error())
	}

	filterRaw, err := readHandle(f, footer.FilterHandle)
	if err != nil {
		f.Close()
		return nil, err
	}
	filterPayload, err := decompressBlock(filterRaw)
	if err != nil {
		f.Close()
		return nil, err
	}
	filter, err := bloom.Decode(filterPayload)
	if err != nil {
		f.Close()
		return nil, CorruptionErrorFn(path, int64(footer.FilterHandle.Offset), err.Error())
	}

	indexRaw, err := readHandle(f, footer.IndexHandle)
	if err != nil {
		f.Close()
		return nil, err
	}
	// The index block itself is never compressed independently: it's
	// written as a plain BlockBuilder payload by Writer.Finish.
	index := NewBlockReader(indexRaw)

	return &Reader{
		f:       f,
		fileNum: fileNum,
		cache:   c,
		footer:  footer,
		filter:  filter,
		index:   index,
		size:    size,
	}, nil
}

func readHandle(f *os.File, h BlockHandle) ([]byte, error) {
	buf := make([]byte, h.Length)
	_, err := f.ReadAt(buf, int64(h.Offset))
	return buf, err
}

// CorruptionErrorFn is set by the top-level package to construct a taxonomy
// Corruption error without creating an import cycle (sstable cannot import
// the root package, which imports sstable).
var CorruptionErrorFn = func(file string, offset int64, msg string) error {
	return &genericCorruption{file: file, offset: offset, msg: msg}
}

type genericCorruption struct {
	file   string
	offset int64
	msg    string
}

func (e *genericCorruption) Error() string {
	return "sstable: corruption in " + e.file + ": " + e.msg
}

// Close closes the underlying file.
func (r *Reader) Close() error { return r.f.Close() }

// FileNum returns the file identifier used for block-cache keys.
func (r *Reader) FileNum() uint64 { return r.fileNum }

// Size returns the file size in bytes.
func (r *Reader) Size() int64 { return r.size }

// MinSeq and MaxSeq report the sequence bounds recorded in the footer.
func (r *Reader) MinSeq() uint64 { return r.footer.MinSeq }
func (r *Reader) MaxSeq() uint64 { return r.footer.MaxSeq }

func (r *Reader) loadBlock(h BlockHandle) (*BlockReader, error) {
	key := cache.Key{FileNum: r.fileNum, Offset: h.Offset}
	if r.cache != nil {
		if data, ok := r.cache.Get(key); ok {
			return NewBlockReader(data), nil
		}
	}
	raw, err := readHandle(r.f, h)
	if err != nil {
		return nil, err
	}
	payload, err := decompressBlock(raw)
	if err != nil {
		return nil, CorruptionErrorFn("", int64(h.Offset), err.Error())
	}
	if r.cache != nil {
		r.cache.Insert(key, payload)
	}
	return NewBlockReader(payload), nil
}

// indexEntryHandle decodes the BlockHandle carried as the value of an
// index-block entry.
func indexEntryHandle(value []byte) BlockHandle {
	return DecodeBlockHandle(value)
}

// Get performs a point lookup: bloom filter first (a negative answer
// avoids all I/O), then binary search over the index,
// then a scan of the resolved data block. The isTombstone and found results
// distinguish "absent" from "present as a tombstone" the same way the
// memtable does — a tombstone is reported as (nil, true, true, nil).
func (r *Reader) Get(userKey []byte, readSeq base.SeqNum) (value []byte, isTombstone bool, found bool, err error) {
	if !r.filter.MayContain(userKey) {
		return nil, false, false, nil
	}

	idx := r.index.NewIterator()
	seekTarget := base.MakeInternalKey(userKey, base.SeqNumMax, base.InternalKeyKindDelete)
	if !idx.SeekGE(seekTarget.EncodeAppend(nil)) {
		return nil, false, false, nil
	}
	handle := indexEntryHandle(idx.Value())

	block, err := r.loadBlock(handle)
	if err != nil {
		return nil, false, false, err
	}
	bit := block.NewIterator()
	dataSeekTarget := base.MakeInternalKey(userKey, readSeq, base.InternalKeyKindDelete)
	if !bit.SeekGE(dataSeekTarget.EncodeAppend(nil)) {
		return nil, false, false, nil
	}
	k := bit.Key()
	if !base.Equal(k.UserKey, userKey) {
		return nil, false, false, nil
	}
	if k.SeqNum() > readSeq {
		return nil, false, false, nil
	}
	if k.IsTombstone() {
		return nil, true, true, nil
	}
	return bit.Value(), false, true, nil
}

// Iterator walks every entry of the SSTable in ascending InternalKey
// order, resolving data blocks lazily as it crosses block boundaries.
type Iterator struct {
	r        *Reader
	idxIt    *BlockIterator
	blockIt  *BlockIterator
	hi       []byte // inclusive upper user-key bound, or nil for unbounded
	err      error
}

// NewIter returns an unpositioned full-table iterator.
func (r *Reader) NewIter() *Iterator {
	return &Iterator{r: r, idxIt: r.index.NewIterator()}
}

// NewRangeIter returns an iterator bounded to [lo, hi] on user keys: it
// seeks to the block covering lo and halts once the current user key
// exceeds hi.
func (r *Reader) NewRangeIter(lo, hi []byte) *Iterator {
	it := &Iterator{r: r, idxIt: r.index.NewIterator(), hi: hi}
	if lo == nil {
		it.First()
	} else {
		it.SeekGE(lo)
	}
	return it
}

func (it *Iterator) loadBlockAtIndex() bool {
	if !it.idxIt.Valid() {
		it.blockIt = nil
		return false
	}
	handle := indexEntryHandle(it.idxIt.Value())
	block, err := it.r.loadBlock(handle)
	if err != nil {
		it.err = err
		it.blockIt = nil
		return false
	}
	it.blockIt = block.NewIterator()
	return true
}

// First positions the iterator at the table's first entry.
func (it *Iterator) First() bool {
	if !it.idxIt.First() {
		return false
	}
	if !it.loadBlockAtIndex() {
		return false
	}
	return it.blockIt.First() && it.withinBound()
}

// SeekGE positions the iterator at the first entry whose user key is
// >= target.
func (it *Iterator) SeekGE(target []byte) bool {
	seekKey := base.MakeInternalKey(target, base.SeqNumMax, base.InternalKeyKindDelete)
	encoded := seekKey.EncodeAppend(nil)
	if !it.idxIt.SeekGE(encoded) {
		return false
	}
	if !it.loadBlockAtIndex() {
		return false
	}
	if !it.blockIt.SeekGE(encoded) {
		// Target falls after this block's last key; advance to the next
		// block's first entry.
		if !it.idxIt.Next() || !it.loadBlockAtIndex() {
			return false
		}
		if !it.blockIt.First() {
			return false
		}
	}
	return it.withinBound()
}

func (it *Iterator) withinBound() bool {
	if it.hi == nil || !it.blockIt.Valid() {
		return it.blockIt != nil && it.blockIt.Valid()
	}
	return base.Compare(it.blockIt.Key().UserKey, it.hi) <= 0
}

// Valid reports whether the iterator is positioned at an entry within
// bounds.
func (it *Iterator) Valid() bool {
	return it.blockIt != nil && it.blockIt.Valid() && it.withinBound()
}

// Key returns the current InternalKey.
func (it *Iterator) Key() base.InternalKey { return it.blockIt.Key() }

// Value returns the current value.
func (it *Iterator) Value() []byte { return it.blockIt.Value() }

// Next advances to the next entry, crossing block boundaries as needed.
func (it *Iterator) Next() bool {
	if it.blockIt == nil {
		return false
	}
	if it.blockIt.Next() {
		return it.withinBound()
	}
	if !it.idxIt.Next() {
		it.blockIt = nil
		return false
	}
	if !it.loadBlockAtIndex() {
		return false
	}
	if !it.blockIt.First() {
		return false
	}
	return it.withinBound()
}

// Err returns any error encountered while loading blocks during
// iteration.
func (it *Iterator) Err() error { return it.err }

// Close is a no-op beyond releasing references; the underlying Reader
// (and its file handle) is owned and closed separately, since many
// iterators may share one Reader concurrently.
func (it *Iterator) Close() error { return it.err }
