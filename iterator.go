package lsmdb

import (
	"io"

	"github.com/G1DO/Storage-Engine/internal/base"
	"github.com/G1DO/Storage-Engine/internal/iter"
	"github.com/G1DO/Storage-Engine/internal/manifest"
)

// Iterator is the public forward cursor over a consistent view of the
// database: every memtable and SSTable entry at or below a fixed read
// sequence number, deduplicated down to the live value (or hidden, if the
// live entry is a tombstone) per user key, and bounded to [lo, hi].
//
// It holds a reference on the Version it was built from (Version.Ref) until
// Close. Compaction does not consult that reference: it removes the files
// it replaced as soon as its edit is durable, even while this iterator
// still has them open.
type Iterator struct {
	src     iter.Iterator
	hi      []byte
	closers []io.Closer
	version *manifest.Version
}

// upperBounded wraps an Iterator so Valid() additionally requires the
// current user key to be <= hi (or always true if hi is nil).
type upperBounded struct {
	iter.Iterator
	hi []byte
}

func (b *upperBounded) Valid() bool {
	if !b.Iterator.Valid() {
		return false
	}
	return b.hi == nil || base.Compare(b.Iterator.Key().UserKey, b.hi) <= 0
}

func newIterator(children []iter.Iterator, closers []io.Closer, version *manifest.Version, seq base.SeqNum, lo, hi []byte) (*Iterator, error) {
	merged := iter.NewMergeIterator(children...)
	snap := iter.NewSnapshotFilter(merged, seq)
	dedup := iter.NewDedup(snap)
	bounded := &upperBounded{Iterator: dedup, hi: hi}

	version.Ref()
	it := &Iterator{src: bounded, hi: hi, closers: closers, version: version}
	if lo == nil {
		bounded.First()
	} else {
		bounded.SeekGE(lo)
	}
	return it, nil
}

// Valid reports whether the iterator is positioned at an entry.
func (it *Iterator) Valid() bool { return it.src.Valid() }

// Key returns the current user key.
func (it *Iterator) Key() []byte { return it.src.Key().UserKey }

// Value returns the current value.
func (it *Iterator) Value() []byte { return it.src.Value() }

// Next advances to the next live key.
func (it *Iterator) Next() bool {
	it.src.Next()
	return it.src.Valid()
}

// Close releases every resource (open SSTable readers, block handles)
// pinned by this iterator.
func (it *Iterator) Close() error {
	err := it.src.Close()
	for _, c := range it.closers {
		if cerr := c.Close(); err == nil {
			err = cerr
		}
	}
	it.version.Unref()
	return err
}
