// Package iter defines the uniform forward-cursor contract and the k-way
// MergeIterator that unifies memtables and SSTables while honoring MVCC
// ordering and deletion semantics.
package iter

import "github.com/G1DO/Storage-Engine/internal/base"

// Iterator is the capability set every source (memtable, block, SSTable,
// merge) implements: seek to a user key, then walk forward. Keys are
// yielded in ascending user-key order; for equal user keys, descending
// sequence order.
type Iterator interface {
	// First positions the iterator at the first entry.
	First() bool
	// SeekGE positions the iterator at the first InternalKey whose user
	// key is >= target (and, among equal user keys, the highest
	// sequence).
	SeekGE(target []byte) bool
	// Next advances to the next entry.
	Next() bool
	// Valid reports whether the iterator is positioned at an entry.
	Valid() bool
	// Key returns the InternalKey at the current position.
	Key() base.InternalKey
	// Value returns the value bytes at the current position.
	Value() []byte
	// Close releases any resources (block handles, file references) held
	// by the iterator.
	Close() error
}
