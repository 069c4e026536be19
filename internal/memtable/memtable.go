// Package memtable implements the in-memory sorted write buffer: a memtable
// backed by the skip list in internal/arenaskl, keyed by encoded
// InternalKey so that ordering is (user key ascending, sequence descending)
// as required for correct single-pass merging.
package memtable

import (
	"github.com/G1DO/Storage-Engine/internal/arenaskl"
	"github.com/G1DO/Storage-Engine/internal/base"
)

// Memtable is a sorted mapping from InternalKey to value bytes, with a
// running byte-size estimate used to decide when to seal it.
type Memtable struct {
	skl      *arenaskl.Skiplist
	logNum   uint64
	seqBase  base.SeqNum
}

// New creates an empty Memtable. logNum identifies the WAL segment backing
// it, resolved later by number rather than by direct pointer so the
// memtable and its log can be reasoned about independently.
func New(logNum uint64, seed int64) *Memtable {
	return &Memtable{
		skl:    arenaskl.NewSkiplist(internalKeyCompare, seed),
		logNum: logNum,
	}
}

// internalKeyCompare decodes two encoded InternalKeys and orders them with
// base.InternalCompare. Skip-list nodes store the raw encoded bytes, whose
// little-endian sequence trailer does not sort in InternalKey order under a
// plain byte comparison, so the keys are decoded first.
func internalKeyCompare(a, b []byte) int {
	ka := base.DecodeInternalKey(a)
	kb := base.DecodeInternalKey(b)
	return base.InternalCompare(ka, kb)
}

// LogNum returns the WAL segment number backing this memtable.
func (m *Memtable) LogNum() uint64 { return m.logNum }

// Put inserts a live value for userKey at seq.
func (m *Memtable) Put(userKey []byte, seq base.SeqNum, value []byte) {
	ik := base.MakeInternalKey(userKey, seq, base.InternalKeyKindPut)
	keyBuf := ik.EncodeAppend(nil)
	valBuf := append([]byte(nil), value...)
	m.skl.Add(keyBuf, valBuf)
}

// Delete inserts a tombstone for userKey at seq.
func (m *Memtable) Delete(userKey []byte, seq base.SeqNum) {
	ik := base.MakeInternalKey(userKey, seq, base.InternalKeyKindDelete)
	keyBuf := ik.EncodeAppend(nil)
	m.skl.Add(keyBuf, nil)
}

// Get returns the value (or tombstone indication) of the highest sequence
// <= readSeq whose user key matches userKey.
func (m *Memtable) Get(userKey []byte, readSeq base.SeqNum) (value []byte, tombstone bool, found bool) {
	// Seek to the first InternalKey >= (userKey, readSeq, max-kind), which
	// is the highest-sequence-at-or-below-readSeq entry for userKey
	// because sequence sorts descending within a user key.
	seekKey := base.MakeInternalKey(userKey, readSeq, base.InternalKeyKindDelete)
	target := seekKey.EncodeAppend(nil)

	k, v, ok := m.skl.Ceil(target)
	if !ok {
		return nil, false, false
	}
	ik := base.DecodeInternalKey(k)
	if !base.Equal(ik.UserKey, userKey) {
		return nil, false, false
	}
	if ik.SeqNum() > readSeq {
		return nil, false, false
	}
	if ik.IsTombstone() {
		return nil, true, true
	}
	return v, false, true
}

// Size returns the running byte-accounted size estimate.
func (m *Memtable) Size() int64 { return m.skl.Size() }

// Empty reports whether any entries have been written.
func (m *Memtable) Empty() bool { return m.skl.Count() == 0 }

// IsFull reports whether the memtable has reached the flush threshold.
func (m *Memtable) IsFull(thresholdBytes int64) bool {
	return m.skl.Size() >= thresholdBytes
}

// Iterator is a forward cursor over the memtable's InternalKeys in merge
// order (user key ascending, sequence descending).
type Iterator struct {
	it *arenaskl.SklIterator
}

// NewIter returns an unpositioned iterator.
func (m *Memtable) NewIter() *Iterator {
	return &Iterator{it: m.skl.NewIterator()}
}

// First positions the iterator at the smallest InternalKey.
func (it *Iterator) First() bool { return it.it.First() }

// SeekGE positions the iterator at the first InternalKey whose user key is
// >= target (and, among equal user keys, the highest sequence — satisfied
// automatically since that variant sorts first).
func (it *Iterator) SeekGE(target []byte) bool {
	seekKey := base.MakeInternalKey(target, base.SeqNumMax, base.InternalKeyKindDelete)
	return it.it.SeekGE(seekKey.EncodeAppend(nil))
}

// Valid reports whether the iterator is positioned at an entry.
func (it *Iterator) Valid() bool { return it.it.Valid() }

// Key returns the current InternalKey.
func (it *Iterator) Key() base.InternalKey {
	return base.DecodeInternalKey(it.it.Key())
}

// Value returns the current entry's value.
func (it *Iterator) Value() []byte { return it.it.Value() }

// Next advances to the next entry.
func (it *Iterator) Next() bool { return it.it.Next() }

// Close is a no-op: a memtable iterator holds no resources beyond the
// Memtable itself, which outlives the iterator.
func (it *Iterator) Close() error { return nil }
