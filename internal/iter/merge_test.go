package iter

import (
	"testing"

	"github.com/G1DO/Storage-Engine/internal/base"
	"github.com/stretchr/testify/require"
)

// sliceIter is a trivial in-memory Iterator over pre-sorted entries, used
// only to exercise MergeIterator/Dedup/SnapshotFilter in tests.
type sliceIter struct {
	entries []base.InternalKey
	values  [][]byte
	pos     int
}

func newSliceIter(entries []base.InternalKey, values [][]byte) *sliceIter {
	return &sliceIter{entries: entries, values: values, pos: -1}
}

func (s *sliceIter) First() bool {
	s.pos = 0
	return s.Valid()
}

func (s *sliceIter) SeekGE(target []byte) bool {
	for i, e := range s.entries {
		if base.Compare(e.UserKey, target) >= 0 {
			s.pos = i
			return true
		}
	}
	s.pos = len(s.entries)
	return false
}

func (s *sliceIter) Valid() bool { return s.pos >= 0 && s.pos < len(s.entries) }
func (s *sliceIter) Key() base.InternalKey { return s.entries[s.pos] }
func (s *sliceIter) Value() []byte         { return s.values[s.pos] }
func (s *sliceIter) Next() bool {
	s.pos++
	return s.Valid()
}
func (s *sliceIter) Close() error { return nil }

func ik(key string, seq base.SeqNum, kind base.InternalKeyKind) base.InternalKey {
	return base.MakeInternalKey([]byte(key), seq, kind)
}

func TestMergeIteratorInterleavesNewestFirst(t *testing.T) {
	// child 0 is "newer" than child 1.
	c0 := newSliceIter(
		[]base.InternalKey{ik("b", 5, base.InternalKeyKindPut)},
		[][]byte{[]byte("b5")},
	)
	c1 := newSliceIter(
		[]base.InternalKey{
			ik("a", 1, base.InternalKeyKindPut),
			ik("b", 2, base.InternalKeyKindPut),
			ik("c", 3, base.InternalKeyKindPut),
		},
		[][]byte{[]byte("a1"), []byte("b2"), []byte("c3")},
	)

	m := NewMergeIterator(c0, c1)
	require.True(t, m.First())

	var got []string
	for m.Valid() {
		got = append(got, string(m.Key().UserKey)+":"+string(m.Value()))
		m.Next()
	}
	require.Equal(t, []string{"a:a1", "b:b5", "b:b2", "c:c3"}, got)
}

func TestDedupSkipsOlderVersionsAndTombstones(t *testing.T) {
	c := newSliceIter(
		[]base.InternalKey{
			ik("a", 3, base.InternalKeyKindDelete),
			ik("a", 2, base.InternalKeyKindPut),
			ik("b", 1, base.InternalKeyKindPut),
		},
		[][]byte{nil, []byte("a2"), []byte("b1")},
	)
	d := NewDedup(c)
	require.True(t, d.First())
	require.Equal(t, "b", string(d.Key().UserKey))
	require.False(t, d.Next())
}

func TestSnapshotFilterHidesFutureWrites(t *testing.T) {
	c := newSliceIter(
		[]base.InternalKey{
			ik("a", 5, base.InternalKeyKindPut),
			ik("a", 1, base.InternalKeyKindPut),
		},
		[][]byte{[]byte("new"), []byte("old")},
	)
	sf := NewSnapshotFilter(c, 2)
	require.True(t, sf.First())
	require.Equal(t, base.SeqNum(1), sf.Key().SeqNum())
	require.Equal(t, "old", string(sf.Value()))
}

func TestMergeDedupSnapshotComposition(t *testing.T) {
	// Simulates active memtable (newer) + sstable (older) merged, then
	// filtered to a snapshot, then deduped.
	mem := newSliceIter(
		[]base.InternalKey{ik("x", 10, base.InternalKeyKindPut)},
		[][]byte{[]byte("v10")},
	)
	sst := newSliceIter(
		[]base.InternalKey{
			ik("x", 5, base.InternalKeyKindPut),
			ik("y", 4, base.InternalKeyKindPut),
		},
		[][]byte{[]byte("v5"), []byte("v4")},
	)
	merged := NewMergeIterator(mem, sst)
	snap := NewSnapshotFilter(merged, 5) // hide the seq=10 write
	d := NewDedup(snap)

	var got []string
	for ok := d.First(); ok; ok = d.Next() {
		got = append(got, string(d.Key().UserKey)+":"+string(d.Value()))
	}
	require.Equal(t, []string{"x:v5", "y:v4"}, got)
}
