package lsmdb

import (
	"testing"

	"github.com/G1DO/Storage-Engine/internal/base"
	"github.com/stretchr/testify/require"
)

// fixedIter is a trivial pre-sorted in-memory Iterator, used only to feed
// compactionIter deterministic input in tests.
type fixedIter struct {
	entries []base.InternalKey
	values  [][]byte
	pos     int
}

func newFixedIter(entries []base.InternalKey, values [][]byte) *fixedIter {
	return &fixedIter{entries: entries, values: values, pos: -1}
}

func (s *fixedIter) First() bool {
	s.pos = 0
	return s.Valid()
}
func (s *fixedIter) SeekGE(target []byte) bool {
	for i, e := range s.entries {
		if base.Compare(e.UserKey, target) >= 0 {
			s.pos = i
			return true
		}
	}
	s.pos = len(s.entries)
	return false
}
func (s *fixedIter) Valid() bool            { return s.pos >= 0 && s.pos < len(s.entries) }
func (s *fixedIter) Key() base.InternalKey { return s.entries[s.pos] }
func (s *fixedIter) Value() []byte          { return s.values[s.pos] }
func (s *fixedIter) Next() bool {
	s.pos++
	return s.Valid()
}
func (s *fixedIter) Close() error { return nil }

func fik(key string, seq base.SeqNum, kind base.InternalKeyKind) base.InternalKey {
	return base.MakeInternalKey([]byte(key), seq, kind)
}

// TestCompactionIterNoSnapshotsKeepsOnlyNewest verifies that with no live
// snapshots, every user key collapses to its single newest version.
func TestCompactionIterNoSnapshotsKeepsOnlyNewest(t *testing.T) {
	src := newFixedIter(
		[]base.InternalKey{
			fik("a", 5, base.InternalKeyKindPut),
			fik("a", 3, base.InternalKeyKindPut),
			fik("a", 1, base.InternalKeyKindPut),
			fik("b", 2, base.InternalKeyKindPut),
		},
		[][]byte{[]byte("a5"), []byte("a3"), []byte("a1"), []byte("b2")},
	)
	ci := newCompactionIter(src, nil, false)
	var got []string
	for ok := ci.First(); ok; ok = ci.Next() {
		got = append(got, string(ci.Key().UserKey)+":"+string(ci.Value()))
	}
	require.Equal(t, []string{"a:a5", "b:b2"}, got)
}

// TestCompactionIterBottommostElidesTombstone verifies a lone tombstone
// with no live snapshots and no lower level is dropped entirely.
func TestCompactionIterBottommostElidesTombstone(t *testing.T) {
	src := newFixedIter(
		[]base.InternalKey{
			fik("a", 10, base.InternalKeyKindDelete),
		},
		[][]byte{nil},
	)
	ci := newCompactionIter(src, nil, true)
	require.False(t, ci.First())
}

// TestCompactionIterNonBottommostKeepsTombstone verifies a tombstone
// survives when it isn't provably safe to drop (a lower level might still
// hold the shadowed value).
func TestCompactionIterNonBottommostKeepsTombstone(t *testing.T) {
	src := newFixedIter(
		[]base.InternalKey{
			fik("a", 10, base.InternalKeyKindDelete),
		},
		[][]byte{nil},
	)
	ci := newCompactionIter(src, nil, false)
	require.True(t, ci.First())
	require.True(t, ci.Key().IsTombstone())
	require.False(t, ci.Next())
}

// TestCompactionIterSnapshotStripePreservesOlderVersion is the worked
// example a naive "drop all but the newest" compaction gets wrong: a PUT
// at seq 5 followed by a DELETE at seq 10, with a live snapshot pinned at
// seq 7. The snapshot must still be able to read the PUT, so the DELETE
// cannot be collapsed into it even though nothing else will ever read
// seq 5 again once the snapshot closes — and even at the bottommost
// level, the DELETE is not the oldest surviving stripe, so it must not be
// elided.
func TestCompactionIterSnapshotStripePreservesOlderVersion(t *testing.T) {
	src := newFixedIter(
		[]base.InternalKey{
			fik("a", 10, base.InternalKeyKindDelete),
			fik("a", 5, base.InternalKeyKindPut),
		},
		[][]byte{nil, []byte("v5")},
	)
	ci := newCompactionIter(src, []uint64{7}, true)

	require.True(t, ci.First())
	require.Equal(t, base.SeqNum(10), ci.Key().SeqNum())
	require.True(t, ci.Key().IsTombstone())

	require.True(t, ci.Next())
	require.Equal(t, base.SeqNum(5), ci.Key().SeqNum())
	require.Equal(t, "v5", string(ci.Value()))

	require.False(t, ci.Next())
}

// TestCompactionIterOldestStripeTombstoneElidedAtBottommost checks the
// companion case: when the tombstone IS in the oldest stripe (no snapshot
// protects an even-older version behind it) and we're at the bottommost
// level, it is safe to drop.
func TestCompactionIterOldestStripeTombstoneElidedAtBottommost(t *testing.T) {
	src := newFixedIter(
		[]base.InternalKey{
			fik("a", 20, base.InternalKeyKindPut),
			fik("a", 3, base.InternalKeyKindDelete),
		},
		[][]byte{[]byte("v20"), nil},
	)
	ci := newCompactionIter(src, []uint64{10}, true)

	require.True(t, ci.First())
	require.Equal(t, base.SeqNum(20), ci.Key().SeqNum())
	require.Equal(t, "v20", string(ci.Value()))

	require.False(t, ci.Next())
}

func TestStripeCeil(t *testing.T) {
	ci := newCompactionIter(newFixedIter(nil, nil), []uint64{5, 10, 20}, false)
	require.Equal(t, uint64(5), ci.stripeCeil(1))
	require.Equal(t, uint64(5), ci.stripeCeil(5))
	require.Equal(t, uint64(20), ci.stripeCeil(15))
	require.Equal(t, uint64(20), ci.stripeCeil(20))
	require.Equal(t, ^uint64(0), ci.stripeCeil(25))
}
