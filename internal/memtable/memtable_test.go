package memtable

import (
	"testing"

	"github.com/G1DO/Storage-Engine/internal/base"
	"github.com/stretchr/testify/require"
)

func TestPutGetHighestSeqVisible(t *testing.T) {
	m := New(1, 1)
	m.Put([]byte("a"), 1, []byte("1"))
	m.Put([]byte("a"), 3, []byte("3"))
	m.Put([]byte("b"), 2, []byte("2"))

	v, tomb, ok := m.Get([]byte("a"), 10)
	require.True(t, ok)
	require.False(t, tomb)
	require.Equal(t, "3", string(v))

	v, _, ok = m.Get([]byte("a"), 2)
	require.True(t, ok)
	require.Equal(t, "1", string(v))

	_, _, ok = m.Get([]byte("a"), 0)
	require.False(t, ok)
}

func TestDeleteTombstone(t *testing.T) {
	m := New(1, 2)
	m.Put([]byte("k"), 1, []byte("v"))
	m.Delete([]byte("k"), 2)

	_, tomb, ok := m.Get([]byte("k"), 5)
	require.True(t, ok)
	require.True(t, tomb)
}

func TestIterOrderAscendingSeqDescending(t *testing.T) {
	m := New(1, 3)
	m.Put([]byte("a"), 1, []byte("1"))
	m.Put([]byte("a"), 2, []byte("2"))
	m.Put([]byte("b"), 1, []byte("b1"))

	it := m.NewIter()
	require.True(t, it.First())
	require.Equal(t, base.SeqNum(2), it.Key().SeqNum())
	require.True(t, it.Next())
	require.Equal(t, base.SeqNum(1), it.Key().SeqNum())
	require.True(t, it.Next())
	require.Equal(t, "b", string(it.Key().UserKey))
}

func TestIsFull(t *testing.T) {
	m := New(1, 4)
	require.False(t, m.IsFull(1024))
	m.Put([]byte("a"), 1, make([]byte, 2000))
	require.True(t, m.IsFull(1024))
}
