package cache

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGetInsertRoundTrip(t *testing.T) {
	c := New(1 << 20)
	k := Key{FileNum: 1, Offset: 0}
	c.Insert(k, []byte("hello"))
	v, ok := c.Get(k)
	require.True(t, ok)
	require.Equal(t, []byte("hello"), v)
}

func TestEvictionUnderCapacity(t *testing.T) {
	c := New(numShards * 64) // 64 bytes/shard
	// Force everything into the same shard by using FileNum 0 with varying
	// offsets that still hash into shard 0 isn't guaranteed, so instead
	// just insert many entries and check total never exceeds capacity.
	for i := 0; i < 1000; i++ {
		c.Insert(Key{FileNum: uint64(i), Offset: 0}, make([]byte, 32))
	}
	// Each shard holds at most 64/32 = 2 of these entries.
	require.LessOrEqual(t, c.EntryCount(), numShards*2)
}

func TestDisabledCacheAlwaysMisses(t *testing.T) {
	c := New(0)
	k := Key{FileNum: 1, Offset: 0}
	c.Insert(k, []byte("x"))
	_, ok := c.Get(k)
	require.False(t, ok)
}
