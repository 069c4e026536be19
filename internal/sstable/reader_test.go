package sstable

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/G1DO/Storage-Engine/internal/base"
	"github.com/G1DO/Storage-Engine/internal/cache"
	"github.com/stretchr/testify/require"
)

func buildTestTable(t *testing.T, n int, codec Compression) (string, []string) {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "000001.sst")
	f, err := os.Create(path)
	require.NoError(t, err)

	w := NewWriter(f, WriterOptions{BlockSizeBytes: 256, Compression: codec})
	var keys []string
	for i := 0; i < n; i++ {
		key := fmt.Sprintf("key-%05d", i)
		keys = append(keys, key)
		ik := base.MakeInternalKey([]byte(key), base.SeqNum(i+1), base.InternalKeyKindPut)
		require.NoError(t, w.Add(ik, []byte(fmt.Sprintf("value-%05d", i))))
	}
	_, err = w.Finish()
	require.NoError(t, err)
	require.NoError(t, w.Sync())
	require.NoError(t, w.Close())
	return path, keys
}

func TestReaderPointLookupPresentAndAbsent(t *testing.T) {
	path, keys := buildTestTable(t, 500, CompressionNone)
	r, err := Open(path, 1, cache.New(1<<20))
	require.NoError(t, err)
	defer r.Close()

	for i, key := range keys {
		val, tomb, found, err := r.Get([]byte(key), base.SeqNumMax)
		require.NoError(t, err)
		require.True(t, found)
		require.False(t, tomb)
		require.Equal(t, fmt.Sprintf("value-%05d", i), string(val))
	}

	_, _, found, err := r.Get([]byte("zzz-not-present"), base.SeqNumMax)
	require.NoError(t, err)
	require.False(t, found)
}

func TestReaderPointLookupRespectsReadSeq(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "000002.sst")
	f, err := os.Create(path)
	require.NoError(t, err)
	w := NewWriter(f, WriterOptions{})
	require.NoError(t, w.Add(base.MakeInternalKey([]byte("a"), 10, base.InternalKeyKindPut), []byte("v10")))
	require.NoError(t, w.Add(base.MakeInternalKey([]byte("a"), 5, base.InternalKeyKindPut), []byte("v5")))
	_, err = w.Finish()
	require.NoError(t, err)
	require.NoError(t, w.Close())

	r, err := Open(path, 2, nil)
	require.NoError(t, err)
	defer r.Close()

	val, _, found, err := r.Get([]byte("a"), 7)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "v5", string(val))

	val, _, found, err = r.Get([]byte("a"), 10)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "v10", string(val))
}

func TestReaderFullIteration(t *testing.T) {
	path, keys := buildTestTable(t, 300, CompressionSnappy)
	r, err := Open(path, 1, nil)
	require.NoError(t, err)
	defer r.Close()

	it := r.NewIter()
	i := 0
	for ok := it.First(); ok; ok = it.Next() {
		require.Equal(t, keys[i], string(it.Key().UserKey))
		i++
	}
	require.Equal(t, len(keys), i)
	require.NoError(t, it.Err())
}

func TestReaderRangeIterHaltsAtUpperBound(t *testing.T) {
	path, keys := buildTestTable(t, 200, CompressionZstd)
	r, err := Open(path, 1, cache.New(1<<20))
	require.NoError(t, err)
	defer r.Close()

	lo := []byte(keys[50])
	hi := []byte(keys[99])
	it := r.NewRangeIter(lo, hi)
	count := 0
	for it.Valid() {
		require.GreaterOrEqual(t, string(it.Key().UserKey), string(lo))
		require.LessOrEqual(t, string(it.Key().UserKey), string(hi))
		count++
		it.Next()
	}
	require.Equal(t, 50, count)
}
