package arenaskl

import (
	"bytes"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAddAndSeekGE(t *testing.T) {
	s := NewSkiplist(bytes.Compare, 1)
	for i := 0; i < 100; i += 2 {
		k := []byte(fmt.Sprintf("k%04d", i))
		s.Add(k, k)
	}

	k, v, ok := s.Ceil([]byte("k0005"))
	require.True(t, ok)
	require.Equal(t, "k0006", string(k))
	require.Equal(t, "k0006", string(v))
}

func TestIteratorOrdering(t *testing.T) {
	s := NewSkiplist(bytes.Compare, 2)
	want := []string{"a", "b", "c", "d", "e"}
	for _, k := range []string{"c", "a", "e", "b", "d"} {
		s.Add([]byte(k), []byte(k))
	}

	it := s.NewIterator()
	var got []string
	for ok := it.First(); ok; ok = it.Next() {
		got = append(got, string(it.Key()))
	}
	require.Equal(t, want, got)
}

func TestSizeAccounting(t *testing.T) {
	s := NewSkiplist(bytes.Compare, 3)
	require.EqualValues(t, 0, s.Size())
	s.Add([]byte("abc"), []byte("xyz123"))
	require.Greater(t, s.Size(), int64(9))
	require.EqualValues(t, 1, s.Count())
}
