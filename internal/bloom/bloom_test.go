package bloom

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNoFalseNegatives(t *testing.T) {
	b := NewBuilder(BitsPerKey(0.01))
	keys := make([][]byte, 0, 1000)
	for i := 0; i < 1000; i++ {
		k := []byte(fmt.Sprintf("key-%06d", i))
		keys = append(keys, k)
		b.Add(k)
	}
	f := b.Finish()
	for _, k := range keys {
		require.True(t, f.MayContain(k), "false negative for %q", k)
	}
}

func TestFalsePositiveRateBounded(t *testing.T) {
	const n = 20000
	b := NewBuilder(BitsPerKey(0.01))
	for i := 0; i < n; i++ {
		b.Add([]byte(fmt.Sprintf("present-%08d", i)))
	}
	f := b.Finish()

	falsePositives := 0
	for i := 0; i < n; i++ {
		if f.MayContain([]byte(fmt.Sprintf("absent-%08d", i))) {
			falsePositives++
		}
	}
	rate := float64(falsePositives) / float64(n)
	require.Less(t, rate, 0.02, "false positive rate too high: %f", rate)
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	b := NewBuilder(10)
	for i := 0; i < 500; i++ {
		b.Add([]byte(fmt.Sprintf("k%d", i)))
	}
	f := b.Finish()
	enc := f.Encode()

	decoded, err := Decode(enc)
	require.NoError(t, err)
	require.Equal(t, f.M, decoded.M)
	require.Equal(t, f.K, decoded.K)
	for i := 0; i < 500; i++ {
		require.True(t, decoded.MayContain([]byte(fmt.Sprintf("k%d", i))))
	}
}

func TestEmptyFilterMatchesEverything(t *testing.T) {
	var f *Filter
	require.True(t, f.MayContain([]byte("anything")))
}
