// Package bloom implements a per-SSTable probabilistic membership filter:
// a fixed-size bit array sized from an expected element count and target
// false-positive rate, probed with double hashing derived from a single
// 128-bit hash of the key. The filter guarantees zero false negatives.
package bloom

import (
	"encoding/binary"
	"math"

	"github.com/bits-and-blooms/bitset"
	"github.com/spaolacci/murmur3"
)

// Params holds the sizing parameters recorded alongside the filter bits.
type Params struct {
	M uint32 // number of bits
	K uint32 // number of probes
}

// Filter is a built, immutable bloom filter: its Params plus the bit array.
type Filter struct {
	Params
	bits *bitset.BitSet
}

// BitsPerKey returns ceil(-1.44 * log2(p)), the bits-per-key figure derived
// from a target false-positive rate.
func BitsPerKey(fpr float64) uint32 {
	if fpr <= 0 || fpr >= 1 {
		fpr = 0.01
	}
	bpk := math.Ceil(-1.44 * math.Log2(fpr))
	if bpk < 1 {
		bpk = 1
	}
	return uint32(bpk)
}

// sizeParams computes (m, k) from an expected element count and
// bits-per-key:
//
//	m = max(64, n*bits_per_key) rounded up to a multiple of 64
//	k = max(1, round(bits_per_key * ln2))
func sizeParams(n int, bitsPerKey uint32) Params {
	m := uint64(n) * uint64(bitsPerKey)
	if m < 64 {
		m = 64
	}
	if rem := m % 64; rem != 0 {
		m += 64 - rem
	}
	k := uint32(math.Round(float64(bitsPerKey) * math.Ln2))
	if k < 1 {
		k = 1
	}
	return Params{M: uint32(m), K: k}
}

// Builder accumulates keys and produces a Filter on Finish.
type Builder struct {
	bitsPerKey uint32
	keys       [][]byte
}

// NewBuilder creates a Builder targeting bitsPerKey bits of filter state per
// inserted key.
func NewBuilder(bitsPerKey uint32) *Builder {
	if bitsPerKey < 1 {
		bitsPerKey = 10
	}
	return &Builder{bitsPerKey: bitsPerKey}
}

// Add records a key for inclusion in the filter built by Finish.
func (b *Builder) Add(key []byte) {
	// Keys must outlive Finish; callers hand us SSTable build-time keys
	// that are already immutable for the duration of the build.
	b.keys = append(b.keys, key)
}

// Len reports how many keys have been added so far.
func (b *Builder) Len() int { return len(b.keys) }

// Reset clears the builder for reuse.
func (b *Builder) Reset() {
	b.keys = b.keys[:0]
}

// Finish builds the Filter over every key added since the last Reset.
func (b *Builder) Finish() *Filter {
	p := sizeParams(len(b.keys), b.bitsPerKey)
	bs := bitset.New(uint(p.M))
	f := &Filter{Params: p, bits: bs}
	for _, k := range b.keys {
		f.insert(k)
	}
	return f
}

// hashes returns the double-hashing pair (h1, h2) derived from a single
// 128-bit murmur3 hash of the key.
func hashes(key []byte) (uint64, uint64) {
	return murmur3.Sum128(key)
}

func (f *Filter) probe(i uint32, h1, h2 uint64) uint32 {
	combined := h1 + uint64(i)*h2
	return uint32(combined % uint64(f.M))
}

func (f *Filter) insert(key []byte) {
	h1, h2 := hashes(key)
	for i := uint32(0); i < f.K; i++ {
		f.bits.Set(uint(f.probe(i, h1, h2)))
	}
}

// MayContain returns false only if key was definitely never inserted; it
// may return true for keys that were never inserted (a false positive),
// but never false for one that was (zero false negatives).
func (f *Filter) MayContain(key []byte) bool {
	if f == nil || f.M == 0 {
		return true
	}
	h1, h2 := hashes(key)
	for i := uint32(0); i < f.K; i++ {
		if !f.bits.Test(uint(f.probe(i, h1, h2))) {
			return false
		}
	}
	return true
}

// Encode serializes m, k, and the bit array as little-endian 64-bit words,
// matching the filter-block layout embedded in each SSTable.
func (f *Filter) Encode() []byte {
	words := f.bits.Bytes()
	buf := make([]byte, 8+8*len(words))
	binary.LittleEndian.PutUint32(buf[0:4], f.M)
	binary.LittleEndian.PutUint32(buf[4:8], f.K)
	for i, w := range words {
		binary.LittleEndian.PutUint64(buf[8+8*i:], w)
	}
	return buf
}

// Decode parses the wire form written by Encode.
func Decode(buf []byte) (*Filter, error) {
	if len(buf) < 8 {
		return nil, errShortFilterBlock
	}
	m := binary.LittleEndian.Uint32(buf[0:4])
	k := binary.LittleEndian.Uint32(buf[4:8])
	nWords := (int(m) + 63) / 64
	if len(buf) < 8+8*nWords {
		return nil, errShortFilterBlock
	}
	words := make([]uint64, nWords)
	for i := 0; i < nWords; i++ {
		words[i] = binary.LittleEndian.Uint64(buf[8+8*i:])
	}
	bs := bitset.From(words)
	return &Filter{Params: Params{M: m, K: k}, bits: bs}, nil
}

var errShortFilterBlock = &filterDecodeError{"truncated filter block"}

type filterDecodeError struct{ msg string }

func (e *filterDecodeError) Error() string { return e.msg }
