// Block implements the on-disk unit of an SSTable: a prefix-compressed,
// sorted run of InternalKey -> value entries with periodic restart points
// that let a reader binary-search before linear-scanning.
package sstable

import (
	"encoding/binary"

	"github.com/G1DO/Storage-Engine/internal/base"
)

// RestartInterval is the build-time constant controlling how often a
// restart point (a full, uncompressed key) is emitted.
const RestartInterval = 16

// BlockBuilder accumulates sorted InternalKey/value pairs into the entry
// format:
//
//	[shared_prefix_len | unshared_len | value_len | unshared_key_bytes | value_bytes]
//
// followed, on Finish, by the restart-point offsets and their count.
type BlockBuilder struct {
	buf          []byte
	restarts     []uint32
	lastKey      []byte // last full encoded InternalKey emitted
	entriesSince int
	nEntries     int
}

// NewBlockBuilder returns an empty builder.
func NewBlockBuilder() *BlockBuilder {
	b := &BlockBuilder{}
	b.reset()
	return b
}

func (b *BlockBuilder) reset() {
	b.buf = b.buf[:0]
	b.restarts = b.restarts[:0]
	b.lastKey = b.lastKey[:0]
	b.entriesSince = 0
	b.nEntries = 0
}

// Reset clears the builder for reuse.
func (b *BlockBuilder) Reset() { b.reset() }

// Empty reports whether any entry has been added since the last reset.
func (b *BlockBuilder) Empty() bool { return b.nEntries == 0 }

// EstimatedSize returns the builder's in-progress size in bytes, used to
// decide when to close the current block: target-sized, but closed only
// on an entry boundary.
func (b *BlockBuilder) EstimatedSize() int {
	return len(b.buf) + 4*len(b.restarts) + 4
}

func sharedPrefixLen(a, b []byte) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	i := 0
	for i < n && a[i] == b[i] {
		i++
	}
	return i
}

// Add appends key/value to the block. Keys must be added in ascending
// InternalKey order.
func (b *BlockBuilder) Add(key base.InternalKey, value []byte) {
	encodedKey := key.EncodeAppend(nil)

	shared := 0
	if b.entriesSince < RestartInterval {
		shared = sharedPrefixLen(b.lastKey, encodedKey)
	} else {
		b.restarts = append(b.restarts, uint32(len(b.buf)))
		b.entriesSince = 0
	}
	unshared := encodedKey[shared:]

	b.buf = appendUvarint(b.buf, uint64(shared))
	b.buf = appendUvarint(b.buf, uint64(len(unshared)))
	b.buf = appendUvarint(b.buf, uint64(len(value)))
	b.buf = append(b.buf, unshared...)
	b.buf = append(b.buf, value...)

	b.lastKey = append(b.lastKey[:0], encodedKey...)
	b.entriesSince++
	b.nEntries++
}

func appendUvarint(dst []byte, v uint64) []byte {
	var scratch [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(scratch[:], v)
	return append(dst, scratch[:n]...)
}

// Finish serializes the block: entries, then the restart-offset array,
// then the restart count.
func (b *BlockBuilder) Finish() []byte {
	if len(b.restarts) == 0 || b.restarts[0] != 0 {
		// The first entry is always implicitly a restart point.
		b.restarts = append([]uint32{0}, b.restarts...)
	}
	out := make([]byte, len(b.buf)+4*len(b.restarts)+4)
	n := copy(out, b.buf)
	for _, r := range b.restarts {
		binary.LittleEndian.PutUint32(out[n:], r)
		n += 4
	}
	binary.LittleEndian.PutUint32(out[n:], uint32(len(b.restarts)))
	return out
}

// BlockReader decodes a finished block for point lookup and iteration.
type BlockReader struct {
	data     []byte
	restarts []uint32
}

// NewBlockReader wraps the raw bytes of a finished block.
func NewBlockReader(data []byte) *BlockReader {
	if len(data) < 4 {
		return &BlockReader{data: data}
	}
	n := binary.LittleEndian.Uint32(data[len(data)-4:])
	restarts := make([]uint32, n)
	restartsStart := len(data) - 4 - 4*int(n)
	if restartsStart < 0 {
		return &BlockReader{data: data}
	}
	for i := 0; i < int(n); i++ {
		restarts[i] = binary.LittleEndian.Uint32(data[restartsStart+4*i:])
	}
	return &BlockReader{data: data[:restartsStart], restarts: restarts}
}

type blockEntry struct {
	key   []byte // decoded full encoded InternalKey
	value []byte
	next  int // offset just past this entry
}

func decodeEntryAt(data []byte, offset int, prevKey []byte) (blockEntry, bool) {
	if offset >= len(data) {
		return blockEntry{}, false
	}
	p := offset
	shared, n := binary.Uvarint(data[p:])
	if n <= 0 {
		return blockEntry{}, false
	}
	p += n
	unsharedLen, n := binary.Uvarint(data[p:])
	if n <= 0 {
		return blockEntry{}, false
	}
	p += n
	valueLen, n := binary.Uvarint(data[p:])
	if n <= 0 {
		return blockEntry{}, false
	}
	p += n
	if p+int(unsharedLen)+int(valueLen) > len(data) {
		return blockEntry{}, false
	}
	key := make([]byte, int(shared)+int(unsharedLen))
	copy(key, prevKey[:shared])
	copy(key[shared:], data[p:p+int(unsharedLen)])
	p += int(unsharedLen)
	value := data[p : p+int(valueLen)]
	p += int(valueLen)
	return blockEntry{key: key, value: value, next: p}, true
}

// BlockIterator walks a decoded block in ascending InternalKey order.
type BlockIterator struct {
	r       *BlockReader
	offset  int
	cur     blockEntry
	valid   bool
}

// NewIterator returns an unpositioned iterator over the block.
func (r *BlockReader) NewIterator() *BlockIterator {
	return &BlockIterator{r: r}
}

// First positions the iterator at the block's first entry.
func (it *BlockIterator) First() bool {
	it.offset = 0
	e, ok := decodeEntryAt(it.r.data, 0, nil)
	it.cur, it.valid = e, ok
	if ok {
		it.offset = e.next
	}
	return ok
}

// seekRestart returns the byte offset of the restart point at or
// immediately before the first entry whose key is >= target, via binary
// search over the restart array.
func (it *BlockIterator) seekRestart(target []byte) int {
	lo, hi := 0, len(it.r.restarts)-1
	best := 0
	t := base.DecodeInternalKey(target)
	for lo <= hi {
		mid := (lo + hi) / 2
		e, ok := decodeEntryAt(it.r.data, int(it.r.restarts[mid]), nil)
		if !ok {
			hi = mid - 1
			continue
		}
		if base.InternalCompare(base.DecodeInternalKey(e.key), t) <= 0 {
			best = mid
			lo = mid + 1
		} else {
			hi = mid - 1
		}
	}
	return int(it.r.restarts[best])
}

// SeekGE positions the iterator at the first entry whose encoded key is
// >= target (target must itself be an encoded InternalKey, so that
// sequence-aware seeking from higher layers works unmodified).
func (it *BlockIterator) SeekGE(target []byte) bool {
	if len(it.r.restarts) == 0 {
		return it.First()
	}
	off := it.seekRestart(target)
	t := base.DecodeInternalKey(target)
	var prevKey []byte
	for {
		e, ok := decodeEntryAt(it.r.data, off, prevKey)
		if !ok {
			it.valid = false
			return false
		}
		if base.InternalCompare(base.DecodeInternalKey(e.key), t) >= 0 {
			it.cur = e
			it.offset = e.next
			it.valid = true
			return true
		}
		prevKey = e.key
		off = e.next
	}
}

// Valid reports whether the iterator is positioned at an entry.
func (it *BlockIterator) Valid() bool { return it.valid }

// Key returns the current entry's decoded InternalKey.
func (it *BlockIterator) Key() base.InternalKey { return base.DecodeInternalKey(it.cur.key) }

// Value returns the current entry's value.
func (it *BlockIterator) Value() []byte { return it.cur.value }

// Next advances to the next entry.
func (it *BlockIterator) Next() bool {
	if !it.valid {
		return false
	}
	e, ok := decodeEntryAt(it.r.data, it.offset, it.cur.key)
	it.cur, it.valid = e, ok
	if ok {
		it.offset = e.next
	}
	return ok
}

// Close is a no-op: block iterators hold no resources beyond the
// in-memory byte slice they were constructed from.
func (it *BlockIterator) Close() error { return nil }
