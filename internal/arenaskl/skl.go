// Package arenaskl implements the sorted, probabilistic balanced structure
// backing the memtable: a skip list with geometric level distribution, max
// height ~12, p=0.25. Unlike a lock-free, arena-allocated skip list, this
// variant is guarded by a single RWMutex — appropriate given the engine's
// single-writer model and considerably simpler to reason about. The
// height-generation scheme (a precomputed per-level probability table
// consulted once per insert) follows the classic skip list construction.
package arenaskl

import (
	"math"
	"math/rand"
	"sync"
)

const (
	maxHeight = 12
	pValue    = 0.25
)

var probabilityTable [maxHeight]uint32

func init() {
	p := 1.0
	for i := 0; i < maxHeight; i++ {
		probabilityTable[i] = uint32(float64(math.MaxUint32) * p)
		p *= pValue
	}
}

func randomHeight(r *rand.Rand) int {
	h := 1
	rnd := r.Uint32()
	for h < maxHeight && rnd < probabilityTable[h] {
		h++
	}
	return h
}

// Comparer orders two keys. For the memtable this is
// base.InternalCompare.
type Comparer func(a, b []byte) int

type node struct {
	key   []byte
	value []byte
	tower [maxHeight]*node
}

// Skiplist is a sorted, mutable, concurrency-safe map from encoded key to
// value bytes, ordered by Comparer.
type Skiplist struct {
	mu       sync.RWMutex
	cmp      Comparer
	rnd      *rand.Rand
	head     *node
	height   int
	size     int64 // running byte estimate of keys + values + overhead
	numKeys  int64
}

// perEntryOverhead approximates the bookkeeping cost of a single skip list
// node beyond its key and value bytes, feeding the memtable's
// byte-accounted size estimate.
const perEntryOverhead = 32

// NewSkiplist creates an empty Skiplist ordered by cmp.
func NewSkiplist(cmp Comparer, seed int64) *Skiplist {
	return &Skiplist{
		cmp:    cmp,
		rnd:    rand.New(rand.NewSource(seed)),
		head:   &node{},
		height: 1,
	}
}

// Size returns the running byte-accounted size estimate.
func (s *Skiplist) Size() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.size
}

// Count returns the number of entries, including overwritten InternalKeys
// for distinct sequence numbers (the skip list never merges: every Add
// call for a new InternalKey results in a new node, even for the same user
// key, which is how MVCC history is preserved in the memtable).
func (s *Skiplist) Count() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.numKeys
}

// findSpliceLocked returns, for each level, the predecessor node whose
// successor at that level is >= key (or nil at the tail).
func (s *Skiplist) findSpliceLocked(key []byte) (prev [maxHeight]*node) {
	x := s.head
	for level := s.height - 1; level >= 0; level-- {
		for x.tower[level] != nil && s.cmp(x.tower[level].key, key) < 0 {
			x = x.tower[level]
		}
		prev[level] = x
	}
	return prev
}

// Add inserts key -> value. Keys are never updated in place: InternalKeys
// differ by sequence number even for the same user key, so every Add
// allocates a fresh node, preserving the MVCC history an append-mostly
// memtable relies on.
func (s *Skiplist) Add(key, value []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev := s.findSpliceLocked(key)
	h := randomHeight(s.rnd)
	if h > s.height {
		for level := s.height; level < h; level++ {
			prev[level] = s.head
		}
		s.height = h
	}

	n := &node{key: key, value: value}
	for level := 0; level < h; level++ {
		n.tower[level] = prev[level].tower[level]
		prev[level].tower[level] = n
	}

	s.size += int64(len(key)) + int64(len(value)) + perEntryOverhead
	s.numKeys++
}

// Ceil returns the first node whose key is >= target, or nil.
func (s *Skiplist) Ceil(target []byte) (key, value []byte, ok bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	x := s.head
	for level := s.height - 1; level >= 0; level-- {
		for x.tower[level] != nil && s.cmp(x.tower[level].key, target) < 0 {
			x = x.tower[level]
		}
	}
	n := x.tower[0]
	if n == nil {
		return nil, nil, false
	}
	return n.key, n.value, true
}

// SklIterator is a forward cursor over a Skiplist: because nodes are never
// unlinked once inserted, an iterator started at time T may also observe
// inserts that happen after T ahead of its position. Each positioning call
// (First, SeekGE, Next) takes the list's read lock.
type SklIterator struct {
	list *Skiplist
	cur  *node
}

// NewIterator returns an unpositioned iterator over the list.
func (s *Skiplist) NewIterator() *SklIterator {
	return &SklIterator{list: s}
}

// SeekGE positions the iterator at the first key >= target.
func (it *SklIterator) SeekGE(target []byte) bool {
	it.list.mu.RLock()
	defer it.list.mu.RUnlock()
	x := it.list.head
	for level := it.list.height - 1; level >= 0; level-- {
		for x.tower[level] != nil && it.list.cmp(x.tower[level].key, target) < 0 {
			x = x.tower[level]
		}
	}
	it.cur = x.tower[0]
	return it.cur != nil
}

// First positions the iterator at the smallest key.
func (it *SklIterator) First() bool {
	it.list.mu.RLock()
	defer it.list.mu.RUnlock()
	it.cur = it.list.head.tower[0]
	return it.cur != nil
}

// Valid reports whether the iterator is positioned at an entry.
func (it *SklIterator) Valid() bool { return it.cur != nil }

// Key returns the current entry's key.
func (it *SklIterator) Key() []byte { return it.cur.key }

// Value returns the current entry's value.
func (it *SklIterator) Value() []byte { return it.cur.value }

// Next advances to the next entry in ascending key order.
func (it *SklIterator) Next() bool {
	it.list.mu.RLock()
	defer it.list.mu.RUnlock()
	if it.cur == nil {
		return false
	}
	it.cur = it.cur.tower[0]
	return it.cur != nil
}
