package iter

import (
	"container/heap"

	"github.com/G1DO/Storage-Engine/internal/base"
)

// MergeIterator combines N child iterators into one ascending stream using
// a min-heap keyed by (user key ascending, sequence descending, child
// priority ascending). Lower child index means a newer source: callers
// order children newest-first (active memtable, sealed memtable, L0
// newest-to-oldest, L1+...) so that on ties the heap prefers the newer
// entry.
//
// MergeIterator itself performs no deduplication or tombstone handling:
// that policy is layered above, not inside, the merge. See Dedup in
// dedup.go.
type MergeIterator struct {
	children []Iterator
	h        mergeHeap
	started  bool
}

// NewMergeIterator builds a MergeIterator over children, in newest-to-oldest
// priority order.
func NewMergeIterator(children ...Iterator) *MergeIterator {
	return &MergeIterator{children: children}
}

type heapItem struct {
	idx int // index into m.children; also the priority (lower = newer)
}

type mergeHeap struct {
	m     *MergeIterator
	items []heapItem
}

func (h *mergeHeap) Len() int { return len(h.items) }

func (h *mergeHeap) Less(i, j int) bool {
	ci := h.m.children[h.items[i].idx]
	cj := h.m.children[h.items[j].idx]
	c := base.InternalCompare(ci.Key(), cj.Key())
	if c != 0 {
		return c < 0
	}
	// Equal InternalKey (same user key and sequence, e.g. identical write
	// replayed from two sources): prefer the lower child index (newer
	// source).
	return h.items[i].idx < h.items[j].idx
}

func (h *mergeHeap) Swap(i, j int) { h.items[i], h.items[j] = h.items[j], h.items[i] }

func (h *mergeHeap) Push(x interface{}) { h.items = append(h.items, x.(heapItem)) }

func (h *mergeHeap) Pop() interface{} {
	n := len(h.items)
	it := h.items[n-1]
	h.items = h.items[:n-1]
	return it
}

func (m *MergeIterator) initHeap(seekFn func(c Iterator) bool) bool {
	m.h = mergeHeap{m: m}
	for idx, c := range m.children {
		if seekFn(c) {
			m.h.items = append(m.h.items, heapItem{idx: idx})
		}
	}
	heap.Init(&m.h)
	m.started = true
	return m.h.Len() > 0
}

// First positions the iterator at the smallest InternalKey across all
// children.
func (m *MergeIterator) First() bool {
	return m.initHeap(func(c Iterator) bool { return c.First() })
}

// SeekGE positions the iterator at the first InternalKey whose user key is
// >= target across all children.
func (m *MergeIterator) SeekGE(target []byte) bool {
	return m.initHeap(func(c Iterator) bool { return c.SeekGE(target) })
}

// Valid reports whether the iterator is positioned at an entry.
func (m *MergeIterator) Valid() bool {
	return m.started && m.h.Len() > 0
}

// Key returns the current winning InternalKey.
func (m *MergeIterator) Key() base.InternalKey {
	return m.children[m.h.items[0].idx].Key()
}

// Value returns the current winning value.
func (m *MergeIterator) Value() []byte {
	return m.children[m.h.items[0].idx].Value()
}

// Next pops the current winner, advances its source, and reinserts it into
// the heap if it is still valid.
func (m *MergeIterator) Next() bool {
	if !m.Valid() {
		return false
	}
	top := m.h.items[0].idx
	if m.children[top].Next() {
		heap.Fix(&m.h, 0)
	} else {
		heap.Pop(&m.h)
	}
	return m.Valid()
}

// Close closes every child iterator, returning the first error
// encountered (if any) after attempting to close them all.
func (m *MergeIterator) Close() error {
	var first error
	for _, c := range m.children {
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
