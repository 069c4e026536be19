// Package cache implements a bounded block cache: an LRU keyed by (file id,
// block offset) mapping to a decoded block, byte-bounded
// using each block's in-memory size, safe for concurrent Get and Insert.
// The cache is advisory — every correctness property of the engine holds
// with it disabled (capacity 0).
package cache

import (
	"sync"

	"github.com/cespare/xxhash/v2"
)

// Key identifies a cached block by the SSTable it came from and its byte
// offset within that file.
type Key struct {
	FileNum uint64
	Offset  uint64
}

// hash hashes a Key (file number and block offset) for shard selection in
// shardFor, spreading lock contention across concurrent readers.
func (k Key) hash() uint64 {
	var buf [16]byte
	putUint64(buf[0:8], k.FileNum)
	putUint64(buf[8:16], k.Offset)
	return xxhash.Sum64(buf[:])
}

func putUint64(b []byte, v uint64) {
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (8 * i))
	}
}

const numShards = 16

// Cache is a byte-bounded LRU from Key to decoded block bytes.
type Cache struct {
	capacity int64
	shards   [numShards]shard
}

type shard struct {
	mu       sync.Mutex
	size     int64
	capacity int64
	ll       entryList
	index    map[Key]*entry
}

type entry struct {
	key        Key
	value      []byte
	next, prev *entry
}

// New creates a Cache with the given total byte capacity. A capacity of 0
// disables caching: Get always misses and Insert is a no-op.
func New(capacityBytes int64) *Cache {
	c := &Cache{capacity: capacityBytes}
	perShard := capacityBytes / numShards
	for i := range c.shards {
		c.shards[i].capacity = perShard
		c.shards[i].index = make(map[Key]*entry)
		c.shards[i].ll.init()
	}
	return c
}

// Disabled reports whether this cache was constructed with zero capacity.
func (c *Cache) Disabled() bool { return c.capacity <= 0 }

func (c *Cache) shardFor(k Key) *shard {
	return &c.shards[k.hash()%numShards]
}

// Get returns the cached block for k, if present, promoting it to
// most-recently-used.
func (c *Cache) Get(k Key) ([]byte, bool) {
	if c.Disabled() {
		return nil, false
	}
	s := c.shardFor(k)
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.index[k]
	if !ok {
		return nil, false
	}
	s.ll.moveToFront(e)
	return e.value, true
}

// Insert adds a block to the cache, evicting least-recently-used entries
// until the shard is back under capacity.
func (c *Cache) Insert(k Key, value []byte) {
	if c.Disabled() {
		return
	}
	s := c.shardFor(k)
	s.mu.Lock()
	defer s.mu.Unlock()

	if e, ok := s.index[k]; ok {
		s.size += int64(len(value)) - int64(len(e.value))
		e.value = value
		s.ll.moveToFront(e)
	} else {
		e := &entry{key: k, value: value}
		s.index[k] = e
		s.ll.pushFront(e)
		s.size += int64(len(value))
	}

	for s.size > s.capacity && !s.ll.empty() {
		victim := s.ll.back()
		s.ll.remove(victim)
		delete(s.index, victim.key)
		s.size -= int64(len(victim.value))
	}
}

// EntryCount returns the number of blocks currently cached, for tests.
func (c *Cache) EntryCount() int {
	n := 0
	for i := range c.shards {
		c.shards[i].mu.Lock()
		n += len(c.shards[i].index)
		c.shards[i].mu.Unlock()
	}
	return n
}

// entryList is a doubly-linked circular list of *entry, avoiding a separate
// allocation for every list node the way container/list would require.
type entryList struct {
	root entry
}

func (l *entryList) init() {
	l.root.next = &l.root
	l.root.prev = &l.root
}

func (l *entryList) empty() bool { return l.root.next == &l.root }

func (l *entryList) back() *entry { return l.root.prev }

func (l *entryList) pushFront(e *entry) {
	n := l.root.next
	l.root.next = e
	e.prev = &l.root
	e.next = n
	n.prev = e
}

func (l *entryList) remove(e *entry) {
	e.prev.next = e.next
	e.next.prev = e.prev
	e.next, e.prev = nil, nil
}

func (l *entryList) moveToFront(e *entry) {
	if l.root.next == e {
		return
	}
	e.prev.next = e.next
	e.next.prev = e.prev
	l.pushFront(e)
}
