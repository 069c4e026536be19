package lsmdb

import (
	"sync"

	"github.com/G1DO/Storage-Engine/internal/base"
)

// Snapshot pins a sequence number, giving reads through it a consistent
// view of the database as of the moment it was taken: writes committed
// afterward are invisible to it, and compactions keep any data still
// reachable at its sequence number alive until it's closed.
type Snapshot struct {
	db  *DB
	seq base.SeqNum
}

// Seq returns the pinned sequence number.
func (s *Snapshot) Seq() base.SeqNum { return s.seq }

// Get reads userKey as of the snapshot's sequence number.
func (s *Snapshot) Get(userKey []byte) ([]byte, error) {
	return s.db.getAt(userKey, s.seq)
}

// NewIter returns a range iterator over [lo, hi] as of the snapshot's
// sequence number. A nil lo or hi is unbounded on that side.
func (s *Snapshot) NewIter(lo, hi []byte) (*Iterator, error) {
	return s.db.newIterAt(lo, hi, s.seq)
}

// Close releases the snapshot, allowing compaction to reclaim versions
// that were kept alive only for its benefit.
func (s *Snapshot) Close() error {
	s.db.snapshots.remove(s.seq)
	return nil
}

// snapshotRegistry tracks every open Snapshot's pinned sequence number so
// compactions know which versions must not be collapsed away.
type snapshotRegistry struct {
	mu   sync.Mutex
	seqs map[base.SeqNum]int
}

func newSnapshotRegistry() *snapshotRegistry {
	return &snapshotRegistry{seqs: make(map[base.SeqNum]int)}
}

func (r *snapshotRegistry) add(seq base.SeqNum) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seqs[seq]++
}

func (r *snapshotRegistry) remove(seq base.SeqNum) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.seqs[seq] <= 1 {
		delete(r.seqs, seq)
	} else {
		r.seqs[seq]--
	}
}

// liveSeqs returns every distinct pinned sequence number, in no particular
// order (newCompactionIter sorts them).
func (r *snapshotRegistry) liveSeqs() []uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]uint64, 0, len(r.seqs))
	for seq := range r.seqs {
		out = append(out, uint64(seq))
	}
	return out
}
