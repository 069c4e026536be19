package iter

import "github.com/G1DO/Storage-Engine/internal/base"

// SnapshotFilter wraps a merge-ordered Iterator and skips every entry
// whose sequence number exceeds a snapshot horizon, so that a reader
// capturing seq S at time T never observes a write committed after T —
// the snapshot-isolation property.
//
// It is meant to sit beneath Dedup: Dedup then sees only the subset of
// versions visible as of the snapshot, so "highest sequence" resolves
// correctly within that view.
type SnapshotFilter struct {
	src      Iterator
	maxSeq   base.SeqNum
}

// NewSnapshotFilter wraps src, hiding entries with sequence > maxSeq.
func NewSnapshotFilter(src Iterator, maxSeq base.SeqNum) *SnapshotFilter {
	return &SnapshotFilter{src: src, maxSeq: maxSeq}
}

func (s *SnapshotFilter) skipInvisible() bool {
	for s.src.Valid() {
		if s.src.Key().SeqNum() <= s.maxSeq {
			return true
		}
		s.src.Next()
	}
	return false
}

// First positions at the first visible entry.
func (s *SnapshotFilter) First() bool {
	if !s.src.First() {
		return false
	}
	return s.skipInvisible()
}

// SeekGE positions at the first visible entry with user key >= target.
func (s *SnapshotFilter) SeekGE(target []byte) bool {
	if !s.src.SeekGE(target) {
		return false
	}
	return s.skipInvisible()
}

// Valid reports whether the iterator is positioned at a visible entry.
func (s *SnapshotFilter) Valid() bool {
	return s.src.Valid() && s.src.Key().SeqNum() <= s.maxSeq
}

// Key returns the current visible entry's InternalKey.
func (s *SnapshotFilter) Key() base.InternalKey { return s.src.Key() }

// Value returns the current visible entry's value.
func (s *SnapshotFilter) Value() []byte { return s.src.Value() }

// Next advances to the next visible entry.
func (s *SnapshotFilter) Next() bool {
	if !s.src.Valid() {
		return false
	}
	s.src.Next()
	return s.skipInvisible()
}

// Close closes the wrapped iterator.
func (s *SnapshotFilter) Close() error { return s.src.Close() }
