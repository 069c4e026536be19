// Package manifest tracks which SSTables exist, which level each belongs
// to, and the log sequence of edits (compactions, flushes) that produced
// the current state. A Version is an immutable snapshot of that state;
// edits are published by swapping in a new Version built from the
// previous one plus a VersionEdit.
package manifest

import (
	"github.com/G1DO/Storage-Engine/internal/base"
)

// FileMetadata describes one on-disk SSTable.
type FileMetadata struct {
	FileNum uint64
	Size    uint64

	MinKey []byte
	MaxKey []byte

	MinSeq base.SeqNum
	MaxSeq base.SeqNum

	// MarkedForCompaction is carried through version-edit encoding and
	// decoding. No code path sets it, and the compaction pickers do not
	// read it.
	MarkedForCompaction bool
}

// Overlaps reports whether the file's key range intersects [lo, hi].
// A nil lo or hi means unbounded on that side.
func (m *FileMetadata) Overlaps(lo, hi []byte) bool {
	if hi != nil && base.Compare(m.MinKey, hi) > 0 {
		return false
	}
	if lo != nil && base.Compare(m.MaxKey, lo) < 0 {
		return false
	}
	return true
}

// fileMetadataLess orders files within a level by their minimum key, which
// is sufficient since non-L0 levels maintain non-overlapping ranges. L0
// files may overlap and share a minimum key, so ties are broken by FileNum
// to keep entries distinct; newLevelTree uses this order for every level.
func fileMetadataLess(a, b *FileMetadata) bool {
	if c := base.Compare(a.MinKey, b.MinKey); c != 0 {
		return c < 0
	}
	return a.FileNum < b.FileNum
}
