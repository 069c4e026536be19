package manifest

import (
	"sync/atomic"

	"github.com/google/btree"
)

const btreeDegree = 16

func newLevelTree() *btree.BTreeG[*FileMetadata] {
	return btree.NewG[*FileMetadata](btreeDegree, fileMetadataLess)
}

// Version is an immutable point-in-time view of the set of live SSTables,
// organized by level. Readers acquire a Version via Manifest.Current and
// hold a reference for the duration of an operation; compactions publish
// new Versions without blocking concurrent readers of the old one.
type Version struct {
	levels []*btree.BTreeG[*FileMetadata]
	refs   int32
}

// NewVersion returns an empty Version with the given number of levels.
func NewVersion(numLevels int) *Version {
	v := &Version{levels: make([]*btree.BTreeG[*FileMetadata], numLevels)}
	for i := range v.levels {
		v.levels[i] = newLevelTree()
	}
	return v
}

// NumLevels reports how many levels this version tracks.
func (v *Version) NumLevels() int { return len(v.levels) }

// Files returns every file at level, in ascending MinKey order.
func (v *Version) Files(level int) []*FileMetadata {
	var out []*FileMetadata
	v.levels[level].Ascend(func(f *FileMetadata) bool {
		out = append(out, f)
		return true
	})
	return out
}

// FileCount reports how many files live at level.
func (v *Version) FileCount(level int) int {
	return v.levels[level].Len()
}

// LevelSize sums the byte size of every file at level.
func (v *Version) LevelSize(level int) uint64 {
	var total uint64
	v.levels[level].Ascend(func(f *FileMetadata) bool {
		total += f.Size
		return true
	})
	return total
}

// Overlapping returns every file at level whose range intersects [lo, hi].
// For L0, where ranges may overlap, this scans the whole level; for
// higher levels it uses the btree's range ordering to avoid a full scan.
func (v *Version) Overlapping(level int, lo, hi []byte) []*FileMetadata {
	var out []*FileMetadata
	if level == 0 {
		v.levels[level].Ascend(func(f *FileMetadata) bool {
			if f.Overlaps(lo, hi) {
				out = append(out, f)
			}
			return true
		})
		return out
	}
	v.levels[level].Ascend(func(f *FileMetadata) bool {
		if hi != nil && f.MinKey != nil && len(f.MinKey) > 0 && boundExceeded(f.MinKey, hi) {
			return false
		}
		if f.Overlaps(lo, hi) {
			out = append(out, f)
		}
		return true
	})
	return out
}

func boundExceeded(key, hi []byte) bool {
	for i := 0; i < len(key) && i < len(hi); i++ {
		if key[i] > hi[i] {
			return true
		}
		if key[i] < hi[i] {
			return false
		}
	}
	return len(key) > len(hi)
}

// clone returns a shallow copy of v whose per-level btrees are
// structurally shared with v (google/btree's Clone is copy-on-write), so
// that applying an edit never mutates a Version already published to
// readers.
func (v *Version) clone() *Version {
	nv := &Version{levels: make([]*btree.BTreeG[*FileMetadata], len(v.levels))}
	for i, t := range v.levels {
		nv.levels[i] = t.Clone()
	}
	return nv
}

// Ref and Unref count the operations currently holding this Version.
// Compaction does not consult the count: it removes obsolete files from
// disk as soon as the edit retiring them is durable, even if an older
// Version that still lists them is referenced.
func (v *Version) Ref() { atomic.AddInt32(&v.refs, 1) }

// Unref releases a reference and reports whether this was the last one.
func (v *Version) Unref() bool { return atomic.AddInt32(&v.refs, -1) == 0 }
