package iter

import "github.com/G1DO/Storage-Engine/internal/base"

// Dedup wraps a merge-ordered Iterator (ascending user key, descending
// sequence per user key) and yields exactly one entry per user key: the
// value bound to its highest sequence, or nothing if that binding is a
// tombstone: it skips entries whose user key equals the previously
// emitted user key, and skips Deletion-tagged entries.
type Dedup struct {
	src     Iterator
	lastKey []byte
	hasLast bool
}

// NewDedup wraps src.
func NewDedup(src Iterator) *Dedup {
	return &Dedup{src: src}
}

func (d *Dedup) advanceToNextLiveKey() bool {
	for d.src.Valid() {
		k := d.src.Key()
		if d.hasLast && base.Equal(k.UserKey, d.lastKey) {
			// Older version of a key we already emitted (or already
			// decided to skip as tombstoned); skip it.
			d.src.Next()
			continue
		}
		d.lastKey = append(d.lastKey[:0], k.UserKey...)
		d.hasLast = true
		if k.IsTombstone() {
			// Emit nothing for this user key, but remember we've "seen"
			// it so older versions underneath are skipped too.
			d.src.Next()
			continue
		}
		return true
	}
	return false
}

// First positions at the first live (non-tombstoned) entry.
func (d *Dedup) First() bool {
	d.hasLast = false
	if !d.src.First() {
		return false
	}
	return d.advanceToNextLiveKey()
}

// SeekGE positions at the first live entry with user key >= target.
func (d *Dedup) SeekGE(target []byte) bool {
	d.hasLast = false
	if !d.src.SeekGE(target) {
		return false
	}
	return d.advanceToNextLiveKey()
}

// Valid reports whether the iterator is positioned at a live entry.
func (d *Dedup) Valid() bool { return d.src.Valid() }

// Key returns the current live entry's InternalKey.
func (d *Dedup) Key() base.InternalKey { return d.src.Key() }

// Value returns the current live entry's value.
func (d *Dedup) Value() []byte { return d.src.Value() }

// Next advances to the next live entry.
func (d *Dedup) Next() bool {
	if !d.src.Valid() {
		return false
	}
	d.src.Next()
	return d.advanceToNextLiveKey()
}

// Close closes the wrapped iterator.
func (d *Dedup) Close() error { return d.src.Close() }
