// Package base holds the primitives shared by every layer of the engine:
// the InternalKey form used inside memtables and SSTables, user-key
// comparison, and sequence-number bookkeeping.
package base

import (
	"encoding/binary"
	"fmt"
)

// InternalKeyKind tags an InternalKey as a live value or a tombstone.
type InternalKeyKind uint8

const (
	// InternalKeyKindPut marks a live value.
	InternalKeyKindPut InternalKeyKind = 0x01
	// InternalKeyKindDelete marks a tombstone.
	InternalKeyKindDelete InternalKeyKind = 0x02
)

func (k InternalKeyKind) String() string {
	switch k {
	case InternalKeyKindPut:
		return "SET"
	case InternalKeyKindDelete:
		return "DEL"
	default:
		return fmt.Sprintf("UNKNOWN(%02x)", uint8(k))
	}
}

// SeqNum is the 64-bit write sequence number. Sequence numbers are strictly
// monotonic across the lifetime of a database.
type SeqNum uint64

// SeqNumMax is the largest representable sequence number, used as the
// snapshot horizon for reads that should see every committed write.
const SeqNumMax SeqNum = 1<<64 - 1

// trailerSize is the encoded size, in bytes, of the (seqnum, kind) trailer
// appended after the user key in an InternalKey: 8 bytes of sequence number
// plus 1 byte of kind.
const trailerSize = 9

// InternalKey is the unit stored inside memtables and SSTables: a user key
// together with the sequence number and kind that give it MVCC semantics.
//
// Ordering is (user key ascending, sequence number descending) so that,
// for a given user key, the newest version sorts first — the form a
// single-pass merge needs to resolve visibility without a second pass.
//
// Seq and Kind are kept as separate fields, rather than packed into one
// machine word, to preserve the full 64-bit sequence number space; packing
// seq and an 8-bit kind into a single uint64, as some LSM implementations
// do, would need to steal bits from the sequence number.
type InternalKey struct {
	UserKey []byte
	Seq     SeqNum
	Kind    InternalKeyKind
}

// MakeInternalKey builds an InternalKey from its logical parts.
func MakeInternalKey(userKey []byte, seq SeqNum, kind InternalKeyKind) InternalKey {
	return InternalKey{UserKey: userKey, Seq: seq, Kind: kind}
}

// SeqNum returns the sequence number component.
func (k InternalKey) SeqNum() SeqNum { return k.Seq }

// GetKind returns the value-type tag.
func (k InternalKey) GetKind() InternalKeyKind { return k.Kind }

// IsTombstone reports whether this key represents a deletion marker.
func (k InternalKey) IsTombstone() bool {
	return k.Kind == InternalKeyKindDelete
}

// Size returns the encoded length of the key (user key plus trailer).
func (k InternalKey) Size() int {
	return len(k.UserKey) + trailerSize
}

// Encode writes the wire form of k into buf, which must have length
// k.Size().
func (k InternalKey) Encode(buf []byte) {
	n := copy(buf, k.UserKey)
	binary.LittleEndian.PutUint64(buf[n:], uint64(k.Seq))
	buf[n+8] = byte(k.Kind)
}

// EncodeAppend appends the wire form of k to dst and returns the result.
func (k InternalKey) EncodeAppend(dst []byte) []byte {
	dst = append(dst, k.UserKey...)
	var tmp [8]byte
	binary.LittleEndian.PutUint64(tmp[:], uint64(k.Seq))
	dst = append(dst, tmp[:]...)
	dst = append(dst, byte(k.Kind))
	return dst
}

// DecodeInternalKey parses the wire form produced by Encode/EncodeAppend.
// The returned UserKey aliases buf; callers that need to retain it across
// buffer reuse must copy it first.
func DecodeInternalKey(buf []byte) InternalKey {
	if len(buf) < trailerSize {
		// Malformed input; callers are expected to have validated length
		// via Corruption checks before reaching here. Returning a key with
		// an empty user key keeps decode total rather than panicking.
		return InternalKey{}
	}
	n := len(buf) - trailerSize
	seq := SeqNum(binary.LittleEndian.Uint64(buf[n : n+8]))
	kind := InternalKeyKind(buf[n+8])
	return InternalKey{UserKey: buf[:n], Seq: seq, Kind: kind}
}

// Compare orders user keys unsigned-lexicographically on raw bytes.
func Compare(a, b []byte) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		if a[i] != b[i] {
			if a[i] < b[i] {
				return -1
			}
			return 1
		}
	}
	switch {
	case len(a) < len(b):
		return -1
	case len(a) > len(b):
		return 1
	default:
		return 0
	}
}

// InternalCompare orders InternalKeys by (user key ascending, sequence
// number descending): the most recent version of a key sorts first.
func InternalCompare(a, b InternalKey) int {
	if c := Compare(a.UserKey, b.UserKey); c != 0 {
		return c
	}
	switch {
	case a.Seq > b.Seq:
		return -1
	case a.Seq < b.Seq:
		return 1
	case a.Kind > b.Kind:
		return -1
	case a.Kind < b.Kind:
		return 1
	default:
		return 0
	}
}

// Equal reports whether two user keys are byte-identical.
func Equal(a, b []byte) bool {
	return Compare(a, b) == 0
}

// Clone returns a copy of the InternalKey whose UserKey does not alias the
// input buffer.
func (k InternalKey) Clone() InternalKey {
	uk := make([]byte, len(k.UserKey))
	copy(uk, k.UserKey)
	return InternalKey{UserKey: uk, Seq: k.Seq, Kind: k.Kind}
}

func (k InternalKey) String() string {
	return fmt.Sprintf("%q#%d,%s", k.UserKey, k.Seq, k.Kind)
}
