package manifest

import (
	"encoding/binary"

	"github.com/G1DO/Storage-Engine/internal/base"
	"github.com/cockroachdb/errors"
)

func baseSeqNum(v uint64) base.SeqNum { return base.SeqNum(v) }

// NewFileEntry records a file added to a level by an edit.
type NewFileEntry struct {
	Level int
	Meta  FileMetadata
}

// DeletedFileEntry records a file removed from a level by an edit. Removing
// the file from disk is up to the caller; compaction does so right after
// the edit is applied, without checking whether older Versions still
// reference it.
type DeletedFileEntry struct {
	Level   int
	FileNum uint64
}

// VersionEdit is one entry in the manifest log: the delta between two
// Versions, plus whatever bookkeeping counters changed alongside it.
type VersionEdit struct {
	NewFiles     []NewFileEntry
	DeletedFiles []DeletedFileEntry

	HasLogNum     bool
	LogNum        uint64
	HasNextFile   bool
	NextFileNum   uint64
	HasLastSeq    bool
	LastSeq       uint64
}

// Apply produces the Version that results from applying e to base.
// Deletions scan the target level for the matching FileNum, since btree
// removal needs an item ordered the same way the original was inserted
// (by MinKey) and callers of VersionEdit only carry the FileNum.
func (e *VersionEdit) Apply(base *Version) *Version {
	v := base.clone()
	for _, d := range e.DeletedFiles {
		var target *FileMetadata
		v.levels[d.Level].Ascend(func(f *FileMetadata) bool {
			if f.FileNum == d.FileNum {
				target = f
				return false
			}
			return true
		})
		if target != nil {
			v.levels[d.Level].Delete(target)
		}
	}
	for _, n := range e.NewFiles {
		meta := n.Meta
		v.levels[n.Level].ReplaceOrInsert(&meta)
	}
	return v
}

// tag bytes identify each field in the encoded edit stream.
const (
	tagNewFile     = 1
	tagDeletedFile = 2
	tagLogNum      = 3
	tagNextFileNum = 4
	tagLastSeq     = 5
	tagTerminate   = 0xff
)

func putUvarint(dst []byte, v uint64) []byte {
	var tmp [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(tmp[:], v)
	return append(dst, tmp[:n]...)
}

func putBytes(dst []byte, b []byte) []byte {
	dst = putUvarint(dst, uint64(len(b)))
	return append(dst, b...)
}

// Encode serializes the edit to its on-disk form, stored as the key field
// of a manifest log record (see Manifest.logEditLocked).
func (e *VersionEdit) Encode() []byte {
	var buf []byte
	for _, n := range e.NewFiles {
		buf = append(buf, tagNewFile)
		buf = putUvarint(buf, uint64(n.Level))
		buf = putUvarint(buf, n.Meta.FileNum)
		buf = putUvarint(buf, n.Meta.Size)
		buf = putBytes(buf, n.Meta.MinKey)
		buf = putBytes(buf, n.Meta.MaxKey)
		buf = putUvarint(buf, uint64(n.Meta.MinSeq))
		buf = putUvarint(buf, uint64(n.Meta.MaxSeq))
		if n.Meta.MarkedForCompaction {
			buf = append(buf, 1)
		} else {
			buf = append(buf, 0)
		}
	}
	for _, d := range e.DeletedFiles {
		buf = append(buf, tagDeletedFile)
		buf = putUvarint(buf, uint64(d.Level))
		buf = putUvarint(buf, d.FileNum)
	}
	if e.HasLogNum {
		buf = append(buf, tagLogNum)
		buf = putUvarint(buf, e.LogNum)
	}
	if e.HasNextFile {
		buf = append(buf, tagNextFileNum)
		buf = putUvarint(buf, e.NextFileNum)
	}
	if e.HasLastSeq {
		buf = append(buf, tagLastSeq)
		buf = putUvarint(buf, e.LastSeq)
	}
	buf = append(buf, tagTerminate)
	return buf
}

// DecodeVersionEdit parses the form produced by Encode.
func DecodeVersionEdit(buf []byte) (*VersionEdit, error) {
	e := &VersionEdit{}
	r := &byteCursor{buf: buf}
	for {
		tag, err := r.readByte()
		if err != nil {
			return nil, errors.Wrap(err, "manifest: truncated version edit")
		}
		switch tag {
		case tagTerminate:
			return e, nil
		case tagNewFile:
			level, err1 := r.readUvarint()
			fileNum, err2 := r.readUvarint()
			size, err3 := r.readUvarint()
			minKey, err4 := r.readBytes()
			maxKey, err5 := r.readBytes()
			minSeq, err6 := r.readUvarint()
			maxSeq, err7 := r.readUvarint()
			marked, err8 := r.readByte()
			if err := firstErr(err1, err2, err3, err4, err5, err6, err7, err8); err != nil {
				return nil, errors.Wrap(err, "manifest: malformed new-file entry")
			}
			e.NewFiles = append(e.NewFiles, NewFileEntry{
				Level: int(level),
				Meta: FileMetadata{
					FileNum:             fileNum,
					Size:                size,
					MinKey:              minKey,
					MaxKey:              maxKey,
					MinSeq:              baseSeqNum(minSeq),
					MaxSeq:              baseSeqNum(maxSeq),
					MarkedForCompaction: marked != 0,
				},
			})
		case tagDeletedFile:
			level, err1 := r.readUvarint()
			fileNum, err2 := r.readUvarint()
			if err := firstErr(err1, err2); err != nil {
				return nil, errors.Wrap(err, "manifest: malformed deleted-file entry")
			}
			e.DeletedFiles = append(e.DeletedFiles, DeletedFileEntry{Level: int(level), FileNum: fileNum})
		case tagLogNum:
			v, err := r.readUvarint()
			if err != nil {
				return nil, err
			}
			e.HasLogNum, e.LogNum = true, v
		case tagNextFileNum:
			v, err := r.readUvarint()
			if err != nil {
				return nil, err
			}
			e.HasNextFile, e.NextFileNum = true, v
		case tagLastSeq:
			v, err := r.readUvarint()
			if err != nil {
				return nil, err
			}
			e.HasLastSeq, e.LastSeq = true, v
		default:
			return nil, errors.Newf("manifest: unknown version edit tag %d", tag)
		}
	}
}

func firstErr(errs ...error) error {
	for _, e := range errs {
		if e != nil {
			return e
		}
	}
	return nil
}

type byteCursor struct {
	buf []byte
	pos int
}

func (c *byteCursor) readByte() (byte, error) {
	if c.pos >= len(c.buf) {
		return 0, errors.New("manifest: unexpected end of edit")
	}
	b := c.buf[c.pos]
	c.pos++
	return b, nil
}

func (c *byteCursor) readUvarint() (uint64, error) {
	v, n := binary.Uvarint(c.buf[c.pos:])
	if n <= 0 {
		return 0, errors.New("manifest: bad varint in edit")
	}
	c.pos += n
	return v, nil
}

func (c *byteCursor) readBytes() ([]byte, error) {
	n, err := c.readUvarint()
	if err != nil {
		return nil, err
	}
	if c.pos+int(n) > len(c.buf) {
		return nil, errors.New("manifest: byte slice overruns edit")
	}
	b := c.buf[c.pos : c.pos+int(n)]
	c.pos += int(n)
	return b, nil
}
