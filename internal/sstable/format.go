package sstable

import (
	"encoding/binary"
	"hash/crc32"
)

// Magic identifies the footer of a finished SSTable file.
const Magic uint64 = 0xDB15_4D53_5442_4C31 // "sstbl1"-ish, arbitrary but stable

// FormatVersion is bumped whenever the on-disk layout changes
// incompatibly.
const FormatVersion uint32 = 1

// BlockHandle locates a block within the file: its offset and length, as
// stored in index-block entries.
type BlockHandle struct {
	Offset uint64
	Length uint32
}

const blockHandleSize = 12

// EncodeTo writes h into buf[:12].
func (h BlockHandle) EncodeTo(buf []byte) {
	binary.LittleEndian.PutUint64(buf[0:8], h.Offset)
	binary.LittleEndian.PutUint32(buf[8:12], h.Length)
}

// DecodeBlockHandle reads a handle from buf[:12].
func DecodeBlockHandle(buf []byte) BlockHandle {
	return BlockHandle{
		Offset: binary.LittleEndian.Uint64(buf[0:8]),
		Length: binary.LittleEndian.Uint32(buf[8:12]),
	}
}

// footerSize is the fixed on-disk footer size: every named field (index
// handle, filter handle, min/max seq, format version, magic) at its
// specified width plus a trailing 4-byte CRC of the footer prefix, landing
// on 56 bytes total. See DESIGN.md, Open Questions.
const footerSize = 2*blockHandleSize + 8 + 8 + 4 + 8 + 4

// Footer is the fixed-size trailer of an SSTable file.
type Footer struct {
	IndexHandle  BlockHandle
	FilterHandle BlockHandle
	MinSeq       uint64
	MaxSeq       uint64
	FormatVers   uint32
}

// Encode serializes the footer, computing the trailing CRC over everything
// before it.
func (f Footer) Encode() []byte {
	buf := make([]byte, footerSize)
	off := 0
	f.IndexHandle.EncodeTo(buf[off:])
	off += blockHandleSize
	f.FilterHandle.EncodeTo(buf[off:])
	off += blockHandleSize
	binary.LittleEndian.PutUint64(buf[off:], f.MinSeq)
	off += 8
	binary.LittleEndian.PutUint64(buf[off:], f.MaxSeq)
	off += 8
	binary.LittleEndian.PutUint32(buf[off:], f.FormatVers)
	off += 4
	binary.LittleEndian.PutUint64(buf[off:], Magic)
	off += 8
	crc := crc32.ChecksumIEEE(buf[:off])
	binary.LittleEndian.PutUint32(buf[off:], crc)
	return buf
}

// DecodeFooter parses and validates a footer, checking the magic and CRC.
func DecodeFooter(buf []byte) (Footer, error) {
	if len(buf) != footerSize {
		return Footer{}, errBadFooterSize
	}
	crcOff := footerSize - 4
	gotCRC := binary.LittleEndian.Uint32(buf[crcOff:])
	wantCRC := crc32.ChecksumIEEE(buf[:crcOff])
	if gotCRC != wantCRC {
		return Footer{}, errFooterCRCMismatch
	}
	magicOff := crcOff - 8
	magic := binary.LittleEndian.Uint64(buf[magicOff:])
	if magic != Magic {
		return Footer{}, errBadMagic
	}

	off := 0
	idx := DecodeBlockHandle(buf[off:])
	off += blockHandleSize
	filt := DecodeBlockHandle(buf[off:])
	off += blockHandleSize
	minSeq := binary.LittleEndian.Uint64(buf[off:])
	off += 8
	maxSeq := binary.LittleEndian.Uint64(buf[off:])
	off += 8
	vers := binary.LittleEndian.Uint32(buf[off:])

	return Footer{
		IndexHandle:  idx,
		FilterHandle: filt,
		MinSeq:       minSeq,
		MaxSeq:       maxSeq,
		FormatVers:   vers,
	}, nil
}

// FooterSize returns the fixed on-disk footer size.
func FooterSize() int { return footerSize }

type formatError string

func (e formatError) Error() string { return string(e) }

const (
	errBadFooterSize    = formatError("sstable: truncated footer")
	errFooterCRCMismatch = formatError("sstable: footer CRC mismatch")
	errBadMagic         = formatError("sstable: bad footer magic")
)

// Compression identifies the codec used to compress a data block.
type Compression uint8

const (
	CompressionNone   Compression = 0
	CompressionSnappy Compression = 1
	CompressionZstd   Compression = 2
)
