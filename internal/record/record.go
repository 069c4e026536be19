// Package record implements the write-ahead log: an append-only stream of
// length-prefixed, CRC-covered records, one per
// write operation, read back in order with replay halting at the first
// corrupt or truncated record (the crash point).
//
// Record wire format (little-endian):
//
//	length:u32 | crc32c:u32 | type:u8 | sequence:u64 | key_len:u32 | key | value_len:u32 | value
//
// The CRC covers every byte after itself (type through value).
package record

import (
	"bufio"
	"encoding/binary"
	"hash/crc32"
	"io"
	"os"
	"sync"
	"time"

	"github.com/G1DO/Storage-Engine/internal/base"
)

// castagnoliTable is the CRC-32C polynomial table used to checksum records.
var castagnoliTable = crc32.MakeTable(crc32.Castagnoli)

// RecordType mirrors base.InternalKeyKind so WAL entries and InternalKeys
// use the same tag space (Put/Delete).
type RecordType = base.InternalKeyKind

const (
	lengthSize  = 4
	crcSize     = 4
	typeSize    = 1
	seqSize     = 8
	keyLenSize  = 4
	valLenSize  = 4
	headerSize  = lengthSize + crcSize + typeSize + seqSize + keyLenSize
)

// Record is a single decoded WAL entry.
type Record struct {
	Type  RecordType
	Seq   base.SeqNum
	Key   []byte
	Value []byte
}

// encodedSize returns the total on-disk size of rec.
func encodedSize(rec Record) int {
	return headerSize + len(rec.Key) + valLenSize + len(rec.Value)
}

// Encode serializes rec to its wire form.
func Encode(rec Record) []byte {
	payloadLen := typeSize + seqSize + keyLenSize + len(rec.Key) + valLenSize + len(rec.Value)
	buf := make([]byte, lengthSize+crcSize+payloadLen)

	binary.LittleEndian.PutUint32(buf[0:4], uint32(payloadLen))
	// buf[4:8] is the CRC, filled in below.
	off := lengthSize + crcSize
	buf[off] = byte(rec.Type)
	off += typeSize
	binary.LittleEndian.PutUint64(buf[off:], uint64(rec.Seq))
	off += seqSize
	binary.LittleEndian.PutUint32(buf[off:], uint32(len(rec.Key)))
	off += keyLenSize
	off += copy(buf[off:], rec.Key)
	binary.LittleEndian.PutUint32(buf[off:], uint32(len(rec.Value)))
	off += valLenSize
	copy(buf[off:], rec.Value)

	crc := crc32.Checksum(buf[lengthSize+crcSize:], castagnoliTable)
	binary.LittleEndian.PutUint32(buf[lengthSize:lengthSize+crcSize], crc)
	return buf
}

// SyncPolicy controls when the writer fsyncs the log file.
type SyncPolicy int

const (
	// SyncEveryWrite fsyncs after every append.
	SyncEveryWrite SyncPolicy = iota
	// SyncInterval fsyncs in the background at a fixed period.
	SyncInterval
	// SyncNever relies on the OS to flush eventually.
	SyncNever
)

// Writer appends records to an underlying file, applying SyncPolicy.
type Writer struct {
	mu         sync.Mutex
	f          *os.File
	bw         *bufio.Writer
	policy     SyncPolicy
	interval   time.Duration
	stopCh     chan struct{}
	stoppedCh  chan struct{}
	offset     int64
}

// NewWriter wraps f for appending, starting the background sync loop if
// policy is SyncInterval.
func NewWriter(f *os.File, policy SyncPolicy, interval time.Duration) *Writer {
	w := &Writer{
		f:      f,
		bw:     bufio.NewWriterSize(f, 64<<10),
		policy: policy,
		interval: interval,
	}
	if policy == SyncInterval {
		w.stopCh = make(chan struct{})
		w.stoppedCh = make(chan struct{})
		go w.syncLoop()
	}
	return w
}

func (w *Writer) syncLoop() {
	defer close(w.stoppedCh)
	if w.interval <= 0 {
		w.interval = 100 * time.Millisecond
	}
	t := time.NewTicker(w.interval)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			w.mu.Lock()
			_ = w.flushAndSyncLocked()
			w.mu.Unlock()
		case <-w.stopCh:
			return
		}
	}
}

func (w *Writer) flushAndSyncLocked() error {
	if err := w.bw.Flush(); err != nil {
		return err
	}
	return w.f.Sync()
}

// Append writes rec, applying the writer's SyncPolicy, and returns the
// byte offset it was written at.
func (w *Writer) Append(rec Record) (offset int64, err error) {
	buf := Encode(rec)
	w.mu.Lock()
	defer w.mu.Unlock()

	offset = w.offset
	if _, err = w.bw.Write(buf); err != nil {
		return offset, err
	}
	w.offset += int64(len(buf))

	switch w.policy {
	case SyncEveryWrite:
		if err = w.flushAndSyncLocked(); err != nil {
			return offset, err
		}
	case SyncNever:
		if err = w.bw.Flush(); err != nil {
			return offset, err
		}
	case SyncInterval:
		if err = w.bw.Flush(); err != nil {
			return offset, err
		}
	}
	return offset, nil
}

// Sync forces a flush and fsync regardless of policy; used by Close and by
// explicit durability requests.
func (w *Writer) Sync() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.flushAndSyncLocked()
}

// Close stops the background sync loop (if any) and closes the file.
func (w *Writer) Close() error {
	if w.stopCh != nil {
		close(w.stopCh)
		<-w.stoppedCh
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.flushAndSyncLocked(); err != nil {
		w.f.Close()
		return err
	}
	return w.f.Close()
}

// Reader yields Records from a WAL segment in order, halting — not
// erroring — at the first CRC mismatch or truncated header, since that is
// the crash point.
type Reader struct {
	r         *bufio.Reader
	corrupt   bool
	lastError error
}

// NewReader wraps r for sequential record decoding.
func NewReader(r io.Reader) *Reader {
	return &Reader{r: bufio.NewReaderSize(r, 64<<10)}
}

// Next decodes the next record. ok is false once the stream ends cleanly,
// hits a CRC mismatch, or is truncated; Corrupt distinguishes the latter
// two from a clean EOF.
func (rd *Reader) Next() (rec Record, ok bool) {
	if rd.corrupt {
		return Record{}, false
	}

	var header [headerSize]byte
	n, err := io.ReadFull(rd.r, header[:])
	if err != nil {
		if n == 0 && err == io.EOF {
			return Record{}, false // clean end of log
		}
		// Partial header: torn write at crash time.
		rd.corrupt = true
		rd.lastError = err
		return Record{}, false
	}

	payloadLen := binary.LittleEndian.Uint32(header[0:4])
	storedCRC := binary.LittleEndian.Uint32(header[4:8])
	typ := RecordType(header[8])
	seq := base.SeqNum(binary.LittleEndian.Uint64(header[9:17]))
	keyLen := binary.LittleEndian.Uint32(header[17:21])

	// payloadLen covers type+seq+keyLen+key+valLen+value; we've already
	// consumed type+seq+keyLen (typeSize+seqSize+keyLenSize bytes) as part
	// of the fixed header, so the remaining bytes to read are
	// payloadLen - (typeSize+seqSize+keyLenSize).
	fixedConsumed := uint32(typeSize + seqSize + keyLenSize)
	if payloadLen < fixedConsumed {
		rd.corrupt = true
		return Record{}, false
	}
	rest := make([]byte, payloadLen-fixedConsumed)
	if _, err := io.ReadFull(rd.r, rest); err != nil {
		rd.corrupt = true
		rd.lastError = err
		return Record{}, false
	}
	if uint32(len(rest)) < keyLen+valLenSize {
		rd.corrupt = true
		return Record{}, false
	}
	key := rest[:keyLen]
	valLen := binary.LittleEndian.Uint32(rest[keyLen : keyLen+valLenSize])
	valStart := keyLen + valLenSize
	if uint32(len(rest)) < valStart+valLen {
		rd.corrupt = true
		return Record{}, false
	}
	value := rest[valStart : valStart+valLen]

	// Recompute the CRC exactly as Encode does: over everything after the
	// CRC field, i.e. type, seq, keyLen, key, valLen, value.
	check := crc32.New(castagnoliTable)
	check.Write(header[8:])
	check.Write(rest)
	if check.Sum32() != storedCRC {
		rd.corrupt = true
		return Record{}, false
	}

	return Record{Type: typ, Seq: seq, Key: key, Value: value}, true
}

// Corrupt reports whether decoding stopped due to a CRC mismatch or
// truncated record rather than a clean end-of-stream.
func (rd *Reader) Corrupt() bool { return rd.corrupt }

// Err returns the underlying I/O error that triggered corruption
// detection, if any.
func (rd *Reader) Err() error { return rd.lastError }
