package sstable

import (
	"bufio"
	"os"

	"github.com/G1DO/Storage-Engine/internal/base"
	"github.com/G1DO/Storage-Engine/internal/bloom"
)

// Writer builds an immutable SSTable file from entries delivered in
// ascending InternalKey order.
type Writer struct {
	f      *os.File
	bw     *bufio.Writer
	offset uint64

	blockSize int
	codec     Compression

	cur       *BlockBuilder
	filter    *bloom.Builder
	indexBB   *BlockBuilder // holds (separator -> BlockHandle) pairs

	minKey, maxKey []byte
	minSeq, maxSeq uint64
	haveBounds     bool

	closed bool
}

// WriterOptions configures a Writer.
type WriterOptions struct {
	BlockSizeBytes  int
	BitsPerKey      uint32
	Compression     Compression
}

// NewWriter creates a Writer over f, which must be opened for writing and
// positioned at offset 0.
func NewWriter(f *os.File, opts WriterOptions) *Writer {
	if opts.BlockSizeBytes <= 0 {
		opts.BlockSizeBytes = 4 << 10
	}
	if opts.BitsPerKey == 0 {
		opts.BitsPerKey = 10
	}
	return &Writer{
		f:         f,
		bw:        bufio.NewWriterSize(f, 64<<10),
		blockSize: opts.BlockSizeBytes,
		codec:     opts.Compression,
		cur:       NewBlockBuilder(),
		filter:    bloom.NewBuilder(opts.BitsPerKey),
		indexBB:   NewBlockBuilder(),
	}
}

func (w *Writer) write(p []byte) error {
	n, err := w.bw.Write(p)
	w.offset += uint64(n)
	return err
}

// Add appends one entry. Entries must arrive in ascending InternalKey
// order.
func (w *Writer) Add(key base.InternalKey, value []byte) error {
	w.filter.Add(key.UserKey)
	w.cur.Add(key, value)

	if !w.haveBounds {
		w.minKey = append([]byte(nil), key.UserKey...)
		w.minSeq = uint64(key.SeqNum())
		w.maxSeq = w.minSeq
		w.haveBounds = true
	}
	w.maxKey = append(w.maxKey[:0], key.UserKey...)
	if s := uint64(key.SeqNum()); s < w.minSeq {
		w.minSeq = s
	} else if s > w.maxSeq {
		w.maxSeq = s
	}

	if w.cur.EstimatedSize() >= w.blockSize {
		return w.finishCurrentBlock(key.UserKey)
	}
	return nil
}

// finishCurrentBlock closes the in-progress data block, writes it, and
// records an index entry whose separator is lastKey — the block's actual
// last user key, which must be >= every key in the block (here, it's
// exact).
func (w *Writer) finishCurrentBlock(lastKey []byte) error {
	if w.cur.Empty() {
		return nil
	}
	raw := w.cur.Finish()
	compressed, err := compressBlock(w.codec, raw)
	if err != nil {
		return err
	}
	handle := BlockHandle{Offset: w.offset, Length: uint32(len(compressed))}
	if err := w.write(compressed); err != nil {
		return err
	}

	sep := base.MakeInternalKey(lastKey, base.SeqNumMax, base.InternalKeyKindDelete)
	hbuf := make([]byte, blockHandleSize)
	handle.EncodeTo(hbuf)
	w.indexBB.Add(sep, hbuf)

	w.cur.Reset()
	return nil
}

// Finish flushes the trailing block, writes the filter and index blocks,
// and writes the footer. The caller is responsible for fsyncing the file
// (via Sync) before referencing it in a manifest record.
func (w *Writer) Finish() (Footer, error) {
	if w.closed {
		return Footer{}, errAlreadyFinished
	}
	w.closed = true

	if !w.cur.Empty() {
		if err := w.finishCurrentBlock(w.maxKey); err != nil {
			return Footer{}, err
		}
	}

	filterRaw := w.filter.Finish().Encode()
	filterBlock, err := compressBlock(w.codec, filterRaw)
	if err != nil {
		return Footer{}, err
	}
	filterHandle := BlockHandle{Offset: w.offset, Length: uint32(len(filterBlock))}
	if err := w.write(filterBlock); err != nil {
		return Footer{}, err
	}

	indexRaw := w.indexBB.Finish()
	indexHandle := BlockHandle{Offset: w.offset, Length: uint32(len(indexRaw))}
	if err := w.write(indexRaw); err != nil {
		return Footer{}, err
	}

	footer := Footer{
		IndexHandle:  indexHandle,
		FilterHandle: filterHandle,
		MinSeq:       w.minSeq,
		MaxSeq:       w.maxSeq,
		FormatVers:   FormatVersion,
	}
	if err := w.write(footer.Encode()); err != nil {
		return Footer{}, err
	}
	if err := w.bw.Flush(); err != nil {
		return Footer{}, err
	}
	return footer, nil
}

// Sync fsyncs the underlying file. Required before the file may be
// referenced by a manifest record.
func (w *Writer) Sync() error { return w.f.Sync() }

// Close closes the underlying file without finishing the table; used on
// the error/abandon path.
func (w *Writer) Close() error { return w.f.Close() }

// EntryCount reports how many entries the filter builder has seen, used by
// compaction as a rough output-size estimate when deciding to roll to a new
// output file.
func (w *Writer) EntryCount() int { return w.filter.Len() }

// MinKey and MaxKey report the bounds observed so far.
func (w *Writer) MinKey() []byte { return w.minKey }
func (w *Writer) MaxKey() []byte { return w.maxKey }

const errAlreadyFinished = formatError("sstable: writer already finished")
