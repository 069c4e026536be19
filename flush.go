package lsmdb

import (
	"os"

	"github.com/G1DO/Storage-Engine/internal/base"
	"github.com/G1DO/Storage-Engine/internal/manifest"
	"github.com/G1DO/Storage-Engine/internal/memtable"
	"github.com/G1DO/Storage-Engine/internal/sstable"
)

// flushMemtable writes every live entry of mt to a new L0 SSTable and
// installs it via a manifest edit. The caller is responsible for having
// already sealed mt (no further writes) and for retiring its WAL segment
// once this returns successfully.
func (d *DB) flushMemtable(mt *memtable.Memtable) error {
	if d.opts.EventListener.FlushBegin != nil {
		d.opts.EventListener.FlushBegin(mt.LogNum())
	}

	if mt.Empty() {
		if d.opts.EventListener.FlushEnd != nil {
			d.opts.EventListener.FlushEnd(mt.LogNum(), 0, nil)
		}
		return nil
	}

	fileNum, err := d.manifest.NextFileNum()
	if err != nil {
		return err
	}

	f, err := os.Create(d.sstablePath(fileNum))
	if err != nil {
		return err
	}
	w := sstable.NewWriter(f, sstable.WriterOptions{
		BlockSizeBytes: d.opts.BlockSizeBytes,
		BitsPerKey:     d.opts.BloomBitsPerKey,
		Compression:    d.opts.compressionForLevel(0),
	})

	it := mt.NewIter()
	var minKey, maxKey []byte
	for ok := it.First(); ok; ok = it.Next() {
		k := it.Key()
		if minKey == nil {
			minKey = append([]byte(nil), k.UserKey...)
		}
		maxKey = append(maxKey[:0], k.UserKey...)
		if err := w.Add(k, it.Value()); err != nil {
			w.Close()
			d.logErr(err)
			return err
		}
	}

	footer, err := w.Finish()
	if err != nil {
		w.Close()
		return err
	}
	if err := w.Sync(); err != nil {
		w.Close()
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}

	fi, err := os.Stat(d.sstablePath(fileNum))
	if err != nil {
		return err
	}

	edit := &manifest.VersionEdit{
		NewFiles: []manifest.NewFileEntry{{
			Level: 0,
			Meta: manifest.FileMetadata{
				FileNum: fileNum,
				Size:    uint64(fi.Size()),
				MinKey:  minKey,
				MaxKey:  maxKey,
				MinSeq:  base.SeqNum(footer.MinSeq),
				MaxSeq:  base.SeqNum(footer.MaxSeq),
			},
		}},
	}
	if err := d.manifest.Apply(edit); err != nil {
		if d.opts.EventListener.FlushEnd != nil {
			d.opts.EventListener.FlushEnd(mt.LogNum(), fileNum, err)
		}
		return err
	}

	if d.opts.EventListener.FlushEnd != nil {
		d.opts.EventListener.FlushEnd(mt.LogNum(), fileNum, nil)
	}
	return nil
}

func (d *DB) logErr(err error) {
	if err != nil {
		d.opts.Logger.Errorf("%v", err)
	}
}
