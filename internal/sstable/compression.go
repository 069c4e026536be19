package sstable

import (
	"bytes"
	"io"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/zstd"
)

// compressBlock compresses a finished block's bytes with codec, prefixing
// the result with a one-byte codec tag so the reader knows how to reverse
// it.
func compressBlock(codec Compression, raw []byte) ([]byte, error) {
	switch codec {
	case CompressionNone:
		out := make([]byte, 1+len(raw))
		out[0] = byte(CompressionNone)
		copy(out[1:], raw)
		return out, nil
	case CompressionSnappy:
		compressed := snappy.Encode(nil, raw)
		out := make([]byte, 1+len(compressed))
		out[0] = byte(CompressionSnappy)
		copy(out[1:], compressed)
		return out, nil
	case CompressionZstd:
		enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if err != nil {
			return nil, err
		}
		defer enc.Close()
		compressed := enc.EncodeAll(raw, nil)
		out := make([]byte, 1+len(compressed))
		out[0] = byte(CompressionZstd)
		copy(out[1:], compressed)
		return out, nil
	default:
		return nil, errUnknownCodec
	}
}

// decompressBlock reverses compressBlock, reading the codec tag from the
// first byte of data.
func decompressBlock(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, errShortBlock
	}
	codec := Compression(data[0])
	payload := data[1:]
	switch codec {
	case CompressionNone:
		out := make([]byte, len(payload))
		copy(out, payload)
		return out, nil
	case CompressionSnappy:
		return snappy.Decode(nil, payload)
	case CompressionZstd:
		dec, err := zstd.NewReader(bytes.NewReader(payload), zstd.WithDecoderConcurrency(1))
		if err != nil {
			return nil, err
		}
		defer dec.Close()
		return io.ReadAll(dec)
	default:
		return nil, errUnknownCodec
	}
}

const (
	errUnknownCodec = formatError("sstable: unknown compression codec")
	errShortBlock   = formatError("sstable: empty compressed block")
)
