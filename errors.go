package lsmdb

import (
	"fmt"

	"github.com/G1DO/Storage-Engine/internal/sstable"
	"github.com/cockroachdb/errors"
)

func init() {
	sstable.CorruptionErrorFn = func(file string, offset int64, msg string) error {
		return CorruptionError(file, offset, "sstable: %s", msg)
	}
}

// Sentinel errors forming the engine's error taxonomy. Callers compare
// against these with errors.Is; wrapped instances still match because
// cockroachdb/errors preserves the cause chain across Wrap/Wrapf.
var (
	// ErrNotFound is returned when a key has no live binding. It is
	// distinguished from "value present but empty" by return shape: Get
	// returns (nil, ErrNotFound) versus ([]byte{}, nil).
	ErrNotFound = errors.New("lsmdb: not found")

	// ErrInvalidArgument covers oversized keys/values, empty keys, and
	// malformed scan ranges (lo > hi).
	ErrInvalidArgument = errors.New("lsmdb: invalid argument")

	// ErrAlreadyOpen names the condition of a database directory already
	// held open by this process. Open does not detect that condition and
	// never returns this error.
	ErrAlreadyOpen = errors.New("lsmdb: already open")

	// ErrBusy is returned when a write is rejected by the hard write-stop.
	// Compactions run one at a time under the database lock, so no
	// compaction request is rejected with it.
	ErrBusy = errors.New("lsmdb: busy")

	// ErrShuttingDown is not returned by any operation: Close holds the
	// database lock for its whole run, so a write, Flush or CompactRange
	// arriving meanwhile waits for it and then receives ErrClosed.
	ErrShuttingDown = errors.New("lsmdb: shutting down")

	// ErrClosed is returned by Put, Delete, Flush and CompactRange on an
	// already-closed engine.
	ErrClosed = errors.New("lsmdb: closed")
)

// IOError wraps an underlying file-system failure. Constructing one
// preserves the original error as the cause so errors.Is / errors.As still
// see through it.
func IOError(cause error, format string, args ...interface{}) error {
	return errors.Wrapf(cause, "lsmdb: io failure: "+format, args...)
}

// corruptionSentinel is matched by errors.Is(err, ErrCorruption) even
// though each corruption error carries call-site detail.
var corruptionSentinel = errors.New("lsmdb: corruption")

// ErrCorruption is the sentinel CorruptionError wraps, usable with
// errors.Is(err, ErrCorruption).
var ErrCorruption = corruptionSentinel

// CorruptionError reports data corruption detected at a specific file and
// byte offset: a CRC mismatch, bad footer magic, a truncated block, or
// out-of-order entries within a file.
func CorruptionError(file string, offset int64, format string, args ...interface{}) error {
	msg := fmt.Sprintf(format, args...)
	err := errors.Wrapf(corruptionSentinel, "%s", msg)
	err = errors.WithDetail(err, fmt.Sprintf("file=%s offset=%d", file, offset))
	return err
}

// InvalidArgumentError annotates ErrInvalidArgument with call-site detail.
func InvalidArgumentError(format string, args ...interface{}) error {
	return errors.Wrapf(ErrInvalidArgument, format, args...)
}
