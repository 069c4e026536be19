package lsmdb

import (
	"fmt"
	"testing"
	"time"

	"github.com/G1DO/Storage-Engine/internal/manifest"
	"github.com/stretchr/testify/require"
)

func testOptions() *Options {
	o := DefaultOptions()
	o.MemtableSizeBytes = 8 << 10 // small, so tests exercise flush/compaction paths
	return o
}

func TestPutGetDelete(t *testing.T) {
	dir := t.TempDir()
	db, err := Open(dir, testOptions())
	require.NoError(t, err)
	defer db.Close()

	require.NoError(t, db.Put([]byte("a"), []byte("1")))
	require.NoError(t, db.Put([]byte("b"), []byte("2")))

	v, err := db.Get([]byte("a"))
	require.NoError(t, err)
	require.Equal(t, "1", string(v))

	require.NoError(t, db.Delete([]byte("a")))
	_, err = db.Get([]byte("a"))
	require.ErrorIs(t, err, ErrNotFound)

	v, err = db.Get([]byte("b"))
	require.NoError(t, err)
	require.Equal(t, "2", string(v))
}

func TestGetMissingKey(t *testing.T) {
	dir := t.TempDir()
	db, err := Open(dir, testOptions())
	require.NoError(t, err)
	defer db.Close()

	_, err = db.Get([]byte("nope"))
	require.ErrorIs(t, err, ErrNotFound)
}

func TestInvalidArguments(t *testing.T) {
	dir := t.TempDir()
	db, err := Open(dir, testOptions())
	require.NoError(t, err)
	defer db.Close()

	err = db.Put(nil, []byte("v"))
	require.ErrorIs(t, err, ErrInvalidArgument)

	big := make([]byte, 70*1024)
	err = db.Put(big, []byte("v"))
	require.ErrorIs(t, err, ErrInvalidArgument)
}

// TestFlushAndReadBack forces enough writes to trigger at least one
// memtable flush, then verifies every key is still readable from the
// resulting L0 SSTable.
func TestFlushAndReadBack(t *testing.T) {
	dir := t.TempDir()
	db, err := Open(dir, testOptions())
	require.NoError(t, err)
	defer db.Close()

	const n = 2000
	for i := 0; i < n; i++ {
		key := fmt.Sprintf("key-%06d", i)
		val := fmt.Sprintf("value-%06d", i)
		require.NoError(t, db.Put([]byte(key), []byte(val)))
	}

	for i := 0; i < n; i++ {
		key := fmt.Sprintf("key-%06d", i)
		val, err := db.Get([]byte(key))
		require.NoError(t, err)
		require.Equal(t, fmt.Sprintf("value-%06d", i), string(val))
	}
}

// TestDeleteSurvivesFlushAndCompaction writes a key, flushes it, deletes
// it, flushes again, then compacts the whole range: the deletion must
// still be observed as absent once the PUT's SSTable has actually been
// merged away.
func TestDeleteSurvivesFlushAndCompaction(t *testing.T) {
	dir := t.TempDir()
	db, err := Open(dir, testOptions())
	require.NoError(t, err)
	defer db.Close()

	require.NoError(t, db.Put([]byte("k"), []byte("v1")))
	require.NoError(t, db.Flush())
	require.NoError(t, db.Delete([]byte("k")))
	require.NoError(t, db.Flush())

	_, err = db.Get([]byte("k"))
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, db.CompactRange(nil, nil))

	_, err = db.Get([]byte("k"))
	require.ErrorIs(t, err, ErrNotFound)
}

func TestScanRange(t *testing.T) {
	dir := t.TempDir()
	db, err := Open(dir, testOptions())
	require.NoError(t, err)
	defer db.Close()

	for i := 0; i < 100; i++ {
		key := fmt.Sprintf("k%03d", i)
		require.NoError(t, db.Put([]byte(key), []byte(key)))
	}
	require.NoError(t, db.Flush())
	for i := 100; i < 200; i++ {
		key := fmt.Sprintf("k%03d", i)
		require.NoError(t, db.Put([]byte(key), []byte(key)))
	}

	it, err := db.Scan([]byte("k050"), []byte("k149"))
	require.NoError(t, err)
	defer it.Close()

	count := 0
	for ; it.Valid(); it.Next() {
		require.Equal(t, string(it.Key()), string(it.Value()))
		count++
	}
	require.Equal(t, 100, count)
}

func TestSnapshotIsolation(t *testing.T) {
	dir := t.TempDir()
	db, err := Open(dir, testOptions())
	require.NoError(t, err)
	defer db.Close()

	require.NoError(t, db.Put([]byte("k"), []byte("v1")))
	snap := db.NewSnapshot()
	defer snap.Close()

	require.NoError(t, db.Put([]byte("k"), []byte("v2")))
	require.NoError(t, db.Delete([]byte("k")))

	v, err := snap.Get([]byte("k"))
	require.NoError(t, err)
	require.Equal(t, "v1", string(v))

	v, err = db.Get([]byte("k"))
	require.ErrorIs(t, err, ErrNotFound)
	_ = v
}

func TestSnapshotSurvivesFlushAndCompaction(t *testing.T) {
	dir := t.TempDir()
	db, err := Open(dir, testOptions())
	require.NoError(t, err)
	defer db.Close()

	require.NoError(t, db.Put([]byte("k"), []byte("v1")))
	snap := db.NewSnapshot()
	defer snap.Close()

	require.NoError(t, db.Put([]byte("k"), []byte("v2")))
	require.NoError(t, db.Flush())
	require.NoError(t, db.CompactRange(nil, nil))

	v, err := snap.Get([]byte("k"))
	require.NoError(t, err)
	require.Equal(t, "v1", string(v))
}

// TestReopenRecoversFromWAL simulates a crash: the first handle is
// abandoned without calling Close, which would otherwise flush the
// memtable to an L0 SSTable and delete its WAL segment before a second
// Open ever runs — making the recovery path never actually replay
// anything. Here the WAL segment is left on disk with every Put already
// durable (WALSyncPolicy defaults to SyncEveryWrite), and nothing is
// flushed, so reopening must exercise the replay branch in Open to
// reconstruct the memtable from the log.
func TestReopenRecoversFromWAL(t *testing.T) {
	dir := t.TempDir()
	opts := testOptions()
	opts.MemtableSizeBytes = 64 << 20 // large enough that nothing auto-flushes

	db, err := Open(dir, opts)
	require.NoError(t, err)
	for i := 0; i < 50; i++ {
		key := fmt.Sprintf("k%03d", i)
		require.NoError(t, db.Put([]byte(key), []byte(key)))
	}
	// No db.Close() here: that would flush the memtable and remove the WAL
	// segment, leaving nothing for the second Open to replay.

	db2, err := Open(dir, opts)
	require.NoError(t, err)
	defer db2.Close()
	for i := 0; i < 50; i++ {
		key := fmt.Sprintf("k%03d", i)
		v, err := db2.Get([]byte(key))
		require.NoError(t, err)
		require.Equal(t, key, string(v))
	}
}

// TestWriteStallSoftThrottleSleeps injects L0 files directly via the
// manifest (bypassing flush, so no compaction races the check) past
// L0CompactionTrigger but below L0StopWritesTrigger, and verifies the next
// write is delayed proportionally to the overshoot rather than rejected.
func TestWriteStallSoftThrottleSleeps(t *testing.T) {
	dir := t.TempDir()
	opts := testOptions()
	opts.L0CompactionTrigger = 1
	opts.L0StopWritesTrigger = 100

	db, err := Open(dir, opts)
	require.NoError(t, err)
	defer db.Close()

	const overshoot = 3
	for i := 0; i < opts.L0CompactionTrigger+overshoot; i++ {
		require.NoError(t, db.manifest.Apply(&manifest.VersionEdit{NewFiles: []manifest.NewFileEntry{
			{Level: 0, Meta: manifest.FileMetadata{FileNum: uint64(900 + i), Size: 1, MinKey: []byte("z"), MaxKey: []byte("z")}},
		}}))
	}

	start := time.Now()
	require.NoError(t, db.Put([]byte("a"), []byte("1")))
	require.GreaterOrEqual(t, time.Since(start), time.Duration(overshoot)*writeStallSleepPerFile)
}

// TestWriteStallHardStopRejectsWrites injects L0 files directly via the
// manifest up to L0StopWritesTrigger and verifies the next write is
// rejected with ErrBusy and fires WriteStallBegin, then that clearing the
// backlog lets writes resume and fires WriteStallEnd.
func TestWriteStallHardStopRejectsWrites(t *testing.T) {
	dir := t.TempDir()
	opts := testOptions()
	opts.L0StopWritesTrigger = 2

	var begun, ended int
	opts.EventListener.WriteStallBegin = func(string) { begun++ }
	opts.EventListener.WriteStallEnd = func() { ended++ }

	db, err := Open(dir, opts)
	require.NoError(t, err)
	defer db.Close()

	require.NoError(t, db.Put([]byte("a"), []byte("1")))

	for i := 0; i < opts.L0StopWritesTrigger; i++ {
		require.NoError(t, db.manifest.Apply(&manifest.VersionEdit{NewFiles: []manifest.NewFileEntry{
			{Level: 0, Meta: manifest.FileMetadata{FileNum: uint64(900 + i), Size: 1, MinKey: []byte("z"), MaxKey: []byte("z")}},
		}}))
	}

	err = db.Put([]byte("b"), []byte("2"))
	require.ErrorIs(t, err, ErrBusy)
	require.Equal(t, 1, begun)

	// Simulate compaction draining the backlog: remove the injected files
	// directly, since they have no backing SSTable on disk for a real
	// compaction to read.
	require.NoError(t, db.manifest.Apply(&manifest.VersionEdit{DeletedFiles: []manifest.DeletedFileEntry{
		{Level: 0, FileNum: 900}, {Level: 0, FileNum: 901},
	}}))

	require.NoError(t, db.Put([]byte("c"), []byte("3")))
	require.Equal(t, 1, ended)
}

func TestCloseIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	db, err := Open(dir, testOptions())
	require.NoError(t, err)
	require.NoError(t, db.Put([]byte("a"), []byte("1")))
	require.NoError(t, db.Close())
	require.NoError(t, db.Close())

	err = db.Put([]byte("b"), []byte("2"))
	require.ErrorIs(t, err, ErrClosed)
}
