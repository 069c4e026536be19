package manifest

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/G1DO/Storage-Engine/internal/base"
	"github.com/G1DO/Storage-Engine/internal/record"
	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
)

// Manifest owns the on-disk log of VersionEdits and the in-memory current
// Version built by replaying them. It reuses the WAL record format
// (internal/record) for the manifest log itself: each logged edit is one
// CRC-checked record whose Key field carries the edit's encoded bytes.
type Manifest struct {
	dir       string
	numLevels int

	mu      sync.Mutex
	w       *record.Writer
	f       *os.File
	current atomic.Pointer[Version]

	nextFileNum uint64
	lastSeq     uint64
	logNum      uint64
	manifestNum uint64
	editCount   int
}

// manifestRewriteEditThreshold bounds how many edits accumulate in the
// manifest log before it is rewritten as a single snapshot of the current
// Version: without a bound, a long-lived database's manifest log grows
// forever, since old edits for since-compacted files are never reclaimed.
const manifestRewriteEditThreshold = 200

func manifestFileName(dir string, num uint64) string {
	return filepath.Join(dir, fmt.Sprintf("MANIFEST-%06d", num))
}

func currentFileName(dir string) string {
	return filepath.Join(dir, "CURRENT")
}

// Create initializes a brand-new manifest in dir: an empty Version, a
// fresh manifest log seeded with the bootstrap counters, and a CURRENT
// pointer naming it.
func Create(dir string, numLevels int) (*Manifest, error) {
	m := &Manifest{dir: dir, numLevels: numLevels, manifestNum: 1, nextFileNum: 2}
	v := NewVersion(numLevels)
	m.current.Store(v)

	f, err := os.OpenFile(manifestFileName(dir, m.manifestNum), os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, err
	}
	m.f = f
	m.w = record.NewWriter(f, record.SyncEveryWrite, 0)

	bootstrap := &VersionEdit{
		HasNextFile: true, NextFileNum: m.nextFileNum,
		HasLastSeq: true, LastSeq: 0,
	}
	if err := m.logEditLocked(bootstrap); err != nil {
		return nil, err
	}
	if err := writeCurrentPointer(dir, m.manifestNum); err != nil {
		return nil, err
	}
	return m, nil
}

// Recover replays the manifest named by CURRENT and returns a Manifest
// positioned at the resulting Version.
func Recover(dir string, numLevels int) (*Manifest, error) {
	manifestNum, err := readCurrentPointer(dir)
	if err != nil {
		return nil, err
	}
	path := manifestFileName(dir, manifestNum)
	rf, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	rdr := record.NewReader(rf)

	v := NewVersion(numLevels)
	var nextFileNum, lastSeq, logNum uint64
	for {
		rec, ok := rdr.Next()
		if !ok {
			break
		}
		edit, err := DecodeVersionEdit(rec.Key)
		if err != nil {
			rf.Close()
			return nil, errors.Wrap(err, "manifest: recovering edit")
		}
		v = edit.Apply(v)
		if edit.HasNextFile {
			nextFileNum = edit.NextFileNum
		}
		if edit.HasLastSeq {
			lastSeq = edit.LastSeq
		}
		if edit.HasLogNum {
			logNum = edit.LogNum
		}
	}
	if rdr.Corrupt() {
		// A torn tail on the last record is the expected shape of a crash
		// mid-append; everything before it is still valid and already
		// folded into v.
	}
	rf.Close()

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	m := &Manifest{
		dir:         dir,
		numLevels:   numLevels,
		manifestNum: manifestNum,
		nextFileNum: nextFileNum,
		lastSeq:     lastSeq,
		logNum:      logNum,
		f:           f,
		w:           record.NewWriter(f, record.SyncEveryWrite, 0),
	}
	m.current.Store(v)
	return m, nil
}

func writeCurrentPointer(dir string, manifestNum uint64) error {
	tmp := currentFileName(dir) + ".tmp." + uuid.NewString()
	name := fmt.Sprintf("MANIFEST-%06d\n", manifestNum)
	if err := os.WriteFile(tmp, []byte(name), 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, currentFileName(dir))
}

func readCurrentPointer(dir string) (uint64, error) {
	data, err := os.ReadFile(currentFileName(dir))
	if err != nil {
		return 0, err
	}
	var num uint64
	if _, err := fmt.Sscanf(string(data), "MANIFEST-%06d", &num); err != nil {
		return 0, errors.Wrap(err, "manifest: malformed CURRENT file")
	}
	return num, nil
}

// Current returns the live Version. Callers that intend to hold it across
// I/O should Ref it first.
func (m *Manifest) Current() *Version { return m.current.Load() }

func (m *Manifest) logEditLocked(edit *VersionEdit) error {
	_, err := m.w.Append(record.Record{Type: base.InternalKeyKindPut, Key: edit.Encode()})
	if err != nil {
		return err
	}
	return m.w.Sync()
}

// Apply durably logs edit and installs the resulting Version as current.
func (m *Manifest) Apply(edit *VersionEdit) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if edit.HasNextFile && edit.NextFileNum > m.nextFileNum {
		m.nextFileNum = edit.NextFileNum
	}
	if edit.HasLastSeq && edit.LastSeq > m.lastSeq {
		m.lastSeq = edit.LastSeq
	}
	if edit.HasLogNum {
		m.logNum = edit.LogNum
	}
	if err := m.logEditLocked(edit); err != nil {
		return err
	}
	next := edit.Apply(m.current.Load())
	m.current.Store(next)

	m.editCount++
	if m.editCount >= manifestRewriteEditThreshold {
		if err := m.rewriteLocked(next); err != nil {
			return err
		}
	}
	return nil
}

// rewriteLocked replaces the manifest log with a fresh one containing a
// single VersionEdit that reconstructs v directly (one NewFiles entry per
// live file, across every level) plus the current bookkeeping counters,
// then atomically swaps CURRENT to point at it. Called with m.mu held.
func (m *Manifest) rewriteLocked(v *Version) error {
	newNum := m.nextFileNum
	m.nextFileNum++

	snapshot := &VersionEdit{
		HasNextFile: true, NextFileNum: m.nextFileNum,
		HasLastSeq: true, LastSeq: m.lastSeq,
		HasLogNum: true, LogNum: m.logNum,
	}
	for level := 0; level < v.NumLevels(); level++ {
		for _, f := range v.Files(level) {
			snapshot.NewFiles = append(snapshot.NewFiles, NewFileEntry{Level: level, Meta: *f})
		}
	}

	newFile, err := os.OpenFile(manifestFileName(m.dir, newNum), os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	newWriter := record.NewWriter(newFile, record.SyncEveryWrite, 0)
	if _, err := newWriter.Append(record.Record{Type: base.InternalKeyKindPut, Key: snapshot.Encode()}); err != nil {
		newFile.Close()
		return err
	}
	if err := newWriter.Sync(); err != nil {
		newFile.Close()
		return err
	}
	if err := writeCurrentPointer(m.dir, newNum); err != nil {
		newWriter.Close()
		return err
	}

	oldFile, oldNum := m.f, m.manifestNum
	m.f = newFile
	m.w = newWriter
	m.manifestNum = newNum
	m.editCount = 0

	oldFile.Close()
	os.Remove(manifestFileName(m.dir, oldNum))
	return nil
}

// CurrentLogNum returns the WAL segment number that was active when the
// manifest was last written to (or recovered).
func (m *Manifest) CurrentLogNum() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.logNum
}

// SetLogNum durably records that logNum is now the active WAL segment,
// used when the active memtable is rotated.
func (m *Manifest) SetLogNum(logNum uint64) error {
	return m.Apply(&VersionEdit{HasLogNum: true, LogNum: logNum})
}

// NextFileNum allocates and returns the next free file number, persisting
// the new high-water mark via a version edit.
func (m *Manifest) NextFileNum() (uint64, error) {
	m.mu.Lock()
	num := m.nextFileNum
	m.nextFileNum++
	next := m.nextFileNum
	m.mu.Unlock()

	return num, m.Apply(&VersionEdit{HasNextFile: true, NextFileNum: next})
}

// AdvanceSeq records seq as the last sequence number assigned, so recovery
// resumes numbering writes correctly.
func (m *Manifest) AdvanceSeq(seq uint64) error {
	m.mu.Lock()
	if seq <= m.lastSeq {
		m.mu.Unlock()
		return nil
	}
	m.lastSeq = seq
	m.mu.Unlock()
	return m.Apply(&VersionEdit{HasLastSeq: true, LastSeq: seq})
}

// LastSeq returns the last sequence number recorded.
func (m *Manifest) LastSeq() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastSeq
}

// Close closes the manifest log file.
func (m *Manifest) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.w.Close(); err != nil {
		return err
	}
	return nil
}
