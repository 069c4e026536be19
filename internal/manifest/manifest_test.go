package manifest

import (
	"fmt"
	"path/filepath"
	"testing"

	"github.com/G1DO/Storage-Engine/internal/base"
	"github.com/stretchr/testify/require"
)

func TestVersionApplyAddAndDelete(t *testing.T) {
	v := NewVersion(4)
	edit := &VersionEdit{NewFiles: []NewFileEntry{
		{Level: 0, Meta: FileMetadata{FileNum: 1, Size: 100, MinKey: []byte("a"), MaxKey: []byte("m")}},
		{Level: 0, Meta: FileMetadata{FileNum: 2, Size: 200, MinKey: []byte("b"), MaxKey: []byte("z")}},
	}}
	v2 := edit.Apply(v)
	require.Equal(t, 0, v.FileCount(0), "original version must not mutate")
	require.Equal(t, 2, v2.FileCount(0))

	del := &VersionEdit{DeletedFiles: []DeletedFileEntry{{Level: 0, FileNum: 1}}}
	v3 := del.Apply(v2)
	require.Equal(t, 2, v2.FileCount(0), "v2 must not mutate")
	require.Equal(t, 1, v3.FileCount(0))
	require.Equal(t, uint64(2), v3.Files(0)[0].FileNum)
}

func TestVersionOverlapping(t *testing.T) {
	v := NewVersion(4)
	edit := &VersionEdit{NewFiles: []NewFileEntry{
		{Level: 1, Meta: FileMetadata{FileNum: 1, MinKey: []byte("a"), MaxKey: []byte("d")}},
		{Level: 1, Meta: FileMetadata{FileNum: 2, MinKey: []byte("e"), MaxKey: []byte("h")}},
		{Level: 1, Meta: FileMetadata{FileNum: 3, MinKey: []byte("i"), MaxKey: []byte("z")}},
	}}
	v2 := edit.Apply(v)

	overlap := v2.Overlapping(1, []byte("f"), []byte("j"))
	var nums []uint64
	for _, f := range overlap {
		nums = append(nums, f.FileNum)
	}
	require.Contains(t, nums, uint64(2))
	require.Contains(t, nums, uint64(3))
	require.NotContains(t, nums, uint64(1))
}

func TestVersionEditEncodeDecodeRoundTrip(t *testing.T) {
	edit := &VersionEdit{
		NewFiles: []NewFileEntry{
			{Level: 2, Meta: FileMetadata{
				FileNum: 7, Size: 4096,
				MinKey: []byte("key-000"), MaxKey: []byte("key-999"),
				MinSeq: base.SeqNum(1), MaxSeq: base.SeqNum(42),
			}},
		},
		DeletedFiles: []DeletedFileEntry{{Level: 1, FileNum: 3}},
		HasLogNum:    true, LogNum: 9,
		HasNextFile: true, NextFileNum: 10,
		HasLastSeq: true, LastSeq: 42,
	}
	encoded := edit.Encode()
	decoded, err := DecodeVersionEdit(encoded)
	require.NoError(t, err)
	require.Equal(t, edit.NewFiles[0].Meta.FileNum, decoded.NewFiles[0].Meta.FileNum)
	require.Equal(t, edit.NewFiles[0].Meta.Size, decoded.NewFiles[0].Meta.Size)
	require.Equal(t, string(edit.NewFiles[0].Meta.MinKey), string(decoded.NewFiles[0].Meta.MinKey))
	require.Equal(t, edit.DeletedFiles, decoded.DeletedFiles)
	require.Equal(t, edit.LogNum, decoded.LogNum)
	require.Equal(t, edit.NextFileNum, decoded.NextFileNum)
	require.Equal(t, edit.LastSeq, decoded.LastSeq)
}

func TestManifestCreateApplyRecoverRoundTrip(t *testing.T) {
	dir := t.TempDir()
	m, err := Create(dir, 4)
	require.NoError(t, err)

	err = m.Apply(&VersionEdit{NewFiles: []NewFileEntry{
		{Level: 0, Meta: FileMetadata{FileNum: 2, Size: 10, MinKey: []byte("a"), MaxKey: []byte("c")}},
	}})
	require.NoError(t, err)
	err = m.Apply(&VersionEdit{NewFiles: []NewFileEntry{
		{Level: 1, Meta: FileMetadata{FileNum: 3, Size: 20, MinKey: []byte("d"), MaxKey: []byte("f")}},
	}})
	require.NoError(t, err)
	require.NoError(t, m.Close())

	m2, err := Recover(dir, 4)
	require.NoError(t, err)
	defer m2.Close()

	cur := m2.Current()
	require.Equal(t, 1, cur.FileCount(0))
	require.Equal(t, 1, cur.FileCount(1))
}

// TestManifestRewriteBoundsLogGrowth drives enough edits through Apply to
// cross manifestRewriteEditThreshold and verifies the manifest log is
// rewritten as a single snapshot rather than left to grow forever: only
// one MANIFEST file remains on disk, and recovering from it still
// reconstructs every file the edits added.
func TestManifestRewriteBoundsLogGrowth(t *testing.T) {
	dir := t.TempDir()
	m, err := Create(dir, 4)
	require.NoError(t, err)

	const n = manifestRewriteEditThreshold + 10
	for i := 0; i < n; i++ {
		err := m.Apply(&VersionEdit{NewFiles: []NewFileEntry{
			{Level: 0, Meta: FileMetadata{
				FileNum: uint64(100 + i),
				Size:    1,
				MinKey:  []byte(fmt.Sprintf("k%04d", i)),
				MaxKey:  []byte(fmt.Sprintf("k%04d", i)),
			}},
		}})
		require.NoError(t, err)
	}
	require.NoError(t, m.Close())

	matches, err := filepath.Glob(filepath.Join(dir, "MANIFEST-*"))
	require.NoError(t, err)
	require.Len(t, matches, 1, "stale manifest files should be removed after a rewrite")

	m2, err := Recover(dir, 4)
	require.NoError(t, err)
	defer m2.Close()

	require.Equal(t, n, m2.Current().FileCount(0))
}
