package snapshot

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nldb/snapraft/snappb"
)

func TestTransientFromDBTakeAndCommit(t *testing.T) {
	s := newTestStore(t)
	tr, err := s.NewTransientFromDB(200, 3, 0)
	require.NoError(t, err)

	err = tr.Take(func(dir string) error {
		return os.WriteFile(filepath.Join(dir, "checkpoint.db"), []byte("state"), 0o644)
	})
	require.NoError(t, err)

	snap, ok, err := tr.Commit()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uint64(200), snap.Index)
}

func TestTransientFromDBTakeFailureAborts(t *testing.T) {
	s := newTestStore(t)
	tr, err := s.NewTransientFromDB(200, 3, 0)
	require.NoError(t, err)

	boom := errors.New("checkpoint failed")
	err = tr.Take(func(dir string) error { return boom })
	require.Error(t, err)

	_, err = os.Stat(tr.Dir())
	require.True(t, os.IsNotExist(err), "aborted transient must remove its staging dir")
}

func TestTransientClosedAfterCommit(t *testing.T) {
	s := newTestStore(t)
	id := snappb.NewSnapshotID(100, 2, 0)
	tr, err := s.NewTransientFromChunks(id)
	require.NoError(t, err)
	_, err = tr.Write(snappb.SnapshotChunk{SnapshotID: id, ChunkName: "a", Content: []byte{1}, Checksum: snappb.ChecksumOfContent([]byte{1}), SnapshotChecksum: snappb.CombinedChecksum([][]byte{{1}})})
	require.NoError(t, err)
	_, ok, err := tr.Commit()
	require.NoError(t, err)
	require.True(t, ok)

	_, err = tr.Write(snappb.SnapshotChunk{SnapshotID: id, ChunkName: "b", Content: []byte{2}, Checksum: snappb.ChecksumOfContent([]byte{2})})
	require.ErrorIs(t, err, ErrTransientClosed)
}

func TestTransientAbortIdempotentAndNeverCommits(t *testing.T) {
	s := newTestStore(t)
	id := snappb.NewSnapshotID(100, 2, 0)
	tr, err := s.NewTransientFromChunks(id)
	require.NoError(t, err)
	_, err = tr.Write(snappb.SnapshotChunk{SnapshotID: id, ChunkName: "a", Content: []byte{1}, Checksum: snappb.ChecksumOfContent([]byte{1})})
	require.NoError(t, err)

	tr.Abort()
	tr.Abort() // idempotent, must not panic

	_, ok, err := tr.Commit()
	require.ErrorIs(t, err, ErrTransientClosed)
	require.False(t, ok)
	require.False(t, s.Exists(id), "an aborted transient snapshot must never produce a committed snapshot")
}
