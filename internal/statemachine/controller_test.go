package statemachine

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nldb/snapraft/internal/settings"
	"github.com/nldb/snapraft/internal/snapshot"
	"github.com/nldb/snapraft/snappb"
)

type fakeDB struct {
	checkpointErr error
	closeErr      error
	closed        bool
	content       []byte
}

func (f *fakeDB) Checkpoint(dir string) error {
	if f.checkpointErr != nil {
		return f.checkpointErr
	}
	return os.WriteFile(filepath.Join(dir, "state.db"), f.content, 0o644)
}

func (f *fakeDB) Close() error {
	f.closed = true
	return f.closeErr
}

type fakeEntries struct {
	entry IndexedEntry
	ok    bool
}

func (f fakeEntries) GetIndexedEntry(position uint64) (IndexedEntry, bool) {
	return f.entry, f.ok
}

type fakePosition uint64

func (f fakePosition) Position() uint64 { return uint64(f) }

func committedStore(t *testing.T, root string, id snappb.SnapshotID, content []byte) *snapshot.Store {
	t.Helper()
	s, err := snapshot.NewStore(root, settings.Soft)
	require.NoError(t, err)
	tr, err := s.NewTransientFromChunks(id)
	require.NoError(t, err)
	ok, err := tr.Write(snappb.SnapshotChunk{
		SnapshotID: id, ChunkName: "a", Content: content,
		Checksum:         snappb.ChecksumOfContent(content),
		SnapshotChecksum: snappb.CombinedChecksum([][]byte{content}),
	})
	require.NoError(t, err)
	require.True(t, ok)
	_, ok, err = tr.Commit()
	require.NoError(t, err)
	require.True(t, ok)
	return s
}

func TestRecoverFromLatestSnapshot(t *testing.T) {
	root := t.TempDir()
	id := snappb.NewSnapshotID(200, 3, 0)
	store := committedStore(t, root, id, []byte("state"))

	var opened *fakeDB
	factory := func(path string) (DB, error) {
		opened = &fakeDB{}
		return opened, nil
	}

	c := NewController(store, filepath.Join(root, "runtime"), factory, fakeEntries{}, fakePosition(0))
	require.NoError(t, c.Recover())

	db, err := c.OpenDB()
	require.NoError(t, err)
	require.Same(t, opened, db)

	data, err := os.ReadFile(filepath.Join(root, "runtime", "a"))
	require.NoError(t, err)
	require.Equal(t, []byte("state"), data)
}

func TestRecoverDeletesExistingRuntimeDirFirst(t *testing.T) {
	root := t.TempDir()
	store, err := snapshot.NewStore(root, settings.Soft)
	require.NoError(t, err)

	runtimeDir := filepath.Join(root, "runtime")
	require.NoError(t, os.MkdirAll(runtimeDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(runtimeDir, "stale.txt"), []byte("old"), 0o644))

	factory := func(path string) (DB, error) { return &fakeDB{}, nil }
	c := NewController(store, runtimeDir, factory, fakeEntries{}, fakePosition(0))
	require.NoError(t, c.Recover())

	_, err = os.Stat(filepath.Join(runtimeDir, "stale.txt"))
	require.True(t, os.IsNotExist(err))
}

func TestRecoverUnreadableSnapshotIsFatal(t *testing.T) {
	root := t.TempDir()
	id := snappb.NewSnapshotID(200, 3, 0)
	store := committedStore(t, root, id, []byte("state"))

	boom := errors.New("corrupt database file")
	factory := func(path string) (DB, error) { return nil, boom }

	runtimeDir := filepath.Join(root, "runtime")
	c := NewController(store, runtimeDir, factory, fakeEntries{}, fakePosition(0))

	err := c.Recover()
	require.ErrorIs(t, err, ErrUnrecoverableState)

	_, statErr := os.Stat(runtimeDir)
	require.True(t, os.IsNotExist(statErr), "runtime dir must be removed after a failed open")
}

func TestTakeTransientSnapshotIdempotenceGuard(t *testing.T) {
	root := t.TempDir()
	store, err := snapshot.NewStore(root, settings.Soft)
	require.NoError(t, err)

	db := &fakeDB{content: []byte("v1")}
	factory := func(path string) (DB, error) { return db, nil }
	entries := fakeEntries{entry: IndexedEntry{Index: 10, Term: 1}, ok: true}

	c := NewController(store, filepath.Join(root, "runtime"), factory, entries, fakePosition(10))
	require.NoError(t, c.Recover())

	tr, took, err := c.TakeTransientSnapshot(10)
	require.NoError(t, err)
	require.True(t, took)
	snap, ok, err := tr.Commit()
	require.NoError(t, err)
	require.True(t, ok)
	c.NoteCommittedSnapshot(snap)

	// Same log position again: nothing changed, guard should skip it.
	_, took, err = c.TakeTransientSnapshot(10)
	require.NoError(t, err)
	require.False(t, took)
}

func TestTakeTransientSnapshotUsesMinOfExporterAndLowerBound(t *testing.T) {
	root := t.TempDir()
	store, err := snapshot.NewStore(root, settings.Soft)
	require.NoError(t, err)

	db := &fakeDB{content: []byte("v1")}
	factory := func(path string) (DB, error) { return db, nil }

	var sawPosition uint64
	entries := entrySupplierFunc(func(position uint64) (IndexedEntry, bool) {
		sawPosition = position
		return IndexedEntry{Index: position, Term: 1}, true
	})

	c := NewController(store, filepath.Join(root, "runtime"), factory, entries, fakePosition(50))
	require.NoError(t, c.Recover())

	_, took, err := c.TakeTransientSnapshot(20)
	require.NoError(t, err)
	require.True(t, took)
	require.Equal(t, uint64(20), sawPosition, "snapshotPosition must be min(exporter, lowerBound)")
}

type entrySupplierFunc func(position uint64) (IndexedEntry, bool)

func (f entrySupplierFunc) GetIndexedEntry(position uint64) (IndexedEntry, bool) {
	return f(position)
}
