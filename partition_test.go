package snapraft

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nldb/snapraft/internal/settings"
	"github.com/nldb/snapraft/internal/statemachine"
	"github.com/nldb/snapraft/internal/transport"
	"github.com/nldb/snapraft/snappb"
)

// deadEndReplicator stands in for "no further downstream peer": this
// two-node test only replicates source -> dest, so dest's own commits
// (of snapshots it just installed) have nowhere further to go. A real
// multi-hop relay would instead give dest a Replicator pointed at its
// own downstream peers.
type deadEndReplicator struct{}

func (deadEndReplicator) Replicate(context.Context, snappb.SnapshotChunk) error {
	return errors.New("no downstream peer configured")
}

type memDB struct {
	content []byte
}

func (d *memDB) Checkpoint(dir string) error {
	return os.WriteFile(filepath.Join(dir, "state.db"), d.content, 0o644)
}

func (d *memDB) Close() error { return nil }

type fixedEntry statemachine.IndexedEntry

func (f fixedEntry) GetIndexedEntry(position uint64) (statemachine.IndexedEntry, bool) {
	return statemachine.IndexedEntry(f), true
}

type fixedPosition uint64

func (f fixedPosition) Position() uint64 { return uint64(f) }

// TestEndToEndReplicationBetweenTwoPartitions exercises the full
// producer/consumer cycle described in spec.md §8: a locally taken
// snapshot on one partition streams, chunk by chunk, to a peer
// partition over an in-process transport, and the peer ends up with an
// identical committed snapshot.
func TestEndToEndReplicationBetweenTwoPartitions(t *testing.T) {
	sourceTransport, destTransport := transport.NewChanPair(8)

	sourceDB := &memDB{content: []byte("leader state v1")}
	source, err := New(Config{
		ID:       "p1-source",
		DataDir:  filepath.Join(t.TempDir(), "source"),
		Factory:  func(path string) (statemachine.DB, error) { return sourceDB, nil },
		Entries:  fixedEntry{Index: 100, Term: 2},
		Exporter: fixedPosition(100),
		Settings: settings.Soft,
	}, sourceTransport)
	require.NoError(t, err)
	require.NoError(t, source.Recover())
	source.Run(sourceTransport)
	defer source.Close()

	dest, err := New(Config{
		ID:       "p1-dest",
		DataDir:  filepath.Join(t.TempDir(), "dest"),
		Factory:  func(path string) (statemachine.DB, error) { return &memDB{}, nil },
		Settings: settings.Soft,
	}, deadEndReplicator{})
	require.NoError(t, err)
	require.NoError(t, dest.Recover())
	dest.Run(destTransport)
	defer dest.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	took, err := source.TakeSnapshot(ctx, 100)
	require.NoError(t, err)
	require.True(t, took)

	require.Eventually(t, func() bool {
		snap, ok := dest.store.LatestSnapshot()
		return ok && snap.ID != ""
	}, 2*time.Second, 10*time.Millisecond, "destination never installed the replicated snapshot")

	sourceSnap, ok := source.store.LatestSnapshot()
	require.True(t, ok)
	destSnap, ok := dest.store.LatestSnapshot()
	require.True(t, ok)
	require.Equal(t, sourceSnap.Checksum, destSnap.Checksum)
	require.Equal(t, sourceSnap.ID, destSnap.ID)
}
