package transport

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nldb/snapraft/snappb"
)

func TestChanTransportCrossWiredDelivery(t *testing.T) {
	a, b := NewChanPair(4)

	received := make(chan snappb.SnapshotChunk, 1)
	b.Consume(func(c snappb.SnapshotChunk) { received <- c })

	chunk := snappb.SnapshotChunk{
		SnapshotID: "1-1-0",
		ChunkName:  "a",
		Content:    []byte("hello"),
	}
	require.NoError(t, a.Replicate(context.Background(), chunk))

	select {
	case got := <-received:
		require.Equal(t, chunk.ChunkName, got.ChunkName)
		require.Equal(t, chunk.Content, got.Content)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for chunk delivery")
	}
}

func TestChanTransportReplicateRespectsContextCancellation(t *testing.T) {
	a, _ := NewChanPair(0)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := a.Replicate(ctx, snappb.SnapshotChunk{SnapshotID: "1-1-0", ChunkName: "a"})
	require.Error(t, err)
}
