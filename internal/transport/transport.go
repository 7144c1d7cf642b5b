// Package transport provides the SnapshotReplication collaborator from
// spec.md §6: something that can publish chunks to peers and deliver
// inbound chunks to a receiver. It replaces dragonboat's raftio-based
// message transport with a minimal interface plus an in-process
// channel-backed implementation suited to same-process replication
// between two Partitions, e.g. in tests.
package transport

import (
	"context"
	"fmt"

	"github.com/hashicorp/go-hclog"

	"github.com/nldb/snapraft/internal/logger"
	"github.com/nldb/snapraft/snappb"
)

// Replicator is the contract for both directions of chunk transfer:
// internal/replication.Controller publishes through Replicate, and
// snapraft.Partition registers its inbound handler through Consume.
type Replicator interface {
	// Replicate sends chunk to whatever peer(s) this transport is wired
	// to reach. It may return an error if the send could not be
	// attempted at all (e.g. the channel is closed); once a chunk is
	// handed off successfully, delivery is not guaranteed — the
	// replication controller tolerates loss by relying on Commit's
	// republish of a freshly promoted snapshot.
	Replicate(ctx context.Context, chunk snappb.SnapshotChunk) error

	// Consume registers handler to be invoked for every chunk this
	// transport receives. ChanTransport invokes it from a goroutine of
	// its own, not from the caller's goroutine.
	Consume(handler func(snappb.SnapshotChunk))
}

// ChanTransport is an in-process Replicator backed by a buffered
// channel. Two ChanTransports can be cross-wired (A's outbound feeds
// B's inbound and vice versa) to replicate between two Partitions in
// the same process, which is how the end-to-end tests in this module
// exercise a full producer/consumer cycle without a network.
type ChanTransport struct {
	outbound chan<- snappb.SnapshotChunk
	inbound  <-chan snappb.SnapshotChunk
	log      hclog.Logger
}

// NewChanPair builds two cross-wired ChanTransports: whatever is sent
// on the first arrives at the second, and vice versa.
func NewChanPair(bufSize int) (*ChanTransport, *ChanTransport) {
	aToB := make(chan snappb.SnapshotChunk, bufSize)
	bToA := make(chan snappb.SnapshotChunk, bufSize)
	a := &ChanTransport{outbound: aToB, inbound: bToA, log: logger.Get("transport")}
	b := &ChanTransport{outbound: bToA, inbound: aToB, log: logger.Get("transport")}
	return a, b
}

// Replicate enqueues chunk on the outbound channel. It blocks if the
// channel is full and ctx has no deadline; callers that need
// back-pressure visibility should pass a context with a deadline.
func (c *ChanTransport) Replicate(ctx context.Context, chunk snappb.SnapshotChunk) error {
	select {
	case c.outbound <- chunk:
		return nil
	case <-ctx.Done():
		c.log.Warn("replicate aborted", "chunk", chunk.ChunkName, "error", ctx.Err())
		return fmt.Errorf("transport: replicate: %w", ctx.Err())
	}
}

// Consume registers handler and starts a goroutine draining the inbound
// channel into it. Since the replication controller is not
// goroutine-safe on its own (spec.md §5's single-threaded-per-partition
// model), the handler a Partition passes here must hand the chunk off
// to its own single dispatch goroutine rather than call the controller
// directly from this one.
func (c *ChanTransport) Consume(handler func(snappb.SnapshotChunk)) {
	go func() {
		for chunk := range c.inbound {
			handler(chunk)
		}
	}()
}
