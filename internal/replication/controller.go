// Package replication implements the receiver-side chunked-snapshot
// install state machine and the sender-side publish path described in
// spec.md §4.E, generalizing dragonboat's Chunks type
// (internal/transport/chunks.go) from its raftpb wire types to this
// module's snappb codec and snapshot.Store.
package replication

import (
	stdcontext "context"
	"fmt"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/nldb/snapraft/internal/logger"
	"github.com/nldb/snapraft/internal/metrics"
	"github.com/nldb/snapraft/internal/settings"
	"github.com/nldb/snapraft/internal/snapshot"
	"github.com/nldb/snapraft/snappb"
)

// Replicator is the publishing half of spec.md §6's SnapshotReplication
// collaborator: something that can publish a chunk to peers. Inbound
// delivery is not part of this interface; internal/transport's
// Replicator adds Consume and provides the concrete implementation.
type Replicator interface {
	Replicate(ctx stdcontext.Context, chunk snappb.SnapshotChunk) error
}

// Controller is the replication controller from spec.md §4.E. It owns
// both directions: republishing a newly committed snapshot (producer)
// and validating, staging, and finalizing chunks arriving from a peer
// (consumer). Per spec.md §5, all of its exported methods are called
// from the partition's single dispatch goroutine; it keeps no internal
// locking beyond what is needed to make that assumption checkable by
// inspection rather than by convention alone.
type Controller struct {
	partition string
	store     *snapshot.Store
	transport Replicator
	settings  settings.Snapshot
	log       hclog.Logger

	contexts map[snappb.SnapshotID]*context
}

// NewController wires a replication controller for one partition. The
// caller is expected to register Publish as the store's commit listener
// (store.AddListener(controller.Publish)) so every future commit —
// whether produced locally by the state controller or installed here
// from a peer — gets republished in turn.
func NewController(partition string, store *snapshot.Store, transport Replicator, cfg settings.Snapshot) *Controller {
	return &Controller{
		partition: partition,
		store:     store,
		transport: transport,
		settings:  cfg,
		log:       logger.Get("replication"),
		contexts:  make(map[snappb.SnapshotID]*context),
	}
}

// Publish is the producer path from spec.md §4.E step 1: stream every
// chunk of snap to peers over the transport, in ascending chunk-name
// order. It is registered as a snapshot.Listener, so it runs
// synchronously inside CommitSnapshot; a publish failure is logged and
// stops the stream for this snapshot rather than propagating, since a
// peer can always catch up from a later snapshot or a retried transfer.
func (c *Controller) Publish(snap snapshot.Snapshot) {
	reader, err := snapshot.NewChunkReader(snap)
	if err != nil {
		c.log.Error("failed to open chunk reader for publish", "id", snap.ID, "error", err)
		return
	}
	defer reader.Close()

	for reader.HasNext() {
		chunk, err := reader.Next()
		if err != nil {
			c.log.Error("failed to read chunk for publish", "id", snap.ID, "error", err)
			return
		}
		if err := c.transport.Replicate(stdcontext.Background(), chunk); err != nil {
			c.log.Warn("failed to replicate chunk, abandoning stream for this snapshot", "id", snap.ID, "chunk", chunk.ChunkName, "error", err)
			return
		}
	}
}

// OnChunk is the consumer path from spec.md §4.E steps 2-4: record,
// validate, write, and — once the last chunk of a complete install
// arrives — finalize. Every outcome other than "this chunk advanced an
// in-progress install" is absorbed here; nothing is ever returned to a
// misbehaving or redundant sender, matching the "never surfaced to the
// caller" rule in spec.md §7. The one exception is a failure to allocate
// the staging directory for a new id: it is returned as an error and no
// context is recorded, so a later chunk for that id allocates again.
func (c *Controller) OnChunk(chunk snappb.SnapshotChunk) error {
	id := chunk.SnapshotID

	ctx, existed := c.contexts[id]
	if !existed {
		if c.settings.MaxConcurrentInstalls > 0 && len(c.contexts) >= c.settings.MaxConcurrentInstalls {
			c.log.Warn("dropping chunk, too many concurrent installs", "id", id, "limit", c.settings.MaxConcurrentInstalls)
			return nil
		}
		tr, err := c.store.NewTransientFromChunks(id)
		if err != nil {
			return fmt.Errorf("replication: allocate transient for %s: %w", id, err)
		}
		ctx = newContext(tr)
		c.contexts[id] = ctx
		metrics.InFlightGauge(c.partition, len(c.contexts))
	}

	if ctx.state == installInvalid {
		return nil
	}

	ok, err := ctx.transient.Write(chunk)
	if err != nil {
		c.log.Warn("chunk write failed, marking install invalid", "id", id, "chunk", chunk.ChunkName, "error", err)
		ctx.invalidate()
		return nil
	}
	if !ok {
		c.log.Debug("chunk rejected (corrupt or duplicate), marking install invalid", "id", id, "chunk", chunk.ChunkName)
		ctx.invalidate()
		return nil
	}

	ctx.chunksReceived++
	if ctx.chunksReceived < chunk.TotalCount {
		return nil
	}

	_, committed, err := ctx.transient.Commit()
	if err != nil {
		c.log.Warn("finalize failed, marking install invalid", "id", id, "error", err)
		ctx.invalidate()
		return nil
	}
	if !committed {
		ctx.invalidate()
		return nil
	}

	delete(c.contexts, id)
	for otherID, other := range c.contexts {
		if other.state == installInvalid && snappb.Less(otherID, id) {
			delete(c.contexts, otherID)
		}
	}
	metrics.InFlightGauge(c.partition, len(c.contexts))
	metrics.ObserveInstallDuration(c.partition, time.Since(ctx.startTimestamp))
	return nil
}

// InFlight reports how many SnapshotIds currently have a live context
// (installing or invalid), for tests and diagnostics.
func (c *Controller) InFlight() int {
	return len(c.contexts)
}
