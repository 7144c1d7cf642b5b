// Package snapraft composes the snapshot store, the state controller,
// the replication controller, and a transport into a single partition
// actor, the way warren's manifest wires a hashicorp/raft node together
// with its FSM and transport. It is the one place in this module that
// knows about all of the lower packages at once; everything below it
// stays decoupled (spec.md §9's listener-based cascade is what makes
// that possible).
package snapraft

import (
	"context"
	"fmt"
	"sync"

	"github.com/hashicorp/go-hclog"

	"github.com/nldb/snapraft/internal/logger"
	"github.com/nldb/snapraft/internal/replication"
	"github.com/nldb/snapraft/internal/settings"
	"github.com/nldb/snapraft/internal/snapshot"
	"github.com/nldb/snapraft/internal/statemachine"
	"github.com/nldb/snapraft/snappb"
)

// Config bundles everything a Partition needs to construct its
// collaborators. ID names the partition for logging and metrics
// labels; DataDir roots both the snapshot store and (via a sibling
// "-runtime" directory) the live database.
type Config struct {
	ID       string
	DataDir  string
	Factory  statemachine.Factory
	Entries  statemachine.EntrySupplier
	Exporter statemachine.PositionSupplier
	Settings settings.Snapshot
}

// Partition is the composition root described in spec.md §4.L. It
// enforces the single-threaded-per-partition concurrency model from
// spec.md §5 by funneling both inbound chunks and local snapshot
// requests through one dispatch goroutine fed by a buffered channel.
type Partition struct {
	id    string
	store *snapshot.Store
	repl  *replication.Controller
	sm    *statemachine.Controller
	log   hclog.Logger

	work   chan func()
	done   chan struct{}
	closed sync.Once
}

// New builds and wires a Partition but does not start its dispatch loop
// or run recovery; call Recover and then Run.
func New(cfg Config, transport replication.Replicator) (*Partition, error) {
	if cfg.Settings == (settings.Snapshot{}) {
		cfg.Settings = settings.Soft
	}
	store, err := snapshot.NewStore(cfg.DataDir, cfg.Settings)
	if err != nil {
		return nil, fmt.Errorf("snapraft: open store: %w", err)
	}

	runtimeDir := cfg.DataDir + "-runtime"
	sm := statemachine.NewController(store, runtimeDir, cfg.Factory, cfg.Entries, cfg.Exporter)
	repl := replication.NewController(cfg.ID, store, transport, cfg.Settings)

	store.AddListener(repl.Publish)
	store.AddListener(sm.NoteCommittedSnapshot)

	return &Partition{
		id:    cfg.ID,
		store: store,
		repl:  repl,
		sm:    sm,
		log:   logger.Get("partition").Named(cfg.ID),
		work:  make(chan func(), 64),
		done:  make(chan struct{}),
	}, nil
}

// Recover runs startup recovery: sweep stale staging directories left
// by a crash mid-install (spec.md §4.F/§8 scenario 4), then bind the
// latest committed snapshot to a fresh runtime database.
func (p *Partition) Recover() error {
	if err := p.store.SweepPending(); err != nil {
		return fmt.Errorf("snapraft: sweep pending: %w", err)
	}
	return p.sm.Recover()
}

// consumer is satisfied by internal/transport.Replicator; Partition only
// needs the inbound-delivery half of that interface to drive its
// dispatch loop.
type consumer interface {
	Consume(handler func(snappb.SnapshotChunk))
}

// Run starts the dispatch goroutine that serializes every call into
// the controllers. It returns immediately; call Close to stop it.
func (p *Partition) Run(transport consumer) {
	transport.Consume(func(chunk snappb.SnapshotChunk) {
		p.submit(func() {
			if err := p.repl.OnChunk(chunk); err != nil {
				p.log.Error("install chunk failed", "error", err)
			}
		})
	})

	go func() {
		for {
			select {
			case fn := <-p.work:
				fn()
			case <-p.done:
				return
			}
		}
	}()
}

func (p *Partition) submit(fn func()) {
	select {
	case p.work <- fn:
	case <-p.done:
	}
}

// TakeSnapshot triggers the state controller's checkpoint-and-commit
// path for lowerBound, run on the partition's dispatch goroutine. It
// blocks until the attempt completes (or is skipped by the idempotence
// guard) and returns whether a new snapshot was actually committed.
func (p *Partition) TakeSnapshot(ctx context.Context, lowerBound uint64) (bool, error) {
	type result struct {
		took bool
		err  error
	}
	resCh := make(chan result, 1)

	p.submit(func() {
		tr, took, err := p.sm.TakeTransientSnapshot(lowerBound)
		if err != nil || !took {
			resCh <- result{took, err}
			return
		}
		_, committed, err := tr.Commit()
		resCh <- result{committed, err}
	})

	select {
	case res := <-resCh:
		return res.took, res.err
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

// InstallChunk feeds one inbound chunk directly into the replication
// controller's consumer path, on the dispatch goroutine. Tests and a
// transport that delivers chunks via direct calls (rather than through
// Run's Consume registration) use this entry point.
func (p *Partition) InstallChunk(ctx context.Context, chunk snappb.SnapshotChunk) error {
	errCh := make(chan error, 1)
	p.submit(func() { errCh <- p.repl.OnChunk(chunk) })

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// InFlightInstalls reports the current count of live replication
// contexts.
func (p *Partition) InFlightInstalls() int {
	return p.repl.InFlight()
}

// Close stops the dispatch goroutine and closes the runtime database.
// Idempotent.
func (p *Partition) Close() error {
	var err error
	p.closed.Do(func() {
		close(p.done)
		err = p.sm.Close()
	})
	return err
}
