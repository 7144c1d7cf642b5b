package replication

import (
	"time"

	"github.com/nldb/snapraft/internal/snapshot"
)

// installState is the tagged variant spec.md §9 asks for in place of a
// shared "Invalid" sentinel value compared by identity: a context is
// either actively installing or poisoned, never both, and the type
// system enforces that there is no third state to null-check for.
type installState int

const (
	installInProgress installState = iota
	installInvalid
)

// context is the per-SnapshotId bookkeeping spec.md §3 calls
// ReplicationContext: at most one of these is live per SnapshotId in
// the receiver's map at any time.
type context struct {
	state          installState
	transient      *snapshot.Transient
	startTimestamp time.Time
	chunksReceived uint32
}

func newContext(transient *snapshot.Transient) *context {
	return &context{
		state:          installInProgress,
		transient:      transient,
		startTimestamp: time.Now(),
	}
}

// invalidate runs the mark-invalid procedure from spec.md §4.E: abort
// the transient snapshot and flip the state to Invalid. The context
// entry itself stays in the map — subsequent chunks for this id keep
// getting silently dropped — until a strictly newer snapshot id
// supersedes it.
func (c *context) invalidate() {
	if c.transient != nil {
		c.transient.Abort()
	}
	c.state = installInvalid
	c.transient = nil
}
