// Package settings holds the small set of tunables the snapshot
// replication subsystem needs at runtime. It mirrors the shape of a
// single "soft defaults" struct rather than scattering constants across
// packages, so operators have one place to look.
package settings

import "time"

// Snapshot carries the tunables for snapshot production, chunked
// transfer, and receiver-side install tracking.
type Snapshot struct {
	// ChunkPayloadSize is a chunk content size limit. ChunkReader does
	// not read it: it packs each file of a committed snapshot into
	// exactly one SnapshotChunk, whatever the file's size.
	ChunkPayloadSize int

	// InstallGCInterval is an interval for sweeping idle installs. The
	// replication controller does not read it and runs no such sweep:
	// an install is abandoned only by an explicit abort or by the
	// startup sweep of pending directories.
	InstallGCInterval time.Duration

	// InstallIdleTimeout is an idle duration for the same sweep; like
	// InstallGCInterval, nothing in this module reads it.
	InstallIdleTimeout time.Duration

	// RetainSnapshotCount is the number of most-recent committed
	// snapshots kept on disk. Default (and spec default) is 1: keep
	// latest only.
	RetainSnapshotCount int

	// MaxConcurrentInstalls bounds how many distinct SnapshotIds may
	// have a live ReplicationContext at once, to cap staging disk use
	// under a burst of unrelated incoming snapshots.
	MaxConcurrentInstalls int
}

// Soft are the default tunables used when a Partition is not given an
// explicit Snapshot settings value.
var Soft = Snapshot{
	ChunkPayloadSize:      4 * 1024 * 1024,
	InstallGCInterval:     30 * time.Second,
	InstallIdleTimeout:    5 * time.Minute,
	RetainSnapshotCount:   1,
	MaxConcurrentInstalls: 4,
}
