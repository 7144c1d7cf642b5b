package snapshot

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/nldb/snapraft/snappb"
)

type transientState int

const (
	transientOpen transientState = iota
	transientCommitted
	transientAborted
)

// Transient is the mutable staging handle described in spec.md §4.D. It
// is created from either a database checkpoint (sender side, via
// Take) or incoming chunks (receiver side, via Write), and becomes
// unusable once Commit or Abort has run.
type Transient struct {
	store *Store
	id    snappb.SnapshotID
	dir   string

	mu               sync.Mutex
	state            transientState
	expectedChecksum *uint64
	totalCount       uint32
	written          bool
}

// NewTransientFromDB allocates a staging directory for a database-backed
// snapshot at (index, term) and returns it in the Open state, ready for
// Take to populate. This is construction path 1 in spec.md §4.D.
func (s *Store) NewTransientFromDB(index, term, processedPosition uint64) (*Transient, error) {
	id := snappb.NewSnapshotID(index, term, processedPosition)
	return s.newTransient(id)
}

// NewTransientFromChunks allocates a staging directory for a
// peer-driven snapshot identified by id. This is construction path 2 in
// spec.md §4.D, used by the replication controller's receiver side.
func (s *Store) NewTransientFromChunks(id snappb.SnapshotID) (*Transient, error) {
	return s.newTransient(id)
}

func (s *Store) newTransient(id snappb.SnapshotID) (*Transient, error) {
	dir := filepath.Join(s.pendingDir, string(id))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("snapshot: allocate staging dir: %w", err)
	}
	return &Transient{store: s, id: id, dir: dir, state: transientOpen}, nil
}

// Dir returns the staging directory path.
func (t *Transient) Dir() string { return t.dir }

// ID returns the SnapshotID this transient will become if committed.
func (t *Transient) ID() snappb.SnapshotID { return t.id }

// Take invokes fn with the staging directory so the caller (normally
// the embedded database's checkpoint routine) can populate it. On
// failure the transient aborts itself, matching spec.md §4.D path 1.
func (t *Transient) Take(fn func(stagingDir string) error) error {
	t.mu.Lock()
	if t.state != transientOpen {
		t.mu.Unlock()
		return ErrTransientClosed
	}
	t.mu.Unlock()

	if err := fn(t.dir); err != nil {
		t.Abort()
		return fmt.Errorf("snapshot: checkpoint into staging dir failed: %w", err)
	}

	t.mu.Lock()
	t.written = true
	t.mu.Unlock()
	return nil
}

// Write idempotently writes chunk.ChunkName into the staging directory.
// It implements the contract in spec.md §4.D exactly:
//
//   - if the snapshot id is already committed, return (true, nil): the
//     chunk is treated as satisfied (AlreadyCommitted, spec.md §7);
//   - if the per-chunk checksum does not match, return (false, nil):
//     ChunkCorrupt, absorbed by the caller, never surfaced;
//   - if the file already exists on disk, return (false, nil):
//     DuplicateChunk, same treatment as ChunkCorrupt;
//   - otherwise write the file exclusively and return (true, nil).
//
// A non-nil error return is ErrTransientClosed if the handle was already
// committed or aborted, and otherwise an IoFailure: callers treat it
// exactly like a false result (mark the install invalid) but may also
// log it.
func (t *Transient) Write(chunk snappb.SnapshotChunk) (bool, error) {
	t.mu.Lock()
	if t.state != transientOpen {
		t.mu.Unlock()
		return false, ErrTransientClosed
	}
	t.mu.Unlock()

	if t.store.Exists(chunk.SnapshotID) {
		return true, nil
	}

	if snappb.ChecksumOfContent(chunk.Content) != chunk.Checksum {
		return false, nil
	}

	path := filepath.Join(t.dir, chunk.ChunkName)
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("snapshot: write chunk %s: %w", chunk.ChunkName, err)
	}
	defer f.Close()

	if _, err := f.Write(chunk.Content); err != nil {
		return false, fmt.Errorf("snapshot: write chunk %s: %w", chunk.ChunkName, err)
	}
	if err := f.Sync(); err != nil {
		return false, fmt.Errorf("snapshot: sync chunk %s: %w", chunk.ChunkName, err)
	}

	t.mu.Lock()
	checksum := chunk.SnapshotChecksum
	t.expectedChecksum = &checksum
	t.totalCount = chunk.TotalCount
	t.written = true
	t.mu.Unlock()

	return true, nil
}

// TotalCount returns the totalCount recorded by the most recent Write
// call, or 0 if no chunk has been written yet.
func (t *Transient) TotalCount() uint32 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.totalCount
}

// Commit delegates to the owning store's atomic promotion.
func (t *Transient) Commit() (Snapshot, bool, error) {
	t.mu.Lock()
	if t.state != transientOpen {
		t.mu.Unlock()
		return Snapshot{}, false, ErrTransientClosed
	}
	t.mu.Unlock()

	snap, ok, err := t.store.CommitSnapshot(t)
	if err != nil || !ok {
		return snap, ok, err
	}

	t.mu.Lock()
	t.state = transientCommitted
	t.mu.Unlock()
	return snap, true, nil
}

// Abort deletes the staging directory. It is idempotent and never
// returns an error: failures are swallowed (and would be picked up by a
// later SweepPending) because spec.md §4.D requires the abort path to
// never throw.
func (t *Transient) Abort() {
	t.mu.Lock()
	if t.state != transientOpen {
		t.mu.Unlock()
		return
	}
	t.state = transientAborted
	t.mu.Unlock()

	_ = os.RemoveAll(t.dir)
}
