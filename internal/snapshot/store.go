// Package snapshot implements the persistent directory of committed
// snapshots plus the staging area for pending ones (spec component B),
// the resumable chunk reader over a committed snapshot (component C),
// and the write-side transient-snapshot handle (component D).
//
// The on-disk layout follows spec.md §6:
//
//	<partition-root>/
//	  snapshots/<index>-<term>-<position>/   committed, immutable
//	  pending/<index>-<term>-<position>/     staging, swept on startup
package snapshot

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/hashicorp/go-hclog"

	"github.com/nldb/snapraft/internal/logger"
	"github.com/nldb/snapraft/internal/settings"
	"github.com/nldb/snapraft/snappb"
)

const (
	committedSubdir = "snapshots"
	pendingSubdir   = "pending"

	// checksumManifest is a sidecar file written alongside a committed
	// snapshot's chunk files, recording the combined checksum computed
	// at commit time. Names starting with "." are excluded from
	// sortedFileNames, so it is never mistaken for a chunk.
	checksumManifest = ".checksum"
)

// Snapshot describes a committed, immutable snapshot directory.
type Snapshot struct {
	ID              snappb.SnapshotID
	Index           uint64
	Term            uint64
	CompactionBound uint64
	Path            string
	Checksum        uint64
}

// Listener is notified, synchronously and before CommitSnapshot returns,
// every time a new snapshot is committed. Store has no knowledge of who
// is listening or why — the replication controller subscribes its
// re-publish hook this way, keeping the store itself unaware of
// downstream fan-out (spec.md §9).
type Listener func(Snapshot)

// Store is the persistent directory of committed snapshots plus the
// staging area for pending ones described in spec.md §4.B.
type Store struct {
	root         string
	committedDir string
	pendingDir   string
	settings     settings.Snapshot
	log          hclog.Logger

	mu        sync.Mutex
	latest    *Snapshot
	listeners []Listener
}

// NewStore creates (if needed) the committed/pending directories under
// root and scans the committed directory for the current latest
// snapshot. It does not sweep stale pending directories; call
// SweepPending explicitly during recovery, per spec.md §4.F.
func NewStore(root string, cfg settings.Snapshot) (*Store, error) {
	s := &Store{
		root:         root,
		committedDir: filepath.Join(root, committedSubdir),
		pendingDir:   filepath.Join(root, pendingSubdir),
		settings:     cfg,
		log:          logger.Get("snapshot"),
	}
	if err := os.MkdirAll(s.committedDir, 0o755); err != nil {
		return nil, fmt.Errorf("snapshot: create committed dir: %w", err)
	}
	if err := os.MkdirAll(s.pendingDir, 0o755); err != nil {
		return nil, fmt.Errorf("snapshot: create pending dir: %w", err)
	}
	if err := s.loadLatest(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) loadLatest() error {
	ids, err := s.listCommittedIDs()
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		return nil
	}
	newest := ids[len(ids)-1]
	snap, err := s.buildSnapshotFromDir(newest)
	if err != nil {
		return fmt.Errorf("snapshot: loading latest committed snapshot %s: %w", newest, err)
	}
	s.latest = &snap
	return nil
}

func (s *Store) listCommittedIDs() ([]snappb.SnapshotID, error) {
	entries, err := os.ReadDir(s.committedDir)
	if err != nil {
		return nil, fmt.Errorf("snapshot: list committed dir: %w", err)
	}
	ids := make([]snappb.SnapshotID, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		ids = append(ids, snappb.SnapshotID(e.Name()))
	}
	sort.Slice(ids, func(i, j int) bool { return snappb.Less(ids[i], ids[j]) })
	return ids, nil
}

func (s *Store) buildSnapshotFromDir(id snappb.SnapshotID) (Snapshot, error) {
	dir := filepath.Join(s.committedDir, string(id))
	names, err := sortedFileNames(dir)
	if err != nil {
		return Snapshot{}, err
	}
	contents := make([][]byte, 0, len(names))
	for _, name := range names {
		b, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return Snapshot{}, fmt.Errorf("snapshot: read %s/%s: %w", id, name, err)
		}
		contents = append(contents, b)
	}
	index, term, _, err := id.Components()
	if err != nil {
		return Snapshot{}, err
	}
	return Snapshot{
		ID:              id,
		Index:           index,
		Term:            term,
		CompactionBound: index,
		Path:            dir,
		Checksum:        snappb.CombinedChecksum(contents),
	}, nil
}

func sortedFileNames(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("snapshot: list %s: %w", dir, err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names, nil
}

// LatestSnapshot returns the most recently committed snapshot, if any.
// O(1): the store keeps it cached from the last commit or startup scan.
func (s *Store) LatestSnapshot() (Snapshot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.latest == nil {
		return Snapshot{}, false
	}
	return *s.latest, true
}

// ListCommitted returns every committed snapshot, ascending by id. It
// backs cmd/snapctl's list and verify subcommands, which need to walk
// the whole committed set rather than just the cached latest one.
func (s *Store) ListCommitted() ([]Snapshot, error) {
	ids, err := s.listCommittedIDs()
	if err != nil {
		return nil, err
	}
	snaps := make([]Snapshot, 0, len(ids))
	for _, id := range ids {
		snap, err := s.buildSnapshotFromDir(id)
		if err != nil {
			return nil, err
		}
		snaps = append(snaps, snap)
	}
	return snaps, nil
}

// VerifyChecksum recomputes the combined checksum of id's chunk files
// from disk and compares it against the manifest recorded at commit
// time. A mismatch means the committed directory was altered or
// corrupted after the fact; cmd/snapctl's verify subcommand surfaces
// this without needing to hold the rest of the Store's in-memory state.
func (s *Store) VerifyChecksum(id snappb.SnapshotID) (recorded, computed uint64, err error) {
	dir := filepath.Join(s.committedDir, string(id))
	recordedBytes, err := os.ReadFile(filepath.Join(dir, checksumManifest))
	if err != nil {
		return 0, 0, fmt.Errorf("snapshot: verify %s: read checksum manifest: %w", id, err)
	}
	recorded, err = strconv.ParseUint(strings.TrimSpace(string(recordedBytes)), 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("snapshot: verify %s: parse checksum manifest: %w", id, err)
	}

	snap, err := s.buildSnapshotFromDir(id)
	if err != nil {
		return recorded, 0, err
	}
	return recorded, snap.Checksum, nil
}

// Exists reports whether id has already been committed.
func (s *Store) Exists(id snappb.SnapshotID) bool {
	_, err := os.Stat(filepath.Join(s.committedDir, string(id)))
	return err == nil
}

// PendingDirectoryFor returns the staging path for id, or ("", false) if
// id is already committed. It is idempotent and does not create the
// directory; callers create it via NewTransientFromDB/NewTransientFromChunks.
func (s *Store) PendingDirectoryFor(id snappb.SnapshotID) (string, bool) {
	if s.Exists(id) {
		return "", false
	}
	return filepath.Join(s.pendingDir, string(id)), true
}

// AddListener registers fn to be called, synchronously, after every
// CommitSnapshot that promotes a new snapshot. The already-committed
// no-op success does not call listeners.
func (s *Store) AddListener(fn Listener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
}

// SweepPending deletes every entry under the pending directory. A crash
// before commit is equivalent to abort on next startup; this is the
// startup sweep spec.md §3/§4.F/§8 scenario 4 require.
func (s *Store) SweepPending() error {
	entries, err := os.ReadDir(s.pendingDir)
	if err != nil {
		return fmt.Errorf("snapshot: sweep: list pending dir: %w", err)
	}
	for _, e := range entries {
		full := filepath.Join(s.pendingDir, e.Name())
		if err := os.RemoveAll(full); err != nil {
			return fmt.Errorf("snapshot: sweep: remove %s: %w", full, err)
		}
		s.log.Info("swept stale pending snapshot directory", "path", full)
	}
	return nil
}

// CommitSnapshot performs the atomic promotion described in spec.md
// §4.B/§4.D: it recomputes the combined checksum of the staged files
// and compares it against the checksum the transient snapshot recorded
// (nil for a database-backed transient, which has no prior expectation
// and simply adopts the computed value as canonical), then renames the
// staging directory into the committed set.
//
// If id is already committed, this is the AlreadyCommitted no-op
// success case from spec.md §7: the existing Snapshot is returned and
// the staging directory is left for the caller to clean up (it will be
// picked up by the next SweepPending).
func (s *Store) CommitSnapshot(t *Transient) (Snapshot, bool, error) {
	if s.Exists(t.id) {
		existing, err := s.buildSnapshotFromDir(t.id)
		if err != nil {
			return Snapshot{}, false, err
		}
		return existing, true, nil
	}

	names, err := sortedFileNames(t.dir)
	if err != nil {
		return Snapshot{}, false, err
	}
	contents := make([][]byte, 0, len(names))
	for _, name := range names {
		b, err := os.ReadFile(filepath.Join(t.dir, name))
		if err != nil {
			return Snapshot{}, false, fmt.Errorf("snapshot: commit: read %s: %w", name, err)
		}
		contents = append(contents, b)
	}
	computed := snappb.CombinedChecksum(contents)

	if t.expectedChecksum != nil && *t.expectedChecksum != computed {
		return Snapshot{}, false, ErrChecksumMismatch
	}

	manifestPath := filepath.Join(t.dir, checksumManifest)
	if err := os.WriteFile(manifestPath, []byte(strconv.FormatUint(computed, 10)), 0o644); err != nil {
		return Snapshot{}, false, fmt.Errorf("snapshot: commit: write checksum manifest: %w", err)
	}

	dest := filepath.Join(s.committedDir, string(t.id))
	if err := os.Rename(t.dir, dest); err != nil {
		return Snapshot{}, false, fmt.Errorf("snapshot: commit: rename: %w", err)
	}

	index, term, _, err := t.id.Components()
	if err != nil {
		return Snapshot{}, false, err
	}
	snap := Snapshot{
		ID:              t.id,
		Index:           index,
		Term:            term,
		CompactionBound: index,
		Path:            dest,
		Checksum:        computed,
	}

	s.mu.Lock()
	if s.latest == nil || snappb.Less(s.latest.ID, snap.ID) {
		s.latest = &snap
	}
	listeners := append([]Listener(nil), s.listeners...)
	s.mu.Unlock()

	s.log.Info("committed snapshot", "id", snap.ID, "index", snap.Index, "term", snap.Term)

	for _, fn := range listeners {
		fn(snap)
	}

	if err := s.enforceRetention(); err != nil {
		s.log.Warn("retention cleanup failed", "error", err)
	}

	return snap, true, nil
}

// enforceRetention deletes committed snapshots beyond
// settings.RetainSnapshotCount, keeping the most recent ones. This
// realizes the default retention policy spec.md §3 names as out of
// scope to *design* but assumes as the prevailing behavior ("keep
// latest only").
func (s *Store) enforceRetention() error {
	if s.settings.RetainSnapshotCount <= 0 {
		return nil
	}
	ids, err := s.listCommittedIDs()
	if err != nil {
		return err
	}
	if len(ids) <= s.settings.RetainSnapshotCount {
		return nil
	}
	toRemove := ids[:len(ids)-s.settings.RetainSnapshotCount]
	for _, id := range toRemove {
		dir := filepath.Join(s.committedDir, string(id))
		if err := os.RemoveAll(dir); err != nil {
			return fmt.Errorf("snapshot: retention: remove %s: %w", dir, err)
		}
		s.log.Info("removed retained-over-limit snapshot", "id", id)
	}
	return nil
}
