// Package statemachine binds the newest committed snapshot to a
// runtime database directory on startup and manages the embedded
// database's lifecycle (spec component F), plus the DB collaborator
// contract spec.md §6 calls ZeebeDbFactory/Db (component G).
package statemachine

import (
	"fmt"
	"os"
	"path/filepath"

	bolt "go.etcd.io/bbolt"
)

// DB stands in for the spec's ZeebeDbFactory-produced Db: an embedded
// key-value store that can checkpoint its live state into a directory
// and be closed.
type DB interface {
	// Checkpoint writes a full, consistent copy of the database's
	// current state into dir while the database continues to serve
	// traffic — the "transient snapshot" source for the sender side of
	// spec.md §4.D path 1.
	Checkpoint(dir string) error
	Close() error
}

// Factory opens (or creates) the embedded database rooted at path.
type Factory func(path string) (DB, error)

const boltFilename = "state.db"

// BoltDB implements DB over go.etcd.io/bbolt, the embedded store
// openbao's raft backend (physical/raft/fsm.go) uses for exactly this
// role.
type BoltDB struct {
	db   *bolt.DB
	path string
}

// OpenBoltDB opens (creating if needed) a bbolt database file under
// dir. It satisfies the Factory signature.
func OpenBoltDB(dir string) (DB, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("statemachine: create db dir: %w", err)
	}
	path := filepath.Join(dir, boltFilename)
	db, err := bolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("statemachine: open bolt db: %w", err)
	}
	return &BoltDB{db: db, path: path}, nil
}

// Checkpoint takes a hot backup of the live database into dir, the way
// openbao's FSM persists its bolt-backed state for a raft snapshot sink.
func (b *BoltDB) Checkpoint(dir string) error {
	dest := filepath.Join(dir, boltFilename)
	f, err := os.Create(dest)
	if err != nil {
		return fmt.Errorf("statemachine: create checkpoint file: %w", err)
	}
	defer f.Close()

	err = b.db.View(func(tx *bolt.Tx) error {
		_, werr := tx.WriteTo(f)
		return werr
	})
	if err != nil {
		return fmt.Errorf("statemachine: checkpoint: %w", err)
	}
	return f.Sync()
}

// Close closes the underlying bbolt database.
func (b *BoltDB) Close() error {
	if err := b.db.Close(); err != nil {
		return fmt.Errorf("statemachine: close bolt db: %w", err)
	}
	return nil
}
