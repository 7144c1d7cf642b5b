// Package snappb defines the on-wire records for the snapshot
// replication subsystem: the totally-ordered SnapshotID and the
// self-describing SnapshotChunk, plus their checksums and codec.
package snappb

import (
	"fmt"
	"strconv"
	"strings"
)

// fieldWidth is wide enough to hold any uint64 in decimal (the maximum
// value, 18446744073709551615, is 20 digits) so that fixed-width,
// zero-padded fields sort lexicographically in numeric order.
const fieldWidth = 20

const idSeparator = "-"

// SnapshotID totally orders snapshots by (Index, Term,
// ProcessedPosition). It is serialized as three fixed-width decimal
// fields joined by "-", so plain string comparison between two
// SnapshotIDs matches the tuple ordering spec.md §3 requires: a newer
// snapshot's serialized form always compares greater than an older one.
type SnapshotID string

// NewSnapshotID builds the canonical serialized identity for a
// snapshot at the given Raft log index, term, and exporter-processed
// position.
func NewSnapshotID(index, term, processedPosition uint64) SnapshotID {
	return SnapshotID(strings.Join([]string{
		padded(index),
		padded(term),
		padded(processedPosition),
	}, idSeparator))
}

func padded(v uint64) string {
	return fmt.Sprintf("%0*d", fieldWidth, v)
}

// Components splits a SnapshotID back into its (index, term,
// processedPosition) tuple. It returns an error if id was not produced
// by NewSnapshotID.
func (id SnapshotID) Components() (index, term, processedPosition uint64, err error) {
	parts := strings.Split(string(id), idSeparator)
	if len(parts) != 3 {
		return 0, 0, 0, fmt.Errorf("snappb: malformed snapshot id %q: want 3 fields, got %d", id, len(parts))
	}
	values := make([]uint64, 3)
	for i, p := range parts {
		v, err := strconv.ParseUint(p, 10, 64)
		if err != nil {
			return 0, 0, 0, fmt.Errorf("snappb: malformed snapshot id %q: field %d: %w", id, i, err)
		}
		values[i] = v
	}
	return values[0], values[1], values[2], nil
}

// Index returns the Raft log index component, or 0 if id is malformed.
func (id SnapshotID) Index() uint64 {
	index, _, _, _ := id.Components()
	return index
}

// String returns the serialized form; SnapshotID already is that form,
// this just satisfies fmt.Stringer for logging.
func (id SnapshotID) String() string {
	return string(id)
}

// Empty reports whether id is the zero value, used to represent the
// absence of a prior snapshot (e.g. before any snapshot has been taken).
func (id SnapshotID) Empty() bool {
	return id == ""
}

// Less reports whether a identifies a strictly older snapshot than b.
// Because both are fixed-width zero-padded decimal tuples, this is
// exactly string comparison.
func Less(a, b SnapshotID) bool {
	return a < b
}
