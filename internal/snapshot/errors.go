package snapshot

import "errors"

var (
	// ErrTransientClosed is returned by Write/Commit/Take when called on
	// a TransientSnapshot that has already been committed or aborted.
	ErrTransientClosed = errors.New("snapshot: transient snapshot already committed or aborted")

	// ErrChecksumMismatch is returned by Store.CommitSnapshot when the
	// combined checksum of the staged files does not match the
	// checksum recorded on the transient snapshot. This is the
	// commit-time verification spec.md §9 requires and the source
	// material's commented-out check never performed.
	ErrChecksumMismatch = errors.New("snapshot: commit checksum mismatch")
)
