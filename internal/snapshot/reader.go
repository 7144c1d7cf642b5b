package snapshot

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/nldb/snapraft/snappb"
)

// ChunkReader is the resumable cursor over a committed snapshot
// described in spec.md §4.C. It lists chunk files once at construction
// and loads each chunk's content lazily, on demand, so it never holds a
// whole snapshot in memory.
type ChunkReader struct {
	snap   Snapshot
	names  []string
	idx    int
	closed bool
}

// NewChunkReader opens a reader over snap, ordered ascending by chunk
// (file) name.
func NewChunkReader(snap Snapshot) (*ChunkReader, error) {
	names, err := sortedFileNames(snap.Path)
	if err != nil {
		return nil, fmt.Errorf("snapshot: open chunk reader: %w", err)
	}
	return &ChunkReader{snap: snap, names: names}, nil
}

// HasNext reports whether Next has another chunk to return.
func (r *ChunkReader) HasNext() bool {
	return !r.closed && r.idx < len(r.names)
}

// PeekNextID returns the chunk name Next would return next, without
// consuming it. The second return value is false once the reader is
// exhausted.
func (r *ChunkReader) PeekNextID() (string, bool) {
	if !r.HasNext() {
		return "", false
	}
	return r.names[r.idx], true
}

// Next returns the next chunk in ascending name order. Its behavior is
// undefined if HasNext is false, per spec.md §4.C.
func (r *ChunkReader) Next() (snappb.SnapshotChunk, error) {
	name := r.names[r.idx]
	content, err := os.ReadFile(filepath.Join(r.snap.Path, name))
	if err != nil {
		return snappb.SnapshotChunk{}, fmt.Errorf("snapshot: read chunk %s: %w", name, err)
	}
	r.idx++
	return snappb.SnapshotChunk{
		SnapshotID:       r.snap.ID,
		TotalCount:       uint32(len(r.names)),
		ChunkName:        name,
		Content:          content,
		Checksum:         snappb.ChecksumOfContent(content),
		SnapshotChecksum: r.snap.Checksum,
	}, nil
}

// Seek skips all chunks whose id is lexicographically <= after, so the
// next Next() call yields the chunk strictly greater than after. An
// empty after is a no-op (spec.md §4.C: "null id is a no-op"), letting a
// fresh reader start from the very first chunk.
func (r *ChunkReader) Seek(after string) {
	if after == "" {
		return
	}
	for r.idx < len(r.names) && r.names[r.idx] <= after {
		r.idx++
	}
}

// Close releases the reader. It is idempotent; ChunkReader holds no
// open file handles between calls to Next, so Close only prevents
// further reads.
func (r *ChunkReader) Close() {
	r.closed = true
}
