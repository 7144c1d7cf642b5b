package snappb

import (
	"encoding/binary"
	"fmt"

	"github.com/cespare/xxhash/v2"
)

// SnapshotChunk is the on-wire, self-describing record for one file (or
// file fragment) of a snapshot in transit. Any recipient can validate
// Content against Checksum independently of the rest of the snapshot.
type SnapshotChunk struct {
	SnapshotID       SnapshotID
	TotalCount       uint32
	ChunkName        string
	Content          []byte
	Checksum         uint64
	SnapshotChecksum uint64
}

// DecodeError reports a malformed chunk on the wire. Recipients treat it
// like any other per-chunk failure (spec.md §7, IoFailure/ChunkCorrupt
// class): mark the install invalid, never surface it.
type DecodeError struct {
	Reason string
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("snappb: decode chunk: %s", e.Reason)
}

// ChecksumOfContent computes the deterministic, host-independent
// checksum of a single chunk's content.
func ChecksumOfContent(content []byte) uint64 {
	return xxhash.Sum64(content)
}

// CombinedChecksum folds the per-file checksums of files sorted by name
// (callers pass contents already in that order) into one whole-snapshot
// checksum. The fold is order-sensitive: it is not assumed that folding
// commutes, so callers must always pass files in sorted-name order to
// get a reproducible result.
func CombinedChecksum(orderedContents [][]byte) uint64 {
	h := xxhash.New()
	var buf [8]byte
	for _, content := range orderedContents {
		binary.BigEndian.PutUint64(buf[:], ChecksumOfContent(content))
		// xxhash.Digest.Write never returns an error.
		_, _ = h.Write(buf[:])
	}
	return h.Sum64()
}

// EncodeChunk serializes c in the fixed field order spec.md §6 defines:
// snapshotId, totalCount, chunkName, checksum, snapshotChecksum,
// contentLen, content — all integers big-endian, strings length-prefixed
// with a uint32 byte count.
func EncodeChunk(c SnapshotChunk) []byte {
	idBytes := []byte(c.SnapshotID)
	nameBytes := []byte(c.ChunkName)

	size := 4 + len(idBytes) +
		4 + // totalCount
		4 + len(nameBytes) +
		8 + // checksum
		8 + // snapshotChecksum
		4 + len(c.Content)

	buf := make([]byte, size)
	off := 0

	off += putString(buf[off:], idBytes)
	binary.BigEndian.PutUint32(buf[off:], c.TotalCount)
	off += 4
	off += putString(buf[off:], nameBytes)
	binary.BigEndian.PutUint64(buf[off:], c.Checksum)
	off += 8
	binary.BigEndian.PutUint64(buf[off:], c.SnapshotChecksum)
	off += 8
	off += putString(buf[off:], c.Content)

	return buf
}

func putString(dst []byte, s []byte) int {
	binary.BigEndian.PutUint32(dst, uint32(len(s)))
	copy(dst[4:], s)
	return 4 + len(s)
}

// DecodeChunk parses the wire format EncodeChunk produces. It returns a
// *DecodeError (never a bare error) on malformed input so callers can
// rely on errors.As(err, &decodeErr).
func DecodeChunk(data []byte) (SnapshotChunk, error) {
	var c SnapshotChunk
	off := 0

	idBytes, n, err := getString(data, off)
	if err != nil {
		return c, err
	}
	c.SnapshotID = SnapshotID(idBytes)
	off += n

	totalCount, n, err := getUint32(data, off)
	if err != nil {
		return c, err
	}
	c.TotalCount = totalCount
	off += n

	nameBytes, n, err := getString(data, off)
	if err != nil {
		return c, err
	}
	c.ChunkName = string(nameBytes)
	off += n

	checksum, n, err := getUint64(data, off)
	if err != nil {
		return c, err
	}
	c.Checksum = checksum
	off += n

	snapshotChecksum, n, err := getUint64(data, off)
	if err != nil {
		return c, err
	}
	c.SnapshotChecksum = snapshotChecksum
	off += n

	content, n, err := getString(data, off)
	if err != nil {
		return c, err
	}
	c.Content = content
	off += n

	if off != len(data) {
		return SnapshotChunk{}, &DecodeError{Reason: fmt.Sprintf("%d trailing bytes", len(data)-off)}
	}
	return c, nil
}

func getUint32(data []byte, off int) (uint32, int, error) {
	if off+4 > len(data) {
		return 0, 0, &DecodeError{Reason: "truncated u32 field"}
	}
	return binary.BigEndian.Uint32(data[off:]), 4, nil
}

func getUint64(data []byte, off int) (uint64, int, error) {
	if off+8 > len(data) {
		return 0, 0, &DecodeError{Reason: "truncated u64 field"}
	}
	return binary.BigEndian.Uint64(data[off:]), 8, nil
}

func getString(data []byte, off int) ([]byte, int, error) {
	length, _, err := getUint32(data, off)
	if err != nil {
		return nil, 0, &DecodeError{Reason: "truncated length prefix"}
	}
	start := off + 4
	end := start + int(length)
	if end < start || end > len(data) {
		return nil, 0, &DecodeError{Reason: "truncated variable-length field"}
	}
	out := make([]byte, length)
	copy(out, data[start:end])
	return out, 4 + int(length), nil
}
