// Package blob implements spec.md §4.1's BlobService: content-addressed
// storage of opaque byte sequences keyed by BLAKE3 digest, with verified
// streaming reads.
package blob

import (
	"context"
	"io"

	"github.com/tvixio/tvix/pkg/blob/bao"
	castorev1 "github.com/tvixio/tvix/pkg/castorev1"
)

// PhysicalChunk describes one on-the-wire segment of a blob, per spec.md
// §3: its digest is the BLAKE3 of its own bytes, and a blob's physical
// chunks concatenate to its full contents.
type PhysicalChunk struct {
	Digest castorev1.Digest
	Size   uint64
}

// Stat is the verified-streaming metadata for a blob (spec.md §3
// "BlobStat"): the BAO tree truncated to the requested shift, plus the
// physical chunk list.
type Stat struct {
	BaoShift uint8
	Tree     *bao.Tree
	Chunks   []PhysicalChunk
}

// StatOptions controls how much of the BAO tree Stat returns, per spec.md
// §6 StatRequest{digest, send_bao, bao_shift}.
type StatOptions struct {
	SendBao  bool
	BaoShift uint8
}

// Writer accumulates bytes for a new blob. Close computes the digest of
// everything written and publishes the bytes under it. A Writer takes no
// expected digest, so Close does not check the content against one.
type Writer interface {
	io.Writer
	// Close finalizes the write and publishes the bytes under their digest
	// (see Digest). A non-nil error means the backend failed to store them.
	Close() error
	// Digest is only valid after a successful Close.
	Digest() castorev1.Digest
}

// Service is the capability set spec.md §4.1 assigns to BlobService.
type Service interface {
	// Has reports whether digest is known to this service.
	Has(ctx context.Context, digest castorev1.Digest) (bool, error)

	// Open returns a verified reader over the full blob identified by
	// digest. The returned stream fails mid-read (io.Reader.Read returns a
	// store.ErrIntegrity-wrapping error) if verification against digest
	// fails before any not-yet-yielded bytes are returned.
	Open(ctx context.Context, digest castorev1.Digest) (io.ReadCloser, error)

	// OpenRange behaves like Open but restricts the stream to the half-open
	// byte range [start, end). The stream yields exactly those bytes; no
	// implementation serves the physical chunks or the aligned
	// logical-chunk window around the range (pkg/rpc's Client fetches that
	// leaf-aligned window from its remote only to verify it).
	OpenRange(ctx context.Context, digest castorev1.Digest, start, end int64) (io.ReadCloser, error)

	// OpenWrite returns a Writer accepting new blob bytes.
	OpenWrite(ctx context.Context) (Writer, error)

	// Stat returns verified-streaming metadata for digest, or
	// store.ErrNotFound. If opts.SendBao is false, Stat.Tree is nil (the
	// caller only wanted the physical chunk list).
	Stat(ctx context.Context, digest castorev1.Digest, opts StatOptions) (*Stat, error)
}
