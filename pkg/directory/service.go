// Package directory implements spec.md §4.2's DirectoryService: storage of
// Directory messages keyed by the BLAKE3 digest of their canonical
// serialization, including recursive closure traversal.
package directory

import (
	"context"

	castorev1 "github.com/tvixio/tvix/pkg/castorev1"
)

// Service is the capability set spec.md §4.2 assigns to DirectoryService.
type Service interface {
	// Get returns the Directory identified by digest, already validated
	// (name ordering, uniqueness, hash match) — store.ErrIntegrity if it
	// fails validation, store.ErrNotFound if unknown.
	Get(ctx context.Context, digest castorev1.Digest) (*castorev1.Directory, error)

	// Put validates d (rejecting digest/invariant mismatches with
	// store.ErrIntegrity) and stores it, returning its digest. Put is
	// idempotent: concurrent puts of identical content commit once.
	Put(ctx context.Context, d *castorev1.Directory) (castorev1.Digest, error)

	// GetRecursive streams the transitive closure of root, each yielded
	// Directory already load-time validated, root first, with every
	// Directory emitted before the Directories it references (spec.md §4.2,
	// §8: "closure completeness, not order").
	// The returned Iter must be called until ok is false; the stream
	// terminates immediately with store.ErrIntegrity on the first invalid
	// Directory encountered.
	GetRecursive(ctx context.Context, root castorev1.Digest) Iter
}

// Iter yields the next Directory in a GetRecursive stream. ok is false once
// the stream is exhausted or has failed; a non-nil err on the final call
// with ok==false is the terminal error (nil on normal completion).
type Iter func() (d *castorev1.Directory, ok bool, err error)
