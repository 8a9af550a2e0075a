package pathinfo

import (
	"context"

	castorev1 "github.com/tvixio/tvix/pkg/castorev1"
)

// Service is the capability set spec.md §4.3 assigns to PathInfoService.
type Service interface {
	// Get looks up a PathInfo by its store-path output hash (the fixed-size
	// fingerprint the evaluator layer produces; opaque to this package).
	Get(ctx context.Context, outputHash []byte) (*PathInfo, error)

	// Put validates p (its embedded root node must resolve through
	// DirectoryService/BlobService — callers pass a Resolver for that) and
	// stores it, returning p with any signatures the backend added.
	Put(ctx context.Context, p *PathInfo) (*PathInfo, error)

	// List streams every known PathInfo. Optional: backends that don't
	// support it return a closed iterator whose first call yields
	// store.ErrUnimplemented.
	List(ctx context.Context) Iter

	// CalculateNAR returns the (nar_sha256, nar_size) spec.md §4.3
	// describes. Optional: backends MAY return store.ErrPermissionDenied to
	// force callers to compute it themselves by streaming the NAR (see
	// pkg/archive.Export + a running sha256).
	CalculateNAR(ctx context.Context, node *castorev1.Node) (narSha256 [32]byte, narSize uint64, err error)
}

// Iter yields the next PathInfo in a List stream.
type Iter func() (p *PathInfo, ok bool, err error)

// Resolver supplies the castore lookups PathInfoService.Put needs to
// validate an embedded root node, per spec.md §4.3 ("it MUST validate the
// embedded root node resolves through Directory/Blob services").
type Resolver interface {
	HasDirectory(ctx context.Context, digest castorev1.Digest) (bool, error)
	HasBlob(ctx context.Context, digest castorev1.Digest) (bool, error)
}
