package pathinfo

import (
	"context"
	"errors"

	"github.com/tvixio/tvix/pkg/blob"
	castorev1 "github.com/tvixio/tvix/pkg/castorev1"
	"github.com/tvixio/tvix/pkg/directory"
	"github.com/tvixio/tvix/pkg/store"
)

// storeResolver adapts a blob.Service/directory.Service pair to Resolver,
// so Put can confirm the root node it's handed actually resolves through
// castore before it's persisted.
type storeResolver struct {
	blobSvc blob.Service
	dirSvc  directory.Service
}

// NewResolver builds the Resolver a Service needs to validate PathInfo.Put
// calls, backed by the same blob/directory services the castore layer
// already composed.
func NewResolver(blobSvc blob.Service, dirSvc directory.Service) Resolver {
	return storeResolver{blobSvc: blobSvc, dirSvc: dirSvc}
}

func (r storeResolver) HasBlob(ctx context.Context, d castorev1.Digest) (bool, error) {
	return r.blobSvc.Has(ctx, d)
}

func (r storeResolver) HasDirectory(ctx context.Context, d castorev1.Digest) (bool, error) {
	_, err := r.dirSvc.Get(ctx, d)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}
