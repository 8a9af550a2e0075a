package directory

import (
	"context"
	"errors"
	"fmt"

	castorev1 "github.com/tvixio/tvix/pkg/castorev1"
	"github.com/tvixio/tvix/pkg/store"
)

// Tier is one layer of a composed Service, mirroring blob.Tier.
type Tier struct {
	Service  Service
	ReadOnly bool
}

// Composer layers DirectoryService tiers (spec.md §4.7): reads probe the
// tiers in order, and a Directory found below the first tier is Put into
// the first writable tier only, where blob.Composer writes back into every
// higher writable tier. Unlike blob.Composer, it does not retry store.ErrIO.
type Composer struct {
	tiers []Tier
}

var _ Service = (*Composer)(nil)

func NewComposer(tiers ...Tier) (*Composer, error) {
	if len(tiers) == 0 {
		return nil, fmt.Errorf("composer requires at least one tier: %w", store.ErrInvalid)
	}
	return &Composer{tiers: tiers}, nil
}

func (c *Composer) writableTier() (Service, bool) {
	for _, t := range c.tiers {
		if !t.ReadOnly {
			return t.Service, true
		}
	}
	return nil, false
}

func (c *Composer) Get(ctx context.Context, digest castorev1.Digest) (*castorev1.Directory, error) {
	var lastErr error = fmt.Errorf("%w", store.ErrNotFound)
	for i, t := range c.tiers {
		d, err := t.Service.Get(ctx, digest)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				lastErr = err
				continue
			}
			if errors.Is(err, store.ErrIntegrity) {
				lastErr = err
				continue
			}
			return nil, err
		}
		if i > 0 {
			c.backfill(ctx, d)
		}
		return d, nil
	}
	return nil, lastErr
}

func (c *Composer) backfill(ctx context.Context, d *castorev1.Directory) {
	for _, t := range c.tiers {
		if t.ReadOnly {
			continue
		}
		if _, err := t.Service.Put(ctx, d); err != nil {
			continue
		}
		return
	}
}

func (c *Composer) Put(ctx context.Context, d *castorev1.Directory) (castorev1.Digest, error) {
	s, ok := c.writableTier()
	if !ok {
		return castorev1.Digest{}, fmt.Errorf("no writable tier: %w", store.ErrPermissionDenied)
	}
	return s.Put(ctx, d)
}

// GetRecursive walks via the tier that answers the root Get, using that
// same tier for every descendant lookup (a closure must come from a
// consistent view to guarantee every emitted Directory actually resolves).
func (c *Composer) GetRecursive(ctx context.Context, root castorev1.Digest) Iter {
	for _, t := range c.tiers {
		if _, err := t.Service.Get(ctx, root); err != nil {
			continue
		}
		return t.Service.GetRecursive(ctx, root)
	}
	return func() (*castorev1.Directory, bool, error) {
		return nil, false, fmt.Errorf("%s: %w", root, store.ErrNotFound)
	}
}
