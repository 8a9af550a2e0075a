package pathinfo

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
	Trust    TrustConfig
}

// Composer layers PathInfoService tiers (spec.md §4.7): Get probes the
// tiers in order and does not copy a PathInfo found in a lower tier into
// higher ones; Put goes to the first writable tier. On top of that it
// applies the trust policy of §4.3: a PathInfo returned by a non-trusted
// tier without a verifying signature is rejected rather than surfaced.
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

func (c *Composer) Get(ctx context.Context, outputHash []byte) (*PathInfo, error) {
	var lastErr error = fmt.Errorf("%w", store.ErrNotFound)
	for _, t := range c.tiers {
		p, err := t.Service.Get(ctx, outputHash)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				lastErr = err
				continue
			}
			return nil, err
		}
		sp, verr := p.Validate()
		if verr != nil {
			return nil, fmt.Errorf("%w: %v", store.ErrIntegrity, verr)
		}
		if err := Verify(t.Trust, sp.String(), p); err != nil {
			lastErr = err
			continue
		}
		return p, nil
	}
	return nil, lastErr
}

func (c *Composer) Put(ctx context.Context, p *PathInfo) (*PathInfo, error) {
	for _, t := range c.tiers {
		if t.ReadOnly {
			continue
		}
		return t.Service.Put(ctx, p)
	}
	return nil, fmt.Errorf("no writable tier: %w", store.ErrPermissionDenied)
}

func (c *Composer) List(ctx context.Context) Iter {
	for _, t := range c.tiers {
		return t.Service.List(ctx)
	}
	return func() (*PathInfo, bool, error) { return nil, false, fmt.Errorf("%w", store.ErrUnimplemented) }
}

func (c *Composer) CalculateNAR(ctx context.Context, node *castorev1.Node) ([32]byte, uint64, error) {
	for _, t := range c.tiers {
		sum, size, err := t.Service.CalculateNAR(ctx, node)
		if err == nil {
			return sum, size, nil
		}
		if !errors.Is(err, store.ErrUnimplemented) && !errors.Is(err, store.ErrNotFound) {
			return [32]byte{}, 0, err
		}
	}
	return [32]byte{}, 0, fmt.Errorf("%w", store.ErrUnimplemented)
}
