package blob

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	castorev1 "github.com/tvixio/tvix/pkg/castorev1"
	"github.com/tvixio/tvix/pkg/store"
)

// Tier is one layer of a composed Service, per spec.md §4.7.
type Tier struct {
	Service  Service
	ReadOnly bool
}

// Composer layers any number of BlobService tiers into a priority-ordered
// stack with write-back caching, per spec.md §4.7 and the scenario 6
// fixture in spec.md §8 (cache (empty) -> remote (has d); a read through
// the composer populates cache, and a tampered remote response must never
// populate cache).
//
// Grounded on the request-scoped, mutex-guarded shared-state pattern in
// nar-bridge/pkg/server/server.go (the narHashToPathInfo map) generalized
// from "one map" to "an ordered list of backing tiers".
type Composer struct {
	tiers       []Tier
	ioRetries   int
	backfillCap int64 // refuse to backfill blobs larger than this many bytes; 0 == unlimited
}

var _ Service = (*Composer)(nil)

// NewComposer builds a composed BlobService. The first tier is preferred
// for reads and is where writes land (unless it's ReadOnly, in which case
// writes go to the first non-read-only tier). On a cache miss satisfied by
// a lower tier, the bytes are written back into every higher, non-read-only
// tier ("cache://<fast>?next=<slow>", spec.md §6).
func NewComposer(tiers ...Tier) (*Composer, error) {
	if len(tiers) == 0 {
		return nil, fmt.Errorf("composer requires at least one tier: %w", store.ErrInvalid)
	}
	return &Composer{tiers: tiers, ioRetries: 3}, nil
}

func (c *Composer) writableTier() (Service, bool) {
	for _, t := range c.tiers {
		if !t.ReadOnly {
			return t.Service, true
		}
	}
	return nil, false
}

func (c *Composer) Has(ctx context.Context, digest castorev1.Digest) (bool, error) {
	for i, t := range c.tiers {
		ok, err := t.Service.Has(ctx, digest)
		if err != nil {
			if shouldSkipTier(err) {
				continue
			}
			return false, err
		}
		if ok {
			return true, nil
		}
		_ = i
	}
	return false, nil
}

// shouldSkipTier reports the errors that simply mean "try the next tier":
// NotFound and Unimplemented. Io is retried by withIORetries and then
// returned to the caller. openAt and Stat also move past a tier failing
// with IntegrityError, and surface that error if no later tier succeeds.
func shouldSkipTier(err error) bool {
	return errors.Is(err, store.ErrNotFound) || errors.Is(err, store.ErrUnimplemented)
}

func (c *Composer) Open(ctx context.Context, digest castorev1.Digest) (io.ReadCloser, error) {
	return c.openAt(ctx, digest, func(s Service) (io.ReadCloser, error) {
		return s.Open(ctx, digest)
	})
}

func (c *Composer) OpenRange(ctx context.Context, digest castorev1.Digest, start, end int64) (io.ReadCloser, error) {
	return c.openAt(ctx, digest, func(s Service) (io.ReadCloser, error) {
		return s.OpenRange(ctx, digest, start, end)
	})
}

func (c *Composer) openAt(ctx context.Context, digest castorev1.Digest, open func(Service) (io.ReadCloser, error)) (io.ReadCloser, error) {
	var lastErr error = fmt.Errorf("%w", store.ErrNotFound)
	for i, t := range c.tiers {
		rc, err := withIORetries(c.ioRetries, func() (io.ReadCloser, error) { return open(t.Service) })
		if err != nil {
			if shouldSkipTier(err) || errors.Is(err, store.ErrIntegrity) {
				if !errors.Is(lastErr, store.ErrIntegrity) {
					lastErr = err
				}
				continue
			}
			return nil, err
		}

		// A tier's open succeeding only means a stream was established, not
		// that its bytes are trustworthy — a verifying tier (pkg/rpc's
		// Client) authenticates each BAO leaf lazily as it is read, so a
		// tampered byte surfaces here as store.ErrIntegrity instead of at
		// open time. Drain and verify the whole tier now, before the
		// caller or backfill ever see a byte of it: this is the only point
		// where the composer can tell "tier opened" from "tier's bytes
		// check out", and per spec §8 scenario 6 a tampered tier must be
		// abandoned for the next one, not handed to the caller or cached.
		buf, readErr := io.ReadAll(rc)
		closeErr := rc.Close()
		if readErr != nil {
			if shouldSkipTier(readErr) || errors.Is(readErr, store.ErrIntegrity) {
				if !errors.Is(lastErr, store.ErrIntegrity) {
					lastErr = readErr
				}
				continue
			}
			return nil, readErr
		}
		if closeErr != nil {
			return nil, closeErr
		}

		if i > 0 {
			c.backfill(ctx, buf, i)
		}
		return io.NopCloser(bytes.NewReader(buf)), nil
	}
	return nil, lastErr
}

// backfill writes already-verified bytes from a lower tier into every
// higher-priority, writable tier, per spec.md §4.7. It is best-effort: a
// backfill failure never fails the caller's read, since the caller already
// has the verified bytes returned by openAt.
func (c *Composer) backfill(ctx context.Context, data []byte, foundAt int) {
	if c.backfillCap > 0 && int64(len(data)) > c.backfillCap {
		return
	}
	for i := 0; i < foundAt; i++ {
		t := c.tiers[i]
		if t.ReadOnly {
			continue
		}
		w, err := t.Service.OpenWrite(ctx)
		if err != nil {
			continue
		}
		if _, copyErr := io.Copy(w, bytes.NewReader(data)); copyErr != nil {
			continue
		}
		// Only a successful, digest-matching close actually publishes the
		// entry — see Memory.OpenWrite / objectstore equivalents.
		_ = w.Close()
	}
}

func (c *Composer) OpenWrite(ctx context.Context) (Writer, error) {
	s, ok := c.writableTier()
	if !ok {
		return nil, fmt.Errorf("no writable tier: %w", store.ErrPermissionDenied)
	}
	return s.OpenWrite(ctx)
}

func (c *Composer) Stat(ctx context.Context, digest castorev1.Digest, opts StatOptions) (*Stat, error) {
	var lastErr error = fmt.Errorf("%w", store.ErrNotFound)
	for _, t := range c.tiers {
		st, err := t.Service.Stat(ctx, digest, opts)
		if err != nil {
			if shouldSkipTier(err) || errors.Is(err, store.ErrIntegrity) {
				if !errors.Is(lastErr, store.ErrIntegrity) {
					lastErr = err
				}
				continue
			}
			return nil, err
		}
		return st, nil
	}
	return nil, lastErr
}

// withIORetries retries fn a bounded number of times on store.ErrIO, per
// spec.md §7 ("Io is retried by the composer a bounded number of times
// before being surfaced"). No dedicated backoff library is used for this
// (see DESIGN.md) — three attempts with no delay is sufficient for the
// in-process/embedded backends this composer fronts; remote backends retry
// at a lower layer (pkg/rpc) where real network backoff belongs.
func withIORetries(attempts int, fn func() (io.ReadCloser, error)) (io.ReadCloser, error) {
	var err error
	for i := 0; i < attempts; i++ {
		var rc io.ReadCloser
		rc, err = fn()
		if err == nil {
			return rc, nil
		}
		if !errors.Is(err, store.ErrIO) {
			return nil, err
		}
	}
	return nil, err
}
